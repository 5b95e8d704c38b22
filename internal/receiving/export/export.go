// Package export renders delivery-note summaries for the commercial staff.
// Numbers are formatted for the French locale, which is what the rest of
// the suite prints.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/comptoir-erp/comptoir-erp/internal/receiving"
)

// Writer renders delivery notes as CSV.
type Writer struct {
	printer *message.Printer
	titler  cases.Caser
}

// NewWriter builds a Writer for the French locale.
func NewWriter() *Writer {
	return &Writer{
		printer: message.NewPrinter(language.French),
		titler:  cases.Title(language.French),
	}
}

var header = []string{"article", "quantite commandee", "quantite recue", "prix unitaire", "montant"}

// Summary renders one note and its lines. Names maps article ids to their
// catalog names; a line whose article is missing from the map falls back to
// the raw id. Semicolon separation follows the French CSV convention, where
// the comma is the decimal mark.
func (w *Writer) Summary(note receiving.DeliveryNote, lines []receiving.DeliveryNoteLine, names map[uuid.UUID]string) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "bon de livraison;%s\n", note.Number)
	fmt.Fprintf(&buf, "statut;%s\n", w.statusLabel(note.Status))
	if note.ReceivedAt != nil {
		fmt.Fprintf(&buf, "recu le;%s\n", note.ReceivedAt.Format("02/01/2006"))
	}

	cw := csv.NewWriter(&buf)
	cw.Comma = ';'
	if err := cw.Write(header); err != nil {
		return nil, err
	}
	for _, l := range lines {
		unitPrice, _ := l.UnitPrice.Float64()
		amount, _ := l.LineAmount.Float64()
		label := names[l.ArticleID]
		if label == "" {
			label = l.ArticleID.String()
		}
		record := []string{
			label,
			w.printer.Sprintf("%v", l.QuantityOrdered),
			w.printer.Sprintf("%v", l.QuantityReceived),
			w.printer.Sprintf("%.2f", unitPrice),
			w.printer.Sprintf("%.2f", amount),
		}
		if err := cw.Write(record); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (w *Writer) statusLabel(status receiving.NoteStatus) string {
	switch status {
	case receiving.NoteStatusReceived:
		return w.titler.String("reçu")
	default:
		return w.titler.String("en transit")
	}
}
