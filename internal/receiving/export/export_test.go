package export

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/comptoir-erp/comptoir-erp/internal/receiving"
)

func TestSummaryRendersFrenchCSV(t *testing.T) {
	receivedAt := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)
	note := receiving.DeliveryNote{
		ID:         uuid.New(),
		Number:     "BL-000042",
		Status:     receiving.NoteStatusReceived,
		ReceivedAt: &receivedAt,
	}
	lines := []receiving.DeliveryNoteLine{
		{
			ArticleID:        uuid.New(),
			QuantityOrdered:  10,
			QuantityReceived: 10,
			UnitPrice:        decimal.RequireFromString("1234.5"),
			LineAmount:       decimal.RequireFromString("12345"),
		},
	}

	out, err := NewWriter().Summary(note, lines, nil)
	require.NoError(t, err)

	text := string(out)
	require.Contains(t, text, "bon de livraison;BL-000042")
	require.Contains(t, text, "recu le;14/08/2026")
	require.Contains(t, text, "Reçu")
	require.Contains(t, text, lines[0].ArticleID.String())
	// French decimal mark.
	require.Contains(t, text, "234,50")
	require.NotContains(t, text, "1234.50")
}

func TestSummaryInTransitHasNoReceiptDate(t *testing.T) {
	note := receiving.DeliveryNote{Number: "BL-000007", Status: receiving.NoteStatusInTransit}

	out, err := NewWriter().Summary(note, nil, nil)
	require.NoError(t, err)
	require.NotContains(t, string(out), "recu le")
	require.Contains(t, string(out), "En Transit")
	require.Equal(t, 1, strings.Count(string(out), "quantite commandee"))
}

func TestSummaryResolvesArticleNames(t *testing.T) {
	named := uuid.New()
	unnamed := uuid.New()
	note := receiving.DeliveryNote{Number: "BL-000051", Status: receiving.NoteStatusReceived}
	lines := []receiving.DeliveryNoteLine{
		{ArticleID: named, QuantityOrdered: 2, QuantityReceived: 2, UnitPrice: decimal.NewFromInt(5), LineAmount: decimal.NewFromInt(10)},
		{ArticleID: unnamed, QuantityOrdered: 1, QuantityReceived: 1, UnitPrice: decimal.NewFromInt(3), LineAmount: decimal.NewFromInt(3)},
	}

	out, err := NewWriter().Summary(note, lines, map[uuid.UUID]string{named: "Vis inox M6"})
	require.NoError(t, err)

	text := string(out)
	require.Contains(t, text, "Vis inox M6")
	require.NotContains(t, text, named.String())
	// Unknown articles keep their raw id.
	require.Contains(t, text, unnamed.String())
}
