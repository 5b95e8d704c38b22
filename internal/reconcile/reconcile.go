// Package reconcile derives line and document fulfilment statuses from
// ordered versus fulfilled quantities. Statuses are always recomputed from
// the full quantity set so they can never drift from the underlying lines.
package reconcile

// LineStatus classifies a single line.
type LineStatus string

const (
	LinePending  LineStatus = "pending"
	LinePartial  LineStatus = "partial"
	LineComplete LineStatus = "complete"
)

// DocumentStatus classifies a whole document. The literal values are the
// ones consumers of the suite expect on the wire.
type DocumentStatus string

const (
	DocPending   DocumentStatus = "en_attente"
	DocPartial   DocumentStatus = "partiellement_livree"
	DocDelivered DocumentStatus = "livree"
)

// Line carries the two quantities a status derivation needs.
type Line struct {
	Ordered   float64
	Fulfilled float64
}

// LineStatusOf classifies one line. Callers clamp over-delivery before this
// point; a fulfilled value at or above ordered reads as complete.
func LineStatusOf(ordered, fulfilled float64) LineStatus {
	switch {
	case fulfilled <= 0:
		return LinePending
	case fulfilled < ordered:
		return LinePartial
	default:
		return LineComplete
	}
}

// DocumentStatusOf aggregates line quantities into a document status. It is
// recomputed from scratch on every call; fulfilled quantities are clamped to
// their ordered quantity so an over-delivered line cannot mask a short one.
func DocumentStatusOf(lines []Line) DocumentStatus {
	var totalOrdered, totalFulfilled float64
	for _, l := range lines {
		totalOrdered += l.Ordered
		fulfilled := l.Fulfilled
		if fulfilled > l.Ordered {
			fulfilled = l.Ordered
		}
		totalFulfilled += fulfilled
	}
	switch {
	case totalFulfilled <= 0:
		return DocPending
	case totalOrdered > 0 && totalFulfilled >= totalOrdered:
		return DocDelivered
	default:
		return DocPartial
	}
}
