package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLineStatusOf(t *testing.T) {
	require.Equal(t, LinePending, LineStatusOf(10, 0))
	require.Equal(t, LinePartial, LineStatusOf(10, 4))
	require.Equal(t, LineComplete, LineStatusOf(10, 10))
	require.Equal(t, LineComplete, LineStatusOf(10, 12))
}

func TestDocumentStatusOf(t *testing.T) {
	require.Equal(t, DocPending, DocumentStatusOf(nil))
	require.Equal(t, DocPending, DocumentStatusOf([]Line{{Ordered: 10}, {Ordered: 5}}))
	require.Equal(t, DocPartial, DocumentStatusOf([]Line{{Ordered: 10, Fulfilled: 10}, {Ordered: 5}}))
	require.Equal(t, DocDelivered, DocumentStatusOf([]Line{{Ordered: 10, Fulfilled: 10}, {Ordered: 5, Fulfilled: 5}}))
}

func TestDocumentStatusClampsOverDelivery(t *testing.T) {
	// An over-delivered line must not compensate for a short one.
	lines := []Line{
		{Ordered: 10, Fulfilled: 15},
		{Ordered: 5, Fulfilled: 0},
	}
	require.Equal(t, DocPartial, DocumentStatusOf(lines))
}

func TestDocumentStatusDeterminism(t *testing.T) {
	lines := []Line{{Ordered: 3, Fulfilled: 1}, {Ordered: 7, Fulfilled: 7}}
	first := DocumentStatusOf(lines)
	require.Equal(t, first, DocumentStatusOf(lines))
}

func TestDocumentStatusMonotonic(t *testing.T) {
	rank := map[DocumentStatus]int{DocPending: 0, DocPartial: 1, DocDelivered: 2}
	lines := []Line{{Ordered: 10}, {Ordered: 5}}
	prev := DocumentStatusOf(lines)
	steps := []struct {
		idx int
		qty float64
	}{{0, 4}, {0, 10}, {1, 2}, {1, 5}}
	for _, s := range steps {
		lines[s.idx].Fulfilled = s.qty
		next := DocumentStatusOf(lines)
		require.GreaterOrEqual(t, rank[next], rank[prev])
		prev = next
	}
	require.Equal(t, DocDelivered, prev)
}
