package receiving

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/comptoir-erp/comptoir-erp/internal/notify"
	"github.com/comptoir-erp/comptoir-erp/internal/reconcile"
)

type fakeNoteRepo struct {
	notes map[uuid.UUID]DeliveryNote
	lines map[uuid.UUID][]DeliveryNoteLine
}

func newFakeNoteRepo() *fakeNoteRepo {
	return &fakeNoteRepo{
		notes: map[uuid.UUID]DeliveryNote{},
		lines: map[uuid.UUID][]DeliveryNoteLine{},
	}
}

func (f *fakeNoteRepo) GetNote(_ context.Context, id uuid.UUID) (DeliveryNote, error) {
	n, ok := f.notes[id]
	if !ok {
		return DeliveryNote{}, ErrNotFound
	}
	return n, nil
}

func (f *fakeNoteRepo) GetNoteLines(_ context.Context, noteID uuid.UUID) ([]DeliveryNoteLine, error) {
	return f.lines[noteID], nil
}

func (f *fakeNoteRepo) UpdateLineReceived(_ context.Context, lineID uuid.UUID, qty float64) error {
	for noteID, lines := range f.lines {
		for i, l := range lines {
			if l.ID == lineID {
				f.lines[noteID][i].QuantityReceived = qty
				return nil
			}
		}
	}
	return ErrNotFound
}

func (f *fakeNoteRepo) MarkReceived(_ context.Context, noteID uuid.UUID, dest Destination, destID uuid.UUID, at time.Time) (bool, error) {
	n, ok := f.notes[noteID]
	if !ok || n.Status != NoteStatusInTransit {
		return false, nil
	}
	n.Status = NoteStatusReceived
	n.DestinationKind = dest
	n.DestinationID = destID
	n.ReceivedAt = &at
	f.notes[noteID] = n
	return true, nil
}

func (f *fakeNoteRepo) ClaimLineStock(_ context.Context, lineID uuid.UUID) (bool, error) {
	for noteID, lines := range f.lines {
		for i, l := range lines {
			if l.ID == lineID {
				if l.StockApplied {
					return false, nil
				}
				f.lines[noteID][i].StockApplied = true
				return true, nil
			}
		}
	}
	return false, ErrNotFound
}

func (f *fakeNoteRepo) ReleaseLineStock(_ context.Context, lineID uuid.UUID) error {
	for noteID, lines := range f.lines {
		for i, l := range lines {
			if l.ID == lineID {
				f.lines[noteID][i].StockApplied = false
				return nil
			}
		}
	}
	return ErrNotFound
}

type fakeStock struct {
	levels map[uuid.UUID]float64
	// failFor makes Increment fail for one article.
	failFor uuid.UUID
}

func newFakeStock() *fakeStock {
	return &fakeStock{levels: map[uuid.UUID]float64{}}
}

func (f *fakeStock) Increment(_ context.Context, articleID, _ uuid.UUID, qty float64) error {
	if articleID == f.failFor {
		return errors.New("stock store unavailable")
	}
	f.levels[articleID] += qty
	return nil
}

type fakeBackorders struct {
	outstanding map[uuid.UUID]float64
	orders      map[uuid.UUID]int
}

func (f *fakeBackorders) OutstandingForArticle(_ context.Context, articleID uuid.UUID) (float64, int, error) {
	return f.outstanding[articleID], f.orders[articleID], nil
}

func seedNote(repo *fakeNoteRepo, quantities ...float64) (DeliveryNote, []DeliveryNoteLine) {
	note := DeliveryNote{
		ID:              uuid.New(),
		Number:          "BL-000007",
		PurchaseOrderID: uuid.New(),
		SupplierID:      uuid.New(),
		Status:          NoteStatusInTransit,
		CreatedAt:       time.Now().UTC(),
	}
	repo.notes[note.ID] = note
	for _, q := range quantities {
		line := DeliveryNoteLine{
			ID:              uuid.New(),
			NoteID:          note.ID,
			ArticleID:       uuid.New(),
			QuantityOrdered: q,
			UnitPrice:       decimal.RequireFromString("10"),
			LineAmount:      decimal.NewFromFloat(q * 10),
		}
		repo.lines[note.ID] = append(repo.lines[note.ID], line)
	}
	return note, repo.lines[note.ID]
}

func TestReceiveAppliesStockAndMarksReceived(t *testing.T) {
	repo := newFakeNoteRepo()
	stock := newFakeStock()
	events := &notify.MemoryPublisher{}
	svc := NewService(repo, stock, &fakeBackorders{}, events, nil, nil)

	note, lines := seedNote(repo, 10, 4)
	dest := uuid.New()

	receipt, err := svc.Receive(context.Background(), ReceiveRequest{
		NoteID:        note.ID,
		Destination:   DestinationWarehouse,
		DestinationID: dest,
		Lines: []ReceiptLine{
			{ArticleID: lines[0].ArticleID, QuantityReceived: 10},
			{ArticleID: lines[1].ArticleID, QuantityReceived: 2},
		},
	})
	require.NoError(t, err)
	require.Equal(t, NoteStatusReceived, receipt.Note.Status)
	require.Equal(t, DestinationWarehouse, receipt.Note.DestinationKind)
	require.NotNil(t, receipt.Note.ReceivedAt)

	require.Equal(t, 10.0, stock.levels[lines[0].ArticleID])
	require.Equal(t, 2.0, stock.levels[lines[1].ArticleID])

	require.Len(t, receipt.Results, 2)
	require.Equal(t, reconcile.LineComplete, receipt.Results[0].Status)
	require.True(t, receipt.Results[0].StockApplied)
	require.Equal(t, reconcile.LinePartial, receipt.Results[1].Status)

	require.Equal(t, 10.0, repo.lines[note.ID][0].QuantityReceived)
	require.Equal(t, 2.0, repo.lines[note.ID][1].QuantityReceived)
}

func TestReceiveRejectsOverReceiptBeforeAnyWrite(t *testing.T) {
	repo := newFakeNoteRepo()
	stock := newFakeStock()
	svc := NewService(repo, stock, &fakeBackorders{}, nil, nil, nil)

	note, lines := seedNote(repo, 10, 4)

	_, err := svc.Receive(context.Background(), ReceiveRequest{
		NoteID:        note.ID,
		Destination:   DestinationWarehouse,
		DestinationID: uuid.New(),
		Lines: []ReceiptLine{
			{ArticleID: lines[0].ArticleID, QuantityReceived: 10},
			{ArticleID: lines[1].ArticleID, QuantityReceived: 5},
		},
	})
	var overReceipt *OverReceiptError
	require.ErrorAs(t, err, &overReceipt)
	require.Equal(t, lines[1].ArticleID, overReceipt.ArticleID)

	// Fail-fast: the valid first line was not written either.
	require.Equal(t, NoteStatusInTransit, repo.notes[note.ID].Status)
	require.Zero(t, repo.lines[note.ID][0].QuantityReceived)
	require.Empty(t, stock.levels)
}

func TestReceiveRejectsInvalidDestination(t *testing.T) {
	repo := newFakeNoteRepo()
	svc := NewService(repo, newFakeStock(), &fakeBackorders{}, nil, nil, nil)

	note, lines := seedNote(repo, 5)

	_, err := svc.Receive(context.Background(), ReceiveRequest{
		NoteID:        note.ID,
		Destination:   Destination("truck"),
		DestinationID: uuid.New(),
		Lines:         []ReceiptLine{{ArticleID: lines[0].ArticleID, QuantityReceived: 5}},
	})
	require.ErrorIs(t, err, ErrInvalidDestination)

	_, err = svc.Receive(context.Background(), ReceiveRequest{
		NoteID:      note.ID,
		Destination: DestinationWarehouse,
		Lines:       []ReceiptLine{{ArticleID: lines[0].ArticleID, QuantityReceived: 5}},
	})
	require.ErrorIs(t, err, ErrInvalidDestination)
}

func TestReceiveRejectsUnknownArticle(t *testing.T) {
	repo := newFakeNoteRepo()
	svc := NewService(repo, newFakeStock(), &fakeBackorders{}, nil, nil, nil)

	note, _ := seedNote(repo, 5)

	_, err := svc.Receive(context.Background(), ReceiveRequest{
		NoteID:        note.ID,
		Destination:   DestinationPointOfSale,
		DestinationID: uuid.New(),
		Lines:         []ReceiptLine{{ArticleID: uuid.New(), QuantityReceived: 1}},
	})
	require.ErrorIs(t, err, ErrUnknownArticle)
}

func TestReceiveTwiceReportsAlreadyReceived(t *testing.T) {
	repo := newFakeNoteRepo()
	svc := NewService(repo, newFakeStock(), &fakeBackorders{}, nil, nil, nil)

	note, lines := seedNote(repo, 5)
	req := ReceiveRequest{
		NoteID:        note.ID,
		Destination:   DestinationWarehouse,
		DestinationID: uuid.New(),
		Lines:         []ReceiptLine{{ArticleID: lines[0].ArticleID, QuantityReceived: 5}},
	}

	_, err := svc.Receive(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.Receive(context.Background(), req)
	require.ErrorIs(t, err, ErrAlreadyReceived)
}

func TestReceiveReportsStockFailurePerLine(t *testing.T) {
	repo := newFakeNoteRepo()
	stock := newFakeStock()
	svc := NewService(repo, stock, &fakeBackorders{}, nil, nil, nil)

	note, lines := seedNote(repo, 10, 4)
	stock.failFor = lines[0].ArticleID

	receipt, err := svc.Receive(context.Background(), ReceiveRequest{
		NoteID:        note.ID,
		Destination:   DestinationWarehouse,
		DestinationID: uuid.New(),
		Lines: []ReceiptLine{
			{ArticleID: lines[0].ArticleID, QuantityReceived: 10},
			{ArticleID: lines[1].ArticleID, QuantityReceived: 4},
		},
	})
	require.NoError(t, err)

	// The failed line carries its error; the other line stays applied.
	require.False(t, receipt.Results[0].StockApplied)
	require.Error(t, receipt.Results[0].Err)
	require.True(t, receipt.Results[1].StockApplied)
	require.Equal(t, 4.0, stock.levels[lines[1].ArticleID])

	// The note is received regardless; quantities are persisted for the
	// sweep to retry the increment from, and the failed line's marker is
	// released.
	require.Equal(t, NoteStatusReceived, repo.notes[note.ID].Status)
	require.Equal(t, 10.0, repo.lines[note.ID][0].QuantityReceived)
	require.False(t, repo.lines[note.ID][0].StockApplied)
	require.True(t, repo.lines[note.ID][1].StockApplied)
}

func TestApplyPendingStockRetriesOnlyFailedLines(t *testing.T) {
	repo := newFakeNoteRepo()
	stock := newFakeStock()
	svc := NewService(repo, stock, &fakeBackorders{}, nil, nil, nil)

	note, lines := seedNote(repo, 10, 4)
	stock.failFor = lines[1].ArticleID

	receipt, err := svc.Receive(context.Background(), ReceiveRequest{
		NoteID:        note.ID,
		Destination:   DestinationWarehouse,
		DestinationID: uuid.New(),
		Lines: []ReceiptLine{
			{ArticleID: lines[0].ArticleID, QuantityReceived: 10},
			{ArticleID: lines[1].ArticleID, QuantityReceived: 4},
		},
	})
	require.NoError(t, err)
	require.False(t, receipt.Results[1].StockApplied)
	require.Error(t, receipt.Results[1].Err)
	require.Zero(t, stock.levels[lines[1].ArticleID])

	// Re-invoking the receipt is not the retry path.
	_, err = svc.Receive(context.Background(), ReceiveRequest{
		NoteID:        note.ID,
		Destination:   DestinationWarehouse,
		DestinationID: note.DestinationID,
		Lines:         []ReceiptLine{{ArticleID: lines[1].ArticleID, QuantityReceived: 4}},
	})
	require.ErrorIs(t, err, ErrAlreadyReceived)

	// The retry pass applies the failed line once the store recovers,
	// without touching the already-applied one.
	stock.failFor = uuid.Nil
	applied, err := svc.ApplyPendingStock(context.Background(), note.ID)
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	require.Equal(t, 10.0, stock.levels[lines[0].ArticleID])
	require.Equal(t, 4.0, stock.levels[lines[1].ArticleID])
	require.True(t, repo.lines[note.ID][1].StockApplied)

	// A second pass finds nothing left to apply.
	applied, err = svc.ApplyPendingStock(context.Background(), note.ID)
	require.NoError(t, err)
	require.Zero(t, applied)
	require.Equal(t, 10.0, stock.levels[lines[0].ArticleID])
	require.Equal(t, 4.0, stock.levels[lines[1].ArticleID])
}

func TestApplyPendingStockSkipsInTransitNotes(t *testing.T) {
	repo := newFakeNoteRepo()
	stock := newFakeStock()
	svc := NewService(repo, stock, &fakeBackorders{}, nil, nil, nil)

	note, _ := seedNote(repo, 10)

	applied, err := svc.ApplyPendingStock(context.Background(), note.ID)
	require.NoError(t, err)
	require.Zero(t, applied)
	require.Empty(t, stock.levels)
}

func TestReceiveEmitsBackorderAlerts(t *testing.T) {
	repo := newFakeNoteRepo()
	events := &notify.MemoryPublisher{}

	note, lines := seedNote(repo, 10, 4)
	backorders := &fakeBackorders{
		outstanding: map[uuid.UUID]float64{lines[0].ArticleID: 7},
		orders:      map[uuid.UUID]int{lines[0].ArticleID: 3},
	}
	svc := NewService(repo, newFakeStock(), backorders, events, nil, nil)

	_, err := svc.Receive(context.Background(), ReceiveRequest{
		NoteID:        note.ID,
		Destination:   DestinationWarehouse,
		DestinationID: uuid.New(),
		Lines: []ReceiptLine{
			{ArticleID: lines[0].ArticleID, QuantityReceived: 10},
			{ArticleID: lines[1].ArticleID, QuantityReceived: 4},
		},
	})
	require.NoError(t, err)

	// Only the article with outstanding demand triggers an alert.
	require.Len(t, events.Alerts, 1)
	require.Equal(t, lines[0].ArticleID, events.Alerts[0].ArticleID)
	require.Equal(t, 7.0, events.Alerts[0].TotalOutstanding)
	require.Equal(t, 3, events.Alerts[0].PreOrderCount)
}
