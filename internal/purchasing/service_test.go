package purchasing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/comptoir-erp/comptoir-erp/internal/notify"
	"github.com/comptoir-erp/comptoir-erp/internal/receiving"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

type fakeOrderRepo struct {
	orders map[uuid.UUID]PurchaseOrder
	lines  map[uuid.UUID][]PurchaseOrderLine
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{
		orders: map[uuid.UUID]PurchaseOrder{},
		lines:  map[uuid.UUID][]PurchaseOrderLine{},
	}
}

func (f *fakeOrderRepo) GetOrder(_ context.Context, id uuid.UUID) (PurchaseOrder, error) {
	o, ok := f.orders[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return o, nil
}

func (f *fakeOrderRepo) GetOrderLines(_ context.Context, orderID uuid.UUID) ([]PurchaseOrderLine, error) {
	return f.lines[orderID], nil
}

func (f *fakeOrderRepo) MarkValidated(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	o, ok := f.orders[id]
	if !ok || o.Status != OrderStatusDraft {
		return false, nil
	}
	o.Status = OrderStatusValidated
	o.ValidatedAt = &at
	f.orders[id] = o
	return true, nil
}

type fakeNoteStore struct {
	seq   int
	byPO  map[uuid.UUID]receiving.DeliveryNote
	lines map[uuid.UUID][]receiving.DeliveryNoteLine

	// dropArticle silently loses line inserts for one article, simulating a
	// write that committed upstream but never landed.
	dropArticle uuid.UUID
}

func newFakeNoteStore() *fakeNoteStore {
	return &fakeNoteStore{
		byPO:  map[uuid.UUID]receiving.DeliveryNote{},
		lines: map[uuid.UUID][]receiving.DeliveryNoteLine{},
	}
}

func (f *fakeNoteStore) GenerateNumber(_ context.Context, _ string) (string, error) {
	f.seq++
	return fmt.Sprintf("BL-%06d", f.seq), nil
}

func (f *fakeNoteStore) CreateNote(_ context.Context, note receiving.DeliveryNote) error {
	f.byPO[note.PurchaseOrderID] = note
	return nil
}

func (f *fakeNoteStore) InsertNoteLine(_ context.Context, line receiving.DeliveryNoteLine) error {
	if line.ArticleID == f.dropArticle {
		return nil
	}
	f.lines[line.NoteID] = append(f.lines[line.NoteID], line)
	return nil
}

func (f *fakeNoteStore) GetNoteByOrder(_ context.Context, orderID uuid.UUID) (receiving.DeliveryNote, int, error) {
	note, ok := f.byPO[orderID]
	if !ok {
		return receiving.DeliveryNote{}, 0, receiving.ErrNotFound
	}
	return note, len(f.lines[note.ID]), nil
}

func (f *fakeNoteStore) GetNoteLines(_ context.Context, noteID uuid.UUID) ([]receiving.DeliveryNoteLine, error) {
	return f.lines[noteID], nil
}

type fakeAudit struct {
	actions []string
}

func (f *fakeAudit) Record(_ context.Context, entry shared.AuditEntry) error {
	f.actions = append(f.actions, entry.Action)
	return nil
}

type fakeMetrics struct {
	outcomes map[string]int
}

func (f *fakeMetrics) ApprovalRecorded(outcome string) {
	if f.outcomes == nil {
		f.outcomes = map[string]int{}
	}
	f.outcomes[outcome]++
}

func seedOrder(repo *fakeOrderRepo, prices ...string) PurchaseOrder {
	net := decimal.Zero
	order := PurchaseOrder{
		ID:             uuid.New(),
		Number:         "PO-2026-0042",
		SupplierID:     uuid.New(),
		Status:         OrderStatusDraft,
		FreightFee:     decimal.RequireFromString("10"),
		LogisticsFee:   decimal.RequireFromString("5"),
		CustomsTransit: decimal.RequireFromString("15"),
		CreatedAt:      time.Now().UTC(),
	}
	for _, p := range prices {
		amount := decimal.RequireFromString(p)
		repo.lines[order.ID] = append(repo.lines[order.ID], PurchaseOrderLine{
			ID:              uuid.New(),
			OrderID:         order.ID,
			ArticleID:       uuid.New(),
			QuantityOrdered: 10,
			UnitPrice:       amount.Div(decimal.NewFromInt(10)),
			LineAmount:      amount,
		})
		net = net.Add(amount)
	}
	order.NetAmount = net
	repo.orders[order.ID] = order
	return order
}

func TestApproveExpandsOrderIntoNote(t *testing.T) {
	repo := newFakeOrderRepo()
	notes := newFakeNoteStore()
	events := &notify.MemoryPublisher{}
	audit := &fakeAudit{}
	metrics := &fakeMetrics{}
	svc := NewService(repo, notes, events, audit, metrics)

	order := seedOrder(repo, "1000", "250")

	note, err := svc.Approve(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, "BL-000001", note.Number)
	require.Equal(t, receiving.NoteStatusInTransit, note.Status)
	require.Equal(t, order.ID, note.PurchaseOrderID)
	require.True(t, note.FreightFee.Equal(order.FreightFee))

	require.Equal(t, OrderStatusValidated, repo.orders[order.ID].Status)
	require.NotNil(t, repo.orders[order.ID].ValidatedAt)

	lines := notes.lines[note.ID]
	require.Len(t, lines, 2)
	for i, l := range lines {
		require.Equal(t, repo.lines[order.ID][i].ArticleID, l.ArticleID)
		require.Equal(t, repo.lines[order.ID][i].QuantityOrdered, l.QuantityOrdered)
		require.Zero(t, l.QuantityReceived)
	}

	require.Len(t, events.Approvals, 1)
	require.True(t, events.Approvals[0].Success)
	require.Equal(t, note.Number, events.Approvals[0].DeliveryNoteNumber)
	require.Equal(t, []string{"PO_APPROVE"}, audit.actions)
	require.Equal(t, 1, metrics.outcomes["success"])
}

func TestApproveTwiceReportsAlreadyApproved(t *testing.T) {
	repo := newFakeOrderRepo()
	notes := newFakeNoteStore()
	svc := NewService(repo, notes, &notify.MemoryPublisher{}, nil, nil)

	order := seedOrder(repo, "100")

	_, err := svc.Approve(context.Background(), order.ID)
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), order.ID)
	require.ErrorIs(t, err, ErrAlreadyApproved)

	// Exactly one note and one copied line survive the retry.
	note, count, err := notes.GetNoteByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, "BL-000001", note.Number)
}

func TestApproveRejectsEmptyOrder(t *testing.T) {
	repo := newFakeOrderRepo()
	svc := NewService(repo, newFakeNoteStore(), nil, nil, nil)

	order := PurchaseOrder{ID: uuid.New(), Number: "PO-2026-0001", Status: OrderStatusDraft}
	repo.orders[order.ID] = order

	_, err := svc.Approve(context.Background(), order.ID)
	require.ErrorIs(t, err, ErrEmptyOrder)
	require.Equal(t, OrderStatusDraft, repo.orders[order.ID].Status)
}

func TestApproveRejectsAmountMismatch(t *testing.T) {
	repo := newFakeOrderRepo()
	svc := NewService(repo, newFakeNoteStore(), nil, nil, nil)

	order := seedOrder(repo, "100", "200")
	order.NetAmount = decimal.RequireFromString("999")
	repo.orders[order.ID] = order

	_, err := svc.Approve(context.Background(), order.ID)
	require.ErrorIs(t, err, ErrAmountMismatch)
	require.Equal(t, OrderStatusDraft, repo.orders[order.ID].Status)
}

func TestApproveUnknownOrder(t *testing.T) {
	svc := NewService(newFakeOrderRepo(), newFakeNoteStore(), nil, nil, nil)
	_, err := svc.Approve(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApproveReportsUnverifiedOnLostLine(t *testing.T) {
	repo := newFakeOrderRepo()
	notes := newFakeNoteStore()
	events := &notify.MemoryPublisher{}
	metrics := &fakeMetrics{}
	svc := NewService(repo, notes, events, nil, metrics)

	order := seedOrder(repo, "100", "200")
	notes.dropArticle = repo.lines[order.ID][1].ArticleID

	_, err := svc.Approve(context.Background(), order.ID)
	var unverified *UnverifiedError
	require.ErrorAs(t, err, &unverified)
	require.Equal(t, order.ID, unverified.OrderID)
	require.Equal(t, 2, unverified.ExpectedLines)
	require.Equal(t, 1, unverified.ActualLines)

	// The transition committed; the order stays validated.
	require.Equal(t, OrderStatusValidated, repo.orders[order.ID].Status)
	require.Len(t, events.Approvals, 1)
	require.False(t, events.Approvals[0].Success)
	require.Equal(t, 1, metrics.outcomes["unverified"])
}

func TestRepairFillsMissingLines(t *testing.T) {
	repo := newFakeOrderRepo()
	notes := newFakeNoteStore()
	audit := &fakeAudit{}
	svc := NewService(repo, notes, &notify.MemoryPublisher{}, audit, nil)

	order := seedOrder(repo, "100", "200")
	notes.dropArticle = repo.lines[order.ID][1].ArticleID
	_, err := svc.Approve(context.Background(), order.ID)
	require.Error(t, err)

	notes.dropArticle = uuid.Nil
	repaired, err := svc.Repair(context.Background(), order.ID)
	require.NoError(t, err)
	require.True(t, repaired)

	_, count, err := notes.GetNoteByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Contains(t, audit.actions, "PO_REPAIR")
}

func TestRepairRecreatesMissingNote(t *testing.T) {
	repo := newFakeOrderRepo()
	notes := newFakeNoteStore()
	svc := NewService(repo, notes, &notify.MemoryPublisher{}, nil, nil)

	order := seedOrder(repo, "100")
	now := time.Now().UTC()
	_, err := repo.MarkValidated(context.Background(), order.ID, now)
	require.NoError(t, err)

	repaired, err := svc.Repair(context.Background(), order.ID)
	require.NoError(t, err)
	require.True(t, repaired)

	_, count, err := notes.GetNoteByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRepairIsNoOpOnHealthyOrder(t *testing.T) {
	repo := newFakeOrderRepo()
	notes := newFakeNoteStore()
	svc := NewService(repo, notes, &notify.MemoryPublisher{}, nil, nil)

	order := seedOrder(repo, "100")
	_, err := svc.Approve(context.Background(), order.ID)
	require.NoError(t, err)

	repaired, err := svc.Repair(context.Background(), order.ID)
	require.NoError(t, err)
	require.False(t, repaired)
}

func TestRepairSkipsDraftOrders(t *testing.T) {
	repo := newFakeOrderRepo()
	svc := NewService(repo, newFakeNoteStore(), nil, nil, nil)

	order := seedOrder(repo, "100")
	repaired, err := svc.Repair(context.Background(), order.ID)
	require.NoError(t, err)
	require.False(t, repaired)
}

func TestLandedCostsAllocatesFees(t *testing.T) {
	repo := newFakeOrderRepo()
	svc := NewService(repo, newFakeNoteStore(), nil, nil, nil)

	order := seedOrder(repo, "1000", "250")

	costs, err := svc.LandedCosts(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, costs, 2)

	// Fees total 30 over a net of 1250: shares 24 and 6.
	require.True(t, costs[0].AllocatedFee.Equal(decimal.RequireFromString("24")), costs[0].AllocatedFee.String())
	require.True(t, costs[1].AllocatedFee.Equal(decimal.RequireFromString("6")), costs[1].AllocatedFee.String())

	// Unit price 100 plus 24 over 10 units.
	require.True(t, costs[0].LandedUnitCost.Equal(decimal.RequireFromString("102.4")), costs[0].LandedUnitCost.String())
	require.True(t, costs[1].LandedUnitCost.Equal(decimal.RequireFromString("25.6")), costs[1].LandedUnitCost.String())

	total := costs[0].AllocatedFee.Add(costs[1].AllocatedFee)
	require.True(t, total.Equal(decimal.RequireFromString("30")))
}
