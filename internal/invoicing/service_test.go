package invoicing

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/comptoir-erp/comptoir-erp/internal/reconcile"
	"github.com/comptoir-erp/comptoir-erp/internal/shared"
)

type fakeInvoiceRepo struct {
	invoices map[uuid.UUID]SalesInvoice
	lines    map[uuid.UUID][]SalesInvoiceLine
	payments []Payment
}

func newFakeInvoiceRepo() *fakeInvoiceRepo {
	return &fakeInvoiceRepo{
		invoices: map[uuid.UUID]SalesInvoice{},
		lines:    map[uuid.UUID][]SalesInvoiceLine{},
	}
}

func (f *fakeInvoiceRepo) GetInvoice(_ context.Context, id uuid.UUID) (SalesInvoice, error) {
	inv, ok := f.invoices[id]
	if !ok {
		return SalesInvoice{}, ErrNotFound
	}
	return inv, nil
}

func (f *fakeInvoiceRepo) GetInvoiceLines(_ context.Context, invoiceID uuid.UUID) ([]SalesInvoiceLine, error) {
	out := make([]SalesInvoiceLine, len(f.lines[invoiceID]))
	copy(out, f.lines[invoiceID])
	return out, nil
}

func (f *fakeInvoiceRepo) AppendPayment(_ context.Context, p Payment) error {
	f.payments = append(f.payments, p)
	return nil
}

func (f *fakeInvoiceRepo) ListInvoicePayments(_ context.Context, invoiceID uuid.UUID) ([]Payment, error) {
	var out []Payment
	for _, p := range f.payments {
		if p.InvoiceID != nil && *p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeInvoiceRepo) ListPreOrderPayments(_ context.Context, preOrderID uuid.UUID) ([]Payment, error) {
	var out []Payment
	for _, p := range f.payments {
		if p.PreOrderID != nil && *p.PreOrderID == preOrderID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeInvoiceRepo) SetPaymentStatus(_ context.Context, invoiceID uuid.UUID, status PaymentStatus) error {
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return ErrNotFound
	}
	inv.PaymentStatus = status
	f.invoices[invoiceID] = inv
	return nil
}

func (f *fakeInvoiceRepo) SetDeliveryStatus(_ context.Context, invoiceID uuid.UUID, status reconcile.DocumentStatus) error {
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return ErrNotFound
	}
	inv.DeliveryStatus = status
	f.invoices[invoiceID] = inv
	return nil
}

func (f *fakeInvoiceRepo) UpdateLineDelivered(_ context.Context, lineID uuid.UUID, qty float64, status reconcile.LineStatus) error {
	for invoiceID, lines := range f.lines {
		for i, l := range lines {
			if l.ID == lineID {
				f.lines[invoiceID][i].QuantityDelivered = qty
				f.lines[invoiceID][i].Status = status
				return nil
			}
		}
	}
	return ErrNotFound
}

type fakePreOrders struct {
	amounts  map[uuid.UUID]decimal.Decimal
	deposits map[uuid.UUID]decimal.Decimal
	statuses map[uuid.UUID]PaymentStatus
}

func newFakePreOrders() *fakePreOrders {
	return &fakePreOrders{
		amounts:  map[uuid.UUID]decimal.Decimal{},
		deposits: map[uuid.UUID]decimal.Decimal{},
		statuses: map[uuid.UUID]PaymentStatus{},
	}
}

func (f *fakePreOrders) AmountTTC(_ context.Context, id uuid.UUID) (decimal.Decimal, error) {
	amount, ok := f.amounts[id]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	return amount, nil
}

func (f *fakePreOrders) SetPaymentState(_ context.Context, id uuid.UUID, depositPaid decimal.Decimal, status PaymentStatus) error {
	f.deposits[id] = depositPaid
	f.statuses[id] = status
	return nil
}

func seedInvoice(repo *fakeInvoiceRepo, amountTTC string, ordered ...float64) SalesInvoice {
	inv := SalesInvoice{
		ID:             uuid.New(),
		Number:         "FA-2026-0031",
		ClientID:       uuid.New(),
		AmountTTC:      decimal.RequireFromString(amountTTC),
		PaymentStatus:  PaymentPending,
		DeliveryStatus: reconcile.DocPending,
	}
	repo.invoices[inv.ID] = inv
	for _, q := range ordered {
		repo.lines[inv.ID] = append(repo.lines[inv.ID], SalesInvoiceLine{
			ID:              uuid.New(),
			InvoiceID:       inv.ID,
			ArticleID:       uuid.New(),
			QuantityOrdered: q,
			Status:          reconcile.LinePending,
		})
	}
	return inv
}

func pay(t *testing.T, svc *Service, invoiceID uuid.UUID, amount string) PaymentStatus {
	t.Helper()
	status, err := svc.RecordPayment(context.Background(), PaymentRequest{
		InvoiceID: &invoiceID,
		Amount:    decimal.RequireFromString(amount),
		Method:    "virement",
	})
	require.NoError(t, err)
	return status
}

func TestRecordPaymentDerivesStatusFromFullSet(t *testing.T) {
	repo := newFakeInvoiceRepo()
	svc := NewService(repo, newFakePreOrders(), nil, nil, nil)

	inv := seedInvoice(repo, "1000")

	require.Equal(t, PaymentPartial, pay(t, svc, inv.ID, "400"))
	require.Equal(t, PaymentPaid, pay(t, svc, inv.ID, "600"))
	require.Len(t, repo.payments, 2)
	require.Equal(t, PaymentPaid, repo.invoices[inv.ID].PaymentStatus)
}

func TestRecordPaymentZeroAmountRefreshesWithoutAppending(t *testing.T) {
	repo := newFakeInvoiceRepo()
	svc := NewService(repo, newFakePreOrders(), nil, nil, nil)

	inv := seedInvoice(repo, "1000")
	pay(t, svc, inv.ID, "400")

	status := pay(t, svc, inv.ID, "0")
	require.Equal(t, PaymentPartial, status)
	require.Len(t, repo.payments, 1)
}

func TestRecordPaymentRejectsNegativeAmount(t *testing.T) {
	repo := newFakeInvoiceRepo()
	svc := NewService(repo, newFakePreOrders(), nil, nil, nil)

	inv := seedInvoice(repo, "1000")
	_, err := svc.RecordPayment(context.Background(), PaymentRequest{
		InvoiceID: &inv.ID,
		Amount:    decimal.RequireFromString("-5"),
		Method:    "espece",
	})
	require.ErrorIs(t, err, ErrNegativeAmount)
	require.Empty(t, repo.payments)
}

func TestRecordPaymentRequiresExactlyOneTarget(t *testing.T) {
	repo := newFakeInvoiceRepo()
	svc := NewService(repo, newFakePreOrders(), nil, nil, nil)

	_, err := svc.RecordPayment(context.Background(), PaymentRequest{
		Amount: decimal.RequireFromString("10"),
		Method: "espece",
	})
	require.ErrorIs(t, err, ErrInvalidTarget)

	invoiceID, preOrderID := uuid.New(), uuid.New()
	_, err = svc.RecordPayment(context.Background(), PaymentRequest{
		InvoiceID:  &invoiceID,
		PreOrderID: &preOrderID,
		Amount:     decimal.RequireFromString("10"),
		Method:     "espece",
	})
	require.ErrorIs(t, err, ErrInvalidTarget)
}

func TestPaymentSetIsCommutative(t *testing.T) {
	amounts := []string{"250", "100", "650"}

	run := func(order []int) PaymentStatus {
		repo := newFakeInvoiceRepo()
		svc := NewService(repo, newFakePreOrders(), nil, nil, nil)
		inv := seedInvoice(repo, "1000")
		var last PaymentStatus
		for _, i := range order {
			last = pay(t, svc, inv.ID, amounts[i])
		}
		return last
	}

	require.Equal(t, PaymentPaid, run([]int{0, 1, 2}))
	require.Equal(t, PaymentPaid, run([]int{2, 1, 0}))
	require.Equal(t, PaymentPaid, run([]int{1, 2, 0}))
}

func TestRecordPaymentAgainstPreOrderUpdatesDeposit(t *testing.T) {
	repo := newFakeInvoiceRepo()
	preOrders := newFakePreOrders()
	svc := NewService(repo, preOrders, nil, nil, nil)

	preOrderID := uuid.New()
	preOrders.amounts[preOrderID] = decimal.RequireFromString("500")

	status, err := svc.RecordPayment(context.Background(), PaymentRequest{
		PreOrderID: &preOrderID,
		Amount:     decimal.RequireFromString("200"),
		Method:     "espece",
	})
	require.NoError(t, err)
	require.Equal(t, PaymentPartial, status)
	require.True(t, preOrders.deposits[preOrderID].Equal(decimal.RequireFromString("200")))

	status, err = svc.RecordPayment(context.Background(), PaymentRequest{
		PreOrderID: &preOrderID,
		Amount:     decimal.RequireFromString("300"),
		Method:     "espece",
	})
	require.NoError(t, err)
	require.Equal(t, PaymentPaid, status)
	require.True(t, preOrders.deposits[preOrderID].Equal(decimal.RequireFromString("500")))
}

func TestUpdateDeliveredQuantitiesRecomputesStatuses(t *testing.T) {
	repo := newFakeInvoiceRepo()
	svc := NewService(repo, newFakePreOrders(), nil, nil, nil)

	inv := seedInvoice(repo, "1000", 10)
	line := repo.lines[inv.ID][0]
	require.Equal(t, reconcile.DocPending, repo.invoices[inv.ID].DeliveryStatus)

	status, err := svc.UpdateDeliveredQuantities(context.Background(), inv.ID,
		map[uuid.UUID]float64{line.ArticleID: 10})
	require.NoError(t, err)
	require.Equal(t, reconcile.DocDelivered, status)
	require.Equal(t, reconcile.DocDelivered, repo.invoices[inv.ID].DeliveryStatus)
	require.Equal(t, reconcile.LineComplete, repo.lines[inv.ID][0].Status)
}

func TestUpdateDeliveredQuantitiesPartial(t *testing.T) {
	repo := newFakeInvoiceRepo()
	svc := NewService(repo, newFakePreOrders(), nil, nil, nil)

	inv := seedInvoice(repo, "1000", 10, 4)
	a0 := repo.lines[inv.ID][0].ArticleID

	status, err := svc.UpdateDeliveredQuantities(context.Background(), inv.ID,
		map[uuid.UUID]float64{a0: 10})
	require.NoError(t, err)
	require.Equal(t, reconcile.DocPartial, status)
	require.Equal(t, reconcile.LinePending, repo.lines[inv.ID][1].Status)
}

func TestUpdateDeliveredQuantitiesRejectsOverDelivery(t *testing.T) {
	repo := newFakeInvoiceRepo()
	svc := NewService(repo, newFakePreOrders(), nil, nil, nil)

	inv := seedInvoice(repo, "1000", 10)
	line := repo.lines[inv.ID][0]

	_, err := svc.UpdateDeliveredQuantities(context.Background(), inv.ID,
		map[uuid.UUID]float64{line.ArticleID: 15})
	var overDelivery *OverDeliveryError
	require.ErrorAs(t, err, &overDelivery)
	require.Equal(t, 15.0, overDelivery.Delivered)

	// Fail-fast: nothing was written.
	require.Zero(t, repo.lines[inv.ID][0].QuantityDelivered)
	require.Equal(t, reconcile.DocPending, repo.invoices[inv.ID].DeliveryStatus)
}

func TestUpdateDeliveredQuantitiesRejectsUnknownArticle(t *testing.T) {
	repo := newFakeInvoiceRepo()
	svc := NewService(repo, newFakePreOrders(), nil, nil, nil)

	inv := seedInvoice(repo, "1000", 10)
	_, err := svc.UpdateDeliveredQuantities(context.Background(), inv.ID,
		map[uuid.UUID]float64{uuid.New(): 1})
	require.ErrorIs(t, err, ErrUnknownArticle)
}

func TestRefreshSettlesBothStatuses(t *testing.T) {
	repo := newFakeInvoiceRepo()
	svc := NewService(repo, newFakePreOrders(), nil, nil, nil)

	inv := seedInvoice(repo, "1000", 10)
	pay(t, svc, inv.ID, "1000")

	// Simulate drift: a line was delivered but the aggregate never updated.
	repo.lines[inv.ID][0].QuantityDelivered = 10

	require.NoError(t, svc.Refresh(context.Background(), inv.ID))
	require.Equal(t, PaymentPaid, repo.invoices[inv.ID].PaymentStatus)
	require.Equal(t, reconcile.DocDelivered, repo.invoices[inv.ID].DeliveryStatus)
}

type fakeKeys struct {
	claimed map[string]bool
}

func (f *fakeKeys) Claim(_ context.Context, key, _ string) error {
	if f.claimed == nil {
		f.claimed = map[string]bool{}
	}
	if f.claimed[key] {
		return shared.ErrIdempotencyConflict
	}
	f.claimed[key] = true
	return nil
}

func (f *fakeKeys) Release(_ context.Context, key string) error {
	delete(f.claimed, key)
	return nil
}

func TestRecordPaymentReplayedKeyAppendsOnce(t *testing.T) {
	repo := newFakeInvoiceRepo()
	svc := NewService(repo, newFakePreOrders(), &fakeKeys{}, nil, nil)

	inv := seedInvoice(repo, "1000")

	req := PaymentRequest{
		InvoiceID: &inv.ID,
		Amount:    decimal.RequireFromString("400"),
		Method:    "virement",
		Key:       "pay-7f3a",
	}
	status, err := svc.RecordPayment(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, PaymentPartial, status)

	// Client retry with the same key: status comes back, no second row.
	status, err = svc.RecordPayment(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, PaymentPartial, status)
	require.Len(t, repo.payments, 1)
}
