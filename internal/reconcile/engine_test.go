package reconcile_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/solarstore/shop/internal/ledger"
	"github.com/solarstore/shop/internal/models"
	"github.com/solarstore/shop/internal/reconcile"
	"github.com/solarstore/shop/internal/stripe"
	"github.com/solarstore/shop/internal/testdb"
)

type fakeGateway struct {
	sessions map[string]*stripe.Session
	err      error
}

func (f *fakeGateway) CreateSession(ctx context.Context, params stripe.CreateSessionParams) (*stripe.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	session := &stripe.Session{
		ID:              fmt.Sprintf("cs_test_%d", params.OrderID),
		URL:             "https://checkout.example/" + fmt.Sprint(params.OrderID),
		PaymentIntentID: fmt.Sprintf("pi_test_%d", params.OrderID),
		PaymentStatus:   "unpaid",
		Status:          "open",
	}
	f.sessions[session.ID] = session
	return session, nil
}

func (f *fakeGateway) RetrieveSession(ctx context.Context, sessionID string) (*stripe.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown session", stripe.ErrGatewayUnavailable)
	}
	return session, nil
}

type testFixture struct {
	db      *gorm.DB
	gateway *fakeGateway
	engine  *reconcile.Engine
	product models.Product
	order   models.Order
	payment models.Payment
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()

	db := testdb.Open(t)

	product := models.Product{SellerID: 1, Name: "panel", Price: 10.00, Quantity: 10}
	require.NoError(t, db.Create(&product).Error)

	order, _, err := ledger.CreateOrder(db, 2, []ledger.LineItem{
		{Product: product, Quantity: 2},
	})
	require.NoError(t, err)

	payment := models.Payment{
		OrderID:         order.ID,
		SessionID:       fmt.Sprintf("cs_test_%d", order.ID),
		PaymentIntentID: fmt.Sprintf("pi_test_%d", order.ID),
		Status:          models.PaymentStatusPending,
		Amount:          order.Total,
		Currency:        "BRL",
	}
	require.NoError(t, db.Create(&payment).Error)

	gateway := &fakeGateway{sessions: map[string]*stripe.Session{
		payment.SessionID: {
			ID:              payment.SessionID,
			PaymentIntentID: payment.PaymentIntentID,
			PaymentStatus:   "paid",
			Status:          "complete",
			Raw:             models.JSONMap{"id": payment.SessionID},
		},
	}}

	return &testFixture{
		db:      db,
		gateway: gateway,
		engine:  &reconcile.Engine{DB: db, Gateway: gateway},
		product: product,
		order:   *order,
		payment: payment,
	}
}

func (f *testFixture) reload(t *testing.T) {
	t.Helper()
	require.NoError(t, f.db.First(&f.product, f.product.ID).Error)
	require.NoError(t, f.db.First(&f.order, f.order.ID).Error)
	require.NoError(t, f.db.First(&f.payment, f.payment.ID).Error)
}

func (f *testFixture) logs(t *testing.T) []models.PaymentLog {
	t.Helper()
	var logs []models.PaymentLog
	require.NoError(t, f.db.Where("payment_id = ?", f.payment.ID).Order("id ASC").Find(&logs).Error)
	return logs
}

func checkoutObject(f *testFixture) stripe.CheckoutSessionObject {
	var obj stripe.CheckoutSessionObject
	obj.ID = f.payment.SessionID
	obj.PaymentIntent = f.payment.PaymentIntentID
	obj.PaymentStatus = "paid"
	obj.Metadata.OrderID = fmt.Sprint(f.order.ID)
	return obj
}

func TestCheckoutCompletedMarksPaidAndDecrementsStock(t *testing.T) {
	f := newFixture(t)

	raw := models.JSONMap{"id": f.payment.SessionID}
	require.NoError(t, f.engine.HandleCheckoutCompleted(context.Background(), checkoutObject(f), raw))

	f.reload(t)
	require.Equal(t, models.PaymentStatusSucceeded, f.payment.Status)
	require.NotNil(t, f.payment.PaidAt)
	require.Equal(t, raw["id"], f.payment.ProviderResponse["id"])
	require.True(t, f.order.Paid)
	require.Equal(t, uint(8), f.product.Quantity)

	logs := f.logs(t)
	require.Len(t, logs, 1)
	require.Equal(t, reconcile.EventCheckoutCompleted, logs[0].EventType)
}

func TestCheckoutCompletedIdempotent(t *testing.T) {
	f := newFixture(t)

	obj := checkoutObject(f)
	require.NoError(t, f.engine.HandleCheckoutCompleted(context.Background(), obj, nil))

	f.reload(t)
	firstPaidAt := f.payment.PaidAt
	require.NotNil(t, firstPaidAt)

	// Redelivery: no state change beyond one more audit row.
	require.NoError(t, f.engine.HandleCheckoutCompleted(context.Background(), obj, nil))

	f.reload(t)
	require.Equal(t, models.PaymentStatusSucceeded, f.payment.Status)
	require.Equal(t, firstPaidAt.Unix(), f.payment.PaidAt.Unix())
	require.Equal(t, uint(8), f.product.Quantity)

	logs := f.logs(t)
	require.Len(t, logs, 2)
	require.Equal(t, reconcile.EventCheckoutCompleted, logs[1].EventType)
}

func TestConcurrentConfirmationDecrementsOnce(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		_ = f.engine.HandleCheckoutCompleted(context.Background(), checkoutObject(f), nil)
	}()
	go func() {
		defer wg.Done()
		order := f.order
		_, _ = f.engine.ConfirmFromRedirect(context.Background(), &order)
	}()

	wg.Wait()

	f.reload(t)
	require.Equal(t, models.PaymentStatusSucceeded, f.payment.Status)
	require.NotNil(t, f.payment.PaidAt)
	require.True(t, f.order.Paid)
	require.Equal(t, uint(8), f.product.Quantity)

	// Both sources leave their audit trail, whichever won the guard.
	logs := f.logs(t)
	require.Len(t, logs, 2)
	types := []string{logs[0].EventType, logs[1].EventType}
	require.Contains(t, types, reconcile.EventCheckoutCompleted)
	require.Contains(t, types, reconcile.EventPaymentConfirmed)
}

func TestConfirmFromRedirect(t *testing.T) {
	f := newFixture(t)

	payment, err := f.engine.ConfirmFromRedirect(context.Background(), &f.order)
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusSucceeded, payment.Status)

	f.reload(t)
	require.True(t, f.order.Paid)
	require.Equal(t, uint(8), f.product.Quantity)

	logs := f.logs(t)
	require.Len(t, logs, 1)
	require.Equal(t, reconcile.EventPaymentConfirmed, logs[0].EventType)
}

func TestConfirmFromRedirectUnpaidSession(t *testing.T) {
	f := newFixture(t)
	f.gateway.sessions[f.payment.SessionID].PaymentStatus = "unpaid"

	payment, err := f.engine.ConfirmFromRedirect(context.Background(), &f.order)
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusPending, payment.Status)

	f.reload(t)
	require.False(t, f.order.Paid)
	require.Equal(t, uint(10), f.product.Quantity)
	require.Empty(t, f.logs(t))
}

func TestConfirmFromRedirectGatewayUnavailable(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = fmt.Errorf("%w: connection refused", stripe.ErrGatewayUnavailable)

	_, err := f.engine.ConfirmFromRedirect(context.Background(), &f.order)
	require.ErrorIs(t, err, stripe.ErrGatewayUnavailable)

	f.reload(t)
	require.Equal(t, models.PaymentStatusPending, f.payment.Status)
	require.False(t, f.order.Paid)
	require.Equal(t, uint(10), f.product.Quantity)
	require.Empty(t, f.logs(t))
}

func TestIntentSucceeded(t *testing.T) {
	f := newFixture(t)

	obj := stripe.PaymentIntentObject{ID: f.payment.PaymentIntentID, Status: "succeeded"}
	require.NoError(t, f.engine.HandleIntentSucceeded(context.Background(), obj, nil))

	f.reload(t)
	require.Equal(t, models.PaymentStatusSucceeded, f.payment.Status)
	require.True(t, f.order.Paid)
	require.Equal(t, uint(8), f.product.Quantity)
}

func TestIntentSucceededLookupMiss(t *testing.T) {
	f := newFixture(t)

	obj := stripe.PaymentIntentObject{ID: "pi_unknown", Status: "succeeded"}
	require.NoError(t, f.engine.HandleIntentSucceeded(context.Background(), obj, nil))

	f.reload(t)
	require.Equal(t, models.PaymentStatusPending, f.payment.Status)
	require.Empty(t, f.logs(t))
}

func TestIntentSucceededEmptyIDIgnored(t *testing.T) {
	f := newFixture(t)

	// A payment whose session carried no intent yet stores "".
	require.NoError(t, f.db.Model(&f.payment).Update("payment_intent_id", "").Error)

	obj := stripe.PaymentIntentObject{ID: "", Status: "succeeded"}
	require.NoError(t, f.engine.HandleIntentSucceeded(context.Background(), obj, nil))

	f.reload(t)
	require.Equal(t, models.PaymentStatusPending, f.payment.Status)
	require.False(t, f.order.Paid)
	require.Equal(t, uint(10), f.product.Quantity)
	require.Empty(t, f.logs(t))
}

func TestChargeFailedEmptyIntentIgnored(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.db.Model(&f.payment).Update("payment_intent_id", "").Error)

	obj := stripe.ChargeObject{ID: "ch_1", PaymentIntent: ""}
	require.NoError(t, f.engine.HandleChargeFailed(context.Background(), obj, nil))

	f.reload(t)
	require.Equal(t, models.PaymentStatusPending, f.payment.Status)
	require.Empty(t, f.logs(t))
}

func TestChargeFailed(t *testing.T) {
	f := newFixture(t)

	obj := stripe.ChargeObject{
		ID:             "ch_1",
		PaymentIntent:  f.payment.PaymentIntentID,
		FailureMessage: "card declined",
	}
	require.NoError(t, f.engine.HandleChargeFailed(context.Background(), obj, nil))

	f.reload(t)
	require.Equal(t, models.PaymentStatusFailed, f.payment.Status)
	require.False(t, f.order.Paid)
	require.Equal(t, uint(10), f.product.Quantity)

	logs := f.logs(t)
	require.Len(t, logs, 1)
	require.Equal(t, reconcile.EventChargeFailed, logs[0].EventType)
	require.Equal(t, "card declined", logs[0].Details["failure_message"])
}

func TestChargeFailedLookupMiss(t *testing.T) {
	f := newFixture(t)

	obj := stripe.ChargeObject{ID: "ch_1", PaymentIntent: "pi_unknown"}
	require.NoError(t, f.engine.HandleChargeFailed(context.Background(), obj, nil))

	f.reload(t)
	require.Equal(t, models.PaymentStatusPending, f.payment.Status)
}

func TestChargeFailedDoesNotRevertSuccess(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.engine.HandleCheckoutCompleted(context.Background(), checkoutObject(f), nil))

	obj := stripe.ChargeObject{ID: "ch_1", PaymentIntent: f.payment.PaymentIntentID}
	require.NoError(t, f.engine.HandleChargeFailed(context.Background(), obj, nil))

	f.reload(t)
	require.Equal(t, models.PaymentStatusSucceeded, f.payment.Status)
	require.True(t, f.order.Paid)
	require.Len(t, f.logs(t), 2)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)

	payment, err := f.engine.Cancel(context.Background(), &f.order)
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusCanceled, payment.Status)

	f.reload(t)
	require.False(t, f.order.Paid)
	require.Equal(t, uint(10), f.product.Quantity)

	logs := f.logs(t)
	require.Len(t, logs, 1)
	require.Equal(t, reconcile.EventPaymentCanceled, logs[0].EventType)
}

func TestCancelRepeatable(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Cancel(context.Background(), &f.order)
	require.NoError(t, err)
	_, err = f.engine.Cancel(context.Background(), &f.order)
	require.NoError(t, err)

	f.reload(t)
	require.Equal(t, models.PaymentStatusCanceled, f.payment.Status)
	require.Len(t, f.logs(t), 2)
}
