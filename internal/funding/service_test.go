package funding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/settlement/internal/apperr"
	"github.com/congo-pay/settlement/internal/currency"
	"github.com/congo-pay/settlement/internal/guard"
	"github.com/congo-pay/settlement/internal/ledger"
	"github.com/congo-pay/settlement/internal/notification"
	"github.com/congo-pay/settlement/internal/paypal"
)

type rateTable map[string]string

func (r rateTable) Name() string { return "table" }

func (r rateTable) Rate(_ context.Context, from, to string) (decimal.Decimal, error) {
	raw, ok := r[from+"/"+to]
	if !ok {
		return decimal.Zero, fmt.Errorf("no rate for %s/%s", from, to)
	}
	return decimal.RequireFromString(raw), nil
}

type fakeGateway struct {
	mu            sync.Mutex
	orders        map[string]paypal.Order
	seq           int
	captureCalls  int
	captureErr    error
	captureState  string
	verified      bool
	omitCaptureID bool

	// supported limits the currencies the gateway charges in; others are
	// converted to USD through fx. Nil accepts every currency.
	supported map[string]bool
	fx        Converter
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{orders: map[string]paypal.Order{}, captureState: paypal.StatusCompleted, verified: true}
}

func (g *fakeGateway) CreateOrder(_ context.Context, in paypal.CreateOrderInput) (paypal.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	code, amount := in.Currency, in.Amount
	if g.supported != nil && !g.supported[code] {
		conv, err := g.fx.Convert(context.Background(), amount, code, "USD")
		if err != nil {
			return paypal.Order{}, err
		}
		code, amount = "USD", conv.Amount.Round(2)
	}
	o := paypal.Order{
		ID:               fmt.Sprintf("ORDER-%d", g.seq),
		Status:           "CREATED",
		Currency:         code,
		Amount:           amount,
		OriginalCurrency: in.Currency,
		OriginalAmount:   in.Amount,
		CorrelationID:    in.CorrelationID,
		ApproveLinks:     []paypal.Link{{Href: "https://pay/approve", Rel: "approve", Method: "GET"}},
	}
	g.orders[o.ID] = o
	return o, nil
}

func (g *fakeGateway) GetOrder(_ context.Context, id string) (paypal.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[id]
	if !ok {
		return paypal.Order{}, apperr.New(apperr.NotFound, "order not found")
	}
	return o, nil
}

func (g *fakeGateway) CaptureOrder(_ context.Context, id string) (paypal.Capture, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureCalls++
	if g.captureErr != nil {
		return paypal.Capture{}, g.captureErr
	}
	o := g.orders[id]
	if o.Capture != nil {
		return paypal.Capture{}, apperr.Wrap(apperr.Internal, &paypal.GatewayError{
			Op: "capture_order", StatusCode: 422, Issue: "ORDER_ALREADY_CAPTURED",
		}, "paypal capture_order failed")
	}
	c := paypal.Capture{
		OrderID:       id,
		CaptureID:     "CAP-" + id,
		Status:        g.captureState,
		GrossAmount:   o.Amount,
		GrossCurrency: o.Currency,
		CorrelationID: o.CorrelationID,
	}
	if g.omitCaptureID {
		c.CaptureID = ""
	}
	if c.Completed() {
		o.Status = paypal.StatusCompleted
		o.Capture = &c
		g.orders[id] = o
	}
	return c, nil
}

func (g *fakeGateway) VerifyWebhookSignature(context.Context, paypal.WebhookHeaders, []byte) (bool, error) {
	return g.verified, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

// flakyStore fails the first n transactions as a store outage would.
type flakyStore struct {
	ledger.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("connection reset")
	}
	s.mu.Unlock()
	return s.Store.RunInTx(ctx, fn)
}

type fixture struct {
	engine   *ledger.Engine
	gateway  *fakeGateway
	notifier *recordingNotifier
	service  *Service
	redis    *miniredis.Miniredis
}

func newFixture(t *testing.T, store ledger.Store) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	engine := ledger.NewEngine(store, "XAF")
	fx := currency.NewConverter([]currency.Provider{rateTable{"USD/XAF": "600", "EUR/XAF": "655.957", "GHS/USD": "0.1"}})
	f := &fixture{engine: engine, gateway: newFakeGateway(), notifier: &recordingNotifier{}, redis: mr}
	f.gateway.fx = fx

	svc, err := NewService(engine, f.gateway, fx,
		WithNotifier(f.notifier),
		WithCaptureLock(guard.New(cache, "capture", time.Minute)),
		WithEventGuard(guard.New(cache, "webhook", time.Hour)),
		WithSettleRetry(3, time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.service = svc
	return f
}

func balance(t *testing.T, e *ledger.Engine, owner string) int64 {
	t.Helper()
	w, err := e.Wallet(context.Background(), owner)
	if err != nil {
		t.Fatalf("wallet %s: %v", owner, err)
	}
	return w.Balance
}

func TestTopUpCreateAndCapture(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.NewMemoryStore())

	order, err := f.service.CreateTopUp(ctx, "alice", TopUpInput{Amount: decimal.RequireFromString("10.00"), Currency: "usd"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if order.OrderID == "" || order.OrderCurrency != "USD" || len(order.ApproveLinks) != 1 {
		t.Fatalf("unexpected order: %+v", order)
	}

	res, err := f.service.CaptureTopUp(ctx, "alice", order.OrderID)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if res.Status != StatusSuccess || res.Currency != "XAF" || !res.Credited.Equal(decimal.NewFromInt(6000)) {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := balance(t, f.engine, "alice"); got != 6000 {
		t.Fatalf("expected balance 6000, got %d", got)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].Kind != notification.KindSettlementCompleted {
		t.Fatalf("expected settlement notification, got %+v", f.notifier.sent)
	}
}

func TestTopUpRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.NewMemoryStore())

	if _, err := f.service.CreateTopUp(ctx, "", TopUpInput{Amount: decimal.NewFromInt(1), Currency: "USD"}); !apperr.Is(err, apperr.Unauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if _, err := f.service.CreateTopUp(ctx, "alice", TopUpInput{Amount: decimal.Zero, Currency: "USD"}); !apperr.Is(err, apperr.InvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := f.service.CreateGuestTopUp(ctx, " ", TopUpInput{Amount: decimal.NewFromInt(1), Currency: "USD"}); !apperr.Is(err, apperr.InvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if len(f.gateway.orders) != 0 {
		t.Fatalf("no gateway order should exist after rejected input")
	}
}

func TestCaptureRejectsForeignOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.NewMemoryStore())

	order, err := f.service.CreateTopUp(ctx, "alice", TopUpInput{Amount: decimal.NewFromInt(5), Currency: "USD"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.service.CaptureTopUp(ctx, "mallory", order.OrderID); !errors.Is(err, ErrNotOrderOwner) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if f.gateway.captureCalls != 0 {
		t.Fatalf("gateway capture must not run for a foreign order")
	}
}

func TestCaptureIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	f := newFixture(t, store)

	order, _ := f.service.CreateTopUp(ctx, "alice", TopUpInput{Amount: decimal.NewFromInt(2), Currency: "USD"})
	if _, err := f.service.CaptureTopUp(ctx, "alice", order.OrderID); err != nil {
		t.Fatalf("first capture: %v", err)
	}
	again, err := f.service.CaptureTopUp(ctx, "alice", order.OrderID)
	if err != nil {
		t.Fatalf("second capture: %v", err)
	}
	if !again.Replayed {
		t.Fatalf("expected replayed result, got %+v", again)
	}
	if got := balance(t, f.engine, "alice"); got != 1200 {
		t.Fatalf("expected a single credit of 1200, got %d", got)
	}
	if n := len(store.AllEntries("alice")); n != 1 {
		t.Fatalf("expected one entry, got %d", n)
	}
}

func TestCaptureResolvesAlreadyCapturedOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.NewMemoryStore())

	order, _ := f.service.CreateGuestTopUp(ctx, "bob", TopUpInput{Amount: decimal.NewFromInt(1), Currency: "USD"})
	if _, err := f.gateway.CaptureOrder(ctx, order.OrderID); err != nil {
		t.Fatalf("out-of-band capture: %v", err)
	}
	// The order is still reported as approved so the capture call is attempted.
	f.gateway.mu.Lock()
	o := f.gateway.orders[order.OrderID]
	o.Status = "APPROVED"
	f.gateway.orders[order.OrderID] = o
	f.gateway.mu.Unlock()

	res, err := f.service.CaptureGuestTopUp(ctx, order.OrderID)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if res.OwnerID != "bob" || balance(t, f.engine, "bob") != 600 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCaptureNotCompletedIsInternal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.NewMemoryStore())
	f.gateway.captureState = "PENDING"

	order, _ := f.service.CreateTopUp(ctx, "alice", TopUpInput{Amount: decimal.NewFromInt(3), Currency: "USD"})
	_, err := f.service.CaptureTopUp(ctx, "alice", order.OrderID)
	if !errors.Is(err, ErrCaptureNotCompleted) || apperr.KindOf(err) != apperr.Internal {
		t.Fatalf("expected capture not completed, got %v", err)
	}
	if got := balance(t, f.engine, "alice"); got != 0 {
		t.Fatalf("balance must be untouched, got %d", got)
	}
}

func TestCaptureGatewayFailureLeavesLedgerUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.NewMemoryStore())
	f.gateway.captureErr = apperr.New(apperr.Internal, "gateway down")

	order, _ := f.service.CreateTopUp(ctx, "alice", TopUpInput{Amount: decimal.NewFromInt(3), Currency: "USD"})
	if _, err := f.service.CaptureTopUp(ctx, "alice", order.OrderID); !apperr.Is(err, apperr.Internal) {
		t.Fatalf("expected internal, got %v", err)
	}
	if got := balance(t, f.engine, "alice"); got != 0 {
		t.Fatalf("balance must be untouched, got %d", got)
	}
}

func TestCaptureInProgressIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.NewMemoryStore())

	order, _ := f.service.CreateTopUp(ctx, "alice", TopUpInput{Amount: decimal.NewFromInt(3), Currency: "USD"})
	if err := f.redis.Set("guard:v1:capture:"+order.OrderID, "1"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	if _, err := f.service.CaptureTopUp(ctx, "alice", order.OrderID); !errors.Is(err, ErrCaptureInProgress) {
		t.Fatalf("expected capture in progress, got %v", err)
	}
}

func TestSettleRetriesStoreFailuresAfterCapture(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: ledger.NewMemoryStore()}
	f := newFixture(t, store)

	order, _ := f.service.CreateTopUp(ctx, "alice", TopUpInput{Amount: decimal.NewFromInt(1), Currency: "USD"})
	store.mu.Lock()
	store.failures = 2
	store.mu.Unlock()

	if _, err := f.service.CaptureTopUp(ctx, "alice", order.OrderID); err != nil {
		t.Fatalf("capture should survive transient store failures: %v", err)
	}
	if got := balance(t, f.engine, "alice"); got != 600 {
		t.Fatalf("expected 600, got %d", got)
	}
}

func TestSettleEscalatesWhenStoreStaysDown(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: ledger.NewMemoryStore()}
	f := newFixture(t, store)

	order, _ := f.service.CreateTopUp(ctx, "alice", TopUpInput{Amount: decimal.NewFromInt(1), Currency: "USD"})
	store.mu.Lock()
	store.failures = 100
	store.mu.Unlock()

	_, err := f.service.CaptureTopUp(ctx, "alice", order.OrderID)
	if !apperr.Is(err, apperr.Internal) {
		t.Fatalf("expected internal, got %v", err)
	}

	// The webhook for the same capture settles it once the store recovers.
	store.mu.Lock()
	store.failures = 0
	store.mu.Unlock()
	body := []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{
		"id":"CAP-` + order.OrderID + `","status":"COMPLETED","custom_id":"alice",
		"amount":{"currency_code":"USD","value":"1.00"},
		"supplementary_data":{"related_ids":{"order_id":"` + order.OrderID + `"}}}}`)
	res, err := f.service.HandleWebhook(ctx, paypal.WebhookHeaders{}, body)
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if !res.Handled || balance(t, f.engine, "alice") != 600 {
		t.Fatalf("expected webhook to reconcile the capture, got %+v", res)
	}
}

func TestWebhookCreditsOnceAcrossCaptureAndRedelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.NewMemoryStore())

	order, _ := f.service.CreateGuestTopUp(ctx, "carol", TopUpInput{Amount: decimal.NewFromInt(2), Currency: "EUR"})
	if _, err := f.service.CaptureGuestTopUp(ctx, order.OrderID); err != nil {
		t.Fatalf("capture: %v", err)
	}

	body := []byte(`{"id":"WH-9","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{
		"id":"CAP-` + order.OrderID + `","status":"COMPLETED",
		"amount":{"currency_code":"EUR","value":"2.00"},
		"supplementary_data":{"related_ids":{"order_id":"` + order.OrderID + `"}}}}`)
	first, err := f.service.HandleWebhook(ctx, paypal.WebhookHeaders{}, body)
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if first.Capture == nil || !first.Capture.Replayed {
		t.Fatalf("expected replayed credit, got %+v", first)
	}
	second, err := f.service.HandleWebhook(ctx, paypal.WebhookHeaders{}, body)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected duplicate delivery, got %+v", second)
	}
	if got := balance(t, f.engine, "carol"); got != 1312 {
		t.Fatalf("expected 1312, got %d", got)
	}
}

func TestGuestTopUpInUnsupportedCurrencyCreditsBase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.NewMemoryStore())
	f.gateway.supported = map[string]bool{"USD": true, "EUR": true}

	order, err := f.service.CreateGuestTopUp(ctx, "erin", TopUpInput{Amount: decimal.NewFromInt(50), Currency: "GHS"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if order.OrderCurrency != "USD" || !order.OrderAmount.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected a 5 USD order, got %s %s", order.OrderAmount, order.OrderCurrency)
	}
	if order.OriginalCurrency != "GHS" || !order.OriginalAmount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected original 50 GHS, got %s %s", order.OriginalAmount, order.OriginalCurrency)
	}

	res, err := f.service.CaptureGuestTopUp(ctx, order.OrderID)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if res.Currency != "XAF" || !res.Credited.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("expected 3000 XAF credited, got %s %s", res.Credited, res.Currency)
	}
	if got := balance(t, f.engine, "erin"); got != 3000 {
		t.Fatalf("expected balance 3000, got %d", got)
	}
}

func TestCaptureWithoutCaptureIDIsNotCredited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.NewMemoryStore())
	f.gateway.omitCaptureID = true

	order, err := f.service.CreateTopUp(ctx, "frank", TopUpInput{Amount: decimal.NewFromInt(10), Currency: "XAF"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 2; i++ {
		_, err := f.service.CaptureTopUp(ctx, "frank", order.OrderID)
		if !errors.Is(err, ErrCaptureWithoutID) {
			t.Fatalf("call %d: expected missing capture id error, got %v", i+1, err)
		}
		if apperr.KindOf(err) != apperr.Internal {
			t.Fatalf("call %d: expected Internal, got %s", i+1, apperr.KindOf(err))
		}
	}
	if got := balance(t, f.engine, "frank"); got != 0 {
		t.Fatalf("expected no credit, got %d", got)
	}
}

func TestWebhookRejectsUnverifiedDelivery(t *testing.T) {
	f := newFixture(t, ledger.NewMemoryStore())
	f.gateway.verified = false

	_, err := f.service.HandleWebhook(context.Background(), paypal.WebhookHeaders{}, []byte(`{"id":"x"}`))
	if !errors.Is(err, ErrWebhookUnverified) {
		t.Fatalf("expected unverified, got %v", err)
	}
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	f := newFixture(t, ledger.NewMemoryStore())

	res, err := f.service.HandleWebhook(context.Background(), paypal.WebhookHeaders{},
		[]byte(`{"id":"WH-2","event_type":"CHECKOUT.ORDER.APPROVED","resource":{}}`))
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if res.Handled {
		t.Fatalf("unexpected handling: %+v", res)
	}
}
