package tollgate_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/tollgate"
	"github.com/xraph/tollgate/gateway"
	"github.com/xraph/tollgate/store/memory"
	"github.com/xraph/tollgate/subscription"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: epoch} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeGateway hands out sequential payment ids and reports whatever status
// the test set for them.
type fakeGateway struct {
	mu        sync.Mutex
	next      int
	statuses  map[string]string
	createErr error
	statusErr error
	queries   atomic.Int32
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: make(map[string]string)}
}

func (g *fakeGateway) CreatePayment(_ context.Context, req gateway.CreatePaymentRequest) (*gateway.CreatePaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.next++
	ext := fmt.Sprintf("pay-%d", g.next)
	g.statuses[ext] = "Created"
	return &gateway.CreatePaymentResult{
		ExternalID:  ext,
		Status:      "Created",
		ApprovalURL: "https://pay.example/approve/" + ext + "?m=" + req.MerchantPaymentID,
	}, nil
}

func (g *fakeGateway) GetPaymentStatus(_ context.Context, externalID string) (*gateway.PaymentStatus, error) {
	g.queries.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	st, ok := g.statuses[externalID]
	if !ok {
		return nil, gateway.ErrBadResponse
	}
	return &gateway.PaymentStatus{
		ExternalID: externalID,
		Status:     st,
		Raw:        []byte(`{"payId":"` + externalID + `","status":"` + st + `"}`),
	}, nil
}

func (g *fakeGateway) set(externalID, status string) {
	g.mu.Lock()
	g.statuses[externalID] = status
	g.mu.Unlock()
}

// activationCounter counts OnSubscriptionActivated events.
type activationCounter struct {
	n atomic.Int32
}

func (a *activationCounter) Name() string { return "activation-counter" }

func (a *activationCounter) OnSubscriptionActivated(context.Context, *subscription.Subscription) error {
	a.n.Add(1)
	return nil
}

type harness struct {
	t       *tollgate.Tollgate
	store   *memory.Store
	clock   *clock
	gateway *fakeGateway
	counter *activationCounter
}

func newHarness(tb testing.TB, opts ...tollgate.Option) *harness {
	tb.Helper()
	h := &harness{
		store:   memory.New(),
		clock:   newClock(),
		gateway: newFakeGateway(),
		counter: &activationCounter{},
	}
	base := []tollgate.Option{
		tollgate.WithClock(h.clock.Now),
		tollgate.WithGateway(h.gateway),
		tollgate.WithURLs("https://app.example.ge", "https://api.example.ge", ""),
		tollgate.WithPlugin(h.counter),
		tollgate.WithSweep("", 0, 0),
	}
	h.t = tollgate.New(h.store, append(base, opts...)...)
	if err := h.t.Start(context.Background()); err != nil {
		tb.Fatalf("start: %v", err)
	}
	tb.Cleanup(func() { _ = h.t.Stop() })
	return h
}
