package tollgate_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/tollgate"
	"github.com/xraph/tollgate/gateway"
	"github.com/xraph/tollgate/id"
	"github.com/xraph/tollgate/payment"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/types"
)

func callback(externalID string) tollgate.Callback {
	return tollgate.Callback{
		Payload:  []byte(`{"PaymentId":"` + externalID + `"}`),
		RemoteIP: "198.51.100.10",
	}
}

func checkout(t *testing.T, h *harness, tenant string, code plan.Code) *tollgate.Checkout {
	t.Helper()
	co, err := h.t.Reconciler().StartCheckout(context.Background(), tenant, code, "203.0.113.7")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	return co
}

func TestStartCheckout(t *testing.T) {
	h := newHarness(t)
	co := checkout(t, h, "t1", plan.CodePAYG55)

	in := co.Intent
	if in.Status != payment.StatusRedirectRequired {
		t.Errorf("status = %s", in.Status)
	}
	if in.ExternalPaymentID != "pay-1" {
		t.Errorf("external id = %s", in.ExternalPaymentID)
	}
	if !in.Amount.Equal(types.Lari(20)) {
		t.Errorf("amount = %s", in.Amount)
	}
	if !strings.HasPrefix(co.ApprovalURL, "https://pay.example/approve/pay-1") {
		t.Errorf("approval url = %s", co.ApprovalURL)
	}

	stored, err := h.t.Payments().Get(context.Background(), "t1", in.ID.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != payment.StatusRedirectRequired || stored.ApprovalURL != co.ApprovalURL {
		t.Errorf("stored = %+v", stored)
	}
	if _, err := h.t.Payments().Get(context.Background(), "t2", in.ID.String()); !errors.Is(err, tollgate.ErrPaymentNotFound) {
		t.Errorf("other tenant: got %v", err)
	}
}

func TestStartCheckoutUnknownPlan(t *testing.T) {
	h := newHarness(t)
	_, err := h.t.Reconciler().StartCheckout(context.Background(), "t1", plan.Code("GOLD"), "")
	if !errors.Is(err, tollgate.ErrUnknownPlan) {
		t.Errorf("got %v", err)
	}
}

func TestStartCheckoutGatewayFailureLeavesIntentCreated(t *testing.T) {
	h := newHarness(t)
	h.gateway.createErr = errors.New("connection refused")

	_, err := h.t.Reconciler().StartCheckout(context.Background(), "t1", plan.CodePAYG55, "")
	if !errors.Is(err, tollgate.ErrGatewayUnavailable) {
		t.Fatalf("got %v, want ErrGatewayUnavailable", err)
	}
	if !tollgate.IsRetryable(err) {
		t.Error("gateway unavailability should be retryable")
	}

	h.gateway.createErr = gateway.ErrBadResponse
	_, err = h.t.Reconciler().StartCheckout(context.Background(), "t1", plan.CodePAYG55, "")
	if !errors.Is(err, tollgate.ErrGatewayBadResponse) {
		t.Fatalf("got %v, want ErrGatewayBadResponse", err)
	}

	pending, err := h.store.ListPendingIntents(context.Background(), epoch.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("intents without external id must not be swept, got %d", len(pending))
	}
}

func TestCallbackIdempotency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	co := checkout(t, h, "t1", plan.CodePAYG55)
	h.gateway.set("pay-1", "Succeeded")

	for i := range 3 {
		ack := h.t.Reconciler().HandleCallback(ctx, callback("pay-1"))
		if !ack.OK || !ack.Matched || ack.Status != payment.StatusSucceeded {
			t.Fatalf("delivery %d: ack = %+v", i+1, ack)
		}
	}

	if n := h.counter.n.Load(); n != 1 {
		t.Errorf("activations = %d, want 1", n)
	}
	in, _ := h.store.GetIntent(ctx, co.Intent.ID.String())
	if in.Status != payment.StatusSucceeded || in.ActivatedAt == nil {
		t.Errorf("intent = %+v", in)
	}
	sub, err := h.t.Quota().GetActiveSubscription(ctx, "t1")
	if err != nil {
		t.Fatalf("subscription: %v", err)
	}
	if sub.PlanCode != plan.CodePAYG55 {
		t.Errorf("plan = %s", sub.PlanCode)
	}
}

func TestConcurrentCallbacksActivateOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	checkout(t, h, "t1", plan.CodeProUnlimited)
	h.gateway.set("pay-1", "Succeeded")

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ack := h.t.Reconciler().HandleCallback(ctx, callback("pay-1"))
			if !ack.OK || !ack.Matched {
				t.Errorf("ack = %+v", ack)
			}
		}()
	}
	wg.Wait()

	if n := h.counter.n.Load(); n != 1 {
		t.Errorf("activations = %d, want 1", n)
	}
}

func TestCallbackOutOfOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	co := checkout(t, h, "t1", plan.CodePAYG55)

	h.gateway.set("pay-1", "WaitingConfirm")
	if ack := h.t.Reconciler().HandleCallback(ctx, callback("pay-1")); ack.Status != payment.StatusWaitingConfirm {
		t.Fatalf("ack = %+v", ack)
	}

	h.gateway.set("pay-1", "Failed")
	if ack := h.t.Reconciler().HandleCallback(ctx, callback("pay-1")); ack.Status != payment.StatusFailed {
		t.Fatalf("ack = %+v", ack)
	}

	// A late success cannot leave the terminal state, and the gateway is
	// not asked again.
	before := h.gateway.queries.Load()
	h.gateway.set("pay-1", "Succeeded")
	ack := h.t.Reconciler().HandleCallback(ctx, callback("pay-1"))
	if ack.Status != payment.StatusFailed {
		t.Errorf("ack = %+v", ack)
	}
	if h.gateway.queries.Load() != before {
		t.Error("terminal intents must not query the gateway")
	}
	if h.counter.n.Load() != 0 {
		t.Error("failed payment activated a subscription")
	}

	in, _ := h.store.GetIntent(ctx, co.Intent.ID.String())
	if string(in.LastCallbackPayload) != `{"PaymentId":"pay-1"}` {
		t.Errorf("payload = %s", in.LastCallbackPayload)
	}
}

func TestCallbackBackwardStatusIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	checkout(t, h, "t1", plan.CodePAYG55)

	h.gateway.set("pay-1", "Waiting For Confirmation")
	h.t.Reconciler().HandleCallback(ctx, callback("pay-1"))

	h.gateway.set("pay-1", "Processing")
	ack := h.t.Reconciler().HandleCallback(ctx, callback("pay-1"))
	if ack.Status != payment.StatusWaitingConfirm {
		t.Errorf("ack = %+v", ack)
	}
}

func TestUnmatchedCallbackSafety(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	co := checkout(t, h, "t1", plan.CodePAYG55)
	h.gateway.set("pay-1", "Succeeded")

	tests := []struct {
		name    string
		payload string
	}{
		{"unknown id", `{"PaymentId":"pay-404"}`},
		{"missing id", `{"Status":"Succeeded"}`},
		{"empty id", `{"PaymentId":"  "}`},
		{"not json", `PaymentId=pay-1`},
		{"empty body", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := h.t.Reconciler().HandleCallback(ctx, tollgate.Callback{Payload: []byte(tt.payload)})
			if !ack.OK || ack.Matched || ack.Ignored {
				t.Errorf("ack = %+v", ack)
			}
		})
	}

	in, _ := h.store.GetIntent(ctx, co.Intent.ID.String())
	if in.Status != payment.StatusRedirectRequired {
		t.Errorf("status = %s", in.Status)
	}
	if h.counter.n.Load() != 0 {
		t.Error("unmatched callbacks activated a subscription")
	}
}

func TestCallbackEmbeddedStatusIsNotTrusted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	checkout(t, h, "t1", plan.CodePAYG55)

	ack := h.t.Reconciler().HandleCallback(ctx, tollgate.Callback{
		Payload: []byte(`{"PaymentId":"pay-1","Status":"Succeeded"}`),
	})
	if ack.Status != payment.StatusRedirectRequired {
		t.Errorf("ack = %+v", ack)
	}
	if h.counter.n.Load() != 0 {
		t.Error("callback body status was trusted")
	}
}

func TestCallbackIPAllowList(t *testing.T) {
	h := newHarness(t, tollgate.WithCallbackAllowedIPs("198.51.100.10", "192.0.2.0/24"))
	ctx := context.Background()
	checkout(t, h, "t1", plan.CodePAYG55)
	h.gateway.set("pay-1", "Succeeded")

	ack := h.t.Reconciler().HandleCallback(ctx, tollgate.Callback{
		Payload:  []byte(`{"PaymentId":"pay-1"}`),
		RemoteIP: "203.0.113.99",
	})
	if !ack.OK || ack.Matched || !ack.Ignored || ack.Reason != tollgate.ReasonIPNotAllowed {
		t.Fatalf("ack = %+v", ack)
	}
	if h.counter.n.Load() != 0 {
		t.Fatal("ignored callback activated a subscription")
	}

	// Missing PaymentId wins over the IP check.
	ack = h.t.Reconciler().HandleCallback(ctx, tollgate.Callback{Payload: []byte(`{}`), RemoteIP: "203.0.113.99"})
	if ack.Ignored {
		t.Errorf("ack = %+v", ack)
	}

	ack = h.t.Reconciler().HandleCallback(ctx, tollgate.Callback{
		Payload:  []byte(`{"PaymentId":"pay-1"}`),
		RemoteIP: "192.0.2.44:51234",
	})
	if !ack.Matched || ack.Status != payment.StatusSucceeded {
		t.Errorf("ack = %+v", ack)
	}
}

func TestUnknownGatewayStatusFlagsForReview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	co := checkout(t, h, "t1", plan.CodePAYG55)
	h.gateway.set("pay-1", "PartiallyRefunded")

	ack := h.t.Reconciler().HandleCallback(ctx, callback("pay-1"))
	if !ack.Matched || ack.Status != payment.StatusRedirectRequired {
		t.Errorf("ack = %+v", ack)
	}

	in, _ := h.store.GetIntent(ctx, co.Intent.ID.String())
	if in.Status != payment.StatusRedirectRequired {
		t.Errorf("status = %s", in.Status)
	}
	if in.GatewayStatus != "PartiallyRefunded" || in.ReviewReason == "" {
		t.Errorf("intent = %+v", in)
	}
}

func TestGatewayOutageAcknowledgesWithoutChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	co := checkout(t, h, "t1", plan.CodePAYG55)
	h.gateway.statusErr = context.DeadlineExceeded

	ack := h.t.Reconciler().HandleCallback(ctx, callback("pay-1"))
	if !ack.OK || !ack.Matched || ack.Status != payment.StatusRedirectRequired {
		t.Errorf("ack = %+v", ack)
	}

	_, err := h.t.Payments().ReconcileByExternalID(ctx, "pay-1", nil)
	if !errors.Is(err, tollgate.ErrGatewayUnavailable) {
		t.Errorf("got %v, want ErrGatewayUnavailable", err)
	}

	in, _ := h.store.GetIntent(ctx, co.Intent.ID.String())
	if in.Status != payment.StatusRedirectRequired {
		t.Errorf("status = %s", in.Status)
	}
}

func TestSweepRecoversLostCallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	checkout(t, h, "t1", plan.CodePAYG55)
	h.gateway.set("pay-1", "Succeeded")

	// Too fresh to sweep.
	report, err := h.t.Reconciler().Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Checked != 0 {
		t.Errorf("checked = %d, want 0", report.Checked)
	}

	h.clock.Advance(10 * time.Minute)
	report, err = h.t.Reconciler().Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Transitioned != 1 || report.Activated != 1 {
		t.Errorf("report = %+v", report)
	}

	// A late callback after the sweep changes nothing.
	ack := h.t.Reconciler().HandleCallback(ctx, callback("pay-1"))
	if ack.Status != payment.StatusSucceeded {
		t.Errorf("ack = %+v", ack)
	}
	if n := h.counter.n.Load(); n != 1 {
		t.Errorf("activations = %d, want 1", n)
	}
}

func TestSweepRetriesUnclaimedActivation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := &payment.Intent{
		Entity:            types.NewEntity(epoch),
		ID:                id.NewPaymentIntentID(),
		TenantID:          "t9",
		PlanCode:          plan.CodeBasicNoClients,
		Amount:            types.Lari(100),
		Status:            payment.StatusSucceeded,
		ExternalPaymentID: "pay-77",
	}
	if err := h.store.CreateIntent(ctx, in); err != nil {
		t.Fatalf("create: %v", err)
	}

	h.clock.Advance(time.Hour)
	report, err := h.t.Reconciler().Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Activated != 1 {
		t.Errorf("report = %+v", report)
	}
	if _, err := h.t.Quota().GetActiveSubscription(ctx, "t9"); err != nil {
		t.Errorf("subscription: %v", err)
	}

	report, _ = h.t.Reconciler().Sweep(ctx)
	if report.Activated != 0 || h.counter.n.Load() != 1 {
		t.Errorf("second sweep activated again: %+v", report)
	}
}

func TestMockActivate(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t)
	if _, err := h.t.Reconciler().MockActivate(ctx, "t1", plan.CodePAYG55); !errors.Is(err, tollgate.ErrMockBillingDisabled) {
		t.Errorf("got %v, want ErrMockBillingDisabled", err)
	}

	h = newHarness(t, tollgate.WithMockBilling(true))
	sub, err := h.t.Reconciler().MockActivate(ctx, "t1", plan.CodePAYG55)
	if err != nil {
		t.Fatalf("mock activate: %v", err)
	}
	if sub.PlanCode != plan.CodePAYG55 {
		t.Errorf("plan = %s", sub.PlanCode)
	}
}
