package tollgate_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/tollgate"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/subscription"
)

func TestReserveNeverExceedsQuota(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.t.Quota().Activate(ctx, "t1", plan.CodePAYG55); err != nil {
		t.Fatalf("activate: %v", err)
	}

	const workers = 40
	var ok, exhausted atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.t.Quota().Reserve(ctx, "t1", plan.ResourceInvoice, "")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, tollgate.ErrQuotaExhausted):
				exhausted.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 5 {
		t.Errorf("successful reservations = %d, want 5", ok.Load())
	}
	if exhausted.Load() != workers-5 {
		t.Errorf("exhausted = %d, want %d", exhausted.Load(), workers-5)
	}

	sum, err := h.t.Quota().Summary(ctx, "t1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Subscription.InvoicesUsed != 5 {
		t.Errorf("invoices used = %d, want 5", sum.Subscription.InvoicesUsed)
	}
	if sum.RemainingInvoices == nil || *sum.RemainingInvoices != 0 {
		t.Errorf("remaining invoices = %v, want 0", sum.RemainingInvoices)
	}
}

func TestPAYGScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.t.Quota()

	if _, err := q.Activate(ctx, "t1", plan.CodePAYG55); err != nil {
		t.Fatalf("activate: %v", err)
	}

	for i := 1; i <= 5; i++ {
		res, err := q.Reserve(ctx, "t1", plan.ResourceInvoice, "")
		if err != nil {
			t.Fatalf("invoice %d: %v", i, err)
		}
		if res.Mode != tollgate.ModeSubscription || res.Used != int64(i) {
			t.Errorf("invoice %d: got mode %s used %d", i, res.Mode, res.Used)
		}
	}
	if _, err := q.Reserve(ctx, "t1", plan.ResourceInvoice, ""); !errors.Is(err, tollgate.ErrQuotaExhausted) {
		t.Fatalf("6th invoice: got %v, want ErrQuotaExhausted", err)
	}
	if !tollgate.IsQuotaError(tollgate.ErrQuotaExhausted) {
		t.Error("ErrQuotaExhausted should be a quota error")
	}

	for i := 1; i <= 5; i++ {
		if _, err := q.Reserve(ctx, "t1", plan.ResourceAct, ""); err != nil {
			t.Fatalf("act %d: %v", i, err)
		}
	}
	if _, err := q.Reserve(ctx, "t1", plan.ResourceAct, ""); !errors.Is(err, tollgate.ErrQuotaExhausted) {
		t.Fatalf("6th act: got %v, want ErrQuotaExhausted", err)
	}

	// Reactivating starts a fresh period with zeroed counters.
	if _, err := q.Activate(ctx, "t1", plan.CodePAYG55); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if _, err := q.Reserve(ctx, "t1", plan.ResourceInvoice, ""); err != nil {
		t.Fatalf("reserve after reactivation: %v", err)
	}
}

func TestUnlimitedPlanDoesNotCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.t.Quota().Activate(ctx, "t1", plan.CodeProUnlimited); err != nil {
		t.Fatalf("activate: %v", err)
	}
	for range 20 {
		res, err := h.t.Quota().Reserve(ctx, "t1", plan.ResourceAct, "")
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if res.Used != tollgate.Unlimited {
			t.Errorf("used = %d, want Unlimited", res.Used)
		}
	}
	sub, _ := h.t.Quota().GetActiveSubscription(ctx, "t1")
	if sub.ActsUsed != 0 {
		t.Errorf("acts used = %d, want 0", sub.ActsUsed)
	}
}

func TestFreeTrialSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.t.Quota()

	const workers = 25
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Reserve(ctx, "t1", plan.ResourceInvoice, "203.0.113.7")
			if err == nil {
				wins.Add(1)
				return
			}
			if !errors.Is(err, tollgate.ErrFreeTrialExhausted) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("free-trial wins = %d, want 1", wins.Load())
	}

	// The act slot is independent of the invoice slot.
	res, err := q.Reserve(ctx, "t1", plan.ResourceAct, "203.0.113.7")
	if err != nil {
		t.Fatalf("act slot: %v", err)
	}
	if res.Mode != tollgate.ModeFreeTrial {
		t.Errorf("mode = %s, want free_trial", res.Mode)
	}
	if _, err := q.Reserve(ctx, "t1", plan.ResourceAct, "203.0.113.7"); !errors.Is(err, tollgate.ErrFreeTrialExhausted) {
		t.Errorf("second act: got %v", err)
	}

	// A different key has its own slots, whatever tenant it arrives with.
	if _, err := q.Reserve(ctx, "t2", plan.ResourceInvoice, "198.51.100.1"); err != nil {
		t.Errorf("other key: %v", err)
	}

	st, err := q.FreeTrialStatus(ctx, "203.0.113.7")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.InvoiceAvailable || st.ActAvailable {
		t.Errorf("status = %+v, want both used", st)
	}
	st, err = q.FreeTrialStatus(ctx, "192.0.2.50")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.InvoiceAvailable || !st.ActAvailable {
		t.Errorf("status = %+v, want both available", st)
	}
}

func TestAnonymousCaller(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.t.Quota()

	if _, err := q.Reserve(ctx, "", plan.ResourceInvoice, ""); !errors.Is(err, tollgate.ErrCallerKeyRequired) {
		t.Fatalf("got %v, want ErrCallerKeyRequired", err)
	}
	if _, err := q.Reserve(ctx, "", plan.ResourceInvoice, "10.0.0.1"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := q.Reserve(ctx, "", plan.ResourceInvoice, "10.0.0.1"); !errors.Is(err, tollgate.ErrFreeTrialExhausted) {
		t.Fatalf("second: got %v, want ErrFreeTrialExhausted", err)
	}
	if _, err := q.FreeTrialStatus(ctx, ""); !errors.Is(err, tollgate.ErrCallerKeyRequired) {
		t.Errorf("status without key: got %v", err)
	}
}

func TestReserveRejectsUnknownResource(t *testing.T) {
	h := newHarness(t)
	_, err := h.t.Quota().Reserve(context.Background(), "t1", plan.Resource("receipt"), "k")
	if !errors.Is(err, tollgate.ErrUnknownResource) || !tollgate.IsValidation(err) {
		t.Errorf("got %v", err)
	}
}

func TestActivateIsIdempotentUpsert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.t.Quota()

	first, err := q.Activate(ctx, "t1", plan.CodePAYG55)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := q.Reserve(ctx, "t1", plan.ResourceInvoice, ""); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	h.clock.Advance(time.Hour)
	second, err := q.Activate(ctx, "t1", plan.CodeProUnlimited)
	if err != nil {
		t.Fatalf("activate again: %v", err)
	}

	if second.ID.String() != first.ID.String() {
		t.Errorf("id changed: %s -> %s", first.ID, second.ID)
	}
	if second.PlanCode != plan.CodeProUnlimited {
		t.Errorf("plan = %s", second.PlanCode)
	}
	if second.InvoicesUsed != 0 || second.ActsUsed != 0 {
		t.Errorf("counters not reset: %+v", second)
	}
	if !second.ValidFrom.Equal(epoch.Add(time.Hour)) {
		t.Errorf("valid_from = %v", second.ValidFrom)
	}
	if want := epoch.Add(time.Hour + 30*24*time.Hour); !second.ValidTo.Equal(want) {
		t.Errorf("valid_to = %v, want %v", second.ValidTo, want)
	}

	if _, err := q.Activate(ctx, "t1", plan.Code("GOLD")); !errors.Is(err, tollgate.ErrUnknownPlan) {
		t.Errorf("unknown plan: got %v", err)
	}
}

func TestActivateForOverridesDuration(t *testing.T) {
	h := newHarness(t)
	sub, err := h.t.Quota().ActivateFor(context.Background(), "t1", plan.CodeBasicNoClients, 7)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if want := epoch.Add(7 * 24 * time.Hour); !sub.ValidTo.Equal(want) {
		t.Errorf("valid_to = %v, want %v", sub.ValidTo, want)
	}
}

func TestExpiredSubscriptionFallsBackToFreeTrial(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.t.Quota()

	if _, err := q.Activate(ctx, "t1", plan.CodePAYG55); err != nil {
		t.Fatalf("activate: %v", err)
	}
	h.clock.Advance(31 * 24 * time.Hour)

	if _, err := q.GetActiveSubscription(ctx, "t1"); !errors.Is(err, tollgate.ErrNoActiveSubscription) {
		t.Fatalf("got %v, want ErrNoActiveSubscription", err)
	}
	res, err := q.Reserve(ctx, "t1", plan.ResourceInvoice, "10.1.1.1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Mode != tollgate.ModeFreeTrial {
		t.Errorf("mode = %s, want free_trial", res.Mode)
	}
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.t.Quota()

	if err := q.Cancel(ctx, "nobody"); err != nil {
		t.Fatalf("cancel without subscription: %v", err)
	}

	if _, err := q.Activate(ctx, "t1", plan.CodeProUnlimited); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := q.Cancel(ctx, "t1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := q.GetActiveSubscription(ctx, "t1"); !errors.Is(err, tollgate.ErrNoActiveSubscription) {
		t.Errorf("got %v, want ErrNoActiveSubscription", err)
	}
	sub, err := h.store.GetSubscription(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sub.Status != subscription.StatusCanceled || !sub.ValidTo.Equal(epoch) {
		t.Errorf("got status %s valid_to %v", sub.Status, sub.ValidTo)
	}
}

func TestExtend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.t.Quota()

	if _, err := q.Extend(ctx, "t1", 0); !errors.Is(err, tollgate.ErrInvalidDays) {
		t.Errorf("zero days: got %v", err)
	}
	if _, err := q.Extend(ctx, "t1", 5); !errors.Is(err, tollgate.ErrSubscriptionNotFound) {
		t.Errorf("missing: got %v", err)
	}

	if _, err := q.Activate(ctx, "t1", plan.CodePAYG55); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := q.Reserve(ctx, "t1", plan.ResourceInvoice, ""); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	sub, err := q.Extend(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if want := epoch.Add(40 * 24 * time.Hour); !sub.ValidTo.Equal(want) {
		t.Errorf("valid_to = %v, want %v", sub.ValidTo, want)
	}
	if sub.InvoicesUsed != 1 {
		t.Errorf("counters must survive extend, got %d", sub.InvoicesUsed)
	}

	// Extending a canceled subscription counts from now and reactivates it.
	if err := q.Cancel(ctx, "t1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	h.clock.Advance(24 * time.Hour)
	sub, err = q.Extend(ctx, "t1", 3)
	if err != nil {
		t.Fatalf("extend canceled: %v", err)
	}
	if sub.Status != subscription.StatusActive {
		t.Errorf("status = %s", sub.Status)
	}
	if want := epoch.Add(4 * 24 * time.Hour); !sub.ValidTo.Equal(want) {
		t.Errorf("valid_to = %v, want %v", sub.ValidTo, want)
	}
}

func TestConcurrentExtendsAllApply(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.t.Quota()

	if _, err := q.Activate(ctx, "t1", plan.CodeBasicNoClients); err != nil {
		t.Fatalf("activate: %v", err)
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := q.Extend(ctx, "t1", 1); err != nil {
				t.Errorf("extend: %v", err)
			}
		}()
	}
	wg.Wait()

	sub, _ := q.GetActiveSubscription(ctx, "t1")
	if want := epoch.Add(34 * 24 * time.Hour); !sub.ValidTo.Equal(want) {
		t.Errorf("valid_to = %v, want %v", sub.ValidTo, want)
	}
}

func TestAssertClientModuleAllowed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.t.Quota()

	if err := q.AssertClientModuleAllowed(ctx, "t1"); !errors.Is(err, tollgate.ErrSubscriptionRequired) {
		t.Errorf("no subscription: got %v", err)
	}

	if _, err := q.Activate(ctx, "t1", plan.CodeBasicNoClients); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := q.AssertClientModuleAllowed(ctx, "t1"); !errors.Is(err, tollgate.ErrPlanForbidsClients) {
		t.Errorf("basic: got %v", err)
	}

	if _, err := q.Activate(ctx, "t1", plan.CodePAYG55); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := q.AssertClientModuleAllowed(ctx, "t1"); err != nil {
		t.Errorf("payg: got %v", err)
	}
}

func TestSummaryWithoutSubscription(t *testing.T) {
	h := newHarness(t)
	sum, err := h.t.Quota().Summary(context.Background(), "t1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Active || sum.Subscription != nil {
		t.Errorf("unexpected active summary: %+v", sum)
	}
	if len(sum.Plans) != 3 {
		t.Errorf("plans = %d, want 3", len(sum.Plans))
	}
}
