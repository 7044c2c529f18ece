package plugin_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/tollgate/payment"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/plugin"
)

type recorder struct {
	name      string
	reserved  atomic.Int32
	reviewed  atomic.Int32
	failNext  bool
	blockTime time.Duration
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnQuotaReserved(context.Context, string, plan.Resource, string, int64) error {
	r.reserved.Add(1)
	if r.failNext {
		return errors.New("boom")
	}
	return nil
}

func (r *recorder) OnPaymentNeedsReview(context.Context, *payment.Intent, string) error {
	if r.blockTime > 0 {
		time.Sleep(r.blockTime)
	}
	r.reviewed.Add(1)
	return nil
}

type nameOnly struct{ name string }

func (n nameOnly) Name() string { return n.name }

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := plugin.NewRegistry()
	if err := reg.Register(&recorder{name: "a"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(nameOnly{name: "a"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if reg.Count() != 1 {
		t.Errorf("count = %d, want 1", reg.Count())
	}
	if reg.Get("a") == nil || reg.Get("missing") != nil {
		t.Error("Get returned unexpected result")
	}
}

func TestEmitDispatchesToImplementers(t *testing.T) {
	reg := plugin.NewRegistry()
	rec := &recorder{name: "rec"}
	_ = reg.Register(rec)
	_ = reg.Register(nameOnly{name: "noop"})

	ctx := context.Background()
	reg.EmitQuotaReserved(ctx, "t1", plan.ResourceInvoice, "subscription", 1)
	reg.EmitQuotaReserved(ctx, "t1", plan.ResourceAct, "free_trial", -1)
	reg.EmitPaymentNeedsReview(ctx, &payment.Intent{}, "Refunded")

	if got := rec.reserved.Load(); got != 2 {
		t.Errorf("reserved = %d, want 2", got)
	}
	if got := rec.reviewed.Load(); got != 1 {
		t.Errorf("reviewed = %d, want 1", got)
	}
}

func TestEmitSwallowsErrors(t *testing.T) {
	reg := plugin.NewRegistry()
	first := &recorder{name: "first", failNext: true}
	second := &recorder{name: "second"}
	_ = reg.Register(first)
	_ = reg.Register(second)

	reg.EmitQuotaReserved(context.Background(), "t1", plan.ResourceInvoice, "subscription", 1)

	if second.reserved.Load() != 1 {
		t.Error("a failing plugin must not stop dispatch to the next one")
	}
}

func TestEmitTimesOutSlowPlugin(t *testing.T) {
	reg := plugin.NewRegistry().WithTimeout(20 * time.Millisecond)
	slow := &recorder{name: "slow", blockTime: 200 * time.Millisecond}
	_ = reg.Register(slow)

	start := time.Now()
	reg.EmitPaymentNeedsReview(context.Background(), &payment.Intent{}, "X")
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("emit blocked for %v", elapsed)
	}
}
