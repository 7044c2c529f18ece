package tollgate_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/xraph/tollgate"
	"github.com/xraph/tollgate/document"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/store/memory"
)

func newDoc(tenant string, kind plan.Resource) *document.Document {
	return &document.Document{
		TenantID:          tenant,
		Kind:              kind,
		RegistrationID:    "405123456",
		CounterpartyTaxID: "01024012345",
	}
}

func TestSequencerNumbersConcurrentCreatorsWithoutGaps(t *testing.T) {
	const creators = 30
	h := newHarness(t, tollgate.WithNumbering(creators, nil))
	ctx := context.Background()

	var wg sync.WaitGroup
	numbers := make([]string, creators)
	for i := range creators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := newDoc("t1", plan.ResourceInvoice)
			if err := h.t.Sequencer().Create(ctx, d); err != nil {
				t.Errorf("create: %v", err)
				return
			}
			numbers[i] = d.Number
		}()
	}
	wg.Wait()

	sort.Strings(numbers)
	want := make([]string, creators)
	for i := range creators {
		want[i] = fmt.Sprintf("405123456-01024012345-%d", i+1)
	}
	sort.Strings(want)
	for i := range want {
		if numbers[i] != want[i] {
			t.Fatalf("numbers = %v\nwant %v", numbers, want)
		}
	}
}

func TestSequencerSeparatesKindsAndTenants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seq := h.t.Sequencer()

	inv := newDoc("t1", plan.ResourceInvoice)
	act := newDoc("t1", plan.ResourceAct)
	other := newDoc("t2", plan.ResourceInvoice)
	for _, d := range []*document.Document{inv, act, other} {
		if err := seq.Create(ctx, d); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	if inv.Number != "405123456-01024012345-1" {
		t.Errorf("invoice = %s", inv.Number)
	}
	if act.Number != "405123456-01024012345-ACT-1" {
		t.Errorf("act = %s", act.Number)
	}
	if other.Number != "405123456-01024012345-1" {
		t.Errorf("other tenant = %s", other.Number)
	}

	second := newDoc("t1", plan.ResourceInvoice)
	second.CounterpartyTaxID = "999"
	if err := seq.Create(ctx, second); err != nil {
		t.Fatalf("create: %v", err)
	}
	if second.Number != "405123456-999-1" {
		t.Errorf("new counterparty = %s", second.Number)
	}

	got, err := seq.Get(ctx, "t1", act.ID.String())
	if err != nil || got.Number != act.Number {
		t.Errorf("get: %v %v", got, err)
	}
	if _, err := seq.Get(ctx, "t2", act.ID.String()); !errors.Is(err, tollgate.ErrDocumentNotFound) {
		t.Errorf("cross-tenant get: %v", err)
	}

	list, err := seq.List(ctx, "t1", document.ListOpts{Kind: plan.ResourceInvoice})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("list = %d, want 2", len(list))
	}
}

func TestSequencerCountsOnlyItsOwnSeries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seq := h.t.Sequencer()

	// Counterparty "X-1" issues numbers that start with counterparty X's prefix.
	for range 2 {
		d := newDoc("t1", plan.ResourceInvoice)
		d.RegistrationID, d.CounterpartyTaxID = "R", "X-1"
		if err := seq.Create(ctx, d); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	lower := newDoc("t1", plan.ResourceInvoice)
	lower.RegistrationID, lower.CounterpartyTaxID = "R", "x"
	if err := seq.Create(ctx, lower); err != nil {
		t.Fatalf("create: %v", err)
	}

	d := newDoc("t1", plan.ResourceInvoice)
	d.RegistrationID, d.CounterpartyTaxID = "R", "X"
	if err := seq.Create(ctx, d); err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.Number != "R-X-1" {
		t.Errorf("number = %s, want R-X-1", d.Number)
	}
	if lower.Number != "R-x-1" {
		t.Errorf("lower-case counterparty = %s, want R-x-1", lower.Number)
	}
}

func TestSequencerRejectsMissingParts(t *testing.T) {
	h := newHarness(t)
	d := newDoc("t1", plan.ResourceInvoice)
	d.RegistrationID = ""
	if err := h.t.Sequencer().Create(context.Background(), d); !errors.Is(err, tollgate.ErrInvalidInput) {
		t.Errorf("got %v, want ErrInvalidInput", err)
	}
}

// takenStore reports every number as taken.
type takenStore struct {
	document.Store
	attempts int
}

func (s *takenStore) CountDocuments(context.Context, document.CountQuery) (int64, error) {
	return 0, nil
}

func (s *takenStore) CreateDocument(context.Context, *document.Document) error {
	s.attempts++
	return tollgate.ErrDocumentNumberTaken
}

func TestSequencerGivesUpAfterMaxAttempts(t *testing.T) {
	ts := &takenStore{}
	seq := tollgate.NewSequencer(ts)
	seq.MaxAttempts = 3
	seq.Backoff = func(int) time.Duration { return time.Millisecond }

	err := seq.Create(context.Background(), newDoc("t1", plan.ResourceInvoice))
	if !errors.Is(err, tollgate.ErrNumberGenerationFailed) {
		t.Fatalf("got %v, want ErrNumberGenerationFailed", err)
	}
	if ts.attempts != 3 {
		t.Errorf("attempts = %d, want 3", ts.attempts)
	}
	if !tollgate.IsRetryable(err) {
		t.Error("numbering failure should be retryable")
	}
}

func TestIssueDocumentReservesThenNumbers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.t.Quota().Activate(ctx, "t1", plan.CodePAYG55); err != nil {
		t.Fatalf("activate: %v", err)
	}
	for i := 1; i <= 5; i++ {
		d := newDoc("t1", plan.ResourceAct)
		res, err := h.t.IssueDocument(ctx, d, "")
		if err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
		if res.Used != int64(i) {
			t.Errorf("used = %d, want %d", res.Used, i)
		}
		if want := fmt.Sprintf("405123456-01024012345-ACT-%d", i); d.Number != want {
			t.Errorf("number = %s, want %s", d.Number, want)
		}
	}
	if _, err := h.t.IssueDocument(ctx, newDoc("t1", plan.ResourceAct), ""); !errors.Is(err, tollgate.ErrQuotaExhausted) {
		t.Errorf("6th act: got %v", err)
	}

	// Invalid input is rejected before any quota is spent.
	bad := newDoc("t1", plan.ResourceInvoice)
	bad.CounterpartyTaxID = " "
	if _, err := h.t.IssueDocument(ctx, bad, ""); !errors.Is(err, tollgate.ErrInvalidInput) {
		t.Errorf("bad input: got %v", err)
	}
	sub, _ := h.t.Quota().GetActiveSubscription(ctx, "t1")
	if sub.InvoicesUsed != 0 {
		t.Errorf("invoices used = %d, want 0", sub.InvoicesUsed)
	}
}

// brokenDocStore fails every document insert.
type brokenDocStore struct {
	*memory.Store
}

func (brokenDocStore) CreateDocument(context.Context, *document.Document) error {
	return errors.New("disk full")
}

func TestIssueDocumentReturnsReservationWhenPersistFails(t *testing.T) {
	s := brokenDocStore{Store: memory.New()}
	tg := tollgate.New(s, tollgate.WithSweep("", 0, 0), tollgate.WithClock(newClock().Now))
	ctx := context.Background()

	if _, err := tg.Quota().Activate(ctx, "t1", plan.CodePAYG55); err != nil {
		t.Fatalf("activate: %v", err)
	}
	res, err := tg.IssueDocument(ctx, newDoc("t1", plan.ResourceInvoice), "")
	if err == nil {
		t.Fatal("expected persist error")
	}
	if res == nil || res.Used != 1 {
		t.Fatalf("reservation = %+v, want the spent reservation", res)
	}
	sub, _ := tg.Quota().GetActiveSubscription(ctx, "t1")
	if sub.InvoicesUsed != 1 {
		t.Errorf("invoices used = %d, want 1", sub.InvoicesUsed)
	}
}
