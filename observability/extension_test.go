package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/tollgate/document"
	"github.com/xraph/tollgate/payment"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/types"
)

func counterValue(t *testing.T, c Counter) float64 {
	t.Helper()
	col, ok := c.(prometheus.Collector)
	if !ok {
		t.Fatalf("counter %T is not a prometheus collector", c)
	}
	return testutil.ToFloat64(col)
}

func TestMetricsExtensionCounts(t *testing.T) {
	factory := NewPrometheusFactory(nil)
	m := NewMetricsExtension(factory)
	ctx := context.Background()

	_ = m.OnQuotaReserved(ctx, "t1", plan.ResourceInvoice, "subscription", 3)
	_ = m.OnQuotaReserved(ctx, "t1", plan.ResourceInvoice, "subscription", -1)
	_ = m.OnQuotaReserved(ctx, "t1", plan.ResourceAct, "free_trial", 1)
	_ = m.OnQuotaExhausted(ctx, "t1", plan.ResourceAct, 5)
	_ = m.OnDocumentNumbered(ctx, &document.Document{}, 2)
	_ = m.OnNumberConflict(ctx, "t1", "X/1", 1)
	_ = m.OnPaymentIntentCreated(ctx, &payment.Intent{Amount: types.Lari(20)})
	_ = m.OnPaymentTransitioned(ctx, &payment.Intent{Status: payment.StatusSucceeded}, payment.StatusWaitingConfirm)
	_ = m.OnPaymentTransitioned(ctx, &payment.Intent{Status: payment.StatusExpired}, payment.StatusRedirectRequired)
	_ = m.OnPaymentTransitioned(ctx, &payment.Intent{Status: payment.StatusWaitingConfirm}, payment.StatusRedirectRequired)
	_ = m.OnCallbackReceived(ctx, "pay-1", true)
	_ = m.OnCallbackReceived(ctx, "pay-2", false)
	_ = m.OnCallbackReceived(ctx, "pay-3", false)

	tests := []struct {
		name    string
		counter Counter
		want    float64
	}{
		{"invoices reserved", m.InvoicesReserved, 2},
		{"acts reserved", m.ActsReserved, 1},
		{"quota exhausted", m.QuotaExhausted, 1},
		{"documents numbered", m.DocumentsNumbered, 1},
		{"number conflicts", m.NumberConflicts, 1},
		{"payments created", m.PaymentsCreated, 1},
		{"payments succeeded", m.PaymentsSucceeded, 1},
		{"payments failed", m.PaymentsFailed, 1},
		{"callbacks matched", m.CallbacksMatched, 1},
		{"callbacks unmatched", m.CallbacksUnmatched, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := counterValue(t, tt.counter); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrometheusFactoryReusesCollectors(t *testing.T) {
	f := NewPrometheusFactory(prometheus.NewRegistry())

	a := f.Counter("tollgate.payment.created")
	b := f.Counter("tollgate.payment.created")
	a.Inc()
	b.Inc()
	if got := counterValue(t, a); got != 2 {
		t.Fatalf("expected shared counter at 2, got %v", got)
	}

	if f.Histogram("tollgate.quota.used") != f.Histogram("tollgate.quota.used") {
		t.Error("expected the same histogram for the same name")
	}
}

func TestPrometheusHandlerExposesSanitizedNames(t *testing.T) {
	f := NewPrometheusFactory(nil)
	f.Counter("tollgate.free_trial.granted").Inc()

	srv := httptest.NewServer(f.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "tollgate_free_trial_granted_total 1") {
		t.Errorf("metric missing from scrape output:\n%s", body)
	}
}
