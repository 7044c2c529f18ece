// Package observability provides a metrics extension for tollgate that records
// lifecycle event counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/tollgate/document"
	"github.com/xraph/tollgate/payment"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/plugin"
	"github.com/xraph/tollgate/subscription"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                  = (*MetricsExtension)(nil)
	_ plugin.OnInit                  = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionActivated = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCanceled  = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionExtended  = (*MetricsExtension)(nil)
	_ plugin.OnQuotaReserved         = (*MetricsExtension)(nil)
	_ plugin.OnQuotaExhausted        = (*MetricsExtension)(nil)
	_ plugin.OnFreeTrialGranted      = (*MetricsExtension)(nil)
	_ plugin.OnFreeTrialExhausted    = (*MetricsExtension)(nil)
	_ plugin.OnDocumentNumbered      = (*MetricsExtension)(nil)
	_ plugin.OnNumberConflict        = (*MetricsExtension)(nil)
	_ plugin.OnPaymentIntentCreated  = (*MetricsExtension)(nil)
	_ plugin.OnPaymentTransitioned   = (*MetricsExtension)(nil)
	_ plugin.OnPaymentNeedsReview    = (*MetricsExtension)(nil)
	_ plugin.OnCallbackReceived      = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a tollgate plugin to track quota and payment metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Subscription metrics
	SubscriptionActivated Counter
	SubscriptionCanceled  Counter
	SubscriptionExtended  Counter
	ExtensionDays         Histogram

	// Quota metrics
	InvoicesReserved   Counter
	ActsReserved       Counter
	QuotaExhausted     Counter
	FreeTrialGranted   Counter
	FreeTrialExhausted Counter
	SubscriptionUsage  Histogram

	// Numbering metrics
	DocumentsNumbered Counter
	NumberConflicts   Counter
	NumberingAttempts Histogram

	// Payment metrics
	PaymentsCreated   Counter
	PaymentsSucceeded Counter
	PaymentsFailed    Counter
	PaymentsReview    Counter
	PaymentAmount     Histogram

	// Callback metrics
	CallbacksMatched   Counter
	CallbacksUnmatched Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions or NewPrometheusFactory standalone.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		SubscriptionActivated: factory.Counter("tollgate.subscription.activated"),
		SubscriptionCanceled:  factory.Counter("tollgate.subscription.canceled"),
		SubscriptionExtended:  factory.Counter("tollgate.subscription.extended"),
		ExtensionDays:         factory.Histogram("tollgate.subscription.extension_days"),

		InvoicesReserved:   factory.Counter("tollgate.quota.invoices.reserved"),
		ActsReserved:       factory.Counter("tollgate.quota.acts.reserved"),
		QuotaExhausted:     factory.Counter("tollgate.quota.exhausted"),
		FreeTrialGranted:   factory.Counter("tollgate.free_trial.granted"),
		FreeTrialExhausted: factory.Counter("tollgate.free_trial.exhausted"),
		SubscriptionUsage:  factory.Histogram("tollgate.quota.used"),

		DocumentsNumbered: factory.Counter("tollgate.document.numbered"),
		NumberConflicts:   factory.Counter("tollgate.document.number_conflicts"),
		NumberingAttempts: factory.Histogram("tollgate.document.numbering_attempts"),

		PaymentsCreated:   factory.Counter("tollgate.payment.created"),
		PaymentsSucceeded: factory.Counter("tollgate.payment.succeeded"),
		PaymentsFailed:    factory.Counter("tollgate.payment.failed"),
		PaymentsReview:    factory.Counter("tollgate.payment.needs_review"),
		PaymentAmount:     factory.Histogram("tollgate.payment.amount_tetri"),

		CallbacksMatched:   factory.Counter("tollgate.callback.matched"),
		CallbacksUnmatched: factory.Counter("tollgate.callback.unmatched"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionActivated implements plugin.OnSubscriptionActivated.
func (m *MetricsExtension) OnSubscriptionActivated(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionActivated.Inc()
	return nil
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (m *MetricsExtension) OnSubscriptionCanceled(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionCanceled.Inc()
	return nil
}

// OnSubscriptionExtended implements plugin.OnSubscriptionExtended.
func (m *MetricsExtension) OnSubscriptionExtended(_ context.Context, _ *subscription.Subscription, days int) error {
	m.SubscriptionExtended.Inc()
	m.ExtensionDays.Observe(float64(days))
	return nil
}

// ──────────────────────────────────────────────────
// Quota hooks
// ──────────────────────────────────────────────────

// OnQuotaReserved implements plugin.OnQuotaReserved.
func (m *MetricsExtension) OnQuotaReserved(_ context.Context, _ string, resource plan.Resource, _ string, used int64) error {
	if resource == plan.ResourceAct {
		m.ActsReserved.Inc()
	} else {
		m.InvoicesReserved.Inc()
	}
	if used >= 0 {
		m.SubscriptionUsage.Observe(float64(used))
	}
	return nil
}

// OnQuotaExhausted implements plugin.OnQuotaExhausted.
func (m *MetricsExtension) OnQuotaExhausted(_ context.Context, _ string, _ plan.Resource, _ int64) error {
	m.QuotaExhausted.Inc()
	return nil
}

// OnFreeTrialGranted implements plugin.OnFreeTrialGranted.
func (m *MetricsExtension) OnFreeTrialGranted(_ context.Context, _ string, _ plan.Resource) error {
	m.FreeTrialGranted.Inc()
	return nil
}

// OnFreeTrialExhausted implements plugin.OnFreeTrialExhausted.
func (m *MetricsExtension) OnFreeTrialExhausted(_ context.Context, _ string, _ plan.Resource) error {
	m.FreeTrialExhausted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Document hooks
// ──────────────────────────────────────────────────

// OnDocumentNumbered implements plugin.OnDocumentNumbered.
func (m *MetricsExtension) OnDocumentNumbered(_ context.Context, _ *document.Document, attempts int) error {
	m.DocumentsNumbered.Inc()
	m.NumberingAttempts.Observe(float64(attempts))
	return nil
}

// OnNumberConflict implements plugin.OnNumberConflict.
func (m *MetricsExtension) OnNumberConflict(_ context.Context, _, _ string, _ int) error {
	m.NumberConflicts.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentIntentCreated implements plugin.OnPaymentIntentCreated.
func (m *MetricsExtension) OnPaymentIntentCreated(_ context.Context, in *payment.Intent) error {
	m.PaymentsCreated.Inc()
	m.PaymentAmount.Observe(float64(in.Amount.Amount))
	return nil
}

// OnPaymentTransitioned implements plugin.OnPaymentTransitioned.
func (m *MetricsExtension) OnPaymentTransitioned(_ context.Context, in *payment.Intent, _ payment.Status) error {
	switch in.Status {
	case payment.StatusSucceeded:
		m.PaymentsSucceeded.Inc()
	case payment.StatusFailed, payment.StatusExpired, payment.StatusCanceled:
		m.PaymentsFailed.Inc()
	}
	return nil
}

// OnPaymentNeedsReview implements plugin.OnPaymentNeedsReview.
func (m *MetricsExtension) OnPaymentNeedsReview(_ context.Context, _ *payment.Intent, _ string) error {
	m.PaymentsReview.Inc()
	return nil
}

// OnCallbackReceived implements plugin.OnCallbackReceived.
func (m *MetricsExtension) OnCallbackReceived(_ context.Context, _ string, matched bool) error {
	if matched {
		m.CallbacksMatched.Inc()
	} else {
		m.CallbacksUnmatched.Inc()
	}
	return nil
}
