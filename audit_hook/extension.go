// Package audithook bridges tollgate lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on a
// particular audit store. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/tollgate/document"
	"github.com/xraph/tollgate/payment"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/plugin"
	"github.com/xraph/tollgate/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                  = (*Extension)(nil)
	_ plugin.OnSubscriptionActivated = (*Extension)(nil)
	_ plugin.OnSubscriptionCanceled  = (*Extension)(nil)
	_ plugin.OnSubscriptionExtended  = (*Extension)(nil)
	_ plugin.OnQuotaReserved         = (*Extension)(nil)
	_ plugin.OnQuotaExhausted        = (*Extension)(nil)
	_ plugin.OnFreeTrialGranted      = (*Extension)(nil)
	_ plugin.OnFreeTrialExhausted    = (*Extension)(nil)
	_ plugin.OnDocumentNumbered      = (*Extension)(nil)
	_ plugin.OnNumberConflict        = (*Extension)(nil)
	_ plugin.OnPaymentIntentCreated  = (*Extension)(nil)
	_ plugin.OnPaymentTransitioned   = (*Extension)(nil)
	_ plugin.OnPaymentNeedsReview    = (*Extension)(nil)
	_ plugin.OnCallbackReceived      = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges tollgate lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionActivated implements plugin.OnSubscriptionActivated.
func (e *Extension) OnSubscriptionActivated(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionActivated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"tenant_id", sub.TenantID,
		"plan_code", string(sub.PlanCode),
		"valid_to", sub.ValidTo,
	)
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (e *Extension) OnSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionCanceled, SeverityWarning, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"tenant_id", sub.TenantID,
		"plan_code", string(sub.PlanCode),
	)
}

// OnSubscriptionExtended implements plugin.OnSubscriptionExtended.
func (e *Extension) OnSubscriptionExtended(ctx context.Context, sub *subscription.Subscription, days int) error {
	return e.record(ctx, ActionSubscriptionExtended, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"tenant_id", sub.TenantID,
		"days", days,
		"valid_to", sub.ValidTo,
	)
}

// ──────────────────────────────────────────────────
// Quota hooks
// ──────────────────────────────────────────────────

// OnQuotaReserved implements plugin.OnQuotaReserved.
func (e *Extension) OnQuotaReserved(ctx context.Context, tenantID string, resource plan.Resource, mode string, used int64) error {
	return e.record(ctx, ActionQuotaReserved, SeverityInfo, OutcomeSuccess,
		ResourceQuota, tenantID, CategoryUsage, nil,
		"resource", string(resource),
		"mode", mode,
		"used", used,
	)
}

// OnQuotaExhausted implements plugin.OnQuotaExhausted.
func (e *Extension) OnQuotaExhausted(ctx context.Context, tenantID string, resource plan.Resource, limit int64) error {
	return e.record(ctx, ActionQuotaExhausted, SeverityWarning, OutcomeFailure,
		ResourceQuota, tenantID, CategoryAccess, nil,
		"resource", string(resource),
		"limit", limit,
	)
}

// OnFreeTrialGranted implements plugin.OnFreeTrialGranted.
func (e *Extension) OnFreeTrialGranted(ctx context.Context, keyHash string, resource plan.Resource) error {
	return e.record(ctx, ActionFreeTrialGranted, SeverityInfo, OutcomeSuccess,
		ResourceFreeTrial, keyHash, CategoryUsage, nil,
		"resource", string(resource),
	)
}

// OnFreeTrialExhausted implements plugin.OnFreeTrialExhausted.
func (e *Extension) OnFreeTrialExhausted(ctx context.Context, keyHash string, resource plan.Resource) error {
	return e.record(ctx, ActionFreeTrialExhausted, SeverityWarning, OutcomeFailure,
		ResourceFreeTrial, keyHash, CategoryAccess, nil,
		"resource", string(resource),
	)
}

// ──────────────────────────────────────────────────
// Document hooks
// ──────────────────────────────────────────────────

// OnDocumentNumbered implements plugin.OnDocumentNumbered.
func (e *Extension) OnDocumentNumbered(ctx context.Context, doc *document.Document, attempts int) error {
	return e.record(ctx, ActionDocumentNumbered, SeverityInfo, OutcomeSuccess,
		ResourceDocument, doc.ID.String(), CategoryDocument, nil,
		"tenant_id", doc.TenantID,
		"kind", string(doc.Kind),
		"number", doc.Number,
		"attempts", attempts,
	)
}

// OnNumberConflict implements plugin.OnNumberConflict.
func (e *Extension) OnNumberConflict(ctx context.Context, tenantID, number string, attempt int) error {
	return e.record(ctx, ActionNumberConflict, SeverityWarning, OutcomePartial,
		ResourceDocument, number, CategoryDocument, nil,
		"tenant_id", tenantID,
		"attempt", attempt,
	)
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentIntentCreated implements plugin.OnPaymentIntentCreated.
func (e *Extension) OnPaymentIntentCreated(ctx context.Context, in *payment.Intent) error {
	return e.record(ctx, ActionPaymentCreated, SeverityInfo, OutcomeSuccess,
		ResourcePayment, in.ID.String(), CategoryPayment, nil,
		"tenant_id", in.TenantID,
		"plan_code", string(in.PlanCode),
		"amount", in.Amount.String(),
		"external_payment_id", in.ExternalPaymentID,
	)
}

// OnPaymentTransitioned implements plugin.OnPaymentTransitioned.
func (e *Extension) OnPaymentTransitioned(ctx context.Context, in *payment.Intent, from payment.Status) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	switch in.Status {
	case payment.StatusFailed, payment.StatusExpired, payment.StatusCanceled:
		severity, outcome = SeverityWarning, OutcomeFailure
	}
	return e.record(ctx, ActionPaymentTransitioned, severity, outcome,
		ResourcePayment, in.ID.String(), CategoryPayment, nil,
		"tenant_id", in.TenantID,
		"from", string(from),
		"to", string(in.Status),
		"gateway_status", in.GatewayStatus,
	)
}

// OnPaymentNeedsReview implements plugin.OnPaymentNeedsReview.
func (e *Extension) OnPaymentNeedsReview(ctx context.Context, in *payment.Intent, gatewayStatus string) error {
	return e.record(ctx, ActionPaymentReview, SeverityCritical, OutcomePartial,
		ResourcePayment, in.ID.String(), CategoryPayment,
		fmt.Errorf("unmapped gateway status %q", gatewayStatus),
		"tenant_id", in.TenantID,
		"gateway_status", gatewayStatus,
	)
}

// OnCallbackReceived implements plugin.OnCallbackReceived.
func (e *Extension) OnCallbackReceived(ctx context.Context, externalID string, matched bool) error {
	outcome := OutcomeSuccess
	if !matched {
		outcome = OutcomeFailure
	}
	return e.record(ctx, ActionCallbackReceived, SeverityInfo, outcome,
		ResourceCallback, externalID, CategoryIntegration, nil,
		"matched", matched,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
