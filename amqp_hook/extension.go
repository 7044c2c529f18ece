// Package amqphook publishes tollgate lifecycle events to RabbitMQ.
//
// Delivery is best effort: a failed publish is logged and never fails the
// operation that triggered it.
package amqphook

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/xraph/tollgate/document"
	"github.com/xraph/tollgate/payment"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/plugin"
	"github.com/xraph/tollgate/subscription"
)

// Routing keys.
const (
	KeySubscriptionActivated = "subscription.activated"
	KeySubscriptionCanceled  = "subscription.canceled"
	KeySubscriptionExtended  = "subscription.extended"
	KeyQuotaExhausted        = "quota.exhausted"
	KeyDocumentNumbered      = "document.numbered"
	KeyPaymentCreated        = "payment.created"
	KeyPaymentTransitioned   = "payment.transitioned"
	KeyPaymentNeedsReview    = "payment.needs_review"
)

var (
	_ plugin.Plugin                  = (*Extension)(nil)
	_ plugin.OnSubscriptionActivated = (*Extension)(nil)
	_ plugin.OnSubscriptionCanceled  = (*Extension)(nil)
	_ plugin.OnSubscriptionExtended  = (*Extension)(nil)
	_ plugin.OnQuotaExhausted        = (*Extension)(nil)
	_ plugin.OnDocumentNumbered      = (*Extension)(nil)
	_ plugin.OnPaymentIntentCreated  = (*Extension)(nil)
	_ plugin.OnPaymentTransitioned   = (*Extension)(nil)
	_ plugin.OnPaymentNeedsReview    = (*Extension)(nil)
)

// Event is the JSON envelope published for every lifecycle event.
type Event struct {
	Type       string         `json:"type"`
	TenantID   string         `json:"tenant_id"`
	ResourceID string         `json:"resource_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger for publish failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) { e.logger = logger }
}

// WithRoutingPrefix prepends prefix and a dot to every routing key.
func WithRoutingPrefix(prefix string) Option {
	return func(e *Extension) { e.prefix = prefix }
}

// WithClock overrides the clock used for OccurredAt.
func WithClock(now func() time.Time) Option {
	return func(e *Extension) { e.now = now }
}

// Extension is a tollgate plugin that forwards events to a Publisher.
type Extension struct {
	publisher Publisher
	logger    *slog.Logger
	prefix    string
	now       func() time.Time
}

// New creates an Extension publishing through p.
func New(p Publisher, opts ...Option) *Extension {
	e := &Extension{
		publisher: p,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "amqp-hook" }

// OnSubscriptionActivated implements plugin.OnSubscriptionActivated.
func (e *Extension) OnSubscriptionActivated(ctx context.Context, sub *subscription.Subscription) error {
	return e.publish(ctx, KeySubscriptionActivated, sub.TenantID, sub.ID.String(), map[string]any{
		"plan_code":  sub.PlanCode,
		"valid_from": sub.ValidFrom,
		"valid_to":   sub.ValidTo,
	})
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (e *Extension) OnSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription) error {
	return e.publish(ctx, KeySubscriptionCanceled, sub.TenantID, sub.ID.String(), map[string]any{
		"plan_code": sub.PlanCode,
	})
}

// OnSubscriptionExtended implements plugin.OnSubscriptionExtended.
func (e *Extension) OnSubscriptionExtended(ctx context.Context, sub *subscription.Subscription, days int) error {
	return e.publish(ctx, KeySubscriptionExtended, sub.TenantID, sub.ID.String(), map[string]any{
		"days":     days,
		"valid_to": sub.ValidTo,
	})
}

// OnQuotaExhausted implements plugin.OnQuotaExhausted.
func (e *Extension) OnQuotaExhausted(ctx context.Context, tenantID string, resource plan.Resource, limit int64) error {
	return e.publish(ctx, KeyQuotaExhausted, tenantID, "", map[string]any{
		"resource": resource,
		"limit":    limit,
	})
}

// OnDocumentNumbered implements plugin.OnDocumentNumbered.
func (e *Extension) OnDocumentNumbered(ctx context.Context, doc *document.Document, _ int) error {
	return e.publish(ctx, KeyDocumentNumbered, doc.TenantID, doc.ID.String(), map[string]any{
		"kind":   doc.Kind,
		"number": doc.Number,
	})
}

// OnPaymentIntentCreated implements plugin.OnPaymentIntentCreated.
func (e *Extension) OnPaymentIntentCreated(ctx context.Context, in *payment.Intent) error {
	return e.publish(ctx, KeyPaymentCreated, in.TenantID, in.ID.String(), map[string]any{
		"plan_code": in.PlanCode,
		"amount":    in.Amount,
	})
}

// OnPaymentTransitioned implements plugin.OnPaymentTransitioned.
func (e *Extension) OnPaymentTransitioned(ctx context.Context, in *payment.Intent, from payment.Status) error {
	return e.publish(ctx, KeyPaymentTransitioned, in.TenantID, in.ID.String(), map[string]any{
		"from": from,
		"to":   in.Status,
	})
}

// OnPaymentNeedsReview implements plugin.OnPaymentNeedsReview.
func (e *Extension) OnPaymentNeedsReview(ctx context.Context, in *payment.Intent, gatewayStatus string) error {
	return e.publish(ctx, KeyPaymentNeedsReview, in.TenantID, in.ID.String(), map[string]any{
		"gateway_status": gatewayStatus,
	})
}

func (e *Extension) publish(ctx context.Context, key, tenantID, resourceID string, data map[string]any) error {
	body, err := json.Marshal(Event{
		Type:       key,
		TenantID:   tenantID,
		ResourceID: resourceID,
		OccurredAt: e.now().UTC(),
		Data:       data,
	})
	if err != nil {
		e.logger.Warn("amqp_hook: encode event", "type", key, "error", err)
		return nil
	}

	routingKey := key
	if e.prefix != "" {
		routingKey = e.prefix + "." + key
	}
	if err := e.publisher.Publish(ctx, routingKey, body); err != nil {
		e.logger.Warn("amqp_hook: publish failed",
			"routing_key", routingKey,
			"tenant_id", tenantID,
			"error", err,
		)
	}
	return nil
}
