// Package plugin provides an extensible plugin system for tollgate.
// Plugins can hook into quota, numbering and payment lifecycle events.
package plugin

import (
	"context"

	"github.com/xraph/tollgate/document"
	"github.com/xraph/tollgate/payment"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/subscription"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. engine is the *tollgate.Tollgate.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionActivated is called after a plan was activated for a tenant.
type OnSubscriptionActivated interface {
	Plugin
	OnSubscriptionActivated(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionCanceled is called after a subscription was canceled.
type OnSubscriptionCanceled interface {
	Plugin
	OnSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionExtended is called after a subscription's validity was extended.
type OnSubscriptionExtended interface {
	Plugin
	OnSubscriptionExtended(ctx context.Context, sub *subscription.Subscription, days int) error
}

// ──────────────────────────────────────────────────
// Quota hooks
// ──────────────────────────────────────────────────

// OnQuotaReserved is called after a reservation succeeded. mode is
// "subscription" or "free_trial"; used is the counter after the
// reservation, or -1 when the quota is unlimited.
type OnQuotaReserved interface {
	Plugin
	OnQuotaReserved(ctx context.Context, tenantID string, resource plan.Resource, mode string, used int64) error
}

// OnQuotaExhausted is called when a finite subscription quota rejected a
// reservation.
type OnQuotaExhausted interface {
	Plugin
	OnQuotaExhausted(ctx context.Context, tenantID string, resource plan.Resource, limit int64) error
}

// OnFreeTrialGranted is called when a free-trial slot was consumed.
type OnFreeTrialGranted interface {
	Plugin
	OnFreeTrialGranted(ctx context.Context, keyHash string, resource plan.Resource) error
}

// OnFreeTrialExhausted is called when a key asked for a slot it already used.
type OnFreeTrialExhausted interface {
	Plugin
	OnFreeTrialExhausted(ctx context.Context, keyHash string, resource plan.Resource) error
}

// ──────────────────────────────────────────────────
// Document hooks
// ──────────────────────────────────────────────────

// OnDocumentNumbered is called after a document was persisted with its number.
type OnDocumentNumbered interface {
	Plugin
	OnDocumentNumbered(ctx context.Context, doc *document.Document, attempts int) error
}

// OnNumberConflict is called each time a candidate number lost a race.
type OnNumberConflict interface {
	Plugin
	OnNumberConflict(ctx context.Context, tenantID, number string, attempt int) error
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentIntentCreated is called once the gateway accepted a checkout.
type OnPaymentIntentCreated interface {
	Plugin
	OnPaymentIntentCreated(ctx context.Context, in *payment.Intent) error
}

// OnPaymentTransitioned is called after an intent moved out of from.
type OnPaymentTransitioned interface {
	Plugin
	OnPaymentTransitioned(ctx context.Context, in *payment.Intent, from payment.Status) error
}

// OnPaymentNeedsReview is called when the gateway reported a status that
// could not be mapped.
type OnPaymentNeedsReview interface {
	Plugin
	OnPaymentNeedsReview(ctx context.Context, in *payment.Intent, gatewayStatus string) error
}

// OnCallbackReceived is called for every gateway callback that carried a
// payment id and passed the IP allow-list.
type OnCallbackReceived interface {
	Plugin
	OnCallbackReceived(ctx context.Context, externalID string, matched bool) error
}
