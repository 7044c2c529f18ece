package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/tollgate/document"
	"github.com/xraph/tollgate/payment"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/subscription"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook lists are resolved once at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                  []OnInit
	onShutdown              []OnShutdown
	onSubscriptionActivated []OnSubscriptionActivated
	onSubscriptionCanceled  []OnSubscriptionCanceled
	onSubscriptionExtended  []OnSubscriptionExtended
	onQuotaReserved         []OnQuotaReserved
	onQuotaExhausted        []OnQuotaExhausted
	onFreeTrialGranted      []OnFreeTrialGranted
	onFreeTrialExhausted    []OnFreeTrialExhausted
	onDocumentNumbered      []OnDocumentNumbered
	onNumberConflict        []OnNumberConflict
	onPaymentIntentCreated  []OnPaymentIntentCreated
	onPaymentTransitioned   []OnPaymentTransitioned
	onPaymentNeedsReview    []OnPaymentNeedsReview
	onCallbackReceived      []OnCallbackReceived
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnSubscriptionActivated); ok {
		r.onSubscriptionActivated = append(r.onSubscriptionActivated, v)
	}
	if v, ok := p.(OnSubscriptionCanceled); ok {
		r.onSubscriptionCanceled = append(r.onSubscriptionCanceled, v)
	}
	if v, ok := p.(OnSubscriptionExtended); ok {
		r.onSubscriptionExtended = append(r.onSubscriptionExtended, v)
	}
	if v, ok := p.(OnQuotaReserved); ok {
		r.onQuotaReserved = append(r.onQuotaReserved, v)
	}
	if v, ok := p.(OnQuotaExhausted); ok {
		r.onQuotaExhausted = append(r.onQuotaExhausted, v)
	}
	if v, ok := p.(OnFreeTrialGranted); ok {
		r.onFreeTrialGranted = append(r.onFreeTrialGranted, v)
	}
	if v, ok := p.(OnFreeTrialExhausted); ok {
		r.onFreeTrialExhausted = append(r.onFreeTrialExhausted, v)
	}
	if v, ok := p.(OnDocumentNumbered); ok {
		r.onDocumentNumbered = append(r.onDocumentNumbered, v)
	}
	if v, ok := p.(OnNumberConflict); ok {
		r.onNumberConflict = append(r.onNumberConflict, v)
	}
	if v, ok := p.(OnPaymentIntentCreated); ok {
		r.onPaymentIntentCreated = append(r.onPaymentIntentCreated, v)
	}
	if v, ok := p.(OnPaymentTransitioned); ok {
		r.onPaymentTransitioned = append(r.onPaymentTransitioned, v)
	}
	if v, ok := p.(OnPaymentNeedsReview); ok {
		r.onPaymentNeedsReview = append(r.onPaymentNeedsReview, v)
	}
	if v, ok := p.(OnCallbackReceived); ok {
		r.onCallbackReceived = append(r.onCallbackReceived, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", getImplementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnSubscriptionActivated", reflect.TypeFor[OnSubscriptionActivated]()},
	{"OnSubscriptionCanceled", reflect.TypeFor[OnSubscriptionCanceled]()},
	{"OnSubscriptionExtended", reflect.TypeFor[OnSubscriptionExtended]()},
	{"OnQuotaReserved", reflect.TypeFor[OnQuotaReserved]()},
	{"OnQuotaExhausted", reflect.TypeFor[OnQuotaExhausted]()},
	{"OnFreeTrialGranted", reflect.TypeFor[OnFreeTrialGranted]()},
	{"OnFreeTrialExhausted", reflect.TypeFor[OnFreeTrialExhausted]()},
	{"OnDocumentNumbered", reflect.TypeFor[OnDocumentNumbered]()},
	{"OnNumberConflict", reflect.TypeFor[OnNumberConflict]()},
	{"OnPaymentIntentCreated", reflect.TypeFor[OnPaymentIntentCreated]()},
	{"OnPaymentTransitioned", reflect.TypeFor[OnPaymentTransitioned]()},
	{"OnPaymentNeedsReview", reflect.TypeFor[OnPaymentNeedsReview]()},
	{"OnCallbackReceived", reflect.TypeFor[OnCallbackReceived]()},
}

// getImplementedInterfaces returns the hook names p implements.
func getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			interfaces = append(interfaces, h.name)
		}
	}
	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit runs call for every hook in the snapshot taken by pick. Failures are
// logged and never returned.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, pick func(*Registry) []T, call func(T) error) {
	r.mu.RLock()
	hooks := pick(r)
	r.mu.RUnlock()

	for _, p := range hooks {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return call(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, "OnInit", func(r *Registry) []OnInit { return r.onInit },
		func(p OnInit) error { return p.OnInit(ctx, engine) })
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", func(r *Registry) []OnShutdown { return r.onShutdown },
		func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

// EmitSubscriptionActivated emits a subscription activated event.
func (r *Registry) EmitSubscriptionActivated(ctx context.Context, sub *subscription.Subscription) {
	emit(ctx, r, "OnSubscriptionActivated", func(r *Registry) []OnSubscriptionActivated { return r.onSubscriptionActivated },
		func(p OnSubscriptionActivated) error { return p.OnSubscriptionActivated(ctx, sub) })
}

// EmitSubscriptionCanceled emits a subscription canceled event.
func (r *Registry) EmitSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription) {
	emit(ctx, r, "OnSubscriptionCanceled", func(r *Registry) []OnSubscriptionCanceled { return r.onSubscriptionCanceled },
		func(p OnSubscriptionCanceled) error { return p.OnSubscriptionCanceled(ctx, sub) })
}

// EmitSubscriptionExtended emits a subscription extended event.
func (r *Registry) EmitSubscriptionExtended(ctx context.Context, sub *subscription.Subscription, days int) {
	emit(ctx, r, "OnSubscriptionExtended", func(r *Registry) []OnSubscriptionExtended { return r.onSubscriptionExtended },
		func(p OnSubscriptionExtended) error { return p.OnSubscriptionExtended(ctx, sub, days) })
}

// EmitQuotaReserved emits a quota reserved event.
func (r *Registry) EmitQuotaReserved(ctx context.Context, tenantID string, resource plan.Resource, mode string, used int64) {
	emit(ctx, r, "OnQuotaReserved", func(r *Registry) []OnQuotaReserved { return r.onQuotaReserved },
		func(p OnQuotaReserved) error { return p.OnQuotaReserved(ctx, tenantID, resource, mode, used) })
}

// EmitQuotaExhausted emits a quota exhausted event.
func (r *Registry) EmitQuotaExhausted(ctx context.Context, tenantID string, resource plan.Resource, limit int64) {
	emit(ctx, r, "OnQuotaExhausted", func(r *Registry) []OnQuotaExhausted { return r.onQuotaExhausted },
		func(p OnQuotaExhausted) error { return p.OnQuotaExhausted(ctx, tenantID, resource, limit) })
}

// EmitFreeTrialGranted emits a free trial granted event.
func (r *Registry) EmitFreeTrialGranted(ctx context.Context, keyHash string, resource plan.Resource) {
	emit(ctx, r, "OnFreeTrialGranted", func(r *Registry) []OnFreeTrialGranted { return r.onFreeTrialGranted },
		func(p OnFreeTrialGranted) error { return p.OnFreeTrialGranted(ctx, keyHash, resource) })
}

// EmitFreeTrialExhausted emits a free trial exhausted event.
func (r *Registry) EmitFreeTrialExhausted(ctx context.Context, keyHash string, resource plan.Resource) {
	emit(ctx, r, "OnFreeTrialExhausted", func(r *Registry) []OnFreeTrialExhausted { return r.onFreeTrialExhausted },
		func(p OnFreeTrialExhausted) error { return p.OnFreeTrialExhausted(ctx, keyHash, resource) })
}

// EmitDocumentNumbered emits a document numbered event.
func (r *Registry) EmitDocumentNumbered(ctx context.Context, doc *document.Document, attempts int) {
	emit(ctx, r, "OnDocumentNumbered", func(r *Registry) []OnDocumentNumbered { return r.onDocumentNumbered },
		func(p OnDocumentNumbered) error { return p.OnDocumentNumbered(ctx, doc, attempts) })
}

// EmitNumberConflict emits a number conflict event.
func (r *Registry) EmitNumberConflict(ctx context.Context, tenantID, number string, attempt int) {
	emit(ctx, r, "OnNumberConflict", func(r *Registry) []OnNumberConflict { return r.onNumberConflict },
		func(p OnNumberConflict) error { return p.OnNumberConflict(ctx, tenantID, number, attempt) })
}

// EmitPaymentIntentCreated emits a payment intent created event.
func (r *Registry) EmitPaymentIntentCreated(ctx context.Context, in *payment.Intent) {
	emit(ctx, r, "OnPaymentIntentCreated", func(r *Registry) []OnPaymentIntentCreated { return r.onPaymentIntentCreated },
		func(p OnPaymentIntentCreated) error { return p.OnPaymentIntentCreated(ctx, in) })
}

// EmitPaymentTransitioned emits a payment transitioned event.
func (r *Registry) EmitPaymentTransitioned(ctx context.Context, in *payment.Intent, from payment.Status) {
	emit(ctx, r, "OnPaymentTransitioned", func(r *Registry) []OnPaymentTransitioned { return r.onPaymentTransitioned },
		func(p OnPaymentTransitioned) error { return p.OnPaymentTransitioned(ctx, in, from) })
}

// EmitPaymentNeedsReview emits a payment needs review event.
func (r *Registry) EmitPaymentNeedsReview(ctx context.Context, in *payment.Intent, gatewayStatus string) {
	emit(ctx, r, "OnPaymentNeedsReview", func(r *Registry) []OnPaymentNeedsReview { return r.onPaymentNeedsReview },
		func(p OnPaymentNeedsReview) error { return p.OnPaymentNeedsReview(ctx, in, gatewayStatus) })
}

// EmitCallbackReceived emits a callback received event.
func (r *Registry) EmitCallbackReceived(ctx context.Context, externalID string, matched bool) {
	emit(ctx, r, "OnCallbackReceived", func(r *Registry) []OnCallbackReceived { return r.onCallbackReceived },
		func(p OnCallbackReceived) error { return p.OnCallbackReceived(ctx, externalID, matched) })
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block quota or payment processing.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
