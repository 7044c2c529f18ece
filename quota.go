package tollgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/tollgate/id"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/plugin"
	"github.com/xraph/tollgate/subscription"
	"github.com/xraph/tollgate/trial"
	"github.com/xraph/tollgate/types"
)

// ReservationMode tells which allowance paid for a reservation.
type ReservationMode string

const (
	ModeSubscription ReservationMode = "subscription"
	ModeFreeTrial    ReservationMode = "free_trial"
)

// Unlimited is the Used value of a reservation against an unlimited quota.
const Unlimited int64 = -1

// Reservation is the outcome of a successful Reserve.
type Reservation struct {
	TenantID string          `json:"tenant_id"`
	Resource plan.Resource   `json:"resource"`
	Mode     ReservationMode `json:"mode"`
	// Used is the counter after this reservation, or Unlimited.
	Used  int64  `json:"used"`
	Limit *int64 `json:"limit,omitempty"`
}

// Summary is a tenant's view of its subscription.
type Summary struct {
	Active             bool                       `json:"active"`
	Subscription       *subscription.Subscription `json:"subscription,omitempty"`
	Plan               *plan.Plan                 `json:"plan,omitempty"`
	RemainingInvoices  *int64                     `json:"remaining_invoices"`
	RemainingActs      *int64                     `json:"remaining_acts"`
	AllowsClientModule bool                       `json:"allows_client_module"`
	Plans              []*plan.Plan               `json:"plans"`
}

// TrialStatus reports which free-trial slots remain for a caller key.
type TrialStatus struct {
	InvoiceAvailable bool `json:"invoice_available"`
	ActAvailable     bool `json:"act_available"`
}

// Activator activates a plan for a tenant. It is the only command the
// payment side sends to the quota ledger.
type Activator interface {
	Activate(ctx context.Context, tenantID string, code plan.Code) (*subscription.Subscription, error)
}

var _ Activator = (*QuotaLedger)(nil)

// extendAttempts bounds the compare-and-swap loop in Extend.
const extendAttempts = 8

// QuotaLedger owns subscriptions and free-trial grants. Every consuming
// mutation is a single conditional write in the store, so concurrent
// reservations never overshoot a quota.
type QuotaLedger struct {
	subs    subscription.Store
	trials  trial.Store
	catalog *plan.Catalog
	plugins *plugin.Registry
	logger  *slog.Logger
	now     func() time.Time
	salt    string
}

// GetActiveSubscription returns the tenant's subscription when it is ACTIVE
// and unexpired. Anything else is ErrNoActiveSubscription.
func (q *QuotaLedger) GetActiveSubscription(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	if tenantID == "" {
		return nil, ErrNoActiveSubscription
	}
	sub, err := q.subs.GetSubscription(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, ErrNoActiveSubscription
		}
		return nil, err
	}
	if !sub.ActiveAt(q.now()) {
		return nil, ErrNoActiveSubscription
	}
	return sub, nil
}

// Reserve consumes one unit of resource for the tenant. Without an active
// subscription the caller's free-trial slot is claimed instead, keyed by
// callerKey. Reservations are never released.
func (q *QuotaLedger) Reserve(ctx context.Context, tenantID string, resource plan.Resource, callerKey string) (*Reservation, error) {
	if !resource.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, resource)
	}

	sub, err := q.GetActiveSubscription(ctx, tenantID)
	switch {
	case errors.Is(err, ErrNoActiveSubscription):
		return q.reserveFreeTrial(ctx, tenantID, resource, callerKey)
	case err != nil:
		return nil, err
	}

	p, ok := q.catalog.Lookup(sub.PlanCode)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, sub.PlanCode)
	}

	limit, finite := p.Quota(resource)
	if !finite {
		q.plugins.EmitQuotaReserved(ctx, tenantID, resource, string(ModeSubscription), Unlimited)
		return &Reservation{TenantID: tenantID, Resource: resource, Mode: ModeSubscription, Used: Unlimited}, nil
	}

	used, err := q.subs.IncrementUsage(ctx, tenantID, resource, limit, q.now())
	if err != nil {
		if errors.Is(err, ErrQuotaExhausted) {
			q.logger.Info("quota exhausted",
				"tenant_id", tenantID,
				"resource", resource,
				"limit", limit,
			)
			q.plugins.EmitQuotaExhausted(ctx, tenantID, resource, limit)
		}
		return nil, err
	}

	q.plugins.EmitQuotaReserved(ctx, tenantID, resource, string(ModeSubscription), used)
	return &Reservation{
		TenantID: tenantID,
		Resource: resource,
		Mode:     ModeSubscription,
		Used:     used,
		Limit:    &limit,
	}, nil
}

func (q *QuotaLedger) reserveFreeTrial(ctx context.Context, tenantID string, resource plan.Resource, callerKey string) (*Reservation, error) {
	if callerKey == "" {
		return nil, ErrCallerKeyRequired
	}

	keyHash := trial.HashKey(q.salt, callerKey)
	won, err := q.trials.ClaimFreeTrial(ctx, keyHash, resource, q.now())
	if err != nil {
		return nil, err
	}
	if !won {
		q.plugins.EmitFreeTrialExhausted(ctx, keyHash, resource)
		return nil, ErrFreeTrialExhausted
	}

	q.logger.Info("free trial granted",
		"tenant_id", tenantID,
		"resource", resource,
	)
	q.plugins.EmitFreeTrialGranted(ctx, keyHash, resource)
	q.plugins.EmitQuotaReserved(ctx, tenantID, resource, string(ModeFreeTrial), 1)

	one := int64(1)
	return &Reservation{
		TenantID: tenantID,
		Resource: resource,
		Mode:     ModeFreeTrial,
		Used:     1,
		Limit:    &one,
	}, nil
}

// Activate starts code for the tenant for the plan's default duration.
// Repeating it overwrites the row with a fresh period and zeroed counters.
func (q *QuotaLedger) Activate(ctx context.Context, tenantID string, code plan.Code) (*subscription.Subscription, error) {
	return q.ActivateFor(ctx, tenantID, code, 0)
}

// ActivateFor is Activate with a duration override. days <= 0 uses the
// plan default.
func (q *QuotaLedger) ActivateFor(ctx context.Context, tenantID string, code plan.Code, days int) (*subscription.Subscription, error) {
	if tenantID == "" {
		return nil, ValidationError{Field: "tenant_id", Message: "required"}
	}
	p, ok := q.catalog.Lookup(code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, code)
	}
	if days <= 0 {
		days = p.DurationDays
	}

	now := q.now().UTC()
	sub := &subscription.Subscription{
		Entity:    types.NewEntity(now),
		ID:        id.NewSubscriptionID(),
		TenantID:  tenantID,
		PlanCode:  p.Code,
		Status:    subscription.StatusActive,
		ValidFrom: now,
		ValidTo:   now.Add(time.Duration(days) * 24 * time.Hour),
	}
	if err := q.subs.UpsertSubscription(ctx, sub); err != nil {
		return nil, err
	}

	stored, err := q.subs.GetSubscription(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	q.logger.Info("subscription activated",
		"tenant_id", tenantID,
		"plan", p.Code,
		"valid_to", stored.ValidTo,
	)
	q.plugins.EmitSubscriptionActivated(ctx, stored)
	return stored, nil
}

// Cancel ends the tenant's subscription now. A tenant without one is left
// alone.
func (q *QuotaLedger) Cancel(ctx context.Context, tenantID string) error {
	err := q.subs.CancelSubscription(ctx, tenantID, q.now().UTC())
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	sub, err := q.subs.GetSubscription(ctx, tenantID)
	if err != nil {
		return err
	}
	q.logger.Info("subscription canceled", "tenant_id", tenantID)
	q.plugins.EmitSubscriptionCanceled(ctx, sub)
	return nil
}

// Extend pushes valid_to out by days, counting from now when the
// subscription already expired, and reactivates it. Counters are kept.
func (q *QuotaLedger) Extend(ctx context.Context, tenantID string, days int) (*subscription.Subscription, error) {
	if days <= 0 {
		return nil, ErrInvalidDays
	}

	for range extendAttempts {
		sub, err := q.subs.GetSubscription(ctx, tenantID)
		if err != nil {
			return nil, err
		}

		now := q.now().UTC()
		base := sub.ValidTo
		if now.After(base) {
			base = now
		}
		validTo := base.Add(time.Duration(days) * 24 * time.Hour)

		swapped, err := q.subs.SwapValidity(ctx, tenantID, sub.ValidTo, validTo, now)
		if err != nil {
			return nil, err
		}
		if !swapped {
			continue
		}

		sub.ValidTo = validTo
		sub.Status = subscription.StatusActive
		sub.Touch(now)

		q.logger.Info("subscription extended",
			"tenant_id", tenantID,
			"days", days,
			"valid_to", validTo,
		)
		q.plugins.EmitSubscriptionExtended(ctx, sub, days)
		return sub, nil
	}

	return nil, fmt.Errorf("tollgate: extend subscription %s: too many concurrent updates", tenantID)
}

// AssertClientModuleAllowed fails unless the tenant's active plan includes
// the client module.
func (q *QuotaLedger) AssertClientModuleAllowed(ctx context.Context, tenantID string) error {
	sub, err := q.GetActiveSubscription(ctx, tenantID)
	if errors.Is(err, ErrNoActiveSubscription) {
		return ErrSubscriptionRequired
	}
	if err != nil {
		return err
	}
	p, ok := q.catalog.Lookup(sub.PlanCode)
	if !ok || !p.AllowsClientModule {
		return ErrPlanForbidsClients
	}
	return nil
}

// Summary describes the tenant's subscription and remaining quota.
func (q *QuotaLedger) Summary(ctx context.Context, tenantID string) (*Summary, error) {
	out := &Summary{Plans: q.catalog.List()}

	sub, err := q.GetActiveSubscription(ctx, tenantID)
	if errors.Is(err, ErrNoActiveSubscription) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	out.Active = true
	out.Subscription = sub
	if p, ok := q.catalog.Lookup(sub.PlanCode); ok {
		out.Plan = p
		out.RemainingInvoices = p.Remaining(plan.ResourceInvoice, sub.InvoicesUsed)
		out.RemainingActs = p.Remaining(plan.ResourceAct, sub.ActsUsed)
		out.AllowsClientModule = p.AllowsClientModule
	}
	return out, nil
}

// FreeTrialStatus reports which free-trial slots callerKey can still claim.
func (q *QuotaLedger) FreeTrialStatus(ctx context.Context, callerKey string) (*TrialStatus, error) {
	if callerKey == "" {
		return nil, ErrCallerKeyRequired
	}
	g, err := q.trials.GetFreeTrial(ctx, trial.HashKey(q.salt, callerKey))
	if errors.Is(err, ErrFreeTrialNotFound) {
		return &TrialStatus{InvoiceAvailable: true, ActAvailable: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &TrialStatus{
		InvoiceAvailable: g.InvoiceUsedAt == nil,
		ActAvailable:     g.ActUsedAt == nil,
	}, nil
}
