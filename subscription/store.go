package subscription

import (
	"context"
	"time"

	"github.com/xraph/tollgate/plan"
)

// Store persists subscriptions. Every mutation is a single conditional
// statement in the backend.
type Store interface {
	// GetSubscription returns the tenant's subscription in any status.
	GetSubscription(ctx context.Context, tenantID string) (*Subscription, error)

	// UpsertSubscription creates or overwrites the tenant's row with s,
	// keeping the original ID and CreatedAt of an existing row.
	UpsertSubscription(ctx context.Context, s *Subscription) error

	// IncrementUsage adds one to the counter for r when the counter is below
	// limit and the subscription is ACTIVE with valid_to after now. It returns
	// the new counter value, or an ErrQuotaExhausted when no row matched.
	IncrementUsage(ctx context.Context, tenantID string, r plan.Resource, limit int64, now time.Time) (int64, error)

	// CancelSubscription marks the row CANCELED with valid_to = at.
	CancelSubscription(ctx context.Context, tenantID string, at time.Time) error

	// SwapValidity sets valid_to and status ACTIVE only when the stored
	// valid_to still equals expected. It reports whether the swap happened.
	SwapValidity(ctx context.Context, tenantID string, expected, validTo time.Time, now time.Time) (bool, error)
}
