package trial

import (
	"context"
	"time"

	"github.com/xraph/tollgate/plan"
)

type Store interface {
	// ClaimFreeTrial creates the grant for keyHash if missing and sets the
	// slot for r to at when it is still empty, in one atomic operation.
	// It reports whether this call won the slot.
	ClaimFreeTrial(ctx context.Context, keyHash string, r plan.Resource, at time.Time) (bool, error)

	// GetFreeTrial returns the grant for keyHash or ErrFreeTrialNotFound.
	GetFreeTrial(ctx context.Context, keyHash string) (*Grant, error)
}
