package payment

import (
	"context"
	"time"
)

type Store interface {
	CreateIntent(ctx context.Context, in *Intent) error
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
	GetIntentByExternalID(ctx context.Context, externalID string) (*Intent, error)

	// AttachExternalPayment stores the gateway id and approval url and moves
	// the intent to REDIRECT_REQUIRED, only while it is still CREATED with no
	// external id. It reports whether the row changed.
	AttachExternalPayment(ctx context.Context, intentID, externalID, approvalURL string, now time.Time) (bool, error)

	// TransitionIntent moves the intent from -> to only if its stored status
	// is still from. The payload and raw gateway status are recorded with the
	// move.
	TransitionIntent(ctx context.Context, intentID string, from, to Status, payload []byte, gatewayStatus string, now time.Time) (bool, error)

	// RecordCallback stores the payload without touching the status.
	RecordCallback(ctx context.Context, intentID string, payload []byte, now time.Time) error

	FlagIntentForReview(ctx context.Context, intentID, gatewayStatus, reason string, payload []byte, now time.Time) error

	// ClaimActivation sets activated_at if it is still unset and the intent
	// is SUCCEEDED. ReleaseActivation clears it again.
	ClaimActivation(ctx context.Context, intentID string, now time.Time) (bool, error)
	ReleaseActivation(ctx context.Context, intentID string) error

	// ListPendingIntents returns non-terminal intents that have an external
	// id and were last updated before olderThan.
	ListPendingIntents(ctx context.Context, olderThan time.Time, limit int) ([]*Intent, error)

	// ListUnactivatedIntents returns SUCCEEDED intents with no activation
	// claim that were last updated before olderThan.
	ListUnactivatedIntents(ctx context.Context, olderThan time.Time, limit int) ([]*Intent, error)
}
