package tollgate

import (
	"errors"
	"fmt"

	"github.com/xraph/tollgate/gateway"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("tollgate: not found")
	ErrInvalidInput = errors.New("tollgate: invalid input")
	ErrUnauthorized = errors.New("tollgate: unauthorized")

	// Plan errors
	ErrUnknownPlan = errors.New("tollgate: unknown plan")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("tollgate: subscription not found")
	ErrNoActiveSubscription = errors.New("tollgate: no active subscription")
	ErrSubscriptionRequired = errors.New("tollgate: active subscription required")
	ErrPlanForbidsClients   = errors.New("tollgate: plan does not include the client module")
	ErrInvalidDays          = errors.New("tollgate: days must be positive")

	// Quota errors
	ErrQuotaExhausted     = errors.New("tollgate: quota exhausted")
	ErrFreeTrialExhausted = errors.New("tollgate: free trial already used")
	ErrFreeTrialNotFound  = errors.New("tollgate: free trial grant not found")
	ErrCallerKeyRequired  = errors.New("tollgate: caller key required for free trial")
	ErrUnknownResource    = errors.New("tollgate: unknown resource")

	// Document errors
	ErrDocumentNotFound       = errors.New("tollgate: document not found")
	ErrDocumentNumberTaken    = errors.New("tollgate: document number already taken")
	ErrNumberGenerationFailed = errors.New("tollgate: could not allocate a document number")

	// Payment errors
	ErrPaymentNotFound     = errors.New("tollgate: payment intent not found")
	ErrInvalidTransition   = errors.New("tollgate: invalid payment status transition")
	ErrMockBillingDisabled = errors.New("tollgate: mock billing is disabled")
	ErrGatewayUnavailable  = gateway.ErrUnavailable
	ErrGatewayBadResponse  = gateway.ErrBadResponse

	// Store errors
	ErrStoreNotReady   = errors.New("tollgate: store not ready")
	ErrStoreClosed     = errors.New("tollgate: store is closed")
	ErrMigrationFailed = errors.New("tollgate: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("tollgate: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrNoActiveSubscription) ||
		errors.Is(err, ErrFreeTrialNotFound) ||
		errors.Is(err, ErrDocumentNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}

// IsQuotaError returns true if the caller must upgrade or subscribe to
// proceed.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrQuotaExhausted) ||
		errors.Is(err, ErrFreeTrialExhausted) ||
		errors.Is(err, ErrCallerKeyRequired) ||
		errors.Is(err, ErrSubscriptionRequired) ||
		errors.Is(err, ErrPlanForbidsClients)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable) ||
		errors.Is(err, ErrNumberGenerationFailed) ||
		errors.Is(err, ErrStoreNotReady)
}

// IsValidation returns true for malformed input.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidDays) ||
		errors.Is(err, ErrUnknownResource) ||
		errors.Is(err, ErrUnknownPlan)
}
