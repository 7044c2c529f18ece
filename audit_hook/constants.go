package audithook

// Action constants for audit events.
const (
	// Subscription actions
	ActionSubscriptionActivated = "subscription.activated"
	ActionSubscriptionCanceled  = "subscription.canceled"
	ActionSubscriptionExtended  = "subscription.extended"

	// Quota actions
	ActionQuotaReserved      = "quota.reserved"
	ActionQuotaExhausted     = "quota.exhausted"
	ActionFreeTrialGranted   = "free_trial.granted"
	ActionFreeTrialExhausted = "free_trial.exhausted"

	// Document actions
	ActionDocumentNumbered = "document.numbered"
	ActionNumberConflict   = "document.number_conflict"

	// Payment actions
	ActionPaymentCreated      = "payment.created"
	ActionPaymentTransitioned = "payment.transitioned"
	ActionPaymentReview       = "payment.needs_review"
	ActionCallbackReceived    = "callback.received"
)

// Resource constants for audit events.
const (
	ResourceSubscription = "subscription"
	ResourceQuota        = "quota"
	ResourceFreeTrial    = "free_trial"
	ResourceDocument     = "document"
	ResourcePayment      = "payment"
	ResourceCallback     = "callback"
)

// Category constants for audit events.
const (
	CategorySubscription = "subscription"
	CategoryUsage        = "usage"
	CategoryAccess       = "access"
	CategoryDocument     = "document"
	CategoryPayment      = "payment"
	CategoryIntegration  = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
