package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xraph/tollgate"
)

// ErrorResponse is the body of every non-2xx answer. Code is stable;
// Message is for humans.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{tollgate.ErrPlanForbidsClients, http.StatusForbidden, "plan_forbids_clients"},
	{tollgate.ErrQuotaExhausted, http.StatusPaymentRequired, "quota_exhausted"},
	{tollgate.ErrFreeTrialExhausted, http.StatusPaymentRequired, "free_trial_exhausted"},
	{tollgate.ErrCallerKeyRequired, http.StatusPaymentRequired, "caller_key_required"},
	{tollgate.ErrSubscriptionRequired, http.StatusPaymentRequired, "subscription_required"},
	{tollgate.ErrNumberGenerationFailed, http.StatusConflict, "numbering_conflict"},
	{tollgate.ErrDocumentNumberTaken, http.StatusConflict, "numbering_conflict"},
	{tollgate.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{tollgate.ErrMockBillingDisabled, http.StatusForbidden, "mock_billing_disabled"},
	{tollgate.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{tollgate.ErrSubscriptionNotFound, http.StatusNotFound, "subscription_not_found"},
	{tollgate.ErrNoActiveSubscription, http.StatusNotFound, "subscription_not_found"},
	{tollgate.ErrDocumentNotFound, http.StatusNotFound, "document_not_found"},
	{tollgate.ErrPaymentNotFound, http.StatusNotFound, "payment_not_found"},
	{tollgate.ErrGatewayUnavailable, http.StatusServiceUnavailable, "gateway_unavailable"},
	{tollgate.ErrGatewayBadResponse, http.StatusBadGateway, "gateway_bad_response"},
	{tollgate.ErrUnknownPlan, http.StatusBadRequest, "unknown_plan"},
	{tollgate.ErrUnknownResource, http.StatusBadRequest, "unknown_resource"},
	{tollgate.ErrInvalidDays, http.StatusBadRequest, "invalid_days"},
	{tollgate.ErrStoreNotReady, http.StatusServiceUnavailable, "unavailable"},
}

// statusFor maps an engine error to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	switch {
	case tollgate.IsValidation(err):
		return http.StatusBadRequest, "invalid_input"
	case tollgate.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case tollgate.IsQuotaError(err):
		return http.StatusPaymentRequired, "quota_exceeded"
	case tollgate.IsRetryable(err):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

func (a *API) respondWithEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	body := ErrorResponse{Code: code, Message: err.Error()}

	var ve tollgate.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		body.Message = "internal error"
	}
	respondWithJSON(w, status, body)
}

func respondWithError(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// respondWithJSON writes payload as JSON with the given status.
func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
