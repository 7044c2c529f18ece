package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/tollgate"
	"github.com/xraph/tollgate/document"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/subscription"
)

type planRequest struct {
	PlanCode plan.Code `json:"plan_code"`
}

type reserveRequest struct {
	Resource plan.Resource `json:"resource"`
}

type documentRequest struct {
	Kind              plan.Resource     `json:"kind"`
	RegistrationID    string            `json:"registration_id"`
	CounterpartyTaxID string            `json:"counterparty_tax_id"`
	Metadata          map[string]string `json:"metadata"`
}

type documentResponse struct {
	Document    *document.Document    `json:"document"`
	Reservation *tollgate.Reservation `json:"reservation"`
}

// adminRequest drives POST /admin/subscriptions/{tenantID}.
type adminRequest struct {
	Action   string    `json:"action"`
	PlanCode plan.Code `json:"plan_code,omitempty"`
	Days     int       `json:"days,omitempty"`
}

type adminResponse struct {
	Action       string                     `json:"action"`
	Subscription *subscription.Subscription `json:"subscription,omitempty"`
}

func (a *API) handleListPlans(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, a.engine.Plans().List())
}

func (a *API) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantFromContext(r.Context())
	summary, err := a.engine.Quota().Summary(r.Context(), tenantID)
	if err != nil {
		a.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (a *API) handleMockActivate(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantFromContext(r.Context())
	var req planRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sub, err := a.engine.Reconciler().MockActivate(r.Context(), tenantID, req.PlanCode)
	if err != nil {
		a.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

func (a *API) handleFreeTrialStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.engine.Quota().FreeTrialStatus(r.Context(), a.callerKey(r))
	if err != nil {
		a.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

func (a *API) handleReserve(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantFromContext(r.Context())
	var req reserveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := a.engine.Quota().Reserve(r.Context(), tenantID, req.Resource, a.callerKey(r))
	if err != nil {
		a.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (a *API) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantFromContext(r.Context())
	var req documentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	doc := &document.Document{
		TenantID:          tenantID,
		Kind:              req.Kind,
		RegistrationID:    strings.TrimSpace(req.RegistrationID),
		CounterpartyTaxID: strings.TrimSpace(req.CounterpartyTaxID),
		Metadata:          req.Metadata,
	}
	res, err := a.engine.IssueDocument(r.Context(), doc, a.callerKey(r))
	if err != nil {
		a.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, documentResponse{Document: doc, Reservation: res})
}

func (a *API) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantFromContext(r.Context())
	q := r.URL.Query()

	opts := document.ListOpts{Kind: plan.Resource(q.Get("kind"))}
	if opts.Kind != "" && !opts.Kind.Valid() {
		respondWithError(w, http.StatusBadRequest, "unknown_resource", "unknown kind "+string(opts.Kind))
		return
	}
	var ok bool
	if opts.Limit, ok = intParam(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if opts.Offset, ok = intParam(w, q.Get("offset"), "offset"); !ok {
		return
	}

	docs, err := a.engine.Sequencer().List(r.Context(), tenantID, opts)
	if err != nil {
		a.respondWithEngineError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*document.Document{}
	}
	respondWithJSON(w, http.StatusOK, docs)
}

func (a *API) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantFromContext(r.Context())
	doc, err := a.engine.Sequencer().Get(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		a.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, doc)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantFromContext(r.Context())
	var req planRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	co, err := a.engine.Reconciler().StartCheckout(r.Context(), tenantID, req.PlanCode, a.clientIP(r))
	if err != nil {
		a.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, co)
}

// handleCallback always answers 200 so the gateway stops retrying. The
// Ack body says what happened.
func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		a.logger.Warn("callback body unreadable", "error", err)
	}
	ack := a.engine.Reconciler().HandleCallback(r.Context(), tollgate.Callback{
		Payload:  payload,
		RemoteIP: a.clientIP(r),
	})
	respondWithJSON(w, http.StatusOK, ack)
}

func (a *API) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantFromContext(r.Context())
	in, err := a.engine.Payments().Get(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		a.respondWithEngineError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, in)
}

func (a *API) handleAdminSubscription(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	var req adminRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	quota := a.engine.Quota()
	var (
		sub *subscription.Subscription
		err error
	)
	switch strings.ToLower(req.Action) {
	case "set":
		sub, err = quota.ActivateFor(r.Context(), tenantID, req.PlanCode, req.Days)
	case "extend":
		sub, err = quota.Extend(r.Context(), tenantID, req.Days)
	case "cancel":
		err = quota.Cancel(r.Context(), tenantID)
	default:
		respondWithError(w, http.StatusBadRequest, "unknown_action", "action must be set, extend or cancel")
		return
	}
	if err != nil {
		a.respondWithEngineError(w, r, err)
		return
	}

	a.logger.Info("admin subscription change",
		"tenant_id", tenantID,
		"action", req.Action,
		"plan", req.PlanCode,
		"days", req.Days,
	)
	respondWithJSON(w, http.StatusOK, adminResponse{Action: strings.ToLower(req.Action), Subscription: sub})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		respondWithError(w, http.StatusBadRequest, "invalid_input", name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
