package tollgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/xraph/tollgate/gateway"
	"github.com/xraph/tollgate/id"
	"github.com/xraph/tollgate/payment"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/plugin"
	"github.com/xraph/tollgate/types"
)

// DefaultGatewayTimeout bounds every gateway call.
const DefaultGatewayTimeout = 15 * time.Second

// DefaultAPIBaseURL is used for the callback url when neither a callback
// url nor an API base url is configured.
const DefaultAPIBaseURL = "http://localhost:3001"

const callbackPath = "/billing/tbc/callback"

var errWebBaseURLMissing = errors.New("tollgate: web base url is not configured")

// Checkout is the result of starting a payment.
type Checkout struct {
	Intent      *payment.Intent `json:"intent"`
	ApprovalURL string          `json:"approval_url"`
}

// ReconcileResult describes what a reconciliation did.
type ReconcileResult struct {
	Matched      bool            `json:"matched"`
	Intent       *payment.Intent `json:"intent,omitempty"`
	Status       payment.Status  `json:"status,omitempty"`
	Transitioned bool            `json:"transitioned"`
	Activated    bool            `json:"activated"`
	NeedsReview  bool            `json:"needs_review"`
}

// Payments drives payment intents through their status machine. The
// gateway is the only source of truth for a payment's status; transitions
// are compare-and-swap writes on the previous status.
type Payments struct {
	store     payment.Store
	gateway   gateway.Client
	activator Activator
	catalog   *plan.Catalog
	plugins   *plugin.Registry
	logger    *slog.Logger
	now       func() time.Time

	timeout     time.Duration
	webBaseURL  string
	apiBaseURL  string
	callbackURL string
}

// Create opens a checkout for code. The intent is persisted as CREATED
// before the gateway is called; a gateway failure leaves it there.
func (p *Payments) Create(ctx context.Context, tenantID string, code plan.Code, callerIP string) (*Checkout, error) {
	if tenantID == "" {
		return nil, ValidationError{Field: "tenant_id", Message: "required"}
	}
	pl, ok := p.catalog.Lookup(code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, code)
	}
	if p.gateway == nil {
		return nil, fmt.Errorf("%w: no gateway configured", ErrGatewayUnavailable)
	}
	if p.webBaseURL == "" {
		return nil, errWebBaseURLMissing
	}

	now := p.now().UTC()
	in := &payment.Intent{
		Entity:   types.NewEntity(now),
		ID:       id.NewPaymentIntentID(),
		TenantID: tenantID,
		PlanCode: pl.Code,
		Amount:   pl.Price,
		Status:   payment.StatusCreated,
	}
	if err := p.store.CreateIntent(ctx, in); err != nil {
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.gateway.CreatePayment(gctx, gateway.CreatePaymentRequest{
		Amount:            pl.Price,
		ReturnURL:         p.returnURL(in.ID.String()),
		CallbackURL:       p.callbackTarget(),
		MerchantPaymentID: in.ID.String(),
		Description:       "Subscription " + string(pl.Code),
		UserIPAddress:     callerIP,
		Language:          "KA",
	})
	if err != nil {
		err = classifyGatewayError(err)
		p.logger.Warn("gateway create payment failed",
			"intent_id", in.ID.String(),
			"tenant_id", tenantID,
			"error", err,
		)
		return nil, err
	}

	now = p.now().UTC()
	attached, err := p.store.AttachExternalPayment(ctx, in.ID.String(), res.ExternalID, res.ApprovalURL, now)
	if err != nil {
		return nil, err
	}
	if !attached {
		return nil, fmt.Errorf("%w: intent %s is no longer awaiting checkout", ErrInvalidTransition, in.ID)
	}

	in.ExternalPaymentID = res.ExternalID
	in.ApprovalURL = res.ApprovalURL
	in.GatewayStatus = res.Status
	in.Status = payment.StatusRedirectRequired
	in.Touch(now)

	p.logger.Info("payment intent created",
		"intent_id", in.ID.String(),
		"tenant_id", tenantID,
		"plan", pl.Code,
		"external_id", res.ExternalID,
	)
	p.plugins.EmitPaymentIntentCreated(ctx, in)
	p.plugins.EmitPaymentTransitioned(ctx, in, payment.StatusCreated)

	return &Checkout{Intent: in, ApprovalURL: res.ApprovalURL}, nil
}

// Get returns the tenant's intent. Intents of other tenants are reported
// as ErrPaymentNotFound.
func (p *Payments) Get(ctx context.Context, tenantID, intentID string) (*payment.Intent, error) {
	in, err := p.store.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if in.TenantID != tenantID {
		return nil, ErrPaymentNotFound
	}
	return in, nil
}

// ReconcileByExternalID queries the gateway for the payment and applies the
// resulting status. An unknown id is not an error; the result is simply
// unmatched.
func (p *Payments) ReconcileByExternalID(ctx context.Context, externalID string, payload []byte) (*ReconcileResult, error) {
	in, err := p.store.GetIntentByExternalID(ctx, externalID)
	if errors.Is(err, ErrPaymentNotFound) {
		return &ReconcileResult{Matched: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return p.reconcile(ctx, in, payload)
}

func (p *Payments) reconcile(ctx context.Context, in *payment.Intent, payload []byte) (*ReconcileResult, error) {
	out := &ReconcileResult{Matched: true, Intent: in, Status: in.Status}

	if in.IsTerminal() {
		if len(payload) > 0 {
			if err := p.store.RecordCallback(ctx, in.ID.String(), payload, p.now().UTC()); err != nil {
				return out, err
			}
		}
		return out, nil
	}

	gctx, cancel := context.WithTimeout(ctx, p.timeout)
	st, err := p.gateway.GetPaymentStatus(gctx, in.ExternalPaymentID)
	cancel()
	if err != nil {
		err = classifyGatewayError(err)
		p.logger.Warn("gateway status query failed",
			"intent_id", in.ID.String(),
			"external_id", in.ExternalPaymentID,
			"error", err,
		)
		return out, err
	}

	if len(st.Raw) > 0 {
		payload = st.Raw
	}
	now := p.now().UTC()

	to, known := payment.MapGatewayStatus(st.Status)
	if !known {
		reason := fmt.Sprintf("unrecognized gateway status %q", st.Status)
		if err := p.store.FlagIntentForReview(ctx, in.ID.String(), st.Status, reason, payload, now); err != nil {
			return out, err
		}
		in.GatewayStatus = st.Status
		in.ReviewReason = reason
		p.logger.Warn("payment needs review",
			"intent_id", in.ID.String(),
			"external_id", in.ExternalPaymentID,
			"gateway_status", st.Status,
		)
		p.plugins.EmitPaymentNeedsReview(ctx, in, st.Status)
		out.NeedsReview = true
		return out, nil
	}

	from := in.Status
	if !payment.CanTransition(from, to) {
		if len(payload) > 0 {
			if err := p.store.RecordCallback(ctx, in.ID.String(), payload, now); err != nil {
				return out, err
			}
		}
		return out, nil
	}

	moved, err := p.store.TransitionIntent(ctx, in.ID.String(), from, to, payload, st.Status, now)
	if err != nil {
		return out, err
	}
	if !moved {
		// Someone else moved the intent first; report where it is now.
		current, err := p.store.GetIntent(ctx, in.ID.String())
		if err != nil {
			return out, err
		}
		out.Intent = current
		out.Status = current.Status
		return out, nil
	}

	in.Status = to
	in.GatewayStatus = st.Status
	in.Touch(now)
	out.Status = to
	out.Transitioned = true

	p.logger.Info("payment transitioned",
		"intent_id", in.ID.String(),
		"external_id", in.ExternalPaymentID,
		"from", from,
		"to", to,
		"gateway_status", st.Status,
	)
	p.plugins.EmitPaymentTransitioned(ctx, in, from)

	if to == payment.StatusSucceeded {
		activated, err := p.activate(ctx, in)
		out.Activated = activated
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// activate claims the intent's activation and activates its plan. A failed
// activation releases the claim so a later sweep retries it.
func (p *Payments) activate(ctx context.Context, in *payment.Intent) (bool, error) {
	now := p.now().UTC()
	claimed, err := p.store.ClaimActivation(ctx, in.ID.String(), now)
	if err != nil || !claimed {
		return false, err
	}

	if _, err := p.activator.Activate(ctx, in.TenantID, in.PlanCode); err != nil {
		p.logger.Error("subscription activation failed",
			"intent_id", in.ID.String(),
			"tenant_id", in.TenantID,
			"plan", in.PlanCode,
			"error", err,
		)
		if rerr := p.store.ReleaseActivation(ctx, in.ID.String()); rerr != nil {
			p.logger.Error("release activation claim failed",
				"intent_id", in.ID.String(),
				"error", rerr,
			)
		}
		return false, err
	}

	in.ActivatedAt = &now
	return true, nil
}

func (p *Payments) returnURL(intentID string) string {
	return strings.TrimRight(p.webBaseURL, "/") +
		"/cabinet/subscription?checkout=return&intent=" + url.QueryEscape(intentID)
}

func (p *Payments) callbackTarget() string {
	if p.callbackURL != "" {
		return p.callbackURL
	}
	base := p.apiBaseURL
	if base == "" {
		base = DefaultAPIBaseURL
	}
	return strings.TrimRight(base, "/") + callbackPath
}

// classifyGatewayError maps transport failures, timeouts included, onto
// ErrGatewayUnavailable.
func classifyGatewayError(err error) error {
	if errors.Is(err, ErrGatewayUnavailable) || errors.Is(err, ErrGatewayBadResponse) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}
