package tollgate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/xraph/tollgate/payment"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/plugin"
	"github.com/xraph/tollgate/subscription"
)

// ReasonIPNotAllowed is the Ack reason for callbacks from outside the
// allow-list.
const ReasonIPNotAllowed = "CALLBACK_IP_NOT_ALLOWED"

const (
	// DefaultSweepAge is how long an intent must sit unchanged before a
	// sweep looks at it.
	DefaultSweepAge = 2 * time.Minute
	// DefaultSweepBatch caps the intents one sweep pass handles per list.
	DefaultSweepBatch = 100
)

// Callback is an inbound gateway notification.
type Callback struct {
	Payload  []byte
	RemoteIP string
}

// Ack is the reply to a gateway callback. It is always sent with HTTP 200.
type Ack struct {
	OK      bool           `json:"ok"`
	Matched bool           `json:"matched"`
	Ignored bool           `json:"ignored,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Status  payment.Status `json:"status,omitempty"`
}

// SweepReport counts what one Sweep did.
type SweepReport struct {
	Checked      int `json:"checked"`
	Transitioned int `json:"transitioned"`
	Activated    int `json:"activated"`
	NeedsReview  int `json:"needs_review"`
	Failed       int `json:"failed"`
}

// Reconciler is the entry point for checkouts, gateway callbacks and the
// periodic sweep that catches lost callbacks.
type Reconciler struct {
	payments *Payments
	quota    *QuotaLedger
	plugins  *plugin.Registry
	logger   *slog.Logger
	now      func() time.Time

	allowedIPs  []netip.Prefix
	restrictIPs bool
	allowMock   bool
	sweepAge    time.Duration
	sweepBatch  int
}

// StartCheckout opens a gateway checkout for code.
func (r *Reconciler) StartCheckout(ctx context.Context, tenantID string, code plan.Code, callerIP string) (*Checkout, error) {
	return r.payments.Create(ctx, tenantID, code, callerIP)
}

// HandleCallback processes a gateway callback. It never fails: problems
// are logged and acknowledged so the gateway does not retry forever. The
// status embedded in the payload, if any, is ignored.
func (r *Reconciler) HandleCallback(ctx context.Context, cb Callback) Ack {
	var body struct {
		PaymentID string `json:"PaymentId"`
	}
	if err := json.Unmarshal(cb.Payload, &body); err != nil || strings.TrimSpace(body.PaymentID) == "" {
		return Ack{OK: true, Matched: false}
	}
	externalID := strings.TrimSpace(body.PaymentID)

	if !r.ipAllowed(cb.RemoteIP) {
		r.logger.Warn("callback from disallowed ip",
			"external_id", externalID,
			"remote_ip", cb.RemoteIP,
		)
		return Ack{OK: true, Matched: false, Ignored: true, Reason: ReasonIPNotAllowed}
	}

	res, err := r.payments.ReconcileByExternalID(ctx, externalID, cb.Payload)
	if err != nil {
		r.logger.Error("callback reconciliation failed",
			"external_id", externalID,
			"error", err,
		)
	}
	if res == nil {
		return Ack{OK: true, Matched: false}
	}

	r.plugins.EmitCallbackReceived(ctx, externalID, res.Matched)
	if !res.Matched {
		r.logger.Info("callback for unknown payment", "external_id", externalID)
		return Ack{OK: true, Matched: false}
	}
	return Ack{OK: true, Matched: true, Status: res.Status}
}

// Sweep re-reconciles stale non-terminal intents and retries activation of
// succeeded intents whose activation never went through.
func (r *Reconciler) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}
	cutoff := r.now().UTC().Add(-r.sweepAge)

	pending, err := r.payments.store.ListPendingIntents(ctx, cutoff, r.sweepBatch)
	if err != nil {
		return report, err
	}
	for _, in := range pending {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		res, err := r.payments.reconcile(ctx, in, nil)
		if err != nil {
			report.Failed++
			r.logger.Warn("sweep reconcile failed",
				"intent_id", in.ID.String(),
				"error", err,
			)
			continue
		}
		if res.Transitioned {
			report.Transitioned++
		}
		if res.Activated {
			report.Activated++
		}
		if res.NeedsReview {
			report.NeedsReview++
		}
	}

	unactivated, err := r.payments.store.ListUnactivatedIntents(ctx, cutoff, r.sweepBatch)
	if err != nil {
		return report, err
	}
	for _, in := range unactivated {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		activated, err := r.payments.activate(ctx, in)
		if err != nil {
			report.Failed++
			continue
		}
		if activated {
			report.Activated++
		}
	}

	if report.Checked > 0 {
		r.logger.Info("payment sweep finished",
			"checked", report.Checked,
			"transitioned", report.Transitioned,
			"activated", report.Activated,
			"needs_review", report.NeedsReview,
			"failed", report.Failed,
		)
	}
	return report, nil
}

// MockActivate activates code without a payment. It only works when mock
// billing is enabled.
func (r *Reconciler) MockActivate(ctx context.Context, tenantID string, code plan.Code) (*subscription.Subscription, error) {
	if !r.allowMock {
		return nil, ErrMockBillingDisabled
	}
	r.logger.Warn("mock billing activation", "tenant_id", tenantID, "plan", code)
	return r.quota.Activate(ctx, tenantID, code)
}

// ipAllowed reports whether ip may deliver callbacks. An empty allow-list
// admits everyone.
func (r *Reconciler) ipAllowed(ip string) bool {
	if !r.restrictIPs {
		return true
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range r.allowedIPs {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// parseAllowList accepts single addresses and CIDR prefixes. Invalid
// entries are skipped and returned separately.
func parseAllowList(entries []string) (allowed []netip.Prefix, invalid []string) {
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				invalid = append(invalid, e)
				continue
			}
			allowed = append(allowed, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			invalid = append(invalid, e)
			continue
		}
		a = a.Unmap()
		allowed = append(allowed, netip.PrefixFrom(a, a.BitLen()))
	}
	return allowed, invalid
}
