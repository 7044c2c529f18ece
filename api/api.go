// Package api exposes the tollgate engine over HTTP.
//
// The router is a plain chi.Router, so hosts can mount it under any base
// path. Tenant identity is read from the X-Tenant-ID header, which the
// host's authentication layer is expected to set. The caller IP is the
// socket peer address and doubles as the free-trial caller key; forwarding
// headers are only read when the peer is a proxy listed with
// WithTrustedProxies.
package api

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/tollgate"
	"github.com/xraph/tollgate/ratelimit"
)

// TenantHeader carries the authenticated tenant id.
const TenantHeader = "X-Tenant-ID"

// AdminTokenHeader carries the admin token for /admin routes.
const AdminTokenHeader = "X-Admin-Token"

// maxCallbackBody caps the size of a gateway callback body.
const maxCallbackBody = 64 << 10

var (
	// DefaultReserveRule limits quota reservations per caller IP.
	DefaultReserveRule = ratelimit.Rule{Limit: 60, Window: time.Minute}
	// DefaultCheckoutRule limits checkouts per tenant.
	DefaultCheckoutRule = ratelimit.Rule{Limit: 10, Window: time.Minute}
)

// API serves the engine's HTTP surface.
type API struct {
	engine  *tollgate.Tollgate
	logger  *slog.Logger
	timeout time.Duration

	adminToken string

	trustedProxies []string
	trusted        []netip.Prefix

	limiter      *ratelimit.Limiter
	reserveRule  ratelimit.Rule
	checkoutRule ratelimit.Rule
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger for request failures.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithAdminToken enables the /admin routes. Without a token they answer
// 403.
func WithAdminToken(token string) Option {
	return func(a *API) { a.adminToken = token }
}

// WithRateLimiter throttles reservations and checkouts. A zero Rule keeps
// the default for that route.
func WithRateLimiter(l *ratelimit.Limiter, reserve, checkout ratelimit.Rule) Option {
	return func(a *API) {
		a.limiter = l
		if reserve.Limit > 0 {
			a.reserveRule = reserve
		}
		if checkout.Limit > 0 {
			a.checkoutRule = checkout
		}
	}
}

// WithTrustedProxies lists the proxies whose X-Forwarded-For and X-Real-IP
// headers are believed. Entries are CIDR prefixes or single addresses.
// Without it the socket peer address is always the caller IP.
func WithTrustedProxies(cidrs ...string) Option {
	return func(a *API) { a.trustedProxies = append(a.trustedProxies, cidrs...) }
}

// WithTimeout bounds every request. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *API) { a.timeout = d }
}

// New creates an API over engine.
func New(engine *tollgate.Tollgate, opts ...Option) *API {
	a := &API{
		engine:       engine,
		logger:       slog.Default(),
		timeout:      60 * time.Second,
		reserveRule:  DefaultReserveRule,
		checkoutRule: DefaultCheckoutRule,
	}
	for _, opt := range opts {
		opt(a)
	}
	for _, raw := range a.trustedProxies {
		p, err := parsePrefix(raw)
		if err != nil {
			a.logger.Warn("ignoring invalid trusted proxy", "entry", raw, "error", err)
			continue
		}
		a.trusted = append(a.trusted, p)
	}
	return a
}

// Handler returns the router.
func (a *API) Handler() http.Handler { return a.Router() }

// Router builds the chi router with all routes registered.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if a.timeout > 0 {
		r.Use(middleware.Timeout(a.timeout))
	}

	r.Get("/plans", a.handleListPlans)

	// The gateway calls this without tenant context.
	r.Post("/billing/tbc/callback", a.handleCallback)

	r.Group(func(r chi.Router) {
		r.Use(a.requireTenant)

		r.Get("/subscription", a.handleGetSubscription)
		r.Post("/subscription/mock-activate", a.handleMockActivate)
		r.Get("/quota/free-trial", a.handleFreeTrialStatus)
		r.With(a.limit("reserve", a.reserveRule, a.callerKey)).Post("/quota/reserve", a.handleReserve)

		r.Post("/documents", a.handleCreateDocument)
		r.Get("/documents", a.handleListDocuments)
		r.Get("/documents/{id}", a.handleGetDocument)

		r.With(a.limit("checkout", a.checkoutRule, tenantKey)).Post("/billing/tbc/checkout", a.handleCheckout)
		r.Get("/billing/payments/{id}", a.handleGetPayment)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.requireAdmin)
		r.Post("/admin/subscriptions/{tenantID}", a.handleAdminSubscription)
	})

	return r
}

func (a *API) limit(scope string, rule ratelimit.Rule, key ratelimit.KeyFunc) func(http.Handler) http.Handler {
	if a.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return ratelimit.Middleware(a.limiter, scope, rule, key, a.logger)
}
