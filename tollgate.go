package tollgate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xraph/tollgate/document"
	"github.com/xraph/tollgate/gateway"
	"github.com/xraph/tollgate/plan"
	"github.com/xraph/tollgate/plugin"
	"github.com/xraph/tollgate/store"
	"github.com/xraph/tollgate/trial"
)

// DefaultSweepSchedule runs the payment sweep every minute.
const DefaultSweepSchedule = "@every 1m"

// Tollgate is the quota and payment reconciliation engine.
type Tollgate struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	catalog *plan.Catalog
	gateway gateway.Client
	now     func() time.Time

	quota      *QuotaLedger
	sequencer  *Sequencer
	payments   *Payments
	reconciler *Reconciler

	// Background sweep
	cron *cron.Cron
	mu   sync.Mutex

	// Configuration
	ipHashSalt         string
	numberingAttempts  int
	numberingBackoff   func(attempt int) time.Duration
	gatewayTimeout     time.Duration
	callbackAllowedIPs []string
	webBaseURL         string
	apiBaseURL         string
	callbackURL        string
	allowMockBilling   bool
	sweepSchedule      string
	sweepAge           time.Duration
	sweepBatch         int
	skipMigrate        bool
}

// New creates a new Tollgate instance.
func New(s store.Store, opts ...Option) *Tollgate {
	t := &Tollgate{
		store:             s,
		plugins:           plugin.NewRegistry(),
		logger:            slog.Default(),
		catalog:           plan.Default(),
		now:               time.Now,
		ipHashSalt:        trial.DefaultSalt,
		numberingAttempts: DefaultNumberingAttempts,
		gatewayTimeout:    DefaultGatewayTimeout,
		sweepSchedule:     DefaultSweepSchedule,
		sweepAge:          DefaultSweepAge,
		sweepBatch:        DefaultSweepBatch,
	}

	for _, opt := range opts {
		opt(t)
	}

	t.quota = &QuotaLedger{
		subs:    s,
		trials:  s,
		catalog: t.catalog,
		plugins: t.plugins,
		logger:  t.logger,
		now:     t.now,
		salt:    t.ipHashSalt,
	}
	t.sequencer = &Sequencer{
		docs:        s,
		plugins:     t.plugins,
		logger:      t.logger,
		now:         t.now,
		MaxAttempts: t.numberingAttempts,
		Backoff:     t.numberingBackoff,
	}
	t.payments = &Payments{
		store:       s,
		gateway:     t.gateway,
		activator:   t.quota,
		catalog:     t.catalog,
		plugins:     t.plugins,
		logger:      t.logger,
		now:         t.now,
		timeout:     t.gatewayTimeout,
		webBaseURL:  t.webBaseURL,
		apiBaseURL:  t.apiBaseURL,
		callbackURL: t.callbackURL,
	}

	allowed, invalid := parseAllowList(t.callbackAllowedIPs)
	for _, e := range invalid {
		t.logger.Warn("ignoring invalid callback allow-list entry", "entry", e)
	}
	t.reconciler = &Reconciler{
		payments:    t.payments,
		quota:       t.quota,
		plugins:     t.plugins,
		logger:      t.logger,
		now:         t.now,
		allowedIPs:  allowed,
		restrictIPs: len(allowed)+len(invalid) > 0,
		allowMock:   t.allowMockBilling,
		sweepAge:    t.sweepAge,
		sweepBatch:  t.sweepBatch,
	}

	return t
}

// Option configures a Tollgate instance.
type Option func(*Tollgate)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tollgate) {
		t.logger = logger
		t.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(t *Tollgate) {
		_ = t.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithCatalog replaces the built-in plan catalog.
func WithCatalog(c *plan.Catalog) Option {
	return func(t *Tollgate) {
		if c != nil {
			t.catalog = c
		}
	}
}

// WithGateway sets the payment gateway client.
func WithGateway(g gateway.Client) Option {
	return func(t *Tollgate) { t.gateway = g }
}

// WithGatewayTimeout bounds each gateway call.
func WithGatewayTimeout(d time.Duration) Option {
	return func(t *Tollgate) {
		if d > 0 {
			t.gatewayTimeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tollgate) {
		if now != nil {
			t.now = now
		}
	}
}

// WithIPHashSalt sets the salt mixed into free-trial key hashes.
func WithIPHashSalt(salt string) Option {
	return func(t *Tollgate) { t.ipHashSalt = salt }
}

// WithNumbering sets the retry budget and backoff of document numbering.
func WithNumbering(maxAttempts int, backoff func(attempt int) time.Duration) Option {
	return func(t *Tollgate) {
		if maxAttempts > 0 {
			t.numberingAttempts = maxAttempts
		}
		t.numberingBackoff = backoff
	}
}

// WithCallbackAllowedIPs restricts gateway callbacks to the given addresses
// or CIDR prefixes. An empty list admits every caller.
func WithCallbackAllowedIPs(ips ...string) Option {
	return func(t *Tollgate) { t.callbackAllowedIPs = ips }
}

// WithURLs sets the public web base url (for checkout return links), the
// API base url and an explicit callback url. Empty values keep defaults.
func WithURLs(webBaseURL, apiBaseURL, callbackURL string) Option {
	return func(t *Tollgate) {
		if webBaseURL != "" {
			t.webBaseURL = webBaseURL
		}
		if apiBaseURL != "" {
			t.apiBaseURL = apiBaseURL
		}
		if callbackURL != "" {
			t.callbackURL = callbackURL
		}
	}
}

// WithMockBilling enables MockActivate.
func WithMockBilling(enabled bool) Option {
	return func(t *Tollgate) { t.allowMockBilling = enabled }
}

// WithSweep configures the background payment sweep. An empty schedule
// disables it. schedule accepts robfig/cron specs such as "@every 30s".
func WithSweep(schedule string, age time.Duration, batch int) Option {
	return func(t *Tollgate) {
		t.sweepSchedule = strings.TrimSpace(schedule)
		if age > 0 {
			t.sweepAge = age
		}
		if batch > 0 {
			t.sweepBatch = batch
		}
	}
}

// WithoutMigrate skips store migrations in Start.
func WithoutMigrate() Option {
	return func(t *Tollgate) { t.skipMigrate = true }
}

// Start migrates the store, notifies plugins and schedules the sweep.
func (t *Tollgate) Start(ctx context.Context) error {
	if !t.skipMigrate {
		if err := t.store.Migrate(ctx); err != nil {
			return err
		}
	}

	t.plugins.EmitInit(ctx, t)

	if t.sweepSchedule != "" && t.gateway != nil {
		c := cron.New(cron.WithChain(
			cron.Recover(cronLogger{t.logger}),
			cron.SkipIfStillRunning(cronLogger{t.logger}),
		))
		if _, err := c.AddFunc(t.sweepSchedule, t.runSweep); err != nil {
			return fmt.Errorf("tollgate: invalid sweep schedule %q: %w", t.sweepSchedule, err)
		}
		t.mu.Lock()
		t.cron = c
		t.mu.Unlock()
		c.Start()
	}

	t.logger.Info("tollgate started",
		"plans", len(t.catalog.List()),
		"gateway", t.gateway != nil,
		"sweep_schedule", t.sweepSchedule,
		"mock_billing", t.allowMockBilling,
	)

	return nil
}

// Stop waits for a running sweep, notifies plugins and closes the store.
func (t *Tollgate) Stop() error {
	t.mu.Lock()
	c := t.cron
	t.cron = nil
	t.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}

	ctx := context.Background()
	t.plugins.EmitShutdown(ctx)

	return t.store.Close()
}

func (t *Tollgate) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*t.gatewayTimeout)
	defer cancel()
	if _, err := t.reconciler.Sweep(ctx); err != nil {
		t.logger.Warn("payment sweep failed", "error", err)
	}
}

// ──────────────────────────────────────────────────
// Components
// ──────────────────────────────────────────────────

// Quota returns the quota ledger.
func (t *Tollgate) Quota() *QuotaLedger { return t.quota }

// Sequencer returns the document sequencer.
func (t *Tollgate) Sequencer() *Sequencer { return t.sequencer }

// Payments returns the payment intent service.
func (t *Tollgate) Payments() *Payments { return t.payments }

// Reconciler returns the reconciliation service.
func (t *Tollgate) Reconciler() *Reconciler { return t.reconciler }

// Plans returns the plan catalog.
func (t *Tollgate) Plans() *plan.Catalog { return t.catalog }

// Plugins returns the plugin registry.
func (t *Tollgate) Plugins() *plugin.Registry { return t.plugins }

// Store returns the underlying store.
func (t *Tollgate) Store() store.Store { return t.store }

// ──────────────────────────────────────────────────
// Document issuing
// ──────────────────────────────────────────────────

// IssueDocument reserves quota for d.Kind and then numbers and persists d.
// The reservation is not rolled back if persisting fails: it is returned
// together with the error so the caller can see which quota was spent.
func (t *Tollgate) IssueDocument(ctx context.Context, d *document.Document, callerKey string) (*Reservation, error) {
	if d == nil {
		return nil, ValidationError{Field: "document", Message: "required"}
	}
	if _, err := t.sequencer.Prefix(d.Kind, d.RegistrationID, d.CounterpartyTaxID); err != nil {
		return nil, err
	}

	res, err := t.quota.Reserve(ctx, d.TenantID, d.Kind, callerKey)
	if err != nil {
		return nil, err
	}
	if err := t.sequencer.Create(ctx, d); err != nil {
		t.logger.Warn("document not persisted after reservation",
			"tenant_id", d.TenantID,
			"kind", d.Kind,
			"mode", res.Mode,
			"error", err,
		)
		return res, err
	}
	return res, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
