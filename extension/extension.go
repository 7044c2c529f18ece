// Package extension provides the Forge extension adapter for Tollgate.
//
// It implements the forge.Extension interface to integrate Tollgate
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.tollgate" or "tollgate" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/tollgate"
	"github.com/xraph/tollgate/api"
	"github.com/xraph/tollgate/gateway"
	"github.com/xraph/tollgate/gateway/tbc"
	"github.com/xraph/tollgate/store"
	"github.com/xraph/tollgate/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "tollgate"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Subscription quota and payment reconciliation engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// sweepOff disables the payment sweep when used as SweepSchedule.
const sweepOff = "off"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Tollgate as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *tollgate.Tollgate
	store      store.Store
	gateway    gateway.Client
	handler    http.Handler
	engineOpts []tollgate.Option
	apiOpts    []api.Option
}

// New creates a new Tollgate Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Tollgate instance.
// This is nil until Register is called.
func (e *Extension) Engine() *tollgate.Tollgate { return e.engine }

// Handler returns the HTTP routes mounted under the configured base path,
// or nil when routes are disabled or Register has not run.
func (e *Extension) Handler() http.Handler { return e.handler }

// Register implements [forge.Extension]. It loads configuration,
// initializes the tollgate engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	if e.gateway == nil && e.config.TBC.APIKey != "" {
		client, err := tbc.New(tbc.Config{
			BaseURL:      e.config.TBC.BaseURL,
			APIKey:       e.config.TBC.APIKey,
			ClientID:     e.config.TBC.ClientID,
			ClientSecret: e.config.TBC.ClientSecret,
		})
		if err != nil {
			return fmt.Errorf("tollgate: configure tbc gateway: %w", err)
		}
		e.gateway = client
	}

	e.engine = tollgate.New(e.store, e.buildEngineOpts()...)

	if !e.config.DisableRoutes {
		e.handler = e.buildHandler()
	}

	return vessel.Provide(fapp.Container(), func() (*tollgate.Tollgate, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("tollgate: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("tollgate: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs tollgate.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []tollgate.Option {
	opts := make([]tollgate.Option, 0, len(e.engineOpts)+9)

	if e.gateway != nil {
		opts = append(opts, tollgate.WithGateway(e.gateway))
	}
	if e.config.IPHashSalt != "" {
		opts = append(opts, tollgate.WithIPHashSalt(e.config.IPHashSalt))
	}
	if len(e.config.CallbackAllowedIPs) > 0 {
		opts = append(opts, tollgate.WithCallbackAllowedIPs(e.config.CallbackAllowedIPs...))
	}

	schedule := e.config.SweepSchedule
	if strings.EqualFold(schedule, sweepOff) {
		schedule = ""
	}

	opts = append(opts,
		tollgate.WithGatewayTimeout(e.config.GatewayTimeout),
		tollgate.WithNumbering(e.config.NumberingMaxAttempts, nil),
		tollgate.WithURLs(e.config.WebBaseURL, e.config.APIBaseURL, e.config.CallbackURL),
		tollgate.WithMockBilling(e.config.AllowMockBilling),
		tollgate.WithSweep(schedule, 0, 0),
	)
	if e.config.DisableMigrate {
		opts = append(opts, tollgate.WithoutMigrate())
	}

	// Append any pass-through tollgate options.
	opts = append(opts, e.engineOpts...)

	return opts
}

func (e *Extension) buildHandler() http.Handler {
	opts := make([]api.Option, 0, len(e.apiOpts)+2)
	if e.config.AdminToken != "" {
		opts = append(opts, api.WithAdminToken(e.config.AdminToken))
	}
	if len(e.config.TrustedProxies) > 0 {
		opts = append(opts, api.WithTrustedProxies(e.config.TrustedProxies...))
	}
	opts = append(opts, e.apiOpts...)

	routes := api.New(e.engine, opts...).Router()
	base := "/" + strings.Trim(e.config.BasePath, "/")
	if base == "/" {
		return routes
	}
	r := chi.NewRouter()
	r.Mount(base, routes)
	return r
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("tollgate: configuration is required but not found in config files; " +
				"ensure 'extensions.tollgate' or 'tollgate' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("tollgate: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("gateway_timeout", e.config.GatewayTimeout),
		forge.F("numbering_max_attempts", e.config.NumberingMaxAttempts),
		forge.F("sweep_schedule", e.config.SweepSchedule),
		forge.F("allow_mock_billing", e.config.AllowMockBilling),
		forge.F("callback_allowed_ips", len(e.config.CallbackAllowedIPs)),
	)

	if e.config.AllowMockBilling {
		e.Logger().Warn("tollgate: mock billing is enabled")
	}

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.tollgate" first (namespaced pattern).
	if cm.IsSet("extensions.tollgate") {
		if err := cm.Bind("extensions.tollgate", &cfg); err == nil {
			e.Logger().Debug("tollgate: loaded config from file",
				forge.F("key", "extensions.tollgate"),
			)
			return cfg, true
		}
		e.Logger().Warn("tollgate: failed to bind extensions.tollgate config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "tollgate" key.
	if cm.IsSet("tollgate") {
		if err := cm.Bind("tollgate", &cfg); err == nil {
			e.Logger().Debug("tollgate: loaded config from file",
				forge.F("key", "tollgate"),
			)
			return cfg, true
		}
		e.Logger().Warn("tollgate: failed to bind tollgate config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.GatewayTimeout == 0 {
		cfg.GatewayTimeout = defaults.GatewayTimeout
	}
	if cfg.NumberingMaxAttempts == 0 {
		cfg.NumberingMaxAttempts = defaults.NumberingMaxAttempts
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = defaults.SweepSchedule
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.AllowMockBilling {
		yamlConfig.AllowMockBilling = true
	}

	// String fields: YAML takes precedence.
	fillString(&yamlConfig.BasePath, programmaticConfig.BasePath)
	fillString(&yamlConfig.IPHashSalt, programmaticConfig.IPHashSalt)
	fillString(&yamlConfig.SweepSchedule, programmaticConfig.SweepSchedule)
	fillString(&yamlConfig.WebBaseURL, programmaticConfig.WebBaseURL)
	fillString(&yamlConfig.APIBaseURL, programmaticConfig.APIBaseURL)
	fillString(&yamlConfig.CallbackURL, programmaticConfig.CallbackURL)
	fillString(&yamlConfig.AdminToken, programmaticConfig.AdminToken)
	if yamlConfig.TBC.APIKey == "" {
		yamlConfig.TBC = programmaticConfig.TBC
	}
	if len(yamlConfig.CallbackAllowedIPs) == 0 {
		yamlConfig.CallbackAllowedIPs = programmaticConfig.CallbackAllowedIPs
	}
	if len(yamlConfig.TrustedProxies) == 0 {
		yamlConfig.TrustedProxies = programmaticConfig.TrustedProxies
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.GatewayTimeout == 0 && programmaticConfig.GatewayTimeout != 0 {
		yamlConfig.GatewayTimeout = programmaticConfig.GatewayTimeout
	}
	if yamlConfig.NumberingMaxAttempts == 0 && programmaticConfig.NumberingMaxAttempts != 0 {
		yamlConfig.NumberingMaxAttempts = programmaticConfig.NumberingMaxAttempts
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}

func fillString(dst *string, fallback string) {
	if *dst == "" {
		*dst = fallback
	}
}
