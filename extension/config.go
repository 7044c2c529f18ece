package extension

import "time"

// Config holds the Tollgate extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.tollgate" or "tollgate" keys).
type Config struct {
	// DisableRoutes prevents building the HTTP handler.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for tollgate routes (default: "/tollgate").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// IPHashSalt is mixed into free-trial caller key hashes.
	IPHashSalt string `json:"ip_hash_salt" mapstructure:"ip_hash_salt" yaml:"ip_hash_salt"`

	// CallbackAllowedIPs restricts gateway callbacks to these addresses or
	// CIDR prefixes. Empty admits everyone.
	CallbackAllowedIPs []string `json:"callback_allowed_ips" mapstructure:"callback_allowed_ips" yaml:"callback_allowed_ips"`

	// GatewayTimeout bounds each gateway call (default: 15s).
	GatewayTimeout time.Duration `json:"gateway_timeout" mapstructure:"gateway_timeout" yaml:"gateway_timeout"`

	// NumberingMaxAttempts caps document numbering retries (default: 5).
	NumberingMaxAttempts int `json:"numbering_max_attempts" mapstructure:"numbering_max_attempts" yaml:"numbering_max_attempts"`

	// SweepSchedule is the cron spec of the payment sweep (default:
	// "@every 1m"). "off" disables it.
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule" yaml:"sweep_schedule"`

	// AllowMockBilling enables activation without payment.
	AllowMockBilling bool `json:"allow_mock_billing" mapstructure:"allow_mock_billing" yaml:"allow_mock_billing"`

	// WebBaseURL is where checkout return links point.
	WebBaseURL string `json:"web_base_url" mapstructure:"web_base_url" yaml:"web_base_url"`

	// APIBaseURL derives the callback url when CallbackURL is empty.
	APIBaseURL string `json:"api_base_url" mapstructure:"api_base_url" yaml:"api_base_url"`

	// CallbackURL overrides the gateway callback url.
	CallbackURL string `json:"callback_url" mapstructure:"callback_url" yaml:"callback_url"`

	// TBC holds the TBC Pay credentials. An empty APIKey leaves the engine
	// without a gateway unless one is passed with WithGateway.
	TBC TBCConfig `json:"tbc" mapstructure:"tbc" yaml:"tbc"`

	// AdminToken enables the /admin routes.
	AdminToken string `json:"-" mapstructure:"admin_token" yaml:"admin_token"`

	// TrustedProxies lists proxy CIDRs whose forwarding headers carry the
	// caller IP. Empty means the socket address is always used.
	TrustedProxies []string `json:"trusted_proxies" mapstructure:"trusted_proxies" yaml:"trusted_proxies"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// TBCConfig holds TBC Pay credentials.
type TBCConfig struct {
	BaseURL      string `json:"base_url" mapstructure:"base_url" yaml:"base_url"`
	APIKey       string `json:"-" mapstructure:"api_key" yaml:"api_key"`
	ClientID     string `json:"-" mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `json:"-" mapstructure:"client_secret" yaml:"client_secret"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:             "/tollgate",
		GatewayTimeout:       15 * time.Second,
		NumberingMaxAttempts: 5,
		SweepSchedule:        "@every 1m",
	}
}
