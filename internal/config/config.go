// Package config provides the configuration schema, loader, and provider
// credential registry for the model routing gateway.
package config

import "time"

// Config is the root configuration structure for the gateway. It is
// typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig             `yaml:"server"`
	Providers map[string]ProviderEntry `yaml:"providers"`
	Cache     CacheConfig              `yaml:"cache"`
	Costgate  CostgateConfig           `yaml:"costgate"`
	Registry  RegistryConfig           `yaml:"registry"`
}

// ServerConfig holds network and logging settings for the gateway process.
type ServerConfig struct {
	// ListenAddr is the TCP address the health/metrics server listens on
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
}

// ProviderEntry is the credential and endpoint configuration for one vendor
// backend. The map key in Config.Providers (one of "openai", "anthropic",
// "mistral", "deepseek", "qwen", "huggingface", "openrouter") selects which
// driver constructor the Registry invokes.
type ProviderEntry struct {
	// APIKey is the authentication key for the provider's API. A provider
	// with an empty APIKey is skipped entirely at registry construction.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. Leave empty to
	// use the driver's built-in default. Ignored by mistral, deepseek and
	// openrouter, which always use their own endpoint.
	BaseURL string `yaml:"base_url"`

	// OrganizationID sets the OpenAI organization header, when applicable.
	OrganizationID string `yaml:"organization_id"`

	// Timeout is the per-request HTTP deadline. Defaults to 60s when zero.
	Timeout time.Duration `yaml:"timeout"`

	// Models overrides the driver's advertised model catalog. Leave empty
	// to use the driver's built-in defaults. Ignored by mistral, deepseek
	// and openrouter, which always advertise their own fixed catalog.
	Models []string `yaml:"models"`

	// PriorityWeight scales this provider's models' priority score,
	// letting an operator favor or disfavor a vendor without touching
	// per-model scores.
	PriorityWeight float64 `yaml:"priority_weight"`

	// Enabled gates the provider independent of APIKey presence, for
	// temporarily pulling a vendor out of rotation without removing its
	// credentials from configuration.
	Enabled *bool `yaml:"enabled"`

	// Referer and Title set OpenRouter's attribution headers. Ignored by
	// every other provider.
	Referer string `yaml:"referer"`
	Title   string `yaml:"title"`
}

// IsEnabled reports whether this entry should be constructed: it has
// credentials and Enabled is unset or true.
func (e ProviderEntry) IsEnabled() bool {
	if e.APIKey == "" {
		return false
	}
	return e.Enabled == nil || *e.Enabled
}

// CacheConfig configures the two-tier response cache.
type CacheConfig struct {
	// TTLSeconds is the default cache entry lifetime. Defaults to 3600.
	TTLSeconds int `yaml:"ttl_seconds"`

	// RemoteAddr is the redis-compatible KV endpoint address. Empty means
	// no remote tier; the cache runs local-only.
	RemoteAddr string `yaml:"remote_addr"`

	// RemotePassword authenticates to the remote KV endpoint, if set.
	RemotePassword string `yaml:"remote_password"`

	// RemoteDB selects the remote KV logical database index.
	RemoteDB int `yaml:"remote_db"`
}

// CostgateConfig configures the Cost & Security Gate's global safety
// ceilings, independent of any per-tier limit.
type CostgateConfig struct {
	// EmergencyCostCeiling rejects any single request whose estimated cost
	// exceeds this value, regardless of tier. Defaults to 50.00.
	EmergencyCostCeiling float64 `yaml:"emergency_cost_ceiling"`

	// EmergencyHourlyRequestCeiling rejects all requests once the global
	// hourly request volume exceeds this value. Defaults to 10000.
	EmergencyHourlyRequestCeiling int `yaml:"emergency_hourly_request_ceiling"`
}

// RegistryConfig configures the Provider Registry's lifecycle behavior.
type RegistryConfig struct {
	// HealthCheckIntervalSeconds is the minimum spacing between health
	// checks for a single provider. Defaults to 300 (5 minutes).
	HealthCheckIntervalSeconds int `yaml:"health_check_interval_seconds"`

	// OutboundConcurrencyPerProvider bounds concurrent in-flight driver
	// calls per provider. Defaults to 32.
	OutboundConcurrencyPerProvider int `yaml:"outbound_concurrency_per_provider"`

	// MaxPerformanceEvents bounds the ledger's per-model ring buffer of
	// recent outcome events. Defaults to 1000.
	MaxPerformanceEvents int `yaml:"max_performance_events"`
}
