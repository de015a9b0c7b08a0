package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidLogLevels lists the log levels Validate accepts.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// ValidProviderNames lists the vendor keys the Provider Registry knows how
// to construct a driver for. Used by [Validate] to warn about unrecognised
// provider names rather than reject them outright, since an operator may be
// staging config for a driver added in a newer build.
var ValidProviderNames = []string{
	"openai", "anthropic", "mistral", "deepseek", "qwen", "huggingface", "openrouter",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in the zero-value defaults documented on each config
// field, so a minimal YAML file (credentials only) produces a working
// gateway.
func applyDefaults(cfg *Config) {
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 3600
	}
	if cfg.Costgate.EmergencyCostCeiling == 0 {
		cfg.Costgate.EmergencyCostCeiling = 50.00
	}
	if cfg.Costgate.EmergencyHourlyRequestCeiling == 0 {
		cfg.Costgate.EmergencyHourlyRequestCeiling = 10_000
	}
	if cfg.Registry.HealthCheckIntervalSeconds == 0 {
		cfg.Registry.HealthCheckIntervalSeconds = 300
	}
	if cfg.Registry.OutboundConcurrencyPerProvider == 0 {
		cfg.Registry.OutboundConcurrencyPerProvider = 32
	}
	if cfg.Registry.MaxPerformanceEvents == 0 {
		cfg.Registry.MaxPerformanceEvents = 1000
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !slices.Contains(ValidLogLevels, cfg.Server.LogLevel) {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: %v", cfg.Server.LogLevel, ValidLogLevels))
	}

	if len(cfg.Providers) == 0 {
		slog.Warn("no providers configured; the gateway will have no candidate models to route to")
	}

	for name, entry := range cfg.Providers {
		prefix := fmt.Sprintf("providers.%s", name)
		if !slices.Contains(ValidProviderNames, name) {
			slog.Warn("unknown provider name — may be a typo or a driver not yet built",
				"name", name, "known", ValidProviderNames)
		}
		if entry.APIKey == "" && (entry.Enabled == nil || *entry.Enabled) {
			slog.Warn("provider has no api_key configured; it will be skipped at startup", "provider", name)
		}
		if entry.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout must not be negative", prefix))
		}
		if entry.PriorityWeight < 0 {
			errs = append(errs, fmt.Errorf("%s.priority_weight must not be negative", prefix))
		}
	}

	if cfg.Cache.TTLSeconds < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl_seconds must not be negative"))
	}
	if cfg.Cache.RemotePassword != "" && cfg.Cache.RemoteAddr == "" {
		errs = append(errs, fmt.Errorf("cache.remote_password is set but cache.remote_addr is empty"))
	}

	if cfg.Costgate.EmergencyCostCeiling < 0 {
		errs = append(errs, fmt.Errorf("costgate.emergency_cost_ceiling must not be negative"))
	}
	if cfg.Costgate.EmergencyHourlyRequestCeiling < 0 {
		errs = append(errs, fmt.Errorf("costgate.emergency_hourly_request_ceiling must not be negative"))
	}

	if cfg.Registry.HealthCheckIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("registry.health_check_interval_seconds must not be negative"))
	}
	if cfg.Registry.OutboundConcurrencyPerProvider < 0 {
		errs = append(errs, fmt.Errorf("registry.outbound_concurrency_per_provider must not be negative"))
	}

	return errors.Join(errs...)
}
