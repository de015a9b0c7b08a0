package config_test

import (
	"testing"

	"github.com/example/modelgate/internal/config"
)

func TestProviderEntry_IsEnabled(t *testing.T) {
	disabled := false
	enabled := true

	cases := []struct {
		name  string
		entry config.ProviderEntry
		want  bool
	}{
		{"no api key", config.ProviderEntry{}, false},
		{"api key, no enabled flag", config.ProviderEntry{APIKey: "k"}, true},
		{"api key, explicitly enabled", config.ProviderEntry{APIKey: "k", Enabled: &enabled}, true},
		{"api key, explicitly disabled", config.ProviderEntry{APIKey: "k", Enabled: &disabled}, false},
		{"no api key, explicitly enabled", config.ProviderEntry{Enabled: &enabled}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.entry.IsEnabled(); got != tc.want {
				t.Errorf("IsEnabled() = %v, want %v", got, tc.want)
			}
		})
	}
}
