package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be safely hot-reloaded are tracked; provider credential changes
// require a full driver reconstruction and are reported, not applied
// in-place.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     string

	ProvidersChanged bool
	ProviderChanges  []ProviderDiff

	CacheChanged    bool
	CostgateChanged bool
}

// ProviderDiff describes what changed for a single named provider entry
// between two configs.
type ProviderDiff struct {
	Name           string
	Added          bool
	Removed        bool
	CredentialsChanged bool
	ModelsChanged  bool
	EnabledChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	for name, oldEntry := range old.Providers {
		newEntry, exists := new.Providers[name]
		if !exists {
			d.ProviderChanges = append(d.ProviderChanges, ProviderDiff{Name: name, Removed: true})
			d.ProvidersChanged = true
			continue
		}
		pd := diffProvider(name, oldEntry, newEntry)
		if pd.CredentialsChanged || pd.ModelsChanged || pd.EnabledChanged {
			d.ProviderChanges = append(d.ProviderChanges, pd)
			d.ProvidersChanged = true
		}
	}
	for name := range new.Providers {
		if _, exists := old.Providers[name]; !exists {
			d.ProviderChanges = append(d.ProviderChanges, ProviderDiff{Name: name, Added: true})
			d.ProvidersChanged = true
		}
	}

	if old.Cache != new.Cache {
		d.CacheChanged = true
	}
	if old.Costgate != new.Costgate {
		d.CostgateChanged = true
	}

	return d
}

func diffProvider(name string, old, new ProviderEntry) ProviderDiff {
	pd := ProviderDiff{Name: name}

	if old.APIKey != new.APIKey || old.BaseURL != new.BaseURL || old.OrganizationID != new.OrganizationID {
		pd.CredentialsChanged = true
	}
	if !slicesEqual(old.Models, new.Models) {
		pd.ModelsChanged = true
	}
	if old.IsEnabled() != new.IsEnabled() {
		pd.EnabledChanged = true
	}

	return pd
}

func slicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
