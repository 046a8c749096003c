package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Log level and
// matcher settings are applied live; every other change is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	MatcherChanged bool
	NewMatcher     MatcherConfig

	// RestartRequired names the sections whose changes only take effect on
	// the next start.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.MatcherChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Matcher.TopK != new.Matcher.TopK || old.Matcher.Threshold() != new.Matcher.Threshold() {
		d.MatcherChanged = true
		d.NewMatcher = new.Matcher
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || (old.Server.TLS == nil) != (new.Server.TLS == nil) ||
		(old.Server.TLS != nil && *old.Server.TLS != *new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providerEqual(old.Providers.Embeddings, new.Providers.Embeddings) {
		d.RestartRequired = append(d.RestartRequired, "providers.embeddings")
	}
	if old.Corpus != new.Corpus {
		d.RestartRequired = append(d.RestartRequired, "corpus")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	ot, nt := old.Telemetry, new.Telemetry
	if ot.ServiceName != nt.ServiceName || ot.MetricsEnabled() != nt.MetricsEnabled() || ot.TraceSampleRatio != nt.TraceSampleRatio {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func providerEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model ||
		a.Timeout != b.Timeout || a.OnUnavailable != b.OnUnavailable || !slices.Equal(a.Replicas, b.Replicas) {
		return false
	}
	return reflect.DeepEqual(a.Options, b.Options)
}
