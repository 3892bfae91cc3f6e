package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// (providers, storage, listen address) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DialogChanged is true if any session default changed.
	DialogChanged bool
	NewDialog     DialogConfig

	// AlertPhrasesChanged is true if the emergency phrase list changed.
	AlertPhrasesChanged bool
	NewAlertPhrases     []string
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.DialogChanged || d.AlertPhrasesChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Dialog != new.Dialog {
		d.DialogChanged = true
		d.NewDialog = new.Dialog
	}

	if !slices.Equal(old.Alerts.EmergencyPhrases, new.Alerts.EmergencyPhrases) {
		d.AlertPhrasesChanged = true
		d.NewAlertPhrases = new.Alerts.EmergencyPhrases
	}

	return d
}
