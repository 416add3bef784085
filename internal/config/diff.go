package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart and is reported through RestartRequired.
type ConfigDiff struct {
	SensitivityChanged bool
	NewSensitivity     float64

	IntentsChanged bool

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists top-level sections that changed but are only
	// read at startup.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.SensitivityChanged && !d.IntentsChanged && !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Wake.Sensitivity != new.Wake.Sensitivity {
		d.SensitivityChanged = true
		d.NewSensitivity = new.Wake.Sensitivity
	}

	if !slices.Equal(old.Intents, new.Intents) {
		d.IntentsChanged = true
	}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Restart-only sections. The live fields are masked before comparing.
	oldWake, newWake := old.Wake, new.Wake
	oldWake.Sensitivity, newWake.Sensitivity = 0, 0
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"audio", old.Audio, new.Audio},
		{"pipeline", old.Pipeline, new.Pipeline},
		{"cleaner", old.Cleaner, new.Cleaner},
		{"wake", oldWake, newWake},
		{"providers", old.Providers, new.Providers},
		{"executor", old.Executor, new.Executor},
		{"archive", old.Archive, new.Archive},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}

	return d
}
