package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; everything else
// is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PitchChanged is set when the offline tracker settings (pitch section or
	// analysis.max_decoded_bytes) changed.
	PitchChanged bool

	// LiveChanged is set when the live tracker settings changed. Running
	// sessions keep their settings; new sessions pick them up.
	LiveChanged bool

	// NotesChanged is set when the segmentation settings changed.
	NotesChanged bool

	// RestartRequired lists the top-level keys that changed but only take
	// effect after a restart, in a stable order.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable setting changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PitchChanged || d.LiveChanged || d.NotesChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Pitch != new.Pitch || old.Analysis.MaxDecodedBytes != new.Analysis.MaxDecodedBytes {
		d.PitchChanged = true
	}
	if old.Live != new.Live {
		d.LiveChanged = true
	}
	if old.Notes != new.Notes {
		d.NotesChanged = true
	}

	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Separation != new.Separation {
		d.RestartRequired = append(d.RestartRequired, "separation")
	}
	if old.Analysis.Workers != new.Analysis.Workers {
		d.RestartRequired = append(d.RestartRequired, "analysis.workers")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	slices.Sort(d.RestartRequired)

	return d
}

// HotReload returns a copy of cur with the hot-reloadable settings of next
// applied: log level, pitch, live and notes tuning, and the decoded-size
// ceiling. Sections listed by [Diff] as restart-only keep cur's values.
func HotReload(cur, next *Config) *Config {
	out := *cur
	out.Server.LogLevel = next.Server.LogLevel
	out.Pitch = next.Pitch
	out.Live = next.Live
	out.Notes = next.Notes
	out.Analysis.MaxDecodedBytes = next.Analysis.MaxDecodedBytes
	return &out
}
