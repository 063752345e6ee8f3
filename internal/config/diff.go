package config

import (
	"slices"

	"github.com/MrWong99/callagent/internal/script"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ScriptChanged is true when the effective script differs. New sessions
	// pick up the new script; running sessions keep the one they started with.
	ScriptChanged bool
	StageChanges  []StageDiff

	// CallChanged is true when any per-call tuning value differs.
	CallChanged bool

	// RestartRequired lists top-level sections whose changes are ignored
	// until restart.
	RestartRequired []string
}

// StageDiff describes a change to one stage, matched by label.
type StageDiff struct {
	Label              string
	InstructionChanged bool
	ClosingChanged     bool
	Added              bool
	Removed            bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldScript, newScript := old.ScriptOrDefault(), new.ScriptOrDefault()
	if oldScript.SystemPrompt != newScript.SystemPrompt ||
		oldScript.OpeningInstruction != newScript.OpeningInstruction ||
		oldScript.ClosingInstruction != newScript.ClosingInstruction ||
		!slices.Equal(oldScript.EndPhrases, newScript.EndPhrases) ||
		!slices.Equal(oldScript.Stages, newScript.Stages) {
		d.ScriptChanged = true
	}
	d.StageChanges = diffStages(oldScript.Stages, newScript.Stages)

	if !callEqual(old.Call, new.Call) {
		d.CallChanged = true
	}

	if old.Server.Host != new.Server.Host || old.Server.Port != new.Server.Port || (old.Server.TLS == nil) != (new.Server.TLS == nil) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	return d
}

func diffStages(old, new []script.Stage) []StageDiff {
	oldByLabel := make(map[string]script.Stage, len(old))
	for _, s := range old {
		oldByLabel[s.Label] = s
	}
	newByLabel := make(map[string]script.Stage, len(new))
	for _, s := range new {
		newByLabel[s.Label] = s
	}

	var out []StageDiff
	for _, o := range old {
		n, ok := newByLabel[o.Label]
		if !ok {
			out = append(out, StageDiff{Label: o.Label, Removed: true})
			continue
		}
		sd := StageDiff{
			Label:              o.Label,
			InstructionChanged: o.Instruction != n.Instruction,
			ClosingChanged:     o.Closing != n.Closing,
		}
		if sd.InstructionChanged || sd.ClosingChanged {
			out = append(out, sd)
		}
	}
	for _, n := range new {
		if _, ok := oldByLabel[n.Label]; !ok {
			out = append(out, StageDiff{Label: n.Label, Added: true})
		}
	}
	return out
}

func callEqual(a, b CallConfig) bool {
	return a.MaxTokens == b.MaxTokens &&
		a.TemperatureOrDefault() == b.TemperatureOrDefault() &&
		a.SampleRate == b.SampleRate &&
		a.InputSampleRate == b.InputSampleRate &&
		a.InputChannels == b.InputChannels &&
		a.MaxDurationSeconds == b.MaxDurationSeconds &&
		a.PortTimeout == b.PortTimeout &&
		a.RecordingEnabled() == b.RecordingEnabled() &&
		a.SpeechRate == b.SpeechRate &&
		a.VolumeOrDefault() == b.VolumeOrDefault() &&
		a.SilenceThresholdOrDefault() == b.SilenceThresholdOrDefault()
}

func providersEqual(a, b ProvidersConfig) bool {
	eq := func(x, y ProviderEntry) bool {
		return x.Name == y.Name && x.APIKey == y.APIKey && x.BaseURL == y.BaseURL && x.Model == y.Model
	}
	list := func(x, y []ProviderEntry) bool { return slices.EqualFunc(x, y, eq) }
	return eq(a.LLM, b.LLM) && eq(a.STT, b.STT) && eq(a.TTS, b.TTS) &&
		list(a.LLMFallbacks, b.LLMFallbacks) &&
		list(a.STTFallbacks, b.STTFallbacks) &&
		list(a.TTSFallbacks, b.TTSFallbacks)
}
