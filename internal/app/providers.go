package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/callagent/internal/config"
	"github.com/MrWong99/callagent/internal/resilience"
	"github.com/MrWong99/callagent/pkg/provider/llm"
	"github.com/MrWong99/callagent/pkg/provider/stt"
	"github.com/MrWong99/callagent/pkg/provider/tts"
)

// Providers holds one port implementation per slot. STT and TTS may be nil:
// without STT only text turns work, without TTS replies are silent.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
}

type namedProvider[P any] struct {
	name string
	p    P
}

// BuildProviders instantiates the configured primary and fallback backends
// of each port through reg and puts every port behind a fallback group with
// per-backend circuit breakers. Entries whose name has no registered factory
// are skipped with a warning; any other construction error is returned.
func BuildProviders(reg *config.Registry, pc config.ProvidersConfig, fc resilience.FallbackConfig) (*Providers, error) {
	p := &Providers{}
	var errs []error

	llms, err := createAll("llm", pc.LLM, pc.LLMFallbacks, reg.CreateLLM)
	errs = append(errs, err)
	if len(llms) > 0 {
		fb := resilience.NewLLMFallback(llms[0].p, llms[0].name, fc)
		for _, m := range llms[1:] {
			fb.AddFallback(m.name, m.p)
		}
		p.LLM = fb
	}

	stts, err := createAll("stt", pc.STT, pc.STTFallbacks, reg.CreateSTT)
	errs = append(errs, err)
	if len(stts) > 0 {
		fb := resilience.NewSTTFallback(stts[0].p, stts[0].name, fc)
		for _, m := range stts[1:] {
			fb.AddFallback(m.name, m.p)
		}
		p.STT = fb
	}

	ttss, err := createAll("tts", pc.TTS, pc.TTSFallbacks, reg.CreateTTS)
	errs = append(errs, err)
	if len(ttss) > 0 {
		fb := resilience.NewTTSFallback(ttss[0].p, ttss[0].name, fc)
		for _, m := range ttss[1:] {
			fb.AddFallback(m.name, m.p)
		}
		p.TTS = fb
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return p, nil
}

func createAll[P any](kind string, primary config.ProviderEntry, fallbacks []config.ProviderEntry, create func(config.ProviderEntry) (P, error)) ([]namedProvider[P], error) {
	var out []namedProvider[P]
	for _, e := range append([]config.ProviderEntry{primary}, fallbacks...) {
		if e.Name == "" {
			continue
		}
		p, err := create(e)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("provider not registered, skipping", "kind", kind, "name", e.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("app: create %s provider %q: %w", kind, e.Name, err)
		}
		out = append(out, namedProvider[P]{name: kind + "/" + e.Name, p: p})
	}
	return out, nil
}
