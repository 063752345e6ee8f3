package tts

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/MrWong99/callagent/pkg/audio"
)

// gainProvider scales the amplitude of another provider's output.
type gainProvider struct {
	next Provider
	gain float64
}

// WithGain wraps p so every synthesized payload is scaled by gain (1.0 is
// unchanged, 0.5 halves the amplitude). Payloads that are not canonical WAV
// pass through untouched. A gain of 1.0 or less than zero returns p as is.
func WithGain(p Provider, gain float64) Provider {
	if gain == 1.0 || gain < 0 {
		return p
	}
	return &gainProvider{next: p, gain: gain}
}

// Synthesize implements Provider.
func (g *gainProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	wav, err := g.next.Synthesize(ctx, text)
	if err != nil || wav == nil {
		return wav, err
	}
	pcm, f, err := audio.DecodeWAV(wav)
	if err != nil {
		return wav, nil
	}
	scaled := make([]byte, len(pcm)&^1)
	for i := 0; i+1 < len(pcm); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) * g.gain
		v = min(max(v, math.MinInt16), math.MaxInt16)
		binary.LittleEndian.PutUint16(scaled[i:], uint16(int16(v)))
	}
	return audio.EncodeWAV(scaled, f), nil
}
