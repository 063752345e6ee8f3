// Package tts defines the Provider interface for Text-to-Speech backends.
//
// The call agent speaks one complete reply per turn, so providers synthesize
// a whole utterance at once and return a self-contained WAV payload that the
// transport can hand to a browser or audio device unchanged.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text to a WAV-encoded audio payload. A nil payload
	// with a nil error means the backend produced no audio for the text;
	// callers treat the reply as silent.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
