// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A call turn is transcribed in one shot: the orchestrator buffers the
// counterpart's audio until the transport signals the end of the turn, then
// hands the whole utterance to Transcribe as normalised mono float samples.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts mono samples in [-1.0, 1.0] recorded at sampleRate
	// into text. An empty string with a nil error means the audio contained no
	// intelligible speech; it is not a failure. A non-nil error signals that
	// the backend itself could not be reached or rejected the request.
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
}
