//go:build !whispercpp

package whisper

import (
	"context"
	"errors"

	"github.com/MrWong99/callagent/pkg/provider/stt"
)

// ErrNativeUnavailable is returned by NewNative when the binary was built
// without the "whispercpp" build tag.
var ErrNativeUnavailable = errors.New("whisper: native provider requires the whispercpp build tag")

// NativeProvider is unavailable in this build; see ErrNativeUnavailable.
type NativeProvider struct{}

var _ stt.Provider = (*NativeProvider)(nil)

// NewNative always returns ErrNativeUnavailable in builds without cgo whisper.
func NewNative(_, _ string) (*NativeProvider, error) {
	return nil, ErrNativeUnavailable
}

// Close is a no-op.
func (p *NativeProvider) Close() error { return nil }

// Transcribe always returns ErrNativeUnavailable.
func (p *NativeProvider) Transcribe(context.Context, []float32, int) (string, error) {
	return "", ErrNativeUnavailable
}
