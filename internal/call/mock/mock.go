// Package mock provides a test double for the call.Oracle interface.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/callagent/internal/call"
	"github.com/MrWong99/callagent/pkg/store"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	History     []store.Turn
	Instruction string
	MaxTokens   int
}

// Oracle is a mock implementation of call.Oracle.
type Oracle struct {
	mu sync.Mutex

	// Replies is consumed in order, one entry per successful Generate call.
	// Once it is exhausted, Reply is returned.
	Replies []string

	// Reply is returned when Replies is empty.
	Reply string

	// Err, if non-nil, is returned (wrapped in call.ErrOracleUnavailable) by
	// every Generate call.
	Err error

	// FailAt makes only the n-th call (1-based) fail with Err. Zero means
	// every call fails when Err is set.
	FailAt int

	// GenerateCalls records every call in order.
	GenerateCalls []GenerateCall
}

var _ call.Oracle = (*Oracle)(nil)

// Generate records the call and returns the next scripted reply.
func (o *Oracle) Generate(_ context.Context, history []store.Turn, instruction string, maxTokens int) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.GenerateCalls = append(o.GenerateCalls, GenerateCall{
		History:     slices.Clone(history),
		Instruction: instruction,
		MaxTokens:   maxTokens,
	})
	if o.Err != nil && (o.FailAt == 0 || o.FailAt == len(o.GenerateCalls)) {
		return "", fmt.Errorf("%w: %w", call.ErrOracleUnavailable, o.Err)
	}
	if len(o.Replies) > 0 {
		r := o.Replies[0]
		o.Replies = o.Replies[1:]
		return r, nil
	}
	return o.Reply, nil
}

// Calls returns a snapshot of the recorded calls.
func (o *Oracle) Calls() []GenerateCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.GenerateCalls)
}

// Reset clears recorded calls.
func (o *Oracle) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.GenerateCalls = nil
}
