// Package store defines the persistence port for finished calls.
//
// A call is written once, at session termination, as three artefacts that
// share a call id: the [CallRecord], a plain-text transcript, and the
// [Summary]. The read side serves the inspection API and CLI.
//
// Backends live in subpackages:
//
//   - store/file: JSON files under a data directory (the default)
//   - store/postgres: PostgreSQL via pgx
//   - store/badger: embedded BadgerDB
//
// All implementations must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by GetCall when no call with the given id exists.
var ErrNotFound = errors.New("store: call not found")

// Role identifies who produced a turn.
type Role string

const (
	// RoleAgent marks a turn spoken by the AI agent.
	RoleAgent Role = "agent"

	// RoleCounterpart marks a turn spoken by the human on the other end.
	RoleCounterpart Role = "counterpart"
)

// Turn is one utterance in the conversation log.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Stage     int       `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
}

// EndReason records why a call terminated.
type EndReason string

const (
	EndCompleted EndReason = "completed" // closing stage reached
	EndClosed    EndReason = "closed"    // counterpart used an end-of-call phrase
	EndExhausted EndReason = "exhausted" // script ran out without a closing stage
	EndFailed    EndReason = "failed"    // a port failed mid-call
	EndHangup    EndReason = "hangup"    // transport disconnected or session_end
	EndTimeout   EndReason = "timeout"   // max call duration exceeded
)

// Summary is the oracle-generated recap of a finished call.
type Summary struct {
	Text            string    `json:"summary"`
	StagesCompleted int       `json:"stages_completed"`
	TotalExchanges  int       `json:"total_exchanges"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// CallRecord is the persisted form of a finished call. It is never mutated
// after SaveCall.
type CallRecord struct {
	CallID          string          `json:"call_id"`
	SessionID       string          `json:"session_id"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	DurationSeconds float64         `json:"duration"`
	Turns           []Turn          `json:"conversation"`
	Summary         string          `json:"summary"`
	StagesCompleted int             `json:"stages_completed"`
	TotalExchanges  int             `json:"total_exchanges"`
	EndReason       EndReason       `json:"end_reason"`
	Flags           map[string]bool `json:"flags,omitempty"`
}

// Stats aggregates over all stored calls.
type Stats struct {
	TotalCalls             int        `json:"total_calls"`
	TotalDurationSeconds   float64    `json:"total_duration_seconds"`
	AverageDurationSeconds float64    `json:"average_duration_seconds"`
	LastCall               *time.Time `json:"last_call"`
}

// Store is the persistence port.
type Store interface {
	// SaveCall assigns a fresh call id, writes rec and returns the id.
	// rec.CallID is set on success.
	SaveCall(ctx context.Context, rec *CallRecord) (string, error)

	// SaveTranscript stores the formatted transcript text for callID.
	SaveTranscript(ctx context.Context, callID, transcript string) error

	// SaveSummary stores the summary for callID.
	SaveSummary(ctx context.Context, callID string, summary Summary) error

	// GetCall returns the record for callID or an error wrapping ErrNotFound.
	GetCall(ctx context.Context, callID string) (*CallRecord, error)

	// ListCalls returns up to limit records, newest first. A limit <= 0
	// returns every record.
	ListCalls(ctx context.Context, limit int) ([]CallRecord, error)

	// Stats aggregates over every stored call.
	Stats(ctx context.Context) (Stats, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// ComputeStats folds records into a Stats value. LastCall is taken from the
// newest StartTime.
func ComputeStats(records []CallRecord) Stats {
	var st Stats
	for i := range records {
		r := &records[i]
		st.TotalCalls++
		st.TotalDurationSeconds += r.DurationSeconds
		if st.LastCall == nil || r.StartTime.After(*st.LastCall) {
			t := r.StartTime
			st.LastCall = &t
		}
	}
	if st.TotalCalls > 0 {
		st.AverageDurationSeconds = st.TotalDurationSeconds / float64(st.TotalCalls)
	}
	return st
}
