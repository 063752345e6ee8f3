// Package mock provides an in-memory test double for store.Store.
//
// Store keeps every record in memory, records each write, and lets tests
// inject errors per operation.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/callagent/pkg/store"
)

// Store is a mock implementation of store.Store.
type Store struct {
	mu sync.Mutex

	// Calls holds saved records keyed by call id.
	Calls map[string]store.CallRecord

	// Transcripts holds saved transcripts keyed by call id.
	Transcripts map[string]string

	// Summaries holds saved summaries keyed by call id.
	Summaries map[string]store.Summary

	// SaveCallErr, SaveTranscriptErr, SaveSummaryErr and PingErr are
	// returned by the corresponding method when non-nil.
	SaveCallErr       error
	SaveTranscriptErr error
	SaveSummaryErr    error
	PingErr           error

	// Order lists write operations in the order they happened, e.g.
	// "save_call", "save_transcript", "save_summary".
	Order []string

	seq int
}

var _ store.Store = (*Store)(nil)

// SaveCall implements store.Store. Ids are deterministic:
// 20260101_000000_000001, 20260101_000000_000002, ...
func (s *Store) SaveCall(_ context.Context, rec *store.CallRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Order = append(s.Order, "save_call")
	if s.SaveCallErr != nil {
		return "", s.SaveCallErr
	}
	s.seq++
	id := fmt.Sprintf("20260101_000000_%06x", s.seq)
	if s.Calls == nil {
		s.Calls = make(map[string]store.CallRecord)
	}
	out := *rec
	out.CallID = id
	out.Turns = slices.Clone(rec.Turns)
	s.Calls[id] = out
	rec.CallID = id
	return id, nil
}

// SaveTranscript implements store.Store.
func (s *Store) SaveTranscript(_ context.Context, callID, transcript string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Order = append(s.Order, "save_transcript")
	if s.SaveTranscriptErr != nil {
		return s.SaveTranscriptErr
	}
	if s.Transcripts == nil {
		s.Transcripts = make(map[string]string)
	}
	s.Transcripts[callID] = transcript
	return nil
}

// SaveSummary implements store.Store.
func (s *Store) SaveSummary(_ context.Context, callID string, summary store.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Order = append(s.Order, "save_summary")
	if s.SaveSummaryErr != nil {
		return s.SaveSummaryErr
	}
	if s.Summaries == nil {
		s.Summaries = make(map[string]store.Summary)
	}
	s.Summaries[callID] = summary
	return nil
}

// GetCall implements store.Store.
func (s *Store) GetCall(_ context.Context, callID string) (*store.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.Calls[callID]
	if !ok {
		return nil, fmt.Errorf("mock store: get %q: %w", callID, store.ErrNotFound)
	}
	return &rec, nil
}

// ListCalls implements store.Store.
func (s *Store) ListCalls(_ context.Context, limit int) ([]store.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.Calls))
	for id := range s.Calls {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	slices.Reverse(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]store.CallRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.Calls[id])
	}
	return out, nil
}

// Stats implements store.Store.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	recs, _ := s.ListCalls(ctx, 0)
	return store.ComputeStats(recs), nil
}

// Ping implements store.Store.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// Writes returns a snapshot of Order. Thread-safe.
func (s *Store) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.Order)
}

// Seed inserts rec under its CallID without recording a write, for read-side
// tests. A zero StartTime is set to now.
func (s *Store) Seed(rec store.CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Calls == nil {
		s.Calls = make(map[string]store.CallRecord)
	}
	if rec.StartTime.IsZero() {
		rec.StartTime = time.Now()
	}
	s.Calls[rec.CallID] = rec
}
