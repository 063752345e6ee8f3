// Package file implements store.Store on top of plain JSON and text files.
//
// Layout under the data directory:
//
//	calls/<call_id>.json        the CallRecord
//	transcripts/<call_id>.txt   the formatted transcript
//	summaries/<call_id>.json    the Summary
//	recordings/                 reserved for audio captures
//
// Writes go through a temp file and rename so readers never observe a
// partially written record.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/callagent/pkg/store"
)

const (
	callsDir       = "calls"
	transcriptsDir = "transcripts"
	summariesDir   = "summaries"
	recordingsDir  = "recordings"
)

var _ store.Store = (*Store)(nil)

// Store is a directory-backed store.Store.
type Store struct {
	root string
	now  func() time.Time

	// mu serialises id allocation so two calls saved in the same second
	// cannot race on the same file name.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for call ids. Tests only.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates the directory layout under root and returns a Store.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, errors.New("file store: root directory must not be empty")
	}
	for _, d := range []string{callsDir, transcriptsDir, summariesDir, recordingsDir} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("file store: create %s: %w", d, err)
		}
	}
	s := &Store{root: root, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// SaveCall implements store.Store.
func (s *Store) SaveCall(_ context.Context, rec *store.CallRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	for {
		id = store.NewCallID(s.now())
		if _, err := os.Stat(s.path(callsDir, id, ".json")); errors.Is(err, fs.ErrNotExist) {
			break
		}
	}

	out := *rec
	out.CallID = id
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("file store: marshal call: %w", err)
	}
	if err := writeAtomic(s.path(callsDir, id, ".json"), data); err != nil {
		return "", fmt.Errorf("file store: save call %s: %w", id, err)
	}
	rec.CallID = id
	return id, nil
}

// SaveTranscript implements store.Store.
func (s *Store) SaveTranscript(_ context.Context, callID, transcript string) error {
	if !store.ValidCallID(callID) {
		return fmt.Errorf("file store: invalid call id %q", callID)
	}
	if err := writeAtomic(s.path(transcriptsDir, callID, ".txt"), []byte(transcript)); err != nil {
		return fmt.Errorf("file store: save transcript %s: %w", callID, err)
	}
	return nil
}

// SaveSummary implements store.Store.
func (s *Store) SaveSummary(_ context.Context, callID string, summary store.Summary) error {
	if !store.ValidCallID(callID) {
		return fmt.Errorf("file store: invalid call id %q", callID)
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: marshal summary: %w", err)
	}
	if err := writeAtomic(s.path(summariesDir, callID, ".json"), data); err != nil {
		return fmt.Errorf("file store: save summary %s: %w", callID, err)
	}
	return nil
}

// GetCall implements store.Store.
func (s *Store) GetCall(_ context.Context, callID string) (*store.CallRecord, error) {
	if !store.ValidCallID(callID) {
		return nil, fmt.Errorf("file store: get %q: %w", callID, store.ErrNotFound)
	}
	rec, err := s.readCall(s.path(callsDir, callID, ".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("file store: get %q: %w", callID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("file store: get %q: %w", callID, err)
	}
	return rec, nil
}

// ListCalls implements store.Store. File names sort by creation time, so the
// newest records are the lexically greatest.
func (s *Store) ListCalls(_ context.Context, limit int) ([]store.CallRecord, error) {
	names, err := s.callFiles()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	out := make([]store.CallRecord, 0, len(names))
	for _, name := range names {
		rec, err := s.readCall(filepath.Join(s.root, callsDir, name))
		if err != nil {
			return nil, fmt.Errorf("file store: list: %s: %w", name, err)
		}
		out = append(out, *rec)
	}
	return out, nil
}

// Stats implements store.Store.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	recs, err := s.ListCalls(ctx, 0)
	if err != nil {
		return store.Stats{}, err
	}
	return store.ComputeStats(recs), nil
}

// Ping implements store.Store by checking the calls directory is accessible.
func (s *Store) Ping(_ context.Context) error {
	if _, err := os.Stat(filepath.Join(s.root, callsDir)); err != nil {
		return fmt.Errorf("file store: ping: %w", err)
	}
	return nil
}

// Close implements store.Store. It is a no-op.
func (s *Store) Close() error { return nil }

// Transcript returns the stored transcript text for callID.
func (s *Store) Transcript(callID string) (string, error) {
	if !store.ValidCallID(callID) {
		return "", store.ErrNotFound
	}
	data, err := os.ReadFile(s.path(transcriptsDir, callID, ".txt"))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("file store: transcript %q: %w", callID, store.ErrNotFound)
	}
	return string(data), err
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (s *Store) path(dir, id, ext string) string {
	return filepath.Join(s.root, dir, id+ext)
}

func (s *Store) callFiles() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, callsDir))
	if err != nil {
		return nil, fmt.Errorf("file store: read calls dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	slices.Reverse(names)
	return names, nil
}

func (s *Store) readCall(path string) (*store.CallRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec store.CallRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &rec, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
