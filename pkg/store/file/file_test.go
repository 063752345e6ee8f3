package file_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/callagent/pkg/store"
	"github.com/MrWong99/callagent/pkg/store/file"
)

func newStore(t *testing.T, opts ...file.Option) (*file.Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := file.New(dir, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, dir
}

func sampleRecord(start time.Time, dur float64) *store.CallRecord {
	return &store.CallRecord{
		SessionID:       "sess-1",
		StartTime:       start,
		EndTime:         start.Add(time.Duration(dur * float64(time.Second))),
		DurationSeconds: dur,
		Turns: []store.Turn{
			{Role: store.RoleAgent, Content: "Hello, this is an AI assistant.", Timestamp: start},
			{Role: store.RoleCounterpart, Content: "Hi, how can I help?", Timestamp: start.Add(time.Second)},
		},
		Summary:        "Brief call.",
		TotalExchanges: 1,
		EndReason:      store.EndHangup,
		Flags:          map[string]bool{"test_mode": true},
	}
}

func TestNew_CreatesLayout(t *testing.T) {
	t.Parallel()
	_, dir := newStore(t)
	for _, sub := range []string{"calls", "transcripts", "summaries", "recordings"} {
		if fi, err := os.Stat(filepath.Join(dir, sub)); err != nil || !fi.IsDir() {
			t.Errorf("expected directory %s: %v", sub, err)
		}
	}
}

func TestSaveAndGetCall(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, dir := newStore(t)

	rec := sampleRecord(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), 42)
	id, err := s.SaveCall(ctx, rec)
	if err != nil {
		t.Fatalf("SaveCall: %v", err)
	}
	if !store.ValidCallID(id) || rec.CallID != id {
		t.Fatalf("unexpected id %q (record has %q)", id, rec.CallID)
	}
	if _, err := os.Stat(filepath.Join(dir, "calls", id+".json")); err != nil {
		t.Errorf("call file missing: %v", err)
	}

	got, err := s.GetCall(ctx, id)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.CallID != id || got.SessionID != "sess-1" || len(got.Turns) != 2 {
		t.Errorf("unexpected record: %+v", got)
	}
	if !got.Flags["test_mode"] {
		t.Error("flags not round-tripped")
	}
	if got.Turns[1].Role != store.RoleCounterpart {
		t.Errorf("turn role: got %q", got.Turns[1].Role)
	}
}

func TestGetCall_NotFound(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	for _, id := range []string{"20260101_000000_aaaaaa", "../secret"} {
		if _, err := s.GetCall(context.Background(), id); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("GetCall(%q): want ErrNotFound, got %v", id, err)
		}
	}
}

func TestTranscriptAndSummary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, dir := newStore(t)
	id, err := s.SaveCall(ctx, sampleRecord(time.Now(), 10))
	if err != nil {
		t.Fatalf("SaveCall: %v", err)
	}

	if err := s.SaveTranscript(ctx, id, "Agent: Hello\nHR Rep: Hi\n"); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	text, err := s.Transcript(id)
	if err != nil || text != "Agent: Hello\nHR Rep: Hi\n" {
		t.Errorf("Transcript: got %q, %v", text, err)
	}

	if err := s.SaveSummary(ctx, id, store.Summary{Text: "- ok", StagesCompleted: 2}); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "summaries", id+".json")); err != nil {
		t.Errorf("summary file missing: %v", err)
	}

	if err := s.SaveTranscript(ctx, "../x", "nope"); err == nil {
		t.Error("expected invalid id to be rejected")
	}
}

func TestListCalls_NewestFirstWithLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clock := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	s, _ := newStore(t, file.WithClock(func() time.Time { return clock }))

	var ids []string
	for i := range 3 {
		clock = clock.Add(time.Minute)
		id, err := s.SaveCall(ctx, sampleRecord(clock, float64(10*(i+1))))
		if err != nil {
			t.Fatalf("SaveCall: %v", err)
		}
		ids = append(ids, id)
	}

	all, err := s.ListCalls(ctx, 0)
	if err != nil {
		t.Fatalf("ListCalls: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("want 3 calls, got %d", len(all))
	}
	if all[0].CallID != ids[2] || all[2].CallID != ids[0] {
		t.Errorf("calls not newest first: %s, %s, %s", all[0].CallID, all[1].CallID, all[2].CallID)
	}

	two, err := s.ListCalls(ctx, 2)
	if err != nil {
		t.Fatalf("ListCalls: %v", err)
	}
	if len(two) != 2 || two[0].CallID != ids[2] {
		t.Errorf("limit not applied: %d calls", len(two))
	}
}

func TestSaveCall_SameSecondKeepsCreationOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fixed := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	s, _ := newStore(t, file.WithClock(func() time.Time { return fixed }))

	var ids []string
	for range 10 {
		id, err := s.SaveCall(ctx, sampleRecord(fixed, 1))
		if err != nil {
			t.Fatalf("SaveCall: %v", err)
		}
		if len(ids) > 0 && id <= ids[len(ids)-1] {
			t.Fatalf("id %s does not sort after %s", id, ids[len(ids)-1])
		}
		ids = append(ids, id)
	}

	all, err := s.ListCalls(ctx, 0)
	if err != nil {
		t.Fatalf("ListCalls: %v", err)
	}
	if len(all) != len(ids) {
		t.Fatalf("want %d calls, got %d", len(ids), len(all))
	}
	for i, rec := range all {
		if want := ids[len(ids)-1-i]; rec.CallID != want {
			t.Errorf("position %d: got %s, want %s", i, rec.CallID, want)
		}
	}

	latest, err := s.ListCalls(ctx, 1)
	if err != nil {
		t.Fatalf("ListCalls: %v", err)
	}
	if len(latest) != 1 || latest[0].CallID != ids[len(ids)-1] {
		t.Errorf("ListCalls(1) should return the last saved call %s", ids[len(ids)-1])
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalCalls != 0 || st.LastCall != nil {
		t.Errorf("empty stats: %+v", st)
	}

	start := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	for _, d := range []float64{20, 40} {
		if _, err := s.SaveCall(ctx, sampleRecord(start, d)); err != nil {
			t.Fatalf("SaveCall: %v", err)
		}
	}
	st, err = s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalCalls != 2 || st.TotalDurationSeconds != 60 || st.AverageDurationSeconds != 30 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
