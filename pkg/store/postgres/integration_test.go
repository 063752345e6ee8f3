package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/MrWong99/callagent/pkg/store"
	"github.com/MrWong99/callagent/pkg/store/postgres"
)

// openTestStore connects to the database named by CALLAGENT_TEST_POSTGRES_DSN
// and skips the test when it is unset.
func openTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("CALLAGENT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CALLAGENT_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIntegration_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	start := time.Now().UTC().Truncate(time.Millisecond)
	rec := &store.CallRecord{
		SessionID:       "integration",
		StartTime:       start,
		EndTime:         start.Add(30 * time.Second),
		DurationSeconds: 30,
		Turns:           []store.Turn{{Role: store.RoleAgent, Content: "Hello", Timestamp: start}},
		EndReason:       store.EndHangup,
	}
	id, err := s.SaveCall(ctx, rec)
	if err != nil {
		t.Fatalf("SaveCall: %v", err)
	}
	if err := s.SaveTranscript(ctx, id, "Agent: Hello\n"); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	if err := s.SaveSummary(ctx, id, store.Summary{Text: "short"}); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}

	got, err := s.GetCall(ctx, id)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.SessionID != "integration" || len(got.Turns) != 1 {
		t.Errorf("unexpected record %+v", got)
	}

	recs, err := s.ListCalls(ctx, 1)
	if err != nil || len(recs) != 1 {
		t.Fatalf("ListCalls: %v (%d records)", err, len(recs))
	}
	st, err := s.Stats(ctx)
	if err != nil || st.TotalCalls < 1 {
		t.Fatalf("Stats: %+v, %v", st, err)
	}
	if _, err := s.GetCall(ctx, "19990101_000000_000000"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}
