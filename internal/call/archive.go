package call

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/callagent/internal/observe"
	"github.com/MrWong99/callagent/pkg/store"
)

const (
	// SummaryMaxTokens bounds the post-call summary.
	SummaryMaxTokens = 500

	// SummaryErrorText replaces the summary when the oracle fails.
	SummaryErrorText = "Error generating summary"
)

// Transcript line labels.
const (
	agentLabel       = "Agent"
	counterpartLabel = "HR Rep"
)

// FormatTranscript renders turns as "Agent: ..." and "HR Rep: ..." lines.
func FormatTranscript(turns []store.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		label := counterpartLabel
		if t.Role == store.RoleAgent {
			label = agentLabel
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

func summaryPrompt(transcript string) string {
	return "Based on this conversation, provide a structured summary:\n\n" +
		transcript +
		"\n\nPlease provide:\n" +
		"1. Key information gathered\n" +
		"2. Job availability status\n" +
		"3. Required qualifications (if mentioned)\n" +
		"4. Next steps (if any)\n" +
		"5. Overall outcome\n\n" +
		"Format as a clear, bullet-pointed summary."
}

// Summarize asks the oracle for a structured recap of the call. The first
// result is cached; later calls return it unchanged. An oracle failure
// yields [SummaryErrorText] rather than an error.
func (s *Session) Summarize(ctx context.Context) store.Summary {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.summarize(ctx)
}

// summarize must be called with opMu held.
func (s *Session) summarize(ctx context.Context) store.Summary {
	s.mu.Lock()
	if s.summary != nil {
		sum := *s.summary
		s.mu.Unlock()
		return sum
	}
	turns := s.historyLocked()
	stage := s.machine.Stage()
	s.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "call.summarize")
	defer span.End()

	text, err := s.generateN(ctx, nil, summaryPrompt(FormatTranscript(turns)), SummaryMaxTokens)
	if err != nil {
		observe.SessionLogger(ctx, s.id).Warn("summary generation failed", "err", err)
		text = SummaryErrorText
	}
	sum := store.Summary{
		Text:            text,
		StagesCompleted: stage,
		TotalExchanges:  len(turns) / 2,
		GeneratedAt:     s.now(),
	}

	s.mu.Lock()
	s.summary = &sum
	s.mu.Unlock()
	return sum
}

// ArchiveResult is what the transport reports back once a call is archived.
type ArchiveResult struct {
	// CallID is empty when SaveCall failed.
	CallID     string
	Summary    store.Summary
	Transcript string
	Record     store.CallRecord
	Duration   time.Duration
}

// Archive ends the session if it is still live, summarizes it and persists
// the record, transcript and summary in that order. The transcript is skipped
// when recording is false.
//
// A store error is returned wrapped in [ErrPersistenceFailure]; the result
// still carries the computed summary. A successful archive is cached and
// later calls return it without writing again.
func (s *Session) Archive(ctx context.Context, st store.Store, recording bool) (ArchiveResult, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.archive != nil {
		res := *s.archive
		s.mu.Unlock()
		return res, nil
	}
	s.endLocked(store.EndHangup)
	s.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "call.archive")
	defer span.End()

	sum := s.summarize(ctx)

	s.mu.Lock()
	turns := s.historyLocked()
	rec := store.CallRecord{
		SessionID:       s.id,
		StartTime:       s.createdAt,
		EndTime:         s.endedAt,
		DurationSeconds: s.endedAt.Sub(s.createdAt).Seconds(),
		Turns:           turns,
		Summary:         sum.Text,
		StagesCompleted: sum.StagesCompleted,
		TotalExchanges:  sum.TotalExchanges,
		EndReason:       s.endReason,
	}
	if len(s.flags) > 0 {
		rec.Flags = make(map[string]bool, len(s.flags))
		for k, v := range s.flags {
			rec.Flags[k] = v
		}
	}
	s.mu.Unlock()

	res := ArchiveResult{
		Summary:    sum,
		Transcript: FormatTranscript(turns),
		Duration:   s.endedAt.Sub(s.createdAt),
	}

	callID, err := st.SaveCall(ctx, &rec)
	if err != nil {
		res.Record = rec
		return res, fmt.Errorf("call: archive: %w: %w", ErrPersistenceFailure, err)
	}
	res.CallID = callID
	res.Record = rec

	log := observe.SessionLogger(ctx, s.id).With("call_id", callID)
	if recording {
		if err := st.SaveTranscript(ctx, callID, res.Transcript); err != nil {
			return res, fmt.Errorf("call: archive transcript %s: %w: %w", callID, ErrPersistenceFailure, err)
		}
	}
	if err := st.SaveSummary(ctx, callID, sum); err != nil {
		return res, fmt.Errorf("call: archive summary %s: %w: %w", callID, ErrPersistenceFailure, err)
	}

	s.mu.Lock()
	s.archive = &res
	s.mu.Unlock()
	log.Info("call archived",
		"end_reason", string(rec.EndReason),
		"duration_s", rec.DurationSeconds,
		"exchanges", rec.TotalExchanges,
	)
	return res, nil
}
