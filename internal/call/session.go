// Package call implements the call-session orchestrator.
//
// A [Session] owns one telephone conversation from the opening greeting to
// the archived record. It buffers the counterpart's audio, transcribes it on
// turn boundaries, asks the stage machine what to do next, has the [Oracle]
// phrase the reply and the synthesis port voice it.
//
// Port failures never escape a turn: a failed transcription or generation is
// replaced by a fixed apology line and the session is marked for termination.
// A failed synthesis only drops the audio.
//
// Each session serialises its own operations. Different sessions share no
// state and may run concurrently.
package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/callagent/internal/observe"
	"github.com/MrWong99/callagent/internal/script"
	"github.com/MrWong99/callagent/pkg/audio"
	"github.com/MrWong99/callagent/pkg/provider/stt"
	"github.com/MrWong99/callagent/pkg/provider/tts"
	"github.com/MrWong99/callagent/pkg/store"
)

// DegradedLine is spoken when a port fails mid-call.
const DegradedLine = "I apologize, I'm having technical difficulties. Thank you for your time."

const (
	// DefaultMaxTokens bounds each reply.
	DefaultMaxTokens = 150

	// DefaultSampleRate is the rate handed to the transcription port.
	DefaultSampleRate = 16000

	// DefaultMaxDuration caps the length of a call.
	DefaultMaxDuration = 600 * time.Second
)

// Status names a processing phase reported through the progress callback.
type Status string

const (
	StatusTranscribing       Status = "transcribing"
	StatusGeneratingResponse Status = "generating_response"
	StatusGeneratingAudio    Status = "generating_audio"
)

// Progress is delivered to the progress callback while a turn is processed.
// Heard is set once, right after a successful transcription, with Status
// empty.
type Progress struct {
	Status Status
	Heard  string
}

// Option configures a Session.
type Option func(*Session)

// WithSTT sets the transcription port.
func WithSTT(p stt.Provider) Option { return func(s *Session) { s.stt = p } }

// WithTTS sets the synthesis port. Without one, replies carry no audio.
func WithTTS(p tts.Provider) Option { return func(s *Session) { s.tts = p } }

// WithSampleRate sets the rate audio is normalised to before transcription.
func WithSampleRate(rate int) Option { return func(s *Session) { s.sampleRate = rate } }

// WithInputFormat declares the PCM16 layout of AcceptAudio chunks. Defaults
// to mono at the transcription sample rate.
func WithInputFormat(f audio.Format) Option { return func(s *Session) { s.inputFormat = f } }

// WithMaxTokens sets the per-reply token budget.
func WithMaxTokens(n int) Option { return func(s *Session) { s.maxTokens = n } }

// WithMaxDuration caps the call length. Zero disables the cap.
func WithMaxDuration(d time.Duration) Option { return func(s *Session) { s.maxDuration = d } }

// WithPortTimeout bounds every individual port call. Zero means no bound
// beyond the caller's context.
func WithPortTimeout(d time.Duration) Option { return func(s *Session) { s.portTimeout = d } }

// WithSilenceThreshold skips transcription for turns whose audio RMS, in
// PCM16 sample units, is below rms. Zero disables the check.
func WithSilenceThreshold(rms float64) Option {
	return func(s *Session) { s.silenceRMS = rms }
}

// WithMetrics records port latencies and turn outcomes.
func WithMetrics(m *observe.Metrics) Option { return func(s *Session) { s.metrics = m } }

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

// WithProgress registers a callback for processing status updates. It runs
// synchronously on the turn's goroutine and must not call back into the
// session.
func WithProgress(fn func(Progress)) Option { return func(s *Session) { s.progress = fn } }

// WithFlags attaches free-form flags (e.g. "test_mode") to the call record.
func WithFlags(flags map[string]bool) Option {
	return func(s *Session) {
		for k, v := range flags {
			s.flags[k] = v
		}
	}
}

// Session is the single owner of one call.
type Session struct {
	id     string
	oracle Oracle
	stt    stt.Provider
	tts    tts.Provider

	sampleRate  int
	inputFormat audio.Format
	maxTokens   int
	maxDuration time.Duration
	portTimeout time.Duration
	silenceRMS  float64
	metrics     *observe.Metrics
	now         func() time.Time
	progress    func(Progress)
	flags       map[string]bool

	// opMu serialises Start, FinishTurn, SubmitText, Summarize and Archive.
	// It is held across port calls, so Hangup and AcceptAudio never take it.
	opMu sync.Mutex

	// mu guards the fields below.
	mu          sync.Mutex
	machine     *script.Machine
	turns       []store.Turn
	buf         []byte
	started     bool
	live        bool
	terminating bool
	endReason   store.EndReason
	createdAt   time.Time
	endedAt     time.Time
	summary     *store.Summary
	archive     *ArchiveResult
}

// New creates a live session for the given script. The script must not be
// mutated while the session exists.
func New(id string, sc *script.Script, oracle Oracle, opts ...Option) *Session {
	s := &Session{
		id:          id,
		oracle:      oracle,
		sampleRate:  DefaultSampleRate,
		maxTokens:   DefaultMaxTokens,
		maxDuration: DefaultMaxDuration,
		now:         time.Now,
		flags:       make(map[string]bool),
		machine:     script.NewMachine(sc),
		live:        true,
	}
	for _, o := range opts {
		o(s)
	}
	if s.inputFormat.SampleRate == 0 {
		s.inputFormat = audio.Format{SampleRate: s.sampleRate, Channels: 1}
	}
	s.createdAt = s.now()
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	return s
}

// ── Turn protocol ───────────────────────────────────────────────────────────

// Start generates and voices the opening line. An oracle failure yields the
// degraded line but leaves the session live.
func (s *Session) Start(ctx context.Context) (AgentTurn, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	switch {
	case !s.live:
		s.mu.Unlock()
		return AgentTurn{}, ErrSessionEnded
	case s.started:
		s.mu.Unlock()
		return AgentTurn{}, ErrAlreadyStarted
	}
	s.started = true
	instruction := s.machine.InitialPrompt()
	s.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "call.start", trace.WithAttributes(attribute.String("session_id", s.id)))
	defer span.End()
	log := observe.SessionLogger(ctx, s.id)

	s.report(Progress{Status: StatusGeneratingResponse})
	text, err := s.generate(ctx, nil, instruction)
	if err != nil {
		log.Warn("opening generation failed, using degraded line", "err", err)
		text = DegradedLine
	}

	s.mu.Lock()
	if !s.live {
		s.mu.Unlock()
		return AgentTurn{}, ErrSessionEnded
	}
	s.appendTurn(store.RoleAgent, text, 0)
	label := s.machine.Label()
	s.mu.Unlock()

	s.report(Progress{Status: StatusGeneratingAudio})
	turn := AgentTurn{Text: text, Audio: s.synthesize(ctx, text), Stage: 0, Label: label}
	log.Info("call started", "stage", label)
	return turn, nil
}

// AcceptAudio appends a chunk of PCM16LE audio to the turn buffer. Chunks
// arriving after the session stopped being live are dropped.
func (s *Session) AcceptAudio(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live || s.terminating {
		return
	}
	s.buf = append(s.buf, chunk...)
}

// FinishTurn transcribes the buffered audio and answers it.
func (s *Session) FinishTurn(ctx context.Context) (TurnOutcome, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if out, done, err := s.precheck(); done {
		return out, err
	}

	s.mu.Lock()
	pcm := s.buf
	s.buf = nil
	s.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "call.turn", trace.WithAttributes(
		attribute.String("session_id", s.id),
		attribute.String("input", "audio"),
	))
	defer span.End()
	start := s.now()

	pcm = audio.Normalize(pcm, s.inputFormat, s.sampleRate)
	if len(pcm) < 2 {
		return s.finish(ctx, start, s.rejected(ErrNoAudio)), nil
	}
	if s.silenceRMS > 0 {
		if level := audio.RMS(pcm); level < s.silenceRMS {
			observe.SessionLogger(ctx, s.id).Debug("skipping transcription of silent audio",
				"rms", level, "threshold", s.silenceRMS)
			return s.finish(ctx, start, s.rejected(ErrSilence)), nil
		}
	}
	samples := audio.ToFloat32(pcm)

	s.report(Progress{Status: StatusTranscribing})
	text, err := s.transcribe(ctx, samples)
	if err != nil {
		// No counterpart turn exists to answer, so the apology is spoken but
		// not logged; the log keeps strict agent/counterpart alternation.
		observe.SessionLogger(ctx, s.id).Warn("transcription failed", "err", err)
		return s.finish(ctx, start, s.degrade(ctx, fmt.Errorf("%w: %w", ErrPortUnavailable, err), false)), nil
	}
	return s.finish(ctx, start, s.answer(ctx, text)), nil
}

// SubmitText answers a counterpart turn that already arrived as text.
func (s *Session) SubmitText(ctx context.Context, text string) (TurnOutcome, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if out, done, err := s.precheck(); done {
		return out, err
	}
	ctx, span := observe.StartSpan(ctx, "call.turn", trace.WithAttributes(
		attribute.String("session_id", s.id),
		attribute.String("input", "text"),
	))
	defer span.End()
	return s.finish(ctx, s.now(), s.answer(ctx, text)), nil
}

// precheck handles the cases where a turn cannot run: not started, already
// terminating, hung up, or past the maximum duration.
func (s *Session) precheck() (TurnOutcome, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return TurnOutcome{}, true, ErrNotStarted
	}
	if !s.live || s.terminating {
		return s.endedLocked(), true, nil
	}
	if s.maxDuration > 0 && s.now().Sub(s.createdAt) > s.maxDuration {
		s.markTerminatingLocked(store.EndTimeout)
		s.buf = nil
		return s.endedLocked(), true, nil
	}
	return TurnOutcome{}, false, nil
}

// answer records the counterpart text and produces the agent's reply.
func (s *Session) answer(ctx context.Context, heard string) TurnOutcome {
	heard = strings.TrimSpace(heard)
	if heard == "" {
		return s.rejected(ErrInputRejected)
	}
	log := observe.SessionLogger(ctx, s.id)

	s.mu.Lock()
	if !s.live {
		s.mu.Unlock()
		return s.ended()
	}
	s.appendTurn(store.RoleCounterpart, heard, s.machine.Stage())
	d := s.machine.Next(heard)
	history := s.historyLocked()
	s.mu.Unlock()

	s.report(Progress{Heard: heard})
	log.Info("counterpart spoke", "stage", d.Label, "decision", d.Kind.String())

	if d.Kind == script.Exhausted {
		s.mu.Lock()
		s.markTerminatingLocked(store.EndExhausted)
		out := s.endedLocked()
		s.mu.Unlock()
		out.Heard = heard
		return out
	}

	s.report(Progress{Status: StatusGeneratingResponse})
	text, err := s.generate(ctx, history, d.Instruction)
	if err != nil {
		log.Warn("reply generation failed", "err", err)
		out := s.degrade(ctx, fmt.Errorf("%w: %w", ErrPortUnavailable, err), true)
		out.Heard = heard
		return out
	}

	reason := store.EndReason("")
	switch {
	case d.Kind == script.Close:
		reason = store.EndClosed
	case d.Closing:
		reason = store.EndCompleted
	}

	s.mu.Lock()
	if !s.live {
		s.mu.Unlock()
		out := s.ended()
		out.Heard = heard
		return out
	}
	s.appendTurn(store.RoleAgent, text, d.Stage)
	if reason != "" {
		s.markTerminatingLocked(reason)
	}
	s.mu.Unlock()

	s.report(Progress{Status: StatusGeneratingAudio})
	return TurnOutcome{
		Kind:       AgentReplied,
		Heard:      heard,
		Reply:      AgentTurn{Text: text, Audio: s.synthesize(ctx, text), Stage: d.Stage, Label: d.Label},
		Terminated: reason != "",
		EndReason:  reason,
	}
}

// degrade speaks the apology line and marks the session for termination.
// record controls whether the line is appended to the log.
func (s *Session) degrade(ctx context.Context, cause error, record bool) TurnOutcome {
	s.mu.Lock()
	if !s.live {
		s.mu.Unlock()
		return s.ended()
	}
	stage := s.machine.Stage()
	if record {
		s.appendTurn(store.RoleAgent, DegradedLine, stage)
	}
	s.markTerminatingLocked(store.EndFailed)
	label := s.machine.Label()
	s.mu.Unlock()

	return TurnOutcome{
		Kind:       AgentReplied,
		Reply:      AgentTurn{Text: DegradedLine, Audio: s.synthesize(ctx, DegradedLine), Stage: stage, Label: label},
		Terminated: true,
		EndReason:  store.EndFailed,
		Cause:      cause,
	}
}

func (s *Session) rejected(cause error) TurnOutcome {
	return TurnOutcome{Kind: Rejected, Cause: cause}
}

func (s *Session) ended() TurnOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedLocked()
}

func (s *Session) endedLocked() TurnOutcome {
	reason := s.endReason
	if reason == "" {
		reason = store.EndHangup
	}
	return TurnOutcome{Kind: Ended, Terminated: true, EndReason: reason}
}

// finish records turn metrics and logs the outcome.
func (s *Session) finish(ctx context.Context, start time.Time, out TurnOutcome) TurnOutcome {
	if s.metrics != nil {
		s.metrics.RecordTurnOutcome(ctx, out.Kind.String())
		s.metrics.TurnDuration.Record(ctx, s.now().Sub(start).Seconds())
	}
	if out.Terminated {
		observe.SessionLogger(ctx, s.id).Info("call marked for termination", "reason", string(out.EndReason))
	}
	return out
}

// ── Lifecycle ───────────────────────────────────────────────────────────────

// Hangup marks the session non-live. In-flight port calls run to completion
// but their results are discarded. Safe to call repeatedly and concurrently
// with any other method.
func (s *Session) Hangup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(store.EndHangup)
}

// endLocked freezes the session. The first recorded end reason wins.
func (s *Session) endLocked(reason store.EndReason) {
	if !s.live {
		return
	}
	s.live = false
	s.buf = nil
	if s.endReason == "" {
		s.endReason = reason
	}
	s.endedAt = s.now()
	if s.metrics != nil {
		ctx := context.Background()
		s.metrics.ActiveSessions.Add(ctx, -1)
		s.metrics.RecordCallEnded(ctx, string(s.endReason), s.endedAt.Sub(s.createdAt).Seconds())
	}
}

func (s *Session) markTerminatingLocked(reason store.EndReason) {
	if s.terminating {
		return
	}
	s.terminating = true
	s.endReason = reason
}

// ── Snapshot accessors ──────────────────────────────────────────────────────

// ID returns the transport-assigned session identifier.
func (s *Session) ID() string { return s.id }

// Turns returns a copy of the conversation log.
func (s *Session) Turns() []store.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked()
}

// Stage returns the current stage index.
func (s *Session) Stage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Stage()
}

// Live reports whether the session still accepts events.
func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Terminating reports whether the session is marked for termination.
func (s *Session) Terminating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminating
}

// EndReason returns why the session ended or is ending, or "" while it runs.
func (s *Session) EndReason() store.EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Duration returns the call length so far, or the final length once ended.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := s.endedAt
	if end.IsZero() {
		end = s.now()
	}
	return end.Sub(s.createdAt)
}

// ── Port helpers ────────────────────────────────────────────────────────────

func (s *Session) portContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.portTimeout > 0 {
		return context.WithTimeout(ctx, s.portTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Session) transcribe(ctx context.Context, samples []float32) (string, error) {
	if s.stt == nil {
		return "", errors.New("call: no transcription provider configured")
	}
	ctx, cancel := s.portContext(ctx)
	defer cancel()
	start := s.now()
	text, err := s.stt.Transcribe(ctx, samples, s.sampleRate)
	s.observePort(ctx, observe.KindSTT, start, err)
	return text, err
}

func (s *Session) generate(ctx context.Context, history []store.Turn, instruction string) (string, error) {
	return s.generateN(ctx, history, instruction, s.maxTokens)
}

func (s *Session) generateN(ctx context.Context, history []store.Turn, instruction string, maxTokens int) (string, error) {
	ctx, cancel := s.portContext(ctx)
	defer cancel()
	start := s.now()
	text, err := s.oracle.Generate(ctx, history, instruction, maxTokens)
	s.observePort(ctx, observe.KindLLM, start, err)
	return text, err
}

// synthesize returns nil audio on failure; a silent reply is acceptable.
func (s *Session) synthesize(ctx context.Context, text string) []byte {
	if s.tts == nil {
		return nil
	}
	ctx, cancel := s.portContext(ctx)
	defer cancel()
	start := s.now()
	wav, err := s.tts.Synthesize(ctx, text)
	s.observePort(ctx, observe.KindTTS, start, err)
	if err != nil {
		observe.SessionLogger(ctx, s.id).Warn("synthesis failed, reply will be silent", "err", err)
		return nil
	}
	return wav
}

func (s *Session) observePort(ctx context.Context, kind string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordPortLatency(ctx, kind, s.now().Sub(start).Seconds(), err != nil)
}

func (s *Session) report(p Progress) {
	if s.progress != nil {
		s.progress(p)
	}
}

// appendTurn must be called with mu held.
func (s *Session) appendTurn(role store.Role, text string, stage int) {
	s.turns = append(s.turns, store.Turn{Role: role, Content: text, Stage: stage, Timestamp: s.now()})
}

func (s *Session) historyLocked() []store.Turn {
	return append([]store.Turn(nil), s.turns...)
}

