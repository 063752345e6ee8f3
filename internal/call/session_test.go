package call_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/callagent/internal/call"
	"github.com/MrWong99/callagent/internal/call/mock"
	"github.com/MrWong99/callagent/internal/script"
	"github.com/MrWong99/callagent/pkg/audio"
	sttmock "github.com/MrWong99/callagent/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/callagent/pkg/provider/tts/mock"
	"github.com/MrWong99/callagent/pkg/store"
)

// ── Helpers ─────────────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// pcm returns n silent PCM16 samples.
func pcm(n int) []byte {
	return audio.FromFloat32(make([]float32, n))
}

// tone returns n samples alternating between +amp and -amp.
func tone(n int, amp float32) []byte {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = amp
		if i%2 == 1 {
			samples[i] = -amp
		}
	}
	return audio.FromFloat32(samples)
}

func startSession(t *testing.T, sc *script.Script, o call.Oracle, opts ...call.Option) *call.Session {
	t.Helper()
	s := call.New("sess-1", sc, o, opts...)
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}

func submit(t *testing.T, s *call.Session, text string) call.TurnOutcome {
	t.Helper()
	out, err := s.SubmitText(context.Background(), text)
	if err != nil {
		t.Fatalf("SubmitText(%q): %v", text, err)
	}
	return out
}

func assertAlternating(t *testing.T, turns []store.Turn) {
	t.Helper()
	for i, turn := range turns {
		want := store.RoleAgent
		if i%2 == 1 {
			want = store.RoleCounterpart
		}
		if turn.Role != want {
			t.Fatalf("turn %d role = %q, want %q", i, turn.Role, want)
		}
	}
}

// ── Start ───────────────────────────────────────────────────────────────────

func TestStart_OpeningTurn(t *testing.T) {
	t.Parallel()

	o := &mock.Oracle{Reply: "Hello, I'm calling about openings."}
	synth := &ttsmock.Provider{Audio: []byte("wav")}
	s := call.New("sess-1", script.Default(), o, call.WithTTS(synth))

	turn, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if turn.Text != "Hello, I'm calling about openings." {
		t.Errorf("Text = %q", turn.Text)
	}
	if string(turn.Audio) != "wav" {
		t.Errorf("Audio = %q, want %q", turn.Audio, "wav")
	}
	if turn.Stage != 0 || turn.Label != "greeting" {
		t.Errorf("stage = %d/%q, want 0/greeting", turn.Stage, turn.Label)
	}

	calls := o.Calls()
	if len(calls) != 1 {
		t.Fatalf("oracle calls = %d, want 1", len(calls))
	}
	if len(calls[0].History) != 0 {
		t.Errorf("opening history = %v, want empty", calls[0].History)
	}
	if calls[0].Instruction != script.Default().OpeningInstruction {
		t.Errorf("opening instruction = %q", calls[0].Instruction)
	}
	if calls[0].MaxTokens != call.DefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", calls[0].MaxTokens, call.DefaultMaxTokens)
	}

	turns := s.Turns()
	if len(turns) != 1 || turns[0].Role != store.RoleAgent || turns[0].Stage != 0 {
		t.Errorf("turns = %+v, want one agent turn at stage 0", turns)
	}
}

func TestStart_OracleFailureUsesDegradedLineAndStaysLive(t *testing.T) {
	t.Parallel()

	o := &mock.Oracle{Err: errors.New("connection refused"), FailAt: 1, Reply: "Great, thanks."}
	s := call.New("sess-1", script.Default(), o)

	turn, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if turn.Text != call.DegradedLine {
		t.Errorf("Text = %q, want degraded line", turn.Text)
	}
	if !s.Live() || s.Terminating() {
		t.Fatalf("Live=%v Terminating=%v, want live and not terminating", s.Live(), s.Terminating())
	}

	out := submit(t, s, "Sure, what can I do for you?")
	if out.Kind != call.AgentReplied || out.Reply.Text != "Great, thanks." {
		t.Errorf("outcome = %+v, want normal reply", out)
	}
}

func TestStart_Twice(t *testing.T) {
	t.Parallel()

	s := startSession(t, script.Default(), &mock.Oracle{Reply: "hi"})
	if _, err := s.Start(context.Background()); !errors.Is(err, call.ErrAlreadyStarted) {
		t.Errorf("second Start err = %v, want ErrAlreadyStarted", err)
	}
}

func TestStart_AfterHangup(t *testing.T) {
	t.Parallel()

	s := call.New("sess-1", script.Default(), &mock.Oracle{Reply: "hi"})
	s.Hangup()
	if _, err := s.Start(context.Background()); !errors.Is(err, call.ErrSessionEnded) {
		t.Errorf("Start err = %v, want ErrSessionEnded", err)
	}
}

func TestSubmitText_BeforeStart(t *testing.T) {
	t.Parallel()

	s := call.New("sess-1", script.Default(), &mock.Oracle{Reply: "hi"})
	if _, err := s.SubmitText(context.Background(), "hello"); !errors.Is(err, call.ErrNotStarted) {
		t.Errorf("err = %v, want ErrNotStarted", err)
	}
}

// ── Full scenarios ──────────────────────────────────────────────────────────

func TestScenario_SixStagesCompleteAfterClosingStage(t *testing.T) {
	t.Parallel()

	o := &mock.Oracle{Reply: "Understood."}
	s := startSession(t, script.Default(), o)

	replies := []string{
		"Hello, this is HR.",
		"Sure, we have openings.",
		"Yes, two backend roles.",
		"Five years of Go experience.",
		"Apply through our careers page.",
	}
	for i, r := range replies {
		out := submit(t, s, r)
		if out.Kind != call.AgentReplied {
			t.Fatalf("reply %d: kind = %v, want replied", i, out.Kind)
		}
		if out.Heard != r {
			t.Errorf("reply %d: Heard = %q", i, out.Heard)
		}
		if out.Reply.Stage != i+1 {
			t.Errorf("reply %d: stage = %d, want %d", i, out.Reply.Stage, i+1)
		}
		last := i == len(replies)-1
		if out.Terminated != last {
			t.Errorf("reply %d: Terminated = %v, want %v", i, out.Terminated, last)
		}
	}

	turns := s.Turns()
	if len(turns) != 11 {
		t.Fatalf("len(turns) = %d, want 11", len(turns))
	}
	assertAlternating(t, turns)
	if s.EndReason() != store.EndCompleted {
		t.Errorf("EndReason = %q, want completed", s.EndReason())
	}

	// The session is marked; further turns are refused without mutation.
	out := submit(t, s, "Anything else?")
	if out.Kind != call.Ended || out.EndReason != store.EndCompleted {
		t.Errorf("after closing: outcome = %+v, want Ended/completed", out)
	}
	if got := len(s.Turns()); got != 11 {
		t.Errorf("turns after Ended = %d, want 11", got)
	}

	sum := s.Summarize(context.Background())
	if sum.StagesCompleted != 5 {
		t.Errorf("StagesCompleted = %d, want 5", sum.StagesCompleted)
	}
	if sum.TotalExchanges != 5 {
		t.Errorf("TotalExchanges = %d, want 5", sum.TotalExchanges)
	}
}

func TestScenario_ExhaustedWithoutClosingStage(t *testing.T) {
	t.Parallel()

	sc := &script.Script{
		OpeningInstruction: "open",
		ClosingInstruction: "close",
		Stages: []script.Stage{
			{Label: "intro", Instruction: "introduce"},
			{Label: "ask", Instruction: "ask"},
		},
	}
	o := &mock.Oracle{Reply: "ok"}
	s := startSession(t, sc, o)

	if out := submit(t, s, "Hi there."); out.Kind != call.AgentReplied || out.Terminated {
		t.Fatalf("first reply = %+v, want non-terminal reply", out)
	}
	callsBefore := len(o.Calls())

	out := submit(t, s, "Anything else?")
	if out.Kind != call.Ended || out.EndReason != store.EndExhausted {
		t.Fatalf("outcome = %+v, want Ended/exhausted", out)
	}
	if len(o.Calls()) != callsBefore {
		t.Errorf("oracle called on exhaustion")
	}
	if s.Stage() != 2 {
		t.Errorf("Stage = %d, want 2", s.Stage())
	}
	// greeting, hi, reply, anything-else
	if got := len(s.Turns()); got != 4 {
		t.Errorf("len(turns) = %d, want 4", got)
	}
}

func TestScenario_BusyFirstReplyCloses(t *testing.T) {
	t.Parallel()

	o := &mock.Oracle{Replies: []string{"Hello!", "No problem, thank you for your time. Goodbye."}}
	s := startSession(t, script.Default(), o)

	out := submit(t, s, "Sorry, I'm busy right now")
	if out.Kind != call.AgentReplied {
		t.Fatalf("kind = %v, want replied", out.Kind)
	}
	if !out.Terminated || out.EndReason != store.EndClosed {
		t.Errorf("Terminated=%v EndReason=%q, want closed", out.Terminated, out.EndReason)
	}
	if out.Reply.Stage != 0 {
		t.Errorf("reply stage = %d, want 0", out.Reply.Stage)
	}

	calls := o.Calls()
	if got := calls[len(calls)-1].Instruction; got != script.Default().ClosingInstruction {
		t.Errorf("instruction = %q, want closing instruction", got)
	}

	turns := s.Turns()
	if len(turns) != 3 {
		t.Fatalf("len(turns) = %d, want 3", len(turns))
	}
	assertAlternating(t, turns)

	sum := s.Summarize(context.Background())
	if sum.StagesCompleted != 0 || sum.TotalExchanges != 1 {
		t.Errorf("summary counts = %d/%d, want 0/1", sum.StagesCompleted, sum.TotalExchanges)
	}
}

func TestSubmitText_HistoryIncludesCounterpartTurn(t *testing.T) {
	t.Parallel()

	o := &mock.Oracle{Replies: []string{"Hello!", "Great."}}
	s := startSession(t, script.Default(), o)
	submit(t, s, "Hi, HR speaking.")

	calls := o.Calls()
	h := calls[1].History
	if len(h) != 2 {
		t.Fatalf("history len = %d, want 2", len(h))
	}
	if h[0].Content != "Hello!" || h[1].Content != "Hi, HR speaking." {
		t.Errorf("history = %+v", h)
	}
	want := script.Default().Stages[1].Instruction + script.BriefSuffix
	if calls[1].Instruction != want {
		t.Errorf("instruction = %q, want %q", calls[1].Instruction, want)
	}
}

// ── Audio turns ─────────────────────────────────────────────────────────────

func TestFinishTurn_TranscribesBufferedAudio(t *testing.T) {
	t.Parallel()

	recognizer := &sttmock.Provider{Text: "We do have openings."}
	var progress []call.Progress
	s := startSession(t, script.Default(), &mock.Oracle{Reply: "Thanks."},
		call.WithSTT(recognizer),
		call.WithProgress(func(p call.Progress) { progress = append(progress, p) }),
	)

	s.AcceptAudio(pcm(100))
	s.AcceptAudio(pcm(60))
	out, err := s.FinishTurn(context.Background())
	if err != nil {
		t.Fatalf("FinishTurn: %v", err)
	}
	if out.Kind != call.AgentReplied || out.Heard != "We do have openings." {
		t.Errorf("outcome = %+v", out)
	}
	if len(recognizer.TranscribeCalls) != 1 {
		t.Fatalf("transcribe calls = %d, want 1", len(recognizer.TranscribeCalls))
	}
	c := recognizer.TranscribeCalls[0]
	if len(c.Samples) != 160 || c.SampleRate != call.DefaultSampleRate {
		t.Errorf("transcribed %d samples at %d Hz, want 160 at %d", len(c.Samples), c.SampleRate, call.DefaultSampleRate)
	}

	var statuses []string
	for _, p := range progress {
		if p.Heard != "" {
			statuses = append(statuses, "heard")
			continue
		}
		statuses = append(statuses, string(p.Status))
	}
	want := "generating_response,generating_audio,transcribing,heard,generating_response,generating_audio"
	if got := strings.Join(statuses, ","); got != want {
		t.Errorf("progress = %s, want %s", got, want)
	}

	// The buffer was drained: the next turn has nothing to transcribe.
	out, _ = s.FinishTurn(context.Background())
	if out.Kind != call.Rejected {
		t.Errorf("second FinishTurn kind = %v, want rejected", out.Kind)
	}
}

func TestFinishTurn_NormalizesInputFormat(t *testing.T) {
	t.Parallel()

	recognizer := &sttmock.Provider{Text: "hello"}
	s := startSession(t, script.Default(), &mock.Oracle{Reply: "hi"},
		call.WithSTT(recognizer),
		call.WithInputFormat(audio.Format{SampleRate: 48000, Channels: 2}),
	)

	// 480 stereo frames at 48 kHz is 10 ms, i.e. 160 mono samples at 16 kHz.
	s.AcceptAudio(make([]byte, 480*4))
	if _, err := s.FinishTurn(context.Background()); err != nil {
		t.Fatalf("FinishTurn: %v", err)
	}
	if got := len(recognizer.TranscribeCalls[0].Samples); got != 160 {
		t.Errorf("samples = %d, want 160", got)
	}
}

func TestFinishTurn_Rejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		audio      []byte
		threshold  float64
		wantCause  error
		wantSTTRun bool
	}{
		{name: "empty buffer", audio: nil, wantCause: call.ErrNoAudio},
		{name: "odd byte only", audio: []byte{0x01}, wantCause: call.ErrNoAudio},
		{name: "silence below threshold", audio: pcm(320), threshold: 10, wantCause: call.ErrSilence},
		{name: "empty transcription", text: "", audio: pcm(32), wantCause: call.ErrInputRejected, wantSTTRun: true},
		{name: "whitespace transcription", text: "  \n ", audio: pcm(32), wantCause: call.ErrInputRejected, wantSTTRun: true},
		{name: "quiet speech above threshold", text: " ", audio: tone(320, 0.01), threshold: 10, wantCause: call.ErrInputRejected, wantSTTRun: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			recognizer := &sttmock.Provider{Text: tc.text}
			s := startSession(t, script.Default(), &mock.Oracle{Reply: "hi"},
				call.WithSTT(recognizer),
				call.WithSilenceThreshold(tc.threshold),
			)
			s.AcceptAudio(tc.audio)

			out, err := s.FinishTurn(context.Background())
			if err != nil {
				t.Fatalf("FinishTurn: %v", err)
			}
			if out.Kind != call.Rejected || !errors.Is(out.Cause, tc.wantCause) {
				t.Errorf("outcome = %+v, want Rejected/%v", out, tc.wantCause)
			}
			if ran := len(recognizer.TranscribeCalls) > 0; ran != tc.wantSTTRun {
				t.Errorf("STT ran = %v, want %v", ran, tc.wantSTTRun)
			}
			if s.Stage() != 0 || len(s.Turns()) != 1 || s.Terminating() {
				t.Errorf("state changed: stage=%d turns=%d terminating=%v", s.Stage(), len(s.Turns()), s.Terminating())
			}
		})
	}
}

// ── Failure containment ─────────────────────────────────────────────────────

func TestFinishTurn_TranscriptionFailureDegrades(t *testing.T) {
	t.Parallel()

	sttErr := errors.New("whisper: 503")
	recognizer := &sttmock.Provider{TranscribeErr: sttErr}
	synth := &ttsmock.Provider{Audio: []byte("wav")}
	s := startSession(t, script.Default(), &mock.Oracle{Reply: "hi"}, call.WithSTT(recognizer), call.WithTTS(synth))

	s.AcceptAudio(pcm(64))
	out, err := s.FinishTurn(context.Background())
	if err != nil {
		t.Fatalf("FinishTurn: %v", err)
	}
	if out.Kind != call.AgentReplied || out.Reply.Text != call.DegradedLine {
		t.Errorf("outcome = %+v, want degraded reply", out)
	}
	if !out.Terminated || out.EndReason != store.EndFailed {
		t.Errorf("Terminated=%v EndReason=%q, want failed", out.Terminated, out.EndReason)
	}
	if !errors.Is(out.Cause, call.ErrPortUnavailable) || !errors.Is(out.Cause, sttErr) {
		t.Errorf("Cause = %v, want ErrPortUnavailable wrapping STT error", out.Cause)
	}
	if string(out.Reply.Audio) != "wav" {
		t.Errorf("degraded line not voiced")
	}
	// No counterpart turn exists to pair it with, so the log is unchanged.
	if got := len(s.Turns()); got != 1 {
		t.Errorf("len(turns) = %d, want 1", got)
	}
}

func TestFinishTurn_MissingRecognizerDegrades(t *testing.T) {
	t.Parallel()

	s := startSession(t, script.Default(), &mock.Oracle{Reply: "hi"})
	s.AcceptAudio(pcm(64))
	out, err := s.FinishTurn(context.Background())
	if err != nil {
		t.Fatalf("FinishTurn: %v", err)
	}
	if out.EndReason != store.EndFailed || !errors.Is(out.Cause, call.ErrPortUnavailable) {
		t.Errorf("outcome = %+v, want failed with ErrPortUnavailable", out)
	}
}

func TestSubmitText_OracleFailureDegrades(t *testing.T) {
	t.Parallel()

	o := &mock.Oracle{Reply: "Hello!", Err: errors.New("rate limited"), FailAt: 2}
	s := startSession(t, script.Default(), o)

	out := submit(t, s, "Hi, HR here.")
	if out.Reply.Text != call.DegradedLine || out.EndReason != store.EndFailed {
		t.Fatalf("outcome = %+v, want degraded/failed", out)
	}
	if !errors.Is(out.Cause, call.ErrOracleUnavailable) {
		t.Errorf("Cause = %v, want ErrOracleUnavailable", out.Cause)
	}

	turns := s.Turns()
	if len(turns) != 3 {
		t.Fatalf("len(turns) = %d, want 3", len(turns))
	}
	assertAlternating(t, turns)
	if turns[2].Content != call.DegradedLine {
		t.Errorf("last turn = %q, want degraded line", turns[2].Content)
	}

	if out := submit(t, s, "Hello?"); out.Kind != call.Ended {
		t.Errorf("after failure kind = %v, want ended", out.Kind)
	}
}

func TestSubmitText_SynthesisFailureIsSilent(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Provider{SynthesizeErr: errors.New("quota exceeded")}
	s := startSession(t, script.Default(), &mock.Oracle{Reply: "Thanks."}, call.WithTTS(synth))

	out := submit(t, s, "Hi.")
	if out.Kind != call.AgentReplied || out.Terminated {
		t.Fatalf("outcome = %+v, want live reply", out)
	}
	if out.Reply.Audio != nil {
		t.Errorf("Audio = %v, want nil", out.Reply.Audio)
	}
	if got := len(s.Turns()); got != 3 {
		t.Errorf("len(turns) = %d, want 3", got)
	}
}

// ── Lifecycle ───────────────────────────────────────────────────────────────

func TestMaxDuration_TimesOutOnNextEvent(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	o := &mock.Oracle{Reply: "hi"}
	s := startSession(t, script.Default(), o, call.WithClock(clk.Now), call.WithMaxDuration(time.Minute))

	clk.Advance(61 * time.Second)
	out := submit(t, s, "Hello?")
	if out.Kind != call.Ended || out.EndReason != store.EndTimeout {
		t.Fatalf("outcome = %+v, want Ended/timeout", out)
	}
	if len(o.Calls()) != 1 {
		t.Errorf("oracle called after timeout")
	}
	if got := len(s.Turns()); got != 1 {
		t.Errorf("len(turns) = %d, want 1", got)
	}
}

func TestAcceptAudio_IgnoredAfterHangup(t *testing.T) {
	t.Parallel()

	recognizer := &sttmock.Provider{Text: "hello"}
	s := startSession(t, script.Default(), &mock.Oracle{Reply: "hi"}, call.WithSTT(recognizer))
	s.Hangup()
	s.AcceptAudio(pcm(64))

	out, err := s.FinishTurn(context.Background())
	if err != nil {
		t.Fatalf("FinishTurn: %v", err)
	}
	if out.Kind != call.Ended || out.EndReason != store.EndHangup {
		t.Errorf("outcome = %+v, want Ended/hangup", out)
	}
	if len(recognizer.TranscribeCalls) != 0 {
		t.Errorf("transcribed after hangup")
	}
	if s.Live() {
		t.Error("Live() = true after Hangup")
	}
}

// blockingOracle parks every Generate until release is closed.
type blockingOracle struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingOracle) Generate(ctx context.Context, _ []store.Turn, _ string, _ int) (string, error) {
	b.entered <- struct{}{}
	<-b.release
	return "late reply", nil
}

func TestHangup_DiscardsInFlightReply(t *testing.T) {
	t.Parallel()

	o := &blockingOracle{entered: make(chan struct{}, 2), release: make(chan struct{})}
	s := call.New("sess-1", script.Default(), o)

	// Let the opening through.
	go func() { <-o.entered; o.release <- struct{}{} }()
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan call.TurnOutcome, 1)
	go func() {
		out, _ := s.SubmitText(context.Background(), "Hello, HR.")
		done <- out
	}()

	<-o.entered
	s.Hangup() // must not block on the in-flight turn
	close(o.release)

	out := <-done
	if out.Kind != call.Ended || out.EndReason != store.EndHangup {
		t.Errorf("outcome = %+v, want Ended/hangup", out)
	}
	turns := s.Turns()
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[1].Role != store.RoleCounterpart {
		t.Errorf("last role = %q, want counterpart", turns[1].Role)
	}
}

func TestHangup_Idempotent(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := startSession(t, script.Default(), &mock.Oracle{Reply: "hi"}, call.WithClock(clk.Now))
	clk.Advance(5 * time.Second)
	s.Hangup()
	clk.Advance(5 * time.Second)
	s.Hangup()

	if s.Duration() != 5*time.Second {
		t.Errorf("Duration = %v, want 5s", s.Duration())
	}
	if s.EndReason() != store.EndHangup {
		t.Errorf("EndReason = %q, want hangup", s.EndReason())
	}
}

func TestHangup_KeepsEarlierEndReason(t *testing.T) {
	t.Parallel()

	s := startSession(t, script.Default(), &mock.Oracle{Reply: "bye then"})
	submit(t, s, "Not interested, thanks.")
	s.Hangup()
	if s.EndReason() != store.EndClosed {
		t.Errorf("EndReason = %q, want closed", s.EndReason())
	}
}

func TestSessions_RunConcurrently(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := call.New("sess", script.Default(), &mock.Oracle{Reply: "ok"})
			if _, err := s.Start(context.Background()); err != nil {
				t.Errorf("session %d Start: %v", i, err)
				return
			}
			for range 5 {
				if _, err := s.SubmitText(context.Background(), "Sure."); err != nil {
					t.Errorf("session %d: %v", i, err)
					return
				}
			}
			if got := len(s.Turns()); got != 11 {
				t.Errorf("session %d turns = %d, want 11", i, got)
			}
		}()
	}
	wg.Wait()
}
