package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/callagent/internal/call"
	"github.com/MrWong99/callagent/internal/config"
	"github.com/MrWong99/callagent/internal/observe"
	"github.com/MrWong99/callagent/internal/script"
	"github.com/MrWong99/callagent/pkg/audio"
	"github.com/MrWong99/callagent/pkg/provider/tts"
	"github.com/MrWong99/callagent/pkg/store"
)

// SessionManagerConfig holds the dependencies of a [SessionManager].
type SessionManagerConfig struct {
	Providers *Providers
	Store     store.Store
	Call      config.CallConfig

	// Script is the script new sessions run. Nil means [script.Default].
	Script *script.Script

	// Metrics is optional.
	Metrics *observe.Metrics

	// Now replaces time.Now for every session the manager creates.
	Now func() time.Time
}

// SessionManager creates call sessions, keeps them in a [Registry] and
// archives them when they end. Every exported method is safe for concurrent
// use.
type SessionManager struct {
	registry  *Registry
	providers *Providers
	store     store.Store
	metrics   *observe.Metrics
	now       func() time.Time

	// mu guards the settings picked up by the next Open. Running sessions
	// keep what they started with.
	mu      sync.RWMutex
	script  *script.Script
	callCfg config.CallConfig

	// archiving counts archives started by Close or Drop, so Shutdown can
	// wait for them before the store is closed. idle is closed whenever the
	// count drops to zero.
	archMu    sync.Mutex
	archiving int
	idle      chan struct{}

	drainOnce sync.Once
	draining  chan struct{}
}

// NewSessionManager returns a manager with an empty registry.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sc := cfg.Script
	if sc == nil {
		sc = script.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &SessionManager{
		registry:  NewRegistry(),
		providers: cfg.Providers,
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		now:       now,
		script:    sc,
		callCfg:   cfg.Call,
		draining:  make(chan struct{}),
	}
}

// Registry exposes the live-session registry.
func (sm *SessionManager) Registry() *Registry { return sm.registry }

// Store returns the store sessions are archived to.
func (sm *SessionManager) Store() store.Store { return sm.store }

// Script returns the script the next session will run.
func (sm *SessionManager) Script() *script.Script {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.script
}

// Reconfigure swaps the script and per-call settings used by later calls.
func (sm *SessionManager) Reconfigure(sc *script.Script, callCfg config.CallConfig) {
	if sc == nil {
		sc = script.Default()
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.script = sc
	sm.callCfg = callCfg
}

// Open creates a session under id, registers it and voices the opening line.
// opts are applied after the manager's own options, so callers can add
// flags or a progress callback. When Start fails the session is evicted
// again and the error returned.
func (sm *SessionManager) Open(ctx context.Context, id string, opts ...call.Option) (*call.Session, call.AgentTurn, error) {
	if sm.providers == nil || sm.providers.LLM == nil {
		return nil, call.AgentTurn{}, errors.New("app: no llm provider configured")
	}
	if _, err := sm.registry.Get(id); err == nil {
		return nil, call.AgentTurn{}, fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}

	s := sm.newSession(id, opts)
	if err := sm.registry.Create(id, s); err != nil {
		s.Hangup()
		return nil, call.AgentTurn{}, err
	}

	opening, err := s.Start(ctx)
	if err != nil {
		sm.registry.Disconnect(id)
		return nil, call.AgentTurn{}, fmt.Errorf("app: start session %s: %w", id, err)
	}
	observe.SessionLogger(ctx, id).Info("call started", "stage", opening.Label)
	return s, opening, nil
}

func (sm *SessionManager) newSession(id string, extra []call.Option) *call.Session {
	sm.mu.RLock()
	sc, cc := sm.script, sm.callCfg
	sm.mu.RUnlock()

	opts := []call.Option{
		call.WithClock(sm.now),
		call.WithMetrics(sm.metrics),
	}
	if sm.providers.STT != nil {
		opts = append(opts, call.WithSTT(sm.providers.STT))
	}
	if sm.providers.TTS != nil {
		opts = append(opts, call.WithTTS(tts.WithGain(sm.providers.TTS, cc.VolumeOrDefault())))
	}
	if cc.MaxTokens > 0 {
		opts = append(opts, call.WithMaxTokens(cc.MaxTokens))
	}
	if cc.SampleRate > 0 {
		opts = append(opts, call.WithSampleRate(cc.SampleRate))
	}
	if cc.InputSampleRate > 0 {
		ch := cc.InputChannels
		if ch == 0 {
			ch = 1
		}
		opts = append(opts, call.WithInputFormat(audio.Format{SampleRate: cc.InputSampleRate, Channels: ch}))
	}
	if d := cc.MaxDuration(); d > 0 {
		opts = append(opts, call.WithMaxDuration(d))
	}
	if cc.PortTimeout > 0 {
		opts = append(opts, call.WithPortTimeout(cc.PortTimeout))
	}
	if t := cc.SilenceThresholdOrDefault(); t > 0 {
		opts = append(opts, call.WithSilenceThreshold(t))
	}
	opts = append(opts, extra...)

	oracle := call.NewLLMOracle(sm.providers.LLM, sc.SystemPrompt, cc.TemperatureOrDefault())
	return call.New(id, sc, oracle, opts...)
}

// Get returns the live session registered under id.
func (sm *SessionManager) Get(id string) (*call.Session, error) {
	return sm.registry.Get(id)
}

// Close evicts the session, summarizes it and persists it. Only the caller
// that wins the eviction archives; everyone else gets [ErrNoActiveSession].
func (sm *SessionManager) Close(ctx context.Context, id string) (call.ArchiveResult, error) {
	s, err := sm.registry.Get(id)
	if err != nil {
		return call.ArchiveResult{}, err
	}
	sm.beginArchive()
	defer sm.endArchive()
	if !sm.registry.Remove(id) {
		return call.ArchiveResult{}, fmt.Errorf("%w: %s", ErrNoActiveSession, id)
	}
	return sm.archive(ctx, s)
}

// Drop ends the session because its transport went away. The call is hung up
// and, when anything was said, archived like [SessionManager.Close]. A
// session without turns is only evicted and the zero result returned.
// Without a live session under id it returns [ErrNoActiveSession].
func (sm *SessionManager) Drop(ctx context.Context, id string) (call.ArchiveResult, error) {
	s, err := sm.registry.Get(id)
	if err != nil {
		return call.ArchiveResult{}, err
	}
	s.Hangup()
	if len(s.Turns()) == 0 {
		if !sm.Disconnect(id) {
			return call.ArchiveResult{}, fmt.Errorf("%w: %s", ErrNoActiveSession, id)
		}
		return call.ArchiveResult{}, nil
	}
	return sm.Close(ctx, id)
}

func (sm *SessionManager) archive(ctx context.Context, s *call.Session) (call.ArchiveResult, error) {
	sm.mu.RLock()
	recording := sm.callCfg.RecordingEnabled()
	sm.mu.RUnlock()

	res, err := s.Archive(ctx, sm.store, recording)
	log := observe.SessionLogger(ctx, s.ID())
	if err != nil {
		log.Error("failed to archive call", "err", err)
		return res, err
	}
	log.Info("call archived",
		"call_id", res.CallID,
		"end_reason", string(res.Record.EndReason),
		"duration", res.Duration.Round(time.Millisecond),
		"exchanges", res.Summary.TotalExchanges,
	)
	return res, nil
}

// Disconnect hangs up and evicts the session without archiving it, as when
// the transport drops. It reports whether this call did the eviction.
func (sm *SessionManager) Disconnect(id string) bool {
	if !sm.registry.Disconnect(id) {
		return false
	}
	slog.Info("call disconnected", "session_id", id)
	return true
}

// Len returns the number of live sessions.
func (sm *SessionManager) Len() int { return sm.registry.Len() }

// Drain tells transports the service is going down. Connections should stop
// reading and leave their sessions registered for [SessionManager.Shutdown]
// to archive. Safe to call more than once.
func (sm *SessionManager) Drain() {
	sm.drainOnce.Do(func() { close(sm.draining) })
}

// Draining is closed once [SessionManager.Drain] has been called.
func (sm *SessionManager) Draining() <-chan struct{} { return sm.draining }

// Shutdown drains, archives every session still registered and waits for
// archives already started by Close or Drop. It stops early when ctx is done
// and returns the joined errors.
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	sm.Drain()

	var errs []error
	for _, id := range sm.registry.IDs() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		s, err := sm.registry.Get(id)
		if err != nil || !sm.registry.Remove(id) {
			continue
		}
		if _, err := sm.archive(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}

	select {
	case <-sm.archivesDone():
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("app: waiting for archives: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}

func (sm *SessionManager) beginArchive() {
	sm.archMu.Lock()
	defer sm.archMu.Unlock()
	if sm.archiving == 0 {
		sm.idle = make(chan struct{})
	}
	sm.archiving++
}

func (sm *SessionManager) endArchive() {
	sm.archMu.Lock()
	defer sm.archMu.Unlock()
	sm.archiving--
	if sm.archiving == 0 {
		close(sm.idle)
	}
}

// archivesDone returns a channel that is closed once no archive started by
// Close or Drop is running.
func (sm *SessionManager) archivesDone() <-chan struct{} {
	sm.archMu.Lock()
	defer sm.archMu.Unlock()
	if sm.archiving == 0 {
		done := make(chan struct{})
		close(done)
		return done
	}
	return sm.idle
}
