package call

import "errors"

var (
	// ErrInputRejected marks a counterpart turn whose transcription was empty.
	// It surfaces as [Rejected] and never ends the call.
	ErrInputRejected = errors.New("call: input rejected: empty transcription")

	// ErrNoAudio marks an audio turn that ended with an empty buffer. It
	// surfaces as [Rejected] and never ends the call.
	ErrNoAudio = errors.New("call: no audio received")

	// ErrSilence marks an audio turn whose buffer stayed below the silence
	// threshold. Transcription is skipped and the turn surfaces as [Rejected].
	ErrSilence = errors.New("call: no speech in audio")

	// ErrPortUnavailable wraps any transcription, oracle or synthesis failure.
	// FinishTurn contains it by speaking the degraded line.
	ErrPortUnavailable = errors.New("call: port unavailable")

	// ErrOracleUnavailable wraps every failure returned by an [Oracle].
	ErrOracleUnavailable = errors.New("call: oracle unavailable")

	// ErrPersistenceFailure wraps store errors raised while archiving.
	ErrPersistenceFailure = errors.New("call: persistence failure")

	// ErrNotStarted is returned when a turn is submitted before Start.
	ErrNotStarted = errors.New("call: session not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("call: session already started")

	// ErrSessionEnded is returned by Start on a session that is no longer live.
	ErrSessionEnded = errors.New("call: session ended")
)
