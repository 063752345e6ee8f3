package call

import "github.com/MrWong99/callagent/pkg/store"

// OutcomeKind classifies the result of a counterpart turn.
type OutcomeKind int

const (
	// Rejected means the transcription was empty. Nothing was recorded and
	// the stage did not move.
	Rejected OutcomeKind = iota

	// AgentReplied means the agent produced a reply. The session may still be
	// marked for termination, e.g. after a closing reply.
	AgentReplied

	// Ended means the call is over and there is nothing more to say.
	Ended
)

// String returns the lower-case name used in logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case Rejected:
		return "rejected"
	case AgentReplied:
		return "replied"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// AgentTurn is one agent utterance ready for the transport.
type AgentTurn struct {
	Text  string
	Audio []byte // WAV payload; nil when synthesis failed or produced nothing
	Stage int
	Label string
}

// TurnOutcome is what FinishTurn and SubmitText report back.
type TurnOutcome struct {
	Kind OutcomeKind

	// Heard is the counterpart text that was recorded, if any.
	Heard string

	// Reply is set for AgentReplied.
	Reply AgentTurn

	// Terminated reports that the session is marked for termination. The
	// transport should archive and evict it after delivering Reply.
	Terminated bool

	// EndReason is set whenever Terminated is true.
	EndReason store.EndReason

	// Cause explains Rejected outcomes and degraded replies. It wraps
	// ErrNoAudio, ErrSilence, ErrInputRejected or ErrPortUnavailable.
	Cause error
}
