package script

import "strings"

// Kind classifies a stage machine decision.
type Kind int

const (
	// Continue means the agent should reply with the decision's instruction
	// and the call goes on.
	Continue Kind = iota

	// Close means the counterpart asked to end the call. The agent replies
	// once with the closing instruction.
	Close

	// Exhausted means the script has no stage left. No reply is generated.
	Exhausted
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case Continue:
		return "continue"
	case Close:
		return "close"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Decision is the outcome of feeding one counterpart turn to a Machine.
type Decision struct {
	Kind Kind

	// Instruction is the oracle instruction for Continue and Close.
	Instruction string

	// Stage is the stage index after the decision.
	Stage int

	// Label is the label of Stage, empty for Exhausted.
	Label string

	// Closing is true when the reply belongs to a closing stage.
	Closing bool
}

// Machine tracks the current stage of one conversation. It is not safe for
// concurrent use; the owning session serialises access.
type Machine struct {
	script  *Script
	stage   int
	phrases []string
}

// NewMachine returns a Machine positioned at stage 0 of s. The script must not
// be mutated afterwards.
func NewMachine(s *Script) *Machine {
	phrases := make([]string, 0, len(s.EndPhrases))
	for _, p := range s.EndPhrases {
		phrases = append(phrases, strings.ToLower(p))
	}
	return &Machine{script: s, phrases: phrases}
}

// Script returns the script the machine walks.
func (m *Machine) Script() *Script { return m.script }

// Stage returns the current stage index in [0, Len].
func (m *Machine) Stage() int { return m.stage }

// Label returns the label of the current stage, or "" past the end.
func (m *Machine) Label() string {
	if m.stage < len(m.script.Stages) {
		return m.script.Stages[m.stage].Label
	}
	return ""
}

// InitialPrompt rewinds to stage 0 and returns the opening instruction.
func (m *Machine) InitialPrompt() string {
	m.stage = 0
	return m.script.OpeningInstruction
}

// Next decides how to answer a counterpart turn. End phrases are checked
// before the stage advances, so a Close leaves the stage unchanged.
func (m *Machine) Next(counterpartText string) Decision {
	if m.wantsToEnd(counterpartText) {
		return Decision{
			Kind:        Close,
			Instruction: m.script.ClosingInstruction,
			Stage:       m.stage,
			Label:       m.Label(),
		}
	}

	m.stage++
	if m.stage >= len(m.script.Stages) {
		m.stage = len(m.script.Stages)
		return Decision{Kind: Exhausted, Stage: m.stage}
	}
	st := m.script.Stages[m.stage]
	return Decision{
		Kind:        Continue,
		Instruction: st.Instruction + BriefSuffix,
		Stage:       m.stage,
		Label:       st.Label,
		Closing:     st.Closing,
	}
}

func (m *Machine) wantsToEnd(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range m.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
