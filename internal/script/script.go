// Package script holds the conversation script of a call and the stage
// machine that walks it.
//
// A [Script] is immutable data: the ordered stages, the opening and closing
// instructions, and the end-of-call phrases. A [Machine] is the per-session
// cursor over a script. Machines are pure; they never call out and never fail.
package script

import (
	"errors"
	"fmt"
	"strings"
)

// BriefSuffix is appended to every stage instruction handed to the oracle.
const BriefSuffix = " Keep your response brief and natural (1-2 sentences)."

// Stage is one step of the conversation.
type Stage struct {
	// Label names the stage in logs and metrics (e.g. "greeting").
	Label string `yaml:"label"`

	// Instruction tells the oracle what this turn should accomplish.
	Instruction string `yaml:"instruction"`

	// Closing marks the stage that politely ends the call. A reply spoken on
	// a closing stage terminates the session.
	Closing bool `yaml:"closing,omitempty"`
}

// Script is the full conversation plan for a call.
type Script struct {
	// SystemPrompt sets the agent persona for every oracle call.
	SystemPrompt string `yaml:"system_prompt"`

	// OpeningInstruction produces the first agent turn. It is not tied to a
	// stage entry.
	OpeningInstruction string `yaml:"opening_instruction"`

	// ClosingInstruction is used when the counterpart signals the end of
	// the call.
	ClosingInstruction string `yaml:"closing_instruction"`

	// EndPhrases are matched case-insensitively as substrings of each
	// counterpart turn. An empty list disables early closing.
	EndPhrases []string `yaml:"end_phrases"`

	// Stages is the ordered sequence. Stage 0 is the one the opening turn
	// belongs to.
	Stages []Stage `yaml:"stages"`
}

// Len returns the number of stages.
func (s *Script) Len() int { return len(s.Stages) }

// Validate reports every structural problem with the script.
func (s *Script) Validate() error {
	var errs []error
	if len(s.Stages) == 0 {
		errs = append(errs, errors.New("script: at least one stage is required"))
	}
	if strings.TrimSpace(s.OpeningInstruction) == "" {
		errs = append(errs, errors.New("script: opening_instruction is required"))
	}
	if strings.TrimSpace(s.ClosingInstruction) == "" && len(s.EndPhrases) > 0 {
		errs = append(errs, errors.New("script: closing_instruction is required when end_phrases are set"))
	}
	seen := make(map[string]int, len(s.Stages))
	for i, st := range s.Stages {
		if strings.TrimSpace(st.Instruction) == "" {
			errs = append(errs, fmt.Errorf("script: stages[%d]: instruction is required", i))
		}
		if st.Label == "" {
			continue
		}
		if j, dup := seen[st.Label]; dup {
			errs = append(errs, fmt.Errorf("script: stages[%d]: label %q duplicates stages[%d]", i, st.Label, j))
		}
		seen[st.Label] = i
	}
	for i, p := range s.EndPhrases {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("script: end_phrases[%d]: must not be blank", i))
		}
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy of s.
func (s *Script) Clone() *Script {
	out := *s
	out.EndPhrases = append([]string(nil), s.EndPhrases...)
	out.Stages = append([]Stage(nil), s.Stages...)
	return &out
}

// Default returns the built-in job-inquiry script: an AI assistant calling an
// HR representative on behalf of a job seeker.
func Default() *Script {
	return &Script{
		SystemPrompt:       defaultSystemPrompt,
		OpeningInstruction: defaultOpening,
		ClosingInstruction: defaultClosing,
		EndPhrases: []string{
			"goodbye",
			"bye",
			"have to go",
			"can't talk",
			"busy right now",
			"call back later",
			"not interested",
			"no thank you",
		},
		Stages: []Stage{
			{Label: "greeting", Instruction: "Greet the HR representative and introduce yourself as an AI assistant calling on behalf of a job seeker."},
			{Label: "purpose", Instruction: "Briefly explain you're calling to inquire about current job openings."},
			{Label: "question_1", Instruction: "Ask if they have any software engineering positions available."},
			{Label: "question_2", Instruction: "Ask about the required qualifications for the position."},
			{Label: "question_3", Instruction: "Ask about the application process."},
			{Label: "closing", Instruction: "Thank them for their time and end the call politely.", Closing: true},
		},
	}
}

const (
	defaultOpening = "Generate a professional greeting introducing yourself as an AI assistant " +
		"calling on behalf of a job seeker to inquire about job openings. Keep it brief (1-2 sentences)."
	defaultClosing = "The person wants to end the call. Thank them warmly for their time " +
		"and say goodbye professionally. Keep it very brief (1 sentence)."
)

const defaultSystemPrompt = `You are an AI calling agent designed to interact with HR representatives about job opportunities.

Your role:
- Be professional, polite, and concise
- Ask relevant questions about job openings
- Listen carefully to responses
- Maintain a natural conversation flow
- End the conversation gracefully

Guidelines:
- Keep responses brief (1-2 sentences)
- Ask one question at a time
- Be respectful of the person's time
- If they're busy, offer to call back
- Thank them for their time at the end`
