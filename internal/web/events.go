package web

import (
	"encoding/base64"

	"github.com/MrWong99/callagent/internal/call"
)

// Inbound event types.
const (
	EventStartCall            = "start_call"
	EventAudioChunk           = "audio_chunk"
	EventUserFinishedSpeaking = "user_finished_speaking"
	EventUserText             = "user_text"
	EventEndCall              = "end_call"
)

// Outbound event types.
const (
	EventConnected     = "connected"
	EventCallStarted   = "call_started"
	EventAgentSpeaking = "agent_speaking"
	EventUserSpoke     = "user_spoke"
	EventProcessing    = "processing"
	EventCallEnded     = "call_ended"
	EventError         = "error"
)

// Messages sent on the error channel.
const (
	msgNoActiveCall   = "No active call session"
	msgCallInProgress = "A call is already in progress on this connection"
	msgNotUnderstood  = "Failed to transcribe audio"
	msgNoAudio        = "No audio received"
	msgNoSpeech       = "No speech detected"
	msgBadAudio       = "audio must be base64 encoded"
	msgUnknownEvent   = "unknown event type"
)

// inbound is any client message. Fields are populated per type.
type inbound struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
	Text  string `json:"text,omitempty"`
}

type sessionEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Greeting  string `json:"greeting,omitempty"`
}

type agentSpeakingEvent struct {
	Type  string  `json:"type"`
	Text  string  `json:"text"`
	Audio *string `json:"audio"`
	Stage string  `json:"stage,omitempty"`
}

type textEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type processingEvent struct {
	Type   string      `json:"type"`
	Status call.Status `json:"status"`
}

type callEndedEvent struct {
	Type       string  `json:"type"`
	CallID     string  `json:"call_id"`
	Duration   float64 `json:"duration"`
	Summary    string  `json:"summary"`
	Transcript string  `json:"transcript"`
	EndReason  string  `json:"end_reason"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func agentSpeaking(t call.AgentTurn) agentSpeakingEvent {
	ev := agentSpeakingEvent{Type: EventAgentSpeaking, Text: t.Text, Stage: t.Label}
	if t.Audio != nil {
		enc := base64.StdEncoding.EncodeToString(t.Audio)
		ev.Audio = &enc
	}
	return ev
}

func callEnded(res call.ArchiveResult) callEndedEvent {
	return callEndedEvent{
		Type:       EventCallEnded,
		CallID:     res.CallID,
		Duration:   res.Duration.Seconds(),
		Summary:    res.Summary.Text,
		Transcript: res.Transcript,
		EndReason:  string(res.Record.EndReason),
	}
}
