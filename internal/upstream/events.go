// Package upstream manages the realtime speech connection to OpenAI: dialing
// and upgrading the socket, the initial session configuration, and the JSON
// envelopes exchanged over it.
package upstream

import "encoding/json"

// Event types received from the realtime API.
const (
	EventTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventResponseDone           = "response.done"
	EventAudioDelta             = "response.audio.delta"
	EventSessionCreated         = "session.created"
	EventSessionUpdated         = "session.updated"
	EventError                  = "error"
)

// SessionUpdate configures the realtime session. Sent once, immediately
// after the connection opens and before any audio.
type SessionUpdate struct {
	Type    string          `json:"type"`
	Session SessionSettings `json:"session"`
}

type SessionSettings struct {
	TurnDetection       TurnDetection      `json:"turn_detection"`
	InputAudioFormat    string             `json:"input_audio_format"`
	OutputAudioFormat   string             `json:"output_audio_format"`
	Voice               string             `json:"voice"`
	Instructions        string             `json:"instructions"`
	Modalities          []string           `json:"modalities"`
	Temperature         float64            `json:"temperature"`
	InputTranscription  TranscriptionModel `json:"input_audio_transcription"`
}

type TurnDetection struct {
	Type string `json:"type"`
}

type TranscriptionModel struct {
	Model string `json:"model"`
}

// ConversationItemCreate injects a message into the conversation, used for
// the initial system instruction.
type ConversationItemCreate struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ItemContent `json:"content"`
}

type ItemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponseCreate asks the model to produce a turn.
type ResponseCreate struct {
	Type     string          `json:"type"`
	Response ResponseRequest `json:"response"`
}

type ResponseRequest struct {
	Instructions string   `json:"instructions"`
	Modalities   []string `json:"modalities"`
	Conversation string   `json:"conversation"`
}

// AudioAppend forwards one base64 audio chunk into the input buffer.
type AudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

func NewAudioAppend(audio string) AudioAppend {
	return AudioAppend{Type: "input_audio_buffer.append", Audio: audio}
}

// Envelope is the decoded shape of an inbound realtime event. Only the
// fields the bridge dispatches on are mapped; everything else stays in the
// raw payload.
type Envelope struct {
	Type       string          `json:"type"`
	Transcript string          `json:"transcript"`
	Delta      string          `json:"delta"`
	Error      json.RawMessage `json:"error"`
	Response   *Response       `json:"response"`
}

type Response struct {
	Output []ResponseOutput `json:"output"`
}

type ResponseOutput struct {
	Content []ResponseContent `json:"content"`
}

type ResponseContent struct {
	Transcript string `json:"transcript"`
}

// AgentTranscript extracts the assistant's spoken transcript from a
// response.done payload, or "" when none is present.
func (e *Envelope) AgentTranscript() string {
	if e.Response == nil || len(e.Response.Output) == 0 {
		return ""
	}
	for _, content := range e.Response.Output[0].Content {
		if content.Transcript != "" {
			return content.Transcript
		}
	}
	return ""
}
