package upstream

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeDecodesTranscriptionEvent(t *testing.T) {
	payload := `{
		"type": "conversation.item.input_audio_transcription.completed",
		"item_id": "item_001",
		"transcript": "I need to book an appointment."
	}`

	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != EventTranscriptionCompleted {
		t.Fatalf("type = %q", env.Type)
	}
	if env.Transcript != "I need to book an appointment." {
		t.Fatalf("transcript = %q", env.Transcript)
	}
}

func TestAgentTranscriptFromResponseDone(t *testing.T) {
	payload := `{
		"type": "response.done",
		"response": {
			"output": [
				{
					"content": [
						{"type": "audio", "transcript": "Sure, what day works for you?"}
					]
				}
			]
		}
	}`

	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := env.AgentTranscript(); got != "Sure, what day works for you?" {
		t.Fatalf("AgentTranscript = %q", got)
	}
}

func TestAgentTranscriptSkipsEmptyContent(t *testing.T) {
	payload := `{
		"type": "response.done",
		"response": {
			"output": [
				{
					"content": [
						{"type": "text"},
						{"type": "audio", "transcript": "Hello there."}
					]
				}
			]
		}
	}`

	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := env.AgentTranscript(); got != "Hello there." {
		t.Fatalf("AgentTranscript = %q", got)
	}
}

func TestAgentTranscriptAbsent(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"no response", `{"type":"response.done"}`},
		{"empty output", `{"type":"response.done","response":{"output":[]}}`},
		{"no transcript", `{"type":"response.done","response":{"output":[{"content":[{"type":"text"}]}]}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var env Envelope
			if err := json.Unmarshal([]byte(tc.payload), &env); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := env.AgentTranscript(); got != "" {
				t.Fatalf("AgentTranscript = %q, want empty", got)
			}
		})
	}
}

func TestNewAudioAppend(t *testing.T) {
	data, err := json.Marshal(NewAudioAppend("c29tZSBhdWRpbw=="))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"input_audio_buffer.append","audio":"c29tZSBhdWRpbw=="}`
	if string(data) != want {
		t.Fatalf("payload = %s", data)
	}
}
