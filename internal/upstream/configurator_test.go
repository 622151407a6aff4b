package upstream

import (
	"encoding/json"
	"testing"

	"github.com/jmsundin/askaria-fyi-server/internal/config"
)

func TestBuildSessionUpdate(t *testing.T) {
	cfg := config.Config{
		RealtimeVoice:        "alloy",
		RealtimeInstructions: "You answer phones.",
		RealtimeTemperature:  0.5,
	}

	update := BuildSessionUpdate(cfg)

	if update.Type != "session.update" {
		t.Fatalf("type = %q", update.Type)
	}
	s := update.Session
	if s.TurnDetection.Type != "server_vad" {
		t.Errorf("turn detection = %q", s.TurnDetection.Type)
	}
	if s.InputAudioFormat != "g711_ulaw" || s.OutputAudioFormat != "g711_ulaw" {
		t.Errorf("audio formats = %q / %q, want g711_ulaw both ways", s.InputAudioFormat, s.OutputAudioFormat)
	}
	if s.Voice != "alloy" {
		t.Errorf("voice = %q", s.Voice)
	}
	if s.Instructions != "You answer phones." {
		t.Errorf("instructions = %q", s.Instructions)
	}
	if s.Temperature != 0.5 {
		t.Errorf("temperature = %v", s.Temperature)
	}
	if len(s.Modalities) != 2 || s.Modalities[0] != "text" || s.Modalities[1] != "audio" {
		t.Errorf("modalities = %v", s.Modalities)
	}
	if s.InputTranscription.Model != "whisper-1" {
		t.Errorf("transcription model = %q", s.InputTranscription.Model)
	}
}

func TestBuildSessionUpdateDefaults(t *testing.T) {
	update := BuildSessionUpdate(config.Config{})

	if update.Session.Voice != "shimmer" {
		t.Errorf("default voice = %q", update.Session.Voice)
	}
	if update.Session.Temperature != 0.8 {
		t.Errorf("default temperature = %v", update.Session.Temperature)
	}
}

func TestBuildSystemMessage(t *testing.T) {
	msg := BuildSystemMessage("Be brief.")

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	want := `{"type":"conversation.item.create","item":{"type":"message","role":"system","content":[{"type":"input_text","text":"Be brief."}]}}`
	if string(data) != want {
		t.Fatalf("payload = %s", data)
	}
}

func TestBuildGreetingRequest(t *testing.T) {
	req := BuildGreetingRequest()

	if req.Type != "response.create" {
		t.Fatalf("type = %q", req.Type)
	}
	if req.Response.Instructions != "Generate an immediate response to the most recent system message." {
		t.Errorf("instructions = %q", req.Response.Instructions)
	}
	if len(req.Response.Modalities) != 2 || req.Response.Modalities[0] != "audio" {
		t.Errorf("modalities = %v", req.Response.Modalities)
	}
	if req.Response.Conversation != "auto" {
		t.Errorf("conversation = %q", req.Response.Conversation)
	}
}
