package upstream

import "github.com/jmsundin/askaria-fyi-server/internal/config"

// Twilio media streams carry 8 kHz G.711 mu-law; the realtime session must
// speak the same format in both directions.
const audioFormat = "g711_ulaw"

// BuildSessionUpdate produces the initial session configuration from process
// configuration. Pure function, no side effects.
func BuildSessionUpdate(cfg config.Config) SessionUpdate {
	voice := cfg.RealtimeVoice
	if voice == "" {
		voice = "shimmer"
	}

	temperature := cfg.RealtimeTemperature
	if temperature == 0 {
		temperature = 0.8
	}

	return SessionUpdate{
		Type: "session.update",
		Session: SessionSettings{
			TurnDetection:      TurnDetection{Type: "server_vad"},
			InputAudioFormat:   audioFormat,
			OutputAudioFormat:  audioFormat,
			Voice:              voice,
			Instructions:       cfg.RealtimeInstructions,
			Modalities:         []string{"text", "audio"},
			Temperature:        temperature,
			InputTranscription: TranscriptionModel{Model: "whisper-1"},
		},
	}
}

// BuildSystemMessage wraps the configured instructions as a system
// conversation item.
func BuildSystemMessage(instructions string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: "conversation.item.create",
		Item: ConversationItem{
			Type: "message",
			Role: "system",
			Content: []ItemContent{
				{Type: "input_text", Text: instructions},
			},
		},
	}
}

// BuildGreetingRequest asks the model for an immediate first turn so the
// assistant speaks before the caller does.
func BuildGreetingRequest() ResponseCreate {
	return ResponseCreate{
		Type: "response.create",
		Response: ResponseRequest{
			Instructions: "Generate an immediate response to the most recent system message.",
			Modalities:   []string{"audio", "text"},
			Conversation: "auto",
		},
	}
}
