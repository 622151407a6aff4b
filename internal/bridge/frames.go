package bridge

// Inbound Twilio media-stream frame. One JSON object per websocket message;
// Event discriminates the type.
type twilioFrame struct {
	Event string       `json:"event"`
	Media *twilioMedia `json:"media,omitempty"`
	Start *twilioStart `json:"start,omitempty"`
}

type twilioMedia struct {
	Payload string `json:"payload"`
}

type twilioStart struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

// Outbound media frame addressed to the provider's stream identifier.
type outboundMedia struct {
	Event     string               `json:"event"`
	StreamSid string               `json:"streamSid"`
	Media     outboundMediaPayload `json:"media"`
}

type outboundMediaPayload struct {
	Payload string `json:"payload"`
	Track   string `json:"track"`
}

func newOutboundMedia(streamSid, payload string) outboundMedia {
	return outboundMedia{
		Event:     "media",
		StreamSid: streamSid,
		Media:     outboundMediaPayload{Payload: payload, Track: "outbound"},
	}
}
