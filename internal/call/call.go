// Package call owns persisted call records and the agent-profile directory
// that maps business phone numbers to their owning users.
package call

import "time"

// Lifecycle states for a call record.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusArchived   = "archived"
)

// Speaker labels for transcript messages.
const (
	SpeakerCaller = "caller"
	SpeakerAgent  = "agent"
)

// Message is one captured utterance. Entries are immutable once appended;
// ID is unique and used to de-duplicate incremental writes against the
// persisted record.
type Message struct {
	ID         string    `json:"id"`
	Speaker    string    `json:"speaker"`
	Content    string    `json:"content"`
	CapturedAt time.Time `json:"captured_at"`
}

// Call is a persisted call record. The bridge only fills and updates fields;
// it never deletes records.
type Call struct {
	ID                 int64      `json:"id"`
	UserID             int64      `json:"user_id,omitempty"`
	CallSid            string     `json:"call_sid,omitempty"`
	SessionID          string     `json:"session_id"`
	FromNumber         string     `json:"from_number,omitempty"`
	ToNumber           string     `json:"to_number,omitempty"`
	ForwardedFrom      string     `json:"forwarded_from,omitempty"`
	CallerName         string     `json:"caller_name,omitempty"`
	Status             string     `json:"status"`
	IsStarred          bool       `json:"is_starred"`
	RecordingURL       string     `json:"recording_url,omitempty"`
	Summary            string     `json:"summary,omitempty"`
	TranscriptMessages []Message  `json:"transcript_messages"`
	TranscriptText     string     `json:"transcript_text,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
	DurationSeconds    *int64     `json:"duration_seconds,omitempty"`
}

// Fields is a set of candidate values keyed by record attribute name,
// applied with fill-if-empty semantics.
type Fields struct {
	CallSid       string
	FromNumber    string
	ToNumber      string
	ForwardedFrom string
	CallerName    string
	UserID        int64
}

// FillIfEmpty copies each non-empty candidate value onto the record only
// when the destination attribute is still unset. It reports whether any
// attribute changed.
func (c *Call) FillIfEmpty(f Fields) bool {
	dirty := false

	fillString := func(dst *string, candidate string) {
		if candidate != "" && *dst == "" {
			*dst = candidate
			dirty = true
		}
	}

	fillString(&c.CallSid, f.CallSid)
	fillString(&c.FromNumber, f.FromNumber)
	fillString(&c.ToNumber, f.ToNumber)
	fillString(&c.ForwardedFrom, f.ForwardedFrom)
	fillString(&c.CallerName, f.CallerName)

	if f.UserID != 0 && c.UserID == 0 {
		c.UserID = f.UserID
		dirty = true
	}

	return dirty
}

// HasMessage reports whether a message with the given id is already present.
func (c *Call) HasMessage(id string) bool {
	for _, m := range c.TranscriptMessages {
		if m.ID == id {
			return true
		}
	}
	return false
}
