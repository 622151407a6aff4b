// Package session tracks the mutable state of live calls between telephony
// connect and disconnect.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jmsundin/askaria-fyi-server/internal/call"
)

// Session is the in-memory state of one phone call. It is owned exclusively
// by the bridge driving the call; the inbound handler and the upstream relay
// loop each write disjoint fields.
type Session struct {
	ID string

	// Transcript is the append-only text log, one "<Speaker>: <text>" line
	// per utterance. Messages holds the same utterances as structured,
	// immutable entries in capture order.
	Transcript string
	Messages   []call.Message

	StreamSid string
	Greeted   bool

	CallID  int64
	CallSid string

	FromNumber    string
	ToNumber      string
	ForwardedFrom string
	CallerName    string
	UserID        int64

	StartedAt time.Time
	EndedAt   time.Time
}

// AppendTranscript records one utterance for the given speaker. Blank text
// is ignored. It reports whether an utterance was recorded; the entry itself
// is read back through LatestMessage.
func (s *Session) AppendTranscript(speaker, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	s.Transcript += speaker + ": " + text + "\n"

	s.Messages = append(s.Messages, call.Message{
		ID:         "msg_" + uuid.NewString(),
		Speaker:    speaker,
		Content:    text,
		CapturedAt: time.Now().UTC(),
	})
	return true
}

// LatestMessage returns the most recently appended utterance.
func (s *Session) LatestMessage() (call.Message, bool) {
	if len(s.Messages) == 0 {
		return call.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// SetCallerMetadata fills caller details with first-write-wins semantics:
// a field already populated is never overwritten.
func (s *Session) SetCallerMetadata(from, to, forwardedFrom, callerName string) {
	setIfEmpty(&s.FromNumber, from)
	setIfEmpty(&s.ToNumber, to)
	setIfEmpty(&s.ForwardedFrom, forwardedFrom)
	setIfEmpty(&s.CallerName, callerName)
}

func setIfEmpty(dst *string, value string) {
	if *dst == "" && value != "" {
		*dst = value
	}
}
