// Package bridge proxies one Twilio media-stream connection to one OpenAI
// realtime connection for the lifetime of a call: it translates between the
// two wire protocols, mirrors audio both directions, accumulates the
// transcript, and reconciles everything into the persisted call record when
// the conversation ends.
package bridge

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jmsundin/askaria-fyi-server/internal/call"
	"github.com/jmsundin/askaria-fyi-server/internal/phone"
	"github.com/jmsundin/askaria-fyi-server/internal/session"
	"github.com/jmsundin/askaria-fyi-server/internal/upstream"
)

// SessionIDHeader carries the provider's call identifier on the websocket
// upgrade request; connections without it get a generated session id.
const SessionIDHeader = "X-Twilio-Call-Sid"

// RecordStore is the persisted call-record collaborator.
type RecordStore interface {
	FindOrCreateBySession(sessionID string, startedAt time.Time) (*call.Call, error)
	FindByID(id int64) (*call.Call, error)
	Update(c *call.Call) error
	AppendMessage(callID int64, msg call.Message) error
	BusinessNumbers() (map[string]int64, error)
}

// Recorder is the audio capture sink collaborator.
type Recorder interface {
	Start(sessionID string) error
	Append(sessionID, encoded string)
	Finalize(sessionID string, callID int64) (string, error)
	Discard(sessionID string)
}

// Connector opens the upstream realtime connection; nil means the call must
// be aborted.
type Connector interface {
	Connect(ctx context.Context) *upstream.Conn
}

// Summarizer receives the full transcript after a call ends. Best-effort;
// it logs its own failures.
type Summarizer interface {
	Submit(ctx context.Context, transcript, sessionID string)
}

// Bridge accepts Twilio media-stream websocket connections and drives one
// proxied call per connection.
type Bridge struct {
	sessionUpdate upstream.SessionUpdate
	instructions  string
	recvTimeout   time.Duration

	sessions   *session.Store
	records    RecordStore
	recorder   Recorder
	connector  Connector
	summarizer Summarizer

	upgrader websocket.Upgrader

	// Business-number directory, loaded lazily on first use. A failed load
	// leaves the map nil so the next lookup retries.
	ownersMu sync.Mutex
	owners   map[string]int64
}

// Options carries the bridge's fixed per-process settings.
type Options struct {
	SessionUpdate upstream.SessionUpdate
	Instructions  string
	RecvTimeout   time.Duration
}

func New(opts Options, sessions *session.Store, records RecordStore, recorder Recorder, connector Connector, summarizer Summarizer) *Bridge {
	if opts.RecvTimeout <= 0 {
		opts.RecvTimeout = 5 * time.Second
	}

	return &Bridge{
		sessionUpdate: opts.SessionUpdate,
		instructions:  opts.Instructions,
		recvTimeout:   opts.RecvTimeout,
		sessions:      sessions,
		records:       records,
		recorder:      recorder,
		connector:     connector,
		summarizer:    summarizer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket upgrades an incoming Twilio connection and runs the call
// until either side disconnects.
func (b *Bridge) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("twilio ws upgrade error: %v", err)
		return
	}

	sessionID := resolveSessionID(r)
	log.Printf("twilio connection opened, session %s", sessionID)

	c := newConn(b, ws, sessionID)
	c.run(r.Context())
}

func resolveSessionID(r *http.Request) string {
	if sid := r.Header.Get(SessionIDHeader); sid != "" {
		return sid
	}
	return "session_" + uuid.NewString()
}

// ownerFor resolves a normalized business number to the owning user id, or 0
// when unknown. The directory is cached for the process lifetime; the
// mapping changes rarely enough that staleness is acceptable.
func (b *Bridge) ownerFor(number string) int64 {
	normalized := phone.Normalize(number)
	if normalized == "" {
		return 0
	}

	b.ownersMu.Lock()
	defer b.ownersMu.Unlock()

	if b.owners == nil {
		owners, err := b.records.BusinessNumbers()
		if err != nil {
			log.Printf("load business number directory: %v", err)
			return 0
		}
		b.owners = owners
	}

	return b.owners[normalized]
}
