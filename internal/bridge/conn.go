package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmsundin/askaria-fyi-server/internal/call"
	"github.com/jmsundin/askaria-fyi-server/internal/phone"
	"github.com/jmsundin/askaria-fyi-server/internal/session"
	"github.com/jmsundin/askaria-fyi-server/internal/upstream"
)

// maxPendingFrames bounds the queue of telephony events buffered while the
// upstream connection is still being established.
const maxPendingFrames = 64

// conn is the per-call state: one Twilio websocket paired with one upstream
// realtime connection. The inbound handler and the upstream relay loop run
// concurrently; mu serializes their access to shared state.
type conn struct {
	b         *Bridge
	twilio    *websocket.Conn
	sessionID string

	mu      sync.Mutex
	sess    *session.Session
	up      *upstream.Conn
	pending [][]byte
	ready   bool
	closed  bool

	teardownOnce sync.Once
}

func newConn(b *Bridge, twilio *websocket.Conn, sessionID string) *conn {
	return &conn{b: b, twilio: twilio, sessionID: sessionID}
}

// run drives the call: it links the session to its persisted record, starts
// upstream setup, and reads inbound frames until the telephony side closes.
func (c *conn) run(ctx context.Context) {
	sess := c.b.sessions.GetOrCreate(c.sessionID)

	record, err := c.b.records.FindOrCreateBySession(c.sessionID, time.Now().UTC())
	if err != nil {
		log.Printf("session %s: create call record: %v", c.sessionID, err)
		c.mu.Lock()
		c.sess = sess
		c.mu.Unlock()
		c.teardown()
		return
	}

	c.mu.Lock()
	c.sess = sess
	sess.CallID = record.ID
	if sess.CallSid == "" {
		sess.CallSid = record.CallSid
	}
	if record.StartedAt != nil {
		sess.StartedAt = *record.StartedAt
	} else {
		sess.StartedAt = time.Now().UTC()
	}
	c.mu.Unlock()

	go c.setup(ctx)

	c.readLoop()
	c.teardown()
}

func (c *conn) readLoop() {
	for {
		_, data, err := c.twilio.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("session %s: twilio read error: %v", c.sessionID, err)
			}
			return
		}

		c.mu.Lock()
		if !c.ready {
			c.queueLocked(data)
			c.mu.Unlock()
			continue
		}
		up := c.up
		c.mu.Unlock()

		c.handleTwilioFrame(data, up)
	}
}

// queueLocked buffers a frame received before the upstream is ready. Media
// frames are dropped outright: there is no destination for them yet and
// replaying stale audio later would desynchronize the conversation.
func (c *conn) queueLocked(data []byte) {
	var frame twilioFrame
	if err := json.Unmarshal(data, &frame); err == nil && frame.Event == "media" {
		return
	}

	if len(c.pending) >= maxPendingFrames {
		log.Printf("session %s: pending frame queue full, dropping event", c.sessionID)
		return
	}
	c.pending = append(c.pending, data)
}

// setup opens and configures the upstream connection. The configuration
// message and the greeting are fully sent before any buffered or new
// telephony frames are relayed and before the relay loop starts.
func (c *conn) setup(ctx context.Context) {
	up := c.b.connector.Connect(ctx)
	if up == nil {
		log.Printf("session %s: upstream unavailable, closing call", c.sessionID)
		c.teardown()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = up.Close()
		return
	}
	c.up = up
	c.mu.Unlock()

	if err := up.Send(c.b.sessionUpdate); err != nil {
		log.Printf("session %s: initial session update failed: %v", c.sessionID, err)
		c.teardown()
		return
	}

	c.sendGreeting(up)

	if err := c.b.recorder.Start(c.sessionID); err != nil {
		log.Printf("session %s: start recording: %v", c.sessionID, err)
	}

	if !c.drainPending(up) {
		return
	}

	log.Printf("session %s: upstream connected", c.sessionID)
	go c.relayLoop(up)
}

// sendGreeting queues the system instruction and asks for an immediate first
// turn so the assistant speaks before the caller. Failures here are not
// fatal to the call.
func (c *conn) sendGreeting(up *upstream.Conn) {
	if c.b.instructions == "" {
		log.Printf("session %s: realtime instructions missing, skipping greeting", c.sessionID)
		return
	}

	if err := up.Send(upstream.BuildSystemMessage(c.b.instructions)); err != nil {
		log.Printf("session %s: send system message: %v", c.sessionID, err)
		return
	}

	c.mu.Lock()
	c.sess.Greeted = true
	c.mu.Unlock()

	if err := up.Send(upstream.BuildGreetingRequest()); err != nil {
		log.Printf("session %s: request initial response: %v", c.sessionID, err)
	}
}

// drainPending replays buffered frames in arrival order, then marks the
// connection ready. Frames arriving mid-drain keep queueing and are replayed
// by the same loop, so ordering is preserved.
func (c *conn) drainPending(up *upstream.Conn) bool {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return false
		}
		if len(c.pending) == 0 {
			c.pending = nil
			c.ready = true
			c.mu.Unlock()
			return true
		}
		frame := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()

		c.handleTwilioFrame(frame, up)
	}
}

func (c *conn) handleTwilioFrame(data []byte, up *upstream.Conn) {
	var frame twilioFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
		log.Printf("session %s: unrecognized twilio payload", c.sessionID)
		return
	}

	switch frame.Event {
	case "media":
		if frame.Media == nil || frame.Media.Payload == "" {
			return
		}
		// Momentary upstream backpressure is tolerated; one dropped frame
		// must not end an otherwise healthy call.
		if err := up.Send(upstream.NewAudioAppend(frame.Media.Payload)); err != nil {
			log.Printf("session %s: forward audio upstream: %v", c.sessionID, err)
		}
		c.b.recorder.Append(c.sessionID, frame.Media.Payload)
	case "start":
		c.handleStart(frame.Start)
	default:
		log.Printf("session %s: ignoring twilio event %q", c.sessionID, frame.Event)
	}
}

func (c *conn) handleStart(start *twilioStart) {
	if start == nil {
		log.Printf("session %s: malformed twilio start event", c.sessionID)
		return
	}

	fields := call.Fields{}

	c.mu.Lock()
	if start.StreamSid != "" {
		c.sess.StreamSid = start.StreamSid
		log.Printf("session %s: media stream %s started", c.sessionID, start.StreamSid)
	} else {
		log.Printf("session %s: start event missing stream SID", c.sessionID)
	}

	if params := start.CustomParameters; params != nil {
		from := phone.Normalize(params["from"])
		to := phone.Normalize(params["to"])
		forwarded := phone.Normalize(params["forwarded_from"])
		callerName := strings.TrimSpace(params["caller_name"])

		c.sess.SetCallerMetadata(from, to, forwarded, callerName)
		fields.FromNumber = from
		fields.ToNumber = to
		fields.ForwardedFrom = forwarded
		fields.CallerName = callerName
	}

	if start.CallSid != "" {
		if c.sess.CallSid == "" {
			c.sess.CallSid = start.CallSid
		}
		fields.CallSid = start.CallSid
	}

	toNumber := c.sess.ToNumber
	callID := c.sess.CallID
	c.mu.Unlock()

	if toNumber != "" {
		if userID := c.b.ownerFor(toNumber); userID != 0 {
			c.mu.Lock()
			if c.sess.UserID == 0 {
				c.sess.UserID = userID
			}
			c.mu.Unlock()
			fields.UserID = userID
		}
	}

	if fields == (call.Fields{}) {
		return
	}
	c.updateRecord(callID, fields)
}

// updateRecord applies newly known call metadata with fill-if-empty
// semantics. Incremental persistence is best-effort.
func (c *conn) updateRecord(callID int64, fields call.Fields) {
	if callID == 0 {
		return
	}

	record, err := c.b.records.FindByID(callID)
	if err != nil {
		log.Printf("session %s: load call record: %v", c.sessionID, err)
		return
	}

	if record.FillIfEmpty(fields) {
		if err := c.b.records.Update(record); err != nil {
			log.Printf("session %s: update call record: %v", c.sessionID, err)
		}
	}
}

// relayLoop receives upstream events and dispatches them until the upstream
// closes or fails. Receive timeouts are retried in place.
func (c *conn) relayLoop(up *upstream.Conn) {
	for {
		data, err := up.Recv(c.b.recvTimeout)
		if err != nil {
			if errors.Is(err, upstream.ErrRecvTimeout) {
				continue
			}
			if errors.Is(err, upstream.ErrClosed) {
				break
			}
			if upstream.IsCleanClose(err) {
				log.Printf("session %s: upstream closed connection", c.sessionID)
			} else {
				log.Printf("session %s: stopping relay after upstream read failure: %v", c.sessionID, err)
			}
			break
		}

		c.handleUpstreamEvent(data)
	}

	c.teardown()
}

func (c *conn) handleUpstreamEvent(data []byte) {
	var env upstream.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		log.Printf("session %s: unrecognized upstream payload", c.sessionID)
		return
	}

	switch env.Type {
	case upstream.EventTranscriptionCompleted:
		c.captureUtterance(call.SpeakerCaller, env.Transcript)
	case upstream.EventResponseDone:
		c.captureUtterance(call.SpeakerAgent, env.AgentTranscript())
	case upstream.EventAudioDelta:
		c.pushAudioDelta(env.Delta)
	case upstream.EventSessionCreated:
		log.Printf("session %s: realtime session created", c.sessionID)
	case upstream.EventSessionUpdated:
		log.Printf("session %s: realtime session updated", c.sessionID)
	case upstream.EventError:
		// The receive loop's own error handling governs termination.
		log.Printf("session %s: realtime error event: %s", c.sessionID, data)
	default:
	}
}

func (c *conn) captureUtterance(speaker, text string) {
	c.mu.Lock()
	ok := c.sess.AppendTranscript(speaker, text)
	msg, _ := c.sess.LatestMessage()
	callID := c.sess.CallID
	c.mu.Unlock()

	if !ok {
		return
	}
	log.Printf("session %s: %s transcript captured", c.sessionID, speaker)

	if callID == 0 {
		return
	}
	if err := c.b.records.AppendMessage(callID, msg); err != nil {
		log.Printf("session %s: persist transcript message: %v", c.sessionID, err)
	}
}

func (c *conn) pushAudioDelta(delta string) {
	if delta == "" {
		return
	}

	c.mu.Lock()
	streamSid := c.sess.StreamSid
	c.mu.Unlock()

	if streamSid == "" {
		log.Printf("session %s: cannot send audio delta without stream SID", c.sessionID)
		return
	}

	if err := c.twilio.WriteJSON(newOutboundMedia(streamSid, delta)); err != nil {
		log.Printf("session %s: push audio to twilio: %v", c.sessionID, err)
	}
}

// teardown runs exactly once, triggered by whichever side disconnects first:
// it closes both connections, reconciles the persisted record, flushes the
// recording, and removes the session.
func (c *conn) teardown() {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		up := c.up
		c.pending = nil
		c.mu.Unlock()

		if up != nil {
			_ = up.Close()
		}
		_ = c.twilio.Close()

		c.finalize()
		log.Printf("session %s: call closed", c.sessionID)
	})
}

func (c *conn) finalize() {
	sess := c.b.sessions.Find(c.sessionID)
	if sess == nil {
		return
	}

	c.mu.Lock()
	transcript := sess.Transcript
	callID := sess.CallID
	c.mu.Unlock()

	if transcript != "" && c.b.summarizer != nil {
		go c.b.summarizer.Submit(context.Background(), transcript, c.sessionID)
	}

	c.finalizeRecord(sess)

	if callID != 0 {
		url, err := c.b.recorder.Finalize(c.sessionID, callID)
		if err != nil {
			log.Printf("session %s: finalize recording: %v", c.sessionID, err)
		} else if url != "" {
			c.attachRecording(callID, url)
		}
	} else {
		c.b.recorder.Discard(c.sessionID)
	}

	c.b.sessions.Remove(c.sessionID)
}

func (c *conn) finalizeRecord(sess *session.Session) {
	c.mu.Lock()
	callID := sess.CallID
	if callID == 0 {
		c.mu.Unlock()
		return
	}

	endedAt := time.Now().UTC()
	sess.EndedAt = endedAt
	startedAt := sess.StartedAt
	fields := call.Fields{
		CallSid:       sess.CallSid,
		FromNumber:    sess.FromNumber,
		ToNumber:      sess.ToNumber,
		ForwardedFrom: sess.ForwardedFrom,
		CallerName:    sess.CallerName,
		UserID:        sess.UserID,
	}
	messages := append([]call.Message(nil), sess.Messages...)
	transcript := sess.Transcript
	c.mu.Unlock()

	record, err := c.b.records.FindByID(callID)
	if err != nil {
		log.Printf("session %s: load call record for finalize: %v", c.sessionID, err)
		return
	}

	if startedAt.IsZero() && record.StartedAt != nil {
		startedAt = *record.StartedAt
	}

	record.Status = call.StatusCompleted
	record.EndedAt = &endedAt
	if !startedAt.IsZero() {
		duration := int64(endedAt.Sub(startedAt).Seconds())
		if duration < 0 {
			duration = 0
		}
		record.DurationSeconds = &duration
	}

	record.FillIfEmpty(fields)
	record.TranscriptMessages = messages
	record.TranscriptText = transcript

	if err := c.b.records.Update(record); err != nil {
		log.Printf("session %s: finalize call record: %v", c.sessionID, err)
	}
}

func (c *conn) attachRecording(callID int64, url string) {
	record, err := c.b.records.FindByID(callID)
	if err != nil {
		log.Printf("session %s: load call record for recording URL: %v", c.sessionID, err)
		return
	}

	record.RecordingURL = url
	if err := c.b.records.Update(record); err != nil {
		log.Printf("session %s: save recording URL: %v", c.sessionID, err)
	}
}
