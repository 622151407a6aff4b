package upstream

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrRecvTimeout reports that no event arrived within the receive bound.
// It is recoverable: the caller retries the same receive.
var ErrRecvTimeout = errors.New("upstream receive timed out")

// ErrClosed reports that the connection was closed locally. Terminal.
var ErrClosed = errors.New("upstream connection closed")

// Conn is an open realtime connection. A dedicated goroutine drains the
// socket so Recv can offer a bounded wait without poisoning the websocket
// read state.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	messages chan []byte
	readErr  error
	done     chan struct{}

	closeOnce sync.Once
}

func newConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:       ws,
		messages: make(chan []byte, 32),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.readErr = err
			close(c.messages)
			return
		}
		select {
		case c.messages <- data:
		case <-c.done:
			return
		}
	}
}

// Send marshals and writes one event to the socket.
func (c *Conn) Send(event any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(event)
}

// Recv waits up to timeout for the next event. It returns ErrRecvTimeout
// when the bound elapses, the underlying read error once the socket is
// closed or broken, and ErrClosed after a local Close. A local Close wins
// over buffered events: the read goroutine may be parked mid-send with a
// full buffer, so those events are stale and never delivered.
func (c *Conn) Recv(timeout time.Duration) ([]byte, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data, ok := <-c.messages:
		if !ok {
			return nil, c.readErr
		}
		return data, nil
	case <-c.done:
		return nil, ErrClosed
	case <-timer.C:
		return nil, ErrRecvTimeout
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// IsCleanClose reports whether err is a normal remote close rather than a
// transport failure.
func IsCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
