package upstream

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmsundin/askaria-fyi-server/internal/config"
)

const userAgent = "askaria-fyi-server"

// Connector opens authenticated realtime connections. Every failure path is
// logged with enough context to diagnose and reported as a nil connection;
// callers treat nil as "abort this call".
type Connector struct {
	apiKey  string
	baseURL string
	model   string
	dialer  *websocket.Dialer
}

func NewConnector(cfg config.Config) *Connector {
	return &Connector{
		apiKey:  cfg.OpenAIAPIKey,
		baseURL: cfg.RealtimeURL,
		model:   cfg.RealtimeModel,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Connect dials the realtime endpoint and performs the protocol upgrade.
// It returns a ready-to-use connection, or nil after logging the failure.
func (c *Connector) Connect(ctx context.Context) *Conn {
	if c.apiKey == "" {
		log.Printf("realtime connection aborted: missing %sOPENAI_API_KEY", config.EnvPrefix)
		return nil
	}

	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		log.Printf("realtime connection aborted: invalid realtime URL %q: %v", c.baseURL, err)
		return nil
	}
	if endpoint.Scheme != "ws" && endpoint.Scheme != "wss" {
		log.Printf("realtime connection aborted: unsupported scheme %q (need ws or wss)", endpoint.Scheme)
		return nil
	}

	query := endpoint.Query()
	query.Set("model", c.model)
	endpoint.RawQuery = query.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")
	header.Set("User-Agent", userAgent)

	ws, resp, err := c.dialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		log.Printf("realtime upgrade failed for %s: status=%d err=%v", endpoint.Path, status, err)
		return nil
	}

	return newConn(ws)
}
