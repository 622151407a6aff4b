// Package server exposes the HTTP surface: the Twilio media-stream websocket
// endpoint, a read-only calls API, and finalized recording files.
package server

import (
	"net/http"

	"github.com/jmsundin/askaria-fyi-server/internal/bridge"
)

func Handler(b *bridge.Bridge, store CallStore, recordingDir string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /twilio-stream", b.HandleWebSocket)
	registerAPIRoutes(mux, store)

	if recordingDir != "" {
		mux.Handle("GET /recordings/", http.StripPrefix("/recordings/", http.FileServer(http.Dir(recordingDir))))
	}

	return mux
}
