package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmsundin/askaria-fyi-server/internal/bridge"
	"github.com/jmsundin/askaria-fyi-server/internal/call"
	"github.com/jmsundin/askaria-fyi-server/internal/config"
	"github.com/jmsundin/askaria-fyi-server/internal/recording"
	"github.com/jmsundin/askaria-fyi-server/internal/server"
	"github.com/jmsundin/askaria-fyi-server/internal/session"
	"github.com/jmsundin/askaria-fyi-server/internal/summary"
	"github.com/jmsundin/askaria-fyi-server/internal/upstream"
)

func main() {
	configPath := flag.String("config", "askaria.yaml", "path to config file")
	flag.Parse()

	log.Println("askaria-fyi-server: starting")

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, warning := range warnings {
		log.Printf("config: %s", warning)
	}

	store, err := call.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("call store init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	if err := os.MkdirAll(cfg.RecordingDir, 0o755); err != nil {
		log.Fatalf("create recording directory: %v", err)
	}

	sink := recording.NewSink(cfg.RecordingDir, cfg.RecordingURLBase, cfg.SampleRate)
	if cfg.GDriveFolderID != "" {
		backup, err := recording.NewDriveBackup(context.Background(), cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if err != nil {
			log.Printf("recording backup disabled: %v", err)
		} else {
			sink.SetBackup(backup)
			log.Println("recording backup to Google Drive enabled")
		}
	}

	var summarizer bridge.Summarizer
	if cfg.OpenAIAPIKey != "" && cfg.SummaryWebhookURL != "" {
		summarizer = summary.NewProcessor(cfg.OpenAIAPIKey, cfg.ChatModel, cfg.SummaryWebhookURL, store)
	}

	b := bridge.New(
		bridge.Options{
			SessionUpdate: upstream.BuildSessionUpdate(cfg),
			Instructions:  cfg.RealtimeInstructions,
			RecvTimeout:   cfg.ParsedUpstreamRecvTimeout(),
		},
		session.NewStore(),
		store,
		sink,
		upstream.NewConnector(cfg),
		summarizer,
	)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Handler(b, store, cfg.RecordingDir),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	case sig := <-stop:
		log.Printf("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}

	log.Println("askaria-fyi-server: stopped")
}
