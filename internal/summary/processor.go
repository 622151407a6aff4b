// Package summary turns a finished call transcript into structured customer
// details, persists them on the call record, and forwards them to the
// configured notification webhook.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/jmsundin/askaria-fyi-server/internal/call"
)

// Details are the structured fields extracted from a call transcript.
type Details struct {
	CustomerName  string `json:"customerName"`
	CustomerPhone string `json:"customerPhone"`
	CallReason    string `json:"callReason"`
	CallbackTime  string `json:"callbackTime"`
}

// RecordStore is the slice of the call store the processor needs to attach
// results to the finished call.
type RecordStore interface {
	FindBySessionID(sessionID string) (*call.Call, error)
	Update(c *call.Call) error
}

// Processor extracts customer details from transcripts. All failures are
// logged and swallowed: summarization is best-effort and never blocks or
// re-opens a finished call.
type Processor struct {
	client     *openai.Client
	model      string
	webhookURL string
	records    RecordStore
	httpClient *http.Client
	sleep      func(time.Duration)
	now        func() time.Time
}

func NewProcessor(apiKey, model, webhookURL string, records RecordStore) *Processor {
	config := openai.DefaultConfig(apiKey)
	return NewProcessorWithConfig(config, model, webhookURL, records)
}

func NewProcessorWithConfig(config openai.ClientConfig, model, webhookURL string, records RecordStore) *Processor {
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-2024-08-06"
	}

	return &Processor{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		webhookURL: webhookURL,
		records:    records,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sleep:      time.Sleep,
		now:        time.Now,
	}
}

// Submit runs the extraction for one finished call. Fire-and-forget: errors
// are logged, never returned to the bridge.
func (p *Processor) Submit(ctx context.Context, transcript, sessionID string) {
	if err := p.process(ctx, transcript, sessionID); err != nil {
		log.Printf("session %s: transcript processing failed: %v", sessionID, err)
	}
}

func (p *Processor) process(ctx context.Context, transcript, sessionID string) error {
	if strings.TrimSpace(transcript) == "" {
		return fmt.Errorf("empty transcript")
	}
	if p.webhookURL == "" {
		return fmt.Errorf("summary webhook URL not configured")
	}

	details, raw, err := p.extract(ctx, transcript)
	if err != nil {
		return err
	}

	if p.records != nil {
		if err := p.attachToRecord(sessionID, transcript, raw); err != nil {
			log.Printf("session %s: could not persist summary: %v", sessionID, err)
		}
	}

	if err := p.forward(ctx, details); err != nil {
		return err
	}

	log.Printf("session %s: transcript details forwarded to webhook", sessionID)
	return nil
}

func (p *Processor) extract(ctx context.Context, transcript string) (Details, string, error) {
	schema := jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"customerName":  {Type: jsonschema.String},
			"customerPhone": {Type: jsonschema.String},
			"callReason":    {Type: jsonschema.String},
			"callbackTime":  {Type: jsonschema.String},
		},
		Required:             []string{"customerName", "customerPhone", "callReason", "callbackTime"},
		AdditionalProperties: false,
	}

	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "Extract customer details from the transcript: customerName, customerPhone (E.164 format if possible), " +
					"callReason, and callbackTime. callbackTime must be an ISO 8601 date-time. Derive customerPhone from any " +
					"spoken or provided digits. Summarize the main reason succinctly. Today's date is " +
					p.now().UTC().Format(time.RFC3339),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: transcript,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "customer_details_extraction",
				Schema: &schema,
				Strict: true,
			},
		},
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var lastErr error
	for attempt := 0; attempt < len(backoff); attempt++ {
		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return Details{}, "", fmt.Errorf("chat completion returned no choices")
			}

			raw := strings.TrimSpace(resp.Choices[0].Message.Content)
			var details Details
			if err := json.Unmarshal([]byte(raw), &details); err != nil {
				return Details{}, "", fmt.Errorf("decode extraction payload: %w", err)
			}
			return details, raw, nil
		}

		lastErr = err
		if attempt < len(backoff)-1 {
			p.sleep(backoff[attempt])
		}
	}

	return Details{}, "", fmt.Errorf("extraction failed after retries: %w", lastErr)
}

func (p *Processor) attachToRecord(sessionID, transcript, rawSummary string) error {
	record, err := p.records.FindBySessionID(sessionID)
	if err != nil {
		return fmt.Errorf("find call for session %s: %w", sessionID, err)
	}

	record.Summary = rawSummary
	record.TranscriptText = transcript
	if err := p.records.Update(record); err != nil {
		return fmt.Errorf("update call for session %s: %w", sessionID, err)
	}
	return nil
}

func (p *Processor) forward(ctx context.Context, details Details) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected payload: status %d", resp.StatusCode)
	}
	return nil
}
