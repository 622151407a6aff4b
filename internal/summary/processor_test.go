package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jmsundin/askaria-fyi-server/internal/call"
)

type recordStoreMock struct {
	mu      sync.Mutex
	records map[string]*call.Call
	updated []call.Call
}

func newRecordStoreMock() *recordStoreMock {
	return &recordStoreMock{records: make(map[string]*call.Call)}
}

func (m *recordStoreMock) FindBySessionID(sessionID string) (*call.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.records[sessionID]
	if !ok {
		return nil, fmt.Errorf("no call for session %s", sessionID)
	}
	copied := *c
	return &copied, nil
}

func (m *recordStoreMock) Update(c *call.Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated = append(m.updated, *c)
	return nil
}

func (m *recordStoreMock) lastUpdate() (call.Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.updated) == 0 {
		return call.Call{}, false
	}
	return m.updated[len(m.updated)-1], true
}

// fakeCompletionServer answers chat completion requests with the given
// message content and captures the last request body.
func fakeCompletionServer(t *testing.T, content string, status int) (*httptest.Server, *[]byte) {
	t.Helper()
	var lastBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		lastBody = body

		if status != http.StatusOK {
			http.Error(w, "upstream error", status)
			return
		}

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))

	return srv, &lastBody
}

func newTestProcessor(t *testing.T, apiBase, webhookURL string, records RecordStore) *Processor {
	t.Helper()

	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = apiBase + "/v1"

	p := NewProcessorWithConfig(cfg, "", webhookURL, records)
	p.sleep = func(time.Duration) {}
	p.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

const extraction = `{"customerName":"Pat Smith","customerPhone":"+15551234567","callReason":"Book a cleaning","callbackTime":"2025-06-02T09:00:00Z"}`

func TestProcessExtractsPersistsAndForwards(t *testing.T) {
	api, lastBody := fakeCompletionServer(t, extraction, http.StatusOK)
	defer api.Close()

	received := make(chan Details, 1)
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("webhook content type = %q", ct)
		}
		var d Details
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			t.Errorf("decode webhook payload: %v", err)
		}
		received <- d
		w.WriteHeader(http.StatusOK)
	}))
	defer webhook.Close()

	records := newRecordStoreMock()
	records.records["CA1"] = &call.Call{ID: 3, SessionID: "CA1", Status: call.StatusCompleted}

	p := newTestProcessor(t, api.URL, webhook.URL, records)

	transcript := "caller: I'd like to book a cleaning.\nagent: Sure, what's your number?\n"
	if err := p.process(context.Background(), transcript, "CA1"); err != nil {
		t.Fatalf("process: %v", err)
	}

	select {
	case d := <-received:
		if d.CustomerName != "Pat Smith" || d.CustomerPhone != "+15551234567" {
			t.Errorf("forwarded details = %+v", d)
		}
		if d.CallReason != "Book a cleaning" || d.CallbackTime != "2025-06-02T09:00:00Z" {
			t.Errorf("forwarded details = %+v", d)
		}
	default:
		t.Fatal("webhook was not called")
	}

	updated, ok := records.lastUpdate()
	if !ok {
		t.Fatal("record was never updated")
	}
	if updated.Summary != extraction {
		t.Errorf("summary = %q", updated.Summary)
	}
	if updated.TranscriptText != transcript {
		t.Errorf("transcript text = %q", updated.TranscriptText)
	}

	// The completion request pins the model, schema name, and today's date.
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		ResponseFormat struct {
			Type       string `json:"type"`
			JSONSchema struct {
				Name   string `json:"name"`
				Strict bool   `json:"strict"`
			} `json:"json_schema"`
		} `json:"response_format"`
	}
	if err := json.Unmarshal(*lastBody, &req); err != nil {
		t.Fatalf("decode completion request: %v", err)
	}
	if req.Model != "gpt-4o-2024-08-06" {
		t.Errorf("model = %q", req.Model)
	}
	if req.ResponseFormat.Type != "json_schema" || req.ResponseFormat.JSONSchema.Name != "customer_details_extraction" {
		t.Errorf("response format = %+v", req.ResponseFormat)
	}
	if !req.ResponseFormat.JSONSchema.Strict {
		t.Error("schema must be strict")
	}
	if len(req.Messages) != 2 || req.Messages[1].Content != transcript {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if !strings.Contains(req.Messages[0].Content, "2025-06-01T12:00:00Z") {
		t.Errorf("system prompt missing date: %q", req.Messages[0].Content)
	}
}

func TestProcessRejectsEmptyTranscript(t *testing.T) {
	p := newTestProcessor(t, "http://localhost:0", "http://localhost:0", nil)

	if err := p.process(context.Background(), "   \n", "CA1"); err == nil {
		t.Fatal("expected error for empty transcript")
	}
}

func TestProcessRequiresWebhookURL(t *testing.T) {
	p := newTestProcessor(t, "http://localhost:0", "", nil)

	if err := p.process(context.Background(), "caller: hi\n", "CA1"); err == nil {
		t.Fatal("expected error without a webhook URL")
	}
}

func TestExtractRetriesWithBackoff(t *testing.T) {
	api, _ := fakeCompletionServer(t, "", http.StatusInternalServerError)
	defer api.Close()

	p := newTestProcessor(t, api.URL, "http://unused", nil)
	var slept []time.Duration
	p.sleep = func(d time.Duration) { slept = append(slept, d) }

	_, _, err := p.extract(context.Background(), "caller: hi\n")
	if err == nil {
		t.Fatal("expected extraction to fail")
	}

	want := []time.Duration{1 * time.Second, 4 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("sleeps = %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("sleeps = %v, want %v", slept, want)
		}
	}
}

func TestProcessSurvivesMissingRecord(t *testing.T) {
	api, _ := fakeCompletionServer(t, extraction, http.StatusOK)
	defer api.Close()

	webhookCalled := false
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		webhookCalled = true
		w.WriteHeader(http.StatusOK)
	}))
	defer webhook.Close()

	// Store has no record for this session; persistence fails but the
	// webhook still receives the details.
	p := newTestProcessor(t, api.URL, webhook.URL, newRecordStoreMock())

	if err := p.process(context.Background(), "caller: hi\n", "unknown"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !webhookCalled {
		t.Fatal("webhook was not called")
	}
}

func TestProcessReportsWebhookRejection(t *testing.T) {
	api, _ := fakeCompletionServer(t, extraction, http.StatusOK)
	defer api.Close()

	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusUnprocessableEntity)
	}))
	defer webhook.Close()

	p := newTestProcessor(t, api.URL, webhook.URL, nil)

	err := p.process(context.Background(), "caller: hi\n", "CA1")
	if err == nil || !strings.Contains(err.Error(), "status 422") {
		t.Fatalf("err = %v, want webhook rejection", err)
	}
}
