package call

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestFindOrCreateBySessionIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	startedAt := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	first, err := store.FindOrCreateBySession("CA123", startedAt)
	if err != nil {
		t.Fatalf("FindOrCreateBySession failed: %v", err)
	}
	if first.Status != StatusInProgress {
		t.Fatalf("status = %q, want %q", first.Status, StatusInProgress)
	}
	if first.StartedAt == nil || !first.StartedAt.Equal(startedAt) {
		t.Fatalf("started_at = %v, want %v", first.StartedAt, startedAt)
	}

	second, err := store.FindOrCreateBySession("CA123", time.Now().UTC())
	if err != nil {
		t.Fatalf("second FindOrCreateBySession failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same record, got ids %d and %d", first.ID, second.ID)
	}
	if !second.StartedAt.Equal(startedAt) {
		t.Fatal("second create must not reset started_at")
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	store := newTestStore(t)

	record, err := store.FindOrCreateBySession("CA123", time.Now().UTC())
	if err != nil {
		t.Fatalf("FindOrCreateBySession failed: %v", err)
	}

	endedAt := time.Date(2026, 8, 30, 10, 5, 0, 0, time.UTC)
	duration := int64(300)
	record.Status = StatusCompleted
	record.FromNumber = "+15551234567"
	record.CallerName = "Ada"
	record.UserID = 42
	record.IsStarred = true
	record.RecordingURL = "/recordings/call-1-CA123.wav"
	record.TranscriptText = "caller: Hello\n"
	record.TranscriptMessages = []Message{{ID: "msg_1", Speaker: SpeakerCaller, Content: "Hello", CapturedAt: endedAt}}
	record.EndedAt = &endedAt
	record.DurationSeconds = &duration

	if err := store.Update(record); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.FindByID(record.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got.Status != StatusCompleted || got.FromNumber != "+15551234567" || !got.IsStarred {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.UserID != 42 {
		t.Fatalf("user_id = %d, want 42", got.UserID)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(endedAt) {
		t.Fatalf("ended_at = %v, want %v", got.EndedAt, endedAt)
	}
	if got.DurationSeconds == nil || *got.DurationSeconds != 300 {
		t.Fatalf("duration_seconds = %v, want 300", got.DurationSeconds)
	}
	if len(got.TranscriptMessages) != 1 || got.TranscriptMessages[0].Content != "Hello" {
		t.Fatalf("unexpected messages: %+v", got.TranscriptMessages)
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	store := newTestStore(t)

	err := store.Update(&Call{ID: 999})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestAppendMessageDeduplicates(t *testing.T) {
	store := newTestStore(t)

	record, err := store.FindOrCreateBySession("CA123", time.Now().UTC())
	if err != nil {
		t.Fatalf("FindOrCreateBySession failed: %v", err)
	}

	msg := Message{ID: "msg_1", Speaker: SpeakerCaller, Content: "Hello", CapturedAt: time.Now().UTC()}
	if err := store.AppendMessage(record.ID, msg); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if err := store.AppendMessage(record.ID, msg); err != nil {
		t.Fatalf("second AppendMessage failed: %v", err)
	}
	if err := store.AppendMessage(record.ID, Message{ID: "msg_2", Speaker: SpeakerAgent, Content: "Hi"}); err != nil {
		t.Fatalf("third AppendMessage failed: %v", err)
	}

	got, err := store.FindByID(record.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if len(got.TranscriptMessages) != 2 {
		t.Fatalf("expected 2 messages after duplicate append, got %d", len(got.TranscriptMessages))
	}
	if got.TranscriptMessages[0].ID != "msg_1" || got.TranscriptMessages[1].ID != "msg_2" {
		t.Fatalf("messages reordered: %+v", got.TranscriptMessages)
	}
}

func TestBusinessNumbers(t *testing.T) {
	store := newTestStore(t)

	if err := store.CreateAgentProfile(42, "(555) 123-4567"); err != nil {
		t.Fatalf("CreateAgentProfile failed: %v", err)
	}
	// Later profile claiming the same number must not displace the first.
	if err := store.CreateAgentProfile(43, "5551234567"); err != nil {
		t.Fatalf("CreateAgentProfile failed: %v", err)
	}
	if err := store.CreateAgentProfile(44, "+44123456789"); err != nil {
		t.Fatalf("CreateAgentProfile failed: %v", err)
	}

	numbers, err := store.BusinessNumbers()
	if err != nil {
		t.Fatalf("BusinessNumbers failed: %v", err)
	}

	if numbers["+15551234567"] != 42 {
		t.Fatalf("expected first profile to win, got user %d", numbers["+15551234567"])
	}
	if numbers["+44123456789"] != 44 {
		t.Fatalf("missing international number: %v", numbers)
	}
}

func TestListByDate(t *testing.T) {
	store := newTestStore(t)

	day := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	if _, err := store.FindOrCreateBySession("CA1", day); err != nil {
		t.Fatalf("create CA1: %v", err)
	}
	if _, err := store.FindOrCreateBySession("CA2", day.Add(time.Hour)); err != nil {
		t.Fatalf("create CA2: %v", err)
	}
	if _, err := store.FindOrCreateBySession("CA3", day.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("create CA3: %v", err)
	}

	calls, err := store.ListByDate("2026-08-30")
	if err != nil {
		t.Fatalf("ListByDate failed: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls on 2026-08-30, got %d", len(calls))
	}
	if calls[0].SessionID != "CA2" || calls[1].SessionID != "CA1" {
		t.Fatalf("expected newest first, got %s then %s", calls[0].SessionID, calls[1].SessionID)
	}
}
