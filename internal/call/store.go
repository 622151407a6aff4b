package call

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jmsundin/askaria-fyi-server/internal/phone"
)

// Store persists call records and agent profiles in sqlite.
type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "askaria.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER,
			call_sid TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL UNIQUE,
			from_number TEXT NOT NULL DEFAULT '',
			to_number TEXT NOT NULL DEFAULT '',
			forwarded_from TEXT NOT NULL DEFAULT '',
			caller_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'in_progress',
			is_starred INTEGER NOT NULL DEFAULT 0,
			recording_url TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			transcript_messages TEXT NOT NULL DEFAULT '[]',
			transcript_text TEXT NOT NULL DEFAULT '',
			started_at TEXT,
			ended_at TEXT,
			duration_seconds INTEGER
		);
	`); err != nil {
		return fmt.Errorf("create calls table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS agent_profiles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			business_phone_number TEXT NOT NULL DEFAULT ''
		);
	`); err != nil {
		return fmt.Errorf("create agent_profiles table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_calls_started_at ON calls(started_at)"); err != nil {
		return fmt.Errorf("create calls index: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const callColumns = `id, user_id, call_sid, session_id, from_number, to_number,
	forwarded_from, caller_name, status, is_starred, recording_url, summary,
	transcript_messages, transcript_text, started_at, ended_at, duration_seconds`

// FindOrCreateBySession returns the call record keyed by session id,
// inserting a fresh in-progress row on first access.
func (s *Store) FindOrCreateBySession(sessionID string, startedAt time.Time) (*Call, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.New("session id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO calls(session_id, status, started_at) VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID,
		StatusInProgress,
		startedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("create call for session %s: %w", sessionID, err)
	}

	return s.FindBySessionID(sessionID)
}

func (s *Store) FindByID(id int64) (*Call, error) {
	row := s.db.QueryRow(`SELECT `+callColumns+` FROM calls WHERE id = ?`, id)
	return scanCall(row)
}

func (s *Store) FindBySessionID(sessionID string) (*Call, error) {
	row := s.db.QueryRow(`SELECT `+callColumns+` FROM calls WHERE session_id = ?`, sessionID)
	return scanCall(row)
}

// Update writes every mutable attribute of the record back to the row.
func (s *Store) Update(c *Call) error {
	messages, err := json.Marshal(c.TranscriptMessages)
	if err != nil {
		return fmt.Errorf("marshal transcript messages: %w", err)
	}

	res, err := s.db.Exec(
		`UPDATE calls SET
			user_id = ?, call_sid = ?, from_number = ?, to_number = ?,
			forwarded_from = ?, caller_name = ?, status = ?, is_starred = ?,
			recording_url = ?, summary = ?, transcript_messages = ?,
			transcript_text = ?, started_at = ?, ended_at = ?, duration_seconds = ?
		 WHERE id = ?`,
		nullInt64(c.UserID),
		c.CallSid,
		c.FromNumber,
		c.ToNumber,
		c.ForwardedFrom,
		c.CallerName,
		c.Status,
		c.IsStarred,
		c.RecordingURL,
		c.Summary,
		string(messages),
		c.TranscriptText,
		nullTime(c.StartedAt),
		nullTime(c.EndedAt),
		nullInt64Ptr(c.DurationSeconds),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("update call %d: %w", c.ID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update call rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AppendMessage adds one transcript message to the record, skipping the
// write when a message with the same id is already present.
func (s *Store) AppendMessage(callID int64, msg Message) error {
	c, err := s.FindByID(callID)
	if err != nil {
		return err
	}

	if c.HasMessage(msg.ID) {
		return nil
	}

	c.TranscriptMessages = append(c.TranscriptMessages, msg)
	messages, err := json.Marshal(c.TranscriptMessages)
	if err != nil {
		return fmt.Errorf("marshal transcript messages: %w", err)
	}

	if _, err := s.db.Exec(`UPDATE calls SET transcript_messages = ? WHERE id = ?`, string(messages), callID); err != nil {
		return fmt.Errorf("append message to call %d: %w", callID, err)
	}
	return nil
}

// ListByDate returns calls started on the given UTC date (YYYY-MM-DD),
// newest first.
func (s *Store) ListByDate(date string) ([]Call, error) {
	rows, err := s.db.Query(
		`SELECT `+callColumns+` FROM calls
		 WHERE substr(started_at, 1, 10) = ?
		 ORDER BY started_at DESC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("query calls by date %s: %w", date, err)
	}
	defer func() { _ = rows.Close() }()

	var calls []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *c)
	}
	return calls, rows.Err()
}

// BusinessNumbers returns the normalized business phone number for every
// agent profile, mapped to the owning user id. The first profile claiming a
// number wins.
func (s *Store) BusinessNumbers() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT business_phone_number, user_id FROM agent_profiles WHERE business_phone_number != ''`)
	if err != nil {
		return nil, fmt.Errorf("query agent profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	numbers := make(map[string]int64)
	for rows.Next() {
		var number string
		var userID int64
		if err := rows.Scan(&number, &userID); err != nil {
			return nil, fmt.Errorf("scan agent profile: %w", err)
		}

		normalized := phone.Normalize(number)
		if normalized == "" {
			continue
		}
		if _, ok := numbers[normalized]; !ok {
			numbers[normalized] = userID
		}
	}
	return numbers, rows.Err()
}

// CreateAgentProfile registers a business phone number for a user.
func (s *Store) CreateAgentProfile(userID int64, businessNumber string) error {
	_, err := s.db.Exec(
		`INSERT INTO agent_profiles(user_id, business_phone_number) VALUES(?, ?)`,
		userID,
		businessNumber,
	)
	if err != nil {
		return fmt.Errorf("create agent profile: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*Call, error) {
	var c Call
	var userID, duration sql.NullInt64
	var startedAt, endedAt sql.NullString
	var messages string

	err := row.Scan(
		&c.ID, &userID, &c.CallSid, &c.SessionID, &c.FromNumber, &c.ToNumber,
		&c.ForwardedFrom, &c.CallerName, &c.Status, &c.IsStarred,
		&c.RecordingURL, &c.Summary, &messages, &c.TranscriptText,
		&startedAt, &endedAt, &duration,
	)
	if err != nil {
		return nil, err
	}

	if userID.Valid {
		c.UserID = userID.Int64
	}
	if duration.Valid {
		d := duration.Int64
		c.DurationSeconds = &d
	}
	if t := parseTime(startedAt); t != nil {
		c.StartedAt = t
	}
	if t := parseTime(endedAt); t != nil {
		c.EndedAt = t
	}
	if err := json.Unmarshal([]byte(messages), &c.TranscriptMessages); err != nil {
		return nil, fmt.Errorf("unmarshal transcript messages for call %d: %w", c.ID, err)
	}

	return &c, nil
}

func parseTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
