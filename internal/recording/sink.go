// Package recording captures raw inbound mu-law audio per call session and
// packages it into a playable WAV file when the call ends.
package recording

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	defaultSampleRate = 8000
	muLawFormatCode   = 7
	muLawChannels     = 1
	muLawBitDepth     = 8
)

// Backup uploads a finalized recording to secondary storage. Upload failures
// are the caller's to log; the local file remains authoritative.
type Backup interface {
	Upload(localPath, name string) error
}

// Sink accumulates raw audio per session in temporary buffers and finalizes
// them into WAV files under the recording directory.
type Sink struct {
	dir        string
	urlBase    string
	sampleRate int
	backup     Backup

	mu      sync.Mutex
	buffers map[string]*os.File
}

func NewSink(dir, urlBase string, sampleRate int) *Sink {
	if dir == "" {
		dir = filepath.Join("data", "recordings")
	}
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}

	return &Sink{
		dir:        dir,
		urlBase:    strings.TrimRight(urlBase, "/"),
		sampleRate: sampleRate,
		buffers:    make(map[string]*os.File),
	}
}

// SetBackup attaches secondary storage for finalized recordings.
func (s *Sink) SetBackup(b Backup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backup = b
}

// Start creates an empty temporary buffer for the session. A second Start
// for the same session is a no-op.
func (s *Sink) Start(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(sessionID)
}

func (s *Sink) startLocked(sessionID string) error {
	if _, ok := s.buffers[sessionID]; ok {
		return nil
	}

	if err := os.MkdirAll(s.tempDir(), 0o755); err != nil {
		return fmt.Errorf("create recording temp directory: %w", err)
	}

	f, err := os.OpenFile(s.tempPath(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open recording buffer: %w", err)
	}

	s.buffers[sessionID] = f
	return nil
}

// Append decodes one base64 audio chunk and appends the raw bytes to the
// session's buffer, creating the buffer lazily if needed. A chunk that fails
// to decode is logged and dropped; the call continues.
func (s *Sink) Append(sessionID, encoded string) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		log.Printf("session %s: dropping undecodable audio chunk: %v", sessionID, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.buffers[sessionID]
	if !ok {
		if err := s.startLocked(sessionID); err != nil {
			log.Printf("session %s: recording buffer unavailable: %v", sessionID, err)
			return
		}
		f = s.buffers[sessionID]
	}

	if _, err := f.Write(raw); err != nil {
		log.Printf("session %s: write recording chunk: %v", sessionID, err)
	}
}

// Finalize wraps the session's accumulated audio in a WAV container, writes
// it under a name derived from the call record id, deletes the temporary
// buffer, and returns the durable URL. It returns "" when no audio was
// captured, so a second Finalize for the same session yields nothing.
func (s *Sink) Finalize(sessionID string, callID int64) (string, error) {
	s.mu.Lock()
	f, ok := s.buffers[sessionID]
	if ok {
		delete(s.buffers, sessionID)
	}
	backup := s.backup
	s.mu.Unlock()

	if !ok {
		return "", nil
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close recording buffer: %w", err)
	}

	tempPath := s.tempPath(sessionID)
	raw, err := os.ReadFile(tempPath)
	if err != nil {
		return "", fmt.Errorf("read recording buffer: %w", err)
	}
	if len(raw) == 0 {
		_ = os.Remove(tempPath)
		return "", nil
	}

	name := fmt.Sprintf("call-%d-%s.wav", callID, sanitizeSessionID(sessionID))
	finalPath := filepath.Join(s.dir, name)

	var out bytes.Buffer
	out.Write(muLawWavHeader(len(raw), s.sampleRate))
	out.Write(raw)

	if err := os.WriteFile(finalPath, out.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write recording %s: %w", name, err)
	}
	_ = os.Remove(tempPath)

	if backup != nil {
		if err := backup.Upload(finalPath, name); err != nil {
			log.Printf("session %s: recording backup failed: %v", sessionID, err)
		}
	}

	return s.urlBase + "/" + name, nil
}

// Discard deletes the session's temporary buffer without producing a
// recording. Used when no call record exists to attach audio to.
func (s *Sink) Discard(sessionID string) {
	s.mu.Lock()
	f, ok := s.buffers[sessionID]
	if ok {
		delete(s.buffers, sessionID)
	}
	s.mu.Unlock()

	if ok {
		_ = f.Close()
	}
	_ = os.Remove(s.tempPath(sessionID))
}

func (s *Sink) tempDir() string {
	return filepath.Join(s.dir, "tmp")
}

func (s *Sink) tempPath(sessionID string) string {
	return filepath.Join(s.tempDir(), sanitizeSessionID(sessionID)+".raw")
}

func sanitizeSessionID(sessionID string) string {
	var b strings.Builder
	for _, r := range sessionID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "session"
	}
	return b.String()
}

// muLawWavHeader builds the 44-byte RIFF header for 8-bit mono mu-law audio.
// Byte rate equals the sample rate and block align is 1 because each sample
// is a single byte.
func muLawWavHeader(dataSize, sampleRate int) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 44))

	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(muLawFormatCode))
	_ = binary.Write(buf, binary.LittleEndian, uint16(muLawChannels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint16(muLawBitDepth))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataSize))

	return buf.Bytes()
}
