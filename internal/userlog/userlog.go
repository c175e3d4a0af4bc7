// Package userlog persists per-user event trails as append-only JSONL files.
package userlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidUserID rejects ids that could escape the data directory.
var ErrInvalidUserID = errors.New("invalid user id")

// Event is one logged occurrence for a user. Fields beyond Type are free-form.
type Event struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversationId,omitempty"`
	Content        string    `json:"content,omitempty"`
	Command        string    `json:"command,omitempty"`
	Arg            string    `json:"arg,omitempty"`
	Result         any       `json:"result,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// UserProfile is the registration record written at signup.
type UserProfile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Log writes user events beneath a data directory, one directory per user.
type Log struct {
	dataDir string
	now     func() time.Time
}

// New creates a user log rooted at dataDir.
func New(dataDir string) *Log {
	return &Log{dataDir: dataDir, now: time.Now}
}

// Register creates a user directory and profile record, returning the profile.
func (l *Log) Register(name, email string) (*UserProfile, error) {
	p := &UserProfile{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		CreatedAt: l.now(),
	}
	dir := filepath.Join(l.dataDir, p.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create user dir: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "profile.json"), data, 0644); err != nil {
		return nil, fmt.Errorf("write profile: %w", err)
	}
	return p, nil
}

// userDir resolves a user's directory. Ids arrive from clients, so anything
// that could traverse out of the data directory is rejected.
func (l *Log) userDir(userID string) (string, error) {
	if userID == "" || userID == "." || userID == ".." ||
		strings.ContainsAny(userID, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return filepath.Join(l.dataDir, userID), nil
}

// LogEvent appends one event to the user's JSONL trail.
func (l *Log) LogEvent(userID string, event Event) error {
	dir, err := l.userDir(userID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create user dir: %w", err)
	}
	event.Timestamp = l.now()
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "events.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Events reads a user's full event trail. A missing log yields an empty slice.
func (l *Log) Events(userID string) ([]Event, error) {
	dir, err := l.userDir(userID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, "events.log"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue // skip unparseable lines rather than failing the read
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}
	return events, nil
}
