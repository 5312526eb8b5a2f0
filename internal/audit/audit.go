// Package audit provides the append-only JSON-lines audit log shared by
// the guardian and the admin control plane. One entry per line, synced
// after every append so a crash loses at most one record.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry statuses.
const (
	StatusOK     = "ok"
	StatusDenied = "denied"
	StatusError  = "error"
)

// Entry is a single audit record. Optional fields are omitted from the
// wire form when empty.
type Entry struct {
	TS        string         `json:"ts"`
	RequestID string         `json:"requestId"`
	SessionID string         `json:"sessionId,omitempty"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Status    string         `json:"status"`
	Channel   string         `json:"channel,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Logger appends entries to a single file. Safe for concurrent use.
type Logger struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Open opens (creating if needed) the audit log at path.
func Open(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	return &Logger{f: f, path: path}, nil
}

// Append writes one entry and syncs. TS is filled with the current UTC
// time when the caller left it empty.
func (l *Logger) Append(e Entry) error {
	if e.TS == "" {
		e.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	return nil
}

// Tail returns the most recent n entries, oldest first. Lines that fail
// to parse are skipped rather than failing the whole read.
func (l *Logger) Tail(n int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open for read: %w", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan: %w", err)
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// Path returns the log file location.
func (l *Logger) Path() string { return l.path }

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
