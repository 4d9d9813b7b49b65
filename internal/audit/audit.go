// Package audit implements a durable, append-only JSONL log of runtime
// profile transitions (standard/rescue switches), colocated with the
// config file that triggered them.
package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/saorsa-labs/fae/internal/ferr"
)

// Profile is a runtime operating mode the assistant can run under.
type Profile string

const (
	ProfileStandard Profile = "standard"
	ProfileRescue   Profile = "rescue"
)

// Source identifies what initiated a profile transition.
type Source string

const (
	SourceAutoRecovery Source = "auto_recovery"
	SourceConfigPatch  Source = "config_patch"
)

// Entry is one persisted runtime profile transition.
type Entry struct {
	TimestampSecs int64   `json:"timestamp_secs"`
	Source        Source  `json:"source"`
	FromProfile   Profile `json:"from_profile"`
	ToProfile     Profile `json:"to_profile"`
	Reason        string  `json:"reason"`
	RestartCount  *int    `json:"restart_count,omitempty"`
	Threshold     *int    `json:"threshold,omitempty"`
	RequestID     string  `json:"request_id,omitempty"`
}

// NewEntry creates an entry stamped with the current time.
func NewEntry(source Source, from, to Profile, reason string) Entry {
	return Entry{
		TimestampSecs: time.Now().Unix(),
		Source:        source,
		FromProfile:   from,
		ToProfile:     to,
		Reason:        reason,
	}
}

// WithRestartCount attaches the restart count that triggered auto recovery.
func (e Entry) WithRestartCount(count int) Entry {
	e.RestartCount = &count
	return e
}

// WithThreshold attaches the rescue threshold that triggered auto recovery.
func (e Entry) WithThreshold(threshold int) Entry {
	e.Threshold = &threshold
	return e
}

// WithRequestID attaches the host request ID associated with the transition.
func (e Entry) WithRequestID(requestID string) Entry {
	e.RequestID = requestID
	return e
}

// FileForConfig derives the audit file path, colocated with configPath.
func FileForConfig(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "runtime_audit.jsonl")
}

// AppendForConfig appends entry to the audit file derived from configPath.
func AppendForConfig(configPath string, entry Entry) error {
	return appendToPath(FileForConfig(configPath), entry)
}

// ReadRecentForConfig reads the most recent limit entries from the audit
// file derived from configPath, in file order.
func ReadRecentForConfig(configPath string, limit int) ([]Entry, error) {
	return readRecentFromPath(FileForConfig(configPath), limit)
}

func appendToPath(path string, entry Entry) error {
	parent := filepath.Dir(path)
	if parent == "" {
		parent = "."
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return ferr.IO("create runtime audit directory: %w", err)
	}

	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return ferr.Config("runtime audit path cannot be a symlink")
	}

	file, err := openAuditFile(path)
	if err != nil {
		return ferr.IO("open runtime audit file: %w", err)
	}
	defer file.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return ferr.IO("serialize runtime audit entry: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return ferr.IO("write runtime audit entry: %w", err)
	}
	return file.Sync()
}

func readRecentFromPath(path string, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ferr.IO("open runtime audit file: %w", err)
	}
	defer file.Close()

	tail := make([]Entry, 0, limit)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue // malformed audit line, skip
		}
		if len(tail) == limit {
			tail = tail[1:]
		}
		tail = append(tail, entry)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, ferr.IO("read runtime audit file: %w", err)
	}
	return tail, nil
}

