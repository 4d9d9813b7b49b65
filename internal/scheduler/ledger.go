package scheduler

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/saorsa-labs/fae/internal/ferr"
)

type runKeyRecord struct {
	RunKey       string `json:"run_key"`
	RecordedAtMs int64  `json:"recorded_at_ms"`
}

// RunKeyLedger is a file-backed dedupe ledger: each distinct run key is
// recorded at most once across all cooperating processes sharing path.
type RunKeyLedger struct {
	mu   sync.Mutex
	path string
	seen map[string]struct{}
}

// NewRunKeyLedger creates a ledger bound to a JSONL file at path.
func NewRunKeyLedger(path string) *RunKeyLedger {
	return &RunKeyLedger{path: path, seen: make(map[string]struct{})}
}

// RecordOnce records runKey if it hasn't been seen before, returning true
// when newly inserted.
func (l *RunKeyLedger) RecordOnce(runKey string) (bool, error) {
	trimmed := strings.TrimSpace(runKey)
	if trimmed == "" {
		return false, ferr.Lifecycle("run key must not be empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	unlock, err := l.acquireWriteGuard(1500 * time.Millisecond)
	if err != nil {
		return false, err
	}
	defer unlock()

	if err := l.refreshSeenFromDisk(); err != nil {
		return false, err
	}
	if _, ok := l.seen[trimmed]; ok {
		return false, nil
	}

	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, ferr.Lifecycle("create scheduler dedupe directory: %w", err)
		}
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return false, ferr.Lifecycle("open run key ledger: %w", err)
	}
	defer file.Close()

	rec := runKeyRecord{RunKey: trimmed, RecordedAtMs: NowEpochMillis()}
	line, err := json.Marshal(rec)
	if err != nil {
		return false, ferr.Lifecycle("encode run key record: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return false, ferr.Lifecycle("append run key record: %w", err)
	}

	l.seen[trimmed] = struct{}{}
	return true, nil
}

func (l *RunKeyLedger) refreshSeenFromDisk() error {
	l.seen = make(map[string]struct{})
	file, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return ferr.Lifecycle("read run key ledger: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec runKeyRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue // malformed ledger line, skip
		}
		l.seen[rec.RunKey] = struct{}{}
	}
	return nil
}

func (l *RunKeyLedger) lockPath() string {
	return l.path + ".lock"
}

// acquireWriteGuard takes an exclusive create-new lock file, evicting a
// stale lock (older than 30s) before giving up at timeout.
func (l *RunKeyLedger) acquireWriteGuard(timeout time.Duration) (func(), error) {
	lockPath := l.lockPath()
	if dir := filepath.Dir(lockPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ferr.Lifecycle("create scheduler dedupe lock directory: %w", err)
		}
	}

	started := time.Now()
	for {
		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = file.WriteString(strconv.FormatInt(NowEpochMillis(), 10))
			file.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, ferr.Lifecycle("create run-key ledger lock %q: %w", lockPath, err)
		}

		evictStaleLock(lockPath)
		if time.Since(started) > timeout {
			return nil, ferr.Lifecycle("timed out waiting for run-key ledger lock %q", lockPath)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func evictStaleLock(lockPath string) {
	info, err := os.Stat(lockPath)
	if err != nil {
		return
	}
	if time.Since(info.ModTime()) > 30*time.Second {
		os.Remove(lockPath)
	}
}
