package skillproto

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingReporter struct {
	mu      sync.Mutex
	reasons []string
}

func (r *recordingReporter) ReportFailure(skillID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "skill.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestHandshakeAndHealthHappyPath(t *testing.T) {
	script := writeScript(t, `
read -r _
echo '{"jsonrpc":"2.0","result":{"name":"echo-skill","version":"1.0.0"},"id":1}'
read -r _
echo '{"jsonrpc":"2.0","result":{"status":"ok"},"id":2}'
cat >/dev/null
`)
	reporter := &recordingReporter{}
	ctx := context.Background()
	sp, err := Spawn(ctx, "echo-skill", "/bin/sh", []string{script}, zerolog.Nop(), reporter)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer sp.Shutdown(200 * time.Millisecond)

	result, err := sp.Handshake(ctx, "echo-skill", "0.8.1")
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if result.Name != "echo-skill" {
		t.Fatalf("unexpected handshake result: %+v", result)
	}

	health, err := sp.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !health.IsOK() {
		t.Fatalf("want healthy, got %+v", health)
	}
	if reporter.count() != 0 {
		t.Fatalf("want no failures reported, got %d", reporter.count())
	}
}

func TestHandshakeNameMismatchReportsFailure(t *testing.T) {
	script := writeScript(t, `
read -r _
echo '{"jsonrpc":"2.0","result":{"name":"wrong-name","version":"1.0.0"},"id":1}'
cat >/dev/null
`)
	reporter := &recordingReporter{}
	ctx := context.Background()
	sp, err := Spawn(ctx, "echo-skill", "/bin/sh", []string{script}, zerolog.Nop(), reporter)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer sp.Shutdown(200 * time.Millisecond)

	if _, err := sp.Handshake(ctx, "echo-skill", "0.8.1"); err == nil {
		t.Fatal("want error for name mismatch")
	}
	if reporter.count() != 1 {
		t.Fatalf("want exactly 1 failure reported, got %d", reporter.count())
	}
}

func TestUnhealthyStatusReportsFailureButReturnsResult(t *testing.T) {
	script := writeScript(t, `
read -r _
echo '{"jsonrpc":"2.0","result":{"status":"degraded","detail":"queue full"},"id":1}'
cat >/dev/null
`)
	reporter := &recordingReporter{}
	ctx := context.Background()
	sp, err := Spawn(ctx, "echo-skill", "/bin/sh", []string{script}, zerolog.Nop(), reporter)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer sp.Shutdown(200 * time.Millisecond)

	health, err := sp.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.IsOK() {
		t.Fatal("want unhealthy result")
	}
	if reporter.count() != 1 {
		t.Fatalf("want exactly 1 failure reported, got %d", reporter.count())
	}
}

func TestInvokeReturnsErrorResultAsProtocolError(t *testing.T) {
	script := writeScript(t, `
read -r _
echo '{"jsonrpc":"2.0","error":{"code":-32000,"message":"boom"},"id":1}'
cat >/dev/null
`)
	reporter := &recordingReporter{}
	ctx := context.Background()
	sp, err := Spawn(ctx, "echo-skill", "/bin/sh", []string{script}, zerolog.Nop(), reporter)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer sp.Shutdown(200 * time.Millisecond)

	if _, err := sp.Invoke(ctx, "do.thing", nil); err == nil {
		t.Fatal("want error from error response")
	}
	if reporter.count() != 1 {
		t.Fatalf("want exactly 1 failure reported, got %d", reporter.count())
	}
}
