package skillproto

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/saorsa-labs/fae/internal/ferr"
)

// FailureReporter is notified when a skill subprocess should be
// quarantined, e.g. a failed handshake, an unhealthy status, or an exit.
type FailureReporter interface {
	ReportFailure(skillID, reason string)
}

// Subprocess manages one running Python skill process and its
// newline-delimited JSON-RPC 2.0 conversation.
type Subprocess struct {
	skillID string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	log     zerolog.Logger

	mu     sync.Mutex
	nextID atomic.Uint64

	reporter FailureReporter
}

// Spawn starts the skill's entry script under the given interpreter
// (e.g. "uv run" resolved to its binary + args by the caller) and wires
// up stdio pipes. stderr is forwarded to the zerolog logger rather than
// discarded, since skill crashes are diagnosed from it.
func Spawn(ctx context.Context, skillID, command string, args []string, log zerolog.Logger, reporter FailureReporter) (*Subprocess, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, ferr.Protocol("skill %s: stdin pipe: %w", skillID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, ferr.Protocol("skill %s: stdout pipe: %w", skillID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, ferr.Protocol("skill %s: stderr pipe: %w", skillID, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, ferr.Protocol("skill %s: start: %w", skillID, err)
	}

	sp := &Subprocess{
		skillID:  skillID,
		cmd:      cmd,
		stdin:    stdin,
		stdout:   bufio.NewReader(stdout),
		log:      log.With().Str("skill_id", skillID).Logger(),
		reporter: reporter,
	}

	go sp.drainStderr(stderr)

	return sp, nil
}

func (s *Subprocess) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.log.Warn().Str("stream", "stderr").Msg(scanner.Text())
	}
}

// call sends a request and reads exactly one response line, enforcing ctx
// deadline/cancellation around the read.
func (s *Subprocess) call(ctx context.Context, method string, params any) (*SkillMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID.Add(1)
	req, err := NewRequest(method, params, id)
	if err != nil {
		return nil, err
	}
	line, err := req.Line()
	if err != nil {
		return nil, err
	}
	if _, err := s.stdin.Write(line); err != nil {
		s.fail("write to stdin failed: " + err.Error())
		return nil, ferr.Protocol("skill %s: write %s: %w", s.skillID, method, err)
	}

	type readResult struct {
		line string
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		l, err := s.stdout.ReadString('\n')
		ch <- readResult{l, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			s.fail("read from stdout failed: " + r.err.Error())
			return nil, ferr.Protocol("skill %s: read %s response: %w", s.skillID, method, r.err)
		}
		msg, err := ParseSkillMessage(r.line)
		if err != nil {
			s.fail("malformed response: " + err.Error())
			return nil, err
		}
		if msg.Kind == KindError {
			s.fail("skill returned error: " + msg.Error.Error.Message)
		}
		return msg, nil
	}
}

func (s *Subprocess) fail(reason string) {
	if s.reporter != nil {
		s.reporter.ReportFailure(s.skillID, reason)
	}
}

// Handshake sends skill.handshake and verifies the skill's reported name
// matches expectedName, quarantining on mismatch or transport failure.
func (s *Subprocess) Handshake(ctx context.Context, expectedName, faeVersion string) (*HandshakeResult, error) {
	msg, err := s.call(ctx, MethodHandshake, HandshakeParams{ExpectedName: expectedName, FaeVersion: faeVersion})
	if err != nil {
		return nil, err
	}
	if msg.Kind != KindResponse {
		s.fail("handshake did not return a result")
		return nil, ferr.Protocol("skill %s: handshake did not return a result", s.skillID)
	}
	var result HandshakeResult
	if err := json.Unmarshal(msg.Response.Result, &result); err != nil {
		s.fail("handshake result malformed: " + err.Error())
		return nil, ferr.Protocol("skill %s: parse handshake result: %w", s.skillID, err)
	}
	if !result.NameMatches(expectedName) {
		s.fail("handshake name mismatch: expected " + expectedName + ", got " + result.Name)
		return nil, ferr.Protocol("skill %s: handshake name mismatch: expected %q, got %q", s.skillID, expectedName, result.Name)
	}
	return &result, nil
}

// Health sends skill.health and quarantines the skill if the response is
// unhealthy, malformed, or absent.
func (s *Subprocess) Health(ctx context.Context) (*HealthResult, error) {
	msg, err := s.call(ctx, MethodHealth, nil)
	if err != nil {
		return nil, err
	}
	if msg.Kind != KindResponse {
		s.fail("health check did not return a result")
		return nil, ferr.Protocol("skill %s: health check did not return a result", s.skillID)
	}
	var result HealthResult
	if err := json.Unmarshal(msg.Response.Result, &result); err != nil {
		s.fail("health result malformed: " + err.Error())
		return nil, ferr.Protocol("skill %s: parse health result: %w", s.skillID, err)
	}
	if !result.IsOK() {
		s.fail("unhealthy status: " + result.Status)
	}
	return &result, nil
}

// Invoke calls an arbitrary skill method (e.g. a capability handler) and
// returns the raw result payload.
func (s *Subprocess) Invoke(ctx context.Context, method string, params any) (json.RawMessage, error) {
	msg, err := s.call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	switch msg.Kind {
	case KindResponse:
		return msg.Response.Result, nil
	case KindError:
		return nil, ferr.Protocol("skill %s: %s returned error %d: %s", s.skillID, method, msg.Error.Error.Code, msg.Error.Error.Message)
	default:
		return nil, ferr.Protocol("skill %s: %s returned a notification instead of a response", s.skillID, method)
	}
}

// Shutdown sends shutdown (best-effort) then terminates the process,
// giving it grace before a hard kill.
func (s *Subprocess) Shutdown(grace time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	_, _ = s.call(ctx, "shutdown", nil)

	s.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		return <-done
	}
}
