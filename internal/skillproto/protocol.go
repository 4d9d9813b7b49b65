// Package skillproto implements the newline-delimited JSON-RPC 2.0
// protocol spoken between the Fae host and a Python skill subprocess on
// stdin/stdout.
package skillproto

import (
	"encoding/json"
	"strings"

	"github.com/saorsa-labs/fae/internal/ferr"
)

const jsonrpcVersion = "2.0"

// Well-known method names used in the handshake and health-check exchange.
const (
	MethodHandshake = "skill.handshake"
	MethodHealth    = "skill.health"
)

// Request is a JSON-RPC 2.0 request sent from the host to a skill.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      uint64          `json:"id"`
}

// NewRequest builds a Request with params marshaled from any Go value.
func NewRequest(method string, params any, id uint64) (*Request, error) {
	req := &Request{JSONRPC: jsonrpcVersion, Method: method, ID: id}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, ferr.Protocol("marshal params for %s: %w", method, err)
		}
		req.Params = raw
	}
	return req, nil
}

// Line serializes the request to a JSON line terminated with '\n'.
func (r *Request) Line() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, ferr.Protocol("marshal request: %w", err)
	}
	return append(data, '\n'), nil
}

// Response is a JSON-RPC 2.0 success response sent from a skill to the host.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	ID      uint64          `json:"id"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ErrorResponse is a JSON-RPC 2.0 error response sent from a skill to the host.
type ErrorResponse struct {
	JSONRPC string   `json:"jsonrpc"`
	Error   RPCError `json:"error"`
	ID      uint64   `json:"id"`
}

// Notification is a JSON-RPC 2.0 notification: no id, no response expected.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Kind discriminates which variant a parsed SkillMessage holds.
type Kind int

const (
	KindResponse Kind = iota
	KindError
	KindNotification
)

// SkillMessage is an incoming message from a skill: a response, an error,
// or a notification.
type SkillMessage struct {
	Kind         Kind
	Response     *Response
	Error        *ErrorResponse
	Notification *Notification
}

// ParseSkillMessage parses one line of skill output into a SkillMessage.
// The variant is determined by field presence: an id with a result is a
// Response, an id with an error is an Error, and no id at all is a
// Notification — an id with neither is malformed.
func ParseSkillMessage(line string) (*SkillMessage, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, ferr.Protocol("empty message line")
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &generic); err != nil {
		return nil, ferr.Protocol("invalid JSON: %w", err)
	}

	version := ""
	if raw, ok := generic["jsonrpc"]; ok {
		json.Unmarshal(raw, &version)
	}
	if version != jsonrpcVersion {
		return nil, ferr.Protocol("expected jsonrpc version %q, got %q", jsonrpcVersion, version)
	}

	_, hasID := generic["id"]
	_, hasResult := generic["result"]
	_, hasError := generic["error"]

	switch {
	case hasID && hasResult:
		var resp Response
		if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
			return nil, ferr.Protocol("parse response: %w", err)
		}
		return &SkillMessage{Kind: KindResponse, Response: &resp}, nil
	case hasID && hasError:
		var errResp ErrorResponse
		if err := json.Unmarshal([]byte(trimmed), &errResp); err != nil {
			return nil, ferr.Protocol("parse error response: %w", err)
		}
		return &SkillMessage{Kind: KindError, Error: &errResp}, nil
	case !hasID:
		var notif Notification
		if err := json.Unmarshal([]byte(trimmed), &notif); err != nil {
			return nil, ferr.Protocol("parse notification: %w", err)
		}
		return &SkillMessage{Kind: KindNotification, Notification: &notif}, nil
	default:
		return nil, ferr.Protocol("message has id but neither result nor error field")
	}
}

// HandshakeParams are sent by the host in a skill.handshake request.
type HandshakeParams struct {
	ExpectedName string `json:"expected_name"`
	FaeVersion   string `json:"fae_version"`
}

// HandshakeResult is returned by the skill in response to skill.handshake.
type HandshakeResult struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// NameMatches reports whether the skill's self-reported name matches expected.
func (h HandshakeResult) NameMatches(expected string) bool {
	return h.Name == expected
}

// HealthResult is returned by the skill in response to skill.health.
// Status "ok" or "healthy" both indicate a healthy skill; any other value,
// including empty, is treated as unhealthy and should trigger quarantine.
type HealthResult struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// IsOK reports whether the skill's reported status is healthy.
func (h HealthResult) IsOK() bool {
	return h.Status == "ok" || h.Status == "healthy"
}
