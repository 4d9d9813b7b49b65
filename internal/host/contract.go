// Package host implements the async command/event channel between an
// embedding host shell and the runtime: envelopes, routing, and the
// fixed device/orb/capability surface the host can drive.
package host

import (
	"strings"

	"github.com/saorsa-labs/fae/internal/ferr"
)

// CommandName identifies a host command envelope's intent.
type CommandName string

const (
	CommandHostPing          CommandName = "host_ping"
	CommandHostVersion       CommandName = "host_version"
	CommandDeviceMove        CommandName = "device_move"
	CommandDeviceGoHome      CommandName = "device_go_home"
	CommandOrbPaletteSet     CommandName = "orb_palette_set"
	CommandOrbPaletteClear   CommandName = "orb_palette_clear"
	CommandCapabilityRequest CommandName = "capability_request"
	CommandCapabilityGrant   CommandName = "capability_grant"
)

// CommandEnvelope is a single request sent from the host to the runtime.
type CommandEnvelope struct {
	RequestID string         `json:"request_id"`
	Command   CommandName    `json:"command"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ResponseEnvelope is the runtime's reply to a CommandEnvelope.
type ResponseEnvelope struct {
	RequestID string         `json:"request_id"`
	OK        bool           `json:"ok"`
	Payload   map[string]any `json:"payload,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// OKResponse builds a successful response envelope.
func OKResponse(requestID string, payload map[string]any) ResponseEnvelope {
	return ResponseEnvelope{RequestID: requestID, OK: true, Payload: payload}
}

// ErrorResponse builds a failed response envelope.
func ErrorResponse(requestID, message string) ResponseEnvelope {
	return ResponseEnvelope{RequestID: requestID, OK: false, Error: message}
}

// EventEnvelope is a broadcast notification emitted by the runtime.
type EventEnvelope struct {
	EventID string         `json:"event_id"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Validate checks that envelope carries the required payload fields for
// its command, without fully parsing them. Deeper per-command parsing
// happens during routing.
func (e CommandEnvelope) Validate() error {
	if strings.TrimSpace(e.RequestID) == "" {
		return ferr.Protocol("command envelope requires a non-empty request_id")
	}

	switch e.Command {
	case CommandHostPing, CommandHostVersion, CommandDeviceGoHome, CommandOrbPaletteClear:
		return nil
	case CommandDeviceMove:
		return requirePayloadField(e.Payload, "target", string(e.Command))
	case CommandOrbPaletteSet:
		return requirePayloadField(e.Payload, "palette", string(e.Command))
	case CommandCapabilityRequest:
		if err := requirePayloadField(e.Payload, "capability", string(e.Command)); err != nil {
			return err
		}
		return requirePayloadField(e.Payload, "reason", string(e.Command))
	case CommandCapabilityGrant:
		return requirePayloadField(e.Payload, "capability", string(e.Command))
	default:
		return nil // unknown commands are rejected at routing time, not validation time
	}
}

func requirePayloadField(payload map[string]any, field, command string) error {
	raw, ok := payload[field]
	if !ok {
		return ferr.Protocol("%s requires payload.%s", command, field)
	}
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return ferr.Protocol("%s requires a non-empty payload.%s", command, field)
	}
	return nil
}
