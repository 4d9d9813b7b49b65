package host

import (
	"strings"

	"github.com/saorsa-labs/fae/internal/ferr"
)

// EventContractVersion is the host command/event wire contract version
// reported by the host_version command.
const EventContractVersion = "v0"

func parseOrbPalette(payload map[string]any) (string, error) {
	raw, ok := payload["palette"].(string)
	if !ok {
		return "", ferr.Protocol("orb_palette_set requires payload.palette")
	}

	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return "", ferr.Protocol("orb_palette_set requires a non-empty palette value")
	}
	if !IsSupportedOrbPalette(normalized) {
		return "", ferr.Protocol("unsupported orb palette `%s`", raw)
	}
	return normalized, nil
}

func parseCapabilityRequest(payload map[string]any) (capability, reason, scope string, err error) {
	capability, err = parseNonEmptyField(payload, "capability", "capability_request")
	if err != nil {
		return "", "", "", err
	}
	reason, err = parseNonEmptyField(payload, "reason", "capability_request")
	if err != nil {
		return "", "", "", err
	}
	scope, err = parseOptionalScope(payload, "capability_request")
	return capability, reason, scope, err
}

func parseCapabilityGrant(payload map[string]any) (capability, scope string, err error) {
	capability, err = parseNonEmptyField(payload, "capability", "capability_grant")
	if err != nil {
		return "", "", err
	}
	scope, err = parseOptionalScope(payload, "capability_grant")
	return capability, scope, err
}

func parseNonEmptyField(payload map[string]any, field, command string) (string, error) {
	raw, ok := payload[field].(string)
	if !ok {
		return "", ferr.Protocol("%s requires payload.%s", command, field)
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", ferr.Protocol("%s requires a non-empty payload.%s", command, field)
	}
	return value, nil
}

func parseOptionalScope(payload map[string]any, command string) (string, error) {
	raw, present := payload["scope"]
	if !present || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", ferr.Protocol("%s payload.scope must be a string when provided", command)
	}
	scope := strings.TrimSpace(s)
	if scope == "" {
		return "", ferr.Protocol("%s payload.scope cannot be empty when provided", command)
	}
	return scope, nil
}
