package host

import "github.com/saorsa-labs/fae/internal/observability"

// DeviceTransferHandler is the capability set a HostCommandServer delegates
// to when it routes device, orb, and capability commands.
type DeviceTransferHandler interface {
	RequestMove(target DeviceTarget) error
	RequestGoHome() error
	RequestOrbPaletteSet(palette string) error
	RequestOrbPaletteClear() error
	RequestCapability(capability, reason string, scope string) error
	GrantCapability(capability, scope string) error
}

// NoopDeviceTransferHandler accepts every command and does nothing. Useful
// for tests and for FFI hosts that only care about the event stream.
type NoopDeviceTransferHandler struct{}

func (NoopDeviceTransferHandler) RequestMove(DeviceTarget) error                { return nil }
func (NoopDeviceTransferHandler) RequestGoHome() error                          { return nil }
func (NoopDeviceTransferHandler) RequestOrbPaletteSet(string) error             { return nil }
func (NoopDeviceTransferHandler) RequestOrbPaletteClear() error                 { return nil }
func (NoopDeviceTransferHandler) RequestCapability(string, string, string) error { return nil }
func (NoopDeviceTransferHandler) GrantCapability(string, string) error           { return nil }

// LoggingDeviceTransferHandler logs every routed command at info level
// through HostCommandEvent and accepts it; it performs no device, orb, or
// capability action itself.
type LoggingDeviceTransferHandler struct {
	log *observability.Logger
}

// NewLoggingDeviceTransferHandler builds a handler that logs through log.
func NewLoggingDeviceTransferHandler(log *observability.Logger) *LoggingDeviceTransferHandler {
	return &LoggingDeviceTransferHandler{log: log}
}

func (h *LoggingDeviceTransferHandler) RequestMove(target DeviceTarget) error {
	h.log.HostCommandEvent("device.move", string(target))
	return nil
}

func (h *LoggingDeviceTransferHandler) RequestGoHome() error {
	h.log.HostCommandEvent("device.go_home", "mac")
	return nil
}

func (h *LoggingDeviceTransferHandler) RequestOrbPaletteSet(palette string) error {
	h.log.HostCommandEvent("orb.palette_set", palette)
	return nil
}

func (h *LoggingDeviceTransferHandler) RequestOrbPaletteClear() error {
	h.log.HostCommandEvent("orb.palette_clear", "")
	return nil
}

func (h *LoggingDeviceTransferHandler) RequestCapability(capability, reason, scope string) error {
	h.log.HostCommandEvent("capability.request", capability, "reason", reason, "scope", scope)
	return nil
}

func (h *LoggingDeviceTransferHandler) GrantCapability(capability, scope string) error {
	h.log.HostCommandEvent("capability.grant", capability, "scope", scope)
	return nil
}
