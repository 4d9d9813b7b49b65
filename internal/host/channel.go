package host

import (
	"context"

	"github.com/google/uuid"
	"github.com/saorsa-labs/fae/internal/ferr"
)

type hostRequest struct {
	envelope   CommandEnvelope
	responseCh chan ResponseEnvelope
}

// HostCommandClient is a cloneable handle that sends command envelopes to
// a HostCommandServer and can subscribe to its broadcast event stream.
type HostCommandClient struct {
	requestCh   chan<- hostRequest
	broadcaster *eventBroadcaster
}

// HostCommandServer owns the DeviceTransferHandler capability set and
// routes envelopes received over its request channel.
type HostCommandServer struct {
	requestCh   <-chan hostRequest
	broadcaster *eventBroadcaster
	handler     DeviceTransferHandler
}

// NewCommandChannel builds a connected client/server pair. requestCapacity
// and eventCapacity are both clamped to at least 1.
func NewCommandChannel(requestCapacity, eventCapacity int, handler DeviceTransferHandler) (*HostCommandClient, *HostCommandServer) {
	if requestCapacity < 1 {
		requestCapacity = 1
	}
	requestCh := make(chan hostRequest, requestCapacity)
	broadcaster := newEventBroadcaster(eventCapacity)

	client := &HostCommandClient{requestCh: requestCh, broadcaster: broadcaster}
	server := &HostCommandServer{requestCh: requestCh, broadcaster: broadcaster, handler: handler}
	return client, server
}

// Send validates envelope, enqueues it for the server, and awaits the
// matching response. A full request channel is reported immediately as a
// channel error rather than blocking the caller.
func (c *HostCommandClient) Send(ctx context.Context, envelope CommandEnvelope) (ResponseEnvelope, error) {
	if err := envelope.Validate(); err != nil {
		return ResponseEnvelope{}, ferr.Pipeline("invalid host command envelope %s: %w", envelope.RequestID, err)
	}

	request := hostRequest{envelope: envelope, responseCh: make(chan ResponseEnvelope, 1)}
	select {
	case c.requestCh <- request:
	case <-ctx.Done():
		return ResponseEnvelope{}, ferr.Channel("host command request cancelled: %w", ctx.Err())
	default:
		return ResponseEnvelope{}, ferr.Channel("host command request channel is full")
	}

	select {
	case response := <-request.responseCh:
		return response, nil
	case <-ctx.Done():
		return ResponseEnvelope{}, ferr.Channel("host command response cancelled: %w", ctx.Err())
	}
}

// SubscribeEvents registers a new broadcast receiver. The returned
// unsubscribe func must be called to release it.
func (c *HostCommandClient) SubscribeEvents() (<-chan EventEnvelope, func()) {
	id, ch := c.broadcaster.subscribe()
	return ch, func() { c.broadcaster.unsubscribe(id) }
}

// Run drives the server loop until ctx is cancelled or the request
// channel is closed.
func (s *HostCommandServer) Run(ctx context.Context) {
	for {
		select {
		case request, ok := <-s.requestCh:
			if !ok {
				return
			}
			request.responseCh <- s.route(request.envelope)
		case <-ctx.Done():
			return
		}
	}
}

func (s *HostCommandServer) route(envelope CommandEnvelope) ResponseEnvelope {
	switch envelope.Command {
	case CommandHostPing:
		return OKResponse(envelope.RequestID, map[string]any{"pong": true})
	case CommandHostVersion:
		return OKResponse(envelope.RequestID, map[string]any{
			"contract_version": EventContractVersion,
			"channel":          "host_command_v0",
		})
	case CommandDeviceMove:
		return s.handleDeviceMove(envelope)
	case CommandDeviceGoHome:
		return s.handleDeviceGoHome(envelope)
	case CommandOrbPaletteSet:
		return s.handleOrbPaletteSet(envelope)
	case CommandOrbPaletteClear:
		return s.handleOrbPaletteClear(envelope)
	case CommandCapabilityRequest:
		return s.handleCapabilityRequest(envelope)
	case CommandCapabilityGrant:
		return s.handleCapabilityGrant(envelope)
	default:
		return ErrorResponse(envelope.RequestID, "command not implemented in host channel: "+string(envelope.Command))
	}
}

func (s *HostCommandServer) handleDeviceMove(envelope CommandEnvelope) ResponseEnvelope {
	raw, _ := envelope.Payload["target"].(string)
	target, ok := ParseDeviceTarget(raw)
	if !ok {
		return ErrorResponse(envelope.RequestID, "unsupported device target `"+raw+"` (expected mac/iphone/watch)")
	}
	if err := s.handler.RequestMove(target); err != nil {
		return ErrorResponse(envelope.RequestID, err.Error())
	}

	s.emit("device.transfer_requested", map[string]any{
		"request_id": envelope.RequestID,
		"target":     string(target),
	})
	return OKResponse(envelope.RequestID, map[string]any{"accepted": true, "target": string(target)})
}

func (s *HostCommandServer) handleDeviceGoHome(envelope CommandEnvelope) ResponseEnvelope {
	if err := s.handler.RequestGoHome(); err != nil {
		return ErrorResponse(envelope.RequestID, err.Error())
	}

	s.emit("device.home_requested", map[string]any{
		"request_id": envelope.RequestID,
		"target":     string(DeviceMac),
	})
	return OKResponse(envelope.RequestID, map[string]any{"accepted": true, "target": string(DeviceMac)})
}

func (s *HostCommandServer) handleOrbPaletteSet(envelope CommandEnvelope) ResponseEnvelope {
	palette, err := parseOrbPalette(envelope.Payload)
	if err != nil {
		return ErrorResponse(envelope.RequestID, err.Error())
	}
	if err := s.handler.RequestOrbPaletteSet(palette); err != nil {
		return ErrorResponse(envelope.RequestID, err.Error())
	}

	s.emit("orb.palette_set_requested", map[string]any{
		"request_id": envelope.RequestID,
		"palette":    palette,
	})
	return OKResponse(envelope.RequestID, map[string]any{"accepted": true, "palette": palette})
}

func (s *HostCommandServer) handleOrbPaletteClear(envelope CommandEnvelope) ResponseEnvelope {
	if err := s.handler.RequestOrbPaletteClear(); err != nil {
		return ErrorResponse(envelope.RequestID, err.Error())
	}

	s.emit("orb.palette_cleared", map[string]any{"request_id": envelope.RequestID})
	return OKResponse(envelope.RequestID, map[string]any{"accepted": true})
}

func (s *HostCommandServer) handleCapabilityRequest(envelope CommandEnvelope) ResponseEnvelope {
	capability, reason, scope, err := parseCapabilityRequest(envelope.Payload)
	if err != nil {
		return ErrorResponse(envelope.RequestID, err.Error())
	}
	if err := s.handler.RequestCapability(capability, reason, scope); err != nil {
		return ErrorResponse(envelope.RequestID, err.Error())
	}

	s.emit("capability.requested", map[string]any{
		"request_id": envelope.RequestID,
		"capability": capability,
		"scope":      scope,
		"reason":     reason,
	})
	return OKResponse(envelope.RequestID, map[string]any{
		"accepted":   true,
		"capability": capability,
		"scope":      scope,
	})
}

func (s *HostCommandServer) handleCapabilityGrant(envelope CommandEnvelope) ResponseEnvelope {
	capability, scope, err := parseCapabilityGrant(envelope.Payload)
	if err != nil {
		return ErrorResponse(envelope.RequestID, err.Error())
	}
	if err := s.handler.GrantCapability(capability, scope); err != nil {
		return ErrorResponse(envelope.RequestID, err.Error())
	}

	s.emit("capability.granted", map[string]any{
		"request_id": envelope.RequestID,
		"capability": capability,
		"scope":      scope,
	})
	return OKResponse(envelope.RequestID, map[string]any{
		"accepted":   true,
		"capability": capability,
		"scope":      scope,
	})
}

func (s *HostCommandServer) emit(event string, payload map[string]any) {
	s.broadcaster.publish(EventEnvelope{
		EventID: uuid.NewString(),
		Event:   event,
		Payload: payload,
	})
}
