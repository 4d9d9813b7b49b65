package host

import (
	"context"
	"testing"
	"time"
)

type recordingHandler struct {
	moved        []DeviceTarget
	wentHome     bool
	palette      string
	paletteClear bool
	capRequested []string
	capGranted   []string
}

func (h *recordingHandler) RequestMove(target DeviceTarget) error {
	h.moved = append(h.moved, target)
	return nil
}
func (h *recordingHandler) RequestGoHome() error { h.wentHome = true; return nil }
func (h *recordingHandler) RequestOrbPaletteSet(palette string) error {
	h.palette = palette
	return nil
}
func (h *recordingHandler) RequestOrbPaletteClear() error { h.paletteClear = true; return nil }
func (h *recordingHandler) RequestCapability(capability, reason, scope string) error {
	h.capRequested = append(h.capRequested, capability)
	return nil
}
func (h *recordingHandler) GrantCapability(capability, scope string) error {
	h.capGranted = append(h.capGranted, capability)
	return nil
}

func newTestChannel(t *testing.T, handler DeviceTransferHandler) (*HostCommandClient, context.CancelFunc) {
	t.Helper()
	client, server := NewCommandChannel(4, 4, handler)
	ctx, cancel := context.WithCancel(context.Background())
	go server.Run(ctx)
	return client, cancel
}

func TestHostPingRespondsOK(t *testing.T) {
	client, cancel := newTestChannel(t, NoopDeviceTransferHandler{})
	defer cancel()

	resp, err := client.Send(context.Background(), CommandEnvelope{RequestID: "r1", Command: CommandHostPing})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !resp.OK || resp.Payload["pong"] != true {
		t.Fatalf("got %+v", resp)
	}
}

func TestHostVersionRespondsWithContractVersion(t *testing.T) {
	client, cancel := newTestChannel(t, NoopDeviceTransferHandler{})
	defer cancel()

	resp, err := client.Send(context.Background(), CommandEnvelope{RequestID: "r1", Command: CommandHostVersion})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Payload["contract_version"] != EventContractVersion {
		t.Fatalf("got %+v", resp)
	}
}

func TestDeviceMoveRoutesAndEmitsEvent(t *testing.T) {
	handler := &recordingHandler{}
	client, cancel := newTestChannel(t, handler)
	defer cancel()

	events, unsubscribe := client.SubscribeEvents()
	defer unsubscribe()

	resp, err := client.Send(context.Background(), CommandEnvelope{
		RequestID: "r1",
		Command:   CommandDeviceMove,
		Payload:   map[string]any{"target": "iPhone"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !resp.OK || resp.Payload["target"] != "iphone" {
		t.Fatalf("got %+v", resp)
	}
	if len(handler.moved) != 1 || handler.moved[0] != DeviceIphone {
		t.Fatalf("handler not invoked: %+v", handler.moved)
	}

	select {
	case ev := <-events:
		if ev.Event != "device.transfer_requested" || ev.Payload["target"] != "iphone" {
			t.Fatalf("got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
}

func TestDeviceMoveRejectsUnknownTarget(t *testing.T) {
	client, cancel := newTestChannel(t, NoopDeviceTransferHandler{})
	defer cancel()

	resp, err := client.Send(context.Background(), CommandEnvelope{
		RequestID: "r1",
		Command:   CommandDeviceMove,
		Payload:   map[string]any{"target": "toaster"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.OK {
		t.Fatalf("want error response, got %+v", resp)
	}
}

func TestDeviceMoveMissingTargetFailsValidation(t *testing.T) {
	client, cancel := newTestChannel(t, NoopDeviceTransferHandler{})
	defer cancel()

	_, err := client.Send(context.Background(), CommandEnvelope{
		RequestID: "r1",
		Command:   CommandDeviceMove,
	})
	if err == nil {
		t.Fatal("want validation error for missing payload.target")
	}
}

func TestOrbPaletteSetAcceptsKnownPalette(t *testing.T) {
	handler := &recordingHandler{}
	client, cancel := newTestChannel(t, handler)
	defer cancel()

	resp, err := client.Send(context.Background(), CommandEnvelope{
		RequestID: "r1",
		Command:   CommandOrbPaletteSet,
		Payload:   map[string]any{"palette": "Glen-Green"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !resp.OK || handler.palette != "glen-green" {
		t.Fatalf("got resp=%+v handler=%+v", resp, handler)
	}
}

func TestOrbPaletteSetRejectsUnknownPalette(t *testing.T) {
	client, cancel := newTestChannel(t, NoopDeviceTransferHandler{})
	defer cancel()

	resp, err := client.Send(context.Background(), CommandEnvelope{
		RequestID: "r1",
		Command:   CommandOrbPaletteSet,
		Payload:   map[string]any{"palette": "neon-pink"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.OK {
		t.Fatalf("want error response, got %+v", resp)
	}
}

func TestOrbPaletteClearInvokesHandler(t *testing.T) {
	handler := &recordingHandler{}
	client, cancel := newTestChannel(t, handler)
	defer cancel()

	resp, err := client.Send(context.Background(), CommandEnvelope{RequestID: "r1", Command: CommandOrbPaletteClear})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !resp.OK || !handler.paletteClear {
		t.Fatalf("got resp=%+v handler=%+v", resp, handler)
	}
}

func TestCapabilityRequestRequiresReason(t *testing.T) {
	client, cancel := newTestChannel(t, NoopDeviceTransferHandler{})
	defer cancel()

	_, err := client.Send(context.Background(), CommandEnvelope{
		RequestID: "r1",
		Command:   CommandCapabilityRequest,
		Payload:   map[string]any{"capability": "camera"},
	})
	if err == nil {
		t.Fatal("want validation error for missing payload.reason")
	}
}

func TestCapabilityRequestWithScope(t *testing.T) {
	handler := &recordingHandler{}
	client, cancel := newTestChannel(t, handler)
	defer cancel()

	resp, err := client.Send(context.Background(), CommandEnvelope{
		RequestID: "r1",
		Command:   CommandCapabilityRequest,
		Payload:   map[string]any{"capability": "camera", "reason": "verify identity", "scope": "once"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !resp.OK || resp.Payload["scope"] != "once" {
		t.Fatalf("got %+v", resp)
	}
	if len(handler.capRequested) != 1 || handler.capRequested[0] != "camera" {
		t.Fatalf("got %+v", handler.capRequested)
	}
}

func TestCapabilityGrantRejectsNonStringScope(t *testing.T) {
	client, cancel := newTestChannel(t, NoopDeviceTransferHandler{})
	defer cancel()

	resp, err := client.Send(context.Background(), CommandEnvelope{
		RequestID: "r1",
		Command:   CommandCapabilityGrant,
		Payload:   map[string]any{"capability": "camera", "scope": 42},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.OK {
		t.Fatalf("want error response for non-string scope, got %+v", resp)
	}
}

func TestUnknownCommandRespondsWithErrorEnvelope(t *testing.T) {
	client, cancel := newTestChannel(t, NoopDeviceTransferHandler{})
	defer cancel()

	resp, err := client.Send(context.Background(), CommandEnvelope{RequestID: "r1", Command: CommandName("unknown_thing")})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.OK {
		t.Fatalf("want error response, got %+v", resp)
	}
}

func TestRequestChannelFullReturnsChannelError(t *testing.T) {
	client, server := NewCommandChannel(1, 1, NoopDeviceTransferHandler{})
	_ = server // server never run, so the single request slot fills and stays full

	// The first send enqueues successfully (buffer has room) but then times
	// out waiting on a reply that will never arrive; only the enqueue step
	// matters for this test, so a short deadline keeps it from hanging.
	timeoutCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _ = client.Send(timeoutCtx, CommandEnvelope{RequestID: "r1", Command: CommandHostPing})

	if _, err := client.Send(context.Background(), CommandEnvelope{RequestID: "r2", Command: CommandHostPing}); err == nil {
		t.Fatal("want channel-full error on second send")
	}
}

func TestSubscribeEventsDropsSilentlyWhenFull(t *testing.T) {
	handler := &recordingHandler{}
	client, server := NewCommandChannel(4, 1, handler)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)

	events, unsubscribe := client.SubscribeEvents()
	defer unsubscribe()

	for i := 0; i < 3; i++ {
		if _, err := client.Send(context.Background(), CommandEnvelope{
			RequestID: "r",
			Command:   CommandDeviceGoHome,
		}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	time.Sleep(50 * time.Millisecond)
	count := 0
drain:
	for {
		select {
		case <-events:
			count++
		default:
			break drain
		}
	}
	if count == 0 {
		t.Fatal("want at least one delivered event despite drops")
	}
}
