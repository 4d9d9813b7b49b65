package host

import "testing"

func TestParseDeviceTargetAliases(t *testing.T) {
	cases := map[string]DeviceTarget{
		"mac":    DeviceMac,
		"Home":   DeviceMac,
		"iPhone": DeviceIphone,
		"phone":  DeviceIphone,
		"watch":  DeviceWatch,
	}
	for raw, want := range cases {
		got, ok := ParseDeviceTarget(raw)
		if !ok || got != want {
			t.Fatalf("parse %q: got (%v, %v), want %v", raw, got, ok, want)
		}
	}
}

func TestParseDeviceTargetRejectsUnknown(t *testing.T) {
	if _, ok := ParseDeviceTarget("toaster"); ok {
		t.Fatal("want unknown target to be rejected")
	}
}

func TestValidateRequiresRequestID(t *testing.T) {
	envelope := CommandEnvelope{Command: CommandHostPing}
	if err := envelope.Validate(); err == nil {
		t.Fatal("want error for missing request_id")
	}
}

func TestValidatePassesForPingAndVersion(t *testing.T) {
	for _, cmd := range []CommandName{CommandHostPing, CommandHostVersion, CommandDeviceGoHome, CommandOrbPaletteClear} {
		envelope := CommandEnvelope{RequestID: "r1", Command: cmd}
		if err := envelope.Validate(); err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
	}
}

func TestIsSupportedOrbPaletteFixedSet(t *testing.T) {
	if !IsSupportedOrbPalette("mode-default") {
		t.Fatal("want mode-default to be supported")
	}
	if IsSupportedOrbPalette("neon-pink") {
		t.Fatal("want neon-pink to be unsupported")
	}
}
