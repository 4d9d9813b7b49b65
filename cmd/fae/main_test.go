package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/saorsa-labs/fae/internal/config"
)

func TestBootstrapCreatesLayoutAndOpensSubsystems(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FAE_DATA_DIR", dir)
	t.Setenv("FAE_CONFIG_DIR", "")
	t.Setenv("FAE_SKILLS_DIR", "")
	t.Setenv("FAE_PYTHON_SKILLS_DIR", "")

	rt, err := bootstrap()
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	defer rt.Close()

	if rt.Memory == nil {
		t.Error("Memory should not be nil")
	}
	if rt.Intel == nil {
		t.Error("Intel should not be nil")
	}
	if rt.Registry == nil {
		t.Error("Registry should not be nil")
	}
	if rt.Discovery == nil {
		t.Error("Discovery should not be nil")
	}
	if rt.Generator == nil {
		t.Error("Generator should not be nil")
	}
	if rt.Lease == nil {
		t.Error("Lease should not be nil")
	}
	if rt.HostClient == nil {
		t.Error("HostClient should not be nil")
	}
	if rt.Soul == nil {
		t.Error("Soul should not be nil")
	}

	for _, dir := range []string{rt.Paths.Data, rt.Paths.Config, rt.Paths.Skills, rt.Paths.PythonSkills} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s to exist", dir)
		}
	}
	if _, err := os.Stat(rt.Paths.DBPath()); err != nil {
		t.Errorf("expected memory database at %s", rt.Paths.DBPath())
	}
	if _, err := os.Stat(rt.Paths.MutationManifestPath()); err != nil {
		t.Errorf("expected mutation manifest at %s", rt.Paths.MutationManifestPath())
	}
	if _, err := os.Stat(rt.Paths.SoulPath()); err != nil {
		t.Errorf("expected soul document at %s", rt.Paths.SoulPath())
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FAE_DATA_DIR", dir)

	rt1, err := bootstrap()
	if err != nil {
		t.Fatalf("first bootstrap: %v", err)
	}
	rt1.Close()

	rt2, err := bootstrap()
	if err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	defer rt2.Close()
}

func TestAuditConfigPathDerivesRuntimeAuditFile(t *testing.T) {
	dir := t.TempDir()
	paths := config.Paths{Config: filepath.Join(dir, "config")}

	got := auditConfigPath(paths)
	want := filepath.Join(dir, "config", "fae")
	if got != want {
		t.Errorf("auditConfigPath = %q, want %q", got, want)
	}
}
