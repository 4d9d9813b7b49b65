package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	return NewRegistry(
		filepath.Join(dir, ".state", "registry.json"),
		dir,
		filepath.Join(dir, ".state", "snapshots"),
		filepath.Join(dir, ".state", "disabled"),
	), dir
}

func writePackage(t *testing.T, dir, id, script string) string {
	t.Helper()
	pkgDir := filepath.Join(dir, "pkg-"+id)
	os.MkdirAll(pkgDir, 0o755)
	manifest := "id = \"" + id + "\"\nname = \"Test Skill\"\n"
	os.WriteFile(filepath.Join(pkgDir, "manifest.toml"), []byte(manifest), 0o644)
	os.WriteFile(filepath.Join(pkgDir, "skill.py"), []byte(script), 0o644)
	return pkgDir
}

func TestCanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusTesting, true},
		{StatusPending, StatusActive, false},
		{StatusTesting, StatusActive, true},
		{StatusTesting, StatusQuarantined, true},
		{StatusActive, StatusPending, false},
		{StatusDisabled, StatusActive, true},
		{StatusDisabled, StatusQuarantined, true},
		{StatusQuarantined, StatusDisabled, true},
		{StatusQuarantined, StatusActive, false},
		{StatusActive, StatusActive, false},
	}
	for _, c := range cases {
		if got := CanTransitionTo(c.from, c.to); got != c.want {
			t.Errorf("CanTransitionTo(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestInstallPythonSkillSetsPending(t *testing.T) {
	reg, dir := newTestRegistry(t)
	pkg := writePackage(t, dir, "send-emails", "def handshake(): pass\ndef invoke(): pass")

	rec, err := reg.InstallPythonSkill(pkg)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if rec.Status != StatusPending {
		t.Fatalf("want Pending, got %s", rec.Status)
	}
	if _, err := os.Stat(rec.ScriptPath); err != nil {
		t.Fatalf("active script missing: %v", err)
	}
}

func TestInstallTwiceIsIdempotentInRegistryState(t *testing.T) {
	reg, dir := newTestRegistry(t)
	pkg := writePackage(t, dir, "foo", "def handshake(): pass\ndef invoke(): pass")

	first, err := reg.InstallPythonSkill(pkg)
	if err != nil {
		t.Fatalf("install 1: %v", err)
	}
	second, err := reg.InstallPythonSkill(pkg)
	if err != nil {
		t.Fatalf("install 2: %v", err)
	}
	if first.ID != second.ID || first.Status != second.Status || first.ScriptPath != second.ScriptPath {
		t.Fatalf("repeated install diverged: %+v vs %+v", first, second)
	}
	content, _ := os.ReadFile(second.ScriptPath)
	if string(content) != "def handshake(): pass\ndef invoke(): pass" {
		t.Fatalf("script content changed after double install")
	}
}

func TestDisableThenActivateRestoresByteForByte(t *testing.T) {
	reg, dir := newTestRegistry(t)
	script := "def handshake(): pass\ndef invoke(): return 42"
	pkg := writePackage(t, dir, "bar", script)

	if _, err := reg.InstallPythonSkill(pkg); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := reg.AdvanceStatus("bar", StatusTesting); err != nil {
		t.Fatalf("advance to testing: %v", err)
	}
	if _, err := reg.AdvanceStatus("bar", StatusActive); err != nil {
		t.Fatalf("advance to active: %v", err)
	}
	if _, err := reg.DisablePythonSkill("bar"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	rec, err := reg.ActivatePythonSkill("bar")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if rec.Status != StatusActive {
		t.Fatalf("want Active, got %s", rec.Status)
	}
	content, _ := os.ReadFile(rec.ScriptPath)
	if string(content) != script {
		t.Fatalf("restored script does not match original byte-for-byte")
	}
}

func TestInvalidTransitionDoesNotMutateRegistry(t *testing.T) {
	reg, dir := newTestRegistry(t)
	pkg := writePackage(t, dir, "baz", "def handshake(): pass\ndef invoke(): pass")
	if _, err := reg.InstallPythonSkill(pkg); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := reg.AdvanceStatus("baz", StatusActive); err == nil {
		t.Fatal("want error transitioning Pending -> Active directly")
	}
	views, err := reg.ListPythonSkills()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 1 || views[0].Status != StatusPending {
		t.Fatalf("registry mutated on invalid transition: %+v", views)
	}
}

func TestRollbackBypassesStateMachine(t *testing.T) {
	reg, dir := newTestRegistry(t)
	pkg := writePackage(t, dir, "qux", "v1")
	if _, err := reg.InstallPythonSkill(pkg); err != nil {
		t.Fatalf("install: %v", err)
	}
	// reinstall to create a snapshot of v1 before overwriting with v2.
	writePackage(t, dir, "qux", "v2")
	pkg2 := filepath.Join(dir, "pkg-qux")
	if _, err := reg.InstallPythonSkill(pkg2); err != nil {
		t.Fatalf("install 2: %v", err)
	}
	rec, err := reg.RollbackPythonSkill("qux")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rec.Status != StatusActive {
		t.Fatalf("want Active after rollback (privileged), got %s", rec.Status)
	}
}

func TestQuarantineRecordsLastError(t *testing.T) {
	reg, dir := newTestRegistry(t)
	pkg := writePackage(t, dir, "flaky", "def handshake(): pass\ndef invoke(): pass")
	if _, err := reg.InstallPythonSkill(pkg); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := reg.AdvanceStatus("flaky", StatusTesting); err != nil {
		t.Fatalf("advance: %v", err)
	}
	rec, err := reg.QuarantinePythonSkill("flaky", "handshake name mismatch")
	if err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	if rec.Status != StatusQuarantined || rec.LastError != "handshake name mismatch" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestManifestValidation(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "manifest.toml"), []byte("id = \"Bad ID\"\nname = \"x\"\n"), 0o644)
	if _, err := LoadManifest(dir); err == nil {
		t.Fatal("want error for invalid id characters")
	}
}

func TestManifestEmptyNameRejected(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "manifest.toml"), []byte("id = \"ok-id\"\nname = \"\"\n"), 0o644)
	if _, err := LoadManifest(dir); err == nil {
		t.Fatal("want error for empty name")
	}
}
