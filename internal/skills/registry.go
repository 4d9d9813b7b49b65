// Package skills implements the promotion state machine for Python and
// markdown skill packages: install, disable, quarantine, activate,
// rollback, and the on-disk registry.json each family keeps sorted by id.
package skills

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/saorsa-labs/fae/internal/ferr"
)

// Status is one of the five declared skill lifecycle states.
type Status string

const (
	StatusPending     Status = "Pending"
	StatusTesting     Status = "Testing"
	StatusActive      Status = "Active"
	StatusDisabled    Status = "Disabled"
	StatusQuarantined Status = "Quarantined"
)

var validTransitions = map[Status]map[Status]bool{
	StatusPending:     {StatusTesting: true},
	StatusTesting:     {StatusActive: true, StatusDisabled: true, StatusQuarantined: true},
	StatusActive:      {StatusDisabled: true, StatusQuarantined: true},
	StatusDisabled:    {StatusActive: true, StatusQuarantined: true},
	StatusQuarantined: {StatusDisabled: true},
}

// CanTransitionTo reports whether moving from 'from' to 'to' is a legal,
// non-self transition in the skill lifecycle state machine.
func CanTransitionTo(from, to Status) bool {
	if from == to {
		return false
	}
	return validTransitions[from][to]
}

// Record is the persisted view of one managed Python skill.
type Record struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Version              string `json:"version"`
	Status               Status `json:"status"`
	ScriptPath           string `json:"script_path"`
	DisabledPath         string `json:"disabled_path,omitempty"`
	LastKnownGoodSnapshot string `json:"last_known_good_snapshot,omitempty"`
	LastError            string `json:"last_error,omitempty"`
	InstalledAt          int64  `json:"installed_at"`
	UpdatedAt            int64  `json:"updated_at"`
}

// PublicView is the read-only projection returned by ListPythonSkills.
type PublicView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Version   string `json:"version"`
	Status    Status `json:"status"`
	LastError string `json:"last_error,omitempty"`
}

type registryFile struct {
	Version int      `json:"version"`
	Skills  []Record `json:"skills"`
}

// Registry manages one skill family's registry.json plus its active,
// disabled, and snapshot directories on disk.
type Registry struct {
	mu             sync.Mutex
	registryPath   string
	skillsRoot     string // <root>/<id>.py lives here
	snapshotsDir   string
	disabledDir    string
	clock          func() int64
}

// NewRegistry builds a Registry rooted at the given paths. skillsRoot holds
// the active `<id>.py` scripts (or python-skills/<id>/ directories).
func NewRegistry(registryPath, skillsRoot, snapshotsDir, disabledDir string) *Registry {
	return &Registry{
		registryPath: registryPath,
		skillsRoot:   skillsRoot,
		snapshotsDir: snapshotsDir,
		disabledDir:  disabledDir,
		clock:        func() int64 { return time.Now().Unix() },
	}
}

func (r *Registry) load() (*registryFile, error) {
	data, err := os.ReadFile(r.registryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &registryFile{Version: 1}, nil
		}
		return nil, ferr.Lifecycle("read registry %q: %w", r.registryPath, err)
	}
	var rf registryFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, ferr.Lifecycle("parse registry %q: %w", r.registryPath, err)
	}
	return &rf, nil
}

func (r *Registry) save(rf *registryFile) error {
	sort.Slice(rf.Skills, func(i, j int) bool { return rf.Skills[i].ID < rf.Skills[j].ID })
	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return ferr.Lifecycle("marshal registry: %w", err)
	}
	dir := filepath.Dir(r.registryPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ferr.Lifecycle("create registry dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".registry-*.tmp")
	if err != nil {
		return ferr.Lifecycle("create temp registry: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return ferr.Lifecycle("write temp registry: %w", err)
	}
	tmp.Close()
	if err := os.Rename(tmpPath, r.registryPath); err != nil {
		os.Remove(tmpPath)
		return ferr.Lifecycle("rename registry into place: %w", err)
	}
	return nil
}

func findRecord(rf *registryFile, id string) (*Record, int) {
	for i := range rf.Skills {
		if rf.Skills[i].ID == id {
			return &rf.Skills[i], i
		}
	}
	return nil, -1
}

func (r *Registry) activeScriptPath(id string) string {
	return filepath.Join(r.skillsRoot, id+".py")
}

// InstallPythonSkill loads manifest.toml and the entry script from
// packageDir, snapshots any existing active script, installs the new one,
// and upserts a Pending Record. Re-running with identical content is safe:
// a new snapshot accumulates but the resulting registry state and script
// content are identical to a single install.
func (r *Registry) InstallPythonSkill(packageDir string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	manifest, err := LoadManifest(packageDir)
	if err != nil {
		return nil, err
	}
	entryPath := filepath.Join(packageDir, manifest.EntryFile)
	script, err := os.ReadFile(entryPath)
	if err != nil {
		return nil, ferr.Lifecycle("read entry file %s: %w", entryPath, err)
	}

	now := r.clock()
	dest := r.activeScriptPath(manifest.ID)
	if _, err := os.Stat(dest); err == nil {
		if err := r.snapshot(manifest.ID, dest, now); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, ferr.Lifecycle("create skills root: %w", err)
	}
	if err := os.WriteFile(dest, script, 0o644); err != nil {
		return nil, ferr.Lifecycle("write active script: %w", err)
	}

	rf, err := r.load()
	if err != nil {
		return nil, err
	}
	rec, _ := findRecord(rf, manifest.ID)
	if rec == nil {
		rf.Skills = append(rf.Skills, Record{})
		rec = &rf.Skills[len(rf.Skills)-1]
		rec.InstalledAt = now
	}
	rec.ID = manifest.ID
	rec.Name = manifest.Name
	rec.Version = manifest.Version
	rec.Status = StatusPending
	rec.ScriptPath = dest
	rec.LastError = ""
	rec.UpdatedAt = now
	if err := r.save(rf); err != nil {
		return nil, err
	}
	out := *rec
	return &out, nil
}

func (r *Registry) snapshot(id, path string, now int64) error {
	if err := os.MkdirAll(r.snapshotsDir, 0o755); err != nil {
		return ferr.Lifecycle("create snapshots dir: %w", err)
	}
	dest := filepath.Join(r.snapshotsDir, fmt.Sprintf("%s-%d.py", id, now))
	return moveOrCopy(path, dest, true)
}

// moveOrCopy renames src to dest, falling back to copy+delete on
// cross-device errors. If keepSrc is true, src is copied rather than moved.
func moveOrCopy(src, dest string, keepSrc bool) error {
	if keepSrc {
		return copyFile(src, dest)
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	if err := copyFile(src, dest); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return ferr.IO("open %s: %w", src, err)
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return ferr.IO("create dest dir: %w", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return ferr.IO("create %s: %w", dest, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return ferr.IO("copy %s to %s: %w", src, dest, err)
	}
	return nil
}

// AdvanceStatus validates the transition via CanTransitionTo before
// mutating the registry; on an invalid transition, nothing changes.
func (r *Registry) AdvanceStatus(id string, target Status) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rf, err := r.load()
	if err != nil {
		return nil, err
	}
	rec, _ := findRecord(rf, id)
	if rec == nil {
		return nil, ferr.Lifecycle("skill %q not found", id)
	}
	if !CanTransitionTo(rec.Status, target) {
		return nil, ferr.Lifecycle("invalid transition %s -> %s for skill %q", rec.Status, target, id)
	}
	rec.Status = target
	rec.UpdatedAt = r.clock()
	if err := r.save(rf); err != nil {
		return nil, err
	}
	out := *rec
	return &out, nil
}

// DisablePythonSkill snapshots the active script, moves it to the disabled
// directory, and transitions the skill to Disabled.
func (r *Registry) DisablePythonSkill(id string) (*Record, error) {
	return r.deactivate(id, StatusDisabled, "")
}

// QuarantinePythonSkill is like disable but targets Quarantined and records
// the failure reason as LastError.
func (r *Registry) QuarantinePythonSkill(id, reason string) (*Record, error) {
	return r.deactivate(id, StatusQuarantined, reason)
}

func (r *Registry) deactivate(id string, target Status, reason string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rf, err := r.load()
	if err != nil {
		return nil, err
	}
	rec, _ := findRecord(rf, id)
	if rec == nil {
		return nil, ferr.Lifecycle("skill %q not found", id)
	}
	if !CanTransitionTo(rec.Status, target) {
		return nil, ferr.Lifecycle("invalid transition %s -> %s for skill %q", rec.Status, target, id)
	}

	now := r.clock()
	active := r.activeScriptPath(id)
	if _, err := os.Stat(active); err == nil {
		if err := r.snapshot(id, active, now); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(r.disabledDir, 0o755); err != nil {
			return nil, ferr.Lifecycle("create disabled dir: %w", err)
		}
		disabledPath := filepath.Join(r.disabledDir, id+".py")
		if err := moveOrCopy(active, disabledPath, false); err != nil {
			return nil, err
		}
		rec.DisabledPath = disabledPath
	}
	rec.Status = target
	rec.UpdatedAt = now
	if reason != "" {
		rec.LastError = reason
	}
	if err := r.save(rf); err != nil {
		return nil, err
	}
	out := *rec
	return &out, nil
}

// ActivatePythonSkill restores the active script from the disabled copy
// (or, failing that, the last known-good snapshot) and transitions to
// Active, clearing LastError.
func (r *Registry) ActivatePythonSkill(id string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rf, err := r.load()
	if err != nil {
		return nil, err
	}
	rec, _ := findRecord(rf, id)
	if rec == nil {
		return nil, ferr.Lifecycle("skill %q not found", id)
	}
	if !CanTransitionTo(rec.Status, StatusActive) {
		return nil, ferr.Lifecycle("invalid transition %s -> Active for skill %q", rec.Status, id)
	}

	active := r.activeScriptPath(id)
	if _, err := os.Stat(active); err != nil {
		restored := false
		if rec.DisabledPath != "" {
			if _, err := os.Stat(rec.DisabledPath); err == nil {
				if err := copyFile(rec.DisabledPath, active); err != nil {
					return nil, err
				}
				restored = true
			}
		}
		if !restored && rec.LastKnownGoodSnapshot != "" {
			if _, err := os.Stat(rec.LastKnownGoodSnapshot); err == nil {
				if err := copyFile(rec.LastKnownGoodSnapshot, active); err != nil {
					return nil, err
				}
				restored = true
			}
		}
		if !restored {
			return nil, ferr.Lifecycle("activate %q: no active script, disabled copy, or snapshot available", id)
		}
	}

	rec.Status = StatusActive
	rec.LastError = ""
	rec.UpdatedAt = r.clock()
	if err := r.save(rf); err != nil {
		return nil, err
	}
	out := *rec
	return &out, nil
}

// RollbackPythonSkill is a privileged recovery operation: it requires a
// snapshot to exist, copies it back over the active script, and forces
// Status=Active regardless of the current state, bypassing the normal
// transition guards.
func (r *Registry) RollbackPythonSkill(id string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rf, err := r.load()
	if err != nil {
		return nil, err
	}
	rec, _ := findRecord(rf, id)
	if rec == nil {
		return nil, ferr.Lifecycle("skill %q not found", id)
	}
	snapshot, err := r.latestSnapshot(id)
	if err != nil {
		return nil, err
	}
	if snapshot == "" {
		return nil, ferr.Lifecycle("rollback %q: no snapshot available", id)
	}
	if err := copyFile(snapshot, r.activeScriptPath(id)); err != nil {
		return nil, err
	}
	rec.Status = StatusActive
	rec.UpdatedAt = r.clock()
	if err := r.save(rf); err != nil {
		return nil, err
	}
	out := *rec
	return &out, nil
}

func (r *Registry) latestSnapshot(id string) (string, error) {
	entries, err := os.ReadDir(r.snapshotsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", ferr.Lifecycle("read snapshots dir: %w", err)
	}
	prefix := id + "-"
	var best string
	for _, e := range entries {
		name := e.Name()
		if len(name) > len(prefix) && name[:len(prefix)] == prefix && name > best {
			best = name
		}
	}
	if best == "" {
		return "", nil
	}
	return filepath.Join(r.snapshotsDir, best), nil
}

// FindByScriptPath returns the record tracking path, if any, matching by
// either its active script path or its disabled-copy path.
func (r *Registry) FindByScriptPath(path string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rf, err := r.load()
	if err != nil {
		return nil, false
	}
	for i := range rf.Skills {
		if rf.Skills[i].ScriptPath == path || rf.Skills[i].DisabledPath == path {
			out := rf.Skills[i]
			return &out, true
		}
	}
	return nil, false
}

// ListPythonSkills returns the public view of every registered skill.
func (r *Registry) ListPythonSkills() ([]PublicView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rf, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make([]PublicView, 0, len(rf.Skills))
	for _, rec := range rf.Skills {
		out = append(out, PublicView{ID: rec.ID, Name: rec.Name, Version: rec.Version, Status: rec.Status, LastError: rec.LastError})
	}
	return out, nil
}
