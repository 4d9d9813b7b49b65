package skills

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/saorsa-labs/fae/internal/ferr"
)

// ManagedSkillRecord is the persisted view of one markdown-only managed
// skill. Field-for-field identical to Record (spec.md's ManagedSkillRecord
// and PythonSkillRecord share one shape) but tracked in its own
// registry.json, since markdown skills and Python skills are separate
// families that merely share the same promotion state machine.
type ManagedSkillRecord struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	Version               string `json:"version"`
	Status                Status `json:"status"`
	ScriptPath            string `json:"script_path"`
	DisabledPath          string `json:"disabled_path,omitempty"`
	LastKnownGoodSnapshot string `json:"last_known_good_snapshot,omitempty"`
	LastError             string `json:"last_error,omitempty"`
	InstalledAt           int64  `json:"installed_at"`
	UpdatedAt             int64  `json:"updated_at"`
}

type managedRegistryFile struct {
	Version int                  `json:"version"`
	Skills  []ManagedSkillRecord `json:"skills"`
}

// ManagedRegistry manages the markdown-skill family's registry.json plus its
// active, disabled, and snapshot directories, mirroring Registry's Python
// lifecycle but operating on whole `.md` files instead of manifest+script
// package directories.
type ManagedRegistry struct {
	mu           sync.Mutex
	registryPath string
	skillsRoot   string // <root>/<id>.md lives here
	snapshotsDir string
	disabledDir  string
	clock        func() int64
}

// NewManagedRegistry builds a ManagedRegistry rooted at the given paths.
func NewManagedRegistry(registryPath, skillsRoot, snapshotsDir, disabledDir string) *ManagedRegistry {
	return &ManagedRegistry{
		registryPath: registryPath,
		skillsRoot:   skillsRoot,
		snapshotsDir: snapshotsDir,
		disabledDir:  disabledDir,
		clock:        func() int64 { return time.Now().Unix() },
	}
}

func (r *ManagedRegistry) load() (*managedRegistryFile, error) {
	data, err := os.ReadFile(r.registryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &managedRegistryFile{Version: 1}, nil
		}
		return nil, ferr.Lifecycle("read managed registry %q: %w", r.registryPath, err)
	}
	var rf managedRegistryFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, ferr.Lifecycle("parse managed registry %q: %w", r.registryPath, err)
	}
	return &rf, nil
}

func (r *ManagedRegistry) save(rf *managedRegistryFile) error {
	sort.Slice(rf.Skills, func(i, j int) bool { return rf.Skills[i].ID < rf.Skills[j].ID })
	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return ferr.Lifecycle("marshal managed registry: %w", err)
	}
	dir := filepath.Dir(r.registryPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ferr.Lifecycle("create managed registry dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".managed-registry-*.tmp")
	if err != nil {
		return ferr.Lifecycle("create temp managed registry: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return ferr.Lifecycle("write temp managed registry: %w", err)
	}
	tmp.Close()
	if err := os.Rename(tmpPath, r.registryPath); err != nil {
		os.Remove(tmpPath)
		return ferr.Lifecycle("rename managed registry into place: %w", err)
	}
	return nil
}

func findManagedRecord(rf *managedRegistryFile, id string) (*ManagedSkillRecord, int) {
	for i := range rf.Skills {
		if rf.Skills[i].ID == id {
			return &rf.Skills[i], i
		}
	}
	return nil, -1
}

func (r *ManagedRegistry) activeDocPath(id string) string {
	return filepath.Join(r.skillsRoot, id+".md")
}

// slugifyID derives a registry id from a markdown skill's base filename:
// lowercased, extension stripped, non-alphanumeric runs collapsed to a
// single dash.
func slugifyID(mdPath string) string {
	base := strings.TrimSuffix(filepath.Base(mdPath), filepath.Ext(mdPath))
	base = strings.ToLower(base)
	var b strings.Builder
	lastDash := false
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

// headingName extracts the text of the first "# " Markdown heading in
// content, falling back to fallback when none is found.
func headingName(content, fallback string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return fallback
}

// RegisterManagedSkill adopts an existing markdown skill file already on
// disk under skillsRoot into the lifecycle: derives id from its filename
// and name from its first heading, then upserts a Pending record pointing
// at it. Re-registering a known id refreshes name/updated_at but leaves
// version and status untouched.
func (r *ManagedRegistry) RegisterManagedSkill(mdPath string) (*ManagedSkillRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	content, err := os.ReadFile(mdPath)
	if err != nil {
		return nil, ferr.Lifecycle("read managed skill %s: %w", mdPath, err)
	}
	id := slugifyID(mdPath)
	if id == "" {
		return nil, ferr.Lifecycle("managed skill %s: could not derive id", mdPath)
	}
	name := headingName(string(content), id)

	rf, err := r.load()
	if err != nil {
		return nil, err
	}
	now := r.clock()
	rec, _ := findManagedRecord(rf, id)
	if rec == nil {
		rf.Skills = append(rf.Skills, ManagedSkillRecord{
			ID: id, Version: "1", Status: StatusPending,
			ScriptPath: mdPath, InstalledAt: now,
		})
		rec = &rf.Skills[len(rf.Skills)-1]
	}
	rec.Name = name
	rec.ScriptPath = mdPath
	rec.UpdatedAt = now
	if err := r.save(rf); err != nil {
		return nil, err
	}
	out := *rec
	return &out, nil
}

func (r *ManagedRegistry) snapshot(id, path string, now int64) error {
	if err := os.MkdirAll(r.snapshotsDir, 0o755); err != nil {
		return ferr.Lifecycle("create managed snapshots dir: %w", err)
	}
	dest := filepath.Join(r.snapshotsDir, fmt.Sprintf("%s-%d.md", id, now))
	return moveOrCopy(path, dest, true)
}

// AdvanceStatus validates the transition via CanTransitionTo before
// mutating the registry; on an invalid transition, nothing changes.
func (r *ManagedRegistry) AdvanceStatus(id string, target Status) (*ManagedSkillRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rf, err := r.load()
	if err != nil {
		return nil, err
	}
	rec, _ := findManagedRecord(rf, id)
	if rec == nil {
		return nil, ferr.Lifecycle("managed skill %q not found", id)
	}
	if !CanTransitionTo(rec.Status, target) {
		return nil, ferr.Lifecycle("invalid transition %s -> %s for managed skill %q", rec.Status, target, id)
	}
	rec.Status = target
	rec.UpdatedAt = r.clock()
	if err := r.save(rf); err != nil {
		return nil, err
	}
	out := *rec
	return &out, nil
}

// DisableManagedSkill snapshots the active doc, moves it to the disabled
// directory, and transitions the skill to Disabled.
func (r *ManagedRegistry) DisableManagedSkill(id string) (*ManagedSkillRecord, error) {
	return r.deactivate(id, StatusDisabled, "")
}

// QuarantineManagedSkill is like disable but targets Quarantined and
// records the failure reason as LastError.
func (r *ManagedRegistry) QuarantineManagedSkill(id, reason string) (*ManagedSkillRecord, error) {
	return r.deactivate(id, StatusQuarantined, reason)
}

func (r *ManagedRegistry) deactivate(id string, target Status, reason string) (*ManagedSkillRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rf, err := r.load()
	if err != nil {
		return nil, err
	}
	rec, _ := findManagedRecord(rf, id)
	if rec == nil {
		return nil, ferr.Lifecycle("managed skill %q not found", id)
	}
	if !CanTransitionTo(rec.Status, target) {
		return nil, ferr.Lifecycle("invalid transition %s -> %s for managed skill %q", rec.Status, target, id)
	}

	now := r.clock()
	active := r.activeDocPath(id)
	if _, err := os.Stat(active); err == nil {
		if err := r.snapshot(id, active, now); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(r.disabledDir, 0o755); err != nil {
			return nil, ferr.Lifecycle("create managed disabled dir: %w", err)
		}
		disabledPath := filepath.Join(r.disabledDir, id+".md")
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

// ActivateManagedSkill restores the active doc from the disabled copy (or,
// failing that, the last known-good snapshot) and transitions to Active,
// clearing LastError.
func (r *ManagedRegistry) ActivateManagedSkill(id string) (*ManagedSkillRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rf, err := r.load()
	if err != nil {
		return nil, err
	}
	rec, _ := findManagedRecord(rf, id)
	if rec == nil {
		return nil, ferr.Lifecycle("managed skill %q not found", id)
	}
	if !CanTransitionTo(rec.Status, StatusActive) {
		return nil, ferr.Lifecycle("invalid transition %s -> Active for managed skill %q", rec.Status, id)
	}

	active := r.activeDocPath(id)
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
			return nil, ferr.Lifecycle("activate %q: no active doc, disabled copy, or snapshot available", id)
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

// RollbackManagedSkill is a privileged recovery operation: it requires a
// snapshot to exist, copies it back over the active doc, and forces
// Status=Active regardless of the current state, bypassing the normal
// transition guards.
func (r *ManagedRegistry) RollbackManagedSkill(id string) (*ManagedSkillRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rf, err := r.load()
	if err != nil {
		return nil, err
	}
	rec, _ := findManagedRecord(rf, id)
	if rec == nil {
		return nil, ferr.Lifecycle("managed skill %q not found", id)
	}
	snapshot, err := r.latestSnapshot(id)
	if err != nil {
		return nil, err
	}
	if snapshot == "" {
		return nil, ferr.Lifecycle("rollback %q: no snapshot available", id)
	}
	if err := copyFile(snapshot, r.activeDocPath(id)); err != nil {
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

func (r *ManagedRegistry) latestSnapshot(id string) (string, error) {
	entries, err := os.ReadDir(r.snapshotsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", ferr.Lifecycle("read managed snapshots dir: %w", err)
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

// ListManagedSkills returns the public view of every registered markdown skill.
func (r *ManagedRegistry) ListManagedSkills() ([]PublicView, error) {
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

// FindByScriptPath returns the record tracking path, if any, matching by
// either its active doc path or its disabled-copy path.
func (r *ManagedRegistry) FindByScriptPath(path string) (*ManagedSkillRecord, bool) {
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
