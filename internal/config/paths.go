// Package config resolves the on-disk layout Fae uses for data, config and
// skills directories, driven by environment variables with sensible
// per-user defaults.
package config

import (
	"os"
	"path/filepath"
)

// Paths holds the resolved root directories for a Fae runtime instance.
type Paths struct {
	Data          string // FAE_DATA_DIR, e.g. ~/.fae
	Config        string // FAE_CONFIG_DIR, e.g. ~/.fae/config
	Skills        string // FAE_SKILLS_DIR, e.g. ~/.fae/skills
	PythonSkills  string // FAE_PYTHON_SKILLS_DIR, e.g. ~/.fae/python-skills
}

// Load resolves Paths from the environment, falling back to
// "$HOME/.fae/..." defaults when a variable is unset.
func Load() Paths {
	home, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(home, ".fae")

	data := envOr("FAE_DATA_DIR", defaultRoot)
	return Paths{
		Data:         data,
		Config:       envOr("FAE_CONFIG_DIR", filepath.Join(data, "config")),
		Skills:       envOr("FAE_SKILLS_DIR", filepath.Join(data, "skills")),
		PythonSkills: envOr("FAE_PYTHON_SKILLS_DIR", filepath.Join(data, "python-skills")),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// EnsureDirs creates every directory named by p that does not yet exist.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.Data, p.Config, p.Skills, p.PythonSkills} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// DBPath returns the path to the main SQLite database.
func (p Paths) DBPath() string {
	return filepath.Join(p.Data, "fae.db")
}

// SoulPath returns the path to the identity document.
func (p Paths) SoulPath() string {
	return filepath.Join(p.Data, "SOUL.md")
}

// SoulVersionsDir returns the directory holding historical SOUL.md snapshots.
func (p Paths) SoulVersionsDir() string {
	return filepath.Join(p.Data, "soul_versions")
}

// MutationManifestPath returns the path to the mutation manifest file.
func (p Paths) MutationManifestPath() string {
	return filepath.Join(p.Data, "mutation_manifest.json")
}

// SchedulerLeasePath returns the path to the leader lease file.
func (p Paths) SchedulerLeasePath() string {
	return filepath.Join(p.Config, "scheduler_leader.json")
}

// SchedulerRunKeysPath returns the path to the run-key dedupe ledger.
func (p Paths) SchedulerRunKeysPath() string {
	return filepath.Join(p.Config, "scheduler_runkeys.jsonl")
}

// RuntimeAuditPath returns the path to the runtime audit log.
func (p Paths) RuntimeAuditPath() string {
	return filepath.Join(p.Config, "runtime_audit.jsonl")
}

// SkillRegistryPath returns the path to the Python skill registry state file.
func (p Paths) SkillRegistryPath() string {
	return filepath.Join(p.Data, ".state", "registry.json")
}

// MarkdownSkillRegistryPath returns the path to the markdown skill family's
// registry state file, kept separate from the Python family's per spec.
func (p Paths) MarkdownSkillRegistryPath() string {
	return filepath.Join(p.Data, ".state", "managed_registry.json")
}

// SkillSnapshotsDir returns the directory holding skill rollback snapshots.
func (p Paths) SkillSnapshotsDir() string {
	return filepath.Join(p.Data, ".state", "snapshots")
}

// SkillDisabledDir returns the directory holding disabled-skill backups.
func (p Paths) SkillDisabledDir() string {
	return filepath.Join(p.Data, ".state", "disabled")
}

// LegacyMemoryDir returns the directory that held the pre-SQLite JSONL memory
// store (records.jsonl, audit.jsonl), kept around only so a first run against
// an old data directory can detect and migrate it.
func (p Paths) LegacyMemoryDir() string {
	return filepath.Join(p.Data, "memory")
}
