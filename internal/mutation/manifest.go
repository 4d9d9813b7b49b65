// Package mutation maintains the authoritative, crash-safe inventory of
// every mutable self-authored artifact under the data and config roots:
// content hash, promotion state, and a monotonic version/provenance trail.
package mutation

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"lukechampine.com/blake3"

	"github.com/saorsa-labs/fae/internal/ferr"
	"github.com/saorsa-labs/fae/internal/observability"
)

// ArtifactKind classifies what a tracked path represents.
type ArtifactKind string

const (
	KindSoulMemory    ArtifactKind = "SoulMemory"
	KindOnboarding    ArtifactKind = "Onboarding"
	KindMarkdownSkill ArtifactKind = "MarkdownSkill"
	KindPythonSkill   ArtifactKind = "PythonSkill"
	KindStaging       ArtifactKind = "StagingArtifact"
	KindUnknown       ArtifactKind = "Unknown"
)

// PromotionState is the lifecycle stage of a tracked artifact.
type PromotionState string

const (
	StateStaging     PromotionState = "Staging"
	StateCanary      PromotionState = "Canary"
	StateActive      PromotionState = "Active"
	StateQuarantined PromotionState = "Quarantined"
	StateSnapshot    PromotionState = "Snapshot"
	StateRemoved     PromotionState = "Removed"
	StateUnknown     PromotionState = "Unknown"
)

// Provenance records one mutation event against an artifact.
type Provenance struct {
	Source string `json:"source"`
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
	At     int64  `json:"at"`
}

// ArtifactRecord is one entry in the manifest.
type ArtifactRecord struct {
	Path           string         `json:"path"`
	Kind           ArtifactKind   `json:"kind"`
	PromotionState PromotionState `json:"promotion_state"`
	Version        int64          `json:"version"`
	DigestBlake3   string         `json:"digest_blake3"`
	SizeBytes      int64          `json:"size_bytes"`
	Exists         bool           `json:"exists"`
	CreatedAt      int64          `json:"created_at"`
	UpdatedAt      int64          `json:"updated_at"`
	CreatedBy      string         `json:"created_by"`
	LastMutation   Provenance     `json:"last_mutation"`
}

// Manifest is the in-memory, on-disk-backed inventory of artifacts, keyed
// by stable forward-slash path.
type Manifest struct {
	Records map[string]*ArtifactRecord `json:"records"`
}

// StatusResolver answers "what promotion state should this skill path be
// in right now", given the markdown or python skill registry. Passing nil
// causes sync to classify every skill path as Unknown.
type StatusResolver interface {
	StateForSkillPath(path string) (PromotionState, bool)
}

// Roots names the directories sync() rescans, rooted at data/config.
type Roots struct {
	DataRoot       string
	ConfigRoot     string
	SoulPath       string
	OnboardingPath string
	SkillsDir      string
	PythonSkillsDir string
	StagingDirs    []string
}

// Sync rescans roots, reconciles with the manifest previously loaded from
// manifestPath (or starts empty), and atomically writes the result back.
// Hashing, classification, and state derivation are pure functions of
// filesystem state, so a crash and restart converge to the same manifest.
func Sync(manifestPath string, roots Roots, resolver StatusResolver, eventSource string, log *observability.Logger) (*Manifest, error) {
	m, err := Read(manifestPath, log)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	now := time.Now().Unix()

	walk := func(root string, classify func(relPath string) ArtifactKind) error {
		if root == "" {
			return nil
		}
		info, err := os.Lstat(root)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if !info.IsDir() {
			return syncFile(m, root, root, classify(""), resolver, eventSource, now, seen, log)
		}
		return walkStable(root, func(path string, d fs.DirEntry) error {
			rel, _ := filepath.Rel(root, path)
			return syncFile(m, path, root, classify(rel), resolver, eventSource, now, seen, log)
		})
	}

	if roots.SoulPath != "" {
		if err := walk(roots.SoulPath, func(string) ArtifactKind { return KindSoulMemory }); err != nil {
			log.Warn("mutation sync soul path failed", "err", err)
		}
	}
	if roots.OnboardingPath != "" {
		if err := walk(roots.OnboardingPath, func(string) ArtifactKind { return KindOnboarding }); err != nil {
			log.Warn("mutation sync onboarding path failed", "err", err)
		}
	}
	if err := walk(roots.SkillsDir, func(string) ArtifactKind { return KindMarkdownSkill }); err != nil {
		log.Warn("mutation sync skills dir failed", "err", err)
	}
	if err := walk(roots.PythonSkillsDir, func(string) ArtifactKind { return KindPythonSkill }); err != nil {
		log.Warn("mutation sync python skills dir failed", "err", err)
	}
	for _, dir := range roots.StagingDirs {
		if err := walk(dir, func(string) ArtifactKind { return KindStaging }); err != nil {
			log.Warn("mutation sync staging dir failed", "err", err)
		}
	}

	for path, rec := range m.Records {
		if seen[path] {
			continue
		}
		if rec.Exists {
			rec.Exists = false
			rec.PromotionState = StateRemoved
			rec.Version++
			rec.UpdatedAt = now
			rec.LastMutation = Provenance{Source: eventSource, Action: "removed", At: now}
		}
	}

	if err := write(manifestPath, m); err != nil {
		return nil, err
	}
	log.ManifestEvent("sync", manifestPath, "records", len(m.Records), "source", eventSource)
	return m, nil
}

func syncFile(m *Manifest, path, root string, kind ArtifactKind, resolver StatusResolver, eventSource string, now int64, seen map[string]bool, log *observability.Logger) error {
	key := StableKey(path)
	seen[key] = true

	digest, size, err := hashFile(path)
	if err != nil {
		log.Warn("mutation sync: hash failed", "path", path, "err", err)
		return nil
	}

	state := StateUnknown
	if strings.Contains(filepath.ToSlash(path), "/staging/") || kind == KindStaging {
		state = StateStaging
	} else if resolver != nil {
		if s, ok := resolver.StateForSkillPath(path); ok {
			state = s
		}
	}

	existing, ok := m.Records[key]
	if !ok {
		m.Records[key] = &ArtifactRecord{
			Path: key, Kind: kind, PromotionState: state, Version: 1,
			DigestBlake3: digest, SizeBytes: size, Exists: true,
			CreatedAt: now, UpdatedAt: now, CreatedBy: eventSource,
			LastMutation: Provenance{Source: eventSource, Action: "sync", At: now},
		}
		return nil
	}

	changed := existing.DigestBlake3 != digest || existing.SizeBytes != size ||
		existing.Kind != kind || existing.PromotionState != state || !existing.Exists
	if changed {
		existing.DigestBlake3 = digest
		existing.SizeBytes = size
		existing.Kind = kind
		existing.PromotionState = state
		existing.Exists = true
		existing.Version++
		existing.UpdatedAt = now
		existing.LastMutation = Provenance{Source: eventSource, Action: "sync", At: now}
	}
	return nil
}

// StableKey normalizes an absolute path into the manifest's stable,
// forward-slash-separated key form.
func StableKey(path string) string {
	return filepath.ToSlash(path)
}

// walkStable walks dir in stable lexicographic order, skipping symlinks.
// A directory's files are visited before its subdirectories, and each
// subdirectory is walked completely before the next one (depth-first).
func walkStable(dir string, fn func(path string, d fs.DirEntry) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var subdirs []string
	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			continue
		}
		if e.IsDir() {
			subdirs = append(subdirs, full)
			continue
		}
		if err := fn(full, e); err != nil {
			return err
		}
	}
	for _, sub := range subdirs {
		if err := walkStable(sub, fn); err != nil {
			return err
		}
	}
	return nil
}

func hashFile(path string) (digestHex string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Summary is the result of summarize().
type Summary struct {
	ArtifactCount   int    `json:"artifact_count"`
	TombstonedCount int    `json:"tombstoned_count"`
	TotalBytes      int64  `json:"total_bytes"`
	TotalSizeHuman  string `json:"total_size_human"`
	UpdatedAtSecs   int64  `json:"updated_at_secs"`
}

// Summarize returns aggregate counters over the manifest, including a
// human-readable total size of every live (non-Removed) artifact.
func (m *Manifest) Summarize() Summary {
	s := Summary{}
	var latest int64
	for _, rec := range m.Records {
		s.ArtifactCount++
		if rec.PromotionState == StateRemoved {
			s.TombstonedCount++
			continue
		}
		s.TotalBytes += rec.SizeBytes
		if rec.UpdatedAt > latest {
			latest = rec.UpdatedAt
		}
	}
	s.UpdatedAtSecs = latest
	s.TotalSizeHuman = humanize.Bytes(uint64(s.TotalBytes))
	return s
}

// Read loads the manifest at path; a missing or malformed file resets to
// an empty manifest (warn-logged, never a startup failure).
func Read(path string, log *observability.Logger) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{Records: map[string]*ArtifactRecord{}}, nil
		}
		return nil, ferr.IO("read manifest %q: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		if log != nil {
			log.Warn("mutation manifest malformed, resetting to empty", "path", path, "err", err)
		}
		return &Manifest{Records: map[string]*ArtifactRecord{}}, nil
	}
	if m.Records == nil {
		m.Records = map[string]*ArtifactRecord{}
	}
	return &m, nil
}

// write performs the atomic temp-file + rename + fsync durability pattern.
func write(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return ferr.IO("marshal manifest: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ferr.IO("create manifest dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return ferr.IO("create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return ferr.IO("write temp manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return ferr.IO("fsync temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return ferr.IO("close temp manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return ferr.IO("rename manifest into place: %w", err)
	}
	return nil
}
