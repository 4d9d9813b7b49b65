// Package discovery answers "does a skill already exist for this intent?"
// via semantic KNN over skill descriptions, backed by SQLite.
//
// The original design used a sqlite-vec virtual table for the embedding
// column; no such extension exists for the pure-Go modernc.org/sqlite
// driver used here, so embeddings are stored as an ordinary BLOB column
// and KNN is computed in Go (internal/embedding.TopKByCosine) instead of
// inside SQLite.
package discovery

import (
	"bufio"
	"database/sql"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/saorsa-labs/fae/internal/embedding"
	"github.com/saorsa-labs/fae/internal/ferr"
	"github.com/saorsa-labs/fae/internal/observability"
	"github.com/saorsa-labs/fae/internal/skills"
)

// Source identifies where a discoverable skill's text came from.
type Source string

const (
	SourcePython   Source = "python"
	SourceMarkdown Source = "markdown"
	SourceBuiltin  Source = "builtin"
)

// Result is one scored discovery hit.
type Result struct {
	SkillID     string
	Name        string
	Description string
	Source      Source
	Score       float64
}

const schema = `
CREATE TABLE IF NOT EXISTS skill_metadata (
	skill_id   TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	description TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT 'python',
	indexed_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS skill_embeddings (
	skill_id TEXT PRIMARY KEY,
	embedding BLOB NOT NULL
);
`

// Index is the skill discovery database.
type Index struct {
	db      *sql.DB
	metrics *observability.MetricsCollector
}

// WithMetrics attaches a collector that records Rebuild duration.
func (idx *Index) WithMetrics(m *observability.MetricsCollector) *Index {
	idx.metrics = m
	return idx
}

// Open creates or opens the discovery index at dbPath.
func Open(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, ferr.Memory("open discovery index %q: %w", dbPath, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, ferr.Memory("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, ferr.Memory("create discovery schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the database handle.
func (idx *Index) Close() error { return idx.db.Close() }

// IndexSkill upserts skill metadata and its embedding. The embedding table
// has no native UPSERT support in the original design (sqlite-vec), so the
// same delete-then-insert sequence is kept here even though it is no
// longer strictly required by a plain BLOB column.
func (idx *Index) IndexSkill(id, name, description string, source Source, vec []float32, now int64) error {
	if err := embedding.ValidateDim(vec); err != nil {
		return ferr.Memory("index_skill: %w", err)
	}
	if _, err := idx.db.Exec(`INSERT INTO skill_metadata (skill_id, name, description, source, indexed_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(skill_id) DO UPDATE SET name=excluded.name, description=excluded.description,
			source=excluded.source, indexed_at=excluded.indexed_at`,
		id, name, description, string(source), now); err != nil {
		return ferr.Memory("index_skill metadata: %w", err)
	}
	if _, err := idx.db.Exec("DELETE FROM skill_embeddings WHERE skill_id = ?", id); err != nil {
		return ferr.Memory("index_skill delete embedding: %w", err)
	}
	if _, err := idx.db.Exec("INSERT INTO skill_embeddings (skill_id, embedding) VALUES (?, ?)", id, encodeVec(vec)); err != nil {
		return ferr.Memory("index_skill insert embedding: %w", err)
	}
	return nil
}

// RemoveSkill deletes id from both tables; a no-op if absent.
func (idx *Index) RemoveSkill(id string) error {
	if _, err := idx.db.Exec("DELETE FROM skill_metadata WHERE skill_id = ?", id); err != nil {
		return ferr.Memory("remove_skill metadata: %w", err)
	}
	if _, err := idx.db.Exec("DELETE FROM skill_embeddings WHERE skill_id = ?", id); err != nil {
		return ferr.Memory("remove_skill embedding: %w", err)
	}
	return nil
}

// IsIndexed reports whether id currently has metadata.
func (idx *Index) IsIndexed(id string) (bool, error) {
	var count int
	if err := idx.db.QueryRow("SELECT COUNT(*) FROM skill_metadata WHERE skill_id = ?", id).Scan(&count); err != nil {
		return false, ferr.Memory("is_indexed: %w", err)
	}
	return count > 0, nil
}

// IndexedCount returns the number of indexed skills.
func (idx *Index) IndexedCount() (int, error) {
	var count int
	if err := idx.db.QueryRow("SELECT COUNT(*) FROM skill_metadata").Scan(&count); err != nil {
		return 0, ferr.Memory("indexed_count: %w", err)
	}
	return count, nil
}

// Search performs KNN over the indexed embeddings and returns up to limit
// results, highest score first; ties break by ascending skill_id. Score is
// the cosine similarity between queryEmbedding and the stored embedding; it
// is not derived from L2 distance.
func (idx *Index) Search(queryEmbedding []float32, limit int) ([]Result, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := embedding.ValidateDim(queryEmbedding); err != nil {
		return nil, ferr.Memory("search: %w", err)
	}

	rows, err := idx.db.Query("SELECT skill_id, embedding FROM skill_embeddings")
	if err != nil {
		return nil, ferr.Memory("search load embeddings: %w", err)
	}
	candidates := map[string][]float32{}
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return nil, err
		}
		candidates[id] = decodeVec(blob)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	scored := embedding.TopKByCosine(queryEmbedding, candidates, limit)
	out := make([]Result, 0, len(scored))
	for _, s := range scored {
		var name, description, source string
		err := idx.db.QueryRow("SELECT name, description, source FROM skill_metadata WHERE skill_id = ?", s.ID).
			Scan(&name, &description, &source)
		if err != nil {
			continue
		}
		out = append(out, Result{SkillID: s.ID, Name: name, Description: description, Source: Source(source), Score: s.Score})
	}
	return out, nil
}

func encodeVec(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVec(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// Rebuilder produces embeddings for discovery text; a thin seam so
// rebuild() can be tested without a real embedding engine.
type Rebuilder interface {
	Embed(text string) ([]float32, error)
}

// builtinCatalog is the baked-in skill catalog, grounded on the original's
// hardcoded builtin set (apple-ecosystem, canvas, desktop, external-llm,
// uv-scripts). Only the name/first-paragraph-of-description pair matters
// for discovery purposes.
var builtinCatalog = map[string]string{
	"apple-ecosystem": "Apple Ecosystem\n\nIntegrates with Apple device APIs: Reminders, Notes, Messages, and Shortcuts, for users on macOS and iOS.",
	"canvas":          "Canvas\n\nRenders interactive on-screen widgets and visualizations the assistant can draw to communicate richer information than text.",
	"desktop":         "Desktop\n\nControls desktop-level actions: window focus, clipboard access, and application launching on the host machine.",
	"external-llm":    "External LLM\n\nDelegates a sub-task to an external large language model provider when the local model is insufficient.",
	"uv-scripts":      "UV Scripts\n\nRuns PEP 723 single-file Python scripts under uv, the fast Python package and project manager.",
}

// Rebuild scans skillsDir (markdown skills) and pythonSkillsDir (python
// skill packages), plus the fixed builtin catalog, embeds each
// description, and re-indexes everything. Per-skill embedding failures
// are logged and skipped rather than aborting the whole rebuild.
func (idx *Index) Rebuild(engine Rebuilder, skillsDir, pythonSkillsDir string, now int64, log *observability.Logger) error {
	if idx.metrics != nil {
		start := time.Now()
		defer func() {
			idx.metrics.Record(observability.MetricLatency, float64(time.Since(start).Milliseconds()), observability.Labels{"op": "discovery_rebuild"})
		}()
	}
	for id, content := range builtinCatalog {
		name, desc := extractBuiltinText(id, content)
		if err := idx.indexOne(engine, id, name, desc, SourceBuiltin, now, log); err != nil {
			log.Warn("discovery rebuild: builtin skill failed", "skill_id", id, "err", err)
		}
	}

	if entries, err := os.ReadDir(pythonSkillsDir); err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			dir := filepath.Join(pythonSkillsDir, e.Name())
			name, desc, ok := extractPythonSkillText(dir)
			if !ok {
				continue
			}
			if err := idx.indexOne(engine, e.Name(), name, desc, SourcePython, now, log); err != nil {
				log.Warn("discovery rebuild: python skill failed", "skill_id", e.Name(), "err", err)
			}
		}
	}

	if entries, err := os.ReadDir(skillsDir); err == nil {
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), ".md") {
				continue
			}
			path := filepath.Join(skillsDir, e.Name())
			name, desc, ok := extractMarkdownSkillText(path)
			if !ok {
				continue
			}
			id := strings.TrimSuffix(e.Name(), ".md")
			if err := idx.indexOne(engine, id, name, desc, SourceMarkdown, now, log); err != nil {
				log.Warn("discovery rebuild: markdown skill failed", "skill_id", id, "err", err)
			}
		}
	}
	return nil
}

func (idx *Index) indexOne(engine Rebuilder, id, name, desc string, source Source, now int64, log *observability.Logger) error {
	vec, err := engine.Embed(desc)
	if err != nil {
		return err
	}
	return idx.IndexSkill(id, name, desc, source, vec, now)
}

func extractBuiltinText(id, content string) (name, description string) {
	lines := strings.SplitN(content, "\n", 2)
	name = lines[0]
	body := ""
	if len(lines) > 1 {
		body = lines[1]
	}
	return name, extractFirstParagraph(body)
}

func extractPythonSkillText(dir string) (name, description string, ok bool) {
	m, err := skills.LoadManifest(dir)
	if err != nil {
		return "", "", false
	}
	return m.Name, m.Description, true
}

func extractMarkdownSkillText(path string) (name, description string, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", false
	}
	defer f.Close()
	name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteString("\n")
	}
	return name, extractFirstParagraph(sb.String()), true
}

// extractFirstParagraph returns the first non-heading paragraph of body,
// truncated to 500 characters at a word boundary.
func extractFirstParagraph(body string) string {
	lines := strings.Split(body, "\n")
	var paragraph []string
	started := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if started {
				break
			}
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			if started {
				break
			}
			continue
		}
		started = true
		paragraph = append(paragraph, trimmed)
	}
	text := strings.Join(paragraph, " ")
	if len(text) <= 500 {
		return text
	}
	truncated := text[:500]
	if idx := strings.LastIndex(truncated, " "); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated
}

// sortResultsDesc sorts results by descending score, breaking ties by
// ascending SkillID.
func sortResultsDesc(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].SkillID < results[j].SkillID
	})
}
