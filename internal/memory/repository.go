package memory

import (
	"database/sql"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/saorsa-labs/fae/internal/embedding"
	"github.com/saorsa-labs/fae/internal/ferr"
	"github.com/saorsa-labs/fae/internal/observability"
)

// Kind enumerates the atomic-fact categories a MemoryRecord can carry.
type Kind string

const (
	KindProfile    Kind = "Profile"
	KindFact       Kind = "Fact"
	KindEvent      Kind = "Event"
	KindPerson     Kind = "Person"
	KindInterest   Kind = "Interest"
	KindCommitment Kind = "Commitment"
	KindEpisode    Kind = "Episode"
)

// Status is the lifecycle state of a MemoryRecord.
type Status string

const (
	StatusActive     Status = "Active"
	StatusSuperseded Status = "Superseded"
	StatusTombstoned Status = "Tombstoned"
)

// Record is one atomic fact in the memory repository.
type Record struct {
	ID              string
	Kind            Kind
	Status          Status
	Text            string
	Confidence      float64
	SourceTurnID    string
	Tags            []string
	Supersedes      string
	CreatedAt       int64
	UpdatedAt       int64
	ImportanceScore *float64
	StaleAfterSecs  *int64
	Metadata        map[string]string
}

// AuditAction enumerates the kinds of mutation recorded in the audit trail.
type AuditAction string

const (
	ActionInsert    AuditAction = "insert"
	ActionPatch     AuditAction = "patch"
	ActionSupersede AuditAction = "supersede"
	ActionTombstone AuditAction = "tombstone"
)

// AuditEntry is one append-only audit-log line.
type AuditEntry struct {
	RecordID string
	Action   AuditAction
	Before   *Record
	After    *Record
	Note     string
	At       int64
}

// Filter narrows a search by kind and/or tags.
type Filter struct {
	Kind Kind
	Tags []string
}

// embeddableKinds are the record kinds that get an embedding on insert.
var embeddableKinds = map[Kind]bool{
	KindFact:       true,
	KindEvent:      true,
	KindPerson:     true,
	KindInterest:   true,
	KindCommitment: true,
	KindEpisode:    true,
	KindProfile:    true,
}

// Repository is the typed record store described by the memory subsystem:
// SQLite-backed records, an audit trail, and an embedding index, all
// guarded by a single-writer lock. Record IDs are random UUIDs; record
// content is not hashed.
type Repository struct {
	mu      sync.Mutex
	db      *sql.DB
	engine  embedding.Engine
	clock   func() int64
	metrics *observability.MetricsCollector
}

// Option configures a Repository at construction time.
type Option func(*Repository)

// WithEngine attaches an embedding engine used to index Active records.
func WithEngine(e embedding.Engine) Option {
	return func(r *Repository) { r.engine = e }
}

// WithMetrics attaches a collector that records Search latency.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(r *Repository) { r.metrics = m }
}

// WithClock overrides the repository's notion of "now" (epoch seconds), for
// deterministic tests.
func WithClock(clock func() int64) Option {
	return func(r *Repository) { r.clock = clock }
}

const schema = `
CREATE TABLE IF NOT EXISTS memory_records (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	status      TEXT NOT NULL,
	text        TEXT NOT NULL,
	confidence  REAL NOT NULL,
	source_turn_id TEXT NOT NULL DEFAULT '',
	tags        TEXT NOT NULL DEFAULT '',
	supersedes  TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL,
	importance_score REAL,
	stale_after_secs INTEGER,
	metadata    TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_memory_records_kind_status ON memory_records(kind, status);

CREATE TABLE IF NOT EXISTS memory_audit (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	record_id  TEXT NOT NULL,
	action     TEXT NOT NULL,
	before     TEXT,
	after      TEXT,
	note       TEXT NOT NULL DEFAULT '',
	at         INTEGER NOT NULL,
	migration_key TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_memory_audit_migration_key ON memory_audit(migration_key) WHERE migration_key IS NOT NULL;

CREATE TABLE IF NOT EXISTS memory_embeddings (
	record_id TEXT PRIMARY KEY,
	vector    BLOB NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
	id UNINDEXED, text, tags, content='memory_records', content_rowid='rowid'
);
CREATE TRIGGER IF NOT EXISTS memory_records_ai AFTER INSERT ON memory_records BEGIN
	INSERT INTO memory_fts(rowid, id, text, tags) VALUES (new.rowid, new.id, new.text, new.tags);
END;
CREATE TRIGGER IF NOT EXISTS memory_records_ad AFTER DELETE ON memory_records BEGIN
	INSERT INTO memory_fts(memory_fts, rowid, id, text, tags) VALUES ('delete', old.rowid, old.id, old.text, old.tags);
END;
CREATE TRIGGER IF NOT EXISTS memory_records_au AFTER UPDATE ON memory_records BEGIN
	INSERT INTO memory_fts(memory_fts, rowid, id, text, tags) VALUES ('delete', old.rowid, old.id, old.text, old.tags);
	INSERT INTO memory_fts(rowid, id, text, tags) VALUES (new.rowid, new.id, new.text, new.tags);
END;
`

// Open creates or opens a SQLite-backed Repository at dbPath.
func Open(dbPath string, opts ...Option) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, ferr.Memory("open %q: %w", dbPath, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, ferr.Memory("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, ferr.Memory("create schema: %w", err)
	}
	r := &Repository{db: db, clock: func() int64 { return time.Now().Unix() }}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close releases the underlying database handle.
func (r *Repository) Close() error { return r.db.Close() }

// InsertRecord creates a new Active record, audits it, and (if an engine is
// attached and the kind is embeddable) indexes its embedding.
func (r *Repository) InsertRecord(kind Kind, text string, confidence float64, sourceTurnID string, tags []string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	rec := &Record{
		ID:           uuid.New().String(),
		Kind:         kind,
		Status:       StatusActive,
		Text:         text,
		Confidence:   clamp01(confidence),
		SourceTurnID: sourceTurnID,
		Tags:         lowercaseTags(tags),
		CreatedAt:    now,
		UpdatedAt:    now,
		Metadata:     map[string]string{},
	}
	if err := r.insertRow(rec); err != nil {
		return nil, err
	}
	if err := r.appendAudit(AuditEntry{RecordID: rec.ID, Action: ActionInsert, After: rec, At: now}); err != nil {
		return nil, err
	}
	if r.engine != nil && embeddableKinds[kind] {
		if err := r.indexEmbedding(rec.ID, rec.Text); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// PatchRecord supersedes id with a new record carrying newText, rather than
// editing in place, and emits both a patch and a supersede audit entry.
func (r *Repository) PatchRecord(id, newText, note string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, err := r.getRow(id)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, ferr.Memory("patch_record: record %q not found", id)
	}

	now := r.clock()
	before := *old
	old.Status = StatusSuperseded
	old.UpdatedAt = now
	if err := r.updateRow(old); err != nil {
		return nil, err
	}

	next := &Record{
		ID:           uuid.New().String(),
		Kind:         old.Kind,
		Status:       StatusActive,
		Text:         newText,
		Confidence:   old.Confidence,
		SourceTurnID: old.SourceTurnID,
		Tags:         old.Tags,
		Supersedes:   old.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
		Metadata:     old.Metadata,
	}
	if err := r.insertRow(next); err != nil {
		return nil, err
	}
	if err := r.appendAudit(AuditEntry{RecordID: next.ID, Action: ActionPatch, Before: &before, After: next, Note: note, At: now}); err != nil {
		return nil, err
	}
	if err := r.appendAudit(AuditEntry{RecordID: old.ID, Action: ActionSupersede, Before: &before, After: old, Note: note, At: now}); err != nil {
		return nil, err
	}
	if r.engine != nil && embeddableKinds[next.Kind] {
		if err := r.deleteEmbedding(old.ID); err != nil {
			return nil, err
		}
		if err := r.indexEmbedding(next.ID, next.Text); err != nil {
			return nil, err
		}
	}
	return next, nil
}

// TombstoneRecord marks id as Tombstoned and removes its embedding row.
func (r *Repository) TombstoneRecord(id, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, err := r.getRow(id)
	if err != nil {
		return err
	}
	if old == nil {
		return ferr.Memory("tombstone_record: record %q not found", id)
	}
	before := *old
	now := r.clock()
	old.Status = StatusTombstoned
	old.UpdatedAt = now
	if err := r.updateRow(old); err != nil {
		return err
	}
	if err := r.deleteEmbedding(id); err != nil {
		return err
	}
	return r.appendAudit(AuditEntry{RecordID: id, Action: ActionTombstone, Before: &before, After: old, Note: note, At: now})
}

// ListRecords returns Active records only.
func (r *Repository) ListRecords() ([]Record, error) {
	return r.listRecords(false)
}

// ListAllRecords returns every record regardless of status, for migration
// and diagnostic use.
func (r *Repository) ListAllRecords() ([]Record, error) {
	return r.listRecords(true)
}

func (r *Repository) listRecords(includeAll bool) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := "SELECT id, kind, status, text, confidence, source_turn_id, tags, supersedes, created_at, updated_at, importance_score, stale_after_secs, metadata FROM memory_records"
	if !includeAll {
		query += " WHERE status = 'Active'"
	}
	query += " ORDER BY created_at ASC"

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, ferr.Memory("list_records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// SearchResult pairs a record with its similarity score.
type SearchResult struct {
	Record Record
	Score  float64
}

// minSimilarity is the floor below which search results are dropped.
const minSimilarity = 0.15

// Search embeds queryText, ranks Active records by cosine similarity, and
// returns the top k above minSimilarity, optionally filtered by kind/tags.
func (r *Repository) Search(queryText string, k int, filter Filter) ([]SearchResult, error) {
	if r.metrics != nil {
		start := time.Now()
		defer func() {
			r.metrics.Record(observability.MetricLatency, float64(time.Since(start).Milliseconds()), observability.Labels{"op": "memory_search"})
		}()
	}
	if r.engine == nil {
		return nil, ferr.Memory("search: no embedding engine attached")
	}
	queryVec, err := r.engine.Embed(queryText)
	if err != nil {
		return nil, ferr.Memory("search: embed query: %w", err)
	}
	if err := embedding.ValidateDim(queryVec); err != nil {
		return nil, ferr.Memory("search: %w", err)
	}

	r.mu.Lock()
	candidates, recs, err := r.loadEmbeddingCandidates(filter)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ranked := embedding.TopKByCosine(queryVec, candidates, 0)
	var out []SearchResult
	for _, s := range ranked {
		if s.Score < minSimilarity {
			continue
		}
		out = append(out, SearchResult{Record: recs[s.ID], Score: s.Score})
		if k > 0 && len(out) >= k {
			break
		}
	}
	return out, nil
}

func (r *Repository) loadEmbeddingCandidates(filter Filter) (map[string][]float32, map[string]Record, error) {
	query := "SELECT id, kind, status, text, confidence, source_turn_id, tags, supersedes, created_at, updated_at, importance_score, stale_after_secs, metadata FROM memory_records WHERE status = 'Active'"
	var args []any
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, nil, ferr.Memory("search: load candidates: %w", err)
	}
	defer rows.Close()

	recs := map[string]Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, nil, err
		}
		if len(filter.Tags) > 0 && !hasAllTags(rec.Tags, filter.Tags) {
			continue
		}
		recs[rec.ID] = *rec
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	candidates := map[string][]float32{}
	erows, err := r.db.Query("SELECT record_id, vector FROM memory_embeddings")
	if err != nil {
		return nil, nil, ferr.Memory("search: load embeddings: %w", err)
	}
	defer erows.Close()
	for erows.Next() {
		var id string
		var blob []byte
		if err := erows.Scan(&id, &blob); err != nil {
			return nil, nil, err
		}
		if _, ok := recs[id]; !ok {
			continue
		}
		candidates[id] = decodeVector(blob)
	}
	return candidates, recs, erows.Err()
}

func hasAllTags(have, want []string) bool {
	set := map[string]bool{}
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[strings.ToLower(t)] {
			return false
		}
	}
	return true
}

func (r *Repository) indexEmbedding(recordID, text string) error {
	vec, err := r.engine.Embed(text)
	if err != nil {
		return ferr.Memory("index embedding: %w", err)
	}
	if err := embedding.ValidateDim(vec); err != nil {
		return ferr.Memory("index embedding: %w", err)
	}
	_, err = r.db.Exec(`INSERT INTO memory_embeddings (record_id, vector) VALUES (?, ?)
		ON CONFLICT(record_id) DO UPDATE SET vector = excluded.vector`, recordID, encodeVector(vec))
	if err != nil {
		return ferr.Memory("index embedding: %w", err)
	}
	return nil
}

func (r *Repository) deleteEmbedding(recordID string) error {
	_, err := r.db.Exec("DELETE FROM memory_embeddings WHERE record_id = ?", recordID)
	if err != nil {
		return ferr.Memory("delete embedding: %w", err)
	}
	return nil
}

func (r *Repository) insertRow(rec *Record) error {
	tags := strings.Join(rec.Tags, ",")
	metaJSON, _ := json.Marshal(rec.Metadata)
	_, err := r.db.Exec(`INSERT INTO memory_records
		(id, kind, status, text, confidence, source_turn_id, tags, supersedes, created_at, updated_at, importance_score, stale_after_secs, metadata)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, string(rec.Kind), string(rec.Status), rec.Text, rec.Confidence, rec.SourceTurnID, tags, rec.Supersedes,
		rec.CreatedAt, rec.UpdatedAt, rec.ImportanceScore, rec.StaleAfterSecs, string(metaJSON))
	if err != nil {
		return ferr.Memory("insert record: %w", err)
	}
	return nil
}

func (r *Repository) updateRow(rec *Record) error {
	metaJSON, _ := json.Marshal(rec.Metadata)
	_, err := r.db.Exec(`UPDATE memory_records SET status=?, updated_at=?, metadata=? WHERE id=?`,
		string(rec.Status), rec.UpdatedAt, string(metaJSON), rec.ID)
	if err != nil {
		return ferr.Memory("update record: %w", err)
	}
	return nil
}

func (r *Repository) getRow(id string) (*Record, error) {
	row := r.db.QueryRow(`SELECT id, kind, status, text, confidence, source_turn_id, tags, supersedes, created_at, updated_at, importance_score, stale_after_secs, metadata
		FROM memory_records WHERE id = ?`, id)
	rec, err := scanRecordRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ferr.Memory("get record %q: %w", id, err)
	}
	return rec, nil
}

func (r *Repository) appendAudit(e AuditEntry) error {
	var beforeJSON, afterJSON []byte
	if e.Before != nil {
		beforeJSON, _ = json.Marshal(e.Before)
	}
	if e.After != nil {
		afterJSON, _ = json.Marshal(e.After)
	}
	_, err := r.db.Exec(`INSERT INTO memory_audit (record_id, action, before, after, note, at) VALUES (?,?,?,?,?,?)`,
		e.RecordID, string(e.Action), nullableString(beforeJSON), nullableString(afterJSON), e.Note, e.At)
	if err != nil {
		return ferr.Memory("append audit: %w", err)
	}
	return nil
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(rows *sql.Rows) (*Record, error) {
	return scanRecordRow(rows)
}

func scanRecordRow(row rowScanner) (*Record, error) {
	var rec Record
	var kind, status, tags, metaJSON string
	var importance sql.NullFloat64
	var staleAfter sql.NullInt64
	if err := row.Scan(&rec.ID, &kind, &status, &rec.Text, &rec.Confidence, &rec.SourceTurnID, &tags, &rec.Supersedes,
		&rec.CreatedAt, &rec.UpdatedAt, &importance, &staleAfter, &metaJSON); err != nil {
		return nil, err
	}
	rec.Kind = Kind(kind)
	rec.Status = Status(status)
	if tags != "" {
		rec.Tags = strings.Split(tags, ",")
	}
	if importance.Valid {
		v := importance.Float64
		rec.ImportanceScore = &v
	}
	if staleAfter.Valid {
		v := staleAfter.Int64
		rec.StaleAfterSecs = &v
	}
	rec.Metadata = map[string]string{}
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &rec.Metadata)
	}
	return &rec, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func lowercaseTags(tags []string) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = strings.ToLower(t)
	}
	return out
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		bits := math.Float32bits(v)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(buf[i*4]) | uint32(buf[i*4+1])<<8 | uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
