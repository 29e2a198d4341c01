package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/stratamem/strata/internal/embedding"
	"github.com/stratamem/strata/internal/model"
	"github.com/stratamem/strata/internal/similarity"
)

// timeFormat is RFC 3339 with fixed-width milliseconds so that stored
// timestamps compare correctly as strings in SQL ORDER BY clauses.
const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Options configures a SQLiteStore.
type Options struct {
	// Logger receives structured diagnostics. Pass zerolog.Nop() to
	// silence the store.
	Logger zerolog.Logger

	// Embedder, when set, enables the semantic ranking blend in Search
	// and embeds summaries on save. Optional; nil disables embeddings.
	Embedder embedding.Embedder
}

// SQLiteStore implements Store using SQLite. The database file may be
// opened by several processes at once; WAL mode, a busy timeout, and
// immediate write transactions keep mutations atomic across them.
type SQLiteStore struct {
	db       *sql.DB
	dataDir  string
	dbPath   string
	entropy  *ulid.MonotonicEntropy
	logger   zerolog.Logger
	embedder embedding.Embedder
}

// dbtx is the subset of *sql.DB and *sql.Tx the store queries through.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts Options) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", ErrStorageUnavailable, err)
	}

	dsn := dbPath + "?_txlock=immediate" +
		"&_pragma=journal_mode(wal)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(on)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", ErrStorageUnavailable, err)
	}

	s := &SQLiteStore{
		db:       db,
		dataDir:  dir,
		dbPath:   dbPath,
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		logger:   opts.Logger,
		embedder: opts.Embedder,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", ErrStorageUnavailable, err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) now() string {
	return time.Now().UTC().Format(timeFormat)
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id                 TEXT PRIMARY KEY,
		summary            TEXT NOT NULL,
		full_text          TEXT,
		level              INTEGER NOT NULL DEFAULT 0,
		topics             TEXT,
		keywords           TEXT,
		source             TEXT NOT NULL DEFAULT 'conversation',
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL,
		last_accessed      TEXT NOT NULL,
		access_count       INTEGER NOT NULL DEFAULT 0,
		synthesis_attempts INTEGER NOT NULL DEFAULT 0,
		confidence         REAL NOT NULL DEFAULT 1.0,
		embedding          TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memories_level ON memories(level);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_level_source ON memories(level, source);

	CREATE TABLE IF NOT EXISTS memory_edges (
		parent_id  TEXT NOT NULL REFERENCES memories(id),
		child_id   TEXT NOT NULL REFERENCES memories(id),
		created_at TEXT NOT NULL,
		PRIMARY KEY (parent_id, child_id)
	);
	CREATE INDEX IF NOT EXISTS idx_edges_child ON memory_edges(child_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
		summary,
		keywords,
		content=memories,
		content_rowid=rowid
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// FTS5 triggers for automatic sync
	s.db.Exec(`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
		INSERT INTO memories_fts(rowid, summary, keywords) VALUES (new.rowid, new.summary, new.keywords);
	END`)
	s.db.Exec(`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
		INSERT INTO memories_fts(memories_fts, rowid, summary, keywords) VALUES('delete', old.rowid, old.summary, old.keywords);
	END`)
	s.db.Exec(`CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
		INSERT INTO memories_fts(memories_fts, rowid, summary, keywords) VALUES('delete', old.rowid, old.summary, old.keywords);
		INSERT INTO memories_fts(rowid, summary, keywords) VALUES (new.rowid, new.summary, new.keywords);
	END`)

	return nil
}

const memoryColumns = `id, summary, full_text, level, topics, keywords, source,
	created_at, updated_at, last_accessed, access_count, synthesis_attempts, confidence, embedding`

// normalizeSave validates a draft and applies defaulting rules in place.
func normalizeSave(p *SaveParams) error {
	p.Summary = trimmed(p.Summary)
	if p.Summary == "" {
		return validationf("summary is required")
	}
	if p.Level < 0 {
		return validationf("level must be >= 0, got %d", p.Level)
	}
	if p.Source == "" {
		p.Source = model.SourceConversation
	}
	if !model.ValidSources[p.Source] {
		return validationf("invalid source %q (valid: conversation, import, synthesis)", p.Source)
	}
	if p.Confidence != nil && (*p.Confidence < 0 || *p.Confidence > 1) {
		return validationf("confidence must be in [0,1], got %v", *p.Confidence)
	}
	p.Topics = model.NormalizeTopics(p.Topics)
	p.Keywords = model.NormalizeKeywords(p.Keywords)
	return nil
}

// Save stores a memory draft. If an existing memory at the same level
// has a summary with Jaccard similarity at or above the deduplication
// threshold, the save is skipped and that memory is returned unchanged
// with created=false. Cross-level near-duplicates are never merged.
func (s *SQLiteStore) Save(ctx context.Context, p SaveParams) (*model.Memory, bool, error) {
	if err := normalizeSave(&p); err != nil {
		return nil, false, err
	}

	// Embedding is best-effort and computed outside the transaction;
	// a failed provider never blocks the save.
	var vec embedding.Vector
	if s.embedder != nil {
		v, err := s.embedder.Embed(ctx, p.Summary)
		if err != nil {
			s.logger.Warn().Err(err).Msg("embedding failed, saving without vector")
		} else {
			vec = v
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	dupID, score, err := s.findDuplicate(ctx, tx, p.Level, p.Summary, "")
	if err != nil {
		return nil, false, err
	}
	if dupID != "" {
		existing, err := s.fetchMemory(ctx, tx, dupID, true)
		if err != nil {
			return nil, false, err
		}
		s.logger.Debug().
			Str("id", dupID).
			Int("level", p.Level).
			Float64("similarity", score).
			Msg("near-duplicate summary, save skipped")
		return existing, false, nil
	}

	now := s.now()
	id := s.newID()
	mem, err := s.insertMemory(ctx, tx, id, p, vec, now)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return mem, true, nil
}

// findDuplicate scans summaries at one level and returns the id of the
// most similar record at or above the dedup threshold, if any. The scan
// order makes the chosen duplicate deterministic. skipID excludes one
// record (used when re-checking an updated summary against its peers).
func (s *SQLiteStore) findDuplicate(ctx context.Context, q dbtx, level int, summary, skipID string) (string, float64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, summary FROM memories WHERE level = ? ORDER BY created_at, id`, level)
	if err != nil {
		return "", 0, err
	}
	defer rows.Close()

	newTokens := similarity.Tokenize(summary)
	bestID, bestScore := "", 0.0
	for rows.Next() {
		var id, existing string
		if err := rows.Scan(&id, &existing); err != nil {
			return "", 0, err
		}
		if id == skipID {
			continue
		}
		score := similarity.Jaccard(newTokens, similarity.Tokenize(existing))
		if score >= similarity.DedupThreshold && score > bestScore {
			bestID, bestScore = id, score
		}
	}
	return bestID, bestScore, rows.Err()
}

// insertMemory writes a new record and its parent edges inside tx.
// Parents must exist at a strictly lower level.
func (s *SQLiteStore) insertMemory(ctx context.Context, tx *sql.Tx, id string, p SaveParams, vec embedding.Vector, now string) (*model.Memory, error) {
	parents := dedupeIDs(p.ParentIDs)
	for _, pid := range parents {
		var parentLevel int
		err := tx.QueryRowContext(ctx, `SELECT level FROM memories WHERE id = ?`, pid).Scan(&parentLevel)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, validationf("parent %s not found", pid)
		}
		if err != nil {
			return nil, err
		}
		if parentLevel >= p.Level {
			return nil, validationf("parent %s at level %d must be below level %d", pid, parentLevel, p.Level)
		}
	}

	confidence := 1.0
	if p.Confidence != nil {
		confidence = *p.Confidence
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO memories (id, summary, full_text, level, topics, keywords, source,
		        created_at, updated_at, last_accessed, access_count, synthesis_attempts, confidence, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		id, p.Summary, nullable(p.FullText), p.Level,
		jsonList(p.Topics), jsonList(p.Keywords), p.Source,
		now, now, now, confidence, jsonVector(vec))
	if err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}

	for _, pid := range parents {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO memory_edges (parent_id, child_id, created_at) VALUES (?, ?, ?)`,
			pid, id, now)
		if err != nil {
			return nil, fmt.Errorf("insert edge: %w", err)
		}
	}

	created, _ := time.Parse(timeFormat, now)
	return &model.Memory{
		ID:           id,
		Summary:      p.Summary,
		FullText:     p.FullText,
		Level:        p.Level,
		Topics:       p.Topics,
		Keywords:     p.Keywords,
		Source:       p.Source,
		ParentIDs:    parents,
		CreatedAt:    created,
		UpdatedAt:    created,
		LastAccessed: created,
		Confidence:   confidence,
		Embedding:    vec,
	}, nil
}

// Get retrieves a memory by id, bumping access_count and last_accessed.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Memory, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
		s.now(), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.fetchMemory(ctx, s.db, id, true)
}

// Update applies field changes to a memory and bumps updated_at.
// Level is immutable: synthesis creates new records, it never relabels.
func (s *SQLiteStore) Update(ctx context.Context, p UpdateParams) (*model.Memory, error) {
	if p.Summary != nil {
		*p.Summary = trimmed(*p.Summary)
		if *p.Summary == "" {
			return nil, validationf("summary cannot be empty")
		}
	}
	if p.Confidence != nil && (*p.Confidence < 0 || *p.Confidence > 1) {
		return nil, validationf("confidence must be in [0,1], got %v", *p.Confidence)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE id = ?`, p.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	set := []string{"updated_at = ?"}
	args := []any{s.now()}
	if p.Summary != nil {
		set = append(set, "summary = ?")
		args = append(args, *p.Summary)
	}
	if p.FullText != nil {
		set = append(set, "full_text = ?")
		args = append(args, nullable(*p.FullText))
	}
	if p.Topics != nil {
		set = append(set, "topics = ?")
		args = append(args, jsonList(model.NormalizeTopics(p.Topics)))
	}
	if p.Keywords != nil {
		set = append(set, "keywords = ?")
		args = append(args, jsonList(model.NormalizeKeywords(p.Keywords)))
	}
	if p.Confidence != nil {
		set = append(set, "confidence = ?")
		args = append(args, *p.Confidence)
	}
	args = append(args, p.ID)

	if _, err := tx.ExecContext(ctx,
		`UPDATE memories SET `+joinSet(set)+` WHERE id = ?`, args...); err != nil {
		return nil, fmt.Errorf("update memory: %w", err)
	}

	mem, err := s.fetchMemory(ctx, tx, p.ID, true)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return mem, nil
}

// Delete removes a memory and all edges referencing it, so no parent or
// child is left with a dangling id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := deleteMemory(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// deleteMemory removes one record and its edges inside tx.
func deleteMemory(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM memory_edges WHERE parent_id = ? OR child_id = ?`, id, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll removes every memory and edge. Returns the number removed.
func (s *SQLiteStore) DeleteAll(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&count); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_edges`); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories`); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// Import applies Save semantics per item, in input order. Later items
// dedupe against earlier ones because each save commits before the next
// begins. Validation failures are reported per item and do not abort
// the batch; storage failures do.
func (s *SQLiteStore) Import(ctx context.Context, items []SaveParams) ([]ImportResult, error) {
	results := make([]ImportResult, 0, len(items))
	for _, item := range items {
		if item.Source == "" {
			item.Source = model.SourceImport
		}
		mem, created, err := s.Save(ctx, item)
		switch {
		case err == nil:
			results = append(results, ImportResult{ID: mem.ID, Created: created})
		case IsValidation(err):
			results = append(results, ImportResult{Error: err.Error()})
		default:
			return results, err
		}
	}
	return results, nil
}

// List returns memories ordered by created_at descending, summaries only.
func (s *SQLiteStore) List(ctx context.Context, p ListParams) ([]model.Memory, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + memoryColumns + ` FROM memories`
	args := []any{}
	if p.Level != nil {
		if *p.Level < 0 {
			return nil, validationf("level must be >= 0, got %d", *p.Level)
		}
		query += ` WHERE level = ?`
		args = append(args, *p.Level)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		m.FullText = ""
		m.Embedding = nil
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// fetchMemory reads one record without touching access tracking.
// The dedup path relies on this: a duplicate check is not a recall.
func (s *SQLiteStore) fetchMemory(ctx context.Context, q dbtx, id string, withEdges bool) (*model.Memory, error) {
	row := q.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if withEdges {
		m.ParentIDs, m.ChildIDs, err = loadEdges(ctx, q, id)
		if err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// loadEdges returns the parent and child id sets for a memory.
func loadEdges(ctx context.Context, q dbtx, id string) (parents, children []string, err error) {
	rows, err := q.QueryContext(ctx,
		`SELECT parent_id FROM memory_edges WHERE child_id = ? ORDER BY created_at, parent_id`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var pid string
		if err := rows.Scan(&pid); err != nil {
			return nil, nil, err
		}
		parents = append(parents, pid)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	crows, err := q.QueryContext(ctx,
		`SELECT child_id FROM memory_edges WHERE parent_id = ? ORDER BY created_at, child_id`, id)
	if err != nil {
		return nil, nil, err
	}
	defer crows.Close()
	for crows.Next() {
		var cid string
		if err := crows.Scan(&cid); err != nil {
			return nil, nil, err
		}
		children = append(children, cid)
	}
	return parents, children, crows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

// scanMemory scans a memory row; extra receives any trailing columns
// (e.g. a bm25 rank) appended to the standard column list.
func scanMemory(row scanner, extra ...any) (model.Memory, error) {
	var m model.Memory
	var fullText, topicsJSON, keywordsJSON, embeddingJSON sql.NullString
	var createdAt, updatedAt, lastAccessed string

	dest := []any{
		&m.ID, &m.Summary, &fullText, &m.Level, &topicsJSON, &keywordsJSON, &m.Source,
		&createdAt, &updatedAt, &lastAccessed,
		&m.AccessCount, &m.SynthesisAttempts, &m.Confidence, &embeddingJSON,
	}
	dest = append(dest, extra...)
	err := row.Scan(dest...)
	if err != nil {
		return m, err
	}

	m.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	m.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	m.LastAccessed, _ = time.Parse(timeFormat, lastAccessed)
	if fullText.Valid {
		m.FullText = fullText.String
	}
	if topicsJSON.Valid {
		json.Unmarshal([]byte(topicsJSON.String), &m.Topics)
	}
	if keywordsJSON.Valid {
		json.Unmarshal([]byte(keywordsJSON.String), &m.Keywords)
	}
	if embeddingJSON.Valid {
		json.Unmarshal([]byte(embeddingJSON.String), &m.Embedding)
	}
	return m, nil
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func jsonList(items []string) *string {
	if len(items) == 0 {
		return nil
	}
	b, _ := json.Marshal(items)
	out := string(b)
	return &out
}

func jsonVector(v embedding.Vector) *string {
	if len(v) == 0 {
		return nil
	}
	b, _ := json.Marshal(v)
	out := string(b)
	return &out
}

func decodeList(jsonText string) []string {
	var out []string
	json.Unmarshal([]byte(jsonText), &out)
	return out
}

func dedupeIDs(ids []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func joinSet(parts []string) string {
	return strings.Join(parts, ", ")
}
