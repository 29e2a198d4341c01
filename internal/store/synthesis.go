package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/stratamem/strata/internal/model"
	"github.com/stratamem/strata/internal/similarity"
)

const (
	// MinClusterSize is the smallest topic cluster offered for synthesis.
	MinClusterSize = 3

	// MaxSynthesisAttempts caps how often an unproductive record keeps
	// being offered as synthesis input.
	MaxSynthesisAttempts = 3

	// DefaultSynthesisThreshold is the unsynthesized level-0 count at
	// which SynthesisNeeded reports true.
	DefaultSynthesisThreshold = 5
)

// CandidateGroup is a topic cluster of unsynthesized memory ids.
type CandidateGroup struct {
	Topic string   `json:"topic"`
	IDs   []string `json:"ids"`
}

// SynthesizeParams holds the caller-supplied content of a synthesis.
// The store enforces structure; what the summary says is the caller's
// judgment.
type SynthesizeParams struct {
	ParentIDs     []string `json:"parent_ids"`
	Summary       string   `json:"summary"`
	Topics        []string `json:"topics,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	DeleteParents bool     `json:"delete_parents,omitempty"`
}

// candidate is an unsynthesized record considered for grouping.
type candidate struct {
	id          string
	summary     string
	topics      []string
	accessCount int
	createdAt   string
	attempts    int
}

// SynthesisCandidates groups unsynthesized memories at the given level
// by shared topic. Only topics with at least MinClusterSize records
// qualify, and records past the attempt cap are left out. Read-only.
func (s *SQLiteStore) SynthesisCandidates(ctx context.Context, level int) ([]CandidateGroup, error) {
	if level < 0 {
		return nil, validationf("level must be >= 0, got %d", level)
	}
	cands, err := unsynthesized(ctx, s.db, level)
	if err != nil {
		return nil, err
	}
	return groupByTopic(cands), nil
}

// PrepareSynthesis merges near-duplicate unsynthesized records at the
// given level, then returns the post-merge candidate groups. The merge
// pass keeps repeated synthesis runs convergent: without it, duplicate
// raw memories fragment into clusters that never reach MinClusterSize.
// Records handed out in a group get their synthesis_attempts bumped so
// unproductive clusters eventually stop being offered.
func (s *SQLiteStore) PrepareSynthesis(ctx context.Context, level int) (int, []CandidateGroup, error) {
	if level < 0 {
		return 0, nil, validationf("level must be >= 0, got %d", level)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, err
	}
	defer tx.Rollback()

	cands, err := unsynthesized(ctx, tx, level)
	if err != nil {
		return 0, nil, err
	}

	merged := 0
	alive := make([]bool, len(cands))
	for i := range alive {
		alive[i] = true
	}
	tokens := make([]map[string]struct{}, len(cands))
	for i, c := range cands {
		tokens[i] = similarity.Tokenize(c.summary)
	}

	for i := range cands {
		if !alive[i] {
			continue
		}
		for j := i + 1; j < len(cands); j++ {
			if !alive[j] {
				continue
			}
			if similarity.Jaccard(tokens[i], tokens[j]) < similarity.DedupThreshold {
				continue
			}
			keep, drop := i, j
			if survives(cands[j], cands[i]) {
				keep, drop = j, i
			}
			if err := deleteMemory(ctx, tx, cands[drop].id); err != nil {
				return 0, nil, err
			}
			alive[drop] = false
			merged++
			s.logger.Debug().
				Str("kept", cands[keep].id).
				Str("merged", cands[drop].id).
				Int("level", level).
				Msg("pre-synthesis duplicate merged")
			if drop == i {
				break
			}
		}
	}

	var remaining []candidate
	for i, c := range cands {
		if alive[i] {
			remaining = append(remaining, c)
		}
	}
	groups := groupByTopic(remaining)

	offered := map[string]bool{}
	for _, g := range groups {
		for _, id := range g.IDs {
			offered[id] = true
		}
	}
	for id := range offered {
		if _, err := tx.ExecContext(ctx,
			`UPDATE memories SET synthesis_attempts = synthesis_attempts + 1 WHERE id = ?`, id); err != nil {
			return 0, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, err
	}
	return merged, groups, nil
}

// survives reports whether a should outlive b in a duplicate merge:
// higher access count, then earlier creation, then smaller id.
func survives(a, b candidate) bool {
	if a.accessCount != b.accessCount {
		return a.accessCount > b.accessCount
	}
	if a.createdAt != b.createdAt {
		return a.createdAt < b.createdAt
	}
	return a.id < b.id
}

// Synthesize records a caller-produced synthesis: a new memory one level
// above its parents, linked to all of them. All parents must exist and
// share a single level; any failure aborts with no partial writes, so
// readers never observe a half-linked synthesis.
func (s *SQLiteStore) Synthesize(ctx context.Context, p SynthesizeParams) (*model.Memory, error) {
	summary := trimmed(p.Summary)
	if summary == "" {
		return nil, validationf("summary is required")
	}
	parents := dedupeIDs(p.ParentIDs)
	if len(parents) == 0 {
		return nil, validationf("at least one parent id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	parentLevel := -1
	for _, pid := range parents {
		var level int
		err := tx.QueryRowContext(ctx, `SELECT level FROM memories WHERE id = ?`, pid).Scan(&level)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, validationf("parent %s not found", pid)
		}
		if err != nil {
			return nil, err
		}
		if parentLevel == -1 {
			parentLevel = level
		} else if level != parentLevel {
			return nil, validationf("parents span levels %d and %d; synthesis parents must share one level", parentLevel, level)
		}
	}

	now := s.now()
	id := s.newID()
	mem, err := s.insertMemory(ctx, tx, id, SaveParams{
		Summary:   summary,
		Level:     parentLevel + 1,
		Topics:    model.NormalizeTopics(p.Topics),
		Keywords:  model.NormalizeKeywords(p.Keywords),
		Source:    model.SourceSynthesis,
		ParentIDs: parents,
	}, nil, now)
	if err != nil {
		return nil, err
	}

	if p.DeleteParents {
		for _, pid := range parents {
			if err := deleteMemory(ctx, tx, pid); err != nil {
				return nil, err
			}
		}
		mem.ParentIDs = nil
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("id", id).
		Int("level", parentLevel+1).
		Int("parents", len(parents)).
		Bool("parents_deleted", p.DeleteParents).
		Msg("synthesis recorded")
	return mem, nil
}

// SynthesisNeeded reports whether the count of level-0 memories without
// children has reached the threshold (DefaultSynthesisThreshold when
// threshold is zero or negative).
func (s *SQLiteStore) SynthesisNeeded(ctx context.Context, threshold int) (bool, int, error) {
	if threshold <= 0 {
		threshold = DefaultSynthesisThreshold
	}
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memories m
		WHERE m.level = 0
		  AND NOT EXISTS (SELECT 1 FROM memory_edges e WHERE e.parent_id = m.id)`).Scan(&count)
	if err != nil {
		return false, 0, err
	}
	return count >= threshold, count, nil
}

// unsynthesized returns records at the level that have no child yet,
// in deterministic creation order.
func unsynthesized(ctx context.Context, q dbtx, level int) ([]candidate, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT m.id, m.summary, m.topics, m.access_count, m.created_at, m.synthesis_attempts
		FROM memories m
		WHERE m.level = ?
		  AND NOT EXISTS (SELECT 1 FROM memory_edges e WHERE e.parent_id = m.id)
		ORDER BY m.created_at, m.id`, level)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cands []candidate
	for rows.Next() {
		var c candidate
		var topicsJSON sql.NullString
		if err := rows.Scan(&c.id, &c.summary, &topicsJSON, &c.accessCount, &c.createdAt, &c.attempts); err != nil {
			return nil, err
		}
		if topicsJSON.Valid {
			c.topics = decodeList(topicsJSON.String)
		}
		cands = append(cands, c)
	}
	return cands, rows.Err()
}

// groupByTopic clusters candidates under the attempt cap by shared
// topic, keeping clusters of MinClusterSize or more, sorted by topic.
func groupByTopic(cands []candidate) []CandidateGroup {
	byTopic := map[string][]string{}
	for _, c := range cands {
		if c.attempts >= MaxSynthesisAttempts {
			continue
		}
		for _, t := range c.topics {
			byTopic[t] = append(byTopic[t], c.id)
		}
	}

	groups := make([]CandidateGroup, 0, len(byTopic))
	for topic, ids := range byTopic {
		if len(ids) < MinClusterSize {
			continue
		}
		groups = append(groups, CandidateGroup{Topic: topic, IDs: ids})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Topic < groups[j].Topic })
	return groups
}
