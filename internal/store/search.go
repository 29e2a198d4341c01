package store

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/stratamem/strata/internal/embedding"
	"github.com/stratamem/strata/internal/similarity"
)

// Relative weights when an embedding provider is configured. Keyword
// relevance stays dominant; the vector blend is an enhancement, not a
// replacement.
const (
	textWeight   = 0.7
	vectorWeight = 0.3
)

// Search runs a ranked full-text query over summaries and keywords.
// Results at or above MinLevel are scored by bm25 term weighting,
// optionally blended with embedding cosine similarity, and ordered so
// that among comparably relevant results the higher abstraction level
// comes first. Full text is withheld; callers drill down with Get,
// which is also why Search never bumps access counts.
func (s *SQLiteStore) Search(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}
	if p.MinLevel < 0 {
		return nil, validationf("min level must be >= 0, got %d", p.MinLevel)
	}

	match := ftsQuery(p.Query)
	if match == "" {
		return []SearchResult{}, nil
	}

	// Overfetch so the level bias can reorder beyond the cut line.
	overfetch := limit * 5
	if overfetch < 50 {
		overfetch = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.summary, m.full_text, m.level, m.topics, m.keywords, m.source,
		       m.created_at, m.updated_at, m.last_accessed,
		       m.access_count, m.synthesis_attempts, m.confidence, m.embedding,
		       bm25(memories_fts) AS rank
		FROM memories_fts
		JOIN memories m ON m.rowid = memories_fts.rowid
		WHERE memories_fts MATCH ? AND m.level >= ?
		ORDER BY rank, m.id
		LIMIT ?`, match, p.MinLevel, overfetch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type hit struct {
		result    SearchResult
		relevance float64
	}
	var hits []hit
	for rows.Next() {
		var h hit
		var rank float64
		m, err := scanMemory(rows, &rank)
		if err != nil {
			return nil, err
		}
		h.result.Memory = m
		// bm25 reports better matches as smaller (negative) values.
		h.relevance = -rank
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []SearchResult{}, nil
	}

	maxRel := 0.0
	for _, h := range hits {
		if h.relevance > maxRel {
			maxRel = h.relevance
		}
	}

	var queryVec embedding.Vector
	if s.embedder != nil {
		v, err := s.embedder.Embed(ctx, p.Query)
		if err != nil {
			s.logger.Debug().Err(err).Msg("query embedding failed, keyword ranking only")
		} else {
			queryVec = v
		}
	}

	for i := range hits {
		text := 0.0
		if maxRel > 0 {
			text = hits[i].relevance / maxRel
		}
		score := text
		if queryVec != nil && len(hits[i].result.Embedding) > 0 {
			cos := embedding.Cosine(queryVec, hits[i].result.Embedding)
			if cos < 0 {
				cos = 0
			}
			score = textWeight*text + vectorWeight*cos
		}
		hits[i].result.Score = math.Round(score*1000) / 1000
	}

	// Quantized relevance first, then level: equally relevant results
	// surface the more abstract memory, supporting drill-down on demand.
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i].result, hits[j].result
		ab, bb := relevanceBucket(a.Score), relevanceBucket(b.Score)
		if ab != bb {
			return ab > bb
		}
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		h.result.FullText = ""
		h.result.Embedding = nil
		results = append(results, h.result)
	}
	return results, nil
}

// relevanceBucket quantizes a score so that near-equal textual relevance
// compares equal and the level bias decides the order.
func relevanceBucket(score float64) float64 {
	return math.Round(score * 100)
}

// ftsQuery turns free text into an OR query of quoted tokens, so user
// input can never inject FTS5 operators. Returns "" for token-free input.
func ftsQuery(query string) string {
	tokens := similarity.Tokenize(query)
	if len(tokens) == 0 {
		return ""
	}
	sorted := make([]string, 0, len(tokens))
	for t := range tokens {
		sorted = append(sorted, `"`+t+`"`)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, " OR ")
}
