package store

import (
	"context"

	"github.com/stratamem/strata/internal/model"
)

// ExportAll returns every memory with its hierarchy edges, oldest first.
// The output round-trips through Import (which re-applies dedup, so a
// re-import into a populated store skips what it already holds).
func (s *SQLiteStore) ExportAll(ctx context.Context) ([]model.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories ORDER BY created_at, id`)
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
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range memories {
		memories[i].ParentIDs, memories[i].ChildIDs, err = loadEdges(ctx, s.db, memories[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return memories, nil
}
