package store

import (
	"context"
	"database/sql"
	"os"
	"sort"
)

// Stats holds store statistics.
type Stats struct {
	DBPath        string        `json:"db_path"`
	DBSizeBytes   int64         `json:"db_size_bytes"`
	TotalMemories int           `json:"total_memories"`
	ByLevel       []LevelCount  `json:"by_level"`
	ByTopic       []TopicCount  `json:"by_topic,omitempty"`
	BySource      []SourceCount `json:"by_source"`
}

// LevelCount holds a per-level record count.
type LevelCount struct {
	Level int `json:"level"`
	Count int `json:"count"`
}

// TopicCount holds a per-topic record count.
type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// SourceCount holds a per-source record count.
type SourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// Stats returns record counts by level, topic, and source.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.dbPath}

	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&st.TotalMemories); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT level, COUNT(*) FROM memories GROUP BY level ORDER BY level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var lc LevelCount
		if err := rows.Scan(&lc.Level, &lc.Count); err != nil {
			return nil, err
		}
		st.ByLevel = append(st.ByLevel, lc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	srows, err := s.db.QueryContext(ctx,
		`SELECT source, COUNT(*) FROM memories GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, err
	}
	defer srows.Close()
	for srows.Next() {
		var sc SourceCount
		if err := srows.Scan(&sc.Source, &sc.Count); err != nil {
			return nil, err
		}
		st.BySource = append(st.BySource, sc)
	}
	if err := srows.Err(); err != nil {
		return nil, err
	}

	// Topics live in a JSON column, so counting happens here.
	trows, err := s.db.QueryContext(ctx,
		`SELECT topics FROM memories WHERE topics IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer trows.Close()
	topicCounts := map[string]int{}
	for trows.Next() {
		var topicsJSON sql.NullString
		if err := trows.Scan(&topicsJSON); err != nil {
			return nil, err
		}
		if !topicsJSON.Valid {
			continue
		}
		for _, t := range decodeList(topicsJSON.String) {
			topicCounts[t]++
		}
	}
	if err := trows.Err(); err != nil {
		return nil, err
	}
	for topic, count := range topicCounts {
		st.ByTopic = append(st.ByTopic, TopicCount{Topic: topic, Count: count})
	}
	sort.Slice(st.ByTopic, func(i, j int) bool {
		if st.ByTopic[i].Count != st.ByTopic[j].Count {
			return st.ByTopic[i].Count > st.ByTopic[j].Count
		}
		return st.ByTopic[i].Topic < st.ByTopic[j].Topic
	})

	return st, nil
}
