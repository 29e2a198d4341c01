// Package model defines the core memory data types.
package model

import (
	"sort"
	"strings"
	"time"
)

// Memory sources.
const (
	SourceConversation = "conversation"
	SourceImport       = "import"
	SourceSynthesis    = "synthesis"
)

// ValidSources are the allowed provenance labels.
var ValidSources = map[string]bool{
	SourceConversation: true,
	SourceImport:       true,
	SourceSynthesis:    true,
}

// Memory represents a stored memory entry. Level 0 holds raw memories
// from conversations or imports; level 1 and above hold synthesized
// insights whose parents sit at strictly lower levels.
type Memory struct {
	ID                string    `json:"id"`
	Summary           string    `json:"summary"`
	FullText          string    `json:"full_text,omitempty"`
	Level             int       `json:"level"`
	Topics            []string  `json:"topics,omitempty"`
	Keywords          []string  `json:"keywords,omitempty"`
	Source            string    `json:"source"`
	ParentIDs         []string  `json:"parent_ids,omitempty"`
	ChildIDs          []string  `json:"child_ids,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	LastAccessed      time.Time `json:"last_accessed"`
	AccessCount       int       `json:"access_count"`
	SynthesisAttempts int       `json:"synthesis_attempts"`
	Confidence        float64   `json:"confidence"`
	Embedding         []float32 `json:"embedding,omitempty"`
}

// NormalizeTopics lowercases, trims, dedupes, and sorts topic tags.
// Insertion order carries no meaning for topics.
func NormalizeTopics(topics []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// NormalizeKeywords trims keywords and drops empties and duplicates,
// preserving the caller's order for display.
func NormalizeKeywords(keywords []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		key := strings.ToLower(k)
		if k == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, k)
	}
	return out
}
