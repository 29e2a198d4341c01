// Package store provides the memory storage interface and SQLite implementation.
package store

import (
	"context"

	"github.com/stratamem/strata/internal/model"
)

// SaveParams holds a memory draft for storing.
type SaveParams struct {
	Summary    string   `json:"summary"`
	FullText   string   `json:"full_text,omitempty"`
	Level      int      `json:"level,omitempty"`
	Topics     []string `json:"topics,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Source     string   `json:"source,omitempty"`
	ParentIDs  []string `json:"parent_ids,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// UpdateParams holds field changes for an existing memory. Nil pointer
// and nil slice fields are left unchanged. Level is immutable; synthesis
// produces a new higher-level record instead of relabeling an old one.
type UpdateParams struct {
	ID         string
	Summary    *string
	FullText   *string
	Topics     []string
	Keywords   []string
	Confidence *float64
}

// ListParams holds parameters for listing memories.
type ListParams struct {
	Level *int // nil means all levels
	Limit int
}

// SearchParams holds parameters for ranked search.
type SearchParams struct {
	Query    string
	MinLevel int // floor: only memories at this level or above
	Limit    int
}

// SearchResult wraps a memory (summary only, full text withheld) with
// its relevance score.
type SearchResult struct {
	model.Memory
	Score float64 `json:"score"`
}

// ImportResult reports the outcome of one item in an import batch.
type ImportResult struct {
	ID      string `json:"id,omitempty"`
	Created bool   `json:"created"`
	Error   string `json:"error,omitempty"`
}

// Store defines the memory storage interface.
type Store interface {
	// Save stores a memory draft. When an existing same-level memory is
	// a near-duplicate of the draft, the existing memory is returned
	// unchanged with created=false.
	Save(ctx context.Context, p SaveParams) (*model.Memory, bool, error)

	// Get retrieves a memory by id and bumps its access tracking.
	Get(ctx context.Context, id string) (*model.Memory, error)

	// Search returns ranked matches, higher abstraction levels first
	// among comparably relevant results. Does not bump access counts.
	Search(ctx context.Context, p SearchParams) ([]SearchResult, error)

	// List returns memories (summaries only), newest first.
	List(ctx context.Context, p ListParams) ([]model.Memory, error)

	// Update applies field changes and re-validates schema invariants.
	Update(ctx context.Context, p UpdateParams) (*model.Memory, error)

	// Delete removes a memory and repairs hierarchy edges on neighbors.
	Delete(ctx context.Context, id string) error

	// Import applies Save semantics per item, in order. Items dedupe
	// against earlier items of the same batch as well as existing
	// records; one item's validation failure does not abort the rest.
	Import(ctx context.Context, items []SaveParams) ([]ImportResult, error)

	// Close closes the store.
	Close() error
}
