package store

import (
	"context"
	"testing"

	"github.com/stratamem/strata/internal/model"
)

func TestExportAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, _, _ := s.Save(ctx, SaveParams{
		Summary:  "the very first note",
		FullText: "verbatim transcript of the first conversation",
	})
	second, _, _ := s.Save(ctx, SaveParams{Summary: "a later unrelated remark"})
	child, _, _ := s.Save(ctx, SaveParams{
		Summary:   "distilled view of the first note",
		Level:     1,
		Source:    model.SourceSynthesis,
		ParentIDs: []string{first.ID},
	})

	memories, err := s.ExportAll(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(memories) != 3 {
		t.Fatalf("expected 3 records, got %d", len(memories))
	}

	// Oldest first, full text included.
	if memories[0].ID != first.ID {
		t.Errorf("expected oldest record first, got %s", memories[0].ID)
	}
	if memories[0].FullText == "" {
		t.Error("expected full_text preserved in export")
	}

	// Hierarchy edges come out on both ends.
	byID := map[string]model.Memory{}
	for _, m := range memories {
		byID[m.ID] = m
	}
	if got := byID[first.ID].ChildIDs; len(got) != 1 || got[0] != child.ID {
		t.Errorf("expected first's child_ids [%s], got %v", child.ID, got)
	}
	if got := byID[child.ID].ParentIDs; len(got) != 1 || got[0] != first.ID {
		t.Errorf("expected child's parent_ids [%s], got %v", first.ID, got)
	}
	if len(byID[second.ID].ParentIDs)+len(byID[second.ID].ChildIDs) != 0 {
		t.Errorf("expected standalone record unlinked, got %+v", byID[second.ID])
	}
}
