package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stratamem/strata/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"), Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// tokens builds a space-joined sequence tok1..tokN for similarity setups.
func tokens(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("tok%d", i+1)
	}
	return strings.Join(parts, " ")
}

func TestSaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mem, created, err := s.Save(ctx, SaveParams{
		Summary:  "User prefers tabs over spaces",
		FullText: "the user said: always tabs, never spaces",
		Topics:   []string{"Preferences", "editor"},
		Keywords: []string{"tabs", "indentation"},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !created {
		t.Fatal("expected created=true")
	}
	if mem.ID == "" {
		t.Error("expected non-empty id")
	}
	if mem.Source != model.SourceConversation {
		t.Errorf("expected default source conversation, got %q", mem.Source)
	}
	if mem.Confidence != 1.0 {
		t.Errorf("expected default confidence 1.0, got %v", mem.Confidence)
	}

	got, err := s.Get(ctx, mem.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FullText != "the user said: always tabs, never spaces" {
		t.Errorf("expected full text on get, got %q", got.FullText)
	}
	if got.AccessCount != 1 {
		t.Errorf("expected access_count 1 after get, got %d", got.AccessCount)
	}
	// Topics normalized to lowercase.
	if len(got.Topics) != 2 || got.Topics[0] != "editor" || got.Topics[1] != "preferences" {
		t.Errorf("expected normalized topics, got %v", got.Topics)
	}

	got2, _ := s.Get(ctx, mem.ID)
	if got2.AccessCount != 2 {
		t.Errorf("expected access_count 2 after second get, got %d", got2.AccessCount)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "01JUNKJUNKJUNKJUNKJUNKJUNK")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, _, err := s.Save(ctx, SaveParams{Summary: "   "})
	if !IsValidation(err) {
		t.Errorf("expected validation error for blank summary, got %v", err)
	}

	_, _, err = s.Save(ctx, SaveParams{Summary: "ok", Level: -1})
	if !IsValidation(err) {
		t.Errorf("expected validation error for negative level, got %v", err)
	}

	_, _, err = s.Save(ctx, SaveParams{Summary: "ok", Source: "dream"})
	if !IsValidation(err) {
		t.Errorf("expected validation error for bad source, got %v", err)
	}

	bad := 1.5
	_, _, err = s.Save(ctx, SaveParams{Summary: "ok", Confidence: &bad})
	if !IsValidation(err) {
		t.Errorf("expected validation error for confidence > 1, got %v", err)
	}
}

func TestDedupIdempotence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, created, err := s.Save(ctx, SaveParams{Summary: "User works remotely from Lisbon"})
	if err != nil || !created {
		t.Fatalf("first save: created=%v err=%v", created, err)
	}

	second, created, err := s.Save(ctx, SaveParams{Summary: "User works remotely from Lisbon"})
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if created {
		t.Error("expected created=false for identical summary")
	}
	if second.ID != first.ID {
		t.Errorf("expected existing id %s, got %s", first.ID, second.ID)
	}

	memories, _ := s.List(ctx, ListParams{})
	if len(memories) != 1 {
		t.Errorf("expected exactly 1 record after duplicate save, got %d", len(memories))
	}
}

func TestDedupDoesNotTouchExisting(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, _, _ := s.Save(ctx, SaveParams{Summary: "Team standup happens at nine thirty"})
	dup, created, err := s.Save(ctx, SaveParams{Summary: "Team standup happens at nine thirty"})
	if err != nil || created {
		t.Fatalf("expected dedup skip, created=%v err=%v", created, err)
	}
	// A dedup check is not a recall: no access bump on the survivor.
	if dup.AccessCount != 0 {
		t.Errorf("expected access_count 0 after dedup check, got %d", dup.AccessCount)
	}
	if !dup.UpdatedAt.Equal(first.UpdatedAt) {
		t.Error("dedup skip must not alter the existing record")
	}
}

func TestCrossLevelNoMerge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, created0, err := s.Save(ctx, SaveParams{Summary: "Databases need backups", Level: 0})
	if err != nil || !created0 {
		t.Fatalf("level 0 save: created=%v err=%v", created0, err)
	}
	_, created1, err := s.Save(ctx, SaveParams{Summary: "Databases need backups", Level: 1, Source: model.SourceImport})
	if err != nil {
		t.Fatalf("level 1 save: %v", err)
	}
	if !created1 {
		t.Error("identical summary at a different level must not merge")
	}
}

func TestDedupThresholdBoundary(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// 17/20 token overlap = exactly 0.85: duplicate.
	s.Save(ctx, SaveParams{Summary: tokens(20)})
	_, created, err := s.Save(ctx, SaveParams{Summary: tokens(17)})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if created {
		t.Error("similarity of exactly 0.85 must be treated as duplicate")
	}

	// Fresh store: 21/25 = 0.84 stays distinct.
	s2 := newTestStore(t)
	s2.Save(ctx, SaveParams{Summary: tokens(25)})
	_, created, err = s2.Save(ctx, SaveParams{Summary: tokens(21)})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !created {
		t.Error("similarity of 0.84 must not be treated as duplicate")
	}
}

func TestSaveWithParents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	parent, _, _ := s.Save(ctx, SaveParams{Summary: "Raw note about deployment pipeline"})

	child, created, err := s.Save(ctx, SaveParams{
		Summary:   "Deployments follow a fixed pipeline",
		Level:     1,
		Source:    model.SourceSynthesis,
		ParentIDs: []string{parent.ID},
	})
	if err != nil || !created {
		t.Fatalf("save with parent: created=%v err=%v", created, err)
	}

	gotParent, _ := s.Get(ctx, parent.ID)
	if len(gotParent.ChildIDs) != 1 || gotParent.ChildIDs[0] != child.ID {
		t.Errorf("expected parent child_ids [%s], got %v", child.ID, gotParent.ChildIDs)
	}

	// Parent at the same level violates level monotonicity.
	_, _, err = s.Save(ctx, SaveParams{
		Summary:   "Another synthesized note",
		Level:     1,
		ParentIDs: []string{child.ID},
	})
	if !IsValidation(err) {
		t.Errorf("expected validation error for same-level parent, got %v", err)
	}

	// Unknown parent id.
	_, _, err = s.Save(ctx, SaveParams{
		Summary:   "Orphan synthesis",
		Level:     1,
		ParentIDs: []string{"01JUNKJUNKJUNKJUNKJUNKJUNK"},
	})
	if !IsValidation(err) {
		t.Errorf("expected validation error for unknown parent, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mem, _, _ := s.Save(ctx, SaveParams{Summary: "User has two cats", Topics: []string{"pets"}})

	newSummary := "User has three cats"
	conf := 0.8
	updated, err := s.Update(ctx, UpdateParams{
		ID:         mem.ID,
		Summary:    &newSummary,
		Topics:     []string{"Pets", "cats"},
		Confidence: &conf,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Summary != "User has three cats" {
		t.Errorf("expected new summary, got %q", updated.Summary)
	}
	if updated.Confidence != 0.8 {
		t.Errorf("expected confidence 0.8, got %v", updated.Confidence)
	}
	if len(updated.Topics) != 2 || updated.Topics[0] != "cats" {
		t.Errorf("expected normalized replaced topics, got %v", updated.Topics)
	}
	if updated.UpdatedAt.Before(mem.UpdatedAt) {
		t.Error("updated_at must not go backward")
	}

	empty := "  "
	if _, err := s.Update(ctx, UpdateParams{ID: mem.ID, Summary: &empty}); !IsValidation(err) {
		t.Errorf("expected validation error for empty summary, got %v", err)
	}

	if _, err := s.Update(ctx, UpdateParams{ID: "missing", Summary: &newSummary}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteCascade(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	grand, _, _ := s.Save(ctx, SaveParams{Summary: "Raw observation about the build system"})
	mid, _, _ := s.Save(ctx, SaveParams{
		Summary: "Builds are flaky on fridays", Level: 1,
		Source: model.SourceSynthesis, ParentIDs: []string{grand.ID},
	})
	c1, _, _ := s.Save(ctx, SaveParams{
		Summary: "Infra reliability degrades before weekends", Level: 2,
		Source: model.SourceSynthesis, ParentIDs: []string{mid.ID},
	})
	c2, _, _ := s.Save(ctx, SaveParams{
		Summary: "Deploy freezes should start thursday night", Level: 2,
		Source: model.SourceSynthesis, ParentIDs: []string{mid.ID},
	})

	if err := s.Delete(ctx, mid.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.Get(ctx, mid.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected deleted record to be gone, got %v", err)
	}

	gotGrand, _ := s.Get(ctx, grand.ID)
	if len(gotGrand.ChildIDs) != 0 {
		t.Errorf("expected parent's child_ids repaired, got %v", gotGrand.ChildIDs)
	}
	for _, id := range []string{c1.ID, c2.ID} {
		got, _ := s.Get(ctx, id)
		if len(got.ParentIDs) != 0 {
			t.Errorf("expected child %s parent_ids repaired, got %v", id, got.ParentIDs)
		}
	}
}

func TestDeleteNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.Delete(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Save(ctx, SaveParams{Summary: "one thing"})
	s.Save(ctx, SaveParams{Summary: "another thing entirely"})

	n, err := s.DeleteAll(ctx)
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
	memories, _ := s.List(ctx, ListParams{})
	if len(memories) != 0 {
		t.Errorf("expected empty store, got %d records", len(memories))
	}
}

func TestImportBatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	results, err := s.Import(ctx, []SaveParams{
		{Summary: "Project uses trunk based development"},
		{Summary: ""}, // invalid: reported, batch continues
		{Summary: "Project uses trunk based development"}, // in-batch duplicate
		{Summary: "Release trains leave every tuesday"},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if !results[0].Created || results[0].Error != "" {
		t.Errorf("item 0: expected created, got %+v", results[0])
	}
	if results[1].Error == "" || results[1].Created {
		t.Errorf("item 1: expected validation error, got %+v", results[1])
	}
	if results[2].Created {
		t.Error("item 2: expected in-batch dedup with created=false")
	}
	if results[2].ID != results[0].ID {
		t.Errorf("item 2: expected duplicate id %s, got %s", results[0].ID, results[2].ID)
	}
	if !results[3].Created {
		t.Errorf("item 3: expected created, got %+v", results[3])
	}

	// Imported items default to source=import.
	mem, _ := s.Get(ctx, results[0].ID)
	if mem.Source != model.SourceImport {
		t.Errorf("expected source import, got %q", mem.Source)
	}

	memories, _ := s.List(ctx, ListParams{})
	if len(memories) != 2 {
		t.Errorf("expected 2 records after batch, got %d", len(memories))
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Save(ctx, SaveParams{Summary: "first raw memory", FullText: "long verbatim text"})
	s.Save(ctx, SaveParams{Summary: "second raw memory"})
	s.Save(ctx, SaveParams{Summary: "an insight across notes", Level: 1, Source: model.SourceImport})

	all, err := s.List(ctx, ListParams{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	// Newest first.
	if all[0].Summary != "an insight across notes" {
		t.Errorf("expected newest first, got %q", all[0].Summary)
	}
	// Summaries only.
	for _, m := range all {
		if m.FullText != "" {
			t.Errorf("expected full_text withheld in list, got %q", m.FullText)
		}
	}

	level0 := 0
	raws, _ := s.List(ctx, ListParams{Level: &level0})
	if len(raws) != 2 {
		t.Errorf("expected 2 level-0 records, got %d", len(raws))
	}
}
