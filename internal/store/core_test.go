package store

import (
	"strings"
	"testing"
)

func TestCoreSummaryRoundTrip(t *testing.T) {
	s := newTestStore(t)

	// Never set: empty, not an error.
	text, err := s.CoreGet()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if text != "" {
		t.Errorf("expected empty core summary, got %q", text)
	}

	content := "# Identity\n\nWorks on infrastructure. Prefers terse answers.\n"
	if err := s.CoreSave(content); err != nil {
		t.Fatalf("save: %v", err)
	}
	text, err = s.CoreGet()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if text != content {
		t.Errorf("expected saved content back, got %q", text)
	}
}

func TestCoreSummaryReplacedWholesale(t *testing.T) {
	s := newTestStore(t)

	s.CoreSave("old state of the world")
	if err := s.CoreSave("new state"); err != nil {
		t.Fatalf("save: %v", err)
	}
	text, _ := s.CoreGet()
	if text != "new state" {
		t.Errorf("expected replacement, got %q", text)
	}
}

func TestCoreSummaryOversizedStoredAsGiven(t *testing.T) {
	s := newTestStore(t)

	big := strings.Repeat("x", coreSummaryAdvisoryBytes+100)
	if err := s.CoreSave(big); err != nil {
		t.Fatalf("save: %v", err)
	}
	text, _ := s.CoreGet()
	if len(text) != len(big) {
		t.Errorf("expected %d bytes back, got %d", len(big), len(text))
	}
}
