package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// coreSummaryFile holds the always-loaded distillation, independent of
// the record table. It is one opaque blob: the store replaces it whole
// and never patches it.
const coreSummaryFile = "core.md"

// coreSummaryAdvisoryBytes is the soft size ceiling (~2K tokens at four
// chars per token). Oversized content is stored as given; trimming is
// the caller's job.
const coreSummaryAdvisoryBytes = 8192

// CoreGet returns the core summary, or an empty string if never set.
func (s *SQLiteStore) CoreGet() (string, error) {
	b, err := os.ReadFile(filepath.Join(s.dataDir, coreSummaryFile))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: read core summary: %v", ErrStorageUnavailable, err)
	}
	return string(b), nil
}

// CoreSave replaces the core summary wholesale. The write is atomic:
// a concurrent reader sees either the old blob or the new one.
func (s *SQLiteStore) CoreSave(text string) error {
	if len(text) > coreSummaryAdvisoryBytes {
		s.logger.Warn().
			Int("bytes", len(text)).
			Int("advisory", coreSummaryAdvisoryBytes).
			Msg("core summary exceeds advisory size")
	}

	path := filepath.Join(s.dataDir, coreSummaryFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		return fmt.Errorf("%w: write core summary: %v", ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: replace core summary: %v", ErrStorageUnavailable, err)
	}
	return nil
}
