// Package corpus stores interview posts as a single JSON array file and
// merges newly scraped posts into it without touching existing entries.
package corpus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pevans/harvest/topic"
)

// Custom errors for corpus operations
var (
	ErrCorruptCorpus    = errors.New("corpus file is not a JSON array")
	ErrInvalidOnCorrupt = errors.New("on_corrupt must be abort or reset")
)

// CorruptPolicy decides what Merge does when the existing file cannot be
// read as a JSON array.
type CorruptPolicy string

const (
	// CorruptAbort returns ErrCorruptCorpus and leaves the file untouched.
	CorruptAbort CorruptPolicy = "abort"

	// CorruptReset moves the bad file aside and starts an empty corpus.
	CorruptReset CorruptPolicy = "reset"
)

// Post is a single interview experience post as consumed by the mobile app.
type Post struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Link       string         `json:"link"`
	Category   topic.Category `json:"category"`
	Summary    string         `json:"summary"`
	Content    string         `json:"content"`
	Tags       []string       `json:"tags"`
	UpdateTime string         `json:"update_time"`
}

// MergeResult summarizes a Merge call.
type MergeResult struct {
	Total   int  // records in the file after the merge
	Added   int  // new records appended
	Skipped int  // candidates dropped for an empty or already present ID
	Reset   bool // a corrupt file was moved aside
}

// Store reads and writes the corpus file.
type Store struct {
	path      string
	onCorrupt CorruptPolicy
	now       func() time.Time
}

// NewStore creates a store for the corpus file at path.
func NewStore(path string, onCorrupt CorruptPolicy) (*Store, error) {
	if onCorrupt == "" {
		onCorrupt = CorruptAbort
	}
	if onCorrupt != CorruptAbort && onCorrupt != CorruptReset {
		return nil, ErrInvalidOnCorrupt
	}

	return &Store{
		path:      path,
		onCorrupt: onCorrupt,
		now:       time.Now,
	}, nil
}

// Path returns the corpus file location.
func (s *Store) Path() string {
	return s.path
}

// Load decodes every record in the corpus. A missing file yields an empty
// slice.
func (s *Store) Load() ([]Post, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Post{}, nil
		}
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}

	var posts []Post
	if err := json.Unmarshal(data, &posts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCorpus, err)
	}
	if posts == nil {
		return nil, ErrCorruptCorpus
	}

	return posts, nil
}

// Merge appends every post whose ID is not already in the corpus and
// rewrites the file. Existing records are written back exactly as read,
// including fields this package does not know about.
func (s *Store) Merge(posts []Post) (MergeResult, error) {
	var result MergeResult

	existing, err := s.readRaw()
	if errors.Is(err, ErrCorruptCorpus) && s.onCorrupt == CorruptReset {
		if moveErr := s.moveAside(); moveErr != nil {
			return result, moveErr
		}
		existing, err = nil, nil
		result.Reset = true
	}
	if err != nil {
		return result, err
	}

	seen := make(map[string]bool, len(existing)+len(posts))
	for _, raw := range existing {
		if id, ok := recordID(raw); ok {
			seen[id] = true
		}
	}

	records := make([]any, 0, len(existing)+len(posts))
	for _, raw := range existing {
		records = append(records, raw)
	}
	for _, post := range posts {
		if post.ID == "" || seen[post.ID] {
			result.Skipped++
			continue
		}
		seen[post.ID] = true
		records = append(records, post)
		result.Added++
	}
	result.Total = len(records)

	if err := s.write(records); err != nil {
		return result, err
	}

	return result, nil
}

// readRaw returns the existing records without decoding them.
func (s *Store) readRaw() ([]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No corpus yet (not an error)
		}
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCorpus, err)
	}
	if records == nil {
		// The file held a JSON null
		return nil, ErrCorruptCorpus
	}

	return records, nil
}

// recordID extracts the string id of a raw record.
func recordID(raw json.RawMessage) (string, bool) {
	var head struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", false
	}
	id, ok := head.ID.(string)
	return id, ok
}

// moveAside renames the corpus file so a reset never loses data.
func (s *Store) moveAside() error {
	target := fmt.Sprintf("%s.corrupt-%s", s.path, s.now().Format("20060102-150405"))
	if err := os.Rename(s.path, target); err != nil {
		return fmt.Errorf("failed to move corrupt corpus aside: %w", err)
	}
	return nil
}

// write replaces the corpus file atomically.
func (s *Store) write(records []any) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create corpus directory: %w", err)
	}

	// Non-ASCII text is written verbatim with a two-space indent
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to marshal corpus: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write corpus: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync corpus: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close corpus: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to set corpus permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace corpus: %w", err)
	}

	return nil
}

// CountByCategory tallies posts per topic.
func CountByCategory(posts []Post) map[topic.Category]int {
	counts := make(map[topic.Category]int)
	for _, post := range posts {
		counts[post.Category]++
	}
	return counts
}
