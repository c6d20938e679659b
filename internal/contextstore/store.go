package contextstore

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one turn of interaction history shared across job executions.
type Entry struct {
	Seq       int64     `json:"seq"`
	Source    string    `json:"source"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a file-backed append-only log. Each entry is its own JSON file
// named by zero-padded sequence number, written via temp file + rename so
// readers never see a partial entry. Pruning removes oldest entries once the
// count or age bound is exceeded and never reorders what remains.
type Store struct {
	dir        string
	maxEntries int
	maxAge     time.Duration

	mu      sync.RWMutex
	nextSeq int64

	pruneWG sync.WaitGroup
}

// New opens (or creates) the store rooted at dir and resumes the sequence
// from whatever entries already exist on disk.
func New(dir string, maxEntries int, maxAge time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create context directory: %w", err)
	}

	s := &Store{
		dir:        dir,
		maxEntries: maxEntries,
		maxAge:     maxAge,
	}

	names, err := s.entryFiles()
	if err != nil {
		return nil, err
	}
	if len(names) > 0 {
		last := names[len(names)-1]
		var seq int64
		if _, err := fmt.Sscanf(last, "%d.json", &seq); err == nil {
			s.nextSeq = seq + 1
		}
	}

	return s, nil
}

// Append adds an entry at the end of the log. Pruning runs in the background
// and never blocks the caller.
func (s *Store) Append(source, content string) error {
	s.mu.Lock()
	seq := s.nextSeq
	s.nextSeq++

	entry := Entry{
		Seq:       seq,
		Source:    source,
		Content:   content,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	tmpPath := filepath.Join(s.dir, "."+uuid.New().String()+".tmp")
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to write entry: %w", err)
	}

	finalPath := filepath.Join(s.dir, fmt.Sprintf("%012d.json", seq))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		s.mu.Unlock()
		return fmt.Errorf("failed to commit entry: %w", err)
	}
	s.mu.Unlock()

	s.pruneWG.Add(1)
	go func() {
		defer s.pruneWG.Done()
		if err := s.Prune(); err != nil {
			log.Printf("Context prune failed: %v", err)
		}
	}()

	return nil
}

// Load returns the most recent limit entries in insertion order. limit <= 0
// returns everything. Reads hold a shared lock for the whole scan, so a
// concurrent prune cannot remove a file out from under the caller.
func (s *Store) Load(limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names, err := s.entryFiles()
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(names) > limit {
		names = names[len(names)-limit:]
	}

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read entry %s: %w", name, err)
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			// Skip corrupt entries rather than failing the whole load
			log.Printf("Skipping corrupt context entry %s: %v", name, err)
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// Prune enforces the retention bounds, removing oldest entries first.
func (s *Store) Prune() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.entryFiles()
	if err != nil {
		return err
	}

	drop := 0
	if s.maxEntries > 0 && len(names) > s.maxEntries {
		drop = len(names) - s.maxEntries
	}

	if s.maxAge > 0 {
		cutoff := time.Now().Add(-s.maxAge)
		for i := drop; i < len(names); i++ {
			info, err := os.Stat(filepath.Join(s.dir, names[i]))
			if err != nil || info.ModTime().After(cutoff) {
				break
			}
			drop = i + 1
		}
	}

	for _, name := range names[:drop] {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return fmt.Errorf("failed to prune entry %s: %w", name, err)
		}
	}

	return nil
}

// Len returns the number of entries currently on disk.
func (s *Store) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names, err := s.entryFiles()
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// Close waits for any in-flight background prunes to finish.
func (s *Store) Close() error {
	s.pruneWG.Wait()
	return nil
}

func (s *Store) entryFiles() ([]string, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list context directory: %w", err)
	}

	names := make([]string, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			continue
		}
		names = append(names, d.Name())
	}
	sort.Strings(names)
	return names, nil
}
