// Package state records the artifacts written to an output directory so
// unchanged documents are not rewritten on the next run.
package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ManifestName is the manifest file inside the output directory.
const ManifestName = "manifest.jsonl"

// Entry describes one written artifact.
type Entry struct {
	Period     string    `json:"period"`
	Path       string    `json:"path"`
	SHA256     string    `json:"sha256"`
	Pages      int       `json:"pages"`
	MessageIDs []string  `json:"message_ids"`
	Written    time.Time `json:"written"`
}

type Tracker interface {
	// Unchanged reports whether path was last recorded with sum and still exists.
	Unchanged(path, sum string) bool
	Record(e Entry) error
	Snapshot() Snapshot
}

type Snapshot struct {
	Artifacts int
}

type MemoryTracker struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{entries: make(map[string]Entry)}
}

func (m *MemoryTracker) Unchanged(path, sum string) bool {
	if sum == "" {
		return false
	}
	m.mu.RLock()
	e, ok := m.entries[path]
	m.mu.RUnlock()
	if !ok || e.SHA256 != sum {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func (m *MemoryTracker) Record(e Entry) error {
	if e.Path == "" {
		return nil
	}
	m.mu.Lock()
	m.entries[e.Path] = e
	m.mu.Unlock()
	return nil
}

// Lookup returns the latest entry for path.
func (m *MemoryTracker) Lookup(path string) (Entry, bool) {
	m.mu.RLock()
	e, ok := m.entries[path]
	m.mu.RUnlock()
	return e, ok
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.entries)
	m.mu.RUnlock()
	return Snapshot{Artifacts: count}
}

// FileTracker persists entries as JSON lines. The last line for a path wins.
type FileTracker struct {
	*MemoryTracker
	path    string
	persist bool
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex
}

func NewFileTracker(outputDir string, persist bool) (*FileTracker, error) {
	if strings.TrimSpace(outputDir) == "" {
		return nil, fmt.Errorf("output directory is empty")
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	tracker := &FileTracker{
		MemoryTracker: NewMemoryTracker(),
		path:          filepath.Join(outputDir, ManifestName),
		persist:       persist,
	}

	if err := tracker.load(); err != nil {
		return nil, err
	}

	if persist {
		file, err := os.OpenFile(tracker.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open manifest for append: %w", err)
		}
		tracker.file = file
		tracker.writer = bufio.NewWriterSize(file, 64*1024)
	}

	return tracker, nil
}

func (f *FileTracker) load() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(text, &entry); err != nil {
			return fmt.Errorf("parse manifest line %d: %w", line, err)
		}
		if entry.Path == "" {
			continue
		}

		f.mu.Lock()
		f.entries[entry.Path] = entry
		f.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	return nil
}

func (f *FileTracker) Record(e Entry) error {
	if e.Path == "" {
		return nil
	}

	f.mu.Lock()
	if prev, exists := f.entries[e.Path]; exists && prev.SHA256 == e.SHA256 && prev.Pages == e.Pages {
		f.mu.Unlock()
		return nil
	}
	f.entries[e.Path] = e
	f.mu.Unlock()

	if !f.persist {
		return nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode manifest entry: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write manifest entry: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}

	return nil
}

// Flush writes any buffered data to the underlying file.
func (f *FileTracker) Flush() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if !f.persist || f.file == nil {
		return nil
	}
	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush manifest: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync manifest: %w", err)
	}
	return nil
}

// Close flushes and closes the manifest.
func (f *FileTracker) Close() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if !f.persist || f.file == nil {
		return nil
	}

	var firstErr error
	if f.writer != nil {
		if err := f.writer.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush manifest: %w", err)
		}
	}
	if err := f.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync manifest: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close manifest: %w", err)
	}
	f.file = nil

	return firstErr
}
