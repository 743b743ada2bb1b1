// Package engine turns assembled pages into a finished artifact.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Layout carries page size and margins as CSS values.
type Layout struct {
	PageSize         string
	MarginVertical   string
	MarginHorizontal string
}

func DefaultLayout() Layout {
	return Layout{PageSize: "letter", MarginVertical: "1in", MarginHorizontal: "0.75in"}
}

// Page is one physical page. Header is the continuation marker, if any, and
// Body is sanitized markup. First marks the first page of a message.
type Page struct {
	MessageID string
	Header    string
	Body      string
	First     bool
}

type Document struct {
	Title  string
	Pages  []Page
	Footer string
	Layout Layout
}

// Engine renders documents. Implementations must be safe for concurrent use.
type Engine interface {
	Render(ctx context.Context, doc Document) ([]byte, error)
	Extension() string
}

// WriteAtomic replaces path with data so readers never observe a partial
// file.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	cleanup := func() { _ = os.Remove(name) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
