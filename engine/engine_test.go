package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument(footer string) Document {
	return Document{
		Title: "2008-01",
		Pages: []Page{
			{MessageID: "a@x", Body: "<p>first</p>", First: true},
			{MessageID: "a@x", Header: "Subject: Hi (continued - page 2 of 2)", Body: "<p>second &amp; last</p>"},
		},
		Footer: footer,
	}
}

func TestHTML_Render(t *testing.T) {
	out, err := NewHTML().Render(context.Background(), sampleDocument("Generated 2026-01-01"))
	require.NoError(t, err)

	doc := string(out)
	assert.Contains(t, doc, "size: letter;")
	assert.Contains(t, doc, "margin: 1in 0.75in;")
	assert.Equal(t, 2, strings.Count(doc, `<section class="page`))
	assert.Contains(t, doc, `<section class="page message-start" data-message-id="a@x" data-page="1">`)
	assert.Contains(t, doc, `<div class="continuation">Subject: Hi (continued - page 2 of 2)</div>`)
	assert.Contains(t, doc, "<p>second &amp; last</p>")
	assert.Contains(t, doc, `<footer class="generated">Generated 2026-01-01</footer>`)
}

func TestHTML_FooterIsOnlyDifference(t *testing.T) {
	e := NewHTML()
	a, err := e.Render(context.Background(), sampleDocument("one"))
	require.NoError(t, err)
	b, err := e.Render(context.Background(), sampleDocument("two"))
	require.NoError(t, err)

	strip := func(s string) string {
		return s[:strings.Index(s, `<footer`)]
	}
	assert.Equal(t, strip(string(a)), strip(string(b)))
}

func TestHTML_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHTML().Render(ctx, sampleDocument(""))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.html")

	require.NoError(t, WriteAtomic(path, []byte("v1")))
	require.NoError(t, WriteAtomic(path, []byte("v2")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
