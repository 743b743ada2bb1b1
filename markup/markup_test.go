package markup

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func TestSanitize_StripsExecutableContent(t *testing.T) {
	s := NewSanitizer()
	out, err := s.Sanitize([]byte(`<html><head><title>t</title><style>p{}</style></head>
<body><script>alert(1)</script><p onclick="x()" style="color: red">Hello <b>world</b></p></body></html>`), nil)
	require.NoError(t, err)

	assert.NotContains(t, out, "script")
	assert.NotContains(t, out, "alert")
	assert.NotContains(t, out, "onclick")
	assert.NotContains(t, out, "<title>")
	assert.Contains(t, out, "<b>world</b>")
	assert.Contains(t, out, "color")
}

func TestSanitize_LinksBecomeText(t *testing.T) {
	s := NewSanitizer()
	out, err := s.Sanitize([]byte(`<p>See <a href="https://example.com/x">the docs</a> or <a href="https://example.com/y">https://example.com/y</a>.</p>`), nil)
	require.NoError(t, err)

	assert.NotContains(t, out, "<a")
	assert.Contains(t, out, "the docs (https://example.com/x)")
	assert.Equal(t, 1, strings.Count(out, "https://example.com/y"))
}

func TestSanitize_Images(t *testing.T) {
	s := NewSanitizer()
	resolve := func(id string) (string, []byte, bool) {
		if id == "logo@x" {
			return "image/png", []byte{0x89, 'P', 'N', 'G'}, true
		}
		return "", nil, false
	}
	out, err := s.Sanitize([]byte(`<div><img src="cid:logo@x" alt="Logo"><img src="https://tracker.example/p.gif" alt="pixel"><img src="cid:missing"></div>`), resolve)
	require.NoError(t, err)

	assert.Contains(t, out, `src="data:image/png;base64,`)
	assert.NotContains(t, out, "tracker.example")
	assert.Contains(t, out, "[pixel]")
	assert.Contains(t, out, "[image]")
}

func TestSanitize_RejectsNUL(t *testing.T) {
	s := NewSanitizer()
	_, err := s.Sanitize([]byte("<p>a\x00b</p>"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestSanitize_KeepsTableSpans(t *testing.T) {
	s := NewSanitizer()
	out, err := s.Sanitize([]byte(`<table><tr><td colspan="2">x</td></tr></table>`), nil)
	require.NoError(t, err)
	assert.Contains(t, out, `colspan="2"`)
}

func TestSplit(t *testing.T) {
	s := NewSplitter(0, 0, nil)
	parts := s.Split(`<p>one</p>  <p>two</p>loose <b>text</b><table><tr><td>x</td></tr></table>`)
	require.Len(t, parts, 4)
	assert.Equal(t, "<p>one</p>", parts[0])
	assert.Equal(t, "<p>two</p>", parts[1])
	assert.Equal(t, "<div>loose <b>text</b></div>", parts[2])
	assert.True(t, strings.HasPrefix(parts[3], "<table>"))

	assert.Empty(t, s.Split("   "))
}

func paragraphs(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "<p>paragraph %d</p>", i)
	}
	return b.String()
}

func assertFits(t *testing.T, s *Splitter, parts []string, maxLines int) {
	t.Helper()
	for i, p := range parts {
		assert.LessOrEqual(t, s.Lines(Text(p)), maxLines, "part %d: %s", i, p)
	}
}

func TestSplit_DescendsIntoWrappers(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"div", "<div>" + paragraphs(200) + "</div>"},
		{"nested", "<center><div><blockquote>" + paragraphs(200) + "</blockquote></div></center>"},
		{"layout table", "<table><tbody><tr><td>" + paragraphs(200) + "</td></tr></tbody></table>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSplitter(20, 95, nil)
			parts := s.Split(tt.src)
			require.Len(t, parts, 200)
			assert.Equal(t, "<p>paragraph 0</p>", parts[0])
			assert.Equal(t, "<p>paragraph 199</p>", parts[199])
			assertFits(t, s, parts, 20)
		})
	}
}

func TestSplit_TableRowsStayInTables(t *testing.T) {
	var b strings.Builder
	b.WriteString("<table><thead><tr><th>h</th></tr></thead><tbody>")
	for i := 0; i < 49; i++ {
		fmt.Fprintf(&b, "<tr><td>r%d</td></tr>", i)
	}
	b.WriteString("</tbody></table>")

	s := NewSplitter(20, 95, nil)
	parts := s.Split(b.String())
	require.Len(t, parts, 3)
	for _, p := range parts {
		assert.True(t, strings.HasPrefix(p, "<table>"), p)
		assert.True(t, strings.HasSuffix(p, "</table>"), p)
	}
	assert.Contains(t, parts[0], "<th>h</th>")
	assert.Contains(t, parts[2], "r48")
	assertFits(t, s, parts, 20)
}

func TestSplit_OrderedListKeepsNumbering(t *testing.T) {
	var b strings.Builder
	b.WriteString("<ol>")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "<li>item %d</li>", i)
	}
	b.WriteString("</ol>")

	s := NewSplitter(20, 95, nil)
	parts := s.Split(b.String())
	require.Len(t, parts, 2)
	assert.True(t, strings.HasPrefix(parts[0], "<ol><li>item 0</li>"))
	assert.True(t, strings.HasPrefix(parts[1], `<ol start="21"><li>item 20</li>`), parts[1])
}

func TestSplit_LongPreformattedText(t *testing.T) {
	lines := make([]string, 100)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i)
	}
	lines[50] = strings.Repeat("x", 95*30)

	s := NewSplitter(20, 95, nil)
	parts := s.Split("<pre>" + strings.Join(lines, "\n") + "</pre>")
	require.Greater(t, len(parts), 5)
	var text strings.Builder
	for _, p := range parts {
		assert.True(t, strings.HasPrefix(p, "<pre>"), p)
		text.WriteString(Text(p))
	}
	assert.Contains(t, text.String(), "line 0\n")
	assert.Contains(t, text.String(), "line 99\n")
	assert.Equal(t, 95*30, strings.Count(text.String(), "x"))
	assertFits(t, s, parts, 20)
}

func TestSplit_LongParagraphKeepsEveryWord(t *testing.T) {
	src := "<div><p>" + strings.TrimSpace(strings.Repeat("word ", 3000)) + "</p></div>"

	s := NewSplitter(20, 95, nil)
	parts := s.Split(src)
	require.Greater(t, len(parts), 1)
	words := 0
	for _, p := range parts {
		assert.True(t, strings.HasPrefix(p, "<p>"), p)
		words += strings.Count(p, "word")
	}
	assert.Equal(t, 3000, words)
	assertFits(t, s, parts, 20)
}

func TestSplit_UnrenderableNodeKeepsText(t *testing.T) {
	var logs bytes.Buffer
	s := NewSplitter(0, 0, slog.New(slog.NewTextHandler(&logs, nil)))

	p := &html.Node{Type: html.ElementNode, Data: "p", DataAtom: atom.P}
	p.AppendChild(&html.Node{Type: html.TextNode, Data: "kept <text>"})
	p.AppendChild(&html.Node{Type: html.ErrorNode, Data: "bad"})

	sp := &split{Splitter: s}
	sp.nodes([]*html.Node{p})
	require.Len(t, sp.out, 1)
	assert.Contains(t, sp.out[0], "kept &lt;text&gt;")
	assert.Contains(t, logs.String(), "could not be rendered")
}

func TestText(t *testing.T) {
	assert.Equal(t, "a\nb\n", Text("<p>a</p><p>b</p>"))
}
