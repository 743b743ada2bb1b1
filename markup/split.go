package markup

import (
	"bytes"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const defaultCharsPerLine = 95

// Splitter breaks sanitized markup into blocks a paginator can place.
// Elements taller than a page are descended into: containers yield their
// children, tables and lists yield runs of rows or items, and anything else
// falls back to its text in page-sized chunks.
type Splitter struct {
	maxLines     int
	charsPerLine int
	logger       *slog.Logger
}

// NewSplitter returns a splitter for pages of maxLines lines. A maxLines of
// zero keeps every top-level node whole.
func NewSplitter(maxLines, charsPerLine int, logger *slog.Logger) *Splitter {
	if charsPerLine <= 0 {
		charsPerLine = defaultCharsPerLine
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Splitter{maxLines: maxLines, charsPerLine: charsPerLine, logger: logger}
}

// Lines estimates the printed height of text.
func (s *Splitter) Lines(text string) int {
	n := 0
	for _, l := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		runes := utf8.RuneCountInString(l)
		if runes == 0 {
			n++
			continue
		}
		n += (runes + s.charsPerLine - 1) / s.charsPerLine
	}
	return n
}

// Split returns the blocks of sanitized. Whitespace-only text between blocks
// is dropped; inline runs are wrapped in a div.
func (s *Splitter) Split(sanitized string) []string {
	nodes, err := html.ParseFragment(strings.NewReader(sanitized), bodyContext())
	if err != nil {
		if strings.TrimSpace(sanitized) == "" {
			return nil
		}
		return []string{sanitized}
	}
	sp := &split{Splitter: s}
	sp.nodes(nodes)
	return sp.out
}

type split struct {
	*Splitter
	out    []string
	inline []*html.Node
}

func (s *split) fits(text string) bool {
	return s.maxLines <= 0 || s.Lines(text) <= s.maxLines
}

func (s *split) nodes(list []*html.Node) {
	for _, n := range list {
		if isBlock(n) {
			s.flushInline()
			s.block(n)
			continue
		}
		s.inline = append(s.inline, n)
	}
	s.flushInline()
}

func (s *split) flushInline() {
	nodes := s.inline
	s.inline = nil
	s.inlineRun("div", nodes)
}

func (s *split) block(n *html.Node) {
	if s.fits(nodeText(n)) {
		s.out = append(s.out, s.render(n))
		return
	}
	switch n.DataAtom {
	case atom.Div, atom.Center, atom.Blockquote, atom.Li:
		s.nodes(children(n))
	case atom.Table:
		s.table(n)
	case atom.Ul, atom.Ol:
		s.list(n)
	default:
		s.inlineRun(n.Data, children(n))
	}
}

// inlineRun wraps consecutive nodes in tag, starting a new block whenever the
// next node would overflow the page.
func (s *split) inlineRun(tag string, nodes []*html.Node) {
	var buf, text strings.Builder
	emit := func() {
		if strings.TrimSpace(buf.String()) != "" {
			s.out = append(s.out, "<"+tag+">"+buf.String()+"</"+tag+">")
		}
		buf.Reset()
		text.Reset()
	}
	for _, n := range nodes {
		t := nodeText(n)
		if !s.fits(t) {
			emit()
			s.chunkText(tag, t)
			continue
		}
		if !s.fits(text.String() + t) {
			emit()
		}
		buf.WriteString(s.render(n))
		text.WriteString(t)
	}
	emit()
}

func (s *split) table(n *html.Node) {
	var rows []string
	var text strings.Builder
	emit := func() {
		if len(rows) > 0 {
			s.out = append(s.out, "<table>"+strings.Join(rows, "")+"</table>")
		}
		rows = nil
		text.Reset()
	}
	for _, row := range tableRows(n) {
		t := nodeText(row)
		if row.DataAtom != atom.Tr {
			emit()
			s.nodes(children(row))
			continue
		}
		if !s.fits(t) {
			emit()
			for c := row.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode {
					s.nodes(children(c))
				} else {
					s.nodes([]*html.Node{c})
				}
			}
			continue
		}
		if !s.fits(text.String() + t) {
			emit()
		}
		rows = append(rows, s.render(row))
		text.WriteString(t)
	}
	emit()
}

// tableRows flattens row groups. Captions are returned as they are.
func tableRows(table *html.Node) []*html.Node {
	var rows []*html.Node
	for c := table.FirstChild; c != nil; c = c.NextSibling {
		switch c.DataAtom {
		case atom.Tr, atom.Caption:
			rows = append(rows, c)
		case atom.Thead, atom.Tbody, atom.Tfoot:
			for r := c.FirstChild; r != nil; r = r.NextSibling {
				if r.DataAtom == atom.Tr {
					rows = append(rows, r)
				}
			}
		}
	}
	return rows
}

func (s *split) list(n *html.Node) {
	next := 1
	if v, err := strconv.Atoi(attr(n, "start")); err == nil {
		next = v
	}
	first := next
	var items []string
	var text strings.Builder
	emit := func() {
		if len(items) > 0 {
			open := "<" + n.Data + ">"
			if n.DataAtom == atom.Ol && first != 1 {
				open = fmt.Sprintf(`<ol start="%d">`, first)
			}
			s.out = append(s.out, open+strings.Join(items, "")+"</"+n.Data+">")
		}
		items = nil
		text.Reset()
		first = next
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		t := nodeText(c)
		if c.Type == html.TextNode && strings.TrimSpace(t) == "" {
			continue
		}
		if !s.fits(t) {
			emit()
			s.nodes(children(c))
			next++
			first = next
			continue
		}
		if !s.fits(text.String() + t) {
			emit()
		}
		items = append(items, s.render(c))
		text.WriteString(t)
		next++
	}
	emit()
}

// chunkText splits text that cannot be placed as markup into page-sized
// blocks. Preformatted text keeps its line breaks; other text is rewrapped.
func (s *split) chunkText(tag string, text string) {
	width := max(s.maxLines, 1) * s.charsPerLine
	if tag != "pre" {
		for _, piece := range wrapWords(strings.Fields(text), width) {
			s.out = append(s.out, "<"+tag+">"+html.EscapeString(piece)+"</"+tag+">")
		}
		return
	}

	var chunk []string
	used := 0
	flush := func() {
		if body := strings.Join(chunk, "\n"); strings.TrimSpace(body) != "" {
			s.out = append(s.out, "<pre>"+html.EscapeString(body)+"</pre>")
		}
		chunk, used = nil, 0
	}
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		for _, piece := range cutRunes(line, width) {
			n := s.Lines(piece)
			if used > 0 && used+n > s.maxLines {
				flush()
			}
			chunk = append(chunk, piece)
			used += n
		}
	}
	flush()
}

func (s *split) render(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		s.logger.Warn("markup element could not be rendered, keeping its text", "element", n.Data, "err", err)
		return html.EscapeString(nodeText(n))
	}
	return buf.String()
}

func children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

// wrapWords joins words into pieces of at most width runes.
func wrapWords(words []string, width int) []string {
	var out []string
	var cur strings.Builder
	curLen := 0
	for _, w := range words {
		for _, piece := range cutRunes(w, width) {
			n := utf8.RuneCountInString(piece)
			if curLen > 0 && curLen+1+n > width {
				out = append(out, cur.String())
				cur.Reset()
				curLen = 0
			}
			if curLen > 0 {
				cur.WriteByte(' ')
				curLen++
			}
			cur.WriteString(piece)
			curLen += n
		}
	}
	if curLen > 0 {
		out = append(out, cur.String())
	}
	return out
}

// cutRunes splits s into pieces of at most width runes.
func cutRunes(s string, width int) []string {
	if width <= 0 || utf8.RuneCountInString(s) <= width {
		return []string{s}
	}
	var out []string
	runes := []rune(s)
	for len(runes) > width {
		out = append(out, string(runes[:width]))
		runes = runes[width:]
	}
	return append(out, string(runes))
}
