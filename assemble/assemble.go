// Package assemble paginates rendered messages into the documents of one
// period group.
package assemble

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/arathald/mbox-to-pdf/engine"
	"github.com/arathald/mbox-to-pdf/render"
)

const subjectLimit = 60

type Options struct {
	PageLines int
	// MaxPagesPerFile splits a group into numbered parts on message
	// boundaries. Zero keeps every group in one file.
	MaxPagesPerFile int
}

// Page holds blocks of exactly one message.
type Page struct {
	MessageID string
	Marker    string
	Blocks    []render.Block
}

// Part is one output document.
type Part struct {
	Name       string
	PeriodKey  string
	Pages      []Page
	MessageIDs []string
}

type Assembler struct {
	opts Options
}

func New(opts Options) *Assembler {
	if opts.PageLines <= 0 {
		opts.PageLines = render.DefaultPageLines
	}
	if opts.MaxPagesPerFile < 0 {
		opts.MaxPagesPerFile = 0
	}
	return &Assembler{opts: opts}
}

// ContinuationMarker labels page number of total of a multi-page message.
func ContinuationMarker(subject string, page, total int) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "(no subject)"
	}
	if utf8.RuneCountInString(subject) > subjectLimit {
		subject = string([]rune(subject)[:subjectLimit]) + "..."
	}
	return fmt.Sprintf("Subject: %s (continued - page %d of %d)", subject, page, total)
}

// Paginate places the blocks of one message on pages. The first page starts
// fresh; every later page reserves a line for its continuation marker. Blocks
// are never split. A block marked KeepWithNext moves to the next page
// together with its successor when both would not fit.
func (a *Assembler) Paginate(m render.Message) []Page {
	var pages [][]render.Block
	var cur []render.Block
	used := 0
	capacity := func() int {
		if len(pages) == 0 {
			return a.opts.PageLines
		}
		return a.opts.PageLines - 1
	}

	for i, b := range m.Blocks {
		need := b.Lines
		if b.KeepWithNext && i+1 < len(m.Blocks) {
			if joint := need + m.Blocks[i+1].Lines; joint <= a.opts.PageLines-1 {
				need = joint
			}
		}
		if len(cur) > 0 && used+need > capacity() {
			pages = append(pages, cur)
			cur, used = nil, 0
		}
		cur = append(cur, b)
		used += b.Lines
	}
	if len(cur) > 0 || len(pages) == 0 {
		pages = append(pages, cur)
	}

	out := make([]Page, len(pages))
	for i, blocks := range pages {
		out[i] = Page{MessageID: m.ID, Blocks: blocks}
		if i > 0 {
			out[i].Marker = ContinuationMarker(m.Subject, i+1, len(pages))
		}
	}
	return out
}

// Assemble lays out msgs in order. Each message begins on a new page.
func (a *Assembler) Assemble(periodKey string, msgs []render.Message) []Part {
	var parts []Part
	cur := Part{PeriodKey: periodKey}
	for _, m := range msgs {
		pages := a.Paginate(m)
		if a.opts.MaxPagesPerFile > 0 && len(cur.Pages) > 0 && len(cur.Pages)+len(pages) > a.opts.MaxPagesPerFile {
			parts = append(parts, cur)
			cur = Part{PeriodKey: periodKey}
		}
		cur.Pages = append(cur.Pages, pages...)
		cur.MessageIDs = append(cur.MessageIDs, m.ID)
	}
	if len(cur.Pages) > 0 {
		parts = append(parts, cur)
	}

	for i := range parts {
		parts[i].Name = periodKey
		if len(parts) > 1 {
			parts[i].Name = fmt.Sprintf("%s_part-%d", periodKey, i+1)
		}
	}
	return parts
}

// Fingerprint hashes the structural content of the part.
func (p Part) Fingerprint() string {
	h := sha256.New()
	io.WriteString(h, p.Name)
	for _, page := range p.Pages {
		fmt.Fprintf(h, "\x00page\x00%s\x00%s", page.MessageID, page.Marker)
		for _, b := range page.Blocks {
			io.WriteString(h, "\x00")
			io.WriteString(h, b.HTML)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Document converts the part into engine input. The footer is the only field
// expected to differ between runs.
func (p Part) Document(footer string) engine.Document {
	doc := engine.Document{
		Title:  p.Name,
		Pages:  make([]engine.Page, len(p.Pages)),
		Footer: footer,
		Layout: engine.DefaultLayout(),
	}
	for i, page := range p.Pages {
		var body strings.Builder
		for _, b := range page.Blocks {
			body.WriteString(b.HTML)
			body.WriteByte('\n')
		}
		doc.Pages[i] = engine.Page{
			MessageID: page.MessageID,
			Header:    page.Marker,
			Body:      body.String(),
			First:     i == 0 || p.Pages[i-1].MessageID != page.MessageID,
		}
	}
	return doc
}
