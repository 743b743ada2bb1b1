package render

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arathald/mbox-to-pdf/failure"
	"github.com/arathald/mbox-to-pdf/model"
)

func newTestRenderer(opts Options) *Renderer {
	return New(opts, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func baseMessage() *model.Message {
	return &model.Message{
		ID:        "m1@example.com",
		From:      "Alice <alice@example.com>",
		To:        "bob@example.com",
		Subject:   "Quarterly numbers",
		Date:      time.Date(2008, 1, 4, 15, 4, 0, 0, time.UTC),
		DateKnown: true,
		TextBody:  "Hello Bob,\n\nsee attached.",
	}
}

func joined(m Message) string {
	var b strings.Builder
	for _, blk := range m.Blocks {
		b.WriteString(blk.HTML)
		b.WriteByte('\n')
	}
	return b.String()
}

func classes(m Message) []string {
	out := make([]string, len(m.Blocks))
	for i, b := range m.Blocks {
		out[i] = b.Class
	}
	return out
}

func TestRender_Header(t *testing.T) {
	msg := baseMessage()
	msg.InReplyTo = "parent@example.com"
	msg.References = []string{"root@example.com", "parent@example.com"}

	out := newTestRenderer(Options{}).Render(msg, nil)
	require.NotEmpty(t, out.Blocks)

	header := out.Blocks[0]
	assert.Equal(t, "email-header", header.Class)
	assert.Contains(t, header.HTML, "Friday, January 04, 2008 at 03:04 PM")
	assert.Contains(t, header.HTML, "2008-01-04T15:04:00Z")
	assert.Contains(t, header.HTML, "Alice &lt;alice@example.com&gt;")
	assert.Contains(t, header.HTML, "&lt;m1@example.com&gt;")
	assert.Contains(t, header.HTML, "In-Reply-To:")
	assert.Contains(t, header.HTML, "&lt;root@example.com&gt; &lt;parent@example.com&gt;")
	assert.NotContains(t, header.HTML, "CC:")
	assert.NotContains(t, joined(out), "thread-attribution")
}

func TestRender_AbsentFieldsDoNotFail(t *testing.T) {
	out := newTestRenderer(Options{}).Render(&model.Message{ID: "x"}, nil)
	assert.Contains(t, out.Blocks[0].HTML, "Date:</span> <span class=\"header-value\">Unknown")
	assert.Contains(t, joined(out), "no-body")
}

func TestRender_AttributionWhenParentResolves(t *testing.T) {
	parent := baseMessage()
	parent.ID = "parent@example.com"
	child := baseMessage()
	child.ID = "child@example.com"
	child.InReplyTo = parent.ID

	index := map[string]*model.Message{parent.ID: parent}
	lookup := func(id string) (*model.Message, bool) {
		m, ok := index[id]
		return m, ok
	}

	out := newTestRenderer(Options{}).Render(child, lookup)
	require.Equal(t, "thread-attribution", out.Blocks[0].Class)
	assert.True(t, out.Blocks[0].KeepWithNext)
	assert.Contains(t, out.Blocks[0].HTML, "Quarterly numbers")

	child.InReplyTo = "elsewhere@example.com"
	out = newTestRenderer(Options{}).Render(child, lookup)
	assert.Equal(t, "email-header", out.Blocks[0].Class)
}

func TestRender_MarkupBodyTakesPrecedence(t *testing.T) {
	msg := baseMessage()
	msg.HTMLBody = `<p>Rich <b>body</b></p><script>alert(1)</script><p>see <img src="cid:logo@x" alt="logo"></p>`
	msg.Related = map[string]*model.Attachment{
		"logo@x": {MediaType: "image/png", Data: []byte("png")},
	}

	out := newTestRenderer(Options{}).Render(msg, nil)
	all := joined(out)
	assert.Contains(t, all, "html-body")
	assert.Contains(t, all, "<b>body</b>")
	assert.Contains(t, all, "data:image/png;base64,")
	assert.NotContains(t, all, "plaintext-body")
	assert.NotContains(t, all, "Hello Bob")
	assert.NotContains(t, all, "alert")
}

func TestRender_PlainTextPreserved(t *testing.T) {
	out := newTestRenderer(Options{}).Render(baseMessage(), nil)
	assert.Contains(t, joined(out), "<pre class=\"plaintext-body\">Hello Bob,\n\nsee attached.</pre>")
}

func TestRender_LongBodyIsChunked(t *testing.T) {
	msg := baseMessage()
	lines := make([]string, 130)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i)
	}
	msg.TextBody = strings.Join(lines, "\n")

	r := newTestRenderer(Options{PageLines: 20})
	out := r.Render(msg, nil)
	var body []Block
	for _, b := range out.Blocks {
		if b.Class == "plaintext-body" {
			body = append(body, b)
		}
	}
	require.Len(t, body, 8)
	total := 0
	for _, b := range body {
		assert.LessOrEqual(t, b.Lines, 18)
		total += b.Lines
	}
	assert.Equal(t, 130, total)
}

func wrappedParagraphs(n int) string {
	var b strings.Builder
	b.WriteString("<html><body><div>")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "<p>paragraph %d</p>", i)
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

func blocksOf(m Message, class string) []Block {
	var out []Block
	for _, b := range m.Blocks {
		if b.Class == class {
			out = append(out, b)
		}
	}
	return out
}

func TestRender_WrappedMarkupBodyIsSplit(t *testing.T) {
	msg := baseMessage()
	msg.TextBody = ""
	msg.HTMLBody = wrappedParagraphs(200)

	r := newTestRenderer(Options{})
	body := blocksOf(r.Render(msg, nil), "html-body")
	require.Len(t, body, 200)
	for _, b := range body {
		assert.LessOrEqual(t, b.Lines, r.maxBlockLines())
	}
	assert.Contains(t, body[199].HTML, "paragraph 199")
}

func TestRender_MarkupAttachmentIsSplit(t *testing.T) {
	r := newTestRenderer(Options{PageLines: 20})
	clean, err := r.sanitizer.Sanitize([]byte(wrappedParagraphs(60)), nil)
	require.NoError(t, err)

	blocks := r.Fragment(&model.Document{Markup: clean})
	require.Len(t, blocks, 60)
	for _, b := range blocks {
		assert.Equal(t, "attachment-html", b.Class)
		assert.LessOrEqual(t, b.Lines, 18)
	}
}

func TestRender_LongLineIsCut(t *testing.T) {
	msg := baseMessage()
	msg.TextBody = strings.Repeat("y", DefaultCharsPerLine*120)

	r := newTestRenderer(Options{})
	body := blocksOf(r.Render(msg, nil), "plaintext-body")
	require.Len(t, body, 3)
	total := 0
	for _, b := range body {
		assert.LessOrEqual(t, b.Lines, r.maxBlockLines())
		total += b.Lines
	}
	assert.Equal(t, 120, total)
}

func TestRender_Attachments(t *testing.T) {
	msg := baseMessage()
	msg.Attachments = []*model.Attachment{
		{
			Index: 0, Filename: "data.csv", MediaType: "text/csv", Size: 10,
			Fragment: &model.Table{Sheets: []model.Sheet{{HeaderRows: 1, Rows: [][]model.Cell{
				{{Value: "a"}, {Value: "b"}},
				{{Value: "1"}, {Value: "2"}},
			}}}},
		},
		{
			Index: 1, Filename: "locked.xlsx", MediaType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", Size: 2048,
			Error: &model.ClassifiedError{Kind: model.ErrorPasswordProtected, Message: failure.Message(model.ErrorPasswordProtected)},
			Reference: &model.Reference{Filename: "locked.xlsx", MediaType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", Size: 2048},
		},
		{
			Index: 2, Filename: "song.mp3", MediaType: "audio/mpeg", Size: 3 << 20,
			Fragment: &model.Reference{Filename: "song.mp3", MediaType: "audio/mpeg", Size: 3 << 20},
		},
	}

	out := newTestRenderer(Options{}).Render(msg, nil)
	assert.Equal(t, []string{
		"email-header", "plaintext-body", "attachments-section",
		"attachment-name", "attachment-table",
		"attachment-name", "attachment-error", "attachment-reference",
		"attachment-name", "attachment-reference",
	}, classes(out))

	list := out.Blocks[2]
	assert.Equal(t, "attachments-section", list.Class)
	assert.Contains(t, list.HTML, "Rendered as a table.")
	assert.Contains(t, list.HTML, failure.Message(model.ErrorPasswordProtected))
	assert.Contains(t, list.HTML, "3.0 MiB")
	assert.Less(t, strings.Index(list.HTML, "data.csv"), strings.Index(list.HTML, "locked.xlsx"))
	assert.Less(t, strings.Index(list.HTML, "locked.xlsx"), strings.Index(list.HTML, "song.mp3"))

	assert.Contains(t, out.Blocks[4].HTML, "<thead><tr><th>a</th><th>b</th></tr></thead>")
	assert.Contains(t, out.Blocks[7].HTML, "locked.xlsx")
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "Not processed.", Outcome(&model.Attachment{}))
	assert.Equal(t, "Listed for reference.", Outcome(&model.Attachment{Fragment: &model.Reference{}}))
	assert.Equal(t, "Rendered as an image.", Outcome(&model.Attachment{Fragment: &model.Image{}}))
}

func TestSize(t *testing.T) {
	assert.Equal(t, "0 B", Size(0))
	assert.Equal(t, "1.0 KiB", Size(1024))
}
