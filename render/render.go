// Package render turns a normalized message into an ordered list of markup
// blocks with line estimates a paginator can place.
//
// A message renders as: an optional thread attribution, the header block, an
// optional raw header dump, the body, the attachment list, then each
// attachment's content in declared order. The header block and the attachment
// list are kept together; everything else may break between blocks.
package render

import (
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/arathald/mbox-to-pdf/markup"
	"github.com/arathald/mbox-to-pdf/model"
)

const (
	DefaultPageLines    = 56
	DefaultCharsPerLine = 95

	// contentHeightPx is the printable height of a letter page with one inch
	// top and bottom margins at 96 dpi.
	contentHeightPx = 864

	HumanDateLayout = "Monday, January 02, 2006 at 03:04 PM"
)

// Block is one unit of placement. Lines is the estimated height in text lines.
type Block struct {
	Class        string
	HTML         string
	Lines        int
	KeepWithNext bool
}

// Message is the rendered form of one model.Message.
type Message struct {
	ID      string
	Subject string
	Blocks  []Block
}

// Lines is the total estimated height of the message.
func (m Message) Lines() int {
	n := 0
	for _, b := range m.Blocks {
		n += b.Lines
	}
	return n
}

// Lookup resolves a message id within the current run.
type Lookup func(id string) (*model.Message, bool)

type Options struct {
	PageLines         int
	CharsPerLine      int
	IncludeRawHeaders bool
}

type Renderer struct {
	opts      Options
	sanitizer *markup.Sanitizer
	splitter  *markup.Splitter
	logger    *slog.Logger
}

func New(opts Options, sanitizer *markup.Sanitizer, logger *slog.Logger) *Renderer {
	if opts.PageLines <= 0 {
		opts.PageLines = DefaultPageLines
	}
	if opts.CharsPerLine <= 0 {
		opts.CharsPerLine = DefaultCharsPerLine
	}
	if sanitizer == nil {
		sanitizer = markup.NewSanitizer()
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Renderer{opts: opts, sanitizer: sanitizer, logger: logger}
	r.splitter = markup.NewSplitter(r.maxBlockLines(), opts.CharsPerLine, logger)
	return r
}

// maxBlockLines leaves room for a continuation marker on every page.
func (r *Renderer) maxBlockLines() int {
	return max(r.opts.PageLines-2, 1)
}

// Render produces the blocks for msg. Attachments must already be processed.
func (r *Renderer) Render(msg *model.Message, lookup Lookup) Message {
	out := Message{ID: msg.ID, Subject: msg.Subject}
	add := func(blocks ...Block) { out.Blocks = append(out.Blocks, blocks...) }

	if msg.InReplyTo != "" && lookup != nil {
		if parent, ok := lookup(msg.InReplyTo); ok {
			add(r.attribution(parent))
		}
	}
	add(r.header(msg))
	if r.opts.IncludeRawHeaders && len(msg.Header) > 0 {
		add(r.rawHeaders(msg.Header)...)
	}
	add(r.body(msg)...)
	if len(msg.Attachments) > 0 {
		add(r.attachmentList(msg.Attachments))
		for _, att := range msg.Attachments {
			add(r.attachment(att)...)
		}
	}
	return out
}

func (r *Renderer) attribution(parent *model.Message) Block {
	var b strings.Builder
	b.WriteString(`<div class="thread-attribution">In reply to `)
	fmt.Fprintf(&b, `<span class="thread-subject">%s</span>`, esc(orPlaceholder(parent.Subject, "(no subject)")))
	if parent.From != "" {
		fmt.Fprintf(&b, " from %s", esc(parent.From))
	}
	if parent.DateKnown {
		fmt.Fprintf(&b, ", %s", esc(parent.Date.Format(HumanDateLayout)))
	}
	b.WriteString("</div>")
	return Block{Class: "thread-attribution", HTML: b.String(), Lines: 2, KeepWithNext: true}
}

type field struct {
	label    string
	value    string
	optional bool
}

func (r *Renderer) header(msg *model.Message) Block {
	date := "Unknown"
	if msg.DateKnown {
		date = fmt.Sprintf(`%s <span class="header-sortable">(%s)</span>`,
			esc(msg.Date.Format(HumanDateLayout)), esc(msg.Date.Format(time.RFC3339)))
	}
	refs := make([]string, len(msg.References))
	for i, id := range msg.References {
		refs[i] = angle(id)
	}

	fields := []field{
		{"From", esc(msg.From), false},
		{"To", esc(msg.To), false},
		{"CC", esc(msg.Cc), true},
		{"BCC", esc(msg.Bcc), true},
		{"Subject", esc(msg.Subject), false},
		{"Message-ID", esc(angle(msg.ID)), false},
		{"In-Reply-To", esc(angle(msg.InReplyTo)), true},
		{"References", esc(strings.Join(refs, " ")), true},
		{"X-Mailer", esc(msg.XMailer), true},
	}

	var b strings.Builder
	b.WriteString(`<div class="email-header">`)
	writeField(&b, "Date", date)
	lines := 2 + r.wrapped("Date: "+HumanDateLayout+" (2006-01-02T15:04:05-07:00)")
	for _, f := range fields {
		if f.optional && f.value == "" {
			continue
		}
		writeField(&b, f.label, f.value)
		lines += r.wrapped(f.label + ": " + html.UnescapeString(f.value))
	}
	b.WriteString("</div>")
	return Block{Class: "email-header", HTML: b.String(), Lines: lines}
}

func writeField(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, `<div class="header-field"><span class="header-label">%s:</span> <span class="header-value">%s</span></div>`, label, value)
}

func (r *Renderer) rawHeaders(header map[string][]string) []Block {
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var lines []string
	for _, k := range keys {
		for _, v := range header[k] {
			lines = append(lines, k+": "+v)
		}
	}
	return r.preBlocks("raw-headers", lines)
}

func (r *Renderer) body(msg *model.Message) []Block {
	if msg.HTMLBody != "" {
		clean, err := r.sanitizer.Sanitize([]byte(msg.HTMLBody), relatedResolver(msg.Related))
		if err == nil {
			if blocks := r.markupBlocks("html-body", clean); len(blocks) > 0 {
				return blocks
			}
		} else {
			r.logger.Warn("markup body could not be sanitized", "messageID", msg.ID, "err", err)
		}
		if msg.TextBody == "" {
			return r.preBlocks("plaintext-body", splitLines(msg.HTMLBody))
		}
	}
	if strings.TrimSpace(msg.TextBody) == "" {
		return []Block{{Class: "email-body", HTML: `<p class="no-body">(This message has no body text.)</p>`, Lines: 1}}
	}
	return r.preBlocks("plaintext-body", splitLines(msg.TextBody))
}

func relatedResolver(related map[string]*model.Attachment) markup.Resolver {
	return func(cid string) (string, []byte, bool) {
		att, ok := related[cid]
		if !ok || len(att.Data) == 0 {
			return "", nil, false
		}
		return att.MediaType, att.Data, true
	}
}

func (r *Renderer) attachmentList(atts []*model.Attachment) Block {
	var b strings.Builder
	b.WriteString(`<div class="attachments-section"><h3 class="attachments-header">Attachments</h3><ol class="attachment-list">`)
	lines := 3
	for _, att := range atts {
		item := fmt.Sprintf("%s (%s, %s): %s", att.Filename, Size(att.Size), mediaType(att), Outcome(att))
		fmt.Fprintf(&b, `<li><span class="attachment-name">%s</span> <small>(%s, %s)</small>: <span class="attachment-outcome">%s</span></li>`,
			esc(att.Filename), esc(Size(att.Size)), esc(mediaType(att)), esc(Outcome(att)))
		lines += r.wrapped(item)
	}
	b.WriteString("</ol></div>")
	return Block{Class: "attachments-section", HTML: b.String(), Lines: lines}
}

// Outcome describes what happened to an attachment in one sentence.
func Outcome(att *model.Attachment) string {
	switch {
	case att.Error != nil:
		return att.Error.Message
	case att.Fragment == nil:
		return "Not processed."
	}
	switch att.Fragment.Kind() {
	case model.KindReference:
		return "Listed for reference."
	case model.KindTable:
		return "Rendered as a table."
	case model.KindImage:
		return "Rendered as an image."
	case model.KindDocument:
		return "Rendered as a document."
	default:
		return "Rendered as text."
	}
}

func (r *Renderer) attachment(att *model.Attachment) []Block {
	title := Block{
		Class: "attachment-name",
		HTML: fmt.Sprintf(`<div class="attachment-name">%d. %s <small>(%s)</small></div>`,
			att.Index+1, esc(att.Filename), esc(Size(att.Size))),
		Lines:        2,
		KeepWithNext: true,
	}
	blocks := []Block{title}

	if att.Error != nil {
		blocks = append(blocks, Block{
			Class:        "attachment-error",
			HTML:         fmt.Sprintf(`<div class="attachment-error">%s</div>`, esc(att.Error.Message)),
			Lines:        r.wrapped(att.Error.Message),
			KeepWithNext: true,
		})
		ref := att.Reference
		if ref == nil {
			ref = &model.Reference{Filename: att.Filename, MediaType: mediaType(att), Size: att.Size}
		}
		return append(blocks, r.reference(ref))
	}
	if att.Fragment == nil {
		return append(blocks, r.reference(&model.Reference{Filename: att.Filename, MediaType: mediaType(att), Size: att.Size}))
	}
	return append(blocks, r.Fragment(att.Fragment)...)
}

// Fragment renders one attachment fragment.
func (r *Renderer) Fragment(f model.Fragment) []Block {
	switch f := f.(type) {
	case *model.TextBlock:
		return r.preBlocks("attachment-text", f.Lines)
	case *model.Table:
		return r.table(f)
	case *model.Image:
		return []Block{r.image(f)}
	case *model.Document:
		if f.Markup != "" {
			return r.markupBlocks("attachment-html", f.Markup)
		}
		return r.document(f)
	case *model.Reference:
		return []Block{r.reference(f)}
	}
	return nil
}

func (r *Renderer) reference(ref *model.Reference) Block {
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="attachment-reference"><strong>Attachment:</strong> %s<br/><small>Type: %s | Size: %s</small><br/><em>This attachment is not reproduced in the document.</em>`,
		esc(ref.Filename), esc(ref.MediaType), esc(Size(ref.Size)))
	lines := 4
	for _, a := range ref.Advisory {
		fmt.Fprintf(&b, `<br/><em class="advisory">%s</em>`, esc(a))
		lines += r.wrapped(a)
	}
	b.WriteString("</div>")
	return Block{Class: "attachment-reference", HTML: b.String(), Lines: lines}
}

func (r *Renderer) image(img *model.Image) Block {
	pxPerLine := float64(contentHeightPx) / float64(r.opts.PageLines)
	maxHeight := int(float64(r.maxBlockLines()-1) * pxPerLine)
	w, h := img.DisplayWidth, img.DisplayHeight
	if h > maxHeight && h > 0 {
		w = max(w*maxHeight/h, 1)
		h = maxHeight
	}
	var b strings.Builder
	fmt.Fprintf(&b, `<figure class="attachment-image"><img src="data:%s;base64,%s" width="%d" height="%d" alt="%s"/><figcaption>%s</figcaption></figure>`,
		img.MediaType, encodeBase64(img.Data), w, h, esc(img.Caption), esc(img.Caption))
	lines := int(float64(h)/pxPerLine+0.999) + 1
	return Block{Class: "attachment-image", HTML: b.String(), Lines: min(lines, r.maxBlockLines())}
}

func (r *Renderer) markupBlocks(class, sanitized string) []Block {
	var out []Block
	for _, part := range r.splitter.Split(sanitized) {
		out = append(out, Block{
			Class: class,
			HTML:  fmt.Sprintf(`<div class="%s">%s</div>`, class, part),
			Lines: max(r.splitter.Lines(markup.Text(part)), 1),
		})
	}
	return out
}

// preBlocks splits preformatted lines into page-sized chunks. A line taller
// than a page is cut into page-sized pieces.
func (r *Renderer) preBlocks(class string, lines []string) []Block {
	limit := r.maxBlockLines()
	width := limit * r.opts.CharsPerLine
	var out []Block
	var chunk []string
	used := 0
	flush := func() {
		if len(chunk) == 0 {
			return
		}
		escaped := make([]string, len(chunk))
		for i, l := range chunk {
			escaped[i] = esc(l)
		}
		out = append(out, Block{
			Class: class,
			HTML:  fmt.Sprintf(`<pre class="%s">%s</pre>`, class, strings.Join(escaped, "\n")),
			Lines: used,
		})
		chunk, used = nil, 0
	}
	for _, line := range lines {
		for _, l := range cutLine(line, width) {
			n := r.wrapped(l)
			if used > 0 && used+n > limit {
				flush()
			}
			chunk = append(chunk, l)
			used += n
		}
	}
	flush()
	return out
}

func (r *Renderer) wrapped(line string) int {
	n := utf8.RuneCountInString(line)
	if n == 0 {
		return 1
	}
	return (n + r.opts.CharsPerLine - 1) / r.opts.CharsPerLine
}

func cutLine(line string, width int) []string {
	runes := []rune(line)
	if len(runes) <= width {
		return []string{line}
	}
	var out []string
	for len(runes) > width {
		out = append(out, string(runes[:width]))
		runes = runes[width:]
	}
	return append(out, string(runes))
}

// Size formats a byte count for display.
func Size(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func mediaType(att *model.Attachment) string {
	return orPlaceholder(att.MediaType, "application/octet-stream")
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

func angle(id string) string {
	if id == "" {
		return ""
	}
	return "<" + id + ">"
}

func orPlaceholder(s, placeholder string) string {
	if strings.TrimSpace(s) == "" {
		return placeholder
	}
	return s
}

func esc(s string) string {
	return html.EscapeString(s)
}
