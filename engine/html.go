package engine

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
)

// HTML renders a self-contained print-ready HTML file with one section per
// page. Page breaks are forced between sections.
type HTML struct {
	tmpl *template.Template
}

func NewHTML() *HTML {
	return &HTML{tmpl: template.Must(template.New("document").Parse(documentTemplate))}
}

func (*HTML) Extension() string { return ".html" }

type pageView struct {
	MessageID string
	Header    string
	Body      template.HTML
	First     bool
	Number    int
}

type documentView struct {
	Title  string
	Style  template.CSS
	Pages  []pageView
	Footer string
}

func (h *HTML) Render(ctx context.Context, doc Document) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	layout := doc.Layout
	if layout == (Layout{}) {
		layout = DefaultLayout()
	}

	view := documentView{
		Title:  doc.Title,
		Style:  template.CSS(fmt.Sprintf(pageRule, layout.PageSize, layout.MarginVertical, layout.MarginHorizontal) + stylesheet),
		Pages:  make([]pageView, len(doc.Pages)),
		Footer: doc.Footer,
	}
	for i, p := range doc.Pages {
		view.Pages[i] = pageView{
			MessageID: p.MessageID,
			Header:    p.Header,
			// Page bodies are produced from sanitized markup and escaped text.
			Body:   template.HTML(p.Body),
			First:  p.First,
			Number: i + 1,
		}
	}

	var buf bytes.Buffer
	if err := h.tmpl.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("render document %q: %w", doc.Title, err)
	}
	return buf.Bytes(), nil
}

const documentTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>{{.Style}}</style>
</head>
<body>
{{range .Pages}}<section class="page{{if .First}} message-start{{end}}" data-message-id="{{.MessageID}}" data-page="{{.Number}}">
{{if .Header}}<div class="continuation">{{.Header}}</div>
{{end}}{{.Body}}</section>
{{end}}<footer class="generated">{{.Footer}}</footer>
</body>
</html>
`

const pageRule = `
@page {
    size: %s;
    margin: %s %s;
}
`

const stylesheet = `
body {
    font-family: "Times New Roman", serif;
    font-size: 10pt;
    line-height: 1.5;
    color: #333;
}
.page {
    page-break-after: always;
    break-after: page;
}
.continuation {
    font-family: Helvetica, sans-serif;
    font-size: 8pt;
    color: #666;
    margin-bottom: 8px;
}
.thread-attribution {
    border-left: 3px solid #999;
    padding-left: 8px;
    margin-bottom: 8px;
    color: #555;
    font-style: italic;
}
.email-header {
    background-color: #f5f5f5;
    border: 1px solid #ddd;
    border-radius: 3px;
    padding: 12px 15px;
    margin-bottom: 20px;
    font-family: monospace;
    font-size: 10pt;
    page-break-inside: avoid;
}
.header-field {
    margin-bottom: 3px;
}
.header-label {
    font-weight: bold;
    color: #555;
}
.header-value {
    color: #222;
    overflow-wrap: break-word;
}
.header-sortable {
    color: #777;
}
.raw-headers,
.plaintext-body,
.attachment-text {
    white-space: pre-wrap;
    overflow-wrap: break-word;
    margin: 0;
}
.raw-headers {
    font-size: 8pt;
}
.plaintext-body {
    font-family: "Times New Roman", serif;
    font-size: 10pt;
    line-height: 1.6;
}
.html-body {
    padding: 0 10px;
}
.attachments-section {
    margin-top: 20px;
    border-top: 1px solid #ddd;
    padding-top: 15px;
    page-break-inside: avoid;
}
.attachments-header {
    font-size: 12pt;
    margin-bottom: 10px;
}
.attachment-name {
    font-family: monospace;
    color: #222;
    font-weight: 500;
    margin: 12px 0 8px 0;
}
.attachment-error {
    color: #8a1c1c;
    margin-bottom: 6px;
}
.attachment-text {
    font-size: 9pt;
}
.attachment-html,
.attachment-docx {
    font-size: 9pt;
    line-height: 1.5;
}
.attachment-html {
    border: 1px solid #eee;
    padding: 8px;
    background-color: #fafafa;
}
.attachment-docx p {
    margin: 0.4em 0;
}
.sheet-name {
    margin: 1em 0 0.5em 0;
    font-size: 10pt;
    font-weight: bold;
}
.attachment-table {
    width: 100%;
    border-collapse: collapse;
    font-size: 8pt;
    margin-bottom: 1em;
}
.attachment-table th,
.attachment-table td {
    border: 1px solid #ddd;
    padding: 3px 6px;
    text-align: left;
}
.attachment-table th,
.attachment-table td.bold {
    background-color: #f5f5f5;
    font-weight: bold;
}
.table-truncated {
    font-style: italic;
    font-size: 8pt;
}
.attachment-image img {
    max-width: 95%;
    height: auto;
}
.attachment-image figcaption {
    font-size: 8pt;
    color: #555;
}
.attachment-reference {
    background-color: #fff3cd;
    border: 1px solid #ffc107;
    padding: 10px;
    border-radius: 3px;
}
.generated {
    font-size: 7pt;
    color: #999;
}
`
