package render

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/arathald/mbox-to-pdf/model"
)

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// table renders each sheet as one or more table blocks. Header rows are
// repeated at the top of every chunk.
func (r *Renderer) table(t *model.Table) []Block {
	var out []Block
	for _, sheet := range t.Sheets {
		if sheet.Name != "" {
			out = append(out, Block{
				Class:        "sheet-name",
				HTML:         fmt.Sprintf(`<h4 class="sheet-name">%s</h4>`, esc(sheet.Name)),
				Lines:        2,
				KeepWithNext: true,
			})
		}
		out = append(out, r.sheet(sheet)...)
		if sheet.Truncated {
			out = append(out, Block{
				Class: "table-truncated",
				HTML:  `<p class="table-truncated">Only the first rows of this table are shown.</p>`,
				Lines: 1,
			})
		}
	}
	return out
}

func (r *Renderer) sheet(s model.Sheet) []Block {
	headerRows := min(s.HeaderRows, len(s.Rows))
	head := s.Rows[:headerRows]
	body := s.Rows[headerRows:]

	headLines := 0
	for _, row := range head {
		headLines += r.rowLines(row)
	}
	limit := max(r.maxBlockLines()-headLines-1, 1)

	var out []Block
	start, used := 0, 0
	emit := func(end int) {
		out = append(out, Block{
			Class: "attachment-table",
			HTML:  renderTable(head, body[start:end]),
			Lines: headLines + used + 1,
		})
		start, used = end, 0
	}
	// spanEnd is the last row reached by a vertical merge; chunks never end
	// inside one.
	spanEnd := -1
	for i, row := range body {
		n := r.rowLines(row)
		if used > 0 && used+n > limit && i > spanEnd {
			emit(i)
		}
		used += n
		for _, c := range row {
			if !c.Covered && c.RowSpan > 1 {
				spanEnd = max(spanEnd, i+c.RowSpan-1)
			}
		}
	}
	if start < len(body) || len(out) == 0 {
		emit(len(body))
	}
	return out
}

func (r *Renderer) rowLines(row []model.Cell) int {
	var n int
	for _, c := range row {
		n += len([]rune(c.Value)) + 3
	}
	return max((n+r.opts.CharsPerLine-1)/r.opts.CharsPerLine, 1)
}

func renderTable(head, body [][]model.Cell) string {
	var b strings.Builder
	b.WriteString(`<table class="attachment-table">`)
	if len(head) > 0 {
		b.WriteString("<thead>")
		writeRows(&b, head, "th")
		b.WriteString("</thead>")
	}
	b.WriteString("<tbody>")
	writeRows(&b, body, "td")
	b.WriteString("</tbody></table>")
	return b.String()
}

func writeRows(b *strings.Builder, rows [][]model.Cell, tag string) {
	for i, row := range rows {
		b.WriteString("<tr>")
		for _, c := range row {
			if c.Covered {
				continue
			}
			b.WriteString("<" + tag)
			if c.ColSpan > 1 {
				fmt.Fprintf(b, ` colspan="%d"`, c.ColSpan)
			}
			if span := min(c.RowSpan, len(rows)-i); span > 1 {
				fmt.Fprintf(b, ` rowspan="%d"`, span)
			}
			if c.Bold && tag == "td" {
				b.WriteString(` class="bold"`)
			}
			b.WriteString(">")
			b.WriteString(esc(c.Value))
			b.WriteString("</" + tag + ">")
		}
		b.WriteString("</tr>")
	}
}

// document renders extracted word-processor blocks, one block each.
func (r *Renderer) document(d *model.Document) []Block {
	var out []Block
	counters := map[int]int{}
	for _, blk := range d.Blocks {
		if blk.Kind != model.BlockListItem {
			clear(counters)
		}
		inner := spans(blk.Spans)
		var el string
		lines := r.wrapped(blk.Text())
		keep := false

		switch blk.Kind {
		case model.BlockHeading:
			level := min(max(blk.Level, 1), 6)
			el = fmt.Sprintf(`<h%d class="doc-heading">%s</h%d>`, level, inner, level)
			lines++
			keep = true
		case model.BlockListItem:
			level := max(blk.Level, 1)
			for l := range counters {
				if l > level {
					delete(counters, l)
				}
			}
			marker := "&#8226;"
			if blk.Ordered {
				counters[level]++
				marker = fmt.Sprintf("%d.", counters[level])
			}
			el = fmt.Sprintf(`<p class="doc-list-item" style="margin-left: %dem">%s %s</p>`, 2*level, marker, inner)
		case model.BlockTableRow:
			el = fmt.Sprintf(`<p class="doc-table-row">%s</p>`, inner)
		default:
			el = fmt.Sprintf(`<p>%s</p>`, inner)
		}
		out = append(out, Block{
			Class:        "attachment-docx",
			HTML:         `<div class="attachment-docx">` + el + `</div>`,
			Lines:        lines,
			KeepWithNext: keep,
		})
	}
	return out
}

func spans(ss []model.Span) string {
	var b strings.Builder
	for _, s := range ss {
		text := esc(s.Text)
		if s.Underline {
			text = "<u>" + text + "</u>"
		}
		if s.Italic {
			text = "<em>" + text + "</em>"
		}
		if s.Bold {
			text = "<strong>" + text + "</strong>"
		}
		b.WriteString(text)
	}
	return b.String()
}
