package handler

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/arathald/mbox-to-pdf/failure"
	"github.com/arathald/mbox-to-pdf/model"
)

const documentPart = "word/document.xml"

type documentHandler struct {
	maxUnpacked int64
}

// Render extracts paragraphs, headings, list items and flattened table rows
// from a WordprocessingML package in document order. Drawings, headers,
// footers, footnotes and deleted revisions are not extracted.
func (h documentHandler) Render(ctx context.Context, in Input) (model.Fragment, error) {
	zr, err := openPackage(in.Data, documentPart, h.maxUnpacked)
	if err != nil {
		return nil, err
	}

	p := &docParser{
		ordered:  map[string]map[int]bool{},
		headings: map[string]int{},
	}
	if f := findFile(zr, "word/numbering.xml"); f != nil {
		if err := p.loadNumbering(f); err != nil {
			return nil, err
		}
	}
	if f := findFile(zr, "word/styles.xml"); f != nil {
		if err := p.loadStyles(f); err != nil {
			return nil, err
		}
	}

	rc, err := findFile(zr, documentPart).Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", failure.ErrCorrupted, documentPart, err)
	}
	defer rc.Close()

	if err := p.parse(ctx, rc); err != nil {
		return nil, err
	}
	return &model.Document{Blocks: p.blocks}, nil
}

func findFile(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

type paragraph struct {
	style   string
	outline int
	numID   string
	ilvl    int
	spans   []model.Span
}

type docParser struct {
	// numId -> list level -> ordered
	ordered  map[string]map[int]bool
	headings map[string]int

	blocks []model.DocBlock

	para     *paragraph
	run      model.Span
	inRun    bool
	inRunPr  bool
	inParaPr bool
	inNumPr  bool
	inText   bool

	tableDepth int
	row        []string
	cell       []string
}

func (p *docParser) parse(ctx context.Context, r io.Reader) error {
	dec := xml.NewDecoder(r)
	for n := 0; ; n++ {
		if n%4096 == 0 {
			if err := checkCtx(ctx); err != nil {
				return err
			}
		}
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %v", failure.ErrCorrupted, documentPart, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if err := p.start(dec, t); err != nil {
				return fmt.Errorf("%w: %s: %v", failure.ErrCorrupted, documentPart, err)
			}
		case xml.EndElement:
			p.end(t)
		case xml.CharData:
			if p.inText && p.para != nil {
				p.appendText(string(t))
			}
		}
	}
}

func (p *docParser) start(dec *xml.Decoder, t xml.StartElement) error {
	switch t.Name.Local {
	case "drawing", "pict", "object", "del", "instrText", "footnoteReference", "endnoteReference", "commentReference", "fldChar":
		return dec.Skip()
	case "tbl":
		p.tableDepth++
	case "tr":
		if p.tableDepth == 1 {
			p.row = nil
		}
	case "tc":
		if p.tableDepth == 1 {
			p.cell = nil
		}
	case "p":
		p.para = &paragraph{outline: -1}
	case "pPr":
		p.inParaPr = true
	case "pStyle":
		if p.para != nil && p.inParaPr {
			p.para.style = val(t)
		}
	case "outlineLvl":
		if p.para != nil && p.inParaPr {
			if n, err := strconv.Atoi(val(t)); err == nil {
				p.para.outline = n
			}
		}
	case "numPr":
		p.inNumPr = true
	case "ilvl":
		if p.para != nil && p.inNumPr {
			p.para.ilvl, _ = strconv.Atoi(val(t))
		}
	case "numId":
		if p.para != nil && p.inNumPr {
			p.para.numID = val(t)
		}
	case "r":
		p.inRun = true
		p.run = model.Span{}
	case "rPr":
		if p.inRun && !p.inParaPr {
			p.inRunPr = true
		}
	case "b":
		if p.inRunPr {
			p.run.Bold = on(t)
		}
	case "i":
		if p.inRunPr {
			p.run.Italic = on(t)
		}
	case "u":
		if p.inRunPr {
			p.run.Underline = on(t)
		}
	case "t":
		p.inText = p.inRun
	case "tab":
		if p.inRun && !p.inParaPr && p.para != nil {
			p.appendText("\t")
		}
	case "br", "cr":
		if p.inRun && p.para != nil {
			p.appendText(" ")
		}
	}
	return nil
}

func (p *docParser) end(t xml.EndElement) {
	switch t.Name.Local {
	case "t":
		p.inText = false
	case "r":
		p.inRun = false
	case "rPr":
		p.inRunPr = false
	case "pPr":
		p.inParaPr = false
	case "numPr":
		p.inNumPr = false
	case "p":
		p.finishParagraph()
	case "tc":
		if p.tableDepth == 1 {
			p.row = append(p.row, strings.Join(p.cell, " "))
			p.cell = nil
		}
	case "tr":
		if p.tableDepth == 1 {
			p.blocks = append(p.blocks, model.DocBlock{
				Kind:  model.BlockTableRow,
				Spans: []model.Span{{Text: strings.Join(p.row, " | ")}},
			})
			p.row = nil
		}
	case "tbl":
		p.tableDepth--
	}
}

func (p *docParser) appendText(s string) {
	span := p.run
	span.Text = s
	if n := len(p.para.spans); n > 0 {
		last := &p.para.spans[n-1]
		if last.Bold == span.Bold && last.Italic == span.Italic && last.Underline == span.Underline {
			last.Text += s
			return
		}
	}
	p.para.spans = append(p.para.spans, span)
}

func (p *docParser) finishParagraph() {
	para := p.para
	p.para = nil
	if para == nil {
		return
	}

	if p.tableDepth > 0 {
		var b strings.Builder
		for _, s := range para.spans {
			b.WriteString(s.Text)
		}
		if text := strings.TrimSpace(b.String()); text != "" {
			p.cell = append(p.cell, text)
		}
		return
	}

	block := model.DocBlock{Kind: model.BlockParagraph, Spans: para.spans}
	switch {
	case p.headingLevel(para) > 0:
		block.Kind = model.BlockHeading
		block.Level = p.headingLevel(para)
	case para.numID != "" && para.numID != "0":
		block.Kind = model.BlockListItem
		block.Level = para.ilvl + 1
		block.Ordered = p.ordered[para.numID][para.ilvl]
	}

	if strings.TrimSpace(block.Text()) == "" {
		return
	}
	p.blocks = append(p.blocks, block)
}

func (p *docParser) headingLevel(para *paragraph) int {
	if level, ok := p.headings[para.style]; ok {
		return level
	}
	if level := styleHeadingLevel(para.style, para.style); level > 0 {
		return level
	}
	if para.outline >= 0 && para.outline < 9 {
		return para.outline + 1
	}
	return 0
}

// styleHeadingLevel recognizes built-in heading styles by id or name.
func styleHeadingLevel(id, name string) int {
	for _, s := range []string{id, name} {
		s = strings.ToLower(strings.ReplaceAll(s, " ", ""))
		switch {
		case s == "title":
			return 1
		case strings.HasPrefix(s, "heading"):
			if n, err := strconv.Atoi(strings.TrimPrefix(s, "heading")); err == nil && n >= 1 && n <= 9 {
				return n
			}
		}
	}
	return 0
}

type numberingXML struct {
	Abstract []struct {
		ID     string `xml:"abstractNumId,attr"`
		Levels []struct {
			Level  string `xml:"ilvl,attr"`
			NumFmt struct {
				Val string `xml:"val,attr"`
			} `xml:"numFmt"`
		} `xml:"lvl"`
	} `xml:"abstractNum"`
	Nums []struct {
		ID       string `xml:"numId,attr"`
		Abstract struct {
			Val string `xml:"val,attr"`
		} `xml:"abstractNumId"`
	} `xml:"num"`
}

func (p *docParser) loadNumbering(f *zip.File) error {
	var doc numberingXML
	if err := decodePart(f, &doc); err != nil {
		return err
	}
	formats := make(map[string]map[int]bool, len(doc.Abstract))
	for _, a := range doc.Abstract {
		levels := make(map[int]bool, len(a.Levels))
		for _, l := range a.Levels {
			n, err := strconv.Atoi(l.Level)
			if err != nil {
				continue
			}
			levels[n] = l.NumFmt.Val != "" && l.NumFmt.Val != "bullet" && l.NumFmt.Val != "none"
		}
		formats[a.ID] = levels
	}
	for _, n := range doc.Nums {
		p.ordered[n.ID] = formats[n.Abstract.Val]
	}
	return nil
}

type stylesXML struct {
	Styles []struct {
		ID   string `xml:"styleId,attr"`
		Name struct {
			Val string `xml:"val,attr"`
		} `xml:"name"`
		Outline *struct {
			Val string `xml:"val,attr"`
		} `xml:"pPr>outlineLvl"`
	} `xml:"style"`
}

func (p *docParser) loadStyles(f *zip.File) error {
	var doc stylesXML
	if err := decodePart(f, &doc); err != nil {
		return err
	}
	for _, s := range doc.Styles {
		if level := styleHeadingLevel(s.ID, s.Name.Val); level > 0 {
			p.headings[s.ID] = level
			continue
		}
		if s.Outline != nil {
			if n, err := strconv.Atoi(s.Outline.Val); err == nil && n >= 0 && n < 9 {
				p.headings[s.ID] = n + 1
			}
		}
	}
	return nil
}

func decodePart(f *zip.File, v any) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", failure.ErrCorrupted, f.Name, err)
	}
	defer rc.Close()
	if err := xml.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("%w: %s: %v", failure.ErrCorrupted, f.Name, err)
	}
	return nil
}

func val(t xml.StartElement) string {
	for _, a := range t.Attr {
		if a.Name.Local == "val" {
			return a.Value
		}
	}
	return ""
}

// on reads a WordprocessingML toggle property; a bare element means true.
func on(t xml.StartElement) bool {
	switch strings.ToLower(val(t)) {
	case "false", "0", "off", "none":
		return false
	}
	return true
}
