package handler

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/arathald/mbox-to-pdf/failure"
	"github.com/arathald/mbox-to-pdf/model"
)

// Delimiters in tie-break priority order.
var Delimiters = []rune{',', '\t', ';'}

type tableHandler struct {
	maxCells int
}

func (h tableHandler) Render(ctx context.Context, in Input) (model.Fragment, error) {
	text, err := decodeText(in.Data, in.Charset)
	if err != nil {
		return nil, err
	}

	best, err := DetectDelimiter(text)
	if err != nil {
		return nil, err
	}
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	sheet := model.Sheet{Rows: toCells(best.Rows, h.maxCells)}
	sheet.Truncated = len(sheet.Rows) < len(best.Rows)
	if len(sheet.Rows) > 1 {
		sheet.HeaderRows = 1
	}
	return &model.Table{Delimiter: best.Delimiter, Sheets: []model.Sheet{sheet}}, nil
}

// Candidate is the parse of a payload with one delimiter.
type Candidate struct {
	Delimiter rune
	Rows      [][]string
	Err       error

	// Modal is the most frequent field count; Consistent is how many rows have it.
	Modal      int
	Consistent int
}

func (c Candidate) consistency() float64 {
	if len(c.Rows) == 0 {
		return 0
	}
	return float64(c.Consistent) / float64(len(c.Rows))
}

// DetectDelimiter parses text with every delimiter and returns the best
// candidate. Ranking, in order: parses without error; modal field count
// above one; share of rows matching the modal count; modal count; delimiter
// priority. If every candidate fails to parse, the payload is corrupted.
func DetectDelimiter(text string) (Candidate, error) {
	candidates := make([]Candidate, len(Delimiters))
	for i, d := range Delimiters {
		candidates[i] = parseWith(text, d)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if (a.Err == nil) != (b.Err == nil) {
			return a.Err == nil
		}
		if (a.Modal > 1) != (b.Modal > 1) {
			return a.Modal > 1
		}
		if ca, cb := a.consistency(), b.consistency(); ca != cb {
			return ca > cb
		}
		return a.Modal > b.Modal
	})

	best := candidates[0]
	if best.Err != nil {
		var parseErr *csv.ParseError
		if errors.As(best.Err, &parseErr) {
			return best, fmt.Errorf("%w: line %d: %v", failure.ErrCorrupted, parseErr.Line, parseErr.Err)
		}
		return best, fmt.Errorf("%w: %v", failure.ErrCorrupted, best.Err)
	}
	return best, nil
}

func parseWith(text string, delim rune) Candidate {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	c := Candidate{Delimiter: delim, Rows: rows, Err: err}
	if err != nil {
		return c
	}

	counts := make(map[int]int)
	for _, row := range rows {
		counts[len(row)]++
	}
	for width, n := range counts {
		if n > c.Consistent || (n == c.Consistent && width > c.Modal) {
			c.Modal, c.Consistent = width, n
		}
	}
	return c
}

// toCells pads ragged rows to the widest row and stops once maxCells is reached.
func toCells(rows [][]string, maxCells int) [][]model.Cell {
	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}
	out := make([][]model.Cell, 0, len(rows))
	cells := 0
	for _, row := range rows {
		if maxCells > 0 && cells+width > maxCells && len(out) > 0 {
			break
		}
		line := make([]model.Cell, width)
		for i, v := range row {
			line[i] = model.Cell{Value: v}
		}
		out = append(out, line)
		cells += width
	}
	return out
}
