package handler

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/arathald/mbox-to-pdf/failure"
	"github.com/arathald/mbox-to-pdf/model"
)

type sheetHandler struct {
	maxCells    int
	maxUnpacked int64
}

// Render reads every worksheet's cached cell values. Formulas are never
// recalculated; charts, pivot caches and macros are not read.
func (h sheetHandler) Render(ctx context.Context, in Input) (model.Fragment, error) {
	if _, err := openPackage(in.Data, "xl/workbook.xml", h.maxUnpacked); err != nil {
		return nil, err
	}

	f, err := excelize.OpenReader(bytes.NewReader(in.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", failure.ErrCorrupted, err)
	}
	defer f.Close()

	table := &model.Table{}
	total := 0
	var firstErr error
	for _, name := range f.GetSheetList() {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}
		budget := 0
		if h.maxCells > 0 {
			budget = max(h.maxCells-total, 1)
		}
		sheet, used, err := readSheet(f, name, budget)
		if err != nil {
			// Chart sheets and other non-grid sheets have no rows to read.
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += used
		table.Sheets = append(table.Sheets, sheet)
	}

	if len(table.Sheets) == 0 && firstErr != nil {
		return nil, fmt.Errorf("%w: %v", failure.ErrCorrupted, firstErr)
	}
	return table, nil
}

func readSheet(f *excelize.File, name string, budget int) (model.Sheet, int, error) {
	sheet := model.Sheet{Name: name}

	rows, err := f.GetRows(name)
	if err != nil {
		return sheet, 0, fmt.Errorf("read sheet %q: %w", name, err)
	}

	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}

	merges, err := f.GetMergeCells(name)
	if err != nil {
		return sheet, 0, fmt.Errorf("read merged cells of %q: %w", name, err)
	}
	type span struct{ col, row, cols, rows int }
	var spans []span
	for _, m := range merges {
		c1, r1, err1 := excelize.CellNameToCoordinates(m.GetStartAxis())
		c2, r2, err2 := excelize.CellNameToCoordinates(m.GetEndAxis())
		if err1 != nil || err2 != nil || c2 < c1 || r2 < r1 {
			continue
		}
		spans = append(spans, span{col: c1 - 1, row: r1 - 1, cols: c2 - c1 + 1, rows: r2 - r1 + 1})
		width = max(width, c2)
		for len(rows) < r2 {
			rows = append(rows, nil)
		}
	}

	used := 0
	bold := make(map[int]bool)
	for r, row := range rows {
		if budget > 0 && used+width > budget && r > 0 {
			sheet.Truncated = true
			break
		}
		line := make([]model.Cell, width)
		for c := range line {
			if c < len(row) {
				line[c].Value = row[c]
			}
			if line[c].Value == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				continue
			}
			line[c].Bold = isBold(f, name, cell, bold)
		}
		sheet.Rows = append(sheet.Rows, line)
		used += width
	}

	for _, s := range spans {
		if s.row >= len(sheet.Rows) {
			continue
		}
		sheet.Rows[s.row][s.col].ColSpan = s.cols
		sheet.Rows[s.row][s.col].RowSpan = s.rows
		for r := s.row; r < s.row+s.rows && r < len(sheet.Rows); r++ {
			for c := s.col; c < s.col+s.cols; c++ {
				if r == s.row && c == s.col {
					continue
				}
				sheet.Rows[r][c].Covered = true
			}
		}
	}

	if len(sheet.Rows) > 1 && allBold(sheet.Rows[0]) {
		sheet.HeaderRows = 1
	}
	return sheet, used, nil
}

func isBold(f *excelize.File, sheet, cell string, cache map[int]bool) bool {
	idx, err := f.GetCellStyle(sheet, cell)
	if err != nil || idx == 0 {
		return false
	}
	if b, ok := cache[idx]; ok {
		return b
	}
	style, err := f.GetStyle(idx)
	b := err == nil && style != nil && style.Font != nil && style.Font.Bold
	cache[idx] = b
	return b
}

func allBold(row []model.Cell) bool {
	seen := false
	for _, c := range row {
		if c.Value == "" || c.Covered {
			continue
		}
		if !c.Bold {
			return false
		}
		seen = true
	}
	return seen
}
