package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arathald/mbox-to-pdf/failure"
	"github.com/arathald/mbox-to-pdf/model"
)

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		delim rune
		cols  int
	}{
		{"comma", "a,b,c\n1,2,3\n4,5,6\n", ',', 3},
		{"tab", "a\tb\n1\t2\n", '\t', 2},
		{"semicolon", "a;b;c;d\n1;2;3;4\n", ';', 4},
		{"semicolon with decimal commas", "price;qty\n1,50;2\n2,75;3\n", ';', 2},
		{"quoted semicolons", "name;note;amount\n\"Smith\";\"a; b; c\";10\n\"Jones\";\"x\";20\n", ';', 3},
		{"single column prefers comma", "alpha\nbeta\n", ',', 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectDelimiter(tt.text)
			require.NoError(t, err)
			assert.Equal(t, string(tt.delim), string(got.Delimiter))
			assert.Equal(t, tt.cols, got.Modal)
		})
	}
}

func TestDetectDelimiter_AllCandidatesFail(t *testing.T) {
	_, err := DetectDelimiter("a,\"b\nc")
	require.Error(t, err)
	assert.Equal(t, model.ErrorCorrupted, failure.Classify(err, model.FormatDelimitedTable))
}

func TestTableHandler_QuotedSemicolons(t *testing.T) {
	data := []byte("name;note;amount\n\"Smith\";\"a; b; c\";10\n\"Jones\";\"say \"\"hi\"\"\";20\n")
	frag, err := tableHandler{}.Render(context.Background(), Input{Data: data, Filename: "x.csv"})
	require.NoError(t, err)

	table := frag.(*model.Table)
	require.Len(t, table.Sheets, 1)
	sheet := table.Sheets[0]
	assert.Equal(t, 1, sheet.HeaderRows)
	require.Len(t, sheet.Rows, 3)
	for _, row := range sheet.Rows {
		assert.Len(t, row, 3)
	}
	assert.Equal(t, "a; b; c", sheet.Rows[1][1].Value)
	assert.Equal(t, `say "hi"`, sheet.Rows[2][1].Value)
}

func TestTableHandler_PadsRaggedRowsAndTruncates(t *testing.T) {
	frag, err := tableHandler{maxCells: 6}.Render(context.Background(), Input{Data: []byte("a,b\n1\n2,3\n4,5\n")})
	require.NoError(t, err)

	sheet := frag.(*model.Table).Sheets[0]
	require.Len(t, sheet.Rows, 3)
	assert.Len(t, sheet.Rows[1], 2)
	assert.Equal(t, "", sheet.Rows[1][1].Value)
	assert.True(t, sheet.Truncated)
}
