package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arathald/mbox-to-pdf/failure"
	"github.com/arathald/mbox-to-pdf/model"
)

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		charset  string
		want     string
		wantKind error
	}{
		{"utf8", []byte("héllo"), "", "héllo", nil},
		{"utf8 bom", []byte("\xef\xbb\xbfhi"), "", "hi", nil},
		{"utf16le bom", []byte{0xFF, 0xFE, 'h', 0, 'i', 0}, "", "hi", nil},
		{"utf16be bom", []byte{0xFE, 0xFF, 0, 'h', 0, 'i'}, "", "hi", nil},
		{"declared windows-1252", []byte{'c', 'a', 'f', 0xE9, ' ', 0x80}, "windows-1252", "café €", nil},
		{"declared koi8-r", []byte{0xF0, 0xD2, 0xC9}, "KOI8-R", "При", nil},
		{"unknown charset falls back to latin1", []byte{'n', 0xE4}, "x-bogus", "nä", nil},
		{"no charset falls back to latin1", []byte{0xFC}, "", "ü", nil},
		{"nul bytes", []byte("ab\x00cd"), "", "", failure.ErrEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeText(tt.data, tt.charset)
			if tt.wantKind != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantKind))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTextHandler_PreservesLineBreaks(t *testing.T) {
	frag, err := textHandler{}.Render(context.Background(), Input{Data: []byte("one\r\n  two\n\nfour\n")})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "  two", "", "four"}, frag.(*model.TextBlock).Lines)
}

func TestTextHandler_BinaryIsEncodingError(t *testing.T) {
	_, err := textHandler{}.Render(context.Background(), Input{Data: []byte{0x00, 0x01, 0x02}})
	require.Error(t, err)
	assert.Equal(t, model.ErrorEncoding, failure.Classify(err, model.FormatText))
}
