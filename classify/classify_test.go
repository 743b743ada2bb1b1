package classify

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arathald/mbox-to-pdf/model"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func TestClassify(t *testing.T) {
	pngData := pngBytes(t)
	csvData := []byte("a;b;c\n1;2;3\n")

	tests := []struct {
		name      string
		data      []byte
		mediaType string
		filename  string
		want      model.Format
	}{
		{"declared csv", csvData, "text/csv", "data.csv", model.FormatDelimitedTable},
		{"declared with params", csvData, "text/csv; charset=utf-8", "", model.FormatDelimitedTable},
		{"generic falls back to extension", csvData, "application/octet-stream", "report.csv", model.FormatDelimitedTable},
		{"text/plain refined by extension", csvData, "text/plain", "report.csv", model.FormatDelimitedTable},
		{"xlsx declared", []byte("PK\x03\x04"), "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "a.xlsx", model.FormatSpreadsheet},
		{"docx by extension only", nil, "", "letter.DOCX", model.FormatDocument},
		{"mp3 is opaque", []byte("ID3\x03\x00"), "audio/mpeg", "song.mp3", model.FormatOpaque},
		{"pdf is opaque", []byte("%PDF-1.4\n"), "application/pdf", "doc.pdf", model.FormatOpaque},
		{"svg is opaque", []byte("<svg/>"), "image/svg+xml", "logo.svg", model.FormatOpaque},
		{"html declared", []byte("<p>x</p>"), "text/html", "page.html", model.FormatMarkup},
		{"image declared", pngData, "image/png", "a.png", model.FormatImage},
		{"contradiction resolved by signature", pngData, "application/pdf", "photo.png", model.FormatImage},
		{"contradiction keeps declared without signature", []byte{0x01, 0x02, 0x00}, "image/png", "photo.docx", model.FormatImage},
		{"signature only png", pngData, "", "", model.FormatImage},
		{"signature only text", []byte("hello\nworld\n"), "", "", model.FormatText},
		{"signature only html", []byte("<!DOCTYPE html><html></html>"), "application/octet-stream", "", model.FormatMarkup},
		{"nothing known", []byte{0x00, 0x01, 0x02, 0x03}, "", "blob", model.FormatOpaque},
		{"empty", nil, "", "", model.FormatOpaque},
		{"malformed media type", csvData, ";;;", "x.csv", model.FormatDelimitedTable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.data, tt.mediaType, tt.filename))
		})
	}
}

func TestFromMediaType_Generic(t *testing.T) {
	for _, mt := range []string{"", "application/octet-stream", "APPLICATION/OCTET-STREAM", "application/x-download"} {
		_, ok, _ := FromMediaType(mt)
		assert.False(t, ok, mt)
	}
	f, ok, _ := FromMediaType("video/mp4")
	assert.True(t, ok)
	assert.Equal(t, model.FormatOpaque, f)
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF([]byte("%PDF-1.7\n%...")))
	assert.False(t, IsPDF([]byte("PK\x03\x04")))
}
