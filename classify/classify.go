// Package classify decides which format handler an attachment payload goes to.
//
// The declared media type is trusted first. Generic declarations fall back to
// the filename extension, and when the two disagree (or both are absent) the
// payload signature breaks the tie. Anything without a confident match is
// opaque; classification never fails.
package classify

import (
	"bytes"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/h2non/filetype"

	"github.com/arathald/mbox-to-pdf/model"
)

const sniffLen = 8192

var genericTypes = map[string]bool{
	"":                              true,
	"application/octet-stream":      true,
	"binary/octet-stream":           true,
	"application/binary":            true,
	"application/unknown":           true,
	"application/x-download":        true,
	"application/force-download":    true,
	"application/download":          true,
	"application/x-unknown-content": true,
}

var mediaTypes = map[string]model.Format{
	"text/plain":                  model.FormatText,
	"text/markdown":               model.FormatText,
	"text/x-log":                  model.FormatText,
	"text/rtf":                    model.FormatOpaque,
	"text/calendar":               model.FormatText,
	"text/vcard":                  model.FormatText,
	"text/x-vcard":                model.FormatText,
	"text/csv":                    model.FormatDelimitedTable,
	"text/comma-separated-values": model.FormatDelimitedTable,
	"application/csv":             model.FormatDelimitedTable,
	"text/tab-separated-values":   model.FormatDelimitedTable,
	"text/html":                   model.FormatMarkup,
	"application/xhtml+xml":       model.FormatMarkup,

	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": model.FormatSpreadsheet,
	"application/vnd.ms-excel.sheet.macroenabled.12":                    model.FormatSpreadsheet,
	"application/vnd.ms-excel":                                          model.FormatSpreadsheet,
	"application/vnd.oasis.opendocument.spreadsheet":                    model.FormatSpreadsheet,

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": model.FormatDocument,
	"application/vnd.ms-word.document.macroenabled.12":                        model.FormatDocument,
	"application/msword":                                                      model.FormatDocument,
	"application/vnd.oasis.opendocument.text":                                 model.FormatDocument,

	"application/pdf":  model.FormatOpaque,
	"application/zip":  model.FormatOpaque,
	"image/svg+xml":    model.FormatOpaque,
	"message/rfc822":   model.FormatOpaque,
	"application/json": model.FormatText,
	"application/xml":  model.FormatText,
	"text/xml":         model.FormatText,
}

var extensions = map[string]model.Format{
	".txt":   model.FormatText,
	".text":  model.FormatText,
	".log":   model.FormatText,
	".md":    model.FormatText,
	".json":  model.FormatText,
	".xml":   model.FormatText,
	".ics":   model.FormatText,
	".vcf":   model.FormatText,
	".csv":   model.FormatDelimitedTable,
	".tsv":   model.FormatDelimitedTable,
	".tab":   model.FormatDelimitedTable,
	".xlsx":  model.FormatSpreadsheet,
	".xlsm":  model.FormatSpreadsheet,
	".xls":   model.FormatSpreadsheet,
	".ods":   model.FormatSpreadsheet,
	".docx":  model.FormatDocument,
	".docm":  model.FormatDocument,
	".doc":   model.FormatDocument,
	".odt":   model.FormatDocument,
	".png":   model.FormatImage,
	".jpg":   model.FormatImage,
	".jpeg":  model.FormatImage,
	".gif":   model.FormatImage,
	".bmp":   model.FormatImage,
	".tif":   model.FormatImage,
	".tiff":  model.FormatImage,
	".webp":  model.FormatImage,
	".heic":  model.FormatImage,
	".heif":  model.FormatImage,
	".html":  model.FormatMarkup,
	".htm":   model.FormatMarkup,
	".xhtml": model.FormatMarkup,
}

// opaqueExtensions are recognized formats that are never content-rendered.
var opaqueExtensions = map[string]bool{
	".pdf": true, ".exe": true, ".dll": true, ".so": true, ".dylib": true,
	".zip": true, ".rar": true, ".7z": true, ".tar": true, ".gz": true, ".bz2": true,
	".mp3": true, ".wav": true, ".flac": true, ".aac": true, ".ogg": true, ".wma": true, ".m4a": true,
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".wmv": true, ".flv": true,
	".swf": true, ".jar": true, ".svg": true, ".eml": true, ".ics.gz": true, ".pptx": true, ".ppt": true,
	".dat": true,
}

var signatureExtensions = map[string]model.Format{
	"docx": model.FormatDocument,
	"doc":  model.FormatDocument,
	"xlsx": model.FormatSpreadsheet,
	"xls":  model.FormatSpreadsheet,
	"jpg":  model.FormatImage,
	"png":  model.FormatImage,
	"gif":  model.FormatImage,
	"webp": model.FormatImage,
	"bmp":  model.FormatImage,
	"tif":  model.FormatImage,
	"heif": model.FormatImage,
	"avif": model.FormatImage,
}

// Classify returns the format tag for a payload.
func Classify(data []byte, mediaType, filename string) (format model.Format) {
	defer func() {
		if recover() != nil {
			format = model.FormatOpaque
		}
	}()

	declared, declaredOK, refinable := FromMediaType(mediaType)
	byExt, extOK := FromExtension(filename)

	switch {
	case declaredOK && !extOK:
		return declared
	case declaredOK && byExt == declared:
		return declared
	case declaredOK && refinable && textFamily(byExt):
		return byExt
	case declaredOK:
		// Contradictory declarations: let the content decide between them.
		if sig, ok := FromSignature(data); ok {
			if compatible(sig, declared) {
				return declared
			}
			if compatible(sig, byExt) {
				return byExt
			}
		}
		return declared
	case extOK:
		return byExt
	}

	if sig, ok := FromSignature(data); ok {
		return sig
	}
	return model.FormatOpaque
}

// FromMediaType maps a declared media type. ok is false for missing or
// generic declarations; refinable marks specific-but-weak declarations such as
// text/plain that an extension within the text family may narrow.
func FromMediaType(mediaType string) (format model.Format, ok, refinable bool) {
	mt := normalizeMediaType(mediaType)
	if genericTypes[mt] {
		return model.FormatOpaque, false, false
	}
	if f, found := mediaTypes[mt]; found {
		return f, true, mt == "text/plain"
	}
	switch {
	case strings.HasPrefix(mt, "audio/"), strings.HasPrefix(mt, "video/"):
		return model.FormatOpaque, true, false
	case strings.HasPrefix(mt, "image/"):
		return model.FormatImage, true, false
	case strings.HasPrefix(mt, "text/"):
		return model.FormatText, true, true
	}
	return model.FormatOpaque, false, false
}

// FromExtension maps a filename extension.
func FromExtension(filename string) (model.Format, bool) {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	if ext == "" {
		return model.FormatOpaque, false
	}
	if f, ok := extensions[ext]; ok {
		return f, true
	}
	if opaqueExtensions[ext] {
		return model.FormatOpaque, true
	}
	return model.FormatOpaque, false
}

// FromSignature inspects magic bytes, falling back to a textual sniff.
func FromSignature(data []byte) (model.Format, bool) {
	if len(data) == 0 {
		return model.FormatOpaque, false
	}
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}

	kind, err := filetype.Match(data)
	if err == nil && kind != filetype.Unknown {
		if f, ok := signatureExtensions[kind.Extension]; ok {
			return f, true
		}
		return model.FormatOpaque, true
	}

	if !looksTextual(head) {
		return model.FormatOpaque, false
	}
	trimmed := bytes.ToLower(bytes.TrimSpace(bytes.TrimPrefix(head, []byte("\xef\xbb\xbf"))))
	if bytes.HasPrefix(trimmed, []byte("<!doctype html")) || bytes.HasPrefix(trimmed, []byte("<html")) {
		return model.FormatMarkup, true
	}
	return model.FormatText, true
}

// IsPDF reports whether the payload carries a PDF signature.
func IsPDF(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("%PDF-"))
}

func normalizeMediaType(mediaType string) string {
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		return strings.ToLower(mt)
	}
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func textFamily(f model.Format) bool {
	return f == model.FormatText || f == model.FormatDelimitedTable || f == model.FormatMarkup
}

// compatible treats a textual signature as matching any text-family format.
func compatible(sig, f model.Format) bool {
	if sig == f {
		return true
	}
	return sig == model.FormatText && textFamily(f)
}

func looksTextual(head []byte) bool {
	if bytes.IndexByte(head, 0) >= 0 {
		return false
	}
	if utf8.Valid(head) {
		return true
	}
	// Allow a truncated trailing rune and legacy 8-bit text.
	control := 0
	for _, b := range head {
		if b < 0x09 || (b > 0x0d && b < 0x20) {
			control++
		}
	}
	return control*20 < len(head)
}
