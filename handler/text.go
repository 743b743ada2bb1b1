package handler

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/arathald/mbox-to-pdf/failure"
	"github.com/arathald/mbox-to-pdf/model"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

type textHandler struct{}

func (textHandler) Render(ctx context.Context, in Input) (model.Fragment, error) {
	text, err := decodeText(in.Data, in.Charset)
	if err != nil {
		return nil, err
	}
	return &model.TextBlock{Lines: splitLines(text)}, nil
}

// decodeText tries a byte-order mark, then UTF-8, then the declared charset,
// and finally Latin-1, which maps every byte to a rune. Payloads containing
// NUL bytes outside a UTF-16 encoding are rejected.
func decodeText(data []byte, declared string) (string, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return strings.ToValidUTF8(string(data[len(bomUTF8):]), "�"), nil
	case bytes.HasPrefix(data, bomUTF16LE):
		return decodeWith(unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM), data)
	case bytes.HasPrefix(data, bomUTF16BE):
		return decodeWith(unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM), data)
	}

	if bytes.IndexByte(data, 0) >= 0 {
		return "", fmt.Errorf("%w: NUL bytes in text payload", failure.ErrEncoding)
	}
	if utf8.Valid(data) {
		return string(data), nil
	}

	if enc := lookupCharset(declared); enc != nil {
		if s, err := decodeWith(enc, data); err == nil {
			return s, nil
		}
	}
	return decodeWith(charmap.ISO8859_1, data)
}

func decodeWith(enc encoding.Encoding, data []byte) (string, error) {
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", failure.ErrEncoding, err)
	}
	return string(out), nil
}

// lookupCharset resolves a charset label. UTF-8 labels are ignored since
// invalid UTF-8 has already been detected by the caller.
func lookupCharset(label string) encoding.Encoding {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" || label == "utf-8" || label == "utf8" || label == "us-ascii" {
		return nil
	}
	enc, err := ianaindex.MIME.Encoding(label)
	if err != nil || enc == nil {
		enc, err = ianaindex.IANA.Encoding(label)
	}
	if err != nil {
		return nil
	}
	return enc
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return []string{}
	}
	return strings.Split(text, "\n")
}
