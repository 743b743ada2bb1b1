package failure

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"io"
	"testing"

	"github.com/arathald/mbox-to-pdf/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		format model.Format
		want   model.ErrorKind
	}{
		{"nil", nil, model.FormatText, model.ErrorCorrupted},
		{"wrapped oversize", fmt.Errorf("%w: 10 bytes", ErrOversize), model.FormatImage, model.ErrorOversize},
		{"password wins over corrupted", errors.Join(ErrCorrupted, ErrPasswordProtected), model.FormatSpreadsheet, model.ErrorPasswordProtected},
		{"variant wins over format", errors.Join(ErrUnsupportedFormat, ErrUnsupportedVariant), model.FormatDocument, model.ErrorUnsupportedVariant},
		{"oversize wins over encoding", errors.Join(ErrEncoding, ErrOversize), model.FormatText, model.ErrorOversize},
		{"missing capability", fmt.Errorf("lookup: %w", ErrMissingCapability), model.FormatImage, model.ErrorMissingCapability},
		{"deadline", fmt.Errorf("decode: %w", context.DeadlineExceeded), model.FormatImage, model.ErrorOversize},
		{"zip algorithm", zip.ErrAlgorithm, model.FormatDocument, model.ErrorUnsupportedVariant},
		{"zip format", fmt.Errorf("open: %w", zip.ErrFormat), model.FormatDocument, model.ErrorCorrupted},
		{"zip checksum", zip.ErrChecksum, model.FormatSpreadsheet, model.ErrorCorrupted},
		{"truncated", io.ErrUnexpectedEOF, model.FormatImage, model.ErrorCorrupted},
		{"image format", image.ErrFormat, model.FormatImage, model.ErrorUnsupportedVariant},
		{"csv parse", &csv.ParseError{StartLine: 2, Line: 2, Column: 3, Err: csv.ErrQuote}, model.FormatDelimitedTable, model.ErrorCorrupted},
		{"xml syntax", fmt.Errorf("document.xml: %w", &xml.SyntaxError{Msg: "unexpected end element", Line: 3}), model.FormatDocument, model.ErrorCorrupted},
		{"text mentions password", errors.New("workbook requires a password"), model.FormatSpreadsheet, model.ErrorPasswordProtected},
		{"text mentions encrypted", errors.New("file is encrypted"), model.FormatDocument, model.ErrorPasswordProtected},
		{"text mentions unsupported", errors.New("compression method not supported"), model.FormatDocument, model.ErrorUnsupportedVariant},
		{"text mentions limit", errors.New("row count exceeds sheet limit"), model.FormatSpreadsheet, model.ErrorOversize},
		{"charset on text", errors.New("unknown charset x-foo"), model.FormatText, model.ErrorEncoding},
		{"charset on markup", errors.New("bad encoding label"), model.FormatMarkup, model.ErrorEncoding},
		{"charset on table", errors.New("unknown charset x-foo"), model.FormatDelimitedTable, model.ErrorEncoding},
		{"charset on image", errors.New("unknown charset x-foo"), model.FormatImage, model.ErrorCorrupted},
		{"anything else", errors.New("boom"), model.FormatText, model.ErrorCorrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err, tt.format); got != tt.want {
				t.Errorf("Classify(%v, %s) = %q, want %q", tt.err, tt.format, got, tt.want)
			}
		})
	}
}

func TestMessage(t *testing.T) {
	if len(messages) != len(Kinds) {
		t.Fatalf("messages has %d entries, Kinds has %d", len(messages), len(Kinds))
	}
	seen := make(map[string]model.ErrorKind)
	for _, kind := range Kinds {
		msg := Message(kind)
		if msg == "" {
			t.Errorf("Message(%q) is empty", kind)
		}
		if prev, ok := seen[msg]; ok {
			t.Errorf("Message(%q) duplicates Message(%q)", kind, prev)
		}
		seen[msg] = kind
	}
	if got := Message(model.ErrorKind("unknown")); got != Message(model.ErrorCorrupted) {
		t.Errorf("Message(unknown) = %q, want the corrupted sentence", got)
	}
}

func TestNew(t *testing.T) {
	att := &model.Attachment{Index: 2, Filename: "locked.xlsx"}
	ce := New(fmt.Errorf("open: %w", ErrPasswordProtected), model.FormatSpreadsheet, "m1@example.com", att)

	if ce.Kind != model.ErrorPasswordProtected {
		t.Errorf("Kind = %q, want %q", ce.Kind, model.ErrorPasswordProtected)
	}
	if ce.Message != Message(model.ErrorPasswordProtected) {
		t.Errorf("Message = %q", ce.Message)
	}
	if ce.MessageID != "m1@example.com" || ce.AttachmentIndex != 2 || ce.Filename != "locked.xlsx" {
		t.Errorf("unexpected record %+v", ce)
	}

	if ce := New(errors.New("boom"), model.FormatText, "m2", nil); ce.Filename != "" || ce.Kind != model.ErrorCorrupted {
		t.Errorf("New(nil attachment) = %+v", ce)
	}
}
