// Package failure maps low-level attachment failures onto the fixed set of
// user-facing error kinds. It is the only place that taxonomy lives: handlers
// wrap the sentinels below and never author user messages themselves.
package failure

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"image"
	"io"
	"strings"

	"github.com/arathald/mbox-to-pdf/model"
)

var (
	ErrCorrupted          = errors.New("corrupted payload")
	ErrUnsupportedFormat  = errors.New("unsupported format")
	ErrOversize           = errors.New("payload exceeds ceiling")
	ErrEncoding           = errors.New("undeterminable encoding")
	ErrMissingCapability  = errors.New("missing capability")
	ErrUnsupportedVariant = errors.New("unsupported format variant")
	ErrPasswordProtected  = errors.New("password protected")
)

var messages = map[model.ErrorKind]string{
	model.ErrorCorrupted:          "The file could not be read. It may be corrupted or incomplete.",
	model.ErrorUnsupportedFormat:  "This file type is not supported for rendering.",
	model.ErrorOversize:           "The file exceeds the maximum size or processing time allowed for rendering.",
	model.ErrorEncoding:           "The file encoding could not be determined.",
	model.ErrorMissingCapability:  "A component required to process this file type is not available.",
	model.ErrorUnsupportedVariant: "This variant of the file format is not supported.",
	model.ErrorPasswordProtected:  "This file is password-protected and cannot be opened.",
}

// Kinds lists every error kind.
var Kinds = []model.ErrorKind{
	model.ErrorCorrupted,
	model.ErrorUnsupportedFormat,
	model.ErrorOversize,
	model.ErrorEncoding,
	model.ErrorMissingCapability,
	model.ErrorUnsupportedVariant,
	model.ErrorPasswordProtected,
}

// Message returns the canonical sentence for kind.
func Message(kind model.ErrorKind) string {
	if msg, ok := messages[kind]; ok {
		return msg
	}
	return messages[model.ErrorCorrupted]
}

var sentinels = []struct {
	err  error
	kind model.ErrorKind
}{
	{ErrPasswordProtected, model.ErrorPasswordProtected},
	{ErrOversize, model.ErrorOversize},
	{ErrEncoding, model.ErrorEncoding},
	{ErrMissingCapability, model.ErrorMissingCapability},
	{ErrUnsupportedVariant, model.ErrorUnsupportedVariant},
	{ErrUnsupportedFormat, model.ErrorUnsupportedFormat},
	{ErrCorrupted, model.ErrorCorrupted},
}

// Classify maps a failure signal raised while handling an attachment of the
// given format onto one error kind. It never returns an empty kind.
func Classify(err error, format model.Format) model.ErrorKind {
	if err == nil {
		return model.ErrorCorrupted
	}

	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return model.ErrorOversize
	case errors.Is(err, zip.ErrAlgorithm):
		return model.ErrorUnsupportedVariant
	case errors.Is(err, zip.ErrFormat), errors.Is(err, zip.ErrChecksum),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return model.ErrorCorrupted
	case errors.Is(err, image.ErrFormat):
		return model.ErrorUnsupportedVariant
	}

	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return model.ErrorCorrupted
	}
	var syntaxErr *xml.SyntaxError
	if errors.As(err, &syntaxErr) {
		return model.ErrorCorrupted
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "password"), strings.Contains(msg, "encrypted"):
		return model.ErrorPasswordProtected
	case strings.Contains(msg, "not supported"), strings.Contains(msg, "unsupported"):
		return model.ErrorUnsupportedVariant
	case strings.Contains(msg, "exceeds") && strings.Contains(msg, "limit"):
		return model.ErrorOversize
	case strings.Contains(msg, "charset"), strings.Contains(msg, "encoding"):
		if format == model.FormatText || format == model.FormatMarkup || format == model.FormatDelimitedTable {
			return model.ErrorEncoding
		}
	}

	return model.ErrorCorrupted
}

// New builds the classified record for an attachment failure.
func New(err error, format model.Format, messageID string, att *model.Attachment) *model.ClassifiedError {
	kind := Classify(err, format)
	ce := &model.ClassifiedError{
		Kind:      kind,
		Message:   Message(kind),
		MessageID: messageID,
	}
	if att != nil {
		ce.AttachmentIndex = att.Index
		ce.Filename = att.Filename
	}
	return ce
}
