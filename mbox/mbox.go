// Package mbox reads mailbox files into raw message records.
package mbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"

	"github.com/arathald/mbox-to-pdf/model"
)

// DefaultMaxPartSize is how much of a single decoded part is kept in memory.
// Larger parts are truncated; their full size is still recorded.
const DefaultMaxPartSize = 100<<20 + 1

var ErrEmptyPath = errors.New("mbox path is empty")

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

type Options struct {
	Path        string
	Name        string
	MaxPartSize int64
}

// Reader supplies raw records. Stream may be called again to restart from the
// first message.
type Reader interface {
	Name() string
	Stream(ctx context.Context, out chan<- model.Envelope) error
}

func NewReader(opts Options, logger *slog.Logger) (Reader, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, ErrEmptyPath
	}
	name := opts.Name
	if name == "" {
		name = filepath.Base(path)
	}
	return &fileReader{
		name:    name,
		path:    path,
		limit:   partLimit(opts.MaxPartSize),
		logger:  orDefault(logger),
		openRaw: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// NewBytesReader reads a mailbox held in memory.
func NewBytesReader(name string, data []byte, logger *slog.Logger) Reader {
	return &fileReader{
		name:   name,
		path:   name,
		limit:  partLimit(0),
		logger: orDefault(logger),
		openRaw: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func partLimit(n int64) int64 {
	if n <= 0 {
		return DefaultMaxPartSize
	}
	return n
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

type fileReader struct {
	name    string
	path    string
	limit   int64
	logger  *slog.Logger
	openRaw func() (io.ReadCloser, error)
}

func (f *fileReader) Name() string { return f.name }

// Stream sends one envelope per message. Records that cannot be parsed are
// sent with Err set and the stream continues. The returned error is non-nil
// only when the source itself is unusable or ctx is done.
func (f *fileReader) Stream(ctx context.Context, out chan<- model.Envelope) error {
	file, err := f.openRaw()
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if idx == 0 {
				return fmt.Errorf("read mbox: %w", err)
			}
			// Framing is lost; nothing after this point can be located.
			return f.emitError(ctx, out, fmt.Errorf("message %d: %w", idx, err))
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			if err := f.emitError(ctx, out, fmt.Errorf("message %d read: %w", idx, err)); err != nil {
				return err
			}
			continue
		}

		rec, err := Parse(raw, f.limit)
		if err != nil {
			if err := f.emitError(ctx, out, fmt.Errorf("message %d parse: %w", idx, err)); err != nil {
				return err
			}
			continue
		}
		rec.Source = f.name
		rec.Ordinal = idx

		if err := f.emitEnvelope(ctx, out, model.Envelope{Record: rec}); err != nil {
			return err
		}
	}
}

func (f *fileReader) emitError(ctx context.Context, out chan<- model.Envelope, err error) error {
	f.logger.Warn("mbox record skipped", "source", f.name, "path", f.path, "err", err)
	return f.emitEnvelope(ctx, out, model.Envelope{Record: model.RawRecord{Source: f.name}, Err: err})
}

func (f *fileReader) emitEnvelope(ctx context.Context, out chan<- model.Envelope, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- env:
		return nil
	}
}

// Parse decodes one RFC 5322 message into a raw record with a MIME part tree.
// Unknown charsets and transfer encodings are tolerated; the affected part
// keeps its undecoded bytes.
func Parse(raw []byte, limit int64) (model.RawRecord, error) {
	e, err := message.Read(bytes.NewReader(raw))
	if err != nil && !tolerable(err) {
		return model.RawRecord{}, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return model.RawRecord{}, errors.New("empty message")
	}

	rec := model.RawRecord{
		Header: headerMap(e.Header),
		Raw:    raw,
	}
	rec.Root, err = buildPart(e, partLimit(limit))
	if err != nil {
		return model.RawRecord{}, err
	}
	return rec, nil
}

func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

func headerMap(h message.Header) map[string][]string {
	out := make(map[string][]string)
	fields := h.Fields()
	for fields.Next() {
		key := textproto.CanonicalMIMEHeaderKey(fields.Key())
		out[key] = append(out[key], fields.Value())
	}
	return out
}

func buildPart(e *message.Entity, limit int64) (*model.Part, error) {
	mediaType, params, err := e.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType, params = "text/plain", map[string]string{}
	}
	p := &model.Part{
		MediaType: strings.ToLower(mediaType),
		Params:    params,
		ContentID: strings.Trim(e.Header.Get("Content-Id"), " <>"),
	}

	disp, dparams, err := e.Header.ContentDisposition()
	if err == nil {
		switch strings.ToLower(disp) {
		case "attachment":
			p.Disposition = model.DispositionAttachment
		case "inline":
			p.Disposition = model.DispositionInline
		}
	}
	p.Filename = decodeWord(dparams["filename"])
	if p.Filename == "" {
		p.Filename = decodeWord(params["name"])
	}

	if mr := e.MultipartReader(); mr != nil {
		for {
			child, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil && (child == nil || !tolerable(err)) {
				// Keep the parts read so far; a broken trailer must not lose them.
				break
			}
			cp, err := buildPart(child, limit)
			if err != nil {
				return nil, err
			}
			p.Children = append(p.Children, cp)
		}
		return p, nil
	}

	p.Body, p.Size, err = readLimited(e.Body, limit)
	if err != nil && len(p.Body) == 0 {
		return nil, fmt.Errorf("read %s part: %w", p.MediaType, err)
	}
	return p, nil
}

// readLimited keeps at most limit bytes and counts the rest.
func readLimited(r io.Reader, limit int64) ([]byte, int64, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return body, int64(len(body)), err
	}
	rest, err := io.Copy(io.Discard, r)
	return body, int64(len(body)) + rest, err
}

func decodeWord(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "=?") {
		return s
	}
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}
