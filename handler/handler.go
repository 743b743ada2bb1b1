// Package handler turns attachment payloads into renderable fragments.
//
// There is one Handler per format tag. The Pipeline classifies a payload,
// dispatches it under size and time ceilings and records exactly one outcome
// on the attachment: a fragment, or a classified error plus a reference note.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arathald/mbox-to-pdf/classify"
	"github.com/arathald/mbox-to-pdf/failure"
	"github.com/arathald/mbox-to-pdf/markup"
	"github.com/arathald/mbox-to-pdf/model"
)

const (
	DefaultMaxSize       = 100 << 20
	DefaultTimeout       = 30 * time.Second
	DefaultMaxPixels     = 40_000_000
	DefaultMaxImageWidth = 1600
	DefaultMaxUnpacked   = 512 << 20
	DefaultMaxCells      = 50_000
)

const emptyAdvisory = "The attachment is empty."

// Input is the payload handed to a format handler.
type Input struct {
	Data      []byte
	Filename  string
	MediaType string
	Charset   string
}

// Handler converts one payload format into a fragment. Failures are returned
// as errors wrapping a failure sentinel where the cause is known.
type Handler interface {
	Render(ctx context.Context, in Input) (model.Fragment, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, in Input) (model.Fragment, error)

func (f HandlerFunc) Render(ctx context.Context, in Input) (model.Fragment, error) {
	return f(ctx, in)
}

// Limits bound the work a single attachment may cause.
type Limits struct {
	MaxSize       int64
	Timeout       time.Duration
	MaxPixels     int
	MaxImageWidth int
	MaxUnpacked   int64
	MaxCells      int
}

func DefaultLimits() Limits {
	return Limits{
		MaxSize:       DefaultMaxSize,
		Timeout:       DefaultTimeout,
		MaxPixels:     DefaultMaxPixels,
		MaxImageWidth: DefaultMaxImageWidth,
		MaxUnpacked:   DefaultMaxUnpacked,
		MaxCells:      DefaultMaxCells,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxSize <= 0 {
		l.MaxSize = d.MaxSize
	}
	if l.Timeout <= 0 {
		l.Timeout = d.Timeout
	}
	if l.MaxPixels <= 0 {
		l.MaxPixels = d.MaxPixels
	}
	if l.MaxImageWidth <= 0 {
		l.MaxImageWidth = d.MaxImageWidth
	}
	if l.MaxUnpacked <= 0 {
		l.MaxUnpacked = d.MaxUnpacked
	}
	if l.MaxCells <= 0 {
		l.MaxCells = d.MaxCells
	}
	return l
}

// Registry maps format tags to handlers.
type Registry struct {
	handlers map[model.Format]Handler
}

// NewRegistry returns a registry with the built-in handler for every format.
func NewRegistry(limits Limits, sanitizer *markup.Sanitizer) *Registry {
	limits = limits.withDefaults()
	if sanitizer == nil {
		sanitizer = markup.NewSanitizer()
	}
	r := &Registry{handlers: make(map[model.Format]Handler, len(model.Formats))}
	for _, f := range model.Formats {
		r.Register(f, builtin(f, limits, sanitizer))
	}
	return r
}

func builtin(f model.Format, limits Limits, sanitizer *markup.Sanitizer) Handler {
	switch f {
	case model.FormatText:
		return textHandler{}
	case model.FormatDelimitedTable:
		return tableHandler{maxCells: limits.MaxCells}
	case model.FormatSpreadsheet:
		return sheetHandler{maxCells: limits.MaxCells, maxUnpacked: limits.MaxUnpacked}
	case model.FormatDocument:
		return documentHandler{maxUnpacked: limits.MaxUnpacked}
	case model.FormatImage:
		return imageHandler{maxPixels: limits.MaxPixels, maxWidth: limits.MaxImageWidth}
	case model.FormatMarkup:
		return markupHandler{sanitizer: sanitizer}
	case model.FormatOpaque:
		return opaqueHandler{}
	}
	return nil
}

// Register installs h for f. A nil handler removes the entry.
func (r *Registry) Register(f model.Format, h Handler) {
	if h == nil {
		delete(r.handlers, f)
		return
	}
	r.handlers[f] = h
}

func (r *Registry) Lookup(f model.Format) (Handler, bool) {
	h, ok := r.handlers[f]
	return h, ok
}

// Pipeline runs attachments through classification and their handler.
type Pipeline struct {
	registry *Registry
	limits   Limits
	logger   *slog.Logger
}

func NewPipeline(registry *Registry, limits Limits, logger *slog.Logger) *Pipeline {
	limits = limits.withDefaults()
	if registry == nil {
		registry = NewRegistry(limits, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{registry: registry, limits: limits, logger: logger}
}

// Process records the outcome for att. It never fails and never panics.
func (p *Pipeline) Process(ctx context.Context, messageID string, att *model.Attachment) {
	att.Format = classify.Classify(att.Data, att.MediaType, att.Filename)

	if len(att.Data) == 0 && att.Size == 0 {
		ref := Reference(att)
		ref.Advisory = append(ref.Advisory, emptyAdvisory)
		att.Fragment = ref
		return
	}

	frag, err := p.render(ctx, att)
	if err != nil {
		att.Error = failure.New(err, att.Format, messageID, att)
		att.Reference = Reference(att)
		p.logger.Warn("attachment could not be rendered",
			"messageID", messageID,
			"filename", att.Filename,
			"format", att.Format.String(),
			"kind", string(att.Error.Kind),
			"err", err)
		return
	}
	// Data may be capped by the reader; the listing shows the declared size.
	if ref, ok := frag.(*model.Reference); ok && att.Size > ref.Size {
		ref.Size = att.Size
	}
	att.Fragment = frag
	p.logger.Debug("attachment rendered",
		"messageID", messageID,
		"filename", att.Filename,
		"format", att.Format.String(),
		"fragment", string(frag.Kind()))
}

type outcome struct {
	frag model.Fragment
	err  error
}

func (p *Pipeline) render(ctx context.Context, att *model.Attachment) (model.Fragment, error) {
	// Opaque content is never read, so only the listing is produced.
	if size := max(att.Size, int64(len(att.Data))); size > p.limits.MaxSize && att.Format != model.FormatOpaque {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", failure.ErrOversize, size, p.limits.MaxSize)
	}

	h, ok := p.registry.Lookup(att.Format)
	if !ok {
		return nil, fmt.Errorf("%w: no handler for %s", failure.ErrMissingCapability, att.Format)
	}

	// Cancellation of the run is observed between attachments, not mid-handler;
	// only the per-attachment ceiling interrupts a handler.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.limits.Timeout)
	defer cancel()

	in := Input{
		Data:      att.Data,
		Filename:  att.Filename,
		MediaType: att.MediaType,
		Charset:   att.Charset,
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: handler panic: %v", failure.ErrCorrupted, r)}
			}
		}()
		frag, err := h.Render(hctx, in)
		done <- outcome{frag: frag, err: err}
	}()

	select {
	case o := <-done:
		if o.err == nil && o.frag == nil {
			return nil, fmt.Errorf("%w: handler returned no fragment", failure.ErrCorrupted)
		}
		return o.frag, o.err
	case <-hctx.Done():
		return nil, fmt.Errorf("%w: processing exceeded %s", failure.ErrOversize, p.limits.Timeout)
	}
}

// Reference builds the placeholder note for an attachment.
func Reference(att *model.Attachment) *model.Reference {
	mediaType := att.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	size := att.Size
	if size == 0 {
		size = int64(len(att.Data))
	}
	return &model.Reference{
		Filename:  att.Filename,
		MediaType: mediaType,
		Size:      size,
	}
}

// checkCtx converts an expired handler context into an oversize failure.
func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", failure.ErrOversize, err)
	}
	return nil
}
