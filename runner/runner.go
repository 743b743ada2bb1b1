package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/arathald/mbox-to-pdf/assemble"
	"github.com/arathald/mbox-to-pdf/engine"
	"github.com/arathald/mbox-to-pdf/filter"
	"github.com/arathald/mbox-to-pdf/group"
	"github.com/arathald/mbox-to-pdf/handler"
	"github.com/arathald/mbox-to-pdf/logsink"
	"github.com/arathald/mbox-to-pdf/markup"
	"github.com/arathald/mbox-to-pdf/mbox"
	"github.com/arathald/mbox-to-pdf/message"
	"github.com/arathald/mbox-to-pdf/model"
	"github.com/arathald/mbox-to-pdf/render"
	"github.com/arathald/mbox-to-pdf/state"
	"github.com/arathald/mbox-to-pdf/stats"
)

// ErrorDateLayout formats message dates in attachment error details.
const ErrorDateLayout = "Mon, January 02, 2006 at 03:04 PM"

const footerLayout = "January 02, 2006 at 03:04 PM"

var ErrInvalidWorkers = errors.New("workers must be positive")

type Options struct {
	Strategy          string
	Workers           int
	Limits            handler.Limits
	PageLines         int
	MaxPagesPerFile   int
	IncludeRawHeaders bool
	// Force rewrites artifacts whose content is unchanged since the last run.
	Force  bool
	Filter filter.Options
	Engine engine.Engine
	Logger *slog.Logger
	Now    func() time.Time
}

// Runner converts mailbox sources into paginated documents. A Runner holds no
// per-run state and may be reused.
type Runner struct {
	opts      Options
	strategy  group.Strategy
	filter    *filter.Filter
	sanitizer *markup.Sanitizer
	registry  *handler.Registry
	logger    *slog.Logger
}

// New validates opts. Configuration errors are the only errors a conversion
// can produce before it starts.
func New(opts Options) (*Runner, error) {
	strategy, err := group.ParseStrategy(opts.Strategy)
	if err != nil {
		return nil, err
	}
	if opts.Workers < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWorkers, opts.Workers)
	}
	if opts.Workers == 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.MaxPagesPerFile < 0 {
		return nil, fmt.Errorf("max pages per file must not be negative: %d", opts.MaxPagesPerFile)
	}

	var f *filter.Filter
	if opts.Filter.Active() {
		if f, err = filter.New(opts.Filter); err != nil {
			return nil, err
		}
	}

	if opts.Engine == nil {
		opts.Engine = engine.NewHTML()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	sanitizer := markup.NewSanitizer()
	return &Runner{
		opts:      opts,
		strategy:  strategy,
		filter:    f,
		sanitizer: sanitizer,
		registry:  handler.NewRegistry(opts.Limits, sanitizer),
		logger:    opts.Logger,
	}, nil
}

// run is the state of one Convert call.
type run struct {
	*Runner
	logger    *slog.Logger
	sink      *logsink.Sink
	progress  *reporter
	result    model.ConversionResult
	events    chan stats.Event
	collector *stats.Collector

	collectWG  sync.WaitGroup
	closeOnce  sync.Once
	resultMu   sync.Mutex
	cancelSeen bool
}

// Convert reads every source, renders each message once and writes one
// artifact per period (or per part) into outputDir. It always returns a
// result; failures are reported inside it.
func (r *Runner) Convert(ctx context.Context, sources []mbox.Reader, outputDir string, progress ProgressFunc) model.ConversionResult {
	sink := logsink.New(r.logger.Handler(), nil)
	logger := slog.New(sink).With("run", uuid.NewString())

	c := &run{
		Runner:    r,
		logger:    logger,
		sink:      sink,
		result:    model.ConversionResult{Success: true},
		events:    make(chan stats.Event, 128),
		collector: stats.NewCollector(),
	}
	c.progress = newReporter(progress, len(sources), logger)

	c.collectWG.Add(1)
	go func() {
		defer c.collectWG.Done()
		c.collector.Run(context.Background(), c.events)
	}()

	started := r.opts.Now()
	logger.Info("conversion started", "sources", len(sources), "output", outputDir, "groupBy", string(r.strategy))

	c.convert(ctx, sources, outputDir)

	c.closeEvents()
	c.collectWG.Wait()

	summary := c.collector.Snapshot()
	attrs := append([]any{"duration", r.opts.Now().Sub(started), "incomplete", c.result.Incomplete}, summary.LogAttrs()...)
	if c.result.Success {
		logger.Info("conversion finished", attrs...)
	} else {
		logger.Error("conversion finished with errors", attrs...)
	}

	c.result.LogText = sink.Transcript()
	return c.result
}

func (c *run) convert(ctx context.Context, sources []mbox.Reader, outputDir string) {
	msgs := c.read(ctx, sources)
	if c.cancelled(ctx) {
		return
	}

	msgs = c.admit(msgs)
	c.progress.grow(len(msgs))

	c.processAttachments(ctx, msgs)
	if c.cancelled(ctx) {
		return
	}
	c.collectErrors(msgs)

	byID := make(map[string]*model.Message, len(msgs))
	for _, msg := range msgs {
		byID[msg.ID] = msg
	}
	lookup := func(id string) (*model.Message, bool) {
		msg, ok := byID[id]
		return msg, ok
	}

	renderer := render.New(render.Options{
		PageLines:         c.opts.PageLines,
		IncludeRawHeaders: c.opts.IncludeRawHeaders,
	}, c.sanitizer, c.logger)
	rendered := make(map[string]render.Message, len(msgs))
	for _, msg := range msgs {
		rendered[msg.ID] = renderer.Render(msg, lookup)
		c.EmitEvent(stats.Event{Stage: stats.StageMessage, Type: stats.EventTypeRendered, MessageID: msg.ID})
	}
	c.result.MessagesProcessed = len(msgs)

	groups := group.Partition(msgs, c.strategy)
	c.progress.grow(len(groups))
	c.write(ctx, groups, rendered, outputDir)
}

// read streams every source into normalized messages, keeping source order.
func (c *run) read(ctx context.Context, sources []mbox.Reader) []*model.Message {
	perSource := make([][]*model.Message, len(sources))
	normalizer := message.NewNormalizer(c.logger)

	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	for i, src := range sources {
		g.Go(func() error {
			perSource[i] = c.readSource(ctx, src, normalizer)
			return nil
		})
	}
	_ = g.Wait()

	var msgs []*model.Message
	for _, batch := range perSource {
		msgs = append(msgs, batch...)
	}
	return msgs
}

func (c *run) readSource(ctx context.Context, src mbox.Reader, normalizer *message.Normalizer) []*model.Message {
	name := src.Name()
	logger := c.logger.With("source", name)
	logger.Info("reading source")

	out := make(chan model.Envelope, 32)
	errCh := make(chan error, 1)
	go func() {
		errCh <- src.Stream(ctx, out)
		close(out)
	}()

	var msgs []*model.Message
	for env := range out {
		if env.Err != nil {
			logger.Warn("message skipped", "err", env.Err)
			c.EmitEvent(stats.Event{Stage: stats.StageMessage, Type: stats.EventTypeSkipped, Err: env.Err, Detail: name})
			continue
		}
		msg := normalizer.Normalize(env.Record)
		msgs = append(msgs, msg)
		c.EmitEvent(stats.Event{Stage: stats.StageMessage, Type: stats.EventTypeScanned, MessageID: msg.ID})
	}

	err := <-errCh
	switch {
	case err == nil:
		logger.Info("source read", "messages", len(msgs))
		c.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeScanned, Detail: name})
	case ctx.Err() != nil:
		logger.Warn("source reading cancelled", "messages", len(msgs))
	default:
		logger.Error("source failed", "err", err)
		c.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeError, Err: err, Detail: name})
		c.resultMu.Lock()
		c.result.SourceErrors = append(c.result.SourceErrors, fmt.Sprintf("%s: %v", name, err))
		c.result.Success = false
		c.resultMu.Unlock()
	}
	c.progress.step("Read " + name)
	return msgs
}

// admit drops repeated message ids, keeping the first occurrence in source
// order, and applies the message filter.
func (c *run) admit(msgs []*model.Message) []*model.Message {
	seen := make(map[string]bool, len(msgs))
	kept := msgs[:0]
	for _, msg := range msgs {
		if seen[msg.ID] {
			c.result.Duplicates++
			c.logger.Info("duplicate message skipped", "messageID", msg.ID, "source", msg.Source)
			c.EmitEvent(stats.Event{Stage: stats.StageMessage, Type: stats.EventTypeDuplicate, MessageID: msg.ID})
			continue
		}
		seen[msg.ID] = true
		if c.filter != nil && !c.filter.AllowsMessage(msg) {
			c.result.Filtered++
			c.logger.Debug("message filtered", "messageID", msg.ID)
			c.EmitEvent(stats.Event{Stage: stats.StageMessage, Type: stats.EventTypeFiltered, MessageID: msg.ID})
			continue
		}
		kept = append(kept, msg)
	}
	return kept
}

// processAttachments renders attachments on a bounded pool. Each message is
// owned by one worker, so results stay in declared order. Cancellation is
// observed between messages and between attachments.
func (c *run) processAttachments(ctx context.Context, msgs []*model.Message) {
	pipeline := handler.NewPipeline(c.registry, c.opts.Limits, c.logger)

	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	for _, msg := range msgs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			for _, att := range msg.Attachments {
				if ctx.Err() != nil {
					return nil
				}
				pipeline.Process(ctx, msg.ID, att)
				typ := stats.EventTypeRendered
				if att.Error != nil {
					typ = stats.EventTypeFailed
				}
				c.EmitEvent(stats.Event{Stage: stats.StageAttachment, Type: typ, MessageID: msg.ID, Detail: att.Filename})
			}
			c.progress.step(label("Rendered", msg))
			return nil
		})
	}
	_ = g.Wait()
}

func (c *run) collectErrors(msgs []*model.Message) {
	for _, msg := range msgs {
		for _, att := range msg.Attachments {
			if att.Error == nil {
				continue
			}
			c.result.AttachmentErrors = append(c.result.AttachmentErrors, c.errorInfo(msg, att))
		}
	}
}

func (c *run) errorInfo(msg *model.Message, att *model.Attachment) model.ErrorInfo {
	date, period := "Unknown", group.UnknownKey
	if msg.DateKnown {
		date = msg.Date.Format(ErrorDateLayout)
		period = c.strategy.Key(msg.Date)
	}
	size := att.Size
	if size == 0 {
		size = int64(len(att.Data))
	}
	mediaType := att.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return model.ErrorInfo{
		MessageID:  msg.ID,
		Subject:    msg.Subject,
		Date:       date,
		From:       msg.From,
		Filename:   att.Filename,
		MediaType:  mediaType,
		Size:       render.Size(size),
		Kind:       att.Error.Kind,
		Message:    att.Error.Message,
		PeriodKey:  period,
		Attachment: att.Index,
	}
}

// write assembles each group and stores its parts. Already written artifacts
// are kept when the run is cancelled.
func (c *run) write(ctx context.Context, groups []model.Group, rendered map[string]render.Message, outputDir string) {
	tracker, err := state.NewFileTracker(outputDir, true)
	if err != nil {
		c.artifactError(fmt.Errorf("open manifest: %w", err))
		return
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			c.artifactError(err)
		}
	}()

	assembler := assemble.New(assemble.Options{
		PageLines:       c.opts.PageLines,
		MaxPagesPerFile: c.opts.MaxPagesPerFile,
	})
	footer := "Generated " + c.opts.Now().Format(footerLayout)

	for _, g := range groups {
		if c.cancelled(ctx) {
			return
		}
		msgs := make([]render.Message, len(g.Messages))
		for i, msg := range g.Messages {
			msgs[i] = rendered[msg.ID]
		}
		for _, part := range assembler.Assemble(g.PeriodKey, msgs) {
			if c.cancelled(ctx) {
				return
			}
			c.writePart(ctx, tracker, part, footer, outputDir)
		}
		c.progress.step("Wrote " + g.PeriodKey)
	}
}

func (c *run) writePart(ctx context.Context, tracker state.Tracker, part assemble.Part, footer, outputDir string) {
	path := filepath.Join(outputDir, part.Name+c.opts.Engine.Extension())
	sum := part.Fingerprint()
	logger := c.logger.With("period", part.PeriodKey, "path", path)

	if !c.opts.Force && tracker.Unchanged(path, sum) {
		logger.Info("artifact unchanged, not rewritten")
		c.result.ArtifactPaths = append(c.result.ArtifactPaths, path)
		c.EmitEvent(stats.Event{Stage: stats.StageArtifact, Type: stats.EventTypeUnchanged, Detail: path})
		return
	}

	data, err := c.opts.Engine.Render(ctx, part.Document(footer))
	if err != nil {
		if ctx.Err() != nil {
			c.cancelled(ctx)
			return
		}
		c.artifactError(fmt.Errorf("render %s: %w", part.Name, err))
		return
	}
	if err := engine.WriteAtomic(path, data); err != nil {
		c.artifactError(fmt.Errorf("write %s: %w", part.Name, err))
		return
	}

	entry := state.Entry{
		Period:     part.PeriodKey,
		Path:       path,
		SHA256:     sum,
		Pages:      len(part.Pages),
		MessageIDs: part.MessageIDs,
		Written:    c.opts.Now().UTC(),
	}
	if err := tracker.Record(entry); err != nil {
		logger.Warn("manifest entry not recorded", "err", err)
	}

	c.result.ArtifactsCreated++
	c.result.ArtifactPaths = append(c.result.ArtifactPaths, path)
	c.EmitEvent(stats.Event{Stage: stats.StageArtifact, Type: stats.EventTypeWritten, Detail: path})
	logger.Info("artifact written", "pages", len(part.Pages), "messages", len(part.MessageIDs), "bytes", len(data))
}

func (c *run) artifactError(err error) {
	c.logger.Error("artifact failed", "err", err)
	c.EmitEvent(stats.Event{Stage: stats.StageArtifact, Type: stats.EventTypeError, Err: err})
	c.result.ArtifactErrors = append(c.result.ArtifactErrors, err.Error())
	c.result.Success = false
}

// cancelled marks the result incomplete once ctx is done.
func (c *run) cancelled(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	if !c.cancelSeen {
		c.cancelSeen = true
		c.result.Incomplete = true
		c.result.Success = false
		c.logger.Warn("conversion cancelled", "err", ctx.Err(), "artifacts", c.result.ArtifactsCreated)
	}
	return true
}

func (c *run) EmitEvent(evt stats.Event) {
	c.events <- evt
}

func (c *run) closeEvents() {
	c.closeOnce.Do(func() {
		close(c.events)
	})
}

func label(verb string, msg *model.Message) string {
	subject := msg.Subject
	if subject == "" {
		subject = msg.ID
	}
	if r := []rune(subject); len(r) > 60 {
		subject = string(r[:57]) + "..."
	}
	return verb + " " + subject
}
