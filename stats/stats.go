package stats

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

type Stage string

const (
	StageSource     Stage = "source"
	StageMessage    Stage = "message"
	StageAttachment Stage = "attachment"
	StageArtifact   Stage = "artifact"
)

type EventType string

const (
	EventTypeScanned   EventType = "scanned"
	EventTypeSkipped   EventType = "skipped"
	EventTypeDuplicate EventType = "duplicate"
	EventTypeFiltered  EventType = "filtered"
	EventTypeRendered  EventType = "rendered"
	EventTypeFailed    EventType = "failed"
	EventTypeWritten   EventType = "written"
	EventTypeUnchanged EventType = "unchanged"
	EventTypeError     EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Err       error
	Detail    string
}

type Summary struct {
	Sources            int
	SourceErrors       int
	Scanned            int
	Skipped            int
	Duplicates         int
	Filtered           int
	Messages           int
	Attachments        int
	AttachmentFailures int
	Written            int
	Unchanged          int
	Errors             int
	LastError          error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"sources", s.Sources,
		"sourceErrors", s.SourceErrors,
		"scanned", s.Scanned,
		"skipped", s.Skipped,
		"duplicates", s.Duplicates,
		"filtered", s.Filtered,
		"messages", s.Messages,
		"attachments", s.Attachments,
		"attachmentFailures", s.AttachmentFailures,
		"written", s.Written,
		"unchanged", s.Unchanged,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

// Run applies events until the channel is closed or ctx is done.
func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &c.summary
	switch evt.Stage {
	case StageSource:
		switch evt.Type {
		case EventTypeScanned:
			s.Sources++
		case EventTypeError:
			s.Sources++
			s.SourceErrors++
		}
	case StageMessage:
		switch evt.Type {
		case EventTypeScanned:
			s.Scanned++
		case EventTypeSkipped:
			s.Skipped++
		case EventTypeDuplicate:
			s.Duplicates++
		case EventTypeFiltered:
			s.Filtered++
		case EventTypeRendered:
			s.Messages++
		}
	case StageAttachment:
		s.Attachments++
		if evt.Type == EventTypeFailed {
			s.AttachmentFailures++
		}
	case StageArtifact:
		switch evt.Type {
		case EventTypeWritten:
			s.Written++
		case EventTypeUnchanged:
			s.Unchanged++
		}
	}
	if evt.Type == EventTypeError || (evt.Type == EventTypeSkipped && evt.Err != nil) {
		s.Errors++
		if evt.Err != nil {
			s.LastError = evt.Err
		}
	}
}

// PrettyPrintTop prints the top N most frequent items in a map. Equal counts
// are ordered by key.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	pairs := make([]pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
