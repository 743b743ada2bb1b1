package stats

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestCollector_Run(t *testing.T) {
	events := make(chan Event, 16)
	boom := errors.New("boom")
	for _, evt := range []Event{
		{Stage: StageSource, Type: EventTypeScanned},
		{Stage: StageSource, Type: EventTypeError, Err: boom},
		{Stage: StageMessage, Type: EventTypeScanned},
		{Stage: StageMessage, Type: EventTypeScanned},
		{Stage: StageMessage, Type: EventTypeDuplicate},
		{Stage: StageMessage, Type: EventTypeRendered},
		{Stage: StageAttachment, Type: EventTypeRendered},
		{Stage: StageAttachment, Type: EventTypeFailed},
		{Stage: StageArtifact, Type: EventTypeWritten},
		{Stage: StageArtifact, Type: EventTypeUnchanged},
	} {
		events <- evt
	}
	close(events)

	c := NewCollector()
	c.Run(context.Background(), events)
	s := c.Snapshot()

	checks := []struct {
		name      string
		got, want int
	}{
		{"sources", s.Sources, 2},
		{"sourceErrors", s.SourceErrors, 1},
		{"scanned", s.Scanned, 2},
		{"duplicates", s.Duplicates, 1},
		{"messages", s.Messages, 1},
		{"attachments", s.Attachments, 2},
		{"attachmentFailures", s.AttachmentFailures, 1},
		{"written", s.Written, 1},
		{"unchanged", s.Unchanged, 1},
		{"errors", s.Errors, 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	if !errors.Is(s.LastError, boom) {
		t.Errorf("LastError = %v, want %v", s.LastError, boom)
	}
	if attrs := s.LogAttrs(); len(attrs)%2 != 0 {
		t.Errorf("LogAttrs() has odd length %d", len(attrs))
	}
}

func TestPrettyPrintTop(t *testing.T) {
	var buf bytes.Buffer
	PrettyPrintTop(&buf, map[string]int{"pdf": 3, "csv": 5, "png": 3, "doc": 1}, 3)
	want := "1. csv (5)\n2. pdf (3)\n3. png (3)\n"
	if buf.String() != want {
		t.Errorf("PrettyPrintTop() = %q, want %q", buf.String(), want)
	}
}
