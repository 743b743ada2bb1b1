package logsink

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSink_TeesAndCaptures(t *testing.T) {
	var parent bytes.Buffer
	sink := New(slog.NewTextHandler(&parent, &slog.HandlerOptions{Level: slog.LevelInfo}), slog.LevelDebug)
	logger := slog.New(sink).With("run", "r1")

	logger.Debug("detail", "k", 1)
	logger.Warn("attachment could not be rendered", "kind", "corrupted")

	transcript := sink.Transcript()
	assert.Contains(t, transcript, "msg=detail")
	assert.Contains(t, transcript, "run=r1")
	assert.Contains(t, transcript, "kind=corrupted")

	assert.NotContains(t, parent.String(), "msg=detail")
	assert.Contains(t, parent.String(), "kind=corrupted")
}

func TestSink_NilParent(t *testing.T) {
	sink := New(nil, slog.LevelInfo)
	logger := slog.New(sink)
	logger.Debug("hidden")
	logger.Info("shown")
	assert.NotContains(t, sink.Transcript(), "hidden")
	assert.Contains(t, sink.Transcript(), "shown")
}

func TestSink_GroupsShareTranscript(t *testing.T) {
	sink := New(nil, nil)
	base := slog.New(sink)
	base.WithGroup("source").Info("read", "name", "inbox")
	base.Info("done")
	assert.Contains(t, sink.Transcript(), "source.name=inbox")
	assert.Contains(t, sink.Transcript(), "msg=done")
}

func TestSink_ConcurrentWrites(t *testing.T) {
	sink := New(nil, nil)
	logger := slog.New(sink)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				logger.Info("tick", "worker", i)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 400, bytes.Count([]byte(sink.Transcript()), []byte("msg=tick")))
}
