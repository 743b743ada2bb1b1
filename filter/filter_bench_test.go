package filter

import (
	"testing"

	"github.com/arathald/mbox-to-pdf/model"
)

func benchMessage() *model.Message {
	return &model.Message{
		Header: map[string][]string{
			"From":    {"test@example.com"},
			"To":      {"user@example.com"},
			"Subject": {"Test"},
		},
		TextBody: "This message contains important content that should match the filter.",
	}
}

// BenchmarkFilter_AllowsMessage_NoFilters benchmarks the filter when no filters are active
func BenchmarkFilter_AllowsMessage_NoFilters(b *testing.B) {
	f, err := New(Options{})
	if err != nil {
		b.Fatal(err)
	}
	msg := benchMessage()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.AllowsMessage(msg)
	}
}

// BenchmarkFilter_AllowsMessage_MultiplePatterns benchmarks with multiple header patterns
func BenchmarkFilter_AllowsMessage_MultiplePatterns(b *testing.B) {
	f, err := New(Options{
		IncludeHeader: []string{
			"From:.*@example\\.com",
			"Subject:.*Test.*",
			"To:.*user.*",
		},
	})
	if err != nil {
		b.Fatal(err)
	}
	msg := benchMessage()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.AllowsMessage(msg)
	}
}

// BenchmarkFilter_AllowsMessage_MarkupBody benchmarks body filtering over an HTML body
func BenchmarkFilter_AllowsMessage_MarkupBody(b *testing.B) {
	f, err := New(Options{IncludeBody: []string{"important.*content"}})
	if err != nil {
		b.Fatal(err)
	}
	msg := benchMessage()
	msg.HTMLBody = "<div><p>This message contains <b>important</b> content.</p></div>"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.AllowsMessage(msg)
	}
}
