package filter

import (
	"errors"
	"testing"

	"github.com/arathald/mbox-to-pdf/model"
)

func TestFilter_Allows_IncludeMode(t *testing.T) {
	f, err := New(Options{IncludeHeader: []string{"Subject: Test"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	header := "Subject: Test Message\nFrom: sender@example.com\n"
	body := "This is the message body"

	if !f.Allows(header, body) {
		t.Error("Expected message to be allowed (header matches)")
	}
	if f.Allows("Subject: Other\nFrom: sender@example.com\n", body) {
		t.Error("Expected message to be filtered out (header doesn't match)")
	}
}

func TestFilter_Allows_ExcludeMode(t *testing.T) {
	f, err := New(Options{ExcludeHeader: []string{"spam"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows("Subject: Normal Message\n", "body") {
		t.Error("Expected message to be allowed (no spam)")
	}
	if f.Allows("Subject: This is spam\n", "body") {
		t.Error("Expected message to be filtered out (contains spam)")
	}
}

func TestFilter_MutuallyExclusive(t *testing.T) {
	_, err := New(Options{
		IncludeHeader: []string{"test"},
		ExcludeHeader: []string{"spam"},
	})
	if !errors.Is(err, ErrMutuallyExclusive) {
		t.Errorf("New() error = %v, want ErrMutuallyExclusive", err)
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	if _, err := New(Options{IncludeBody: []string{"("}}); err == nil {
		t.Error("Expected error for invalid regular expression")
	}
}

func TestFilter_AllowsMessage(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		msg  *model.Message
		want bool
	}{
		{
			name: "no filters",
			opts: Options{},
			msg:  &model.Message{TextBody: "anything"},
			want: true,
		},
		{
			name: "header line matched",
			opts: Options{IncludeHeader: []string{`(?m)^From: .*@example\.com$`}},
			msg:  &model.Message{Header: map[string][]string{"From": {"a@example.com"}, "Subject": {"x"}}},
			want: true,
		},
		{
			name: "plain body excluded",
			opts: Options{ExcludeBody: []string{"unsubscribe"}},
			msg:  &model.Message{TextBody: "click to unsubscribe"},
			want: false,
		},
		{
			name: "markup body takes precedence",
			opts: Options{IncludeBody: []string{"quarterly report"}},
			msg:  &model.Message{HTMLBody: "<p>nothing here</p>", TextBody: "quarterly report"},
			want: false,
		},
		{
			name: "markup body uses visible text",
			opts: Options{IncludeBody: []string{"quarterly report"}},
			msg:  &model.Message{HTMLBody: "<p>The <b>quarterly</b> report</p>"},
			want: true,
		},
		{
			name: "script text is not body text",
			opts: Options{IncludeBody: []string{"secret"}},
			msg:  &model.Message{HTMLBody: "<p>hi</p><script>secret()</script>"},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.opts)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := f.AllowsMessage(tt.msg); got != tt.want {
				t.Errorf("AllowsMessage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHeaderText(t *testing.T) {
	got := HeaderText(map[string][]string{
		"Subject":  {"Hello"},
		"Received": {"a", "b"},
	})
	want := "Received: a\nReceived: b\nSubject: Hello\n"
	if got != want {
		t.Errorf("HeaderText() = %q, want %q", got, want)
	}
}
