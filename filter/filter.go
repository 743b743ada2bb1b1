// Package filter admits or rejects messages by regular expressions over their
// header and body text.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/arathald/mbox-to-pdf/markup"
	"github.com/arathald/mbox-to-pdf/model"
)

var ErrMutuallyExclusive = errors.New("include and exclude filters are mutually exclusive")

// Options captures the filtering configuration.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Active reports whether any pattern is configured.
func (o Options) Active() bool {
	return len(o.IncludeHeader)+len(o.IncludeBody)+len(o.ExcludeHeader)+len(o.ExcludeBody) > 0
}

// Filter holds compiled regex patterns for filtering messages.
type Filter struct {
	includeMode    bool
	excludeMode    bool
	includeHeader  []*regexp.Regexp
	includeBody    []*regexp.Regexp
	excludeHeader  []*regexp.Regexp
	excludeBody    []*regexp.Regexp
	needHeaderText bool
	needBodyText   bool
	sanitizer      *markup.Sanitizer
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeHeader, err := compilePatterns(opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	includeActive := len(includeHeader) > 0 || len(includeBody) > 0
	excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0
	if includeActive && excludeActive {
		return nil, ErrMutuallyExclusive
	}

	f := &Filter{
		includeMode:    includeActive,
		excludeMode:    excludeActive,
		includeHeader:  includeHeader,
		includeBody:    includeBody,
		excludeHeader:  excludeHeader,
		excludeBody:    excludeBody,
		needHeaderText: len(includeHeader) > 0 || len(excludeHeader) > 0,
		needBodyText:   len(includeBody) > 0 || len(excludeBody) > 0,
	}
	if f.needBodyText {
		f.sanitizer = markup.NewSanitizer()
	}
	return f, nil
}

// AllowsMessage applies the filter to a normalized message. Header patterns
// see one "Key: value" line per header field in key order; body patterns see
// the plain-text body, or the visible text of the markup body.
func (f *Filter) AllowsMessage(msg *model.Message) bool {
	if !f.includeMode && !f.excludeMode {
		return true
	}
	var header, body string
	if f.needHeaderText {
		header = HeaderText(msg.Header)
	}
	if f.needBodyText {
		body = f.bodyText(msg)
	}
	return f.Allows(header, body)
}

// Allows returns true if the texts pass the filter criteria.
func (f *Filter) Allows(headerText, bodyText string) bool {
	if f.includeMode {
		return matchAny(f.includeHeader, headerText) || matchAny(f.includeBody, bodyText)
	}

	if f.excludeMode {
		if matchAny(f.excludeHeader, headerText) || matchAny(f.excludeBody, bodyText) {
			return false
		}
	}

	return true
}

// HeaderText formats a header map as header lines sorted by key.
func HeaderText(header map[string][]string) string {
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		for _, value := range header[key] {
			sb.WriteString(key)
			sb.WriteString(": ")
			sb.WriteString(value)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (f *Filter) bodyText(msg *model.Message) string {
	if msg.HTMLBody == "" {
		return msg.TextBody
	}
	clean, err := f.sanitizer.Sanitize([]byte(msg.HTMLBody), nil)
	if err != nil {
		return msg.TextBody
	}
	return markup.Text(clean)
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
