package model

import "time"

// Disposition tells whether a part was meant to be shown inline or attached.
type Disposition string

const (
	DispositionInline     Disposition = "inline"
	DispositionAttachment Disposition = "attachment"
)

// Part is one node of a message's MIME tree as supplied by a mailbox source.
// Leaf parts carry decoded bytes in Body; multipart containers carry Children.
// Size is the decoded length, which exceeds len(Body) when the reader truncated it.
type Part struct {
	MediaType   string
	Params      map[string]string
	Disposition Disposition
	Filename    string
	ContentID   string
	Body        []byte
	Size        int64
	Children    []*Part
}

// IsMultipart reports whether the part is a container.
func (p *Part) IsMultipart() bool {
	return len(p.Children) > 0
}

// RawRecord is a single message as read from a mailbox source, before normalization.
type RawRecord struct {
	Source  string
	Ordinal int
	Header  map[string][]string
	Root    *Part
	Raw     []byte
}

// Envelope wraps a raw record alongside an optional error encountered while decoding.
type Envelope struct {
	Record RawRecord
	Err    error
}

// Message is one normalized email message.
type Message struct {
	ID         string
	Synthetic  bool
	From       string
	To         string
	Cc         string
	Bcc        string
	Subject    string
	Date       time.Time
	DateKnown  bool
	TextBody   string
	HTMLBody   string
	InReplyTo  string
	References []string
	XMailer    string

	Attachments []*Attachment

	// Inline parts referenced from the HTML body by Content-ID.
	Related map[string]*Attachment

	Header map[string][]string

	Source  string
	Ordinal int
}

// Attachment is a payload owned by exactly one Message.
type Attachment struct {
	Index       int
	Filename    string
	Synthetic   bool
	MediaType   string
	Charset     string
	Disposition Disposition
	ContentID   string
	Size        int64
	Data        []byte

	// Exactly one of Fragment (success) or Error is meaningful after processing.
	// Reference always holds the placeholder rendering used next to an error.
	Format    Format
	Fragment  Fragment
	Reference *Reference
	Error     *ClassifiedError
}

// Processed reports whether a handler outcome has been recorded.
func (a *Attachment) Processed() bool {
	return a.Fragment != nil || a.Error != nil
}
