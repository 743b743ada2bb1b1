package model

import "time"

// ErrorKind is one of the fixed attachment failure kinds.
type ErrorKind string

const (
	ErrorCorrupted          ErrorKind = "corrupted"
	ErrorUnsupportedFormat  ErrorKind = "unsupported_format"
	ErrorOversize           ErrorKind = "oversize"
	ErrorEncoding           ErrorKind = "encoding_error"
	ErrorMissingCapability  ErrorKind = "missing_capability"
	ErrorUnsupportedVariant ErrorKind = "unsupported_variant"
	ErrorPasswordProtected  ErrorKind = "password_protected"
)

// ClassifiedError is the user-facing outcome of a failed attachment.
type ClassifiedError struct {
	Kind            ErrorKind
	Message         string
	MessageID       string
	AttachmentIndex int
	Filename        string
}

// Group is a calendar bucket of chronologically ordered messages.
type Group struct {
	PeriodKey string
	Start     time.Time
	Messages  []*Message
}

// ErrorInfo carries everything an error dialog needs without re-deriving state.
type ErrorInfo struct {
	MessageID  string
	Subject    string
	Date       string
	From       string
	Filename   string
	MediaType  string
	Size       string
	Kind       ErrorKind
	Message    string
	PeriodKey  string
	Attachment int
}

// ConversionResult is the aggregate outcome of one orchestrator run.
type ConversionResult struct {
	Success           bool
	Incomplete        bool
	ArtifactsCreated  int
	ArtifactPaths     []string
	AttachmentErrors  []ErrorInfo
	SourceErrors      []string
	ArtifactErrors    []string
	MessagesProcessed int
	Duplicates        int
	Filtered          int
	LogText           string
}
