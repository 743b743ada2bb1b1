// Package message normalizes raw mailbox records into model.Message values.
package message

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	emtextproto "github.com/emersion/go-message/textproto"
	"github.com/google/uuid"

	"github.com/arathald/mbox-to-pdf/model"
)

// PlaceholderName prefixes synthetic attachment filenames.
const PlaceholderName = "unnamed_attachment"

// syntheticNamespace scopes synthetic message ids.
var syntheticNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:mbox-to-pdf:message-id"))

// DefaultDate stands in for missing or unparseable dates.
var DefaultDate = time.Unix(0, 0).UTC()

var fallbackLayouts = []string{
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 06 15:04:05 -0700",
	"Mon Jan 2 15:04:05 2006",
	"Mon Jan 2 15:04:05 MST 2006",
	"2006-01-02 15:04:05 -0700",
	time.RFC3339,
}

var placeholderExt = map[string]string{
	"text/plain":      ".txt",
	"text/csv":        ".csv",
	"text/html":       ".html",
	"text/calendar":   ".ics",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/gif":       ".gif",
	"application/pdf": ".pdf",
	"message/rfc822":  ".eml",
}

// Normalizer turns raw records into messages. It holds no per-record state.
type Normalizer struct {
	logger *slog.Logger
}

func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Normalize builds a Message from rec. It does not fail: missing fields are
// defaulted and logged.
func (n *Normalizer) Normalize(rec model.RawRecord) *model.Message {
	h := mailHeader(rec.Header)

	msg := &model.Message{
		Header:  rec.Header,
		Source:  rec.Source,
		Ordinal: rec.Ordinal,
	}

	msg.ID, _ = h.MessageID()
	if msg.ID == "" {
		msg.ID = SyntheticID(rec)
		msg.Synthetic = true
		n.logger.Debug("message has no Message-ID, using synthetic id", "source", rec.Source, "ordinal", rec.Ordinal, "messageID", msg.ID)
	}

	msg.From = addresses(h, "From")
	msg.To = addresses(h, "To")
	msg.Cc = addresses(h, "Cc")
	msg.Bcc = addresses(h, "Bcc")
	msg.Subject = text(h, "Subject")
	msg.XMailer = text(h, "X-Mailer")

	if date, ok := parseDate(h); ok {
		msg.Date, msg.DateKnown = date, true
	} else {
		msg.Date = DefaultDate
		n.logger.Warn("message date missing or unparseable, using default",
			"source", rec.Source, "messageID", msg.ID, "date", h.Get("Date"))
	}

	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		msg.InReplyTo = ids[0]
	}
	if ids, err := h.MsgIDList("References"); err == nil {
		msg.References = ids
	} else {
		for _, f := range strings.Fields(h.Get("References")) {
			msg.References = append(msg.References, strings.Trim(f, "<>"))
		}
	}

	if rec.Root != nil {
		collectParts(msg, rec.Root)
	}
	return msg
}

// SyntheticID derives a stable id from the record's content and ordinal.
func SyntheticID(rec model.RawRecord) string {
	hash := sha256.New()
	if len(rec.Raw) > 0 {
		hash.Write(rec.Raw)
	} else {
		keys := make([]string, 0, len(rec.Header))
		for k := range rec.Header {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			for _, v := range rec.Header[k] {
				fmt.Fprintf(hash, "%s: %s\n", k, v)
			}
		}
		writePart(hash, rec.Root)
	}
	fmt.Fprintf(hash, "\x00%d", rec.Ordinal)
	id := uuid.NewSHA1(syntheticNamespace, hash.Sum(nil))
	return id.String() + "@synthetic.invalid"
}

func writePart(w io.Writer, p *model.Part) {
	if p == nil {
		return
	}
	fmt.Fprintf(w, "%s\x00", p.MediaType)
	w.Write(p.Body)
	for _, c := range p.Children {
		writePart(w, c)
	}
}

func mailHeader(fields map[string][]string) mail.Header {
	var th emtextproto.Header
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range fields[k] {
			th.Add(k, v)
		}
	}
	return mail.Header{Header: message.Header{Header: th}}
}

func addresses(h mail.Header, key string) string {
	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		return text(h, key)
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		if a.Name != "" {
			out = append(out, fmt.Sprintf("%s <%s>", a.Name, a.Address))
		} else {
			out = append(out, a.Address)
		}
	}
	return strings.Join(out, ", ")
}

func text(h mail.Header, key string) string {
	v, err := h.Text(key)
	if err != nil {
		return strings.TrimSpace(h.Get(key))
	}
	return strings.TrimSpace(v)
}

func parseDate(h mail.Header) (time.Time, bool) {
	raw := strings.TrimSpace(h.Get("Date"))
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := h.Date(); err == nil && !t.IsZero() {
		return t, true
	}
	// Strip a trailing comment such as "(PST)" before the lenient pass.
	if i := strings.Index(raw, "("); i > 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func collectParts(msg *model.Message, root *model.Part) {
	var inline []*model.Attachment
	var walk func(p *model.Part)
	walk = func(p *model.Part) {
		if p.IsMultipart() {
			for _, c := range p.Children {
				walk(c)
			}
			return
		}

		mediaType := strings.ToLower(p.MediaType)
		isBody := p.Disposition != model.DispositionAttachment && p.Filename == ""
		switch {
		case isBody && mediaType == "text/plain" && msg.TextBody == "":
			msg.TextBody = string(p.Body)
			return
		case isBody && mediaType == "text/html" && msg.HTMLBody == "":
			msg.HTMLBody = string(p.Body)
			return
		case strings.HasPrefix(mediaType, "multipart/"):
			// An empty container carries nothing to render.
			return
		}

		att := newAttachment(p, len(msg.Attachments)+len(inline))
		if p.ContentID != "" && p.Disposition != model.DispositionAttachment {
			inline = append(inline, att)
			return
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	walk(root)

	// Inline parts the HTML body refers to by Content-ID are embedded in the
	// body; all others are kept as ordinary attachments in part order.
	for _, att := range inline {
		if msg.HTMLBody != "" && strings.Contains(msg.HTMLBody, "cid:"+att.ContentID) {
			if msg.Related == nil {
				msg.Related = make(map[string]*model.Attachment)
			}
			msg.Related[att.ContentID] = att
			continue
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	sort.SliceStable(msg.Attachments, func(i, j int) bool {
		return msg.Attachments[i].Index < msg.Attachments[j].Index
	})
	for i, att := range msg.Attachments {
		att.Index = i
		if att.Synthetic {
			att.Filename = placeholder(i, att.MediaType)
		}
	}
}

func newAttachment(p *model.Part, index int) *model.Attachment {
	att := &model.Attachment{
		Index:       index,
		Filename:    strings.TrimSpace(p.Filename),
		MediaType:   strings.ToLower(p.MediaType),
		Charset:     p.Params["charset"],
		Disposition: p.Disposition,
		ContentID:   p.ContentID,
		Size:        max(p.Size, int64(len(p.Body))),
		Data:        p.Body,
	}
	if att.Disposition == "" {
		att.Disposition = model.DispositionAttachment
	}
	if att.Filename == "" {
		att.Synthetic = true
		att.Filename = placeholder(index, att.MediaType)
	}
	return att
}

func placeholder(index int, mediaType string) string {
	return fmt.Sprintf("%s_%d%s", PlaceholderName, index+1, placeholderExt[mediaType])
}
