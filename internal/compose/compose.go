// Package compose builds RFC 5322 messages from structured drafts.
package compose

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/jarrod-lowe/jmap-service-mail/internal/email"
)

// HeaderValueDelimiter separates the values of a multi-valued passthrough
// header.
const HeaderValueDelimiter = "\n"

// ErrNoHostname is returned when a Message-ID has to be generated but no
// hostname is known.
var ErrNoHostname = errors.New("no hostname for Message-ID")

// reserved headers are computed from structured fields and never copied
// from the passthrough map.
var reserved = map[string]bool{
	"from":                      true,
	"sender":                    true,
	"reply-to":                  true,
	"to":                        true,
	"cc":                        true,
	"bcc":                       true,
	"subject":                   true,
	"date":                      true,
	"message-id":                true,
	"in-reply-to":               true,
	"references":                true,
	"content-type":              true,
	"mime-version":              true,
	"content-transfer-encoding": true,
}

// IsReserved reports whether a header is computed by Build.
func IsReserved(name string) bool {
	return reserved[strings.ToLower(strings.TrimSpace(name))]
}

// Attachment is one attachment of a draft with its content loaded.
type Attachment struct {
	BlobID   string
	Type     string
	Name     string
	CID      string
	IsInline bool
	Content  []byte
}

// Draft is the structured form of a message to build.
type Draft struct {
	From       []email.EmailAddress
	Sender     []email.EmailAddress
	ReplyTo    []email.EmailAddress
	To         []email.EmailAddress
	CC         []email.EmailAddress
	Bcc        []email.EmailAddress
	Subject    string
	SentAt     time.Time
	MessageID  string
	InReplyTo  []string
	References []string

	TextBody string
	HTMLBody string

	Attachments []Attachment

	// Headers are passthrough headers. Reserved names are ignored.
	Headers map[string]string

	// Hostname is the right-hand side of a generated Message-ID. The domain
	// of the first From address is used when it is empty.
	Hostname string
}

type partCreator func(h message.Header) (*message.Writer, error)

// Build renders the draft. Without attachments the body is a single
// quoted-printable part, or multipart/alternative when both text and HTML
// are set. With attachments the body is wrapped in multipart/mixed, and
// inline attachments share a multipart/related part with the body. Bcc is
// never written.
func Build(d *Draft) ([]byte, error) {
	h, err := topHeader(d)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	top := func(h message.Header) (*message.Writer, error) {
		return message.CreateWriter(&buf, h)
	}

	if len(d.Attachments) == 0 {
		if err := writeBody(top, h.Header, d); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	var inline, regular []Attachment
	for _, a := range d.Attachments {
		if a.IsInline {
			inline = append(inline, a)
		} else {
			regular = append(regular, a)
		}
	}

	h.SetContentType("multipart/mixed", nil)
	mixed, err := message.CreateWriter(&buf, h.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart/mixed: %w", err)
	}

	if len(inline) > 0 {
		var rh message.Header
		rh.SetContentType("multipart/related", nil)
		related, err := mixed.CreatePart(rh)
		if err != nil {
			return nil, fmt.Errorf("failed to create multipart/related: %w", err)
		}
		if err := writeBody(related.CreatePart, message.Header{}, d); err != nil {
			return nil, err
		}
		for _, a := range inline {
			if err := writeAttachment(related.CreatePart, a); err != nil {
				return nil, err
			}
		}
		if err := related.Close(); err != nil {
			return nil, err
		}
	} else if err := writeBody(mixed.CreatePart, message.Header{}, d); err != nil {
		return nil, err
	}

	for _, a := range regular {
		if err := writeAttachment(mixed.CreatePart, a); err != nil {
			return nil, err
		}
	}
	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func topHeader(d *Draft) (mail.Header, error) {
	var h mail.Header
	h.Set("MIME-Version", "1.0")

	date := d.SentAt
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)

	msgID := strings.Trim(d.MessageID, "<>")
	if msgID == "" {
		host := d.Hostname
		if host == "" && len(d.From) > 0 {
			if at := strings.LastIndex(d.From[0].Email, "@"); at >= 0 {
				host = d.From[0].Email[at+1:]
			}
		}
		if host == "" {
			return h, ErrNoHostname
		}
		if err := h.GenerateMessageIDWithHostname(host); err != nil {
			return h, fmt.Errorf("failed to generate Message-ID: %w", err)
		}
	} else {
		h.SetMessageID(msgID)
	}

	setAddresses(&h, "From", d.From)
	setAddresses(&h, "Sender", d.Sender)
	setAddresses(&h, "Reply-To", d.ReplyTo)
	setAddresses(&h, "To", d.To)
	setAddresses(&h, "Cc", d.CC)
	if d.Subject != "" {
		h.SetSubject(d.Subject)
	}
	if len(d.InReplyTo) > 0 {
		h.SetMsgIDList("In-Reply-To", trimIDs(d.InReplyTo))
	}
	if len(d.References) > 0 {
		h.SetMsgIDList("References", trimIDs(d.References))
	}

	names := make([]string, 0, len(d.Headers))
	for name := range d.Headers {
		if !IsReserved(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range strings.Split(d.Headers[name], HeaderValueDelimiter) {
			if v = strings.TrimSpace(v); v != "" {
				h.Add(strings.TrimSpace(name), v)
			}
		}
	}
	return h, nil
}

func setAddresses(h *mail.Header, key string, addrs []email.EmailAddress) {
	if len(addrs) == 0 {
		return
	}
	list := make([]*mail.Address, len(addrs))
	for i, a := range addrs {
		list[i] = &mail.Address{Name: a.Name, Address: a.Email}
	}
	h.SetAddressList(key, list)
}

func trimIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strings.Trim(id, "<>")
	}
	return out
}

func writeBody(create partCreator, h message.Header, d *Draft) error {
	if d.TextBody != "" && d.HTMLBody != "" {
		h.SetContentType("multipart/alternative", nil)
		alt, err := create(h)
		if err != nil {
			return fmt.Errorf("failed to create multipart/alternative: %w", err)
		}
		if err := writeText(alt.CreatePart, message.Header{}, "text/plain", d.TextBody); err != nil {
			return err
		}
		if err := writeText(alt.CreatePart, message.Header{}, "text/html", d.HTMLBody); err != nil {
			return err
		}
		return alt.Close()
	}

	if d.HTMLBody != "" {
		return writeText(create, h, "text/html", d.HTMLBody)
	}
	return writeText(create, h, "text/plain", d.TextBody)
}

func writeText(create partCreator, h message.Header, mediaType, body string) error {
	h.SetContentType(mediaType, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	w, err := create(h)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", mediaType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return err
	}
	return w.Close()
}

func writeAttachment(create partCreator, a Attachment) error {
	var h message.Header

	mediaType := a.Type
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	typeParams := map[string]string{}
	dispParams := map[string]string{}
	if a.Name != "" {
		name := encodeName(a.Name)
		typeParams["name"] = name
		dispParams["filename"] = name
	}
	h.SetContentType(mediaType, typeParams)

	disposition := "attachment"
	if a.IsInline {
		disposition = "inline"
	}
	h.SetContentDisposition(disposition, dispParams)

	if cid := strings.Trim(a.CID, "<>"); cid != "" {
		h.Set("Content-Id", "<"+cid+">")
	}
	h.Set("Content-Transfer-Encoding", "base64")

	w, err := create(h)
	if err != nil {
		return fmt.Errorf("failed to create attachment part: %w", err)
	}
	if _, err := w.Write(a.Content); err != nil {
		return err
	}
	return w.Close()
}

// encodeName returns name as an RFC 2047 encoded word when it is not ASCII.
func encodeName(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] >= utf8.RuneSelf {
			return mime.QEncoding.Encode("utf-8", name)
		}
	}
	return name
}
