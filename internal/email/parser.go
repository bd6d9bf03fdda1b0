package email

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/jarrod-lowe/jmap-service-mail/internal/charset"
	"github.com/jarrod-lowe/jmap-service-mail/internal/htmlstrip"
)

// PreviewLength is the maximum length of a message preview in characters.
const PreviewLength = 256

// HeaderForwardedMessageID names the header carrying the Message-Id of the
// message being forwarded.
const HeaderForwardedMessageID = "X-Forwarded-Message-Id"

func init() {
	message.CharsetReader = charset.NewReader
}

// ParsedEmail contains the parsed data from an RFC5322 message.
type ParsedEmail struct {
	Subject            string
	From               []EmailAddress
	Sender             []EmailAddress
	To                 []EmailAddress
	CC                 []EmailAddress
	Bcc                []EmailAddress
	ReplyTo            []EmailAddress
	SentAt             time.Time
	MessageID          []string
	InReplyTo          []string
	References         []string
	ForwardedMessageID []string
	Preview            string
	HasAttachment      bool
	Size               int64
}

// ParseRFC5322 parses raw RFC5322 message bytes into a ParsedEmail struct.
func ParseRFC5322(data []byte) (*ParsedEmail, error) {
	mr, err := mail.CreateReader(bytes.NewReader(data))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	parsed := &ParsedEmail{
		Subject:            subject(h),
		From:               addressList(h, "From"),
		Sender:             addressList(h, "Sender"),
		To:                 addressList(h, "To"),
		CC:                 addressList(h, "Cc"),
		Bcc:                addressList(h, "Bcc"),
		ReplyTo:            addressList(h, "Reply-To"),
		MessageID:          msgIDList(h, "Message-Id"),
		InReplyTo:          msgIDList(h, "In-Reply-To"),
		References:         msgIDList(h, "References"),
		ForwardedMessageID: msgIDList(h, HeaderForwardedMessageID),
		Size:               int64(len(data)),
	}
	if t, err := h.Date(); err == nil && !t.IsZero() {
		parsed.SentAt = t.UTC()
	}

	var text, html string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read part: %w", err)
		}

		switch ph := p.Header.(type) {
		case *mail.AttachmentHeader:
			parsed.HasAttachment = true
		case *mail.InlineHeader:
			mediaType, _, _ := ph.ContentType()
			switch {
			case mediaType == "text/plain" && text == "":
				text = readText(p.Body)
			case mediaType == "text/html" && html == "":
				if s, err := htmlstrip.Text(p.Body, PreviewLength*4); err == nil {
					html = s
				}
			case mediaType != "" && !strings.HasPrefix(mediaType, "text/"):
				parsed.HasAttachment = true
			}
		}
	}

	if text != "" {
		parsed.Preview = Preview(text)
	} else {
		parsed.Preview = Preview(html)
	}

	return parsed, nil
}

// Preview collapses whitespace and truncates text at a word boundary to at
// most PreviewLength characters.
func Preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= PreviewLength {
		return text
	}

	runes := []rune(text)[:PreviewLength]
	cut := string(runes)
	if i := strings.LastIndex(cut, " "); i > len(cut)-50 && i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}

func readText(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, PreviewLength*4))
	if err != nil {
		return ""
	}
	return string(b)
}

func subject(h mail.Header) string {
	s, err := h.Subject()
	if err != nil {
		return h.Get("Subject")
	}
	return s
}

func addressList(h mail.Header, key string) []EmailAddress {
	list, err := h.AddressList(key)
	if err != nil {
		if raw := strings.TrimSpace(h.Get(key)); strings.Contains(raw, "@") {
			return []EmailAddress{{Email: raw}}
		}
		return nil
	}
	out := make([]EmailAddress, 0, len(list))
	for _, a := range list {
		out = append(out, EmailAddress{Name: a.Name, Email: a.Address})
	}
	return out
}

func msgIDList(h mail.Header, key string) []string {
	ids, err := h.MsgIDList(key)
	if err != nil {
		return strings.Fields(strings.NewReplacer("<", " ", ">", " ").Replace(h.Get(key)))
	}
	return ids
}
