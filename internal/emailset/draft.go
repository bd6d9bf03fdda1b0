package emailset

import (
	"slices"
	"strings"
	"time"

	"github.com/jarrod-lowe/jmap-service-mail/internal/compose"
	"github.com/jarrod-lowe/jmap-service-mail/internal/email"
	"github.com/jarrod-lowe/jmap-service-mail/internal/headers"
	"github.com/jarrod-lowe/jmap-service-mail/internal/seterror"
)

var createProperties = map[string]bool{
	"mailboxIds":  true,
	"keywords":    true,
	"from":        true,
	"sender":      true,
	"replyTo":     true,
	"to":          true,
	"cc":          true,
	"bcc":         true,
	"subject":     true,
	"sentAt":      true,
	"messageId":   true,
	"inReplyTo":   true,
	"references":  true,
	"textBody":    true,
	"htmlBody":    true,
	"bodyValues":  true,
	"attachments": true,
	"headers":     true,
}

// attachmentRef is an attachment of a creation entry before its content is
// loaded.
type attachmentRef struct {
	blobID string
	typ    string
	name   string
	cid    string
	inline bool
}

// creation is a parsed Email/set create entry.
type creation struct {
	mailboxIDs  []string
	keywords    map[string]bool
	draft       *compose.Draft
	attachments []attachmentRef
}

func (c *creation) targets(id string) bool {
	return slices.Contains(c.mailboxIDs, id)
}

func (c *creation) blobIDs() []string {
	out := make([]string, len(c.attachments))
	for i, a := range c.attachments {
		out[i] = a.blobID
	}
	return out
}

// parseCreation validates the shape of a create entry. Nothing is looked up.
func parseCreation(data map[string]any) (*creation, *seterror.SetError) {
	var unknown []string
	for k := range data {
		if !createProperties[k] && !headers.IsProperty(k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return nil, seterror.InvalidProperties("Unknown email properties", unknown...)
	}

	c := &creation{draft: &compose.Draft{}}

	ids, serr := boolSet(data, "mailboxIds")
	if serr != nil {
		return nil, serr
	}
	if len(ids) == 0 {
		return nil, seterror.InvalidProperties("Message needs to be in at least one mailbox", "mailboxIds")
	}
	for id := range ids {
		c.mailboxIDs = append(c.mailboxIDs, id)
	}
	slices.Sort(c.mailboxIDs)

	kws, serr := boolSet(data, "keywords")
	if serr != nil {
		return nil, serr
	}
	c.keywords = make(map[string]bool, len(kws))
	for k := range kws {
		if err := email.ValidateKeyword(k); err != nil {
			return nil, seterror.InvalidProperties("Invalid keyword '"+k+"': "+err.Error(), "keywords")
		}
		c.keywords[email.NormalizeKeyword(k)] = true
	}

	d := c.draft
	for key, dst := range map[string]*[]email.EmailAddress{
		"from":    &d.From,
		"sender":  &d.Sender,
		"replyTo": &d.ReplyTo,
		"to":      &d.To,
		"cc":      &d.CC,
		"bcc":     &d.Bcc,
	} {
		list, serr := addresses(data, key)
		if serr != nil {
			return nil, serr
		}
		*dst = list
	}

	if v, ok := data["subject"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return nil, seterror.InvalidProperties("subject must be a string", "subject")
		}
		d.Subject = s
	}

	if v, ok := data["sentAt"]; ok && v != nil {
		s, _ := v.(string)
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, seterror.InvalidProperties("sentAt must be an RFC 3339 date", "sentAt")
		}
		d.SentAt = t
	}

	for key, dst := range map[string]*[]string{
		"inReplyTo":  &d.InReplyTo,
		"references": &d.References,
	} {
		list, serr := stringList(data, key)
		if serr != nil {
			return nil, serr
		}
		*dst = list
	}
	msgIDs, serr := stringList(data, "messageId")
	if serr != nil {
		return nil, serr
	}
	switch len(msgIDs) {
	case 0:
	case 1:
		d.MessageID = msgIDs[0]
	default:
		return nil, seterror.InvalidProperties("Only one messageId may be given", "messageId")
	}

	values, serr := bodyValues(data)
	if serr != nil {
		return nil, serr
	}
	if d.TextBody, serr = bodyPart(data, "textBody", values); serr != nil {
		return nil, serr
	}
	if d.HTMLBody, serr = bodyPart(data, "htmlBody", values); serr != nil {
		return nil, serr
	}

	if c.attachments, serr = attachments(data); serr != nil {
		return nil, serr
	}
	if d.Headers, serr = passthroughHeaders(data); serr != nil {
		return nil, serr
	}
	if serr = headerProperties(data, d.Headers); serr != nil {
		return nil, serr
	}
	return c, nil
}

// boolSet reads an object of name → true.
func boolSet(data map[string]any, key string) (map[string]bool, *seterror.SetError) {
	v, ok := data[key]
	if !ok || v == nil {
		return map[string]bool{}, nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, seterror.InvalidProperties(key+" must be an object", key)
	}
	out := make(map[string]bool, len(raw))
	for k, v := range raw {
		b, ok := v.(bool)
		if !ok {
			return nil, seterror.InvalidProperties(key+" values must be true", key)
		}
		if b {
			out[k] = true
		}
	}
	return out, nil
}

func addresses(data map[string]any, key string) ([]email.EmailAddress, *seterror.SetError) {
	v, ok := data[key]
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, seterror.InvalidProperties(key+" must be a list of addresses", key)
	}
	out := make([]email.EmailAddress, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, seterror.InvalidProperties(key+" must be a list of addresses", key)
		}
		addr, _ := m["email"].(string)
		if !strings.Contains(addr, "@") {
			return nil, seterror.InvalidProperties("Invalid address in "+key, key)
		}
		name, _ := m["name"].(string)
		out = append(out, email.EmailAddress{Name: name, Email: addr})
	}
	return out, nil
}

func stringList(data map[string]any, key string) ([]string, *seterror.SetError) {
	v, ok := data[key]
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, seterror.InvalidProperties(key+" must be a list of strings", key)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok || s == "" {
			return nil, seterror.InvalidProperties(key+" must be a list of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}

func bodyValues(data map[string]any) (map[string]string, *seterror.SetError) {
	v, ok := data["bodyValues"]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, seterror.InvalidProperties("bodyValues must be an object", "bodyValues")
	}
	out := make(map[string]string, len(raw))
	for partID, bv := range raw {
		m, ok := bv.(map[string]any)
		if !ok {
			return nil, seterror.InvalidProperties("Invalid body value '"+partID+"'", "bodyValues")
		}
		s, ok := m["value"].(string)
		if !ok {
			return nil, seterror.InvalidProperties("Invalid body value '"+partID+"'", "bodyValues")
		}
		out[partID] = s
	}
	return out, nil
}

// bodyPart returns the text of a textBody or htmlBody property. A single part
// referencing bodyValues by partId is supported.
func bodyPart(data map[string]any, key string, values map[string]string) (string, *seterror.SetError) {
	v, ok := data[key]
	if !ok || v == nil {
		return "", nil
	}
	list, ok := v.([]any)
	if !ok || len(list) > 1 {
		return "", seterror.InvalidProperties(key+" must hold a single part", key)
	}
	if len(list) == 0 {
		return "", nil
	}
	part, ok := list[0].(map[string]any)
	if !ok {
		return "", seterror.InvalidProperties(key+" must hold a single part", key)
	}
	partID, _ := part["partId"].(string)
	text, ok := values[partID]
	if !ok {
		return "", seterror.InvalidProperties("No body value for part '"+partID+"'", key)
	}
	return text, nil
}

func attachments(data map[string]any) ([]attachmentRef, *seterror.SetError) {
	v, ok := data["attachments"]
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, seterror.InvalidProperties("attachments must be a list", "attachments")
	}
	out := make([]attachmentRef, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, seterror.InvalidProperties("attachments must be a list of parts", "attachments")
		}
		ref := attachmentRef{}
		ref.blobID, _ = m["blobId"].(string)
		if ref.blobID == "" {
			return nil, seterror.InvalidProperties("Attachment blobId is required", "attachments")
		}
		ref.typ, _ = m["type"].(string)
		ref.name, _ = m["name"].(string)
		ref.cid, _ = m["cid"].(string)
		disposition, _ := m["disposition"].(string)
		ref.inline = strings.EqualFold(disposition, "inline")
		out = append(out, ref)
	}
	return out, nil
}

// passthroughHeaders reads headers given as [{name, value}]. Repeated names
// are joined with compose.HeaderValueDelimiter.
func passthroughHeaders(data map[string]any) (map[string]string, *seterror.SetError) {
	v, ok := data["headers"]
	if !ok || v == nil {
		return map[string]string{}, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, seterror.InvalidProperties("headers must be a list", "headers")
	}
	out := make(map[string]string, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, seterror.InvalidProperties("headers must be a list of {name, value}", "headers")
		}
		name, _ := m["name"].(string)
		value, _ := m["value"].(string)
		if name == "" {
			return nil, seterror.InvalidProperties("Header name is required", "headers")
		}
		if compose.IsReserved(name) {
			continue
		}
		if prev, ok := out[name]; ok {
			value = prev + compose.HeaderValueDelimiter + value
		}
		out[name] = strings.TrimSpace(value)
	}
	return out, nil
}

// headerProperties adds the values of header:{name}[:as{Form}][:all]
// properties to out.
func headerProperties(data map[string]any, out map[string]string) *seterror.SetError {
	keys := make([]string, 0)
	for k := range data {
		if headers.IsProperty(k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	for _, k := range keys {
		p, err := headers.ParseProperty(k)
		if err != nil {
			return seterror.InvalidProperties(err.Error(), k)
		}
		values, err := headers.Encode(p, data[k])
		if err != nil {
			return seterror.InvalidProperties(err.Error(), k)
		}
		if len(values) == 0 || compose.IsReserved(p.Name) {
			continue
		}
		joined := strings.Join(values, compose.HeaderValueDelimiter)
		if prev, ok := out[p.Name]; ok {
			joined = prev + compose.HeaderValueDelimiter + joined
		}
		out[p.Name] = joined
	}
	return nil
}
