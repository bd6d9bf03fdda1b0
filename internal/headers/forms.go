package headers

import (
	"fmt"
	"strings"
)

// Header names are lowercase.
var (
	// addressHeaders may use the Addresses and GroupedAddresses forms. This
	// covers the RFC 5322 address headers and their Resent-* variants.
	addressHeaders = map[string]bool{
		"from":          true,
		"sender":        true,
		"reply-to":      true,
		"to":            true,
		"cc":            true,
		"bcc":           true,
		"resent-from":   true,
		"resent-sender": true,
		"resent-to":     true,
		"resent-cc":     true,
		"resent-bcc":    true,
	}

	// messageIdHeaders may use the MessageIds form.
	messageIdHeaders = map[string]bool{
		"message-id":        true,
		"in-reply-to":       true,
		"references":        true,
		"resent-message-id": true,
	}

	// dateHeaders may use the Date form.
	dateHeaders = map[string]bool{
		"date":        true,
		"resent-date": true,
	}

	// urlHeaders are the RFC 2369 list headers that may use the URLs form.
	urlHeaders = map[string]bool{
		"list-help":        true,
		"list-unsubscribe": true,
		"list-subscribe":   true,
		"list-post":        true,
		"list-owner":       true,
		"list-archive":     true,
	}

	// Unstructured headers that are still defined by RFC 5322 or RFC 2369.
	textHeaders = map[string]bool{
		"subject":  true,
		"comments": true,
		"keywords": true,
		"list-id":  true,
	}

	// structuredHeaders is the union of the sets above. Anything outside it
	// is unstructured.
	structuredHeaders = map[string]bool{}
)

func init() {
	for _, set := range []map[string]bool{addressHeaders, messageIdHeaders, dateHeaders, urlHeaders} {
		for h := range set {
			structuredHeaders[h] = true
		}
	}
}

// ValidateForm checks that form may be used with headerName.
func ValidateForm(headerName string, form Form) error {
	name := strings.ToLower(headerName)

	var ok bool
	switch form {
	case FormRaw:
		// Raw applies to every header.
		ok = true
	case FormText:
		// Text applies to any unstructured header.
		ok = textHeaders[name] || !structuredHeaders[name]
	case FormAddresses, FormGroupedAddresses:
		ok = addressHeaders[name]
	case FormMessageIds:
		ok = messageIdHeaders[name]
	case FormDate:
		ok = dateHeaders[name]
	case FormURLs:
		ok = urlHeaders[name]
	default:
		return fmt.Errorf("unknown form: %v", form)
	}
	if !ok {
		return fmt.Errorf("header %q cannot be given in this form", headerName)
	}
	return nil
}
