// Package headers turns header:{name}[:as{Form}][:all] properties of an
// Email/set create entry into wire header values.
package headers

import (
	"errors"
	"strings"
)

// Form is the shape in which a header value is given.
type Form int

const (
	FormRaw Form = iota
	FormText
	FormAddresses
	FormGroupedAddresses
	FormMessageIds
	FormDate
	FormURLs
)

const propertyPrefix = "header:"

var formNames = map[string]Form{
	"asRaw":              FormRaw,
	"asText":             FormText,
	"asAddresses":        FormAddresses,
	"asGroupedAddresses": FormGroupedAddresses,
	"asMessageIds":       FormMessageIds,
	"asDate":             FormDate,
	"asURLs":             FormURLs,
}

// Property is a parsed header:Name:asForm:all property.
type Property struct {
	Name string
	Form Form
	All  bool
}

// IsProperty reports whether prop names a header:* property.
func IsProperty(prop string) bool {
	return strings.HasPrefix(prop, propertyPrefix)
}

// ParseProperty parses a header property and checks that its form suits the
// header it names.
func ParseProperty(prop string) (*Property, error) {
	if !IsProperty(prop) {
		return nil, errors.New("not a header property")
	}
	parts := strings.Split(strings.TrimPrefix(prop, propertyPrefix), ":")
	if parts[0] == "" {
		return nil, errors.New("missing header name")
	}

	p := &Property{Name: parts[0]}
	rest := parts[1:]
	if n := len(rest); n > 0 && rest[n-1] == "all" {
		p.All = true
		rest = rest[:n-1]
	}
	switch len(rest) {
	case 0:
	case 1:
		form, ok := formNames[rest[0]]
		if !ok {
			return nil, errors.New("invalid header form: " + rest[0])
		}
		p.Form = form
	default:
		return nil, errors.New("malformed header property: " + prop)
	}

	if err := ValidateForm(p.Name, p.Form); err != nil {
		return nil, err
	}
	return p, nil
}
