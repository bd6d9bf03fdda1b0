package headers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// dateLayout is the RFC 5322 date-time form.
const dateLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

var unfold = strings.NewReplacer("\r\n ", " ", "\r\n\t", " ", "\n ", " ", "\n\t", " ")

var errShape = errors.New("value does not match the header form")

// Encode converts the JSON value of a header property into one wire value
// per header instance. A property without :all yields exactly one value; an
// :all property takes a list and yields one value per element. A nil value
// yields none.
func Encode(p *Property, value any) ([]string, error) {
	if value == nil {
		return nil, nil
	}
	if !p.All {
		v, err := encodeOne(p.Name, p.Form, value)
		if err != nil {
			return nil, err
		}
		return []string{v}, nil
	}

	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: :all needs a list", errShape)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		v, err := encodeOne(p.Name, p.Form, item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func encodeOne(name string, form Form, value any) (string, error) {
	var h mail.Header
	switch form {
	case FormRaw:
		s, ok := value.(string)
		if !ok {
			return "", errShape
		}
		s = unfold.Replace(s)
		if strings.ContainsAny(s, "\r\n") {
			return "", fmt.Errorf("%w: raw value has an unfolded line break", errShape)
		}
		return strings.TrimSpace(s), nil

	case FormText:
		s, ok := value.(string)
		if !ok {
			return "", errShape
		}
		h.SetText(name, s)

	case FormAddresses:
		addrs, err := addressList(value)
		if err != nil {
			return "", err
		}
		h.SetAddressList(name, addrs)

	case FormGroupedAddresses:
		return groupedAddresses(value)

	case FormMessageIds:
		ids, err := stringList(value)
		if err != nil {
			return "", err
		}
		h.SetMsgIDList(name, ids)

	case FormDate:
		s, ok := value.(string)
		if !ok {
			return "", errShape
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", errShape, err)
		}
		return t.Format(dateLayout), nil

	case FormURLs:
		urls, err := stringList(value)
		if err != nil {
			return "", err
		}
		for i, u := range urls {
			urls[i] = "<" + u + ">"
		}
		return strings.Join(urls, ", "), nil

	default:
		return "", fmt.Errorf("unknown form: %v", form)
	}
	return h.Get(name), nil
}

func stringList(value any) ([]string, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, errShape
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok || s == "" {
			return nil, errShape
		}
		out = append(out, s)
	}
	return out, nil
}

func addressList(value any) ([]*mail.Address, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, errShape
	}
	out := make([]*mail.Address, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, errShape
		}
		addr, _ := m["email"].(string)
		if !strings.Contains(addr, "@") {
			return nil, fmt.Errorf("%w: invalid address %q", errShape, addr)
		}
		name, _ := m["name"].(string)
		out = append(out, &mail.Address{Name: name, Address: addr})
	}
	return out, nil
}

// groupedAddresses renders [{name, addresses}]. A group without a name
// contributes its addresses ungrouped.
func groupedAddresses(value any) (string, error) {
	list, ok := value.([]any)
	if !ok {
		return "", errShape
	}
	var parts []string
	for _, item := range list {
		g, ok := item.(map[string]any)
		if !ok {
			return "", errShape
		}
		addrs, err := addressList(g["addresses"])
		if err != nil {
			return "", err
		}
		rendered := make([]string, len(addrs))
		for i, a := range addrs {
			rendered[i] = a.String()
		}
		name, _ := g["name"].(string)
		if name == "" {
			parts = append(parts, rendered...)
			continue
		}
		parts = append(parts, name+": "+strings.Join(rendered, ", ")+";")
	}
	return strings.Join(parts, ", "), nil
}
