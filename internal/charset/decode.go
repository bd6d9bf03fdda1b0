// Package charset decodes legacy character sets found in mail headers and
// bodies into UTF-8.
package charset

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// NewReader returns a reader decoding input from the named charset to UTF-8.
// It has the signature of go-message's CharsetReader hook and never fails on
// an unknown label: such input is passed through, falling back to Latin-1 if
// it is not valid UTF-8.
func NewReader(label string, input io.Reader) (io.Reader, error) {
	r, _, err := Decode(input, label)
	return r, err
}

// Decode is NewReader that also reports whether a fallback was needed
// because the label was unknown or the content did not match it.
func Decode(input io.Reader, label string) (io.Reader, bool, error) {
	label = strings.ToLower(strings.TrimSpace(label))

	switch label {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return validated(input, false)
	case "latin1", "latin-1":
		return transform.NewReader(input, charmap.ISO8859_1.NewDecoder()), false, nil
	}

	enc := lookup(label)
	if enc == nil {
		return validated(input, true)
	}
	return transform.NewReader(input, enc.NewDecoder()), false, nil
}

// lookup resolves a label through the IANA registry, then the WHATWG one.
func lookup(label string) encoding.Encoding {
	if enc, err := ianaindex.IANA.Encoding(label); err == nil && enc != nil {
		return enc
	}
	if enc, err := htmlindex.Get(label); err == nil {
		return enc
	}
	return nil
}

// validated buffers input and returns it unchanged when it is valid UTF-8,
// or decoded as Latin-1 otherwise. fallback is reported as given unless the
// Latin-1 path is taken.
func validated(input io.Reader, fallback bool) (io.Reader, bool, error) {
	content, err := io.ReadAll(input)
	if err != nil {
		return nil, false, err
	}
	if utf8.Valid(content) {
		return bytes.NewReader(content), fallback, nil
	}

	decoded, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), content)
	if err != nil {
		return bytes.NewReader(content), true, nil
	}
	return bytes.NewReader(decoded), true, nil
}
