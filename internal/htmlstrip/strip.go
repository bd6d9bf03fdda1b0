// Package htmlstrip extracts the visible text of an HTML body, used for
// message previews when a message has no plain-text part.
package htmlstrip

import (
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Elements whose content is never visible.
var hidden = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Head:     true,
}

// Elements that break the text flow.
var breaking = map[atom.Atom]bool{
	atom.Br: true, atom.P: true, atom.Div: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Pre: true, atom.Table: true, atom.Tr: true,
	atom.Td: true, atom.Th: true, atom.Section: true, atom.Article: true,
	atom.Header: true, atom.Footer: true, atom.Main: true, atom.Aside: true,
}

type collector struct {
	b       strings.Builder
	limit   int
	pending bool
}

func (c *collector) full() bool {
	return c.limit > 0 && c.b.Len() >= c.limit
}

func (c *collector) space() {
	if c.b.Len() > 0 {
		c.pending = true
	}
}

func (c *collector) text(s string) {
	if s == "" {
		return
	}
	if isSpace(s[0]) {
		c.space()
	}
	for i, word := range strings.Fields(s) {
		if c.full() {
			return
		}
		if i > 0 {
			c.space()
		}
		if c.pending {
			c.b.WriteByte(' ')
			c.pending = false
		}
		c.b.WriteString(word)
	}
	if isSpace(s[len(s)-1]) {
		c.space()
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
}

// Text returns the visible text of the HTML read from r, with runs of
// whitespace collapsed to single spaces. Image alt text is included. Reading
// stops once limit bytes of text are collected; zero means no limit.
func Text(r io.Reader, limit int) (string, error) {
	z := html.NewTokenizer(r)
	c := &collector{limit: limit}
	depth := 0

	for !c.full() {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", err
			}
			return c.b.String(), nil

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if hidden[tok.DataAtom] && tok.Type == html.StartTagToken {
				depth++
				continue
			}
			if breaking[tok.DataAtom] {
				c.space()
			}
			if tok.DataAtom == atom.Img && depth == 0 {
				for _, a := range tok.Attr {
					if a.Key == "alt" && a.Val != "" {
						c.space()
						c.text(a.Val)
						c.space()
					}
				}
			}

		case html.EndTagToken:
			tok := z.Token()
			if hidden[tok.DataAtom] && depth > 0 {
				depth--
				continue
			}
			if breaking[tok.DataAtom] {
				c.space()
			}

		case html.TextToken:
			if depth == 0 {
				c.text(string(z.Text()))
			}
		}
	}
	return c.b.String(), nil
}
