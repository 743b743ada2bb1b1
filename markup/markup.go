// Package markup sanitizes HTML for embedding in an archive document.
//
// The input is rewritten on the parsed tree before the sanitizer policy runs:
// links become text followed by their target, cid: images are resolved to data
// URIs and remote images are replaced by their alt text. Nothing is fetched.
package markup

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrMalformed reports input that cannot be treated as markup at all.
var ErrMalformed = errors.New("malformed markup")

// Resolver looks up an inline part by Content-ID.
type Resolver func(contentID string) (mediaType string, data []byte, ok bool)

// dropped elements are removed together with their content.
var dropped = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Object:   true,
	atom.Embed:    true,
	atom.Applet:   true,
	atom.Frameset: true,
}

// Sanitizer holds a compiled policy and is safe for concurrent use.
type Sanitizer struct {
	policy *bluemonday.Policy
}

func NewSanitizer() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "div", "span", "hr", "center", "font",
		"b", "strong", "i", "em", "u", "s", "strike", "del", "ins", "mark",
		"sub", "sup", "small", "big", "abbr", "cite", "q", "code", "kbd", "samp", "var",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"blockquote", "pre", "address",
		"ul", "ol", "li", "dl", "dt", "dd",
		"table", "thead", "tbody", "tfoot", "tr", "td", "th", "caption", "col", "colgroup",
	)
	p.AllowAttrs("colspan", "rowspan").Matching(bluemonday.Integer).OnElements("td", "th")
	p.AllowAttrs("align", "valign").OnElements("td", "th", "tr", "p", "div", "table", "h1", "h2", "h3")
	p.AllowAttrs("start").Matching(bluemonday.Integer).OnElements("ol")
	p.AllowAttrs("color").OnElements("font")
	p.AllowImages()
	p.AllowDataURIImages()
	p.AllowStyles(
		"color", "background-color",
		"font-weight", "font-style", "font-size", "font-family",
		"text-decoration", "text-align", "vertical-align",
		"border", "border-collapse", "padding", "margin", "width",
	).Globally()
	return &Sanitizer{policy: p}
}

// Sanitize returns the body content of src as safe markup.
func (s *Sanitizer) Sanitize(src []byte, resolve Resolver) (string, error) {
	if bytes.IndexByte(src, 0) >= 0 {
		return "", fmt.Errorf("%w: NUL byte in markup", ErrMalformed)
	}

	doc, err := html.Parse(bytes.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	rewrite(doc, resolve)

	body := findBody(doc)
	if body == nil {
		body = doc
	}

	var buf bytes.Buffer
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	return s.policy.Sanitize(buf.String()), nil
}

// Text extracts the visible text of sanitized markup.
func Text(sanitized string) string {
	nodes, err := html.ParseFragment(strings.NewReader(sanitized), bodyContext())
	if err != nil {
		return sanitized
	}
	var b strings.Builder
	for _, n := range nodes {
		writeText(&b, n)
	}
	return b.String()
}

// writeText appends the visible text of n, ending block elements with a newline.
func writeText(b *strings.Builder, n *html.Node) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if n.Type == html.ElementNode && (isBlock(n) || n.DataAtom == atom.Br) {
		b.WriteByte('\n')
	}
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	writeText(&b, n)
	return b.String()
}

func bodyContext() *html.Node {
	return &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
}

func rewrite(n *html.Node, resolve Resolver) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode {
			n.RemoveChild(c)
			c = next
			continue
		}
		if c.Type == html.ElementNode {
			switch {
			case dropped[c.DataAtom]:
				n.RemoveChild(c)
				c = next
				continue
			case c.DataAtom == atom.A:
				rewrite(c, resolve)
				unwrapLink(n, c)
				c = next
				continue
			case c.DataAtom == atom.Img:
				rewriteImage(n, c, resolve)
				c = next
				continue
			}
		}
		rewrite(c, resolve)
		c = next
	}
}

// unwrapLink replaces <a href> with its children and the target in parentheses.
func unwrapLink(parent, a *html.Node) {
	href := strings.TrimSpace(attr(a, "href"))
	label := strings.TrimSpace(textOf(a))
	for c := a.FirstChild; c != nil; {
		next := c.NextSibling
		a.RemoveChild(c)
		parent.InsertBefore(c, a)
		c = next
	}
	if showTarget(href, label) {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: " (" + href + ")"}, a)
	}
	parent.RemoveChild(a)
}

func showTarget(href, label string) bool {
	lower := strings.ToLower(href)
	switch {
	case href == "", strings.HasPrefix(href, "#"), strings.HasPrefix(lower, "javascript:"):
		return false
	case label == href, label == strings.TrimPrefix(href, "mailto:"):
		return false
	}
	return true
}

func rewriteImage(parent, img *html.Node, resolve Resolver) {
	src := strings.TrimSpace(attr(img, "src"))
	lower := strings.ToLower(src)
	switch {
	case strings.HasPrefix(lower, "data:"):
		return
	case strings.HasPrefix(lower, "cid:") && resolve != nil:
		id := strings.Trim(src[len("cid:"):], "<>")
		if mediaType, data, ok := resolve(id); ok {
			setAttr(img, "src", "data:"+mediaType+";base64,"+base64.StdEncoding.EncodeToString(data))
			return
		}
	}
	alt := strings.TrimSpace(attr(img, "alt"))
	if alt == "" {
		alt = "image"
	}
	parent.InsertBefore(&html.Node{Type: html.TextNode, Data: "[" + alt + "]"}, img)
	parent.RemoveChild(img)
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func isBlock(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.P, atom.Div, atom.Table, atom.Ul, atom.Ol, atom.Dl, atom.Blockquote, atom.Pre,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Hr, atom.Center, atom.Address, atom.Li,
		atom.Tr:
		return true
	}
	return false
}
