package browser

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// compound is one step of a selector: tag, #id and .class parts, all optional.
type compound struct {
	tag     string
	id      string
	classes []string
}

// selector is a descendant chain such as "#pagination a" or "tbody tr".
type selector []compound

func parseSelector(s string) (selector, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, errors.New("empty selector")
	}
	out := make(selector, 0, len(fields))
	for _, f := range fields {
		c, err := parseCompound(f)
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", s, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseCompound(tok string) (compound, error) {
	var c compound
	i := strings.IndexAny(tok, "#.")
	if i < 0 {
		c.tag = strings.ToLower(tok)
		return c, nil
	}
	c.tag = strings.ToLower(tok[:i])
	rest := tok[i:]
	for rest != "" {
		kind := rest[0]
		rest = rest[1:]
		j := strings.IndexAny(rest, "#.")
		if j < 0 {
			j = len(rest)
		}
		val := rest[:j]
		rest = rest[j:]
		if val == "" {
			return c, fmt.Errorf("dangling %q in %q", kind, tok)
		}
		if kind == '#' {
			c.id = val
		} else {
			c.classes = append(c.classes, val)
		}
	}
	return c, nil
}

func (c compound) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && c.tag != "*" && n.Data != c.tag {
		return false
	}
	if c.id != "" && attr(n, "id") != c.id {
		return false
	}
	if len(c.classes) > 0 {
		have := strings.Fields(attr(n, "class"))
		for _, want := range c.classes {
			if !contains(have, want) {
				return false
			}
		}
	}
	return true
}

// all returns every node under root matching s, in document order.
func (s selector) all(root *html.Node) []*html.Node {
	if root == nil || len(s) == 0 {
		return nil
	}
	last := s[len(s)-1]
	var out []*html.Node
	walk(root, func(n *html.Node) {
		if last.matches(n) && s.ancestorsMatch(n.Parent, len(s)-2) {
			out = append(out, n)
		}
	})
	return out
}

func (s selector) first(root *html.Node) *html.Node {
	if nodes := s.all(root); len(nodes) > 0 {
		return nodes[0]
	}
	return nil
}

func (s selector) ancestorsMatch(n *html.Node, i int) bool {
	for p := n; p != nil && i >= 0; p = p.Parent {
		if s[i].matches(p) {
			i--
		}
	}
	return i < 0
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	})
	return b.String()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
