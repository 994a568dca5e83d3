package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// Supported selector subset: tag, .class, #id, tag.class, tag#id,
// tag[attr], tag[attr=val], and descendant chains separated by spaces.
type simpleSelector struct {
	tag, id, class, attrKey, attrVal string
}

func querySelectorAll(root *html.Node, selector string) []*html.Node {
	parts := strings.Fields(selector)
	if len(parts) == 0 {
		return nil
	}
	matches := matchSimple(root, parseSelector(parts[0]))
	for _, p := range parts[1:] {
		sel := parseSelector(p)
		var next []*html.Node
		for _, m := range matches {
			for c := m.FirstChild; c != nil; c = c.NextSibling {
				next = append(next, matchSimple(c, sel)...)
			}
		}
		matches = next
	}
	return matches
}

func matchSimple(root *html.Node, s simpleSelector) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if s.matches(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func parseSelector(sel string) simpleSelector {
	var s simpleSelector
	if i := strings.IndexByte(sel, '['); i >= 0 {
		a := strings.TrimSuffix(sel[i+1:], "]")
		sel = sel[:i]
		if k, v, ok := strings.Cut(a, "="); ok {
			s.attrKey, s.attrVal = k, strings.Trim(v, `"'`)
		} else {
			s.attrKey = a
		}
	}
	if i := strings.IndexByte(sel, '#'); i >= 0 {
		s.id, sel = sel[i+1:], sel[:i]
	}
	if i := strings.IndexByte(sel, '.'); i >= 0 {
		s.class, sel = sel[i+1:], sel[:i]
	}
	s.tag = sel
	return s
}

func (s simpleSelector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" {
		if v, _ := attr(n, "id"); v != s.id {
			return false
		}
	}
	if s.class != "" {
		v, _ := attr(n, "class")
		found := false
		for _, c := range strings.Fields(v) {
			if c == s.class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.attrKey != "" {
		v, ok := attr(n, s.attrKey)
		if !ok || (s.attrVal != "" && v != s.attrVal) {
			return false
		}
	}
	return true
}
