package extract

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type candidate struct {
	node     *html.Node
	score    float64
	linkDens float64
}

// findDensestNode scores every content element below root by
// text/markup density, text length and link density, and returns the best.
// Elements whose text is mostly anchors are skipped as navigation.
func findDensestNode(root *html.Node, minLen int) *html.Node {
	var best *candidate

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type != html.ElementNode || isBoilerplate(n) {
			return
		}
		if isContentTag(n.DataAtom) || n.DataAtom == atom.Body {
			if c := score(n, minLen); c != nil && c.linkDens <= 0.5 {
				if best == nil || c.score > best.score {
					best = c
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if best == nil {
		return nil
	}
	return best.node
}

func score(n *html.Node, minLen int) *candidate {
	text := collectText(n)
	if len(text) < minLen {
		return nil
	}
	markup := len(renderNode(n))
	if markup == 0 {
		markup = 1
	}
	linkDens := float64(len(collectLinkText(n))) / float64(len(text))
	density := float64(len(text)) / float64(markup)
	return &candidate{
		node:     n,
		score:    density * logScale(len(text)) * (1 - linkDens),
		linkDens: linkDens,
	}
}

// logScale grows by one per doubling of n above 100.
func logScale(n int) float64 {
	if n <= 0 {
		return 0
	}
	s := 1.0
	for v := n; v > 100; v /= 2 {
		s++
	}
	return s
}

func collectLinkText(n *html.Node) string {
	var out []byte
	var walk func(*html.Node, bool)
	walk = func(n *html.Node, inLink bool) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			inLink = true
		}
		if inLink && n.Type == html.TextNode {
			out = append(out, trimSpaceBytes(n.Data)...)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inLink)
		}
	}
	walk(n, false)
	return string(out)
}

func trimSpaceBytes(s string) string {
	i, j := 0, len(s)
	for i < j && isSpace(s[i]) {
		i++
	}
	for j > i && isSpace(s[j-1]) {
		j--
	}
	return s[i:j]
}

func isSpace(b byte) bool { return b == ' ' || b == '\n' || b == '\t' || b == '\r' || b == '\f' }
