// CLAUDE:SUMMARY Evidence item model shared by providers, the synthesizer and the renderer, plus domain helpers.
// Package evidence defines the unit of evidence that flows through the
// pipeline: a URL discovered by a provider, optionally enriched with the
// readable text of the page behind it.
package evidence

import (
	"net/url"
	"strings"
)

// Item is one piece of evidence. Identity is the URL (Href).
//
// Search fills Href, Title, Source, Date and Summary. GatherReadables returns
// copies with ArticleTitle and ArticleText filled; an empty ArticleText means
// the page could not be fetched or carried no readable body.
type Item struct {
	Href         string `json:"href"`
	Title        string `json:"title"`
	Source       string `json:"source"`
	Date         string `json:"date,omitempty"`
	Summary      string `json:"summary,omitempty"`
	ArticleTitle string `json:"article_title,omitempty"`
	ArticleText  string `json:"article_text,omitempty"`
}

// HasText reports whether the item carries extracted article text.
func (it Item) HasText() bool { return strings.TrimSpace(it.ArticleText) != "" }

// DisplayTitle returns the best title available, falling back to the URL.
func (it Item) DisplayTitle() string {
	if t := strings.TrimSpace(it.Title); t != "" {
		return t
	}
	if t := strings.TrimSpace(it.ArticleTitle); t != "" {
		return t
	}
	return it.Href
}

// Domain returns Source when set, otherwise the host of Href.
func (it Item) Domain() string {
	if it.Source != "" {
		return it.Source
	}
	return DomainOf(it.Href)
}

// DomainOf returns the lowercased host of rawURL without port, or "" when
// rawURL has no parseable host.
func DomainOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// NormalizeDomain accepts either a bare domain or a URL and returns the host.
func NormalizeDomain(d string) string {
	d = strings.TrimSpace(d)
	if d == "" {
		return ""
	}
	if strings.Contains(d, "://") {
		if h := DomainOf(d); h != "" {
			return h
		}
	}
	d = strings.TrimSuffix(d, "/")
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	return strings.ToLower(d)
}

// NormalizeDomains normalises every entry and drops empties and duplicates,
// keeping first-seen order.
func NormalizeDomains(ds []string) []string {
	seen := make(map[string]bool, len(ds))
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		n := NormalizeDomain(d)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// SplitList parses a comma separated domain list as found in env vars.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CountText returns how many items carry extracted article text.
func CountText(items []Item) int {
	n := 0
	for _, it := range items {
		if it.HasText() {
			n++
		}
	}
	return n
}

// WithText returns the subset of items carrying article text, in order.
func WithText(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.HasText() {
			out = append(out, it)
		}
	}
	return out
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
