package websearch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/rumeur/fetch"
)

// DefaultDDGEndpoint is the lite HTML interface, more stable to parse than
// the JS front end.
const DefaultDDGEndpoint = "https://lite.duckduckgo.com/lite/"

// ddgGate enforces one query per second across all DuckDuckGo instances.
var ddgGate struct {
	mu   sync.Mutex
	last time.Time
}

// DuckDuckGo scrapes DuckDuckGo lite.
type DuckDuckGo struct {
	Endpoint string
	http     *fetch.Fetcher
	gap      time.Duration
}

// NewDuckDuckGo creates a DuckDuckGo backend using f.
func NewDuckDuckGo(f *fetch.Fetcher) *DuckDuckGo {
	return &DuckDuckGo{Endpoint: DefaultDDGEndpoint, http: f, gap: time.Second}
}

func (d *DuckDuckGo) Name() string { return "ddg" }

// Search posts the query form and parses result links and snippets. A 429
// is retried with doubling delay up to 30s between tries.
func (d *DuckDuckGo) Search(ctx context.Context, query string, max int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if err := d.wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("q", query)
	h := http.Header{}
	h.Set("Content-Type", "application/x-www-form-urlencoded")

	delay := time.Second
	for {
		resp, err := d.http.Do(ctx, fetch.Request{
			Method: http.MethodPost,
			URL:    d.Endpoint,
			Header: h,
			Body:   []byte(form.Encode()),
			Tier:   fetch.TierPage,
		})
		var se *fetch.StatusError
		if errors.As(err, &se) && se.Code == http.StatusTooManyRequests && delay <= 30*time.Second {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("duckduckgo: %w", err)
		}
		hits := ParseLite(resp.Body)
		if max > 0 && len(hits) > max {
			hits = hits[:max]
		}
		return hits, nil
	}
}

func (d *DuckDuckGo) wait(ctx context.Context) error {
	ddgGate.mu.Lock()
	defer ddgGate.mu.Unlock()
	if wait := time.Until(ddgGate.last.Add(d.gap)); wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	ddgGate.last = time.Now()
	return nil
}

// ParseLite extracts hits from a DuckDuckGo lite result page: anchors with
// class result-link, paired in order with result-snippet cells. When no
// result-link is present every external anchor with a usable title is
// taken instead.
func ParseLite(body []byte) []Hit {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var links, snippets []*html.Node
	var anchors []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.DataAtom == atom.A && hasClass(n, "result-link"):
				links = append(links, n)
			case n.DataAtom == atom.Td && hasClass(n, "result-snippet"):
				snippets = append(snippets, n)
			case n.DataAtom == atom.A:
				anchors = append(anchors, n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var hits []Hit
	for i, a := range links {
		href := resolveDDGRedirect(getAttr(a, "href"))
		title := nodeText(a)
		if href == "" || title == "" {
			continue
		}
		hit := Hit{Title: title, Href: href}
		if i < len(snippets) {
			hit.Snippet = nodeText(snippets[i])
		}
		hits = append(hits, hit)
	}
	if len(hits) > 0 {
		return hits
	}

	seen := make(map[string]bool)
	for _, a := range anchors {
		href := resolveDDGRedirect(getAttr(a, "href"))
		title := nodeText(a)
		if !isExternal(href) || len([]rune(title)) < 5 || seen[href] {
			continue
		}
		seen[href] = true
		hits = append(hits, Hit{Title: title, Href: href})
	}
	return hits
}

// resolveDDGRedirect unwraps //duckduckgo.com/l/?uddg=<target> links.
func resolveDDGRedirect(href string) string {
	href = strings.TrimSpace(href)
	if !strings.Contains(href, "duckduckgo.com/l/") {
		return href
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return u.Query().Get("uddg")
}

func isExternal(href string) bool {
	if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
		return false
	}
	return !strings.Contains(href, "duckduckgo.com")
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(getAttr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
