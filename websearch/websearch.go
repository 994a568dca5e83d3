// CLAUDE:SUMMARY Web search backends behind one interface: DuckDuckGo lite HTML and JSON APIs such as Brave.
// Package websearch runs keyword queries against public web search
// engines and returns raw hits. Ranking and filtering happen in provider.
//
// Two strategies are supported:
//   - "ddg": DuckDuckGo's lite HTML page, parsed with x/net/html.
//   - "api": any JSON search API (e.g. Brave Search) described by an Engine.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/rumeur/fetch"
)

// Hit is one raw search result. Some engines report the target under
// "link" instead of "href"; URL normalises both.
type Hit struct {
	Title   string `json:"title"`
	Href    string `json:"href,omitempty"`
	Link    string `json:"link,omitempty"`
	Snippet string `json:"body,omitempty"`
}

// URL returns Href, or Link when Href is empty.
func (h Hit) URL() string {
	if h.Href != "" {
		return h.Href
	}
	return h.Link
}

// Backend runs a query and returns up to max hits.
type Backend interface {
	Name() string
	Search(ctx context.Context, query string, max int) ([]Hit, error)
}

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("websearch: query is empty")

// Engine describes a backend.
type Engine struct {
	Name        string    `yaml:"name"`
	Strategy    string    `yaml:"strategy"`     // "ddg" | "api"
	URLTemplate string    `yaml:"url_template"` // api: "...?q={query}&count={count}"
	API         APIConfig `yaml:"api"`
}

// New builds the backend described by e.
func New(e Engine, f *fetch.Fetcher) (Backend, error) {
	switch strings.ToLower(e.Strategy) {
	case "", "ddg", "ddgs", "duckduckgo":
		return NewDuckDuckGo(f), nil
	case "api":
		if e.URLTemplate == "" {
			return nil, fmt.Errorf("websearch: engine %q: url_template required", e.Name)
		}
		return NewAPI(e, f), nil
	case "brave":
		return NewAPI(BraveEngine(), f), nil
	}
	return nil, fmt.Errorf("websearch: unknown strategy %q", e.Strategy)
}
