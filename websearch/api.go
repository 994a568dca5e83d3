package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/hazyhaar/rumeur/fetch"
)

// APIConfig describes how to call and parse a JSON search API.
type APIConfig struct {
	Method     string            `yaml:"method"`      // default GET
	Headers    map[string]string `yaml:"headers"`     // ${ENV_VAR} expanded
	ResultPath string            `yaml:"result_path"` // dot-notation: "web.results"
	Fields     map[string]string `yaml:"fields"`      // {"title":"title","url":"url","snippet":"description"}
}

// BraveEngine is the Brave Search web endpoint. The key is read from
// BRAVE_API_KEY at request time.
func BraveEngine() Engine {
	return Engine{
		Name:        "brave",
		Strategy:    "api",
		URLTemplate: "https://api.search.brave.com/res/v1/web/search?q={query}&count={count}",
		API: APIConfig{
			Headers:    map[string]string{"X-Subscription-Token": "${BRAVE_API_KEY}"},
			ResultPath: "web.results",
			Fields:     map[string]string{"title": "title", "url": "url", "snippet": "description"},
		},
	}
}

// API is a Backend over a JSON search API.
type API struct {
	engine Engine
	http   *fetch.Fetcher
}

// NewAPI creates a JSON API backend.
func NewAPI(e Engine, f *fetch.Fetcher) *API { return &API{engine: e, http: f} }

func (a *API) Name() string {
	if a.engine.Name != "" {
		return a.engine.Name
	}
	return "api"
}

// Search fills {query} and {count} in the URL template, calls the API and
// maps every object found at ResultPath to a Hit.
func (a *API) Search(ctx context.Context, query string, max int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	count := max
	if count <= 0 {
		count = 20
	}
	target := strings.NewReplacer(
		"{query}", url.QueryEscape(query),
		"{count}", strconv.Itoa(count),
	).Replace(a.engine.URLTemplate)

	h := http.Header{}
	for k, v := range a.engine.API.Headers {
		h.Set(k, os.Expand(v, os.Getenv))
	}
	if h.Get("Accept") == "" {
		h.Set("Accept", "application/json")
	}
	method := a.engine.API.Method
	if method == "" {
		method = http.MethodGet
	}

	resp, err := a.http.Do(ctx, fetch.Request{Method: method, URL: target, Header: h, Tier: fetch.TierPage})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.Name(), err)
	}

	var raw any
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, fmt.Errorf("%s: json decode: %w", a.Name(), err)
	}
	items, err := walkPath(raw, a.engine.API.ResultPath)
	if err != nil {
		return nil, fmt.Errorf("%s: walk path %q: %w", a.Name(), a.engine.API.ResultPath, err)
	}

	hits := make([]Hit, 0, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		hit := mapFields(obj, a.engine.API.Fields)
		if hit.Href == "" {
			continue
		}
		hits = append(hits, hit)
		if max > 0 && len(hits) == max {
			break
		}
	}
	return hits, nil
}

// walkPath follows a dot-notation path to an array. An empty path means
// the root is the array.
func walkPath(v any, path string) ([]any, error) {
	cur := v
	if path != "" {
		for _, part := range strings.Split(path, ".") {
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected object at %q, got %T", part, cur)
			}
			if cur, ok = obj[part]; !ok {
				return nil, fmt.Errorf("key %q not found", part)
			}
		}
	}
	arr, ok := cur.([]any)
	if !ok {
		return nil, fmt.Errorf("not an array")
	}
	return arr, nil
}

func mapFields(obj map[string]any, fields map[string]string) Hit {
	field := func(name string) string {
		key := name
		if f, ok := fields[name]; ok {
			key = f
		}
		switch v := obj[key].(type) {
		case nil:
			return ""
		case string:
			return strings.TrimSpace(v)
		default:
			return fmt.Sprint(v)
		}
	}
	return Hit{Title: field("title"), Href: field("url"), Snippet: field("snippet")}
}
