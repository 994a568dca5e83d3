package provider

import (
	"context"
	"strings"

	"github.com/hazyhaar/rumeur/evidence"
	"github.com/hazyhaar/rumeur/fetch"
	"github.com/hazyhaar/rumeur/websearch"
)

// Web is direct web search: one backend query, then ranking.
type Web struct {
	backend websearch.Backend
	opts    evidence.Options
	reader  pageReader
	deps    Deps
}

// NewWeb creates a direct search provider over backend.
func NewWeb(backend websearch.Backend, f *fetch.Fetcher, opts evidence.Options, deps Deps) *Web {
	deps.defaults()
	return &Web{
		backend: backend,
		opts:    opts.Normalized(),
		reader:  newPageReader(f, deps),
		deps:    deps,
	}
}

func (w *Web) Name() string { return "web:" + w.backend.Name() }

// Search asks the backend for twice MaxResults so ranking has room to
// drop blacklisted and non-trusted hits.
func (w *Web) Search(ctx context.Context, topic string) ([]evidence.Item, error) {
	return guard(ctx, w.Name(), w.deps, func() ([]evidence.Item, error) {
		want := w.opts.MaxResults * 2
		hits, err := w.backend.Search(ctx, topic, want)
		if err != nil {
			return nil, err
		}
		items := make([]evidence.Item, 0, len(hits))
		for _, h := range hits {
			href := strings.TrimSpace(h.URL())
			if href == "" {
				continue
			}
			items = append(items, evidence.Item{
				Href:    href,
				Title:   h.Title,
				Source:  evidence.DomainOf(href),
				Summary: h.Snippet,
			})
		}
		return Rank(items, w.opts), nil
	})
}

func (w *Web) GatherReadables(ctx context.Context, items []evidence.Item) ([]evidence.Item, error) {
	return gather(ctx, items, DefaultReadConcurrency, w.opts.MaxFetch, w.reader.read)
}
