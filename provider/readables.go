package provider

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/hazyhaar/rumeur/evidence"
	"github.com/hazyhaar/rumeur/extract"
	"github.com/hazyhaar/rumeur/fetch"
)

// DefaultReadConcurrency caps simultaneous page fetches during enrichment.
const DefaultReadConcurrency = 3

// readFunc enriches one item. It must not fail: an unreadable page is
// returned with empty ArticleText.
type readFunc func(ctx context.Context, it evidence.Item) evidence.Item

// gather runs read over items with at most limit in flight. Results are
// written by position. Items at index >= maxFetch (when maxFetch > 0) are
// returned as they came. A canceled context stops admission and returns
// ctx.Err() once in-flight reads finish.
func gather(ctx context.Context, items []evidence.Item, limit, maxFetch int, read readFunc) ([]evidence.Item, error) {
	if limit <= 0 {
		limit = DefaultReadConcurrency
	}
	out := make([]evidence.Item, len(items))
	copy(out, items)

	n := len(items)
	if maxFetch > 0 && maxFetch < n {
		n = maxFetch
	}

	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup
	var err error
	for i := 0; i < n; i++ {
		if err = sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			out[i] = read(ctx, items[i])
		}(i)
	}
	wg.Wait()
	return out, err
}

// ExtractConfig selects the output format of article text and the
// per-domain selectors tried before the density heuristic.
type ExtractConfig struct {
	Format    string              // "text" (default) or "markdown"
	Selectors map[string][]string // domain -> selectors; subdomains inherit
}

// selectorsFor returns the selectors of host or of its closest parent
// domain.
func (c ExtractConfig) selectorsFor(host string) []string {
	for h := host; h != ""; {
		if sel, ok := c.Selectors[h]; ok {
			return sel
		}
		_, parent, ok := strings.Cut(h, ".")
		if !ok {
			break
		}
		h = parent
	}
	return nil
}

// pageReader fetches a page on the article tier and runs the readable
// extractor over it.
type pageReader struct {
	http   *fetch.Fetcher
	cfg    ExtractConfig
	logger *slog.Logger
}

func newPageReader(f *fetch.Fetcher, deps Deps) pageReader {
	cfg := deps.Extract
	if len(cfg.Selectors) > 0 {
		norm := make(map[string][]string, len(cfg.Selectors))
		for d, sel := range cfg.Selectors {
			norm[evidence.NormalizeDomain(d)] = sel
		}
		cfg.Selectors = norm
	}
	return pageReader{http: f, cfg: cfg, logger: deps.Logger}
}

func (r pageReader) read(ctx context.Context, it evidence.Item) evidence.Item {
	resp, err := r.http.Get(ctx, it.Href, fetch.TierArticle)
	if err != nil || !extract.IsHTML(resp.ContentType(), resp.Body) {
		it.ArticleTitle, it.ArticleText = "", ""
		return it
	}
	res := extract.Readable(resp.Body, resp.ContentType(), extract.Options{
		Selectors: r.cfg.selectorsFor(evidence.DomainOf(resp.URL)),
		Format:    r.cfg.Format,
		BaseURL:   resp.URL,
		Logger:    r.logger,
	})
	it.ArticleTitle, it.ArticleText = res.Title, res.Text
	return it
}
