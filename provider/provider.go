// CLAUDE:SUMMARY Evidence providers (web, LLM search, MCP, crawler, mock) behind one two-method interface.
// Package provider discovers evidence for a topic and enriches it with the
// readable text of each page.
//
// Every provider is a failure boundary: Search converts internal failures
// into zero results so the orchestrator can fall back, and GatherReadables
// never drops an item.
package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/rumeur/evidence"
	"github.com/hazyhaar/rumeur/logbus"
)

// Provider is the evidence capability.
type Provider interface {
	Name() string
	// Search returns ranked items. Internal failures yield nil, nil; only a
	// canceled context is returned as an error.
	Search(ctx context.Context, topic string) ([]evidence.Item, error)
	// GatherReadables returns one item per input, in input order, with
	// ArticleTitle and ArticleText filled where a page could be read.
	GatherReadables(ctx context.Context, items []evidence.Item) ([]evidence.Item, error)
}

// Deps are the collaborators shared by providers.
type Deps struct {
	Log    logbus.Publisher
	Logger *slog.Logger
	// Extract tunes the readable extraction of article pages.
	Extract ExtractConfig
}

func (d *Deps) defaults() {
	if d.Log == nil {
		d.Log = logbus.Discard
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
}

// guard runs search and turns a panic or an error into zero results. A
// canceled context is the only error that escapes.
func guard(ctx context.Context, name string, deps Deps, search func() ([]evidence.Item, error)) (items []evidence.Item, err error) {
	defer func() {
		if r := recover(); r != nil {
			deps.Logger.Error("provider: search panic", "provider", name, "panic", r)
			deps.Log.Publish(fmt.Sprintf("[搜索] %s 异常：%v", name, r))
			items, err = nil, ctx.Err()
		}
	}()
	items, err = search()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		deps.Logger.Warn("provider: search failed", "provider", name, "error", err)
		return nil, nil
	}
	return items, nil
}
