package analysis

import (
	"context"
	"fmt"

	"github.com/hazyhaar/rumeur/evidence"
	"github.com/hazyhaar/rumeur/logbus"
	"github.com/hazyhaar/rumeur/provider"
)

// Chain is a primary provider with an optional secondary tried when the
// primary finds nothing.
type Chain struct {
	Primary   provider.Provider
	Secondary provider.Provider // nil = no fallback

	// Setup is published when a request starts, e.g. "[配置] ...".
	Setup string
	// Handoff is published before the secondary runs.
	Handoff string
}

// Fallback searches with the primary and, when it yields nothing, with the
// secondary. It returns the items and the provider that produced them; that
// provider must also gather their text. The secondary is adopted only when
// it finds at least one item. Errors and panics count as zero results.
func Fallback(ctx context.Context, c Chain, topic string, log logbus.Publisher) ([]evidence.Item, provider.Provider) {
	if log == nil {
		log = logbus.Discard
	}
	items := search(ctx, c.Primary, topic, log)
	if len(items) > 0 || c.Secondary == nil || ctx.Err() != nil {
		return items, c.Primary
	}
	if c.Handoff != "" {
		log.Publish(c.Handoff)
	}
	if alt := search(ctx, c.Secondary, topic, log); len(alt) > 0 {
		return alt, c.Secondary
	}
	return nil, c.Primary
}

func search(ctx context.Context, p provider.Provider, topic string, log logbus.Publisher) (items []evidence.Item) {
	defer func() {
		if r := recover(); r != nil {
			log.Publish(fmt.Sprintf("[搜索] 异常：%v，将继续流程并返回空结果提示…", r))
			items = nil
		}
	}()
	items, err := p.Search(ctx, topic)
	if err != nil {
		log.Publish(fmt.Sprintf("[搜索] 异常：%v，将继续流程并返回空结果提示…", err))
		return nil
	}
	return items
}
