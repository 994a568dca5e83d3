package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/rumeur/evidence"
	"github.com/hazyhaar/rumeur/fetch"
	"github.com/hazyhaar/rumeur/llm"
)

// Searcher is the model surface LLMSearch needs.
type Searcher interface {
	Model() string
	Endpoint() string
	Complete(ctx context.Context, msgs []llm.Message, opts ...llm.CallOption) (string, error)
	Respond(ctx context.Context, input string, opts ...llm.CallOption) (string, error)
}

// LLMSearch asks a web-search capable model for a JSON list of sources.
// chat/completions is tried first, /responses second.
type LLMSearch struct {
	model  Searcher
	opts   evidence.Options
	reader pageReader
	deps   Deps
}

// NewLLMSearch creates an LLM-backed search provider.
func NewLLMSearch(model Searcher, f *fetch.Fetcher, opts evidence.Options, deps Deps) *LLMSearch {
	deps.defaults()
	return &LLMSearch{
		model:  model,
		opts:   opts.Normalized(),
		reader: newPageReader(f, deps),
		deps:   deps,
	}
}

func (p *LLMSearch) Name() string { return "llm" }

func (p *LLMSearch) Search(ctx context.Context, topic string) ([]evidence.Item, error) {
	return guard(ctx, p.Name(), p.deps, func() ([]evidence.Item, error) {
		p.deps.Log.Publish(fmt.Sprintf("[LLM检索] 使用AiHubMix: base=%s, model=%s",
			strings.TrimSuffix(p.model.Endpoint(), "/chat/completions"), p.model.Model()))

		if items := p.viaChat(ctx, topic); len(items) > 0 {
			p.deps.Log.Publish(fmt.Sprintf("[LLM检索] chat/completions 命中 %d 条", len(items)))
			return items, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if items := p.viaResponses(ctx, topic); len(items) > 0 {
			p.deps.Log.Publish(fmt.Sprintf("[LLM检索] responses 命中 %d 条", len(items)))
			return items, nil
		}
		p.deps.Log.Publish("[LLM检索] 两个端点均未返回有效结果")
		return nil, ctx.Err()
	})
}

func (p *LLMSearch) topN() int {
	if p.opts.MaxResults <= 0 || p.opts.MaxResults > 10 {
		return 10
	}
	return p.opts.MaxResults
}

func (p *LLMSearch) chatPrompt(topic string) string {
	return "请联网搜索并返回JSON数组，每个元素包含title,url,source,date,summary。" +
		fmt.Sprintf("主题：%s；TopN=%d；时间范围=%d天；语言=%s；", topic, p.topN(), p.opts.TimeDays, p.opts.Language) +
		fmt.Sprintf("白名单域名优先：%s；", strings.Join(p.opts.Trusted, ", ")) +
		"排除视频网站与仅视频页（如 YouTube、Bilibili、TikTok、优酷、西瓜视频、Vimeo 等），优先新闻/媒体/博客等文字页面。" +
		"只返回JSON，不要附加解释。"
}

func (p *LLMSearch) responsesPrompt(topic string) string {
	return "请联网搜索并返回JSON数组，每个元素包含title,url,source,date,summary。" +
		fmt.Sprintf("主题: %s; TopN=%d; 时间范围=%d天; 语言=%s;", topic, p.topN(), p.opts.TimeDays, p.opts.Language) +
		fmt.Sprintf(" 白名单域名优先: %s；", strings.Join(p.opts.Trusted, ", ")) +
		"排除视频网站与仅视频页（如 YouTube、Bilibili、TikTok、优酷、西瓜视频、Vimeo 等），优先新闻/媒体/博客等文字页面。" +
		"只返回JSON。"
}

// viaChat returns nil when the endpoint failed or yielded neither a JSON
// array nor any URL.
func (p *LLMSearch) viaChat(ctx context.Context, topic string) []evidence.Item {
	content, err := p.model.Complete(ctx, []llm.Message{llm.User(p.chatPrompt(topic))},
		llm.WithExtra("max_tokens", 2048),
		llm.WithExtra("web_search_options", map[string]any{
			"enable":            true,
			"max_results":       p.opts.MaxResults,
			"time_range_days":   p.opts.TimeDays,
			"language":          p.opts.Language,
			"domains_whitelist": nonNil(p.opts.Trusted),
			"domains_blacklist": nonNil(p.opts.Blacklist),
		}),
	)
	if err != nil {
		p.logFailure("chat/completions", err)
		return nil
	}

	if arr, ok := llm.ExtractArray(content); ok && len(arr) > 0 {
		return Rank(normalize(arr), p.opts)
	}
	p.deps.Log.Publish(fmt.Sprintf("[LLM检索] chat/completions 无JSON，content_len=%d", len(content)))

	var items []evidence.Item
	for _, u := range llm.ExtractURLs(content, p.opts.MaxResults) {
		items = append(items, evidence.Item{Href: u, Source: evidence.DomainOf(u)})
	}
	if len(items) == 0 {
		p.deps.Log.Publish("[LLM检索] 未解析到JSON或URL，忽略此端点结果…")
		return nil
	}
	return Rank(items, p.opts)
}

func (p *LLMSearch) viaResponses(ctx context.Context, topic string) []evidence.Item {
	content, err := p.model.Respond(ctx, p.responsesPrompt(topic), llm.WithExtra("max_output_tokens", 2048))
	if err != nil {
		p.logFailure("responses", err)
		return nil
	}
	arr, ok := llm.ExtractArray(content)
	if !ok || len(arr) == 0 {
		p.deps.Log.Publish("[LLM检索] responses 未解析到JSON数组，忽略此端点结果…")
		return nil
	}
	return Rank(normalize(arr), p.opts)
}

func (p *LLMSearch) logFailure(endpoint string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	p.deps.Logger.Warn("provider: llm search endpoint failed", "endpoint", endpoint, "error", err)
	// transport failures were already published by the llm client
	if fetch.Classify(err) == fetch.ClassUnknown {
		p.deps.Log.Publish(fmt.Sprintf("[LLM检索] %s 异常：%v", endpoint, err))
	}
}

func (p *LLMSearch) GatherReadables(ctx context.Context, items []evidence.Item) ([]evidence.Item, error) {
	return gather(ctx, items, DefaultReadConcurrency, p.opts.MaxFetch, p.reader.read)
}

// normalize maps model objects {title,url|href,source,date,summary} to
// items. Objects without a URL are skipped.
func normalize(arr []map[string]any) []evidence.Item {
	items := make([]evidence.Item, 0, len(arr))
	for _, o := range arr {
		href := llm.String(o, "url", "href")
		if href == "" {
			continue
		}
		src := llm.String(o, "source")
		if src == "" {
			src = evidence.DomainOf(href)
		}
		items = append(items, evidence.Item{
			Href:    href,
			Title:   llm.String(o, "title"),
			Source:  src,
			Date:    llm.String(o, "date"),
			Summary: llm.String(o, "summary"),
		})
	}
	return items
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
