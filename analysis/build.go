package analysis

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/rumeur/browser"
	"github.com/hazyhaar/rumeur/config"
	"github.com/hazyhaar/rumeur/evidence"
	"github.com/hazyhaar/rumeur/fetch"
	"github.com/hazyhaar/rumeur/horosafe"
	"github.com/hazyhaar/rumeur/llm"
	"github.com/hazyhaar/rumeur/logbus"
	"github.com/hazyhaar/rumeur/provider"
	"github.com/hazyhaar/rumeur/render"
	"github.com/hazyhaar/rumeur/report"
	"github.com/hazyhaar/rumeur/suppress"
	"github.com/hazyhaar/rumeur/websearch"
)

// Crawler domain lists used when none are configured.
var (
	DefaultCrawlerTrusted = []string{
		"people.com.cn", "xinhuanet.com", "cctv.com", "thepaper.cn",
		"bjnews.com.cn", "ifeng.com", "163.com", "sohu.com",
	}
	DefaultCrawlerBlacklist = []string{
		"weixin.qq.com", "mp.weixin.qq.com", "baijiahao.baidu.com",
		"bilibili.com", "iqiyi.com", "youku.com", "bilibili.tv", "acfun.cn",
	}
)

// Deps are the process-wide collaborators handed to Build.
type Deps struct {
	Log    logbus.Publisher
	Logger *slog.Logger
}

// Built is a wired pipeline plus the resources it owns.
type Built struct {
	*Pipeline
	closers []io.Closer
}

// Close releases the browser and the suppression database.
func (b *Built) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Build wires a Pipeline from configuration: one shared fetcher, the two
// model clients, the provider chain selected by cfg.Provider, the report
// synthesizer and Chrome-backed PDF export.
func Build(cfg *config.Config, deps Deps) (*Built, error) {
	if deps.Log == nil {
		deps.Log = logbus.Discard
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	pdeps := provider.Deps{
		Log:     deps.Log,
		Logger:  deps.Logger,
		Extract: provider.ExtractConfig{Format: cfg.Extract.Format, Selectors: cfg.Extract.Selectors},
	}
	b := &Built{}

	f, pages := newFetchers(cfg, deps)

	reportModel := llm.New(llm.Config{
		BaseURL:     cfg.Report.BaseURL,
		ChatPath:    cfg.Report.ChatPath,
		APIKey:      cfg.Report.APIKey,
		Model:       cfg.Report.Model,
		Temperature: cfg.Report.Temperature,
		Tag:         "[豆包ARK]",
	}, f, deps.Log, deps.Logger)

	chrome := browser.New(browser.Config{
		RemoteURL: cfg.Browser.RemoteURL,
		Bin:       cfg.Browser.Bin,
		Logger:    deps.Logger,
	})
	b.closers = append(b.closers, chrome)

	opts := cfg.Options()
	chain, trusted, err := buildChain(cfg, opts, f, pages, reportModel, chrome, pdeps, b)
	if err != nil {
		b.Close()
		return nil, err
	}

	b.Pipeline = New(Config{
		Chain:        chain,
		Synthesizer:  report.New(reportModel, deps.Log, deps.Logger),
		PDF:          render.NewChromePDF(chrome),
		Writer:       render.Writer{Dir: cfg.ReportDir},
		Expert:       cfg.ExpertMode,
		Notice:       NoticeConfig{LowFetchRate: cfg.Notice.LowFetchRate, MinDocs: cfg.Notice.MinDocs},
		TrustedCount: trusted,
		Log:          deps.Log,
		Logger:       deps.Logger,
	})
	return b, nil
}

// newFetchers returns the fetcher for operator-configured endpoints (model
// APIs, search backends) and the one for page URLs taken from search
// results, which refuses private and loopback targets unless
// AllowPrivateURLs is set.
func newFetchers(cfg *config.Config, deps Deps) (api, pages *fetch.Fetcher) {
	fc := fetch.Config{Proxy: cfg.Proxy, Log: deps.Log, Logger: deps.Logger}
	api = fetch.New(fc)
	if !cfg.AllowPrivateURLs {
		fc.URLValidator = horosafe.ValidateURL
	}
	return api, fetch.New(fc)
}

func buildChain(cfg *config.Config, opts evidence.Options, f, pages *fetch.Fetcher, reportModel *llm.Client,
	chrome *browser.Manager, deps provider.Deps, b *Built) (Chain, int, error) {

	backend, err := websearch.New(cfg.Backend, f)
	if err != nil {
		return Chain{}, 0, err
	}
	web := func(o evidence.Options) *provider.Web { return provider.NewWeb(backend, pages, o, deps) }

	llmSearch := func() (*provider.LLMSearch, string) {
		base := llm.NormalizeBase(cfg.LLMSearch.BaseURL)
		o := opts
		o.TimeDays = firstPositive(cfg.LLMSearch.TimeDays, cfg.Search.TimeDays, 30)
		if cfg.LLMSearch.Language != "" {
			o.Language = cfg.LLMSearch.Language
		}
		client := llm.New(llm.Config{
			BaseURL:     base,
			APIKey:      cfg.LLMSearch.APIKey,
			Model:       cfg.LLMSearch.Model,
			Temperature: cfg.LLMSearch.Temperature,
			Tag:         "[LLM检索]",
		}, f, deps.Log, deps.Logger)
		return provider.NewLLMSearch(client, pages, o, deps), base
	}

	trusted := len(opts.Trusted)
	switch cfg.Provider {
	case config.ProviderLLM:
		p, base := llmSearch()
		return Chain{
			Primary:   p,
			Secondary: web(opts),
			Setup:     fmt.Sprintf("[配置] 使用 LLM 联网检索服务: base=%s, model=%s", base, cfg.LLMSearch.Model),
			Handoff:   "[搜索] LLM 未返回结果，回退至 DDGS 文本检索…",
		}, trusted, nil

	case config.ProviderMCP:
		secondary, _ := llmSearch()
		return Chain{
			Primary:   provider.NewMCPSearch(provider.CommandDialer(cfg.MCP.Server, cfg.Proxy), web(opts), opts, deps),
			Secondary: secondary,
			Setup:     "[配置] 使用 MCP DuckDuckGo 搜索；AiHubMix 作为回退",
			Handoff:   "[搜索] MCP 未返回结果，回退至 AiHubMix LLM 联网检索…",
		}, trusted, nil

	case config.ProviderMock:
		return Chain{
			Primary: provider.NewMock(opts),
			Setup:   "[配置] 使用本地离线 Mock 检索服务（演示/断网验证）",
		}, trusted, nil

	case config.ProviderCrawler:
		if len(opts.Trusted) == 0 {
			opts.Trusted = DefaultCrawlerTrusted
		}
		if len(opts.Blacklist) == 0 {
			opts.Blacklist = DefaultCrawlerBlacklist
		}
		trusted = len(opts.Trusted)
		store, err := openSuppress(cfg, deps, b)
		if err != nil {
			return Chain{}, 0, err
		}
		co := opts
		co.TimeDays = cfg.Crawler.TimeDays
		cc := provider.CrawlerConfig{
			PerSiteLimit: cfg.Crawler.PerSiteLimit,
			MaxTotal:     cfg.Crawler.MaxTotal,
			DomainBudget: cfg.Crawler.DomainBudget,
		}
		if cfg.Crawler.Render {
			cc.Render = chrome
		}
		chain := Chain{Primary: provider.NewCrawler(pages, reportModel, store, co, cc, deps)}
		if cfg.Crawler.Strict {
			chain.Setup = "[配置] 使用站内抓取（Crawler）模式（严格）：禁用任何非爬虫的搜索回退"
		} else {
			chain.Secondary = web(opts)
			chain.Setup = "[配置] 使用站内抓取（Crawler）模式：白名单站点轻量抓取与正文抽取；允许 DDGS 作为兜底"
			chain.Handoff = "[搜索] Crawler 未返回结果，回退至 DDGS 文本检索…"
		}
		return chain, trusted, nil
	}
	return Chain{Primary: web(opts)}, trusted, nil
}

func openSuppress(cfg *config.Config, deps provider.Deps, b *Built) (*suppress.Store, error) {
	var kv suppress.KV
	switch cfg.Suppress.Backend {
	case "memory":
		kv = suppress.NewMemoryKV()
	case "sqlite":
		s, err := suppress.OpenSQLiteKV(cfg.Suppress.File)
		if err != nil {
			return nil, fmt.Errorf("analysis: suppress store: %w", err)
		}
		b.closers = append(b.closers, s)
		kv = s
	default:
		kv = suppress.OpenFileKV(cfg.Suppress.File, deps.Logger)
	}
	return suppress.New(kv, suppress.Options{
		Threshold: cfg.Suppress.Threshold,
		TTL:       cfg.SuppressTTL(),
		Logger:    deps.Logger,
		Log:       deps.Log,
	}), nil
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
