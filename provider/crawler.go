package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/rumeur/evidence"
	"github.com/hazyhaar/rumeur/extract"
	"github.com/hazyhaar/rumeur/fetch"
	"github.com/hazyhaar/rumeur/suppress"
)

// DefaultExtraSeeds are channel pages crawled after the homepage.
var DefaultExtraSeeds = map[string][]string{
	"xinhuanet.com": {
		"https://www.xinhuanet.com/auto/",
		"https://www.xinhuanet.com/fortune/",
		"https://www.xinhuanet.com/tech/",
	},
	"thepaper.cn": {
		"https://www.thepaper.cn/channel/26916",
		"https://www.thepaper.cn/channel/26835",
		"https://www.thepaper.cn/channel/27224",
	},
	"163.com": {
		"https://auto.163.com/",
		"https://news.163.com/",
	},
}

// DefaultAliases lists hosts that belong to a trusted domain without being
// a subdomain of it.
var DefaultAliases = map[string][]string{
	"xinhuanet.com": {"news.cn", "www.news.cn"},
}

// videoMarkers exclude video and live pages.
var videoMarkers = []string{"video", "/v/", "/tv/", "live"}

// Renderer returns the HTML of a page after scripts ran.
type Renderer interface {
	RenderHTML(ctx context.Context, url string) (string, error)
}

// CrawlerConfig tunes the crawler. Zero values take defaults.
type CrawlerConfig struct {
	PerSiteLimit int           // default 5
	MaxTotal     int           // default 30
	DomainBudget time.Duration // default 60s
	ExtraSeeds   map[string][]string
	Aliases      map[string][]string
	Render       Renderer // nil = plain HTTP for homepage and channel pages
}

func (c *CrawlerConfig) defaults() {
	if c.PerSiteLimit <= 0 {
		c.PerSiteLimit = 5
	}
	if c.MaxTotal <= 0 {
		c.MaxTotal = 30
	}
	if c.DomainBudget <= 0 {
		c.DomainBudget = 60 * time.Second
	}
	if c.ExtraSeeds == nil {
		c.ExtraSeeds = DefaultExtraSeeds
	}
	if c.Aliases == nil {
		c.Aliases = DefaultAliases
	}
}

// Crawler discovers articles on trusted domains directly: sitemap first,
// then homepage and channel anchors. Each domain runs on its own budget and
// feeds the suppression store.
type Crawler struct {
	http  *fetch.Fetcher
	model Completer
	store *suppress.Store
	opts  evidence.Options
	cfg   CrawlerConfig
	deps  Deps
	now   func() time.Time
	base  func(domain string) string
}

// NewCrawler creates a crawler over opts.Trusted. model may be nil, in
// which case keywords come from the topic alone. store may be nil to
// disable suppression.
func NewCrawler(f *fetch.Fetcher, model Completer, store *suppress.Store, opts evidence.Options, cfg CrawlerConfig, deps Deps) *Crawler {
	deps.defaults()
	cfg.defaults()
	return &Crawler{
		http:  f,
		model: model,
		store: store,
		opts:  opts.Normalized(),
		cfg:   cfg,
		deps:  deps,
		now:   time.Now,
		base:  func(d string) string { return "https://" + d + "/" },
	}
}

func (c *Crawler) Name() string { return "crawler" }

// errSkipped marks a domain left out by policy; it is not a failure.
var errSkipped = errors.New("domain skipped")

func (c *Crawler) Search(ctx context.Context, topic string) ([]evidence.Item, error) {
	return guard(ctx, c.Name(), c.deps, func() ([]evidence.Item, error) {
		keywords := Keywords(ctx, c.model, topic, c.deps.Log)
		c.deps.Log.Publish(fmt.Sprintf("[Crawler] 关键词集：%v", keywords))

		domains := c.opts.Trusted
		perDomain := make([][]evidence.Item, len(domains))
		var g errgroup.Group
		for i, domain := range domains {
			g.Go(func() error {
				perDomain[i] = c.runDomain(ctx, domain, keywords)
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var items []evidence.Item
		for _, part := range perDomain {
			items = append(items, part...)
		}
		items = RankBy(items, c.opts, c.rankDomain)
		if len(items) > c.cfg.MaxTotal {
			items = items[:c.cfg.MaxTotal]
		}
		return items, nil
	})
}

// runDomain crawls one domain within its budget and records the outcome.
// A panic or timeout affects this domain only.
func (c *Crawler) runDomain(ctx context.Context, domain string, keywords []string) (items []evidence.Item) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DomainBudget)
	defer cancel()
	logger := c.deps.Logger.With("domain", domain)

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		items, err = c.crawlDomain(dctx, domain, keywords)
	}()

	switch {
	case errors.Is(err, errSkipped):
		return nil
	case ctx.Err() != nil:
		return nil
	case err != nil:
		logger.Warn("provider: crawl domain failed", "error", err)
		c.deps.Log.Publish(fmt.Sprintf("[Crawler] 域名抓取任务异常: %s：%v", domain, err))
		c.recordFailure(domain)
		return nil
	case len(items) == 0:
		c.recordFailure(domain)
		return nil
	}
	if c.store != nil {
		c.store.RecordSuccess(domain)
	}
	return items
}

// rankDomain attributes a crawled link to the trusted domain it was found
// under, so subdomains and aliases rank as that domain. A link whose own
// host is blacklisted keeps that host and is dropped.
func (c *Crawler) rankDomain(it evidence.Item) string {
	if host := evidence.DomainOf(it.Href); c.opts.IsBlacklisted(host) {
		return host
	}
	return it.Domain()
}

func (c *Crawler) recordFailure(domain string) {
	if c.store != nil {
		c.store.RecordFailure(domain)
	}
}

func (c *Crawler) crawlDomain(ctx context.Context, domain string, keywords []string) ([]evidence.Item, error) {
	if c.opts.IsBlacklisted(domain) {
		c.deps.Log.Publish("[Crawler] 跳过黑名单：" + domain)
		return nil, errSkipped
	}
	if c.store != nil && c.store.IsSuppressed(domain) {
		rec, _ := c.store.Status(domain)
		c.deps.Log.Publish(fmt.Sprintf("[Crawler] 抑制域名：%s（连续失败%d次，剩余%d小时）",
			domain, rec.Count, max(1, c.store.HoursLeft(domain))))
		return nil, errSkipped
	}

	limit := c.cfg.PerSiteLimit
	base := c.base(domain)
	items := c.fromSitemap(ctx, domain, base, keywords, limit)
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		seen[it.Href] = true
	}

	if len(items) < limit {
		page, err := c.page(ctx, base)
		if err != nil {
			var se *fetch.StatusError
			if !errors.As(err, &se) && len(items) == 0 {
				return nil, fmt.Errorf("homepage: %w", err)
			}
		} else {
			items = c.collectAnchors(page, base, domain, keywords, items, seen, limit)
		}
		for _, seed := range c.cfg.ExtraSeeds[domain] {
			if len(items) >= limit || ctx.Err() != nil {
				break
			}
			if page, err := c.page(ctx, seed); err == nil {
				items = c.collectAnchors(page, seed, domain, keywords, items, seen, limit)
			}
		}
	}

	c.deps.Log.Publish(fmt.Sprintf("[Crawler] %s 命中候选 %d 条（sitemap+首页回退）", domain, len(items)))
	if err := ctx.Err(); err != nil && len(items) == 0 {
		return nil, err
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// page returns the HTML of u, rendered when a Renderer is configured.
func (c *Crawler) page(ctx context.Context, u string) ([]byte, error) {
	if c.cfg.Render != nil {
		s, err := c.cfg.Render.RenderHTML(ctx, u)
		if err == nil {
			return []byte(s), nil
		}
		c.deps.Logger.Debug("provider: render failed, using http", "url", u, "error", err)
	}
	resp, err := c.http.Get(ctx, u, fetch.TierPage)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// collectAnchors appends keyword-matching same-site links of page.
func (c *Crawler) collectAnchors(page []byte, base, domain string, keywords []string, items []evidence.Item, seen map[string]bool, limit int) []evidence.Item {
	for _, a := range anchors(page) {
		if len(items) >= limit {
			break
		}
		u := resolveURL(base, a.href)
		if u == "" || seen[u] || !c.sameSite(evidence.DomainOf(u), domain) {
			continue
		}
		if !containsAny(a.text, keywords) && !containsAny(u, keywords) {
			continue
		}
		if containsAny(u, videoMarkers) {
			continue
		}
		seen[u] = true
		items = append(items, evidence.Item{Href: u, Title: evidence.Truncate(a.text, 80), Source: domain})
	}
	return items
}

// sameSite accepts the domain itself, its subdomains and configured aliases.
func (c *Crawler) sameSite(host, domain string) bool {
	if host == "" {
		return false
	}
	if host == domain || strings.HasSuffix(host, "."+domain) {
		return true
	}
	for _, alias := range c.cfg.Aliases[domain] {
		if host == alias {
			return true
		}
	}
	return false
}

// GatherReadables fetches every item with paragraph-first text stripping.
func (c *Crawler) GatherReadables(ctx context.Context, items []evidence.Item) ([]evidence.Item, error) {
	return gather(ctx, items, DefaultReadConcurrency, 0, c.read)
}

func (c *Crawler) read(ctx context.Context, it evidence.Item) evidence.Item {
	resp, err := c.http.Get(ctx, it.Href, fetch.TierPage)
	if err != nil {
		it.ArticleText = ""
		return it
	}
	title, text := StripHTML(resp.Body)
	if title != "" {
		it.ArticleTitle = evidence.Truncate(title, 120)
	}
	if d := dateRe.Find(resp.Body); d != nil {
		it.Date = string(d)
	}
	it.ArticleText = text
	return it
}

var dateRe = regexp.MustCompile(`20\d{2}[-/年]\d{1,2}[-/月]\d{1,2}`)

// StripHTML returns the page title and its text: the <p> paragraphs joined
// by newlines, or the whole body text when there are none. Whitespace is
// collapsed. It never fails; unparsable input yields empty strings.
func StripHTML(page []byte) (title, text string) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return "", ""
	}
	var paras []string
	var all strings.Builder
	var walk func(n *html.Node, inPara bool, para *strings.Builder)
	walk = func(n *html.Node, inPara bool, para *strings.Builder) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			case atom.Title:
				if title == "" {
					title = extract.CleanText(innerText(n))
				}
				return
			case atom.P:
				if !inPara {
					var sb strings.Builder
					for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
						walk(ch, true, &sb)
					}
					paras = append(paras, sb.String())
					return
				}
			}
		}
		if n.Type == html.TextNode {
			all.WriteString(n.Data)
			all.WriteByte(' ')
			if para != nil {
				para.WriteString(n.Data)
				para.WriteByte(' ')
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch, inPara, para)
		}
	}
	walk(doc, false, nil)

	text = extract.CleanText(strings.Join(paras, "\n"))
	if text == "" {
		text = extract.CleanText(all.String())
	}
	return title, text
}

type anchor struct{ href, text string }

func anchors(page []byte) []anchor {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil
	}
	var out []anchor
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			for _, a := range n.Attr {
				if a.Key == "href" && a.Val != "" {
					out = append(out, anchor{href: a.Val, text: extract.CleanText(innerText(n))})
					break
				}
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(doc)
	return out
}

func innerText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return sb.String()
}

func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	u := b.ResolveReference(r)
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
