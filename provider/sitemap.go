package provider

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"io"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/hazyhaar/rumeur/evidence"
	"github.com/hazyhaar/rumeur/fetch"
)

// sitemapEndpoints are tried in order relative to the site root.
var sitemapEndpoints = []string{
	"sitemap.xml",
	"sitemap_index.xml",
	"sitemapindex.xml",
	"sitemap-news.xml",
	"sitemap-news.xml.gz",
}

// maxChildSitemaps bounds how many children of a sitemap index are read.
const maxChildSitemaps = 2

type sitemapEntry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

// sitemapDoc covers both <urlset> and <sitemapindex>.
type sitemapDoc struct {
	URLs     []sitemapEntry `xml:"url"`
	Sitemaps []sitemapEntry `xml:"sitemap"`
}

// parseSitemap decodes a sitemap, gunzipping it first when the body starts
// with the gzip magic.
func parseSitemap(body []byte) (sitemapDoc, error) {
	if len(body) > 2 && body[0] == 0x1f && body[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return sitemapDoc{}, err
		}
		defer zr.Close()
		if body, err = io.ReadAll(io.LimitReader(zr, 20<<20)); err != nil {
			return sitemapDoc{}, err
		}
	}
	var doc sitemapDoc
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	dec.CharsetReader = charset.NewReaderLabel
	err := dec.Decode(&doc)
	return doc, err
}

var lastModLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// recent reports whether lastmod falls inside the window. Empty or
// unparsable dates pass.
func recent(lastmod string, now time.Time, days int) bool {
	lastmod = strings.TrimSpace(lastmod)
	if lastmod == "" || days <= 0 {
		return true
	}
	for _, layout := range lastModLayouts {
		if t, err := time.Parse(layout, lastmod); err == nil {
			return now.Sub(t) <= time.Duration(days)*24*time.Hour
		}
	}
	return true
}

// fromSitemap collects same-site URLs whose address contains a keyword and
// whose lastmod is recent, up to limit.
func (c *Crawler) fromSitemap(ctx context.Context, domain, base string, keywords []string, limit int) []evidence.Item {
	var items []evidence.Item
	seen := make(map[string]bool)
	now := c.now()

	take := func(entries []sitemapEntry) {
		for _, e := range entries {
			if len(items) >= limit {
				return
			}
			u := strings.TrimSpace(e.Loc)
			if seen[u] || !c.sameSite(evidence.DomainOf(u), domain) || !containsAny(u, keywords) {
				continue
			}
			if !recent(e.LastMod, now, c.opts.TimeDays) {
				continue
			}
			seen[u] = true
			items = append(items, evidence.Item{Href: u, Source: domain})
		}
	}

	for _, ep := range sitemapEndpoints {
		if len(items) >= limit || ctx.Err() != nil {
			break
		}
		doc, ok := c.loadSitemap(ctx, resolveURL(base, ep))
		if !ok {
			continue
		}
		take(doc.URLs)
		children := 0
		for _, sm := range doc.Sitemaps {
			if len(items) >= limit || children == maxChildSitemaps {
				break
			}
			if !recent(sm.LastMod, now, c.opts.TimeDays) {
				continue
			}
			child, ok := c.loadSitemap(ctx, strings.TrimSpace(sm.Loc))
			children++
			if ok {
				take(child.URLs)
			}
		}
	}
	return items
}

func (c *Crawler) loadSitemap(ctx context.Context, u string) (sitemapDoc, bool) {
	resp, err := c.http.Get(ctx, u, fetch.TierPage)
	if err != nil {
		return sitemapDoc{}, false
	}
	doc, err := parseSitemap(resp.Body)
	if err != nil {
		c.deps.Logger.Debug("provider: sitemap parse", "url", u, "error", err)
		return sitemapDoc{}, false
	}
	return doc, true
}
