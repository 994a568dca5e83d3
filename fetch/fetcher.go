// CLAUDE:SUMMARY Resilient HTTP fetcher: timeout tiers, bounded retry with exponential backoff, TCP proxy reachability check with direct fallback.
// Package fetch is the single HTTP path used by providers and the LLM
// client.
//
// Every request runs under a timeout tier, is retried up to MaxAttempts on
// transient network errors with backoff Backoff*2^attempt, and goes through
// the configured proxy only when a short TCP dial says it is reachable.
// HTTP status failures are returned to the caller and never retried.
// Every decision is published to the progress log.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hazyhaar/rumeur/logbus"
)

// Tier selects connect and read timeouts for a request.
type Tier int

const (
	TierPage    Tier = iota // homepages, sitemaps, search engines
	TierArticle             // readable article fetch
	TierLLM                 // model calls; the longest tier
)

func (t Tier) String() string {
	switch t {
	case TierArticle:
		return "article"
	case TierLLM:
		return "llm"
	}
	return "page"
}

// Timeouts bounds one attempt.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
}

// DefaultTimeouts are the per-tier bounds.
var DefaultTimeouts = map[Tier]Timeouts{
	TierPage:    {Connect: 20 * time.Second, Read: 40 * time.Second},
	TierArticle: {Connect: 30 * time.Second, Read: 120 * time.Second},
	TierLLM:     {Connect: 30 * time.Second, Read: 120 * time.Second},
}

// DefaultUserAgent is a desktop browser UA; several news sites refuse
// obvious bot agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Config configures a Fetcher.
type Config struct {
	Proxy        string        // e.g. "http://127.0.0.1:7890"; empty = direct
	ReachTimeout time.Duration // proxy TCP dial check. Default: 800ms.
	MaxAttempts  int           // total attempts on transient errors. Default: 3.
	Backoff      time.Duration // base backoff. Default: 1s.
	MaxBytes     int64         // response body cap. Default: 10MB.
	UserAgent    string
	Timeouts     map[Tier]Timeouts // overrides DefaultTimeouts per tier

	// URLValidator rejects targets before any I/O. nil allows everything.
	URLValidator func(string) error

	Log    logbus.Publisher
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ReachTimeout <= 0 {
		c.ReachTimeout = 800 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Log == nil {
		c.Log = logbus.Discard
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	merged := make(map[Tier]Timeouts, len(DefaultTimeouts))
	for t, v := range DefaultTimeouts {
		merged[t] = v
	}
	for t, v := range c.Timeouts {
		merged[t] = v
	}
	c.Timeouts = merged
}

// Request is one logical HTTP call; it may span several attempts.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	Tier   Tier
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string // final URL after redirects
}

// ContentType returns the Content-Type header.
func (r *Response) ContentType() string { return r.Header.Get("Content-Type") }

// Fetcher performs HTTP requests. Safe for concurrent use.
type Fetcher struct {
	cfg      Config
	proxyURL *url.URL
	direct   map[Tier]*http.Client
	proxied  map[Tier]*http.Client
	reach    func(ctx context.Context, addr string, timeout time.Duration) bool
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a Fetcher. An unparsable Proxy is logged and ignored.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	f := &Fetcher{
		cfg:     cfg,
		direct:  make(map[Tier]*http.Client),
		proxied: make(map[Tier]*http.Client),
		reach:   tcpReachable,
		sleep:   sleepCtx,
	}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil || u.Host == "" {
			cfg.Logger.Warn("fetch: ignoring invalid proxy", "proxy", cfg.Proxy, "error", err)
		} else {
			f.proxyURL = u
		}
	}
	for tier, to := range cfg.Timeouts {
		f.direct[tier] = f.newClient(to, nil)
		if f.proxyURL != nil {
			f.proxied[tier] = f.newClient(to, http.ProxyURL(f.proxyURL))
		}
	}
	return f
}

func (f *Fetcher) newClient(to Timeouts, proxy func(*http.Request) (*url.URL, error)) *http.Client {
	dialer := &net.Dialer{Timeout: to.Connect, KeepAlive: 30 * time.Second}
	validate := f.cfg.URLValidator
	return &http.Client{
		Timeout: to.Connect + to.Read,
		Transport: &http.Transport{
			Proxy:                 proxy,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   to.Connect,
			ResponseHeaderTimeout: to.Read,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (%d)", len(via))
			}
			if validate != nil {
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("%w: redirect: %v", ErrBlocked, err)
				}
			}
			return nil
		},
	}
}

// Get is Do with GET on the given tier.
func (f *Fetcher) Get(ctx context.Context, rawURL string, tier Tier) (*Response, error) {
	return f.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Tier: tier})
}

// Do runs req with retry and proxy fallback. On a status >= 400 it returns
// the Response together with a *StatusError.
func (f *Fetcher) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if f.cfg.URLValidator != nil {
		if err := f.cfg.URLValidator(req.URL); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBlocked, err)
		}
	}

	client := f.pickClient(ctx, req.Tier)
	log := f.cfg.Logger.With("url", req.URL, "tier", req.Tier.String())

	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		resp, err := f.once(ctx, client, req)
		if err == nil {
			if resp.StatusCode >= 400 {
				return resp, &StatusError{Code: resp.StatusCode, URL: req.URL, Preview: preview(resp.Body, 200)}
			}
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrBlocked) || !isTransient(err) {
			return nil, err
		}
		if attempt == f.cfg.MaxAttempts-1 {
			break
		}

		wait := f.cfg.Backoff * (1 << uint(attempt))
		log.WarnContext(ctx, "fetch: retrying",
			"attempt", attempt+1,
			"max_attempts", f.cfg.MaxAttempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err)
		f.cfg.Log.Publish(fmt.Sprintf("[网络] %s 第%d次请求失败，%s 后重试：%v", hostOf(req.URL), attempt+1, wait, err))
		if err := f.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	f.cfg.Log.Publish(fmt.Sprintf("[网络] %s 重试%d次后仍失败：%v", hostOf(req.URL), f.cfg.MaxAttempts, lastErr))
	return nil, fmt.Errorf("%w: %s: %w", ErrTransient, req.URL, lastErr)
}

func (f *Fetcher) once(ctx context.Context, client *http.Client, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	if hr.Header.Get("User-Agent") == "" {
		hr.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := client.Do(hr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes))
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		URL:        resp.Request.URL.String(),
	}, nil
}

// pickClient dials the proxy and falls back to a direct client when it
// does not answer within ReachTimeout.
func (f *Fetcher) pickClient(ctx context.Context, tier Tier) *http.Client {
	direct, ok := f.direct[tier]
	if !ok {
		direct = f.direct[TierPage]
	}
	if f.proxyURL == nil {
		return direct
	}
	if f.reach(ctx, proxyAddr(f.proxyURL), f.cfg.ReachTimeout) {
		f.cfg.Log.Publish("[网络] 使用代理 " + f.proxyURL.Host)
		if c, ok := f.proxied[tier]; ok {
			return c
		}
		return f.proxied[TierPage]
	}
	f.cfg.Log.Publish("[网络] 代理 " + f.proxyURL.Host + " 不可达，改用直连")
	f.cfg.Logger.Warn("fetch: proxy unreachable, going direct", "proxy", f.proxyURL.Host)
	return direct
}

// ProxyReachable runs the proxy dial check on its own; false when no proxy is
// configured.
func (f *Fetcher) ProxyReachable(ctx context.Context) bool {
	if f.proxyURL == nil {
		return false
	}
	return f.reach(ctx, proxyAddr(f.proxyURL), f.cfg.ReachTimeout)
}

// ProxyURL returns the configured proxy, or "".
func (f *Fetcher) ProxyURL() string {
	if f.proxyURL == nil {
		return ""
	}
	return f.proxyURL.String()
}

func proxyAddr(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	switch u.Scheme {
	case "https":
		return net.JoinHostPort(u.Hostname(), "443")
	case "socks5", "socks5h":
		return net.JoinHostPort(u.Hostname(), "1080")
	}
	return net.JoinHostPort(u.Hostname(), "80")
}

func tcpReachable(ctx context.Context, addr string, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}

func preview(b []byte, n int) string {
	r := []rune(string(b))
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}
