// CLAUDE:SUMMARY Process configuration: defaults, optional YAML file (RUMEUR_CONFIG), then environment overrides, then validation.
// Package config loads the process configuration. Precedence, lowest first:
// built-in defaults, the YAML file named by RUMEUR_CONFIG, environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/rumeur/evidence"
	"github.com/hazyhaar/rumeur/horosafe"
	"github.com/hazyhaar/rumeur/websearch"
)

// Search provider names accepted by SEARCH_PROVIDER.
const (
	ProviderDDGS    = "ddgs"
	ProviderLLM     = "llm"
	ProviderMCP     = "mcp"
	ProviderCrawler = "crawler"
	ProviderMock    = "mock"
)

// Config holds the full configuration.
type Config struct {
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	ReportDir string `yaml:"report_dir"`
	Proxy     string `yaml:"proxy"`

	Provider   string `yaml:"search_provider"`
	ExpertMode bool   `yaml:"expert_mode"`
	LogHideMCP bool   `yaml:"log_hide_mcp"`

	// AnalyzeRateLimit caps POST /analyze per client and minute. 0 = off.
	AnalyzeRateLimit int `yaml:"analyze_rate_limit"`

	// AllowPrivateURLs lets article and crawler fetches reach loopback and
	// private addresses. Model endpoints are never checked.
	AllowPrivateURLs bool `yaml:"allow_private_urls"`

	Search    SearchConfig     `yaml:"search"`
	LLMSearch ModelConfig      `yaml:"llm_search"`
	Report    ModelConfig      `yaml:"report_model"`
	Crawler   CrawlerConfig    `yaml:"crawler"`
	Suppress  SuppressConfig   `yaml:"suppress"`
	MCP       MCPConfig        `yaml:"mcp"`
	Browser   BrowserConfig    `yaml:"browser"`
	Notice    NoticeConfig     `yaml:"notice"`
	Extract   ExtractConfig    `yaml:"extract"`
	Backend   websearch.Engine `yaml:"web_search"`
}

// SearchConfig is shared by every provider.
type SearchConfig struct {
	MaxResults  int      `yaml:"max_results"`
	MaxFetch    int      `yaml:"max_fetch_html"`
	OnlyTrusted bool     `yaml:"only_trusted"`
	Trusted     []string `yaml:"trusted_domains"`
	Blacklist   []string `yaml:"blacklist_domains"`
	TimeDays    int      `yaml:"time_range_days"` // 0 = provider default
	Language    string   `yaml:"language"`
}

// ModelConfig addresses one OpenAI-compatible model.
type ModelConfig struct {
	BaseURL  string `yaml:"base_url"`
	ChatPath string `yaml:"chat_path"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	TimeDays int    `yaml:"time_days"`
	Language string `yaml:"language"`

	// Temperature is sent with every call; nil uses the client default.
	Temperature *float64 `yaml:"temperature"`
}

type CrawlerConfig struct {
	PerSiteLimit int           `yaml:"per_site_limit"`
	MaxTotal     int           `yaml:"max_total_limit"`
	TimeDays     int           `yaml:"time_range_days"`
	Strict       bool          `yaml:"strict"`
	Render       bool          `yaml:"render"`
	DomainBudget time.Duration `yaml:"domain_budget"`
}

type SuppressConfig struct {
	Backend   string `yaml:"backend"` // file | sqlite | memory
	File      string `yaml:"file"`
	Threshold int    `yaml:"threshold"`
	TTLHours  int    `yaml:"ttl_hours"`
}

type MCPConfig struct {
	Server string `yaml:"server"`
}

type BrowserConfig struct {
	RemoteURL string `yaml:"remote_url"`
	Bin       string `yaml:"bin"`
}

// ExtractConfig controls readable extraction of fetched articles.
type ExtractConfig struct {
	Format string `yaml:"format"` // text | markdown

	// Selectors maps a domain to CSS-like selectors tried before the
	// density heuristic. Subdomains use their parent's entry.
	Selectors map[string][]string `yaml:"selectors"`
}

type NoticeConfig struct {
	LowFetchRate float64 `yaml:"low_fetch_rate_threshold"`
	MinDocs      int     `yaml:"low_fetch_min_docs"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:       "8000",
		LogLevel:   "info",
		ReportDir:  "reports",
		Provider:   ProviderDDGS,
		ExpertMode: true,

		AnalyzeRateLimit: 6,
		Search: SearchConfig{
			MaxResults: 12,
			MaxFetch:   8,
			Language:   "zh",
		},
		LLMSearch: ModelConfig{
			BaseURL: "https://aihubmix.com",
			Model:   "gemini-2.5-pro",
		},
		Report: ModelConfig{
			BaseURL:  "https://ark.cn-beijing.volces.com/api/v3",
			ChatPath: "/chat/completions",
		},
		Crawler: CrawlerConfig{
			PerSiteLimit: 5,
			MaxTotal:     30,
			TimeDays:     15,
			DomainBudget: 60 * time.Second,
		},
		Suppress: SuppressConfig{
			Backend:   "file",
			File:      ".suppress_domains.json",
			Threshold: 3,
			TTLHours:  24,
		},
		Notice: NoticeConfig{
			LowFetchRate: 0.4,
			MinDocs:      3,
		},
		Extract: ExtractConfig{Format: "text"},
		Backend: websearch.Engine{Name: "ddg", Strategy: "ddg"},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and the environment read through getenv (os.Getenv when nil).
func Load(path string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// FromEnv loads using RUMEUR_CONFIG and the process environment.
func FromEnv() (*Config, error) {
	return Load(os.Getenv("RUMEUR_CONFIG"), os.Getenv)
}

type envReader struct {
	get func(string) string
	err error
}

// first returns the first non-empty variable among names.
func (e *envReader) first(names ...string) (string, string, bool) {
	for _, n := range names {
		if v := strings.TrimSpace(e.get(n)); v != "" {
			return n, v, true
		}
	}
	return "", "", false
}

func (e *envReader) str(dst *string, names ...string) {
	if _, v, ok := e.first(names...); ok {
		*dst = v
	}
}

func (e *envReader) integer(dst *int, names ...string) {
	n, v, ok := e.first(names...)
	if !ok || e.err != nil {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.err = fmt.Errorf("config: %s=%q: not an integer", n, v)
		return
	}
	*dst = i
}

func (e *envReader) number(dst *float64, names ...string) {
	n, v, ok := e.first(names...)
	if !ok || e.err != nil {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.err = fmt.Errorf("config: %s=%q: not a number", n, v)
		return
	}
	*dst = f
}

func (e *envReader) optNumber(dst **float64, names ...string) {
	if _, _, ok := e.first(names...); !ok {
		return
	}
	var f float64
	e.number(&f, names...)
	if e.err == nil {
		*dst = &f
	}
}

// flag treats only "true" (any case) as true.
func (e *envReader) flag(dst *bool, names ...string) {
	if _, v, ok := e.first(names...); ok {
		*dst = strings.EqualFold(v, "true")
	}
}

func (e *envReader) list(dst *[]string, names ...string) {
	if _, v, ok := e.first(names...); ok {
		*dst = evidence.SplitList(v)
	}
}

func (c *Config) applyEnv(getenv func(string) string) error {
	e := &envReader{get: getenv}

	e.str(&c.Port, "PORT")
	e.str(&c.LogLevel, "LOG_LEVEL")
	e.str(&c.ReportDir, "REPORT_DIR")
	e.str(&c.Proxy, "HTTP_PROXY", "HTTPS_PROXY")
	e.str(&c.Provider, "SEARCH_PROVIDER")
	c.Provider = strings.ToLower(c.Provider)
	e.flag(&c.ExpertMode, "EXPERT_MODE")
	e.flag(&c.LogHideMCP, "LOG_HIDE_MCP")
	e.integer(&c.AnalyzeRateLimit, "ANALYZE_RATE_LIMIT")
	e.flag(&c.AllowPrivateURLs, "ALLOW_PRIVATE_URLS")

	e.integer(&c.Search.MaxResults, "MAX_RESULTS")
	e.integer(&c.Search.MaxFetch, "MAX_FETCH_HTML")
	e.flag(&c.Search.OnlyTrusted, "ONLY_TRUSTED")
	e.list(&c.Search.Trusted, "TRUSTED_DOMAINS")
	e.list(&c.Search.Blacklist, "BLACKLIST_DOMAINS")
	e.integer(&c.Search.TimeDays, "TIME_RANGE_DAYS")
	e.str(&c.Search.Language, "LANGUAGE")

	e.str(&c.LLMSearch.BaseURL, "LLM_SEARCH_BASE_URL")
	e.str(&c.LLMSearch.APIKey, "LLM_SEARCH_API_KEY")
	e.str(&c.LLMSearch.Model, "LLM_SEARCH_MODEL_ID")
	e.integer(&c.LLMSearch.TimeDays, "LLM_SEARCH_TIME_DAYS")
	e.str(&c.LLMSearch.Language, "LLM_SEARCH_LANGUAGE")
	e.optNumber(&c.LLMSearch.Temperature, "LLM_SEARCH_TEMPERATURE")

	e.str(&c.Report.BaseURL, "ARK_BASE_URL")
	e.str(&c.Report.ChatPath, "ARK_CHAT_PATH")
	e.str(&c.Report.APIKey, "ARK_API_KEY")
	e.str(&c.Report.Model, "ARK_MODEL_ID")
	e.optNumber(&c.Report.Temperature, "ARK_TEMPERATURE")

	e.integer(&c.Crawler.PerSiteLimit, "PER_SITE_LIMIT")
	e.integer(&c.Crawler.MaxTotal, "MAX_TOTAL_LIMIT")
	e.integer(&c.Crawler.TimeDays, "TIME_RANGE_DAYS")
	e.flag(&c.Crawler.Strict, "CRAWLER_STRICT", "DISABLE_SEARCH_FALLBACK")
	e.flag(&c.Crawler.Render, "CRAWLER_RENDER")

	e.str(&c.Suppress.Backend, "SUPPRESS_BACKEND")
	e.str(&c.Suppress.File, "SUPPRESS_FILE")
	e.integer(&c.Suppress.Threshold, "SUPPRESS_THRESHOLD")
	e.integer(&c.Suppress.TTLHours, "SUPPRESS_TTL_HOURS")

	e.str(&c.MCP.Server, "DDG_MCP_SERVER")
	e.str(&c.Browser.RemoteURL, "CHROME_REMOTE_URL")
	e.str(&c.Browser.Bin, "CHROME_BIN")

	e.number(&c.Notice.LowFetchRate, "LOW_FETCH_RATE_THRESHOLD")
	e.integer(&c.Notice.MinDocs, "LOW_FETCH_MIN_DOCS")

	e.str(&c.Extract.Format, "EXTRACT_FORMAT")
	e.str(&c.Backend.Strategy, "WEB_SEARCH_BACKEND")
	return e.err
}

// Validate checks that values are usable.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderDDGS, ProviderLLM, ProviderMCP, ProviderCrawler, ProviderMock:
	default:
		return fmt.Errorf("search_provider %q: use ddgs, llm, mcp, crawler or mock", c.Provider)
	}
	if c.ReportDir == "" {
		return fmt.Errorf("report_dir is required")
	}
	if c.AnalyzeRateLimit < 0 {
		return fmt.Errorf("analyze_rate_limit must be >= 0")
	}
	if c.Search.MaxResults < 0 || c.Search.MaxFetch < 0 {
		return fmt.Errorf("max_results and max_fetch_html must be >= 0")
	}
	if c.Crawler.PerSiteLimit <= 0 || c.Crawler.MaxTotal <= 0 {
		return fmt.Errorf("per_site_limit and max_total_limit must be > 0")
	}
	switch c.Suppress.Backend {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("suppress backend %q: use file, sqlite or memory", c.Suppress.Backend)
	}
	if c.Suppress.Backend != "memory" && c.Suppress.File == "" {
		return fmt.Errorf("suppress file is required for backend %q", c.Suppress.Backend)
	}
	switch c.Extract.Format {
	case "", "text", "markdown":
	default:
		return fmt.Errorf("extract format %q: use text or markdown", c.Extract.Format)
	}
	for name, t := range map[string]*float64{"llm_search.temperature": c.LLMSearch.Temperature, "report_model.temperature": c.Report.Temperature} {
		if t != nil && (*t < 0 || *t > 2) {
			return fmt.Errorf("%s %v must be within [0,2]", name, *t)
		}
	}
	if c.Notice.LowFetchRate < 0 || c.Notice.LowFetchRate > 1 {
		return fmt.Errorf("low_fetch_rate_threshold %v must be within [0,1]", c.Notice.LowFetchRate)
	}
	for name, u := range map[string]string{"llm_search.base_url": c.LLMSearch.BaseURL, "report_model.base_url": c.Report.BaseURL} {
		if u == "" {
			continue
		}
		if err := horosafe.ValidateEndpoint(u); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Proxy != "" {
		if err := horosafe.ValidateEndpoint(c.Proxy); err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
	}
	return nil
}

// Options returns the provider options shared by all providers.
func (c *Config) Options() evidence.Options {
	return evidence.Options{
		MaxResults:  c.Search.MaxResults,
		MaxFetch:    c.Search.MaxFetch,
		Trusted:     c.Search.Trusted,
		Blacklist:   c.Search.Blacklist,
		OnlyTrusted: c.Search.OnlyTrusted,
		TimeDays:    c.Search.TimeDays,
		Language:    c.Search.Language,
	}
}

// SuppressTTL returns the suppression window.
func (c *Config) SuppressTTL() time.Duration { return time.Duration(c.Suppress.TTLHours) * time.Hour }

// HideMCPLogs reports whether [MCP] lines are kept off the log stream: they
// are shown only when the MCP provider is active and LOG_HIDE_MCP is off.
func (c *Config) HideMCPLogs() bool { return c.Provider != ProviderMCP || c.LogHideMCP }
