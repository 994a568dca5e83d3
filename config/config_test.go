package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if !cfg.ExpertMode || cfg.Provider != ProviderDDGS || cfg.Search.MaxResults != 12 || cfg.Search.MaxFetch != 8 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.SuppressTTL() != 24*time.Hour {
		t.Errorf("ttl = %s", cfg.SuppressTTL())
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rumeur.yaml")
	yaml := `
search_provider: crawler
report_dir: /tmp/out
search:
  max_results: 20
  trusted_domains: [people.com.cn, thepaper.cn]
crawler:
  per_site_limit: 7
  domain_budget: 45s
report_model:
  model: doubao-pro
notice:
  low_fetch_rate_threshold: 0.5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, env(map[string]string{
		"MAX_RESULTS":       "5",
		"BLACKLIST_DOMAINS": " bilibili.com , ,acfun.cn",
		"EXPERT_MODE":       "False",
		"ARK_API_KEY":       "k",
	}))
	if err != nil {
		t.Fatal(err)
	}
	// WHAT: env wins over the file, the file wins over defaults.
	if cfg.Search.MaxResults != 5 || cfg.Crawler.PerSiteLimit != 7 || cfg.Crawler.DomainBudget != 45*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Provider != ProviderCrawler || cfg.ReportDir != "/tmp/out" || cfg.Report.Model != "doubao-pro" || cfg.Report.APIKey != "k" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.ExpertMode {
		t.Error("EXPERT_MODE=False must disable expert mode")
	}
	if diff := cmp.Diff([]string{"bilibili.com", "acfun.cn"}, cfg.Search.Blacklist); diff != "" {
		t.Errorf("blacklist (-want +got):\n%s", diff)
	}
	if cfg.Notice.LowFetchRate != 0.5 || cfg.Notice.MinDocs != 3 {
		t.Errorf("notice = %+v", cfg.Notice)
	}
	opts := cfg.Options()
	if opts.MaxResults != 5 || len(opts.Trusted) != 2 {
		t.Errorf("options = %+v", opts)
	}
}

// WHAT: extraction settings, temperatures and the private-URL switch load from file and env.
// WHY: a zero temperature must survive as an explicit value instead of falling back to the default.
func TestLoadExtractAndTemperature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rumeur.yaml")
	yaml := `
extract:
  format: markdown
  selectors:
    thepaper.cn: [".news_txt", "article"]
llm_search:
  temperature: 0.7
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, env(map[string]string{
		"ARK_TEMPERATURE":    "0",
		"ALLOW_PRIVATE_URLS": "true",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Extract.Format != "markdown" {
		t.Errorf("extract format = %q", cfg.Extract.Format)
	}
	if diff := cmp.Diff([]string{".news_txt", "article"}, cfg.Extract.Selectors["thepaper.cn"]); diff != "" {
		t.Errorf("selectors (-want +got):\n%s", diff)
	}
	if cfg.Report.Temperature == nil || *cfg.Report.Temperature != 0 {
		t.Errorf("report temperature = %v, want explicit 0", cfg.Report.Temperature)
	}
	if cfg.LLMSearch.Temperature == nil || *cfg.LLMSearch.Temperature != 0.7 {
		t.Errorf("llm_search temperature = %v", cfg.LLMSearch.Temperature)
	}
	if !cfg.AllowPrivateURLs {
		t.Error("ALLOW_PRIVATE_URLS=true must be honored")
	}

	def := DefaultConfig()
	if def.Report.Temperature != nil || def.AllowPrivateURLs || def.Extract.Format != "text" {
		t.Errorf("defaults = %+v", def)
	}
}

func TestStrictFallsBackToDisableSearchFallback(t *testing.T) {
	cfg, err := Load("", env(map[string]string{"DISABLE_SEARCH_FALLBACK": "true"}))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Crawler.Strict {
		t.Error("DISABLE_SEARCH_FALLBACK should enable strict mode")
	}
	cfg, _ = Load("", env(map[string]string{"DISABLE_SEARCH_FALLBACK": "true", "CRAWLER_STRICT": "false"}))
	if cfg.Crawler.Strict {
		t.Error("CRAWLER_STRICT takes precedence")
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad int", map[string]string{"MAX_RESULTS": "many"}, "MAX_RESULTS"},
		{"bad float", map[string]string{"LOW_FETCH_RATE_THRESHOLD": "x"}, "LOW_FETCH_RATE_THRESHOLD"},
		{"unknown provider", map[string]string{"SEARCH_PROVIDER": "bing"}, "search_provider"},
		{"rate range", map[string]string{"LOW_FETCH_RATE_THRESHOLD": "1.5"}, "low_fetch_rate_threshold"},
		{"bad backend", map[string]string{"SUPPRESS_BACKEND": "redis"}, "suppress backend"},
		{"bad base url", map[string]string{"ARK_BASE_URL": "ftp://x"}, "report_model.base_url"},
		{"bad proxy", map[string]string{"HTTP_PROXY": "127.0.0.1:7890"}, "proxy"},
		{"negative rate limit", map[string]string{"ANALYZE_RATE_LIMIT": "-1"}, "analyze_rate_limit"},
		{"bad extract format", map[string]string{"EXTRACT_FORMAT": "pdf"}, "extract format"},
		{"temperature range", map[string]string{"ARK_TEMPERATURE": "3"}, "report_model.temperature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("", env(tt.env))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), env(nil)); err == nil {
		t.Error("missing file must fail")
	}
}

func TestHideMCPLogs(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.HideMCPLogs() {
		t.Error("MCP lines are hidden for other providers")
	}
	cfg.Provider = ProviderMCP
	if cfg.HideMCPLogs() {
		t.Error("MCP lines are shown for the mcp provider")
	}
	cfg.LogHideMCP = true
	if !cfg.HideMCPLogs() {
		t.Error("LOG_HIDE_MCP hides them anyway")
	}
}
