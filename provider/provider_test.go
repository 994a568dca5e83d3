package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/hazyhaar/rumeur/evidence"
	"github.com/hazyhaar/rumeur/fetch"
	"github.com/hazyhaar/rumeur/llm"
	"github.com/hazyhaar/rumeur/logbus"
	"github.com/hazyhaar/rumeur/websearch"
)

func hrefs(items []evidence.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Href
	}
	return out
}

func testFetcher() *fetch.Fetcher {
	return fetch.New(fetch.Config{Backoff: time.Millisecond, MaxAttempts: 1})
}

// recorder collects published log lines.
type recorder struct {
	mu    sync.Mutex
	lines []string
}

func newRecorder() *recorder { return &recorder{} }

func (r *recorder) Publish(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, s)
}

func (r *recorder) has(sub string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}

var _ logbus.Publisher = (*recorder)(nil)

func TestRank(t *testing.T) {
	items := []evidence.Item{
		{Href: "https://other.org/1"},
		{Href: "https://www.people.com.cn/a"},
		{Href: "https://bad.com/x"},
		{Href: "https://other.org/2"},
		{Href: "https://thepaper.cn/b"},
	}
	opts := evidence.Options{
		Trusted:   []string{"thepaper.cn", "https://www.people.com.cn/"},
		Blacklist: []string{"bad.com"},
	}.Normalized()

	tests := []struct {
		name string
		opts func(o evidence.Options) evidence.Options
		want []string
	}{
		{"trusted first, stable", func(o evidence.Options) evidence.Options { return o },
			[]string{"https://www.people.com.cn/a", "https://thepaper.cn/b", "https://other.org/1", "https://other.org/2"}},
		{"only trusted", func(o evidence.Options) evidence.Options { o.OnlyTrusted = true; return o },
			[]string{"https://www.people.com.cn/a", "https://thepaper.cn/b"}},
		{"max results", func(o evidence.Options) evidence.Options { o.MaxResults = 3; return o },
			[]string{"https://www.people.com.cn/a", "https://thepaper.cn/b", "https://other.org/1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.opts(opts)
			got := Rank(items, o)
			if diff := cmp.Diff(tt.want, hrefs(got)); diff != "" {
				t.Errorf("Rank (-want +got):\n%s", diff)
			}
			// WHAT: ranking is idempotent on its own output.
			if diff := cmp.Diff(got, Rank(got, o)); diff != "" {
				t.Errorf("Rank not idempotent:\n%s", diff)
			}
		})
	}
}

func TestRankNoTrustedList(t *testing.T) {
	// WHY: with no trusted list every allowed item is an "other", so
	// OnlyTrusted keeps nothing.
	items := []evidence.Item{{Href: "https://a.com"}, {Href: "https://b.com"}}
	if got := Rank(items, evidence.Options{OnlyTrusted: true}); len(got) != 0 {
		t.Fatalf("got %v", hrefs(got))
	}
	if got := Rank(items, evidence.Options{}); len(got) != 2 {
		t.Fatalf("got %v", hrefs(got))
	}
}

func TestGatherPositionalAndBounded(t *testing.T) {
	defer goleak.VerifyNone(t)

	var inflight, peak atomic.Int32
	items := make([]evidence.Item, 10)
	for i := range items {
		items[i] = evidence.Item{Href: fmt.Sprintf("https://x.cn/%d", i)}
	}
	read := func(_ context.Context, it evidence.Item) evidence.Item {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		// later items finish first
		idx, _ := strconv.Atoi(strings.TrimPrefix(it.Href, "https://x.cn/"))
		time.Sleep(time.Duration(10-idx) * time.Millisecond)
		inflight.Add(-1)
		it.ArticleText = fmt.Sprintf("text %d", idx)
		return it
	}

	out, err := gather(context.Background(), items, 3, 8, read)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 10 {
		t.Fatalf("len = %d", len(out))
	}
	for i := 0; i < 8; i++ {
		if out[i].ArticleText != fmt.Sprintf("text %d", i) || out[i].Href != items[i].Href {
			t.Errorf("out[%d] = %+v", i, out[i])
		}
	}
	// WHAT: items past MaxFetch are kept, unenriched.
	if out[8].HasText() || out[9].HasText() || out[9].Href != items[9].Href {
		t.Errorf("tail = %+v %+v", out[8], out[9])
	}
	if peak.Load() > 3 {
		t.Errorf("peak concurrency = %d", peak.Load())
	}
}

func TestGatherCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	items := []evidence.Item{{Href: "https://a"}, {Href: "https://b"}}
	out, err := gather(ctx, items, 1, 0, func(_ context.Context, it evidence.Item) evidence.Item { return it })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("items dropped: %d", len(out))
	}
}

type fakeBackend struct {
	hits    []websearch.Hit
	err     error
	gotMax  int
	panicky bool
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Search(_ context.Context, _ string, max int) ([]websearch.Hit, error) {
	if f.panicky {
		panic("boom")
	}
	f.gotMax = max
	return f.hits, f.err
}

func TestWebSearch(t *testing.T) {
	b := &fakeBackend{hits: []websearch.Hit{
		{Title: "A", Link: "https://a.com/1", Snippet: "sa"},
		{Title: "B", Href: "https://www.xinhuanet.com/2"},
		{Title: "blank"},
		{Title: "V", Href: "https://bilibili.com/v"},
	}}
	w := NewWeb(b, testFetcher(), evidence.Options{
		MaxResults: 12,
		Trusted:    []string{"www.xinhuanet.com"},
		Blacklist:  []string{"bilibili.com"},
	}, Deps{})

	items, err := w.Search(context.Background(), "topic")
	if err != nil {
		t.Fatal(err)
	}
	if b.gotMax != 24 {
		t.Errorf("backend asked for %d", b.gotMax)
	}
	want := []evidence.Item{
		{Href: "https://www.xinhuanet.com/2", Title: "B", Source: "www.xinhuanet.com"},
		{Href: "https://a.com/1", Title: "A", Source: "a.com", Summary: "sa"},
	}
	if diff := cmp.Diff(want, items); diff != "" {
		t.Errorf("items (-want +got):\n%s", diff)
	}
}

func TestWebSearchFailureIsEmpty(t *testing.T) {
	for _, b := range []*fakeBackend{{err: errors.New("down")}, {panicky: true}} {
		w := NewWeb(b, testFetcher(), evidence.Options{}, Deps{})
		items, err := w.Search(context.Background(), "t")
		if err != nil || items != nil {
			t.Errorf("items=%v err=%v", items, err)
		}
	}
}

func TestWebGatherReadables(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, `<html><head><title>新闻标题</title></head><body><nav>菜单 首页</nav>
<article><p>这是一段足够长的正文内容，用于验证正文抽取逻辑能够正常工作并返回文本。</p>
<p>第二段正文继续补充更多的信息，保证长度超过最小阈值。</p></article></body></html>`)
		case "/pdf":
			w.Header().Set("Content-Type", "application/pdf")
			fmt.Fprint(w, "%PDF-1.4")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	w := NewWeb(&fakeBackend{}, testFetcher(), evidence.Options{}, Deps{})
	in := []evidence.Item{
		{Href: srv.URL + "/article", Title: "t1"},
		{Href: srv.URL + "/pdf"},
		{Href: srv.URL + "/missing"},
	}
	out, err := w.GatherReadables(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("len = %d", len(out))
	}
	if !strings.Contains(out[0].ArticleText, "正文内容") || out[0].ArticleTitle != "新闻标题" || out[0].Title != "t1" {
		t.Errorf("out[0] = %+v", out[0])
	}
	if out[1].HasText() || out[2].HasText() {
		t.Errorf("non-html or missing pages must be empty: %+v %+v", out[1], out[2])
	}
}

func TestWebGatherReadablesExtractConfig(t *testing.T) {
	// WHAT: per-domain selectors pick the region and markdown keeps its headings.
	// WHY: some sites wrap the article in markup the density heuristic misses.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><article><p>`+strings.Repeat("相关推荐 ", 30)+`</p></article>
<div id="post"><h2>小标题</h2><p>`+strings.Repeat("正文内容 ", 20)+`</p></div></body></html>`)
	}))
	defer srv.Close()
	host := evidence.DomainOf(srv.URL)

	read := func(cfg ExtractConfig) string {
		t.Helper()
		w := NewWeb(&fakeBackend{}, testFetcher(), evidence.Options{}, Deps{Extract: cfg})
		out, err := w.GatherReadables(context.Background(), []evidence.Item{{Href: srv.URL + "/a"}})
		if err != nil {
			t.Fatal(err)
		}
		return out[0].ArticleText
	}

	if got := read(ExtractConfig{}); !strings.Contains(got, "相关推荐") {
		t.Errorf("default extraction = %q", got)
	}
	got := read(ExtractConfig{Format: "markdown", Selectors: map[string][]string{host: {"div#post"}}})
	if !strings.Contains(got, "## 小标题") || !strings.Contains(got, "正文内容") || strings.Contains(got, "相关推荐") {
		t.Errorf("selected markdown = %q", got)
	}
}

func TestExtractConfigSelectorsInherit(t *testing.T) {
	c := ExtractConfig{Selectors: map[string][]string{"163.com": {"div.post_body"}}}
	for host, want := range map[string]int{"163.com": 1, "news.163.com": 1, "www.163.com": 1, "163.com.evil.org": 0, "": 0} {
		if got := len(c.selectorsFor(host)); got != want {
			t.Errorf("selectorsFor(%q) = %d selectors, want %d", host, got, want)
		}
	}
}

func TestMock(t *testing.T) {
	m := NewMock(evidence.Options{MaxResults: 12, MaxFetch: 8})
	items, err := m.Search(context.Background(), "AI 电影")
	if err != nil || len(items) != 3 {
		t.Fatalf("items=%d err=%v", len(items), err)
	}
	items = append(items, evidence.Item{Href: "https://unknown.example/"})
	out, err := m.GatherReadables(context.Background(), items)
	if err != nil {
		t.Fatal(err)
	}
	if evidence.CountText(out) != 3 || out[3].HasText() {
		t.Fatalf("count = %d", evidence.CountText(out))
	}
	if out[2].ArticleTitle != "政策与监管动态" {
		t.Errorf("title = %q", out[2].ArticleTitle)
	}
}

// fakeModel scripts chat and responses answers.
type fakeModel struct {
	chat, resp       string
	chatErr, respErr error
	chatCalls        int
	respCalls        int
	lastChat         []llm.Message
}

func (f *fakeModel) Model() string    { return "gemini-2.5-pro" }
func (f *fakeModel) Endpoint() string { return "https://aihubmix.com/v1/chat/completions" }

func (f *fakeModel) Complete(_ context.Context, msgs []llm.Message, _ ...llm.CallOption) (string, error) {
	f.chatCalls++
	f.lastChat = msgs
	return f.chat, f.chatErr
}

func (f *fakeModel) Respond(_ context.Context, _ string, _ ...llm.CallOption) (string, error) {
	f.respCalls++
	return f.resp, f.respErr
}

func TestLLMSearchChatJSON(t *testing.T) {
	m := &fakeModel{chat: "```json\n[{\"title\":\"T\",\"url\":\"https://thepaper.cn/n1\",\"date\":\"2025-01-01\",\"summary\":\"S\"},{\"title\":\"no url\"},{\"href\":\"https://other.cn/2\",\"source\":\"其他\"}]\n```"}
	rec := newRecorder()
	p := NewLLMSearch(m, testFetcher(), evidence.Options{MaxResults: 12, Trusted: []string{"thepaper.cn"}}, Deps{Log: rec})

	items, err := p.Search(context.Background(), "AI 电影")
	if err != nil {
		t.Fatal(err)
	}
	want := []evidence.Item{
		{Href: "https://thepaper.cn/n1", Title: "T", Source: "thepaper.cn", Date: "2025-01-01", Summary: "S"},
		{Href: "https://other.cn/2", Source: "其他"},
	}
	if diff := cmp.Diff(want, items); diff != "" {
		t.Errorf("items (-want +got):\n%s", diff)
	}
	if m.respCalls != 0 {
		t.Error("responses endpoint must not be called after a chat hit")
	}
	prompt := m.lastChat[0].Content
	for _, sub := range []string{"主题：AI 电影", "TopN=10", "时间范围=30天", "语言=zh", "白名单域名优先：thepaper.cn", "只返回JSON，不要附加解释。"} {
		if !strings.Contains(prompt, sub) {
			t.Errorf("prompt missing %q: %s", sub, prompt)
		}
	}
	if !rec.has("[LLM检索] chat/completions 命中 2 条") {
		t.Errorf("log = %v", rec.lines)
	}
}

func TestLLMSearchFreeTextURLs(t *testing.T) {
	// WHAT: no JSON array, so URLs are lifted out of the prose.
	m := &fakeModel{chat: "参考 https://a.cn/x 和 https://b.cn/y 以及 https://a.cn/x"}
	p := NewLLMSearch(m, testFetcher(), evidence.Options{MaxResults: 5}, Deps{})
	items, _ := p.Search(context.Background(), "t")
	if diff := cmp.Diff([]string{"https://a.cn/x", "https://b.cn/y"}, hrefs(items)); diff != "" {
		t.Error(diff)
	}
	if items[0].Source != "a.cn" {
		t.Errorf("source = %q", items[0].Source)
	}
}

func TestLLMSearchFallsBackToResponses(t *testing.T) {
	m := &fakeModel{chatErr: errors.New("503"), resp: `[{"title":"R","url":"https://r.cn/1"}]`}
	p := NewLLMSearch(m, testFetcher(), evidence.Options{}, Deps{})
	items, err := p.Search(context.Background(), "t")
	if err != nil || len(items) != 1 || items[0].Href != "https://r.cn/1" {
		t.Fatalf("items=%v err=%v", items, err)
	}
}

func TestLLMSearchBothEndpointsEmpty(t *testing.T) {
	m := &fakeModel{chat: "抱歉，无法搜索。", resp: "no json"}
	rec := newRecorder()
	p := NewLLMSearch(m, testFetcher(), evidence.Options{}, Deps{Log: rec})
	items, err := p.Search(context.Background(), "t")
	if err != nil || items != nil {
		t.Fatalf("items=%v err=%v", items, err)
	}
	if m.respCalls != 1 || !rec.has("两个端点均未返回有效结果") {
		t.Fatalf("respCalls=%d log=%v", m.respCalls, rec.lines)
	}
}

type fakeCompleter struct {
	out string
	err error
}

func (f fakeCompleter) Complete(context.Context, []llm.Message, ...llm.CallOption) (string, error) {
	return f.out, f.err
}

func TestKeywords(t *testing.T) {
	ctx := context.Background()
	got := Keywords(ctx, fakeCompleter{out: "```json\n{\"keywords\": [\"AI电影\", \" 生成式AI \", 3, \"\"]}\n```"}, "AI 电影", nil)
	if diff := cmp.Diff([]string{"AI电影", "生成式AI"}, got); diff != "" {
		t.Error(diff)
	}

	// WHAT: model failure falls back to tokenizing the topic.
	rec := newRecorder()
	got = Keywords(ctx, fakeCompleter{err: errors.New("down")}, "AI 电影，舆情-分析!2025", rec)
	if diff := cmp.Diff([]string{"AI", "电影", "舆情", "分析", "2025"}, got); diff != "" {
		t.Error(diff)
	}
	if !rec.has("关键词扩展失败") {
		t.Error("fallback not logged")
	}
	if got := Keywords(ctx, nil, "a b c d e f g h i j", nil); len(got) != 8 {
		t.Errorf("got %v", got)
	}
}

func TestStripHTML(t *testing.T) {
	title, text := StripHTML([]byte(`<html><head><title> 标题
 一 </title><script>var x=1;</script></head><body><div>导航</div><p>第一段<b>加粗</b></p><p>第二段</p></body></html>`))
	if title != "标题 一" {
		t.Errorf("title = %q", title)
	}
	if text != "第一段 加粗 第二段" {
		t.Errorf("text = %q", text)
	}
	_, text = StripHTML([]byte(`<div>没有段落 <span>只有文字</span></div>`))
	if text != "没有段落 只有文字" {
		t.Errorf("fallback text = %q", text)
	}
}
