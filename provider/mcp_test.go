package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/rumeur/evidence"
)

var testImpl = &mcp.Implementation{Name: "ddg-test", Version: "0.1.0"}

// memDialer serves srv over in-memory transports.
func memDialer(t *testing.T, srv *mcp.Server) Dialer {
	t.Helper()
	return func(ctx context.Context) (*mcp.ClientSession, error) {
		serverT, clientT := mcp.NewInMemoryTransports()
		go func() { _ = srv.Run(context.Background(), serverT) }()
		return mcp.NewClient(testImpl, nil).Connect(ctx, clientT, nil)
	}
}

func searchServer(handler mcp.ToolHandler) *mcp.Server {
	srv := mcp.NewServer(testImpl, nil)
	srv.AddTool(&mcp.Tool{
		Name:        SearchTool,
		Description: "web search",
		InputSchema: map[string]any{"type": "object"},
	}, handler)
	return srv
}

func TestMCPSearchParsesTextAndStructured(t *testing.T) {
	var gotArgs string
	srv := searchServer(func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		gotArgs = string(req.Params.Arguments)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "1. 标题一\n   URL: https://news.163.com/a\n2. 标题二\n   URL: https://bilibili.com/v/1"}},
			StructuredContent: map[string]any{
				"items": []any{
					map[string]any{"title": "结构化", "url": "https://www.thepaper.cn/n"},
					map[string]any{"title": "no url"},
				},
			},
		}, nil
	})

	rec := newRecorder()
	p := NewMCPSearch(memDialer(t, srv), nil, evidence.Options{
		MaxResults: 12,
		Trusted:    []string{"www.thepaper.cn"},
		Blacklist:  []string{"bilibili.com"},
	}, Deps{Log: rec})

	items, err := p.Search(context.Background(), "AI 电影")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].Href != "https://www.thepaper.cn/n" || items[0].Title != "结构化" || items[1].Href != "https://news.163.com/a" {
		t.Fatalf("items = %+v", items)
	}
	if items[1].Source != "news.163.com" {
		t.Errorf("source = %q", items[1].Source)
	}
	if gotArgs == "" || !rec.has("[MCP] 可用工具") {
		t.Errorf("args=%q log=%v", gotArgs, rec.lines)
	}
}

func TestMCPSearchWithoutSearchTool(t *testing.T) {
	srv := mcp.NewServer(testImpl, nil)
	srv.AddTool(&mcp.Tool{Name: "fetch_content", InputSchema: map[string]any{"type": "object"}},
		func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{}, nil
		})
	rec := newRecorder()
	p := NewMCPSearch(memDialer(t, srv), nil, evidence.Options{}, Deps{Log: rec})
	items, err := p.Search(context.Background(), "t")
	if err != nil || items != nil {
		t.Fatalf("items=%v err=%v", items, err)
	}
	if !rec.has("未发现 search 工具") {
		t.Errorf("log = %v", rec.lines)
	}
}

func TestMCPSearchFailuresAreEmpty(t *testing.T) {
	// WHAT: dial failures and tool errors yield zero results, no error.
	dialErr := func(context.Context) (*mcp.ClientSession, error) { return nil, errors.New("exec: not found") }
	p := NewMCPSearch(dialErr, nil, evidence.Options{}, Deps{})
	if items, err := p.Search(context.Background(), "t"); err != nil || items != nil {
		t.Fatalf("dial: items=%v err=%v", items, err)
	}

	srv := searchServer(func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var res mcp.CallToolResult
		res.SetError(errors.New("rate limited"))
		return &res, nil
	})
	p = NewMCPSearch(memDialer(t, srv), nil, evidence.Options{}, Deps{})
	if items, err := p.Search(context.Background(), "t"); err != nil || items != nil {
		t.Fatalf("tool error: items=%v err=%v", items, err)
	}
}

func TestMCPSearchGatherDelegatesToWeb(t *testing.T) {
	web := NewWeb(&fakeBackend{}, testFetcher(), evidence.Options{MaxFetch: 1}, Deps{})
	p := NewMCPSearch(nil, web, evidence.Options{}, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, _ := p.GatherReadables(ctx, []evidence.Item{{Href: "https://a"}, {Href: "https://b"}})
	if len(out) != 2 {
		t.Fatalf("len = %d", len(out))
	}
}

func TestResolveServerMissing(t *testing.T) {
	t.Setenv("DDG_MCP_SERVER", "")
	t.Setenv("PATH", t.TempDir())
	t.Setenv("VIRTUAL_ENV", "")
	if _, err := resolveServer("/nonexistent/ddg-mcp"); err == nil {
		t.Fatal("expected error")
	}
}
