package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/rumeur/evidence"
	"github.com/hazyhaar/rumeur/llm"
	"github.com/hazyhaar/rumeur/logbus"
)

// SearchTool is the tool name the MCP server must expose.
const SearchTool = "search"

// Dialer opens an MCP client session. The caller closes it.
type Dialer func(ctx context.Context) (*mcp.ClientSession, error)

var clientImpl = &mcp.Implementation{Name: "rumeur", Version: "1.0.0"}

// CommandDialer spawns an MCP server over stdio. exe may be empty, in which
// case DDG_MCP_SERVER, then duckduckgo-mcp-server on PATH, then
// $VIRTUAL_ENV/bin are tried. A non-empty proxy is forwarded to the child
// as HTTP_PROXY and HTTPS_PROXY.
func CommandDialer(exe, proxy string) Dialer {
	return func(ctx context.Context) (*mcp.ClientSession, error) {
		path, err := resolveServer(exe)
		if err != nil {
			return nil, err
		}
		cmd := exec.Command(path)
		cmd.Env = os.Environ()
		if proxy != "" {
			cmd.Env = append(cmd.Env, "HTTP_PROXY="+proxy, "HTTPS_PROXY="+proxy)
		}
		client := mcp.NewClient(clientImpl, nil)
		return client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	}
}

func resolveServer(exe string) (string, error) {
	var candidates []string
	if exe != "" {
		candidates = append(candidates, exe)
	}
	if env := os.Getenv("DDG_MCP_SERVER"); env != "" {
		candidates = append(candidates, env)
	}
	candidates = append(candidates, "duckduckgo-mcp-server")
	if venv := os.Getenv("VIRTUAL_ENV"); venv != "" {
		candidates = append(candidates, filepath.Join(venv, "bin", "duckduckgo-mcp-server"))
	}
	for _, c := range candidates {
		if p, err := exec.LookPath(c); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("mcp server executable not found, candidates=%v", candidates)
}

// MCPSearch calls the "search" tool of an MCP server. Any failure yields
// zero results. Readables come from the embedded Web provider.
type MCPSearch struct {
	dial Dialer
	opts evidence.Options
	web  *Web
	deps Deps
}

// NewMCPSearch creates an MCP search provider. web supplies
// GatherReadables.
func NewMCPSearch(dial Dialer, web *Web, opts evidence.Options, deps Deps) *MCPSearch {
	deps.defaults()
	return &MCPSearch{dial: dial, opts: opts.Normalized(), web: web, deps: deps}
}

func (p *MCPSearch) Name() string { return "mcp" }

func (p *MCPSearch) Search(ctx context.Context, topic string) ([]evidence.Item, error) {
	return guard(ctx, p.Name(), p.deps, func() ([]evidence.Item, error) {
		items, err := p.search(ctx, topic)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.deps.Log.Publish(fmt.Sprintf("%s 运行 MCP 搜索失败：%v", logbus.MCPTag, err))
			return nil, nil
		}
		return items, nil
	})
}

func (p *MCPSearch) search(ctx context.Context, topic string) ([]evidence.Item, error) {
	session, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	tools, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	names := make([]string, 0, len(tools.Tools))
	found := false
	for _, t := range tools.Tools {
		names = append(names, t.Name)
		found = found || t.Name == SearchTool
	}
	p.deps.Log.Publish(fmt.Sprintf("%s 可用工具: %v", logbus.MCPTag, names))
	if !found {
		p.deps.Log.Publish(logbus.MCPTag + " 未发现 search 工具")
		return nil, nil
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      SearchTool,
		Arguments: map[string]any{"query": topic, "max_results": p.opts.MaxResults},
	})
	if err != nil {
		return nil, fmt.Errorf("call search: %w", err)
	}
	if res.IsError {
		return nil, errors.New("search tool returned an error: " + textOf(res))
	}

	items := parseToolResult(res)
	if len(items) == 0 {
		p.deps.Log.Publish(logbus.MCPTag + " DuckDuckGo 未返回可解析结果")
		return nil, nil
	}
	return Rank(items, p.opts), nil
}

func (p *MCPSearch) GatherReadables(ctx context.Context, items []evidence.Item) ([]evidence.Item, error) {
	return p.web.GatherReadables(ctx, items)
}

// parseToolResult reads URLs from the text content and items from the
// structured content ({items:[...]} or {text}).
func parseToolResult(res *mcp.CallToolResult) []evidence.Item {
	text := textOf(res)

	var structured struct {
		Text  string           `json:"text"`
		Items []map[string]any `json:"items"`
	}
	if res.StructuredContent != nil {
		if raw, err := json.Marshal(res.StructuredContent); err == nil {
			_ = json.Unmarshal(raw, &structured)
		}
	}
	if structured.Text != "" {
		text += "\n" + structured.Text
	}

	var items []evidence.Item
	for _, u := range llm.ExtractURLs(text, 0) {
		items = append(items, evidence.Item{Href: u, Source: evidence.DomainOf(u)})
	}
	for _, o := range structured.Items {
		href := llm.String(o, "url", "href")
		if href == "" {
			continue
		}
		src := llm.String(o, "source")
		if src == "" {
			src = evidence.DomainOf(href)
		}
		items = append(items, evidence.Item{Href: href, Title: llm.String(o, "title"), Source: src})
	}
	return items
}

func textOf(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
