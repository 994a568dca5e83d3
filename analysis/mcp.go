package analysis

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/rumeur/kit"
)

type analyzeReq struct {
	Topic string `json:"topic"`
}

// RegisterMCP exposes Run as the rumeur_analyze tool.
func (p *Pipeline) RegisterMCP(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "rumeur_analyze",
		Description: "Search, read and summarise public sentiment about a topic; returns report paths, Markdown and a notice.",
		InputSchema: kit.InputSchema(map[string]any{
			"topic": map[string]any{"type": "string", "description": "Topic to analyse"},
		}, "topic"),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return p.Run(ctx, req.(*analyzeReq).Topic)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r analyzeReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(p.cfg.Logger, "analyze")(endpoint), decode)
}
