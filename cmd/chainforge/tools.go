package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/ChainForge/internal/adapter/mcp"
	"github.com/Strob0t/ChainForge/internal/config"
	"github.com/Strob0t/ChainForge/internal/service"
)

// mountMCPServers connects to each configured MCP server and registers its
// tools as domain tools. Tool names are prefixed with the source name to
// avoid collisions between servers.
func mountMCPServers(ctx context.Context, registry *service.ToolRegistry, cfg config.MCP) (func(), error) {
	var sources []*mcp.Source
	cleanup := func() {
		for _, s := range sources {
			_ = s.Close()
		}
	}

	for _, server := range cfg.Servers {
		source, err := mcp.Connect(ctx, server.Name, server.BaseURL)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("connect %s: %w", server.Name, err)
		}
		sources = append(sources, source)

		tools, err := source.ListTools(ctx)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("list tools %s: %w", server.Name, err)
		}

		for _, t := range tools {
			registry.Register(&mcpTool{source: source, remote: t})
		}
		slog.Info("mcp tools registered", "source", server.Name, "count", len(tools))
	}

	return cleanup, nil
}

// mcpTool adapts one remote MCP tool to the registry's Tool interface.
type mcpTool struct {
	source *mcp.Source
	remote mcp.RemoteTool
}

func (t *mcpTool) Name() string {
	return t.source.Name() + "." + t.remote.Name
}

func (t *mcpTool) Description() string { return t.remote.Description }

func (t *mcpTool) Parameters() map[string]any { return t.remote.InputSchema }

func (t *mcpTool) Invoke(ctx context.Context, args json.RawMessage, _ *service.SessionContext) (string, []string, error) {
	out, err := t.source.CallTool(ctx, t.remote.Name, args)
	if err != nil {
		return "", nil, err
	}
	return out, nil, nil
}
