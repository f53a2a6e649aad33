// Package mcp connects to external Model Context Protocol servers and exposes
// their tools to the engine's tool registry as domain tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpprotocol "github.com/mark3labs/mcp-go/mcp"
)

// RemoteTool describes one tool discovered on an MCP server.
type RemoteTool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Source is a connected MCP server whose tools can be invoked remotely.
type Source struct {
	name   string
	client mcpclient.MCPClient
}

// Connect establishes a streamable-HTTP MCP connection and performs the
// initialize handshake.
func Connect(ctx context.Context, name, baseURL string) (*Source, error) {
	client, err := mcpclient.NewStreamableHttpClient(baseURL)
	if err != nil {
		return nil, fmt.Errorf("mcp client %s: %w", name, err)
	}

	initReq := mcpprotocol.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpprotocol.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpprotocol.Implementation{
		Name:    "chainforge",
		Version: "1.0.0",
	}
	initResult, err := client.Initialize(ctx, initReq)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("mcp initialize %s: %w", name, err)
	}

	slog.Info("mcp server connected",
		"name", name,
		"server", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version)

	return &Source{name: name, client: client}, nil
}

// Name returns the configured source name.
func (s *Source) Name() string { return s.name }

// ListTools discovers the tools exposed by the server.
func (s *Source) ListTools(ctx context.Context) ([]RemoteTool, error) {
	result, err := s.client.ListTools(ctx, mcpprotocol.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp list tools %s: %w", s.name, err)
	}

	tools := make([]RemoteTool, 0, len(result.Tools))
	for i := range result.Tools {
		t := result.Tools[i]

		schemaJSON, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal input schema for %s: %w", t.Name, err)
		}
		var schema map[string]any
		if err := json.Unmarshal(schemaJSON, &schema); err != nil {
			return nil, fmt.Errorf("unmarshal input schema for %s: %w", t.Name, err)
		}

		tools = append(tools, RemoteTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

// CallTool invokes a remote tool and returns its text output. Tool-level
// errors come back as error returns so the engine can surface them as
// recoverable tool results.
func (s *Source) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return "", fmt.Errorf("mcp tool %s: invalid arguments: %w", name, err)
		}
	}

	req := mcpprotocol.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	result, err := s.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp call %s/%s: %w", s.name, name, err)
	}

	var text strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(mcpprotocol.TextContent); ok {
			text.WriteString(tc.Text)
		}
	}

	if result.IsError {
		return "", fmt.Errorf("mcp tool %s failed: %s", name, text.String())
	}
	return text.String(), nil
}

// Close terminates the MCP connection.
func (s *Source) Close() error {
	return s.client.Close()
}
