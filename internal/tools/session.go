// Package tools queries MCP tool servers registered in the directory.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/zulandar/junction/internal/directory"
	"github.com/zulandar/junction/internal/llm"
)

// Session is an open connection to one tool server.
type Session interface {
	// Tools lists the server's tools in the form the LLM tool loop expects.
	Tools(ctx context.Context) ([]llm.Tool, error)
	// Call invokes a tool and returns its text output.
	Call(ctx context.Context, name string, args map[string]any) (string, error)
	Close() error
}

// Dialer opens sessions to tool servers.
type Dialer interface {
	Dial(ctx context.Context, endpoint, transport string) (Session, error)
}

// MCPDialer dials servers with the mcp-go client.
type MCPDialer struct {
	ClientName    string
	ClientVersion string
}

// Dial connects, starts the transport and performs the MCP handshake.
func (d MCPDialer) Dial(ctx context.Context, endpoint, transport string) (Session, error) {
	var (
		c   *client.Client
		err error
	)
	switch transport {
	case "", directory.TransportHTTP:
		c, err = client.NewStreamableHttpClient(endpoint)
	case directory.TransportSSE:
		c, err = client.NewSSEMCPClient(endpoint)
	default:
		return nil, fmt.Errorf("tools: transport %q is not supported", transport)
	}
	if err != nil {
		return nil, fmt.Errorf("tools: create client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("tools: start: %w", err)
	}

	name, version := d.ClientName, d.ClientVersion
	if name == "" {
		name = "junction"
	}
	if version == "" {
		version = "dev"
	}
	init := mcp.InitializeRequest{}
	init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcp.Implementation{Name: name, Version: version}
	if _, err := c.Initialize(ctx, init); err != nil {
		c.Close()
		return nil, fmt.Errorf("tools: initialize: %w", err)
	}
	return &mcpSession{c: c}, nil
}

type mcpSession struct {
	c *client.Client
}

func (s *mcpSession) Tools(ctx context.Context) ([]llm.Tool, error) {
	res, err := s.c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("tools: list: %w", err)
	}
	out := make([]llm.Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		schema := map[string]any{"type": "object"}
		if t.InputSchema.Properties != nil {
			schema["properties"] = t.InputSchema.Properties
		}
		if len(t.InputSchema.Required) > 0 {
			schema["required"] = t.InputSchema.Required
		}
		out = append(out, llm.Tool{Name: t.Name, Description: t.Description, Schema: schema})
	}
	return out, nil
}

func (s *mcpSession) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := s.c.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("tools: call %s: %w", name, err)
	}
	text := contentText(res.Content)
	if res.IsError {
		return "", fmt.Errorf("tools: %s returned an error: %s", name, text)
	}
	return text, nil
}

func (s *mcpSession) Close() error {
	return s.c.Close()
}

// contentText joins the text parts of a tool result.
func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// CallJSON invokes a tool and decodes its text output as JSON into out.
func CallJSON(ctx context.Context, s Session, name string, args map[string]any, out any) error {
	text, err := s.Call(ctx, name, args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("tools: decode %s result: %w", name, err)
	}
	return nil
}
