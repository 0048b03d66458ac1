// Package mcptool binds external MCP servers into the tool registry so
// units can execute capabilities through them.
package mcptool

import (
	"context"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpprotocol "github.com/mark3labs/mcp-go/mcp"

	"github.com/fkorte/agentpod/internal/port/tool"
)

// Transport selects how the MCP server is reached.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable_http"
)

// ServerDef describes one external MCP server.
type ServerDef struct {
	Name      string            `yaml:"name"`
	Transport Transport         `yaml:"transport"`
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
}

// Validate checks that the definition is usable for its transport.
func (d *ServerDef) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("mcptool: server name is required")
	}
	switch d.Transport {
	case TransportStdio:
		if d.Command == "" {
			return fmt.Errorf("mcptool: stdio server %q needs a command", d.Name)
		}
	case TransportSSE, TransportStreamableHTTP:
		if d.URL == "" {
			return fmt.Errorf("mcptool: %s server %q needs a url", d.Transport, d.Name)
		}
	default:
		return fmt.Errorf("mcptool: unsupported transport %q", d.Transport)
	}
	return nil
}

// Connect dials the MCP server, performs the initialize handshake and
// returns a session exposing the server's tools.
func Connect(ctx context.Context, def *ServerDef) (*Session, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	client, err := createClient(def)
	if err != nil {
		return nil, fmt.Errorf("mcptool: create client for %q: %w", def.Name, err)
	}

	initReq := mcpprotocol.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpprotocol.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpprotocol.Implementation{
		Name:    "agentpod",
		Version: "1.0.0",
	}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("mcptool: initialize %q: %w", def.Name, err)
	}

	return &Session{server: def.Name, client: client}, nil
}

// Session is an initialized connection to one MCP server.
type Session struct {
	server string
	client mcpclient.MCPClient
}

// Close shuts down the underlying connection.
func (s *Session) Close() error {
	return s.client.Close()
}

// RegisterTools lists the server's tools and registers each one in the
// tool registry under "<server>/<tool>". Returns the registered names.
func (s *Session) RegisterTools(ctx context.Context) ([]string, error) {
	listed, err := s.client.ListTools(ctx, mcpprotocol.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcptool: list tools on %q: %w", s.server, err)
	}

	var names []string
	for i := range listed.Tools {
		name := s.server + "/" + listed.Tools[i].Name
		remote := listed.Tools[i].Name
		tool.Register(name, func(tool.Config) (tool.Tool, error) {
			return &remoteTool{name: name, remote: remote, session: s}, nil
		})
		names = append(names, name)
	}
	return names, nil
}

// remoteTool adapts one MCP server tool to the tool port.
type remoteTool struct {
	name    string
	remote  string
	session *Session
}

func (t *remoteTool) Name() string { return t.name }

// Invoke calls the remote tool and flattens its result into outputs.
func (t *remoteTool) Invoke(ctx context.Context, in tool.Inputs) (tool.Outputs, error) {
	req := mcpprotocol.CallToolRequest{}
	req.Params.Name = t.remote
	req.Params.Arguments = map[string]any(in)

	res, err := t.session.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcptool: call %q: %w", t.name, err)
	}
	if res.IsError {
		return nil, fmt.Errorf("mcptool: %q reported an error: %s", t.name, flattenContent(res.Content))
	}
	return tool.Outputs{"content": flattenContent(res.Content)}, nil
}

// flattenContent concatenates textual content blocks of a tool result.
func flattenContent(content []mcpprotocol.Content) string {
	var out string
	for _, c := range content {
		if text, ok := mcpprotocol.AsTextContent(c); ok {
			out += text.Text
		}
	}
	return out
}

// createClient builds an mcp-go client for the given server definition.
func createClient(def *ServerDef) (mcpclient.MCPClient, error) {
	switch def.Transport {
	case TransportStdio:
		return mcpclient.NewStdioMCPClient(def.Command, envMapToSlice(def.Env), def.Args...)

	case TransportSSE:
		var opts []transport.ClientOption
		if len(def.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(def.Headers))
		}
		return mcpclient.NewSSEMCPClient(def.URL, opts...)

	case TransportStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(def.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(def.Headers))
		}
		return mcpclient.NewStreamableHttpClient(def.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport: %s", def.Transport)
	}
}

// envMapToSlice converts a map to the KEY=VALUE slice format expected by exec.Cmd.
func envMapToSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
