// Package mcp exposes the session's tools to external MCP clients over
// stdio. Every call is queued on the session loop, so a client editing a
// file invalidates panels exactly as the model would.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"ctxpilot/internal/logging"
	"ctxpilot/internal/session"
	"ctxpilot/internal/tools"
)

// Submitter queues commands for the session loop.
type Submitter interface {
	Submit(cmd session.Command) error
}

// Bridge forwards MCP tool calls to a session.
type Bridge struct {
	target Submitter
	srv    *server.MCPServer
	names  []string
}

// NewBridge creates an MCP server offering list. The list is captured once;
// the session still rejects calls to tools that are no longer allowed.
func NewBridge(target Submitter, list []*tools.Tool, version string) (*Bridge, error) {
	b := &Bridge{
		target: target,
		srv: server.NewMCPServer(
			"ctxpilot",
			version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	for _, t := range list {
		def, err := toolDef(t)
		if err != nil {
			return nil, err
		}
		b.srv.AddTool(def, b.Handler(t.Name))
		b.names = append(b.names, t.Name)
	}
	logging.MCP("MCP bridge offering %d tools", len(b.names))
	return b, nil
}

func toolDef(t *tools.Tool) (mcp.Tool, error) {
	schema, err := json.Marshal(t.JSONSchema())
	if err != nil {
		return mcp.Tool{}, fmt.Errorf("schema for %s: %w", t.Name, err)
	}
	return mcp.NewToolWithRawSchema(t.Name, t.Description, schema), nil
}

// Server returns the underlying MCP server.
func (b *Bridge) Server() *server.MCPServer { return b.srv }

// Tools returns the names of the offered tools.
func (b *Bridge) Tools() []string { return append([]string(nil), b.names...) }

// Handler returns the MCP handler for one tool.
func (b *Bridge) Handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reply := make(chan session.ToolReply, 1)
		cmd := session.InvokeTool{Name: name, Args: req.GetArguments(), Reply: reply}
		if err := b.target.Submit(cmd); err != nil {
			logging.MCPError("submit %s: %v", name, err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		select {
		case r := <-reply:
			if r.Err != nil {
				return mcp.NewToolResultError(r.Err.Error()), nil
			}
			return mcp.NewToolResultText(r.Result.Text()), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Serve speaks MCP on in and out until ctx is done or in closes.
func (b *Bridge) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(b.srv)
	return stdio.Listen(ctx, in, out)
}
