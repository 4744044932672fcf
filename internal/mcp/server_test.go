package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxpilot/internal/config"
	"ctxpilot/internal/modules"
	"ctxpilot/internal/session"
	"ctxpilot/internal/tools"
)

// replySubmitter answers every InvokeTool synchronously.
type replySubmitter struct {
	calls []session.InvokeTool
	reply session.ToolReply
	err   error
}

func (r *replySubmitter) Submit(cmd session.Command) error {
	if r.err != nil {
		return r.err
	}
	inv := cmd.(session.InvokeTool)
	r.calls = append(r.calls, inv)
	inv.Reply <- r.reply
	return nil
}

func request(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	return res.Content[0].(mcp.TextContent).Text
}

func echoTool() *tools.Tool {
	return &tools.Tool{
		Name:        "echo",
		Description: "Echo text",
		Module:      "test",
		Execute:     func(context.Context, tools.Host, map[string]any) (string, error) { return "", nil },
		Schema: tools.ToolSchema{
			Required:   []string{"text"},
			Properties: map[string]tools.Property{"text": {Type: "string", Description: "Text"}},
		},
	}
}

func TestBridge_ForwardsCalls(t *testing.T) {
	sub := &replySubmitter{reply: session.ToolReply{Result: &tools.ToolResult{ToolName: "echo", Result: "hi"}}}
	b, err := NewBridge(sub, []*tools.Tool{echoTool()}, "test")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, b.Tools())
	assert.NotNil(t, b.Server())

	res, err := b.Handler("echo")(context.Background(), request(map[string]any{"text": "hi"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "hi", text(t, res))
	require.Len(t, sub.calls, 1)
	assert.Equal(t, "echo", sub.calls[0].Name)
	assert.Equal(t, "hi", sub.calls[0].Args["text"])
}

func TestBridge_ToolErrorIsResult(t *testing.T) {
	sub := &replySubmitter{reply: session.ToolReply{Err: errors.New("no such file")}}
	b, err := NewBridge(sub, []*tools.Tool{echoTool()}, "test")
	require.NoError(t, err)

	res, err := b.Handler("echo")(context.Background(), request(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "no such file")
}

func TestBridge_QueueFull(t *testing.T) {
	sub := &replySubmitter{err: errors.New("command queue full")}
	b, err := NewBridge(sub, nil, "test")
	require.NoError(t, err)

	res, err := b.Handler("echo")(context.Background(), request(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

type silentSubmitter struct{}

func (silentSubmitter) Submit(session.Command) error { return nil }

func TestBridge_ContextCancelled(t *testing.T) {
	b, err := NewBridge(silentSubmitter{}, nil, "test")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = b.Handler("echo")(ctx, request(nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBridge_DrivesSession(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n"), 0644))

	cfg := config.DefaultConfig()
	cfg.Watch.Enabled = false
	cfg.Modules.Enabled = []string{"core", "files"}
	s, err := session.New(session.Options{Workspace: root, Config: cfg, Modules: modules.Builtin(nil)})
	require.NoError(t, err)
	defer s.Close()

	b, err := NewBridge(s, s.Tools(), "test")
	require.NoError(t, err)
	assert.Contains(t, b.Tools(), "open_file")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	res, err := b.Handler("open_file")(ctx, request(map[string]any{"path": "a.go"}))
	require.NoError(t, err)
	assert.Equal(t, "Opened a.go as P1", text(t, res))

	res, err = b.Handler("git")(ctx, request(map[string]any{"command": "status"}))
	require.NoError(t, err)
	assert.True(t, res.IsError, "vcs-write is not active")
}
