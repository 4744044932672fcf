package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ctxpilot/internal/mcp"
)

// mcpCmd serves the workspace tools over MCP on stdio
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the active tools to an MCP client over stdio",
	Long: `Starts a session for the workspace and offers its active tools over the
Model Context Protocol on stdin and stdout. Calls run on the session loop,
so file edits made by the client invalidate panels as usual.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	bridge, err := mcp.NewBridge(a.session, a.session.Tools(), version)
	if err != nil {
		return err
	}
	logger.Info("mcp server starting", zap.String("workspace", a.root), zap.Strings("tools", bridge.Tools()))

	done := make(chan error, 1)
	go func() { done <- a.session.Run(ctx) }()

	err = bridge.Serve(ctx, os.Stdin, os.Stdout)
	cancel()
	if runErr := <-done; runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Warn("session loop stopped", zap.Error(runErr))
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
