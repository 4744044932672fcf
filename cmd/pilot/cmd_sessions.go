package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var pruneKeep int

// sessionsCmd manages saved session snapshots
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved sessions",
	RunE:  runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions of the workspace, newest first",
	RunE:  runSessionsList,
}

var sessionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the newest saved sessions",
	RunE:  runSessionsPrune,
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	a, err := openStore()
	if err != nil {
		return err
	}
	defer a.Close()
	return printSnapshots(cmd, a, cmd.OutOrStdout(), 50)
}

func runSessionsPrune(cmd *cobra.Command, args []string) error {
	if pruneKeep < 1 {
		return fmt.Errorf("--keep must be at least 1")
	}
	a, err := openStore()
	if err != nil {
		return err
	}
	defer a.Close()
	if a.db == nil {
		return fmt.Errorf("persistence is disabled")
	}
	n, err := a.db.Prune(cmd.Context(), a.root, pruneKeep)
	if err != nil {
		return err
	}
	logger.Info("pruned snapshots", zap.Int("deleted", n), zap.Int("kept", pruneKeep))
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d snapshots\n", n)
	return nil
}
