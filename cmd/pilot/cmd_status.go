package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// statusCmd prints the startup state of a workspace.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show modules, tools and saved sessions for the workspace",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()
	logger.Debug("status", zap.String("workspace", a.root), zap.String("session", a.session.ID()))

	out := cmd.OutOrStdout()
	s := a.session
	reg := s.Registry()

	fmt.Fprintf(out, "Workspace: %s\n", a.root)
	fmt.Fprintf(out, "Budget:    %s tokens\n", humanize.Comma(int64(a.cfg.Context.Budget)))
	fmt.Fprintf(out, "Provider:  %s\n", a.cfg.Provider.Name)

	active := reg.Order()
	fmt.Fprintf(out, "\nModules (%d of %d active):\n", len(active), len(reg.Known()))
	for _, id := range reg.Known() {
		mark := " "
		if reg.IsActive(id) {
			mark = "*"
		}
		desc := ""
		if m, ok := reg.Module(id); ok {
			desc = m.Description()
			if deps := m.Dependencies(); len(deps) > 0 {
				desc += " (needs " + strings.Join(deps, ", ") + ")"
			}
		}
		fmt.Fprintf(out, "  %s %-12s %s\n", mark, id, desc)
	}

	list := s.Tools()
	names := make([]string, 0, len(list))
	for _, t := range list {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	fmt.Fprintf(out, "\nTools (%d): %s\n", len(names), strings.Join(names, ", "))

	presets := reg.Presets()
	fmt.Fprintf(out, "\nPresets (%d):", len(presets))
	for _, p := range presets {
		fmt.Fprintf(out, " %s", p.Name)
	}
	fmt.Fprintln(out)

	if a.usage != nil {
		total := a.usage.Stats().Total
		fmt.Fprintf(out, "\nUsage: %s rounds, %s tokens sent, %s received\n",
			humanize.Comma(total.Rounds), humanize.Comma(total.Input), humanize.Comma(total.Output))
	}

	return printSnapshots(cmd, a, out, 5)
}

func printSnapshots(cmd *cobra.Command, a *app, out io.Writer, limit int) error {
	if a.db == nil {
		fmt.Fprintln(out, "\nPersistence disabled.")
		return nil
	}
	snaps, err := a.db.Snapshots(cmd.Context(), a.root, limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nSaved sessions (%s):\n", a.db.Path())
	if len(snaps) == 0 {
		fmt.Fprintln(out, "  none")
		return nil
	}
	for _, info := range snaps {
		label := info.Label
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(out, "  %s  %-10s %8s  %s\n", info.ID, label, humanize.Bytes(uint64(info.Bytes)), humanize.Time(info.CreatedAt))
	}
	return nil
}
