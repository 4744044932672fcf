package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ctxpilot/internal/module"
	"ctxpilot/internal/session"
)

var presetModules []string

// presetCmd manages module presets
var presetCmd = &cobra.Command{
	Use:   "preset",
	Short: "Manage module presets",
	Long: `List, inspect, save and delete module presets.

Presets come from the config file and from the workspace state database.
A saved preset records the active modules and their tool permissions.`,
	RunE: runPresetList,
}

var presetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all presets",
	RunE:  runPresetList,
}

var presetShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show the modules and tools of a preset",
	Args:  cobra.ExactArgs(1),
	RunE:  runPresetShow,
}

var presetSaveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Save a preset to the state database",
	Long: `Saves the startup module set, or the modules given with --modules, as a
named preset. Dependencies are checked before anything is written.`,
	Args: cobra.ExactArgs(1),
	RunE: runPresetSave,
}

var presetDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a saved preset",
	Args:  cobra.ExactArgs(1),
	RunE:  runPresetDelete,
}

func init() {
	presetSaveCmd.Flags().StringSliceVar(&presetModules, "modules", nil, "Modules to include (default: startup modules)")
}

// allPresets merges config presets with saved ones; saved presets win.
func allPresets(cmd *cobra.Command, a *app) (map[string]module.Preset, error) {
	out := make(map[string]module.Preset)
	for _, p := range a.cfg.Presets {
		out[p.Name] = module.Preset{Name: p.Name, Modules: p.Modules, Tools: p.Tools}
	}
	if a.db != nil {
		saved, err := a.db.Presets(cmd.Context())
		if err != nil {
			return nil, err
		}
		for _, p := range saved {
			out[p.Name] = p
		}
	}
	return out, nil
}

func runPresetList(cmd *cobra.Command, args []string) error {
	a, err := openStore()
	if err != nil {
		return err
	}
	defer a.Close()

	presets, err := allPresets(cmd, a)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)

	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintln(out, "No presets defined.")
		return nil
	}
	for _, name := range names {
		fmt.Fprintf(out, "%-16s %s\n", name, strings.Join(presets[name].Modules, ", "))
	}
	return nil
}

func runPresetShow(cmd *cobra.Command, args []string) error {
	a, err := openStore()
	if err != nil {
		return err
	}
	defer a.Close()

	presets, err := allPresets(cmd, a)
	if err != nil {
		return err
	}
	p, ok := presets[args[0]]
	if !ok {
		return fmt.Errorf("unknown preset %q", args[0])
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Preset:  %s\n", p.Name)
	fmt.Fprintf(out, "Modules: %s\n", strings.Join(p.Modules, ", "))
	mods := make([]string, 0, len(p.Tools))
	for m := range p.Tools {
		mods = append(mods, m)
	}
	sort.Strings(mods)
	for _, m := range mods {
		tools := p.Tools[m]
		if len(tools) == 0 {
			fmt.Fprintf(out, "  %s: all tools\n", m)
			continue
		}
		fmt.Fprintf(out, "  %s: %s\n", m, strings.Join(tools, ", "))
	}
	return nil
}

func runPresetSave(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.db == nil {
		return fmt.Errorf("persistence is disabled")
	}

	name := args[0]
	s := a.session
	if len(presetModules) > 0 {
		// Loading the candidate first rejects unknown modules and missing
		// dependencies before anything is written.
		s.Registry().DefinePreset(module.Preset{Name: name, Modules: presetModules})
		if err := s.Do(cmd.Context(), session.LoadPreset{Name: name}); err != nil {
			return err
		}
	}
	if err := s.Do(cmd.Context(), session.SavePreset{Name: name}); err != nil {
		return err
	}
	logger.Info("preset saved", zap.String("name", name), zap.Strings("modules", s.Registry().Order()))
	fmt.Fprintf(cmd.OutOrStdout(), "Saved preset %s: %s\n", name, strings.Join(s.Registry().Order(), ", "))
	return nil
}

func runPresetDelete(cmd *cobra.Command, args []string) error {
	a, err := openStore()
	if err != nil {
		return err
	}
	defer a.Close()
	if a.db == nil {
		return fmt.Errorf("persistence is disabled")
	}
	if err := a.db.DeletePreset(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted preset %s\n", args[0])
	return nil
}
