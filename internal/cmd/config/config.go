// Package config provides CLI commands for inspecting xscale configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	appconfig "github.com/xia2/xia2-sub002/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View xscale configuration",
	Long: `View xscale configuration.

Use 'config show' to display the effective configuration, 'config init' to
create a commented config file and 'config path' to see where it is read from.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at $XDG_CONFIG_HOME/xscale/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// Register adds all config-related commands to the given parent command.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := appconfig.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintln(out)

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	writeConfig(out, cfg)
	return nil
}

func writeConfig(out io.Writer, cfg *appconfig.Config) {
	s := cfg.Scaler
	fmt.Fprintln(out, "scaler:")
	fmt.Fprintf(out, "  anomalous: %v\n", s.Anomalous)
	fmt.Fprintf(out, "  quick: %v\n", s.Quick)
	fmt.Fprintf(out, "  smart_scaling: %v\n", s.SmartScaling)
	fmt.Fprintf(out, "  spacegroup: %q\n", s.Spacegroup)
	fmt.Fprintf(out, "  reference_file: %q\n", s.ReferenceFile)
	fmt.Fprintf(out, "  isigma_cutoff: %g\n", s.IsigmaCutoff)
	fmt.Fprintf(out, "  cell_tolerance: %g\n", s.CellTolerance)
	fmt.Fprintf(out, "  free_fraction: %g\n", s.FreeFraction)
	fmt.Fprintf(out, "  max_workers: %d\n", s.MaxWorkers)
	fmt.Fprintf(out, "  max_stage_retries: %d\n", s.MaxStageRetries)
	fmt.Fprintf(out, "  working_dir: %q\n", s.WorkingDir)
	if len(s.ResolutionOverrides) == 0 {
		fmt.Fprintln(out, "  resolution_overrides: {}")
	} else {
		fmt.Fprintln(out, "  resolution_overrides:")
		patterns := make([]string, 0, len(s.ResolutionOverrides))
		for p := range s.ResolutionOverrides {
			patterns = append(patterns, p)
		}
		sort.Strings(patterns)
		for _, p := range patterns {
			fmt.Fprintf(out, "    %q: %g\n", p, s.ResolutionOverrides[p])
		}
	}

	fmt.Fprintln(out, "engines:")
	e := cfg.Engines
	for _, c := range []struct {
		name string
		cmd  appconfig.EngineCommand
	}{
		{"probe", e.Probe},
		{"symmetry", e.Symmetry},
		{"reindex", e.Reindex},
		{"rebatch", e.Rebatch},
		{"sort", e.Sort},
		{"scale", e.Scale},
		{"truncate", e.Truncate},
		{"merge", e.Merge},
	} {
		line := c.cmd.Command
		if len(c.cmd.Args) > 0 {
			line += " " + strings.Join(c.cmd.Args, " ")
		}
		fmt.Fprintf(out, "  %s: %s\n", c.name, line)
	}

	fmt.Fprintln(out, "logging:")
	fmt.Fprintf(out, "  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Fprintf(out, "  level: %s\n", cfg.Logging.Level)
}

// defaultConfigFile is written by 'config init'.
const defaultConfigFile = `# xscale configuration

scaler:
  # Keep Friedel pairs separate when merging and truncating
  anomalous: false
  # Skip error-model refinement
  quick: false
  # Search the correction model instead of using absorption/partiality/decay off
  smart_scaling: false
  # Assert a spacegroup or point group; empty decides from the data
  spacegroup: ""
  # External reference reflection file; empty builds one from the first sweep
  reference_file: ""
  # Merged I/sigma at which the resolution limit is placed
  isigma_cutoff: 1.0
  # Allowed fractional deviation of each cell parameter from the reference
  cell_tolerance: 0.10
  # Fraction of reflections flagged for cross-validation
  free_fraction: 0.05
  # Concurrent per-sweep engine runs
  max_workers: 4
  # How often any one stage may be re-entered before the run is abandoned
  max_stage_retries: 10
  # Fixed limits by dataset name pattern, e.g. "native*": 1.6
  resolution_overrides: {}
  # Intermediate files and the log; default ./xscale
  working_dir: ""

# External programs implementing each engine
engines:
  probe:    {command: xscale-probe}
  symmetry: {command: xscale-symmetry}
  reindex:  {command: xscale-reindex}
  rebatch:  {command: xscale-rebatch}
  sort:     {command: xscale-sort}
  scale:    {command: xscale-scale}
  truncate: {command: xscale-truncate}
  merge:    {command: xscale-merge}

logging:
  # Write a JSON log to the working directory
  enabled: true
  # debug, info, warn or error
  level: info
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := appconfig.ConfigDir()
	configFile := appconfig.ConfigFile()
	out := cmd.OutOrStdout()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigFile), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", appconfig.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(appconfig.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: XSCALE_* (e.g., XSCALE_SCALER_ISIGMA_CUTOFF)")
	return nil
}
