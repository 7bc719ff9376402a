package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/spf13/viper"
)

// Config represents the complete xscale configuration
type Config struct {
	Scaler  ScalerConfig  `mapstructure:"scaler"`
	Engines EnginesConfig `mapstructure:"engines"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ScalerConfig controls the scaling pipeline
type ScalerConfig struct {
	// Anomalous keeps Friedel pairs separate when merging and truncating
	Anomalous bool `mapstructure:"anomalous"`
	// Quick skips error-model refinement and uses default SD parameters
	Quick bool `mapstructure:"quick"`
	// SmartScaling grid-searches the correction model instead of using the all-off default
	SmartScaling bool `mapstructure:"smart_scaling"`
	// Spacegroup is a user-asserted spacegroup or point group (empty = determine from data)
	Spacegroup string `mapstructure:"spacegroup"`
	// ReferenceFile is an external reference reflection file (HKLREF); empty builds one
	// from the first sweep when more than one sweep is scaled
	ReferenceFile string `mapstructure:"reference_file"`
	// IsigmaCutoff is the merged I/sigma threshold used for resolution estimation
	IsigmaCutoff float64 `mapstructure:"isigma_cutoff"`
	// CellTolerance is the allowed fractional deviation of each cell parameter from the reference
	CellTolerance float64 `mapstructure:"cell_tolerance"`
	// FreeFraction is the fraction of reflections flagged for cross-validation
	FreeFraction float64 `mapstructure:"free_fraction"`
	// MaxWorkers bounds the per-sweep worker pool (probe, symmetry, rebatch)
	MaxWorkers int `mapstructure:"max_workers"`
	// MaxStageRetries bounds how often any one stage may be re-entered
	MaxStageRetries int `mapstructure:"max_stage_retries"`
	// ResolutionOverrides maps dataset name glob patterns to fixed high-resolution limits.
	// Patterns are matched case-insensitively since config keys are lower-cased on load.
	ResolutionOverrides map[string]float64 `mapstructure:"resolution_overrides"`
	// WorkingDir is where intermediate reflection files and the log are written
	WorkingDir string `mapstructure:"working_dir"`
}

// EngineCommand is the external program implementing one engine
type EngineCommand struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// EnginesConfig names the external program for each engine capability
type EnginesConfig struct {
	Probe    EngineCommand `mapstructure:"probe"`
	Symmetry EngineCommand `mapstructure:"symmetry"`
	Reindex  EngineCommand `mapstructure:"reindex"`
	Rebatch  EngineCommand `mapstructure:"rebatch"`
	Sort     EngineCommand `mapstructure:"sort"`
	Scale    EngineCommand `mapstructure:"scale"`
	Truncate EngineCommand `mapstructure:"truncate"`
	Merge    EngineCommand `mapstructure:"merge"`
}

// LoggingConfig controls debug logging
type LoggingConfig struct {
	// Enabled writes a JSON log to the working directory
	Enabled bool `mapstructure:"enabled"`
	// Level is the minimum level logged: debug, info, warn, error
	Level string `mapstructure:"level"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Scaler: ScalerConfig{
			Anomalous:           false,
			Quick:               false,
			SmartScaling:        false,
			Spacegroup:          "",
			ReferenceFile:       "",
			IsigmaCutoff:        1.0,
			CellTolerance:       0.10,
			FreeFraction:        0.05,
			MaxWorkers:          4,
			MaxStageRetries:     10,
			ResolutionOverrides: map[string]float64{},
			WorkingDir:          "",
		},
		Engines: EnginesConfig{
			Probe:    EngineCommand{Command: "xscale-probe", Args: []string{}},
			Symmetry: EngineCommand{Command: "xscale-symmetry", Args: []string{}},
			Reindex:  EngineCommand{Command: "xscale-reindex", Args: []string{}},
			Rebatch:  EngineCommand{Command: "xscale-rebatch", Args: []string{}},
			Sort:     EngineCommand{Command: "xscale-sort", Args: []string{}},
			Scale:    EngineCommand{Command: "xscale-scale", Args: []string{}},
			Truncate: EngineCommand{Command: "xscale-truncate", Args: []string{}},
			Merge:    EngineCommand{Command: "xscale-merge", Args: []string{}},
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Scaler defaults
	viper.SetDefault("scaler.anomalous", defaults.Scaler.Anomalous)
	viper.SetDefault("scaler.quick", defaults.Scaler.Quick)
	viper.SetDefault("scaler.smart_scaling", defaults.Scaler.SmartScaling)
	viper.SetDefault("scaler.spacegroup", defaults.Scaler.Spacegroup)
	viper.SetDefault("scaler.reference_file", defaults.Scaler.ReferenceFile)
	viper.SetDefault("scaler.isigma_cutoff", defaults.Scaler.IsigmaCutoff)
	viper.SetDefault("scaler.cell_tolerance", defaults.Scaler.CellTolerance)
	viper.SetDefault("scaler.free_fraction", defaults.Scaler.FreeFraction)
	viper.SetDefault("scaler.max_workers", defaults.Scaler.MaxWorkers)
	viper.SetDefault("scaler.max_stage_retries", defaults.Scaler.MaxStageRetries)
	viper.SetDefault("scaler.resolution_overrides", defaults.Scaler.ResolutionOverrides)
	viper.SetDefault("scaler.working_dir", defaults.Scaler.WorkingDir)

	// Engine defaults
	setEngineDefaults("probe", defaults.Engines.Probe)
	setEngineDefaults("symmetry", defaults.Engines.Symmetry)
	setEngineDefaults("reindex", defaults.Engines.Reindex)
	setEngineDefaults("rebatch", defaults.Engines.Rebatch)
	setEngineDefaults("sort", defaults.Engines.Sort)
	setEngineDefaults("scale", defaults.Engines.Scale)
	setEngineDefaults("truncate", defaults.Engines.Truncate)
	setEngineDefaults("merge", defaults.Engines.Merge)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
}

func setEngineDefaults(name string, cmd EngineCommand) {
	viper.SetDefault("engines."+name+".command", cmd.Command)
	viper.SetDefault("engines."+name+".args", cmd.Args)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "xscale")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".xscale"
	}
	return filepath.Join(home, ".config", "xscale")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ResolutionOverride returns the user-fixed high-resolution limit for a
// dataset, if any pattern in ResolutionOverrides matches its name. When
// several patterns match, the lexically first pattern wins so the result
// does not depend on map iteration order. Invalid patterns never match;
// Validate reports them.
func (s *ScalerConfig) ResolutionOverride(dataset string) (float64, bool) {
	if len(s.ResolutionOverrides) == 0 {
		return 0, false
	}

	patterns := make([]string, 0, len(s.ResolutionOverrides))
	for pattern := range s.ResolutionOverrides {
		patterns = append(patterns, pattern)
	}
	sort.Strings(patterns)

	name := strings.ToLower(dataset)
	for _, pattern := range patterns {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			continue
		}
		if g.Match(name) {
			return s.ResolutionOverrides[pattern], true
		}
	}
	return 0, false
}
