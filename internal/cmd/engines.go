package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/xia2/xia2-sub002/internal/config"
	"github.com/xia2/xia2-sub002/internal/engine"
	"github.com/xia2/xia2-sub002/internal/logging"
)

// defaultWorkDir is used below the current directory when no working
// directory is configured.
const defaultWorkDir = "xscale"

func workingDir(cfg *config.Config) (string, error) {
	dir := cfg.Scaler.WorkingDir
	if dir == "" {
		dir = defaultWorkDir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve working directory: %w", err)
	}
	return abs, nil
}

func command(c config.EngineCommand) engine.Command {
	return engine.Command{Name: c.Command, Args: c.Args}
}

// engineConfig maps the engines section of the configuration.
func engineConfig(cfg *config.Config, workDir string) engine.Config {
	e := cfg.Engines
	return engine.Config{
		WorkDir:  workDir,
		Probe:    command(e.Probe),
		Symmetry: command(e.Symmetry),
		Reindex:  command(e.Reindex),
		Rebatch:  command(e.Rebatch),
		Sort:     command(e.Sort),
		Scale:    command(e.Scale),
		Truncate: command(e.Truncate),
		Merge:    command(e.Merge),
	}
}

func buildEngines(cfg *config.Config, workDir string) (*engine.Set, error) {
	return engine.NewBuilder(engineConfig(cfg, workDir)).Build()
}

// newLogger opens the run log in workDir, or discards logs when logging is
// disabled.
func newLogger(cfg *config.Config, workDir string) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	return logging.NewLogger(workDir, cfg.Logging.Level)
}
