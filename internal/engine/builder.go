package engine

import (
	"fmt"
	"os"
	"strings"
)

// Config names the external program for each engine capability and the
// working directory every engine runs in.
type Config struct {
	WorkDir  string
	Probe    Command
	Symmetry Command
	Reindex  Command
	Rebatch  Command
	Sort     Command
	Scale    Command
	Truncate Command
	Merge    Command
}

// Builder constructs a Set of CLI-backed engines from an explicit Config.
type Builder struct {
	cfg      Config
	executor CommandExecutor
}

// NewBuilder creates a Builder that runs engines with os/exec.
func NewBuilder(cfg Config) *Builder {
	return &Builder{
		cfg:      cfg,
		executor: NewCLICommandExecutor(),
	}
}

// WithExecutor replaces the command executor. This is primarily useful for
// testing.
func (b *Builder) WithExecutor(executor CommandExecutor) *Builder {
	b.executor = executor
	return b
}

// Build validates the configuration, creates the working directory and
// returns the engine set.
func (b *Builder) Build() (*Set, error) {
	commands := []struct {
		name string
		cmd  Command
	}{
		{"probe", b.cfg.Probe},
		{"symmetry", b.cfg.Symmetry},
		{"reindex", b.cfg.Reindex},
		{"rebatch", b.cfg.Rebatch},
		{"sort", b.cfg.Sort},
		{"scale", b.cfg.Scale},
		{"truncate", b.cfg.Truncate},
		{"merge", b.cfg.Merge},
	}

	var missing []string
	for _, c := range commands {
		if strings.TrimSpace(c.cmd.Name) == "" {
			missing = append(missing, c.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("no command configured for engines: %s", strings.Join(missing, ", "))
	}

	if b.cfg.WorkDir == "" {
		return nil, fmt.Errorf("engine working directory not set")
	}
	if err := os.MkdirAll(b.cfg.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}

	engine := func(name string, cmd Command) cliEngine {
		return cliEngine{name: name, cmd: cmd, dir: b.cfg.WorkDir, executor: b.executor}
	}

	return &Set{
		WorkDir:  b.cfg.WorkDir,
		Probe:    &cliProbe{engine("probe", b.cfg.Probe)},
		Symmetry: &cliSymmetry{engine("symmetry", b.cfg.Symmetry)},
		Reindex:  &cliReindex{engine("reindex", b.cfg.Reindex)},
		Rebatch:  &cliRebatch{engine("rebatch", b.cfg.Rebatch)},
		Sort:     &cliSort{engine("sort", b.cfg.Sort)},
		Scale:    &cliScale{engine("scale", b.cfg.Scale)},
		Truncate: &cliTruncate{engine("truncate", b.cfg.Truncate)},
		Merge:    &cliMerge{engine("merge", b.cfg.Merge)},
	}, nil
}
