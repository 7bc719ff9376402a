package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "scaler.isigma_cutoff")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateScaler()...)
	errors = append(errors, c.validateEngines()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateScaler() []ValidationError {
	var errors []ValidationError
	s := c.Scaler

	if s.IsigmaCutoff <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scaler.isigma_cutoff",
			Value:   s.IsigmaCutoff,
			Message: "must be positive",
		})
	}

	if s.CellTolerance <= 0 || s.CellTolerance >= 1 {
		errors = append(errors, ValidationError{
			Field:   "scaler.cell_tolerance",
			Value:   s.CellTolerance,
			Message: "must be between 0 and 1 (exclusive)",
		})
	}

	if s.FreeFraction <= 0 || s.FreeFraction >= 0.5 {
		errors = append(errors, ValidationError{
			Field:   "scaler.free_fraction",
			Value:   s.FreeFraction,
			Message: "must be between 0 and 0.5 (exclusive)",
		})
	}

	const maxWorkersLimit = 64
	if s.MaxWorkers < 1 || s.MaxWorkers > maxWorkersLimit {
		errors = append(errors, ValidationError{
			Field:   "scaler.max_workers",
			Value:   s.MaxWorkers,
			Message: fmt.Sprintf("must be between 1 and %d", maxWorkersLimit),
		})
	}

	if s.MaxStageRetries < 1 {
		errors = append(errors, ValidationError{
			Field:   "scaler.max_stage_retries",
			Value:   s.MaxStageRetries,
			Message: "must be at least 1",
		})
	}

	for pattern, limit := range s.ResolutionOverrides {
		if _, err := glob.Compile(strings.ToLower(pattern)); err != nil {
			errors = append(errors, ValidationError{
				Field:   "scaler.resolution_overrides",
				Value:   pattern,
				Message: fmt.Sprintf("invalid dataset pattern: %v", err),
			})
		}
		if limit <= 0 {
			errors = append(errors, ValidationError{
				Field:   "scaler.resolution_overrides." + pattern,
				Value:   limit,
				Message: "resolution limit must be positive",
			})
		}
	}

	return errors
}

func (c *Config) validateEngines() []ValidationError {
	var errors []ValidationError

	engines := []struct {
		name string
		cmd  EngineCommand
	}{
		{"probe", c.Engines.Probe},
		{"symmetry", c.Engines.Symmetry},
		{"reindex", c.Engines.Reindex},
		{"rebatch", c.Engines.Rebatch},
		{"sort", c.Engines.Sort},
		{"scale", c.Engines.Scale},
		{"truncate", c.Engines.Truncate},
		{"merge", c.Engines.Merge},
	}

	for _, e := range engines {
		if strings.TrimSpace(e.cmd.Command) == "" {
			errors = append(errors, ValidationError{
				Field:   "engines." + e.name + ".command",
				Value:   e.cmd.Command,
				Message: "must not be empty",
			})
		}
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
