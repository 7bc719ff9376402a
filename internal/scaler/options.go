package scaler

import (
	"github.com/xia2/xia2-sub002/internal/config"
	"github.com/xia2/xia2-sub002/internal/event"
	"github.com/xia2/xia2-sub002/internal/logging"
	"github.com/xia2/xia2-sub002/internal/reference"
	"github.com/xia2/xia2-sub002/internal/resolution"
)

// Config controls one scaling run.
type Config struct {
	Anomalous    bool
	Quick        bool
	SmartScaling bool
	// Spacegroup is asserted by the user; its point group replaces the
	// symmetry search.
	Spacegroup string
	// ReferenceFile is an external reference. Without one a reference is
	// built from the first sweep whenever more than one sweep is scaled.
	ReferenceFile   string
	IsigmaCutoff    float64
	CellTolerance   float64
	FreeFraction    float64
	MaxWorkers      int
	MaxStageRetries int
	// ResolutionOverride returns a user-fixed limit for a dataset.
	ResolutionOverride func(dataset string) (float64, bool)
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		IsigmaCutoff:    resolution.DefaultCutoff,
		CellTolerance:   reference.DefaultCellTolerance,
		FreeFraction:    0.05,
		MaxWorkers:      4,
		MaxStageRetries: DefaultMaxStageRetries,
	}
}

// ConfigFrom maps the scaler section of the application configuration.
func ConfigFrom(sc *config.ScalerConfig) Config {
	return Config{
		Anomalous:          sc.Anomalous,
		Quick:              sc.Quick,
		SmartScaling:       sc.SmartScaling,
		Spacegroup:         sc.Spacegroup,
		ReferenceFile:      sc.ReferenceFile,
		IsigmaCutoff:       sc.IsigmaCutoff,
		CellTolerance:      sc.CellTolerance,
		FreeFraction:       sc.FreeFraction,
		MaxWorkers:         sc.MaxWorkers,
		MaxStageRetries:    sc.MaxStageRetries,
		ResolutionOverride: sc.ResolutionOverride,
	}
}

// Option configures a Scaler.
type Option func(*Scaler)

// WithLogger sets the logger. Entries are tagged with the run ID.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scaler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBus sets the bus the run's events are published on.
func WithBus(b *event.Bus) Option {
	return func(s *Scaler) {
		if b != nil {
			s.bus = b
		}
	}
}

// WithRunID replaces the generated run ID.
func WithRunID(id string) Option {
	return func(s *Scaler) {
		if id != "" {
			s.runID = id
		}
	}
}
