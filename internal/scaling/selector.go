package scaling

import (
	"context"
	"fmt"

	"github.com/xia2/xia2-sub002/internal/engine"
	"github.com/xia2/xia2-sub002/internal/logging"
)

// Default selection tolerances.
const (
	defaultRmergeTolerance = 0.03
	defaultCycleTolerance  = 1.0
)

// Option configures a Selector.
type Option func(*Selector)

// WithRmergeTolerance sets the largest relative Rmerge increase over the
// baseline a correction may cause and still be kept.
func WithRmergeTolerance(f float64) Option {
	return func(s *Selector) { s.rmergeTolerance = f }
}

// WithCycleTolerance sets the largest number of extra refinement cycles a
// correction may cause and still be kept.
func WithCycleTolerance(n float64) Option {
	return func(s *Selector) { s.cycleTolerance = n }
}

// WithLogger sets the logger used to report each trial.
func WithLogger(l *logging.Logger) Option {
	return func(s *Selector) { s.logger = l }
}

// Selector grid-searches the correction terms of the scaling model.
type Selector struct {
	engine          engine.ScaleEngine
	rmergeTolerance float64
	cycleTolerance  float64
	logger          *logging.Logger
}

// NewSelector creates a Selector with the given options.
// Unset options use defaults.
func NewSelector(eng engine.ScaleEngine, opts ...Option) *Selector {
	s := &Selector{
		engine:          eng,
		rmergeTolerance: defaultRmergeTolerance,
		cycleTolerance:  defaultCycleTolerance,
		logger:          logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select scales the prepared data once with every correction off and once
// per correction, and returns the corrections that passed. The request's
// corrections are ignored and its prefix is extended per trial.
func (s *Selector) Select(ctx context.Context, prepared engine.ScaleRequest) (Decision, error) {
	base := prepared
	base.Corrections = engine.Corrections{}

	baseline, err := s.run(ctx, base, "")
	if err != nil {
		return Decision{}, err
	}
	baseline.Accepted = true
	baseline.Reason = "baseline"
	s.logger.Info("scaling model baseline", "rmerge", baseline.Rmerge, "cycles", baseline.Cycles)

	decision := Decision{Baseline: baseline}
	for _, c := range Corrections() {
		req := base
		req.Corrections = c.enable(engine.Corrections{})

		trial, err := s.run(ctx, req, c)
		if err != nil {
			return Decision{}, err
		}
		s.evaluate(&trial, baseline)
		if trial.Accepted {
			decision.Corrections = c.enable(decision.Corrections)
		}
		s.logger.Info("scaling model trial",
			"correction", c.String(),
			"rmerge", trial.Rmerge,
			"cycles", trial.Cycles,
			"accepted", trial.Accepted,
		)
		decision.Trials = append(decision.Trials, trial)
	}
	return decision, nil
}

// evaluate accepts a trial that neither worsens Rmerge by more than the
// relative tolerance nor needs more than the cycle tolerance extra cycles.
func (s *Selector) evaluate(trial *Trial, baseline Trial) {
	limit := baseline.Rmerge * (1 + s.rmergeTolerance)
	switch {
	case trial.Rmerge > limit:
		trial.Reason = fmt.Sprintf("Rmerge %.4f exceeds %.4f (baseline %.4f)", trial.Rmerge, limit, baseline.Rmerge)
	case trial.Cycles > baseline.Cycles+s.cycleTolerance:
		trial.Reason = fmt.Sprintf("%.1f cycles exceeds %.1f (baseline %.1f)", trial.Cycles, baseline.Cycles+s.cycleTolerance, baseline.Cycles)
	default:
		trial.Accepted = true
		trial.Reason = "within tolerance"
	}
}

func (s *Selector) run(ctx context.Context, req engine.ScaleRequest, c Correction) (Trial, error) {
	name := "baseline"
	if c != "" {
		name = c.String()
	}
	req.Prefix = fmt.Sprintf("%s_model_%s", prefixOrDefault(req.Prefix), name)

	res, err := s.engine.Scale(ctx, req)
	if err != nil {
		return Trial{}, err
	}
	return Trial{
		Correction: c,
		Rmerge:     res.MeanRmerge(),
		Cycles:     res.ConvergenceCycles,
	}, nil
}

func prefixOrDefault(prefix string) string {
	if prefix == "" {
		return "scale"
	}
	return prefix
}
