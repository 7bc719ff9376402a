// Package scaler drives a multi-sweep scaling run through its stages:
// prepare, scale, finish.
//
// Each stage handler returns the next stage. Returning the current or an
// earlier stage is a retry; a retry is never signalled by mutating a flag.
// The run is done only after prepare, scale and finish complete in sequence
// without any handler asking to go back. Every stage has its own retry
// budget; exhausting it aborts the run with ErrNoConvergence.
//
// Errors returned by a handler are fatal and name the offending sweep or
// dataset. No partial result is returned.
package scaler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xia2/xia2-sub002/internal/batch"
	"github.com/xia2/xia2-sub002/internal/damage"
	"github.com/xia2/xia2-sub002/internal/engine"
	"github.com/xia2/xia2-sub002/internal/errormodel"
	"github.com/xia2/xia2-sub002/internal/errors"
	"github.com/xia2/xia2-sub002/internal/event"
	"github.com/xia2/xia2-sub002/internal/logging"
	"github.com/xia2/xia2-sub002/internal/reference"
	"github.com/xia2/xia2-sub002/internal/report"
	"github.com/xia2/xia2-sub002/internal/scaling"
	"github.com/xia2/xia2-sub002/internal/sweep"
	"github.com/xia2/xia2-sub002/internal/symmetry"
)

// Result is everything a completed run publishes.
type Result struct {
	RunID      string `yaml:"run_id"`
	Lattice    string `yaml:"lattice"`
	PointGroup string `yaml:"point_group"`
	Spacegroup string `yaml:"spacegroup"`

	Model scaling.CorrectionModel `yaml:"model"`
	// Selection is set when the correction terms were searched.
	Selection *scaling.Decision `yaml:"selection,omitempty"`
	// Limits maps dataset to the accepted high-resolution limit.
	Limits map[string]float64 `yaml:"resolution_limits"`

	MergedFile   string `yaml:"merged_file"`
	UnmergedFile string `yaml:"unmerged_file"`
	// Truncated maps dataset to its amplitude file.
	Truncated map[string]string `yaml:"truncated"`
	FreeFile  string            `yaml:"free_file"`

	Statistics *report.Statistics `yaml:"statistics"`
	Damage     []damage.Finding   `yaml:"damage,omitempty"`
	History    []Transition       `yaml:"history"`
}

// Scaler owns the sweeps and resolution limits of one run.
type Scaler struct {
	cfg     Config
	engines *engine.Set
	specs   []sweep.Spec
	bus     *event.Bus
	logger  *logging.Logger
	runID   string

	resolver   *symmetry.Resolver
	builder    *reference.Builder
	renumberer *batch.Renumberer
	selector   *scaling.Selector
	refiner    *errormodel.Refiner

	stage   Stage
	history []Transition
	retries *retryBudget

	// Rebuilt on every prepare.
	sweeps    *sweep.Collection
	reference *reference.Reference
	decision  symmetry.Decision
	sorted    string
	runs      []engine.Run

	// Kept across prepare restarts.
	limits    *sweep.ResolutionLimits
	model     scaling.CorrectionModel
	selection *scaling.Decision
	scalePass int

	result *Result
}

// New creates a Scaler for specs. Engines write into engines.WorkDir.
func New(engines *engine.Set, specs []sweep.Spec, cfg Config, opts ...Option) *Scaler {
	s := &Scaler{
		cfg:     cfg,
		engines: engines,
		specs:   specs,
		logger:  logging.NopLogger(),
		runID:   uuid.NewString(),
		stage:   StagePrepare,
		limits:  sweep.NewResolutionLimits(),
		model:   scaling.DefaultModel(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = event.NewBus(s.logger)
	}
	if s.cfg.MaxWorkers < 1 {
		s.cfg.MaxWorkers = 1
	}
	s.logger = s.logger.WithRun(s.runID)
	s.retries = newRetryBudget(cfg.MaxStageRetries)

	s.resolver = symmetry.NewResolver(engines.Symmetry, s.cfg.MaxWorkers, s.logger)
	s.builder = reference.NewBuilder(engines, s.resolver, s.logger)
	s.renumberer = batch.NewRenumberer(engines.Rebatch, engines.WorkDir, s.cfg.MaxWorkers, s.logger)
	s.selector = scaling.NewSelector(engines.Scale, scaling.WithLogger(s.logger))
	s.refiner = errormodel.NewRefiner(engines.Scale, s.logger)
	return s
}

// RunID identifies the run in logs and events.
func (s *Scaler) RunID() string { return s.runID }

// Stage returns the current stage.
func (s *Scaler) Stage() Stage { return s.stage }

// Prepared reports whether prepare has completed since the last restart.
func (s *Scaler) Prepared() bool { return s.stage > StagePrepare }

// Scaled reports whether the resolution limits have converged.
func (s *Scaler) Scaled() bool { return s.stage > StageScale }

// Finished reports whether the run is done.
func (s *Scaler) Finished() bool { return s.stage == StageDone }

// History returns every transition so far.
func (s *Scaler) History() []Transition {
	return append([]Transition(nil), s.history...)
}

// Retries returns how often stage has been re-entered.
func (s *Scaler) Retries(stage Stage) int {
	return s.retries.count(stage)
}

// Run advances the state machine until it is done or a fatal error occurs.
func (s *Scaler) Run(ctx context.Context) (*Result, error) {
	s.logger.Info("scaling run started", "sweeps", len(s.specs))

	for !s.Finished() {
		if err := ctx.Err(); err != nil {
			return s.fail(err)
		}
		if err := s.advance(ctx); err != nil {
			return s.fail(err)
		}
	}

	s.result.History = s.History()
	s.logger.Info("scaling run complete",
		"lattice", s.result.Lattice,
		"spacegroup", s.result.Spacegroup,
		"transitions", len(s.history),
	)
	s.bus.Publish(event.NewRunCompletedEvent(s.runID, true, ""))
	return s.result, nil
}

func (s *Scaler) fail(err error) (*Result, error) {
	s.logger.Error("scaling run failed",
		"stage", s.stage.String(),
		"error", err.Error(),
		"severity", errors.GetSeverity(err).String(),
	)
	s.bus.Publish(event.NewRunCompletedEvent(s.runID, false, err.Error()))
	return nil, err
}

// advance runs the current stage's handler and moves to the stage it
// returns.
func (s *Scaler) advance(ctx context.Context) error {
	from := s.stage
	log := s.logger.WithStage(from.String())

	var (
		next   Stage
		reason string
		err    error
	)
	switch from {
	case StagePrepare:
		next, reason, err = s.prepare(ctx, log)
	case StageScale:
		next, reason, err = s.scale(ctx, log)
	case StageFinish:
		next, reason, err = s.finish(ctx, log)
	default:
		return fmt.Errorf("cannot advance from stage %s", from)
	}
	if err != nil {
		return err
	}

	retry := next <= from
	if retry && !s.retries.record(next, reason) {
		log.Error("retry budget exhausted", "stages", fmt.Sprint(s.retries.exhausted()), "reason", reason)
		return errors.Wrapf(errors.ErrNoConvergence, "stage %s re-entered %d times (last: %s)",
			next, s.retries.count(next), reason)
	}

	s.history = append(s.history, Transition{
		From:      from,
		To:        next,
		Timestamp: time.Now(),
		Reason:    reason,
		Retry:     retry,
	})
	s.stage = next

	if retry {
		log.Info("stage retry", "next", next.String(), "reason", reason, "retries", s.retries.count(next))
	} else {
		log.Info("stage complete", "next", next.String())
	}
	s.bus.Publish(event.NewStageChangedEvent(s.runID, from.String(), next.String(), retry, reason))
	return nil
}
