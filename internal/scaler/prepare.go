package scaler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"github.com/xia2/xia2-sub002/internal/engine"
	"github.com/xia2/xia2-sub002/internal/errors"
	"github.com/xia2/xia2-sub002/internal/event"
	"github.com/xia2/xia2-sub002/internal/lattice"
	"github.com/xia2/xia2-sub002/internal/logging"
	"github.com/xia2/xia2-sub002/internal/reference"
	"github.com/xia2/xia2-sub002/internal/sweep"
)

// prepare rebuilds the sweep records from scratch and brings them to a
// single sorted, consistently indexed and renumbered file.
func (s *Scaler) prepare(ctx context.Context, log *logging.Logger) (Stage, string, error) {
	if err := checkNames(s.specs); err != nil {
		return StagePrepare, "", err
	}

	sweeps, err := s.loadSweeps(ctx)
	if err != nil {
		return StagePrepare, "", err
	}
	s.sweeps = sweeps
	s.reference = nil

	userPointGroup := ""
	if s.cfg.Spacegroup != "" {
		userPointGroup, err = lattice.PointGroupOf(s.cfg.Spacegroup)
		if err != nil {
			return StagePrepare, "", errors.Wrapf(errors.ErrInvalidInput, "spacegroup %q: %v", s.cfg.Spacegroup, err)
		}
	}

	ordered := sweeps.ByEpoch()
	switch {
	case s.cfg.ReferenceFile != "":
		ref, err := reference.Load(ctx, s.engines.Probe, s.cfg.ReferenceFile)
		if err != nil {
			return StagePrepare, "", err
		}
		s.reference = &ref
	case sweeps.Len() > 1:
		ref, needToReturn, err := s.builder.Build(ctx, ordered[0], s.cfg.Spacegroup, userPointGroup)
		if err != nil {
			return StagePrepare, "", err
		}
		if needToReturn {
			s.publishReprocess(ordered[0])
			return StagePrepare, fmt.Sprintf("reference sweep %s must be reprocessed", ordered[0].Name), nil
		}
		s.reference = &ref
	}

	refFile := ""
	if s.reference != nil {
		refFile = s.reference.File
	}
	decision, err := s.resolver.Resolve(ctx, sweeps.Records(), refFile, userPointGroup)
	if err != nil {
		return StagePrepare, "", err
	}
	if names := decision.NeedToReturn(); len(names) > 0 {
		for _, name := range names {
			rec, _ := sweeps.Get(name)
			s.publishReprocess(rec)
		}
		return StagePrepare, fmt.Sprintf("sweeps must be reprocessed in lattice %s: %s",
			decision.Lattice, strings.Join(names, ", ")), nil
	}
	s.decision = decision
	log.Info("symmetry decided", "lattice", decision.Lattice, "point_group", decision.PointGroup)

	spacegroup := s.cfg.Spacegroup
	if spacegroup == "" {
		spacegroup = decision.PointGroup
	}
	for _, rec := range sweeps.Records() {
		if err := s.reindex(ctx, rec, spacegroup); err != nil {
			return StagePrepare, "", err
		}
	}

	if err := s.renumberer.Renumber(ctx, ordered); err != nil {
		return StagePrepare, "", err
	}

	inputs := make([]string, len(ordered))
	s.runs = make([]engine.Run, len(ordered))
	for i, rec := range ordered {
		inputs[i] = rec.File
		s.runs[i] = engine.Run{
			Sweep:      rec.Name,
			Dataset:    rec.Key.Dataset,
			FirstBatch: rec.Batches.First,
			LastBatch:  rec.Batches.Last,
		}
	}
	s.sorted, err = s.engines.Sort.Sort(ctx, inputs, filepath.Join(s.engines.WorkDir, "sorted.mtz"))
	if err != nil {
		return StagePrepare, "", err
	}

	if err := s.selectModel(ctx, log); err != nil {
		return StagePrepare, "", err
	}
	return StageScale, "sweeps prepared", nil
}

// checkNames requires every sweep to belong to the same project and crystal.
func checkNames(specs []sweep.Spec) error {
	if len(specs) == 0 {
		return errors.Wrap(errors.ErrInvalidInput, "no sweeps to scale")
	}
	first := specs[0].Key
	for _, spec := range specs[1:] {
		if spec.Key.Project != first.Project || spec.Key.Crystal != first.Crystal {
			return errors.NewConsistencyError(
				fmt.Sprintf("sweep belongs to %s/%s, expected %s/%s",
					spec.Key.Project, spec.Key.Crystal, first.Project, first.Crystal),
				errors.ErrNameMismatch,
			).WithSweep(spec.Name).WithDataset(spec.Key.Dataset)
		}
	}
	return nil
}

// loadSweeps fetches and probes every sweep's reflection file.
func (s *Scaler) loadSweeps(ctx context.Context) (*sweep.Collection, error) {
	records := make([]*sweep.Record, len(s.specs))

	p := pool.New().WithContext(ctx).WithMaxGoroutines(s.cfg.MaxWorkers).WithCancelOnError().WithFirstError()
	for i, spec := range s.specs {
		p.Go(func(ctx context.Context) error {
			file, err := spec.Source.ReflectionFile(ctx)
			if err != nil {
				return errors.Wrapf(err, "sweep %s: failed to fetch reflection file", spec.Name)
			}
			h, err := s.engines.Probe.Probe(ctx, file)
			if err != nil {
				return withSweep(err, spec.Name)
			}
			rec := sweep.NewRecord(spec)
			rec.SetHeader(file, h)
			records[i] = rec
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	c := sweep.NewCollection()
	for _, rec := range records {
		if err := c.Add(rec); err != nil {
			return nil, errors.Wrap(errors.ErrInvalidInput, err.Error())
		}
	}
	return c, nil
}

// reindex applies the decided spacegroup and the sweep's operator, then
// checks the result against the reference.
func (s *Scaler) reindex(ctx context.Context, rec *sweep.Record, spacegroup string) error {
	out, err := s.engines.Reindex.Reindex(ctx, engine.ReindexRequest{
		Input:      rec.File,
		Output:     filepath.Join(s.engines.WorkDir, rec.Name+"_reindexed.mtz"),
		Spacegroup: spacegroup,
		Operator:   rec.ReindexOp,
	})
	if err != nil {
		return withSweep(err, rec.Name)
	}
	h, err := s.engines.Probe.Probe(ctx, out)
	if err != nil {
		return withSweep(err, rec.Name)
	}
	rec.SetHeader(out, h)

	if s.reference != nil {
		tol := s.cfg.CellTolerance
		if tol <= 0 {
			tol = reference.DefaultCellTolerance
		}
		if err := reference.CheckConsistent(*s.reference, rec, tol); err != nil {
			return err
		}
	}
	return nil
}

// selectModel fixes the correction terms the first time prepare completes.
func (s *Scaler) selectModel(ctx context.Context, log *logging.Logger) error {
	if s.model.CorrectionsFrozen() {
		return nil
	}

	var corrections engine.Corrections
	if s.cfg.SmartScaling {
		decision, err := s.selector.Select(ctx, s.scaleRequest("select"))
		if err != nil {
			return err
		}
		s.selection = &decision
		corrections = decision.Corrections
	}
	s.model.SetCorrections(corrections)

	log.Info("scaling model fixed",
		"absorption", corrections.Absorption,
		"partiality", corrections.Partiality,
		"decay", corrections.Decay,
		"searched", s.cfg.SmartScaling,
	)
	s.bus.Publish(event.NewModelSelectedEvent(corrections.Absorption, corrections.Partiality, corrections.Decay, s.cfg.SmartScaling))
	return nil
}

func (s *Scaler) publishReprocess(rec *sweep.Record) {
	if rec == nil {
		return
	}
	s.logger.WithSweep(rec.Name).Info("sweep must be reprocessed", "lattice", rec.Lattice)
	s.bus.Publish(event.NewSweepReprocessEvent(rec.Name, rec.Lattice))
}

func withSweep(err error, name string) error {
	var engErr *errors.EngineError
	if errors.As(err, &engErr) && engErr.Sweep == "" {
		return engErr.WithSweep(name)
	}
	return err
}
