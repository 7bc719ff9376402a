// Package symmetry decides one consistent point group and lattice for a set
// of sweeps, negotiating with each sweep's upstream indexer.
package symmetry

import (
	"context"
	"fmt"
	"slices"

	"github.com/sourcegraph/conc/pool"
	"github.com/xia2/xia2-sub002/internal/engine"
	"github.com/xia2/xia2-sub002/internal/errors"
	"github.com/xia2/xia2-sub002/internal/lattice"
	"github.com/xia2/xia2-sub002/internal/logging"
	"github.com/xia2/xia2-sub002/internal/sweep"
)

const identityOp = "h,k,l"

// Candidate is the symmetry proposed for one sweep.
type Candidate struct {
	PointGroup string
	ReindexOp  string
	Lattice    string
	// Lattices are the lattices the data remains compatible with, highest
	// symmetry first.
	Lattices []string
}

// SweepDecision is the outcome of resolution for one sweep.
type SweepDecision struct {
	Sweep        string
	Candidate    Candidate
	Verdict      lattice.Verdict
	NeedToReturn bool
}

// Decision is the consistent outcome for a set of sweeps.
type Decision struct {
	Lattice    string
	PointGroup string
	Sweeps     []SweepDecision
}

// NeedToReturn lists the sweeps whose upstream processing must be repeated
// before the decision can be used.
func (d Decision) NeedToReturn() []string {
	var names []string
	for _, s := range d.Sweeps {
		if s.NeedToReturn {
			names = append(names, s.Sweep)
		}
	}
	return names
}

// Resolver runs the per-sweep symmetry search and cross-sweep
// reconciliation. Only the resolver asserts lattices or pushes reindexing
// operators upstream.
type Resolver struct {
	engine  engine.SymmetryEngine
	workers int
	logger  *logging.Logger
}

// NewResolver creates a Resolver that runs at most workers per-sweep
// searches concurrently.
func NewResolver(eng engine.SymmetryEngine, workers int, logger *logging.Logger) *Resolver {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Resolver{engine: eng, workers: workers, logger: logger}
}

// Resolve decides the symmetry of records, optionally against a reference
// reflection file. A non-empty userPointGroup replaces the search: each sweep
// is still asserted against its indexer but the engine is only consulted for
// the reindexing operator when a reference is given.
//
// A lattice that no sweep can accept is a fatal ConsistencyError.
func (r *Resolver) Resolve(ctx context.Context, records []*sweep.Record, reference, userPointGroup string) (Decision, error) {
	if len(records) == 0 {
		return Decision{}, fmt.Errorf("no sweeps to resolve")
	}

	decisions := make([]SweepDecision, len(records))
	p := pool.New().WithContext(ctx).WithMaxGoroutines(r.workers).WithCancelOnError().WithFirstError()
	for i, rec := range records {
		p.Go(func(ctx context.Context) error {
			d, err := r.resolveSweep(ctx, rec, reference, userPointGroup)
			if err != nil {
				return err
			}
			decisions[i] = d
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return Decision{}, err
	}

	decision := Decision{Sweeps: decisions}
	if len(records) > 1 {
		if err := r.reconcile(ctx, records, &decision); err != nil {
			return Decision{}, err
		}
	} else {
		decision.Lattice = decisions[0].Candidate.Lattice
		decision.PointGroup = decisions[0].Candidate.PointGroup
	}

	for i, rec := range records {
		d := decision.Sweeps[i]
		if err := rec.Source.SetReindexOperator(ctx, d.Candidate.ReindexOp); err != nil {
			return Decision{}, errors.Wrapf(err, "sweep %s: failed to set reindex operator", rec.Name)
		}
		rec.PointGroup = d.Candidate.PointGroup
		rec.ReindexOp = d.Candidate.ReindexOp
		rec.Lattice = d.Candidate.Lattice
		rec.NeedToReturn = d.NeedToReturn
	}
	return decision, nil
}

// resolveSweep searches for the best candidate the sweep's indexer accepts,
// eliminating every lattice the indexer reports impossible.
func (r *Resolver) resolveSweep(ctx context.Context, rec *sweep.Record, reference, userPointGroup string) (SweepDecision, error) {
	log := r.logger.WithSweep(rec.Name)
	batches := rec.SymmetryBatches()

	var exclude []string
	for {
		cand, err := r.candidate(ctx, rec, batches, reference, userPointGroup, exclude)
		if err != nil {
			return SweepDecision{}, err
		}

		verdict, err := rec.Source.AssertLattice(ctx, cand.Lattice)
		if err != nil {
			return SweepDecision{}, errors.Wrapf(err, "sweep %s: failed to assert lattice %s", rec.Name, cand.Lattice)
		}
		log.Debug("asserted lattice",
			"lattice", cand.Lattice,
			"point_group", cand.PointGroup,
			"verdict", verdict.String(),
		)

		switch verdict {
		case lattice.Correct, lattice.Possible:
			return SweepDecision{
				Sweep:        rec.Name,
				Candidate:    cand,
				Verdict:      verdict,
				NeedToReturn: verdict == lattice.Possible,
			}, nil
		}

		if userPointGroup != "" {
			return SweepDecision{}, errors.NewConsistencyError(
				fmt.Sprintf("point group %s (lattice %s) rejected by indexer", userPointGroup, cand.Lattice),
				errors.ErrLatticeImpossible,
			).WithSweep(rec.Name).WithDataset(rec.Key.Dataset)
		}
		if cand.Lattice == lattice.Triclinic || slices.Contains(exclude, cand.Lattice) {
			return SweepDecision{}, errors.NewConsistencyError(
				"indexer rejected every candidate lattice", errors.ErrNoCommonLattice,
			).WithSweep(rec.Name).WithDataset(rec.Key.Dataset)
		}
		exclude = append(exclude, cand.Lattice)
		log.Info("lattice eliminated", "lattice", cand.Lattice, "excluded", exclude)
	}
}

func (r *Resolver) candidate(ctx context.Context, rec *sweep.Record, batches sweep.BatchRange, reference, userPointGroup string, exclude []string) (Candidate, error) {
	if userPointGroup != "" && reference == "" {
		l, err := lattice.Of(userPointGroup)
		if err != nil {
			return Candidate{}, errors.Wrap(errors.ErrInvalidInput, err.Error())
		}
		return Candidate{
			PointGroup: userPointGroup,
			ReindexOp:  identityOp,
			Lattice:    l,
			Lattices:   lattice.Expand(l),
		}, nil
	}

	res, err := r.engine.Decide(ctx, engine.SymmetryRequest{
		File:       rec.File,
		FirstBatch: batches.First,
		LastBatch:  batches.Last,
		Reference:  reference,
		PointGroup: userPointGroup,
		Exclude:    exclude,
	})
	if err != nil {
		var engErr *errors.EngineError
		if errors.As(err, &engErr) && engErr.Sweep == "" {
			return Candidate{}, engErr.WithSweep(rec.Name)
		}
		return Candidate{}, err
	}

	l, err := lattice.Of(res.PointGroup)
	if err != nil {
		return Candidate{}, errors.NewEngineError("symmetry", errors.ErrMissingToken).
			WithSweep(rec.Name).
			WithMessage(err.Error())
	}
	lattices := res.Lattices
	if !slices.Contains(lattices, l) {
		lattices = append(lattices, l)
	}
	return Candidate{
		PointGroup: res.PointGroup,
		ReindexOp:  res.ReindexOp,
		Lattice:    l,
		Lattices:   lattice.Sort(lattices),
	}, nil
}

// reconcile picks the highest-symmetry lattice common to every sweep's
// candidate set and re-asserts it on every indexer. When the sweeps
// disagreed, every sweep must return, including those already indexed in
// the common lattice.
func (r *Resolver) reconcile(ctx context.Context, records []*sweep.Record, d *Decision) error {
	sets := make([][]string, len(d.Sweeps))
	for i, s := range d.Sweeps {
		sets[i] = s.Candidate.Lattices
	}

	agreed := true
	for _, s := range d.Sweeps[1:] {
		if s.Candidate.Lattice != d.Sweeps[0].Candidate.Lattice {
			agreed = false
		}
	}

	common := d.Sweeps[0].Candidate.Lattice
	if !agreed {
		var err error
		common, err = lattice.HighestCommon(sets)
		if err != nil {
			return errors.NewConsistencyError(err.Error(), errors.ErrNoCommonLattice)
		}
		r.logger.Info("sweeps disagree on lattice", "chosen", common)
	}
	d.Lattice = common

	for i, rec := range records {
		s := &d.Sweeps[i]
		verdict, err := rec.Source.AssertLattice(ctx, common)
		if err != nil {
			return errors.Wrapf(err, "sweep %s: failed to assert lattice %s", rec.Name, common)
		}
		if verdict == lattice.Impossible {
			return errors.NewConsistencyError(
				fmt.Sprintf("indexer rejected common lattice %s", common), errors.ErrNoCommonLattice,
			).WithSweep(rec.Name).WithDataset(rec.Key.Dataset)
		}
		if !agreed || verdict == lattice.Possible {
			s.NeedToReturn = true
		}
		s.Verdict = verdict
		if s.Candidate.Lattice != common {
			s.Candidate.Lattice = common
			s.Candidate.Lattices = lattice.Expand(common)
		}
	}

	for _, s := range d.Sweeps {
		if l, err := lattice.Of(s.Candidate.PointGroup); err == nil && l == common {
			d.PointGroup = s.Candidate.PointGroup
			break
		}
	}
	return nil
}
