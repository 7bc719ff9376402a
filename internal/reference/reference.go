// Package reference builds and checks the reference data set every sweep is
// indexed against when more than one sweep is scaled.
package reference

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/xia2/xia2-sub002/internal/engine"
	"github.com/xia2/xia2-sub002/internal/errors"
	"github.com/xia2/xia2-sub002/internal/lattice"
	"github.com/xia2/xia2-sub002/internal/logging"
	"github.com/xia2/xia2-sub002/internal/sweep"
	"github.com/xia2/xia2-sub002/internal/symmetry"
)

// DefaultCellTolerance is the allowed fractional deviation of each cell
// parameter from the reference.
const DefaultCellTolerance = 0.10

// Reference is a merged reflection file with known symmetry and cell.
type Reference struct {
	File       string
	PointGroup string
	Spacegroup string
	Lattice    string
	Cell       lattice.Cell
}

// Load describes an externally supplied reference file.
func Load(ctx context.Context, probe engine.FileProbe, path string) (Reference, error) {
	h, err := probe.Probe(ctx, path)
	if err != nil {
		return Reference{}, err
	}
	sg, ok := lattice.LookupSpacegroup(h.Spacegroup)
	if !ok {
		return Reference{}, errors.NewFormatError(path, fmt.Errorf("unknown spacegroup %q", h.Spacegroup))
	}
	return Reference{
		File:       path,
		PointGroup: sg.PointGroup,
		Spacegroup: sg.Name,
		Lattice:    sg.Lattice,
		Cell:       h.Cell,
	}, nil
}

// Builder produces a quick-merged reference from a single sweep.
type Builder struct {
	engines  *engine.Set
	resolver *symmetry.Resolver
	logger   *logging.Logger
}

// NewBuilder creates a Builder that writes into the engine set's working
// directory.
func NewBuilder(engines *engine.Set, resolver *symmetry.Resolver, logger *logging.Logger) *Builder {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Builder{engines: engines, resolver: resolver, logger: logger}
}

// Build decides the symmetry of first, reindexes and sorts it, and runs one
// unrefined scaling cycle. It reports needToReturn when the sweep's upstream
// processing must be repeated before a reference can be built.
func (b *Builder) Build(ctx context.Context, first *sweep.Record, spacegroup, pointGroup string) (ref Reference, needToReturn bool, err error) {
	log := b.logger.WithSweep(first.Name)

	decision, err := b.resolver.Resolve(ctx, []*sweep.Record{first}, "", pointGroup)
	if err != nil {
		return Reference{}, false, err
	}
	if len(decision.NeedToReturn()) > 0 {
		log.Info("reference sweep must be reprocessed", "lattice", decision.Lattice)
		return Reference{}, true, nil
	}

	if spacegroup == "" {
		spacegroup = decision.PointGroup
	}
	reindexed, err := b.engines.Reindex.Reindex(ctx, engine.ReindexRequest{
		Input:      first.File,
		Output:     filepath.Join(b.engines.WorkDir, "reference_reindexed.mtz"),
		Spacegroup: spacegroup,
		Operator:   first.ReindexOp,
	})
	if err != nil {
		return Reference{}, false, err
	}

	sorted, err := b.engines.Sort.Sort(ctx, []string{reindexed}, filepath.Join(b.engines.WorkDir, "reference_sorted.mtz"))
	if err != nil {
		return Reference{}, false, err
	}

	res, err := b.engines.Scale.Scale(ctx, engine.ScaleRequest{
		Input:  sorted,
		Prefix: filepath.Join(b.engines.WorkDir, "reference"),
		Runs: []engine.Run{{
			Sweep:      first.Name,
			Dataset:    first.Key.Dataset,
			FirstBatch: first.Batches.First,
			LastBatch:  first.Batches.Last,
		}},
		SD:    engine.DefaultSDParams(),
		Quick: true,
	})
	if err != nil {
		return Reference{}, false, err
	}

	h, err := b.engines.Probe.Probe(ctx, res.MergedFile)
	if err != nil {
		return Reference{}, false, err
	}

	ref = Reference{
		File:       res.MergedFile,
		PointGroup: decision.PointGroup,
		Spacegroup: h.Spacegroup,
		Lattice:    decision.Lattice,
		Cell:       h.Cell,
	}
	log.Info("built reference", "file", ref.File, "lattice", ref.Lattice, "cell", ref.Cell.String())
	return ref, false, nil
}

// CheckConsistent verifies that a reindexed sweep has the reference lattice
// and a cell within tolerance of the reference cell.
func CheckConsistent(ref Reference, rec *sweep.Record, tolerance float64) error {
	l, err := lattice.Of(rec.Header.Spacegroup)
	if err != nil {
		l = rec.Lattice
	}
	if l != ref.Lattice {
		return errors.NewConsistencyError(
			fmt.Sprintf("lattice %s differs from reference %s", l, ref.Lattice),
			errors.ErrLatticeMismatch,
		).WithSweep(rec.Name).WithDataset(rec.Key.Dataset)
	}
	if detail, ok := rec.Header.Cell.Compare(ref.Cell, tolerance); !ok {
		return errors.NewConsistencyError(
			"cell differs from reference: "+detail,
			errors.ErrCellMismatch,
		).WithSweep(rec.Name).WithDataset(rec.Key.Dataset)
	}
	return nil
}
