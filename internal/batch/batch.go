// Package batch assigns globally unique batch ranges to sweeps before they
// are merged.
package batch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sourcegraph/conc/pool"
	"github.com/xia2/xia2-sub002/internal/engine"
	"github.com/xia2/xia2-sub002/internal/errors"
	"github.com/xia2/xia2-sub002/internal/logging"
	"github.com/xia2/xia2-sub002/internal/sweep"
)

const defaultWorkers = 4

// MaxBatches returns the smallest power of ten strictly greater than the
// widest batch span among the records, and never less than 10.
func MaxBatches(records []*sweep.Record) int {
	widest := 0
	for _, r := range records {
		widest = max(widest, r.Batches.Span())
	}
	n := 10
	for n <= widest {
		n *= 10
	}
	return n
}

// Plan returns the new range for each record: record i starts at
// i*maxBatches + 1 and keeps its original span.
func Plan(records []*sweep.Record) []sweep.BatchRange {
	step := MaxBatches(records)
	out := make([]sweep.BatchRange, len(records))
	for i, r := range records {
		first := i*step + 1
		out[i] = sweep.BatchRange{First: first, Last: first + r.Batches.Span() - 1}
	}
	return out
}

// Renumberer moves each sweep's batches into its own decade block by driving
// the rebatch engine.
type Renumberer struct {
	engine  engine.RebatchEngine
	workDir string
	workers int
	logger  *logging.Logger
}

// NewRenumberer creates a Renumberer writing into workDir.
func NewRenumberer(eng engine.RebatchEngine, workDir string, workers int, logger *logging.Logger) *Renumberer {
	if workers < 1 {
		workers = defaultWorkers
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Renumberer{engine: eng, workDir: workDir, workers: workers, logger: logger}
}

type renumbered struct {
	file  string
	first int
	last  int
}

// Renumber rebatches every record in the given order, which must be epoch
// order, and updates each record in place with its new file, range and
// image-to-batch offset. Records are only modified once every sweep has been
// rebatched successfully.
func (r *Renumberer) Renumber(ctx context.Context, records []*sweep.Record) error {
	plan := Plan(records)
	results := make([]renumbered, len(records))

	p := pool.New().WithContext(ctx).WithMaxGoroutines(r.workers).WithCancelOnError().WithFirstError()
	for i, rec := range records {
		p.Go(func(ctx context.Context) error {
			out := filepath.Join(r.workDir, rec.Name+"_rebatched.mtz")
			first, last, err := r.engine.Renumber(ctx, rec.File, out, plan[i].First)
			if err != nil {
				return wrapSweep(err, rec.Name)
			}
			if first != plan[i].First || last-first+1 != rec.Batches.Span() {
				return errors.NewEngineError("rebatch", errors.ErrMissingToken).
					WithSweep(rec.Name).
					WithMessage(fmt.Sprintf("engine produced batches %d-%d, expected %s", first, last, plan[i]))
			}
			results[i] = renumbered{file: out, first: first, last: last}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}
	if err := checkDisjoint(records, results); err != nil {
		return err
	}

	for i, rec := range records {
		res := results[i]
		rec.BatchOffset = res.first - rec.Images.First
		rec.Batches = sweep.BatchRange{First: res.first, Last: res.last}
		rec.File = res.file
		r.logger.WithSweep(rec.Name).Debug("renumbered batches",
			"batches", rec.Batches.String(),
			"offset", rec.BatchOffset,
		)
	}
	return nil
}

// checkDisjoint fails when two rebatched sweeps share a batch number.
func checkDisjoint(records []*sweep.Record, results []renumbered) error {
	for i := range results {
		a := sweep.BatchRange{First: results[i].first, Last: results[i].last}
		for j := i + 1; j < len(results); j++ {
			b := sweep.BatchRange{First: results[j].first, Last: results[j].last}
			if a.Overlaps(b) {
				return errors.NewConsistencyError(
					fmt.Sprintf("batches %s overlap %s of sweep %s", a, b, records[j].Name),
					errors.ErrInvalidInput,
				).WithSweep(records[i].Name)
			}
		}
	}
	return nil
}

func wrapSweep(err error, name string) error {
	var engErr *errors.EngineError
	if errors.As(err, &engErr) && engErr.Sweep == "" {
		return engErr.WithSweep(name)
	}
	return err
}
