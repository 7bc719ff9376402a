package engine

import (
	"context"

	"github.com/xia2/xia2-sub002/internal/lattice"
)

// FileProbe reads header metadata from a reflection file. It fails with a
// FormatError when the file is not a reflection container.
type FileProbe interface {
	Probe(ctx context.Context, path string) (Header, error)
}

// SymmetryEngine ranks candidate lattices and picks the best point group and
// reindexing operator for unmerged data, optionally against a reference.
type SymmetryEngine interface {
	Decide(ctx context.Context, req SymmetryRequest) (SymmetryResult, error)
}

// ReindexEngine applies a spacegroup and/or reindexing operator. It fails
// with ErrReindex when the operator is incompatible with the data.
type ReindexEngine interface {
	Reindex(ctx context.Context, req ReindexRequest) (string, error)
}

// RebatchEngine renumbers a file's batches to start at firstBatch and
// returns the new inclusive batch range.
type RebatchEngine interface {
	Renumber(ctx context.Context, input, output string, firstBatch int) (first, last int, err error)
}

// SortEngine combines and sorts unmerged files into one.
type SortEngine interface {
	Sort(ctx context.Context, inputs []string, output string) (string, error)
}

// ScaleEngine scales and merges sorted unmerged data.
type ScaleEngine interface {
	Scale(ctx context.Context, req ScaleRequest) (ScaleResult, error)
}

// TruncateEngine converts merged intensities to amplitudes.
type TruncateEngine interface {
	ToAmplitudes(ctx context.Context, input, output string, anomalous bool) (TruncateResult, error)
}

// MergeEngine combines merged files and flags a free-R test set.
type MergeEngine interface {
	// Cad merges datasets into one file, optionally imposing a common cell.
	Cad(ctx context.Context, inputs []string, output string, cell *lattice.Cell) (string, error)

	// AddFreeFlag marks a random fraction of reflections as the free set.
	AddFreeFlag(ctx context.Context, input, output string, fraction float64) (string, error)
}

// Set bundles one implementation of every engine capability together with
// the working directory their outputs are written to.
type Set struct {
	WorkDir  string
	Probe    FileProbe
	Symmetry SymmetryEngine
	Reindex  ReindexEngine
	Rebatch  RebatchEngine
	Sort     SortEngine
	Scale    ScaleEngine
	Truncate TruncateEngine
	Merge    MergeEngine
}
