package testutil

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/xia2/xia2-sub002/internal/engine"
	"github.com/xia2/xia2-sub002/internal/errors"
	"github.com/xia2/xia2-sub002/internal/lattice"
)

// Engines is an in-memory implementation of every engine capability. Files
// are never written; each step remembers the header of the file it
// "produced" so that later probes see consistent metadata.
//
// Behaviour can be scripted per test through the exported fields and
// function hooks. All methods are safe for concurrent use.
type Engines struct {
	mu sync.Mutex

	// Headers maps file path to the header Probe returns for it.
	Headers map[string]engine.Header
	// BadFormat lists files Probe rejects with a FormatError.
	BadFormat map[string]bool
	// PointGroups maps an input file to the point groups the symmetry
	// engine ranks for it, most likely first.
	PointGroups map[string][]string
	// ScaleFunc, when set, replaces the default scale behaviour.
	ScaleFunc func(call int, req engine.ScaleRequest) (engine.ScaleResult, error)
	// Shells are the per-shell statistics of the default scale result.
	Shells []engine.Shell
	// BatchStats are returned with every default scale result.
	BatchStats []engine.BatchStat

	calls            map[string]int
	symmetryRequests []engine.SymmetryRequest
	scaleRequests    []engine.ScaleRequest
	reindexRequests  []engine.ReindexRequest
}

// NewEngines creates fake engines with no scripted behaviour.
func NewEngines() *Engines {
	return &Engines{
		Headers:     make(map[string]engine.Header),
		BadFormat:   make(map[string]bool),
		PointGroups: make(map[string][]string),
		Shells: []engine.Shell{
			{Resolution: 3.0, SignalToNoise: 12.0},
			{Resolution: 2.5, SignalToNoise: 6.0},
			{Resolution: 2.0, SignalToNoise: 2.0},
			{Resolution: 1.8, SignalToNoise: 0.5},
		},
		calls: make(map[string]int),
	}
}

// Set returns an engine set backed by e.
func (e *Engines) Set(workDir string) *engine.Set {
	return &engine.Set{
		WorkDir:  workDir,
		Probe:    e,
		Symmetry: e,
		Reindex:  e,
		Rebatch:  e,
		Sort:     e,
		Scale:    e,
		Truncate: e,
		Merge:    e,
	}
}

// Calls returns how often the named capability was invoked: probe,
// symmetry, reindex, rebatch, sort, scale, truncate, cad or freerflag.
func (e *Engines) Calls(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[name]
}

// ScaleRequests returns every scale request in call order.
func (e *Engines) ScaleRequests() []engine.ScaleRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.ScaleRequest(nil), e.scaleRequests...)
}

// SymmetryRequests returns every symmetry request in call order.
func (e *Engines) SymmetryRequests() []engine.SymmetryRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.SymmetryRequest(nil), e.symmetryRequests...)
}

// ReindexRequests returns every reindex request in call order.
func (e *Engines) ReindexRequests() []engine.ReindexRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.ReindexRequest(nil), e.reindexRequests...)
}

func (e *Engines) count(name string) int {
	e.calls[name]++
	return e.calls[name]
}

func (e *Engines) Probe(_ context.Context, path string) (engine.Header, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count("probe")

	if e.BadFormat[path] {
		return engine.Header{}, errors.NewFormatError(path, errors.ErrWrongFormat)
	}
	h, ok := e.Headers[path]
	if !ok {
		return engine.Header{}, errors.NewEngineError("probe", errors.ErrMissingToken).
			WithMessage("no such file " + path)
	}
	return h, nil
}

func (e *Engines) Decide(_ context.Context, req engine.SymmetryRequest) (engine.SymmetryResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count("symmetry")
	e.symmetryRequests = append(e.symmetryRequests, req)

	if req.PointGroup != "" {
		l, err := lattice.Of(req.PointGroup)
		if err != nil {
			return engine.SymmetryResult{}, err
		}
		return engine.SymmetryResult{
			PointGroup: req.PointGroup,
			ReindexOp:  "h,k,l",
			Lattices:   lattice.Expand(l),
			Confidence: 1,
		}, nil
	}

	ranked := e.PointGroups[req.File]
	if len(ranked) == 0 {
		ranked = []string{"P 1"}
	}
	for _, pg := range ranked {
		l, err := lattice.Of(pg)
		if err != nil {
			return engine.SymmetryResult{}, err
		}
		if slices.Contains(req.Exclude, l) {
			continue
		}
		var lattices []string
		for _, other := range ranked {
			ol, _ := lattice.Of(other)
			if !slices.Contains(req.Exclude, ol) && !slices.Contains(lattices, ol) {
				lattices = append(lattices, ol)
			}
		}
		return engine.SymmetryResult{
			PointGroup: pg,
			ReindexOp:  "h,k,l",
			Lattices:   lattice.Sort(lattices),
			Confidence: 0.9,
		}, nil
	}
	return engine.SymmetryResult{PointGroup: "P 1", ReindexOp: "h,k,l", Lattices: []string{lattice.Triclinic}}, nil
}

func (e *Engines) Reindex(_ context.Context, req engine.ReindexRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count("reindex")
	e.reindexRequests = append(e.reindexRequests, req)

	h := e.Headers[req.Input]
	if req.Spacegroup != "" {
		h.Spacegroup = req.Spacegroup
	}
	e.Headers[req.Output] = h
	return req.Output, nil
}

func (e *Engines) Renumber(_ context.Context, input, output string, firstBatch int) (int, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count("rebatch")

	h := e.Headers[input]
	span := h.LastBatch - h.FirstBatch
	h.FirstBatch = firstBatch
	h.LastBatch = firstBatch + span
	e.Headers[output] = h
	return h.FirstBatch, h.LastBatch, nil
}

func (e *Engines) Sort(_ context.Context, inputs []string, output string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count("sort")

	if len(inputs) > 0 {
		e.Headers[output] = e.Headers[inputs[0]]
	}
	return output, nil
}

func (e *Engines) Scale(_ context.Context, req engine.ScaleRequest) (engine.ScaleResult, error) {
	e.mu.Lock()
	n := e.count("scale")
	e.scaleRequests = append(e.scaleRequests, req)
	fn := e.ScaleFunc
	e.mu.Unlock()

	var res engine.ScaleResult
	if fn != nil {
		var err error
		if res, err = fn(n, req); err != nil {
			return engine.ScaleResult{}, err
		}
	} else {
		res = e.DefaultScaleResult(req)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.Headers[req.Input]
	e.Headers[res.MergedFile] = h
	for _, ds := range res.Datasets {
		if ds.MergedFile != "" {
			e.Headers[ds.MergedFile] = h
		}
	}
	return res, nil
}

// DefaultScaleResult builds the result the fake returns without a ScaleFunc:
// one dataset entry per distinct run dataset with the configured shells.
func (e *Engines) DefaultScaleResult(req engine.ScaleRequest) engine.ScaleResult {
	res := engine.ScaleResult{
		MergedFile:        req.Prefix + "_scaled.mtz",
		UnmergedFile:      req.Prefix + "_unmerged.mtz",
		ScalesFile:        req.Prefix + ".scales",
		ConvergenceCycles: 5,
		BatchStats:        e.BatchStats,
		SDBins: []engine.SDBin{
			{Resolution: 3.0, FullCount: 100, FullRatio: 1.0, PartialCount: 100, PartialRatio: 1.0},
		},
	}
	seen := make(map[string]bool)
	for _, run := range req.Runs {
		if seen[run.Dataset] {
			continue
		}
		seen[run.Dataset] = true
		res.Datasets = append(res.Datasets, engine.DatasetResult{
			Dataset:    run.Dataset,
			MergedFile: req.Prefix + "_" + strings.ToLower(run.Dataset) + "_scaled.mtz",
			Stats: map[string][]float64{
				engine.StatHighResolution: {1.8, 5.0, 1.8},
				engine.StatCompleteness:   {99.0, 99.5, 97.0},
				engine.StatMultiplicity:   {6.5, 6.2, 6.0},
				engine.StatRmerge:         {0.05, 0.03, 0.6},
			},
			Shells: e.Shells,
		})
	}
	return res
}

func (e *Engines) ToAmplitudes(_ context.Context, _, output string, _ bool) (engine.TruncateResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count("truncate")
	return engine.TruncateResult{File: output, WilsonB: 22.5}, nil
}

func (e *Engines) Cad(_ context.Context, _ []string, output string, _ *lattice.Cell) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count("cad")
	return output, nil
}

func (e *Engines) AddFreeFlag(_ context.Context, _, output string, _ float64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count("freerflag")
	return output, nil
}

// AddSweepFile registers an integrated reflection file below dir and returns
// its path.
func (e *Engines) AddSweepFile(dir, name, spacegroup string, cell lattice.Cell, first, last int, pointGroups ...string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	path := filepath.Join(dir, name+"_INTEGRATE.mtz")
	e.Headers[path] = engine.Header{
		Format:         "mtz",
		Spacegroup:     spacegroup,
		Cell:           cell,
		ResolutionLow:  40.0,
		ResolutionHigh: 1.5,
		FirstBatch:     first,
		LastBatch:      last,
	}
	if len(pointGroups) > 0 {
		e.PointGroups[path] = pointGroups
	}
	return path
}
