// Package errormodel refines the error-model parameters that inflate
// measured sigmas so they agree with the observed scatter of equivalent
// reflections.
//
// The refinement is a sequential coordinate descent: sdadd is searched with
// sdb fixed at zero, then sdb with the best sdadd fixed, then sdadd once more
// with the best sdb. Full and partial reflections are scored independently
// and each gets its own optimum from the same trials.
package errormodel

import (
	"context"
	"fmt"
	"math"

	"github.com/xia2/xia2-sub002/internal/engine"
	"github.com/xia2/xia2-sub002/internal/logging"
)

// MinCompleteness is the overall completeness, in percent, below which the
// error model is not refined.
const MinCompleteness = 50.0

// Grid is a 1-D search range.
type Grid struct {
	Min, Max, Step float64
}

// Values returns the grid points from Min to Max inclusive.
func (g Grid) Values() []float64 {
	n := int(math.Round((g.Max - g.Min) / g.Step))
	out := make([]float64, 0, n+1)
	for i := 0; i <= n; i++ {
		v := g.Min + float64(i)*g.Step
		out = append(out, math.Round(v*1e6)/1e6)
	}
	return out
}

var (
	sdaddGrid = Grid{Min: 0.0, Max: 0.1, Step: 0.01}
	sdbGrid   = Grid{Min: 0.0, Max: 20.0, Step: 2.0}
)

// Score is the count-weighted RMS of (sigma ratio - 1) for full and partial
// reflections, with the number of reflections behind each.
type Score struct {
	Full     float64
	Partial  float64
	FullN    int
	PartialN int
}

// worse reports whether every category measured in both s and prev scored
// worse in s. It is false when no category was measured.
func (s Score) worse(prev Score) bool {
	full := s.FullN > 0 && prev.FullN > 0
	partial := s.PartialN > 0 && prev.PartialN > 0
	if !full && !partial {
		return false
	}
	return (!full || s.Full > prev.Full) && (!partial || s.Partial > prev.Partial)
}

// Evaluate scores a sigma-versus-intensity table. A category with no
// reflections scores zero and has a zero count.
func Evaluate(bins []engine.SDBin) Score {
	var fullSum, partialSum float64
	var fullN, partialN int
	for _, b := range bins {
		fullSum += float64(b.FullCount) * (b.FullRatio - 1) * (b.FullRatio - 1)
		fullN += b.FullCount
		partialSum += float64(b.PartialCount) * (b.PartialRatio - 1) * (b.PartialRatio - 1)
		partialN += b.PartialCount
	}

	s := Score{FullN: fullN, PartialN: partialN}
	if fullN > 0 {
		s.Full = math.Sqrt(fullSum / float64(fullN))
	}
	if partialN > 0 {
		s.Partial = math.Sqrt(partialSum / float64(partialN))
	}
	return s
}

// Skip reports whether refinement is skipped and defaults are used instead.
func Skip(completeness float64, quick bool) bool {
	return quick || completeness < MinCompleteness
}

// Refiner searches the error-model parameters by repeatedly scaling.
type Refiner struct {
	engine engine.ScaleEngine
	logger *logging.Logger
}

// NewRefiner creates a Refiner.
func NewRefiner(eng engine.ScaleEngine, logger *logging.Logger) *Refiner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Refiner{engine: eng, logger: logger}
}

// param reads and writes the full and partial values of one parameter.
type param struct {
	get func(p engine.SDParams) (full, partial float64)
	set func(p engine.SDParams, full, partial float64) engine.SDParams
}

var (
	sdadd = param{
		get: func(p engine.SDParams) (float64, float64) { return p.AddFull, p.AddPartial },
		set: func(p engine.SDParams, full, partial float64) engine.SDParams {
			p.AddFull, p.AddPartial = full, partial
			return p
		},
	}
	sdb = param{
		get: func(p engine.SDParams) (float64, float64) { return p.BFull, p.BPartial },
		set: func(p engine.SDParams, full, partial float64) engine.SDParams {
			p.BFull, p.BPartial = full, partial
			return p
		},
	}
)

// Refine returns the refined parameters for the prepared scaling request,
// or the defaults when Skip applies. Setting prepared.Restore to the scales
// of a previous run avoids refining the scales in every trial.
func (r *Refiner) Refine(ctx context.Context, prepared engine.ScaleRequest, completeness float64, quick bool) (engine.SDParams, error) {
	if Skip(completeness, quick) {
		r.logger.Info("error model not refined; using defaults",
			"completeness", completeness,
			"quick", quick,
		)
		return engine.DefaultSDParams(), nil
	}

	passes := []struct {
		name  string
		grid  Grid
		param param
	}{
		{"sdadd", sdaddGrid, sdadd},
		{"sdb", sdbGrid, sdb},
		{"sdadd2", sdaddGrid, sdadd},
	}

	// A category without reflections keeps its default value.
	params := engine.DefaultSDParams()
	for _, pass := range passes {
		var err error
		params, err = r.search(ctx, prepared, params, pass.name, pass.grid, pass.param)
		if err != nil {
			return engine.SDParams{}, err
		}
		r.logger.Debug("error model pass complete", "pass", pass.name, "params", fmt.Sprintf("%+v", params))
	}

	r.logger.Info("error model refined",
		"sdadd_full", params.AddFull,
		"sdb_full", params.BFull,
		"sdadd_partial", params.AddPartial,
		"sdb_partial", params.BPartial,
	)
	return params, nil
}

// search walks one grid, keeping the best value for full and partial
// reflections independently. It stops as soon as every measured category
// scores worse than in the previous trial. A category never measured keeps
// its value from params.
func (r *Refiner) search(ctx context.Context, prepared engine.ScaleRequest, params engine.SDParams, name string, grid Grid, prm param) (engine.SDParams, error) {
	bestFull, bestPartial := math.Inf(1), math.Inf(1)
	bestFullValue, bestPartialValue := prm.get(params)
	var prev *Score

	for i, v := range grid.Values() {
		req := prepared
		req.SD = prm.set(params, v, v)
		req.Prefix = fmt.Sprintf("%s_%s_%02d", prepared.Prefix, name, i)

		res, err := r.engine.Scale(ctx, req)
		if err != nil {
			return engine.SDParams{}, err
		}
		score := Evaluate(res.SDBins)

		if score.FullN > 0 && score.Full < bestFull {
			bestFull, bestFullValue = score.Full, v
		}
		if score.PartialN > 0 && score.Partial < bestPartial {
			bestPartial, bestPartialValue = score.Partial, v
		}
		if prev != nil && score.worse(*prev) {
			break
		}
		prev = &score
	}
	return prm.set(params, bestFullValue, bestPartialValue), nil
}
