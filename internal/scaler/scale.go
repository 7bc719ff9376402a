package scaler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xia2/xia2-sub002/internal/engine"
	"github.com/xia2/xia2-sub002/internal/event"
	"github.com/xia2/xia2-sub002/internal/logging"
	"github.com/xia2/xia2-sub002/internal/resolution"
)

// scale runs one scaling pass. The error model is refined after the first
// pass; afterwards each pass re-estimates the resolution limits until they
// stop changing.
func (s *Scaler) scale(ctx context.Context, log *logging.Logger) (Stage, string, error) {
	s.scalePass++
	req := s.scaleRequest(fmt.Sprintf("scale_%02d", s.scalePass))
	res, err := s.engines.Scale.Scale(ctx, req)
	if err != nil {
		return StageScale, "", err
	}

	if !s.model.SDFrozen() {
		req.Restore = res.ScalesFile
		sd, err := s.refiner.Refine(ctx, req, meanCompleteness(res), s.cfg.Quick)
		if err != nil {
			return StageScale, "", err
		}
		s.model.SetSD(sd)
		if sd != engine.DefaultSDParams() {
			return StageScale, "error model refined", nil
		}
	}

	if changed := s.updateLimits(res, log); len(changed) > 0 {
		return StageScale, "resolution limits changed: " + strings.Join(changed, ", "), nil
	}
	return StageFinish, "resolution limits converged", nil
}

// scaleRequest describes a scale of the sorted file with the current model
// and limits.
func (s *Scaler) scaleRequest(prefix string) engine.ScaleRequest {
	runs := make([]engine.Run, len(s.runs))
	copy(runs, s.runs)
	for i := range runs {
		if d, ok := s.limits.Get(runs[i].Dataset); ok {
			runs[i].Resolution = d
		}
	}
	return engine.ScaleRequest{
		Input:       s.sorted,
		Prefix:      filepath.Join(s.engines.WorkDir, prefix),
		Runs:        runs,
		Corrections: s.model.Corrections,
		SD:          s.model.SD,
		Anomalous:   s.cfg.Anomalous,
	}
}

// updateLimits estimates the limit of every dataset from res and returns
// the datasets whose accepted limit changed. Configured overrides win over
// the estimate. A dataset whose data never reaches the cutoff is left
// without a limit.
func (s *Scaler) updateLimits(res engine.ScaleResult, log *logging.Logger) []string {
	var changed []string
	for _, ds := range s.sweeps.Datasets() {
		dlog := log.WithDataset(ds)

		d, override := 0.0, false
		if s.cfg.ResolutionOverride != nil {
			d, override = s.cfg.ResolutionOverride(ds)
		}
		if !override {
			dr, ok := res.Dataset(ds)
			if !ok {
				dlog.Warn("scale result has no statistics for dataset")
				continue
			}
			var reached bool
			d, reached = resolution.Limit(dr.Shells, s.cfg.IsigmaCutoff)
			if !reached {
				dlog.Warn("no shell reaches the I/sigma cutoff; resolution not limited",
					"cutoff", s.cfg.IsigmaCutoff)
				continue
			}
		}

		previous, _ := s.limits.Get(ds)
		if s.limits.Set(ds, d) {
			dlog.Info("resolution limit changed", "previous", previous, "current", d, "override", override)
			s.bus.Publish(event.NewResolutionChangedEvent(ds, previous, d, override))
			changed = append(changed, ds)
		}
	}
	return changed
}

// meanCompleteness averages the overall completeness of every dataset.
func meanCompleteness(res engine.ScaleResult) float64 {
	var sum float64
	var n int
	for _, d := range res.Datasets {
		if v := d.Stats[engine.StatCompleteness]; len(v) > 0 {
			sum += v[0]
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
