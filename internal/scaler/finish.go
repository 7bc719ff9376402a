package scaler

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/xia2/xia2-sub002/internal/damage"
	"github.com/xia2/xia2-sub002/internal/engine"
	"github.com/xia2/xia2-sub002/internal/errors"
	"github.com/xia2/xia2-sub002/internal/event"
	"github.com/xia2/xia2-sub002/internal/lattice"
	"github.com/xia2/xia2-sub002/internal/logging"
	"github.com/xia2/xia2-sub002/internal/report"
	"github.com/xia2/xia2-sub002/internal/sweep"
)

// finish runs the final scale with the converged limits, converts each
// dataset to amplitudes, merges them with a free-R set and publishes the
// statistics.
func (s *Scaler) finish(ctx context.Context, log *logging.Logger) (Stage, string, error) {
	res, err := s.engines.Scale.Scale(ctx, s.scaleRequest("final"))
	if err != nil {
		return StageFinish, "", err
	}
	if changed := s.updateLimits(res, log); len(changed) > 0 {
		return StageScale, "resolution limits changed in final scale: " + strings.Join(changed, ", "), nil
	}

	stats := report.New()
	truncated := make(map[string]string)
	var files []string
	for _, ds := range s.sweeps.Datasets() {
		key := s.datasetKey(ds)
		dlog := log.WithDataset(ds)

		merged := res.MergedFile
		dr, ok := res.Dataset(ds)
		if ok && dr.MergedFile != "" {
			merged = dr.MergedFile
		}
		if ok {
			stats.Add(key, dr.Stats)
		} else {
			dlog.Warn("statistics unavailable",
				"error", errors.NewInputMissingError("merging statistics").WithDataset(ds).Error())
		}

		tr, err := s.engines.Truncate.ToAmplitudes(ctx, merged,
			filepath.Join(s.engines.WorkDir, ds+"_truncated.mtz"), s.cfg.Anomalous)
		if err != nil {
			return StageFinish, "", err
		}
		if ok {
			// Only fails for unknown keys, which Add just created.
			_ = stats.SetWilsonB(key, tr.WilsonB)
		}
		truncated[ds] = tr.File
		files = append(files, tr.File)
		dlog.Info("truncated", "file", tr.File, "wilson_b", tr.WilsonB)
	}

	var cell *lattice.Cell
	if s.reference != nil {
		c := s.reference.Cell
		cell = &c
	}
	cad, err := s.engines.Merge.Cad(ctx, files, filepath.Join(s.engines.WorkDir, "cad.mtz"), cell)
	if err != nil {
		return StageFinish, "", err
	}
	free, err := s.engines.Merge.AddFreeFlag(ctx, cad, filepath.Join(s.engines.WorkDir, "free.mtz"), s.cfg.FreeFraction)
	if err != nil {
		return StageFinish, "", err
	}

	findings := s.analyzeDamage(res, log)

	spacegroup := s.cfg.Spacegroup
	if spacegroup == "" {
		spacegroup = s.decision.PointGroup
	}
	limits := make(map[string]float64, s.limits.Len())
	for _, ds := range s.limits.Datasets() {
		limits[ds], _ = s.limits.Get(ds)
	}
	s.result = &Result{
		RunID:        s.runID,
		Lattice:      s.decision.Lattice,
		PointGroup:   s.decision.PointGroup,
		Spacegroup:   spacegroup,
		Model:        s.model,
		Selection:    s.selection,
		Limits:       limits,
		MergedFile:   res.MergedFile,
		UnmergedFile: res.UnmergedFile,
		Truncated:    truncated,
		FreeFile:     free,
		Statistics:   stats,
		Damage:       findings,
	}
	return StageDone, "finished", nil
}

// analyzeDamage runs the radiation damage analysis when the sweeps carry
// dose information and the scale engine reported per-batch statistics.
func (s *Scaler) analyzeDamage(res engine.ScaleResult, log *logging.Logger) []damage.Finding {
	records := s.sweeps.ByEpoch()
	dosed := false
	for _, rec := range records {
		if rec.Dose.Known() {
			dosed = true
			break
		}
	}

	var missing *errors.InputMissingError
	switch {
	case !dosed:
		missing = errors.NewInputMissingError("dose per image")
	case len(res.BatchStats) == 0:
		missing = errors.NewInputMissingError("per-batch statistics")
	}
	if missing != nil {
		log.Warn("radiation damage analysis skipped", "error", missing.Error())
		return nil
	}

	findings := damage.Analyze(records, res.BatchStats)
	for _, f := range findings {
		log.Info("radiation damage analysis",
			"group", f.Group,
			"wavelength", f.Wavelength,
			"sweeps", f.Sweeps,
			"score", f.Score,
			"damaged", f.Damaged,
		)
		s.bus.Publish(event.NewDamageFindingEvent(f.Group, f.Wavelength, f.Sweeps, f.Score, f.Damaged, f.DoseCutoff, f.HasCutoff))
	}
	return findings
}

// datasetKey returns the identity of the first sweep in dataset.
func (s *Scaler) datasetKey(dataset string) sweep.Key {
	for _, rec := range s.sweeps.Records() {
		if rec.Key.Dataset == dataset {
			return rec.Key
		}
	}
	return sweep.Key{Dataset: dataset}
}
