package scaling

import (
	"context"
	"fmt"
	"testing"

	"github.com/xia2/xia2-sub002/internal/engine"
)

// scriptedScale returns Rmerge and cycles per enabled correction.
type scriptedScale struct {
	scores map[string][2]float64 // "none", "absorption", ... -> {rmerge, cycles}
	reqs   []engine.ScaleRequest
	err    error
}

func (s *scriptedScale) Scale(_ context.Context, req engine.ScaleRequest) (engine.ScaleResult, error) {
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return engine.ScaleResult{}, s.err
	}

	key := "none"
	switch {
	case req.Corrections.Absorption:
		key = "absorption"
	case req.Corrections.Partiality:
		key = "partiality"
	case req.Corrections.Decay:
		key = "decay"
	}
	score := s.scores[key]
	return engine.ScaleResult{
		MergedFile:        req.Prefix + "_scaled.mtz",
		ConvergenceCycles: score[1],
		Datasets: []engine.DatasetResult{
			{Dataset: "NATIVE", Stats: map[string][]float64{engine.StatRmerge: {score[0]}}},
		},
	}, nil
}

func TestNewSelector_Defaults(t *testing.T) {
	s := NewSelector(&scriptedScale{})
	if s.rmergeTolerance != defaultRmergeTolerance {
		t.Errorf("rmergeTolerance = %v, want %v", s.rmergeTolerance, defaultRmergeTolerance)
	}
	if s.cycleTolerance != defaultCycleTolerance {
		t.Errorf("cycleTolerance = %v, want %v", s.cycleTolerance, defaultCycleTolerance)
	}
}

func TestNewSelector_Options(t *testing.T) {
	s := NewSelector(&scriptedScale{}, WithRmergeTolerance(0.1), WithCycleTolerance(3))
	if s.rmergeTolerance != 0.1 {
		t.Errorf("rmergeTolerance = %v, want 0.1", s.rmergeTolerance)
	}
	if s.cycleTolerance != 3 {
		t.Errorf("cycleTolerance = %v, want 3", s.cycleTolerance)
	}
}

func TestSelector_Select(t *testing.T) {
	tests := []struct {
		name   string
		scores map[string][2]float64
		want   engine.Corrections
	}{
		{
			name: "all corrections help",
			scores: map[string][2]float64{
				"none": {0.060, 6}, "absorption": {0.050, 5}, "partiality": {0.055, 6}, "decay": {0.058, 7},
			},
			want: engine.Corrections{Absorption: true, Partiality: true, Decay: true},
		},
		{
			name: "rmerge just inside three percent",
			scores: map[string][2]float64{
				"none": {0.100, 6}, "absorption": {0.1029, 6}, "partiality": {0.1031, 6}, "decay": {0.100, 6},
			},
			want: engine.Corrections{Absorption: true, Decay: true},
		},
		{
			name: "convergence slowed by more than one cycle",
			scores: map[string][2]float64{
				"none": {0.060, 6}, "absorption": {0.050, 7}, "partiality": {0.050, 7.5}, "decay": {0.050, 10},
			},
			want: engine.Corrections{Absorption: true},
		},
		{
			name: "nothing helps",
			scores: map[string][2]float64{
				"none": {0.040, 4}, "absorption": {0.080, 4}, "partiality": {0.050, 4}, "decay": {0.040, 9},
			},
			want: engine.Corrections{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &scriptedScale{scores: tt.scores}
			d, err := NewSelector(eng).Select(context.Background(), engine.ScaleRequest{
				Input:       "sorted.mtz",
				Prefix:      "/w/scale",
				Corrections: engine.Corrections{Absorption: true, Decay: true},
			})
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if d.Corrections != tt.want {
				t.Errorf("Select() = %+v, want %+v", d.Corrections, tt.want)
			}
			if len(eng.reqs) != 4 {
				t.Errorf("scale runs = %d, want 4 (baseline + one per correction)", len(eng.reqs))
			}
			if eng.reqs[0].Corrections != (engine.Corrections{}) {
				t.Errorf("baseline ran with corrections %+v", eng.reqs[0].Corrections)
			}
		})
	}
}

func TestSelector_BoundedAcceptance(t *testing.T) {
	// Every accepted trial must stay within both bounds of the baseline.
	for i := 0; i < 50; i++ {
		base := 0.05 + float64(i%7)*0.01
		scores := map[string][2]float64{
			"none":       {base, 5},
			"absorption": {base * (1 + float64(i%5)*0.01), 5 + float64(i%3)*0.5},
			"partiality": {base * (1 + float64(i%11)*0.005), 5 + float64(i%4)},
			"decay":      {base * 0.9, 5 + float64(i%6)*0.4},
		}
		eng := &scriptedScale{scores: scores}
		d, err := NewSelector(eng).Select(context.Background(), engine.ScaleRequest{})
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		for _, trial := range d.Trials {
			if !trial.Accepted {
				continue
			}
			if trial.Rmerge > d.Baseline.Rmerge*1.03 {
				t.Errorf("case %d: accepted %s with Rmerge %v over baseline %v", i, trial.Correction, trial.Rmerge, d.Baseline.Rmerge)
			}
			if trial.Cycles > d.Baseline.Cycles+1.0 {
				t.Errorf("case %d: accepted %s with %v cycles over baseline %v", i, trial.Correction, trial.Cycles, d.Baseline.Cycles)
			}
		}
	}
}

func TestSelector_TrialPrefixes(t *testing.T) {
	eng := &scriptedScale{scores: map[string][2]float64{}}
	if _, err := NewSelector(eng).Select(context.Background(), engine.ScaleRequest{Prefix: "/w/scale"}); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	seen := make(map[string]bool)
	for _, r := range eng.reqs {
		if seen[r.Prefix] {
			t.Errorf("prefix %s reused; trial outputs would collide", r.Prefix)
		}
		seen[r.Prefix] = true
	}
	if !seen["/w/scale_model_baseline"] || !seen["/w/scale_model_decay"] {
		t.Errorf("unexpected prefixes: %v", seen)
	}
}

func TestSelector_EngineError(t *testing.T) {
	eng := &scriptedScale{err: fmt.Errorf("boom")}
	if _, err := NewSelector(eng).Select(context.Background(), engine.ScaleRequest{}); err == nil {
		t.Fatal("Select() expected error")
	}
}

func TestCorrectionModel_FrozenOnce(t *testing.T) {
	m := DefaultModel()
	if m.SD != engine.DefaultSDParams() {
		t.Errorf("DefaultModel SD = %+v", m.SD)
	}
	if !m.SetCorrections(engine.Corrections{Absorption: true}) {
		t.Fatal("first SetCorrections() refused")
	}
	if m.SetCorrections(engine.Corrections{Decay: true}) {
		t.Error("second SetCorrections() accepted")
	}
	if !m.Corrections.Absorption || m.Corrections.Decay {
		t.Errorf("corrections changed after freeze: %+v", m.Corrections)
	}
	if m.SDFrozen() {
		t.Error("SD frozen before SetSD")
	}
	m.SetSD(engine.SDParams{AddFull: 0.05})
	if m.SetSD(engine.SDParams{}) || m.SD.AddFull != 0.05 {
		t.Errorf("SD changed after freeze: %+v", m.SD)
	}
}
