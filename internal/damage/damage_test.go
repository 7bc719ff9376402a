package damage

import (
	"math"
	"testing"

	"github.com/xia2/xia2-sub002/internal/engine"
	"github.com/xia2/xia2-sub002/internal/sweep"
)

func record(name string, wavelength, rate float64, first, last, offset int) *sweep.Record {
	r := sweep.NewRecord(sweep.Spec{
		Name:       name,
		Wavelength: wavelength,
		Dose:       sweep.Dose{PerImage: rate},
	})
	r.SetHeader(name+".mtz", engine.Header{FirstBatch: first, LastBatch: last})
	r.Batches = sweep.BatchRange{First: first + offset, Last: last + offset}
	r.BatchOffset = offset
	return r
}

func TestGroup(t *testing.T) {
	recs := []*sweep.Record{
		record("A", 0.98, 1.0, 1, 10, 0),
		record("B", 0.98, 1.4, 1, 10, 100),
		record("C", 0.98, 1.5, 1, 10, 200),
		record("D", 0.98, 0, 1, 10, 300),
		record("E", 0.98, 2.1, 1, 10, 400),
	}

	groups := Group(recs)
	var got [][]string
	for _, g := range groups {
		var names []string
		for _, r := range g {
			names = append(names, r.Name)
		}
		got = append(got, names)
	}

	// 1.4 is within sqrt(2) of 1.0; 1.5 is not and starts a group that 2.1
	// joins (2.1 < 1.5*sqrt(2)). D has no dose information.
	want := [][]string{{"A", "B"}, {"C", "E"}}
	if len(got) != len(want) {
		t.Fatalf("Group() = %v, want %v", got, want)
	}
	for i := range want {
		if len(got[i]) != len(want[i]) {
			t.Fatalf("Group() = %v, want %v", got, want)
		}
		for j := range want[i] {
			if got[i][j] != want[i][j] {
				t.Errorf("Group() = %v, want %v", got, want)
			}
		}
	}
}

func TestCurve_UsesBatchOffset(t *testing.T) {
	r := record("SWEEP2", 0.98, 0.5, 1, 4, 1000)
	r.Dose.Start = 10

	stats := []engine.BatchStat{
		{Batch: 1003, Rmerge: 0.3},
		{Batch: 1001, Rmerge: 0.1},
		{Batch: 7, Rmerge: 9},
	}
	points := Curve([]*sweep.Record{r}, stats)
	if len(points) != 2 {
		t.Fatalf("Curve() returned %d points, want 2", len(points))
	}
	if points[0].Dose != 10.5 || points[1].Dose != 11.5 {
		t.Errorf("doses = %v, %v, want 10.5, 11.5", points[0].Dose, points[1].Dose)
	}
	if points[0].Rmerge != 0.1 {
		t.Error("points not sorted by dose")
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		x, y    []float64
		damaged bool
	}{
		{
			name:    "perfect linear increase",
			x:       []float64{1, 2, 3, 4, 5},
			y:       []float64{0.1, 0.2, 0.3, 0.4, 0.5},
			damaged: true,
		},
		{
			name:    "strong trend with small noise",
			x:       []float64{1, 2, 3, 4, 5},
			y:       []float64{0.10, 0.21, 0.30, 0.41, 0.50},
			damaged: true,
		},
		{
			name:    "noise without trend",
			x:       []float64{1, 2, 3, 4, 5, 6},
			y:       []float64{0.1, 0.3, 0.1, 0.3, 0.1, 0.3},
			damaged: false,
		},
		{
			name:    "flat",
			x:       []float64{1, 2, 3},
			y:       []float64{0.2, 0.2, 0.2},
			damaged: false,
		},
		{
			name:    "too few points",
			x:       []float64{1, 2},
			y:       []float64{0.1, 0.9},
			damaged: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.x, tt.y)
			if (got > SignificantScore) != tt.damaged {
				t.Errorf("Score() = %v, damaged want %v", got, tt.damaged)
			}
		})
	}
}

func TestDoseCutoff(t *testing.T) {
	var points []Point
	for i := 1; i <= 20; i++ {
		p := Point{Dose: float64(i), Completeness: float64(i) / 10, Scp: 1.0}
		if i%2 == 0 {
			p.Scp = 1.1
		}
		points = append(points, p)
	}
	// Completeness reaches 0.5 at dose 5 and 0.9 at dose 9.
	points[14].Scp = 1.9 // dose 15

	got, ok := DoseCutoff(points)
	if !ok || got != 15 {
		t.Errorf("DoseCutoff() = %v, %v, want 15, true", got, ok)
	}

	points[14].Scp = 1.0
	if _, ok := DoseCutoff(points); ok {
		t.Error("DoseCutoff() flagged a cutoff for stable Scp")
	}

	if _, ok := DoseCutoff(points[:3]); ok {
		t.Error("DoseCutoff() without reaching 90% completeness should report no cutoff")
	}
}

func TestAnalyze(t *testing.T) {
	damaged := record("PEAK", 0.979, 1.0, 1, 20, 0)
	stable := record("REMOTE", 0.900, 1.1, 1, 20, 100)

	var stats []engine.BatchStat
	for i := 1; i <= 20; i++ {
		stats = append(stats,
			engine.BatchStat{Batch: i, Completeness: float64(i) / 20, Rmerge: 0.05 + 0.01*float64(i), Scp: 1},
			engine.BatchStat{Batch: 100 + i, Completeness: float64(i) / 20, Rmerge: 0.05 + 0.02*float64(i%2), Scp: 1},
		)
	}

	findings := Analyze([]*sweep.Record{damaged, stable}, stats)
	if len(findings) != 2 {
		t.Fatalf("Analyze() returned %d findings, want 2", len(findings))
	}
	for _, f := range findings {
		if f.Group != 0 {
			t.Errorf("%v in group %d, want one group", f.Sweeps, f.Group)
		}
		switch f.Sweeps[0] {
		case "PEAK":
			if !f.Damaged || !math.IsInf(f.Score, 1) {
				t.Errorf("PEAK finding = %+v, want damaged", f)
			}
		case "REMOTE":
			if f.Damaged {
				t.Errorf("REMOTE finding = %+v, want undamaged", f)
			}
		}
	}

	if got := Analyze([]*sweep.Record{record("X", 1, 0, 1, 10, 0)}, stats); len(got) != 0 {
		t.Errorf("Analyze() without dose information = %v, want none", got)
	}
}
