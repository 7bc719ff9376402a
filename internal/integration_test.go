// Package internal contains integration tests that verify the packages work
// together: a manifest drives a full scaling run against scripted engines
// and the published statistics survive a YAML round trip.
package internal

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/xia2/xia2-sub002/internal/config"
	"github.com/xia2/xia2-sub002/internal/engine"
	"github.com/xia2/xia2-sub002/internal/event"
	"github.com/xia2/xia2-sub002/internal/lattice"
	"github.com/xia2/xia2-sub002/internal/logging"
	"github.com/xia2/xia2-sub002/internal/manifest"
	"github.com/xia2/xia2-sub002/internal/report"
	"github.com/xia2/xia2-sub002/internal/scaler"
	"github.com/xia2/xia2-sub002/internal/sweep"
	"github.com/xia2/xia2-sub002/internal/testutil"
)

var cell = lattice.Cell{78.1, 78.1, 37.2, 90, 90, 90}

// madManifest describes a two-wavelength experiment on one crystal.
const madManifest = `
project: LYSO
crystal: X1
sweeps:
  - name: PEAK1
    dataset: PEAK
    file: PEAK1_INTEGRATE.mtz
    lattice: tP
    epoch: 1
    wavelength: 0.9795
    phi_per_image: 1.0
    dose: {per_image: 0.1}
  - name: REMOTE1
    dataset: REMOTE
    file: REMOTE1_INTEGRATE.mtz
    lattice: tP
    epoch: 2
    wavelength: 0.9000
    phi_per_image: 1.0
    dose: {per_image: 0.1}
`

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) handle(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.EventType())
	}
	return out
}

func setupRun(t *testing.T) (string, *testutil.Engines, []sweep.Spec) {
	t.Helper()
	dir := t.TempDir()

	engines := testutil.NewEngines()
	for _, name := range []string{"PEAK1", "REMOTE1"} {
		engines.AddSweepFile(dir, name, "P 41 21 2", cell, 1, 90, "P 4 2 2")
	}
	// Sweeps are renumbered to 1-90 and 101-190.
	for _, first := range []int{1, 101} {
		for i := 0; i < 90; i++ {
			engines.BatchStats = append(engines.BatchStats, engine.BatchStat{
				Batch:        first + i,
				Completeness: float64(i+1) / 90,
				Rmerge:       0.04,
				Scp:          1,
			})
		}
	}

	path := testutil.WriteFile(t, dir, "sweeps.yaml", madManifest)
	m, err := manifest.Load(path)
	if err != nil {
		t.Fatalf("manifest.Load() error = %v", err)
	}
	return dir, engines, m.Specs()
}

func TestScalingRunFromManifest(t *testing.T) {
	dir, engines, specs := setupRun(t)

	cfg := config.Default()
	cfg.Scaler.Quick = true
	cfg.Scaler.ResolutionOverrides = map[string]float64{"remote*": 2.2}

	var logBuf bytes.Buffer
	logger := logging.NewWriterLogger(&logBuf, logging.LevelDebug)
	bus := event.NewBus(logger)
	rec := &recorder{}
	bus.SubscribeAll(rec.handle)

	s := scaler.New(engines.Set(dir), specs, scaler.ConfigFrom(&cfg.Scaler),
		scaler.WithLogger(logger),
		scaler.WithBus(bus),
	)
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v\nlog:\n%s", err, logBuf.String())
	}

	if res.Lattice != "tP" || res.PointGroup != "P 4 2 2" {
		t.Errorf("symmetry = %s %s", res.Lattice, res.PointGroup)
	}

	// The override is matched case-insensitively; PEAK is estimated.
	if res.Limits["REMOTE"] != 2.2 {
		t.Errorf("REMOTE limit = %v, want the configured 2.2", res.Limits["REMOTE"])
	}
	if d := res.Limits["PEAK"]; d <= 1.8 || d >= 2.0 {
		t.Errorf("PEAK limit = %v, want an estimate between 1.8 and 2.0", d)
	}

	// Both sweeps were merged into one free-R flagged file with one
	// amplitude file per dataset.
	if len(res.Truncated) != 2 || res.FreeFile != filepath.Join(dir, "free.mtz") {
		t.Errorf("outputs = %v %q", res.Truncated, res.FreeFile)
	}
	if n := engines.Calls("cad"); n != 1 {
		t.Errorf("cad ran %d times, want 1", n)
	}

	// Same dose rate, two wavelengths: one group, two findings, no damage
	// from a flat Rmerge.
	if len(res.Damage) != 2 {
		t.Fatalf("findings = %+v, want one per wavelength", res.Damage)
	}
	for _, f := range res.Damage {
		if f.Damaged || f.Group != 0 {
			t.Errorf("finding = %+v, want undamaged group 0", f)
		}
	}

	types := rec.types()
	for _, want := range []string{
		event.TypeStageChanged,
		event.TypeModelSelected,
		event.TypeResolutionChanged,
		event.TypeDamageFinding,
		event.TypeRunCompleted,
	} {
		if !slices.Contains(types, want) {
			t.Errorf("no %s event published", want)
		}
	}
	if types[len(types)-1] != event.TypeRunCompleted {
		t.Errorf("last event = %s, want run.completed", types[len(types)-1])
	}

	if !bytes.Contains(logBuf.Bytes(), []byte(`"run_id":"`+s.RunID()+`"`)) {
		t.Error("log lines are not tagged with the run id")
	}
}

func TestStatisticsRoundTrip(t *testing.T) {
	dir, engines, specs := setupRun(t)

	cfg := scaler.DefaultConfig()
	cfg.Quick = true
	res, err := scaler.New(engines.Set(dir), specs, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var buf bytes.Buffer
	if err := res.Statistics.WriteYAML(&buf); err != nil {
		t.Fatalf("WriteYAML() error = %v", err)
	}
	back, err := report.ReadYAML(&buf)
	if err != nil {
		t.Fatalf("ReadYAML() error = %v", err)
	}

	for _, ds := range []string{"PEAK", "REMOTE"} {
		key := sweep.Key{Project: "LYSO", Crystal: "X1", Dataset: ds}
		entry, ok := back.Get(key)
		if !ok {
			t.Fatalf("no statistics for %s", ds)
		}
		b, ok := entry.Metric(engine.StatWilsonB)
		if !ok || len(b) != 1 || b[0] != 22.5 {
			t.Errorf("%s Wilson B = %v", ds, b)
		}
		if c, _ := entry.Metric(engine.StatCompleteness); len(c) != 3 {
			t.Errorf("%s completeness = %v, want overall/low/high", ds, c)
		}
	}

	table := back.Table(false)
	if !bytes.Contains([]byte(table), []byte(fmt.Sprintf("\t%s\t%s", "PEAK", "REMOTE"))) {
		t.Errorf("table header missing datasets:\n%s", table)
	}
}
