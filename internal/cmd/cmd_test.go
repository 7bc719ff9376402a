package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/xia2/xia2-sub002/internal/config"
	"github.com/xia2/xia2-sub002/internal/damage"
	"github.com/xia2/xia2-sub002/internal/engine"
	"github.com/xia2/xia2-sub002/internal/errors"
	"github.com/xia2/xia2-sub002/internal/event"
	"github.com/xia2/xia2-sub002/internal/report"
	"github.com/xia2/xia2-sub002/internal/scaler"
	"github.com/xia2/xia2-sub002/internal/scaling"
	"github.com/xia2/xia2-sub002/internal/sweep"
	"github.com/xia2/xia2-sub002/internal/testutil"
	"gopkg.in/yaml.v3"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err = root.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "xscale" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "xscale")
	}

	expectedCmds := []string{"scale", "resolution", "probe", "config"}
	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, expected := range expectedCmds {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}
}

func TestReadShells(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"valid", "shells:\n  - {resolution: 3.0, i_sigma: 12}\n  - {resolution: 2.0, i_sigma: 1}\n", 2, false},
		{"empty table", "shells: []\n", 0, true},
		{"zero resolution", "shells:\n  - {resolution: 0, i_sigma: 12}\n", 0, true},
		{"not yaml", "shells: [\n", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shells, err := readShells(strings.NewReader(tt.input))
			if tt.wantErr {
				if !errors.Is(err, errors.ErrInvalidInput) {
					t.Errorf("readShells() error = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("readShells() error = %v", err)
			}
			if len(shells) != tt.want {
				t.Errorf("got %d shells, want %d", len(shells), tt.want)
			}
		})
	}
}

func TestResolutionCommand(t *testing.T) {
	table := `shells:
  - {resolution: 3.0, i_sigma: 12.0}
  - {resolution: 2.5, i_sigma: 6.0}
  - {resolution: 2.0, i_sigma: 2.0}
  - {resolution: 1.8, i_sigma: 0.5}
`
	path := testutil.WriteFile(t, t.TempDir(), "shells.yaml", table)

	output, err := executeCommand(rootCmd, "resolution", path, "--cutoff", "1.0")
	if err != nil {
		t.Fatalf("resolution command error = %v\n%s", err, output)
	}
	if !strings.Contains(output, "1.87 Å") {
		t.Errorf("output = %q, want the interpolated limit 1.87 Å", output)
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Engines.Scale = config.EngineCommand{Command: "aimless", Args: []string{"--json"}}

	got := engineConfig(cfg, "/tmp/work")
	if got.WorkDir != "/tmp/work" {
		t.Errorf("WorkDir = %q", got.WorkDir)
	}
	if got.Scale.Name != "aimless" || len(got.Scale.Args) != 1 || got.Scale.Args[0] != "--json" {
		t.Errorf("Scale = %+v", got.Scale)
	}
	if got.Probe.Name != "xscale-probe" {
		t.Errorf("Probe = %+v", got.Probe)
	}
}

func TestWorkingDir(t *testing.T) {
	cfg := config.Default()
	dir, err := workingDir(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(dir) || filepath.Base(dir) != defaultWorkDir {
		t.Errorf("default working dir = %q", dir)
	}

	cfg.Scaler.WorkingDir = "/data/run1"
	if dir, _ := workingDir(cfg); dir != "/data/run1" {
		t.Errorf("configured working dir = %q", dir)
	}
}

func testResult() *scaler.Result {
	key := sweep.Key{Project: "AUTOMATIC", Crystal: "DEFAULT", Dataset: "NATIVE"}
	stats := report.New()
	stats.Add(key, map[string][]float64{engine.StatHighResolution: {1.87, 30, 1.87}})

	model := scaling.DefaultModel()
	model.SetCorrections(engine.Corrections{Absorption: true})
	return &scaler.Result{
		RunID:      "run-1",
		Lattice:    "tP",
		PointGroup: "P422",
		Spacegroup: "P 43 21 2",
		Model:      model,
		Limits:     map[string]float64{"NATIVE": 1.8667},
		MergedFile: "/w/final_scaled.mtz",
		Truncated:  map[string]string{"NATIVE": "/w/NATIVE_truncated.mtz", "SAD": "/w/SAD_truncated.mtz"},
		FreeFile:   "/w/free.mtz",
		Statistics: stats,
		Damage: []damage.Finding{
			{Group: 0, Wavelength: 0.9795, Sweeps: []string{"SWEEP1"}, Score: 4.2, Damaged: true, DoseCutoff: 15, HasCutoff: true},
		},
		History: []scaler.Transition{{From: scaler.StagePrepare, To: scaler.StageScale}},
	}
}

func TestSummary(t *testing.T) {
	got := summary(testResult())
	for _, want := range []string{
		"Lattice:      tP",
		"Spacegroup:   P 43 21 2",
		"absorption=true partiality=false decay=false",
		"Dataset NATIVE   1.87 Å -> /w/NATIVE_truncated.mtz",
		"Dataset SAD      not limited -> /w/SAD_truncated.mtz",
		"radiation damage detected, score 4.20, suggested dose cutoff 15.00",
		"Free-R:       /w/free.mtz",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
	// Datasets are listed alphabetically.
	if strings.Index(got, "NATIVE") > strings.Index(got, "Dataset SAD") {
		t.Error("datasets not sorted")
	}
}

func TestWriteResult(t *testing.T) {
	var buf bytes.Buffer
	if err := writeResult(&buf, testResult()); err != nil {
		t.Fatalf("writeResult() error = %v", err)
	}

	var doc struct {
		Lattice string `yaml:"lattice"`
		Model   struct {
			Corrections engine.Corrections `yaml:"corrections"`
		} `yaml:"model"`
		Limits     map[string]float64 `yaml:"resolution_limits"`
		Statistics report.Statistics  `yaml:"statistics"`
		History    []struct {
			From string `yaml:"from"`
			To   string `yaml:"to"`
		} `yaml:"history"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("result is not valid YAML: %v\n%s", err, buf.String())
	}
	if doc.Lattice != "tP" || !doc.Model.Corrections.Absorption {
		t.Errorf("decoded = %+v", doc)
	}
	if doc.Limits["NATIVE"] != 1.8667 {
		t.Errorf("limits = %v", doc.Limits)
	}
	if len(doc.Statistics.Entries) != 1 {
		t.Errorf("statistics entries = %d, want 1", len(doc.Statistics.Entries))
	}
	if len(doc.History) != 1 || doc.History[0].From != "prepare" || doc.History[0].To != "scale" {
		t.Errorf("history = %+v, want stage names", doc.History)
	}
}

func TestExportResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.yaml")
	if err := exportResult(path, testResult()); err != nil {
		t.Fatalf("exportResult() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "run_id: run-1") {
		t.Errorf("export missing run id:\n%s", data)
	}
}

func TestProgressLine(t *testing.T) {
	p := progress{styled: false}
	tests := []struct {
		name  string
		event event.Event
		want  string
	}{
		{
			"stage complete",
			event.NewStageChangedEvent("r", "prepare", "scale", false, "sweeps prepared"),
			"stage prepare complete",
		},
		{
			"retry",
			event.NewStageChangedEvent("r", "scale", "scale", true, "error model refined"),
			"retry scale -> scale: error model refined",
		},
		{
			"reprocess",
			event.NewSweepReprocessEvent("SWEEP2", "oP"),
			"reprocess sweep SWEEP2 must be reprocessed in lattice oP",
		},
		{
			"resolution",
			event.NewResolutionChangedEvent("NATIVE", 0, 1.5, true),
			"resolution NATIVE: 1.50 Å (configured)",
		},
		{
			"model",
			event.NewModelSelectedEvent(true, false, true, true),
			"corrections: absorption, decay",
		},
		{
			"default model",
			event.NewModelSelectedEvent(false, false, false, false),
			"corrections: none",
		},
		{
			"damage",
			event.NewDamageFindingEvent(0, 0.98, []string{"A", "B"}, 5, true, 0, false),
			"warning radiation damage in A, B (score 5.00)",
		},
		{
			"no damage is quiet",
			event.NewDamageFindingEvent(0, 0.98, []string{"A"}, 1, false, 0, false),
			"",
		},
		{
			"run completion is quiet",
			event.NewRunCompletedEvent("r", true, ""),
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.line(tt.event); got != tt.want {
				t.Errorf("line() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSubscribeProgress(t *testing.T) {
	var buf bytes.Buffer
	bus := event.NewBus(nil)
	detach := subscribeProgress(bus, &buf)

	bus.Publish(event.NewStageChangedEvent("r", "finish", "done", false, "finished"))
	if got := buf.String(); got != "stage finish complete\n" {
		t.Errorf("output = %q", got)
	}

	detach()
	bus.Publish(event.NewStageChangedEvent("r", "prepare", "scale", false, "sweeps prepared"))
	if got := buf.String(); got != "stage finish complete\n" {
		t.Errorf("output after detach = %q", got)
	}
}
