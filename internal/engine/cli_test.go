package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xia2/xia2-sub002/internal/errors"
	"github.com/xia2/xia2-sub002/internal/lattice"
	"gopkg.in/yaml.v3"
)

// scriptedExecutor replies to each command name with canned output.
type scriptedExecutor struct {
	replies map[string]string
	fail    map[string]error
	stdin   map[string][]byte
	dirs    []string
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{
		replies: make(map[string]string),
		fail:    make(map[string]error),
		stdin:   make(map[string][]byte),
	}
}

func (s *scriptedExecutor) Run(_ context.Context, dir string, stdin []byte, name string, _ ...string) ([]byte, error) {
	s.dirs = append(s.dirs, dir)
	s.stdin[name] = stdin
	if err, ok := s.fail[name]; ok {
		return []byte("partial"), err
	}
	return []byte(s.replies[name]), nil
}

func testConfig(dir string) Config {
	return Config{
		WorkDir:  dir,
		Probe:    Command{Name: "probe"},
		Symmetry: Command{Name: "symmetry"},
		Reindex:  Command{Name: "reindex"},
		Rebatch:  Command{Name: "rebatch"},
		Sort:     Command{Name: "sort"},
		Scale:    Command{Name: "scale"},
		Truncate: Command{Name: "truncate"},
		Merge:    Command{Name: "merge"},
	}
}

func buildSet(t *testing.T, exec *scriptedExecutor) *Set {
	t.Helper()
	set, err := NewBuilder(testConfig(t.TempDir())).WithExecutor(exec).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return set
}

func TestBuilder_MissingCommands(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Scale.Name = ""
	cfg.Merge.Name = " "

	_, err := NewBuilder(cfg).Build()
	if err == nil {
		t.Fatal("Build() expected error for missing commands")
	}
	if !strings.Contains(err.Error(), "scale, merge") {
		t.Errorf("error = %q, should name scale and merge", err)
	}
}

func TestBuilder_RequiresWorkDir(t *testing.T) {
	cfg := testConfig("")
	if _, err := NewBuilder(cfg).Build(); err == nil {
		t.Fatal("Build() expected error for empty working directory")
	}
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		wantFormat bool
		wantToken  bool
	}{
		{
			name: "valid header",
			reply: `format: mtz
spacegroup: P 41 21 2
cell: [78.1, 78.1, 37.2, 90, 90, 90]
resolution_low: 39.05
resolution_high: 1.42
first_batch: 1
last_batch: 360
datasets: [NATIVE]
`,
		},
		{
			name:       "wrong container format",
			reply:      "format: xds_ascii\nspacegroup: P1\n",
			wantFormat: true,
		},
		{
			name:       "engine reports format error",
			reply:      "error:\n  kind: format\n  message: not an MTZ file\n",
			wantFormat: true,
		},
		{
			name:      "missing spacegroup",
			reply:     "format: mtz\n",
			wantToken: true,
		},
		{
			name:      "garbage output",
			reply:     ":::\n\t- not yaml",
			wantToken: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newScriptedExecutor()
			exec.replies["probe"] = tt.reply
			set := buildSet(t, exec)

			h, err := set.Probe.Probe(context.Background(), "/data/sweep1.mtz")

			var formatErr *errors.FormatError
			switch {
			case tt.wantFormat:
				if !errors.As(err, &formatErr) {
					t.Fatalf("Probe() error = %v, want FormatError", err)
				}
				if formatErr.Path != "/data/sweep1.mtz" {
					t.Errorf("FormatError.Path = %q", formatErr.Path)
				}
			case tt.wantToken:
				if !errors.Is(err, errors.ErrMissingToken) {
					t.Fatalf("Probe() error = %v, want ErrMissingToken", err)
				}
			default:
				if err != nil {
					t.Fatalf("Probe() error = %v", err)
				}
				if h.Spacegroup != "P 41 21 2" || h.LastBatch != 360 {
					t.Errorf("Probe() header = %+v", h)
				}
				if h.Cell != (lattice.Cell{78.1, 78.1, 37.2, 90, 90, 90}) {
					t.Errorf("Probe() cell = %v", h.Cell)
				}
			}
		})
	}
}

func TestProbe_RequestOnStdin(t *testing.T) {
	exec := newScriptedExecutor()
	exec.replies["probe"] = "format: mtz\nspacegroup: P1\nfirst_batch: 1\nlast_batch: 10\n"
	set := buildSet(t, exec)

	if _, err := set.Probe.Probe(context.Background(), "/data/x.mtz"); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	var req map[string]string
	if err := yaml.Unmarshal(exec.stdin["probe"], &req); err != nil {
		t.Fatalf("request is not YAML: %v", err)
	}
	if req["file"] != "/data/x.mtz" {
		t.Errorf("request file = %q, want /data/x.mtz", req["file"])
	}
	if exec.dirs[0] != set.WorkDir {
		t.Errorf("engine ran in %q, want %q", exec.dirs[0], set.WorkDir)
	}
}

func TestSymmetry_FillsDefaults(t *testing.T) {
	exec := newScriptedExecutor()
	exec.replies["symmetry"] = "point_group: P 4 2 2\nconfidence: 0.98\n"
	set := buildSet(t, exec)

	res, err := set.Symmetry.Decide(context.Background(), SymmetryRequest{File: "a.mtz", FirstBatch: 1, LastBatch: 180})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if res.ReindexOp != "h,k,l" {
		t.Errorf("ReindexOp = %q, want identity", res.ReindexOp)
	}
	if len(res.Lattices) == 0 || res.Lattices[0] != "tP" {
		t.Errorf("Lattices = %v, want tP first", res.Lattices)
	}
}

func TestReindex_IncompatibleOperator(t *testing.T) {
	exec := newScriptedExecutor()
	exec.replies["reindex"] = "error:\n  kind: reindex\n  message: operator k,h,-l incompatible\n"
	set := buildSet(t, exec)

	out := filepath.Join(set.WorkDir, "SWEEP1_reindexed.mtz")
	if err := os.WriteFile(out, []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := set.Reindex.Reindex(context.Background(), ReindexRequest{Input: "in.mtz", Output: out, Operator: "k,h,-l"})
	if !errors.Is(err, errors.ErrReindex) {
		t.Fatalf("Reindex() error = %v, want ErrReindex", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("partial reindex output was not removed")
	}
}

func TestRebatch(t *testing.T) {
	exec := newScriptedExecutor()
	exec.replies["rebatch"] = "output: out.mtz\nfirst_batch: 1001\nlast_batch: 1360\n"
	set := buildSet(t, exec)

	first, last, err := set.Rebatch.Renumber(context.Background(), "in.mtz", "out.mtz", 1001)
	if err != nil {
		t.Fatalf("Renumber() error = %v", err)
	}
	if first != 1001 || last != 1360 {
		t.Errorf("Renumber() = (%d, %d), want (1001, 1360)", first, last)
	}
}

func TestScale_ExitRemovesPartialOutput(t *testing.T) {
	exec := newScriptedExecutor()
	exec.fail["scale"] = fmt.Errorf("exit status 1: ran out of memory")
	set := buildSet(t, exec)

	prefix := filepath.Join(set.WorkDir, "scale_3")
	for _, suffix := range []string{"_scaled.mtz", "_unmerged.mtz"} {
		if err := os.WriteFile(prefix+suffix, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	keep := filepath.Join(set.WorkDir, "sorted.mtz")
	if err := os.WriteFile(keep, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := set.Scale.Scale(context.Background(), ScaleRequest{Input: keep, Prefix: prefix})
	if !errors.Is(err, errors.ErrEngineExit) {
		t.Fatalf("Scale() error = %v, want ErrEngineExit", err)
	}

	var engErr *errors.EngineError
	if !errors.As(err, &engErr) || engErr.Output != "partial" {
		t.Errorf("EngineError output not captured: %v", err)
	}

	matches, _ := filepath.Glob(prefix + "_*")
	if len(matches) != 0 {
		t.Errorf("partial scale outputs remain: %v", matches)
	}
	if _, statErr := os.Stat(keep); statErr != nil {
		t.Error("unrelated input file was removed")
	}
}

func TestScale_ParsesResult(t *testing.T) {
	exec := newScriptedExecutor()
	exec.replies["scale"] = `merged_file: /w/s_scaled.mtz
unmerged_file: /w/s_unmerged.mtz
scales_file: /w/s.scales
convergence_cycles: 6
datasets:
  - dataset: NATIVE
    stats:
      "Rmerge(I)": [0.05, 0.03, 0.6]
      "Completeness": [99.1, 98.0, 95.2]
    shells:
      - {resolution: 3.0, i_sigma: 20.0}
      - {resolution: 2.0, i_sigma: 1.5}
  - dataset: PEAK
    stats:
      "Rmerge(I)": [0.07, 0.04, 0.8]
sd_bins:
  - {resolution: 3.0, full_count: 100, full_ratio: 1.1, partial_count: 50, partial_ratio: 0.9}
`
	set := buildSet(t, exec)

	res, err := set.Scale.Scale(context.Background(), ScaleRequest{Input: "sorted.mtz", Prefix: "/w/s"})
	if err != nil {
		t.Fatalf("Scale() error = %v", err)
	}
	if res.ConvergenceCycles != 6 {
		t.Errorf("ConvergenceCycles = %v, want 6", res.ConvergenceCycles)
	}
	if got := res.MeanRmerge(); got < 0.0599 || got > 0.0601 {
		t.Errorf("MeanRmerge() = %v, want 0.06", got)
	}
	native, ok := res.Dataset("NATIVE")
	if !ok || len(native.Shells) != 2 {
		t.Fatalf("Dataset(NATIVE) = %+v, %v", native, ok)
	}
	if _, ok := res.Dataset("INFL"); ok {
		t.Error("Dataset(INFL) should not be found")
	}
	if len(res.SDBins) != 1 || res.SDBins[0].PartialCount != 50 {
		t.Errorf("SDBins = %+v", res.SDBins)
	}
}

func TestScale_MissingMergedFile(t *testing.T) {
	exec := newScriptedExecutor()
	exec.replies["scale"] = "datasets:\n  - dataset: NATIVE\n"
	set := buildSet(t, exec)

	_, err := set.Scale.Scale(context.Background(), ScaleRequest{Prefix: filepath.Join(set.WorkDir, "s")})
	if !errors.Is(err, errors.ErrMissingToken) {
		t.Fatalf("Scale() error = %v, want ErrMissingToken", err)
	}
}

func TestMerge(t *testing.T) {
	exec := newScriptedExecutor()
	exec.replies["merge"] = "output: /w/free.mtz\n"
	set := buildSet(t, exec)

	out, err := set.Merge.AddFreeFlag(context.Background(), "/w/cad.mtz", "/w/free.mtz", 0.05)
	if err != nil {
		t.Fatalf("AddFreeFlag() error = %v", err)
	}
	if out != "/w/free.mtz" {
		t.Errorf("AddFreeFlag() = %q", out)
	}

	var req map[string]any
	if err := yaml.Unmarshal(exec.stdin["merge"], &req); err != nil {
		t.Fatalf("request is not YAML: %v", err)
	}
	if req["operation"] != "freerflag" {
		t.Errorf("operation = %v, want freerflag", req["operation"])
	}
}

func TestTruncate_MissingFile(t *testing.T) {
	exec := newScriptedExecutor()
	exec.replies["truncate"] = "wilson_b: 23.4\n"
	set := buildSet(t, exec)

	_, err := set.Truncate.ToAmplitudes(context.Background(), "in.mtz", "out.mtz", true)
	if !errors.Is(err, errors.ErrMissingToken) {
		t.Fatalf("ToAmplitudes() error = %v, want ErrMissingToken", err)
	}
}
