package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/xia2/xia2-sub002/internal/config"
	"github.com/xia2/xia2-sub002/internal/event"
	"github.com/xia2/xia2-sub002/internal/manifest"
	"github.com/xia2/xia2-sub002/internal/report"
	"github.com/xia2/xia2-sub002/internal/scaler"
	"gopkg.in/yaml.v3"
)

var scaleCmd = &cobra.Command{
	Use:   "scale <manifest.yaml>",
	Short: "Scale and merge the sweeps listed in a manifest",
	Long: `Scale and merge the sweeps listed in a manifest.

The manifest names every sweep's integrated reflection file, its dataset,
the lattice it was indexed in and optionally its wavelength and dose.
Intermediate files and the run log are written to the working directory.

Examples:
  xscale scale sweeps.yaml
  xscale scale sweeps.yaml --spacegroup "P 41 21 2" --quick
  xscale scale sweeps.yaml --export result.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runScale,
}

var (
	scaleExport string // Result YAML path
	scaleQuiet  bool   // Suppress progress lines
)

func init() {
	f := scaleCmd.Flags()
	f.String("spacegroup", "", "assert a spacegroup or point group instead of deciding from the data")
	f.String("reference", "", "external reference reflection file")
	f.Bool("quick", false, "skip error-model refinement")
	f.Bool("smart-scaling", false, "search the correction model instead of using the default")
	f.Bool("anomalous", false, "keep Friedel pairs separate")
	f.StringP("workdir", "w", "", "working directory for intermediate files and the log")
	f.StringVar(&scaleExport, "export", "", "write the full result as YAML to this file")
	f.BoolVarP(&scaleQuiet, "quiet", "q", false, "do not print progress")

	_ = viper.BindPFlag("scaler.spacegroup", f.Lookup("spacegroup"))
	_ = viper.BindPFlag("scaler.reference_file", f.Lookup("reference"))
	_ = viper.BindPFlag("scaler.quick", f.Lookup("quick"))
	_ = viper.BindPFlag("scaler.smart_scaling", f.Lookup("smart-scaling"))
	_ = viper.BindPFlag("scaler.anomalous", f.Lookup("anomalous"))
	_ = viper.BindPFlag("scaler.working_dir", f.Lookup("workdir"))

	rootCmd.AddCommand(scaleCmd)
}

func runScale(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	m, err := manifest.Load(args[0])
	if err != nil {
		return err
	}

	workDir, err := workingDir(cfg)
	if err != nil {
		return err
	}
	engines, err := buildEngines(cfg, workDir)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, workDir)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	bus := event.NewBus(logger)
	if !scaleQuiet {
		detach := subscribeProgress(bus, cmd.ErrOrStderr())
		defer detach()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := scaler.New(engines, m.Specs(), scaler.ConfigFrom(&cfg.Scaler),
		scaler.WithLogger(logger),
		scaler.WithBus(bus),
	)
	res, err := s.Run(ctx)
	if err != nil {
		return fmt.Errorf("scaling run %s failed: %w", s.RunID(), err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, summary(res))
	fmt.Fprintln(out)
	if err := statisticsFor(res).Print(out); err != nil {
		return err
	}

	if scaleExport != "" {
		if err := exportResult(scaleExport, res); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nResult written to %s\n", scaleExport)
	}
	return nil
}

// summary describes the decisions of a completed run.
func summary(res *scaler.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run:          %s\n", res.RunID)
	fmt.Fprintf(&b, "Lattice:      %s\n", res.Lattice)
	fmt.Fprintf(&b, "Point group:  %s\n", res.PointGroup)
	fmt.Fprintf(&b, "Spacegroup:   %s\n", res.Spacegroup)

	c := res.Model.Corrections
	fmt.Fprintf(&b, "Corrections:  absorption=%v partiality=%v decay=%v\n", c.Absorption, c.Partiality, c.Decay)
	sd := res.Model.SD
	fmt.Fprintf(&b, "Error model:  sdadd %.3f/%.3f sdb %.1f/%.1f (full/partial)\n",
		sd.AddFull, sd.AddPartial, sd.BFull, sd.BPartial)

	datasets := make([]string, 0, len(res.Truncated))
	for ds := range res.Truncated {
		datasets = append(datasets, ds)
	}
	sort.Strings(datasets)
	for _, ds := range datasets {
		limit := "not limited"
		if d, ok := res.Limits[ds]; ok {
			limit = fmt.Sprintf("%.2f Å", d)
		}
		fmt.Fprintf(&b, "Dataset %-8s %s -> %s\n", ds, limit, res.Truncated[ds])
	}

	for _, f := range res.Damage {
		verdict := "no significant damage"
		if f.Damaged {
			verdict = "radiation damage detected"
		}
		fmt.Fprintf(&b, "Damage group %d (%.4f Å, %s): %s, score %.2f",
			f.Group, f.Wavelength, strings.Join(f.Sweeps, ", "), verdict, f.Score)
		if f.HasCutoff {
			fmt.Fprintf(&b, ", suggested dose cutoff %.2f", f.DoseCutoff)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Merged:       %s\n", res.MergedFile)
	fmt.Fprintf(&b, "Free-R:       %s\n", res.FreeFile)
	return b.String()
}

func exportResult(path string, res *scaler.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := writeResult(f, res); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeResult(w io.Writer, res *scaler.Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return enc.Close()
}

// statisticsFor is the statistics of res, never nil.
func statisticsFor(res *scaler.Result) *report.Statistics {
	if res.Statistics == nil {
		return report.New()
	}
	return res.Statistics
}
