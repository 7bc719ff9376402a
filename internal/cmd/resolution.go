package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/xia2/xia2-sub002/internal/engine"
	"github.com/xia2/xia2-sub002/internal/errors"
	"github.com/xia2/xia2-sub002/internal/resolution"
	"gopkg.in/yaml.v3"
)

var resolutionCmd = &cobra.Command{
	Use:   "resolution <shells.yaml>",
	Short: "Estimate a resolution limit from per-shell statistics",
	Long: `Estimate the high-resolution limit at which the merged I/sigma of a
dataset falls to the cutoff.

The input lists resolution shells, e.g.

  shells:
    - {resolution: 3.0, i_sigma: 12.0}
    - {resolution: 2.0, i_sigma: 2.0}
    - {resolution: 1.8, i_sigma: 0.5}`,
	Args: cobra.ExactArgs(1),
	RunE: runResolution,
}

func init() {
	resolutionCmd.Flags().Float64("cutoff", resolution.DefaultCutoff, "merged I/sigma cutoff")
	_ = viper.BindPFlag("scaler.isigma_cutoff", resolutionCmd.Flags().Lookup("cutoff"))

	rootCmd.AddCommand(resolutionCmd)
}

type shellFile struct {
	Shells []engine.Shell `yaml:"shells"`
}

func readShells(r io.Reader) ([]engine.Shell, error) {
	var f shellFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "malformed shell table: %v", err)
	}
	if len(f.Shells) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "shell table is empty")
	}
	for i, s := range f.Shells {
		if s.Resolution <= 0 {
			return nil, errors.Wrapf(errors.ErrInvalidInput, "shells[%d]: resolution must be positive", i)
		}
	}
	return f.Shells, nil
}

func runResolution(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open shell table: %w", err)
	}
	defer f.Close()

	shells, err := readShells(f)
	if err != nil {
		return err
	}

	cutoff := viper.GetFloat64("scaler.isigma_cutoff")
	out := cmd.OutOrStdout()
	d, ok := resolution.Limit(shells, cutoff)
	if !ok {
		fmt.Fprintf(out, "No shell reaches I/sigma %.2f; resolution not limited\n", cutoff)
		return nil
	}
	fmt.Fprintf(out, "Resolution limit at I/sigma %.2f: %.2f Å\n", cutoff, d)
	return nil
}
