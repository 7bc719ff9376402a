package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/xia2/xia2-sub002/internal/config"
	"github.com/xia2/xia2-sub002/internal/engine"
	"github.com/xia2/xia2-sub002/internal/lattice"
)

var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Print the header of a reflection file",
	Long: `Run the configured probe engine on a reflection file and print its
spacegroup, cell, resolution range and batch range.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
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

	h, err := engines.Probe.Probe(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printHeader(cmd.OutOrStdout(), args[0], h)
	return nil
}

func printHeader(w io.Writer, path string, h engine.Header) {
	fmt.Fprintf(w, "File:        %s\n", path)
	fmt.Fprintf(w, "Format:      %s\n", h.Format)
	if l, err := lattice.Of(h.Spacegroup); err == nil {
		fmt.Fprintf(w, "Spacegroup:  %s (%s)\n", h.Spacegroup, l)
	} else {
		fmt.Fprintf(w, "Spacegroup:  %s\n", h.Spacegroup)
	}
	fmt.Fprintf(w, "Cell:        %s\n", h.Cell)
	fmt.Fprintf(w, "Resolution:  %.2f - %.2f Å\n", h.ResolutionLow, h.ResolutionHigh)
	fmt.Fprintf(w, "Batches:     %d - %d\n", h.FirstBatch, h.LastBatch)
	for _, ds := range h.Datasets {
		fmt.Fprintf(w, "Dataset:     %s\n", ds)
	}
}
