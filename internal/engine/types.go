package engine

import "github.com/xia2/xia2-sub002/internal/lattice"

// Header is the metadata a FileProbe reads from a reflection file.
type Header struct {
	Format         string       `yaml:"format"`
	Spacegroup     string       `yaml:"spacegroup"`
	Cell           lattice.Cell `yaml:"cell"`
	ResolutionLow  float64      `yaml:"resolution_low"`
	ResolutionHigh float64      `yaml:"resolution_high"`
	FirstBatch     int          `yaml:"first_batch"`
	LastBatch      int          `yaml:"last_batch"`
	Datasets       []string     `yaml:"datasets"`
}

// SymmetryRequest asks the symmetry engine for the best point group of one
// sweep's unmerged data.
type SymmetryRequest struct {
	File       string   `yaml:"file"`
	FirstBatch int      `yaml:"first_batch"`
	LastBatch  int      `yaml:"last_batch"`
	Reference  string   `yaml:"reference,omitempty"`
	PointGroup string   `yaml:"point_group,omitempty"` // fixed by the user; only the operator is sought
	Exclude    []string `yaml:"exclude_lattices,omitempty"`
}

// SymmetryResult is the symmetry engine's decision.
type SymmetryResult struct {
	PointGroup string   `yaml:"point_group"`
	ReindexOp  string   `yaml:"reindex_operator"`
	Lattices   []string `yaml:"lattices"` // ranked, most likely first
	Confidence float64  `yaml:"confidence"`
}

// ReindexRequest applies a spacegroup and/or reindexing operator to a file.
type ReindexRequest struct {
	Input      string `yaml:"input"`
	Output     string `yaml:"output"`
	Spacegroup string `yaml:"spacegroup,omitempty"`
	Operator   string `yaml:"operator,omitempty"`
}

// Corrections toggles the optional terms of the scaling model.
type Corrections struct {
	Absorption bool `yaml:"absorption"`
	Partiality bool `yaml:"partiality"`
	Decay      bool `yaml:"decay"`
}

// SDParams are the error-model parameters applied to full and partial
// reflections.
type SDParams struct {
	AddFull    float64 `yaml:"sdadd_full"`
	BFull      float64 `yaml:"sdb_full"`
	AddPartial float64 `yaml:"sdadd_partial"`
	BPartial   float64 `yaml:"sdb_partial"`
}

// DefaultSDParams are used when the error model is not refined.
func DefaultSDParams() SDParams {
	return SDParams{AddFull: 0.02, BFull: 0.0, AddPartial: 0.02, BPartial: 0.0}
}

// Run is one batch range scaled as a unit, normally one sweep.
type Run struct {
	Sweep      string  `yaml:"sweep"`
	Dataset    string  `yaml:"dataset"`
	FirstBatch int     `yaml:"first_batch"`
	LastBatch  int     `yaml:"last_batch"`
	Resolution float64 `yaml:"resolution,omitempty"` // high-resolution cutoff; 0 = none
}

// ScaleRequest describes one invocation of the scale engine.
type ScaleRequest struct {
	Input       string      `yaml:"input"`
	Prefix      string      `yaml:"prefix"` // output files are <prefix>_scaled.mtz etc.
	Runs        []Run       `yaml:"runs"`
	Corrections Corrections `yaml:"corrections"`
	SD          SDParams    `yaml:"sd"`
	Anomalous   bool        `yaml:"anomalous"`
	// Quick asks for a single unrefined cycle (reference building).
	Quick bool `yaml:"quick,omitempty"`
	// Restore reuses scales from a previous run instead of refining them.
	Restore string `yaml:"restore,omitempty"`
}

// Shell is one resolution shell of a merging-statistics table.
type Shell struct {
	Resolution    float64 `yaml:"resolution"`
	SignalToNoise float64 `yaml:"i_sigma"`
	Completeness  float64 `yaml:"completeness"`
	Rmerge        float64 `yaml:"rmerge"`
}

// SDBin is one resolution bin of the sigma-versus-intensity analysis: the
// mean ratio of scaled to expected sigma for full and partial reflections.
type SDBin struct {
	Resolution   float64 `yaml:"resolution"`
	FullCount    int     `yaml:"full_count"`
	FullRatio    float64 `yaml:"full_ratio"`
	PartialCount int     `yaml:"partial_count"`
	PartialRatio float64 `yaml:"partial_ratio"`
}

// BatchStat is per-batch merging statistics used for dose analysis.
type BatchStat struct {
	Batch        int     `yaml:"batch"`
	Completeness float64 `yaml:"completeness"` // cumulative, 0-1
	Rmerge       float64 `yaml:"rmerge"`
	Scp          float64 `yaml:"scp"`
}

// DatasetResult holds one dataset's statistics from a scale run. Stats keys
// are the engine's own metric names; values are overall, low and high shell.
type DatasetResult struct {
	Dataset    string               `yaml:"dataset"`
	MergedFile string               `yaml:"merged_file"`
	Stats      map[string][]float64 `yaml:"stats"`
	Shells     []Shell              `yaml:"shells"`
}

// ScaleResult is the scale engine's response.
type ScaleResult struct {
	MergedFile        string          `yaml:"merged_file"`
	UnmergedFile      string          `yaml:"unmerged_file"`
	ScalesFile        string          `yaml:"scales_file"`
	Datasets          []DatasetResult `yaml:"datasets"`
	ConvergenceCycles float64         `yaml:"convergence_cycles"`
	SDBins            []SDBin         `yaml:"sd_bins"`
	BatchStats        []BatchStat     `yaml:"batch_stats"`
}

// Dataset returns the result for the named dataset.
func (r *ScaleResult) Dataset(name string) (DatasetResult, bool) {
	for _, d := range r.Datasets {
		if d.Dataset == name {
			return d, true
		}
	}
	return DatasetResult{}, false
}

// MeanRmerge averages the overall Rmerge across datasets.
func (r *ScaleResult) MeanRmerge() float64 {
	var sum float64
	var n int
	for _, d := range r.Datasets {
		if v := d.Stats[StatRmerge]; len(v) > 0 {
			sum += v[0]
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// TruncateResult is the truncate engine's response.
type TruncateResult struct {
	File    string             `yaml:"file"`
	WilsonB float64            `yaml:"wilson_b"`
	Moments map[string]float64 `yaml:"moments"`
}

// Statistic names reported by the scale engine.
const (
	StatHighResolution        = "High resolution limit"
	StatLowResolution         = "Low resolution limit"
	StatCompleteness          = "Completeness"
	StatMultiplicity          = "Multiplicity"
	StatIsigma                = "I/sigma"
	StatRmerge                = "Rmerge(I)"
	StatRmeas                 = "Rmeas(I)"
	StatRpim                  = "Rpim(I)"
	StatCCHalf                = "CC half"
	StatTotalObservations     = "Total observations"
	StatTotalUnique           = "Total unique"
	StatAnomalousCompleteness = "Anomalous completeness"
	StatAnomalousMultiplicity = "Anomalous multiplicity"
	StatAnomalousCorrelation  = "Anomalous correlation"
	StatAnomalousSlope        = "Anomalous slope"
	StatWilsonB               = "Wilson B factor"
)
