package scaling

import "github.com/xia2/xia2-sub002/internal/engine"

// Correction is an optional term of the scaling model.
type Correction string

const (
	// CorrectionAbsorption models absorption by the crystal and mount.
	CorrectionAbsorption Correction = "absorption"

	// CorrectionPartiality corrects partially recorded reflections.
	CorrectionPartiality Correction = "partiality"

	// CorrectionDecay applies a resolution-dependent B-factor per batch.
	CorrectionDecay Correction = "decay"
)

// Corrections returns every correction in the order they are tried.
func Corrections() []Correction {
	return []Correction{CorrectionAbsorption, CorrectionPartiality, CorrectionDecay}
}

// String returns the string representation of the correction.
func (c Correction) String() string {
	return string(c)
}

// enable returns base with the correction switched on.
func (c Correction) enable(base engine.Corrections) engine.Corrections {
	switch c {
	case CorrectionAbsorption:
		base.Absorption = true
	case CorrectionPartiality:
		base.Partiality = true
	case CorrectionDecay:
		base.Decay = true
	}
	return base
}

// Trial is the outcome of one scaling run during model selection.
type Trial struct {
	// Correction is the term enabled for this trial; empty for the baseline.
	Correction Correction `yaml:"correction,omitempty"`

	// Rmerge is the mean overall Rmerge across datasets.
	Rmerge float64 `yaml:"rmerge"`

	// Cycles is the number of refinement cycles to convergence.
	Cycles float64 `yaml:"cycles"`

	// Accepted reports whether the correction was kept.
	Accepted bool `yaml:"accepted"`

	// Reason is a human-readable explanation of the verdict.
	Reason string `yaml:"reason"`
}

// Decision is the result of model selection.
type Decision struct {
	// Corrections is the selected model.
	Corrections engine.Corrections `yaml:"corrections"`

	// Baseline is the all-off run every trial is compared against.
	Baseline Trial `yaml:"baseline"`

	// Trials holds one entry per correction, in the order tried.
	Trials []Trial `yaml:"trials"`
}

// CorrectionModel is the complete scaling model of a run: the selected
// correction terms plus the error-model parameters. Each half is derived at
// most once per run.
type CorrectionModel struct {
	Corrections engine.Corrections `yaml:"corrections"`
	SD          engine.SDParams    `yaml:"sd"`

	correctionsFrozen bool
	sdFrozen          bool
}

// DefaultModel returns the all-off model with default error-model
// parameters.
func DefaultModel() CorrectionModel {
	return CorrectionModel{SD: engine.DefaultSDParams()}
}

// SetCorrections fixes the correction terms. It reports false if they were
// already fixed, leaving the model unchanged.
func (m *CorrectionModel) SetCorrections(c engine.Corrections) bool {
	if m.correctionsFrozen {
		return false
	}
	m.Corrections = c
	m.correctionsFrozen = true
	return true
}

// SetSD fixes the error-model parameters. It reports false if they were
// already fixed, leaving the model unchanged.
func (m *CorrectionModel) SetSD(sd engine.SDParams) bool {
	if m.sdFrozen {
		return false
	}
	m.SD = sd
	m.sdFrozen = true
	return true
}

// CorrectionsFrozen reports whether the correction terms have been fixed.
func (m *CorrectionModel) CorrectionsFrozen() bool {
	return m.correctionsFrozen
}

// SDFrozen reports whether the error-model parameters have been fixed.
func (m *CorrectionModel) SDFrozen() bool {
	return m.sdFrozen
}
