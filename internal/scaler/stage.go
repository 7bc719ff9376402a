package scaler

import "time"

// Stage is a step of the scaling state machine. Stages are ordered; moving
// to a stage at or before the current one is a retry.
type Stage int

const (
	// StagePrepare probes, resolves symmetry, reindexes, renumbers and
	// sorts the sweeps and fixes the correction terms.
	StagePrepare Stage = iota

	// StageScale refines the error model and iterates scaling until the
	// resolution limits stop moving.
	StageScale

	// StageFinish runs the final scale, truncates, merges and analyses.
	StageFinish

	// StageDone is terminal.
	StageDone
)

// Stages returns every stage in order.
func Stages() []Stage {
	return []Stage{StagePrepare, StageScale, StageFinish, StageDone}
}

// String returns the lower-case stage name used in logs and events.
func (s Stage) String() string {
	switch s {
	case StagePrepare:
		return "prepare"
	case StageScale:
		return "scale"
	case StageFinish:
		return "finish"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Transition records one stage change.
type Transition struct {
	From      Stage     `yaml:"from"`
	To        Stage     `yaml:"to"`
	Timestamp time.Time `yaml:"timestamp"`
	// Reason is why the stage handler chose To.
	Reason string `yaml:"reason,omitempty"`
	// Retry is set when To is not after From.
	Retry bool `yaml:"retry"`
}

// MarshalYAML writes the stage name.
func (s Stage) MarshalYAML() (any, error) {
	return s.String(), nil
}
