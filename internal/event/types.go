package event

import "time"

// Event is implemented by everything published on a Bus.
type Event interface {
	// EventType identifies the event as "category.action", e.g.
	// "stage.changed".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event types published by the scaler.
const (
	TypeStageChanged      = "stage.changed"
	TypeSweepReprocess    = "sweep.reprocess"
	TypeResolutionChanged = "resolution.changed"
	TypeModelSelected     = "model.selected"
	TypeDamageFinding     = "damage.finding"
	TypeRunCompleted      = "run.completed"
)

// baseEvent is embedded in concrete events to satisfy Event.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Stage Events
// -----------------------------------------------------------------------------

// StageChangedEvent is emitted on every stage transition. Retry is set when
// the new stage is the same as or earlier than the previous one.
type StageChangedEvent struct {
	baseEvent
	RunID  string
	From   string
	To     string
	Retry  bool
	Reason string
}

// NewStageChangedEvent creates a StageChangedEvent.
func NewStageChangedEvent(runID, from, to string, retry bool, reason string) StageChangedEvent {
	return StageChangedEvent{
		baseEvent: newBaseEvent(TypeStageChanged),
		RunID:     runID,
		From:      from,
		To:        to,
		Retry:     retry,
		Reason:    reason,
	}
}

// RunCompletedEvent is emitted once when a run ends, successfully or not.
type RunCompletedEvent struct {
	baseEvent
	RunID   string
	Success bool
	Error   string // empty on success
}

// NewRunCompletedEvent creates a RunCompletedEvent.
func NewRunCompletedEvent(runID string, success bool, errMsg string) RunCompletedEvent {
	return RunCompletedEvent{
		baseEvent: newBaseEvent(TypeRunCompleted),
		RunID:     runID,
		Success:   success,
		Error:     errMsg,
	}
}

// -----------------------------------------------------------------------------
// Decision Events
// -----------------------------------------------------------------------------

// SweepReprocessEvent is emitted when a sweep's indexer accepted a lattice
// other than its own and the sweep must be integrated again.
type SweepReprocessEvent struct {
	baseEvent
	Sweep   string
	Lattice string // lattice now asserted on the indexer
}

// NewSweepReprocessEvent creates a SweepReprocessEvent.
func NewSweepReprocessEvent(sweep, lattice string) SweepReprocessEvent {
	return SweepReprocessEvent{
		baseEvent: newBaseEvent(TypeSweepReprocess),
		Sweep:     sweep,
		Lattice:   lattice,
	}
}

// ResolutionChangedEvent is emitted when a dataset's accepted
// high-resolution limit is set or moves.
type ResolutionChangedEvent struct {
	baseEvent
	Dataset  string
	Previous float64 // 0 when no limit was set
	Current  float64
	Override bool // the limit came from configuration
}

// NewResolutionChangedEvent creates a ResolutionChangedEvent.
func NewResolutionChangedEvent(dataset string, previous, current float64, override bool) ResolutionChangedEvent {
	return ResolutionChangedEvent{
		baseEvent: newBaseEvent(TypeResolutionChanged),
		Dataset:   dataset,
		Previous:  previous,
		Current:   current,
		Override:  override,
	}
}

// ModelSelectedEvent is emitted once per run when the scaling corrections
// are fixed.
type ModelSelectedEvent struct {
	baseEvent
	Absorption bool
	Partiality bool
	Decay      bool
	Searched   bool // false when the default model was used
}

// NewModelSelectedEvent creates a ModelSelectedEvent.
func NewModelSelectedEvent(absorption, partiality, decay, searched bool) ModelSelectedEvent {
	return ModelSelectedEvent{
		baseEvent:  newBaseEvent(TypeModelSelected),
		Absorption: absorption,
		Partiality: partiality,
		Decay:      decay,
		Searched:   searched,
	}
}

// DamageFindingEvent reports the radiation damage analysis of one
// wavelength in one dose-rate group.
type DamageFindingEvent struct {
	baseEvent
	Group      int
	Wavelength float64
	Sweeps     []string
	Score      float64
	Damaged    bool
	DoseCutoff float64
	HasCutoff  bool
}

// NewDamageFindingEvent creates a DamageFindingEvent.
func NewDamageFindingEvent(group int, wavelength float64, sweeps []string, score float64, damaged bool, doseCutoff float64, hasCutoff bool) DamageFindingEvent {
	return DamageFindingEvent{
		baseEvent:  newBaseEvent(TypeDamageFinding),
		Group:      group,
		Wavelength: wavelength,
		Sweeps:     sweeps,
		Score:      score,
		Damaged:    damaged,
		DoseCutoff: doseCutoff,
		HasCutoff:  hasCutoff,
	}
}
