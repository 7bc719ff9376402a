package scaler

import "sync"

// DefaultMaxStageRetries is how often a stage may be re-entered before the
// run is abandoned.
const DefaultMaxStageRetries = 10

// stageRetries tracks re-entries of one stage.
type stageRetries struct {
	Count      int
	Max        int
	LastReason string
}

// retryBudget bounds how often each stage may be re-entered. Retries of
// different stages are counted separately.
type retryBudget struct {
	mu     sync.RWMutex
	max    int
	stages map[Stage]*stageRetries
}

func newRetryBudget(limit int) *retryBudget {
	if limit < 0 {
		limit = 0
	}
	return &retryBudget{max: limit, stages: make(map[Stage]*stageRetries)}
}

// record counts a re-entry of stage and reports whether it is still within
// budget.
func (b *retryBudget) record(stage Stage, reason string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.stages[stage]
	if !ok {
		st = &stageRetries{Max: b.max}
		b.stages[stage] = st
	}
	st.Count++
	st.LastReason = reason
	return st.Count <= st.Max
}

// count returns how often stage has been re-entered.
func (b *retryBudget) count(stage Stage) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if st, ok := b.stages[stage]; ok {
		return st.Count
	}
	return 0
}

// exhausted lists the stages that ran out of retries.
func (b *retryBudget) exhausted() []Stage {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Stage
	for _, s := range Stages() {
		if st, ok := b.stages[s]; ok && st.Count > st.Max {
			out = append(out, s)
		}
	}
	return out
}
