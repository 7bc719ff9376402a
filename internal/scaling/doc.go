// Package scaling selects the simplest adequate scaling model for a set of
// prepared sweeps.
//
// Selection is one-factor-at-a-time: a baseline run with every correction
// off records the mean Rmerge and the number of refinement cycles, then each
// correction is tried on its own and kept only if it neither worsens Rmerge
// by more than the relative tolerance nor slows convergence by more than the
// cycle tolerance. Interactions between corrections are not explored.
//
// The core types are:
//
//   - [Selector]: runs the baseline and trial scaling runs
//   - [Decision]: the selected corrections with every trial's score
//   - [CorrectionModel]: corrections plus error-model parameters, each fixed once
//
// # Usage
//
//	selector := scaling.NewSelector(engines.Scale,
//	    scaling.WithRmergeTolerance(0.03),
//	    scaling.WithCycleTolerance(1.0),
//	)
//	decision, err := selector.Select(ctx, prepared)
//	if err != nil {
//	    return err
//	}
//	model.SetCorrections(decision.Corrections)
package scaling
