// Package engine defines the capability interfaces through which the scaling
// pipeline drives its external numerical engines, and CLI-backed
// implementations of them.
//
// There is one interface per capability: [FileProbe], [SymmetryEngine],
// [ReindexEngine], [RebatchEngine], [SortEngine], [ScaleEngine],
// [TruncateEngine] and [MergeEngine]. Every call is a synchronous round trip.
//
// # Wire Protocol
//
// Each engine is an external program. The request is written to its stdin as
// a YAML document and the response is read from its stdout as YAML:
//
//	$ xscale-rebatch <<EOF
//	input: /work/SWEEP2_reindexed.mtz
//	output: /work/SWEEP2_rebatched.mtz
//	first_batch: 1001
//	EOF
//	output: /work/SWEEP2_rebatched.mtz
//	first_batch: 1001
//	last_batch: 1360
//
// An engine reports a failure it understands with an error envelope:
//
//	error:
//	  kind: reindex
//	  message: operator k,h,-l incompatible with P 41 21 2
//
// A non-zero exit, unparseable YAML, or a response lacking a required field
// is an EngineError. Files the failed step would have produced are removed
// before the error is returned.
//
// # Construction
//
//	set, err := engine.NewBuilder(engine.Config{
//	    WorkDir: "/work",
//	    Scale:   engine.Command{Name: "xscale-scale"},
//	    ...
//	}).Build()
//
// Tests substitute a [CommandExecutor] with [Builder.WithExecutor] or
// implement the capability interfaces directly.
package engine
