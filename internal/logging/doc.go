// Package logging provides structured logging for scaling runs.
//
// This package wraps Go's log/slog to write JSON-formatted logs with
// persistent context attributes, so that a run's log can be filtered by
// run, stage, sweep or dataset after the fact.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/workdir", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	runLogger := logger.WithRun(runID).WithStage("prepare")
//	runLogger.WithSweep("SWEEP1").Info("lattice accepted", "lattice", "tP")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"lattice accepted","run_id":"...","stage":"prepare","sweep":"SWEEP1","lattice":"tP"}
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWriterLogger] to capture it.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use; per-sweep workers
// share one underlying handler.
package logging
