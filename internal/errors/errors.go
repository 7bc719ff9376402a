// Package errors provides the error taxonomy for the scaling pipeline.
//
// Four domain error types cover everything that can abort a run:
//   - ConsistencyError: cross-sweep mismatch in project/crystal name,
//     spacegroup, lattice or unit cell beyond tolerance
//   - FormatError: an input file is not in the expected container format
//   - EngineError: an external engine exited abnormally or produced output
//     missing an expected token
//   - InputMissingError: a value needed to derive one result is absent
//
// The first three are fatal to the whole run. InputMissingError is fatal
// only to the value being derived; callers log it and carry on.
//
// A request to repeat an earlier stage is not an error and is never
// represented here; see the scaler package.
//
// # Usage
//
//	err := errors.NewConsistencyError("cell mismatch", errors.ErrCellMismatch).
//	    WithSweep("SWEEP2").
//	    WithDataset("NATIVE")
//
//	if errors.IsFatal(err) { ... }
//
//	var engErr *errors.EngineError
//	if errors.As(err, &engErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityWarning is for errors that spoil one derived value only.
	SeverityWarning Severity = iota
	// SeverityError is for errors that abort the run.
	SeverityError
	// SeverityCritical is for errors caused by inconsistent input data.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Consistency sentinels
var (
	// ErrNameMismatch indicates sweeps disagree on project or crystal name.
	ErrNameMismatch = New("project or crystal name mismatch")
	// ErrLatticeMismatch indicates a sweep's lattice differs from the reference.
	ErrLatticeMismatch = New("lattice mismatch")
	// ErrCellMismatch indicates a cell parameter differs beyond tolerance.
	ErrCellMismatch = New("unit cell mismatch")
	// ErrNoCommonLattice indicates no lattice is compatible with every sweep.
	ErrNoCommonLattice = New("no common lattice")
	// ErrLatticeImpossible indicates an indexer rejected every candidate lattice.
	ErrLatticeImpossible = New("lattice impossible")
)

// Format sentinels
var (
	// ErrWrongFormat indicates the input is not a reflection container file.
	ErrWrongFormat = New("wrong file format")
)

// Engine sentinels
var (
	// ErrEngineExit indicates an engine exited with a non-zero status.
	ErrEngineExit = New("engine exited abnormally")
	// ErrMissingToken indicates engine output lacked an expected field.
	ErrMissingToken = New("expected token missing from engine output")
	// ErrReindex indicates a reindex operator is incompatible with the data.
	ErrReindex = New("incompatible reindex operator")
)

// General sentinels
var (
	// ErrInputMissing indicates a value needed for a derived result is absent.
	ErrInputMissing = New("input missing")
	// ErrNoConvergence indicates a stage was retried more often than allowed.
	ErrNoConvergence = New("stage did not converge")
	// ErrInvalidInput indicates input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// ScalerError is the base interface for all pipeline errors.
type ScalerError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsFatal returns true if the error must abort the whole run.
	IsFatal() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

type baseError struct {
	message  string
	cause    error
	severity Severity
	fatal    bool
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity {
	return e.severity
}

func (e *baseError) IsFatal() bool {
	return e.fatal
}

// format renders "<kind> [k=v, ...]: message: cause".
func (e *baseError) format(kind string, context ...string) string {
	var parts []string
	for i := 0; i+1 < len(context); i += 2 {
		if context[i+1] != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", context[i], context[i+1]))
		}
	}

	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain Errors
// -----------------------------------------------------------------------------

// ConsistencyError reports a cross-sweep mismatch. Always fatal.
//
// Example:
//
//	err := errors.NewConsistencyError("lattice oP differs from reference tP", errors.ErrLatticeMismatch)
//	err = err.WithSweep("SWEEP2")
//	fmt.Println(err) // "consistency error [sweep=SWEEP2]: lattice oP differs from reference tP: lattice mismatch"
type ConsistencyError struct {
	baseError
	Sweep   string
	Dataset string
}

// NewConsistencyError creates a new ConsistencyError.
func NewConsistencyError(message string, cause error) *ConsistencyError {
	return &ConsistencyError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityCritical,
			fatal:    true,
		},
	}
}

// WithSweep names the offending sweep.
func (e *ConsistencyError) WithSweep(name string) *ConsistencyError {
	e.Sweep = name
	return e
}

// WithDataset names the offending dataset.
func (e *ConsistencyError) WithDataset(name string) *ConsistencyError {
	e.Dataset = name
	return e
}

func (e *ConsistencyError) Error() string {
	return e.format("consistency error", "sweep", e.Sweep, "dataset", e.Dataset)
}

// FormatError reports an input in the wrong container format. Always fatal.
type FormatError struct {
	baseError
	Path string
}

// NewFormatError creates a new FormatError for the given file.
func NewFormatError(path string, cause error) *FormatError {
	return &FormatError{
		baseError: baseError{
			message:  "not a reflection container file",
			cause:    cause,
			severity: SeverityError,
			fatal:    true,
		},
		Path: path,
	}
}

func (e *FormatError) Error() string {
	return e.format("format error", "path", e.Path)
}

// EngineError reports an abnormal engine exit or unparseable output.
//
// Example:
//
//	err := errors.NewEngineError("scale", errors.ErrEngineExit).
//	    WithSweep("SWEEP1").
//	    WithOutput(string(stderr))
type EngineError struct {
	baseError
	Engine string
	Sweep  string
	Output string
}

// NewEngineError creates a new EngineError for the named engine.
func NewEngineError(engine string, cause error) *EngineError {
	return &EngineError{
		baseError: baseError{
			message:  "engine failed",
			cause:    cause,
			severity: SeverityError,
			fatal:    true,
		},
		Engine: engine,
	}
}

// WithSweep names the sweep being processed.
func (e *EngineError) WithSweep(name string) *EngineError {
	e.Sweep = name
	return e
}

// WithMessage replaces the default message.
func (e *EngineError) WithMessage(msg string) *EngineError {
	e.message = msg
	return e
}

// WithOutput attaches the engine's raw output for debugging.
func (e *EngineError) WithOutput(output string) *EngineError {
	e.Output = output
	return e
}

func (e *EngineError) Error() string {
	return e.format("engine error", "engine", e.Engine, "sweep", e.Sweep)
}

// InputMissingError reports that a derived value could not be computed.
// It is not fatal to the run.
type InputMissingError struct {
	baseError
	Input   string
	Dataset string
}

// NewInputMissingError creates a new InputMissingError for the named input.
func NewInputMissingError(input string) *InputMissingError {
	return &InputMissingError{
		baseError: baseError{
			message:  fmt.Sprintf("no %s available", input),
			cause:    ErrInputMissing,
			severity: SeverityWarning,
			fatal:    false,
		},
		Input: input,
	}
}

// WithDataset names the dataset the value was wanted for.
func (e *InputMissingError) WithDataset(name string) *InputMissingError {
	e.Dataset = name
	return e
}

func (e *InputMissingError) Error() string {
	return e.format("input missing", "dataset", e.Dataset)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsFatal returns true if err must terminate the run. Errors that do not
// implement ScalerError are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var scalerErr ScalerError
	if As(err, &scalerErr) {
		return scalerErr.IsFatal()
	}
	return true
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement ScalerError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityWarning
	}

	var scalerErr ScalerError
	if As(err, &scalerErr) {
		return scalerErr.Severity()
	}
	return SeverityError
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
