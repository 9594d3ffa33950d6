// Package errs defines the harness error taxonomy and maps it onto the
// three problem classes a user needs to tell apart: preregistration,
// measurement and storage.
package errs

import (
	"errors"
	"fmt"
)

// #region sentinels
var (
	// ErrMalformedPreregistration: a threshold, seed, mode or condition set is missing or invalid.
	ErrMalformedPreregistration = errors.New("malformed preregistration")
	// ErrPreregistrationFrozen: mutation of a frozen preregistration, or a
	// different preregistration for an output target that already has one.
	ErrPreregistrationFrozen = errors.New("preregistration is frozen")
	// ErrNotPreregistered: gate evaluation attempted without a frozen preregistration.
	ErrNotPreregistered = errors.New("no frozen preregistration")
	// ErrRevealNotApplicable: reveal on an unblinded run, or a second reveal.
	ErrRevealNotApplicable = errors.New("reveal not applicable")
	// ErrLedgerWrite: the decision was not durably recorded.
	ErrLedgerWrite = errors.New("ledger write failed")
	// ErrMissingMetric: the scorer produced no value for a required condition.
	ErrMissingMetric = errors.New("missing metric")
	// ErrIntegrity: recorded artifacts no longer match their hashes, or a
	// recorded decision does not reproduce.
	ErrIntegrity = errors.New("integrity check failed")
	// ErrWorkspaceLocked: another process holds the output directory.
	ErrWorkspaceLocked = errors.New("workspace is locked")
)

// #endregion sentinels

// #region ledger-write-error
// LedgerWriteError wraps the I/O failure behind a ledger append.
type LedgerWriteError struct {
	Op  string
	Err error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *LedgerWriteError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrLedgerWrite) hold for every LedgerWriteError.
func (e *LedgerWriteError) Is(target error) bool {
	return target == ErrLedgerWrite
}

// LedgerWrite returns a LedgerWriteError for op, or nil if err is nil.
func LedgerWrite(op string, err error) error {
	if err == nil {
		return nil
	}
	return &LedgerWriteError{Op: op, Err: err}
}

// #endregion ledger-write-error

// #region categories
// Category is the user-visible class of a fatal error.
type Category int

const (
	Internal Category = iota
	Preregistration
	Measurement
	Storage
	Argument
)

// String returns a human-readable name for the category.
func (c Category) String() string {
	switch c {
	case Preregistration:
		return "preregistration problem"
	case Measurement:
		return "measurement problem"
	case Storage:
		return "storage problem"
	case Argument:
		return "argument problem"
	default:
		return "internal error"
	}
}

// ArgumentError marks bad command-line or configuration input.
type ArgumentError struct {
	Message string
}

func (e *ArgumentError) Error() string { return e.Message }

// Argumentf builds an ArgumentError.
func Argumentf(format string, args ...any) error {
	return &ArgumentError{Message: fmt.Sprintf(format, args...)}
}

// Classify maps err onto a Category.
func Classify(err error) Category {
	var argErr *ArgumentError
	switch {
	case err == nil:
		return Internal
	case errors.As(err, &argErr):
		return Argument
	case errors.Is(err, ErrMalformedPreregistration),
		errors.Is(err, ErrPreregistrationFrozen),
		errors.Is(err, ErrNotPreregistered),
		errors.Is(err, ErrRevealNotApplicable):
		return Preregistration
	case errors.Is(err, ErrMissingMetric):
		return Measurement
	case errors.Is(err, ErrLedgerWrite), errors.Is(err, ErrIntegrity), errors.Is(err, ErrWorkspaceLocked):
		return Storage
	default:
		return Internal
	}
}

// Exit codes. They report process success only; the gate decision lives in results.json.
const (
	ExitOK              = 0
	ExitInternal        = 1
	ExitPreregistration = 2
	ExitMeasurement     = 3
	ExitStorage         = 4
	ExitArgument        = 5
)

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch Classify(err) {
	case Preregistration:
		return ExitPreregistration
	case Measurement:
		return ExitMeasurement
	case Storage:
		return ExitStorage
	case Argument:
		return ExitArgument
	default:
		return ExitInternal
	}
}

// #endregion categories
