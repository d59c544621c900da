// Package errors is the single error package used across dispatchd.
//
// It re-exports github.com/cockroachdb/errors so every wrapped error carries a
// stack trace, optional hints for operators and structured details:
//
//	if err := store.Remove(ctx, id); err != nil {
//	    return errors.Wrapf(err, "failed to remove schedule entry %d", id)
//	}
//
// Sentinels below are matched with errors.Is after any amount of wrapping.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
	CombineErrors      = crdb.CombineErrors
	Mark               = crdb.Mark
)

var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	UnwrapAll     = crdb.UnwrapAll
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
	FlattenHints  = crdb.FlattenHints
)

var AssertionFailedf = crdb.AssertionFailedf

// Sentinels shared between the store, the supervisor and the CLI.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = New("not found")

	// ErrJobNotFound is returned when a schedule entry references a job the
	// runner cannot resolve.
	ErrJobNotFound = New("job not found")

	// ErrInvalidConfig indicates configuration failed validation.
	ErrInvalidConfig = New("invalid configuration")

	// ErrStoreUnavailable indicates the schedule store could not be reached
	// within the configured attempts.
	ErrStoreUnavailable = New("schedule store unavailable")

	// ErrTimeout marks a store operation that ran into its deadline. The
	// underlying cause stays matchable.
	ErrTimeout = New("operation timed out")
)

// IsNotFoundError reports whether err wraps ErrNotFound or ErrJobNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && IsAny(err, ErrNotFound, ErrJobNotFound)
}

// NewJobNotFoundError annotates ErrJobNotFound with the offending reference.
func NewJobNotFoundError(jobRef int64) error {
	return Wrapf(ErrJobNotFound, "job #%d does not exist", jobRef)
}

// NewInvalidConfigError creates a configuration error with a formatted message.
func NewInvalidConfigError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidConfig, format, args...)
}
