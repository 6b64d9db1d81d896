// Package errors provides structured error types for the handle tables.
//
// Errors are categorized by Phase (which operation failed) and Kind (error
// category). The Error type carries the offending handle, the creation site
// of the block involved, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseAcquire, errors.KindOverflow).
//		Handle(h).
//		Site(site).
//		Detail("reference count at %d", max).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.InvalidHandle(errors.PhaseRelease, h)
//	err := errors.Timeout(errors.PhaseAcquire, h, ctx.Err())
//
// All errors implement the standard error interface and support errors.Is/As.
// The Err* sentinels match any error of their Kind regardless of phase:
//
//	if errors.Is(err, errors.ErrInvalidHandle) { ... }
package errors
