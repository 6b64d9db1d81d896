package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/wippyai/handles/handle"
)

// Phase indicates which operation produced the error
type Phase string

const (
	PhaseAlloc     Phase = "alloc"     // guarded block allocation
	PhaseResize    Phase = "resize"    // block or handle resize
	PhaseRelease   Phase = "release"   // block release or handle release
	PhaseCreate    Phase = "create"    // handle creation
	PhaseLookup    Phase = "lookup"    // handle validation
	PhaseAcquire   Phase = "acquire"   // shared checkout
	PhaseDestroy   Phase = "destroy"   // exclusive destruction
	PhaseLifecycle Phase = "lifecycle" // table init and shutdown
	PhaseConfig    Phase = "config"    // configuration loading
	PhaseMemory    Phase = "memory"    // bulk memory providers
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidArgument Kind = "invalid_argument"
	KindOutOfMemory     Kind = "out_of_memory"
	KindInvalidHandle   Kind = "invalid_handle"
	KindInvalidState    Kind = "invalid_state"
	KindTimeout         Kind = "timeout"
	KindOverflow        Kind = "overflow"
)

// Sentinels for errors.Is. They match by Kind only.
var (
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrOutOfMemory     = &Error{Kind: KindOutOfMemory}
	ErrInvalidHandle   = &Error{Kind: KindInvalidHandle}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrOverflow        = &Error{Kind: KindOverflow}
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Site   string
	Detail string
	Handle handle.Handle
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Handle != handle.Invalid {
		b.WriteString(" for ")
		b.WriteString(e.Handle.String())
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Site != "" {
		b.WriteString(" (created at ")
		b.WriteString(e.Site)
		b.WriteByte(')')
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Kinds must be equal; the
// phase is compared only when the target names one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Phase == "" || e.Phase == t.Phase
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// KindOf returns the Kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return "", false
		}
		err = u.Unwrap()
	}
	return "", false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Handle sets the offending handle
func (b *Builder) Handle(h handle.Handle) *Builder {
	b.err.Handle = h
	return b
}

// Site sets the creation site of the block involved
func (b *Builder) Site(site string) *Builder {
	b.err.Site = site
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// InvalidArgument creates an invalid argument error
func InvalidArgument(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidArgument,
		Detail: detail,
	}
}

// ZeroSize creates the invalid argument error for empty allocations
func ZeroSize(phase Phase, size int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidArgument,
		Detail: fmt.Sprintf("size must be positive, got %d", size),
		Value:  size,
	}
}

// OutOfMemory creates an out of memory error
func OutOfMemory(phase Phase, size int, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfMemory,
		Detail: fmt.Sprintf("cannot reserve %d bytes", size),
		Value:  size,
		Cause:  cause,
	}
}

// TableFull creates the out of memory error for a table that cannot grow
func TableFull(phase Phase, capacity int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfMemory,
		Detail: fmt.Sprintf("no free slot in table of %d entries", capacity),
		Value:  capacity,
	}
}

// InvalidHandle creates an invalid handle error
func InvalidHandle(phase Phase, h handle.Handle) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidHandle,
		Handle: h,
		Detail: "stale, out of range or unoccupied",
	}
}

// InvalidState creates an invalid state error
func InvalidState(phase Phase, h handle.Handle, site, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Handle: h,
		Site:   site,
		Detail: detail,
	}
}

// Corrupted creates the invalid state error for a failed canary check
func Corrupted(phase Phase, site, which string, got uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Site:   site,
		Detail: fmt.Sprintf("%s canary is 0x%016x", which, got),
		Value:  got,
	}
}

// Closed creates the invalid state error for a table after shutdown
func Closed(phase Phase) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Detail: "table is shut down",
	}
}

// Timeout creates a timeout error
func Timeout(phase Phase, h handle.Handle, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTimeout,
		Handle: h,
		Detail: "entry lock not acquired in time",
		Cause:  cause,
	}
}

// Overflow creates a reference count overflow error
func Overflow(phase Phase, h handle.Handle, site string, refs uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Handle: h,
		Site:   site,
		Detail: fmt.Sprintf("reference count at maximum %d", refs),
		Value:  refs,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
