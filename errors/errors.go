package errors

import (
	"fmt"
	"strings"
)

// Phase indicates which stage of decomposition produced the error.
type Phase string

const (
	PhaseParse   Phase = "parse"   // Component IR parsing
	PhaseResolve Phase = "resolve" // alias / outer-scope resolution
	PhaseLink    Phase = "link"    // linking-metadata construction
	PhaseRewrite Phase = "rewrite" // per-module import rewriting
	PhaseEmit    Phase = "emit"    // re-encode/validate/write output
	PhaseIO      Phase = "io"      // filesystem access
)

// Kind categorizes the error within its phase.
type Kind string

const (
	KindMalformed   Kind = "malformed"   // input bytes don't parse
	KindUnsupported Kind = "unsupported" // well-formed but outside supported feature set
	KindInvariant   Kind = "invariant"   // an internal assumption was violated
	KindInvalid     Kind = "invalid"     // produced output fails validation
	KindIO          Kind = "io"          // read/write/filesystem failure
)

// Error is the structured error type used throughout the decomposer.
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error's phase and kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction.
type Builder struct {
	err Error
}

// New creates a new error builder.
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field/index path.
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value.
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error.
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message.
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error.
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common decomposer error patterns.

// Malformed creates an input-malformed error: the bytes don't parse as a
// well-formed component or core module.
func Malformed(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindMalformed,
		Path:   path,
		Detail: detail,
	}
}

// Unsupported creates an unsupported-feature error: the input is well-formed
// but uses a construct this tool does not decompose.
func Unsupported(phase Phase, path []string, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Path:   path,
		Detail: what,
	}
}

// Invariant creates an invariant-violation error: an assumption the builder
// relies on (e.g. instantiation order, index-space bounds) did not hold.
func Invariant(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvariant,
		Path:   path,
		Detail: detail,
	}
}

// OutOfBounds creates an invariant-violation error for an index reference
// that exceeds its index space.
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvariant,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// Invalid creates an output-invalid error: the rewritten module failed
// re-validation before being written.
func Invalid(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalid,
		Detail: detail,
		Cause:  cause,
	}
}

// IO creates a filesystem error.
func IO(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseIO,
		Kind:   KindIO,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with phase/kind/detail context.
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
