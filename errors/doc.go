// Package errors provides the structured error type used across the
// decomposer's pipeline stages.
//
// Errors are categorized by Phase (which stage of decomposition produced
// the error) and Kind (the category of failure within that stage). The
// Error type carries an optional path (field/index trail), an offending
// value, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseResolve, errors.KindInvariant).
//		Path("core-instances", "3").
//		Detail("instantiate before its FromExports dependency at index 5").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Unsupported(errors.PhaseParse, path, "nested components")
//	err := errors.OutOfBounds(errors.PhaseResolve, path, 10, 5)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
