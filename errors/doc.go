// Package errors provides structured error types for the wasm-chess module.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the module source involved, a detail message and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseValidate, errors.KindSignatureMismatch).
//		Source("artifacts/wasm/sameshi-engine.wasm").
//		Detail("shim_best_move: want (i32) -> (i32)").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Load(path, cause)
//	err := errors.OutOfBounds(errors.PhaseMarshal, offset, length, size)
//
// Engine-reported failures are not represented here; they are abi.BoundaryError
// values carrying the module's status code.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
