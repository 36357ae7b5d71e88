package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad        Phase = "load"        // reading a module source
	PhaseCompile     Phase = "compile"     // wasm validation and compilation
	PhaseValidate    Phase = "validate"    // capability and config checks
	PhaseInstantiate Phase = "instantiate" // module instantiation
	PhaseMarshal     Phase = "marshal"     // host values to and from linear memory
	PhaseProtocol    Phase = "protocol"    // wire message handling
	PhaseBoot        Phase = "boot"        // worker bootstrap
	PhaseRuntime     Phase = "runtime"     // calls into a running instance
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidData       Kind = "invalid_data"
	KindInvalidInput      Kind = "invalid_input"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindNotFound          Kind = "not_found"
	KindNotInitialized    Kind = "not_initialized"
	KindMissingCapability Kind = "missing_capability"
	KindSignatureMismatch Kind = "signature_mismatch"
	KindMalformedMessage  Kind = "malformed_message"
	KindUnsupported       Kind = "unsupported"
	KindInstantiation     Kind = "instantiation"
	KindClosed            Kind = "closed"
	KindCanceled          Kind = "canceled"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Source string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Source != "" {
		b.WriteString(" at ")
		b.WriteString(e.Source)
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

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
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

// Source sets the module source the error relates to
func (b *Builder) Source(src string) *Builder {
	b.err.Source = src
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

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(source string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindNotFound,
		Source: source,
		Detail: "read module",
		Cause:  cause,
	}
}

// Compile creates a compilation error
func Compile(source string, cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindInvalidData,
		Source: source,
		Detail: "compile module",
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(source string, cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInstantiation,
		Source: source,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// OutOfBounds creates a linear memory bounds error
func OutOfBounds(phase Phase, offset, length, size uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [%d, %d) exceeds memory size %d", offset, uint64(offset)+uint64(length), size),
		Value:  offset,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Malformed creates a malformed wire message error
func Malformed(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseProtocol,
		Kind:   KindMalformedMessage,
		Detail: detail,
		Cause:  cause,
	}
}

// Closed creates an error for use of a closed resource
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: what + " closed",
	}
}

// Capability describes one entry point of the module's required surface
type Capability struct {
	Name   string // export name, e.g. "shim_best_move"
	Reason string // empty when absent, otherwise why it does not qualify
}

// MissingCapabilityError is returned when an instantiated surface lacks
// required entry points or exposes them with the wrong signature
type MissingCapabilityError struct {
	Source       string
	Capabilities []Capability
}

// NewMissingCapabilityError creates an error for absent export names
func NewMissingCapabilityError(source string, names []string) *MissingCapabilityError {
	result := &MissingCapabilityError{
		Source:       source,
		Capabilities: make([]Capability, 0, len(names)),
	}
	for _, name := range names {
		result.Capabilities = append(result.Capabilities, Capability{Name: name})
	}
	return result
}

// Names returns the offending export names in order
func (e *MissingCapabilityError) Names() []string {
	names := make([]string, len(e.Capabilities))
	for i, c := range e.Capabilities {
		names[i] = c.Name
	}
	return names
}

func (e *MissingCapabilityError) Error() string {
	if len(e.Capabilities) == 0 {
		return "[validate] missing_capability: no capabilities specified"
	}

	var b strings.Builder
	b.WriteString("[validate] missing_capability")
	if e.Source != "" {
		b.WriteString(" at ")
		b.WriteString(e.Source)
	}
	b.WriteString(": ")

	for i, c := range e.Capabilities {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.Name)
		if c.Reason != "" {
			b.WriteString(" (")
			b.WriteString(c.Reason)
			b.WriteByte(')')
		}
	}

	return b.String()
}

// Is reports whether target matches this error type
func (e *MissingCapabilityError) Is(target error) bool {
	_, ok := target.(*MissingCapabilityError)
	return ok
}
