package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseCompile,
				Kind:   KindInvalidData,
				Source: "artifacts/wasm/engine.wasm",
				Detail: "compile module",
			},
			contains: []string{"[compile]", "invalid_data", "artifacts/wasm/engine.wasm", "compile module"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseMarshal,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[marshal]", "out_of_bounds"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseLoad,
				Kind:   KindNotFound,
				Detail: "read module",
				Cause:  errors.New("no such file"),
			},
			contains: []string{"[load]", "not_found", "read module", "caused by", "no such file"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Load("engine.wasm", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase:  PhaseProtocol,
		Kind:   KindMalformedMessage,
		Detail: "missing id",
	}

	if !err.Is(&Error{Phase: PhaseProtocol, Kind: KindMalformedMessage}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseBoot, Kind: KindMalformedMessage}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseProtocol, Kind: KindInvalidData}) {
		t.Error("Is should not match different kind")
	}
	if !errors.Is(err, &Error{Phase: PhaseProtocol, Kind: KindMalformedMessage}) {
		t.Error("errors.Is should match")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseValidate, KindSignatureMismatch).
		Source("candidate-2").
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "(i32) -> i32", "() -> i32").
		Build()

	if err.Phase != PhaseValidate {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseValidate)
	}
	if err.Kind != KindSignatureMismatch {
		t.Errorf("Kind = %v, want %v", err.Kind, KindSignatureMismatch)
	}
	if err.Source != "candidate-2" {
		t.Errorf("Source = %v", err.Source)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected (i32) -> i32, got () -> i32" {
		t.Errorf("Detail = %v", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("OutOfBounds", func(t *testing.T) {
		err := OutOfBounds(PhaseMarshal, 65530, 16, 65536)
		if err.Kind != KindOutOfBounds {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOutOfBounds)
		}
		if !strings.Contains(err.Detail, "65546") {
			t.Errorf("Detail = %v, should contain end offset", err.Detail)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		err := NotFound(PhaseRuntime, "function", "shim_best_move")
		if err.Kind != KindNotFound || !strings.Contains(err.Detail, "shim_best_move") {
			t.Errorf("unexpected error %v", err)
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		err := Malformed("missing type", nil)
		if err.Phase != PhaseProtocol || err.Kind != KindMalformedMessage {
			t.Errorf("unexpected error %v", err)
		}
	})

	t.Run("Closed", func(t *testing.T) {
		err := Closed(PhaseRuntime, "instance")
		if err.Detail != "instance closed" {
			t.Errorf("Detail = %q", err.Detail)
		}
	})
}

func TestMissingCapabilityError(t *testing.T) {
	t.Run("names absent exports", func(t *testing.T) {
		err := NewMissingCapabilityError("engine.wasm", []string{"shim_best_move", "memory"})
		msg := err.Error()
		for _, s := range []string{"missing_capability", "engine.wasm", "shim_best_move", "memory"} {
			if !strings.Contains(msg, s) {
				t.Errorf("error %q should contain %q", msg, s)
			}
		}
		names := err.Names()
		if len(names) != 2 || names[0] != "shim_best_move" {
			t.Errorf("Names() = %v", names)
		}
	})

	t.Run("reason is reported", func(t *testing.T) {
		err := &MissingCapabilityError{Capabilities: []Capability{
			{Name: "shim_best_move", Reason: "want (i32) -> (i32), got () -> (i32)"},
		}}
		if !strings.Contains(err.Error(), "want (i32) -> (i32)") {
			t.Errorf("reason missing from %q", err.Error())
		}
	})

	t.Run("empty", func(t *testing.T) {
		err := NewMissingCapabilityError("", nil)
		if !strings.Contains(err.Error(), "no capabilities specified") {
			t.Errorf("unexpected message %q", err.Error())
		}
	})

	t.Run("errors.Is", func(t *testing.T) {
		var err error = NewMissingCapabilityError("x", []string{"memory"})
		if !errors.Is(err, &MissingCapabilityError{}) {
			t.Error("errors.Is should match MissingCapabilityError")
		}
	})
}
