package luthiererr

import (
	"errors"
	"strings"
	"testing"
)

func TestNewCapturesCallSite(t *testing.T) {
	err := New(CacheMiss, "symbol %q not found", "vector_add")
	if !strings.Contains(err.Error(), "cache-miss") || !strings.Contains(err.Error(), "vector_add") {
		t.Errorf("Error() = %q, want kind and message", err.Error())
	}
	if err.File == "" || err.Line == 0 {
		t.Error("New did not capture a source location")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("elf: bad magic")
	err := Wrap(DecodeError, cause, "failed to open code object")
	if !errors.Is(err, cause) {
		t.Error("Wrap did not chain the cause for errors.Is")
	}
	if !strings.Contains(err.Error(), "elf: bad magic") {
		t.Errorf("Error() = %q, want it to include the cause", err.Error())
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := New(LoaderError, "executable not alive")
	if !Is(err, LoaderError) {
		t.Error("Is(err, LoaderError) = false, want true")
	}
	if Is(err, CacheMiss) {
		t.Error("Is(err, CacheMiss) = true, want false")
	}
	if Is(errors.New("plain error"), LoaderError) {
		t.Error("Is should return false for a non-*Error")
	}
}

func TestKindStrings(t *testing.T) {
	cases := map[Kind]string{
		RuntimeError:       "runtime-error",
		TargetError:        "target-error",
		DecodeError:        "decode-error",
		LiftError:          "lift-error",
		LoweringError:      "lowering-error",
		CodegenError:       "codegen-error",
		LoaderError:        "loader-error",
		CacheMiss:          "cache-miss",
		InvariantViolation: "invariant-violation",
		Kind(99):           "unknown-error",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}

func TestFatalPanicsWithInvariantViolation(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Fatal did not panic")
		}
		e, ok := r.(*Error)
		if !ok {
			t.Fatalf("recovered value is %T, want *Error", r)
		}
		if e.Kind != InvariantViolation {
			t.Errorf("Kind = %v, want InvariantViolation", e.Kind)
		}
	}()
	Fatal("register class %d never allocated", 7)
}
