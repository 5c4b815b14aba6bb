package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindAndStageOf(t *testing.T) {
	err := Newf(StageExecution, KindTimeout, "execution exceeded deadline")

	if KindOf(err) != KindTimeout {
		t.Errorf("KindOf = %q, want %q", KindOf(err), KindTimeout)
	}
	if StageOf(err) != StageExecution {
		t.Errorf("StageOf = %q, want %q", StageOf(err), StageExecution)
	}

	plain := errors.New("plain")
	if KindOf(plain) != "" || StageOf(plain) != "" {
		t.Error("plain errors have no kind or stage")
	}
}

func TestWrappedFaultIsStillClassified(t *testing.T) {
	inner := Newf(StageGeneration, KindUnsafeQuery, "denied keyword")
	wrapped := fmt.Errorf("pipeline: %w", inner)

	if KindOf(wrapped) != KindUnsafeQuery {
		t.Errorf("KindOf(wrapped) = %q, want %q", KindOf(wrapped), KindUnsafeQuery)
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(Newf(StageExecution, KindTransient, "node lost")) {
		t.Error("TransientEngineError should be transient")
	}
	for _, kind := range []Kind{KindSyntax, KindPermission, KindTimeout, KindUnsafeQuery} {
		if IsTransient(Newf(StageExecution, kind, "x")) {
			t.Errorf("%s should not be transient", kind)
		}
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := New(StageNotify, KindDelivery, cause)
	if !errors.Is(err, cause) {
		t.Error("fault should unwrap to its cause")
	}
}
