package fjpool

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestPoolError_Is(t *testing.T) {
	cause := errors.New("factory down")
	err := errWorkerCreation(cause)

	if !errors.Is(err, ErrWorkerCreation) {
		t.Error("Wrapped creation error should match ErrWorkerCreation")
	}
	if !errors.Is(err, cause) {
		t.Error("Wrapped creation error should match its cause")
	}
	if errors.Is(err, ErrPoolShutdown) {
		t.Error("Creation error must not match ErrPoolShutdown")
	}
	if !strings.Contains(err.Error(), "factory down") {
		t.Errorf("Expected cause in message, got %q", err.Error())
	}
	if ErrCancelled.Error() != "fjpool: task cancelled" {
		t.Errorf("Unexpected message %q", ErrCancelled.Error())
	}
}

func TestPanicError_Unwrap(t *testing.T) {
	pe := newPanicError(io.EOF)
	if !errors.Is(pe, io.EOF) {
		t.Error("PanicError should unwrap an error value")
	}
	if len(pe.Stack) == 0 {
		t.Error("Expected a stack trace")
	}

	pe = newPanicError(42)
	if pe.Unwrap() != nil {
		t.Error("Non-error panic values do not unwrap")
	}
	if !strings.Contains(pe.Error(), "42") {
		t.Errorf("Unexpected message %q", pe.Error())
	}
}
