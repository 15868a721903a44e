package core

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil is ok", nil, http.StatusOK},
		{"validation is 400", fmt.Errorf("bad column: %w", ErrValidation), http.StatusBadRequest},
		{"not found is 404", fmt.Errorf("unknown job: %w", ErrNotFound), http.StatusNotFound},
		{"state is 400", fmt.Errorf("already terminal: %w", ErrState), http.StatusBadRequest},
		{"not ready is 425", NotCompleted(StatusProcessing), http.StatusTooEarly},
		{"range is 416", fmt.Errorf("bad range: %w", ErrRange), http.StatusRequestedRangeNotSatisfiable},
		{"programmer is 500", fmt.Errorf("impossible transition: %w", ErrProgrammer), http.StatusInternalServerError},
		{"unrecognized is 500", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestMessageHidesProgrammerErrors(t *testing.T) {
	err := fmt.Errorf("registry has job %s in status completed already: %w", "abc", ErrProgrammer)
	if got := Message(err); got != "internal error" {
		t.Errorf("Message() = %q, want generic message, got leaked internals", got)
	}
}

func TestMessagePassesThroughOtherErrors(t *testing.T) {
	err := NotCompleted(StatusProcessing)
	if got := Message(err); got == "internal error" {
		t.Errorf("Message() hid a non-programmer error")
	}
}

func TestNotCompletedNamesState(t *testing.T) {
	err := NotCompleted(StatusProcessing)
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("NotCompleted() does not wrap ErrNotReady")
	}
	want := "Export is processing. It is not yet available for download"
	if got := err.Error(); len(got) < len(want) || got[:len(want)] != want {
		t.Errorf("NotCompleted().Error() = %q, want prefix %q", got, want)
	}
}
