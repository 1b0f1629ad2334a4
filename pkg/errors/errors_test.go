package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", Invalidf("limit %d", -1), http.StatusBadRequest},
		{"wrapped invalid", fmt.Errorf("search: %w", ErrInvalidInput), http.StatusBadRequest},
		{"empty corpus", ErrEmptyCorpus, http.StatusBadRequest},
		{"not ready", fmt.Errorf("query: %w", ErrNotReady), http.StatusServiceUnavailable},
		{"timeout", fmt.Errorf("search: %w: %w", ErrTimeout, context.DeadlineExceeded), http.StatusServiceUnavailable},
		{"corrupt", Corruptf("bad digest"), http.StatusInternalServerError},
		{"explicit status", New(ErrIO, http.StatusConflict, "busy"), http.StatusConflict},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := HTTPStatusCode(test.err); got != test.want {
				t.Errorf("HTTPStatusCode(%v) = %d, want %d", test.err, got, test.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	err := fmt.Errorf("loading: %w", Corruptf("truncated at %d", 12))
	if !Is(err, ErrCorruptData) {
		t.Fatal("sentinel lost through wrapping")
	}
	var appErr *AppError
	if !As(err, &appErr) || appErr.Message != "truncated at 12" {
		t.Errorf("As = %+v", appErr)
	}
	if got := appErr.Error(); got != "corrupt index data: truncated at 12" {
		t.Errorf("Error() = %q", got)
	}
}
