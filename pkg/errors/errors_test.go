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
		{"not found", fmt.Errorf("doc 1: %w", ErrNotFound), http.StatusNotFound},
		{"index not found", fmt.Errorf("index x: %w", ErrIndexNotFound), http.StatusNotFound},
		{"exists", fmt.Errorf("index x: %w", ErrAlreadyExists), http.StatusConflict},
		{"query", InvalidQuery("term", "title", nil, "field is required"), http.StatusBadRequest},
		{"field", &FieldError{Field: "pages", Value: "x", Err: errors.New("not a number")}, http.StatusBadRequest},
		{"closed", ErrIndexClosed, http.StatusServiceUnavailable},
		{"app error wins", New(ErrNotFound, http.StatusGone, "gone"), http.StatusGone},
		{"unknown", context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusCode(tt.err); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestQueryErrorMessage(t *testing.T) {
	err := InvalidQuery("match_phrase", "title", -1, "slop must not be negative")
	want := `invalid query: match_phrase on field "title" (value -1): slop must not be negative`
	if err.Error() != want {
		t.Errorf("message = %q", err.Error())
	}
	var qe *QueryError
	if !errors.As(fmt.Errorf("parsing: %w", err), &qe) || qe.Kind != "match_phrase" {
		t.Error("QueryError should survive wrapping")
	}
}

func TestFieldErrorUnwrapsBoth(t *testing.T) {
	cause := errors.New("bad date")
	err := &FieldError{Field: "published_at", Value: "soon", Err: cause}
	if !errors.Is(err, ErrInvalidInput) || !errors.Is(err, cause) {
		t.Error("FieldError should match ErrInvalidInput and its cause")
	}
}
