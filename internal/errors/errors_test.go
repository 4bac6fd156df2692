package errors

import (
	stderrors "errors"
	"net/http"
	"testing"
)

func TestAppErrorMessage(t *testing.T) {
	err := New(CodeSessionNotFound, "no session")
	if got := err.Error(); got != "[SESSION_NOT_FOUND] no session" {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrap(cause, CodeTranscribeFailed, "transcription failed")

	if !stderrors.Is(err, cause) {
		t.Error("wrapped error should match cause via errors.Is")
	}
	if CodeOf(err) != CodeTranscribeFailed {
		t.Errorf("expected code TRANSCRIBE_FAILED, got %s", CodeOf(err))
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if CodeOf(stderrors.New("plain")) != CodeUnknown {
		t.Error("plain errors should map to CodeUnknown")
	}
}

func TestIsCode(t *testing.T) {
	err := New(CodeSessionConflict, "overlap")
	if !IsCode(err, CodeSessionConflict) {
		t.Error("IsCode should match")
	}
	if IsCode(err, CodeSessionNotFound) {
		t.Error("IsCode should not match different code")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{CodeUnavailable, true},
		{CodeTimeout, true},
		{CodeRateLimited, true},
		{CodeInvalidArgument, false},
		{CodeSessionNotFound, false},
		{CodeTranscribeFailed, false},
	}

	for _, tt := range tests {
		if got := IsRetryable(New(tt.code, "x")); got != tt.want {
			t.Errorf("IsRetryable(%s) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeSessionNotFound, http.StatusNotFound},
		{CodeSessionConflict, http.StatusConflict},
		{CodeInvalidArgument, http.StatusBadRequest},
		{CodeRateLimited, http.StatusTooManyRequests},
		{Code("BOGUS"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := New(tt.code, "x").HTTPStatus(); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestWithMetadata(t *testing.T) {
	err := New(CodeInternal, "oops").WithMetadata("subject_key", "p1")
	if err.Metadata["subject_key"] != "p1" {
		t.Error("metadata not set")
	}
}
