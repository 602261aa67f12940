package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestAsErrorPreservesCodedError(t *testing.T) {
	err := E(CodeForbidden, "missing scope %q", "tenant.write").WithHelp("request the tenant.write scope")

	wrapped := fmt.Errorf("handle: %w", err)
	got := AsError(wrapped)
	if got.Code != CodeForbidden {
		t.Errorf("expected FORBIDDEN, got %s", got.Code)
	}
	if got.Help == "" {
		t.Error("expected help text to survive wrapping")
	}
}

func TestAsErrorNormalizesUncodedError(t *testing.T) {
	got := AsError(errors.New("pq: connection refused"))
	if got.Code != CodeInternalError {
		t.Errorf("expected INTERNAL_ERROR, got %s", got.Code)
	}
	if got.Message != "internal error" {
		t.Errorf("raw error text must not leak, got %q", got.Message)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{CodeRequestInProgress, true},
		{CodeExecutionError, true},
		{CodeRateLimitExceeded, true},
		{CodeInternalError, true},
		{CodeAuthFailed, false},
		{CodeForbidden, false},
		{CodeInvalidBody, false},
		{CodeIntegrityError, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := Retryable(tt.code); got != tt.want {
				t.Errorf("Retryable(%s) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}
