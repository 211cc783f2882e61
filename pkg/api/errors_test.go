package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	e := NewError(CodeTokenExpired, "token has expired")
	want := "TOKEN_EXPIRED: token has expired"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestErrorStringWithRetryAfter(t *testing.T) {
	e := NewRetryableError(CodeAccountLocked, "account locked", 900)
	if !strings.Contains(e.Error(), "retry after 900s") {
		t.Errorf("Error() = %q, want retry-after suffix", e.Error())
	}
}

func TestIsCode(t *testing.T) {
	e := NewError(CodeInvalidCredentials, "invalid email or password")

	if !IsCode(e, CodeInvalidCredentials) {
		t.Error("IsCode failed on direct error")
	}

	wrapped := fmt.Errorf("login: %w", e)
	if !IsCode(wrapped, CodeInvalidCredentials) {
		t.Error("IsCode failed on wrapped error")
	}

	if IsCode(wrapped, CodeAccountLocked) {
		t.Error("IsCode matched wrong code")
	}

	if IsCode(errors.New("plain"), CodeInvalidCredentials) {
		t.Error("IsCode matched non-Error")
	}
}

func TestErrorJSONOmitsZeroRetryAfter(t *testing.T) {
	data, err := json.Marshal(ErrorResponse{Error: NewError(CodeTokenInvalid, "bad token")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "retry_after") {
		t.Errorf("retry_after serialized for zero value: %s", data)
	}

	data, err = json.Marshal(ErrorResponse{Error: NewRetryableError(CodeRateLimitExceeded, "slow down", 30)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"retry_after":30`) {
		t.Errorf("retry_after missing: %s", data)
	}
}

func TestInternalHidesDetail(t *testing.T) {
	e := Internal(errors.New("pq: connection refused at 10.0.0.5"))
	if e.Code != CodeInternal {
		t.Errorf("Code = %s, want INTERNAL_ERROR", e.Code)
	}
	if strings.Contains(e.Message, "10.0.0.5") {
		t.Error("internal error leaked infrastructure detail")
	}
}
