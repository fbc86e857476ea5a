package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected string
	}{
		{
			name:     "error with type and message",
			err:      &APIError{Type: ErrorTypeInvalidRequest, Message: "bad request"},
			expected: "invalid_request: bad request",
		},
		{
			name:     "error with type, code, and message",
			err:      &APIError{Type: ErrorTypeRateLimit, Code: ErrorCodeRateLimitExceeded, Message: "rate limited"},
			expected: "rate_limit (rate_limit_exceeded): rate limited",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected int
	}{
		{"invalid request", &APIError{Type: ErrorTypeInvalidRequest}, http.StatusBadRequest},
		{"unprocessable", &APIError{Type: ErrorTypeUnprocessable}, http.StatusUnprocessableEntity},
		{"rate limit", &APIError{Type: ErrorTypeRateLimit}, http.StatusTooManyRequests},
		{"overloaded", &APIError{Type: ErrorTypeOverloaded}, http.StatusServiceUnavailable},
		{"server", &APIError{Type: ErrorTypeServer}, http.StatusInternalServerError},
		{"unknown type", &APIError{Type: "unknown"}, http.StatusInternalServerError},
		{"explicit status", &APIError{Type: ErrorTypeServer, StatusCode: http.StatusBadGateway}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.expected {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestToAPIError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantType   ErrorType
		wantCode   ErrorCode
		wantStatus int
	}{
		{
			name:       "missing asset",
			err:        fmt.Errorf("build: %w", &MissingRequiredAssetError{Workflow: WorkflowEditImage, Asset: TagWorkingImage}),
			wantType:   ErrorTypeUnprocessable,
			wantCode:   ErrorCodeMissingAsset,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "rate limited",
			err:        &RateLimitedError{UserID: "u1", Window: "minute"},
			wantType:   ErrorTypeRateLimit,
			wantCode:   ErrorCodeRateLimitExceeded,
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "config",
			err:        ConfigErrors{{Field: "breaker.failure_threshold", Reason: "must be positive"}},
			wantType:   ErrorTypeServer,
			wantCode:   ErrorCodeInvalidConfig,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "passthrough",
			err:        ErrInvalidRequest("prompt is required"),
			wantType:   ErrorTypeInvalidRequest,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown",
			err:        errors.New("boom"),
			wantType:   ErrorTypeServer,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToAPIError(tt.err)
			if got.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", got.Type, tt.wantType)
			}
			if got.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.HTTPStatusCode() != tt.wantStatus {
				t.Errorf("HTTPStatusCode() = %d, want %d", got.HTTPStatusCode(), tt.wantStatus)
			}
		})
	}
}

func TestCacheUnavailableError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := fmt.Errorf("get: %w", &CacheUnavailableError{Op: "get", Err: cause})
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the backend cause")
	}
	var cu *CacheUnavailableError
	if !errors.As(err, &cu) {
		t.Fatal("expected errors.As to find CacheUnavailableError")
	}
	if cu.Op != "get" {
		t.Errorf("Op = %q, want %q", cu.Op, "get")
	}
}

func TestConfigErrors_ErrOrNil(t *testing.T) {
	var es ConfigErrors
	if es.ErrOrNil() != nil {
		t.Error("empty ConfigErrors should be nil")
	}
	es = append(es, &ConfigError{Field: "a", Reason: "x"}, &ConfigError{Field: "b", Reason: "y"})
	want := "invalid config a: x; invalid config b: y"
	if got := es.ErrOrNil().Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
