package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrCacheMiss is returned by cache backends when a key is absent or expired.
	ErrCacheMiss = errors.New("cache miss")

	// ErrMalformedResponse marks classification output that could not be parsed.
	ErrMalformedResponse = errors.New("malformed classification response")

	// ErrReferenceNotFound is returned by reference stores for unknown tags.
	ErrReferenceNotFound = errors.New("reference not found")
)

// RateLimitedError reports that a user exceeded a request or cost window.
type RateLimitedError struct {
	UserID     string
	Window     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: user %q exceeded %s window (retry after %s)", e.UserID, e.Window, e.RetryAfter)
}

// CircuitOpenError is returned by the circuit breaker while it rejects calls.
type CircuitOpenError struct {
	Name  string
	State string
	Until time.Time
}

func (e *CircuitOpenError) Error() string {
	if e.Until.IsZero() {
		return fmt.Sprintf("circuit %s is %s", e.Name, e.State)
	}
	return fmt.Sprintf("circuit %s is %s until %s", e.Name, e.State, e.Until.Format(time.RFC3339))
}

// InvalidClassificationError reports a dependency verdict that cannot be used.
type InvalidClassificationError struct {
	Raw    string
	Reason string
}

func (e *InvalidClassificationError) Error() string {
	return fmt.Sprintf("invalid classification %q: %s", e.Raw, e.Reason)
}

// MissingRequiredAssetError reports that a workflow needs an input asset the
// request did not supply.
type MissingRequiredAssetError struct {
	Workflow WorkflowType
	Asset    string
}

func (e *MissingRequiredAssetError) Error() string {
	return fmt.Sprintf("workflow %s requires %s but none was resolved", e.Workflow, e.Asset)
}

// CacheUnavailableError wraps a backend failure. The cache layer logs it and
// degrades to a miss.
type CacheUnavailableError struct {
	Op  string
	Err error
}

func (e *CacheUnavailableError) Error() string {
	return fmt.Sprintf("cache unavailable during %s: %v", e.Op, e.Err)
}

func (e *CacheUnavailableError) Unwrap() error {
	return e.Err
}

// ConfigError reports invalid configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// ConfigErrors aggregates every problem found while validating a config.
type ConfigErrors []*ConfigError

func (es ConfigErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// ErrOrNil returns nil when no problems were collected.
func (es ConfigErrors) ErrOrNil() error {
	if len(es) == 0 {
		return nil
	}
	return es
}

// ErrorType represents the category of an API error.
type ErrorType string

const (
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	ErrorTypeUnprocessable  ErrorType = "unprocessable"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeOverloaded     ErrorType = "overloaded"
	ErrorTypeServer         ErrorType = "server"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeRateLimitExceeded ErrorCode = "rate_limit_exceeded"
	ErrorCodeMissingAsset      ErrorCode = "missing_required_asset"
	ErrorCodeInvalidConfig     ErrorCode = "invalid_config"
)

// APIError is the error body returned by the HTTP surface.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    ErrorCode `json:"code,omitempty"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`

	// StatusCode overrides the status derived from Type.
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeUnprocessable:
		return http.StatusUnprocessableEntity
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{Type: errType, Message: message}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithParam adds a parameter name to the error.
func (e *APIError) WithParam(param string) *APIError {
	e.Param = param
	return e
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrServer creates a server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}

// ToAPIError maps an engine error onto the HTTP error body.
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var missing *MissingRequiredAssetError
	if errors.As(err, &missing) {
		return NewAPIError(ErrorTypeUnprocessable, missing.Error()).
			WithCode(ErrorCodeMissingAsset).
			WithParam(missing.Asset)
	}

	var limited *RateLimitedError
	if errors.As(err, &limited) {
		return NewAPIError(ErrorTypeRateLimit, limited.Error()).
			WithCode(ErrorCodeRateLimitExceeded)
	}

	var cfgErr *ConfigError
	var cfgErrs ConfigErrors
	if errors.As(err, &cfgErr) || errors.As(err, &cfgErrs) {
		return ErrServer(err.Error()).WithCode(ErrorCodeInvalidConfig)
	}

	return ErrServer(err.Error())
}
