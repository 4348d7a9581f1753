// Package errors provides the gateway's typed error taxonomy, used to
// classify upstream failures and choose the executor's retry behavior.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// GatewayError is the base error type every typed error embeds.
type GatewayError struct {
	Message   string                 `json:"message"`
	Code      string                 `json:"code"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func (e *GatewayError) Error() string {
	return e.Message
}

// ToJSON converts the error to the shape returned in an API response body.
func (e *GatewayError) ToJSON() map[string]interface{} {
	result := map[string]interface{}{
		"code":      e.Code,
		"message":   e.Message,
		"retryable": e.Retryable,
	}
	for k, v := range e.Metadata {
		result[k] = v
	}
	return result
}

func (e *GatewayError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToJSON())
}

// NewGatewayError creates a new GatewayError.
func NewGatewayError(message, code string, retryable bool, metadata map[string]interface{}) *GatewayError {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	return &GatewayError{
		Message:   message,
		Code:      code,
		Retryable: retryable,
		Metadata:  metadata,
	}
}

// RateLimitError represents a rate-limit response (429 / RESOURCE_EXHAUSTED)
// from the upstream service.
type RateLimitError struct {
	*GatewayError
	ResetMs      *int64 `json:"resetMs,omitempty"`
	AccountEmail string `json:"accountEmail,omitempty"`
}

func NewRateLimitError(message string, resetMs *int64, accountEmail string) *RateLimitError {
	metadata := map[string]interface{}{}
	if resetMs != nil {
		metadata["resetMs"] = *resetMs
	}
	if accountEmail != "" {
		metadata["accountEmail"] = accountEmail
	}
	return &RateLimitError{
		GatewayError: &GatewayError{
			Message:   message,
			Code:      "RATE_LIMITED",
			Retryable: true,
			Metadata:  metadata,
		},
		ResetMs:      resetMs,
		AccountEmail: accountEmail,
	}
}

// AuthError represents a permanent or transient authentication failure for
// an account's credentials.
type AuthError struct {
	*GatewayError
	AccountEmail string `json:"accountEmail,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

func NewAuthError(message, accountEmail, reason string) *AuthError {
	metadata := map[string]interface{}{}
	if accountEmail != "" {
		metadata["accountEmail"] = accountEmail
	}
	if reason != "" {
		metadata["reason"] = reason
	}
	return &AuthError{
		GatewayError: &GatewayError{
			Message:   message,
			Code:      "AUTH_INVALID",
			Retryable: false,
			Metadata:  metadata,
		},
		AccountEmail: accountEmail,
		Reason:       reason,
	}
}

// NoAccountsError represents selection failure: no account in the pool is
// both enabled and usable for the requested model.
type NoAccountsError struct {
	*GatewayError
	AllRateLimited bool `json:"allRateLimited"`
}

func NewNoAccountsError(message string, allRateLimited bool) *NoAccountsError {
	if message == "" {
		message = "No accounts available"
	}
	return &NoAccountsError{
		GatewayError: &GatewayError{
			Message:   message,
			Code:      "NO_ACCOUNTS",
			Retryable: allRateLimited,
			Metadata: map[string]interface{}{
				"allRateLimited": allRateLimited,
			},
		},
		AllRateLimited: allRateLimited,
	}
}

// MaxRetriesError represents exhaustion of the executor's attempt budget.
type MaxRetriesError struct {
	*GatewayError
	Attempts int `json:"attempts"`
}

func NewMaxRetriesError(message string, attempts int) *MaxRetriesError {
	if message == "" {
		message = "Max retries exceeded"
	}
	return &MaxRetriesError{
		GatewayError: &GatewayError{
			Message:   message,
			Code:      "MAX_RETRIES",
			Retryable: false,
			Metadata: map[string]interface{}{
				"attempts": attempts,
			},
		},
		Attempts: attempts,
	}
}

// ApiError represents a non-2xx response from the upstream service that
// doesn't fit one of the other typed categories.
type ApiError struct {
	*GatewayError
	StatusCode int    `json:"statusCode"`
	ErrorType  string `json:"errorType"`
}

func NewApiError(message string, statusCode int, errorType string) *ApiError {
	if errorType == "" {
		errorType = "api_error"
	}
	return &ApiError{
		GatewayError: &GatewayError{
			Message:   message,
			Code:      strings.ToUpper(errorType),
			Retryable: statusCode >= 500,
			Metadata: map[string]interface{}{
				"statusCode": statusCode,
				"errorType":  errorType,
			},
		},
		StatusCode: statusCode,
		ErrorType:  errorType,
	}
}

// EmptyResponseError represents an upstream 2xx response with no usable
// content, which the executor treats as retryable up to a small budget.
type EmptyResponseError struct {
	*GatewayError
}

func NewEmptyResponseError(message string) *EmptyResponseError {
	if message == "" {
		message = "No content received from upstream"
	}
	return &EmptyResponseError{
		GatewayError: &GatewayError{
			Message:   message,
			Code:      "EMPTY_RESPONSE",
			Retryable: true,
			Metadata:  make(map[string]interface{}),
		},
	}
}

// CapacityExhaustedError represents a transient model-capacity rejection,
// distinct from quota/rate-limit exhaustion.
type CapacityExhaustedError struct {
	*GatewayError
	RetryAfterMs *int64 `json:"retryAfterMs,omitempty"`
}

func NewCapacityExhaustedError(message string, retryAfterMs *int64) *CapacityExhaustedError {
	if message == "" {
		message = "Model capacity exhausted"
	}
	metadata := map[string]interface{}{}
	if retryAfterMs != nil {
		metadata["retryAfterMs"] = *retryAfterMs
	}
	return &CapacityExhaustedError{
		GatewayError: &GatewayError{
			Message:   message,
			Code:      "CAPACITY_EXHAUSTED",
			Retryable: true,
			Metadata:  metadata,
		},
		RetryAfterMs: retryAfterMs,
	}
}

// IsRateLimitError reports whether err is or describes a rate-limit response.
func IsRateLimitError(err error) bool {
	if _, ok := err.(*RateLimitError); ok {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota_exhausted") ||
		strings.Contains(msg, "rate limit")
}

// IsAuthError reports whether err is or describes an authentication failure.
func IsAuthError(err error) bool {
	if _, ok := err.(*AuthError); ok {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "AUTH_INVALID") ||
		strings.Contains(msg, "INVALID_GRANT") ||
		strings.Contains(msg, "TOKEN REFRESH FAILED")
}

// IsEmptyResponseError reports whether err represents an empty upstream response.
func IsEmptyResponseError(err error) bool {
	if _, ok := err.(*EmptyResponseError); ok {
		return true
	}
	if ge, ok := err.(*GatewayError); ok {
		return ge.Code == "EMPTY_RESPONSE"
	}
	return false
}

// IsCapacityExhaustedError reports whether err describes model-capacity exhaustion.
func IsCapacityExhaustedError(err error) bool {
	if _, ok := err.(*CapacityExhaustedError); ok {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "model_capacity_exhausted") ||
		strings.Contains(msg, "capacity_exhausted") ||
		strings.Contains(msg, "model is currently overloaded") ||
		strings.Contains(msg, "service temporarily unavailable")
}

// WrapError wraps a plain error as a GatewayError.
func WrapError(err error, code string, retryable bool) *GatewayError {
	if err == nil {
		return nil
	}
	return NewGatewayError(err.Error(), code, retryable, nil)
}

// FormatAPIError formats an error for an API response body.
func FormatAPIError(err error) map[string]interface{} {
	switch e := err.(type) {
	case *RateLimitError:
		return e.ToJSON()
	case *AuthError:
		return e.ToJSON()
	case *NoAccountsError:
		return e.ToJSON()
	case *MaxRetriesError:
		return e.ToJSON()
	case *ApiError:
		return e.ToJSON()
	case *EmptyResponseError:
		return e.ToJSON()
	case *CapacityExhaustedError:
		return e.ToJSON()
	case *GatewayError:
		return e.ToJSON()
	}

	return map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": err.Error(),
		},
	}
}

// HTTPStatusFromError returns the HTTP status code the server should return
// for a given error.
func HTTPStatusFromError(err error) int {
	switch e := err.(type) {
	case *RateLimitError:
		return 429
	case *AuthError:
		return 401
	case *NoAccountsError:
		if e.AllRateLimited {
			return 429
		}
		return 503
	case *MaxRetriesError:
		return 503
	case *ApiError:
		return e.StatusCode
	case *EmptyResponseError:
		return 502
	case *CapacityExhaustedError:
		return 503
	default:
		return 500
	}
}

// ErrorWithContext wraps err with a context prefix.
func ErrorWithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}
