package models

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AppError is a structured application error with HTTP status code.
type AppError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`
}

func (e *AppError) Error() string { return e.Message }

// Error constructors.
var (
	ErrNotFound = func(msg string) *AppError {
		return &AppError{Code: "NOT_FOUND", Message: msg, Status: 404}
	}
	ErrBadRequest = func(msg string) *AppError {
		return &AppError{Code: "BAD_REQUEST", Message: msg, Status: 400}
	}
	ErrUnauthorized = &AppError{Code: "UNAUTHORIZED", Message: "authentication required", Status: 401}
	ErrInternal     = func(msg string) *AppError {
		return &AppError{Code: "INTERNAL", Message: msg, Status: 500}
	}
	ErrConflict = func(msg string) *AppError {
		return &AppError{Code: "CONFLICT", Message: msg, Status: 409}
	}
	ErrBadGateway = func(msg string) *AppError {
		return &AppError{Code: "BAD_GATEWAY", Message: msg, Status: 502}
	}
)

// FetchErrorKind classifies a failed widget fetch.
type FetchErrorKind string

// Fetch error kinds.
const (
	KindNetwork FetchErrorKind = "network"
	KindAuth    FetchErrorKind = "auth"
	KindEmpty   FetchErrorKind = "empty"
)

// ErrEmpty is returned when an upstream answered but carried no usable data.
var ErrEmpty = errors.New("no data")

// FetchError is the error every widget fetch returns.
type FetchError struct {
	Kind   FetchErrorKind
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s error (HTTP %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusError builds a FetchError for a non-2xx upstream response.
// Only 401 is an authentication failure. Google answers 403 for quota and
// rate limits too, so 403 is a network error like any other status.
func StatusError(status int, what string) *FetchError {
	kind := KindNetwork
	if status == http.StatusUnauthorized {
		kind = KindAuth
	}
	return &FetchError{Kind: kind, Status: status, Err: fmt.Errorf("%s: %s", what, http.StatusText(status))}
}

// NetworkError wraps a transport failure.
func NetworkError(err error) *FetchError {
	return &FetchError{Kind: KindNetwork, Err: err}
}

// Classify returns the kind of a widget error. Errors that are not a
// FetchError count as network failures, ErrEmpty as empty.
func Classify(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, ErrEmpty) {
		return KindEmpty
	}
	return KindNetwork
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	return err != nil && Classify(err) == KindAuth
}

// Fail records err on the status, keeping UpdatedAt of the last success.
// Context cancellation is not recorded.
func (s *WidgetStatus) Fail(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	s.Error = err.Error()
	s.ErrorKind = string(Classify(err))
}

// Succeed clears the error and stamps the update time.
func (s *WidgetStatus) Succeed(at time.Time) {
	s.Error = ""
	s.ErrorKind = ""
	s.UpdatedAt = at
}
