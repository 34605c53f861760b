package errorutil

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to callers.
const (
	CodeValidation             = "VALIDATION_FAILED"
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeNotFound               = "NOT_FOUND"
	CodeTicketClosed           = "TICKET_CLOSED"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeInternal               = "INTERNAL_ERROR"
)

// Sentinels for errors.Is comparisons. Matching is done on Code only.
var (
	ErrValidation             = &DomainError{Code: CodeValidation}
	ErrInvalidTransition      = &DomainError{Code: CodeInvalidTransition}
	ErrNotFound               = &DomainError{Code: CodeNotFound}
	ErrTicketClosed           = &DomainError{Code: CodeTicketClosed}
	ErrConcurrentModification = &DomainError{Code: CodeConcurrentModification}
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError carrying the same code.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewInvalidTransition(message string, details map[string]any) error {
	return NewDomainError(CodeInvalidTransition, message, http.StatusConflict, details)
}

func NewTicketClosed(message string, details map[string]any) error {
	return NewDomainError(CodeTicketClosed, message, http.StatusUnprocessableEntity, details)
}

func NewConcurrentModification(details map[string]any) error {
	return NewDomainError(CodeConcurrentModification, "ticket was modified concurrently; retry against the latest state", http.StatusConflict, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		if domainErr.HTTPStatus == 0 {
			return &DomainError{
				Code:       domainErr.Code,
				Message:    domainErr.Error(),
				HTTPStatus: statusForCode(domainErr.Code),
				Details:    domainErr.Details,
				Err:        domainErr.Err,
			}
		}
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// MapError normalises err into a *DomainError, keeping nil as nil.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}

func statusForCode(code string) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeInvalidTransition, CodeConcurrentModification:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTicketClosed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
