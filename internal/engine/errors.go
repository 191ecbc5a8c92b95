package engine

import (
	"context"
	"errors"
	"fmt"

	"readapi/internal/metadata"
	"readapi/internal/query"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(entity, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", entity, id),
	}
}

func UnknownEntityError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_ENTITY",
		Status:  404,
		Message: fmt.Sprintf("Unknown entity: %s", name),
	}
}

// FilterError rejects a parameter that names no safely filterable field.
type FilterError struct {
	Field  string
	Reason string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %q: %s", e.Field, e.Reason)
}

// ParamError rejects a malformed value: a bad format, callback, pagination
// bound, operator or filter literal.
type ParamError struct {
	Param  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("parameter %q: %s", e.Param, e.Reason)
}

// SerializationError reports a record that cannot be represented, such as a
// stored choice code without a label. When attached to an additional field
// it annotates that field only.
type SerializationError struct {
	Entity string
	Field  string
	Err    error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize %s.%s: %v", e.Entity, e.Field, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// toAppError maps an error from any layer onto the HTTP error envelope.
func toAppError(err error) *AppError {
	var (
		appErr    *AppError
		filterErr *FilterError
		paramErr  *ParamError
		serErr    *SerializationError
	)
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.As(err, &filterErr):
		return &AppError{
			Code:    "NOT_FILTERABLE",
			Status:  400,
			Message: fmt.Sprintf("Field %s is not filterable", filterErr.Field),
			Details: []ErrorDetail{{Field: filterErr.Field, Rule: "filterable", Message: filterErr.Reason}},
		}
	case errors.As(err, &paramErr):
		return &AppError{
			Code:    "INVALID_PARAMETER",
			Status:  400,
			Message: fmt.Sprintf("Invalid parameter %s", paramErr.Param),
			Details: []ErrorDetail{{Field: paramErr.Param, Message: paramErr.Reason}},
		}
	case errors.Is(err, metadata.ErrUnknownEntity):
		return &AppError{Code: "UNKNOWN_ENTITY", Status: 404, Message: err.Error()}
	case errors.Is(err, query.ErrNotFound):
		return &AppError{Code: "NOT_FOUND", Status: 404, Message: err.Error()}
	case errors.As(err, &serErr):
		return &AppError{
			Code:    "SERIALIZATION_FAILED",
			Status:  500,
			Message: "Record could not be serialized",
			Details: []ErrorDetail{{Field: serErr.Field, Message: serErr.Err.Error()}},
		}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &AppError{Code: "TIMEOUT", Status: 503, Message: "Request timed out"}
	default:
		return &AppError{Code: "INTERNAL_ERROR", Status: 500, Message: "Internal server error"}
	}
}
