package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("resource not found")
	ErrBadRequest    = errors.New("bad request")
	ErrConflict      = errors.New("conflict")
	ErrInternalError = errors.New("internal error")
)

type Code string

const (
	CodeNotFound        Code = "not_found"
	CodeInvalidArgument Code = "invalid_argument"
	CodeAlreadyExists   Code = "already_exists"
	CodeInternal        Code = "internal"
)

type AppError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(code Code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NotFound(message string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: message,
		Err:     ErrNotFound,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidArgument,
		Message: message,
		Err:     ErrBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeAlreadyExists,
		Message: message,
		Err:     ErrConflict,
	}
}

func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Err:     err,
	}
}

func IsNotFound(err error) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Code == CodeNotFound {
			return true
		}
		return errors.Is(appErr.Err, ErrNotFound)
	}

	return errors.Is(err, ErrNotFound)
}

func IsBadRequest(err error) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Code == CodeInvalidArgument {
			return true
		}
		return errors.Is(appErr.Err, ErrBadRequest)
	}

	return errors.Is(err, ErrBadRequest)
}
