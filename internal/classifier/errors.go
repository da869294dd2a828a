package classifier

import (
	"errors"
	"fmt"
)

// Code is the short machine-readable error code reported to callers.
type Code string

const (
	CodeDecode           Code = "DECODE_ERROR"
	CodeModelUnavailable Code = "MODEL_UNAVAILABLE"
	CodeInference        Code = "INFERENCE_ERROR"
)

// Sentinels for errors.Is. Every *Error matches the sentinel of its code.
var (
	ErrDecode           = errors.New("image could not be decoded")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrInference        = errors.New("inference failed")
)

// Error is the failure type returned by Classify and ClassifyImage.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is maps the error code onto its sentinel.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrDecode:
		return e.Code == CodeDecode
	case ErrModelUnavailable:
		return e.Code == CodeModelUnavailable
	case ErrInference:
		return e.Code == CodeInference
	}
	return false
}

func decodeError(err error) *Error {
	return &Error{Code: CodeDecode, Message: "unable to read image", Err: err}
}

func unavailableError(err error) *Error {
	return &Error{Code: CodeModelUnavailable, Message: "model is not loaded", Err: err}
}

func inferenceError(msg string, err error) *Error {
	return &Error{Code: CodeInference, Message: msg, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
