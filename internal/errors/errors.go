// errors.go - Coded error types shared by every component

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Code classifies an error for callers that need to react to it
// (HTTP status mapping, batch failure records, CLI exit messages).
type Code string

const (
	CodeConfig            Code = "CONFIG_ERROR"
	CodeModelResolution   Code = "MODEL_RESOLUTION_FAILED"
	CodeModelLoad         Code = "MODEL_LOAD_FAILED"
	CodeModelNotLoaded    Code = "MODEL_NOT_LOADED"
	CodeInference         Code = "INFERENCE_FAILED"
	CodeIO                Code = "IO_ERROR"
	CodeUnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeCancelled         Code = "CANCELLED"
	CodeUnknown           Code = "UNKNOWN"
)

// Error is a structured error carrying a code, the operation that failed,
// an optional path, and an actionable hint for the user.
type Error struct {
	Code    Code
	Op      string
	Path    string
	Message string
	Hint    string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Op != "" {
		b.WriteString(" [")
		b.WriteString(e.Op)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Path != "" {
		fmt.Fprintf(&b, " (path: %s)", e.Path)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrConfig            = &Error{Code: CodeConfig}
	ErrModelResolution   = &Error{Code: CodeModelResolution}
	ErrModelLoad         = &Error{Code: CodeModelLoad}
	ErrModelNotLoaded    = &Error{Code: CodeModelNotLoaded}
	ErrInference         = &Error{Code: CodeInference}
	ErrIO                = &Error{Code: CodeIO}
	ErrUnsupportedFormat = &Error{Code: CodeUnsupportedFormat}
	ErrInvalidArgument   = &Error{Code: CodeInvalidArgument}
	ErrCancelled         = &Error{Code: CodeCancelled}
)

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// HintOf returns the hint of the first *Error in err's chain that has one.
func HintOf(err error) string {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Hint != "" {
			return e.Hint
		}
		err = stderrors.Unwrap(err)
	}
	return ""
}

// Factory functions for common errors

func NewConfigError(op, message string, cause error) *Error {
	return &Error{
		Code:    CodeConfig,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

func NewModelResolutionError(name string, checked []string) *Error {
	return &Error{
		Code:    CodeModelResolution,
		Op:      "resolve_model",
		Message: fmt.Sprintf("no local copy of model %q found and model.use_local_only is true; checked: %s", name, strings.Join(checked, ", ")),
		Hint:    "set model.local_path to a directory containing the model, run `glm-ocr-export model`, or set model.use_local_only to false",
	}
}

func NewModelLoadError(path, message string, cause error) *Error {
	return &Error{
		Code:    CodeModelLoad,
		Op:      "load_model",
		Path:    path,
		Message: message,
		Cause:   cause,
	}
}

func NewModelNotLoadedError() *Error {
	return &Error{
		Code:    CodeModelNotLoaded,
		Op:      "recognize",
		Message: "model is not loaded",
		Hint:    "load the model first (POST /api/v1/model/load) and wait for status ready",
	}
}

func NewInferenceError(message string, cause error) *Error {
	return &Error{
		Code:    CodeInference,
		Op:      "recognize",
		Message: message,
		Cause:   cause,
	}
}

func NewIOError(op, path string, cause error) *Error {
	return &Error{
		Code:    CodeIO,
		Op:      op,
		Path:    path,
		Message: "file system operation failed",
		Cause:   cause,
	}
}

func NewUnsupportedFormatError(path, detail string) *Error {
	return &Error{
		Code:    CodeUnsupportedFormat,
		Op:      "decode_image",
		Path:    path,
		Message: fmt.Sprintf("unsupported or unreadable image: %s", detail),
		Hint:    "use PNG, JPEG, BMP, GIF, WEBP or TIFF images",
	}
}

func NewInvalidArgumentError(message string) *Error {
	return &Error{
		Code:    CodeInvalidArgument,
		Message: message,
	}
}

func NewCancelledError(op string, cause error) *Error {
	return &Error{
		Code:    CodeCancelled,
		Op:      op,
		Message: "operation was cancelled",
		Cause:   cause,
	}
}

// WithHint returns a copy of e with the hint replaced.
func (e *Error) WithHint(hint string) *Error {
	c := *e
	c.Hint = hint
	return &c
}
