package errors

import (
	"errors"
	"fmt"
)

// Common application errors
var (
	// Invalid argument errors
	ErrInvalidClippingThreshold = errors.New("clipping threshold must be greater than 0")
	ErrNonFiniteThreshold       = errors.New("clipping threshold must be finite")
	ErrInvalidNoiseScale        = errors.New("noise scale must be non-negative")
	ErrInvalidSamplingRatio     = errors.New("sampling ratio must be in (0, 1]")
	ErrMissingIterationCount    = errors.New("a value must be supplied for either num_iter or num_epochs")
	ErrInconsistentScales       = errors.New("model reported several observation sites with different scales")
	ErrInconsistentBatch        = errors.New("inconsistent batch size across gradient sites")
	ErrEmptyBatch               = errors.New("batch must contain at least one example")
	ErrStructureMismatch        = errors.New("gradient structure does not match descriptor")

	// Unsupported state errors
	ErrMutableOptimizerState = errors.New("optimizer with mutable internal state is not supported")

	// Numerical errors
	ErrDegenerateGradient = errors.New("gradient vector has zero norm")
	ErrAccountantDiverged = errors.New("privacy accountant iteration left the discretisation domain")
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeInvalidArgument  ErrorType = "invalid_argument"
	ErrorTypeUnsupportedState ErrorType = "unsupported_state"
	ErrorTypeNumerical        ErrorType = "numerical"
	ErrorTypeInternal         ErrorType = "internal"
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details string                 `json:"details,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// NewInvalidArgumentError creates an invalid argument error
func NewInvalidArgumentError(code, message string) *AppError {
	return NewAppError(ErrorTypeInvalidArgument, code, message)
}

// NewUnsupportedStateError creates an unsupported state error
func NewUnsupportedStateError(code, message string) *AppError {
	return NewAppError(ErrorTypeUnsupportedState, code, message)
}

// NewNumericalError creates a numerical degeneracy error
func NewNumericalError(code, message string) *AppError {
	return NewAppError(ErrorTypeNumerical, code, message)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, CodeInternalError, message)
}

// IsInvalidArgument reports whether err is an invalid argument error.
func IsInvalidArgument(err error) bool {
	return isType(err, ErrorTypeInvalidArgument)
}

// IsUnsupportedState reports whether err is an unsupported state error.
func IsUnsupportedState(err error) bool {
	return isType(err, ErrorTypeUnsupportedState)
}

// IsNumerical reports whether err is a numerical degeneracy error.
func IsNumerical(err error) bool {
	return isType(err, ErrorTypeNumerical)
}

func isType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// Error codes for different error scenarios
const (
	// Invalid argument error codes
	CodeNonPositiveThreshold = "NON_POSITIVE_THRESHOLD"
	CodeNonFiniteThreshold   = "NON_FINITE_THRESHOLD"
	CodeInvalidNoiseScale    = "INVALID_NOISE_SCALE"
	CodeInvalidSamplingRatio = "INVALID_SAMPLING_RATIO"
	CodeMissingIterations    = "MISSING_ITERATIONS"
	CodeInconsistentScales   = "INCONSISTENT_OBSERVATION_SCALES"
	CodeInconsistentBatch    = "INCONSISTENT_BATCH"
	CodeEmptyBatch           = "EMPTY_BATCH"
	CodeStructureMismatch    = "STRUCTURE_MISMATCH"
	CodeShapeMismatch        = "SHAPE_MISMATCH"

	// Unsupported state error codes
	CodeMutableOptimizerState = "MUTABLE_OPTIMIZER_STATE"

	// Numerical error codes
	CodeDegenerateGradient = "DEGENERATE_GRADIENT"
	CodeAccountantDiverged = "ACCOUNTANT_DIVERGED"

	// Internal error codes
	CodeInternalError = "INTERNAL_ERROR"
)
