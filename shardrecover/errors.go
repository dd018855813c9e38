package shardrecover

import "fmt"

// Error types for shard-recover operations
var (
	// ErrStoreRead is returned when a store's integrity metadata cannot be read
	ErrStoreRead = &RecoveryError{Code: "STORE_READ_FAILED", Message: "failed to read store metadata"}

	// ErrFileNotFound is returned when a named file is not present in a store
	ErrFileNotFound = &RecoveryError{Code: "FILE_NOT_FOUND", Message: "file not found"}

	// ErrTransfer is returned when sending a file fails for reasons other than local corruption
	ErrTransfer = &RecoveryError{Code: "TRANSFER_FAILED", Message: "file transfer failed"}
)

// RecoveryError represents a structured error in shard-recover operations
type RecoveryError struct {
	Code    string                 // Error code for programmatic handling
	Message string                 // Human-readable error message
	Cause   error                  // Underlying error, if any
	Details map[string]interface{} // Additional context
}

// Error implements the error interface
func (e *RecoveryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	if len(e.Details) > 0 {
		return fmt.Sprintf("[%s] %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *RecoveryError) Unwrap() error {
	return e.Cause
}

// WithCause adds a cause to the error
func (e *RecoveryError) WithCause(cause error) *RecoveryError {
	return &RecoveryError{
		Code:    e.Code,
		Message: e.Message,
		Cause:   cause,
		Details: e.Details,
	}
}

// WithDetail adds a detail key-value pair to the error
func (e *RecoveryError) WithDetail(key string, value interface{}) *RecoveryError {
	details := make(map[string]interface{})
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &RecoveryError{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: details,
	}
}

// WithMessage overrides the error message
func (e *RecoveryError) WithMessage(message string) *RecoveryError {
	return &RecoveryError{
		Code:    e.Code,
		Message: message,
		Cause:   e.Cause,
		Details: e.Details,
	}
}

// IsRecoveryError checks if an error is a RecoveryError
func IsRecoveryError(err error) bool {
	_, ok := err.(*RecoveryError)
	return ok
}

// GetErrorCode extracts the error code from a RecoveryError
func GetErrorCode(err error) string {
	if recoveryErr, ok := err.(*RecoveryError); ok {
		return recoveryErr.Code
	}
	return ""
}
