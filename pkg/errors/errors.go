// Package errors provides structured error handling for keyward.
// It defines the recovery error taxonomy as sentinel errors, exit codes,
// and helpers for adding context, details, and suggestions to errors.
//
// Details must never carry key material. Callers attach amounts, provider
// names and key roles only.
//
//nolint:revive // Package name intentionally shadows stdlib for domain-specific error handling
package errors

import (
	"errors"
	"fmt"
	"sort"
)

// Exit codes for callers that surface errors as process status.
const (
	ExitSuccess    = 0 // Successful execution
	ExitGeneral    = 1 // General/unknown error
	ExitInput      = 2 // Invalid input
	ExitAuth       = 3 // Key decryption failed
	ExitNotFound   = 4 // Nothing to recover
	ExitPermission = 5 // Insufficient balance to cover fees
	ExitUpstream   = 6 // Provider failure or verification mismatch
)

// KeywardError is the structured error type for keyward.
type KeywardError struct {
	Code       string            // Machine-readable error code
	Message    string            // Human-readable message
	Details    map[string]string // Additional context
	Suggestion string            // Actionable suggestion for user
	Cause      error             // Underlying error
	ExitCode   int               // Exit code for CLI
}

func (e *KeywardError) Error() string {
	msg := e.Message

	// Include details in error message (sorted for deterministic output)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Details[k])
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *KeywardError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for KeywardError.
func (e *KeywardError) Is(target error) bool {
	var t *KeywardError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinel errors.
var (
	ErrGeneral = &KeywardError{
		Code:     "GENERAL_ERROR",
		Message:  "an error occurred",
		ExitCode: ExitGeneral,
	}

	ErrInvalidInput = &KeywardError{
		Code:     "INVALID_INPUT",
		Message:  "invalid input",
		ExitCode: ExitInput,
	}

	// Key material errors. Details carry the key role only.
	ErrKeyDecryption = &KeywardError{
		Code:     "KEY_DECRYPTION_FAILED",
		Message:  "unable to decrypt key - wrong passphrase or corrupted ciphertext",
		ExitCode: ExitAuth,
	}

	ErrKeyValidation = &KeywardError{
		Code:     "KEY_VALIDATION_FAILED",
		Message:  "key is not a valid extended key",
		ExitCode: ExitInput,
	}

	// Parameter errors, raised before any provider call.
	ErrInvalidDestinationAddress = &KeywardError{
		Code:     "INVALID_DESTINATION_ADDRESS",
		Message:  "invalid recovery destination address",
		ExitCode: ExitInput,
	}

	ErrInvalidScanParameter = &KeywardError{
		Code:     "INVALID_SCAN_PARAMETER",
		Message:  "scan must be a non-negative integer",
		ExitCode: ExitInput,
	}

	ErrUnsupportedProvider = &KeywardError{
		Code:     "UNSUPPORTED_KRS_PROVIDER",
		Message:  "unknown key recovery service provider",
		ExitCode: ExitInput,
	}

	ErrUnconfiguredFeeAddress = &KeywardError{
		Code:     "UNCONFIGURED_FEE_ADDRESS",
		Message:  "key recovery service provider has no fee address for this coin",
		ExitCode: ExitInput,
	}

	ErrUnsupportedFeeType = &KeywardError{
		Code:     "UNSUPPORTED_FEE_TYPE",
		Message:  "unsupported key recovery service fee type",
		ExitCode: ExitInput,
	}

	// Recovery outcome errors.
	ErrNoFundsFound = &KeywardError{
		Code:     "NO_FUNDS_FOUND",
		Message:  "no unspents found to recover",
		ExitCode: ExitNotFound,
	}

	ErrInsufficientRecoveryBalance = &KeywardError{
		Code:     "INSUFFICIENT_RECOVERY_BALANCE",
		Message:  "insufficient balance to cover recovery fees",
		ExitCode: ExitPermission,
	}

	ErrRecoveryVerification = &KeywardError{
		Code:     "RECOVERY_VERIFICATION_FAILED",
		Message:  "decoded transaction id does not match the signed recovery transaction",
		ExitCode: ExitUpstream,
	}

	ErrInvalidTransaction = &KeywardError{
		Code:     "INVALID_TRANSACTION",
		Message:  "invalid transaction",
		ExitCode: ExitInput,
	}

	// Provider errors.
	ErrProviderNotImplemented = &KeywardError{
		Code:     "PROVIDER_NOT_IMPLEMENTED",
		Message:  "operation not implemented by recovery provider",
		ExitCode: ExitGeneral,
	}

	ErrProviderRequest = &KeywardError{
		Code:     "PROVIDER_REQUEST_FAILED",
		Message:  "recovery provider request failed",
		ExitCode: ExitUpstream,
	}

	// Config-specific errors.
	ErrConfigNotFound = &KeywardError{
		Code:     "CONFIG_NOT_FOUND",
		Message:  "configuration file not found",
		ExitCode: ExitNotFound,
	}

	ErrConfigInvalid = &KeywardError{
		Code:     "CONFIG_INVALID",
		Message:  "configuration file is invalid",
		ExitCode: ExitInput,
	}
)

// New creates a new KeywardError with the given code and message.
func New(code, message string) *KeywardError {
	return &KeywardError{
		Code:     code,
		Message:  message,
		ExitCode: ExitGeneral,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)

	var ke *KeywardError
	if errors.As(err, &ke) {
		return &KeywardError{
			Code:       ke.Code,
			Message:    fmt.Sprintf("%s: %s", msg, ke.Message),
			Details:    ke.Details,
			Suggestion: ke.Suggestion,
			Cause:      err,
			ExitCode:   ke.ExitCode,
		}
	}

	return &KeywardError{
		Code:     "GENERAL_ERROR",
		Message:  msg,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithCause attaches an underlying error to a sentinel, keeping its code.
func WithCause(err, cause error) error {
	if err == nil {
		return nil
	}

	var ke *KeywardError
	if errors.As(err, &ke) {
		return &KeywardError{
			Code:       ke.Code,
			Message:    ke.Message,
			Details:    ke.Details,
			Suggestion: ke.Suggestion,
			Cause:      cause,
			ExitCode:   ke.ExitCode,
		}
	}

	return fmt.Errorf("%w: %w", err, cause)
}

// WithDetails adds details to an error. Existing details are merged,
// with the new values taking precedence.
func WithDetails(err error, details map[string]string) error {
	if err == nil {
		return nil
	}

	var ke *KeywardError
	if errors.As(err, &ke) {
		merged := make(map[string]string, len(ke.Details)+len(details))
		for k, v := range ke.Details {
			merged[k] = v
		}
		for k, v := range details {
			merged[k] = v
		}
		return &KeywardError{
			Code:       ke.Code,
			Message:    ke.Message,
			Details:    merged,
			Suggestion: ke.Suggestion,
			Cause:      ke.Cause,
			ExitCode:   ke.ExitCode,
		}
	}

	return &KeywardError{
		Code:     "GENERAL_ERROR",
		Message:  err.Error(),
		Details:  details,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithSuggestion adds a suggestion to an error.
func WithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}

	var ke *KeywardError
	if errors.As(err, &ke) {
		return &KeywardError{
			Code:       ke.Code,
			Message:    ke.Message,
			Details:    ke.Details,
			Suggestion: suggestion,
			Cause:      ke.Cause,
			ExitCode:   ke.ExitCode,
		}
	}

	return &KeywardError{
		Code:       "GENERAL_ERROR",
		Message:    err.Error(),
		Suggestion: suggestion,
		Cause:      err,
		ExitCode:   ExitGeneral,
	}
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var ke *KeywardError
	if errors.As(err, &ke) {
		return ke.ExitCode
	}

	return ExitGeneral
}

// Code returns the error code for an error.
func Code(err error) string {
	var ke *KeywardError
	if errors.As(err, &ke) {
		return ke.Code
	}
	return "GENERAL_ERROR"
}

// DetailsOf returns the details attached to the outermost KeywardError.
func DetailsOf(err error) map[string]string {
	var ke *KeywardError
	if errors.As(err, &ke) {
		return ke.Details
	}
	return nil
}

// Is wraps errors.Is for convenience.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience.
func As(err error, target any) bool {
	return errors.As(err, target)
}
