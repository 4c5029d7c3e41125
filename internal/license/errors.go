package license

import (
	"errors"
	"fmt"
)

// Kind classifies a licensing failure. Format and crypto failures are terminal
// for activate() and never retried; network failures are recovered through the
// grace period; quota and authorization failures are terminal for the single
// requested operation only.
type Kind int

const (
	KindFormat Kind = iota
	KindCrypto
	KindNetwork
	KindAuthorization
	KindQuota
	KindState
	KindInternal
)

// String returns the taxonomy name for the kind
func (k Kind) String() string {
	switch k {
	case KindFormat:
		return "format"
	case KindCrypto:
		return "crypto"
	case KindNetwork:
		return "network"
	case KindAuthorization:
		return "authorization"
	case KindQuota:
		return "quota"
	case KindState:
		return "state"
	default:
		return "internal"
	}
}

// Stable machine-readable error codes surfaced to the UI and the CLI.
const (
	CodeInvalidFormat          = "INVALID_FORMAT"
	CodeInvalidSignature       = "INVALID_SIGNATURE"
	CodeMalformedPayload       = "MALFORMED_PAYLOAD"
	CodeActivationLimitReached = "ACTIVATION_LIMIT_REACHED"
	CodeLicenseNotFound        = "LICENSE_NOT_FOUND"
	CodeLicenseRevoked         = "LICENSE_REVOKED"
	CodeLicenseExpired         = "LICENSE_EXPIRED"
	CodeNotActivated           = "NOT_ACTIVATED"
	CodeNetworkError           = "NETWORK_ERROR"
	CodeTrialLimit             = "TRIAL_LIMIT"
	CodeFileTooLarge           = "FILE_TOO_LARGE"
	CodeConverterNotFree       = "CONVERTER_NOT_FREE"
	CodeFeatureNotLicensed     = "FEATURE_NOT_LICENSED"
	CodeInternal               = "INTERNAL_ERROR"
)

// Error is the licensing error type carried through the whole engine. Every
// error holds a stable code plus a human message; messages never include raw
// key or signature material.
type Error struct {
	Code    string
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause
func (e *Error) Unwrap() error { return e.Err }

// Is matches on the stable code so sentinels survive wrapping
func (e *Error) Is(target error) bool {
	var le *Error
	if errors.As(target, &le) {
		return e.Code == le.Code
	}
	return false
}

// NewError builds a licensing error with the given taxonomy slot
func NewError(kind Kind, code, message string, cause error) *Error {
	return &Error{Code: code, Kind: kind, Message: message, Err: cause}
}

// Sentinel errors for the common failure modes.
var (
	ErrInvalidFormat = &Error{Code: CodeInvalidFormat, Kind: KindFormat,
		Message: "license key is malformed"}
	ErrInvalidSignature = &Error{Code: CodeInvalidSignature, Kind: KindCrypto,
		Message: "license signature verification failed"}
	ErrMalformedPayload = &Error{Code: CodeMalformedPayload, Kind: KindFormat,
		Message: "license payload could not be decoded"}
	ErrActivationLimitReached = &Error{Code: CodeActivationLimitReached, Kind: KindAuthorization,
		Message: "this license has reached its activation limit"}
	ErrLicenseNotFound = &Error{Code: CodeLicenseNotFound, Kind: KindAuthorization,
		Message: "license key was not found by the licensing server"}
	ErrLicenseRevoked = &Error{Code: CodeLicenseRevoked, Kind: KindState,
		Message: "this license has been revoked"}
	ErrLicenseExpired = &Error{Code: CodeLicenseExpired, Kind: KindState,
		Message: "this license has expired"}
	ErrNotActivated = &Error{Code: CodeNotActivated, Kind: KindState,
		Message: "no license is activated on this machine"}
	ErrNetwork = &Error{Code: CodeNetworkError, Kind: KindNetwork,
		Message: "unable to reach the licensing server"}
	ErrFeatureNotLicensed = &Error{Code: CodeFeatureNotLicensed, Kind: KindAuthorization,
		Message: "this converter is not included in the active license"}
)

// CodeOf extracts the stable code from any error, defaulting to INTERNAL_ERROR
func CodeOf(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return CodeInternal
}

// KindOf extracts the taxonomy kind from any error
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindInternal
}
