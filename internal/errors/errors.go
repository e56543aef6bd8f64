package errors

import (
	"errors"
	"fmt"
)

// Common error types for the credential refresh subsystem
var (
	// Refresh token errors
	ErrNoRefreshToken    = errors.New("no refresh token available")
	ErrNoTokenEndpoint   = errors.New("no token endpoint available")
	ErrInvalidTokenGrant = errors.New("token endpoint rejected the refresh grant")
	ErrNoAccessToken     = errors.New("token response contained no access token")

	// Metadata errors
	ErrNoRefreshMetadata    = errors.New("no refresh metadata on credential")
	ErrNoCredentialConfig   = errors.New("no credential configuration id in refresh metadata")
	ErrNoCredentialEndpoint = errors.New("no credential endpoint in issuer metadata")

	// Re-issuance errors
	ErrEmptyCredentialResponse = errors.New("issuer returned empty or malformed credential")
	ErrUnsupportedFormat       = errors.New("unsupported credential format")

	// Status errors
	ErrNoStatusMechanism = errors.New("credential carries no status mechanism")
	ErrStatusListIndex   = errors.New("status list index out of range")

	// Registry / workflow errors
	ErrNoQueuedReplacement = errors.New("no queued replacement for credential")

	// General errors
	ErrNotFound    = errors.New("not found")
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
