// Package apperrors defines the sentinel errors shared by the deploy service.
//
// Callers categorize failures with errors.Is; the HTTP boundary uses the
// validation sentinels to pick a client-error status.
//
// This package must not import other packages of the module.
package apperrors

import (
	"errors"
	"fmt"
)

// Validation errors. These are raised before any outbound call is made.
var (
	// ErrInvalidJSON indicates the request body could not be decoded.
	ErrInvalidJSON = errors.New("invalid JSON format")

	// ErrInvalidSecret indicates the shared secret did not match.
	ErrInvalidSecret = errors.New("invalid secret")

	// ErrMissingFields indicates one or more required request keys were absent.
	ErrMissingFields = errors.New("missing required data keys")

	// ErrInvalidRound indicates a round other than 1 or 2.
	ErrInvalidRound = errors.New("invalid round number")
)

// Upstream and store errors. These abort a deployment round.
var (
	// ErrBackendStatus indicates the generation backend answered with a non-success status.
	ErrBackendStatus = errors.New("generation backend error")

	// ErrUnparseableResponse indicates the generation envelope did not have the expected shape.
	ErrUnparseableResponse = errors.New("failed to parse generated code from response")

	// ErrMissingAPIKey indicates the generation backend key is not configured.
	ErrMissingAPIKey = errors.New("generation API key is not set")

	// ErrProjectCreate indicates repository creation failed for a reason other than
	// the repository already existing.
	ErrProjectCreate = errors.New("repository creation failed")

	// ErrProjectLookup indicates a repository lookup failed with something other than not-found.
	ErrProjectLookup = errors.New("repository lookup failed")

	// ErrStoreWrite indicates a file publish was rejected by the store.
	ErrStoreWrite = errors.New("file publish failed")

	// ErrHostingEnable indicates static hosting could not be enabled.
	ErrHostingEnable = errors.New("failed to enable static hosting")

	// ErrCommitLookup indicates the latest commit could not be read.
	ErrCommitLookup = errors.New("failed to get latest commit SHA")

	// ErrRegistry indicates the task registry could not be read or written.
	ErrRegistry = errors.New("task registry operation failed")
)

// Configuration errors.
var (
	// ErrConfigMissing indicates a required configuration value was empty.
	ErrConfigMissing = errors.New("missing required configuration value")

	// ErrConfigInvalid indicates a configuration value is out of range or malformed.
	ErrConfigInvalid = errors.New("invalid configuration value")
)

// ErrMaxRetriesExceeded indicates every attempt of a retried operation failed.
var ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")

// IsValidation reports whether err is one of the request validation errors.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidJSON) ||
		errors.Is(err, ErrInvalidSecret) ||
		errors.Is(err, ErrMissingFields) ||
		errors.Is(err, ErrInvalidRound)
}

// Wrap adds context to err. It returns nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf adds formatted context to err. It returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
