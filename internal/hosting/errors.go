package hosting

import "errors"

// Hosting provider errors.
var (
	// ErrAuthFailed is returned when authentication fails.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")

	// ErrNotSupported is returned for operations a provider does not offer.
	ErrNotSupported = errors.New("operation not supported by this provider")

	// ErrInvalidRepo is returned when a repository name has the wrong shape
	// for the provider.
	ErrInvalidRepo = errors.New("invalid repository name")
)
