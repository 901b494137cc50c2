package domain

import "errors"

// Failure taxonomy. Wrap with %w and test with errors.Is.
var (
	// ErrServiceNotFound means no candidate process produced a working endpoint.
	// Expected when the language server is not running.
	ErrServiceNotFound = errors.New("language server not found")

	// ErrProbeFailed means a port did not answer the liveness probe correctly.
	// Used only to filter candidates.
	ErrProbeFailed = errors.New("endpoint probe failed")

	// ErrConnectionLost means the transport failed (refused, reset, timeout, abort).
	ErrConnectionLost = errors.New("connection lost")

	// ErrResponseMalformed means the endpoint answered with an unparsable body.
	ErrResponseMalformed = errors.New("malformed response")

	// ErrUnexpectedStatus means the endpoint answered with a non-200 status.
	ErrUnexpectedStatus = errors.New("unexpected response status")

	// ErrConfigInvalid marks configuration values that were replaced by defaults.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrClientClosed is returned by operations on a shut-down quota client.
	ErrClientClosed = errors.New("quota client closed")
)
