// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across core layers. Per-payload errors (DecryptFailure,
// MissingKey) are never returned from the sync loop directly; they are
// contained into payload flags instead (errorDecrypting, waitingForKey) and
// only surface here for callers that inspect a single decrypt result.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates optimistic concurrency failure (base version mismatch).
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAlreadyExists indicates a unique constraint violation (e.g. duplicate uuid).
	ErrAlreadyExists = errors.New("already exists")

	// ErrAuthFailure is a 401 from the server; the sync loop stops until re-auth.
	ErrAuthFailure = errors.New("auth failure")

	// ErrDecryptFailure is an AEAD or composition check failure during decrypt.
	ErrDecryptFailure = errors.New("decrypt failure")

	// ErrMissingKey indicates the items-key needed to decrypt a payload is not
	// yet present locally; retried once the key arrives.
	ErrMissingKey = errors.New("missing items key")

	// ErrValidation indicates malformed input caught before any crypto call.
	ErrValidation = errors.New("validation error")

	// ErrTransport indicates a non-auth HTTP/transport failure during sync.
	ErrTransport = errors.New("transport error")

	// ErrOutOfSync indicates the client/server integrity hashes have diverged
	// for maxDiscordance consecutive checks.
	ErrOutOfSync = errors.New("out of sync")

	// ErrProgrammer indicates illegal internal state (double database load,
	// decrypting something that isn't a payload). Never recovered from.
	ErrProgrammer = errors.New("programmer error")
)
