package domain

import "errors"

var (
	// ErrBackendUnavailable is a reasoning or execution backend failure.
	// Recovered as an observation message unless it repeats too often.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrSandboxNotReady is returned when code is run before the sandbox lease
	// is acquired. It is a contract violation and always aborts the session.
	ErrSandboxNotReady = errors.New("sandbox not ready")

	// ErrSessionTerminated is returned when advancing a session whose state is
	// already terminated.
	ErrSessionTerminated = errors.New("session terminated")

	// ErrMalformedArtifactReference marks a GENERATED: line naming a file that
	// does not exist in the shared work directory.
	ErrMalformedArtifactReference = errors.New("malformed artifact reference")

	// ErrAlreadyLeased is returned when a sandbox is started twice without
	// being stopped in between.
	ErrAlreadyLeased = errors.New("sandbox already leased")
)
