package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInitialized is returned when a registry is constructed
	// directly while one already exists.
	ErrAlreadyInitialized = errors.New("registry already initialized")

	// ErrCloneRejected is returned by every path that would produce a second
	// registry value.
	ErrCloneRejected = errors.New("registry cannot be cloned")

	// ErrNoWorker is returned when a handle is requested from a context that
	// carries no worker identity.
	ErrNoWorker = errors.New("no worker in context")

	// ErrRemoteCreation matches every RemoteCreationError.
	ErrRemoteCreation = errors.New("remote handle creation failed")
)

// RemoteCreationError reports a failure to open a session on the grid.
type RemoteCreationError struct {
	Endpoint string
	Err      error
}

func (e *RemoteCreationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrRemoteCreation, e.Endpoint, e.Err)
}

func (e *RemoteCreationError) Unwrap() error {
	return e.Err
}

func (e *RemoteCreationError) Is(target error) bool {
	return target == ErrRemoteCreation
}
