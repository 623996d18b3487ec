package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that the requested task or unit does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnitPending is returned when removing a unit that is still running.
	ErrUnitPending = errors.New("work unit still pending")
	// ErrMissingToken is returned when a remote source requires credentials.
	ErrMissingToken = errors.New("api token is empty")
)

// RemoteFetchError wraps a failed call to a RemoteSource.
type RemoteFetchError struct {
	Op    string
	Owner string
	Repo  string
	Err   error
}

func (e *RemoteFetchError) Error() string {
	if e.Repo == "" {
		return fmt.Sprintf("remote %s for %s: %v", e.Op, e.Owner, e.Err)
	}
	return fmt.Sprintf("remote %s for %s/%s: %v", e.Op, e.Owner, e.Repo, e.Err)
}

func (e *RemoteFetchError) Unwrap() error {
	return e.Err
}
