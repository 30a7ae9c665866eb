package mockserver

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout            = errors.New("timed out waiting for a recorded request")
	ErrNoScriptedResponse = errors.New("no scripted response queued")
	ErrServerClosed       = errors.New("server closed")
	ErrAlreadyStarted     = errors.New("server already started")
	ErrMalformedRequest   = errors.New("malformed request")
)

// BindError is returned by Start when the listening socket cannot be bound.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}
