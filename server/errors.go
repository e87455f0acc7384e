package server

import (
	"errors"
	"fmt"
)

var (
	ErrServerClosed  = errors.New("server: closed")
	ErrServerStarted = errors.New("server: already started")
	// ErrNotHandled is recorded when the middleware chain returned without
	// any stage producing a result or an error.
	ErrNotHandled = errors.New("request was not handled by any stage")
)

// BindError is returned by Start when the listener could not be bound within
// the retry policy. It is fatal: the server will not try again.
type BindError struct {
	Attempts int
	Err      error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// RouteNotFoundError reports a request no registered service matches.
type RouteNotFoundError struct {
	Path    string
	Method  string
	Group   string
	Version string
}

func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("service not found: path=%s method=%s group=%q version=%s",
		e.Path, e.Method, e.Group, e.Version)
}

// PanicError wraps a value recovered from a panicking handler or middleware.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
