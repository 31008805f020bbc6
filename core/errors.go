package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFormat = errors.New("invalid address format")
	ErrInvalidPort   = errors.New("invalid port")
)

type AddressErrorKind int

const (
	InvalidFormat AddressErrorKind = iota
	InvalidPort
)

// AddressError is returned when an address text cannot be parsed.
// Field names the numeric part that failed ("cid" or "port") for
// InvalidPort errors.
type AddressError struct {
	Kind  AddressErrorKind
	Field string
	Text  string
	Err   error
}

func (e *AddressError) Error() string {
	switch e.Kind {
	case InvalidPort:
		return fmt.Sprintf("invalid %s in address %q: %s", e.Field, e.Text, e.Err)
	default:
		return fmt.Sprintf("invalid address format %q: %s", e.Text, e.Err)
	}
}

func (e *AddressError) Unwrap() error { return e.Err }

func (e *AddressError) Is(target error) bool {
	switch target {
	case ErrInvalidFormat:
		return e.Kind == InvalidFormat
	case ErrInvalidPort:
		return e.Kind == InvalidPort
	}

	return false
}

// BindError is returned when a listener cannot be created.
type BindError struct {
	Endpoint Endpoint
	Err      error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("could not listen on %s %s: %s", e.Endpoint.Network(), e.Endpoint, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// ConnectError is returned when the destination cannot be reached.
type ConnectError struct {
	Endpoint Endpoint
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("could not connect to %s %s: %s", e.Endpoint.Network(), e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// PipeError is returned when copying in one direction of a pipe fails.
type PipeError struct {
	Direction string
	Err       error
}

func (e *PipeError) Error() string {
	return fmt.Sprintf("%s copy failed: %s", e.Direction, e.Err)
}

func (e *PipeError) Unwrap() error { return e.Err }
