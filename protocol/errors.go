package protocol

import (
	"errors"
	"fmt"
)

// ErrFrameTooLarge is returned when a string frame declares a payload
// longer than the reader is willing to accept.
var ErrFrameTooLarge = errors.New("frame exceeds maximum length")

// ErrInterrupted is returned by Conn operations started after Interrupt.
var ErrInterrupted = errors.New("connection interrupted")

// IOError reports a short or failed read or write while transferring a
// frame. Op names the codec operation (e.g. "recv int", "send string").
type IOError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause so callers can match io.EOF,
// io.ErrUnexpectedEOF or ErrFrameTooLarge with errors.Is.
func (e *IOError) Unwrap() error {
	return e.Err
}

// ConnectionError reports a failure to establish or accept a transport
// connection (listen, dial, accept).
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

// Error implements error.
func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func ioErr(op string, err error) error {
	return &IOError{Op: op, Err: err}
}
