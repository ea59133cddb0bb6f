// Package playback runs the vocal (jaw-driving) and ambient audio sessions
package playback

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is returned by Run when Close ended the session first
var ErrSessionClosed = errors.New("playback session closed")

// SetupError means a stream could not be opened; the playback attempt is abandoned
type SetupError struct {
	Op  string
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("playback setup %s: %v", e.Op, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// StreamIOError is a mid-stream read or write failure; the session drains early
type StreamIOError struct {
	Op  string
	Err error
}

func (e *StreamIOError) Error() string {
	return fmt.Sprintf("playback stream %s: %v", e.Op, e.Err)
}

func (e *StreamIOError) Unwrap() error {
	return e.Err
}
