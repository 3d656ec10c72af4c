package media

import (
	"errors"
	"fmt"
)

var (
	// ErrInputNotFound is returned when an input path is missing or empty.
	ErrInputNotFound = errors.New("input not found")
	// ErrNoVideoStream is returned when a probed file has no video stream.
	ErrNoVideoStream = errors.New("no video stream")
	// ErrExternalTool is matched by every *ToolError.
	ErrExternalTool = errors.New("external tool failed")
	// ErrOutputTooSmall is returned when a produced file is below the size floor.
	ErrOutputTooSmall = errors.New("output too small")
	// ErrTimedOut is returned when a subprocess was killed at its deadline.
	ErrTimedOut = errors.New("timed out")
	// ErrInvariantViolation is returned when segments fail to tile the timeline.
	ErrInvariantViolation = errors.New("invariant violation")
)

// ToolError describes a non-zero exit (or failed start) of an external tool.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string // tail of stderr
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s exited %d", e.Tool, e.ExitCode)
	if e.Err != nil && e.ExitCode < 0 {
		msg = fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	if e.Stderr != "" {
		msg += ": " + truncate(e.Stderr, 512)
	}
	return msg
}

func (e *ToolError) Is(target error) bool { return target == ErrExternalTool }

func (e *ToolError) Unwrap() error { return e.Err }
