package dataflow

import (
	"errors"
	"fmt"
)

// ErrStackDepthMismatch is returned when two block states with different
// operand stack depths are merged.
var ErrStackDepthMismatch = errors.New("stack depth mismatch")

// Error is a fatal analysis failure in one method. It indicates an
// inconsistency in the analysis model or a malformed graph rather than
// ordinary bad input.
type Error struct {
	Method string
	Offset int
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at IL_%04x: %s", e.Method, e.Offset, e.Msg)
}
