package ini

import (
	"errors"
	"fmt"
)

var (
	// ErrIncludeCycle is returned when a file includes itself, directly or not.
	ErrIncludeCycle = errors.New("include cycle")
	// ErrIncludeDepth is returned when includes nest deeper than Loader.MaxDepth.
	ErrIncludeDepth = errors.New("include depth exceeded")
	// ErrGroupNotFound is returned when a requested group is not in the file.
	ErrGroupNotFound = errors.New("group not found")
	// ErrPlaceholderCycle is returned when placeholders refer to each other.
	ErrPlaceholderCycle = errors.New("placeholder cycle")
	// ErrUnresolvedPlaceholder is returned in strict mode for a %(name) whose
	// name is not defined in the group.
	ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")
	// ErrInvalidValue is returned when a value cannot be written on one line.
	ErrInvalidValue = errors.New("invalid value")
)

// ParseError reports a syntax error at a line of a file.
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}
