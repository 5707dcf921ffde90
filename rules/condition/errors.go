package condition

import (
	"errors"
	"fmt"
)

var (
	// ErrParseFailure marks malformed or unsupported condition syntax
	ErrParseFailure = errors.New("parse failure")

	// ErrTypeMismatch marks an operation applied to a value of the wrong kind,
	// e.g. calling toLowerCase() on a number
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrUnresolved marks a path missing from the data context. Evaluate never
	// returns it; the path is substituted with null instead.
	ErrUnresolved = errors.New("unresolved path")
)

// ErrorKind classifies a ConditionError
type ErrorKind int

const (
	KindParseFailure ErrorKind = iota
	KindTypeMismatch
	KindUnresolved
)

// String returns the stable name used in logs and diagnostics
func (k ErrorKind) String() string {
	switch k {
	case KindParseFailure:
		return "parse_failure"
	case KindTypeMismatch:
		return "type_mismatch"
	case KindUnresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// ConditionError describes why a condition could not be evaluated
type ConditionError struct {
	Kind      ErrorKind
	Condition string
	Offset    int // byte offset into Condition, -1 when not applicable
	Msg       string
}

func (e *ConditionError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("condition %s at offset %d: %s", e.Kind, e.Offset, e.Msg)
	}
	return fmt.Sprintf("condition %s: %s", e.Kind, e.Msg)
}

// Unwrap lets errors.Is match the kind sentinels
func (e *ConditionError) Unwrap() error {
	switch e.Kind {
	case KindParseFailure:
		return ErrParseFailure
	case KindTypeMismatch:
		return ErrTypeMismatch
	case KindUnresolved:
		return ErrUnresolved
	default:
		return nil
	}
}

func parseError(src string, offset int, format string, args ...any) *ConditionError {
	return &ConditionError{
		Kind:      KindParseFailure,
		Condition: src,
		Offset:    offset,
		Msg:       fmt.Sprintf(format, args...),
	}
}

func typeError(src string, offset int, format string, args ...any) *ConditionError {
	return &ConditionError{
		Kind:      KindTypeMismatch,
		Condition: src,
		Offset:    offset,
		Msg:       fmt.Sprintf(format, args...),
	}
}

func unresolved(path string) *ConditionError {
	return &ConditionError{
		Kind:   KindUnresolved,
		Offset: -1,
		Msg:    fmt.Sprintf("path %q not present in data context", path),
	}
}
