package campaign

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrAuthRequired means the call carried no authenticated owner id.
	ErrAuthRequired = errors.New("authentication required")

	// ErrNotFound means the campaign or segment does not exist for this owner.
	ErrNotFound = errors.New("not found")

	// ErrFrozen means the campaign left draft and its predicate can no longer change.
	ErrFrozen = errors.New("campaign rules are frozen outside draft")

	// ErrInvalidTransition means the requested status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError carries one message per offending input field. It is
// never fatal: the form stays editable.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = msg
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// PersistenceError wraps a failure of the external store. The caller's
// in-memory campaign is left as it was so the user can retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
