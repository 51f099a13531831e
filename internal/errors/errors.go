// Package errors provides the typed errors returned across the allocation engine.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Type identifies the category of error
type Type string

const (
	// TypeConfig indicates an invalid or incomplete configuration
	TypeConfig Type = "CONFIG_ERROR"

	// TypeInput indicates an input validation error
	TypeInput Type = "INPUT_ERROR"

	// TypeParsing indicates a parsing error
	TypeParsing Type = "PARSING_ERROR"

	// TypeDateMissing indicates the run date was not set before allocation
	TypeDateMissing Type = "DATE_MISSING"

	// TypeDateMismatch indicates already allocated records of another date than the run date
	TypeDateMismatch Type = "DATE_MISMATCH"

	// TypeCurrencyMismatch indicates records carry a currency other than the run currency
	TypeCurrencyMismatch Type = "CURRENCY_MISMATCH"

	// TypeCycleUnbreakable indicates a cycle that the precedence list cannot resolve
	TypeCycleUnbreakable Type = "CYCLE_UNBREAKABLE"

	// TypeCycleBreakLimit indicates the maximum number of cycle breaks was reached
	TypeCycleBreakLimit Type = "CYCLE_BREAK_LIMIT_EXCEEDED"

	// TypeStorage indicates a run store failure
	TypeStorage Type = "STORAGE_ERROR"

	// TypeInternal indicates a broken internal invariant
	TypeInternal Type = "INTERNAL_ERROR"

	// TypeNotFound indicates a resource not found error
	TypeNotFound Type = "NOT_FOUND"
)

// Error is a typed error. Context holds the records or instances the error
// is about, e.g. the service instance of a currency mismatch.
type Error struct {
	Type    Type
	Message string
	Cause   error
	Context map[string]any
}

// Error renders "[TYPE] message (key=value ...): cause"
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Type, e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%s=%v", k, e.Context[k])
		}
		sb.WriteByte(')')
	}
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	return sb.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a new error
func New(errType Type, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new formatted error
func Newf(errType Type, format string, args ...any) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with context
func Wrap(errType Type, message string, cause error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an error with formatted context
func Wrapf(errType Type, cause error, format string, args ...any) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// IsType reports whether any error in err's chain is an *Error of type t.
func IsType(err error, t Type) bool {
	var e *Error
	for err != nil {
		if stderrors.As(err, &e) {
			if e.Type == t {
				return true
			}
			err = e.Cause
			continue
		}
		return false
	}
	return false
}

// TypeOf returns the type of the outermost *Error in err's chain, or "".
func TypeOf(err error) Type {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ""
}

// Config creates a configuration error
func Config(message string) *Error {
	return New(TypeConfig, message)
}

// Input creates an input error
func Input(message string) *Error {
	return New(TypeInput, message)
}

// Parsing creates a parsing error
func Parsing(message string, cause error) *Error {
	return Wrap(TypeParsing, message, cause)
}

// Storage creates a storage error
func Storage(message string, cause error) *Error {
	return Wrap(TypeStorage, message, cause)
}

// NotFound creates a not found error
func NotFound(resourceType, identifier string) *Error {
	return Newf(TypeNotFound, "%s not found: %s", resourceType, identifier)
}
