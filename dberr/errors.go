// Package dberr defines the uniform error record used across mongolite.
//
// Every fallible call in the public API and in the internal storage/index
// layers returns (or wraps) an *Error. Callers are expected to use
// errors.Is against the sentinel values below rather than compare codes
// directly.
package dberr

import "fmt"

// Code enumerates the error taxonomy of the engine.
type Code int

const (
	CodeInvalidArgument Code = iota + 1
	CodeNotFound
	CodeDuplicateKey
	CodeIndexConstraint
	CodeMapFull
	CodeTxnFull
	CodeIo
	CodeInvalidState
	CodeOutOfMemory
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeNotFound:
		return "NotFound"
	case CodeDuplicateKey:
		return "DuplicateKey"
	case CodeIndexConstraint:
		return "IndexConstraint"
	case CodeMapFull:
		return "MapFull"
	case CodeTxnFull:
		return "TxnFull"
	case CodeIo:
		return "Io"
	case CodeInvalidState:
		return "InvalidState"
	case CodeOutOfMemory:
		return "OutOfMemory"
	case CodeInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// maxMessageLen bounds the formatted message, matching spec.md's "formatted
// message up to a fixed length" contract.
const maxMessageLen = 512

// Error is the uniform error record: a stable code, a short library tag,
// and a human-readable message.
type Error struct {
	Code    Code
	Tag     string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Tag, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same Code, so that
// errors.Is(err, dberr.ErrNotFound) works against wrapped instances too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func truncate(msg string) string {
	if len(msg) <= maxMessageLen {
		return msg
	}
	return msg[:maxMessageLen]
}

// New builds an *Error with a formatted message.
func New(code Code, tag string, format string, args ...any) *Error {
	return &Error{Code: code, Tag: tag, Message: truncate(fmt.Sprintf(format, args...))}
}

// Wrap builds an *Error that also carries an underlying cause, preserved
// for errors.Unwrap/errors.As.
func Wrap(code Code, tag string, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Tag: tag, Message: truncate(fmt.Sprintf(format, args...)), cause: cause}
}

const defaultTag = "mongolite"

// Sentinels for errors.Is comparisons; each carries a generic message since
// the specific call site typically wraps one of these with New/Wrap instead.
var (
	ErrNotFound         = &Error{Code: CodeNotFound, Tag: defaultTag, Message: "not found"}
	ErrDuplicateKey     = &Error{Code: CodeDuplicateKey, Tag: defaultTag, Message: "duplicate key"}
	ErrIndexConstraint  = &Error{Code: CodeIndexConstraint, Tag: defaultTag, Message: "index constraint violated"}
	ErrMapFull          = &Error{Code: CodeMapFull, Tag: defaultTag, Message: "map full"}
	ErrTxnFull          = &Error{Code: CodeTxnFull, Tag: defaultTag, Message: "txn full"}
	ErrIo               = &Error{Code: CodeIo, Tag: defaultTag, Message: "io error"}
	ErrInvalidState     = &Error{Code: CodeInvalidState, Tag: defaultTag, Message: "invalid state"}
	ErrInvalidArgument  = &Error{Code: CodeInvalidArgument, Tag: defaultTag, Message: "invalid argument"}
	ErrOutOfMemory      = &Error{Code: CodeOutOfMemory, Tag: defaultTag, Message: "out of memory"}
	ErrInternal         = &Error{Code: CodeInternal, Tag: defaultTag, Message: "internal error"}
)

// Recoverable reports whether the caller may abort, optionally resize the
// map, and retry — per spec.md §4.1 "Recoverable errors".
func Recoverable(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	switch e.Code {
	case CodeMapFull, CodeTxnFull:
		return true
	default:
		return false
	}
}

// FormatForCLI renders the "<library>: <message>" form spec.md §6 requires
// of host-facing error display.
func FormatForCLI(err error) string {
	e, ok := err.(*Error)
	if !ok {
		return fmt.Sprintf("%s: %v", defaultTag, err)
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

// ExitCode maps an error to the CLI exit status spec.md §6 describes
// (0 success, 1 I/O, 2 argument, ...).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	e, ok := err.(*Error)
	if !ok {
		return 1
	}
	switch e.Code {
	case CodeIo, CodeMapFull, CodeTxnFull, CodeOutOfMemory:
		return 1
	case CodeInvalidArgument, CodeInvalidState:
		return 2
	case CodeNotFound:
		return 3
	case CodeDuplicateKey, CodeIndexConstraint:
		return 4
	default:
		return 1
	}
}
