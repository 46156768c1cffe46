package run

import (
	"errors"
	"fmt"
	"strings"

	"github.com/acarl005/stripansi"
)

// Kind is a stable error code carried by every run error.
type Kind string

// Error kinds.
const (
	KindNotFound Kind = "not_found" // unknown suite or run id; returned synchronously
	KindSpawn    Kind = "spawn"     // launch failure or non-zero exit
	KindOutput   Kind = "output"    // diagnostics on stderr with empty stdout
	KindDecode   Kind = "decode"    // catalog decoder rejected stdout
)

// Error is the error type for all run failures.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NotFound reports a suite name or run id that does not exist.
func NotFound(key string) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("%q not found", key)}
}

// SpawnError wraps a process launch or execution failure. Diagnostic output
// captured from stderr, if any, is appended to the message.
func SpawnError(err error, stderr []byte) error {
	msg := "process failed"
	if diag := diagnostic(stderr); diag != "" {
		msg = fmt.Sprintf("process failed (%s)", diag)
	}
	return &Error{Kind: KindSpawn, Msg: msg, Cause: err}
}

// OutputError reports a process that wrote diagnostics but no result.
func OutputError(stderr []byte) error {
	return &Error{Kind: KindOutput, Msg: "no output, stderr: " + diagnostic(stderr)}
}

// DecodeError wraps a decoder failure.
func DecodeError(err error) error {
	return &Error{Kind: KindDecode, Msg: "decoding output", Cause: err}
}

// KindOf returns the Kind of err, or "" if err is not a run error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func diagnostic(stderr []byte) string {
	return strings.TrimSpace(stripansi.Strip(string(stderr)))
}
