package generate

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies orchestrator failures.
type Kind string

const (
	KindInvalidInput   Kind = "invalid_input"
	KindStaging        Kind = "staging_failure"
	KindBackend        Kind = "backend_failure"
	KindTimeout        Kind = "timeout"
	KindOutputNotFound Kind = "output_not_found"
	KindPublish        Kind = "publish_failure"
	KindBusy           Kind = "busy"
)

// Error is the failure type returned by Orchestrator.Run.
type Error struct {
	Kind Kind
	Msg  string
	// Diagnostic is captured backend output. It is logged and stored, and
	// only a short tail is shown to clients.
	Diagnostic string
	Err        error
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrInvalidInput   = &Error{Kind: KindInvalidInput}
	ErrStaging        = &Error{Kind: KindStaging}
	ErrBackend        = &Error{Kind: KindBackend}
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrOutputNotFound = &Error{Kind: KindOutputNotFound}
	ErrPublish        = &Error{Kind: KindPublish}
	ErrBusy           = &Error{Kind: KindBusy}
)

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Detail is the client-facing description of the failure.
func (e *Error) Detail() string {
	detail := e.Msg
	if detail == "" {
		detail = string(e.Kind)
	}
	if tail := diagnosticTail(e.Diagnostic, 300); tail != "" {
		detail += ": " + tail
	}
	return detail
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// diagnosticTail returns the last non-empty lines of s, at most max bytes.
func diagnosticTail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	s = s[len(s)-max:]
	if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return "..." + s
}
