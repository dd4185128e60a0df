// Package apperr classifies conversion failures so callers can map them to
// request outcomes without string matching.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the failure class of an Error. Kinds are errors themselves so that
// errors.Is(err, apperr.NotFound) works through any amount of wrapping.
type Kind string

const (
	Validation        Kind = "validation_error"
	UnsupportedFormat Kind = "unsupported_format"
	DecodeFailure     Kind = "decode_failure"
	ConversionFailure Kind = "conversion_failure"
	NotFound          Kind = "not_found"
	ExtractionFailure Kind = "extraction_failure"
)

func (k Kind) Error() string { return string(k) }

// Error carries the failure kind together with the file and format that
// were being processed.
type Error struct {
	Kind   Kind
	File   string
	Format string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.File != "" {
		b.WriteString(": ")
		b.WriteString(e.File)
	}
	if e.Format != "" {
		b.WriteString(" (")
		b.WriteString(e.Format)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Cause returns the message of the underlying error only.
func (e *Error) Cause() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New returns an Error of the given kind with a formatted cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. An err that already carries an *Error keeps that
// kind, and the file and format recorded there take precedence over the
// given ones. Wrap always returns a new value, so one cause can be wrapped
// for several formats. Context added around the inner *Error is kept.
func Wrap(kind Kind, file, format string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if !errors.As(err, &ae) {
		return &Error{Kind: kind, File: file, Format: format, Err: err}
	}

	out := &Error{Kind: ae.Kind, File: ae.File, Format: ae.Format, Err: ae.Err}
	if ae != err {
		// Render the outer context around the inner cause only.
		msg := strings.Replace(err.Error(), ae.Error(), ae.Cause(), 1)
		out.Err = &contextError{msg: msg, err: err}
	}
	if out.File == "" {
		out.File = file
	}
	if out.Format == "" {
		out.Format = format
	}
	return out
}

type contextError struct {
	msg string
	err error
}

func (e *contextError) Error() string { return e.msg }
func (e *contextError) Unwrap() error { return e.err }

// KindOf reports the kind of err. Unclassified errors are conversion failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ConversionFailure
}

// Message returns the human readable cause of err without the kind prefix.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Cause()
	}
	return err.Error()
}
