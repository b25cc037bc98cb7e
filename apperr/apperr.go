// Package apperr defines the terminal error kinds a run can end with.
// Per-item failures never surface here; they are logged and skipped.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation         Kind = "validation"
	KindModelCall          Kind = "model_call"
	KindCredentialRequired Kind = "credential_required"
	KindEmptyResult        Kind = "empty_result"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Msg: msg}
}

func ModelCall(msg string, err error) *Error {
	return &Error{Kind: KindModelCall, Msg: msg, Err: err}
}

func CredentialRequired(msg string, err error) *Error {
	return &Error{Kind: KindCredentialRequired, Msg: msg, Err: err}
}

// EmptyResult is returned when nothing survived search and admission.
func EmptyResult() *Error {
	return &Error{Kind: KindEmptyResult, Msg: "no images found"}
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
