package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies failures of the selection engine.
type Kind string

const (
	InsufficientEvidence         Kind = "InsufficientEvidence"
	PoolExhausted                Kind = "PoolExhausted"
	AssignmentConflict           Kind = "AssignmentConflict"
	RestrictionSourceUnavailable Kind = "RestrictionSourceUnavailable"
	TimeoutExceeded              Kind = "TimeoutExceeded"
	InvalidRuleConfiguration     Kind = "InvalidRuleConfiguration"
	Internal                     Kind = "Internal"
)

// Recoverable reports whether the kind is handled locally and never surfaced.
func (k Kind) Recoverable() bool {
	switch k {
	case InsufficientEvidence, RestrictionSourceUnavailable, InvalidRuleConfiguration:
		return true
	}
	return false
}

// ExitCode maps a kind to the CLI process exit status.
func (k Kind) ExitCode() int {
	switch k {
	case PoolExhausted:
		return 3
	case AssignmentConflict:
		return 4
	case TimeoutExceeded:
		return 5
	}
	return 1
}

// Error carries a Kind plus enough context to retry an account or slot individually.
type Error struct {
	Kind    Kind
	Account string
	Slot    string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Account != "" {
		msg += " account=" + e.Account
	}
	if e.Slot != "" {
		msg += " slot=" + e.Slot
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, account, slot string, err error) *Error {
	return &Error{Kind: kind, Account: account, Slot: slot, Err: err}
}

// Newf builds an Error with a formatted cause.
func Newf(kind Kind, account, slot, format string, args ...any) *Error {
	return New(kind, account, slot, fmt.Errorf(format, args...))
}

// KindOf extracts the Kind from err, or Internal when err carries none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutExceeded
	}
	return Internal
}

// Is reports whether err is an Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// FromContext converts a context deadline overrun into TimeoutExceeded and
// passes any other error through unchanged.
func FromContext(err error, account, stage string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(TimeoutExceeded, account, "", fmt.Errorf("%s: %w", stage, err))
	}
	return err
}
