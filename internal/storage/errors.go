// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"errors"
	"fmt"
)

// Kind tags a storage failure.
type Kind string

const (
	KindUnavailable Kind = "unavailable"
	KindQuota       Kind = "quota"
	KindCorrupt     Kind = "corrupt"
	KindUnknown     Kind = "unknown"
)

// Error is the single error type every adapter surfaces.
type Error struct {
	Kind    Kind
	Backend string
	Op      string
	Key     string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("storage %s", e.Kind)
	if e.Backend != "" {
		msg += " [" + e.Backend + "]"
	}
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Key != "" {
		msg += fmt.Sprintf(" %q", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels (ErrUnavailable, ErrQuota, ...), so callers can
// write errors.Is(err, storage.ErrQuota).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Backend == "" && t.Key == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrUnavailable = &Error{Kind: KindUnavailable}
	ErrQuota       = &Error{Kind: KindQuota}
	ErrCorrupt     = &Error{Kind: KindCorrupt}
	ErrUnknown     = &Error{Kind: KindUnknown}

	// ErrAuthLost is returned by adapters backed by an authenticated session
	// when the session disappeared underneath them (sign-out race).
	ErrAuthLost = errors.New("storage: authentication lost")

	// ErrClosed is wrapped into an unavailable Error after Close.
	ErrClosed = errors.New("adapter closed")
)

// KindOf reports the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// Wrap converts err into an *Error. Errors that already are storage errors
// keep their kind.
func Wrap(backend, op, key string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuthLost) {
		return err
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: kind, Backend: backend, Op: op, Key: key, Err: err}
}
