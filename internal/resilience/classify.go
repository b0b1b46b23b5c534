// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Category tags a remote failure.
type Category string

const (
	// CategoryTransient failures are likely to succeed on retry.
	CategoryTransient Category = "transient"
	// CategoryConflict failures mean a concurrent write won; they are never
	// retried.
	CategoryConflict Category = "conflict"
	// CategoryPermanent failures will not succeed on retry.
	CategoryPermanent Category = "permanent"
)

// ConflictCode is the optimistic-concurrency failure code (serialization
// failure).
const ConflictCode = "40001"

// StatusCoder is implemented by errors carrying an HTTP-like status.
type StatusCoder interface {
	StatusCode() int
}

// ErrorCoder is implemented by errors carrying a domain error code.
type ErrorCoder interface {
	ErrorCode() string
}

var transientStatus = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// Connection-class codes of the remote database.
var transientCodes = map[string]bool{
	"08000": true,
	"08001": true,
	"08003": true,
	"08004": true,
	"08006": true,
	"08007": true,
	"08P01": true,
	"57P01": true,
	"57P03": true,
	"53300": true,
}

var transientPhrases = []string{
	"network",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"connection closed",
	"broken pipe",
	"econnreset",
	"econnrefused",
	"etimedout",
	"temporarily unavailable",
	"fetch failed",
	"socket hang up",
	"unexpected eof",
}

// Classify tags err. Conflict codes win over everything else, including a
// message that looks transient.
func Classify(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var ec ErrorCoder
	if errors.As(err, &ec) {
		code := ec.ErrorCode()
		if code == ConflictCode {
			return CategoryConflict
		}
		if transientCodes[code] {
			return CategoryTransient
		}
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		status := sc.StatusCode()
		if status == 409 {
			return CategoryConflict
		}
		if transientStatus[status] {
			return CategoryTransient
		}
	}

	if errors.Is(err, context.Canceled) {
		return CategoryPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CategoryTransient
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return CategoryTransient
		}
	}
	return CategoryPermanent
}

// IsTransientError reports whether err should be retried.
func IsTransientError(err error) bool {
	return err != nil && Classify(err) == CategoryTransient
}

// IsConflictError reports whether err is an optimistic-concurrency conflict.
func IsConflictError(err error) bool {
	return err != nil && Classify(err) == CategoryConflict
}
