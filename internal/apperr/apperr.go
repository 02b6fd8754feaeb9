// Package apperr implements the stable error taxonomy surfaced by every
// tool-shaped payload: {code, message, hint, retryable}.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Code is one of the stable error codes in spec.md §7.
type Code string

const (
	InvalidParams       Code = "invalid_params"
	InvalidURL          Code = "invalid_url"
	NotConfigured       Code = "not_configured"
	NotSupported        Code = "not_supported"
	ProviderUnavailable Code = "provider_unavailable"
	FetchFailed         Code = "fetch_failed"
	SearchFailed        Code = "search_failed"
	CacheError          Code = "cache_error"
	UnexpectedError     Code = "unexpected_error"
)

// retryable records which codes are retryable-in-principle, per the table
// in spec.md §7.
var retryable = map[Code]bool{
	InvalidParams:       false,
	InvalidURL:          false,
	NotConfigured:       false,
	NotSupported:        false,
	ProviderUnavailable: true,
	FetchFailed:         true,
	SearchFailed:        true,
	CacheError:          true,
	UnexpectedError:     true,
}

// Error is the payload shape every tool boundary returns instead of
// letting a Go error leave the process as an exception.
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs an Error, deriving Retryable from Code's table entry.
func New(code Code, message, hint string) *Error {
	return &Error{Code: code, Message: message, Hint: hint, Retryable: retryable[code]}
}

// Wrap converts a plain Go error into an Error under code, preserving the
// original error text as Message.
func Wrap(code Code, err error, hint string) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), hint)
}

// As reports whether err (or one wrapped inside it) is an *Error, per the
// standard errors.As contract.
func As(err error) (*Error, bool) {
	var ae *Error
	ok := errors.As(err, &ae)
	return ae, ok
}

// classifiablePrefixes lists every Code whose string form is used elsewhere
// in the module as a conventional error-message prefix, e.g.
// fmt.Errorf("not_supported: unknown provider %q", name). Order matters only
// in that every prefix is checked; no two codes share a prefix.
var classifiablePrefixes = []Code{
	InvalidParams, InvalidURL, NotConfigured, NotSupported,
	ProviderUnavailable, FetchFailed, SearchFailed, CacheError,
	UnexpectedError,
}

// FromError classifies a plain Go error at a tool boundary into an *Error.
// If err already is (or wraps) an *Error, that is returned unchanged.
// Otherwise it looks for one of the stable code prefixes used by convention
// throughout the module's error messages and falls back to
// UnexpectedError when none match.
func FromError(err error, hint string) *Error {
	if err == nil {
		return nil
	}
	if ae, ok := As(err); ok {
		return ae
	}
	msg := err.Error()
	for _, c := range classifiablePrefixes {
		prefix := string(c) + ":"
		if strings.HasPrefix(msg, prefix) {
			return New(c, strings.TrimSpace(strings.TrimPrefix(msg, prefix)), hint)
		}
	}
	return New(UnexpectedError, msg, hint)
}
