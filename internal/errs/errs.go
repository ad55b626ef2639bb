// Package errs classifies failures of the upload flow so every layer can
// surface a single status message and callers can map kinds to HTTP codes.
package errs

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	pkgerrors "github.com/pkg/errors"
)

// Kind identifies which step of the flow failed.
type Kind string

const (
	// Validation marks missing or malformed user input. No network call was made.
	Validation Kind = "validation"
	// Auth marks a failed tenant access token exchange.
	Auth Kind = "auth"
	// Query marks a failed Bitable read.
	Query Kind = "query"
	// Write marks a failed Bitable create or update.
	Write Kind = "write"
	// Publish marks a failed GitHub contents write.
	Publish Kind = "publish"
	// Transport marks an unreadable or oversized response.
	Transport Kind = "transport"
)

// Error carries a Kind alongside a display message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with a stack attached.
func New(kind Kind, msg string) error {
	return pkgerrors.WithStack(&Error{Kind: kind, Msg: msg})
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(&Error{Kind: kind, Msg: msg, Err: err})
}

// KindOf returns the outermost Kind in err's chain, or "" when unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message renders err as the single user-visible status line.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}

// HTTPStatus maps a classified error onto the proxy's response codes.
func HTTPStatus(err error) int {
	if Is(err, Validation) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Truncate trims s and cuts it to at most max bytes plus "...", never
// splitting a UTF-8 sequence. Upstream bodies quoted in messages and logs go
// through here.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "..."
}
