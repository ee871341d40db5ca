// Package steamerr classifies failures of Steam calls so callers can decide
// whether to retry, prompt again, or give up.
//
// Every error produced by this module wraps exactly one of the kind
// sentinels below. Test with errors.Is:
//
//	if errors.Is(err, steamerr.ErrNotFound) {
//		// the confirmation has not propagated yet
//	}
package steamerr

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks network failures and timeouts. Retryable by the caller.
	ErrTransport = errors.New("transport error")

	// ErrProtocol marks an unexpected or unparseable response shape.
	ErrProtocol = errors.New("protocol error")

	// ErrAuth marks rejected credentials, guard codes, CAPTCHA answers, or
	// an expired session. Retryable with new input.
	ErrAuth = errors.New("auth error")

	// ErrNotFound marks a confirmation that is not (yet) listed.
	ErrNotFound = errors.New("not found")

	// ErrCrypto marks decode, HMAC, or RSA failures on well-formed-looking input.
	ErrCrypto = errors.New("crypto error")
)

// Error is a classified failure of a single operation.
type Error struct {
	Kind error  // one of the Err* kinds
	Op   string // operation that failed, e.g. "fetch confirmations"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Transport(op string, err error) error { return newError(ErrTransport, op, err) }
func Protocol(op string, err error) error  { return newError(ErrProtocol, op, err) }
func Auth(op string, err error) error      { return newError(ErrAuth, op, err) }
func NotFound(op string, err error) error  { return newError(ErrNotFound, op, err) }
func Crypto(op string, err error) error    { return newError(ErrCrypto, op, err) }

// Protocolf builds a protocol error from a formatted message.
func Protocolf(op, format string, args ...any) error {
	return newError(ErrProtocol, op, fmt.Errorf(format, args...))
}

// Retryable reports whether err is worth retrying without operator input.
// Transport failures and not-yet-propagated confirmations are; everything
// else needs new input or investigation.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrNotFound)
}
