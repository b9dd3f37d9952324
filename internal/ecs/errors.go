package ecs

import (
	"errors"
	"fmt"

	"campus-sync/internal/httpx"
)

// ErrorKind splits broker failures into the two classes callers care about:
// transport problems worth retrying on a later pass, and protocol rejections
// that retrying can never fix (foreign resource, consumed token, missing
// permission).
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindProtocol
)

func (k ErrorKind) String() string {
	if k == KindProtocol {
		return "protocol"
	}
	return "transport"
}

// Error wraps every failure surfaced by the client.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ecs: %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransport reports whether err is a retryable broker failure.
func IsTransport(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTransport
}

// IsProtocol reports whether err is a terminal broker rejection.
func IsProtocol(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindProtocol
}

// classify wraps a raw httpx/net failure into a kinded Error. Anything the
// broker answered with a 4xx is a rejection; everything else (network
// failures, exhausted 5xx retries) is transport.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var herr *httpx.HTTPError
	if errors.As(err, &herr) && herr.StatusCode >= 400 && herr.StatusCode < 500 {
		return &Error{Kind: KindProtocol, Op: op, Err: err}
	}
	return &Error{Kind: KindTransport, Op: op, Err: err}
}
