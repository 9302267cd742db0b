package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/playperu/league/internal/protocol"
)

// Kind classifies why a call failed.
type Kind string

const (
	KindTimeout    Kind = "TIMEOUT"
	KindConnection Kind = "CONNECTION_FAILURE"
	KindCircuit    Kind = "CIRCUIT_OPEN"
	KindProtocol   Kind = "PROTOCOL_ERROR"
	KindAuth       Kind = "AUTH_FAILURE"
)

// Retryable reports whether failures of this kind are worth another attempt.
func (k Kind) Retryable() bool {
	return k == KindTimeout || k == KindConnection
}

// ErrCircuitOpen is returned by Breaker.Allow while calls are being refused.
var ErrCircuitOpen = errors.New("circuit open")

// Error is the typed failure returned by Client.Call and by transports.
type Error struct {
	Kind     Kind
	Dest     string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Dest == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("calling %s: %s after %d attempt(s): %v", e.Dest, e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout wraps err as a timeout failure.
func Timeout(err error) error { return &Error{Kind: KindTimeout, Err: err} }

// Connection wraps err as a connection failure.
func Connection(err error) error { return &Error{Kind: KindConnection, Err: err} }

// Protocol wraps err as a non-retryable protocol failure.
func Protocol(err error) error { return &Error{Kind: KindProtocol, Err: err} }

// Unauthorized wraps err as a rejected credential.
func Unauthorized(err error) error { return &Error{Kind: KindAuth, Err: err} }

// Classifier maps a failed attempt to a Kind.
type Classifier func(error) Kind

// KindOf is the default Classifier. Typed errors keep their kind; context
// deadlines and network timeouts are timeouts; JSON-RPC errors are protocol
// or auth failures; anything else is a connection failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var rpcErr *protocol.Error
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == protocol.CodeUnauthorized {
			return KindAuth
		}
		return KindProtocol
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindConnection
}

// IsRetryable reports whether err is a transient transport failure.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err).Retryable()
}

func cause(err error) error {
	var e *Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err
	}
	return err
}
