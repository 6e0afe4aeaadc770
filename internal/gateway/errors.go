package gateway

import (
	"errors"
	"fmt"
)

// ErrNotConnected is reported by fetch operations invoked on a session that
// is not (or no longer) open.
var ErrNotConnected = errors.New("gateway session is not connected")

// ConnectionError reports a transport or handshake failure while
// establishing the gateway session. The supervisor reacts with
// backoff-and-retry; it is never fatal to the process.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("gateway connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// FetchError reports a failed read cycle on a session that appeared live.
// The exporter renders Unavailable for the cycle and the supervisor tears
// the session down and reconnects.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("gateway fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
