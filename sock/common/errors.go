package common

import "errors"

var (
	// ErrAlreadyRunning is returned by Start / Connect on a running server or client
	ErrAlreadyRunning = errors.New("already running")
	// ErrNotRunning is returned by operations that need a running server or client
	ErrNotRunning = errors.New("not running")
	// ErrAlreadyConnected is returned by SetAutoReconnect while the client is connected
	ErrAlreadyConnected = errors.New("already connected")
	// ErrClientUnknown is returned when sending to a client id the server never saw or already forgot
	ErrClientUnknown = errors.New("client unknown")
	// ErrClientNotConnected is returned when sending to a client that is not in the connected state
	ErrClientNotConnected = errors.New("client not connected")
	// ErrPoolExhausted is returned when the context pool has no free slot for a new connection
	ErrPoolExhausted = errors.New("client context pool exhausted")
	// ErrTimeout is returned when an operation did not finish within its deadline
	ErrTimeout = errors.New("timeout")
	// ErrInvalidConfig is returned by Validate and wraps the description of the invalid field
	ErrInvalidConfig = errors.New("invalid config")
	// ErrInvalidControlMessage is returned when a group control message can not be parsed
	ErrInvalidControlMessage = errors.New("invalid control message")
)
