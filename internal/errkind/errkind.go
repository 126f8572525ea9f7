// Package errkind defines the error taxonomy shared across the overlay
// daemon: configuration, network, protocol, route, key-agreement, and
// serialization failures. Callers use errors.Is/errors.As against the
// sentinels and wrapper types below rather than string matching.
package errkind

import (
	"errors"
	"fmt"
)

// ConfigError wraps a fatal construction-time configuration problem.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config error: " + e.Msg }

func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// NetworkError wraps a recoverable I/O or reachability failure.
type NetworkError struct {
	Msg string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return "network error: " + e.Msg + ": " + e.Err.Error()
	}
	return "network error: " + e.Msg
}

func (e *NetworkError) Unwrap() error { return e.Err }

func NewNetworkError(msg string, err error) *NetworkError {
	return &NetworkError{Msg: msg, Err: err}
}

// ProtocolError terminates the offending session only.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Msg }

func NewProtocolError(format string, args ...any) *ProtocolError {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}

// RouteError covers operations against a non-existent route. Withdrawal
// misses are logged by the caller, never propagated as fatal.
var ErrRouteNotFound = errors.New("route not found")

// Ike groups the IkeError::* variants from spec.md §7.
var (
	ErrIkeCrypto               = errors.New("ike: crypto primitive failure")
	ErrIkeAuthenticationFailed = errors.New("ike: phase-2 authentication failed")
)

// SerializationError is treated as a ProtocolError at the session boundary.
func NewSerializationError(err error) *ProtocolError {
	return NewProtocolError("malformed frame: %v", err)
}

// AsConfigError reports whether err is (or wraps) a *ConfigError.
func AsConfigError(err error) (*ConfigError, bool) {
	var ce *ConfigError
	ok := errors.As(err, &ce)
	return ce, ok
}
