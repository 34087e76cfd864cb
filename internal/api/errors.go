package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so callers can decide behavior without
// matching on message strings.
type ErrorKind string

const (
	KindNetwork    ErrorKind = "network"
	KindTimeout    ErrorKind = "timeout"
	KindBridge     ErrorKind = "bridge"
	KindAuth       ErrorKind = "auth"
	KindLinkButton ErrorKind = "link_button"
	KindConfig     ErrorKind = "config"
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindParse      ErrorKind = "parse"
	KindDiscovery  ErrorKind = "discovery"
	KindScene      ErrorKind = "scene"
)

// Error is the single failure type produced by this package. It carries a
// kind, the operation that failed, a human-readable reason, and whether a
// retry of the same operation can reasonably succeed.
type Error struct {
	Kind      ErrorKind
	Op        string
	Reason    string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Reason != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Reason)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err if it is (or wraps) an *Error, and an
// empty kind otherwise.
func KindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsRetryable reports whether err carries the retryable flag.
func IsRetryable(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return false
}

// BridgeError is the error object inside the bridge's native error
// envelope: [{"error":{"type":N,"address":...,"description":...}}].
type BridgeError struct {
	Type        int    `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

// bridgeErrorTable maps the bridge's numeric error codes to a kind, a
// default message, and retryability. Retryability for bridge codes is
// defined here and nowhere else.
var bridgeErrorTable = map[int]struct {
	kind      ErrorKind
	retryable bool
	message   string
}{
	1:   {KindAuth, false, "unauthorized user"},
	3:   {KindConfig, false, "resource not available"},
	4:   {KindConfig, false, "method not available"},
	5:   {KindConfig, false, "missing parameter"},
	6:   {KindConfig, false, "parameter not available"},
	7:   {KindConfig, false, "invalid value"},
	8:   {KindConfig, false, "parameter not modifiable"},
	11:  {KindBridge, true, "too many items in list"},
	12:  {KindBridge, false, "portal connection required"},
	101: {KindLinkButton, true, "link button not pressed"},
}

// fromBridgeError converts a bridge error object into an *Error using the
// code table, falling back to a generic bridge error for unknown codes.
func fromBridgeError(be BridgeError) *Error {
	if entry, ok := bridgeErrorTable[be.Type]; ok {
		reason := entry.message
		if be.Description != "" {
			reason = fmt.Sprintf("%s: %s", entry.message, be.Description)
		}
		return &Error{
			Kind:      entry.kind,
			Op:        be.Address,
			Reason:    reason,
			Retryable: entry.retryable,
		}
	}
	return &Error{
		Kind:   KindBridge,
		Op:     be.Address,
		Reason: fmt.Sprintf("API error %d: %s", be.Type, be.Description),
	}
}
