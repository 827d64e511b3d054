// Package errors provides the error taxonomy used across collabd.
//
// Every error that crosses a package boundary is a *CollabError* carrying
// one of the Kind values below plus an optional human-readable message and
// wrapped cause. Kinds map to exactly one outcome: a WebSocket close code
// for client-facing errors, an HTTP status for pre-upgrade rejections, or
// "counted and dropped" for errors that must never reach a client.
package errors

import "fmt"

// Kind identifies one of the taxonomy's abstract error categories.
type Kind string

const (
	KindProtocol      Kind = "PROTOCOL"
	KindCorruptUpdate Kind = "CORRUPT_UPDATE"
	KindPingTimeout   Kind = "PING_TIMEOUT"
	KindSlowConsumer  Kind = "SLOW_CONSUMER"
	KindAuth          Kind = "AUTH"
	KindBusPublish    Kind = "BUS_PUBLISH"
	KindBusDecode     Kind = "BUS_DECODE"
	KindCapacity      Kind = "CAPACITY"
	KindHubFull       Kind = "HUB_FULL"
	KindShutdown      Kind = "SHUTDOWN"
	KindActiveClients Kind = "ACTIVE_CLIENTS"
	KindInternal      Kind = "INTERNAL"
)

// CloseCode is the WebSocket close code associated with a Kind, or 0 if the
// Kind never results in a socket close (e.g. it is purely internal).
func (k Kind) CloseCode() int {
	switch k {
	case KindProtocol:
		return 1002
	case KindCorruptUpdate:
		return 1003
	case KindPingTimeout:
		return 1001
	case KindSlowConsumer:
		return 1008
	case KindShutdown:
		return 1001
	default:
		return 0
	}
}

// HTTPStatus is the pre-upgrade HTTP status associated with a Kind, or 0 if
// the Kind only ever manifests after the upgrade has completed.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuth:
		return 401
	case KindCapacity, KindHubFull:
		return 503
	case KindActiveClients:
		return 409
	case KindInternal:
		return 500
	default:
		return 0
	}
}

// CollabError is a taxonomy-tagged error with an optional wrapped cause.
type CollabError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *CollabError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CollabError) Unwrap() error { return e.Cause }

// New builds a CollabError with no wrapped cause.
func New(kind Kind, message string) *CollabError {
	return &CollabError{Kind: kind, Message: message}
}

// Wrap builds a CollabError around an existing error.
func Wrap(kind Kind, message string, cause error) *CollabError {
	return &CollabError{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a CollabError of the given Kind.
func Is(err error, kind Kind) bool {
	ce, ok := err.(*CollabError)
	return ok && ce.Kind == kind
}

func Protocol(message string) *CollabError      { return New(KindProtocol, message) }
func CorruptUpdate(err error) *CollabError       { return Wrap(KindCorruptUpdate, "update rejected by CRDT adapter", err) }
func PingTimeout() *CollabError                  { return New(KindPingTimeout, "client did not answer ping") }
func SlowConsumer() *CollabError                 { return New(KindSlowConsumer, "outbound queue overflowed") }
func Auth(message string) *CollabError           { return New(KindAuth, message) }
func BusPublish(err error) *CollabError          { return Wrap(KindBusPublish, "bus publish failed", err) }
func BusDecode(err error) *CollabError           { return Wrap(KindBusDecode, "bus envelope malformed", err) }
func Capacity() *CollabError                     { return New(KindCapacity, "hub capacity reached") }
func HubFull(docID string) *CollabError          { return New(KindHubFull, fmt.Sprintf("document %q has reached its client cap", docID)) }
func Shutdown() *CollabError                     { return New(KindShutdown, "server is draining") }
func ActiveClients(docID string) *CollabError    { return New(KindActiveClients, fmt.Sprintf("document %q still has active clients", docID)) }
func Internal(message string, cause error) *CollabError {
	return Wrap(KindInternal, message, cause)
}
