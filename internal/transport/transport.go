// Package transport defines and implements the external "Transport"
// collaborator from spec.md §1: send a typed request, await a typed
// response or status-report stream, with a configurable per-message
// expiry; register/unregister handlers keyed by request-kind; cancel
// in-flight transactions by predicate. Framing/checksumming of serial
// messages is explicitly out of scope as a *specified* behavior (spec
// §1 non-goals), but a concrete serial-backed implementation still has to
// exist for the controller core to run against something — SerialTransport
// (serial.go) provides one, grounded on the teacher's internal/ncp
// request/ACK/readLoop design.
package transport

import (
	"context"
	"time"

	"zwave-controller-core/internal/security"
	"zwave-controller-core/internal/valuestore"
	"zwave-controller-core/internal/zwave"
)

// Priority is a per-request priority carried in SendOptions.
// SerialTransport does not read it: requests are written to the stick in
// the order their SendMessage calls acquire the write lock.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityLow
)

// SendOptions configures a single SendMessage call (spec §6).
type SendOptions struct {
	// SupportCheck gates the send on the controller's capability set
	// (spec §4.1: "Queries 1-5 are issued with supportCheck = false").
	// When true and the transport knows the function type is
	// unsupported, SendMessage fails fast without writing to the wire.
	SupportCheck bool
	// Expire bounds how long SendMessage waits for a response. Zero
	// means the transport's default.
	Expire time.Duration
	Priority Priority
}

// Request is a typed outgoing message.
type Request struct {
	FunctionType zwave.FunctionType
	Payload      []byte
}

// Response is a typed reply to a Request, or an unsolicited status
// report delivered to a registered handler.
type Response struct {
	FunctionType zwave.FunctionType
	Payload      []byte
}

// HandlerResult tells the transport whether a registered handler
// consumed an unsolicited report, matching spec §4.2's state tables where
// unmatched statuses are explicitly "ignore (return 'not handled')".
type HandlerResult int

const (
	NotHandled HandlerResult = iota
	Handled
)

// RequestHandler processes an unsolicited Response delivered for a
// function type the caller registered interest in.
type RequestHandler func(ctx context.Context, resp Response) HandlerResult

// Transaction describes one in-flight SendMessage call, exposed only so
// RejectTransactions can match against it by predicate (spec §6).
type Transaction struct {
	ID           string
	FunctionType zwave.FunctionType
	CreatedAt    time.Time
}

// Timeouts holds the stick's configured ack/byte timeouts (spec §4.1,
// "SetSerialApiTimeouts").
type Timeouts struct {
	Ack  time.Duration
	Byte time.Duration
}

// Transport is the external collaborator the controller core drives
// every protocol state machine through (spec §1, §6).
type Transport interface {
	// SendMessage sends req and waits for its response (or the
	// configured expiry). opts.SupportCheck gates on the capability set;
	// the caller (controller) is responsible for checking
	// isFunctionSupported itself when it needs DriverNotReady semantics
	// (spec §4.1's "Failure semantics").
	SendMessage(ctx context.Context, req Request, opts SendOptions) (Response, error)

	// RegisterRequestHandler registers handler for unsolicited reports of
	// the given function type. If oneShot is true the handler is
	// automatically unregistered the first time it returns Handled (used by
	// hard reset, spec §4.8); a NotHandled result leaves it registered.
	RegisterRequestHandler(ft zwave.FunctionType, handler RequestHandler, oneShot bool)
	UnregisterRequestHandler(ft zwave.FunctionType)

	// RejectTransactions cancels every in-flight SendMessage call whose
	// Transaction matches predicate, causing each to return a transport
	// error (spec §4.5's "Stop heal").
	RejectTransactions(predicate func(Transaction) bool)

	SecurityManager() *security.Manager
	ValueDB() valuestore.Factory
	Timeouts() Timeouts
}
