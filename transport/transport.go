// Package transport defines the transport adapter contract the connection
// engine drives, and a default implementation over a WebSocket. The
// engine treats the transport as an external collaborator: it does not
// know or care how bytes cross the wire, only that messages arrive in
// order and that Send/Stop behave as documented below.
package transport

import "github.com/duplexproto/duplex-go-client/protocol"

// Transport is the contract the connection engine drives. Implementations
// deliver callbacks serially and in receive order; they do not retry at
// the protocol level — that is the engine's job (see spec.md §4.4.7).
type Transport interface {
	// Start begins connecting. It may block while dialing; success or
	// failure is reported via OnOpen/OnClose.
	Start() error
	// Stop tears the transport down. Idempotent.
	Stop()
	// Send writes one message. Implementations must serialize concurrent
	// callers themselves.
	Send(msg protocol.Message) error
	// URL returns the address this transport was constructed for.
	URL() string
}

// Callbacks groups the three events a Transport produces. All three are
// invoked from the transport's own goroutine(s); the engine is
// responsible for serializing them onto its single logical executor.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(protocol.Message)
	OnClose   func(error)
}

// Factory constructs a Transport for a URL, wired to the given callbacks.
// The engine calls this once per connect/reconnect cycle.
type Factory func(url string, cb Callbacks) Transport
