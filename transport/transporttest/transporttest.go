// Package transporttest provides a synthetic, in-memory Transport double
// so the connection engine's state machine can be driven deterministically
// in tests without a real socket or a reference server.
package transporttest

import (
	"sync"

	"github.com/duplexproto/duplex-go-client/protocol"
	"github.com/duplexproto/duplex-go-client/transport"
)

// Fake is a Transport double that records every message the engine sends
// and lets the test drive OnOpen/OnMessage/OnClose directly.
type Fake struct {
	url string
	cb  transport.Callbacks

	mu      sync.Mutex
	started bool
	stopped bool
	sent    []protocol.Message
	sendErr error
}

// NewFakeFactory returns a transport.Factory producing Fakes, and a
// function to fetch the most recently constructed Fake (nil until the
// factory first builds one). Tests typically call the factory
// function once via Engine's transport factory option and then pull the
// Fake back out through the returned accessor.
func NewFakeFactory() (transport.Factory, func() *Fake) {
	var mu sync.Mutex
	var last *Fake

	factory := func(url string, cb transport.Callbacks) transport.Transport {
		f := &Fake{url: url, cb: cb}
		mu.Lock()
		last = f
		mu.Unlock()
		return f
	}

	return factory, func() *Fake {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func (f *Fake) URL() string { return f.url }

func (f *Fake) Start() error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *Fake) Send(msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

// SetSendError makes subsequent Send calls fail with err.
func (f *Fake) SetSendError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

// Sent returns a copy of every message handed to Send so far.
func (f *Fake) Sent() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

// Stopped reports whether Stop has been called.
func (f *Fake) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// Open invokes the engine's OnOpen callback, as a real transport would
// once the socket completed its handshake.
func (f *Fake) Open() {
	if f.cb.OnOpen != nil {
		f.cb.OnOpen()
	}
}

// Deliver invokes the engine's OnMessage callback with msg, as a real
// transport would on receiving a frame.
func (f *Fake) Deliver(msg protocol.Message) {
	if f.cb.OnMessage != nil {
		f.cb.OnMessage(msg)
	}
}

// Close invokes the engine's OnClose callback, as a real transport would
// when the underlying socket drops.
func (f *Fake) Close(err error) {
	if f.cb.OnClose != nil {
		f.cb.OnClose(err)
	}
}
