package duplex

import (
	"time"

	"github.com/duplexproto/duplex-go-client/duplexerr"
	"github.com/duplexproto/duplex-go-client/protocol"
	"github.com/duplexproto/duplex-go-client/transport"
)

// Connect opens a transport to url and drives it through the setup
// handshake. If a transport already exists for this exact url, it returns
// an already-resolved Completion immediately. Otherwise it tears down any
// prior state, starts a fresh transport, and returns a Completion that
// resolves when the connection state reaches Connected and rejects if it
// falls back to NotConnected first.
func (e *Engine) Connect(url string) *Completion {
	e.mu.Lock()
	if e.tr != nil && e.url == url {
		e.mu.Unlock()
		c := newCompletion()
		c.resolve()
		return c
	}
	e.mu.Unlock()

	e.Disconnect()

	completion := newCompletion()
	var handle ListenerHandle
	handle = e.AddConnectionStateChangeListener(func(next, _ ConnectionState) {
		switch next {
		case Connected:
			completion.resolve()
			e.RemoveConnectionStateChangeListener(handle)
		case NotConnected:
			completion.reject(duplexerr.ErrClosed)
			e.RemoveConnectionStateChangeListener(handle)
		}
	})

	e.mu.Lock()
	e.url = url
	epoch := e.transportEpoch
	tr := e.transportFactory(url, e.callbacksForEpoch(epoch))
	e.tr = tr
	notify, changed := e.transitionConnectionState(Connecting)
	e.mu.Unlock()

	if changed {
		notify()
	}

	_ = tr.Start()

	return completion
}

// Disconnect tears down the current transport and every pending timer and
// returns the engine to NotConnected/Unauthorized. A no-op if the engine
// is already NotConnected.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	if ConnectionState(e.connState.Load()) == NotConnected {
		e.mu.Unlock()
		return
	}

	e.transportEpoch++
	tr := e.tr
	e.tr = nil
	e.timers.cancelAll()
	e.resetTransientStateLocked(true)

	notifyConn, changedConn := e.transitionConnectionState(NotConnected)
	notifyAuth, changedAuth := e.transitionAuthState(Unauthorized)
	e.mu.Unlock()

	if tr != nil {
		tr.Stop()
	}
	e.metrics.ConnectionClosed()
	if changedConn {
		notifyConn()
	}
	if changedAuth {
		notifyAuth()
	}
}

// Reconnect tears down the current transport, leaves the connection state
// at Connecting, and schedules a fresh transport after a linear backoff of
// attempt*1s. A no-op if the engine is already NotConnected.
func (e *Engine) Reconnect() {
	e.mu.Lock()
	if ConnectionState(e.connState.Load()) == NotConnected {
		e.mu.Unlock()
		return
	}

	e.transportEpoch++
	tr := e.tr
	e.tr = nil
	e.timers.cancelAll()
	e.resetTransientStateLocked(false)
	e.reconnectAttempts++
	attempt := e.reconnectAttempts
	url := e.url

	notify, changed := e.transitionConnectionState(Connecting)
	e.mu.Unlock()

	if tr != nil {
		tr.Stop()
	}
	e.metrics.ReconnectAttempt(attempt)
	if changed {
		notify()
	}

	delay := time.Duration(attempt) * time.Second
	e.timers.schedule(timerReconnect, delay, func() { e.restartTransport(url) })
}

// restartTransport starts the transport for the reconnect attempt armed by
// Reconnect. It no-ops if a subsequent Disconnect/Reconnect/Connect call
// already moved the engine out of Connecting before the backoff elapsed.
func (e *Engine) restartTransport(url string) {
	e.mu.Lock()
	if ConnectionState(e.connState.Load()) != Connecting {
		e.mu.Unlock()
		return
	}
	epoch := e.transportEpoch
	tr := e.transportFactory(url, e.callbacksForEpoch(epoch))
	e.tr = tr
	e.mu.Unlock()

	_ = tr.Start()
}

// callbacksForEpoch builds transport.Callbacks tied to a specific
// transportEpoch value so a callback fired by a transport this engine has
// since superseded (via Disconnect/Reconnect) is recognized as stale and
// dropped rather than acted on.
func (e *Engine) callbacksForEpoch(epoch int) transport.Callbacks {
	return transport.Callbacks{
		OnOpen:    func() { e.handleTransportOpen(epoch) },
		OnMessage: func(m protocol.Message) { e.handleTransportMessage(epoch, m) },
		OnClose:   func(err error) { e.handleTransportClose(epoch, err) },
	}
}

// resetTransientStateLocked clears everything about the current connection
// cycle that must not survive a disconnect or reconnect: negotiated
// connection details, the send/receive clock, and the first-AUTH_STATE
// flag. resetAttempts also zeroes the reconnect-attempt counter, which a
// mid-cycle Reconnect must NOT do since it counts across the whole backoff
// sequence.
func (e *Engine) resetTransientStateLocked(resetAttempts bool) {
	e.details.Store(&protocol.Details{
		ProtocolVersion:        protocol.ProtocolVersion,
		ClientVersion:          protocol.ClientVersion,
		ClientKeepaliveTimeout: int(e.cfg.KeepaliveTimeout.Seconds()),
	})
	e.lastSent = time.Time{}
	e.lastReceived = time.Time{}
	e.isFirstAuthState = true
	if resetAttempts {
		e.reconnectAttempts = 0
	}
}
