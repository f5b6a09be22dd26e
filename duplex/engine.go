// Package duplex implements the client-side protocol engine: the
// Connection State Machine, the Authorization State Machine, and the
// Channel Multiplexer described in spec.md, orchestrated as one Engine
// per transport connection.
package duplex

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/duplexproto/duplex-go-client/config"
	"github.com/duplexproto/duplex-go-client/duplexerr"
	"github.com/duplexproto/duplex-go-client/protocol"
	"github.com/duplexproto/duplex-go-client/transport"
)

// ConnectionStateListener observes Engine connection-state transitions.
type ConnectionStateListener func(newState, previousState ConnectionState)

// AuthStateListener observes Engine auth-state transitions.
type AuthStateListener func(newState, previousState AuthState)

// ErrorListener observes connection-scoped errors.
type ErrorListener func(*duplexerr.Error)

// Engine orchestrates the handshake, auth, keepalive, timeout, reconnect,
// and channel dispatch for one logical connection. All mutable state
// below mu is only ever touched while holding mu; user listeners are
// always invoked after releasing mu so a listener is free to call back
// into the Engine (e.g. OpenChannel) without deadlocking.
type Engine struct {
	cfg              config.Config
	transportFactory transport.Factory
	logger           zerolog.Logger
	metrics          MetricsCollector

	connState atomic.Int32
	authState atomic.Int32

	details atomic.Pointer[protocol.Details]

	timers *timerRegistry

	mu                sync.Mutex
	url               string
	tr                transport.Transport
	transportEpoch    int
	authToken         *string
	isFirstAuthState  bool
	reconnectAttempts int
	lastSent          time.Time
	lastReceived      time.Time
	channels          map[int]*Channel
	nextChannelID     int

	connectionStateListeners *listenerSet[ConnectionStateListener]
	authStateListeners       *listenerSet[AuthStateListener]
	errorListeners           *listenerSet[ErrorListener]
}

// New constructs an Engine. With no options it uses spec.md §6 defaults,
// a gorilla/websocket transport, a disabled-level zerolog logger, and a
// no-op metrics collector.
func New(opts ...Option) *Engine {
	ec := &engineConfig{
		cfg:     config.Default(),
		logger:  zerolog.Nop(),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(ec)
	}
	if ec.transportFactory == nil {
		ec.transportFactory = transport.NewWebSocketFactory()
	}

	e := &Engine{
		cfg:              ec.cfg,
		transportFactory: ec.transportFactory,
		logger:           ec.logger,
		metrics:          ec.metrics,
		channels:         make(map[int]*Channel),
		nextChannelID:    1,
		isFirstAuthState: true,
	}
	e.connState.Store(int32(NotConnected))
	e.authState.Store(int32(Unauthorized))
	e.details.Store(&protocol.Details{
		ProtocolVersion:        protocol.ProtocolVersion,
		ClientVersion:          protocol.ClientVersion,
		ClientKeepaliveTimeout: int(ec.cfg.KeepaliveTimeout.Seconds()),
	})
	e.timers = newTimerRegistry(func(fn func()) { fn() })

	e.connectionStateListeners = newListenerSet[ConnectionStateListener](e.logger, "connection-state")
	e.authStateListeners = newListenerSet[AuthStateListener](e.logger, "auth-state")
	e.errorListeners = newListenerSet[ErrorListener](e.logger, "error")

	return e
}

// GetConnectionState returns the engine's current connection state.
func (e *Engine) GetConnectionState() ConnectionState {
	return ConnectionState(e.connState.Load())
}

// GetAuthState returns the engine's current auth state.
func (e *Engine) GetAuthState() AuthState {
	return AuthState(e.authState.Load())
}

// GetConnectionDetails returns a snapshot of the negotiated connection
// parameters.
func (e *Engine) GetConnectionDetails() protocol.Details {
	return *e.details.Load()
}

// AddConnectionStateChangeListener registers fn to observe connection
// state transitions.
func (e *Engine) AddConnectionStateChangeListener(fn ConnectionStateListener) ListenerHandle {
	return e.connectionStateListeners.add(fn)
}

// RemoveConnectionStateChangeListener deregisters a previously added
// listener.
func (e *Engine) RemoveConnectionStateChangeListener(h ListenerHandle) {
	e.connectionStateListeners.remove(h)
}

// AddAuthStateChangeListener registers fn to observe auth state
// transitions.
func (e *Engine) AddAuthStateChangeListener(fn AuthStateListener) ListenerHandle {
	return e.authStateListeners.add(fn)
}

// RemoveAuthStateChangeListener deregisters a previously added listener.
func (e *Engine) RemoveAuthStateChangeListener(h ListenerHandle) {
	e.authStateListeners.remove(h)
}

// AddErrorListener registers fn to observe connection-scoped errors.
func (e *Engine) AddErrorListener(fn ErrorListener) ListenerHandle {
	return e.errorListeners.add(fn)
}

// RemoveErrorListener deregisters a previously added error listener.
func (e *Engine) RemoveErrorListener(h ListenerHandle) {
	e.errorListeners.remove(h)
}

// transitionConnectionState swaps the atomic connection state. It must be
// called with mu held, and never invokes listeners itself: mu must never
// be held while a listener runs, since a listener is free to call back
// into the Engine (e.g. OpenChannel). Callers collect the returned
// notify closure and run it after releasing mu — see notifyAfterUnlock.
func (e *Engine) transitionConnectionState(next ConnectionState) (notify func(), changed bool) {
	prev := ConnectionState(e.connState.Swap(int32(next)))
	if prev == next {
		return nil, false
	}
	e.logger.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("connection state")
	return func() {
		notifyEach(e.connectionStateListeners, func(fn ConnectionStateListener) { fn(next, prev) })
	}, true
}

// transitionAuthState is transitionConnectionState's auth-state twin.
func (e *Engine) transitionAuthState(next AuthState) (notify func(), changed bool) {
	prev := AuthState(e.authState.Swap(int32(next)))
	if prev == next {
		return nil, false
	}
	e.logger.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("auth state")
	return func() {
		notifyEach(e.authStateListeners, func(fn AuthStateListener) { fn(next, prev) })
	}, true
}

// publishError fans err out to registered error listeners, or logs it if
// none are registered. Never call this while holding mu.
func (e *Engine) publishError(err *duplexerr.Error) {
	if e.errorListeners.empty() {
		e.logger.Error().Str("kind", err.Kind).Msg(err.Message)
		return
	}
	notifyEach(e.errorListeners, func(fn ErrorListener) { fn(err) })
}

// notifyAfterUnlock runs every non-nil notify closure. Callers append to
// a []func() while holding mu, unlock, then pass the slice here.
func notifyAfterUnlock(notifications ...func()) {
	for _, n := range notifications {
		if n != nil {
			n()
		}
	}
}
