package transport

import (
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duplexproto/duplex-go-client/protocol"
)

// WebSocketTransport is the default Transport implementation, backed by
// gorilla/websocket. It owns no protocol state — it only turns wire bytes
// into decoded Messages and back.
type WebSocketTransport struct {
	url string
	cb  Callbacks

	handshakeTimeout time.Duration
	tlsConfig        *tls.Config

	writeMu sync.Mutex
	conn    *websocket.Conn

	stopOnce sync.Once
	stopped  chan struct{}
}

// WebSocketOption configures a WebSocketTransport at construction time.
type WebSocketOption func(*WebSocketTransport)

// WithHandshakeTimeout bounds the initial WebSocket upgrade.
func WithHandshakeTimeout(d time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) { t.handshakeTimeout = d }
}

// WithTLSConfig sets the TLS configuration used for wss:// URLs.
func WithTLSConfig(cfg *tls.Config) WebSocketOption {
	return func(t *WebSocketTransport) { t.tlsConfig = cfg }
}

// NewWebSocketFactory returns a transport.Factory that builds
// WebSocketTransport instances configured with opts.
func NewWebSocketFactory(opts ...WebSocketOption) Factory {
	return func(url string, cb Callbacks) Transport {
		t := &WebSocketTransport{
			url:              url,
			cb:               cb,
			handshakeTimeout: 10 * time.Second,
			stopped:          make(chan struct{}),
		}
		for _, opt := range opts {
			opt(t)
		}
		return t
	}
}

// NewWebSocketTransport builds a single WebSocketTransport directly,
// without going through a Factory. Convenient for one-off callers such as
// the CLI probe.
func NewWebSocketTransport(url string, cb Callbacks, opts ...WebSocketOption) *WebSocketTransport {
	t := &WebSocketTransport{
		url:              url,
		cb:               cb,
		handshakeTimeout: 10 * time.Second,
		stopped:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *WebSocketTransport) URL() string { return t.url }

// Start dials the WebSocket and spins the read pump. It returns as soon as
// the dial either succeeds or fails; success/failure is also reported
// through the OnOpen/OnClose callbacks so the engine's state machine
// drives off those, not off Start's return value.
func (t *WebSocketTransport) Start() error {
	dialer := &websocket.Dialer{
		HandshakeTimeout: t.handshakeTimeout,
		TLSClientConfig:  t.tlsConfig,
	}

	conn, _, err := dialer.Dial(t.url, nil)
	if err != nil {
		if t.cb.OnClose != nil {
			t.cb.OnClose(fmt.Errorf("dial %s: %w", t.url, err))
		}
		return err
	}

	t.conn = conn
	if t.cb.OnOpen != nil {
		t.cb.OnOpen()
	}

	go t.readPump()
	return nil
}

func (t *WebSocketTransport) readPump() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.stopped:
				return
			default:
			}
			if t.cb.OnClose != nil {
				t.cb.OnClose(err)
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		if t.cb.OnMessage != nil {
			t.cb.OnMessage(msg)
		}
	}
}

// Send serializes msg to JSON and writes it as a single text frame.
// gorilla/websocket connections are not safe for concurrent writers, so
// callers are serialized behind writeMu.
func (t *WebSocketTransport) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.conn == nil {
		return fmt.Errorf("transport: send before open")
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Stop closes the underlying connection exactly once.
func (t *WebSocketTransport) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopped)
		if t.conn != nil {
			t.conn.Close()
		}
	})
}
