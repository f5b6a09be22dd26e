package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duplexproto/duplex-go-client/protocol"
)

func echoServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, url
}

func TestWebSocketTransportRoundTrip(t *testing.T) {
	srv, url := echoServer(t)
	defer srv.Close()

	opened := make(chan struct{}, 1)
	received := make(chan protocol.Message, 1)
	closed := make(chan error, 1)

	tr := NewWebSocketTransport(url, Callbacks{
		OnOpen:    func() { opened <- struct{}{} },
		OnMessage: func(m protocol.Message) { received <- m },
		OnClose:   func(err error) { closed <- err },
	}, WithHandshakeTimeout(2*time.Second))

	if err := tr.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tr.Stop()

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnOpen")
	}

	if err := tr.Send(protocol.New("PING", 0, map[string]any{"n": 1})); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case m := <-received:
		if m.Type != "PING" || m.Int("n") != 1 {
			t.Fatalf("got %+v, want PING with n=1", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed message")
	}
}

func TestWebSocketTransportDialFailureReportsClose(t *testing.T) {
	closed := make(chan error, 1)
	tr := NewWebSocketTransport("ws://127.0.0.1:1/no-such-server", Callbacks{
		OnOpen:  func() {},
		OnClose: func(err error) { closed <- err },
	}, WithHandshakeTimeout(200*time.Millisecond))

	if err := tr.Start(); err == nil {
		t.Fatal("expected Start to fail against an unreachable address")
	}

	select {
	case err := <-closed:
		if err == nil {
			t.Fatal("expected a non-nil dial error via OnClose")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}
}
