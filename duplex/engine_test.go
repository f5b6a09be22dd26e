package duplex

import (
	"testing"
	"time"

	"github.com/duplexproto/duplex-go-client/config"
	"github.com/duplexproto/duplex-go-client/duplexerr"
	"github.com/duplexproto/duplex-go-client/protocol"
	"github.com/duplexproto/duplex-go-client/transport/transporttest"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, func() *transporttest.Fake) {
	t.Helper()

	factory, last := transporttest.NewFakeFactory()
	base := []Option{
		WithTransportFactory(factory),
		WithConfig(config.Config{
			KeepaliveInterval:      50 * time.Millisecond,
			KeepaliveTimeout:       200 * time.Millisecond,
			AcceptKeepaliveTimeout: 200 * time.Millisecond,
			ActionTimeout:          50 * time.Millisecond,
		}),
	}
	e := New(append(base, opts...)...)
	return e, last
}

func serverSetup(serverKeepalive int) protocol.Message {
	return protocol.New(protocol.TypeSetup, 0, map[string]any{
		"version":          "0.1-0.0.0",
		"keepaliveTimeout": serverKeepalive,
	})
}

func TestConnectWithoutAuthReachesConnected(t *testing.T) {
	e, last := newTestEngine(t)

	completion := e.Connect("ws://example.test/socket")
	fake := last()
	if fake == nil {
		t.Fatal("expected a transport to be constructed")
	}
	fake.Open()

	sent := fake.Sent()
	if len(sent) != 1 || sent[0].Type != protocol.TypeSetup {
		t.Fatalf("expected a single SETUP message, got %+v", sent)
	}

	fake.Deliver(serverSetup(30))

	if err := completion.Wait(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := e.GetConnectionState(); got != Connected {
		t.Fatalf("connection state = %v, want Connected", got)
	}
	if got := e.GetAuthState(); got != Unauthorized {
		t.Fatalf("auth state = %v, want Unauthorized", got)
	}
}

func TestConnectReusesExistingTransportForSameURL(t *testing.T) {
	e, last := newTestEngine(t)

	first := e.Connect("ws://example.test/socket")
	fake := last()
	fake.Open()
	fake.Deliver(serverSetup(30))
	if err := first.Wait(); err != nil {
		t.Fatalf("first connect failed: %v", err)
	}

	second := e.Connect("ws://example.test/socket")
	if err := second.Wait(); err != nil {
		t.Fatalf("second connect on the same url should resolve immediately: %v", err)
	}
	if got := len(fake.Sent()); got != 1 {
		t.Fatalf("expected no additional messages sent, got %d total", got)
	}
}

func TestSetupTimeoutDisconnectsAndPublishesError(t *testing.T) {
	e, last := newTestEngine(t)

	var gotErr *duplexerr.Error
	e.AddErrorListener(func(err *duplexerr.Error) { gotErr = err })

	completion := e.Connect("ws://example.test/socket")
	fake := last()
	fake.Open()

	if err := completion.Wait(); err == nil {
		t.Fatal("expected Connect to fail after SETUP_TIMEOUT")
	}
	if got := e.GetConnectionState(); got != NotConnected {
		t.Fatalf("connection state = %v, want NotConnected", got)
	}
	if gotErr == nil || gotErr.Kind != protocol.ErrorKindTimeout {
		t.Fatalf("expected a TIMEOUT error, got %+v", gotErr)
	}
}

func TestSetAuthTokenBeforeConnectSendsAuthOnOpen(t *testing.T) {
	e, last := newTestEngine(t)
	e.SetAuthToken("secret-token")

	completion := e.Connect("ws://example.test/socket")
	fake := last()
	fake.Open()

	sent := fake.Sent()
	if len(sent) != 2 || sent[0].Type != protocol.TypeSetup || sent[1].Type != protocol.TypeAuth {
		t.Fatalf("expected SETUP then AUTH, got %+v", sent)
	}
	if got := sent[1].String("token"); got != "secret-token" {
		t.Fatalf("AUTH token = %q, want %q", got, "secret-token")
	}
	if got := e.GetAuthState(); got != Authorizing {
		t.Fatalf("auth state = %v, want Authorizing", got)
	}

	fake.Deliver(serverSetup(30))
	fake.Deliver(protocol.New(protocol.TypeAuthState, 0, map[string]any{"state": "AUTHORIZED"}))

	if err := completion.Wait(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := e.GetAuthState(); got != Authorized {
		t.Fatalf("auth state = %v, want Authorized", got)
	}
}

func TestFirstUnauthorizedAuthStateIsInformationalAndKeepsToken(t *testing.T) {
	e, last := newTestEngine(t)
	e.SetAuthToken("secret-token")

	e.Connect("ws://example.test/socket")
	fake := last()
	fake.Open()
	fake.Deliver(serverSetup(30))
	fake.Deliver(protocol.New(protocol.TypeAuthState, 0, map[string]any{"state": "UNAUTHORIZED"}))

	if got := e.GetAuthState(); got != Unauthorized {
		t.Fatalf("auth state = %v, want Unauthorized", got)
	}
	e.mu.Lock()
	kept := e.authToken != nil
	e.mu.Unlock()
	if !kept {
		t.Fatal("the first UNAUTHORIZED is informational and must keep the token")
	}

	fake.Deliver(protocol.New(protocol.TypeAuthState, 0, map[string]any{"state": "UNAUTHORIZED"}))

	e.mu.Lock()
	forgotten := e.authToken == nil
	e.mu.Unlock()
	if !forgotten {
		t.Fatal("a second UNAUTHORIZED must forget the token")
	}

	// The server then drops the socket; closing while Unauthorized must
	// disconnect for good rather than reconnect.
	fake.Close(nil)

	if got := e.GetConnectionState(); got != NotConnected {
		t.Fatalf("a transport close while Unauthorized must disconnect, got state %v", got)
	}
}

func TestOpenChannelBeforeConnectIsRequestedOnceConnected(t *testing.T) {
	e, last := newTestEngine(t)

	ch := e.OpenChannel("echo", map[string]any{"greeting": "hi"})
	if got := ch.Status(); got != Requested {
		t.Fatalf("channel status = %v, want Requested", got)
	}

	e.Connect("ws://example.test/socket")
	fake := last()
	fake.Open()

	sent := fake.Sent()
	if len(sent) != 1 || sent[0].Type != protocol.TypeSetup {
		t.Fatalf("expected only SETUP before the connection is up, got %+v", sent)
	}

	fake.Deliver(serverSetup(30))

	sent = fake.Sent()
	if len(sent) != 2 || sent[1].Type != protocol.TypeChannelRequest || sent[1].Channel != ch.ID() {
		t.Fatalf("expected a CHANNEL_REQUEST for channel %d, got %+v", ch.ID(), sent)
	}
}

func TestChannelOpenedAndPayloadDispatch(t *testing.T) {
	e, last := newTestEngine(t)
	completion := e.Connect("ws://example.test/socket")
	fake := last()
	fake.Open()
	fake.Deliver(serverSetup(30))
	completion.Wait()

	ch := e.OpenChannel("echo", nil)

	var statuses []ChannelStatus
	ch.AddStatusListener(func(next, _ ChannelStatus) { statuses = append(statuses, next) })

	var received []protocol.Message
	ch.AddMessageListener(func(m protocol.Message) { received = append(received, m) })

	fake.Deliver(protocol.New(protocol.TypeChannelOpened, ch.ID(), nil))
	if ch.Status() != Opened {
		t.Fatalf("channel status = %v, want Opened", ch.Status())
	}
	if len(statuses) != 1 || statuses[0] != Opened {
		t.Fatalf("expected a single Opened status notification, got %v", statuses)
	}

	fake.Deliver(protocol.New("ECHO", ch.ID(), map[string]any{"text": "hello"}))
	if len(received) != 1 || received[0].String("text") != "hello" {
		t.Fatalf("expected the payload message to be delivered, got %+v", received)
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	sent := fake.Sent()
	lastMsg := sent[len(sent)-1]
	if lastMsg.Type != protocol.TypeChannelCancel || lastMsg.Channel != ch.ID() {
		t.Fatalf("expected a CHANNEL_CANCEL, got %+v", lastMsg)
	}
	if ch.Status() != Closed {
		t.Fatalf("channel status = %v, want Closed", ch.Status())
	}
}

func TestChannelSendFailsWhenNotOpened(t *testing.T) {
	e, _ := newTestEngine(t)
	ch := e.OpenChannel("echo", nil)

	err := ch.Send(protocol.New("PING", 0, nil))
	if err != duplexerr.ErrChannelNotReady {
		t.Fatalf("Send err = %v, want ErrChannelNotReady", err)
	}
}

func TestPeerLivenessTimeoutTriggersReconnect(t *testing.T) {
	e, last := newTestEngine(t)
	completion := e.Connect("ws://example.test/socket")
	fake := last()
	fake.Open()
	fake.Deliver(serverSetup(1))
	// The server's informational AUTH_STATE cancels AUTH_STATE_TIMEOUT,
	// which would otherwise disconnect the engine after ActionTimeout.
	fake.Deliver(protocol.New(protocol.TypeAuthState, 0, map[string]any{"state": "UNAUTHORIZED"}))
	if err := completion.Wait(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for e.GetConnectionState() != Connecting {
		select {
		case <-deadline:
			t.Fatal("expected the engine to start reconnecting after the peer went quiet")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Disconnect()
	e.Disconnect()
	if got := e.GetConnectionState(); got != NotConnected {
		t.Fatalf("connection state = %v, want NotConnected", got)
	}
}
