package duplex

import (
	"fmt"
	"time"

	"github.com/duplexproto/duplex-go-client/duplexerr"
	"github.com/duplexproto/duplex-go-client/protocol"
)

// sendLocked hands msg to the transport and, on a successful write, stamps
// lastSent and rearms the outbound KEEPALIVE timer. Must be called with mu
// held. epoch ties the rearmed timer to the transport cycle it was sent
// on, so it stays silent if a later Disconnect/Reconnect supersedes it.
func (e *Engine) sendLocked(msg protocol.Message, epoch int) error {
	if e.tr == nil {
		return duplexerr.ErrClosed
	}
	if err := e.tr.Send(msg); err != nil {
		return err
	}
	e.lastSent = time.Now()
	e.metrics.MessageSent()
	e.timers.schedule(timerKeepalive, e.cfg.KeepaliveInterval, func() { e.onKeepaliveFire(epoch) })
	return nil
}

// handleTransportOpen runs the setup handshake (spec.md §4.4.2) the
// instant the transport signals it is ready: send SETUP, arm the
// SETUP_TIMEOUT and AUTH_STATE_TIMEOUT budgets, and opportunistically send
// AUTH if a token is already remembered from a prior SetAuthToken call.
func (e *Engine) handleTransportOpen(epoch int) {
	e.mu.Lock()
	if epoch != e.transportEpoch {
		e.mu.Unlock()
		return
	}

	e.metrics.ConnectionOpened()

	details := e.GetConnectionDetails()
	e.sendLocked(protocol.New(protocol.TypeSetup, 0, map[string]any{
		"version":                details.SetupVersion(),
		"keepaliveTimeout":       int(e.cfg.KeepaliveTimeout.Seconds()),
		"acceptKeepaliveTimeout": int(e.cfg.AcceptKeepaliveTimeout.Seconds()),
	}), epoch)

	e.timers.schedule(timerSetupTimeout, e.cfg.ActionTimeout, func() { e.onSetupTimeout(epoch) })
	e.timers.schedule(timerAuthStateTimeout, e.cfg.ActionTimeout, func() { e.onAuthStateTimeout(epoch) })

	var notifications []func()
	if e.authToken != nil {
		e.sendLocked(protocol.New(protocol.TypeAuth, 0, map[string]any{"token": *e.authToken}), epoch)
		if notify, changed := e.transitionAuthState(Authorizing); changed {
			notifications = append(notifications, notify)
		}
	}

	e.mu.Unlock()
	notifyAfterUnlock(notifications...)
}

// onSetupTimeout fires when no SETUP response arrived within ActionTimeout
// of the transport opening. It publishes a local ERROR, tells the peer
// why, and tears the connection down.
func (e *Engine) onSetupTimeout(epoch int) {
	e.mu.Lock()
	if epoch != e.transportEpoch {
		e.mu.Unlock()
		return
	}
	e.metrics.SetupTimeout()
	e.sendLocked(protocol.New(protocol.TypeError, 0, map[string]any{
		"error":   protocol.ErrorKindTimeout,
		"message": "no SETUP response received",
	}), epoch)
	e.mu.Unlock()

	e.publishError(duplexerr.NewTimeout("no SETUP response received"))
	e.Disconnect()
}

// onAuthStateTimeout is onSetupTimeout's twin for the first AUTH_STATE.
func (e *Engine) onAuthStateTimeout(epoch int) {
	e.mu.Lock()
	if epoch != e.transportEpoch {
		e.mu.Unlock()
		return
	}
	e.metrics.AuthTimeout()
	e.sendLocked(protocol.New(protocol.TypeError, 0, map[string]any{
		"error":   protocol.ErrorKindTimeout,
		"message": "no AUTH_STATE response received",
	}), epoch)
	e.mu.Unlock()

	e.publishError(duplexerr.NewTimeout("no AUTH_STATE response received"))
	e.Disconnect()
}

// handleConnectionMessageLocked dispatches a connection-scoped (channel 0)
// message by its wire type. Must be called with mu held; returns post-
// unlock notify closures rather than invoking listeners itself.
func (e *Engine) handleConnectionMessageLocked(msg protocol.Message, epoch int) []func() {
	switch msg.Type {
	case protocol.TypeSetup:
		return e.handleSetupReceivedLocked(msg, epoch)
	case protocol.TypeAuthState:
		return e.handleAuthStateReceivedLocked(msg)
	case protocol.TypeKeepalive:
		return nil
	case protocol.TypeError:
		err := &duplexerr.Error{Kind: msg.String("error"), Message: msg.String("message")}
		return []func(){func() { e.publishError(err) }}
	default:
		e.logger.Warn().Str("type", msg.Type).Msg("unrecognized connection message dropped")
		return nil
	}
}

// handleSetupReceivedLocked runs the receipt half of the setup handshake
// (spec.md §4.4.2): cancel SETUP_TIMEOUT, absorb the server's negotiated
// version and keepalive timeout, reset the reconnect-attempt counter, and
// — if the server requires no auth — move straight to Connected and
// (re)request every channel the caller already opened.
func (e *Engine) handleSetupReceivedLocked(msg protocol.Message, epoch int) []func() {
	e.timers.cancel(timerSetupTimeout)

	d := e.GetConnectionDetails()
	d.ServerVersion = msg.String("version")
	d.ServerKeepaliveTimeout = msg.Int("keepaliveTimeout")
	e.details.Store(&d)

	e.reconnectAttempts = 0

	var notifications []func()
	if e.authToken == nil {
		if notify, changed := e.transitionConnectionState(Connected); changed {
			notifications = append(notifications, notify)
		}
		notifications = append(notifications, e.requestActiveChannelsLocked(epoch)...)
	}

	peerTimeout := time.Duration(d.ServerKeepaliveTimeout) * time.Second
	if peerTimeout < 200*time.Millisecond {
		peerTimeout = 200 * time.Millisecond
	}
	e.timers.schedule(timerPeerTimeout, peerTimeout, func() { e.onPeerLivenessTimeout(epoch) })

	return notifications
}

// handleAuthStateReceivedLocked runs the receipt half of the authorization
// state machine (spec.md §4.4.3, v3 semantics): the first AUTH_STATE after
// a transport opens is purely informational and never forgets a
// remembered token even if it reports UNAUTHORIZED. Every AUTH_STATE after
// that forgets the token on UNAUTHORIZED. AUTHORIZED always moves the
// connection to Connected and (re)requests every known channel.
func (e *Engine) handleAuthStateReceivedLocked(msg protocol.Message) []func() {
	e.timers.cancel(timerAuthStateTimeout)

	state, _ := authStateFromWire(msg.String("state"))

	wasFirst := e.isFirstAuthState
	e.isFirstAuthState = false
	if !wasFirst && state == Unauthorized {
		e.authToken = nil
	}

	epoch := e.transportEpoch

	var notifications []func()
	if state == Authorized {
		if notify, changed := e.transitionConnectionState(Connected); changed {
			notifications = append(notifications, notify)
		}
		notifications = append(notifications, e.requestActiveChannelsLocked(epoch)...)
	}

	if notify, changed := e.transitionAuthState(state); changed {
		notifications = append(notifications, notify)
	}

	return notifications
}

// onKeepaliveFire sends a bare KEEPALIVE to keep the peer's liveness
// budget from expiring during an otherwise idle connection.
func (e *Engine) onKeepaliveFire(epoch int) {
	e.mu.Lock()
	if epoch != e.transportEpoch {
		e.mu.Unlock()
		return
	}
	e.sendLocked(protocol.New(protocol.TypeKeepalive, 0, nil), epoch)
	e.mu.Unlock()
}

// onPeerLivenessTimeout implements spec.md §4.4.5: reschedule against the
// remaining budget if the peer has been heard from recently enough, or
// declare it dead and reconnect.
func (e *Engine) onPeerLivenessTimeout(epoch int) {
	e.mu.Lock()
	if epoch != e.transportEpoch {
		e.mu.Unlock()
		return
	}

	d := e.GetConnectionDetails()
	budget := time.Duration(d.ServerKeepaliveTimeout) * time.Second
	delta := time.Since(e.lastReceived)

	if delta >= budget {
		message := fmt.Sprintf("no keepalive received for %dms", delta.Milliseconds())
		e.sendLocked(protocol.New(protocol.TypeError, 0, map[string]any{
			"error":   protocol.ErrorKindTimeout,
			"message": message,
		}), epoch)
		e.metrics.PeerLivenessTimeout()
		e.mu.Unlock()

		e.publishError(duplexerr.NewTimeout(message))
		e.Reconnect()
		return
	}

	remaining := budget - delta
	if remaining < 200*time.Millisecond {
		remaining = 200 * time.Millisecond
	}
	e.timers.schedule(timerPeerTimeout, remaining, func() { e.onPeerLivenessTimeout(epoch) })
	e.mu.Unlock()
}

// SetAuthToken remembers token for this and future connection cycles and,
// if already Connected, sends AUTH immediately. The token persists across
// reconnects until a non-first AUTH_STATE explicitly reports UNAUTHORIZED,
// or the transport closes while the auth state is Unauthorized.
func (e *Engine) SetAuthToken(token string) {
	e.mu.Lock()
	e.authToken = &token

	var notifications []func()
	if ConnectionState(e.connState.Load()) == Connected {
		epoch := e.transportEpoch
		e.sendLocked(protocol.New(protocol.TypeAuth, 0, map[string]any{"token": token}), epoch)
		if notify, changed := e.transitionAuthState(Authorizing); changed {
			notifications = append(notifications, notify)
		}
	}
	e.mu.Unlock()

	notifyAfterUnlock(notifications...)
}
