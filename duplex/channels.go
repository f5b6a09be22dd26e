package duplex

import (
	"time"

	"github.com/duplexproto/duplex-go-client/duplexerr"
	"github.com/duplexproto/duplex-go-client/protocol"
)

// OpenChannel allocates a new Channel with the next odd channel id,
// registers it in the multiplexer table, and — if the connection is
// already Connected and eligible (either authorized or no auth token was
// ever set) — sends CHANNEL_REQUEST immediately. Otherwise the channel
// sits at Requested and is sent automatically the next time the
// connection reaches Connected (spec.md §4.4.6).
func (e *Engine) OpenChannel(service string, parameters map[string]any) *Channel {
	e.mu.Lock()
	id := e.nextChannelID
	e.nextChannelID += 2

	ch := newChannel(id, service, parameters, e.channelSendFuncLocked(), e.logger)
	e.channels[id] = ch

	if e.channelEligibleLocked() {
		epoch := e.transportEpoch
		e.sendLocked(protocol.New(protocol.TypeChannelRequest, id, map[string]any{
			"service":    service,
			"parameters": parameters,
		}), epoch)
	}
	e.mu.Unlock()

	e.metrics.ChannelOpened()
	return ch
}

// channelEligibleLocked reports whether the connection is in a state
// where an open channel's CHANNEL_REQUEST can be sent: Connected, and
// either the server has signalled AUTHORIZED or no auth token was ever
// remembered (with no token, Connected is reached at SETUP without waiting
// for AUTHORIZED).
func (e *Engine) channelEligibleLocked() bool {
	if ConnectionState(e.connState.Load()) != Connected {
		return false
	}
	return AuthState(e.authState.Load()) == Authorized || e.authToken == nil
}

// channelSendFuncLocked returns the sendFunc a Channel uses to submit its
// own messages. Must be called with mu held (it only reads e.logger-free
// state needed to close over e), but the returned closure itself acquires
// mu fresh on every call since a Channel's Send can be invoked from any
// goroutine at any time.
func (e *Engine) channelSendFuncLocked() sendFunc {
	return func(msg protocol.Message) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.sendLocked(msg, e.transportEpoch)
	}
}

// requestActiveChannelsLocked is spec.md §4.4.6's "on every successful
// (re)connection, prune closed channels and re-request the rest." Must be
// called with mu held; sends happen inline, but the matching
// processStatusRequested calls that would invoke user status listeners
// are deferred to the returned closures, run after mu is released.
func (e *Engine) requestActiveChannelsLocked(epoch int) []func() {
	var toRequest []*Channel
	for id, ch := range e.channels {
		if ch.Status() == Closed {
			delete(e.channels, id)
			continue
		}
		e.sendLocked(protocol.New(protocol.TypeChannelRequest, ch.id, map[string]any{
			"service":    ch.service,
			"parameters": ch.parameters,
		}), epoch)
		toRequest = append(toRequest, ch)
	}

	notifications := make([]func(), 0, len(toRequest))
	for _, ch := range toRequest {
		ch := ch
		notifications = append(notifications, func() { ch.processStatusRequested() })
	}
	return notifications
}

// dispatchChannelMessageLocked routes a channel-scoped message to its
// Channel by id. Must be called with mu held; returns post-unlock
// closures rather than invoking the Channel's processX methods itself,
// since those fan out to user listeners.
func (e *Engine) dispatchChannelMessageLocked(msg protocol.Message) []func() {
	ch, ok := e.channels[msg.Channel]
	if !ok {
		channel, typ := msg.Channel, msg.Type
		return []func(){func() {
			e.logger.Warn().Int("channel", channel).Str("type", typ).Msg("message for unknown channel dropped")
		}}
	}

	switch protocol.Classify(msg) {
	case protocol.KindChannelLifecycle:
		switch msg.Type {
		case protocol.TypeChannelOpened:
			return []func(){func() { ch.processStatusOpened() }}
		case protocol.TypeChannelClosed:
			e.metrics.ChannelClosed()
			return []func(){func() { ch.processStatusClosed() }}
		case protocol.TypeError:
			err := &duplexerr.Error{Kind: msg.String("error"), Message: msg.String("message"), Channel: msg.Channel}
			return []func(){func() { ch.processError(err) }}
		default:
			return nil
		}
	default:
		return []func(){func() { ch.processPayloadMessage(msg) }}
	}
}

// handleTransportMessage is the transport's OnMessage callback: it stamps
// lastReceived, opportunistically sends an extra KEEPALIVE if the
// connection has been quiet outbound for a full interval, then routes the
// message to the connection-level or channel-level handler.
func (e *Engine) handleTransportMessage(epoch int, msg protocol.Message) {
	e.mu.Lock()
	if epoch != e.transportEpoch {
		e.mu.Unlock()
		return
	}

	e.lastReceived = time.Now()
	e.metrics.MessageReceived()

	if !e.lastSent.IsZero() && time.Since(e.lastSent) >= e.cfg.KeepaliveInterval {
		e.sendLocked(protocol.New(protocol.TypeKeepalive, 0, nil), epoch)
	}

	var notifications []func()
	if protocol.IsConnectionMessage(msg) {
		notifications = e.handleConnectionMessageLocked(msg, epoch)
	} else {
		notifications = e.dispatchChannelMessageLocked(msg)
	}

	e.mu.Unlock()
	notifyAfterUnlock(notifications...)
}

// handleTransportClose is the transport's OnClose callback. If the
// connection was never authorized (or lost its authorization), the token
// is forgotten and the connection is torn down for good; otherwise the
// engine tries to reconnect.
func (e *Engine) handleTransportClose(epoch int, err error) {
	e.mu.Lock()
	if epoch != e.transportEpoch {
		e.mu.Unlock()
		return
	}
	forget := AuthState(e.authState.Load()) == Unauthorized
	if forget {
		e.authToken = nil
	}
	e.mu.Unlock()

	if forget {
		e.Disconnect()
		return
	}
	e.Reconnect()
}
