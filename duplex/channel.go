package duplex

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/duplexproto/duplex-go-client/duplexerr"
	"github.com/duplexproto/duplex-go-client/protocol"
)

// MessageListener observes payload messages delivered on a Channel.
type MessageListener func(protocol.Message)

// StatusListener observes Channel status transitions. It receives the new
// and previous status; a transition where they're equal is never
// delivered (spec.md §4.3).
type StatusListener func(newStatus, previousStatus ChannelStatus)

// ChannelErrorListener observes channel-scoped errors.
type ChannelErrorListener func(*duplexerr.Error)

// sendFunc is the only thing a Channel shares with its owning Engine —
// there is no back-pointer, per spec.md §9 ("no cyclic ownership").
type sendFunc func(msg protocol.Message) error

// Channel is one logical, numbered substream multiplexed over the single
// transport. Id, Service, and Parameters are immutable once constructed;
// Status is mutable: Requested -> Opened, back to Requested when the
// engine re-requests the channel after a reauthorization, and Closed,
// which is final.
type Channel struct {
	id         int
	service    string
	parameters map[string]any

	send sendFunc
	logger zerolog.Logger

	status atomic.Int32

	mu               sync.Mutex
	messageListeners *listenerSet[MessageListener]
	statusListeners  *listenerSet[StatusListener]
	errorListeners   *listenerSet[ChannelErrorListener]
	closed           bool
}

func newChannel(id int, service string, parameters map[string]any, send sendFunc, logger zerolog.Logger) *Channel {
	ch := &Channel{
		id:         id,
		service:    service,
		parameters: parameters,
		send:       send,
		logger:     logger,
	}
	ch.status.Store(int32(Requested))
	ch.messageListeners = newListenerSet[MessageListener](logger, "message")
	ch.statusListeners = newListenerSet[StatusListener](logger, "status")
	ch.errorListeners = newListenerSet[ChannelErrorListener](logger, "error")
	return ch
}

// ID returns the channel's immutable, odd, positive id.
func (ch *Channel) ID() int { return ch.id }

// Service returns the immutable service name this channel was opened for.
func (ch *Channel) Service() string { return ch.service }

// Parameters returns the immutable parameter map this channel was opened
// with. Callers must not mutate the returned map.
func (ch *Channel) Parameters() map[string]any { return ch.parameters }

// Status returns the channel's current status.
func (ch *Channel) Status() ChannelStatus {
	return ChannelStatus(ch.status.Load())
}

// Send forwards msg on this channel, stamping its Channel field with this
// channel's id. It fails synchronously with duplexerr.ErrChannelNotReady
// if the channel is not currently Opened.
func (ch *Channel) Send(msg protocol.Message) error {
	if ch.Status() != Opened {
		return duplexerr.ErrChannelNotReady
	}
	msg.Channel = ch.id
	return ch.send(msg)
}

// Error builds and fans out a channel-scoped error without requiring a
// wire ERROR message — for callers that want to synthesize a local error.
func (ch *Channel) Error(kind, message string) {
	ch.processError(&duplexerr.Error{Kind: kind, Message: message, Channel: ch.id})
}

// Close requests the channel be torn down: it sends CHANNEL_CANCEL,
// clears all listener sets, and transitions status to Closed. Closing an
// already-closed channel is a no-op — callers are guarded by status so
// this is safe to call more than once.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	ch.mu.Unlock()

	var sendErr error
	if ch.Status() != Closed {
		sendErr = ch.send(protocol.New(protocol.TypeChannelCancel, ch.id, nil))
	}
	ch.processStatusClosed()
	return sendErr
}

// AddMessageListener registers fn to observe payload messages.
func (ch *Channel) AddMessageListener(fn MessageListener) ListenerHandle {
	return ch.messageListeners.add(fn)
}

// RemoveMessageListener deregisters a previously added message listener.
func (ch *Channel) RemoveMessageListener(h ListenerHandle) {
	ch.messageListeners.remove(h)
}

// AddStatusListener registers fn to observe status transitions.
func (ch *Channel) AddStatusListener(fn StatusListener) ListenerHandle {
	return ch.statusListeners.add(fn)
}

// RemoveStatusListener deregisters a previously added status listener.
func (ch *Channel) RemoveStatusListener(h ListenerHandle) {
	ch.statusListeners.remove(h)
}

// AddErrorListener registers fn to observe channel-scoped errors.
func (ch *Channel) AddErrorListener(fn ChannelErrorListener) ListenerHandle {
	return ch.errorListeners.add(fn)
}

// RemoveErrorListener deregisters a previously added error listener.
func (ch *Channel) RemoveErrorListener(h ListenerHandle) {
	ch.errorListeners.remove(h)
}

// --- engine-facing mutators; the engine drives these, channels never
// observe connection state directly (spec.md §9). ---

func (ch *Channel) processStatusRequested() { ch.transitionStatus(Requested) }
func (ch *Channel) processStatusOpened()    { ch.transitionStatus(Opened) }

func (ch *Channel) processStatusClosed() {
	ch.transitionStatus(Closed)
	ch.messageListeners.mu.Lock()
	ch.messageListeners.byID = map[ListenerHandle]MessageListener{}
	ch.messageListeners.order = nil
	ch.messageListeners.mu.Unlock()

	ch.statusListeners.mu.Lock()
	ch.statusListeners.byID = map[ListenerHandle]StatusListener{}
	ch.statusListeners.order = nil
	ch.statusListeners.mu.Unlock()

	ch.errorListeners.mu.Lock()
	ch.errorListeners.byID = map[ListenerHandle]ChannelErrorListener{}
	ch.errorListeners.order = nil
	ch.errorListeners.mu.Unlock()
}

func (ch *Channel) transitionStatus(next ChannelStatus) {
	for {
		prev := ChannelStatus(ch.status.Load())
		if prev == next || prev == Closed {
			return
		}
		if ch.status.CompareAndSwap(int32(prev), int32(next)) {
			notifyEach(ch.statusListeners, func(fn StatusListener) { fn(next, prev) })
			return
		}
	}
}

func (ch *Channel) processPayloadMessage(msg protocol.Message) {
	notifyEach(ch.messageListeners, func(fn MessageListener) { fn(msg) })
}

func (ch *Channel) processError(err *duplexerr.Error) {
	if ch.errorListeners.empty() {
		ch.logger.Error().Int("channel", ch.id).Str("kind", err.Kind).Msg(err.Message)
		return
	}
	notifyEach(ch.errorListeners, func(fn ChannelErrorListener) { fn(err) })
}
