package duplex

import "sync/atomic"

// MetricsCollector observes engine activity. It is purely observational:
// nothing about the state machine in spec.md §4.4 depends on it. The
// default is a no-op collector, which records nothing.
type MetricsCollector interface {
	ConnectionOpened()
	ConnectionClosed()
	SetupTimeout()
	AuthTimeout()
	PeerLivenessTimeout()
	ReconnectAttempt(attempt int)
	ChannelOpened()
	ChannelClosed()
	MessageSent()
	MessageReceived()
}

// StandardMetricsCollector is a thread-safe atomic-counter implementation.
type StandardMetricsCollector struct {
	connectionsOpened    atomic.Int64
	connectionsClosed    atomic.Int64
	setupTimeouts        atomic.Int64
	authTimeouts         atomic.Int64
	peerLivenessTimeouts atomic.Int64
	reconnectAttempts    atomic.Int64
	channelsOpened       atomic.Int64
	channelsClosed       atomic.Int64
	messagesSent         atomic.Int64
	messagesReceived     atomic.Int64
}

// NewStandardMetricsCollector creates a zero-valued collector.
func NewStandardMetricsCollector() *StandardMetricsCollector {
	return &StandardMetricsCollector{}
}

func (m *StandardMetricsCollector) ConnectionOpened()       { m.connectionsOpened.Add(1) }
func (m *StandardMetricsCollector) ConnectionClosed()       { m.connectionsClosed.Add(1) }
func (m *StandardMetricsCollector) SetupTimeout()           { m.setupTimeouts.Add(1) }
func (m *StandardMetricsCollector) AuthTimeout()            { m.authTimeouts.Add(1) }
func (m *StandardMetricsCollector) PeerLivenessTimeout()    { m.peerLivenessTimeouts.Add(1) }
func (m *StandardMetricsCollector) ReconnectAttempt(int)    { m.reconnectAttempts.Add(1) }
func (m *StandardMetricsCollector) ChannelOpened()          { m.channelsOpened.Add(1) }
func (m *StandardMetricsCollector) ChannelClosed()          { m.channelsClosed.Add(1) }
func (m *StandardMetricsCollector) MessageSent()            { m.messagesSent.Add(1) }
func (m *StandardMetricsCollector) MessageReceived()        { m.messagesReceived.Add(1) }

// Snapshot is a point-in-time copy of every counter, for tests and
// diagnostics.
type Snapshot struct {
	ConnectionsOpened    int64
	ConnectionsClosed    int64
	SetupTimeouts        int64
	AuthTimeouts         int64
	PeerLivenessTimeouts int64
	ReconnectAttempts    int64
	ChannelsOpened       int64
	ChannelsClosed       int64
	MessagesSent         int64
	MessagesReceived     int64
}

// Snapshot reads every counter.
func (m *StandardMetricsCollector) Snapshot() Snapshot {
	return Snapshot{
		ConnectionsOpened:    m.connectionsOpened.Load(),
		ConnectionsClosed:    m.connectionsClosed.Load(),
		SetupTimeouts:        m.setupTimeouts.Load(),
		AuthTimeouts:         m.authTimeouts.Load(),
		PeerLivenessTimeouts: m.peerLivenessTimeouts.Load(),
		ReconnectAttempts:    m.reconnectAttempts.Load(),
		ChannelsOpened:       m.channelsOpened.Load(),
		ChannelsClosed:       m.channelsClosed.Load(),
		MessagesSent:         m.messagesSent.Load(),
		MessagesReceived:     m.messagesReceived.Load(),
	}
}

// noopMetrics is installed when the caller supplies none.
type noopMetrics struct{}

func (noopMetrics) ConnectionOpened()    {}
func (noopMetrics) ConnectionClosed()    {}
func (noopMetrics) SetupTimeout()        {}
func (noopMetrics) AuthTimeout()         {}
func (noopMetrics) PeerLivenessTimeout() {}
func (noopMetrics) ReconnectAttempt(int) {}
func (noopMetrics) ChannelOpened()       {}
func (noopMetrics) ChannelClosed()       {}
func (noopMetrics) MessageSent()         {}
func (noopMetrics) MessageReceived()     {}
