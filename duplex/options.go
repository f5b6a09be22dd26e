package duplex

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/duplexproto/duplex-go-client/config"
	"github.com/duplexproto/duplex-go-client/transport"
)

// Option configures an Engine at construction time.
type Option func(*engineConfig)

type engineConfig struct {
	cfg              config.Config
	transportFactory transport.Factory
	logger           zerolog.Logger
	metrics          MetricsCollector
}

// WithConfig overrides every tunable from spec.md §6 at once.
func WithConfig(cfg config.Config) Option {
	return func(ec *engineConfig) { ec.cfg = cfg }
}

// WithKeepaliveInterval sets the outbound keepalive cadence.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(ec *engineConfig) { ec.cfg.KeepaliveInterval = d }
}

// WithKeepaliveTimeout sets the advertised client liveness budget.
func WithKeepaliveTimeout(d time.Duration) Option {
	return func(ec *engineConfig) { ec.cfg.KeepaliveTimeout = d }
}

// WithAcceptKeepaliveTimeout sets the advertised acceptable server
// keepalive.
func WithAcceptKeepaliveTimeout(d time.Duration) Option {
	return func(ec *engineConfig) { ec.cfg.AcceptKeepaliveTimeout = d }
}

// WithActionTimeout sets the SETUP/AUTH_STATE response budget.
func WithActionTimeout(d time.Duration) Option {
	return func(ec *engineConfig) { ec.cfg.ActionTimeout = d }
}

// WithTransportFactory overrides how the engine constructs a Transport
// per connect/reconnect cycle. Defaults to a gorilla/websocket-backed
// factory (transport.NewWebSocketFactory()).
func WithTransportFactory(f transport.Factory) Option {
	return func(ec *engineConfig) { ec.transportFactory = f }
}

// WithLogger overrides the structured logger used for diagnostics and for
// error/listener-panic reporting when no listener is registered.
func WithLogger(logger zerolog.Logger) Option {
	return func(ec *engineConfig) { ec.logger = logger }
}

// WithMetrics installs a MetricsCollector. Defaults to a no-op collector.
func WithMetrics(m MetricsCollector) Option {
	return func(ec *engineConfig) { ec.metrics = m }
}
