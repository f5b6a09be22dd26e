// Command duplex-probe is a small interactive client for exercising a
// duplex protocol server: it connects, prints every connection and auth
// state transition, and opens channels named on the command line.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/duplexproto/duplex-go-client/config"
	"github.com/duplexproto/duplex-go-client/duplex"
	"github.com/duplexproto/duplex-go-client/duplexerr"
	"github.com/duplexproto/duplex-go-client/protocol"
)

var (
	version = "dev"
	commit  = "none"
)

func newLogger(level string) zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Str("app", "duplex-probe").Logger()
	switch strings.ToLower(level) {
	case "trace":
		logger = logger.Level(zerolog.TraceLevel)
	case "debug":
		logger = logger.Level(zerolog.DebugLevel)
	case "info":
		logger = logger.Level(zerolog.InfoLevel)
	case "warn":
		logger = logger.Level(zerolog.WarnLevel)
	case "error":
		logger = logger.Level(zerolog.ErrorLevel)
	case "disabled":
		logger = logger.Level(zerolog.Disabled)
	default:
		logger = logger.Level(zerolog.InfoLevel)
	}
	return logger
}

func connectCmd() *cobra.Command {
	var (
		configPath string
		token      string
		logLevel   string
		channels   []string
	)

	cmd := &cobra.Command{
		Use:   "connect <url>",
		Short: "Connect to a duplex server and print state transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := args[0]

			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}

			logger := newLogger(logLevel)

			engine := duplex.New(
				duplex.WithConfig(cfg),
				duplex.WithLogger(logger),
			)

			engine.AddConnectionStateChangeListener(func(next, prev duplex.ConnectionState) {
				logger.Info().Str("from", prev.String()).Str("to", next.String()).Msg("connection state")
			})
			engine.AddAuthStateChangeListener(func(next, prev duplex.AuthState) {
				logger.Info().Str("from", prev.String()).Str("to", next.String()).Msg("auth state")
			})
			engine.AddErrorListener(func(err *duplexerr.Error) {
				logger.Warn().Str("kind", err.Kind).Int("channel", err.Channel).Msg(err.Message)
			})

			if token != "" {
				engine.SetAuthToken(token)
			}

			completion := engine.Connect(url)
			if err := completion.Wait(); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			fmt.Printf("connected: %+v\n", engine.GetConnectionDetails())

			for _, spec := range channels {
				service, params := parseChannelSpec(spec)
				ch := engine.OpenChannel(service, params)
				ch.AddStatusListener(func(next, prev duplex.ChannelStatus) {
					logger.Info().Int("channel", ch.ID()).Str("from", prev.String()).Str("to", next.String()).Msg("channel status")
				})
				ch.AddMessageListener(func(m protocol.Message) {
					fmt.Printf("channel %d: %+v\n", ch.ID(), m.Fields)
				})
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			engine.Disconnect()
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML config file (overrides built-in defaults)")
	cmd.Flags().StringVar(&token, "token", "", "auth token to send once connected")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "trace|debug|info|warn|error|disabled")
	cmd.Flags().StringArrayVar(&channels, "channel", nil, "service[:key=value,...] to open once connected, repeatable")

	return cmd
}

// parseChannelSpec turns "service:key=value,key2=value2" into a service
// name and a parameters map. A bare service name opens with no
// parameters.
func parseChannelSpec(spec string) (string, map[string]any) {
	parts := strings.SplitN(spec, ":", 2)
	service := parts[0]
	params := map[string]any{}
	if len(parts) == 1 {
		return service, params
	}
	for _, pair := range strings.Split(parts[1], ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			params[kv[0]] = kv[1]
		}
	}
	return service, params
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("duplex-probe %s (%s)\n", version, commit)
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:           "duplex-probe",
		Short:         "Exercise a duplex protocol server from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(connectCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
