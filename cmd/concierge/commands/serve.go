package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/concierge-go/internal/logging"
	"github.com/54b3r/concierge-go/internal/server"
	"github.com/54b3r/concierge-go/internal/tracing"
)

// NewServeCmd constructs the `concierge serve` command, which starts the
// HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the concierge HTTP API",
		Long: `Start the concierge HTTP API.

The server exposes JSON search, an SSE deep research stream, session image
upload, search history, health and readiness probes, and Prometheus
metrics at /metrics.

Examples:
  concierge serve
  concierge serve --port 9090
  CONCIERGE_API_KEY=secret concierge serve --host 0.0.0.0`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			handler, flush, ok := tracing.Setup()
			if ok {
				tracing.Install(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			backends, err := openStorage(ctx)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = backends.Close() }()

			if err := backends.openHistory(log); err != nil {
				log.Warn("history: failed to open store, disabling", slog.Any("error", err))
			}

			reg := prometheus.NewRegistry()
			svc, err := buildService(ctx, log, backends, reg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise concierge: %w", err)
			}

			pingers := []server.Pinger{
				server.NewPinger("qdrant", backends.index),
				server.NewPinger("feature_store", backends.features),
			}
			if backends.history != nil {
				pingers = append(pingers, server.NewPinger("history", backends.history))
			}

			srv, err := server.New(svc, &server.Config{
				Host:            host,
				Port:            port,
				Logger:          log,
				Pingers:         pingers,
				APIKey:          os.Getenv("CONCIERGE_API_KEY"),
				MetricsRegistry: reg,
				MetricsGatherer: reg,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
