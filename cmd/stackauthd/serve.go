package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/MrEthical07/stackauth"
	"github.com/MrEthical07/stackauth/config"
	"github.com/MrEthical07/stackauth/internal/telemetry"
	"github.com/MrEthical07/stackauth/store/postgres"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runServe(cmd *cobra.Command) error {
	settings, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if settings.Postgres.DSN == "" {
		return oops.Code("CONFIG_INVALID").Errorf("postgres.dsn is required")
	}

	logger, err := config.NewLogger(settings.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, settings.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb, closeRedis, err := openRedis(ctx, settings.Redis)
	if err != nil {
		return err
	}
	defer closeRedis()
	if settings.Redis.Embedded {
		logger.Warn("using embedded redis, sessions and limits are lost on restart")
	}

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       settings.Telemetry.OTLPEndpoint,
		Insecure:       settings.Telemetry.OTLPInsecure,
		Interval:       settings.Telemetry.ExportInterval,
		ServiceName:    "stackauthd",
		ServiceVersion: version,
		Metrics:        settings.Auth.Metrics.Enabled && settings.Telemetry.MetricsExporter == config.ExporterOTLP,
		Traces:         settings.Telemetry.Traces,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			logger.Warn("telemetry flush failed", zap.Error(err))
		}
	}()

	builder := stackauth.New().
		WithConfig(settings.Auth).
		WithRedis(rdb).
		WithUserDirectory(postgres.NewUserDirectory(pool)).
		WithLogger(logger).
		WithAuditSink(stackauth.NewZapSink(logger.Named("audit")))
	if tel.Tracer != nil {
		builder = builder.WithTracerProvider(tel.Tracer)
	}

	var sessions *postgres.SessionStore
	if settings.Sessions.Backend == config.BackendPostgres {
		sessions = postgres.NewSessionStore(pool)
		builder = builder.WithSessionStore(sessions)
	}

	engine, err := builder.Build()
	if err != nil {
		return oops.Code("ENGINE_BUILD_FAILED").Wrap(err)
	}
	defer engine.Close()

	if sessions != nil {
		go purgeSessions(ctx, sessions, settings.Server.SessionPurgeInterval, logger)
	}

	box, closeOutbox, err := openOutbox(settings.Server.OutboxFile, logger)
	if err != nil {
		return err
	}
	defer closeOutbox()

	opts := routeOptions{
		trustForwarded: settings.Server.TrustForwarded,
		metricsPath:    settings.Server.MetricsPath,
	}
	if settings.Auth.Metrics.Enabled {
		var meters metric.MeterProvider
		if tel.Meter != nil {
			meters = tel.Meter
		}
		handler, stopMetrics, err := exportMetrics(engine, settings.Telemetry.MetricsExporter, meters)
		if err != nil {
			return err
		}
		defer stopMetrics()
		opts.metrics = handler
	}

	a := &api{engine: engine, outbox: box, logger: logger}
	srv := &http.Server{
		Addr:              settings.Server.Addr,
		Handler:           a.routes(opts),
		ReadHeaderTimeout: settings.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", settings.Server.Addr),
			zap.String("sessions", settings.Sessions.Backend),
			zap.Bool("metrics", settings.Auth.Metrics.Enabled),
			zap.String("metrics_exporter", settings.Telemetry.MetricsExporter),
			zap.Bool("traces", settings.Telemetry.Traces))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return oops.Code("SERVER_FAILED").With("addr", settings.Server.Addr).Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return oops.Code("SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}

// sessionPurger deletes expired session rows.
type sessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// purgeSessions runs p every interval until ctx is done.
func purgeSessions(ctx context.Context, p sessionPurger, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("session purge failed", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				logger.Info("purged expired sessions", zap.Int64("count", n))
			}
		}
	}
}
