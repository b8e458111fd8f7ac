package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go_trial/littlelemon/config"
	"go_trial/littlelemon/events"
	"go_trial/littlelemon/handlers"
	"go_trial/littlelemon/logging"
	"go_trial/littlelemon/middleware"
	"go_trial/littlelemon/middleware/logkafka"
	"go_trial/littlelemon/services"
	"go_trial/littlelemon/telem"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the metrics endpoint",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	shutdownMetrics, err := telem.InitMetrics(ctx, cfg.Telemetry.ServiceName, reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	shutdownTracing, err := telem.InitTracing(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := errors.Join(shutdownTracing(ctx), shutdownMetrics(ctx)); err != nil {
			log.Warn("telemetry shutdown", logging.Err(err))
		}
	}()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer st.Close(context.Background())

	publisher, err := newPublisher(cfg, log)
	if err != nil {
		return fmt.Errorf("open %s publisher: %w", cfg.Events.Driver, err)
	}
	defer publisher.Close()

	svc := services.New(services.Deps{
		Store:     st,
		Publisher: publisher,
		Policy:    cfg.Policy,
		Tokens:    services.NewTokens(cfg.Auth.Secret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL),
		Logger:    log,
	})

	metrics := telem.NewMetrics(reg)
	var throttle *middleware.Throttle
	if cfg.Throttle.Enabled {
		throttle = middleware.NewThrottle(cfg.Throttle.Rate, cfg.Throttle.Burst, metrics)
	}
	var handler http.Handler = handlers.New(svc, st, metrics, log).Router(throttle)
	if cfg.Server.RequestTimeout > 0 {
		handler = http.TimeoutHandler(handler, cfg.Server.RequestTimeout, `{"message":"Request timed out."}`)
	}

	accessLog := newAccessLog(cfg, log)
	defer accessLog.Close()
	handler = accessLog.Middleware(handler)

	apiServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", telem.Handler(reg))
	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listen(apiServer, "api", log) })
	g.Go(func() error { return listen(metricsServer, "metrics", log) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", logging.Action("shutdown"))
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(apiServer.Shutdown(ctx), metricsServer.Shutdown(ctx))
	})
	return g.Wait()
}

func listen(srv *http.Server, name string, log *slog.Logger) error {
	log.Info("listening", logging.Action("listen"), slog.String("server", name), slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func newPublisher(cfg config.Config, log *slog.Logger) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case config.EventsKafka:
		return events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic), nil
	case config.EventsRabbitMQ:
		p, err := events.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return events.Nop{}, nil
	}
}

// newAccessLog ships access logs to Kafka when a log topic is configured.
func newAccessLog(cfg config.Config, log *slog.Logger) *logkafka.AccessLog {
	env := os.Getenv("APP_ENV")
	if cfg.Kafka.LogTopic == "" || len(cfg.Kafka.Brokers) == 0 {
		return logkafka.New(nil, env, log)
	}
	return logkafka.New(logkafka.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.LogTopic), env, log)
}
