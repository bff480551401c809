package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	sharesync "github.com/steveoberholzer/ShareSync"
	"github.com/steveoberholzer/ShareSync/admin"
	"github.com/steveoberholzer/ShareSync/broker"
	"github.com/steveoberholzer/ShareSync/handler"
	"github.com/steveoberholzer/ShareSync/janitor"
	"github.com/steveoberholzer/ShareSync/joblog"
	"github.com/steveoberholzer/ShareSync/metrics"
	"github.com/steveoberholzer/ShareSync/middleware"
	"github.com/steveoberholzer/ShareSync/producer"
	"github.com/steveoberholzer/ShareSync/store"
	"github.com/steveoberholzer/ShareSync/throttle"
	"github.com/steveoberholzer/ShareSync/worker"
)

func newWorkerCmd() *cobra.Command {
	var (
		skipAdmin  bool
		runMigrate bool
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the queue consumers and the admin surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := newLogger(cfg.Environment)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := store.Open(ctx, cfg.Store)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if runMigrate {
				if err := st.Migrate(ctx); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}

			transport := broker.NewRabbit(cfg.Broker.URL, broker.WithPrefetch(cfg.Broker.Prefetch))
			defer transport.Close()

			// An unreachable broker at startup is fatal; the process
			// exits rather than consuming against nothing.
			if err := transport.DeclareTopology(ctx); err != nil {
				return fmt.Errorf("broker unavailable: %w", err)
			}

			reg := prometheus.NewRegistry()
			m := metrics.New(reg)
			ctrl := newController(cfg.Processing)
			registry := handler.DefaultRegistry(newSiteClient(cfg.Site, logger), logger)

			logs := joblog.NewWriter(st, logger)
			defer logs.Close()

			p := producer.New(st, transport, logger,
				producer.WithMaxRetries(cfg.Processing.MaxRetries),
				producer.WithLogWriter(logs),
				producer.WithMetrics(m),
			)

			dispatcher := worker.NewDispatcher(st, transport, registry, ctrl, logger,
				worker.WithMetrics(m),
				worker.WithMiddleware(
					middleware.Logging(logger),
					middleware.Metrics(m),
					middleware.Recover(logger),
				),
			)
			pool := worker.NewPool(transport, dispatcher, logger,
				worker.WithRateLimit(cfg.Processing.QueueRateLimit),
				worker.WithShutdownGrace(cfg.Processing.ShutdownGrace),
			)
			if err := pool.Start(ctx); err != nil {
				return fmt.Errorf("start worker pool: %w", err)
			}

			g, gctx := errgroup.WithContext(ctx)
			if cfg.Retention.Window > 0 {
				jan := janitor.New(st, logger,
					janitor.WithRetention(cfg.Retention.Window),
					janitor.WithSchedule(cfg.Retention.Schedule),
				)
				if err := jan.Start(); err != nil {
					return err
				}
				g.Go(func() error {
					<-gctx.Done()
					stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Processing.ShutdownGrace)
					defer cancel()
					return jan.Stop(stopCtx)
				})
			}
			if !skipAdmin {
				srv := admin.New(cfg.Admin.Addr, st, p, ctrl, logger,
					admin.WithMetricsRegistry(reg))
				g.Go(srv.Start)
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Processing.ShutdownGrace)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Processing.ShutdownGrace)
				defer cancel()
				return pool.Stop(stopCtx)
			})

			logger.Info("sharesync worker running",
				slog.String("environment", cfg.Environment),
				slog.String("store", cfg.Store.Driver),
			)
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&skipAdmin, "no-admin", false, "Do not serve the admin API from this process")
	cmd.Flags().BoolVar(&runMigrate, "migrate", false, "Apply schema migrations before consuming")
	return cmd
}

// newController builds the adaptive throttle from processing config.
func newController(cfg sharesync.ProcessingConfig) *throttle.Controller {
	return throttle.New(cfg.DefaultDelay,
		throttle.WithBounds(cfg.MinDelay, cfg.MaxDelay),
		throttle.WithSuccessThreshold(cfg.SuccessThreshold),
		throttle.WithReductionFactor(cfg.ReductionFactor),
		throttle.WithThrottleMultiplier(cfg.ThrottleMultiplier),
	)
}

// newSiteClient picks the gateway client, or the dry-run client when
// no gateway is configured.
func newSiteClient(cfg sharesync.SiteConfig, logger *slog.Logger) handler.SiteClient {
	if cfg.BaseURL == "" {
		logger.Warn("no site gateway configured, using dry-run client")
		return handler.NewDryRunClient(logger)
	}
	return handler.NewRESTClient(cfg.BaseURL, cfg.Token, cfg.Timeout, logger)
}
