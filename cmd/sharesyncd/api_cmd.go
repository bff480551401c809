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

	"github.com/steveoberholzer/ShareSync/admin"
	"github.com/steveoberholzer/ShareSync/broker"
	"github.com/steveoberholzer/ShareSync/joblog"
	"github.com/steveoberholzer/ShareSync/metrics"
	"github.com/steveoberholzer/ShareSync/producer"
	"github.com/steveoberholzer/ShareSync/store"
)

func newAPICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Run only the administrative API",
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

			transport := broker.NewRabbit(cfg.Broker.URL, broker.WithPrefetch(cfg.Broker.Prefetch))
			defer transport.Close()
			if err := transport.DeclareTopology(ctx); err != nil {
				return fmt.Errorf("broker unavailable: %w", err)
			}

			reg := prometheus.NewRegistry()
			m := metrics.New(reg)
			logs := joblog.NewWriter(st, logger)
			defer logs.Close()

			p := producer.New(st, transport, logger,
				producer.WithMaxRetries(cfg.Processing.MaxRetries),
				producer.WithLogWriter(logs),
				producer.WithMetrics(m),
			)

			srv := admin.New(cfg.Admin.Addr, st, p, newController(cfg.Processing), logger,
				admin.WithMetricsRegistry(reg))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(srv.Start)
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Processing.ShutdownGrace)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			logger.Info("sharesync api running",
				slog.String("addr", cfg.Admin.Addr),
				slog.String("store", cfg.Store.Driver),
			)
			return g.Wait()
		},
	}
}
