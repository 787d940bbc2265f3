package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tidespike/internal/alerts"
	"tidespike/internal/api"
	"tidespike/internal/config"
	"tidespike/internal/engine"
	"tidespike/internal/metrics"
	"tidespike/internal/storage"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var watchInterval time.Duration
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detection HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			var mgr *config.Manager
			if root.configPath != "" {
				m, err := config.NewManager(config.ResolvePath(root.configPath))
				if err != nil {
					return err
				}
				mgr = m
			} else {
				mgr = config.NewStaticManager(config.DefaultConfig())
			}
			cfg := mgr.Get()
			if addr == "" {
				if !cfg.API.Enabled {
					return errors.New("api disabled (set api.enabled or pass --addr)")
				}
				addr = cfg.API.Addr
			}
			logger := root.logger(cfg, os.Stdout)
			return runServe(cmd.Context(), mgr, addr, watchInterval, logger, nil)
		},
	}
	cmd.Flags().DurationVar(&watchInterval, "watch", 3*time.Second, "config reload poll interval (0 disables)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address; serves even when api.enabled is false (default api.addr)")
	return cmd
}

// runServe blocks until ctx is done. ready, when set, receives the bound
// address once the listener is up.
func runServe(ctx context.Context, mgr *config.Manager, addr string, watchInterval time.Duration, logger *slog.Logger, ready func(net.Addr)) error {
	cfg := mgr.Get()
	logger.Info("tidespike starting", "version", version, "config", mgr.Path())

	runs := metrics.NewStore(cfg.Runs.StoreLimit)
	alertStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	collector := metrics.NewCollector()
	sinks := engine.Sinks{Runs: runs, Collector: collector, Alerts: alertStore}
	deps := api.Deps{Runs: runs, Alerts: alertStore, Collector: collector}

	st, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
		if err := st.Init(ctx); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		sinks.Store, deps.Store = st, st
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}
	if cfg.Input.Source == "database" {
		src, err := storage.Open(cfg.Input.Database.Driver, cfg.Input.Database.DSN)
		if err != nil {
			return err
		}
		defer src.Close()
		deps.Source = src
		logger.Info("database source enabled", "driver", cfg.Input.Database.Driver)
	}
	pub, err := alerts.NewKafkaPublisher(cfg.Kafka, logger)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
		sinks.Publisher = pub
	}

	eng, err := engine.NewEngine(cfg, logger, sinks)
	if err != nil {
		return err
	}
	deps.Engine = eng

	if watchInterval > 0 && mgr.Path() != "" {
		go mgr.Watch(ctx, watchInterval, func(next *config.Config) {
			if err := eng.UpdateConfig(next); err != nil {
				logger.Warn("config reload rejected", "err", err)
				return
			}
			logger.Info("config reloaded", "path", mgr.Path())
		}, func(err error) {
			logger.Warn("config watch error", "err", err)
		})
	}

	bound, err := api.Start(ctx, addr, mgr, deps, logger, version)
	if err != nil {
		return fmt.Errorf("start api: %w", err)
	}
	if ready != nil {
		ready(bound)
	}
	<-ctx.Done()
	logger.Info("tidespike stopping")
	return nil
}
