package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfredjeanlab/gamecfg/internal/config"
	"github.com/alfredjeanlab/gamecfg/internal/events"
	"github.com/alfredjeanlab/gamecfg/internal/metrics"
	"github.com/alfredjeanlab/gamecfg/internal/server"
	"github.com/alfredjeanlab/gamecfg/internal/snapshot"
	"github.com/alfredjeanlab/gamecfg/internal/store"
	"github.com/alfredjeanlab/gamecfg/internal/store/postgres"
	cfgsync "github.com/alfredjeanlab/gamecfg/internal/sync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the gamecfg HTTP and gRPC server",
	GroupID: "system",
	Args:    cobra.NoArgs,
	// Override PersistentPreRunE so we don't create a client.
	PersistentPreRunE: noConnect,
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts []config.Option
		if evalOnly, _ := cmd.Flags().GetBool("eval-only"); evalOnly {
			opts = append(opts, config.ForceEvalOnly())
		}
		cfg, err := config.Load(opts...)
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
		slog.SetDefault(logger)

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		rec := metrics.NewProm(reg, "gamecfg")

		runCtx, stopRun := context.WithCancel(context.Background())
		defer stopRun()

		var closers []func() error
		defer func() {
			for i := len(closers) - 1; i >= 0; i-- {
				if err := closers[i](); err != nil {
					logger.Error("error during shutdown", "err", err)
				}
			}
		}()

		// Snapshot mirror. Evaluation-only replicas read from it, the
		// primary writes to it.
		var mirror *snapshot.RedisMirror
		if cfg.RedisURL != "" {
			mirror, err = snapshot.NewRedisMirror(cfg.RedisURL, cfg.RedisKey)
			if err != nil {
				return err
			}
			closers = append(closers, mirror.Close)
			logger.Info("snapshot mirror enabled", "key", cfg.RedisKey)
		}

		var (
			st     store.Store
			source snapshot.Source
			sink   snapshot.Mirror
		)
		if cfg.EvalOnly {
			source = mirror
			logger.Info("evaluation-only mode, serving from the snapshot mirror")
		} else {
			pg, err := postgres.New(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			closers = append(closers, pg.Close)
			st = pg
			source = snapshot.StoreSource{Store: pg}
			if mirror != nil {
				sink = mirror
			}
		}

		cache := snapshot.NewCache(source, sink, logger)
		cache.SetObserver(rec.SnapshotRefreshed)
		if err := cache.Refresh(runCtx); err != nil {
			rec.SnapshotRefreshed(false, 0)
			if !cfg.EvalOnly || !errors.Is(err, snapshot.ErrNoSnapshot) {
				return err
			}
			logger.Warn("no snapshot published yet, serving empty state until one arrives")
		} else {
			rec.SnapshotRefreshed(true, cache.Current().Len())
		}

		// Event bus.
		var publisher events.Publisher = events.NoopPublisher{}
		var trigger <-chan struct{}
		if cfg.NATSURL != "" {
			if !cfg.EvalOnly {
				pub, err := events.NewNATSPublisher(cfg.NATSURL)
				if err != nil {
					return err
				}
				closers = append(closers, pub.Close)
				publisher = pub
			}
			sub, err := events.NewNATSSubscriber(cfg.NATSURL)
			if err != nil {
				return err
			}
			closers = append(closers, sub.Close)
			if trigger, err = events.Triggers(runCtx, sub, events.TopicLiveChanged); err != nil {
				return err
			}
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			logger.Info("events disabled (GAMECFG_NATS_URL not set)")
		}
		go cache.Run(runCtx, cfg.SnapshotInterval, trigger)

		cs := server.NewConfigServer(st, publisher, cache, server.WithMetrics(rec))
		grpcServer, healthServer := server.NewGRPCServer(cs, cfg.AuthToken)

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           cs.NewHTTPHandler(cfg.AuthToken, reg),
			ReadHeaderTimeout: 10 * time.Second,
			// Event streams end when runCtx is cancelled.
			BaseContext: func(net.Listener) context.Context { return runCtx },
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		scheduler := startBackups(cfg, st, logger)

		logger.Info("gamecfg server started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
			"read_only", cs.ReadOnly(),
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		healthServer.Shutdown()
		stopRun()

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("backup scheduler stopped")
		}

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")
		return nil
	},
}

// startBackups starts the backup scheduler when a store and at least one
// destination are configured.
func startBackups(cfg *config.Config, st store.Store, logger *slog.Logger) *cfgsync.Scheduler {
	if st == nil || cfg.SyncInterval == 0 {
		return nil
	}
	var dests []cfgsync.Destination
	if cfg.SyncS3Bucket != "" {
		d, err := cfgsync.NewS3Destination(context.Background(), cfg.SyncS3Bucket, cfg.SyncS3Prefix, cfg.SyncS3Region, cfg.SyncS3Endpoint)
		if err != nil {
			logger.Error("failed to create S3 backup destination", "err", err)
		} else {
			dests = append(dests, d)
			logger.Info("S3 backup destination enabled", "bucket", cfg.SyncS3Bucket, "prefix", cfg.SyncS3Prefix)
		}
	}
	if cfg.SyncDir != "" {
		d, err := cfgsync.NewDirDestination(cfg.SyncDir, cfg.SyncKeep)
		if err != nil {
			logger.Error("failed to create directory backup destination", "err", err)
		} else {
			dests = append(dests, d)
			logger.Info("directory backup destination enabled", "dir", cfg.SyncDir, "keep", cfg.SyncKeep)
		}
	}
	if len(dests) == 0 {
		return nil
	}
	s := cfgsync.NewScheduler(st, dests, cfg.SyncInterval, logger)
	s.Start()
	logger.Info("backup scheduler started", "interval", cfg.SyncInterval)
	return s
}

func init() {
	serveCmd.Flags().Bool("eval-only", false, "serve evaluation only, from the Redis snapshot mirror (no database)")
}
