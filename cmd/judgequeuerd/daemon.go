package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/cloudfacade"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/config"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/evaluator"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/logging"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/metrics"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/registry"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/vmss"
)

func serveCmd() *cobra.Command {
	var (
		httpAddr string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the judge queuer daemon",
		Long:  "Run the evaluator dispatcher, recover existing VMSS capacity, and serve the metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			if cmd.Flags().Changed("http-addr") {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
				cfg.Logging.Level = logLevel
			}

			logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)

			if cfg.Metrics.Enabled {
				metrics.Init(cfg.Metrics.Namespace, cfg.Metrics.HistogramBuckets)
			}

			var notifier registry.Notifier
			if cfg.Redis.Addr != "" {
				client := redis.NewClient(&redis.Options{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
				})
				notifier = registry.NewRedisNotifier(client, cfg.Redis.Channel)
				logging.Op().Info("runner-connect notifications shared via redis", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
			}
			reg := registry.New(notifier)

			// The cloud control plane is an out-of-scope collaborator
			// (spec §1): the production binding (e.g. the Azure SDK) is
			// never implemented here. Until one is wired in, the daemon
			// runs against the in-memory fake so the scheduler loops are
			// exercised end to end.
			facade := cloudfacade.NewFake()

			opts := vmss.Options{
				MinCPUs:               cfg.Scheduler.MinCPUs,
				MinMemoryMB:           cfg.Scheduler.MinMemoryMB,
				MaxVMIdle:             cfg.Scheduler.MaxVMIdle,
				NoDownSizing:          cfg.Scheduler.NoDownSizing,
				ProvisionTimeout:      cfg.Scheduler.ProvisionTimeout,
				ProvisionPollInterval: cfg.Scheduler.ProvisionPollInterval,
				MaxIdleQueue:          cfg.Scheduler.MaxIdleQueue,
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eval := evaluator.New(ctx, facade, reg, opts)
			if err := eval.Initialize(ctx); err != nil {
				return fmt.Errorf("initialize evaluator: %w", err)
			}
			logging.Op().Info("evaluator started")

			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			httpServer := &http.Server{
				Addr:    cfg.Daemon.HTTPAddr,
				Handler: mux,
			}

			go func() {
				logging.Op().Info("http server listening", "addr", cfg.Daemon.HTTPAddr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Op().Error("http server error", "error", err)
				}
			}()

			<-ctx.Done()
			logging.Op().Info("shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logging.Op().Warn("http server shutdown error", "error", err)
			}

			eval.Close()
			if notifier != nil {
				notifier.Close()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP bind address for /metrics and /healthz")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	return cmd
}
