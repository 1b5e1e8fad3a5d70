package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pricewatch/internal/chain"
	"pricewatch/internal/config"
	"pricewatch/internal/engine"
	"pricewatch/internal/registry"
	"pricewatch/internal/registry/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "pricewatch",
		Short:        "Demand-driven AMM pool price refresh engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the refresh engine",
		RunE:  runServe,
	}

	serveCmd.Flags().StringSlice("rpc", nil, "RPC provider URLs (comma-separated)")
	serveCmd.Flags().Uint64("network", 0, "network (chain) id")
	serveCmd.Flags().String("routes-file", "", "cold-path routes export (JSON)")
	serveCmd.Flags().String("pg-dsn", "", "Postgres DSN of the cold-path registry")
	serveCmd.Flags().Duration("rpc-timeout", 5*time.Second, "per-batch RPC timeout")
	serveCmd.Flags().Duration("cycle-interval", time.Second, "scheduling cycle period")
	serveCmd.Flags().Duration("high-interval", 5*time.Second, "high-tier refresh cadence")
	serveCmd.Flags().Duration("normal-interval", 10*time.Second, "normal-tier refresh cadence")
	serveCmd.Flags().Duration("low-interval", 30*time.Second, "low-tier refresh cadence")
	serveCmd.Flags().Duration("retry-delay", 2*time.Second, "reschedule delay after a failed call")
	serveCmd.Flags().Int("weight-ceiling", 50, "maximum summed query weight per batch")
	serveCmd.Flags().Duration("cache-ttl", 2*time.Minute, "cache entry lifetime")
	serveCmd.Flags().Duration("grace-period", 20*time.Second, "zero-reference grace before eviction")
	serveCmd.Flags().Duration("eviction-interval", 30*time.Second, "pool eviction sweep period")
	serveCmd.Flags().Duration("ttl-sweep-interval", 30*time.Second, "cache TTL sweep period")
	serveCmd.Flags().String("metrics-addr", "", "Prometheus metrics listen address (empty disables)")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if len(cfg.RPCURLs) == 0 {
		return fmt.Errorf("at least one rpc url is required")
	}
	if cfg.Network == 0 {
		return fmt.Errorf("network id is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}

	client, err := chain.NewClient(ctx, cfg.RPCURLs, cfg.RPCTimeout, logger)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if chainID.Uint64() != cfg.Network {
		return fmt.Errorf("provider chain id %s does not match configured network %d", chainID, cfg.Network)
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	eng := engine.New(engine.Config{
		CycleInterval:    cfg.CycleInterval,
		HighInterval:     cfg.HighInterval,
		NormalInterval:   cfg.NormalInterval,
		LowInterval:      cfg.LowInterval,
		RetryDelay:       cfg.RetryDelay,
		WeightCeiling:    cfg.WeightCeiling,
		Providers:        client.Providers(),
		CacheTTL:         cfg.CacheTTL,
		GracePeriod:      cfg.GracePeriod,
		EvictionInterval: cfg.EvictionEvery,
		TTLSweepInterval: cfg.TTLSweepEvery,
	}, source, client, nil, logger, prometheus.DefaultRegisterer)

	logger.Info("pricewatch start",
		zap.Uint64("network", cfg.Network),
		zap.Int("providers", client.Providers()),
		zap.Duration("cycle_interval", cfg.CycleInterval),
		zap.Int("weight_ceiling", cfg.WeightCeiling),
		zap.Duration("grace_period", cfg.GracePeriod),
	)

	if err := eng.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func buildRegistry(ctx context.Context, cfg config.Config) (registry.Source, error) {
	if cfg.PGDSN != "" {
		loader, err := postgres.NewLoader(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect registry db: %w", err)
		}
		defer loader.Close()
		source, err := loader.Load(ctx, cfg.Network)
		if err != nil {
			return nil, fmt.Errorf("load registry: %w", err)
		}
		return source, nil
	}
	if cfg.RoutesFile == "" {
		return nil, fmt.Errorf("either routes-file or pg-dsn is required")
	}
	source, err := registry.LoadFile(cfg.RoutesFile)
	if err != nil {
		return nil, err
	}
	return source, nil
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
