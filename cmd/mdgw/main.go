package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"mdgw/internal/infra/config"
	"mdgw/internal/infra/gateway"
	"mdgw/internal/infra/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

type serveOptions struct {
	configPath  string
	transport   string
	httpAddr    string
	watchConfig bool
	logger      *zap.Logger
}

func main() {
	opts := serveOptions{
		transport: "stdio",
		httpAddr:  "127.0.0.1:8080",
		logger:    zap.NewNop(),
	}

	root := &cobra.Command{
		Use:   "mdgw",
		Short: "Unified market data gateway for tool-invocation clients",
		Long: "mdgw exposes a venue-parameterized market data tool surface and routes " +
			"each call to the matching exchange provider, normalizing responses into " +
			"one schema.",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg := zap.NewProductionConfig()
			log, err := cfg.Build()
			if err != nil {
				return err
			}
			opts.logger = log
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = opts.logger.Sync()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			applyFlagBindings(cmd.Flags(), &opts)
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()
			return runGateway(ctx, opts)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to gateway config file (required)")
	root.PersistentFlags().StringVar(&opts.transport, "transport", opts.transport, "client transport (stdio or streamable-http)")
	root.PersistentFlags().StringVar(&opts.httpAddr, "http-addr", opts.httpAddr, "streamable HTTP listen address")
	root.PersistentFlags().BoolVar(&opts.watchConfig, "watch-config", false, "re-discover provider capabilities when the config file changes")
	_ = root.MarkPersistentFlagRequired("config")

	if err := root.Execute(); err != nil {
		opts.logger.Fatal("command failed", zap.Error(err))
	}
}

func runGateway(ctx context.Context, opts serveOptions) error {
	loader := config.NewLoader(opts.logger)
	cfg, err := loader.Load(opts.configPath)
	if err != nil {
		return err
	}
	opts.logger.Info("configuration loaded",
		zap.String("config", opts.configPath),
		zap.Int("providers", len(cfg.EnabledProviders())),
		zap.String("default_venue", cfg.DefaultVenue),
	)

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewPrometheusMetrics(registry)

	gw, err := gateway.New(cfg, gateway.Options{
		Logger:  opts.logger,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := gw.Close(); closeErr != nil {
			opts.logger.Warn("shutdown cleanup failed", zap.Error(closeErr))
		}
	}()

	if err := gw.Start(ctx); err != nil {
		return err
	}

	if cfg.Observability.EnableMetrics || cfg.Observability.EnableHealthz {
		go func() {
			if err := telemetry.StartHTTPServer(ctx, telemetry.HTTPServerOptions{
				Addr:          cfg.Observability.ListenAddress,
				EnableMetrics: cfg.Observability.EnableMetrics,
				EnableHealthz: cfg.Observability.EnableHealthz,
				Health:        gw.HealthTracker(),
				Registry:      registry,
			}, opts.logger); err != nil {
				opts.logger.Error("observability server failed", zap.Error(err))
			}
		}()
	}

	if opts.watchConfig {
		go func() {
			// Routing tables and connection pools are built at startup; a
			// changed provider list takes effect on the next restart. The
			// watcher still refreshes the capability catalog so new provider
			// tools become routable without one.
			err := loader.Watch(ctx, opts.configPath, func(config.GatewayConfig) {
				opts.logger.Info("config file changed; refreshing provider capabilities")
				gw.Rediscover(ctx)
			})
			if err != nil {
				opts.logger.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}

	switch opts.transport {
	case "stdio":
		err = gw.Run(ctx, version)
	case "streamable-http":
		err = gw.RunStreamableHTTP(ctx, gateway.HTTPOptions{
			Addr:    opts.httpAddr,
			Version: version,
		})
	default:
		return fmt.Errorf("unsupported transport: %s", opts.transport)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func applyFlagBindings(flags *pflag.FlagSet, opts *serveOptions) {
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "config":
			opts.configPath, _ = flags.GetString("config")
		case "transport":
			opts.transport, _ = flags.GetString("transport")
		case "http-addr":
			opts.httpAddr, _ = flags.GetString("http-addr")
		case "watch-config":
			opts.watchConfig, _ = flags.GetBool("watch-config")
		}
	})
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
