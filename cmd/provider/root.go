package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mini-dubbo/config"
	"mini-dubbo/logger"
	"mini-dubbo/middleware"
	"mini-dubbo/registry"
	"mini-dubbo/server"
	"mini-dubbo/service"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "provider",
		Short:         "Dubbo-protocol RPC provider",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCmd())
	cmd.Run = func(cmd *cobra.Command, args []string) { _ = cmd.Help() }
	return cmd
}

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo service until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log.Level)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to config file (yaml|toml|json)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	demo, err := service.FromReceiver(demoInterface, &demoService{})
	if err != nil {
		return err
	}

	var reg registry.Registry
	if len(cfg.Registry.Endpoints) > 0 {
		etcdReg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.Root, cfg.Registry.TTL)
		if err != nil {
			return fmt.Errorf("connect registry: %w", err)
		}
		defer etcdReg.Close()
		reg = etcdReg
	}

	srv, err := server.New(server.Config{
		Registry:      reg,
		Services:      []service.Descriptor{demo},
		Application:   cfg.Application,
		Host:          cfg.Host,
		Port:          cfg.Port,
		Serialization: cfg.SerializationType(),
		Heartbeat:     cfg.HeartbeatConfig(),
		Retry:         cfg.RetryPolicy(),
		Logger:        log,
		OnError: func(err error) {
			log.Warn("provider degraded", zap.Error(err))
		},
	})
	if err != nil {
		return err
	}
	if err := srv.Use(middleware.LoggingMiddleware(log)); err != nil {
		return err
	}

	if err := srv.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	log.Info("shutting down")
	return srv.Close()
}
