package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mri-inference-service/api"
	"mri-inference-service/app"
	"mri-inference-service/config"
	"mri-inference-service/model"
)

// Command creates the serve command, which runs the REST and gRPC servers.
func Command(ctx *config.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the REST and gRPC servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), ctx)
		},
	}
}

// Run serves until the context is cancelled or SIGINT/SIGTERM arrives.
func Run(parent context.Context, cctx *config.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := cctx.Settings
	log := cctx.Log

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		if errors.Is(err, model.ErrModelNotFound) {
			log.Error().Str("path", cfg.Model.Path).Msg("model file missing, refusing to start")
		}
		return err
	}
	defer a.Close()

	deps := api.Deps{
		Pipeline:    a.Pipeline,
		History:     a.Repo,
		Metrics:     a.Metrics,
		Log:         log,
		BodyLimitMB: cfg.Server.BodyLimitMB,
	}
	if a.Store != nil {
		deps.Store = a.Store
	}
	restServer := api.NewApp(deps)
	grpcServer := api.NewGRPCServer(log)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.GRPCAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.Server.GRPCAddr).Msg("starting gRPC server")
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.Server.HTTPAddr).Msg("starting Fiber server")
		if err := restServer.Listen(cfg.Server.HTTPAddr); err != nil {
			errCh <- fmt.Errorf("fiber server: %w", err)
		}
	}()
	grpcServer.SetServing(true)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("server stopped unexpectedly")
	}

	grpcServer.SetServing(false)
	if err := restServer.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("fiber shutdown")
	}
	grpcServer.Stop()

	return runErr
}
