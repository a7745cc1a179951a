package main

import (
	"context"
	"github.com/asynkron/protoactor-go/actor"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go-supervisor/internal/api"
	"go-supervisor/internal/checkpoint"
	"golang.org/x/sync/errgroup"
	"os/signal"
	"syscall"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the agent API over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	store, err := openStore(cfg.Checkpoint)
	if err != nil {
		return err
	}
	defer store.Close()

	driver, err := newDriver(cfg, store)
	if err != nil {
		return err
	}

	system := actor.NewActorSystem().Root
	app := api.New(system, driver, api.Options{
		Port:        cfg.Server.Port,
		ToolTimeout: cfg.Engine.ToolTimeout,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(app.Start)
	g.Go(func() error {
		return checkpoint.RunPruner(ctx, store, cfg.Checkpoint.Retention, cfg.Checkpoint.PruneInterval)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down gracefully")

		shutdown, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return app.Stop(shutdown)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with an error")
		return err
	}
	log.Info().Msg("server exiting")
	return nil
}
