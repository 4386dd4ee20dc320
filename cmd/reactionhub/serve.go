package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/Mizuir0/live-reaction-system/internal/aggregator"
	"github.com/Mizuir0/live-reaction-system/internal/config"
	"github.com/Mizuir0/live-reaction-system/internal/connection"
	"github.com/Mizuir0/live-reaction-system/internal/hub"
	"github.com/Mizuir0/live-reaction-system/internal/persistence"
	"github.com/Mizuir0/live-reaction-system/internal/server"
	"github.com/Mizuir0/live-reaction-system/internal/store"
	"github.com/Mizuir0/live-reaction-system/internal/system"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the reaction hub server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd)
		},
	}
}

func serve(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	system.SetupLogging()

	cm := system.NewCleanupManager()
	defer cm.Cleanup(cmd.Context())

	ctx, signalCancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer signalCancel()

	persist, err := persistence.New(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	cm.Add(func(context.Context) error { return persist.Close() })

	st := store.New()
	h := hub.New()
	agg := aggregator.New(st, persist, h)
	mgr := connection.NewManager(st, persist, h, cfg.FrontendURL)
	srv := server.NewServer(cfg.Port, cfg.FrontendURL, h, persist, mgr, agg)

	go agg.Run(ctx)

	log.Info().Int("port", cfg.Port).Str("database", persist.Path()).Msg("starting reaction hub")
	return srv.ListenAndServe(ctx, cm)
}
