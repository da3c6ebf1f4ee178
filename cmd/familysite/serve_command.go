package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"familysite/internal/airtable"
	"familysite/internal/cache"
	"familysite/internal/catalog"
	"familysite/internal/config"
	"familysite/internal/logging"
	"familysite/internal/ngrok"
	"familysite/internal/playback"
	"familysite/internal/player"
	"familysite/internal/server"
	"familysite/internal/visualizer"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var noPlayer bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the family site and run the house player",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if noPlayer {
				cfg.Player.Enabled = false
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().BoolVar(&noPlayer, "no-player", false, "Serve the site without the house player")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to open catalog cache: %w", err)
	}
	defer store.Close()

	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	cat := catalog.NewService(airtable.NewClient(cfg.Airtable, logger), store, ttl, cfg.Site.FallbackPhoto, logger)

	var ctrl *player.Controller
	if cfg.Player.Enabled {
		ctrl, err = newPlayer(cfg, cat, logger)
		if err != nil {
			return fmt.Errorf("failed to create player: %w", err)
		}
		defer ctrl.Close()

		if n := ctrl.Refresh(ctx); n == 0 {
			logger.Warn("No tracks available, the player widget is hidden")
		}
		if ttl > 0 {
			go refreshPlaylist(ctx, ctrl, ttl)
		}
	}

	tunnel, err := ngrok.NewService(&cfg.Ngrok, logger)
	if err != nil {
		logger.WithError(err).Warn("Ngrok service not available")
		tunnel = nil
	}

	site, err := server.NewSiteServer(cfg, cat, ctrl, tunnel, logger)
	if err != nil {
		return err
	}
	return site.Start(ctx)
}

// newPlayer wires the engine, sequencer and visualizer into a controller
func newPlayer(cfg *config.Config, cat player.Catalog, logger *logrus.Logger) (*player.Controller, error) {
	newSink, err := playback.NewSinkFactory(cfg.Player.Output)
	if err != nil {
		return nil, err
	}

	analyser := playback.NewAnalyser(cfg.Visualizer.FFTSize, cfg.Visualizer.Smoothing)
	engine := playback.NewEngine(cfg.Player, analyser, newSink, logger)
	vis := visualizer.New(visualizer.NewTickerClock(cfg.Visualizer.FPS), logger)
	canvas := visualizer.NewImageCanvas(cfg.Visualizer.Width, cfg.Visualizer.Height)

	ctrl, err := player.NewController(cfg.Player, engine, cat, playback.NewSequencer(nil), vis, canvas, logger)
	if err != nil {
		engine.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"output":      cfg.Player.Output,
		"order":       cfg.Player.Order,
		"sample_rate": cfg.Player.SampleRate,
		"fft_size":    cfg.Visualizer.FFTSize,
	}).Info("House player ready")
	return ctrl, nil
}

// refreshPlaylist reloads the playlist once per cache period, the way a
// page reload would
func refreshPlaylist(ctx context.Context, ctrl *player.Controller, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ctrl.Refresh(ctx)
		}
	}
}
