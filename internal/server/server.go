// Package server serves the family page, the track catalog API and the
// house player controls.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"familysite/internal/catalog"
	"familysite/internal/config"
	"familysite/internal/ngrok"
	"familysite/internal/player"
	"familysite/pkg/models"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Catalog is the catalog read by the page and the tracks API
type Catalog interface {
	Tracks(ctx context.Context) ([]models.Track, error)
	Page(ctx context.Context) catalog.PageData
}

// SiteServer represents the family site HTTP server
type SiteServer struct {
	config       *config.Config
	catalog      Catalog
	player       *player.Controller // nil when the house player is disabled
	templates    *templateSet
	watcher      *fsnotify.Watcher
	ngrokService *ngrok.Service
	logger       *logrus.Logger
	startedAt    time.Time
	handler      http.Handler
}

// NewSiteServer creates a server. The player and the tunnel may be nil.
func NewSiteServer(cfg *config.Config, cat Catalog, ctrl *player.Controller, tunnel *ngrok.Service, logger *logrus.Logger) (*SiteServer, error) {
	templates, err := newTemplateSet(cfg.Site.TemplatesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	ss := &SiteServer{
		config:       cfg,
		catalog:      cat,
		player:       ctrl,
		templates:    templates,
		ngrokService: tunnel,
		logger:       logger,
		startedAt:    time.Now(),
	}
	ss.handler = ss.setupRoutes()
	return ss, nil
}

// Handler returns the routed handler with middleware applied
func (ss *SiteServer) Handler() http.Handler {
	return ss.handler
}

func (ss *SiteServer) setupRoutes() http.Handler {
	router := mux.NewRouter()
	router.Use(ss.panicRecoveryMiddleware, ss.requestIDMiddleware, ss.requestLoggingMiddleware)

	router.HandleFunc("/", ss.handleHome).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/health", ss.handleHealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks", ss.handleGetTracks).Methods(http.MethodGet)

	router.PathPrefix("/assets/").Handler(http.StripPrefix("/assets/", http.FileServer(http.FS(assetFS))))
	router.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir(ss.config.Server.StaticDir))))

	if ss.player != nil {
		api := router.PathPrefix("/api/player").Subrouter()
		api.HandleFunc("/state", ss.handleGetPlayerState).Methods(http.MethodGet)
		api.HandleFunc("/volume", ss.handleSetVolume).Methods(http.MethodPost)
		api.HandleFunc("/mute", ss.handleSetMuted).Methods(http.MethodPost)
		api.HandleFunc("/visualizer.png", ss.handleVisualizerImage).Methods(http.MethodGet)
		api.HandleFunc("/artwork", ss.handleArtwork).Methods(http.MethodGet)
		api.HandleFunc("/{action}", ss.handlePlayerAction).Methods(http.MethodPost)

		router.HandleFunc("/ws/player", ss.handlePlayerSocket).Methods(http.MethodGet)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ss.respondWithError(w, r, http.StatusNotFound, "Not found", nil)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ss.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	// Preflight requests never match a route, so CORS wraps the router
	return ss.corsMiddleware(router)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (ss *SiteServer) Start(ctx context.Context) error {
	if ss.config.Site.WatchTemplates && ss.config.Site.TemplatesDir != "" {
		if err := ss.startTemplateWatcher(); err != nil {
			ss.logger.WithError(err).Warn("Could not start template watcher")
		} else {
			defer ss.stopTemplateWatcher()
		}
	}

	server := &http.Server{
		Addr:         ss.config.GetAddress(),
		Handler:      ss.handler,
		ReadTimeout:  time.Duration(ss.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(ss.config.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(ss.config.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	localAddress := fmt.Sprintf("http://%s", ss.config.GetAddress())
	fields := logrus.Fields{"address": localAddress, "player": ss.player != nil}
	if ss.player != nil {
		fields["tracks"] = len(ss.player.Tracks())
	}
	ss.logger.WithFields(fields).Info("Family site starting")

	if ss.ngrokService != nil {
		if err := ss.ngrokService.StartTunnel(ctx, localAddress); err != nil {
			ss.logger.WithError(err).Warn("Could not start ngrok tunnel")
		} else {
			defer ss.ngrokService.Stop()
		}
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	ss.logger.Info("Shutting down family site")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	ss.logger.Info("Family site shutdown complete")
	return nil
}
