package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	"familysite/internal/player"
	"familysite/pkg/models"
)

// pageView is the data rendered by the home page template
type pageView struct {
	Title        string
	PhotoURL     string
	PhotoCaption string
	Albums       []models.Link
	Links        []models.Link

	ShowPlayer   bool
	State        *player.State
	Bins         int
	CanvasWidth  int
	CanvasHeight int
}

// handleHome renders the family page. The player widget is left out when
// there is nothing to play.
func (ss *SiteServer) handleHome(w http.ResponseWriter, r *http.Request) {
	page := ss.catalog.Page(r.Context())

	view := pageView{
		Title:        ss.config.Site.Title,
		PhotoURL:     page.PhotoURL,
		PhotoCaption: page.PhotoCaption,
		Albums:       page.Albums,
		Links:        page.Links,
		CanvasWidth:  ss.config.Visualizer.Width,
		CanvasHeight: ss.config.Visualizer.Height,
		Bins:         ss.config.Visualizer.FFTSize / 2,
	}
	if ss.player != nil && len(ss.player.Tracks()) > 0 {
		view.ShowPlayer = true
		view.State = ss.player.State()
	}

	var buf bytes.Buffer
	if err := ss.templates.execute(&buf, pageTemplate, view); err != nil {
		ss.respondWithError(w, r, http.StatusInternalServerError, "Failed to render page", err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// handleGetTracks returns the music catalog
func (ss *SiteServer) handleGetTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := ss.catalog.Tracks(r.Context())
	if err != nil {
		ss.logger.WithError(err).WithField("request_id", requestIDFromContext(r.Context())).Error("Failed to fetch tracks")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "Failed to fetch tracks"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	json.NewEncoder(w).Encode(tracks)
}
