package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"familysite/internal/media"
	"familysite/internal/playback"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// volumeRequest is the body of POST /api/player/volume
type volumeRequest struct {
	Volume *float64 `json:"volume"`
}

// muteRequest is the body of POST /api/player/mute. A missing value toggles.
type muteRequest struct {
	Muted *bool `json:"muted"`
}

// handleGetPlayerState returns the current player state
func (ss *SiteServer) handleGetPlayerState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	ss.respondJSON(w, http.StatusOK, ss.player.State())
}

// handlePlayerAction forwards a transport intent to the player
func (ss *SiteServer) handlePlayerAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	if verr := validatePlayerAction(action); verr != nil {
		ss.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	if err := ss.dispatchAction(r.Context(), action); err != nil {
		ss.respondWithPlayerError(w, r, err)
		return
	}

	ss.logger.WithFields(logrus.Fields{
		"request_id": requestIDFromContext(r.Context()),
		"action":     action,
	}).Debug("Player action")

	ss.respondJSON(w, http.StatusOK, ss.player.State())
}

// dispatchAction runs a validated action against the player
func (ss *SiteServer) dispatchAction(ctx context.Context, action string) error {
	switch action {
	case "play":
		return ss.player.Play(ctx)
	case "pause":
		return ss.player.Pause()
	case "toggle":
		return ss.player.TogglePlay(ctx)
	case "stop":
		return ss.player.Stop()
	case "next":
		return ss.player.Next(ctx)
	case "previous":
		return ss.player.Previous(ctx)
	}
	return nil
}

// handleSetVolume sets the output volume
func (ss *SiteServer) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if verr := decodeJSONBody(w, r, &req); verr != nil {
		ss.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	if verr := validateVolume(req.Volume); verr != nil {
		ss.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	ss.player.SetVolume(*req.Volume)
	ss.respondJSON(w, http.StatusOK, ss.player.State())
}

// handleSetMuted mutes, unmutes or toggles
func (ss *SiteServer) handleSetMuted(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if verr := decodeJSONBody(w, r, &req); verr != nil {
		ss.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	if req.Muted == nil {
		ss.player.ToggleMute()
	} else {
		ss.player.SetMuted(*req.Muted)
	}
	ss.respondJSON(w, http.StatusOK, ss.player.State())
}

// handleVisualizerImage serves the last painted visualizer frame as PNG
func (ss *SiteServer) handleVisualizerImage(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := ss.player.Canvas().WritePNG(&buf); err != nil {
		ss.respondWithError(w, r, http.StatusInternalServerError, "Failed to encode visualizer frame", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

// handleArtwork serves the picture embedded in the current track
func (ss *SiteServer) handleArtwork(w http.ResponseWriter, r *http.Request) {
	artData, ok := ss.player.Artwork()
	if !ok {
		ss.respondWithError(w, r, http.StatusNotFound, "Artwork not found", nil)
		return
	}

	w.Header().Set("Content-Type", media.ImageContentType(artData))
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(artData)
}

// respondWithPlayerError maps playback failures to HTTP statuses
func (ss *SiteServer) respondWithPlayerError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		fetchErr  *playback.FetchError
		decodeErr *playback.DecodeError
	)
	switch {
	case errors.Is(err, playback.ErrEmptyCatalog):
		ss.respondWithError(w, r, http.StatusConflict, "No tracks available", err)
	case errors.Is(err, playback.ErrClosed):
		ss.respondWithError(w, r, http.StatusServiceUnavailable, "Player is shut down", err)
	case errors.As(err, &fetchErr):
		ss.respondWithError(w, r, http.StatusBadGateway, "Failed to fetch track", err)
	case errors.As(err, &decodeErr):
		ss.respondWithError(w, r, http.StatusUnprocessableEntity, "Track could not be decoded", err)
	default:
		ss.respondWithError(w, r, http.StatusInternalServerError, "Playback failed", err)
	}
}
