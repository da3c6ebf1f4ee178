package server

import (
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"familysite/internal/catalog"
	"familysite/internal/config"
	"familysite/internal/logging"
	"familysite/internal/media/mediatest"
	"familysite/internal/playback"
	"familysite/internal/player"
	"familysite/internal/visualizer"
	"familysite/pkg/models"

	"github.com/gopxl/beep/v2"
	"github.com/gorilla/websocket"
)

const testRate = 8000

// fakeCatalog serves both the page and the player playlist
type fakeCatalog struct {
	mu     sync.Mutex
	tracks []models.Track
	err    error
	page   catalog.PageData
}

func (c *fakeCatalog) Tracks(context.Context) ([]models.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return append([]models.Track{}, c.tracks...), nil
}

func (c *fakeCatalog) Playlist(ctx context.Context) []models.Track {
	tracks, err := c.Tracks(ctx)
	if err != nil {
		return []models.Track{}
	}
	return tracks
}

func (c *fakeCatalog) Page(context.Context) catalog.PageData {
	return c.page
}

type testSite struct {
	server  *SiteServer
	catalog *fakeCatalog
	player  *player.Controller
	clock   *visualizer.ManualClock
}

func newTestSite(t *testing.T, trackCount int, withPlayer bool, configure func(*config.Config)) *testSite {
	t.Helper()

	wav := mediatest.WAV(t, time.Second, testRate)
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(wav)
	}))
	t.Cleanup(media.Close)

	fake := &fakeCatalog{
		tracks: []models.Track{},
		page: catalog.PageData{
			Albums:       []models.Link{{ID: "r1", Name: "Summer 1998", URL: "https://photos.example.com/1998", Category: models.CategoryAlbum}},
			Links:        []models.Link{{ID: "r2", Name: "Family Recipes", URL: "https://recipes.example.com", Category: models.CategoryLink}},
			PhotoURL:     "/static/fam.jpg",
			PhotoCaption: catalog.DefaultCaption,
		},
	}
	for i := 0; i < trackCount; i++ {
		id := string(rune('a' + i))
		fake.tracks = append(fake.tracks, models.Track{
			ID:       id,
			Name:     "Track " + id,
			SongURL:  media.URL + "/" + id + ".wav",
			ImageURL: "https://img.example.com/" + id + ".jpg",
			Artist:   models.DefaultArtist,
		})
	}

	cfg := config.DefaultConfig()
	cfg.Server.RequestLogging = false
	cfg.Player.SampleRate = testRate
	if configure != nil {
		configure(cfg)
	}

	site := &testSite{catalog: fake}
	var ctrl *player.Controller
	if withPlayer {
		sink := playback.NewMixerSink(testRate)
		engine := playback.NewEngine(cfg.Player, playback.NewAnalyser(cfg.Visualizer.FFTSize, cfg.Visualizer.Smoothing), func(beep.SampleRate) (playback.Sink, error) {
			return sink, nil
		}, logging.Discard())

		site.clock = visualizer.NewManualClock()
		var err error
		ctrl, err = player.NewController(
			cfg.Player,
			engine,
			fake,
			playback.NewSequencer(rand.New(rand.NewPCG(1, 2))),
			visualizer.New(site.clock, logging.Discard()),
			visualizer.NewImageCanvas(cfg.Visualizer.Width, cfg.Visualizer.Height),
			logging.Discard(),
		)
		if err != nil {
			t.Fatalf("NewController() unexpected error: %v", err)
		}
		t.Cleanup(func() { ctrl.Close() })
		ctrl.Refresh(context.Background())
		site.player = ctrl
	}

	ss, err := NewSiteServer(cfg, fake, ctrl, nil, logging.Discard())
	if err != nil {
		t.Fatalf("NewSiteServer() unexpected error: %v", err)
	}
	site.server = ss
	return site
}

func (s *testSite) do(method, path, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(w, r)
	return w
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) player.State {
	t.Helper()
	var st player.State
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("Failed to decode state: %v", err)
	}
	return st
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	return body
}

func TestGetTracks(t *testing.T) {
	t.Run("Catalog", func(t *testing.T) {
		site := newTestSite(t, 2, false, nil)
		w := site.do("GET", "/api/tracks", "")

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		if cc := w.Header().Get("Cache-Control"); cc != "public, max-age=3600" {
			t.Errorf("Unexpected Cache-Control %q", cc)
		}
		var tracks []models.Track
		if err := json.NewDecoder(w.Body).Decode(&tracks); err != nil {
			t.Fatalf("Failed to decode tracks: %v", err)
		}
		if len(tracks) != 2 || tracks[0].ID != "a" || tracks[1].Artist != models.DefaultArtist {
			t.Errorf("Unexpected tracks %+v", tracks)
		}
	})

	t.Run("EmptyCatalogIsArray", func(t *testing.T) {
		site := newTestSite(t, 0, false, nil)
		w := site.do("GET", "/api/tracks", "")

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		if body := strings.TrimSpace(w.Body.String()); body != "[]" {
			t.Errorf("Expected an empty array, got %s", body)
		}
	})

	t.Run("ProviderFailure", func(t *testing.T) {
		site := newTestSite(t, 1, false, nil)
		site.catalog.err = errors.New("airtable down")
		w := site.do("GET", "/api/tracks", "")

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("Expected 500, got %d", w.Code)
		}
		if body := strings.TrimSpace(w.Body.String()); body != `{"error":"Failed to fetch tracks"}` {
			t.Errorf("Unexpected error body %s", body)
		}
	})
}

func TestHomePage(t *testing.T) {
	t.Run("WithPlayer", func(t *testing.T) {
		site := newTestSite(t, 2, true, nil)
		w := site.do("GET", "/", "")

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		body := w.Body.String()
		for _, want := range []string{
			"Oliver Rau Owen Chida Family Tree",
			"Summer 1998",
			"Family Recipes",
			`src="/static/fam.jpg"`,
			`id="player"`,
			"Track a",
		} {
			if !strings.Contains(body, want) {
				t.Errorf("Expected page to contain %q", want)
			}
		}
	})

	t.Run("EmptyCatalogHidesPlayer", func(t *testing.T) {
		site := newTestSite(t, 0, true, nil)
		w := site.do("GET", "/", "")

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		if strings.Contains(w.Body.String(), `id="player"`) {
			t.Error("Expected no player widget for an empty catalog")
		}
	})

	t.Run("PlayerDisabled", func(t *testing.T) {
		site := newTestSite(t, 2, false, nil)
		w := site.do("GET", "/", "")

		if strings.Contains(w.Body.String(), `id="player"`) {
			t.Error("Expected no player widget when the player is disabled")
		}
		if w := site.do("GET", "/api/player/state", ""); w.Code != http.StatusNotFound {
			t.Errorf("Expected player routes to be absent, got %d", w.Code)
		}
	})

	t.Run("EscapesLinkNames", func(t *testing.T) {
		site := newTestSite(t, 0, false, nil)
		site.catalog.page.Links = []models.Link{{ID: "x", Name: "<script>alert(1)</script>", URL: "https://example.com", Category: models.CategoryLink}}
		w := site.do("GET", "/", "")

		if strings.Contains(w.Body.String(), "<script>alert(1)") {
			t.Error("Expected link names to be escaped")
		}
	})
}

func TestPlayerActions(t *testing.T) {
	t.Run("NextWhilePausedMovesSelection", func(t *testing.T) {
		site := newTestSite(t, 3, true, nil)

		w := site.do("POST", "/api/player/next", "")
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		st := decodeState(t, w)
		if st.CurrentTrackIndex == nil || *st.CurrentTrackIndex != 1 {
			t.Errorf("Expected index 1, got %v", st.CurrentTrackIndex)
		}
		if st.IsPlaying {
			t.Error("Expected next while paused not to start playback")
		}
	})

	t.Run("PlayThenStop", func(t *testing.T) {
		site := newTestSite(t, 2, true, nil)

		w := site.do("POST", "/api/player/play", "")
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if st := decodeState(t, w); !st.IsPlaying || st.Track == nil || st.Track.ID != "a" {
			t.Errorf("Expected track a playing, got %+v", st)
		}
		if n := site.player.ActiveSources(); n != 1 {
			t.Errorf("Expected one active source, got %d", n)
		}

		w = site.do("POST", "/api/player/stop", "")
		if st := decodeState(t, w); st.IsPlaying {
			t.Error("Expected stopped state")
		}
		if n := site.player.ActiveSources(); n != 0 {
			t.Errorf("Expected no active sources after stop, got %d", n)
		}
	})

	t.Run("ToggleTwice", func(t *testing.T) {
		site := newTestSite(t, 1, true, nil)

		if st := decodeState(t, site.do("POST", "/api/player/toggle", "")); !st.IsPlaying {
			t.Error("Expected first toggle to play")
		}
		if st := decodeState(t, site.do("POST", "/api/player/toggle", "")); st.IsPlaying {
			t.Error("Expected second toggle to pause")
		}
	})

	t.Run("UnknownAction", func(t *testing.T) {
		site := newTestSite(t, 1, true, nil)
		w := site.do("POST", "/api/player/rewind", "")

		if w.Code != http.StatusBadRequest {
			t.Fatalf("Expected 400, got %d", w.Code)
		}
		var result ValidationResult
		json.NewDecoder(w.Body).Decode(&result)
		if result.Valid || len(result.Errors) != 1 || result.Errors[0].Code != "UNKNOWN_ACTION" {
			t.Errorf("Unexpected validation result %+v", result)
		}
	})

	t.Run("EmptyCatalogConflict", func(t *testing.T) {
		site := newTestSite(t, 0, true, nil)
		w := site.do("POST", "/api/player/play", "")

		if w.Code != http.StatusConflict {
			t.Fatalf("Expected 409, got %d", w.Code)
		}
		body := decodeError(t, w)
		if body["success"] != false || body["error"] != "No tracks available" {
			t.Errorf("Unexpected error body %v", body)
		}
	})

	t.Run("WrongMethod", func(t *testing.T) {
		site := newTestSite(t, 1, true, nil)
		w := site.do("GET", "/api/player/next", "")

		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405, got %d", w.Code)
		}
	})
}

func TestVolumeAndMute(t *testing.T) {
	site := newTestSite(t, 1, true, nil)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		check      func(t *testing.T, st player.State)
	}{
		{
			name:       "set volume",
			path:       "/api/player/volume",
			body:       `{"volume": 0.25}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, st player.State) {
				if st.Volume != 0.25 {
					t.Errorf("Expected volume 0.25, got %v", st.Volume)
				}
			},
		},
		{
			name:       "volume out of range",
			path:       "/api/player/volume",
			body:       `{"volume": 2}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "volume missing",
			path:       "/api/player/volume",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "mute",
			path:       "/api/player/mute",
			body:       `{"muted": true}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, st player.State) {
				if !st.IsMuted || st.Volume != 0.25 {
					t.Errorf("Expected muted with volume kept, got %+v", st)
				}
			},
		},
		{
			name:       "toggle mute",
			path:       "/api/player/mute",
			body:       `{}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, st player.State) {
				if st.IsMuted {
					t.Error("Expected toggle to unmute")
				}
			},
		},
		{
			name:       "malformed mute body",
			path:       "/api/player/mute",
			body:       `{"muted": "yes"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := site.do("POST", tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.check != nil {
				tt.check(t, decodeState(t, w))
			}
		})
	}
}

func TestVisualizerImage(t *testing.T) {
	site := newTestSite(t, 1, true, nil)
	w := site.do("GET", "/api/player/visualizer.png", "")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Unexpected content type %q", ct)
	}
	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatalf("png.Decode() unexpected error: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 600 || b.Dy() != 50 {
		t.Errorf("Unexpected bounds %v", b)
	}
}

func TestArtworkNotFound(t *testing.T) {
	site := newTestSite(t, 1, true, nil)
	w := site.do("GET", "/api/player/artwork", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without a loaded track, got %d", w.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		site := newTestSite(t, 2, true, nil)
		w := site.do("GET", "/health", "")

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var health HealthStatus
		json.NewDecoder(w.Body).Decode(&health)
		if health.Status != "healthy" || health.Tracks != 2 || health.Player != "ok" || health.ActiveSources != 0 {
			t.Errorf("Unexpected health %+v", health)
		}
	})

	t.Run("CatalogDegraded", func(t *testing.T) {
		site := newTestSite(t, 1, false, nil)
		site.catalog.err = errors.New("airtable down")
		w := site.do("GET", "/health", "")

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200 for a degraded catalog, got %d", w.Code)
		}
		var health HealthStatus
		json.NewDecoder(w.Body).Decode(&health)
		if health.Status != "degraded" || health.Catalog != "error" || health.Player != "disabled" {
			t.Errorf("Unexpected health %+v", health)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("RequestIDGenerated", func(t *testing.T) {
		site := newTestSite(t, 0, false, nil)
		w := site.do("GET", "/health", "")

		if id := w.Header().Get(RequestIDHeader); len(id) != 36 {
			t.Errorf("Expected a generated request id, got %q", id)
		}
	})

	t.Run("RequestIDPropagated", func(t *testing.T) {
		site := newTestSite(t, 0, false, nil)
		r := httptest.NewRequest("GET", "/health", nil)
		r.Header.Set(RequestIDHeader, "abc-123")
		w := httptest.NewRecorder()
		site.server.Handler().ServeHTTP(w, r)

		if id := w.Header().Get(RequestIDHeader); id != "abc-123" {
			t.Errorf("Expected the caller's request id, got %q", id)
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		site := newTestSite(t, 1, true, func(cfg *config.Config) { cfg.Server.EnableCORS = true })
		w := site.do("OPTIONS", "/api/player/next", "")

		if w.Code != http.StatusNoContent {
			t.Errorf("Expected 204, got %d", w.Code)
		}
		if origin := w.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
			t.Errorf("Unexpected allow origin %q", origin)
		}
	})

	t.Run("CORSDisabled", func(t *testing.T) {
		site := newTestSite(t, 0, false, nil)
		w := site.do("GET", "/api/tracks", "")

		if origin := w.Header().Get("Access-Control-Allow-Origin"); origin != "" {
			t.Errorf("Expected no CORS header, got %q", origin)
		}
	})

	t.Run("PanicRecovery", func(t *testing.T) {
		site := newTestSite(t, 0, false, nil)
		h := site.server.panicRecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("Expected 500, got %d", w.Code)
		}
		if body := decodeError(t, w); body["error"] != "Internal server error" {
			t.Errorf("Unexpected body %v", body)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		site := newTestSite(t, 0, false, nil)
		w := site.do("GET", "/nope", "")

		if w.Code != http.StatusNotFound {
			t.Fatalf("Expected 404, got %d", w.Code)
		}
		if body := decodeError(t, w); body["code"] != float64(http.StatusNotFound) {
			t.Errorf("Unexpected body %v", body)
		}
	})
}

func TestPlayerSocket(t *testing.T) {
	site := newTestSite(t, 3, true, nil)
	srv := httptest.NewServer(site.server.Handler())
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/player", nil)
	if err != nil {
		t.Fatalf("Dial() unexpected error: %v", err)
	}
	defer conn.Close()

	readState := func(match func(st *player.State) bool) {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				t.Fatalf("ReadMessage() unexpected error: %v", err)
			}
			if kind != websocket.TextMessage {
				continue
			}
			var msg socketMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("Failed to decode message: %v", err)
			}
			if msg.Type == "state" && match(msg.State) {
				return
			}
		}
	}

	readState(func(st *player.State) bool { return st.TrackCount == 3 })

	if err := conn.WriteJSON(socketCommand{Action: "next"}); err != nil {
		t.Fatalf("WriteJSON() unexpected error: %v", err)
	}
	readState(func(st *player.State) bool {
		return st.CurrentTrackIndex != nil && *st.CurrentTrackIndex == 1
	})

	if err := conn.WriteJSON(socketCommand{Action: "play"}); err != nil {
		t.Fatalf("WriteJSON() unexpected error: %v", err)
	}
	readState(func(st *player.State) bool { return st.IsPlaying })

	t.Run("SpectrumFrames", func(t *testing.T) {
		site.clock.Tick(time.Now())

		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				t.Fatalf("Expected a binary frame, got error: %v", err)
			}
			if kind == websocket.BinaryMessage {
				if len(data) != 128 {
					t.Errorf("Expected 128 bins, got %d", len(data))
				}
				return
			}
		}
	})

	t.Run("InvalidCommand", func(t *testing.T) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
			t.Fatalf("WriteMessage() unexpected error: %v", err)
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				t.Fatalf("ReadMessage() unexpected error: %v", err)
			}
			if kind != websocket.TextMessage {
				continue
			}
			var msg socketMessage
			json.Unmarshal(data, &msg)
			if msg.Type == "error" {
				return
			}
		}
	})
}
