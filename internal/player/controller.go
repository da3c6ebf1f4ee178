// Package player is the house player controller. It turns user intents from
// the page widget into engine transitions, tracks the selected track and
// publishes state to subscribers.
package player

import (
	"context"
	"errors"
	"sync"

	"familysite/internal/config"
	"familysite/internal/playback"
	"familysite/internal/visualizer"
	"familysite/pkg/models"

	"github.com/sirupsen/logrus"
)

// Engine is the playback engine the controller drives
type Engine interface {
	PlayTrack(ctx context.Context, track models.Track) error
	Play(ctx context.Context) error
	Pause()
	Stop()
	SetVolume(v float64) float64
	SetMuted(muted bool)
	EffectiveGain() float64
	OnTrackEnded(fn func(models.Track))
	Status() playback.Status
	Analyser() *playback.Analyser
	ActiveSources() int
	Close() error
}

// Catalog supplies the playlist. Failures are already degraded to an empty
// list.
type Catalog interface {
	Playlist(ctx context.Context) []models.Track
}

// Controller owns the selection and forwards intents to the engine
type Controller struct {
	engine  Engine
	catalog Catalog
	seq     *playback.Sequencer
	order   playback.Policy
	initial playback.InitialPolicy
	vis     *visualizer.Visualizer
	canvas  *visualizer.ImageCanvas
	state   *StateManager
	logger  *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// commit serializes publishing playback outcomes against Pause and Stop
	commit sync.Mutex

	mu        sync.Mutex
	tracks    []models.Track
	index     int
	selection uint64
}

// NewController creates a controller and registers for end-of-track
func NewController(cfg config.PlayerConfig, engine Engine, catalog Catalog, seq *playback.Sequencer, vis *visualizer.Visualizer, canvas *visualizer.ImageCanvas, logger *logrus.Logger) (*Controller, error) {
	order, err := playback.ParsePolicy(cfg.Order)
	if err != nil {
		return nil, err
	}
	initial, err := playback.ParseInitialPolicy(cfg.InitialTrack)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		engine:  engine,
		catalog: catalog,
		seq:     seq,
		order:   order,
		initial: initial,
		vis:     vis,
		canvas:  canvas,
		state:   NewStateManager(engine.SetVolume(cfg.Volume), string(order)),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		index:   -1,
	}
	engine.OnTrackEnded(c.handleTrackEnded)
	return c, nil
}

// Refresh reloads the playlist. The current track is kept when it is still
// in the catalog; otherwise playback stops and the initial track is selected.
func (c *Controller) Refresh(ctx context.Context) int {
	tracks := c.catalog.Playlist(ctx)

	c.commit.Lock()
	defer c.commit.Unlock()

	c.mu.Lock()
	var currentID string
	if c.index >= 0 && c.index < len(c.tracks) {
		currentID = c.tracks[c.index].ID
	}
	c.tracks = tracks

	kept := false
	for i, t := range tracks {
		if currentID != "" && t.ID == currentID {
			c.index = i
			kept = true
			break
		}
	}
	if !kept {
		c.index = -1
		if i, err := c.seq.Initial(len(tracks), c.initial); err == nil {
			c.index = i
		}
		c.selection++
	}
	c.mu.Unlock()

	if !kept && currentID != "" {
		c.engine.Stop()
		c.vis.Stop()
	}

	c.publish(func(s *State) {
		if !kept {
			s.IsPlaying = false
			s.IsLoading = false
		}
		s.Error = ""
	})

	c.logger.WithFields(logrus.Fields{
		"tracks":  len(tracks),
		"initial": c.initial,
	}).Info("Playlist loaded")
	return len(tracks)
}

// Tracks returns the playlist
func (c *Controller) Tracks() []models.Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Track, len(c.tracks))
	copy(out, c.tracks)
	return out
}

// State returns the current state with the playback position filled in
func (c *Controller) State() *State {
	st := c.state.GetState()
	status := c.engine.Status()
	if st.Track != nil && status.Track != nil && status.Track.ID == st.Track.ID {
		st.CurrentTime = status.Position.Seconds()
		st.TotalDuration = status.Duration.Seconds()
		st.HasArtwork = status.Info.HasArtwork()
	}
	return st
}

// Artwork returns the embedded picture of the loaded track, if it is the
// selected one
func (c *Controller) Artwork() ([]byte, bool) {
	st := c.state.GetState()
	status := c.engine.Status()
	if st.Track == nil || status.Track == nil || status.Track.ID != st.Track.ID || !status.Info.HasArtwork() {
		return nil, false
	}
	return status.Info.Artwork, true
}

// Subscribe returns a channel receiving every state change
func (c *Controller) Subscribe() <-chan *State {
	return c.state.Subscribe()
}

// Unsubscribe removes a subscription
func (c *Controller) Unsubscribe(ch <-chan *State) {
	c.state.Unsubscribe(ch)
}

// Canvas returns the visualizer canvas
func (c *Controller) Canvas() *visualizer.ImageCanvas {
	return c.canvas
}

// Visualizer returns the visualizer
func (c *Controller) Visualizer() *visualizer.Visualizer {
	return c.vis
}

// ActiveSources reports the engine's attached sources
func (c *Controller) ActiveSources() int {
	return c.engine.ActiveSources()
}

// Play starts the selected track, resuming it if it is already loaded
func (c *Controller) Play(ctx context.Context) error {
	ctx, done := c.detach(ctx)
	defer done()

	c.mu.Lock()
	if len(c.tracks) == 0 {
		c.mu.Unlock()
		return playback.ErrEmptyCatalog
	}
	track := c.tracks[c.index]
	token := c.selection
	c.mu.Unlock()

	if status := c.engine.Status(); status.Track != nil && status.Track.ID == track.ID {
		if err := c.engine.Play(ctx); err != nil {
			return c.fail(token, err)
		}
		c.started(token)
		return nil
	}
	return c.start(ctx, token, track)
}

// Pause halts output and keeps the position
func (c *Controller) Pause() error {
	c.commit.Lock()
	defer c.commit.Unlock()

	if !c.supersede() {
		return playback.ErrEmptyCatalog
	}
	c.engine.Pause()
	c.vis.Stop()
	c.publish(func(s *State) {
		s.IsPlaying = false
		s.IsLoading = false
	})
	return nil
}

// TogglePlay plays when paused and pauses when playing
func (c *Controller) TogglePlay(ctx context.Context) error {
	if st := c.state.GetState(); st.IsPlaying || st.IsLoading {
		return c.Pause()
	}
	return c.Play(ctx)
}

// Stop halts output and releases the audio graph
func (c *Controller) Stop() error {
	c.commit.Lock()
	defer c.commit.Unlock()

	if !c.supersede() {
		return playback.ErrEmptyCatalog
	}
	c.engine.Stop()
	c.vis.Stop()
	c.publish(func(s *State) {
		s.IsPlaying = false
		s.IsLoading = false
	})
	return nil
}

// Next selects the next track. While playing the new track starts, while
// paused only the selection moves.
func (c *Controller) Next(ctx context.Context) error {
	return c.step(ctx, c.seq.Next)
}

// Previous selects the previous track, like Next
func (c *Controller) Previous(ctx context.Context) error {
	return c.step(ctx, c.seq.Previous)
}

func (c *Controller) step(ctx context.Context, move func(current, count int, policy playback.Policy) (int, error)) error {
	st := c.state.GetState()
	playing := st.IsPlaying || st.IsLoading

	c.mu.Lock()
	index, err := move(c.index, len(c.tracks), c.order)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.index = index
	c.selection++
	token := c.selection
	track := c.tracks[index]
	c.mu.Unlock()

	c.publish(nil)

	if !playing {
		return nil
	}
	ctx, done := c.detach(ctx)
	defer done()
	return c.start(ctx, token, track)
}

// SetVolume sets the volume, clamped to [0,1], and returns it
func (c *Controller) SetVolume(v float64) float64 {
	v = c.engine.SetVolume(v)
	c.publish(func(s *State) { s.Volume = v })
	return v
}

// SetMuted mutes or unmutes
func (c *Controller) SetMuted(muted bool) {
	c.engine.SetMuted(muted)
	c.publish(func(s *State) { s.IsMuted = muted })
}

// ToggleMute flips the mute state and returns the new value
func (c *Controller) ToggleMute() bool {
	muted := !c.state.GetState().IsMuted
	c.SetMuted(muted)
	return muted
}

// Close stops playback and releases the engine
func (c *Controller) Close() error {
	c.cancel()
	c.vis.Stop()
	return c.engine.Close()
}

// start loads and plays track for the selection token
func (c *Controller) start(ctx context.Context, token uint64, track models.Track) error {
	c.publish(func(s *State) { s.IsLoading = true })

	err := c.engine.PlayTrack(ctx, track)
	if errors.Is(err, playback.ErrSuperseded) || c.stale(token) {
		// A newer intent owns the state
		return nil
	}
	if err != nil {
		return c.fail(token, err)
	}
	c.started(token)
	return nil
}

func (c *Controller) started(token uint64) {
	c.commit.Lock()
	defer c.commit.Unlock()

	if c.stale(token) {
		return
	}
	c.vis.Start(c.engine.Analyser(), c.canvas)
	c.publish(func(s *State) {
		s.IsPlaying = true
		s.IsLoading = false
		s.Error = ""
	})
}

// fail leaves the selection in place and the player paused
func (c *Controller) fail(token uint64, err error) error {
	c.logger.WithError(err).Warn("Playback failed")

	c.commit.Lock()
	defer c.commit.Unlock()

	if c.stale(token) {
		return err
	}
	c.vis.Stop()
	c.publish(func(s *State) {
		s.IsPlaying = false
		s.IsLoading = false
		s.Error = err.Error()
	})
	return err
}

// handleTrackEnded advances after natural completion of the selected track
func (c *Controller) handleTrackEnded(ended models.Track) {
	c.mu.Lock()
	if len(c.tracks) == 0 || c.tracks[c.index].ID != ended.ID {
		c.mu.Unlock()
		return
	}
	index, err := c.seq.Next(c.index, len(c.tracks), c.order)
	if err != nil {
		c.mu.Unlock()
		return
	}
	c.index = index
	c.selection++
	token := c.selection
	track := c.tracks[index]
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"ended": ended.ID,
		"next":  track.ID,
	}).Debug("Advancing to next track")

	c.publish(nil)
	// Failures are logged and published by fail
	_ = c.start(c.ctx, token, track)
}

// publish copies the selection into the state, applies fn and notifies
func (c *Controller) publish(fn func(s *State)) {
	c.mu.Lock()
	count := len(c.tracks)
	var (
		track *models.Track
		index *int
	)
	if c.index >= 0 && c.index < count {
		t := c.tracks[c.index]
		i := c.index
		track, index = &t, &i
	}
	c.mu.Unlock()

	c.state.Update(func(s *State) {
		s.Track = track
		s.CurrentTrackIndex = index
		s.TrackCount = count
		if fn != nil {
			fn(s)
		}
	})
}

// detach keeps the values of ctx but ties cancellation to the controller
// lifetime instead of the caller's
func (c *Controller) detach(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *Controller) stale(token uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return token != c.selection
}

// supersede invalidates transitions in flight. It reports false when there
// is nothing to control.
func (c *Controller) supersede() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tracks) == 0 {
		return false
	}
	c.selection++
	return true
}
