// Package playback owns the house player's audio: it fetches and decodes
// tracks, keeps at most one playback graph attached to the output, applies
// volume and mute, taps the signal for analysis and reports natural
// end-of-track. It also provides the track sequencer.
package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"familysite/internal/config"
	"familysite/internal/media"
	"familysite/pkg/models"

	"github.com/gopxl/beep/v2"
	"github.com/sirupsen/logrus"
)

// Status is a snapshot of the engine
type Status struct {
	Track    *models.Track
	Info     media.Info
	Playing  bool
	Volume   float64
	Muted    bool
	Position time.Duration
	Duration time.Duration
}

// Engine plays one track at a time. Transitions (load commit, play, pause,
// stop) are serialized; fetch and decode run outside that lock and their
// result is dropped when a newer transition was requested meanwhile.
type Engine struct {
	transition sync.Mutex

	mu       sync.RWMutex
	sink     Sink
	track    models.Track
	decoded  *Decoded
	graph    *graph
	playing  bool
	volume   float64
	muted    bool
	closed   bool
	session  uint64
	onEnded  func(models.Track)
	rate     beep.SampleRate
	loader   *Loader
	analyser *Analyser
	newSink  SinkFactory
	logger   *logrus.Logger

	loadSeq atomic.Uint64
	active  atomic.Int32
}

// NewEngine creates an engine. The output sink is opened on first Play and
// closed by Close.
func NewEngine(cfg config.PlayerConfig, analyser *Analyser, newSink SinkFactory, logger *logrus.Logger) *Engine {
	return &Engine{
		volume:   clampVolume(cfg.Volume),
		rate:     beep.SampleRate(cfg.SampleRate),
		loader:   NewLoader(time.Duration(cfg.FetchTimeout)*time.Second, cfg.MediaCacheEntries, logger),
		analyser: analyser,
		newSink:  newSink,
		logger:   logger,
	}
}

// Analyser returns the analyser fed by every playback graph
func (e *Engine) Analyser() *Analyser {
	return e.analyser
}

// OnTrackEnded registers the callback for natural end-of-track. It replaces
// any previous registration and runs at most once per playback session.
func (e *Engine) OnTrackEnded(fn func(models.Track)) {
	e.mu.Lock()
	e.onEnded = fn
	e.mu.Unlock()
}

// Load fetches and decodes track, replacing the current one. Any playing
// graph is released. Playback does not start.
func (e *Engine) Load(ctx context.Context, track models.Track) error {
	return e.load(ctx, track, false)
}

// PlayTrack loads track and starts it as one transition
func (e *Engine) PlayTrack(ctx context.Context, track models.Track) error {
	return e.load(ctx, track, true)
}

func (e *Engine) load(ctx context.Context, track models.Track, autoplay bool) error {
	if e.isClosed() {
		return ErrClosed
	}

	token := e.loadSeq.Add(1)
	decoded, err := e.loader.Load(ctx, track.SongURL, e.rate)

	e.transition.Lock()
	defer e.transition.Unlock()

	if e.loadSeq.Load() != token {
		e.logger.WithFields(logrus.Fields{
			"trackId": track.ID,
			"name":    track.Name,
		}).Debug("Discarding superseded load")
		return ErrSuperseded
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.teardownLocked()
	e.playing = false

	if err != nil {
		e.decoded = nil
		e.track = models.Track{}
		e.mu.Unlock()

		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			e.loader.Forget(track.SongURL)
		}
		e.logger.WithFields(logrus.Fields{
			"trackId": track.ID,
			"url":     track.SongURL,
			"error":   err.Error(),
		}).Warn("Failed to load track")
		return err
	}

	e.decoded = decoded
	e.track = track
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"trackId":  track.ID,
		"name":     track.Name,
		"duration": decoded.Duration(),
	}).Info("Loaded track")

	if !autoplay {
		return nil
	}
	return e.playLocked(ctx)
}

// Play starts or resumes output. It is a no-op while already playing.
func (e *Engine) Play(ctx context.Context) error {
	e.transition.Lock()
	defer e.transition.Unlock()
	return e.playLocked(ctx)
}

func (e *Engine) playLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.closed:
		return ErrClosed
	case e.playing:
		return nil
	case e.decoded == nil:
		return ErrNoTrack
	}

	if e.sink == nil {
		sink, err := e.newSink(e.rate)
		if err != nil {
			return fmt.Errorf("open audio output: %w", err)
		}
		e.sink = sink
	}

	if e.graph != nil {
		e.sink.Lock()
		e.graph.ctrl.Paused = false
		e.sink.Unlock()
	} else {
		e.session++
		g := newGraph(e.session, e.track, e.decoded, e.analyser, e.effectiveGainLocked(), func(g *graph) {
			// Runs on the output goroutine with the sink locked
			go e.handleEnded(g)
		})
		e.graph = g
		e.active.Add(1)
		e.sink.Play(g)
	}

	e.playing = true
	return nil
}

// Pause halts output and keeps the graph so Play resumes in place. A load in
// flight is abandoned.
func (e *Engine) Pause() {
	e.loadSeq.Add(1)

	e.transition.Lock()
	defer e.transition.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.graph != nil {
		e.sink.Lock()
		e.graph.ctrl.Paused = true
		e.sink.Unlock()
	}
	e.playing = false
}

// Stop halts output and releases the graph. Safe when nothing is playing.
func (e *Engine) Stop() {
	e.loadSeq.Add(1)

	e.transition.Lock()
	defer e.transition.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.teardownLocked()
	e.playing = false
}

// Close stops playback and releases the output context
func (e *Engine) Close() error {
	e.loadSeq.Add(1)

	e.transition.Lock()
	defer e.transition.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.teardownLocked()
	e.playing = false
	e.closed = true

	if e.sink == nil {
		return nil
	}
	err := e.sink.Close()
	e.sink = nil
	return err
}

// teardownLocked releases the current graph. Callers hold the transition
// lock and e.mu.
func (e *Engine) teardownLocked() {
	g := e.graph
	if g == nil {
		return
	}

	e.sink.Lock()
	g.released = true
	g.ctrl.Paused = true
	e.sink.Unlock()
	e.sink.Clear()

	e.graph = nil
	e.active.Add(-1)
	if e.analyser != nil {
		e.analyser.Reset()
	}

	e.logger.WithFields(logrus.Fields{
		"session": g.session,
		"trackId": g.track.ID,
	}).Debug("Released playback graph")
}

// handleEnded runs once the source of g is exhausted
func (e *Engine) handleEnded(g *graph) {
	e.transition.Lock()
	e.mu.Lock()
	if e.graph != g || g.ended {
		e.mu.Unlock()
		e.transition.Unlock()
		return
	}
	g.ended = true
	e.teardownLocked()
	e.playing = false
	callback := e.onEnded
	e.mu.Unlock()
	e.transition.Unlock()

	e.logger.WithFields(logrus.Fields{
		"session": g.session,
		"trackId": g.track.ID,
	}).Debug("Track ended")

	if callback != nil {
		callback(g.track)
	}
}

// SetVolume sets the stored volume, clamped to [0,1], and returns it
func (e *Engine) SetVolume(v float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = clampVolume(v)
	e.applyGainLocked()
	return e.volume
}

// SetMuted mutes or unmutes without changing the stored volume
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
	e.applyGainLocked()
}

// EffectiveGain returns the gain applied to the signal
func (e *Engine) EffectiveGain() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.effectiveGainLocked()
}

func (e *Engine) effectiveGainLocked() float64 {
	if e.muted {
		return 0
	}
	return e.volume
}

func (e *Engine) applyGainLocked() {
	if e.graph == nil {
		return
	}
	e.sink.Lock()
	e.graph.gain.Gain = gainOffset(e.effectiveGainLocked())
	e.sink.Unlock()
}

// ActiveSources returns the number of graphs attached to the output
func (e *Engine) ActiveSources() int {
	return int(e.active.Load())
}

// Status returns a snapshot of the engine
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Status{
		Playing: e.playing,
		Volume:  e.volume,
		Muted:   e.muted,
	}
	if e.decoded != nil {
		track := e.track
		st.Track = &track
		st.Info = e.decoded.Info
		st.Duration = e.decoded.Duration()
	}
	if e.graph != nil {
		e.sink.Lock()
		st.Position = e.rate.D(e.graph.source.Position())
		e.sink.Unlock()
	}
	return st
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

func clampVolume(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
