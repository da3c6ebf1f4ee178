// Package visualizer paints the analyser's frequency bins as bars, one frame
// per clock refresh, while playback is running.
package visualizer

import (
	"image/color"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Source provides frequency magnitudes scaled to 0..255
type Source interface {
	FrequencyBinCount() int
	ByteFrequencyData(dst []byte) int
}

// Frame is one painted frame's bins
type Frame struct {
	Bins []byte
	Time time.Time
}

// Visualizer runs the render loop. No state is kept between Stop and Start
// apart from the canvas.
type Visualizer struct {
	clock  FrameClock
	logger *logrus.Logger

	mu         sync.Mutex
	active     bool
	generation uint64
	frame      FrameID
	source     Source
	canvas     Canvas
	frames     uint64

	listenerMu   sync.RWMutex
	listeners    map[int]func(Frame)
	nextListener int
}

// New creates a visualizer driven by clock
func New(clock FrameClock, logger *logrus.Logger) *Visualizer {
	return &Visualizer{
		clock:     clock,
		logger:    logger,
		listeners: make(map[int]func(Frame)),
	}
}

// Start begins painting source onto canvas every frame. Starting while
// active restarts the loop with the new source and canvas.
func (v *Visualizer) Start(source Source, canvas Canvas) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.active {
		v.clock.CancelFrame(v.frame)
	}
	v.generation++
	v.active = true
	v.source = source
	v.canvas = canvas

	gen := v.generation
	v.frame = v.clock.RequestFrame(func(t time.Time) { v.render(gen, t) })

	v.logger.WithField("bins", source.FrequencyBinCount()).Debug("Visualizer started")
}

// Stop cancels the pending frame. No frame is painted after Stop returns.
func (v *Visualizer) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.active {
		return
	}
	v.clock.CancelFrame(v.frame)
	v.generation++
	v.active = false
	v.source = nil
	v.canvas = nil

	v.logger.WithField("frames", v.frames).Debug("Visualizer stopped")
}

// Active reports whether the loop is running
func (v *Visualizer) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

// Frames returns the number of frames painted since creation
func (v *Visualizer) Frames() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frames
}

// AddListener registers fn to receive every painted frame and returns a
// function that removes it
func (v *Visualizer) AddListener(fn func(Frame)) func() {
	v.listenerMu.Lock()
	defer v.listenerMu.Unlock()

	id := v.nextListener
	v.nextListener++
	v.listeners[id] = fn

	return func() {
		v.listenerMu.Lock()
		delete(v.listeners, id)
		v.listenerMu.Unlock()
	}
}

func (v *Visualizer) render(gen uint64, t time.Time) {
	v.mu.Lock()
	if !v.active || v.generation != gen {
		v.mu.Unlock()
		return
	}

	bins := make([]byte, v.source.FrequencyBinCount())
	v.source.ByteFrequencyData(bins)
	Paint(v.canvas, bins)
	v.frames++
	v.frame = v.clock.RequestFrame(func(t time.Time) { v.render(gen, t) })
	v.mu.Unlock()

	v.listenerMu.RLock()
	defer v.listenerMu.RUnlock()
	for _, fn := range v.listeners {
		fn(Frame{Bins: bins, Time: t})
	}
}

// Paint draws bins as bars over a black background. Bars are 1.5 bins wide
// with a one pixel gap, so the top of the spectrum runs off the right edge.
func Paint(canvas Canvas, bins []byte) {
	width, height := canvas.Size()
	canvas.Fill(color.Black)
	if len(bins) == 0 {
		return
	}

	w := float64(width)
	h := float64(height)
	barWidth := w / float64(len(bins)) * 1.5
	x := 0.0

	for i, b := range bins {
		if x >= w {
			break
		}
		barHeight := float64(b) / 255 * h
		hue := float64(i)/float64(len(bins))*30 + 180
		saturation := 10 + barHeight/h*20
		lightness := 70 + barHeight/h*20

		canvas.FillRect(x, h-barHeight, barWidth, barHeight, HSL(hue, saturation, lightness))
		x += barWidth + 1
	}
}
