package playback

import (
	"familysite/pkg/models"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
)

// graph is one playback session: source, pause control, gain and analyser
// tap, followed by the end-of-track callback. It is handed to the sink as a
// single streamer and goes silent for good once released.
type graph struct {
	session uint64
	track   models.Track

	source beep.StreamSeeker
	ctrl   *beep.Ctrl
	gain   *effects.Gain
	out    beep.Streamer

	// tapped is set when the chain feeds an analyser
	tapped bool

	// released is guarded by the sink lock
	released bool
	// ended is guarded by the engine mutex
	ended bool
}

func newGraph(session uint64, track models.Track, decoded *Decoded, analyser *Analyser, gain float64, onEnd func(*graph)) *graph {
	g := &graph{
		session: session,
		track:   track,
		source:  decoded.Buffer.Streamer(0, decoded.Buffer.Len()),
	}
	g.ctrl = &beep.Ctrl{Streamer: g.source, Paused: false}
	g.gain = &effects.Gain{Streamer: g.ctrl, Gain: gainOffset(gain)}

	var chain beep.Streamer = g.gain
	if analyser != nil {
		chain = analyser.Tap(chain)
		g.tapped = true
	}

	g.out = beep.Seq(chain, beep.Callback(func() {
		onEnd(g)
	}))
	return g
}

// Stream implements beep.Streamer
func (g *graph) Stream(samples [][2]float64) (int, bool) {
	if g.released {
		return 0, false
	}
	return g.out.Stream(samples)
}

// Err implements beep.Streamer
func (g *graph) Err() error {
	return g.out.Err()
}

// gainOffset converts a linear gain to the offset effects.Gain expects
func gainOffset(v float64) float64 {
	return v - 1
}
