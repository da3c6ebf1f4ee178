package playback

import (
	"math"
	"math/cmplx"
	"sync"

	"github.com/gopxl/beep/v2"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Decibel range mapped onto 0..255, matching the browser analyser defaults
const (
	minDecibels = -100.0
	maxDecibels = -30.0
)

// Analyser exposes frequency magnitudes of the most recent fftSize samples
// that passed through its tap. It never modifies the signal.
type Analyser struct {
	mu        sync.Mutex
	fftSize   int
	smoothing float64

	ring []float64
	pos  int

	fft      *fourier.FFT
	windowed []float64
	coeffs   []complex128
	smoothed []float64
}

// NewAnalyser creates an analyser. fftSize must be a power of two and
// smoothing is the time constant in [0,1).
func NewAnalyser(fftSize int, smoothing float64) *Analyser {
	return &Analyser{
		fftSize:   fftSize,
		smoothing: smoothing,
		ring:      make([]float64, fftSize),
		fft:       fourier.NewFFT(fftSize),
		windowed:  make([]float64, fftSize),
		coeffs:    make([]complex128, fftSize/2+1),
		smoothed:  make([]float64, fftSize/2),
	}
}

// FFTSize returns the analysis window length in samples
func (a *Analyser) FFTSize() int {
	return a.fftSize
}

// FrequencyBinCount returns the number of bins, half the FFT size
func (a *Analyser) FrequencyBinCount() int {
	return a.fftSize / 2
}

// ByteFrequencyData fills dst with the current magnitudes scaled to 0..255
// and returns the number of bins written
func (a *Analyser) ByteFrequencyData(dst []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Oldest sample first
	for i := 0; i < a.fftSize; i++ {
		a.windowed[i] = a.ring[(a.pos+i)%a.fftSize]
	}
	window.Blackman(a.windowed)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.windowed)

	n := min(len(dst), len(a.smoothed))
	scale := 1 / float64(a.fftSize)
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeffs[k]) * scale
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		if k < n {
			dst[k] = toByte(a.smoothed[k])
		}
	}
	return n
}

// Reset forgets captured samples and smoothing history
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.ring)
	clear(a.smoothed)
	a.pos = 0
}

// Tap wraps s so that everything it streams is captured by the analyser
func (a *Analyser) Tap(s beep.Streamer) beep.Streamer {
	return &tap{s: s, a: a}
}

func (a *Analyser) capture(samples [][2]float64) {
	a.mu.Lock()
	for i := range samples {
		a.ring[a.pos] = (samples[i][0] + samples[i][1]) / 2
		a.pos = (a.pos + 1) % a.fftSize
	}
	a.mu.Unlock()
}

func toByte(mag float64) byte {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return byte(v)
	}
}

// tap copies a mono mix of the streamed samples into the analyser
type tap struct {
	s beep.Streamer
	a *Analyser
}

func (t *tap) Stream(samples [][2]float64) (int, bool) {
	n, ok := t.s.Stream(samples)
	t.a.capture(samples[:n])
	return n, ok
}

func (t *tap) Err() error {
	return t.s.Err()
}
