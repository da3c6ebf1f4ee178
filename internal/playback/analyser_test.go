package playback

import (
	"testing"

	"familysite/internal/media/mediatest"

	"github.com/gopxl/beep/v2"
)

func TestAnalyserBins(t *testing.T) {
	a := NewAnalyser(256, 0)

	if a.FFTSize() != 256 || a.FrequencyBinCount() != 128 {
		t.Fatalf("Unexpected sizes: fft=%d bins=%d", a.FFTSize(), a.FrequencyBinCount())
	}

	bins := make([]byte, a.FrequencyBinCount())
	if n := a.ByteFrequencyData(bins); n != 128 {
		t.Fatalf("Expected 128 bins written, got %d", n)
	}
	for i, v := range bins {
		if v != 0 {
			t.Fatalf("Expected silence to read as zero, bin %d = %d", i, v)
		}
	}
}

func TestAnalyserFindsTone(t *testing.T) {
	const rate = 44100
	a := NewAnalyser(256, 0)

	// 2 kHz lands in bin 2000 / (44100 / 256) = 11.6
	tone := a.Tap(beep.Take(1024, mediatest.Sine(rate, 2000, 0.5)))
	buf := make([][2]float64, 512)
	for {
		if _, ok := tone.Stream(buf); !ok {
			break
		}
	}

	bins := make([]byte, a.FrequencyBinCount())
	a.ByteFrequencyData(bins)

	peak := 0
	for i := range bins {
		if bins[i] > bins[peak] {
			peak = i
		}
	}
	if peak < 9 || peak > 14 {
		t.Errorf("Expected peak near bin 11, got bin %d (%v)", peak, bins[:20])
	}
	if bins[peak] < 200 {
		t.Errorf("Expected a strong peak, got %d", bins[peak])
	}

	a.Reset()
	a.ByteFrequencyData(bins)
	if bins[peak] != 0 {
		t.Errorf("Expected Reset to clear the spectrum, bin %d = %d", peak, bins[peak])
	}
}

func TestAnalyserSmoothing(t *testing.T) {
	a := NewAnalyser(256, 0.8)

	tone := a.Tap(beep.Take(256, mediatest.Sine(44100, 2000, 0.5)))
	buf := make([][2]float64, 256)
	tone.Stream(buf)

	bins := make([]byte, a.FrequencyBinCount())
	a.ByteFrequencyData(bins)
	first := bins[11]
	a.ByteFrequencyData(bins)
	second := bins[11]

	if second < first {
		t.Errorf("Expected smoothed magnitude to rise toward the steady value, got %d then %d", first, second)
	}
}

func TestAnalyserShortDestination(t *testing.T) {
	a := NewAnalyser(64, 0.5)
	dst := make([]byte, 8)
	if n := a.ByteFrequencyData(dst); n != 8 {
		t.Errorf("Expected 8 bins written, got %d", n)
	}
}
