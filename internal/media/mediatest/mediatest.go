// Package mediatest generates small audio payloads for tests
package mediatest

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
)

// Sine returns a stereo sine streamer at freq Hz and the given amplitude
func Sine(sr beep.SampleRate, freq, amplitude float64) beep.Streamer {
	pos := 0
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			v := amplitude * math.Sin(2*math.Pi*freq*float64(pos)/float64(sr))
			samples[i][0], samples[i][1] = v, v
			pos++
		}
		return len(samples), true
	})
}

// WAV encodes d of a 440 Hz tone as 16-bit stereo WAV at sample rate sr
func WAV(tb testing.TB, d time.Duration, sr int) []byte {
	tb.Helper()

	format := beep.Format{SampleRate: beep.SampleRate(sr), NumChannels: 2, Precision: 2}
	path := filepath.Join(tb.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		tb.Fatalf("create wav: %v", err)
	}

	tone := beep.Take(format.SampleRate.N(d), Sine(format.SampleRate, 440, 0.5))
	if err := wav.Encode(f, tone, format); err != nil {
		f.Close()
		tb.Fatalf("encode wav: %v", err)
	}
	if err := f.Close(); err != nil {
		tb.Fatalf("close wav: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		tb.Fatalf("read wav: %v", err)
	}
	return data
}
