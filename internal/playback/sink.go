package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
)

// Sink is the audio output context. Lock and Unlock guard streamer state
// against the output goroutine.
type Sink interface {
	SampleRate() beep.SampleRate
	Play(s beep.Streamer)
	Clear()
	Lock()
	Unlock()
	Close() error
}

// SinkFactory opens an output context at the given rate
type SinkFactory func(rate beep.SampleRate) (Sink, error)

// NewSinkFactory returns the factory for a configured output name
func NewSinkFactory(output string) (SinkFactory, error) {
	switch output {
	case "speaker":
		return openSpeaker, nil
	case "clock":
		return func(rate beep.SampleRate) (Sink, error) {
			return NewClockSink(rate, 10*time.Millisecond), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown audio output %q", output)
	}
}

// MixerSink mixes streamers without an audio device. Samples are pulled by
// Pump, either from tests or from the clock goroutine.
type MixerSink struct {
	mu      sync.Mutex
	rate    beep.SampleRate
	mixer   beep.Mixer
	scratch [][2]float64

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewMixerSink creates a sink that only advances when pumped
func NewMixerSink(rate beep.SampleRate) *MixerSink {
	return &MixerSink{rate: rate}
}

// NewClockSink creates a sink that consumes samples in real time
func NewClockSink(rate beep.SampleRate, chunk time.Duration) *MixerSink {
	s := NewMixerSink(rate)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(chunk)
	return s
}

func (s *MixerSink) run(chunk time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(chunk)
	defer ticker.Stop()

	n := s.rate.N(chunk)
	for {
		select {
		case <-ticker.C:
			s.Pump(n)
		case <-s.stop:
			return
		}
	}
}

// SampleRate returns the output rate
func (s *MixerSink) SampleRate() beep.SampleRate {
	return s.rate
}

// Play adds a streamer to the mix
func (s *MixerSink) Play(st beep.Streamer) {
	s.mu.Lock()
	s.mixer.Add(st)
	s.mu.Unlock()
}

// Clear removes every streamer
func (s *MixerSink) Clear() {
	s.mu.Lock()
	s.mixer.Clear()
	s.mu.Unlock()
}

func (s *MixerSink) Lock() {
	s.mu.Lock()
}

func (s *MixerSink) Unlock() {
	s.mu.Unlock()
}

// Pump streams n samples through the mix and discards them
func (s *MixerSink) Pump(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cap(s.scratch) < n {
		s.scratch = make([][2]float64, n)
	}
	s.mixer.Stream(s.scratch[:n])
}

// Streamers returns the number of streamers still in the mix
func (s *MixerSink) Streamers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mixer.Len()
}

// Close stops the clock goroutine, if any, and clears the mix
func (s *MixerSink) Close() error {
	s.once.Do(func() {
		if s.stop != nil {
			close(s.stop)
			<-s.done
		}
		s.Clear()
	})
	return nil
}
