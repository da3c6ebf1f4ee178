//go:build (linux && cgo) || windows || darwin

package playback

import (
	"fmt"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

// speakerSink plays through the system audio device
type speakerSink struct {
	rate beep.SampleRate
}

func openSpeaker(rate beep.SampleRate) (Sink, error) {
	if err := speaker.Init(rate, rate.N(100*time.Millisecond)); err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	return &speakerSink{rate: rate}, nil
}

func (s *speakerSink) SampleRate() beep.SampleRate { return s.rate }
func (s *speakerSink) Play(st beep.Streamer)      { speaker.Play(st) }
func (s *speakerSink) Clear()                     { speaker.Clear() }
func (s *speakerSink) Lock()                      { speaker.Lock() }
func (s *speakerSink) Unlock()                    { speaker.Unlock() }

func (s *speakerSink) Close() error {
	speaker.Clear()
	speaker.Close()
	return nil
}
