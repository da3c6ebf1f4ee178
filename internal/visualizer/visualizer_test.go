package visualizer

import (
	"bytes"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"familysite/internal/logging"
)

type fixedSource struct {
	mu    sync.Mutex
	bins  []byte
	reads int
}

func (s *fixedSource) FrequencyBinCount() int { return len(s.bins) }

func (s *fixedSource) ByteFrequencyData(dst []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	return copy(dst, s.bins)
}

func (s *fixedSource) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func isBlack(c color.RGBA) bool {
	return c.R == 0 && c.G == 0 && c.B == 0
}

func TestRenderLoop(t *testing.T) {
	clock := NewManualClock()
	v := New(clock, logging.Discard())
	canvas := NewImageCanvas(60, 10)
	source := &fixedSource{bins: []byte{255, 0, 128, 0}}

	v.Start(source, canvas)
	if clock.Pending() != 1 {
		t.Fatalf("Expected one pending frame after Start, got %d", clock.Pending())
	}

	for i := 0; i < 3; i++ {
		if ran := clock.Tick(time.Now()); ran != 1 {
			t.Fatalf("Tick %d ran %d callbacks", i, ran)
		}
	}
	if v.Frames() != 3 || source.readCount() != 3 {
		t.Errorf("Expected 3 frames and reads, got %d / %d", v.Frames(), source.readCount())
	}

	// Bin 0 is full height, bin 1 is empty
	if isBlack(canvas.At(0, 0)) {
		t.Error("Expected the full-height bar to reach the top")
	}
	barWidth := 60.0 / 4 * 1.5
	if c := canvas.At(int(barWidth)+3, 9); !isBlack(c) {
		t.Errorf("Expected no bar for an empty bin, got %v", c)
	}

	v.Stop()
	if clock.Pending() != 0 {
		t.Errorf("Expected Stop to cancel the pending frame, %d left", clock.Pending())
	}
	clock.Tick(time.Now())
	if v.Frames() != 3 {
		t.Errorf("Expected no frames after Stop, got %d", v.Frames())
	}
	if v.Active() {
		t.Error("Expected inactive after Stop")
	}
}

func TestStaleFrameIsIgnored(t *testing.T) {
	clock := NewManualClock()
	v := New(clock, logging.Discard())
	source := &fixedSource{bins: []byte{10, 20}}

	v.Start(source, NewImageCanvas(10, 10))
	stale := clock.pending
	clock.pending = make(map[FrameID]func(time.Time))

	// Restart, then fire the callback captured from the first run
	v.Stop()
	v.Start(source, NewImageCanvas(10, 10))
	for _, fn := range stale {
		fn(time.Now())
	}
	if v.Frames() != 0 {
		t.Errorf("Expected stale callback to paint nothing, got %d frames", v.Frames())
	}

	clock.Tick(time.Now())
	if v.Frames() != 1 {
		t.Errorf("Expected current loop to paint, got %d frames", v.Frames())
	}
}

func TestRestartKeepsOneLoop(t *testing.T) {
	clock := NewManualClock()
	v := New(clock, logging.Discard())
	source := &fixedSource{bins: []byte{1}}
	canvas := NewImageCanvas(10, 10)

	v.Start(source, canvas)
	v.Start(source, canvas)
	v.Start(source, canvas)
	if clock.Pending() != 1 {
		t.Errorf("Expected one pending frame, got %d", clock.Pending())
	}
	v.Stop()
	v.Stop()
}

func TestListeners(t *testing.T) {
	clock := NewManualClock()
	v := New(clock, logging.Discard())

	var got [][]byte
	remove := v.AddListener(func(f Frame) { got = append(got, f.Bins) })

	v.Start(&fixedSource{bins: []byte{7, 8, 9}}, NewImageCanvas(10, 10))
	clock.Tick(time.Now())
	remove()
	clock.Tick(time.Now())

	if len(got) != 1 || !bytes.Equal(got[0], []byte{7, 8, 9}) {
		t.Errorf("Expected one frame with the source bins, got %v", got)
	}
}

func TestTickerClockLoop(t *testing.T) {
	clock := NewTickerClock(200)
	v := New(clock, logging.Discard())
	source := &fixedSource{bins: []byte{100, 200}}

	v.Start(source, NewImageCanvas(20, 10))

	deadline := time.Now().Add(2 * time.Second)
	for v.Frames() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected frames from the ticker clock, got %d", v.Frames())
		}
		time.Sleep(5 * time.Millisecond)
	}

	v.Stop()
	frames := v.Frames()
	time.Sleep(50 * time.Millisecond)
	if v.Frames() != frames {
		t.Errorf("Expected no frames after Stop, went from %d to %d", frames, v.Frames())
	}
	if clock.Pending() != 0 {
		t.Errorf("Expected no pending timers, got %d", clock.Pending())
	}
}

func TestPaintColors(t *testing.T) {
	canvas := NewImageCanvas(4, 10)
	Paint(canvas, []byte{255})

	// A full bar gets hue 180, saturation 30%, lightness 90%
	want := HSL(180, 30, 90)
	if got := canvas.At(0, 0); got != want {
		t.Errorf("Expected %v, got %v", want, got)
	}

	Paint(canvas, nil)
	if !isBlack(canvas.At(0, 9)) {
		t.Error("Expected an empty frame to clear the canvas")
	}
}

func TestHSL(t *testing.T) {
	testCases := []struct {
		h, s, l float64
		want    color.RGBA
	}{
		{0, 100, 50, color.RGBA{255, 0, 0, 255}},
		{120, 100, 50, color.RGBA{0, 255, 0, 255}},
		{240, 100, 50, color.RGBA{0, 0, 255, 255}},
		{180, 0, 100, color.RGBA{255, 255, 255, 255}},
		{200, 50, 0, color.RGBA{0, 0, 0, 255}},
		{540, 100, 50, color.RGBA{0, 255, 255, 255}},
	}

	for _, tc := range testCases {
		if got := HSL(tc.h, tc.s, tc.l); got != tc.want {
			t.Errorf("HSL(%v, %v, %v) = %v, want %v", tc.h, tc.s, tc.l, got, tc.want)
		}
	}
}

func TestWritePNG(t *testing.T) {
	canvas := NewImageCanvas(600, 50)
	Paint(canvas, []byte{50, 100, 150, 200})

	var buf bytes.Buffer
	if err := canvas.WritePNG(&buf); err != nil {
		t.Fatalf("WritePNG() unexpected error: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("png.Decode() unexpected error: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 600 || b.Dy() != 50 {
		t.Errorf("Unexpected bounds %v", b)
	}
}
