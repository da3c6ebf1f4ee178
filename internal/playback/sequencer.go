package playback

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// Policy selects how the next and previous tracks are chosen
type Policy string

const (
	Sequential     Policy = "sequential"
	RandomNoRepeat Policy = "shuffle"
)

// InitialPolicy selects the track shown when the catalog is first loaded
type InitialPolicy string

const (
	InitialFirst  InitialPolicy = "first"
	InitialRandom InitialPolicy = "random"
)

// ParsePolicy parses a configured order
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case Sequential:
		return Sequential, nil
	case RandomNoRepeat, "random":
		return RandomNoRepeat, nil
	default:
		return "", fmt.Errorf("unknown playback order %q", s)
	}
}

// ParseInitialPolicy parses a configured initial track policy
func ParseInitialPolicy(s string) (InitialPolicy, error) {
	switch InitialPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case InitialFirst:
		return InitialFirst, nil
	case InitialRandom:
		return InitialRandom, nil
	default:
		return "", fmt.Errorf("unknown initial track policy %q", s)
	}
}

// Sequencer computes track indices. It holds only its random source.
type Sequencer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSequencer creates a sequencer. A nil rng uses a time-seeded source.
func NewSequencer(rng *rand.Rand) *Sequencer {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &Sequencer{rng: rng}
}

// Next returns the index after current. With nothing selected (current < 0)
// the sequential order starts at the first track.
func (s *Sequencer) Next(current, count int, policy Policy) (int, error) {
	if count <= 0 {
		return 0, ErrEmptyCatalog
	}
	if policy == RandomNoRepeat {
		return s.reroll(current, count), nil
	}
	if current < 0 {
		return 0, nil
	}
	return (clamp(current, count) + 1) % count, nil
}

// Previous returns the index before current
func (s *Sequencer) Previous(current, count int, policy Policy) (int, error) {
	if count <= 0 {
		return 0, ErrEmptyCatalog
	}
	if policy == RandomNoRepeat {
		return s.reroll(current, count), nil
	}
	if current < 0 {
		return 0, nil
	}
	return (clamp(current, count) - 1 + count) % count, nil
}

// Initial returns the index selected when tracks are first loaded
func (s *Sequencer) Initial(count int, policy InitialPolicy) (int, error) {
	if count <= 0 {
		return 0, ErrEmptyCatalog
	}
	if policy == InitialRandom {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.rng.IntN(count), nil
	}
	return 0, nil
}

// reroll samples until the index differs from current
func (s *Sequencer) reroll(current, count int) int {
	if count <= 1 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if i := s.rng.IntN(count); i != current {
			return i
		}
	}
}

// clamp keeps a stale index inside the catalog after it shrank
func clamp(current, count int) int {
	if current < 0 {
		return 0
	}
	if current >= count {
		return count - 1
	}
	return current
}
