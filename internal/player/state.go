package player

import (
	"sync"
	"time"

	"familysite/pkg/models"
)

// State is the player state shown by the page widget
type State struct {
	Track             *models.Track `json:"track,omitempty"`
	CurrentTrackIndex *int          `json:"currentTrackIndex"` // null when the catalog is empty
	TrackCount        int           `json:"trackCount"`
	IsPlaying         bool          `json:"isPlaying"`
	IsLoading         bool          `json:"isLoading"`
	CurrentTime       float64       `json:"currentTime"`   // in seconds
	TotalDuration     float64       `json:"totalDuration"` // in seconds
	Volume            float64       `json:"volume"`        // 0.0 to 1.0
	IsMuted           bool          `json:"isMuted"`
	Order             string        `json:"order"`
	HasArtwork        bool          `json:"hasArtwork"`
	Error             string        `json:"error,omitempty"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// StateManager holds the player state and notifies subscribers of changes
type StateManager struct {
	state     *State
	mutex     sync.RWMutex
	listeners []chan *State
}

// NewStateManager creates a state manager
func NewStateManager(volume float64, order string) *StateManager {
	return &StateManager{
		state: &State{
			Volume:    volume,
			Order:     order,
			UpdatedAt: time.Now(),
		},
		listeners: make([]chan *State, 0),
	}
}

// GetState returns a copy of the current state
func (sm *StateManager) GetState() *State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	stateCopy := *sm.state
	return &stateCopy
}

// Update applies fn to the state and notifies subscribers
func (sm *StateManager) Update(fn func(s *State)) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	fn(sm.state)
	sm.state.UpdatedAt = time.Now()
	sm.notifyListeners()
}

// Subscribe adds a listener for state changes
func (sm *StateManager) Subscribe() <-chan *State {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	ch := make(chan *State, 10) // Buffered so a slow listener does not block updates
	sm.listeners = append(sm.listeners, ch)
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (sm *StateManager) Unsubscribe(ch <-chan *State) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	for i, listener := range sm.listeners {
		if listener == ch {
			close(listener)
			sm.listeners = append(sm.listeners[:i], sm.listeners[i+1:]...)
			break
		}
	}
}

// Subscribers returns the number of listeners
func (sm *StateManager) Subscribers() int {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return len(sm.listeners)
}

// notifyListeners sends the state to every listener. Listeners whose buffer
// is full are dropped. Must be called with the lock held.
func (sm *StateManager) notifyListeners() {
	kept := sm.listeners[:0]
	for _, listener := range sm.listeners {
		stateCopy := *sm.state
		select {
		case listener <- &stateCopy:
			kept = append(kept, listener)
		default:
			close(listener)
		}
	}
	clear(sm.listeners[len(kept):])
	sm.listeners = kept
}
