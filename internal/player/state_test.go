package player

import (
	"testing"
)

func TestStateManager(t *testing.T) {
	sm := NewStateManager(0.8, "sequential")

	t.Run("InitialState", func(t *testing.T) {
		st := sm.GetState()
		if st.Volume != 0.8 || st.Order != "sequential" || st.IsPlaying {
			t.Errorf("Unexpected initial state %+v", st)
		}
	})

	t.Run("SubscribeReceivesUpdates", func(t *testing.T) {
		ch := sm.Subscribe()
		defer sm.Unsubscribe(ch)

		sm.Update(func(s *State) { s.IsPlaying = true })

		select {
		case st := <-ch:
			if !st.IsPlaying {
				t.Error("Expected isPlaying in the update")
			}
		default:
			t.Fatal("Expected an update on the channel")
		}
	})

	t.Run("GetStateReturnsCopy", func(t *testing.T) {
		st := sm.GetState()
		st.Volume = 0.1
		if sm.GetState().Volume == 0.1 {
			t.Error("Mutating the copy changed the manager state")
		}
	})

	t.Run("SlowListenerIsDropped", func(t *testing.T) {
		slow := sm.Subscribe()
		fast := sm.Subscribe()
		defer sm.Unsubscribe(fast)

		for i := 0; i < 11; i++ {
			sm.Update(func(s *State) {})
			<-fast
		}
		if sm.Subscribers() != 1 {
			t.Errorf("Expected the full listener to be dropped, %d left", sm.Subscribers())
		}

		drained := 0
		for range slow {
			drained++
		}
		if drained != 10 {
			t.Errorf("Expected 10 buffered updates before close, got %d", drained)
		}

		// Unsubscribing a dropped listener is harmless
		sm.Unsubscribe(slow)
	})
}
