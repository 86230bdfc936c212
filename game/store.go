package game

import "sync"

// Listener observes every committed transition.
type Listener func(prev, next State)

// Store owns the committed game state. Producers mutate it only through
// Update, which always reads the latest snapshot.
type Store struct {
	mu        sync.Mutex
	state     State
	listeners []Listener
}

func NewStore(initial State) *Store {
	return &Store{state: initial}
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Update commits fn applied to the latest snapshot. Listeners run after the
// lock is released and may call Update again.
func (s *Store) Update(fn func(State) State) State {
	s.mu.Lock()
	prev := s.state
	next := fn(prev)
	s.state = next
	listeners := s.listeners
	s.mu.Unlock()

	if prev != next {
		for _, l := range listeners {
			l(prev, next)
		}
	}
	return next
}

func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}
