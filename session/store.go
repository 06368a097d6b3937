/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import (
	"slices"
	"sync"
)

// BoardSize is the number of cells on a tic-tac-toe board.
const BoardSize = 9

// EmptyCell is the display label of an unclaimed cell.
const EmptyCell = " "

// ConnState is the lifecycle of a view's channel.
type ConnState string

const (
	ConnWaiting    ConnState = "waiting"
	ConnConnecting ConnState = "connecting"
	ConnOpen       ConnState = "open"
	ConnClosed     ConnState = "closed-error"
)

// State is the mutable view state. It is only ever touched inside
// Store.Update.
type State struct {
	Conn      ConnState
	Err       error
	GameState string
	HostKnown bool
	IsHost    bool
	Players   []string
	Board     []string
}

// Snapshot is a read-only copy of a view's state.
type Snapshot struct {
	ID        string    `json:"id"`
	Version   uint64    `json:"version"`
	Conn      ConnState `json:"connection"`
	Err       error     `json:"-"`
	Error     string    `json:"error,omitempty"`
	GameState string    `json:"state"`
	HostKnown bool      `json:"host_known"`
	IsHost    bool      `json:"host"`
	Players   []string  `json:"players"`
	Board     []string  `json:"board"`
}

// Store serialises state mutations and publishes a snapshot after each
// one. Subscribers hold at most one pending snapshot and always receive
// the newest.
type Store struct {
	id string

	mu      sync.Mutex
	state   State
	version uint64
	subs    map[chan Snapshot]struct{}
}

func NewStore(id string) *Store {
	return &Store{
		id:    id,
		state: State{Conn: ConnWaiting, Players: []string{}},
		subs:  make(map[chan Snapshot]struct{}),
	}
}

// Update applies fn and publishes the result before returning.
func (s *Store) Update(fn func(*State)) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.state)
	s.version++

	snap := s.snapshotLocked()
	for ch := range s.subs {
		publish(ch, snap)
	}

	return snap
}

// View calls fn with the current state without publishing.
func (s *Store) View(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(s.state)
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

// Subscribe returns a channel that receives the current snapshot
// immediately and every later one. The returned func unsubscribes and
// closes the channel.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			close(ch)
			s.mu.Unlock()
		})
	}
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:        s.id,
		Version:   s.version,
		Conn:      s.state.Conn,
		Err:       s.state.Err,
		GameState: s.state.GameState,
		HostKnown: s.state.HostKnown,
		IsHost:    s.state.IsHost,
		Players:   slices.Clone(s.state.Players),
		Board:     slices.Clone(s.state.Board),
	}
	if snap.Err != nil {
		snap.Error = snap.Err.Error()
	}

	return snap
}

// publish replaces any undelivered snapshot with the newer one.
func publish(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	ch <- snap
}
