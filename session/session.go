/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeGrace = time.Second

// Session is one game view: a single channel to the coordinator and the
// state it has pushed. Inbound events are applied strictly in order by
// one read goroutine.
type Session struct {
	id     string
	client *Client
	store  *Store

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	conn      *websocket.Conn
	started   bool
	closed    bool
	readDone  chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	writeMu sync.Mutex
}

func newSession(ctx context.Context, c *Client, id string) *Session {
	ctx, cancel := context.WithCancel(ctx)

	return &Session{
		id:     id,
		client: c,
		store:  NewStore(id),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Snapshot() Snapshot { return s.store.Snapshot() }

// Subscribe streams snapshots; see Store.Subscribe.
func (s *Session) Subscribe() (<-chan Snapshot, func()) { return s.store.Subscribe() }

// Done is closed once the session has reached its terminal state and the
// read loop, if any, has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Lookup asks the coordinator whether this viewer hosts the game and
// records the answer.
func (s *Session) Lookup(ctx context.Context) (bool, error) {
	if s.isClosed() {
		return false, ErrClosed
	}

	ctx, stop := s.bind(ctx)
	defer stop()

	host, err := s.client.LookupSession(ctx, s.id)
	if err != nil {
		return false, err
	}

	s.apply(func(st *State) {
		st.HostKnown = true
		st.IsHost = host
	})

	return host, nil
}

// Connect opens the channel. Only the first call dials; later calls
// report ErrAlreadyConnected, or ErrClosed once the session has ended.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.started:
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.started = true
	s.store.Update(func(st *State) {
		st.Conn = ConnConnecting
	})
	s.mu.Unlock()

	ctx, stop := s.bind(ctx)
	defer stop()

	addr := s.client.channelURL(s.id)
	s.client.logf("CHANNEL: Dialing %s", addr)

	conn, resp, err := s.client.dialer.DialContext(ctx, addr, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("open channel (status %d): %w", resp.StatusCode, err)
		} else {
			err = fmt.Errorf("open channel: %w", err)
		}
		s.fail(err)
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.readDone = make(chan struct{})
	s.store.Update(func(st *State) {
		st.Conn = ConnOpen
	})
	readDone := s.readDone
	s.mu.Unlock()

	s.client.logf("CHANNEL: Connected to game %s", s.id)

	go s.readLoop(conn, readDone)

	return nil
}

// Send writes msg on the channel. Messages sent before the channel is open
// are dropped without error and are never replayed.
func (s *Session) Send(msg Outbound) error {
	s.mu.Lock()
	conn, closed := s.conn, s.closed
	s.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if conn == nil {
		s.client.logf("CHANNEL: Dropped %s message for game %s, channel not open", msg.messageType(), s.id)
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.messageType(), err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s message: %w", msg.messageType(), err)
	}

	return nil
}

// Start asks the coordinator to begin the game.
func (s *Session) Start() error {
	return s.Send(StateMessage{Type: TypeState, State: StateStart})
}

// Move claims cell (0..8). Only the range is checked here.
func (s *Session) Move(cell int) error {
	if cell < 0 || cell >= BoardSize {
		return fmt.Errorf("%w: %d", ErrInvalidCell, cell)
	}

	return s.Send(MoveMessage{Type: TypeMove, Move: cell})
}

// Dispatch applies one inbound payload. Unknown or malformed messages are
// logged and leave the state untouched.
func (s *Session) Dispatch(raw []byte) {
	if s.isClosed() {
		return
	}

	var msg envelope
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.client.logf("DISPATCH: Discarding malformed message on game %s: %v", s.id, err)
		return
	}

	switch msg.Type {
	case TypeHost:
		if msg.Host == nil {
			s.client.logf("DISPATCH: host message without host field on game %s", s.id)
			return
		}
		host := *msg.Host
		s.apply(func(st *State) {
			st.HostKnown = true
			st.IsHost = host
		})
	case TypePlayers:
		players := make([]string, len(msg.Players))
		for i, p := range msg.Players {
			players[i] = string(p)
		}
		s.apply(func(st *State) {
			st.Players = players
		})
	case TypeState:
		if msg.State == nil {
			s.client.logf("DISPATCH: state message without state field on game %s", s.id)
			return
		}
		state := *msg.State
		s.apply(func(st *State) {
			st.GameState = state
		})
	case TypeUpdate:
		board, err := decodeBoard(msg.Board)
		if err != nil {
			s.client.logf("DISPATCH: Discarding update on game %s: %v", s.id, err)
			return
		}
		s.apply(func(st *State) {
			if msg.State != nil {
				st.GameState = *msg.State
			}
			st.Board = board
		})
	default:
		s.client.logf("DISPATCH: Unknown message type %q on game %s", msg.Type, s.id)
	}
}

// apply mutates state unless the session closed while the message was
// being decoded.
func (s *Session) apply(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.store.Update(fn)
}

// Close tears the view down: in-flight requests are cancelled, the
// channel is closed and no further messages are dispatched.
func (s *Session) Close() error {
	s.finish(nil)
	<-s.done

	return nil
}

func (s *Session) readLoop(conn *websocket.Conn, readDone chan struct{}) {
	defer close(readDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.client.logf("CHANNEL: Game %s closed by coordinator", s.id)
			} else {
				s.client.logf("CHANNEL: Game %s read error: %v", s.id, err)
			}
			s.fail(fmt.Errorf("channel closed: %w", err))
			return
		}

		s.Dispatch(data)
	}
}

// fail records err and moves the session to its terminal state.
func (s *Session) fail(err error) {
	s.finish(err)
}

func (s *Session) finish(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		conn, readDone := s.conn, s.readDone
		s.mu.Unlock()

		s.cancel()

		s.store.Update(func(st *State) {
			st.Conn = ConnClosed
			st.Err = cause
		})

		if conn == nil {
			close(s.done)
			return
		}

		s.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace),
		)
		s.writeMu.Unlock()
		_ = conn.Close()

		// The read loop may be the caller, so wait for it elsewhere.
		go func() {
			<-readDone
			close(s.done)
		}()
	})
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// bind derives a context that is cancelled by either ctx or Close.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)

	return ctx, func() {
		stop()
		cancel()
	}
}
