/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const waitFor = 2 * time.Second

// coordinator is a minimal stand-in for the game server.
type coordinator struct {
	t *testing.T

	srv *httptest.Server

	mu         sync.Mutex
	games      map[string]bool // id -> host already claimed
	createFail int
	lookupFail int
	conns      chan *websocket.Conn
	received   chan map[string]any
	closes     chan error
}

func newCoordinator(t *testing.T) *coordinator {
	t.Helper()

	c := &coordinator{
		t:        t,
		games:    make(map[string]bool),
		conns:    make(chan *websocket.Conn, 4),
		received: make(chan map[string]any, 16),
		closes:   make(chan error, 4),
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	mux := httprouter.New()

	mux.POST("/game", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		c.mu.Lock()
		fail := c.createFail
		c.mu.Unlock()

		if fail != 0 {
			writeJSON(w, fail, map[string]any{"message": "Failed to create game"})
			return
		}

		id := uuid.NewString()

		c.mu.Lock()
		c.games[id] = false
		c.mu.Unlock()

		writeJSON(w, http.StatusOK, map[string]any{"uuid": id})
	})

	mux.GET("/game/:id", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.lookupFail != 0 {
			writeJSON(w, c.lookupFail, map[string]any{"message": "Failed to connect to game"})
			return
		}

		claimed, ok := c.games[ps.ByName("id")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "no such game"})
			return
		}

		c.games[ps.ByName("id")] = true
		writeJSON(w, http.StatusOK, map[string]any{"type": "host", "host": !claimed})
	})

	mux.GET("/ws/:id", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		c.mu.Lock()
		_, ok := c.games[ps.ByName("id")]
		c.mu.Unlock()

		if !ok {
			http.Error(w, "no such game", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		c.conns <- conn

		go func() {
			for {
				var msg map[string]any
				if err := conn.ReadJSON(&msg); err != nil {
					c.closes <- err
					return
				}
				c.received <- msg
			}
		}()
	})

	c.srv = httptest.NewServer(mux)
	t.Cleanup(c.srv.Close)

	return c
}

func (c *coordinator) addGame(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.games[id] = false
}

func (c *coordinator) client(t *testing.T) *Client {
	t.Helper()

	cl, err := New(c.srv.URL, WithLogf(t.Logf))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	return cl
}

// accept returns the server side of the next channel.
func (c *coordinator) accept() *websocket.Conn {
	c.t.Helper()

	select {
	case conn := <-c.conns:
		c.t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(waitFor):
		c.t.Fatal("no channel was opened")
		return nil
	}
}

// newBlockingServer answers nothing until release is closed. arrived
// receives once per request.
func newBlockingServer(t *testing.T, arrived chan<- struct{}, release <-chan struct{}) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)

	return srv.URL
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// waitSnapshot reads snapshots until ok accepts one.
func waitSnapshot(t *testing.T, s *Session, ok func(Snapshot) bool) Snapshot {
	t.Helper()

	ch, stop := s.Subscribe()
	defer stop()

	timeout := time.After(waitFor)
	for {
		select {
		case snap := <-ch:
			if ok(snap) {
				return snap
			}
		case <-timeout:
			t.Fatalf("timed out waiting for snapshot, last: %+v", s.Snapshot())
			return Snapshot{}
		}
	}
}
