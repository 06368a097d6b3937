/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

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

// fakeServer is a game server that hosts whoever looks a game up first
// and echoes every channel message into received.
type fakeServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	games    map[string]bool
	lookups  int
	conns    chan *websocket.Conn
	received chan map[string]any

	// hold, when set, runs before each lookup; a non-zero status is
	// returned instead of the game.
	hold func(id string) int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	f := &fakeServer{
		games:    make(map[string]bool),
		conns:    make(chan *websocket.Conn, 4),
		received: make(chan map[string]any, 16),
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := httprouter.New()

	mux.POST("/game", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		id := uuid.NewString()

		f.mu.Lock()
		f.games[id] = false
		f.mu.Unlock()

		reply(w, http.StatusOK, map[string]any{"uuid": id})
	})

	mux.GET("/game/:id", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if f.hold != nil {
			if status := f.hold(ps.ByName("id")); status != 0 {
				reply(w, status, map[string]any{"message": "Failed to connect to game"})
				return
			}
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		f.lookups++

		claimed, ok := f.games[ps.ByName("id")]
		if !ok {
			reply(w, http.StatusNotFound, map[string]any{"message": "Failed to connect to game"})
			return
		}
		f.games[ps.ByName("id")] = true

		reply(w, http.StatusOK, map[string]any{"type": "host", "host": !claimed})
	})

	mux.GET("/ws/:id", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- conn

		go func() {
			for {
				var msg map[string]any
				if err := conn.ReadJSON(&msg); err != nil {
					return
				}
				f.received <- msg
			}
		}()
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeServer) addGame(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.games[id] = false
}

func (f *fakeServer) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.lookups
}

func (f *fakeServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()

	select {
	case conn := <-f.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(waitFor):
		t.Fatal("no channel was opened")
		return nil
	}
}

func (f *fakeServer) next(t *testing.T) map[string]any {
	t.Helper()

	select {
	case msg := <-f.received:
		return msg
	case <-time.After(waitFor):
		t.Fatal("no message arrived")
		return nil
	}
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig(server string) *Config {
	return &Config{
		server:  server,
		timeout: waitFor,
		port:    8080,
	}
}
