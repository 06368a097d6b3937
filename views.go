/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Game views served over HTTP.
//
// Every browser is its own player, told apart by a cookie. Each browser's
// /game/:id is backed by one session.Session, opened on its first visit
// and shared by its later requests for that id:
// - GET  /                     → creates a game and redirects to its view
// - GET  /game/:id             → HTML board, refreshed every second
// - GET  /game/:id/state       → JSON snapshot of the view
// - POST /game/:id/start       → asks the game server to start
// - POST /game/:id/move/:cell  → claims a cell
// - POST /game/:id/close       → closes the view and its channel
// - GET  /game/:id/qr          → PNG QR code of the view URL, for a
//                                second player to scan
//
// Views idle for longer than --view-timeout are closed by a reaper.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/tictactoe/session"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	qrSize           = 320
	playerCookieName = "tictactoe_id"
)

type view struct {
	ready chan struct{}
	sess  *session.Session
	err   error

	mu         sync.Mutex
	lastActive time.Time
}

func (v *view) touch() {
	v.mu.Lock()
	v.lastActive = time.Now()
	v.mu.Unlock()
}

func (v *view) idleSince() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastActive
}

// viewKey identifies one browser's view of one game.
type viewKey struct {
	player string
	game   string
}

// participant is one browser. Each gets its own client, and with it its
// own cookie jar, so the game server sees every browser as a separate
// player.
type participant struct {
	client     *session.Client
	lastActive time.Time
}

// viewManager holds the open views keyed by browser and game id.
type viewManager struct {
	ctx       context.Context
	cfg       *Config
	newClient func() (*session.Client, error)

	mu           sync.Mutex
	participants map[string]*participant
	views        map[viewKey]*view
	idleTimeout  time.Duration
}

func newViewManager(ctx context.Context, cfg *Config, newClient func() (*session.Client, error)) *viewManager {
	vm := &viewManager{
		ctx:          ctx,
		cfg:          cfg,
		newClient:    newClient,
		participants: make(map[string]*participant),
		views:        make(map[viewKey]*view),
		idleTimeout:  cfg.viewTimeout,
	}
	if vm.idleTimeout > 0 {
		go vm.reaperLoop()
	}
	return vm
}

// client returns the client of player, creating it on first use.
func (vm *viewManager) client(player string) (*session.Client, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if p, ok := vm.participants[player]; ok {
		p.lastActive = time.Now()
		return p.client, nil
	}

	c, err := vm.newClient()
	if err != nil {
		return nil, err
	}
	vm.participants[player] = &participant{client: c, lastActive: time.Now()}

	return c, nil
}

// open returns the view for key, opening its session on first use.
// Concurrent first visits share one lookup and one channel.
func (vm *viewManager) open(key viewKey) (*session.Session, error) {
	client, err := vm.client(key.player)
	if err != nil {
		return nil, err
	}

	vm.mu.Lock()
	v, ok := vm.views[key]
	if !ok {
		v = &view{ready: make(chan struct{}), lastActive: time.Now()}
		vm.views[key] = v
	}
	vm.mu.Unlock()

	if ok {
		<-v.ready
		if v.err != nil {
			return nil, v.err
		}
		v.touch()
		return v.sess, nil
	}

	sess, err := client.Open(vm.ctx, key.game)
	if err != nil {
		_ = sess.Close()
		v.err = err

		vm.mu.Lock()
		if vm.views[key] == v {
			delete(vm.views, key)
		}
		vm.mu.Unlock()

		close(v.ready)
		return nil, err
	}

	logf(vm.cfg, "VIEWS: Opened game %s for player %s", key.game, key.player)

	v.sess = sess
	close(v.ready)

	return sess, nil
}

// existing returns an already opened view without creating one.
func (vm *viewManager) existing(key viewKey) (*session.Session, bool) {
	vm.mu.Lock()
	v, ok := vm.views[key]
	vm.mu.Unlock()
	if !ok {
		return nil, false
	}

	<-v.ready
	if v.err != nil {
		return nil, false
	}
	v.touch()

	return v.sess, true
}

func (vm *viewManager) close(key viewKey) bool {
	vm.mu.Lock()
	v, ok := vm.views[key]
	if ok {
		delete(vm.views, key)
	}
	vm.mu.Unlock()

	if !ok {
		return false
	}

	<-v.ready
	if v.sess != nil {
		_ = v.sess.Close()
	}
	logf(vm.cfg, "VIEWS: Closed game %s for player %s", key.game, key.player)

	return true
}

func (vm *viewManager) closeAll() {
	vm.mu.Lock()
	keys := make([]viewKey, 0, len(vm.views))
	for key := range vm.views {
		keys = append(keys, key)
	}
	vm.mu.Unlock()

	for _, key := range keys {
		vm.close(key)
	}
}

// reaperLoop periodically closes views that have been idle longer than
// idleTimeout, and forgets players left without views.
func (vm *viewManager) reaperLoop() {
	ticker := time.NewTicker(vm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-vm.ctx.Done():
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-vm.idleTimeout)

		vm.mu.Lock()
		var idle []viewKey
		active := make(map[string]bool)
		for key, v := range vm.views {
			if v.idleSince().Before(cutoff) {
				idle = append(idle, key)
			} else {
				active[key.player] = true
			}
		}
		for player, p := range vm.participants {
			if !active[player] && p.lastActive.Before(cutoff) {
				delete(vm.participants, player)
			}
		}
		vm.mu.Unlock()

		for _, key := range idle {
			go vm.close(key)
		}
	}
}

// player returns the id of the browser behind r, handing out a new one
// when it has none.
func (a *App) player(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     a.cfg.prefix + "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func (a *App) gamePath(id string) string {
	return a.cfg.prefix + "/game/" + url.PathEscape(id)
}

// serveHome creates a game and sends the browser to its view.
func (a *App) serveHome() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		client, err := a.views.client(a.player(w, r))
		if err != nil {
			serveError(a.cfg, w, err)
			return
		}

		id, err := client.CreateSession(r.Context())
		if err != nil {
			logf(a.cfg, "GAMES: Failed to create game for %s: %v", realIP(r), err)
			serveError(a.cfg, w, err)
			return
		}

		logf(a.cfg, "GAMES: Created game %s for %s", id, realIP(r))
		http.Redirect(w, r, a.gamePath(id), http.StatusSeeOther)
	}
}

func (a *App) serveGame() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		sess, err := a.views.open(viewKey{a.player(w, r), ps.ByName("id")})
		if err != nil {
			serveError(a.cfg, w, err)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Refresh", "1")
		securityHeaders(a.cfg, w)

		snap := sess.Snapshot()
		_, err = w.Write([]byte(newPage("Tic-Tac-Toe "+snap.ID, renderGame(a.gamePath(snap.ID), snap))))
		if err != nil {
			a.errs <- err
			return
		}

		logf(a.cfg, "SERVE: Game %s (v%d) to %s in %s",
			snap.ID,
			snap.Version,
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func (a *App) serveState() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		sess, err := a.views.open(viewKey{a.player(w, r), ps.ByName("id")})
		if err != nil {
			serveError(a.cfg, w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(a.cfg, w)

		if err := json.NewEncoder(w).Encode(sess.Snapshot()); err != nil {
			a.errs <- err
		}
	}
}

// action runs fn against an open view and redirects back to it.
func (a *App) action(fn func(*session.Session, httprouter.Params) error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id := ps.ByName("id")

		sess, ok := a.views.existing(viewKey{a.player(w, r), id})
		if !ok {
			http.Error(w, "game view not open", http.StatusNotFound)
			return
		}

		if err := fn(sess, ps); err != nil {
			serveError(a.cfg, w, err)
			return
		}

		http.Redirect(w, r, a.gamePath(id), http.StatusSeeOther)
	}
}

func (a *App) serveStart() httprouter.Handle {
	return a.action(func(s *session.Session, _ httprouter.Params) error {
		return s.Start()
	})
}

func (a *App) serveMove() httprouter.Handle {
	return a.action(func(s *session.Session, ps httprouter.Params) error {
		cell, err := strconv.Atoi(ps.ByName("cell"))
		if err != nil {
			return fmt.Errorf("%w: %q", session.ErrInvalidCell, ps.ByName("cell"))
		}
		return s.Move(cell)
	})
}

func (a *App) serveClose() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !a.views.close(viewKey{a.player(w, r), ps.ByName("id")}) {
			http.Error(w, "game view not open", http.StatusNotFound)
			return
		}

		http.Redirect(w, r, a.cfg.prefix+"/", http.StatusSeeOther)
	}
}

// serveQR generates a PNG QR code for the view URL of a game.
func (a *App) serveQR() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id := ps.ByName("id")
		if id == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		png, err := qrcode.Encode(shareScheme(r)+"://"+r.Host+a.gamePath(id), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(a.cfg, w)

		if _, err := w.Write(png); err != nil {
			a.errs <- err
		}
	}
}

// shareScheme is the scheme browsers reached this server with, honouring
// TLS and a well-formed X-Forwarded-Proto.
func shareScheme(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	switch proto := strings.ToLower(r.Header.Get("X-Forwarded-Proto")); proto {
	case "http", "https":
		scheme = proto
	}

	return scheme
}

// renderGame draws a snapshot as an HTML fragment.
func renderGame(path string, snap session.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "<h1>Game %s</h1>", html.EscapeString(snap.ID))
	fmt.Fprintf(&b, "<p>Connection: %s", html.EscapeString(string(snap.Conn)))
	if snap.Err != nil {
		fmt.Fprintf(&b, " (%s)", html.EscapeString(snap.Err.Error()))
	}
	b.WriteString("</p>")

	if snap.GameState != "" {
		fmt.Fprintf(&b, "<p>State: %s</p>", html.EscapeString(snap.GameState))
	}
	if snap.HostKnown {
		fmt.Fprintf(&b, "<p>Host: %t</p>", snap.IsHost)
	}

	b.WriteString("<h2>Players</h2><ul>")
	for _, p := range snap.Players {
		fmt.Fprintf(&b, "<li>%s</li>", html.EscapeString(p))
	}
	b.WriteString("</ul>")

	if snap.IsHost && snap.Conn == session.ConnOpen {
		fmt.Fprintf(&b, `<form method="post" action="%s/start"><button>Start</button></form>`, path)
	}

	if snap.Board != nil {
		b.WriteString("<table>")
		for row := 0; row < 3; row++ {
			b.WriteString("<tr>")
			for col := 0; col < 3; col++ {
				cell := row*3 + col
				fmt.Fprintf(&b, `<td><form method="post" action="%s/move/%d"><button>%s</button></form></td>`,
					path, cell, html.EscapeString(snap.Board[cell]))
			}
			b.WriteString("</tr>")
		}
		b.WriteString("</table>")
	}

	fmt.Fprintf(&b, `<p><img src="%s/qr" alt="join code" width="%d" height="%d"></p>`, path, qrSize/2, qrSize/2)
	fmt.Fprintf(&b, `<form method="post" action="%s/close"><button>Leave</button></form>`, path)

	return b.String()
}
