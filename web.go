package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Seednode/tictactoe/session"
	"github.com/julienschmidt/httprouter"
)

const (
	logDate string        = `2006-01-02T15:04:05.000-07:00`
	timeout time.Duration = 10 * time.Second
)

// App is everything a view handler needs. One is built per server.
type App struct {
	cfg   *Config
	views *viewManager
	errs  chan error
}

// route binds a path pattern to the view that serves it.
type route struct {
	method string
	path   string
	handle func(*App) httprouter.Handle
}

func routes() []route {
	return []route{
		{http.MethodGet, "/", (*App).serveHome},
		{http.MethodGet, "/game/:id", (*App).serveGame},
		{http.MethodGet, "/game/:id/state", (*App).serveState},
		{http.MethodPost, "/game/:id/start", (*App).serveStart},
		{http.MethodPost, "/game/:id/move/:cell", (*App).serveMove},
		{http.MethodPost, "/game/:id/close", (*App).serveClose},
		{http.MethodGet, "/game/:id/qr", (*App).serveQR},
		{http.MethodGet, "/healthz", (*App).serveHealthCheck},
		{http.MethodGet, "/robots.txt", (*App).serveRobots},
		{http.MethodGet, "/version", (*App).serveVersion},
	}
}

func newApp(ctx context.Context, cfg *Config) (*App, error) {
	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	newClient := func() (*session.Client, error) {
		return session.New(cfg.server,
			session.WithTimeout(cfg.timeout),
			session.WithLogf(sessionLogf(cfg)),
		)
	}
	if _, err := newClient(); err != nil {
		return nil, err
	}

	return &App{
		cfg:   cfg,
		views: newViewManager(ctx, cfg, newClient),
		errs:  make(chan error, 64),
	}, nil
}

// router registers every route of the app on a fresh router.
func (a *App) router() *httprouter.Router {
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(a.cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		io.WriteString(w, newPage("Server Error", "An error has occurred. Please try again."))
	}

	for _, rt := range routes() {
		mux.Handle(rt.method, a.cfg.prefix+rt.path, rt.handle(a))
	}

	if a.cfg.profile {
		registerProfileHandlers(a.cfg, mux)
	}

	return mux
}

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

// drainErrors logs write failures reported by handlers.
func (a *App) drainErrors(ctx context.Context) {
	for {
		select {
		case err := <-a.errs:
			logf(a.cfg, "ERROR: %v", err)
		case <-ctx.Done():
			return
		}
	}
}

func ServePage(ctx context.Context, cfg *Config) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	logf(cfg, "START: tictactoe v%s", releaseVersion)

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.views.closeAll()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           app.router(),
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	go app.drainErrors(ctx)

	serveErr := make(chan error, 1)
	go func() {
		var err error
		logf(cfg, "SERVE: Listening on %s://%s%s/ (game server %s)", cfg.scheme(), srv.Addr, cfg.prefix, cfg.server)
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("serve: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return nil
}
