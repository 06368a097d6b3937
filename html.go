/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
)

const robots = `User-agent: *
Disallow: /game/
`

func (a *App) serveHealthCheck() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(a.cfg, w)

		_, err := w.Write([]byte("Ok\n"))
		if err != nil {
			a.errs <- err

			return
		}
	}
}

func (a *App) serveRobots() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(robots)))
		securityHeaders(a.cfg, w)

		_, err := w.Write([]byte(robots))
		if err != nil {
			a.errs <- err

			return
		}
	}
}

func (a *App) serveVersion() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(a.cfg, w)
		w.WriteHeader(http.StatusOK)

		_, err := w.Write([]byte("tictactoe v" + releaseVersion + "\n"))
		if err != nil {
			a.errs <- err

			return
		}

		logf(a.cfg, "SERVE: Version page to %s in %s",
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}
