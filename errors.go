/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"html"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Seednode/tictactoe/session"
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

// sessionLogf adapts logf for the session package.
func sessionLogf(cfg *Config) func(string, ...any) {
	return func(format string, args ...any) {
		logf(cfg, format, args...)
	}
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<meta charset="utf-8">`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", html.EscapeString(title)))
	htmlBody.WriteString(fmt.Sprintf("<body>%s</body></html>", body))

	return htmlBody.String()
}

// errorStatus picks the status a view server answers with when the game
// server refused or failed a request.
func errorStatus(err error) int {
	var reqErr *session.RequestError
	switch {
	case errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound:
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidCell), errors.Is(err, session.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	default:
		return http.StatusBadGateway
	}
}

func serveError(cfg *Config, w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(errorStatus(err))

	body := fmt.Sprintf(`<p>%s</p><p><a href="%s/">Back</a></p>`, html.EscapeString(err.Error()), cfg.prefix)
	_, _ = w.Write([]byte(newPage("Error", body)))
}
