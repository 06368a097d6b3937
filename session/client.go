/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package session is the client side of a multiplayer tic-tac-toe game.
//
// A Client knows how to reach the coordinator over HTTP and WebSocket.
// Each game view gets its own Session, which owns exactly one channel and
// an observable Store of everything the coordinator has pushed:
//
//	POST /game        creates a session, answers {"uuid": ...}
//	GET  /game/:id    identifies the viewer, answers {"host": bool}
//	GET  /ws/:id      the game channel
//
// The client never validates moves; the board is whatever the
// coordinator last said it was.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const maxErrorBody = 64 << 10

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for create and lookup.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithDialer replaces the WebSocket dialer used for channels.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithLogf routes session logging through logf.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(c *Client) {
		c.logf = logf
	}
}

// WithTimeout bounds each HTTP request and the channel handshake.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// Client talks to one coordinator. It holds no per-game state and is safe
// for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	dialer  *websocket.Dialer
	timeout time.Duration
	logf    func(format string, args ...any)
}

// New returns a Client for the coordinator at baseURL (http or https).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: missing host", baseURL)
	}

	// The coordinator ties the lookup to the channel with a session cookie,
	// so HTTP and WebSocket requests share one jar.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		base:    u,
		http:    &http.Client{Jar: jar},
		timeout: 10 * time.Second,
		logf:    func(string, ...any) {},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.http.Jar == nil {
		hc := *c.http
		hc.Jar = jar
		c.http = &hc
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: c.timeout,
		}
	}
	if c.dialer.Jar == nil {
		d := *c.dialer
		d.Jar = c.http.Jar
		c.dialer = &d
	}

	return c, nil
}

// BaseURL returns the coordinator address.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// CreateSession asks the coordinator for a new game and returns its id.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var body struct {
		UUID string `json:"uuid"`
	}

	if err := c.do(ctx, http.MethodPost, "/game", "create game", &body); err != nil {
		return "", err
	}
	if body.UUID == "" {
		return "", fmt.Errorf("create game: %w: empty uuid in response", ErrInvalidID)
	}

	c.logf("SESSION: Created game %s", body.UUID)

	return body.UUID, nil
}

// LookupSession fetches game id and reports whether the caller hosts it.
func (c *Client) LookupSession(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrInvalidID
	}

	var body struct {
		Host bool `json:"host"`
	}

	if err := c.do(ctx, http.MethodGet, "/game/"+url.PathEscape(id), "get game", &body); err != nil {
		return false, err
	}

	c.logf("SESSION: Looked up game %s (host: %t)", id, body.Host)

	return body.Host, nil
}

// NewSession returns a view of game id in the waiting state.
func (c *Client) NewSession(ctx context.Context, id string) *Session {
	return newSession(ctx, c, id)
}

// Open looks up game id and then connects its channel. The channel is
// opened for hosts and guests alike; a failed lookup closes the session.
func (c *Client) Open(ctx context.Context, id string) (*Session, error) {
	s := c.NewSession(ctx, id)

	if _, err := s.Lookup(ctx); err != nil {
		s.fail(err)
		return s, err
	}

	if err := s.Connect(ctx); err != nil {
		return s, err
	}

	return s, nil
}

// channelURL maps the base URL onto the WebSocket address of game id.
func (c *Client) channelURL(id string) string {
	scheme := "ws"
	if c.base.Scheme == "https" {
		scheme = "wss"
	}

	return scheme + "://" + c.base.Host + c.base.EscapedPath() + "/ws/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path, op string, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newRequestError(op, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: invalid response: %w", op, err)
	}

	return nil
}

func newRequestError(op string, resp *http.Response) *RequestError {
	re := &RequestError{Op: op, StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return re
	}

	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		re.Message = body.Message
	}

	return re
}
