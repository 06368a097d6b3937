package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Seednode/tictactoe/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{server: "http://localhost:3000", timeout: time.Second, port: 8080, viewTimeout: time.Minute}
	}

	tests := map[string]struct {
		mutate func(*Config)
		serve  bool
		want   string
	}{
		"defaults are valid":      {mutate: func(*Config) {}},
		"https server":            {mutate: func(c *Config) { c.server = "https://games.example/api" }},
		"server without scheme":   {mutate: func(c *Config) { c.server = "localhost:3000" }, want: "--server"},
		"websocket server":        {mutate: func(c *Config) { c.server = "ws://localhost:3000" }, want: "--server"},
		"server without host":     {mutate: func(c *Config) { c.server = "http://" }, want: "--server"},
		"zero timeout":            {mutate: func(c *Config) { c.timeout = 0 }, want: "--timeout"},
		"serve defaults":          {mutate: func(*Config) {}, serve: true},
		"serve checks the server": {mutate: func(c *Config) { c.server = "" }, serve: true, want: "--server"},
		"cert without key":        {mutate: func(c *Config) { c.tlsCert = "cert.pem" }, serve: true, want: "--tls-key"},
		"port too low":            {mutate: func(c *Config) { c.port = 0 }, serve: true, want: "port"},
		"port too high":           {mutate: func(c *Config) { c.port = 65536 }, serve: true, want: "port"},
		"negative view timeout":   {mutate: func(c *Config) { c.viewTimeout = -time.Second }, serve: true, want: "--view-timeout"},
		"view timeout disabled":   {mutate: func(c *Config) { c.viewTimeout = 0 }, serve: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)

			var err error
			if tc.serve {
				err = cfg.validateServe()
			} else {
				err = cfg.validate()
			}

			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestConfig_Scheme(t *testing.T) {
	assert.Equal(t, "http", (&Config{tlsCert: "cert.pem"}).scheme())
	assert.Equal(t, "https", (&Config{tlsCert: "cert.pem", tlsKey: "key.pem"}).scheme())
}

func TestNewCmd(t *testing.T) {
	t.Run("Flags fall back to the environment", func(t *testing.T) {
		// Given: settings in the environment
		t.Setenv("TICTACTOE_SERVER", "https://games.example")
		t.Setenv("TICTACTOE_VERBOSE", "true")
		t.Setenv("TICTACTOE_VIEW_TIMEOUT", "5m")
		t.Setenv("TICTACTOE_TLS_CERT", "cert.pem")

		// When: the command tree is built
		cfg := &Config{}
		newCmd(cfg)

		// Then: the config carries them
		assert.Equal(t, "https://games.example", cfg.server)
		assert.True(t, cfg.verbose)
		assert.Equal(t, 5*time.Minute, cfg.viewTimeout)
		assert.Equal(t, "cert.pem", cfg.tlsCert)
		assert.Equal(t, 10*time.Second, cfg.timeout)
		assert.Equal(t, 8080, cfg.port)
	})

	t.Run("Flags beat the environment", func(t *testing.T) {
		t.Setenv("TICTACTOE_SERVER", "https://games.example")

		cfg := &Config{}
		cmd := newCmd(cfg)
		require.NoError(t, cmd.ParseFlags([]string{"--server", "http://flag.example:3000"}))

		assert.Equal(t, "http://flag.example:3000", cfg.server)
	})

	t.Run("Version flag prints the version", func(t *testing.T) {
		var out bytes.Buffer
		cmd := newCmd(&Config{})
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"-V"})

		require.NoError(t, cmd.Execute())
		assert.Equal(t, "tictactoe v"+releaseVersion+"\n", out.String())
	})

	t.Run("Version can be asked for through the environment", func(t *testing.T) {
		t.Setenv("TICTACTOE_VERSION", "true")

		var out bytes.Buffer
		cfg := &Config{}
		cmd := newCmd(cfg)
		cmd.SetOut(&out)
		cmd.SetArgs([]string{})

		require.NoError(t, cmd.Execute())
		assert.True(t, cfg.version)
		assert.Equal(t, "tictactoe v"+releaseVersion+"\n", out.String())
	})

	t.Run("Serve refuses a bad port before listening", func(t *testing.T) {
		cmd := newCmd(&Config{})
		cmd.SetArgs([]string{"serve", "--port", "0"})

		err := cmd.Execute()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "port")
	})

	t.Run("Join plays through the command tree", func(t *testing.T) {
		fake := newFakeServer(t)
		fake.addGame("g1")

		var out bytes.Buffer
		cmd := newCmd(&Config{})
		cmd.SetIn(strings.NewReader("start\nquit\n"))
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"join", "g1", "--server", fake.srv.URL})

		require.NoError(t, cmd.ExecuteContext(context.Background()))
		assert.Equal(t, map[string]any{"type": "state", "state": "start"}, fake.next(t))
		assert.Contains(t, out.String(), helpText)
	})

	t.Run("Join needs a game id", func(t *testing.T) {
		cmd := newCmd(&Config{})
		cmd.SetArgs([]string{"join"})

		assert.Error(t, cmd.Execute())
	})
}

func TestErrorStatus(t *testing.T) {
	tests := map[string]struct {
		err  error
		want int
	}{
		"missing game":      {err: &session.RequestError{Op: "look up game", StatusCode: http.StatusNotFound}, want: http.StatusNotFound},
		"server failure":    {err: &session.RequestError{Op: "create game", StatusCode: http.StatusInternalServerError}, want: http.StatusBadGateway},
		"wrapped not found": {err: fmt.Errorf("open: %w", &session.RequestError{StatusCode: http.StatusNotFound}), want: http.StatusNotFound},
		"invalid cell":      {err: fmt.Errorf("%w: 9", session.ErrInvalidCell), want: http.StatusBadRequest},
		"invalid id":        {err: session.ErrInvalidID, want: http.StatusBadRequest},
		"closed session":    {err: session.ErrClosed, want: http.StatusGone},
		"transport failure": {err: errors.New("connection refused"), want: http.StatusBadGateway},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, errorStatus(tc.err))
		})
	}
}
