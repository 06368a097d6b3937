/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Seednode/tictactoe/session"
	"github.com/skip2/go-qrcode"
)

const helpText = `commands: start | move <0-8> | help | quit`

type command struct {
	name string
	cell int
}

var errUnknownCommand = errors.New("unknown command")

func parseCommand(line string) (command, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return command{}, nil
	}

	switch fields[0] {
	case "start", "help", "quit":
		if len(fields) != 1 {
			return command{}, fmt.Errorf("%s takes no arguments", fields[0])
		}
		return command{name: fields[0]}, nil
	case "exit":
		return command{name: "quit"}, nil
	case "move", "m":
		if len(fields) != 2 {
			return command{}, errors.New("usage: move <0-8>")
		}
		cell, err := strconv.Atoi(fields[1])
		if err != nil {
			return command{}, fmt.Errorf("%w: %q", session.ErrInvalidCell, fields[1])
		}
		return command{name: "move", cell: cell}, nil
	default:
		return command{}, fmt.Errorf("%w: %q", errUnknownCommand, fields[0])
	}
}

func newClient(cfg *Config) (*session.Client, error) {
	return session.New(cfg.server,
		session.WithTimeout(cfg.timeout),
		session.WithLogf(sessionLogf(cfg)),
	)
}

// NewGame creates a game, shows how to join it, and plays it.
func NewGame(ctx context.Context, cfg *Config, in io.Reader, out io.Writer) error {
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	id, err := client.CreateSession(ctx)
	if err != nil {
		return err
	}

	join := joinCommand(client, id)
	fmt.Fprintf(out, "Created game %s\nSecond player: %s\n", id, join)

	qr, err := qrcode.New(join, qrcode.Medium)
	if err != nil {
		logf(cfg, "GAMES: Could not draw join code: %v", err)
	} else {
		fmt.Fprintln(out, qr.ToSmallString(false))
	}

	return play(ctx, cfg, client, id, in, out)
}

// joinCommand is what a second player runs to join game id. The
// coordinator's own /game/:id answers with JSON, not a playable page, so
// the join code carries the command rather than a URL.
func joinCommand(client *session.Client, id string) string {
	return fmt.Sprintf("tictactoe --server %s join %s", client.BaseURL(), id)
}

// JoinGame plays an existing game.
func JoinGame(ctx context.Context, cfg *Config, id string, in io.Reader, out io.Writer) error {
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	return play(ctx, cfg, client, id, in, out)
}

// play opens the view, renders every snapshot, and feeds stdin commands
// to the session until the user quits, input ends, or the channel closes.
func play(ctx context.Context, cfg *Config, client *session.Client, id string, in io.Reader, out io.Writer) error {
	sess, err := client.Open(ctx, id)
	defer sess.Close()
	if err != nil {
		return err
	}

	snaps, stop := sess.Subscribe()
	defer stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-sess.Done():
				return
			}
		}
	}()

	fmt.Fprintln(out, helpText)

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-snaps:
			renderSnapshot(out, snap)
			if snap.Conn == session.ConnClosed {
				return snap.Err
			}
		case line, ok := <-lines:
			if !ok {
				logf(cfg, "PLAY: Input closed, leaving game %s", id)
				return nil
			}

			cmd, err := parseCommand(line)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}

			switch cmd.name {
			case "":
			case "quit":
				return nil
			case "help":
				fmt.Fprintln(out, helpText)
			case "start":
				err = sess.Start()
			case "move":
				err = sess.Move(cmd.cell)
			}
			if err != nil {
				fmt.Fprintln(out, err)
			}
		}
	}
}

// renderSnapshot draws the view as text.
func renderSnapshot(w io.Writer, snap session.Snapshot) {
	fmt.Fprintf(w, "\ngame %s | connection: %s", snap.ID, snap.Conn)
	if snap.GameState != "" {
		fmt.Fprintf(w, " | state: %s", snap.GameState)
	}
	if snap.HostKnown {
		role := "guest"
		if snap.IsHost {
			role = "host"
		}
		fmt.Fprintf(w, " | you are the %s", role)
	}
	fmt.Fprintln(w)

	if snap.Err != nil {
		fmt.Fprintf(w, "error: %v\n", snap.Err)
	}

	if len(snap.Players) > 0 {
		fmt.Fprintf(w, "players: %s\n", strings.Join(snap.Players, ", "))
	}

	if snap.Board == nil {
		return
	}

	width := len(session.CellLabel(0))
	for _, cell := range snap.Board {
		width = max(width, len(cell))
	}

	sep := strings.Repeat("-", width+2)
	for row := 0; row < 3; row++ {
		if row > 0 {
			fmt.Fprintf(w, "%s+%s+%s\n", sep, sep, sep)
		}
		cells := make([]string, 3)
		for col := range cells {
			cells[col] = fmt.Sprintf(" %-*s ", width, snap.Board[row*3+col])
		}
		fmt.Fprintln(w, strings.Join(cells, "|"))
	}
}
