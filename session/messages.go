/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Inbound message types
const (
	TypeHost    = "host"
	TypePlayers = "players"
	TypeState   = "state"
	TypeUpdate  = "update"
	TypeMove    = "move"
)

// StateStart is the game state a host requests to begin play.
const StateStart = "start"

// Outbound is any message a view sends to the coordinator.
type Outbound interface {
	messageType() string
}

// StateMessage asks the coordinator to change the game state.
type StateMessage struct {
	Type  string `json:"type"`  // "state"
	State string `json:"state"` // e.g. "start"
}

func (StateMessage) messageType() string { return TypeState }

// MoveMessage claims a board cell by index.
type MoveMessage struct {
	Type string `json:"type"` // "move"
	Move int    `json:"move"` // 0..8
}

func (MoveMessage) messageType() string { return TypeMove }

// envelope is decoded first so the type can select the variant.
type envelope struct {
	Type    string          `json:"type"`
	Host    *bool           `json:"host,omitempty"`
	Players []PlayerID      `json:"players,omitempty"`
	State   *string         `json:"state,omitempty"`
	Board   json.RawMessage `json:"board,omitempty"`
}

// PlayerID is a roster entry. The coordinator may send bare strings,
// numbers, or full player objects; all of them collapse to a string.
type PlayerID string

func (p *PlayerID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty player entry")
	}

	switch data[0] {
	case 'n':
		return fmt.Errorf("null player entry")
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PlayerID(s)
	case '{':
		var obj struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		if len(obj.ID) == 0 {
			return fmt.Errorf("player object without id: %s", data)
		}
		return p.UnmarshalJSON(obj.ID)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid player entry %s: %w", data, err)
		}
		*p = PlayerID(n.String())
	}

	return nil
}

// decodeBoard turns the wire board into display cells. A null or missing
// board yields nil, meaning no board yet.
func decodeBoard(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}

	var codes []int
	if err := json.Unmarshal(raw, &codes); err != nil {
		return nil, fmt.Errorf("invalid board: %w", err)
	}
	if len(codes) != BoardSize {
		return nil, fmt.Errorf("invalid board: expected %d cells, got %d", BoardSize, len(codes))
	}

	board := make([]string, BoardSize)
	for i, code := range codes {
		board[i] = CellLabel(code)
	}

	return board, nil
}

// CellLabel maps a wire cell code onto its display label.
func CellLabel(code int) string {
	if code == 0 {
		return EmptyCell
	}

	return "Player " + strconv.Itoa(code)
}
