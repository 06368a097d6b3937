/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyConnected = errors.New("channel already connecting or open")
	ErrClosed           = errors.New("session is closed")
	ErrInvalidCell      = errors.New("invalid cell index")
	ErrInvalidID        = errors.New("invalid session id")
)

// RequestError is returned when the coordinator answers with a non-2xx status.
type RequestError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("failed to %s with status %d: %s", e.Op, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("failed to %s with status %d", e.Op, e.StatusCode)
}
