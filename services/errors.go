package services

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrSessionNotFound  = fmt.Errorf("match %w", ErrNotFound)
	ErrUnauthorized     = errors.New("not authorized")
	ErrDuplicateSession = errors.New("duplicate session id")
	ErrInvalidPlayers   = errors.New("a match needs two distinct players")
	ErrInvalidAction    = errors.New("invalid action payload")
	ErrAlreadyQueued    = errors.New("already waiting in lobby")
	ErrAlreadyInSession = errors.New("already in a match")
	ErrPersistence      = errors.New("persistence failure")
	ErrTransport        = errors.New("transport failure")
)

// ErrorMessage is the short text carried by an error event back to the
// connection that caused it.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return "match not found"
	case errors.Is(err, ErrUnauthorized):
		return "not authorized"
	case errors.Is(err, ErrInvalidAction):
		return "invalid action payload"
	case errors.Is(err, ErrAlreadyQueued):
		return "already waiting in lobby"
	case errors.Is(err, ErrAlreadyInSession):
		return "already in a match"
	default:
		return "server error"
	}
}
