package leaderboard

import (
	"errors"
	"fmt"
)

var (
	ErrPageOutOfRange = errors.New("leaderboard: page out of range")
	ErrInvalidInput   = errors.New("leaderboard: invalid input")
	ErrNotFound       = errors.New("leaderboard: not found")
)

// PageOutOfRangeError reports a page past the last one, with the valid count.
type PageOutOfRangeError struct {
	Page       int
	TotalPages int
}

func (e *PageOutOfRangeError) Error() string {
	return fmt.Sprintf("leaderboard: page %d out of range (total pages: %d)", e.Page, e.TotalPages)
}

func (e *PageOutOfRangeError) Unwrap() error { return ErrPageOutOfRange }
