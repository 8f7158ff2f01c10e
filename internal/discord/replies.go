package discord

import (
	"errors"
	"fmt"
	"strings"

	"concord.chat/internal/economy"
	"concord.chat/internal/leaderboard"
	"concord.chat/internal/leveling"
	"concord.chat/internal/perm"
	"concord.chat/internal/store"
)

// Response is what the bot sends back for one command.
type Response struct {
	Content   string
	Ephemeral bool
}

func reply(format string, args ...any) Response {
	return Response{Content: fmt.Sprintf(format, args...)}
}

func private(format string, args ...any) Response {
	return Response{Content: fmt.Sprintf(format, args...), Ephemeral: true}
}

var invalidInput = []error{
	perm.ErrInvalidInput,
	leveling.ErrInvalidInput,
	leaderboard.ErrInvalidInput,
	economy.ErrInvalidInput,
}

// ErrorReply maps a domain error to a member-facing message. The second
// result is false for errors the member cannot act on, which callers log.
func ErrorReply(err error) (string, bool) {
	var pageErr *leaderboard.PageOutOfRangeError
	switch {
	case err == nil:
		return "", true
	case errors.As(err, &pageErr):
		if pageErr.TotalPages == 0 {
			return "The leaderboard is empty.", true
		}
		return fmt.Sprintf("Page %d does not exist, there are %d pages.", pageErr.Page, pageErr.TotalPages), true
	case errors.Is(err, perm.ErrAlreadyExists):
		return "That already exists.", true
	case errors.Is(err, perm.ErrUnknownPermission):
		return "Unknown permission. Create it first with /perm create.", true
	case errors.Is(err, perm.ErrNotFound), errors.Is(err, leveling.ErrNotFound),
		errors.Is(err, leaderboard.ErrNotFound), errors.Is(err, economy.ErrNotFound):
		return "Not found.", true
	case errors.Is(err, economy.ErrInsufficientFunds):
		return "Insufficient funds.", true
	case errors.Is(err, economy.ErrInvalidAmount), errors.Is(err, leveling.ErrInvalidAmount):
		return "The amount must be greater than zero.", true
	case errors.Is(err, economy.ErrSameAccount):
		return "You cannot pay yourself.", true
	case errors.Is(err, store.ErrUnavailable):
		return "Storage is unavailable, try again later.", false
	}
	for _, sentinel := range invalidInput {
		if errors.Is(err, sentinel) {
			return "Invalid input: " + strings.TrimPrefix(err.Error(), sentinel.Error()+": "), true
		}
	}
	return "Something went wrong.", false
}
