package economy

import (
	"context"
	"errors"
	"time"
)

// Account holds a member's balances in minor units. No floats.
type Account struct {
	GuildID        string    `json:"guild_id"`
	UserID         string    `json:"user_id"`
	Wallet         int64     `json:"wallet"`
	Bank           int64     `json:"bank"`
	Profile        Profile   `json:"profile"`
	LastInterestAt time.Time `json:"last_interest_at,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Total is wallet plus bank.
func (a Account) Total() int64 { return a.Wallet + a.Bank }

// Profile carries optional member attributes. Nil means unset.
type Profile struct {
	Location *string `json:"location,omitempty"`
	Birthday *string `json:"birthday,omitempty"`
}

// Transaction kinds.
const (
	KindCredit   = "credit"
	KindDeposit  = "deposit"
	KindWithdraw = "withdraw"
	KindTransfer = "transfer"
)

// Transaction describes an applied balance movement.
type Transaction struct {
	ID         string    `json:"id"`
	GuildID    string    `json:"guild_id"`
	Kind       string    `json:"kind"`
	FromUserID string    `json:"from_user_id,omitempty"`
	ToUserID   string    `json:"to_user_id,omitempty"`
	Amount     int64     `json:"amount"` // minor units
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists accounts.
type Store interface {
	Account(ctx context.Context, guildID, userID string) (Account, error)
	SaveAccount(ctx context.Context, a Account) error
	// SaveAccounts writes every account or none.
	SaveAccounts(ctx context.Context, accts ...Account) error
	ListAccounts(ctx context.Context, guildID string) ([]Account, error)
	// Guilds lists every guild with at least one account.
	Guilds(ctx context.Context) ([]string, error)
}

var (
	ErrNotFound          = errors.New("economy: not found")
	ErrInsufficientFunds = errors.New("economy: insufficient funds")
	ErrInvalidAmount     = errors.New("economy: invalid amount (must be > 0)")
	ErrSameAccount       = errors.New("economy: source and destination are the same account")
	ErrInvalidInput      = errors.New("economy: invalid input")
)
