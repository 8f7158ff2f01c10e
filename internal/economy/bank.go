package economy

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"concord.chat/internal/audit"
	"concord.chat/internal/ids"
	"concord.chat/internal/store"
)

const lockStripes = 64

// Bank applies balance operations. Each account is serialized by a striped
// lock; a transfer holds both stripes, acquired in index order.
type Bank struct {
	store   Store
	now     func() time.Time
	stripes [lockStripes]sync.Mutex
}

// BankOption configures a Bank.
type BankOption func(*Bank)

// WithClock overrides the time source.
func WithClock(now func() time.Time) BankOption {
	return func(b *Bank) { b.now = now }
}

// NewBank wraps an account store.
func NewBank(s Store, opts ...BankOption) (*Bank, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: economy store is nil", store.ErrUnavailable)
	}
	b := &Bank{store: s, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func stripe(guildID, userID string) int {
	h := fnv.New32a()
	h.Write([]byte(guildID))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	return int(h.Sum32() % lockStripes)
}

func (b *Bank) lock(guildID string, userIDs ...string) func() {
	idx := make([]int, 0, len(userIDs))
	for _, u := range userIDs {
		i := stripe(guildID, u)
		dup := false
		for _, j := range idx {
			if j == i {
				dup = true
			}
		}
		if !dup {
			idx = append(idx, i)
		}
	}
	if len(idx) == 2 && idx[0] > idx[1] {
		idx[0], idx[1] = idx[1], idx[0]
	}
	for _, i := range idx {
		b.stripes[i].Lock()
	}
	return func() {
		for k := len(idx) - 1; k >= 0; k-- {
			b.stripes[idx[k]].Unlock()
		}
	}
}

func validIDs(values ...string) error {
	for _, id := range values {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: guild and user ids are required", ErrInvalidInput)
		}
	}
	return nil
}

// Account returns the member's account, creating an empty one on first use.
func (b *Bank) Account(ctx context.Context, guildID, userID string) (Account, error) {
	if err := validIDs(guildID, userID); err != nil {
		return Account{}, err
	}
	unlock := b.lock(guildID, userID)
	defer unlock()
	return b.load(ctx, guildID, userID)
}

// load must be called with the account's stripe held.
func (b *Bank) load(ctx context.Context, guildID, userID string) (Account, error) {
	a, err := b.store.Account(ctx, guildID, userID)
	if errors.Is(err, ErrNotFound) {
		now := b.now()
		a = Account{GuildID: guildID, UserID: userID, LastInterestAt: now, CreatedAt: now, UpdatedAt: now}
		if err := b.store.SaveAccount(ctx, a); err != nil {
			return Account{}, err
		}
		return a, nil
	}
	return a, err
}

// Credit adds amount to the member's wallet.
func (b *Bank) Credit(ctx context.Context, guildID, userID string, amount int64) (Account, Transaction, error) {
	a, err := b.mutate(ctx, guildID, userID, amount, func(a *Account) error {
		a.Wallet += amount
		return nil
	})
	if err != nil {
		return Account{}, Transaction{}, err
	}
	tx := b.record(ctx, guildID, KindCredit, "", userID, amount)
	return a, tx, nil
}

// Deposit moves amount from wallet to bank.
func (b *Bank) Deposit(ctx context.Context, guildID, userID string, amount int64) (Account, Transaction, error) {
	a, err := b.mutate(ctx, guildID, userID, amount, func(a *Account) error {
		if a.Wallet < amount {
			return ErrInsufficientFunds
		}
		a.Wallet -= amount
		a.Bank += amount
		return nil
	})
	if err != nil {
		return Account{}, Transaction{}, err
	}
	return a, b.record(ctx, guildID, KindDeposit, userID, userID, amount), nil
}

// Withdraw moves amount from bank to wallet.
func (b *Bank) Withdraw(ctx context.Context, guildID, userID string, amount int64) (Account, Transaction, error) {
	a, err := b.mutate(ctx, guildID, userID, amount, func(a *Account) error {
		if a.Bank < amount {
			return ErrInsufficientFunds
		}
		a.Bank -= amount
		a.Wallet += amount
		return nil
	})
	if err != nil {
		return Account{}, Transaction{}, err
	}
	return a, b.record(ctx, guildID, KindWithdraw, userID, userID, amount), nil
}

func (b *Bank) mutate(ctx context.Context, guildID, userID string, amount int64, fn func(*Account) error) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}
	if err := validIDs(guildID, userID); err != nil {
		return Account{}, err
	}
	unlock := b.lock(guildID, userID)
	defer unlock()

	a, err := b.load(ctx, guildID, userID)
	if err != nil {
		return Account{}, err
	}
	if err := fn(&a); err != nil {
		return Account{}, err
	}
	a.UpdatedAt = b.now()
	if err := b.store.SaveAccount(ctx, a); err != nil {
		return Account{}, err
	}
	return a, nil
}

// Transfer moves amount from one member's wallet to another's in the same guild.
func (b *Bank) Transfer(ctx context.Context, guildID, fromUserID, toUserID string, amount int64) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}
	if err := validIDs(guildID, fromUserID, toUserID); err != nil {
		return Transaction{}, err
	}
	if fromUserID == toUserID {
		return Transaction{}, ErrSameAccount
	}
	unlock := b.lock(guildID, fromUserID, toUserID)
	defer unlock()

	from, err := b.load(ctx, guildID, fromUserID)
	if err != nil {
		return Transaction{}, err
	}
	if from.Wallet < amount {
		return Transaction{}, ErrInsufficientFunds
	}
	to, err := b.load(ctx, guildID, toUserID)
	if err != nil {
		return Transaction{}, err
	}
	now := b.now()
	from.Wallet -= amount
	to.Wallet += amount
	from.UpdatedAt, to.UpdatedAt = now, now
	if err := b.store.SaveAccounts(ctx, from, to); err != nil {
		return Transaction{}, err
	}
	return b.record(ctx, guildID, KindTransfer, fromUserID, toUserID, amount), nil
}

// SetProfile replaces the fields of p that are non-nil. An empty string clears a field.
func (b *Bank) SetProfile(ctx context.Context, guildID, userID string, p Profile) (Account, error) {
	if err := validIDs(guildID, userID); err != nil {
		return Account{}, err
	}
	unlock := b.lock(guildID, userID)
	defer unlock()

	a, err := b.load(ctx, guildID, userID)
	if err != nil {
		return Account{}, err
	}
	a.Profile.Location = mergeField(a.Profile.Location, p.Location)
	a.Profile.Birthday = mergeField(a.Profile.Birthday, p.Birthday)
	a.UpdatedAt = b.now()
	if err := b.store.SaveAccount(ctx, a); err != nil {
		return Account{}, err
	}
	return a, nil
}

func mergeField(cur, next *string) *string {
	if next == nil {
		return cur
	}
	v := strings.TrimSpace(*next)
	if v == "" {
		return nil
	}
	return &v
}

// applyInterest runs the interest policy on one account under its lock.
func (b *Bank) applyInterest(ctx context.Context, guildID, userID string, now time.Time, p Policy) (Charge, error) {
	unlock := b.lock(guildID, userID)
	defer unlock()
	a, err := b.store.Account(ctx, guildID, userID)
	if err != nil {
		return Charge{}, err
	}
	next, ch := ApplyInterestAndFees(a, now, p)
	if next == a {
		return ch, nil
	}
	next.UpdatedAt = now
	return ch, b.store.SaveAccount(ctx, next)
}

func (b *Bank) record(ctx context.Context, guildID, kind, from, to string, amount int64) Transaction {
	tx := Transaction{
		ID:         ids.New(),
		GuildID:    guildID,
		Kind:       kind,
		FromUserID: from,
		ToUserID:   to,
		Amount:     amount,
		CreatedAt:  b.now(),
	}
	_ = audit.LogEvent(ctx, "economy."+kind, map[string]any{
		"transaction_id": tx.ID,
		"guild_id":       guildID,
		"from_user_id":   from,
		"to_user_id":     to,
		"amount":         amount,
	})
	return tx
}
