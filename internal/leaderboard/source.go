package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"concord.chat/internal/economy"
	"concord.chat/internal/leveling"
)

// Type selects the ranking metric.
type Type string

const (
	TypeXP      Type = "xp"
	TypeBalance Type = "balance"
)

// ParseType accepts "xp", "balance" and "" (xp).
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case "", TypeXP:
		return TypeXP, nil
	case TypeBalance:
		return TypeBalance, nil
	}
	return "", fmt.Errorf("%w: unknown leaderboard type %q", ErrInvalidInput, s)
}

// Row is one ranked member before display names are attached.
type Row struct {
	UserID    string
	Primary   int64
	Secondary int64
}

// Source lists every ranked row of a guild.
type Source interface {
	Rows(ctx context.Context, guildID string) ([]Row, error)
}

// XPRecords lists XP records of a guild.
type XPRecords interface {
	List(ctx context.Context, guildID string) ([]leveling.Record, error)
}

// XPSource ranks by XP, then level.
type XPSource struct{ Records XPRecords }

func (s XPSource) Rows(ctx context.Context, guildID string) ([]Row, error) {
	if s.Records == nil {
		return nil, errors.New("leaderboard: xp source has no records")
	}
	recs, err := s.Records.List(ctx, guildID)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, Row{UserID: r.UserID, Primary: r.XP, Secondary: int64(leveling.LevelFor(r.XP))})
	}
	return rows, nil
}

// BalanceSource ranks by wallet plus bank, then bank.
type BalanceSource struct{ Accounts economy.Store }

func (s BalanceSource) Rows(ctx context.Context, guildID string) ([]Row, error) {
	if s.Accounts == nil {
		return nil, errors.New("leaderboard: balance source has no accounts")
	}
	accts, err := s.Accounts.ListAccounts(ctx, guildID)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(accts))
	for _, a := range accts {
		rows = append(rows, Row{UserID: a.UserID, Primary: a.Total(), Secondary: a.Bank})
	}
	return rows, nil
}

// sortRows orders by primary desc, secondary desc, then user id so that
// equal inputs always give equal pages.
func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Primary != b.Primary {
			return a.Primary > b.Primary
		}
		if a.Secondary != b.Secondary {
			return a.Secondary > b.Secondary
		}
		return a.UserID < b.UserID
	})
}
