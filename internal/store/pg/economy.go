package pg

import (
	"context"
	"database/sql"
	"errors"

	"concord.chat/internal/economy"
)

var _ economy.Store = (*Store)(nil)

const accountColumns = `user_id, wallet, bank, location, birthday, last_interest_at, created_at, updated_at`

func (s *Store) Account(ctx context.Context, guildID, userID string) (economy.Account, error) {
	if err := s.check(); err != nil {
		return economy.Account{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		select `+accountColumns+`
		from economy_accounts
		where guild_id = $1 and user_id = $2
	`, guildID, userID)
	a, err := scanAccount(row, guildID)
	if errors.Is(err, sql.ErrNoRows) {
		return economy.Account{}, economy.ErrNotFound
	}
	return a, err
}

func (s *Store) SaveAccount(ctx context.Context, a economy.Account) error {
	if err := s.check(); err != nil {
		return err
	}
	return upsertAccount(ctx, s.db, a)
}

// SaveAccounts writes all accounts in one transaction.
func (s *Store) SaveAccounts(ctx context.Context, accts ...economy.Account) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, a := range accts {
			if err := upsertAccount(ctx, tx, a); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListAccounts(ctx context.Context, guildID string) ([]economy.Account, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+accountColumns+`
		from economy_accounts
		where guild_id = $1
		order by user_id
	`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []economy.Account
	for rows.Next() {
		a, err := scanAccount(rows, guildID)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) Guilds(ctx context.Context) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.queryStrings(ctx, `select distinct guild_id from economy_accounts order by guild_id`)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func upsertAccount(ctx context.Context, db execer, a economy.Account) error {
	_, err := db.ExecContext(ctx, `
		insert into economy_accounts (guild_id, user_id, wallet, bank, location, birthday, last_interest_at, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		on conflict (guild_id, user_id) do update
		set wallet = excluded.wallet,
		    bank = excluded.bank,
		    location = excluded.location,
		    birthday = excluded.birthday,
		    last_interest_at = excluded.last_interest_at,
		    updated_at = excluded.updated_at
	`, a.GuildID, a.UserID, a.Wallet, a.Bank, nullString(a.Profile.Location), nullString(a.Profile.Birthday),
		nullTime(a.LastInterestAt), a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	return err
}

func scanAccount(row scanner, guildID string) (economy.Account, error) {
	a := economy.Account{GuildID: guildID}
	var (
		location, birthday sql.NullString
		lastInterest       sql.NullTime
	)
	if err := row.Scan(&a.UserID, &a.Wallet, &a.Bank, &location, &birthday, &lastInterest, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return economy.Account{}, err
	}
	if location.Valid {
		a.Profile.Location = &location.String
	}
	if birthday.Valid {
		a.Profile.Birthday = &birthday.String
	}
	if lastInterest.Valid {
		a.LastInterestAt = lastInterest.Time
	}
	return a, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return nullIfEmpty(*p)
}
