package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"concord.chat/internal/perm"
)

// Referential integrity comes from the schema: every permission reference is
// a foreign key with on delete cascade.

var _ perm.Store = (*Store)(nil)

func (s *Store) CreatePermission(ctx context.Context, guildID, name string) (perm.Permission, error) {
	if err := s.check(); err != nil {
		return perm.Permission{}, err
	}
	p := perm.Permission{GuildID: guildID, Name: name}
	err := s.db.QueryRowContext(ctx, `
		insert into permissions (guild_id, name)
		values ($1, $2)
		returning created_at
	`, guildID, name).Scan(&p.CreatedAt)
	if err != nil {
		if isCode(err, pgErrUniqueViolation) {
			return perm.Permission{}, perm.ErrAlreadyExists
		}
		return perm.Permission{}, err
	}
	return p, nil
}

func (s *Store) PermissionExists(ctx context.Context, guildID, name string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		select exists (select 1 from permissions where guild_id = $1 and name = $2)
	`, guildID, name).Scan(&ok)
	return ok, err
}

func (s *Store) ListPermissions(ctx context.Context, guildID string) ([]perm.Permission, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select name, created_at
		from permissions
		where guild_id = $1
		order by name
	`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []perm.Permission
	for rows.Next() {
		p := perm.Permission{GuildID: guildID}
		if err := rows.Scan(&p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePermission(ctx context.Context, guildID, name string) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `delete from permissions where guild_id = $1 and name = $2`, guildID, name)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return perm.ErrNotFound
	}
	return nil
}

func (s *Store) UserGrant(ctx context.Context, guildID, userID string) (perm.UserGrant, error) {
	if err := s.check(); err != nil {
		return perm.UserGrant{}, err
	}
	g := perm.UserGrant{GuildID: guildID, UserID: userID}
	var err error
	g.Permissions, err = s.queryStrings(ctx, `
		select permission from user_permissions
		where guild_id = $1 and user_id = $2
		order by granted_at, permission
	`, guildID, userID)
	if err != nil {
		return perm.UserGrant{}, err
	}
	g.Groups, err = s.queryStrings(ctx, `
		select group_key from user_groups
		where guild_id = $1 and user_id = $2
		order by joined_at, group_key
	`, guildID, userID)
	if err != nil {
		return perm.UserGrant{}, err
	}
	if len(g.Permissions) == 0 && len(g.Groups) == 0 {
		return perm.UserGrant{}, perm.ErrNotFound
	}
	return g, nil
}

func (s *Store) AddUserPermission(ctx context.Context, guildID, userID, name string) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_permissions (guild_id, user_id, permission)
		values ($1, $2, $3)
		on conflict do nothing
	`, guildID, userID, name)
	if isCode(err, pgErrForeignKeyViolation) {
		return fmt.Errorf("%w: %s", perm.ErrUnknownPermission, name)
	}
	return err
}

func (s *Store) RemoveUserPermission(ctx context.Context, guildID, userID, name string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockPermission(ctx, tx, guildID, name); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			delete from user_permissions
			where guild_id = $1 and user_id = $2 and permission = $3
		`, guildID, userID, name)
		return err
	})
}

func (s *Store) AddUserGroup(ctx context.Context, guildID, userID, groupKey string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockGroup(ctx, tx, guildID, groupKey); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			insert into user_groups (guild_id, user_id, group_key)
			values ($1, $2, $3)
			on conflict do nothing
		`, guildID, userID, groupKey)
		return err
	})
}

func (s *Store) RemoveUserGroup(ctx context.Context, guildID, userID, groupKey string) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		delete from user_groups
		where guild_id = $1 and user_id = $2 and group_key = $3
	`, guildID, userID, groupKey)
	return err
}

func (s *Store) CreateGroup(ctx context.Context, guildID, key, name string) (perm.Group, error) {
	if err := s.check(); err != nil {
		return perm.Group{}, err
	}
	g := perm.Group{GuildID: guildID, Key: key, Name: name}
	err := s.db.QueryRowContext(ctx, `
		insert into perm_groups (guild_id, key, name)
		values ($1, $2, $3)
		returning created_at
	`, guildID, key, name).Scan(&g.CreatedAt)
	if err != nil {
		if isCode(err, pgErrUniqueViolation) {
			return perm.Group{}, perm.ErrAlreadyExists
		}
		return perm.Group{}, err
	}
	return g, nil
}

func (s *Store) Group(ctx context.Context, guildID, key string) (perm.Group, error) {
	if err := s.check(); err != nil {
		return perm.Group{}, err
	}
	g := perm.Group{GuildID: guildID, Key: key}
	err := s.db.QueryRowContext(ctx, `
		select name, created_at from perm_groups
		where guild_id = $1 and key = $2
	`, guildID, key).Scan(&g.Name, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return perm.Group{}, perm.ErrNotFound
	}
	if err != nil {
		return perm.Group{}, err
	}
	g.Permissions, err = s.queryStrings(ctx, `
		select permission from group_permissions
		where guild_id = $1 and group_key = $2
		order by permission
	`, guildID, key)
	if err != nil {
		return perm.Group{}, err
	}
	return g, nil
}

func (s *Store) ListGroups(ctx context.Context, guildID string) ([]perm.Group, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select g.key, g.name, g.created_at, gp.permission
		from perm_groups g
		left join group_permissions gp on gp.guild_id = g.guild_id and gp.group_key = g.key
		where g.guild_id = $1
		order by g.key, gp.permission
	`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []perm.Group
	for rows.Next() {
		var (
			g    perm.Group
			name sql.NullString
		)
		if err := rows.Scan(&g.Key, &g.Name, &g.CreatedAt, &name); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].Key != g.Key {
			g.GuildID = guildID
			out = append(out, g)
		}
		if name.Valid {
			last := &out[len(out)-1]
			last.Permissions = append(last.Permissions, name.String)
		}
	}
	return out, rows.Err()
}

func (s *Store) DeleteGroup(ctx context.Context, guildID, key string) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `delete from perm_groups where guild_id = $1 and key = $2`, guildID, key)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return perm.ErrNotFound
	}
	return nil
}

func (s *Store) AddGroupPermission(ctx context.Context, guildID, groupKey, name string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockGroup(ctx, tx, guildID, groupKey); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			insert into group_permissions (guild_id, group_key, permission)
			values ($1, $2, $3)
			on conflict do nothing
		`, guildID, groupKey, name)
		if isCode(err, pgErrForeignKeyViolation) {
			return fmt.Errorf("%w: %s", perm.ErrUnknownPermission, name)
		}
		return err
	})
}

func (s *Store) RemoveGroupPermission(ctx context.Context, guildID, groupKey, name string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockGroup(ctx, tx, guildID, groupKey); err != nil {
			return err
		}
		if err := lockPermission(ctx, tx, guildID, name); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			delete from group_permissions
			where guild_id = $1 and group_key = $2 and permission = $3
		`, guildID, groupKey, name)
		return err
	})
}

func (s *Store) CommandRequirement(ctx context.Context, guildID, command string) (perm.CommandRequirement, error) {
	if err := s.check(); err != nil {
		return perm.CommandRequirement{}, err
	}
	names, err := s.queryStrings(ctx, `
		select permission from command_permissions
		where guild_id = $1 and command = $2
		order by position, permission
	`, guildID, command)
	if err != nil {
		return perm.CommandRequirement{}, err
	}
	if len(names) == 0 {
		return perm.CommandRequirement{}, perm.ErrNotFound
	}
	return perm.CommandRequirement{GuildID: guildID, Command: command, Permissions: names}, nil
}

func (s *Store) SetCommandRequirement(ctx context.Context, guildID, command string, names []string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			delete from command_permissions where guild_id = $1 and command = $2
		`, guildID, command); err != nil {
			return err
		}
		for i, name := range names {
			_, err := tx.ExecContext(ctx, `
				insert into command_permissions (guild_id, command, permission, position)
				values ($1, $2, $3, $4)
				on conflict do nothing
			`, guildID, command, name, i)
			if isCode(err, pgErrForeignKeyViolation) {
				return fmt.Errorf("%w: %s", perm.ErrUnknownPermission, name)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListCommandRequirements(ctx context.Context, guildID string) ([]perm.CommandRequirement, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select command, permission from command_permissions
		where guild_id = $1
		order by command, position, permission
	`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []perm.CommandRequirement
	for rows.Next() {
		var cmd, name string
		if err := rows.Scan(&cmd, &name); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].Command != cmd {
			out = append(out, perm.CommandRequirement{GuildID: guildID, Command: cmd})
		}
		last := &out[len(out)-1]
		last.Permissions = append(last.Permissions, name)
	}
	return out, rows.Err()
}

// lockPermission fails with ErrUnknownPermission unless the permission exists,
// and holds it against concurrent deletion until the transaction ends.
func lockPermission(ctx context.Context, tx *sql.Tx, guildID, name string) error {
	var one int
	err := tx.QueryRowContext(ctx, `
		select 1 from permissions where guild_id = $1 and name = $2 for share
	`, guildID, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", perm.ErrUnknownPermission, name)
	}
	return err
}

func lockGroup(ctx context.Context, tx *sql.Tx, guildID, key string) error {
	var one int
	err := tx.QueryRowContext(ctx, `
		select 1 from perm_groups where guild_id = $1 and key = $2 for share
	`, guildID, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return perm.ErrNotFound
	}
	return err
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
