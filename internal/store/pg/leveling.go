package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"concord.chat/internal/leveling"
)

var (
	_ leveling.Store       = (*Store)(nil)
	_ leveling.ConfigStore = (*Store)(nil)
)

func (s *Store) XPRecord(ctx context.Context, guildID, userID string) (leveling.Record, error) {
	if err := s.check(); err != nil {
		return leveling.Record{}, err
	}
	rec := leveling.Record{GuildID: guildID, UserID: userID}
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		select xp, level, last_xp_gain, created_at, updated_at
		from xp_records
		where guild_id = $1 and user_id = $2
	`, guildID, userID).Scan(&rec.XP, &rec.Level, &last, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return leveling.Record{}, leveling.ErrNotFound
	}
	if err != nil {
		return leveling.Record{}, err
	}
	if last.Valid {
		rec.LastXPGain = last.Time
	}
	return rec, nil
}

// SaveXPRecord upserts xp, level and last gain in one statement.
func (s *Store) SaveXPRecord(ctx context.Context, rec leveling.Record) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		insert into xp_records (guild_id, user_id, xp, level, last_xp_gain, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (guild_id, user_id) do update
		set xp = excluded.xp,
		    level = excluded.level,
		    last_xp_gain = excluded.last_xp_gain,
		    updated_at = excluded.updated_at
	`, rec.GuildID, rec.UserID, rec.XP, rec.Level, nullTime(rec.LastXPGain), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	return err
}

// ApplyXP increments xp in place, so concurrent writers from other processes
// add up instead of overwriting each other. The cutoff guard runs inside the
// same statement as the increment.
func (s *Store) ApplyXP(ctx context.Context, d leveling.XPDelta) (leveling.Record, error) {
	if err := s.check(); err != nil {
		return leveling.Record{}, err
	}
	rec := leveling.Record{GuildID: d.GuildID, UserID: d.UserID}
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		insert into xp_records as r (guild_id, user_id, xp, level, last_xp_gain, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $6)
		on conflict (guild_id, user_id) do update
		set xp = r.xp + excluded.xp,
		    level = floor(sqrt(((r.xp + excluded.xp) / 100)::float8))::int + 1,
		    last_xp_gain = coalesce(excluded.last_xp_gain, r.last_xp_gain),
		    updated_at = excluded.updated_at
		where $7::timestamptz is null or r.last_xp_gain is null or r.last_xp_gain <= $7::timestamptz
		returning xp, level, last_xp_gain, created_at, updated_at
	`, d.GuildID, d.UserID, d.Amount, leveling.LevelFor(d.Amount), nullTime(d.GainedAt), d.At.UTC(), nullTime(d.Cutoff)).
		Scan(&rec.XP, &rec.Level, &last, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return leveling.Record{}, leveling.ErrCooldown
	}
	if err != nil {
		return leveling.Record{}, err
	}
	if last.Valid {
		rec.LastXPGain = last.Time
	}
	return rec, nil
}

func (s *Store) ListXPRecords(ctx context.Context, guildID string) ([]leveling.Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select user_id, xp, level, last_xp_gain, created_at, updated_at
		from xp_records
		where guild_id = $1
		order by xp desc, level desc, user_id
	`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leveling.Record
	for rows.Next() {
		rec := leveling.Record{GuildID: guildID}
		var last sql.NullTime
		if err := rows.Scan(&rec.UserID, &rec.XP, &rec.Level, &last, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if last.Valid {
			rec.LastXPGain = last.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) DeleteXPRecord(ctx context.Context, guildID, userID string) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `delete from xp_records where guild_id = $1 and user_id = $2`, guildID, userID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return leveling.ErrNotFound
	}
	return nil
}

func (s *Store) LevelingConfig(ctx context.Context, guildID string) (leveling.Config, error) {
	if err := s.check(); err != nil {
		return leveling.Config{}, err
	}
	cfg := leveling.Config{GuildID: guildID}
	var (
		channels, roles []byte
		notify          sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select min_xp, max_xp, cooldown_seconds, min_message_length,
		       blacklisted_channels, blacklisted_roles, notification_channel_id,
		       message_template, updated_at
		from leveling_configs
		where guild_id = $1
	`, guildID).Scan(&cfg.MinXP, &cfg.MaxXP, &cfg.CooldownSeconds, &cfg.MinMessageLength,
		&channels, &roles, &notify, &cfg.MessageTemplate, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return leveling.Config{}, leveling.ErrNotFound
	}
	if err != nil {
		return leveling.Config{}, err
	}
	if err := decodeList(channels, &cfg.BlacklistedChannels); err != nil {
		return leveling.Config{}, fmt.Errorf("decode blacklisted channels: %w", err)
	}
	if err := decodeList(roles, &cfg.BlacklistedRoles); err != nil {
		return leveling.Config{}, fmt.Errorf("decode blacklisted roles: %w", err)
	}
	cfg.NotificationChannelID = notify.String
	return cfg, nil
}

func (s *Store) SaveLevelingConfig(ctx context.Context, cfg leveling.Config) error {
	if err := s.check(); err != nil {
		return err
	}
	channels, err := encodeList(cfg.BlacklistedChannels)
	if err != nil {
		return fmt.Errorf("marshal blacklisted channels: %w", err)
	}
	roles, err := encodeList(cfg.BlacklistedRoles)
	if err != nil {
		return fmt.Errorf("marshal blacklisted roles: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into leveling_configs (guild_id, min_xp, max_xp, cooldown_seconds, min_message_length,
		                              blacklisted_channels, blacklisted_roles, notification_channel_id,
		                              message_template, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		on conflict (guild_id) do update
		set min_xp = excluded.min_xp,
		    max_xp = excluded.max_xp,
		    cooldown_seconds = excluded.cooldown_seconds,
		    min_message_length = excluded.min_message_length,
		    blacklisted_channels = excluded.blacklisted_channels,
		    blacklisted_roles = excluded.blacklisted_roles,
		    notification_channel_id = excluded.notification_channel_id,
		    message_template = excluded.message_template,
		    updated_at = now()
	`, cfg.GuildID, cfg.MinXP, cfg.MaxXP, cfg.CooldownSeconds, cfg.MinMessageLength,
		channels, roles, nullIfEmpty(cfg.NotificationChannelID), cfg.MessageTemplate)
	return err
}

func encodeList(v []string) ([]byte, error) {
	if len(v) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(v)
}

func decodeList(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
