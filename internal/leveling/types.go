package leveling

import (
	"context"
	"slices"
	"time"
)

// Record is the persisted experience of one member in one guild.
// Level is derived from XP and is only ever written together with it.
type Record struct {
	GuildID    string    `json:"guild_id"`
	UserID     string    `json:"user_id"`
	XP         int64     `json:"xp"`
	Level      int       `json:"level"`
	LastXPGain time.Time `json:"last_xp_gain,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// XPDelta is an increment the store applies atomically to the persisted
// record, creating it when missing.
type XPDelta struct {
	GuildID string
	UserID  string
	Amount  int64
	// GainedAt, when set, becomes the record's LastXPGain.
	GainedAt time.Time
	// Cutoff, when set, limits the write to records whose LastXPGain is unset
	// or not after Cutoff. A rejected write returns ErrCooldown.
	Cutoff time.Time
	At     time.Time
}

// Store persists XP records.
type Store interface {
	XPRecord(ctx context.Context, guildID, userID string) (Record, error)
	SaveXPRecord(ctx context.Context, rec Record) error
	// ApplyXP adds d.Amount to the stored XP and returns the record as written.
	ApplyXP(ctx context.Context, d XPDelta) (Record, error)
	ListXPRecords(ctx context.Context, guildID string) ([]Record, error)
	DeleteXPRecord(ctx context.Context, guildID, userID string) error
}

// ConfigStore persists per-guild leveling settings.
type ConfigStore interface {
	LevelingConfig(ctx context.Context, guildID string) (Config, error)
	SaveLevelingConfig(ctx context.Context, cfg Config) error
}

const (
	DefaultMinXP            = 5
	DefaultMaxXP            = 10
	DefaultCooldownSeconds  = 60
	DefaultMinMessageLength = 1
	DefaultMessageTemplate  = "Congratulations {user}, you reached level {level}!"

	maxXPPerMessage = 1000
	maxCooldown     = 24 * 60 * 60
)

// Config holds the leveling settings of a guild.
type Config struct {
	GuildID               string    `json:"guild_id"`
	MinXP                 int64     `json:"min_xp"`
	MaxXP                 int64     `json:"max_xp"`
	CooldownSeconds       int64     `json:"cooldown_seconds"`
	MinMessageLength      int       `json:"min_message_length"`
	BlacklistedChannels   []string  `json:"blacklisted_channels"`
	BlacklistedRoles      []string  `json:"blacklisted_roles"`
	NotificationChannelID string    `json:"notification_channel_id,omitempty"`
	MessageTemplate       string    `json:"message_template,omitempty"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// DefaultConfig returns the settings used when a guild has none.
func DefaultConfig(guildID string) Config {
	return Config{
		GuildID:          guildID,
		MinXP:            DefaultMinXP,
		MaxXP:            DefaultMaxXP,
		CooldownSeconds:  DefaultCooldownSeconds,
		MinMessageLength: DefaultMinMessageLength,
		MessageTemplate:  DefaultMessageTemplate,
	}
}

// Normalized replaces malformed values with defaults.
func (c Config) Normalized() Config {
	d := DefaultConfig(c.GuildID)
	if c.MinXP <= 0 || c.MaxXP <= 0 || c.MinXP > c.MaxXP || c.MaxXP > maxXPPerMessage {
		c.MinXP, c.MaxXP = d.MinXP, d.MaxXP
	}
	if c.CooldownSeconds < 0 || c.CooldownSeconds > maxCooldown {
		c.CooldownSeconds = d.CooldownSeconds
	}
	if c.MinMessageLength < 0 {
		c.MinMessageLength = d.MinMessageLength
	}
	if c.MessageTemplate == "" {
		c.MessageTemplate = d.MessageTemplate
	}
	c.BlacklistedChannels = slices.Clone(c.BlacklistedChannels)
	c.BlacklistedRoles = slices.Clone(c.BlacklistedRoles)
	return c
}

// Cooldown is the minimum interval between two grants to the same member.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// ChannelBlacklisted reports whether messages in channelID earn no XP.
func (c Config) ChannelBlacklisted(channelID string) bool {
	return slices.Contains(c.BlacklistedChannels, channelID)
}

// RoleBlacklisted reports whether any of roleIDs excludes the member from XP.
func (c Config) RoleBlacklisted(roleIDs []string) bool {
	for _, r := range roleIDs {
		if slices.Contains(c.BlacklistedRoles, r) {
			return true
		}
	}
	return false
}
