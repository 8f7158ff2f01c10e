package leveling

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"concord.chat/internal/audit"
)

// Settings is the administrative facade over guild leveling configuration.
type Settings struct {
	store ConfigStore
	now   func() time.Time
}

// NewSettings wraps a config store.
func NewSettings(store ConfigStore) (*Settings, error) {
	if store == nil {
		return nil, errors.New("leveling: config store is required")
	}
	return &Settings{store: store, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Config returns the stored config merged over defaults.
func (s *Settings) Config(ctx context.Context, guildID string) (Config, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return Config{}, fmt.Errorf("%w: guild id is required", ErrInvalidInput)
	}
	cfg, err := s.store.LevelingConfig(ctx, guildID)
	if errors.Is(err, ErrNotFound) {
		return DefaultConfig(guildID), nil
	}
	if err != nil {
		return Config{}, err
	}
	cfg.GuildID = guildID
	return cfg.Normalized(), nil
}

func (s *Settings) update(ctx context.Context, guildID, event string, fields map[string]any, fn func(*Config)) (Config, error) {
	cfg, err := s.Config(ctx, guildID)
	if err != nil {
		return Config{}, err
	}
	fn(&cfg)
	cfg.UpdatedAt = s.now()
	if err := s.store.SaveLevelingConfig(ctx, cfg); err != nil {
		return Config{}, err
	}
	fields["guild_id"] = cfg.GuildID
	_ = audit.LogEvent(ctx, event, fields)
	return cfg, nil
}

// SetXPRange sets the inclusive per-message XP bounds.
func (s *Settings) SetXPRange(ctx context.Context, guildID string, minXP, maxXP int64) (Config, error) {
	if minXP <= 0 || maxXP < minXP || maxXP > maxXPPerMessage {
		return Config{}, fmt.Errorf("%w: xp range must satisfy 0 < min <= max <= %d", ErrInvalidInput, maxXPPerMessage)
	}
	return s.update(ctx, guildID, "leveling.xp_range.set", map[string]any{"min": minXP, "max": maxXP}, func(c *Config) {
		c.MinXP, c.MaxXP = minXP, maxXP
	})
}

// SetCooldown sets the minimum interval between grants.
func (s *Settings) SetCooldown(ctx context.Context, guildID string, cooldown time.Duration) (Config, error) {
	secs := int64(cooldown / time.Second)
	if cooldown < 0 || secs > maxCooldown {
		return Config{}, fmt.Errorf("%w: cooldown must be between 0s and 24h", ErrInvalidInput)
	}
	return s.update(ctx, guildID, "leveling.cooldown.set", map[string]any{"seconds": secs}, func(c *Config) {
		c.CooldownSeconds = secs
	})
}

// SetMinMessageLength sets the shortest message, in characters, that earns XP.
func (s *Settings) SetMinMessageLength(ctx context.Context, guildID string, n int) (Config, error) {
	if n < 0 {
		return Config{}, fmt.Errorf("%w: minimum length must be >= 0", ErrInvalidInput)
	}
	return s.update(ctx, guildID, "leveling.min_length.set", map[string]any{"length": n}, func(c *Config) {
		c.MinMessageLength = n
	})
}

func (s *Settings) BlacklistChannel(ctx context.Context, guildID, channelID string) (Config, error) {
	return s.toggle(ctx, guildID, "leveling.channel.blacklist", channelID, true, func(c *Config) *[]string { return &c.BlacklistedChannels })
}

func (s *Settings) UnblacklistChannel(ctx context.Context, guildID, channelID string) (Config, error) {
	return s.toggle(ctx, guildID, "leveling.channel.unblacklist", channelID, false, func(c *Config) *[]string { return &c.BlacklistedChannels })
}

func (s *Settings) BlacklistRole(ctx context.Context, guildID, roleID string) (Config, error) {
	return s.toggle(ctx, guildID, "leveling.role.blacklist", roleID, true, func(c *Config) *[]string { return &c.BlacklistedRoles })
}

func (s *Settings) UnblacklistRole(ctx context.Context, guildID, roleID string) (Config, error) {
	return s.toggle(ctx, guildID, "leveling.role.unblacklist", roleID, false, func(c *Config) *[]string { return &c.BlacklistedRoles })
}

func (s *Settings) toggle(ctx context.Context, guildID, event, id string, add bool, list func(*Config) *[]string) (Config, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Config{}, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	return s.update(ctx, guildID, event, map[string]any{"id": id}, func(c *Config) {
		l := list(c)
		if add {
			if !slices.Contains(*l, id) {
				*l = append(*l, id)
			}
			return
		}
		*l = slices.DeleteFunc(*l, func(v string) bool { return v == id })
	})
}

// SetNotificationChannel routes level-up messages; an empty id announces in
// the channel where the member leveled up.
func (s *Settings) SetNotificationChannel(ctx context.Context, guildID, channelID string) (Config, error) {
	channelID = strings.TrimSpace(channelID)
	return s.update(ctx, guildID, "leveling.notify_channel.set", map[string]any{"channel_id": channelID}, func(c *Config) {
		c.NotificationChannelID = channelID
	})
}

// SetMessageTemplate sets the level-up text; an empty template restores the default.
func (s *Settings) SetMessageTemplate(ctx context.Context, guildID, tmpl string) (Config, error) {
	tmpl = strings.TrimSpace(tmpl)
	if len(tmpl) > 2000 {
		return Config{}, fmt.Errorf("%w: template exceeds 2000 characters", ErrInvalidInput)
	}
	if tmpl == "" {
		tmpl = DefaultMessageTemplate
	}
	return s.update(ctx, guildID, "leveling.template.set", map[string]any{"template": tmpl}, func(c *Config) {
		c.MessageTemplate = tmpl
	})
}
