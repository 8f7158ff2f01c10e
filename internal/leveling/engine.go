package leveling

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"concord.chat/internal/ids"
	"concord.chat/internal/obs"
)

// Activity is one message observed in a guild.
type Activity struct {
	GuildID   string
	ChannelID string
	UserID    string
	RoleIDs   []string
	Bot       bool
	Content   string
	At        time.Time
}

// LevelUpEvent is emitted when a grant moves a member to a higher level.
type LevelUpEvent struct {
	ID            string    `json:"id"`
	GuildID       string    `json:"guild_id"`
	UserID        string    `json:"user_id"`
	ChannelID     string    `json:"channel_id"`
	PreviousLevel int       `json:"previous_level"`
	Level         int       `json:"level"`
	XP            int64     `json:"xp"`
	Message       string    `json:"message"`
	OccurredAt    time.Time `json:"occurred_at"`
	Progress      Progress  `json:"progress"`
}

// Notifier delivers level-up announcements. Delivery is best effort.
type Notifier interface {
	NotifyLevelUp(ctx context.Context, ev LevelUpEvent) error
}

// Outcome of HandleActivity.
type Outcome struct {
	Granted bool
	Amount  int64
	// Skipped names the reason no XP was granted.
	Skipped string
	Result  Result
	Event   *LevelUpEvent
}

const (
	SkipBot        = "bot"
	SkipTooShort   = "too_short"
	SkipChannel    = "blacklisted_channel"
	SkipRole       = "blacklisted_role"
	SkipCooldown   = "cooldown"
	outcomeGranted = "granted"
	outcomeError   = "error"
)

// Engine awards XP for qualifying activity.
type Engine struct {
	ledger   *Ledger
	configs  ConfigStore
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
	randInt  func(n int64) int64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithNotifier(n Notifier) EngineOption { return func(e *Engine) { e.notifier = n } }

func WithEngineLogger(l *zap.Logger) EngineOption { return func(e *Engine) { e.log = l } }

func WithEngineClock(now func() time.Time) EngineOption { return func(e *Engine) { e.now = now } }

// WithRandom replaces the source of grant amounts; fn returns a value in [0, n).
func WithRandom(fn func(n int64) int64) EngineOption { return func(e *Engine) { e.randInt = fn } }

// NewEngine builds the grant engine. configs may be nil, in which case every
// guild uses DefaultConfig.
func NewEngine(ledger *Ledger, configs ConfigStore, opts ...EngineOption) (*Engine, error) {
	if ledger == nil {
		return nil, errors.New("leveling: ledger is required")
	}
	e := &Engine{
		ledger:  ledger,
		configs: configs,
		log:     obs.Logger(),
		now:     func() time.Time { return time.Now().UTC() },
		randInt: rand.Int64N,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// HandleActivity applies the qualification rules and cooldown, then grants a
// random amount of XP. Notification failures are logged, never returned.
func (e *Engine) HandleActivity(ctx context.Context, a Activity) (Outcome, error) {
	if a.Bot {
		return e.skip(SkipBot), nil
	}
	cfg := e.config(ctx, a.GuildID)
	if utf8.RuneCountInString(a.Content) < cfg.MinMessageLength {
		return e.skip(SkipTooShort), nil
	}
	if cfg.ChannelBlacklisted(a.ChannelID) {
		return e.skip(SkipChannel), nil
	}
	if cfg.RoleBlacklisted(a.RoleIDs) {
		return e.skip(SkipRole), nil
	}

	at := a.At
	if at.IsZero() {
		at = e.now()
	}
	amount := cfg.MinXP + e.randInt(cfg.MaxXP-cfg.MinXP+1)
	res, err := e.ledger.Grant(ctx, a.GuildID, a.UserID, amount, at, cfg.Cooldown())
	if errors.Is(err, ErrCooldown) {
		return e.skip(SkipCooldown), nil
	}
	if err != nil {
		obs.XPGrants.WithLabelValues(outcomeError).Inc()
		return Outcome{}, err
	}
	obs.XPGrants.WithLabelValues(outcomeGranted).Inc()
	out := Outcome{Granted: true, Amount: amount, Result: res}
	if !res.LeveledUp {
		return out, nil
	}

	obs.LevelUps.Inc()
	channel := cfg.NotificationChannelID
	if channel == "" {
		channel = a.ChannelID
	}
	ev := LevelUpEvent{
		ID:            ids.New(),
		GuildID:       a.GuildID,
		UserID:        a.UserID,
		ChannelID:     channel,
		PreviousLevel: res.PreviousLevel,
		Level:         res.Record.Level,
		XP:            res.Record.XP,
		Message:       RenderTemplate(cfg.MessageTemplate, a.UserID, res.Record.Level, res.Record.XP),
		OccurredAt:    at,
		Progress:      res.Progress,
	}
	out.Event = &ev
	if e.notifier != nil {
		if err := e.notifier.NotifyLevelUp(ctx, ev); err != nil {
			e.log.Warn("level-up notification failed",
				zap.String("guild_id", ev.GuildID),
				zap.String("user_id", ev.UserID),
				zap.Int("level", ev.Level),
				zap.Error(err))
		}
	}
	return out, nil
}

func (e *Engine) skip(reason string) Outcome {
	obs.XPGrants.WithLabelValues(reason).Inc()
	return Outcome{Skipped: reason}
}

// config never fails: a missing, malformed or unreachable config yields defaults.
func (e *Engine) config(ctx context.Context, guildID string) Config {
	if e.configs == nil {
		return DefaultConfig(guildID)
	}
	cfg, err := e.configs.LevelingConfig(ctx, guildID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			e.log.Warn("leveling config unavailable, using defaults",
				zap.String("guild_id", guildID), zap.Error(err))
		}
		return DefaultConfig(guildID)
	}
	cfg.GuildID = guildID
	return cfg.Normalized()
}

// RenderTemplate fills {user}, {level} and {xp}. {user} renders as a mention.
func RenderTemplate(tmpl, userID string, level int, xp int64) string {
	if tmpl == "" {
		tmpl = DefaultMessageTemplate
	}
	return strings.NewReplacer(
		"{user}", "<@"+userID+">",
		"{level}", strconv.Itoa(level),
		"{xp}", strconv.FormatInt(xp, 10),
	).Replace(tmpl)
}
