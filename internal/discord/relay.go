package discord

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"concord.chat/internal/leveling"
	"concord.chat/internal/obs"
)

// ErrRateLimited is returned by Deliver when the guild's budget is spent.
var ErrRateLimited = errors.New("discord: guild notification rate exceeded")

// Sender posts a message to a channel. *discordgo.Session satisfies it.
type Sender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Relay posts level-up events to their target channels.
type Relay struct {
	sender  Sender
	timeout time.Duration
	limit   rate.Limit
	burst   int
	log     *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithSendTimeout bounds each send.
func WithSendTimeout(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithGuildRate allows perSecond messages per guild with the given burst.
func WithGuildRate(perSecond float64, burst int) RelayOption {
	return func(r *Relay) {
		if perSecond > 0 {
			r.limit = rate.Limit(perSecond)
		}
		if burst > 0 {
			r.burst = burst
		}
	}
}

func WithRelayLogger(l *zap.Logger) RelayOption { return func(r *Relay) { r.log = l } }

// NewRelay builds a relay with one message per second and a burst of five per guild.
func NewRelay(sender Sender, opts ...RelayOption) (*Relay, error) {
	if sender == nil {
		return nil, errors.New("discord: sender is required")
	}
	r := &Relay{
		sender:   sender,
		timeout:  5 * time.Second,
		limit:    rate.Limit(1),
		burst:    5,
		log:      obs.Logger(),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run delivers events until ctx ends or the channel closes.
func (r *Relay) Run(ctx context.Context, events <-chan leveling.LevelUpEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			_ = r.Deliver(ctx, ev)
		}
	}
}

// Deliver sends one event. Failures are logged and counted; the event is not retried.
func (r *Relay) Deliver(ctx context.Context, ev leveling.LevelUpEvent) error {
	if ev.ChannelID == "" || ev.Message == "" {
		obs.Notifications.WithLabelValues("skipped").Inc()
		return nil
	}
	if !r.limiter(ev.GuildID).Allow() {
		obs.Notifications.WithLabelValues("rate_limited").Inc()
		r.log.Warn("level-up notification dropped",
			zap.String("guild_id", ev.GuildID),
			zap.String("user_id", ev.UserID),
			zap.Int("level", ev.Level))
		return ErrRateLimited
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if _, err := r.sender.ChannelMessageSend(ev.ChannelID, ev.Message, discordgo.WithContext(sendCtx)); err != nil {
		obs.Notifications.WithLabelValues("error").Inc()
		r.log.Warn("level-up notification failed",
			zap.String("event_id", ev.ID),
			zap.String("guild_id", ev.GuildID),
			zap.String("channel_id", ev.ChannelID),
			zap.Error(err))
		return err
	}
	obs.Notifications.WithLabelValues("sent").Inc()
	return nil
}

func (r *Relay) limiter(guildID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[guildID]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[guildID] = l
	}
	return l
}
