package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"concord.chat/internal/leveling"
	"concord.chat/internal/obs"
)

// Intents are the gateway intents the bot needs for XP and member names.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsMessageContent |
	discordgo.IntentsGuildMembers

// Options configure a Bot.
type Options struct {
	AppID string
	// GuildIDs get guild-scoped command registration; empty registers globally.
	GuildIDs         []string
	RegisterCommands bool
	// HandlerTimeout bounds one message or interaction handler.
	HandlerTimeout time.Duration
	Logger         *zap.Logger
}

// Bot owns the gateway session and routes its events.
type Bot struct {
	session *discordgo.Session
	router  *Router
	engine  *leveling.Engine
	opts    Options
	log     *zap.Logger
}

// NewSession creates a bot session with the required intents and state
// tracking. It does not connect.
func NewSession(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, errors.New("discord: token is required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = Intents
	s.StateEnabled = true
	return s, nil
}

// New registers event handlers on s. The gateway is not opened until Run.
func New(s *discordgo.Session, opts Options, router *Router, engine *leveling.Engine) (*Bot, error) {
	if s == nil {
		return nil, errors.New("discord: session is required")
	}
	if router == nil || engine == nil {
		return nil, errors.New("discord: router and engine are required")
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = obs.Logger()
	}
	b := &Bot{session: s, router: router, engine: engine, opts: opts, log: log}
	s.AddHandler(b.onReady)
	s.AddHandler(b.onMessageCreate)
	s.AddHandler(b.onInteractionCreate)
	return b, nil
}

// Session exposes the session for the relay and name resolver.
func (b *Bot) Session() *discordgo.Session { return b.session }

// Run opens the gateway, registers commands and blocks until ctx ends.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	defer b.session.Close()

	if b.opts.RegisterCommands {
		if err := b.registerCommands(); err != nil {
			return err
		}
	}
	<-ctx.Done()
	b.log.Info("discord session closing")
	return nil
}

func (b *Bot) registerCommands() error {
	appID := b.opts.AppID
	if appID == "" && b.session.State != nil && b.session.State.User != nil {
		appID = b.session.State.User.ID
	}
	if appID == "" {
		return errors.New("discord: application id unknown, set discord.app_id")
	}
	guilds := b.opts.GuildIDs
	if len(guilds) == 0 {
		guilds = []string{""}
	}
	cmds := Commands()
	for _, g := range guilds {
		if _, err := b.session.ApplicationCommandBulkOverwrite(appID, g, cmds); err != nil {
			return fmt.Errorf("register commands (guild %q): %w", g, err)
		}
		b.log.Info("slash commands registered", zap.String("guild_id", g), zap.Int("count", len(cmds)))
	}
	return nil
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	user := ""
	if r.User != nil {
		user = r.User.Username
	}
	b.log.Info("discord ready", zap.String("user", user), zap.Int("guilds", len(r.Guilds)))
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	a, ok := ActivityFromMessage(m)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.HandlerTimeout)
	defer cancel()
	if _, err := b.engine.HandleActivity(ctx, a); err != nil {
		b.log.Warn("xp grant failed",
			zap.String("guild_id", a.GuildID),
			zap.String("user_id", a.UserID),
			zap.Error(err))
	}
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	var resp Response
	if req, ok := requestFromInteraction(i); ok {
		ctx, cancel := context.WithTimeout(context.Background(), b.opts.HandlerTimeout)
		defer cancel()
		resp = b.router.Dispatch(ctx, req)
	} else {
		resp = private("Commands are only available in servers.")
	}
	if err := s.InteractionRespond(i.Interaction, interactionResponse(resp)); err != nil {
		b.log.Warn("interaction response failed", zap.String("interaction_id", i.ID), zap.Error(err))
	}
}

func interactionResponse(r Response) *discordgo.InteractionResponse {
	data := &discordgo.InteractionResponseData{
		Content:         r.Content,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if r.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}
}

// ActivityFromMessage converts a guild message into an XP activity. It
// reports false for direct messages and system events without an author.
func ActivityFromMessage(m *discordgo.MessageCreate) (leveling.Activity, bool) {
	if m == nil || m.Message == nil || m.GuildID == "" || m.Author == nil {
		return leveling.Activity{}, false
	}
	a := leveling.Activity{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		Bot:       m.Author.Bot,
		Content:   m.Content,
		At:        m.Timestamp,
	}
	if m.Member != nil {
		a.RoleIDs = append([]string(nil), m.Member.Roles...)
	}
	return a, true
}
