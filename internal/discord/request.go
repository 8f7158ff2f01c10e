package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Request is one slash-command invocation, flattened out of the interaction.
type Request struct {
	GuildID   string
	ChannelID string
	UserID    string
	// Command is the top-level command name, the key access checks run against.
	Command string
	// Sub is the subcommand path below Command, e.g. "create" or "" for leaf commands.
	Sub     string
	Options map[string]*discordgo.ApplicationCommandInteractionDataOption
}

// Path returns "command sub" or just the command.
func (r Request) Path() string {
	if r.Sub == "" {
		return r.Command
	}
	return r.Command + " " + r.Sub
}

// String returns a string, user, channel or role option.
func (r Request) String(name string) string {
	opt, ok := r.Options[name]
	if !ok || opt == nil {
		return ""
	}
	if s, ok := opt.Value.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// Int returns an integer option. Numbers arrive as float64 from the gateway JSON.
func (r Request) Int(name string) (int64, bool) {
	opt, ok := r.Options[name]
	if !ok || opt == nil {
		return 0, false
	}
	switch v := opt.Value.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

// Bool returns a boolean option, false when absent.
func (r Request) Bool(name string) bool {
	opt, ok := r.Options[name]
	if !ok || opt == nil {
		return false
	}
	b, _ := opt.Value.(bool)
	return b
}

// requestFromInteraction flattens an application-command interaction. It
// reports false for interactions outside a guild.
func requestFromInteraction(i *discordgo.InteractionCreate) (Request, bool) {
	if i == nil || i.Interaction == nil || i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		return Request{}, false
	}
	data := i.ApplicationCommandData()
	req := Request{
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		UserID:    i.Member.User.ID,
		Command:   strings.ToLower(data.Name),
	}
	req.Sub, req.Options = flatten(data.Options)
	return req, true
}

func flatten(opts []*discordgo.ApplicationCommandInteractionDataOption) (string, map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	var path []string
	for len(opts) == 1 && opts[0] != nil &&
		(opts[0].Type == discordgo.ApplicationCommandOptionSubCommandGroup || opts[0].Type == discordgo.ApplicationCommandOptionSubCommand) {
		path = append(path, opts[0].Name)
		opts = opts[0].Options
	}
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, o := range opts {
		if o != nil {
			out[o.Name] = o
		}
	}
	return strings.Join(path, " "), out
}
