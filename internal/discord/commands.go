package discord

import "github.com/bwmarrin/discordgo"

var (
	manageGuild int64 = discordgo.PermissionManageServer
	guildOnly         = false

	minOne  = 1.0
	minZero = 0.0
)

func opt(t discordgo.ApplicationCommandOptionType, name, desc string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: t, Name: name, Description: desc, Required: required}
}

func sub(name, desc string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: desc,
		Options:     options,
	}
}

func positive(o *discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	o.MinValue = &minOne
	return o
}

func nonNegative(o *discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	o.MinValue = &minZero
	return o
}

func nameOpt(desc string) *discordgo.ApplicationCommandOption {
	return opt(discordgo.ApplicationCommandOptionString, "name", desc, true)
}

func userOpt(required bool) *discordgo.ApplicationCommandOption {
	return opt(discordgo.ApplicationCommandOptionUser, "user", "Member", required)
}

// Commands returns the slash commands the bot registers.
func Commands() []*discordgo.ApplicationCommand {
	admin := func(c *discordgo.ApplicationCommand) *discordgo.ApplicationCommand {
		c.DefaultMemberPermissions = &manageGuild
		c.DMPermission = &guildOnly
		return c
	}
	member := func(c *discordgo.ApplicationCommand) *discordgo.ApplicationCommand {
		c.DMPermission = &guildOnly
		return c
	}
	amount := func() *discordgo.ApplicationCommandOption {
		return positive(opt(discordgo.ApplicationCommandOptionInteger, "amount", "Amount of coins", true))
	}

	return []*discordgo.ApplicationCommand{
		member(&discordgo.ApplicationCommand{
			Name:        "rank",
			Description: "Show a member's level and leaderboard position",
			Options:     []*discordgo.ApplicationCommandOption{userOpt(false)},
		}),
		member(&discordgo.ApplicationCommand{
			Name:        "leaderboard",
			Description: "Show the server leaderboard",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "type",
					Description: "Ranking metric",
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "XP", Value: "xp"},
						{Name: "Balance", Value: "balance"},
					},
				},
				positive(opt(discordgo.ApplicationCommandOptionInteger, "page", "Page number", false)),
				opt(discordgo.ApplicationCommandOptionBoolean, "refresh", "Bypass the cache", false),
			},
		}),
		admin(&discordgo.ApplicationCommand{
			Name:        "perm",
			Description: "Manage permissions",
			Options: []*discordgo.ApplicationCommandOption{
				sub("create", "Register a permission", nameOpt("Permission name")),
				sub("delete", "Delete a permission everywhere it is used", nameOpt("Permission name")),
				sub("list", "List permissions"),
				sub("grant", "Grant a permission to a member", userOpt(true), nameOpt("Permission name")),
				sub("revoke", "Revoke a permission from a member", userOpt(true), nameOpt("Permission name")),
				sub("show", "Show a member's effective permissions", userOpt(false)),
				sub("check", "Check whether a member may run a command", userOpt(true),
					opt(discordgo.ApplicationCommandOptionString, "command", "Command name", true)),
			},
		}),
		admin(&discordgo.ApplicationCommand{
			Name:        "group",
			Description: "Manage permission groups",
			Options: []*discordgo.ApplicationCommandOption{
				sub("create", "Create a group", nameOpt("Group name")),
				sub("delete", "Delete a group", nameOpt("Group name")),
				sub("list", "List groups"),
				sub("join", "Add a member to a group", userOpt(true), nameOpt("Group name")),
				sub("leave", "Remove a member from a group", userOpt(true), nameOpt("Group name")),
				sub("grant", "Grant a permission to a group", nameOpt("Group name"),
					opt(discordgo.ApplicationCommandOptionString, "permission", "Permission name", true)),
				sub("revoke", "Revoke a permission from a group", nameOpt("Group name"),
					opt(discordgo.ApplicationCommandOptionString, "permission", "Permission name", true)),
			},
		}),
		admin(&discordgo.ApplicationCommand{
			Name:        "command",
			Description: "Manage command requirements",
			Options: []*discordgo.ApplicationCommandOption{
				sub("set", "Require any of the listed permissions for a command",
					opt(discordgo.ApplicationCommandOptionString, "command", "Command name", true),
					opt(discordgo.ApplicationCommandOptionString, "permissions", "Comma-separated permission names", true)),
				sub("clear", "Make a command unrestricted",
					opt(discordgo.ApplicationCommandOptionString, "command", "Command name", true)),
				sub("list", "List command requirements"),
			},
		}),
		admin(&discordgo.ApplicationCommand{
			Name:        "levels",
			Description: "Configure leveling",
			Options: []*discordgo.ApplicationCommandOption{
				sub("show", "Show the leveling configuration"),
				sub("xp-range", "Set XP granted per message",
					positive(opt(discordgo.ApplicationCommandOptionInteger, "min", "Minimum XP", true)),
					positive(opt(discordgo.ApplicationCommandOptionInteger, "max", "Maximum XP", true))),
				sub("cooldown", "Set seconds between XP grants",
					nonNegative(opt(discordgo.ApplicationCommandOptionInteger, "seconds", "Cooldown in seconds", true))),
				sub("min-length", "Set the minimum message length",
					nonNegative(opt(discordgo.ApplicationCommandOptionInteger, "length", "Characters", true))),
				sub("blacklist-channel", "Toggle XP in a channel",
					opt(discordgo.ApplicationCommandOptionChannel, "channel", "Channel", true),
					opt(discordgo.ApplicationCommandOptionBoolean, "remove", "Remove from the blacklist", false)),
				sub("blacklist-role", "Toggle XP for a role",
					opt(discordgo.ApplicationCommandOptionRole, "role", "Role", true),
					opt(discordgo.ApplicationCommandOptionBoolean, "remove", "Remove from the blacklist", false)),
				sub("notify-channel", "Set the level-up channel, empty posts where the member spoke",
					opt(discordgo.ApplicationCommandOptionChannel, "channel", "Channel", false)),
				sub("template", "Set the level-up message, {user} {level} {xp}, empty restores the default",
					opt(discordgo.ApplicationCommandOptionString, "text", "Template", false)),
			},
		}),
		member(&discordgo.ApplicationCommand{
			Name:        "balance",
			Description: "Show wallet and bank balance",
			Options:     []*discordgo.ApplicationCommandOption{userOpt(false)},
		}),
		member(&discordgo.ApplicationCommand{
			Name:        "deposit",
			Description: "Move coins from wallet to bank",
			Options:     []*discordgo.ApplicationCommandOption{amount()},
		}),
		member(&discordgo.ApplicationCommand{
			Name:        "withdraw",
			Description: "Move coins from bank to wallet",
			Options:     []*discordgo.ApplicationCommandOption{amount()},
		}),
		member(&discordgo.ApplicationCommand{
			Name:        "pay",
			Description: "Send coins to another member",
			Options:     []*discordgo.ApplicationCommandOption{userOpt(true), amount()},
		}),
	}
}
