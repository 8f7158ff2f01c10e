package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"concord.chat/internal/access"
	"concord.chat/internal/audit"
	"concord.chat/internal/economy"
	"concord.chat/internal/leaderboard"
	"concord.chat/internal/leveling"
	"concord.chat/internal/obs"
	"concord.chat/internal/perm"
)

// Services are the domain collaborators slash commands call into.
type Services struct {
	Perms       *perm.Service
	Access      *access.Resolver
	Settings    *leveling.Settings
	Leaderboard *leaderboard.Service
	Bank        *economy.Bank
}

type handlerFunc func(ctx context.Context, req Request) (Response, error)

// Router gates commands through the access resolver and dispatches them.
type Router struct {
	svc      Services
	log      *zap.Logger
	handlers map[string]handlerFunc
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger overrides the shared logger.
func WithRouterLogger(l *zap.Logger) RouterOption { return func(r *Router) { r.log = l } }

// NewRouter validates the collaborators and builds the command table.
func NewRouter(svc Services, opts ...RouterOption) (*Router, error) {
	switch {
	case svc.Perms == nil:
		return nil, errors.New("discord: permission service is required")
	case svc.Access == nil:
		return nil, errors.New("discord: access resolver is required")
	case svc.Settings == nil:
		return nil, errors.New("discord: leveling settings are required")
	case svc.Leaderboard == nil:
		return nil, errors.New("discord: leaderboard service is required")
	case svc.Bank == nil:
		return nil, errors.New("discord: bank is required")
	}
	r := &Router{svc: svc, log: obs.Logger()}
	for _, opt := range opts {
		opt(r)
	}
	r.handlers = map[string]handlerFunc{
		"rank":        r.rank,
		"leaderboard": r.leaderboard,

		"perm create": r.permCreate,
		"perm delete": r.permDelete,
		"perm list":   r.permList,
		"perm grant":  r.permGrant,
		"perm revoke": r.permRevoke,
		"perm show":   r.permShow,
		"perm check":  r.permCheck,

		"group create": r.groupCreate,
		"group delete": r.groupDelete,
		"group list":   r.groupList,
		"group join":   r.groupJoin,
		"group leave":  r.groupLeave,
		"group grant":  r.groupGrant,
		"group revoke": r.groupRevoke,

		"command set":   r.commandSet,
		"command clear": r.commandClear,
		"command list":  r.commandList,

		"levels show":              r.levelsShow,
		"levels xp-range":          r.levelsXPRange,
		"levels cooldown":          r.levelsCooldown,
		"levels min-length":        r.levelsMinLength,
		"levels blacklist-channel": r.levelsBlacklistChannel,
		"levels blacklist-role":    r.levelsBlacklistRole,
		"levels notify-channel":    r.levelsNotifyChannel,
		"levels template":          r.levelsTemplate,

		"balance":  r.balance,
		"deposit":  r.deposit,
		"withdraw": r.withdraw,
		"pay":      r.pay,
	}
	return r, nil
}

// Dispatch runs the access check and then the command. It always returns a
// response to show the member.
func (r *Router) Dispatch(ctx context.Context, req Request) Response {
	h, ok := r.handlers[req.Path()]
	if !ok {
		return private("Unknown command.")
	}
	d, err := r.svc.Access.Check(ctx, req.GuildID, req.UserID, req.Command)
	if err != nil {
		return r.failure(req, err)
	}
	if !d.Allowed {
		return private("You need one of these permissions to use /%s: %s", req.Command, strings.Join(d.Required, ", "))
	}
	ctx = audit.WithActor(ctx, req.GuildID, req.UserID)
	resp, err := h(ctx, req)
	if err != nil {
		return r.failure(req, err)
	}
	return resp
}

func (r *Router) failure(req Request, err error) Response {
	msg, expected := ErrorReply(err)
	if !expected {
		r.log.Error("command failed",
			zap.String("command", req.Path()),
			zap.String("guild_id", req.GuildID),
			zap.String("user_id", req.UserID),
			zap.Error(err))
	}
	return private("%s", msg)
}

func targetUser(req Request) string {
	if u := req.String("user"); u != "" {
		return u
	}
	return req.UserID
}

func mention(userID string) string { return "<@" + userID + ">" }

func (r *Router) rank(ctx context.Context, req Request) (Response, error) {
	rk, err := r.svc.Leaderboard.UserRank(ctx, req.GuildID, targetUser(req))
	if errors.Is(err, leaderboard.ErrNotFound) {
		return private("%s has no XP yet.", mention(targetUser(req))), nil
	}
	if err != nil {
		return Response{}, err
	}
	p := rk.Progress
	return reply("**%s** rank #%d of %d\nLevel %d, %d XP (%d/%d to next level, %d%%)",
		rk.DisplayName, rk.Position, rk.Total, p.Level, p.XP, p.XPProgress, p.XPNeeded, p.Percentage), nil
}

func (r *Router) leaderboard(ctx context.Context, req Request) (Response, error) {
	t, err := leaderboard.ParseType(req.String("type"))
	if err != nil {
		return Response{}, err
	}
	page, ok := req.Int("page")
	if !ok {
		page = 1
	}
	pg, err := r.svc.Leaderboard.GetPage(ctx, leaderboard.Query{
		GuildID:      req.GuildID,
		Type:         t,
		Page:         int(page),
		ForceRefresh: req.Bool("refresh"),
	})
	if err != nil {
		return Response{}, err
	}
	return Response{Content: FormatPage(pg)}, nil
}

// FormatPage renders a leaderboard page as message text.
func FormatPage(pg leaderboard.Page) string {
	var b strings.Builder
	title := "XP"
	if pg.Type == leaderboard.TypeBalance {
		title = "Balance"
	}
	fmt.Fprintf(&b, "**%s leaderboard** page %d/%d\n", title, pg.Page, max(pg.TotalPages, 1))
	if len(pg.Entries) == 0 {
		b.WriteString("No entries yet.")
		return b.String()
	}
	for _, e := range pg.Entries {
		if pg.Type == leaderboard.TypeBalance {
			fmt.Fprintf(&b, "%d. %s: %d coins\n", e.Rank, e.DisplayName, e.Value)
			continue
		}
		fmt.Fprintf(&b, "%d. %s: level %d, %d XP\n", e.Rank, e.DisplayName, e.Secondary, e.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) permCreate(ctx context.Context, req Request) (Response, error) {
	p, err := r.svc.Perms.CreatePermission(ctx, req.GuildID, req.String("name"))
	if err != nil {
		return Response{}, err
	}
	return reply("Created permission `%s`.", p.Name), nil
}

func (r *Router) permDelete(ctx context.Context, req Request) (Response, error) {
	name := perm.Normalize(req.String("name"))
	if err := r.svc.Perms.DeletePermission(ctx, req.GuildID, name); err != nil {
		return Response{}, err
	}
	return reply("Deleted permission `%s` and removed it from every grant.", name), nil
}

func (r *Router) permList(ctx context.Context, req Request) (Response, error) {
	perms, err := r.svc.Perms.ListPermissions(ctx, req.GuildID)
	if err != nil {
		return Response{}, err
	}
	if len(perms) == 0 {
		return private("No permissions registered."), nil
	}
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, "`"+p.Name+"`")
	}
	return private("Permissions: %s", strings.Join(names, ", ")), nil
}

func (r *Router) permGrant(ctx context.Context, req Request) (Response, error) {
	user, name := req.String("user"), perm.Normalize(req.String("name"))
	if err := r.svc.Perms.GrantToUser(ctx, req.GuildID, user, name); err != nil {
		return Response{}, err
	}
	return reply("Granted `%s` to %s.", name, mention(user)), nil
}

func (r *Router) permRevoke(ctx context.Context, req Request) (Response, error) {
	user, name := req.String("user"), perm.Normalize(req.String("name"))
	if err := r.svc.Perms.RevokeFromUser(ctx, req.GuildID, user, name); err != nil {
		return Response{}, err
	}
	return reply("Revoked `%s` from %s.", name, mention(user)), nil
}

func (r *Router) permShow(ctx context.Context, req Request) (Response, error) {
	user := targetUser(req)
	set, err := r.svc.Access.EffectivePermissions(ctx, req.GuildID, user)
	if err != nil {
		return Response{}, err
	}
	if len(set) == 0 {
		return private("%s holds no permissions.", mention(user)), nil
	}
	return private("%s holds: %s", mention(user), strings.Join(set.Sorted(), ", ")), nil
}

func (r *Router) permCheck(ctx context.Context, req Request) (Response, error) {
	user, command := req.String("user"), perm.Normalize(req.String("command"))
	d, err := r.svc.Access.Check(ctx, req.GuildID, user, command)
	if err != nil {
		return Response{}, err
	}
	switch {
	case !d.Restricted:
		return private("/%s is unrestricted.", command), nil
	case d.Allowed:
		return private("%s may use /%s through `%s`.", mention(user), command, d.Matched), nil
	}
	return private("%s may not use /%s, it requires one of: %s", mention(user), command, strings.Join(d.Required, ", ")), nil
}

func (r *Router) groupCreate(ctx context.Context, req Request) (Response, error) {
	g, err := r.svc.Perms.CreateGroup(ctx, req.GuildID, req.String("name"))
	if err != nil {
		return Response{}, err
	}
	return reply("Created group `%s`.", g.Name), nil
}

func (r *Router) groupDelete(ctx context.Context, req Request) (Response, error) {
	name := req.String("name")
	if err := r.svc.Perms.DeleteGroup(ctx, req.GuildID, name); err != nil {
		return Response{}, err
	}
	return reply("Deleted group `%s`.", name), nil
}

func (r *Router) groupList(ctx context.Context, req Request) (Response, error) {
	groups, err := r.svc.Perms.ListGroups(ctx, req.GuildID)
	if err != nil {
		return Response{}, err
	}
	if len(groups) == 0 {
		return private("No groups."), nil
	}
	var b strings.Builder
	for _, g := range groups {
		perms := "none"
		if len(g.Permissions) > 0 {
			perms = strings.Join(g.Permissions, ", ")
		}
		fmt.Fprintf(&b, "`%s`: %s\n", g.Name, perms)
	}
	return private("%s", strings.TrimRight(b.String(), "\n")), nil
}

func (r *Router) groupJoin(ctx context.Context, req Request) (Response, error) {
	user, group := req.String("user"), req.String("name")
	if err := r.svc.Perms.AddUserToGroup(ctx, req.GuildID, user, group); err != nil {
		return Response{}, err
	}
	return reply("Added %s to `%s`.", mention(user), group), nil
}

func (r *Router) groupLeave(ctx context.Context, req Request) (Response, error) {
	user, group := req.String("user"), req.String("name")
	if err := r.svc.Perms.RemoveUserFromGroup(ctx, req.GuildID, user, group); err != nil {
		return Response{}, err
	}
	return reply("Removed %s from `%s`.", mention(user), group), nil
}

func (r *Router) groupGrant(ctx context.Context, req Request) (Response, error) {
	group, name := req.String("name"), perm.Normalize(req.String("permission"))
	if err := r.svc.Perms.GrantToGroup(ctx, req.GuildID, group, name); err != nil {
		return Response{}, err
	}
	return reply("Granted `%s` to group `%s`.", name, group), nil
}

func (r *Router) groupRevoke(ctx context.Context, req Request) (Response, error) {
	group, name := req.String("name"), perm.Normalize(req.String("permission"))
	if err := r.svc.Perms.RevokeFromGroup(ctx, req.GuildID, group, name); err != nil {
		return Response{}, err
	}
	return reply("Revoked `%s` from group `%s`.", name, group), nil
}

func (r *Router) commandSet(ctx context.Context, req Request) (Response, error) {
	command := perm.Normalize(strings.TrimPrefix(req.String("command"), "/"))
	names := SplitNames(req.String("permissions"))
	if err := r.svc.Perms.SetCommandPermissions(ctx, req.GuildID, command, names); err != nil {
		return Response{}, err
	}
	if len(names) == 0 {
		return reply("/%s is now unrestricted.", command), nil
	}
	return reply("/%s now requires one of: %s", command, strings.Join(names, ", ")), nil
}

func (r *Router) commandClear(ctx context.Context, req Request) (Response, error) {
	command := perm.Normalize(strings.TrimPrefix(req.String("command"), "/"))
	if err := r.svc.Perms.ClearCommandPermissions(ctx, req.GuildID, command); err != nil {
		return Response{}, err
	}
	return reply("/%s is now unrestricted.", command), nil
}

func (r *Router) commandList(ctx context.Context, req Request) (Response, error) {
	reqs, err := r.svc.Perms.ListCommandRequirements(ctx, req.GuildID)
	if err != nil {
		return Response{}, err
	}
	if len(reqs) == 0 {
		return private("Every command is unrestricted."), nil
	}
	var b strings.Builder
	for _, cr := range reqs {
		fmt.Fprintf(&b, "/%s: %s\n", cr.Command, strings.Join(cr.Permissions, ", "))
	}
	return private("%s", strings.TrimRight(b.String(), "\n")), nil
}

// SplitNames parses a comma or space separated permission list.
func SplitNames(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if n := perm.Normalize(f); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func (r *Router) levelsShow(ctx context.Context, req Request) (Response, error) {
	cfg, err := r.svc.Settings.Config(ctx, req.GuildID)
	if err != nil {
		return Response{}, err
	}
	return private("%s", FormatConfig(cfg)), nil
}

// FormatConfig renders a leveling configuration.
func FormatConfig(cfg leveling.Config) string {
	notify := "channel of the message"
	if cfg.NotificationChannelID != "" {
		notify = "<#" + cfg.NotificationChannelID + ">"
	}
	channels := make([]string, 0, len(cfg.BlacklistedChannels))
	for _, c := range cfg.BlacklistedChannels {
		channels = append(channels, "<#"+c+">")
	}
	roles := make([]string, 0, len(cfg.BlacklistedRoles))
	for _, r := range cfg.BlacklistedRoles {
		roles = append(roles, "<@&"+r+">")
	}
	orNone := func(v []string) string {
		if len(v) == 0 {
			return "none"
		}
		return strings.Join(v, ", ")
	}
	return fmt.Sprintf("XP per message: %d-%d\nCooldown: %s\nMinimum length: %d\nBlacklisted channels: %s\nBlacklisted roles: %s\nLevel-up messages: %s\nTemplate: %s",
		cfg.MinXP, cfg.MaxXP, cfg.Cooldown(), cfg.MinMessageLength,
		orNone(channels), orNone(roles), notify, cfg.MessageTemplate)
}

func (r *Router) levelsXPRange(ctx context.Context, req Request) (Response, error) {
	minXP, _ := req.Int("min")
	maxXP, _ := req.Int("max")
	cfg, err := r.svc.Settings.SetXPRange(ctx, req.GuildID, minXP, maxXP)
	if err != nil {
		return Response{}, err
	}
	return reply("Members now earn %d-%d XP per message.", cfg.MinXP, cfg.MaxXP), nil
}

func (r *Router) levelsCooldown(ctx context.Context, req Request) (Response, error) {
	secs, _ := req.Int("seconds")
	cfg, err := r.svc.Settings.SetCooldown(ctx, req.GuildID, time.Duration(secs)*time.Second)
	if err != nil {
		return Response{}, err
	}
	return reply("XP cooldown set to %s.", cfg.Cooldown()), nil
}

func (r *Router) levelsMinLength(ctx context.Context, req Request) (Response, error) {
	n, _ := req.Int("length")
	cfg, err := r.svc.Settings.SetMinMessageLength(ctx, req.GuildID, int(n))
	if err != nil {
		return Response{}, err
	}
	return reply("Messages need at least %d characters to earn XP.", cfg.MinMessageLength), nil
}

func (r *Router) levelsBlacklistChannel(ctx context.Context, req Request) (Response, error) {
	id := req.String("channel")
	if req.Bool("remove") {
		if _, err := r.svc.Settings.UnblacklistChannel(ctx, req.GuildID, id); err != nil {
			return Response{}, err
		}
		return reply("<#%s> earns XP again.", id), nil
	}
	if _, err := r.svc.Settings.BlacklistChannel(ctx, req.GuildID, id); err != nil {
		return Response{}, err
	}
	return reply("<#%s> no longer earns XP.", id), nil
}

func (r *Router) levelsBlacklistRole(ctx context.Context, req Request) (Response, error) {
	id := req.String("role")
	if req.Bool("remove") {
		if _, err := r.svc.Settings.UnblacklistRole(ctx, req.GuildID, id); err != nil {
			return Response{}, err
		}
		return reply("<@&%s> earns XP again.", id), nil
	}
	if _, err := r.svc.Settings.BlacklistRole(ctx, req.GuildID, id); err != nil {
		return Response{}, err
	}
	return reply("<@&%s> no longer earns XP.", id), nil
}

func (r *Router) levelsNotifyChannel(ctx context.Context, req Request) (Response, error) {
	channel := req.String("channel")
	if _, err := r.svc.Settings.SetNotificationChannel(ctx, req.GuildID, channel); err != nil {
		return Response{}, err
	}
	if channel == "" {
		return reply("Level-up messages are posted where the member spoke."), nil
	}
	return reply("Level-up messages are posted in <#%s>.", channel), nil
}

func (r *Router) levelsTemplate(ctx context.Context, req Request) (Response, error) {
	cfg, err := r.svc.Settings.SetMessageTemplate(ctx, req.GuildID, req.String("text"))
	if err != nil {
		return Response{}, err
	}
	return reply("Level-up message set to: %s", cfg.MessageTemplate), nil
}

func (r *Router) balance(ctx context.Context, req Request) (Response, error) {
	user := targetUser(req)
	a, err := r.svc.Bank.Account(ctx, req.GuildID, user)
	if err != nil {
		return Response{}, err
	}
	return private("%s has %d in wallet and %d in bank (%d total).", mention(user), a.Wallet, a.Bank, a.Total()), nil
}

func (r *Router) deposit(ctx context.Context, req Request) (Response, error) {
	amount, _ := req.Int("amount")
	a, _, err := r.svc.Bank.Deposit(ctx, req.GuildID, req.UserID, amount)
	if err != nil {
		return Response{}, err
	}
	return private("Deposited %d. Wallet %d, bank %d.", amount, a.Wallet, a.Bank), nil
}

func (r *Router) withdraw(ctx context.Context, req Request) (Response, error) {
	amount, _ := req.Int("amount")
	a, _, err := r.svc.Bank.Withdraw(ctx, req.GuildID, req.UserID, amount)
	if err != nil {
		return Response{}, err
	}
	return private("Withdrew %d. Wallet %d, bank %d.", amount, a.Wallet, a.Bank), nil
}

func (r *Router) pay(ctx context.Context, req Request) (Response, error) {
	to := req.String("user")
	amount, _ := req.Int("amount")
	if _, err := r.svc.Bank.Transfer(ctx, req.GuildID, req.UserID, to, amount); err != nil {
		return Response{}, err
	}
	return reply("%s sent %d coins to %s.", mention(req.UserID), amount, mention(to)), nil
}
