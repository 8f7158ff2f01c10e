package discord

import (
	"context"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"concord.chat/internal/access"
	"concord.chat/internal/economy"
	"concord.chat/internal/leaderboard"
	"concord.chat/internal/leveling"
	"concord.chat/internal/perm"
)

type fixture struct {
	router *Router
	bank   *economy.Bank
	ledger *leveling.Ledger
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	permStore := perm.NewInMemory()
	resolver, err := access.NewResolver(permStore, nil)
	if err != nil {
		t.Fatal(err)
	}
	perms, err := perm.NewService(permStore, perm.WithInvalidator(resolver))
	if err != nil {
		t.Fatal(err)
	}
	levels := leveling.NewInMemory()
	ledger, err := leveling.NewLedger(levels)
	if err != nil {
		t.Fatal(err)
	}
	settings, err := leveling.NewSettings(levels)
	if err != nil {
		t.Fatal(err)
	}
	accounts := economy.NewInMemory()
	bank, err := economy.NewBank(accounts)
	if err != nil {
		t.Fatal(err)
	}
	board, err := leaderboard.NewService(ledger, leaderboard.BalanceSource{Accounts: accounts}, nil)
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewRouter(Services{Perms: perms, Access: resolver, Settings: settings, Leaderboard: board, Bank: bank})
	if err != nil {
		t.Fatal(err)
	}
	return fixture{router: r, bank: bank, ledger: ledger}
}

func options(kv ...any) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		name := kv[i].(string)
		out[name] = &discordgo.ApplicationCommandInteractionDataOption{Name: name, Value: kv[i+1]}
	}
	return out
}

func call(user, command, sub string, kv ...any) Request {
	return Request{GuildID: "g1", ChannelID: "c1", UserID: user, Command: command, Sub: sub, Options: options(kv...)}
}

func TestEveryRegisteredCommandHasAHandler(t *testing.T) {
	f := newFixture(t)
	for _, cmd := range Commands() {
		if cmd.Name != strings.ToLower(cmd.Name) || len(cmd.Description) > 100 {
			t.Fatalf("invalid command definition %q", cmd.Name)
		}
		subs := 0
		for _, o := range cmd.Options {
			if o.Type != discordgo.ApplicationCommandOptionSubCommand {
				continue
			}
			subs++
			if len(o.Description) > 100 {
				t.Fatalf("%s %s: description too long", cmd.Name, o.Name)
			}
			if _, ok := f.router.handlers[cmd.Name+" "+o.Name]; !ok {
				t.Fatalf("no handler for /%s %s", cmd.Name, o.Name)
			}
		}
		if subs == 0 {
			if _, ok := f.router.handlers[cmd.Name]; !ok {
				t.Fatalf("no handler for /%s", cmd.Name)
			}
		}
	}
}

func TestDispatchDeniesWithoutRequiredPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.Dispatch(ctx, call("admin", "perm", "create", "name", "Economy"))
	resp := f.router.Dispatch(ctx, call("admin", "command", "set", "command", "/pay", "permissions", "economy, vip"))
	if !strings.Contains(resp.Content, "Unknown permission") {
		t.Fatalf("vip is not registered, expected unknown permission reply, got %q", resp.Content)
	}
	resp = f.router.Dispatch(ctx, call("admin", "command", "set", "command", "pay", "permissions", "economy"))
	if !strings.Contains(resp.Content, "requires one of: economy") {
		t.Fatalf("unexpected reply: %q", resp.Content)
	}

	resp = f.router.Dispatch(ctx, call("u1", "pay", "", "user", "u2", "amount", float64(10)))
	if !resp.Ephemeral || !strings.Contains(resp.Content, "economy") {
		t.Fatalf("expected ephemeral deny naming the requirement, got %+v", resp)
	}

	f.router.Dispatch(ctx, call("admin", "perm", "grant", "user", "u1", "name", "economy"))
	resp = f.router.Dispatch(ctx, call("u1", "pay", "", "user", "u2", "amount", float64(10)))
	if resp.Content != "Insufficient funds." {
		t.Fatalf("expected insufficient funds once allowed, got %q", resp.Content)
	}

	if _, _, err := f.bank.Credit(ctx, "g1", "u1", 25); err != nil {
		t.Fatal(err)
	}
	resp = f.router.Dispatch(ctx, call("u1", "pay", "", "user", "u2", "amount", float64(10)))
	if resp.Ephemeral || !strings.Contains(resp.Content, "sent 10 coins") {
		t.Fatalf("unexpected pay reply: %+v", resp)
	}
}

func TestDispatchAllowsThroughGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.router.Dispatch(ctx, call("admin", "perm", "create", "name", "mod"))
	f.router.Dispatch(ctx, call("admin", "group", "create", "name", "Moderators"))
	f.router.Dispatch(ctx, call("admin", "group", "grant", "name", "moderators", "permission", "mod"))
	f.router.Dispatch(ctx, call("admin", "command", "set", "command", "levels", "permissions", "mod"))

	if resp := f.router.Dispatch(ctx, call("u1", "levels", "show")); !strings.Contains(resp.Content, "You need") {
		t.Fatalf("expected deny before joining, got %q", resp.Content)
	}
	f.router.Dispatch(ctx, call("admin", "group", "join", "user", "u1", "name", "moderators"))
	if resp := f.router.Dispatch(ctx, call("u1", "levels", "show")); !strings.Contains(resp.Content, "XP per message: 5-10") {
		t.Fatalf("expected config after joining, got %q", resp.Content)
	}
	resp := f.router.Dispatch(ctx, call("admin", "perm", "check", "user", "u1", "command", "levels"))
	if !strings.Contains(resp.Content, "through `mod`") {
		t.Fatalf("unexpected check reply: %q", resp.Content)
	}

	f.router.Dispatch(ctx, call("admin", "perm", "delete", "name", "mod"))
	if resp := f.router.Dispatch(ctx, call("u2", "levels", "show")); strings.Contains(resp.Content, "You need") {
		t.Fatalf("deleting the only required permission should leave the command open, got %q", resp.Content)
	}
}

func TestDispatchMapsDuplicateAndUnknownCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.router.Dispatch(ctx, call("admin", "perm", "create", "name", "mod"))
	if resp := f.router.Dispatch(ctx, call("admin", "perm", "create", "name", "MOD")); resp.Content != "That already exists." {
		t.Fatalf("unexpected duplicate reply: %q", resp.Content)
	}
	if resp := f.router.Dispatch(ctx, call("admin", "nope", "")); resp.Content != "Unknown command." {
		t.Fatalf("unexpected reply: %q", resp.Content)
	}
}

func TestLevelsCommandsUpdateSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if resp := f.router.Dispatch(ctx, call("admin", "levels", "xp-range", "min", float64(20), "max", float64(10))); !strings.HasPrefix(resp.Content, "Invalid input:") {
		t.Fatalf("expected invalid input, got %q", resp.Content)
	}
	if resp := f.router.Dispatch(ctx, call("admin", "levels", "xp-range", "min", float64(10), "max", float64(20))); !strings.Contains(resp.Content, "10-20") {
		t.Fatalf("unexpected reply: %q", resp.Content)
	}
	f.router.Dispatch(ctx, call("admin", "levels", "cooldown", "seconds", float64(30)))
	f.router.Dispatch(ctx, call("admin", "levels", "blacklist-channel", "channel", "c9"))
	resp := f.router.Dispatch(ctx, call("admin", "levels", "show"))
	for _, want := range []string{"10-20", "30s", "<#c9>"} {
		if !strings.Contains(resp.Content, want) {
			t.Fatalf("config reply %q missing %q", resp.Content, want)
		}
	}
	f.router.Dispatch(ctx, call("admin", "levels", "blacklist-channel", "channel", "c9", "remove", true))
	if resp := f.router.Dispatch(ctx, call("admin", "levels", "show")); strings.Contains(resp.Content, "<#c9>") {
		t.Fatalf("channel should be removed from the blacklist: %q", resp.Content)
	}
}

func TestRankAndLeaderboardReplies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if resp := f.router.Dispatch(ctx, call("u1", "rank", "")); !strings.Contains(resp.Content, "no XP yet") {
		t.Fatalf("unexpected reply: %q", resp.Content)
	}
	if _, err := f.ledger.AddXP(ctx, "g1", "u1", 250); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.AddXP(ctx, "g1", "u2", 50); err != nil {
		t.Fatal(err)
	}
	resp := f.router.Dispatch(ctx, call("u2", "rank", "", "user", "u1"))
	if !strings.Contains(resp.Content, "rank #1 of 2") || !strings.Contains(resp.Content, "Level 2") {
		t.Fatalf("unexpected rank reply: %q", resp.Content)
	}
	resp = f.router.Dispatch(ctx, call("u2", "leaderboard", "", "page", float64(1)))
	if !strings.Contains(resp.Content, "1. Unknown User: level 2, 250 XP") {
		t.Fatalf("unexpected leaderboard reply: %q", resp.Content)
	}
	resp = f.router.Dispatch(ctx, call("u2", "leaderboard", "", "page", float64(3)))
	if resp.Content != "Page 3 does not exist, there are 1 pages." {
		t.Fatalf("unexpected out of range reply: %q", resp.Content)
	}
}

func TestSplitNames(t *testing.T) {
	got := SplitNames(" Admin,mod  vip,, ")
	if strings.Join(got, "|") != "admin|mod|vip" {
		t.Fatalf("unexpected names: %v", got)
	}
}
