package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"concord.chat/internal/config"
	"concord.chat/internal/discord"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--config", filepath.Join(t.TempDir(), "none.yaml")})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "concord dev") {
		t.Fatalf("unexpected output %q", out.String())
	}
	if cfg == nil || cfg.Storage.Driver != config.DriverMemory {
		t.Fatalf("config should be loaded with defaults, got %+v", cfg)
	}
}

func TestMigrateRequiresDSN(t *testing.T) {
	t.Setenv("CONCORD_PG_DSN", "")
	rootCmd.SetArgs([]string{"migrate", "status", "--config", filepath.Join(t.TempDir(), "none.yaml")})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "missing DSN") {
		t.Fatalf("expected missing DSN error, got %v", err)
	}
}

func TestOpenMemoryBackend(t *testing.T) {
	be, err := openBackend(context.Background(), config.StorageConfig{Driver: config.DriverMemory}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if be.perms == nil || be.levels == nil || be.accounts == nil || len(be.probes) != 0 {
		t.Fatalf("unexpected backend: %+v", be)
	}
	if err := be.close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := openBackend(context.Background(), config.StorageConfig{Driver: "sqlite"}, zap.NewNop()); err == nil {
		t.Fatal("unknown driver should fail")
	}
}

func TestGatewayConstructionFailsBeforeStart(t *testing.T) {
	prevCfg, prevLogger := cfg, logger
	cfg, logger = config.DefaultConfig(), zap.NewNop()
	t.Cleanup(func() { cfg, logger = prevCfg, prevLogger })

	bot, relay, err := newGateway(nil, discord.Services{}, nil)
	if err != nil || bot != nil || relay != nil {
		t.Fatalf("no session should mean no gateway: %v %v %v", bot, relay, err)
	}

	session, err := discordgo.New("Bot test-token")
	if err != nil {
		t.Fatal(err)
	}
	bot, relay, err = newGateway(session, discord.Services{}, nil)
	if err == nil || bot != nil || relay != nil {
		t.Fatalf("expected construction error without services, got %v %v %v", bot, relay, err)
	}
}
