package leveling

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestSettingsDefaultsWhenUnset(t *testing.T) {
	s, err := NewSettings(NewInMemory())
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := s.Config(context.Background(), "g1")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MinXP != 5 || cfg.MaxXP != 10 || cfg.Cooldown() != time.Minute || cfg.MinMessageLength != 1 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestSettingsUpdatesPersist(t *testing.T) {
	store := NewInMemory()
	s, _ := NewSettings(store)
	ctx := context.Background()

	if _, err := s.SetXPRange(ctx, "g1", 10, 20); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetCooldown(ctx, "g1", 30*time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := s.BlacklistChannel(ctx, "g1", "spam"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.BlacklistChannel(ctx, "g1", "spam"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.BlacklistRole(ctx, "g1", "muted"); err != nil {
		t.Fatal(err)
	}

	stored, err := store.LevelingConfig(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.MinXP != 10 || stored.MaxXP != 20 || stored.CooldownSeconds != 30 {
		t.Fatalf("unexpected stored config: %+v", stored)
	}
	if !slices.Equal(stored.BlacklistedChannels, []string{"spam"}) || !slices.Equal(stored.BlacklistedRoles, []string{"muted"}) {
		t.Fatalf("unexpected blacklists: %+v", stored)
	}

	cfg, err := s.UnblacklistChannel(ctx, "g1", "spam")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.BlacklistedChannels) != 0 {
		t.Fatalf("channel still blacklisted: %+v", cfg.BlacklistedChannels)
	}
}

func TestSettingsValidation(t *testing.T) {
	s, _ := NewSettings(NewInMemory())
	ctx := context.Background()
	if _, err := s.SetXPRange(ctx, "g1", 20, 10); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("inverted range: %v", err)
	}
	if _, err := s.SetXPRange(ctx, "g1", 0, 10); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero minimum: %v", err)
	}
	if _, err := s.SetCooldown(ctx, "g1", -time.Second); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative cooldown: %v", err)
	}
	if _, err := s.BlacklistRole(ctx, "g1", " "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank role: %v", err)
	}
}

func TestSetMessageTemplateResetsToDefault(t *testing.T) {
	s, _ := NewSettings(NewInMemory())
	ctx := context.Background()
	if _, err := s.SetMessageTemplate(ctx, "g1", "GG {user}"); err != nil {
		t.Fatal(err)
	}
	cfg, err := s.SetMessageTemplate(ctx, "g1", "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MessageTemplate != DefaultMessageTemplate {
		t.Fatalf("got %q", cfg.MessageTemplate)
	}
}
