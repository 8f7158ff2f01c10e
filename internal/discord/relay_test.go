package discord

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"concord.chat/internal/leveling"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSender) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, channelID+":"+content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func levelUp(guild, channel string) leveling.LevelUpEvent {
	return leveling.LevelUpEvent{ID: "ev", GuildID: guild, UserID: "u1", ChannelID: channel, Level: 2, Message: "gg"}
}

func TestRelayRateLimitsPerGuild(t *testing.T) {
	sender := &fakeSender{}
	r, err := NewRelay(sender, WithGuildRate(0.001, 2))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := r.Deliver(ctx, levelUp("g1", "c1")); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if err := r.Deliver(ctx, levelUp("g1", "c1")); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := r.Deliver(ctx, levelUp("g2", "c2")); err != nil {
		t.Fatalf("other guilds keep their own budget: %v", err)
	}
	if sender.count() != 3 {
		t.Fatalf("expected 3 sends, got %d", sender.count())
	}
}

func TestRelaySkipsEventsWithoutTarget(t *testing.T) {
	sender := &fakeSender{}
	r, _ := NewRelay(sender)
	if err := r.Deliver(context.Background(), levelUp("g1", "")); err != nil {
		t.Fatal(err)
	}
	if sender.count() != 0 {
		t.Fatal("nothing should be sent without a channel")
	}
}

func TestRelayLogsSendFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sender := &fakeSender{err: errors.New("missing access")}
	r, _ := NewRelay(sender, WithRelayLogger(zap.New(core)))
	if err := r.Deliver(context.Background(), levelUp("g1", "c1")); err == nil {
		t.Fatal("expected send error")
	}
	if logs.FilterMessage("level-up notification failed").Len() != 1 {
		t.Fatalf("expected one failure log, got %v", logs.All())
	}
}

func TestRelayRunStopsWhenChannelCloses(t *testing.T) {
	sender := &fakeSender{}
	r, _ := NewRelay(sender)
	events := make(chan leveling.LevelUpEvent, 2)
	events <- levelUp("g1", "c1")
	events <- levelUp("g1", "c1")
	close(events)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), events) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if sender.count() != 2 {
		t.Fatalf("expected 2 sends, got %d", sender.count())
	}
}
