package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestNewSessionSetsIntents(t *testing.T) {
	if _, err := NewSession(""); err == nil {
		t.Fatal("empty token should be rejected")
	}
	s, err := NewSession("token")
	if err != nil {
		t.Fatal(err)
	}
	if s.Identify.Intents != Intents || !s.StateEnabled {
		t.Fatalf("unexpected session setup: intents=%d state=%v", s.Identify.Intents, s.StateEnabled)
	}
	if _, err := New(s, Options{}, nil, nil); err == nil {
		t.Fatal("router and engine are required")
	}
}

func TestInteractionResponseFlags(t *testing.T) {
	resp := interactionResponse(private("secret"))
	if resp.Type != discordgo.InteractionResponseChannelMessageWithSource || resp.Data.Flags != discordgo.MessageFlagsEphemeral {
		t.Fatalf("unexpected response: %+v", resp.Data)
	}
	if interactionResponse(reply("hi")).Data.Flags != 0 {
		t.Fatal("public replies carry no flags")
	}
}
