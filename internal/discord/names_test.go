package discord

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
)

type fakeState map[string]*discordgo.Member

func (f fakeState) Member(_, userID string) (*discordgo.Member, error) {
	if m, ok := f[userID]; ok {
		return m, nil
	}
	return nil, discordgo.ErrStateNotFound
}

type fakeREST struct {
	calls int
	m     *discordgo.Member
}

func (f *fakeREST) GuildMember(_, _ string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	f.calls++
	if f.m == nil {
		return nil, errors.New("unknown member")
	}
	return f.m, nil
}

func TestMemberNamesPrefersStateAndNickname(t *testing.T) {
	rest := &fakeREST{}
	n := &MemberNames{
		state: fakeState{"u1": {Nick: "Nick", User: &discordgo.User{Username: "user1", GlobalName: "Global"}}},
		rest:  rest,
	}
	name, err := n.DisplayName(context.Background(), "g1", "u1")
	if err != nil || name != "Nick" {
		t.Fatalf("got %q, %v", name, err)
	}
	if rest.calls != 0 {
		t.Fatal("state hit should not call the API")
	}
}

func TestMemberNamesFallsBackToREST(t *testing.T) {
	rest := &fakeREST{m: &discordgo.Member{User: &discordgo.User{Username: "user2", GlobalName: "Second"}}}
	n := &MemberNames{state: fakeState{}, rest: rest}
	name, err := n.DisplayName(context.Background(), "g1", "u2")
	if err != nil || name != "Second" {
		t.Fatalf("got %q, %v", name, err)
	}

	rest.m = nil
	if _, err := n.DisplayName(context.Background(), "g1", "u3"); err == nil {
		t.Fatal("expected error for unknown member")
	}
}
