package discord

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
)

type memberState interface {
	Member(guildID, userID string) (*discordgo.Member, error)
}

type memberFetcher interface {
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

// MemberNames resolves display names from the session state cache and falls
// back to the REST API.
type MemberNames struct {
	state memberState
	rest  memberFetcher
}

// NewMemberNames reads from s.State first, then s.
func NewMemberNames(s *discordgo.Session) *MemberNames {
	n := &MemberNames{}
	if s == nil {
		return n
	}
	n.rest = s
	if s.State != nil {
		n.state = s.State
	}
	return n
}

// DisplayName prefers the guild nickname, then the global name, then the username.
func (n *MemberNames) DisplayName(ctx context.Context, guildID, userID string) (string, error) {
	if n.state != nil {
		if m, err := n.state.Member(guildID, userID); err == nil && m != nil {
			if name := memberName(m); name != "" {
				return name, nil
			}
		}
	}
	if n.rest == nil {
		return "", errors.New("discord: member not cached")
	}
	m, err := n.rest.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return memberName(m), nil
}

func memberName(m *discordgo.Member) string {
	if m == nil {
		return ""
	}
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}
