package perm

import (
	"context"
	"strings"
	"time"
)

// Permission is a named capability scoped to a guild.
type Permission struct {
	GuildID   string    `json:"guild_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// UserGrant is everything one member holds directly: permission names and group keys.
type UserGrant struct {
	GuildID     string   `json:"guild_id"`
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
	Groups      []string `json:"groups"`
}

// Group bundles permission names. Key is the lowercase identity, Name keeps
// the spelling used at creation.
type Group struct {
	GuildID     string    `json:"guild_id"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

// CommandRequirement lists the permissions any one of which authorizes a command.
type CommandRequirement struct {
	GuildID     string   `json:"guild_id"`
	Command     string   `json:"command"`
	Permissions []string `json:"permissions"`
}

// Store describes persistence operations required by the permission subsystem.
//
// Implementations enforce referential integrity themselves: every method that
// writes a permission name into a grant, group or requirement fails with
// ErrUnknownPermission when the name is not registered, and DeletePermission
// removes the name from every reference before it returns.
type Store interface {
	CreatePermission(ctx context.Context, guildID, name string) (Permission, error)
	PermissionExists(ctx context.Context, guildID, name string) (bool, error)
	ListPermissions(ctx context.Context, guildID string) ([]Permission, error)
	DeletePermission(ctx context.Context, guildID, name string) error

	UserGrant(ctx context.Context, guildID, userID string) (UserGrant, error)
	AddUserPermission(ctx context.Context, guildID, userID, name string) error
	RemoveUserPermission(ctx context.Context, guildID, userID, name string) error
	AddUserGroup(ctx context.Context, guildID, userID, groupKey string) error
	RemoveUserGroup(ctx context.Context, guildID, userID, groupKey string) error

	CreateGroup(ctx context.Context, guildID, key, name string) (Group, error)
	Group(ctx context.Context, guildID, key string) (Group, error)
	ListGroups(ctx context.Context, guildID string) ([]Group, error)
	DeleteGroup(ctx context.Context, guildID, key string) error
	AddGroupPermission(ctx context.Context, guildID, groupKey, name string) error
	RemoveGroupPermission(ctx context.Context, guildID, groupKey, name string) error

	CommandRequirement(ctx context.Context, guildID, command string) (CommandRequirement, error)
	SetCommandRequirement(ctx context.Context, guildID, command string, names []string) error
	ListCommandRequirements(ctx context.Context, guildID string) ([]CommandRequirement, error)
}

// Normalize trims and lowercases a permission, group or command name.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
