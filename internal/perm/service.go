package perm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"concord.chat/internal/audit"
)

const maxNameLength = 64

// Invalidator drops cached access decisions. Service calls it after every
// successful mutation and before returning to the caller.
type Invalidator interface {
	InvalidateUser(guildID, userID string)
	InvalidateGuild(guildID string)
	InvalidateCommand(guildID, command string)
}

type noopInvalidator struct{}

func (noopInvalidator) InvalidateUser(string, string)    {}
func (noopInvalidator) InvalidateGuild(string)           {}
func (noopInvalidator) InvalidateCommand(string, string) {}

// Service validates administrative permission changes and keeps the access
// cache coherent with them.
type Service struct {
	store Store
	inv   Invalidator
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithInvalidator registers the cache that must observe every mutation.
func WithInvalidator(inv Invalidator) ServiceOption {
	return func(s *Service) {
		if inv != nil {
			s.inv = inv
		}
	}
}

func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("permission store is required")
	}
	s := &Service{store: store, inv: noopInvalidator{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) CreatePermission(ctx context.Context, guildID, name string) (Permission, error) {
	guildID, name, err := guildAndName(guildID, name, "permission")
	if err != nil {
		return Permission{}, err
	}
	p, err := s.store.CreatePermission(ctx, guildID, name)
	if err != nil {
		return Permission{}, err
	}
	s.record(ctx, "perm.permission.created", map[string]any{"guild_id": guildID, "name": name})
	return p, nil
}

// DeletePermission removes the permission and every reference to it in the guild.
func (s *Service) DeletePermission(ctx context.Context, guildID, name string) error {
	guildID, name, err := guildAndName(guildID, name, "permission")
	if err != nil {
		return err
	}
	if err := s.store.DeletePermission(ctx, guildID, name); err != nil {
		return err
	}
	s.inv.InvalidateGuild(guildID)
	s.record(ctx, "perm.permission.deleted", map[string]any{"guild_id": guildID, "name": name})
	return nil
}

func (s *Service) PermissionExists(ctx context.Context, guildID, name string) (bool, error) {
	guildID, name, err := guildAndName(guildID, name, "permission")
	if err != nil {
		return false, err
	}
	return s.store.PermissionExists(ctx, guildID, name)
}

func (s *Service) ListPermissions(ctx context.Context, guildID string) ([]Permission, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return nil, fmt.Errorf("%w: guild_id is required", ErrInvalidInput)
	}
	return s.store.ListPermissions(ctx, guildID)
}

func (s *Service) GrantToUser(ctx context.Context, guildID, userID, name string) error {
	guildID, userID, name, err := guildUserAndName(guildID, userID, name)
	if err != nil {
		return err
	}
	if err := s.store.AddUserPermission(ctx, guildID, userID, name); err != nil {
		return err
	}
	s.inv.InvalidateUser(guildID, userID)
	s.record(ctx, "perm.user.granted", map[string]any{"guild_id": guildID, "user_id": userID, "name": name})
	return nil
}

// RevokeFromUser succeeds when the user did not hold the permission.
func (s *Service) RevokeFromUser(ctx context.Context, guildID, userID, name string) error {
	guildID, userID, name, err := guildUserAndName(guildID, userID, name)
	if err != nil {
		return err
	}
	if err := s.store.RemoveUserPermission(ctx, guildID, userID, name); err != nil {
		return err
	}
	s.inv.InvalidateUser(guildID, userID)
	s.record(ctx, "perm.user.revoked", map[string]any{"guild_id": guildID, "user_id": userID, "name": name})
	return nil
}

// UserGrant returns the member's direct grants; a member without any record
// gets an empty grant rather than an error.
func (s *Service) UserGrant(ctx context.Context, guildID, userID string) (UserGrant, error) {
	guildID, userID = strings.TrimSpace(guildID), strings.TrimSpace(userID)
	if guildID == "" || userID == "" {
		return UserGrant{}, fmt.Errorf("%w: guild_id and user_id are required", ErrInvalidInput)
	}
	g, err := s.store.UserGrant(ctx, guildID, userID)
	if errors.Is(err, ErrNotFound) {
		return UserGrant{GuildID: guildID, UserID: userID}, nil
	}
	return g, err
}

func (s *Service) CreateGroup(ctx context.Context, guildID, name string) (Group, error) {
	display := strings.TrimSpace(name)
	guildID, key, err := guildAndName(guildID, display, "group")
	if err != nil {
		return Group{}, err
	}
	g, err := s.store.CreateGroup(ctx, guildID, key, display)
	if err != nil {
		return Group{}, err
	}
	// Memberships outlive group deletion, so recreating a name can revive them.
	s.inv.InvalidateGuild(guildID)
	s.record(ctx, "perm.group.created", map[string]any{"guild_id": guildID, "group": key})
	return g, nil
}

func (s *Service) DeleteGroup(ctx context.Context, guildID, name string) error {
	guildID, key, err := guildAndName(guildID, name, "group")
	if err != nil {
		return err
	}
	if err := s.store.DeleteGroup(ctx, guildID, key); err != nil {
		return err
	}
	s.inv.InvalidateGuild(guildID)
	s.record(ctx, "perm.group.deleted", map[string]any{"guild_id": guildID, "group": key})
	return nil
}

func (s *Service) Group(ctx context.Context, guildID, name string) (Group, error) {
	guildID, key, err := guildAndName(guildID, name, "group")
	if err != nil {
		return Group{}, err
	}
	return s.store.Group(ctx, guildID, key)
}

func (s *Service) ListGroups(ctx context.Context, guildID string) ([]Group, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return nil, fmt.Errorf("%w: guild_id is required", ErrInvalidInput)
	}
	return s.store.ListGroups(ctx, guildID)
}

func (s *Service) GrantToGroup(ctx context.Context, guildID, group, name string) error {
	guildID, key, name, err := guildGroupAndName(guildID, group, name)
	if err != nil {
		return err
	}
	if err := s.store.AddGroupPermission(ctx, guildID, key, name); err != nil {
		return err
	}
	s.inv.InvalidateGuild(guildID)
	s.record(ctx, "perm.group.granted", map[string]any{"guild_id": guildID, "group": key, "name": name})
	return nil
}

func (s *Service) RevokeFromGroup(ctx context.Context, guildID, group, name string) error {
	guildID, key, name, err := guildGroupAndName(guildID, group, name)
	if err != nil {
		return err
	}
	if err := s.store.RemoveGroupPermission(ctx, guildID, key, name); err != nil {
		return err
	}
	s.inv.InvalidateGuild(guildID)
	s.record(ctx, "perm.group.revoked", map[string]any{"guild_id": guildID, "group": key, "name": name})
	return nil
}

func (s *Service) AddUserToGroup(ctx context.Context, guildID, userID, group string) error {
	guildID, userID, key, err := guildUserAndName(guildID, userID, group)
	if err != nil {
		return err
	}
	if err := s.store.AddUserGroup(ctx, guildID, userID, key); err != nil {
		return err
	}
	s.inv.InvalidateUser(guildID, userID)
	s.record(ctx, "perm.group.joined", map[string]any{"guild_id": guildID, "user_id": userID, "group": key})
	return nil
}

func (s *Service) RemoveUserFromGroup(ctx context.Context, guildID, userID, group string) error {
	guildID, userID, key, err := guildUserAndName(guildID, userID, group)
	if err != nil {
		return err
	}
	if err := s.store.RemoveUserGroup(ctx, guildID, userID, key); err != nil {
		return err
	}
	s.inv.InvalidateUser(guildID, userID)
	s.record(ctx, "perm.group.left", map[string]any{"guild_id": guildID, "user_id": userID, "group": key})
	return nil
}

// SetCommandPermissions replaces the requirement list of a command. An empty
// list makes the command unrestricted again.
func (s *Service) SetCommandPermissions(ctx context.Context, guildID, command string, names []string) error {
	guildID, command, err := guildAndName(guildID, command, "command")
	if err != nil {
		return err
	}
	normalized := make([]string, 0, len(names))
	for _, n := range dedupeNames(names) {
		if err := validName(n, "permission"); err != nil {
			return err
		}
		normalized = append(normalized, n)
	}
	if err := s.store.SetCommandRequirement(ctx, guildID, command, normalized); err != nil {
		return err
	}
	s.inv.InvalidateCommand(guildID, command)
	s.record(ctx, "perm.command.set", map[string]any{"guild_id": guildID, "command": command, "permissions": normalized})
	return nil
}

func (s *Service) ClearCommandPermissions(ctx context.Context, guildID, command string) error {
	return s.SetCommandPermissions(ctx, guildID, command, nil)
}

func (s *Service) ListCommandRequirements(ctx context.Context, guildID string) ([]CommandRequirement, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return nil, fmt.Errorf("%w: guild_id is required", ErrInvalidInput)
	}
	return s.store.ListCommandRequirements(ctx, guildID)
}

func (s *Service) record(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

func guildAndName(guildID, name, kind string) (string, string, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return "", "", fmt.Errorf("%w: guild_id is required", ErrInvalidInput)
	}
	name = Normalize(name)
	if err := validName(name, kind); err != nil {
		return "", "", err
	}
	return guildID, name, nil
}

func guildUserAndName(guildID, userID, name string) (string, string, string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", "", "", fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	guildID, name, err := guildAndName(guildID, name, "name")
	if err != nil {
		return "", "", "", err
	}
	return guildID, userID, name, nil
}

func guildGroupAndName(guildID, group, name string) (string, string, string, error) {
	guildID, key, err := guildAndName(guildID, group, "group")
	if err != nil {
		return "", "", "", err
	}
	name = Normalize(name)
	if err := validName(name, "permission"); err != nil {
		return "", "", "", err
	}
	return guildID, key, name, nil
}

func validName(name, kind string) error {
	if name == "" {
		return fmt.Errorf("%w: %s name is required", ErrInvalidInput, kind)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: %s name exceeds %d characters", ErrInvalidInput, kind, maxNameLength)
	}
	if strings.ContainsAny(name, " \t\r\n,") {
		return fmt.Errorf("%w: %s name must not contain spaces or commas", ErrInvalidInput, kind)
	}
	return nil
}

func dedupeNames(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = Normalize(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
