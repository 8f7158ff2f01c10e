package perm

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety.
// One mutex covers every collection so a permission deletion and its
// cascade are observed atomically.
type InMemory struct {
	mu       sync.RWMutex
	now      func() time.Time
	perms    map[string]map[string]Permission // guild -> name -> permission
	users    map[string]map[string]*UserGrant // guild -> user -> grant
	groups   map[string]map[string]*Group     // guild -> key -> group
	commands map[string]map[string][]string   // guild -> command -> names
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		now:      time.Now,
		perms:    make(map[string]map[string]Permission),
		users:    make(map[string]map[string]*UserGrant),
		groups:   make(map[string]map[string]*Group),
		commands: make(map[string]map[string][]string),
	}
}

func (s *InMemory) CreatePermission(_ context.Context, guildID, name string) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	guild := s.perms[guildID]
	if guild == nil {
		guild = make(map[string]Permission)
		s.perms[guildID] = guild
	}
	if _, ok := guild[name]; ok {
		return Permission{}, ErrAlreadyExists
	}
	p := Permission{GuildID: guildID, Name: name, CreatedAt: s.now().UTC()}
	guild[name] = p
	return p, nil
}

func (s *InMemory) PermissionExists(_ context.Context, guildID, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.existsLocked(guildID, name), nil
}

func (s *InMemory) ListPermissions(_ context.Context, guildID string) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Permission, 0, len(s.perms[guildID]))
	for _, p := range s.perms[guildID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) DeletePermission(_ context.Context, guildID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.existsLocked(guildID, name) {
		return ErrNotFound
	}
	delete(s.perms[guildID], name)
	for _, u := range s.users[guildID] {
		u.Permissions = remove(u.Permissions, name)
	}
	for _, g := range s.groups[guildID] {
		g.Permissions = remove(g.Permissions, name)
	}
	for cmd, names := range s.commands[guildID] {
		names = remove(names, name)
		if len(names) == 0 {
			delete(s.commands[guildID], cmd)
			continue
		}
		s.commands[guildID][cmd] = names
	}
	return nil
}

func (s *InMemory) UserGrant(_ context.Context, guildID, userID string) (UserGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[guildID][userID]
	if !ok {
		return UserGrant{}, ErrNotFound
	}
	return UserGrant{
		GuildID:     u.GuildID,
		UserID:      u.UserID,
		Permissions: slices.Clone(u.Permissions),
		Groups:      slices.Clone(u.Groups),
	}, nil
}

func (s *InMemory) AddUserPermission(_ context.Context, guildID, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.existsLocked(guildID, name) {
		return fmt.Errorf("%w: %s", ErrUnknownPermission, name)
	}
	u := s.userLocked(guildID, userID)
	u.Permissions = add(u.Permissions, name)
	return nil
}

func (s *InMemory) RemoveUserPermission(_ context.Context, guildID, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.existsLocked(guildID, name) {
		return fmt.Errorf("%w: %s", ErrUnknownPermission, name)
	}
	if u, ok := s.users[guildID][userID]; ok {
		u.Permissions = remove(u.Permissions, name)
	}
	return nil
}

func (s *InMemory) AddUserGroup(_ context.Context, guildID, userID, groupKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[guildID][groupKey]; !ok {
		return ErrNotFound
	}
	u := s.userLocked(guildID, userID)
	u.Groups = add(u.Groups, groupKey)
	return nil
}

func (s *InMemory) RemoveUserGroup(_ context.Context, guildID, userID, groupKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[guildID][userID]; ok {
		u.Groups = remove(u.Groups, groupKey)
	}
	return nil
}

func (s *InMemory) CreateGroup(_ context.Context, guildID, key, name string) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	guild := s.groups[guildID]
	if guild == nil {
		guild = make(map[string]*Group)
		s.groups[guildID] = guild
	}
	if _, ok := guild[key]; ok {
		return Group{}, ErrAlreadyExists
	}
	g := &Group{GuildID: guildID, Key: key, Name: name, CreatedAt: s.now().UTC()}
	guild[key] = g
	return copyGroup(g), nil
}

func (s *InMemory) Group(_ context.Context, guildID, key string) (Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[guildID][key]
	if !ok {
		return Group{}, ErrNotFound
	}
	return copyGroup(g), nil
}

func (s *InMemory) ListGroups(_ context.Context, guildID string) ([]Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Group, 0, len(s.groups[guildID]))
	for _, g := range s.groups[guildID] {
		out = append(out, copyGroup(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *InMemory) DeleteGroup(_ context.Context, guildID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[guildID][key]; !ok {
		return ErrNotFound
	}
	delete(s.groups[guildID], key)
	return nil
}

func (s *InMemory) AddGroupPermission(_ context.Context, guildID, groupKey, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[guildID][groupKey]
	if !ok {
		return ErrNotFound
	}
	if !s.existsLocked(guildID, name) {
		return fmt.Errorf("%w: %s", ErrUnknownPermission, name)
	}
	g.Permissions = add(g.Permissions, name)
	return nil
}

func (s *InMemory) RemoveGroupPermission(_ context.Context, guildID, groupKey, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[guildID][groupKey]
	if !ok {
		return ErrNotFound
	}
	if !s.existsLocked(guildID, name) {
		return fmt.Errorf("%w: %s", ErrUnknownPermission, name)
	}
	g.Permissions = remove(g.Permissions, name)
	return nil
}

func (s *InMemory) CommandRequirement(_ context.Context, guildID, command string) (CommandRequirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names, ok := s.commands[guildID][command]
	if !ok {
		return CommandRequirement{}, ErrNotFound
	}
	return CommandRequirement{GuildID: guildID, Command: command, Permissions: slices.Clone(names)}, nil
}

func (s *InMemory) SetCommandRequirement(_ context.Context, guildID, command string, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if !s.existsLocked(guildID, name) {
			return fmt.Errorf("%w: %s", ErrUnknownPermission, name)
		}
	}
	if len(names) == 0 {
		delete(s.commands[guildID], command)
		return nil
	}
	guild := s.commands[guildID]
	if guild == nil {
		guild = make(map[string][]string)
		s.commands[guildID] = guild
	}
	guild[command] = slices.Clone(names)
	return nil
}

func (s *InMemory) ListCommandRequirements(_ context.Context, guildID string) ([]CommandRequirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CommandRequirement, 0, len(s.commands[guildID]))
	for cmd, names := range s.commands[guildID] {
		out = append(out, CommandRequirement{GuildID: guildID, Command: cmd, Permissions: slices.Clone(names)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out, nil
}

func (s *InMemory) existsLocked(guildID, name string) bool {
	_, ok := s.perms[guildID][name]
	return ok
}

func (s *InMemory) userLocked(guildID, userID string) *UserGrant {
	guild := s.users[guildID]
	if guild == nil {
		guild = make(map[string]*UserGrant)
		s.users[guildID] = guild
	}
	u, ok := guild[userID]
	if !ok {
		u = &UserGrant{GuildID: guildID, UserID: userID}
		guild[userID] = u
	}
	return u
}

func copyGroup(g *Group) Group {
	out := *g
	out.Permissions = slices.Clone(g.Permissions)
	return out
}

func add(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func remove(list []string, v string) []string {
	return slices.DeleteFunc(list, func(s string) bool { return s == v })
}
