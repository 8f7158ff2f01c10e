package access

import (
	"context"
	"errors"
	"sort"
	"strings"

	"concord.chat/internal/obs"
	"concord.chat/internal/perm"
)

// Set is an effective permission set.
type Set map[string]struct{}

// Has reports whether the set contains key.
func (s Set) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Decision explains an access check.
type Decision struct {
	Allowed bool
	// Restricted is false when the command has no requirement record.
	Restricted bool
	Required   []string
	// Matched is the first required permission the member holds.
	Matched string
}

// Resolver decides whether a member may run a command.
type Resolver struct {
	store perm.Store
	cache *Cache
}

var _ perm.Invalidator = (*Resolver)(nil)

// NewResolver wires a resolver to the permission store. A nil cache gets a fresh one.
func NewResolver(store perm.Store, cache *Cache) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("permission store is required")
	}
	if cache == nil {
		cache = NewCache()
	}
	return &Resolver{store: store, cache: cache}, nil
}

// Allowed reports whether userID may execute command in guildID.
func (r *Resolver) Allowed(ctx context.Context, guildID, userID, command string) (bool, error) {
	d, err := r.Check(ctx, guildID, userID, command)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// Check resolves the requirement of a command against the member's effective set.
func (r *Resolver) Check(ctx context.Context, guildID, userID, command string) (Decision, error) {
	command = perm.Normalize(command)
	req, err := r.requirement(ctx, guildID, command)
	if err != nil {
		obs.AccessDecisions.WithLabelValues("error").Inc()
		return Decision{}, err
	}
	if !req.restricted {
		obs.AccessDecisions.WithLabelValues("unrestricted").Inc()
		return Decision{Allowed: true}, nil
	}
	set, err := r.EffectivePermissions(ctx, guildID, userID)
	if err != nil {
		obs.AccessDecisions.WithLabelValues("error").Inc()
		return Decision{}, err
	}
	d := Decision{Restricted: true, Required: append([]string(nil), req.names...)}
	for _, name := range req.names {
		if set.Has(name) {
			d.Allowed = true
			d.Matched = name
			break
		}
	}
	if d.Allowed {
		obs.AccessDecisions.WithLabelValues("allow").Inc()
	} else {
		obs.AccessDecisions.WithLabelValues("deny").Inc()
	}
	return d, nil
}

// EffectivePermissions returns direct grants united with the permissions of
// every group the member belongs to. Missing records count as empty. The
// returned set is shared with the cache and must not be modified.
func (r *Resolver) EffectivePermissions(ctx context.Context, guildID, userID string) (Set, error) {
	if set, ok := r.cache.user(guildID, userID); ok {
		obs.AccessCache.WithLabelValues("user", "hit").Inc()
		return set, nil
	}
	obs.AccessCache.WithLabelValues("user", "miss").Inc()

	gen := r.cache.Generation(guildID)
	grant, err := r.store.UserGrant(ctx, guildID, userID)
	if err != nil && !errors.Is(err, perm.ErrNotFound) {
		return nil, err
	}
	set := make(Set, len(grant.Permissions))
	for _, p := range grant.Permissions {
		set[p] = struct{}{}
	}
	for _, key := range grant.Groups {
		g, err := r.store.Group(ctx, guildID, key)
		if errors.Is(err, perm.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, p := range g.Permissions {
			set[p] = struct{}{}
		}
	}
	r.cache.storeUser(guildID, userID, set, gen)
	return set, nil
}

func (r *Resolver) requirement(ctx context.Context, guildID, command string) (requirement, error) {
	if req, ok := r.cache.command(guildID, command); ok {
		obs.AccessCache.WithLabelValues("command", "hit").Inc()
		return req, nil
	}
	obs.AccessCache.WithLabelValues("command", "miss").Inc()

	gen := r.cache.Generation(guildID)
	cr, err := r.store.CommandRequirement(ctx, guildID, command)
	var req requirement
	switch {
	case errors.Is(err, perm.ErrNotFound):
	case err != nil:
		return requirement{}, err
	default:
		req = requirement{names: cr.Permissions, restricted: len(cr.Permissions) > 0}
	}
	r.cache.storeCommand(guildID, command, req, gen)
	return req, nil
}

func (r *Resolver) InvalidateUser(guildID, userID string) { r.cache.InvalidateUser(guildID, userID) }

func (r *Resolver) InvalidateGuild(guildID string) { r.cache.InvalidateGuild(guildID) }

func (r *Resolver) InvalidateCommand(guildID, command string) {
	r.cache.InvalidateCommand(guildID, strings.TrimSpace(command))
}
