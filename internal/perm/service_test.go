package perm

import (
	"context"
	"errors"
	"slices"
	"testing"
)

type recordingInvalidator struct {
	calls []string
}

func (r *recordingInvalidator) InvalidateUser(guildID, userID string) {
	r.calls = append(r.calls, "user:"+guildID+":"+userID)
}

func (r *recordingInvalidator) InvalidateGuild(guildID string) {
	r.calls = append(r.calls, "guild:"+guildID)
}

func (r *recordingInvalidator) InvalidateCommand(guildID, command string) {
	r.calls = append(r.calls, "command:"+guildID+":"+command)
}

func newTestService(t *testing.T) (*Service, *InMemory, *recordingInvalidator) {
	t.Helper()
	store := NewInMemory()
	inv := &recordingInvalidator{}
	svc, err := NewService(store, WithInvalidator(inv))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store, inv
}

func TestCreatePermissionNormalizesAndRejectsDuplicates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreatePermission(ctx, "g1", "  Admin ")
	if err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	if p.Name != "admin" {
		t.Fatalf("expected normalized name, got %q", p.Name)
	}
	if _, err := svc.CreatePermission(ctx, "g1", "ADMIN"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := svc.CreatePermission(ctx, "g2", "admin"); err != nil {
		t.Fatalf("permission names are per guild: %v", err)
	}
}

func TestCreatePermissionValidatesInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	for _, name := range []string{"", "   ", "two words", "a,b"} {
		if _, err := svc.CreatePermission(ctx, "g1", name); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("name %q: expected ErrInvalidInput, got %v", name, err)
		}
	}
	if _, err := svc.CreatePermission(ctx, "", "admin"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing guild, got %v", err)
	}
}

func TestDeletePermissionCascades(t *testing.T) {
	svc, store, inv := newTestService(t)
	ctx := context.Background()

	mustCreate(t, svc, "g1", "admin")
	mustCreate(t, svc, "g1", "mod")
	mustCreate(t, svc, "g2", "admin")
	if err := svc.GrantToUser(ctx, "g1", "u1", "admin"); err != nil {
		t.Fatal(err)
	}
	if err := svc.GrantToUser(ctx, "g1", "u1", "mod"); err != nil {
		t.Fatal(err)
	}
	if err := svc.GrantToUser(ctx, "g2", "u1", "admin"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateGroup(ctx, "g1", "staff"); err != nil {
		t.Fatal(err)
	}
	if err := svc.GrantToGroup(ctx, "g1", "staff", "admin"); err != nil {
		t.Fatal(err)
	}
	if err := svc.SetCommandPermissions(ctx, "g1", "ban", []string{"admin"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.SetCommandPermissions(ctx, "g1", "kick", []string{"admin", "mod"}); err != nil {
		t.Fatal(err)
	}
	inv.calls = nil

	if err := svc.DeletePermission(ctx, "g1", "admin"); err != nil {
		t.Fatalf("DeletePermission: %v", err)
	}

	exists, err := svc.PermissionExists(ctx, "g1", "admin")
	if err != nil || exists {
		t.Fatalf("expected permission gone, exists=%v err=%v", exists, err)
	}
	grant, _ := store.UserGrant(ctx, "g1", "u1")
	if slices.Contains(grant.Permissions, "admin") || !slices.Contains(grant.Permissions, "mod") {
		t.Fatalf("unexpected user grant after cascade: %v", grant.Permissions)
	}
	group, _ := store.Group(ctx, "g1", "staff")
	if slices.Contains(group.Permissions, "admin") {
		t.Fatalf("group still references deleted permission: %v", group.Permissions)
	}
	if _, err := store.CommandRequirement(ctx, "g1", "ban"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected emptied requirement to be removed, got %v", err)
	}
	kick, _ := store.CommandRequirement(ctx, "g1", "kick")
	if !slices.Equal(kick.Permissions, []string{"mod"}) {
		t.Fatalf("unexpected kick requirement: %v", kick.Permissions)
	}
	other, _ := store.UserGrant(ctx, "g2", "u1")
	if !slices.Contains(other.Permissions, "admin") {
		t.Fatal("cascade leaked into another guild")
	}
	if !slices.Equal(inv.calls, []string{"guild:g1"}) {
		t.Fatalf("unexpected invalidations: %v", inv.calls)
	}
}

func TestDeleteMissingPermission(t *testing.T) {
	svc, _, inv := newTestService(t)
	if err := svc.DeletePermission(context.Background(), "g1", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(inv.calls) != 0 {
		t.Fatalf("failed mutation must not invalidate: %v", inv.calls)
	}
}

func TestGrantsRequireRegisteredPermission(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if err := svc.GrantToUser(ctx, "g1", "u1", "ghost"); !errors.Is(err, ErrUnknownPermission) {
		t.Fatalf("GrantToUser: expected ErrUnknownPermission, got %v", err)
	}
	if err := svc.RevokeFromUser(ctx, "g1", "u1", "ghost"); !errors.Is(err, ErrUnknownPermission) {
		t.Fatalf("RevokeFromUser: expected ErrUnknownPermission, got %v", err)
	}
	if _, err := svc.CreateGroup(ctx, "g1", "staff"); err != nil {
		t.Fatal(err)
	}
	if err := svc.GrantToGroup(ctx, "g1", "staff", "ghost"); !errors.Is(err, ErrUnknownPermission) {
		t.Fatalf("GrantToGroup: expected ErrUnknownPermission, got %v", err)
	}
	if err := svc.SetCommandPermissions(ctx, "g1", "ban", []string{"ghost"}); !errors.Is(err, ErrUnknownPermission) {
		t.Fatalf("SetCommandPermissions: expected ErrUnknownPermission, got %v", err)
	}
	mustCreate(t, svc, "g1", "admin")
	if err := svc.GrantToGroup(ctx, "g1", "nosuchgroup", "admin"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GrantToGroup: expected ErrNotFound for missing group, got %v", err)
	}
}

func TestGroupNamesAreCaseInsensitive(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	g, err := svc.CreateGroup(ctx, "g1", "VIP")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if g.Key != "vip" || g.Name != "VIP" {
		t.Fatalf("unexpected group identity: %+v", g)
	}
	if _, err := svc.CreateGroup(ctx, "g1", "vip"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := svc.Group(ctx, "g1", "Vip"); err != nil {
		t.Fatalf("lookup should ignore case: %v", err)
	}
}

func TestDeleteGroupKeepsMemberships(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.CreateGroup(ctx, "g1", "staff"); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddUserToGroup(ctx, "g1", "u1", "staff"); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteGroup(ctx, "g1", "staff"); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteGroup(ctx, "g1", "staff"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	grant, err := store.UserGrant(ctx, "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(grant.Groups, []string{"staff"}) {
		t.Fatalf("membership should stay on the user record: %v", grant.Groups)
	}
	if err := svc.AddUserToGroup(ctx, "g1", "u2", "staff"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("joining a deleted group: expected ErrNotFound, got %v", err)
	}
}

func TestUserGrantForUnknownMemberIsEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)
	g, err := svc.UserGrant(context.Background(), "g1", "u1")
	if err != nil {
		t.Fatalf("UserGrant: %v", err)
	}
	if len(g.Permissions) != 0 || len(g.Groups) != 0 || g.UserID != "u1" {
		t.Fatalf("unexpected grant: %+v", g)
	}
}

func TestMutationsInvalidateTheRightScope(t *testing.T) {
	svc, _, inv := newTestService(t)
	ctx := context.Background()
	mustCreate(t, svc, "g1", "admin")
	if _, err := svc.CreateGroup(ctx, "g1", "staff"); err != nil {
		t.Fatal(err)
	}
	inv.calls = nil

	steps := []func() error{
		func() error { return svc.GrantToUser(ctx, "g1", "u1", "admin") },
		func() error { return svc.RevokeFromUser(ctx, "g1", "u1", "admin") },
		func() error { return svc.AddUserToGroup(ctx, "g1", "u1", "staff") },
		func() error { return svc.RemoveUserFromGroup(ctx, "g1", "u1", "staff") },
		func() error { return svc.GrantToGroup(ctx, "g1", "staff", "admin") },
		func() error { return svc.RevokeFromGroup(ctx, "g1", "staff", "admin") },
		func() error { return svc.SetCommandPermissions(ctx, "g1", "Ban", []string{"Admin", "admin"}) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	want := []string{
		"user:g1:u1", "user:g1:u1", "user:g1:u1", "user:g1:u1",
		"guild:g1", "guild:g1",
		"command:g1:ban",
	}
	if !slices.Equal(inv.calls, want) {
		t.Fatalf("unexpected invalidations:\n got %v\nwant %v", inv.calls, want)
	}
}

func mustCreate(t *testing.T, svc *Service, guildID, name string) {
	t.Helper()
	if _, err := svc.CreatePermission(context.Background(), guildID, name); err != nil {
		t.Fatalf("CreatePermission(%s): %v", name, err)
	}
}
