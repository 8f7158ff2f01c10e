package pg

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgconn"

	"concord.chat/internal/economy"
	"concord.chat/internal/leveling"
	"concord.chat/internal/perm"
	"concord.chat/internal/store"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func TestMigrationsAreEmbeddedInPairs(t *testing.T) {
	ups, err := fs.Glob(Migrations(), "*.up.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(ups) < 3 {
		t.Fatalf("expected embedded migrations, got %v", ups)
	}
	for _, up := range ups {
		down := up[:len(up)-len(".up.sql")] + ".down.sql"
		if _, err := fs.Stat(Migrations(), down); err != nil {
			t.Fatalf("missing %s", down)
		}
	}
}

func TestNilHandleIsUnavailable(t *testing.T) {
	var s Store
	if _, err := s.ListPermissions(context.Background(), "g1"); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestCreatePermissionMapsUniqueViolation(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into permissions").
		WithArgs("g1", "admin").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	if _, err := s.CreatePermission(context.Background(), "g1", "admin"); !errors.Is(err, perm.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestDeletePermissionReportsMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("delete from permissions").
		WithArgs("g1", "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeletePermission(context.Background(), "g1", "ghost"); !errors.Is(err, perm.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddUserPermissionMapsForeignKeyViolation(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into user_permissions").
		WithArgs("g1", "u1", "ghost").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	if err := s.AddUserPermission(context.Background(), "g1", "u1", "ghost"); !errors.Is(err, perm.ErrUnknownPermission) {
		t.Fatalf("expected ErrUnknownPermission, got %v", err)
	}
}

func TestAddUserGroupRequiresGroup(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from perm_groups").
		WithArgs("g1", "vip").
		WillReturnRows(sqlmock.NewRows([]string{"one"}))
	mock.ExpectRollback()

	if err := s.AddUserGroup(context.Background(), "g1", "u1", "vip"); !errors.Is(err, perm.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserGrantCombinesPermissionsAndGroups(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select permission from user_permissions").
		WithArgs("g1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"permission"}).AddRow("admin"))
	mock.ExpectQuery("select group_key from user_groups").
		WithArgs("g1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"group_key"}).AddRow("vip").AddRow("mods"))

	g, err := s.UserGrant(context.Background(), "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	want := perm.UserGrant{GuildID: "g1", UserID: "u1", Permissions: []string{"admin"}, Groups: []string{"vip", "mods"}}
	if diff := cmp.Diff(want, g); diff != "" {
		t.Fatalf("grant mismatch (-want +got):\n%s", diff)
	}
}

func TestUserGrantMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select permission from user_permissions").WillReturnRows(sqlmock.NewRows([]string{"permission"}))
	mock.ExpectQuery("select group_key from user_groups").WillReturnRows(sqlmock.NewRows([]string{"group_key"}))

	if _, err := s.UserGrant(context.Background(), "g1", "u1"); !errors.Is(err, perm.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetCommandRequirementReplacesInTransaction(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("delete from command_permissions").WithArgs("g1", "ban").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into command_permissions").WithArgs("g1", "ban", "admin", 0).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into command_permissions").WithArgs("g1", "ban", "ghost", 1).
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectRollback()

	err := s.SetCommandRequirement(context.Background(), "g1", "ban", []string{"admin", "ghost"})
	if !errors.Is(err, perm.ErrUnknownPermission) {
		t.Fatalf("expected ErrUnknownPermission, got %v", err)
	}
}

func TestListCommandRequirementsGroupsRows(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select command, permission from command_permissions").
		WithArgs("g1").
		WillReturnRows(sqlmock.NewRows([]string{"command", "permission"}).
			AddRow("ban", "admin").AddRow("ban", "mod").AddRow("kick", "mod"))

	got, err := s.ListCommandRequirements(context.Background(), "g1")
	if err != nil {
		t.Fatal(err)
	}
	want := []perm.CommandRequirement{
		{GuildID: "g1", Command: "ban", Permissions: []string{"admin", "mod"}},
		{GuildID: "g1", Command: "kick", Permissions: []string{"mod"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("requirements mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveXPRecordUpserts(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := leveling.Record{GuildID: "g1", UserID: "u1", XP: 250, Level: 2, LastXPGain: now, CreatedAt: now, UpdatedAt: now}
	mock.ExpectExec("(?s)insert into xp_records .* on conflict \\(guild_id, user_id\\) do update").
		WithArgs("g1", "u1", int64(250), 2, sqlmock.AnyArg(), now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.SaveXPRecord(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
}

func TestApplyXPIncrementsInPlace(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("(?s)insert into xp_records as r .* set xp = r.xp \\+ excluded.xp.* where .* returning").
		WithArgs("g1", "u1", int64(7), 1, sqlmock.AnyArg(), now, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"xp", "level", "last_xp_gain", "created_at", "updated_at"}).
			AddRow(int64(107), 2, now, now, now))

	rec, err := s.ApplyXP(context.Background(), leveling.XPDelta{
		GuildID: "g1", UserID: "u1", Amount: 7, GainedAt: now, Cutoff: now.Add(-time.Minute), At: now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.XP != 107 || rec.Level != 2 || !rec.LastXPGain.Equal(now) {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestApplyXPReportsCooldown(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("insert into xp_records").
		WillReturnRows(sqlmock.NewRows([]string{"xp", "level", "last_xp_gain", "created_at", "updated_at"}))

	_, err := s.ApplyXP(context.Background(), leveling.XPDelta{
		GuildID: "g1", UserID: "u1", Amount: 7, GainedAt: now, Cutoff: now.Add(-time.Minute), At: now,
	})
	if !errors.Is(err, leveling.ErrCooldown) {
		t.Fatalf("expected ErrCooldown, got %v", err)
	}
}

func TestXPRecordMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from xp_records").WithArgs("g1", "u1").WillReturnRows(
		sqlmock.NewRows([]string{"xp", "level", "last_xp_gain", "created_at", "updated_at"}))

	if _, err := s.XPRecord(context.Background(), "g1", "u1"); !errors.Is(err, leveling.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLevelingConfigDecodesBlacklists(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("from leveling_configs").WithArgs("g1").WillReturnRows(
		sqlmock.NewRows([]string{"min_xp", "max_xp", "cooldown_seconds", "min_message_length",
			"blacklisted_channels", "blacklisted_roles", "notification_channel_id", "message_template", "updated_at"}).
			AddRow(int64(5), int64(15), int64(30), 3, []byte(`["c1","c2"]`), []byte(`[]`), nil, "GG {user}", now))

	cfg, err := s.LevelingConfig(context.Background(), "g1")
	if err != nil {
		t.Fatal(err)
	}
	want := leveling.Config{
		GuildID: "g1", MinXP: 5, MaxXP: 15, CooldownSeconds: 30, MinMessageLength: 3,
		BlacklistedChannels: []string{"c1", "c2"}, BlacklistedRoles: []string{},
		MessageTemplate: "GG {user}", UpdatedAt: now,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveAccountsIsTransactional(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into economy_accounts").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into economy_accounts").WillReturnError(errors.New("check constraint wallet"))
	mock.ExpectRollback()

	err := s.SaveAccounts(context.Background(),
		economy.Account{GuildID: "g1", UserID: "a", Wallet: 10},
		economy.Account{GuildID: "g1", UserID: "b", Wallet: -10})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestAccountScansProfile(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("from economy_accounts").WithArgs("g1", "u1").WillReturnRows(
		sqlmock.NewRows([]string{"user_id", "wallet", "bank", "location", "birthday", "last_interest_at", "created_at", "updated_at"}).
			AddRow("u1", int64(40), int64(60), "Lisbon", nil, now, now, now))

	a, err := s.Account(context.Background(), "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if a.Total() != 100 || a.Profile.Location == nil || *a.Profile.Location != "Lisbon" || a.Profile.Birthday != nil {
		t.Fatalf("unexpected account: %+v", a)
	}
}
