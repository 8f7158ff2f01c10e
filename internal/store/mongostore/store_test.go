package mongostore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"concord.chat/internal/leveling"
	"concord.chat/internal/perm"
	"concord.chat/internal/store"
)

func emptyCursor(mt *mtest.T, coll string) bson.D {
	return mtest.CreateCursorResponse(0, mt.DB.Name()+"."+coll, mtest.FirstBatch)
}

func countCursor(mt *mtest.T, coll string, n int32) bson.D {
	return mtest.CreateCursorResponse(0, mt.DB.Name()+"."+coll, mtest.FirstBatch, bson.D{{Key: "n", Value: n}})
}

func TestNilDatabaseIsUnavailable(t *testing.T) {
	var s Store
	if _, err := s.ListGroups(context.Background(), "g1"); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestPermissionDocuments(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("create duplicate", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key error"}))
		if _, err := New(mt.DB).CreatePermission(ctx, "g1", "admin"); !errors.Is(err, perm.ErrAlreadyExists) {
			mt.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	mt.Run("delete missing", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}))
		if err := New(mt.DB).DeletePermission(ctx, "g1", "ghost"); !errors.Is(err, perm.ErrNotFound) {
			mt.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	mt.Run("delete pulls references", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 2}, bson.E{Key: "nModified", Value: 2}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}),
		)
		if err := New(mt.DB).DeletePermission(ctx, "g1", "admin"); err != nil {
			mt.Fatalf("DeletePermission: %v", err)
		}
	})

	mt.Run("grant unknown permission", func(mt *mtest.T) {
		mt.AddMockResponses(emptyCursor(mt, collPermissions))
		if err := New(mt.DB).AddUserPermission(ctx, "g1", "u1", "ghost"); !errors.Is(err, perm.ErrUnknownPermission) {
			mt.Fatalf("expected ErrUnknownPermission, got %v", err)
		}
	})

	mt.Run("grant races with delete", func(mt *mtest.T) {
		mt.AddMockResponses(
			countCursor(mt, collPermissions, 1),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
			emptyCursor(mt, collPermissions),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
		)
		if err := New(mt.DB).AddUserPermission(ctx, "g1", "u1", "admin"); !errors.Is(err, perm.ErrUnknownPermission) {
			mt.Fatalf("expected compensated ErrUnknownPermission, got %v", err)
		}
	})

	mt.Run("user grant", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mt.DB.Name()+"."+collUserGrants, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "g1:u1"},
			{Key: "guild_id", Value: "g1"},
			{Key: "user_id", Value: "u1"},
			{Key: "permissions", Value: bson.A{"admin"}},
		}))
		g, err := New(mt.DB).UserGrant(ctx, "g1", "u1")
		if err != nil {
			mt.Fatal(err)
		}
		want := perm.UserGrant{GuildID: "g1", UserID: "u1", Permissions: []string{"admin"}, Groups: []string{}}
		if diff := cmp.Diff(want, g); diff != "" {
			mt.Fatalf("grant mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestXPDocuments(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	at := time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC)

	mt.Run("decode record", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mt.DB.Name()+"."+collXP, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "g1:u1"},
			{Key: "guild_id", Value: "g1"},
			{Key: "user_id", Value: "u1"},
			{Key: "xp", Value: int64(250)},
			{Key: "level", Value: int32(2)},
			{Key: "last_xp_gain", Value: at},
			{Key: "created_at", Value: at},
			{Key: "updated_at", Value: at},
		}))
		rec, err := New(mt.DB).XPRecord(ctx, "g1", "u1")
		if err != nil {
			mt.Fatal(err)
		}
		if rec.XP != 250 || rec.Level != 2 || !rec.LastXPGain.Equal(at) {
			mt.Fatalf("unexpected record: %+v", rec)
		}
	})

	mt.Run("missing record", func(mt *mtest.T) {
		mt.AddMockResponses(emptyCursor(mt, collXP))
		if _, err := New(mt.DB).XPRecord(ctx, "g1", "u2"); !errors.Is(err, leveling.ErrNotFound) {
			mt.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestGuildsAreSorted(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	mt.Run("distinct", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "values", Value: bson.A{"g2", "g1"}}))
		got, err := New(mt.DB).Guilds(context.Background())
		if err != nil {
			mt.Fatal(err)
		}
		if diff := cmp.Diff([]string{"g1", "g2"}, got); diff != "" {
			mt.Fatalf("guilds mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestDocID(t *testing.T) {
	if got := docID("123", "456"); got != "123:456" {
		t.Fatalf("docID = %q", got)
	}
}
