// Package mongostore implements the bot's persistence interfaces on MongoDB,
// one collection per entity.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"concord.chat/internal/store"
)

const (
	collPermissions  = "permissions"
	collUserGrants   = "user_grants"
	collGroups       = "permission_groups"
	collCommands     = "command_requirements"
	collXP           = "xp_records"
	collLevelConfigs = "leveling_configs"
	collAccounts     = "economy_accounts"
)

// Store implements perm.Store, leveling.Store, leveling.ConfigStore and
// economy.Store.
type Store struct {
	db *mongo.Database
}

// Connect dials uri and selects database. The caller owns Close.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return New(cli.Database(database)), nil
}

// New wraps an existing database handle.
func New(db *mongo.Database) *Store { return &Store{db: db} }

func (s *Store) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Client().Disconnect(ctx)
}

// Ping reports whether the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.db.Client().Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// EnsureIndexes creates the unique and lookup indexes every collection relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	unique := func(fields ...string) mongo.IndexModel {
		keys := bson.D{}
		for _, f := range fields {
			keys = append(keys, bson.E{Key: f, Value: 1})
		}
		return mongo.IndexModel{Keys: keys, Options: options.Index().SetUnique(true)}
	}
	specs := map[string][]mongo.IndexModel{
		collPermissions: {unique("guild_id", "name")},
		collUserGrants:  {unique("guild_id", "user_id"), {Keys: bson.D{{Key: "guild_id", Value: 1}, {Key: "permissions", Value: 1}}}},
		collGroups:      {unique("guild_id", "key")},
		collCommands:    {unique("guild_id", "command")},
		collXP:          {unique("guild_id", "user_id"), {Keys: bson.D{{Key: "guild_id", Value: 1}, {Key: "xp", Value: -1}}}},
		collAccounts:    {unique("guild_id", "user_id")},
	}
	for coll, models := range specs {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

var errUnavailable = fmt.Errorf("%w: database connection unavailable", store.ErrUnavailable)

func (s *Store) check() error {
	if s == nil || s.db == nil {
		return errUnavailable
	}
	return nil
}

func (s *Store) coll(name string) *mongo.Collection { return s.db.Collection(name) }

// docID joins key parts into a document id. Discord ids never contain ':'.
func docID(parts ...string) string { return strings.Join(parts, ":") }

func upsert() *options.UpdateOptions { return options.Update().SetUpsert(true) }

func isNoDocuments(err error) bool { return errors.Is(err, mongo.ErrNoDocuments) }
