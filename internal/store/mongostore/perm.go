package mongostore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"concord.chat/internal/perm"
)

// MongoDB has no cross-collection foreign keys. Writes that reference a
// permission check it first and re-check afterwards; if it vanished in
// between, the reference is pulled again and ErrUnknownPermission returned.
// DeletePermission removes the permission document before pulling references,
// so a concurrent writer always observes the deletion on its re-check.

var _ perm.Store = (*Store)(nil)

type permissionDoc struct {
	ID        string    `bson:"_id"`
	GuildID   string    `bson:"guild_id"`
	Name      string    `bson:"name"`
	CreatedAt time.Time `bson:"created_at"`
}

type userGrantDoc struct {
	ID          string   `bson:"_id"`
	GuildID     string   `bson:"guild_id"`
	UserID      string   `bson:"user_id"`
	Permissions []string `bson:"permissions"`
	Groups      []string `bson:"groups"`
}

type groupDoc struct {
	ID          string    `bson:"_id"`
	GuildID     string    `bson:"guild_id"`
	Key         string    `bson:"key"`
	Name        string    `bson:"name"`
	Permissions []string  `bson:"permissions"`
	CreatedAt   time.Time `bson:"created_at"`
}

type commandDoc struct {
	ID          string   `bson:"_id"`
	GuildID     string   `bson:"guild_id"`
	Command     string   `bson:"command"`
	Permissions []string `bson:"permissions"`
}

func (d groupDoc) group() perm.Group {
	return perm.Group{GuildID: d.GuildID, Key: d.Key, Name: d.Name, Permissions: nonNil(d.Permissions), CreatedAt: d.CreatedAt}
}

func (s *Store) CreatePermission(ctx context.Context, guildID, name string) (perm.Permission, error) {
	if err := s.check(); err != nil {
		return perm.Permission{}, err
	}
	doc := permissionDoc{ID: docID(guildID, name), GuildID: guildID, Name: name, CreatedAt: time.Now().UTC()}
	if _, err := s.coll(collPermissions).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return perm.Permission{}, perm.ErrAlreadyExists
		}
		return perm.Permission{}, err
	}
	return perm.Permission{GuildID: guildID, Name: name, CreatedAt: doc.CreatedAt}, nil
}

func (s *Store) PermissionExists(ctx context.Context, guildID, name string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	n, err := s.coll(collPermissions).CountDocuments(ctx, bson.M{"_id": docID(guildID, name)})
	return n > 0, err
}

func (s *Store) ListPermissions(ctx context.Context, guildID string) ([]perm.Permission, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	cur, err := s.coll(collPermissions).Find(ctx, bson.M{"guild_id": guildID}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []permissionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]perm.Permission, 0, len(docs))
	for _, d := range docs {
		out = append(out, perm.Permission{GuildID: d.GuildID, Name: d.Name, CreatedAt: d.CreatedAt})
	}
	return out, nil
}

func (s *Store) DeletePermission(ctx context.Context, guildID, name string) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.coll(collPermissions).DeleteOne(ctx, bson.M{"_id": docID(guildID, name)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return perm.ErrNotFound
	}
	return s.pullPermission(ctx, guildID, name)
}

func (s *Store) pullPermission(ctx context.Context, guildID, name string) error {
	filter := bson.M{"guild_id": guildID, "permissions": name}
	pull := bson.M{"$pull": bson.M{"permissions": name}}
	for _, coll := range []string{collUserGrants, collGroups, collCommands} {
		if _, err := s.coll(coll).UpdateMany(ctx, filter, pull); err != nil {
			return fmt.Errorf("pull %s from %s: %w", name, coll, err)
		}
	}
	_, err := s.coll(collCommands).DeleteMany(ctx, bson.M{"guild_id": guildID, "permissions": bson.M{"$size": 0}})
	return err
}

func (s *Store) requirePermission(ctx context.Context, guildID, name string) error {
	ok, err := s.PermissionExists(ctx, guildID, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", perm.ErrUnknownPermission, name)
	}
	return nil
}

// reverify undoes a reference write when the permission was deleted meanwhile.
func (s *Store) reverify(ctx context.Context, guildID, name string, undo func() error) error {
	ok, err := s.PermissionExists(ctx, guildID, name)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if err := undo(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", perm.ErrUnknownPermission, name)
}

func (s *Store) UserGrant(ctx context.Context, guildID, userID string) (perm.UserGrant, error) {
	if err := s.check(); err != nil {
		return perm.UserGrant{}, err
	}
	var d userGrantDoc
	err := s.coll(collUserGrants).FindOne(ctx, bson.M{"_id": docID(guildID, userID)}).Decode(&d)
	if isNoDocuments(err) {
		return perm.UserGrant{}, perm.ErrNotFound
	}
	if err != nil {
		return perm.UserGrant{}, err
	}
	return perm.UserGrant{GuildID: d.GuildID, UserID: d.UserID, Permissions: nonNil(d.Permissions), Groups: nonNil(d.Groups)}, nil
}

func (s *Store) updateUser(ctx context.Context, guildID, userID string, update bson.M) error {
	update["$setOnInsert"] = bson.M{"guild_id": guildID, "user_id": userID}
	_, err := s.coll(collUserGrants).UpdateOne(ctx, bson.M{"_id": docID(guildID, userID)}, update, upsert())
	return err
}

func (s *Store) AddUserPermission(ctx context.Context, guildID, userID, name string) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.requirePermission(ctx, guildID, name); err != nil {
		return err
	}
	if err := s.updateUser(ctx, guildID, userID, bson.M{"$addToSet": bson.M{"permissions": name}}); err != nil {
		return err
	}
	return s.reverify(ctx, guildID, name, func() error {
		return s.updateUser(ctx, guildID, userID, bson.M{"$pull": bson.M{"permissions": name}})
	})
}

func (s *Store) RemoveUserPermission(ctx context.Context, guildID, userID, name string) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.requirePermission(ctx, guildID, name); err != nil {
		return err
	}
	_, err := s.coll(collUserGrants).UpdateOne(ctx, bson.M{"_id": docID(guildID, userID)}, bson.M{"$pull": bson.M{"permissions": name}})
	return err
}

func (s *Store) AddUserGroup(ctx context.Context, guildID, userID, groupKey string) error {
	if err := s.check(); err != nil {
		return err
	}
	n, err := s.coll(collGroups).CountDocuments(ctx, bson.M{"_id": docID(guildID, groupKey)})
	if err != nil {
		return err
	}
	if n == 0 {
		return perm.ErrNotFound
	}
	return s.updateUser(ctx, guildID, userID, bson.M{"$addToSet": bson.M{"groups": groupKey}})
}

func (s *Store) RemoveUserGroup(ctx context.Context, guildID, userID, groupKey string) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.coll(collUserGrants).UpdateOne(ctx, bson.M{"_id": docID(guildID, userID)}, bson.M{"$pull": bson.M{"groups": groupKey}})
	return err
}

func (s *Store) CreateGroup(ctx context.Context, guildID, key, name string) (perm.Group, error) {
	if err := s.check(); err != nil {
		return perm.Group{}, err
	}
	doc := groupDoc{ID: docID(guildID, key), GuildID: guildID, Key: key, Name: name, Permissions: []string{}, CreatedAt: time.Now().UTC()}
	if _, err := s.coll(collGroups).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return perm.Group{}, perm.ErrAlreadyExists
		}
		return perm.Group{}, err
	}
	return doc.group(), nil
}

func (s *Store) Group(ctx context.Context, guildID, key string) (perm.Group, error) {
	if err := s.check(); err != nil {
		return perm.Group{}, err
	}
	var d groupDoc
	err := s.coll(collGroups).FindOne(ctx, bson.M{"_id": docID(guildID, key)}).Decode(&d)
	if isNoDocuments(err) {
		return perm.Group{}, perm.ErrNotFound
	}
	if err != nil {
		return perm.Group{}, err
	}
	return d.group(), nil
}

func (s *Store) ListGroups(ctx context.Context, guildID string) ([]perm.Group, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	cur, err := s.coll(collGroups).Find(ctx, bson.M{"guild_id": guildID}, options.Find().SetSort(bson.D{{Key: "key", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []groupDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]perm.Group, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.group())
	}
	return out, nil
}

func (s *Store) DeleteGroup(ctx context.Context, guildID, key string) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.coll(collGroups).DeleteOne(ctx, bson.M{"_id": docID(guildID, key)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return perm.ErrNotFound
	}
	return nil
}

func (s *Store) AddGroupPermission(ctx context.Context, guildID, groupKey, name string) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.Group(ctx, guildID, groupKey); err != nil {
		return err
	}
	if err := s.requirePermission(ctx, guildID, name); err != nil {
		return err
	}
	id := bson.M{"_id": docID(guildID, groupKey)}
	res, err := s.coll(collGroups).UpdateOne(ctx, id, bson.M{"$addToSet": bson.M{"permissions": name}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return perm.ErrNotFound
	}
	return s.reverify(ctx, guildID, name, func() error {
		_, err := s.coll(collGroups).UpdateOne(ctx, id, bson.M{"$pull": bson.M{"permissions": name}})
		return err
	})
}

func (s *Store) RemoveGroupPermission(ctx context.Context, guildID, groupKey, name string) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.Group(ctx, guildID, groupKey); err != nil {
		return err
	}
	if err := s.requirePermission(ctx, guildID, name); err != nil {
		return err
	}
	_, err := s.coll(collGroups).UpdateOne(ctx, bson.M{"_id": docID(guildID, groupKey)}, bson.M{"$pull": bson.M{"permissions": name}})
	return err
}

func (s *Store) CommandRequirement(ctx context.Context, guildID, command string) (perm.CommandRequirement, error) {
	if err := s.check(); err != nil {
		return perm.CommandRequirement{}, err
	}
	var d commandDoc
	err := s.coll(collCommands).FindOne(ctx, bson.M{"_id": docID(guildID, command)}).Decode(&d)
	if isNoDocuments(err) || (err == nil && len(d.Permissions) == 0) {
		return perm.CommandRequirement{}, perm.ErrNotFound
	}
	if err != nil {
		return perm.CommandRequirement{}, err
	}
	return perm.CommandRequirement{GuildID: d.GuildID, Command: d.Command, Permissions: d.Permissions}, nil
}

func (s *Store) SetCommandRequirement(ctx context.Context, guildID, command string, names []string) error {
	if err := s.check(); err != nil {
		return err
	}
	id := bson.M{"_id": docID(guildID, command)}
	if len(names) == 0 {
		_, err := s.coll(collCommands).DeleteOne(ctx, id)
		return err
	}
	missing, err := s.missingPermissions(ctx, guildID, names)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", perm.ErrUnknownPermission, missing[0])
	}
	doc := commandDoc{ID: docID(guildID, command), GuildID: guildID, Command: command, Permissions: names}
	if _, err := s.coll(collCommands).ReplaceOne(ctx, id, doc, options.Replace().SetUpsert(true)); err != nil {
		return err
	}

	missing, err = s.missingPermissions(ctx, guildID, names)
	if err != nil || len(missing) == 0 {
		return err
	}
	if len(missing) == len(names) {
		_, err = s.coll(collCommands).DeleteOne(ctx, id)
	} else {
		_, err = s.coll(collCommands).UpdateOne(ctx, id, bson.M{"$pullAll": bson.M{"permissions": missing}})
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", perm.ErrUnknownPermission, missing[0])
}

func (s *Store) missingPermissions(ctx context.Context, guildID string, names []string) ([]string, error) {
	ids := make([]string, 0, len(names))
	for _, n := range names {
		ids = append(ids, docID(guildID, n))
	}
	cur, err := s.coll(collPermissions).Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	var docs []permissionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	var missing []string
	for _, n := range names {
		if !slices.ContainsFunc(docs, func(d permissionDoc) bool { return d.Name == n }) {
			missing = append(missing, n)
		}
	}
	return missing, nil
}

func (s *Store) ListCommandRequirements(ctx context.Context, guildID string) ([]perm.CommandRequirement, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	cur, err := s.coll(collCommands).Find(ctx, bson.M{"guild_id": guildID}, options.Find().SetSort(bson.D{{Key: "command", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []commandDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]perm.CommandRequirement, 0, len(docs))
	for _, d := range docs {
		if len(d.Permissions) == 0 {
			continue
		}
		out = append(out, perm.CommandRequirement{GuildID: d.GuildID, Command: d.Command, Permissions: d.Permissions})
	}
	return out, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
