package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"concord.chat/internal/leveling"
)

var (
	_ leveling.Store       = (*Store)(nil)
	_ leveling.ConfigStore = (*Store)(nil)
)

type xpDoc struct {
	ID         string     `bson:"_id"`
	GuildID    string     `bson:"guild_id"`
	UserID     string     `bson:"user_id"`
	XP         int64      `bson:"xp"`
	Level      int        `bson:"level"`
	LastXPGain *time.Time `bson:"last_xp_gain,omitempty"`
	CreatedAt  time.Time  `bson:"created_at"`
	UpdatedAt  time.Time  `bson:"updated_at"`
}

func (d xpDoc) record() leveling.Record {
	rec := leveling.Record{GuildID: d.GuildID, UserID: d.UserID, XP: d.XP, Level: d.Level, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
	if d.LastXPGain != nil {
		rec.LastXPGain = d.LastXPGain.UTC()
	}
	return rec
}

type levelingConfigDoc struct {
	ID                    string    `bson:"_id"`
	MinXP                 int64     `bson:"min_xp"`
	MaxXP                 int64     `bson:"max_xp"`
	CooldownSeconds       int64     `bson:"cooldown_seconds"`
	MinMessageLength      int       `bson:"min_message_length"`
	BlacklistedChannels   []string  `bson:"blacklisted_channels"`
	BlacklistedRoles      []string  `bson:"blacklisted_roles"`
	NotificationChannelID string    `bson:"notification_channel_id,omitempty"`
	MessageTemplate       string    `bson:"message_template,omitempty"`
	UpdatedAt             time.Time `bson:"updated_at"`
}

func (s *Store) XPRecord(ctx context.Context, guildID, userID string) (leveling.Record, error) {
	if err := s.check(); err != nil {
		return leveling.Record{}, err
	}
	var d xpDoc
	err := s.coll(collXP).FindOne(ctx, bson.M{"_id": docID(guildID, userID)}).Decode(&d)
	if isNoDocuments(err) {
		return leveling.Record{}, leveling.ErrNotFound
	}
	if err != nil {
		return leveling.Record{}, err
	}
	return d.record(), nil
}

// SaveXPRecord replaces the whole document, so xp, level and last gain land in
// one write.
func (s *Store) SaveXPRecord(ctx context.Context, rec leveling.Record) error {
	if err := s.check(); err != nil {
		return err
	}
	d := xpDoc{
		ID:        docID(rec.GuildID, rec.UserID),
		GuildID:   rec.GuildID,
		UserID:    rec.UserID,
		XP:        rec.XP,
		Level:     rec.Level,
		CreatedAt: rec.CreatedAt.UTC(),
		UpdatedAt: rec.UpdatedAt.UTC(),
	}
	if !rec.LastXPGain.IsZero() {
		t := rec.LastXPGain.UTC()
		d.LastXPGain = &t
	}
	_, err := s.coll(collXP).ReplaceOne(ctx, bson.M{"_id": d.ID}, d, options.Replace().SetUpsert(true))
	return err
}

// ApplyXP runs the increment as one pipeline upsert. When the cutoff filter
// excludes an existing document the upsert collides on _id, which is how a
// rejected grant is detected.
func (s *Store) ApplyXP(ctx context.Context, d leveling.XPDelta) (leveling.Record, error) {
	if err := s.check(); err != nil {
		return leveling.Record{}, err
	}
	id := docID(d.GuildID, d.UserID)
	filter := bson.M{"_id": id}
	if !d.Cutoff.IsZero() {
		filter["$or"] = bson.A{
			bson.M{"last_xp_gain": bson.M{"$exists": false}},
			bson.M{"last_xp_gain": nil},
			bson.M{"last_xp_gain": bson.M{"$lte": d.Cutoff.UTC()}},
		}
	}
	at := d.At.UTC()
	set := bson.M{
		"guild_id":   d.GuildID,
		"user_id":    d.UserID,
		"xp":         bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$xp", 0}}, d.Amount}},
		"created_at": bson.M{"$ifNull": bson.A{"$created_at", at}},
		"updated_at": at,
	}
	if !d.GainedAt.IsZero() {
		set["last_xp_gain"] = d.GainedAt.UTC()
	}
	level := bson.M{"$toInt": bson.M{"$add": bson.A{
		bson.M{"$floor": bson.M{"$sqrt": bson.M{"$floor": bson.M{"$divide": bson.A{"$xp", 100}}}}},
		1,
	}}}
	update := mongo.Pipeline{
		{{Key: "$set", Value: set}},
		{{Key: "$set", Value: bson.M{"level": level}}},
	}
	var out xpDoc
	err := s.coll(collXP).FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)).Decode(&out)
	if mongo.IsDuplicateKeyError(err) {
		return leveling.Record{}, leveling.ErrCooldown
	}
	if err != nil {
		return leveling.Record{}, err
	}
	return out.record(), nil
}

func (s *Store) ListXPRecords(ctx context.Context, guildID string) ([]leveling.Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	cur, err := s.coll(collXP).Find(ctx, bson.M{"guild_id": guildID},
		options.Find().SetSort(bson.D{{Key: "xp", Value: -1}, {Key: "user_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []xpDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]leveling.Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.record())
	}
	return out, nil
}

func (s *Store) DeleteXPRecord(ctx context.Context, guildID, userID string) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.coll(collXP).DeleteOne(ctx, bson.M{"_id": docID(guildID, userID)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return leveling.ErrNotFound
	}
	return nil
}

func (s *Store) LevelingConfig(ctx context.Context, guildID string) (leveling.Config, error) {
	if err := s.check(); err != nil {
		return leveling.Config{}, err
	}
	var d levelingConfigDoc
	err := s.coll(collLevelConfigs).FindOne(ctx, bson.M{"_id": guildID}).Decode(&d)
	if isNoDocuments(err) {
		return leveling.Config{}, leveling.ErrNotFound
	}
	if err != nil {
		return leveling.Config{}, err
	}
	return leveling.Config{
		GuildID:               guildID,
		MinXP:                 d.MinXP,
		MaxXP:                 d.MaxXP,
		CooldownSeconds:       d.CooldownSeconds,
		MinMessageLength:      d.MinMessageLength,
		BlacklistedChannels:   d.BlacklistedChannels,
		BlacklistedRoles:      d.BlacklistedRoles,
		NotificationChannelID: d.NotificationChannelID,
		MessageTemplate:       d.MessageTemplate,
		UpdatedAt:             d.UpdatedAt,
	}, nil
}

func (s *Store) SaveLevelingConfig(ctx context.Context, cfg leveling.Config) error {
	if err := s.check(); err != nil {
		return err
	}
	d := levelingConfigDoc{
		ID:                    cfg.GuildID,
		MinXP:                 cfg.MinXP,
		MaxXP:                 cfg.MaxXP,
		CooldownSeconds:       cfg.CooldownSeconds,
		MinMessageLength:      cfg.MinMessageLength,
		BlacklistedChannels:   nonNil(cfg.BlacklistedChannels),
		BlacklistedRoles:      nonNil(cfg.BlacklistedRoles),
		NotificationChannelID: cfg.NotificationChannelID,
		MessageTemplate:       cfg.MessageTemplate,
		UpdatedAt:             time.Now().UTC(),
	}
	_, err := s.coll(collLevelConfigs).ReplaceOne(ctx, bson.M{"_id": d.ID}, d, options.Replace().SetUpsert(true))
	return err
}
