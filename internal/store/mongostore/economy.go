package mongostore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"concord.chat/internal/economy"
)

var _ economy.Store = (*Store)(nil)

type accountDoc struct {
	ID             string     `bson:"_id"`
	GuildID        string     `bson:"guild_id"`
	UserID         string     `bson:"user_id"`
	Wallet         int64      `bson:"wallet"`
	Bank           int64      `bson:"bank"`
	Location       *string    `bson:"location,omitempty"`
	Birthday       *string    `bson:"birthday,omitempty"`
	LastInterestAt *time.Time `bson:"last_interest_at,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

func toAccountDoc(a economy.Account) accountDoc {
	d := accountDoc{
		ID:        docID(a.GuildID, a.UserID),
		GuildID:   a.GuildID,
		UserID:    a.UserID,
		Wallet:    a.Wallet,
		Bank:      a.Bank,
		Location:  a.Profile.Location,
		Birthday:  a.Profile.Birthday,
		CreatedAt: a.CreatedAt.UTC(),
		UpdatedAt: a.UpdatedAt.UTC(),
	}
	if !a.LastInterestAt.IsZero() {
		t := a.LastInterestAt.UTC()
		d.LastInterestAt = &t
	}
	return d
}

func (d accountDoc) account() economy.Account {
	a := economy.Account{
		GuildID:   d.GuildID,
		UserID:    d.UserID,
		Wallet:    d.Wallet,
		Bank:      d.Bank,
		Profile:   economy.Profile{Location: d.Location, Birthday: d.Birthday},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.LastInterestAt != nil {
		a.LastInterestAt = d.LastInterestAt.UTC()
	}
	return a
}

func (s *Store) Account(ctx context.Context, guildID, userID string) (economy.Account, error) {
	if err := s.check(); err != nil {
		return economy.Account{}, err
	}
	var d accountDoc
	err := s.coll(collAccounts).FindOne(ctx, bson.M{"_id": docID(guildID, userID)}).Decode(&d)
	if isNoDocuments(err) {
		return economy.Account{}, economy.ErrNotFound
	}
	if err != nil {
		return economy.Account{}, err
	}
	return d.account(), nil
}

func (s *Store) SaveAccount(ctx context.Context, a economy.Account) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.replaceAccount(ctx, a)
}

func (s *Store) replaceAccount(ctx context.Context, a economy.Account) error {
	d := toAccountDoc(a)
	_, err := s.coll(collAccounts).ReplaceOne(ctx, bson.M{"_id": d.ID}, d, options.Replace().SetUpsert(true))
	return err
}

// SaveAccounts writes the accounts in a multi-document transaction, which
// needs a replica set or sharded cluster.
func (s *Store) SaveAccounts(ctx context.Context, accts ...economy.Account) error {
	if err := s.check(); err != nil {
		return err
	}
	if len(accts) == 1 {
		return s.replaceAccount(ctx, accts[0])
	}
	sess, err := s.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		for _, a := range accts {
			if err := s.replaceAccount(sc, a); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (s *Store) ListAccounts(ctx context.Context, guildID string) ([]economy.Account, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	cur, err := s.coll(collAccounts).Find(ctx, bson.M{"guild_id": guildID}, options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []accountDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]economy.Account, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.account())
	}
	return out, nil
}

func (s *Store) Guilds(ctx context.Context) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	vals, err := s.coll(collAccounts).Distinct(ctx, "guild_id", bson.D{})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if g, ok := v.(string); ok {
			out = append(out, g)
		}
	}
	sort.Strings(out)
	return out, nil
}
