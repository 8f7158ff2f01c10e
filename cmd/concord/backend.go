package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"concord.chat/internal/config"
	"concord.chat/internal/economy"
	"concord.chat/internal/httpapi"
	"concord.chat/internal/leveling"
	"concord.chat/internal/migrate"
	"concord.chat/internal/perm"
	"concord.chat/internal/store/mongostore"
	"concord.chat/internal/store/pg"
)

type levelStore interface {
	leveling.Store
	leveling.ConfigStore
}

// backend is the set of stores selected by storage.driver.
type backend struct {
	perms    perm.Store
	levels   levelStore
	accounts economy.Store
	probes   []httpapi.Pinger
	close    func(context.Context) error
}

func openBackend(ctx context.Context, c config.StorageConfig, log *zap.Logger) (*backend, error) {
	switch c.Driver {
	case config.DriverMemory:
		log.Warn("using in-memory storage, state is lost on restart")
		return &backend{
			perms:    perm.NewInMemory(),
			levels:   leveling.NewInMemory(),
			accounts: economy.NewInMemory(),
			close:    func(context.Context) error { return nil },
		}, nil

	case config.DriverPostgres:
		st, err := pg.Open(c.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if c.AutoMigrate {
			applied, err := migrate.NewManager(st.DB(), pg.Migrations()).Up(ctx)
			if err != nil {
				_ = st.Close()
				return nil, fmt.Errorf("auto-migrate: %w", err)
			}
			if len(applied) > 0 {
				log.Info("migrations applied", zap.Strings("names", applied))
			}
		}
		return &backend{
			perms:    st,
			levels:   st,
			accounts: st,
			probes:   []httpapi.Pinger{st},
			close:    func(context.Context) error { return st.Close() },
		}, nil

	case config.DriverMongo:
		st, err := mongostore.Connect(ctx, c.MongoURI, c.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := st.EnsureIndexes(ctx); err != nil {
			_ = st.Close(ctx)
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return &backend{
			perms:    st,
			levels:   st,
			accounts: st,
			probes:   []httpapi.Pinger{st},
			close:    st.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", c.Driver)
}
