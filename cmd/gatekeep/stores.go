package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	mongodriver "go.mongodb.org/mongo-driver/mongo"

	"github.com/lborres/gatekeep/adapters/memory"
	mongoadapter "github.com/lborres/gatekeep/adapters/mongo"
	pgxadapter "github.com/lborres/gatekeep/adapters/pgx"
	redisadapter "github.com/lborres/gatekeep/adapters/redis"
	sqliteadapter "github.com/lborres/gatekeep/adapters/sqlite"
	"github.com/lborres/gatekeep/config"
	"github.com/lborres/gatekeep/core"
)

// stores holds the selected backends and closes their connections.
type stores struct {
	users    core.UserStorage
	sessions core.SessionStorage
	closers  []func()

	pg     *pgxadapter.Adapter
	sqlite *sqliteadapter.Adapter
}

// Close releases connections in reverse order of opening.
func (s *stores) Close() {
	if s == nil {
		return
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// openStores connects the configured backends. On failure every connection
// opened so far is closed before the error is returned.
func openStores(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*stores, error) {
	if err := cfg.ValidateStorage(); err != nil {
		return nil, err
	}

	s := &stores{}
	if err := s.open(ctx, cfg, log); err != nil {
		s.Close()
		return nil, err
	}

	log.WithFields(logrus.Fields{"users": cfg.Storage.Users, "sessions": cfg.Storage.Sessions}).Debug("storage ready")
	return s, nil
}

func (s *stores) open(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) error {
	var err error

	switch cfg.Storage.Users {
	case config.DriverMemory:
		s.users = memory.NewUserStore()
	case config.DriverPostgres:
		if s.users, err = s.postgres(ctx, cfg); err != nil {
			return fmt.Errorf("users: %w", err)
		}
	case config.DriverSQLite:
		if s.users, err = s.sqliteStore(ctx, cfg); err != nil {
			return fmt.Errorf("users: %w", err)
		}
	case config.DriverMongo:
		client, err := mongoadapter.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			return fmt.Errorf("users: %w", err)
		}
		s.closers = append(s.closers, func() { disconnectMongo(client, log) })
		users := mongoadapter.NewUserStore(client.Database(cfg.Mongo.Database))
		if err := users.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("users: %w", err)
		}
		s.users = users
	default:
		return fmt.Errorf("unsupported user storage %q", cfg.Storage.Users)
	}

	switch cfg.Storage.Sessions {
	case config.DriverMemory:
		s.sessions = memory.NewSessionStore()
	case config.DriverPostgres:
		if s.sessions, err = s.postgres(ctx, cfg); err != nil {
			return fmt.Errorf("sessions: %w", err)
		}
	case config.DriverSQLite:
		if s.sessions, err = s.sqliteStore(ctx, cfg); err != nil {
			return fmt.Errorf("sessions: %w", err)
		}
	case config.DriverRedis:
		client, err := redisadapter.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("sessions: %w", err)
		}
		s.closers = append(s.closers, func() { _ = client.Close() })
		s.sessions = redisadapter.NewSessionStore(client)
	default:
		return fmt.Errorf("unsupported session storage %q", cfg.Storage.Sessions)
	}
	return nil
}

// postgres opens the pool once and shares it between users and sessions.
func (s *stores) postgres(ctx context.Context, cfg *config.Config) (*pgxadapter.Adapter, error) {
	if s.pg != nil {
		return s.pg, nil
	}
	pool, err := pgxadapter.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closePool(pool))

	adapter := pgxadapter.New(pool)
	if err := adapter.Migrate(ctx); err != nil {
		return nil, err
	}
	s.pg = adapter
	return adapter, nil
}

func (s *stores) sqliteStore(ctx context.Context, cfg *config.Config) (*sqliteadapter.Adapter, error) {
	if s.sqlite != nil {
		return s.sqlite, nil
	}
	db, err := sqliteadapter.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeDB(db))

	adapter := sqliteadapter.New(db)
	if err := adapter.Init(ctx); err != nil {
		return nil, err
	}
	s.sqlite = adapter
	return adapter, nil
}

func closePool(pool *pgxpool.Pool) func() { return pool.Close }

func closeDB(db *sql.DB) func() { return func() { _ = db.Close() } }

func disconnectMongo(client *mongodriver.Client, log logrus.FieldLogger) {
	if err := client.Disconnect(context.Background()); err != nil {
		log.WithError(err).Warn("mongo disconnect")
	}
}
