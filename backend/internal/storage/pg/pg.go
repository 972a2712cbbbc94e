package pg

import (
	"context"
	"database/sql"

	"github.com/elkarte/forum/shared/config"
	"github.com/elkarte/forum/shared/logger"
	sharedpg "github.com/elkarte/forum/shared/storage/pg"

	"github.com/lib/pq"
)

type Storage struct {
	db *sql.DB
}

// New connects with the pool settings of the API server.
func New(cfg config.Pg) (*Storage, error) {
	return NewWithConnectionConfig(cfg, sharedpg.DefaultConnectionConfig())
}

func NewWithConnectionConfig(cfg config.Pg, connCfg sharedpg.ConnectionConfig) (*Storage, error) {
	logger.Log.Info("connecting to db", "host", cfg.Host, "dbname", cfg.Dbname)
	db, err := sharedpg.Connect(cfg, connCfg)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("successfully connected to db")
	return &Storage{db: db}, nil
}

func (s *Storage) Cleanup() error {
	return s.db.Close()
}

// Ping reports whether the database answers.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) withTx(ctx context.Context, fn func(q sharedpg.Querier) error) error {
	return sharedpg.WithTx(ctx, s.db, func(tx *sql.Tx) error { return fn(tx) })
}

func int64Array(ids []int64) any {
	return pq.Array(ids)
}
