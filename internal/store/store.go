package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Store wraps a *bun.DB and exposes one repository method set per
// aggregate. Methods are grouped by file: hosted_identity.go,
// neighbor.go, follower.go, action.go, related.go.
type Store struct {
	DB *bun.DB
}

// Open connects to dsn (a postgres connection string) using
// pgdriver/pgdialect, matching the driver pairing the rest of the
// pack uses for bun-backed stores.
func Open(dsn string) (*Store, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "store: ping")
	}
	return &Store{DB: db}, nil
}

// CreateSchema creates every table this package models if it does
// not already exist. Used by tests and by a fresh server's first
// run; production deployments are expected to also run a migration
// tool, but the core does not depend on one.
func (s *Store) CreateSchema(ctx context.Context) error {
	models := []any{
		(*HostedIdentity)(nil),
		(*Neighbor)(nil),
		(*NeighborIdentity)(nil),
		(*Follower)(nil),
		(*NeighborhoodAction)(nil),
		(*RelatedIdentityCard)(nil),
	}
	for _, m := range models {
		if _, err := s.DB.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return errors.Wrapf(err, "store: create table for %T", m)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}
