// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package fortressdb implements the master database on postgres. All
// multi-row mutations run inside transactions; partial success is never
// visible to readers.
package fortressdb

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver
	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"artifortress.io/artifortress/fortress/audit"
	"artifortress.io/artifortress/fortress/auth"
	"artifortress.io/artifortress/fortress/blobs"
	"artifortress.io/artifortress/fortress/gc"
	"artifortress.io/artifortress/fortress/outbox"
	"artifortress.io/artifortress/fortress/packages"
	"artifortress.io/artifortress/fortress/policy"
	"artifortress.io/artifortress/fortress/reconcile"
	"artifortress.io/artifortress/fortress/repos"
	"artifortress.io/artifortress/fortress/upload"
	"artifortress.io/artifortress/internal/dbutil"
)

// Error is the default error class for the fortressdb package.
var Error = errs.Class("fortressdb")

var mon = monkit.Package()

// DB implements the master database on postgres.
type DB struct {
	log *zap.Logger
	db  dbutil.DB
}

// Open connects to the metadata store.
func Open(log *zap.Logger, databaseURL string) (*DB, error) {
	handle, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	dbutil.Configure(handle, mon)
	return &DB{
		log: log,
		db:  dbutil.Wrap(handle),
	}, nil
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return Error.Wrap(db.db.PingContext(ctx))
}

// Close releases the connection pool.
func (db *DB) Close() error {
	return Error.Wrap(db.db.Close())
}

// Auth implements fortress.DB.
func (db *DB) Auth() auth.DB { return &authDB{db: db.db} }

// Repos implements fortress.DB.
func (db *DB) Repos() repos.DB { return &reposDB{db: db.db} }

// Blobs implements fortress.DB.
func (db *DB) Blobs() blobs.DB { return &blobsDB{db: db.db} }

// Uploads implements fortress.DB.
func (db *DB) Uploads() upload.DB { return &uploadsDB{db: db.db} }

// Packages implements fortress.DB.
func (db *DB) Packages() packages.DB { return &packagesDB{db: db.db} }

// Policy implements fortress.DB.
func (db *DB) Policy() policy.DB { return &policyDB{db: db.db} }

// GC implements fortress.DB.
func (db *DB) GC() gc.DB { return &gcDB{db: db.db} }

// Audit implements fortress.DB.
func (db *DB) Audit() audit.DB { return &auditDB{db: db.db} }

// Outbox implements fortress.DB.
func (db *DB) Outbox() outbox.DB { return &outboxDB{db: db.db} }

// Reconcile implements fortress.DB.
func (db *DB) Reconcile() reconcile.DB { return &reconcileDB{db: db.db} }
