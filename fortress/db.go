// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package fortress wires the artifact repository control plane: the master
// database interface, configuration, and the peer that runs the services.
package fortress

import (
	"context"

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
)

// DB is the master database for the control plane. Metadata is the source
// of truth; the object store only ever holds bytes.
type DB interface {
	// MigrateToLatest applies all pending schema steps.
	MigrateToLatest(ctx context.Context) error
	// Ping checks the connection, for readiness reporting.
	Ping(ctx context.Context) error
	// Close releases the connection pool.
	Close() error

	Auth() auth.DB
	Repos() repos.DB
	Blobs() blobs.DB
	Uploads() upload.DB
	Packages() packages.DB
	Policy() policy.DB
	GC() gc.DB
	Audit() audit.DB
	Outbox() outbox.DB
	Reconcile() reconcile.DB
}
