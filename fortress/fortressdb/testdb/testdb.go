// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package testdb is an in-memory master database for tests. It mirrors the
// semantics of fortressdb, including conditional state transitions and the
// uniqueness guards, without needing postgres.
package testdb

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

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

type searchJob struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	VersionID uuid.UUID
	Status    string
	CreatedAt time.Time
}

// DB is the in-memory master database.
type DB struct {
	mu sync.Mutex

	repositories map[uuid.UUID]repos.Repository
	pats         map[uuid.UUID]auth.PAT
	bindings     map[uuid.UUID]map[string]auth.Binding

	blobRows map[string]blobs.Blob
	sessions map[uuid.UUID]upload.Session

	packageRows map[uuid.UUID]packages.Package
	versions    map[uuid.UUID]packages.Version
	entries     map[uuid.UUID]map[string]packages.Entry
	manifests   map[uuid.UUID]packages.Manifest
	tombstones  map[uuid.UUID]packages.Tombstone

	outboxEvents []outbox.Event
	searchJobs   []searchJob

	evaluations []policy.Evaluation
	quarantine  map[uuid.UUID]policy.Item

	gcRuns  map[uuid.UUID]gc.Run
	gcMarks map[uuid.UUID]map[string]bool

	auditEntries []audit.Entry
}

// New creates an empty in-memory database.
func New() *DB {
	return &DB{
		repositories: map[uuid.UUID]repos.Repository{},
		pats:         map[uuid.UUID]auth.PAT{},
		bindings:     map[uuid.UUID]map[string]auth.Binding{},
		blobRows:     map[string]blobs.Blob{},
		sessions:     map[uuid.UUID]upload.Session{},
		packageRows:  map[uuid.UUID]packages.Package{},
		versions:     map[uuid.UUID]packages.Version{},
		entries:      map[uuid.UUID]map[string]packages.Entry{},
		manifests:    map[uuid.UUID]packages.Manifest{},
		tombstones:   map[uuid.UUID]packages.Tombstone{},
		quarantine:   map[uuid.UUID]policy.Item{},
		gcRuns:       map[uuid.UUID]gc.Run{},
		gcMarks:      map[uuid.UUID]map[string]bool{},
	}
}

// MigrateToLatest implements fortress.DB.
func (db *DB) MigrateToLatest(ctx context.Context) error { return nil }

// Ping implements fortress.DB.
func (db *DB) Ping(ctx context.Context) error { return nil }

// Close implements fortress.DB.
func (db *DB) Close() error { return nil }

// Auth implements fortress.DB.
func (db *DB) Auth() auth.DB { return (*authDB)(db) }

// Repos implements fortress.DB.
func (db *DB) Repos() repos.DB { return (*reposDB)(db) }

// Blobs implements fortress.DB.
func (db *DB) Blobs() blobs.DB { return (*blobsDB)(db) }

// Uploads implements fortress.DB.
func (db *DB) Uploads() upload.DB { return (*uploadsDB)(db) }

// Packages implements fortress.DB.
func (db *DB) Packages() packages.DB { return (*packagesDB)(db) }

// Policy implements fortress.DB.
func (db *DB) Policy() policy.DB { return (*policyDB)(db) }

// GC implements fortress.DB.
func (db *DB) GC() gc.DB { return (*gcDB)(db) }

// Audit implements fortress.DB.
func (db *DB) Audit() audit.DB { return (*auditDB)(db) }

// Outbox implements fortress.DB.
func (db *DB) Outbox() outbox.DB { return (*outboxDB)(db) }

// Reconcile implements fortress.DB.
func (db *DB) Reconcile() reconcile.DB { return (*reconcileDB)(db) }

// committedInRepo reports whether a committed session in the repository
// references the digest. Callers hold db.mu.
func (db *DB) committedInRepo(repoID uuid.UUID, digest string) bool {
	for _, session := range db.sessions {
		if session.RepoID == repoID && session.State == upload.StateCommitted && session.CommittedDigest == digest {
			return true
		}
	}
	return false
}

// SetBlobCreatedAt rewrites a blob's creation time, for aging blobs past
// the GC grace window in tests.
func (db *DB) SetBlobCreatedAt(digest string, createdAt time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if blob, ok := db.blobRows[digest]; ok {
		blob.CreatedAt = createdAt
		db.blobRows[digest] = blob
	}
}

// SetTombstoneRetention rewrites a tombstone's retention deadline, for
// elapsing retention windows in tests.
func (db *DB) SetTombstoneRetention(versionID uuid.UUID, until time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if ts, ok := db.tombstones[versionID]; ok {
		ts.RetentionUntil = until
		db.tombstones[versionID] = ts
	}
}

// SetSessionExpiry rewrites a session's deadline, for expiring sessions in
// tests.
func (db *DB) SetSessionExpiry(uploadID uuid.UUID, expiresAt time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if session, ok := db.sessions[uploadID]; ok {
		session.ExpiresAt = expiresAt
		db.sessions[uploadID] = session
	}
}

// BlobCount reports the number of blob rows.
func (db *DB) BlobCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.blobRows)
}

// OutboxCount reports the number of outbox rows.
func (db *DB) OutboxCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.outboxEvents)
}
