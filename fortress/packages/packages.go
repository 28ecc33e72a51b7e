// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package packages assembles draft package versions out of committed blobs
// and promotes them to an immutable published state.
package packages

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	// Error is the default error class for the packages package.
	Error = errs.Class("packages")

	// ErrInvalidRequest means the request was malformed.
	ErrInvalidRequest = errs.Class("packages: invalid request")

	// ErrNotFound means the package or version does not exist.
	ErrNotFound = errs.Class("packages: not found")

	// ErrConflict means a state machine or uniqueness guard failed.
	ErrConflict = errs.Class("packages: conflict")
)

var mon = monkit.Package()

// VersionState is the lifecycle state of a package version.
type VersionState string

// Version states. Tombstoned is absorbing.
const (
	StateDraft      VersionState = "draft"
	StatePublished  VersionState = "published"
	StateTombstoned VersionState = "tombstoned"
)

// Package is one named unit within a repository. Namespace is empty for
// package types without one; uniqueness coalesces it to the empty string.
type Package struct {
	ID        uuid.UUID
	RepoID    uuid.UUID
	Type      string
	Namespace string
	Name      string
	CreatedAt time.Time
}

// Version is one immutable-once-published release of a package.
type Version struct {
	ID              uuid.UUID
	RepoID          uuid.UUID
	PackageID       uuid.UUID
	Version         string
	State           VersionState
	CreatedAt       time.Time
	PublishedAt     *time.Time
	TombstonedAt    *time.Time
	TombstoneReason string
}

// Entry is one artifact file of a version, referencing a committed blob.
type Entry struct {
	VersionID    uuid.UUID
	RelativePath string
	BlobDigest   string
	ChecksumSHA1 string
	ChecksumSHA2 string
	SizeBytes    int64
}

// Manifest is the per-version metadata document.
type Manifest struct {
	VersionID  uuid.UUID
	Document   map[string]interface{}
	BlobDigest string
	UpdatedAt  time.Time
}

// Tombstone records a soft delete with a retention window.
type Tombstone struct {
	VersionID        uuid.UUID
	RetentionUntil   time.Time
	Reason           string
	DeletedBySubject string
}

// DigestError surfaces the offending digest when an artifact entry or
// manifest references bytes the repository cannot reach.
type DigestError struct {
	Digest  string
	Missing bool // true: no such blob at all; false: blob exists but was never committed in this repo
}

// Error implements error.
func (e *DigestError) Error() string {
	if e.Missing {
		return fmt.Sprintf("blob %s does not exist", e.Digest)
	}
	return fmt.Sprintf("blob %s is not committed in this repository", e.Digest)
}

// PublishParams carries everything the publish transaction writes.
type PublishParams struct {
	TenantID  uuid.UUID
	RepoID    uuid.UUID
	RepoKey   string
	VersionID uuid.UUID
	Actor     string
	Now       time.Time
}

// PublishResult reports what the publish transaction did.
type PublishResult struct {
	Version      Version
	Idempotent   bool
	EventEmitted bool
}

// TombstoneParams carries the tombstone transaction inputs. RetentionUntil
// is computed by the service before the transaction starts.
type TombstoneParams struct {
	TenantID       uuid.UUID
	RepoID         uuid.UUID
	RepoKey        string
	VersionID      uuid.UUID
	Reason         string
	RetentionUntil time.Time
	Actor          string
	Now            time.Time
}

// TombstoneResult reports what the tombstone transaction did.
type TombstoneResult struct {
	Version    Version
	Idempotent bool
}

// DB is the metadata store surface for packages and versions. The
// multi-row operations run inside a single transaction in the
// implementation; partial success is never visible.
type DB interface {
	// UpsertPackage inserts the package or returns the existing row
	// under (repo, type, coalesce(namespace, ''), name).
	UpsertPackage(ctx context.Context, pkg Package) (Package, error)
	// GetPackage fetches a package by its coordinates.
	GetPackage(ctx context.Context, repoID uuid.UUID, packageType, namespace, name string) (Package, error)

	// CreateDraft inserts a draft version. When the (repo, package,
	// version) row already exists it is returned with existing=true and
	// nothing is written; the caller decides whether its state permits
	// reuse.
	CreateDraft(ctx context.Context, version Version) (_ Version, existing bool, err error)
	// GetVersion fetches a version scoped to its repository.
	GetVersion(ctx context.Context, repoID, versionID uuid.UUID) (Version, error)
	// ListVersions lists a package's versions, newest first. Tombstoned
	// rows are excluded unless includeTombstoned.
	ListVersions(ctx context.Context, repoID, packageID uuid.UUID, includeTombstoned bool) ([]Version, error)

	// UpsertEntries locks the version row, requires draft state, checks
	// every digest is a blob committed in this repository, and upserts
	// the rows under (version, relative_path). Digest failures carry a
	// *DigestError.
	UpsertEntries(ctx context.Context, repoID, versionID uuid.UUID, entries []Entry) error
	// ListEntries returns a version's entries ordered by path.
	ListEntries(ctx context.Context, versionID uuid.UUID) ([]Entry, error)

	// UpsertManifest locks the version row, requires draft state, checks
	// the optional manifest blob digest is committed in this repository,
	// and replaces the manifest.
	UpsertManifest(ctx context.Context, repoID, versionID uuid.UUID, manifest Manifest) error
	// GetManifest fetches a version's manifest.
	GetManifest(ctx context.Context, versionID uuid.UUID) (Manifest, error)

	// Publish runs the publish transaction: lock the version, verify
	// entries, manifest and blob reachability, flip state, insert the
	// outbox event unless one exists, enqueue the search job, and append
	// the audit row. All or nothing.
	Publish(ctx context.Context, params PublishParams) (PublishResult, error)
	// Tombstone runs the tombstone transaction: lock the version, flip
	// state from draft or published, upsert the tombstone row and append
	// the audit row.
	Tombstone(ctx context.Context, params TombstoneParams) (TombstoneResult, error)
}
