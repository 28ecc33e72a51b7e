// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package blobs holds the content-addressed blob index. A digest maps to
// exactly one length and storage key; the index never stores bytes.
package blobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
)

var (
	// Error is the default error class for the blobs package.
	Error = errs.Class("blobs")

	// ErrNotFound means no blob with the digest exists.
	ErrNotFound = errs.Class("blobs: not found")

	// ErrConflictingLength means the digest already exists with a
	// different length, which indicates either corruption or a caller
	// lying about content length.
	ErrConflictingLength = errs.Class("blobs: digest length conflict")
)

// DigestLength is the expected hex length of a sha-256 digest.
const DigestLength = 64

// ValidDigest reports whether digest is 64 lowercase hex characters.
func ValidDigest(digest string) bool {
	if len(digest) != DigestLength {
		return false
	}
	for _, r := range digest {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}

// Blob is one content-addressed byte sequence.
type Blob struct {
	Digest     string
	Length     int64
	StorageKey string
	ETag       string
	CreatedAt  time.Time
}

// DB is the metadata store surface for the blob index.
type DB interface {
	// Upsert inserts the blob or merges into the existing row: length is
	// immutable (a mismatch returns ErrConflictingLength) and the etag is
	// kept when already set.
	Upsert(ctx context.Context, blob Blob) error
	// Get fetches a blob by digest.
	Get(ctx context.Context, digest string) (Blob, error)
	// CommittedInRepo reports whether some committed upload session in
	// the repository references the digest. This is the reachability
	// predicate behind publish and entry checks.
	CommittedInRepo(ctx context.Context, repoID uuid.UUID, digest string) (bool, error)
}
