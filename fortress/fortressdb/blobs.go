// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package fortressdb

import (
	"context"

	"github.com/google/uuid"

	"artifortress.io/artifortress/fortress/blobs"
	"artifortress.io/artifortress/internal/dbutil"
)

type blobsDB struct {
	db dbutil.DB
}

func (bdb *blobsDB) Upsert(ctx context.Context, blob blobs.Blob) (err error) {
	defer mon.Task()(&ctx)(&err)
	return upsertBlob(ctx, bdb.db, blob)
}

// upsertBlob merges the blob into the index. The length is immutable: an
// existing row with a different length fails. The etag is kept when the
// row already carries one.
func upsertBlob(ctx context.Context, db dbutil.Queryer, blob blobs.Blob) error {
	var storedLength int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO blobs (digest, length, storage_key, etag, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (digest) DO UPDATE
			SET etag = CASE WHEN blobs.etag = '' THEN EXCLUDED.etag ELSE blobs.etag END
		RETURNING length`,
		blob.Digest, blob.Length, blob.StorageKey, blob.ETag, blob.CreatedAt).Scan(&storedLength)
	if err != nil {
		return blobs.Error.Wrap(err)
	}
	if storedLength != blob.Length {
		return blobs.ErrConflictingLength.New("digest %s stored with length %d, got %d",
			blob.Digest, storedLength, blob.Length)
	}
	return nil
}

func (bdb *blobsDB) Get(ctx context.Context, digest string) (_ blobs.Blob, err error) {
	defer mon.Task()(&ctx)(&err)

	blob := blobs.Blob{Digest: digest}
	err = bdb.db.QueryRowContext(ctx, `
		SELECT length, storage_key, etag, created_at
		FROM blobs WHERE digest = $1`,
		digest).Scan(&blob.Length, &blob.StorageKey, &blob.ETag, &blob.CreatedAt)
	if dbutil.IsNoRows(err) {
		return blobs.Blob{}, blobs.ErrNotFound.New("digest %s", digest)
	}
	if err != nil {
		return blobs.Blob{}, blobs.Error.Wrap(err)
	}
	return blob, nil
}

func (bdb *blobsDB) CommittedInRepo(ctx context.Context, repoID uuid.UUID, digest string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	return committedInRepo(ctx, bdb.db, repoID, digest)
}

func committedInRepo(ctx context.Context, db dbutil.Queryer, repoID uuid.UUID, digest string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM upload_sessions
			WHERE repo_id = $1 AND committed_blob_digest = $2 AND state = 'committed'
		)`,
		repoID, digest).Scan(&exists)
	return exists, blobs.Error.Wrap(err)
}
