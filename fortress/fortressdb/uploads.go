// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package fortressdb

import (
	"context"
	"time"

	"github.com/google/uuid"

	"artifortress.io/artifortress/fortress/blobs"
	"artifortress.io/artifortress/fortress/upload"
	"artifortress.io/artifortress/internal/dbutil"
)

type uploadsDB struct {
	db dbutil.DB
}

func (udb *uploadsDB) Create(ctx context.Context, session upload.Session) (err error) {
	defer mon.Task()(&ctx)(&err)

	var committedDigest interface{}
	if session.CommittedDigest != "" {
		committedDigest = session.CommittedDigest
	}
	_, err = udb.db.ExecContext(ctx, `
		INSERT INTO upload_sessions (
			id, tenant_id, repo_id, expected_digest, expected_length, state,
			staging_key, storage_upload_id, committed_blob_digest, aborted_reason,
			created_at, updated_at, expires_at, committed_at, aborted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		session.ID, session.TenantID, session.RepoID,
		session.ExpectedDigest, session.ExpectedLength, string(session.State),
		session.StagingKey, session.StorageUploadID, committedDigest, session.AbortedReason,
		session.CreatedAt, session.UpdatedAt, session.ExpiresAt, session.CommittedAt, session.AbortedAt)
	if dbutil.IsUniqueViolation(err) {
		return upload.ErrConflict.New("session %s already exists", session.ID)
	}
	return upload.Error.Wrap(err)
}

func (udb *uploadsDB) Get(ctx context.Context, tenantID, repoID, uploadID uuid.UUID) (_ upload.Session, err error) {
	defer mon.Task()(&ctx)(&err)

	session := upload.Session{ID: uploadID, TenantID: tenantID, RepoID: repoID}
	var state string
	var committedDigest *string
	err = udb.db.QueryRowContext(ctx, `
		SELECT expected_digest, expected_length, state, staging_key, storage_upload_id,
			committed_blob_digest, aborted_reason, created_at, updated_at, expires_at,
			committed_at, aborted_at
		FROM upload_sessions
		WHERE id = $1 AND tenant_id = $2 AND repo_id = $3`,
		uploadID, tenantID, repoID).Scan(
		&session.ExpectedDigest, &session.ExpectedLength, &state,
		&session.StagingKey, &session.StorageUploadID,
		&committedDigest, &session.AbortedReason,
		&session.CreatedAt, &session.UpdatedAt, &session.ExpiresAt,
		&session.CommittedAt, &session.AbortedAt)
	if dbutil.IsNoRows(err) {
		return upload.Session{}, upload.ErrNotFound.New("session %s", uploadID)
	}
	if err != nil {
		return upload.Session{}, upload.Error.Wrap(err)
	}
	session.State = upload.State(state)
	if committedDigest != nil {
		session.CommittedDigest = *committedDigest
	}
	return session, nil
}

func (udb *uploadsDB) SetPartsUploading(ctx context.Context, uploadID uuid.UUID, now time.Time) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	return udb.transition(ctx, uploadID, upload.StateInitiated, upload.StatePartsUploading, now)
}

func (udb *uploadsDB) SetPendingCommit(ctx context.Context, uploadID uuid.UUID, now time.Time) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	return udb.transition(ctx, uploadID, upload.StatePartsUploading, upload.StatePendingCommit, now)
}

func (udb *uploadsDB) transition(ctx context.Context, uploadID uuid.UUID, from, to upload.State, now time.Time) (bool, error) {
	result, err := udb.db.ExecContext(ctx, `
		UPDATE upload_sessions SET state = $3, updated_at = $4
		WHERE id = $1 AND state = $2`,
		uploadID, string(from), string(to), now)
	if err != nil {
		return false, upload.Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, upload.Error.Wrap(err)
	}
	return affected == 1, nil
}

func (udb *uploadsDB) SetAborted(ctx context.Context, uploadID uuid.UUID, reason string, now time.Time) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := udb.db.ExecContext(ctx, `
		UPDATE upload_sessions
		SET state = $2, aborted_reason = $3, aborted_at = $4, updated_at = $4
		WHERE id = $1 AND state IN ('initiated', 'parts_uploading', 'pending_commit')`,
		uploadID, string(upload.StateAborted), reason, now)
	if err != nil {
		return false, upload.Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, upload.Error.Wrap(err)
	}
	return affected == 1, nil
}

func (udb *uploadsDB) Commit(ctx context.Context, blob blobs.Blob, uploadID uuid.UUID, now time.Time) (flipped bool, err error) {
	defer mon.Task()(&ctx)(&err)

	err = dbutil.WithTx(ctx, udb.db, func(ctx context.Context, tx dbutil.Tx) error {
		if err := upsertBlob(ctx, tx, blob); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE upload_sessions
			SET state = $2, committed_blob_digest = $3, committed_at = $4, updated_at = $4
			WHERE id = $1 AND state = $5`,
			uploadID, string(upload.StateCommitted), blob.Digest, now, string(upload.StatePendingCommit))
		if err != nil {
			return upload.Error.Wrap(err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return upload.Error.Wrap(err)
		}
		flipped = affected == 1
		return nil
	})
	return flipped, err
}
