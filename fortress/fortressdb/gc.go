// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package fortressdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"artifortress.io/artifortress/fortress/gc"
	"artifortress.io/artifortress/internal/dbutil"
)

type gcDB struct {
	db dbutil.DB
}

func (gdb *gcDB) CreateRun(ctx context.Context, run gc.Run) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = gdb.db.ExecContext(ctx, `
		INSERT INTO gc_runs (id, tenant_id, mode, started_at)
		VALUES ($1, $2, $3, $4)`,
		run.ID, run.TenantID, string(run.Mode), run.StartedAt)
	return gc.Error.Wrap(err)
}

// InsertMarks snapshots the root set. A digest is a root when some
// artifact entry or manifest references it from a version that is either
// not tombstoned or whose tombstone retention has not elapsed; the
// "alive OR within grace" predicate deliberately matches non-tombstoned
// versions through the outer join.
func (gdb *gcDB) InsertMarks(ctx context.Context, runID uuid.UUID, now time.Time) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := gdb.db.ExecContext(ctx, `
		INSERT INTO gc_marks (run_id, digest)
		SELECT DISTINCT $1, refs.digest FROM (
			SELECT e.blob_digest AS digest, e.version_id FROM artifact_entries e
			UNION ALL
			SELECT m.blob_digest, m.version_id FROM manifests m WHERE m.blob_digest != ''
		) refs
		JOIN package_versions v ON v.id = refs.version_id
		LEFT JOIN tombstones ts ON ts.version_id = v.id
		WHERE v.state != 'tombstoned' OR ts.version_id IS NULL OR ts.retention_until > $2`,
		runID, now)
	if err != nil {
		return 0, gc.Error.Wrap(err)
	}
	marked, err := result.RowsAffected()
	return marked, gc.Error.Wrap(err)
}

func (gdb *gcDB) CandidateBlobs(ctx context.Context, runID uuid.UUID, cutoff time.Time, limit int) (_ []gc.Candidate, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := gdb.db.QueryContext(ctx, `
		SELECT b.digest, b.storage_key, b.created_at FROM blobs b
		WHERE b.created_at <= $2
			AND NOT EXISTS (SELECT 1 FROM gc_marks m WHERE m.run_id = $1 AND m.digest = b.digest)
			AND NOT EXISTS (SELECT 1 FROM artifact_entries e WHERE e.blob_digest = b.digest)
			AND NOT EXISTS (SELECT 1 FROM manifests mf WHERE mf.blob_digest = b.digest)
		ORDER BY b.created_at
		LIMIT $3`,
		runID, cutoff, limit)
	if err != nil {
		return nil, gc.Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var candidates []gc.Candidate
	for rows.Next() {
		var candidate gc.Candidate
		if err := rows.Scan(&candidate.Digest, &candidate.StorageKey, &candidate.CreatedAt); err != nil {
			return nil, gc.Error.Wrap(err)
		}
		candidates = append(candidates, candidate)
	}
	return candidates, gc.Error.Wrap(rows.Err())
}

func (gdb *gcDB) DeleteBlobs(ctx context.Context, digests []string) (deleted int64, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(digests) == 0 {
		return 0, nil
	}

	encoded, err := jsonValue(digests)
	if err != nil {
		return 0, err
	}

	err = dbutil.WithTx(ctx, gdb.db, func(ctx context.Context, tx dbutil.Tx) error {
		deleted = 0
		// committed sessions keep their terminal state but drop the
		// dangling blob reference.
		_, err := tx.ExecContext(ctx, `
			UPDATE upload_sessions SET committed_blob_digest = NULL
			WHERE committed_blob_digest IN (
				SELECT jsonb_array_elements_text($1::jsonb)
			)`, encoded)
		if err != nil {
			return gc.Error.Wrap(err)
		}

		result, err := tx.ExecContext(ctx, `
			DELETE FROM blobs WHERE digest IN (
				SELECT jsonb_array_elements_text($1::jsonb)
			)`, encoded)
		if err != nil {
			return gc.Error.Wrap(err)
		}
		deleted, err = result.RowsAffected()
		return gc.Error.Wrap(err)
	})
	return deleted, err
}

func (gdb *gcDB) DeleteElapsedTombstoned(ctx context.Context, now time.Time, limit int) (deleted int64, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := gdb.db.ExecContext(ctx, `
		DELETE FROM package_versions WHERE id IN (
			SELECT v.id FROM package_versions v
			JOIN tombstones ts ON ts.version_id = v.id
			WHERE v.state = 'tombstoned' AND ts.retention_until <= $1
			ORDER BY ts.retention_until
			LIMIT $2
		)`, now, limit)
	if err != nil {
		return 0, gc.Error.Wrap(err)
	}
	deleted, err = result.RowsAffected()
	return deleted, gc.Error.Wrap(err)
}

func (gdb *gcDB) FinalizeRun(ctx context.Context, run gc.Run) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = gdb.db.ExecContext(ctx, `
		UPDATE gc_runs SET
			marked_count = $2,
			candidate_blob_count = $3,
			deleted_blob_count = $4,
			deleted_version_count = $5,
			delete_error_count = $6,
			failed = $7,
			completed_at = $8
		WHERE id = $1`,
		run.ID, run.MarkedCount, run.CandidateBlobCount, run.DeletedBlobCount,
		run.DeletedVersionCount, run.DeleteErrorCount, run.Failed, run.CompletedAt)
	return gc.Error.Wrap(err)
}

func (gdb *gcDB) ListRuns(ctx context.Context, tenantID uuid.UUID, limit int) (_ []gc.Run, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := gdb.db.QueryContext(ctx, `
		SELECT id, tenant_id, mode, marked_count, candidate_blob_count,
			deleted_blob_count, deleted_version_count, delete_error_count,
			failed, started_at, completed_at
		FROM gc_runs WHERE tenant_id = $1
		ORDER BY started_at DESC LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, gc.Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var runs []gc.Run
	for rows.Next() {
		var run gc.Run
		var mode string
		err := rows.Scan(&run.ID, &run.TenantID, &mode, &run.MarkedCount,
			&run.CandidateBlobCount, &run.DeletedBlobCount, &run.DeletedVersionCount,
			&run.DeleteErrorCount, &run.Failed, &run.StartedAt, &run.CompletedAt)
		if err != nil {
			return nil, gc.Error.Wrap(err)
		}
		run.Mode = gc.Mode(mode)
		runs = append(runs, run)
	}
	return runs, gc.Error.Wrap(rows.Err())
}
