// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package fortressdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"artifortress.io/artifortress/fortress/reconcile"
	"artifortress.io/artifortress/internal/dbutil"
)

type reconcileDB struct {
	db dbutil.DB
}

func (rdb *reconcileDB) MissingEntryRefs(ctx context.Context, tenantID uuid.UUID, limit int) (count int64, _ []reconcile.MissingRef, err error) {
	defer mon.Task()(&ctx)(&err)

	err = rdb.db.QueryRowContext(ctx, `
		SELECT count(*) FROM artifact_entries e
		WHERE NOT EXISTS (SELECT 1 FROM blobs b WHERE b.digest = e.blob_digest)`).Scan(&count)
	if err != nil {
		return 0, nil, reconcile.Error.Wrap(err)
	}

	rows, err := rdb.db.QueryContext(ctx, `
		SELECT e.version_id, e.relative_path, e.blob_digest FROM artifact_entries e
		WHERE NOT EXISTS (SELECT 1 FROM blobs b WHERE b.digest = e.blob_digest)
		ORDER BY e.version_id, e.relative_path LIMIT $1`, limit)
	if err != nil {
		return 0, nil, reconcile.Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var refs []reconcile.MissingRef
	for rows.Next() {
		var ref reconcile.MissingRef
		if err := rows.Scan(&ref.VersionID, &ref.Path, &ref.Digest); err != nil {
			return 0, nil, reconcile.Error.Wrap(err)
		}
		refs = append(refs, ref)
	}
	return count, refs, reconcile.Error.Wrap(rows.Err())
}

func (rdb *reconcileDB) MissingManifestRefs(ctx context.Context, tenantID uuid.UUID, limit int) (count int64, _ []reconcile.MissingRef, err error) {
	defer mon.Task()(&ctx)(&err)

	err = rdb.db.QueryRowContext(ctx, `
		SELECT count(*) FROM manifests m
		WHERE m.blob_digest != ''
			AND NOT EXISTS (SELECT 1 FROM blobs b WHERE b.digest = m.blob_digest)`).Scan(&count)
	if err != nil {
		return 0, nil, reconcile.Error.Wrap(err)
	}

	rows, err := rdb.db.QueryContext(ctx, `
		SELECT m.version_id, m.blob_digest FROM manifests m
		WHERE m.blob_digest != ''
			AND NOT EXISTS (SELECT 1 FROM blobs b WHERE b.digest = m.blob_digest)
		ORDER BY m.version_id LIMIT $1`, limit)
	if err != nil {
		return 0, nil, reconcile.Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var refs []reconcile.MissingRef
	for rows.Next() {
		var ref reconcile.MissingRef
		if err := rows.Scan(&ref.VersionID, &ref.Digest); err != nil {
			return 0, nil, reconcile.Error.Wrap(err)
		}
		refs = append(refs, ref)
	}
	return count, refs, reconcile.Error.Wrap(rows.Err())
}

func (rdb *reconcileDB) OrphanBlobs(ctx context.Context, tenantID uuid.UUID, limit int) (count int64, _ []reconcile.OrphanBlob, err error) {
	defer mon.Task()(&ctx)(&err)

	const orphanWhere = `
		NOT EXISTS (SELECT 1 FROM artifact_entries e WHERE e.blob_digest = b.digest)
		AND NOT EXISTS (SELECT 1 FROM manifests m WHERE m.blob_digest = b.digest)`

	err = rdb.db.QueryRowContext(ctx, `SELECT count(*) FROM blobs b WHERE `+orphanWhere).Scan(&count)
	if err != nil {
		return 0, nil, reconcile.Error.Wrap(err)
	}

	rows, err := rdb.db.QueryContext(ctx, `
		SELECT b.digest, b.length, b.created_at FROM blobs b
		WHERE `+orphanWhere+`
		ORDER BY b.created_at LIMIT $1`, limit)
	if err != nil {
		return 0, nil, reconcile.Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var orphans []reconcile.OrphanBlob
	for rows.Next() {
		var orphan reconcile.OrphanBlob
		if err := rows.Scan(&orphan.Digest, &orphan.Length, &orphan.CreatedAt); err != nil {
			return 0, nil, reconcile.Error.Wrap(err)
		}
		orphans = append(orphans, orphan)
	}
	return count, orphans, reconcile.Error.Wrap(rows.Err())
}

func (rdb *reconcileDB) OpsSummary(ctx context.Context, tenantID uuid.UUID, now time.Time) (summary reconcile.OpsSummary, err error) {
	defer mon.Task()(&ctx)(&err)

	err = rdb.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM outbox_events WHERE tenant_id = $1 AND delivered_at IS NULL),
			(SELECT count(*) FROM outbox_events WHERE tenant_id = $1 AND delivered_at IS NULL AND available_at <= $2),
			(SELECT COALESCE(EXTRACT(EPOCH FROM $2 - MIN(occurred_at))::bigint, 0)
				FROM outbox_events WHERE tenant_id = $1 AND delivered_at IS NULL),
			(SELECT count(*) FROM search_jobs WHERE tenant_id = $1 AND status = 'pending'),
			(SELECT count(*) FROM search_jobs WHERE tenant_id = $1 AND status = 'failed'),
			(SELECT count(*) FROM gc_runs WHERE tenant_id = $1 AND (completed_at IS NULL OR failed)),
			(SELECT count(*) FROM audit_entries WHERE tenant_id = $1 AND action = 'policy.timeout' AND occurred_at >= $3)`,
		tenantID, now, now.Add(-24*time.Hour)).Scan(
		&summary.PendingOutbox,
		&summary.AvailableNowOutbox,
		&summary.OldestPendingAgeSecs,
		&summary.PendingSearchJobs,
		&summary.FailedSearchJobs,
		&summary.IncompleteGCRuns,
		&summary.PolicyTimeouts24h)
	return summary, reconcile.Error.Wrap(err)
}
