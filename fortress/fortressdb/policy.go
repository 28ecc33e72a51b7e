// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package fortressdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"artifortress.io/artifortress/fortress/policy"
	"artifortress.io/artifortress/internal/dbutil"
)

type policyDB struct {
	db dbutil.DB
}

func (pdb *policyDB) RecordEvaluation(ctx context.Context, evaluation policy.Evaluation, quarantine *policy.Item) (err error) {
	defer mon.Task()(&ctx)(&err)

	return dbutil.WithTx(ctx, pdb.db, func(ctx context.Context, tx dbutil.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM package_versions WHERE repo_id = $1 AND id = $2)`,
			evaluation.RepoID, evaluation.VersionID).Scan(&exists)
		if err != nil {
			return policy.Error.Wrap(err)
		}
		if !exists {
			return policy.ErrNotFound.New("version")
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO policy_evaluations (
				id, tenant_id, repo_id, version_id, action, decision,
				decision_source, reason, policy_engine_version, evaluated_at, evaluated_by
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			evaluation.ID, evaluation.TenantID, evaluation.RepoID, evaluation.VersionID,
			string(evaluation.Action), string(evaluation.Decision), string(evaluation.Source),
			evaluation.Reason, evaluation.EngineVersion, evaluation.EvaluatedAt, evaluation.EvaluatedBy)
		if err != nil {
			return policy.Error.Wrap(err)
		}

		if quarantine == nil {
			return nil
		}
		// a fresh quarantine decision resets any prior resolution.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO quarantine_items (id, tenant_id, repo_id, version_id, status, reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (tenant_id, repo_id, version_id) DO UPDATE SET
				status = EXCLUDED.status,
				reason = EXCLUDED.reason,
				created_at = EXCLUDED.created_at,
				resolved_at = NULL,
				resolved_by = ''`,
			quarantine.ID, quarantine.TenantID, quarantine.RepoID, quarantine.VersionID,
			string(quarantine.Status), quarantine.Reason, quarantine.CreatedAt)
		return policy.Error.Wrap(err)
	})
}

func (pdb *policyDB) GetQuarantine(ctx context.Context, tenantID, repoID, versionID uuid.UUID) (_ policy.Item, err error) {
	defer mon.Task()(&ctx)(&err)

	return pdb.getItem(ctx, `
		SELECT id, tenant_id, repo_id, version_id, status, reason, created_at, resolved_at, resolved_by
		FROM quarantine_items
		WHERE tenant_id = $1 AND repo_id = $2 AND version_id = $3`,
		tenantID, repoID, versionID)
}

func (pdb *policyDB) GetQuarantineByID(ctx context.Context, tenantID, repoID, quarantineID uuid.UUID) (_ policy.Item, err error) {
	defer mon.Task()(&ctx)(&err)

	return pdb.getItem(ctx, `
		SELECT id, tenant_id, repo_id, version_id, status, reason, created_at, resolved_at, resolved_by
		FROM quarantine_items
		WHERE tenant_id = $1 AND repo_id = $2 AND id = $3`,
		tenantID, repoID, quarantineID)
}

func (pdb *policyDB) getItem(ctx context.Context, query string, args ...interface{}) (policy.Item, error) {
	var item policy.Item
	var status string
	err := pdb.db.QueryRowContext(ctx, query, args...).Scan(
		&item.ID, &item.TenantID, &item.RepoID, &item.VersionID,
		&status, &item.Reason, &item.CreatedAt, &item.ResolvedAt, &item.ResolvedBy)
	if dbutil.IsNoRows(err) {
		return policy.Item{}, policy.ErrNotFound.New("quarantine item")
	}
	if err != nil {
		return policy.Item{}, policy.Error.Wrap(err)
	}
	item.Status = policy.QuarantineStatus(status)
	return item, nil
}

func (pdb *policyDB) ListQuarantine(ctx context.Context, tenantID, repoID uuid.UUID) (_ []policy.Item, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := pdb.db.QueryContext(ctx, `
		SELECT id, tenant_id, repo_id, version_id, status, reason, created_at, resolved_at, resolved_by
		FROM quarantine_items
		WHERE tenant_id = $1 AND repo_id = $2
		ORDER BY created_at DESC`,
		tenantID, repoID)
	if err != nil {
		return nil, policy.Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var items []policy.Item
	for rows.Next() {
		var item policy.Item
		var status string
		err := rows.Scan(&item.ID, &item.TenantID, &item.RepoID, &item.VersionID,
			&status, &item.Reason, &item.CreatedAt, &item.ResolvedAt, &item.ResolvedBy)
		if err != nil {
			return nil, policy.Error.Wrap(err)
		}
		item.Status = policy.QuarantineStatus(status)
		items = append(items, item)
	}
	return items, policy.Error.Wrap(rows.Err())
}

func (pdb *policyDB) ResolveQuarantine(ctx context.Context, quarantineID uuid.UUID, status policy.QuarantineStatus, resolvedBy string, now time.Time) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := pdb.db.ExecContext(ctx, `
		UPDATE quarantine_items
		SET status = $2, resolved_at = $3, resolved_by = $4
		WHERE id = $1 AND status = 'quarantined'`,
		quarantineID, string(status), now, resolvedBy)
	if err != nil {
		return false, policy.Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, policy.Error.Wrap(err)
	}
	return affected == 1, nil
}

func (pdb *policyDB) SuppressedDigest(ctx context.Context, repoID uuid.UUID, digest string) (suppressed bool, reason string, err error) {
	defer mon.Task()(&ctx)(&err)

	err = pdb.db.QueryRowContext(ctx, `
		SELECT q.reason FROM quarantine_items q
		JOIN artifact_entries e ON e.version_id = q.version_id
		WHERE q.repo_id = $1 AND e.blob_digest = $2 AND q.status IN ('quarantined', 'rejected')
		LIMIT 1`,
		repoID, digest).Scan(&reason)
	if dbutil.IsNoRows(err) {
		return false, "", nil
	}
	if err != nil {
		return false, "", policy.Error.Wrap(err)
	}
	return true, reason, nil
}
