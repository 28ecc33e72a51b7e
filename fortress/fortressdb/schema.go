// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package fortressdb

import (
	"context"

	"go.uber.org/zap"

	"artifortress.io/artifortress/internal/dbutil"
)

// schemaSteps are the ordered DDL statements making up the schema. Applied
// steps are recorded in schema_versions; new deployments run everything.
var schemaSteps = []string{
	// 1: tenancy, repositories and identity
	`CREATE TABLE IF NOT EXISTS repositories (
		id uuid PRIMARY KEY,
		tenant_id uuid NOT NULL,
		repo_key text NOT NULL,
		repo_type text NOT NULL,
		config jsonb NOT NULL DEFAULT '{}',
		created_at timestamptz NOT NULL,
		UNIQUE (tenant_id, repo_key)
	);
	CREATE TABLE IF NOT EXISTS pats (
		id uuid PRIMARY KEY,
		tenant_id uuid NOT NULL,
		subject text NOT NULL,
		token_hash text NOT NULL UNIQUE,
		scopes jsonb NOT NULL DEFAULT '[]',
		source text NOT NULL DEFAULT 'pat',
		created_at timestamptz NOT NULL,
		expires_at timestamptz NOT NULL,
		revoked_at timestamptz
	);
	CREATE TABLE IF NOT EXISTS role_bindings (
		repo_id uuid NOT NULL REFERENCES repositories (id) ON DELETE CASCADE,
		subject text NOT NULL,
		roles jsonb NOT NULL DEFAULT '[]',
		updated_at timestamptz NOT NULL,
		PRIMARY KEY (repo_id, subject)
	);`,

	// 2: blobs and upload sessions
	`CREATE TABLE IF NOT EXISTS blobs (
		digest text PRIMARY KEY,
		length bigint NOT NULL,
		storage_key text NOT NULL,
		etag text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL
	);
	CREATE TABLE IF NOT EXISTS upload_sessions (
		id uuid PRIMARY KEY,
		tenant_id uuid NOT NULL,
		repo_id uuid NOT NULL,
		expected_digest text NOT NULL,
		expected_length bigint NOT NULL,
		state text NOT NULL,
		staging_key text NOT NULL DEFAULT '',
		storage_upload_id text NOT NULL DEFAULT '',
		committed_blob_digest text,
		aborted_reason text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL,
		updated_at timestamptz NOT NULL,
		expires_at timestamptz NOT NULL,
		committed_at timestamptz,
		aborted_at timestamptz
	);
	CREATE INDEX IF NOT EXISTS upload_sessions_repo_committed
		ON upload_sessions (repo_id, committed_blob_digest)
		WHERE state = 'committed';`,

	// 3: packages, versions, entries, manifests, tombstones
	`CREATE TABLE IF NOT EXISTS packages (
		id uuid PRIMARY KEY,
		repo_id uuid NOT NULL REFERENCES repositories (id) ON DELETE CASCADE,
		package_type text NOT NULL,
		namespace text NOT NULL DEFAULT '',
		name text NOT NULL,
		created_at timestamptz NOT NULL,
		UNIQUE (repo_id, package_type, namespace, name)
	);
	CREATE TABLE IF NOT EXISTS package_versions (
		id uuid PRIMARY KEY,
		repo_id uuid NOT NULL,
		package_id uuid NOT NULL REFERENCES packages (id) ON DELETE CASCADE,
		version text NOT NULL,
		state text NOT NULL,
		created_at timestamptz NOT NULL,
		published_at timestamptz,
		tombstoned_at timestamptz,
		tombstone_reason text NOT NULL DEFAULT '',
		UNIQUE (repo_id, package_id, version)
	);
	CREATE TABLE IF NOT EXISTS artifact_entries (
		version_id uuid NOT NULL REFERENCES package_versions (id) ON DELETE CASCADE,
		relative_path text NOT NULL,
		blob_digest text NOT NULL,
		checksum_sha1 text NOT NULL DEFAULT '',
		checksum_sha256 text NOT NULL DEFAULT '',
		size_bytes bigint NOT NULL,
		PRIMARY KEY (version_id, relative_path)
	);
	CREATE INDEX IF NOT EXISTS artifact_entries_digest ON artifact_entries (blob_digest);
	CREATE TABLE IF NOT EXISTS manifests (
		version_id uuid PRIMARY KEY REFERENCES package_versions (id) ON DELETE CASCADE,
		document jsonb NOT NULL,
		blob_digest text NOT NULL DEFAULT '',
		updated_at timestamptz NOT NULL
	);
	CREATE TABLE IF NOT EXISTS tombstones (
		version_id uuid PRIMARY KEY REFERENCES package_versions (id) ON DELETE CASCADE,
		retention_until timestamptz NOT NULL,
		reason text NOT NULL,
		deleted_by_subject text NOT NULL
	);`,

	// 4: outbox and search jobs
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id uuid PRIMARY KEY,
		tenant_id uuid NOT NULL,
		aggregate_type text NOT NULL,
		aggregate_id uuid NOT NULL,
		event_type text NOT NULL,
		payload jsonb NOT NULL DEFAULT '{}',
		occurred_at timestamptz NOT NULL,
		available_at timestamptz NOT NULL,
		delivered_at timestamptz,
		UNIQUE (tenant_id, aggregate_type, aggregate_id, event_type)
	);
	CREATE TABLE IF NOT EXISTS search_jobs (
		id uuid PRIMARY KEY,
		tenant_id uuid NOT NULL,
		version_id uuid NOT NULL,
		status text NOT NULL DEFAULT 'pending',
		created_at timestamptz NOT NULL,
		updated_at timestamptz NOT NULL
	);`,

	// 5: policy evaluations and quarantine
	`CREATE TABLE IF NOT EXISTS policy_evaluations (
		id uuid PRIMARY KEY,
		tenant_id uuid NOT NULL,
		repo_id uuid NOT NULL,
		version_id uuid NOT NULL,
		action text NOT NULL,
		decision text NOT NULL,
		decision_source text NOT NULL,
		reason text NOT NULL DEFAULT '',
		policy_engine_version text NOT NULL DEFAULT '',
		evaluated_at timestamptz NOT NULL,
		evaluated_by text NOT NULL
	);
	CREATE TABLE IF NOT EXISTS quarantine_items (
		id uuid PRIMARY KEY,
		tenant_id uuid NOT NULL,
		repo_id uuid NOT NULL,
		version_id uuid NOT NULL,
		status text NOT NULL,
		reason text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL,
		resolved_at timestamptz,
		resolved_by text NOT NULL DEFAULT '',
		UNIQUE (tenant_id, repo_id, version_id)
	);`,

	// 6: garbage collection and audit
	`CREATE TABLE IF NOT EXISTS gc_runs (
		id uuid PRIMARY KEY,
		tenant_id uuid NOT NULL,
		mode text NOT NULL,
		marked_count bigint NOT NULL DEFAULT 0,
		candidate_blob_count bigint NOT NULL DEFAULT 0,
		deleted_blob_count bigint NOT NULL DEFAULT 0,
		deleted_version_count bigint NOT NULL DEFAULT 0,
		delete_error_count bigint NOT NULL DEFAULT 0,
		failed boolean NOT NULL DEFAULT false,
		started_at timestamptz NOT NULL,
		completed_at timestamptz
	);
	CREATE TABLE IF NOT EXISTS gc_marks (
		run_id uuid NOT NULL REFERENCES gc_runs (id) ON DELETE CASCADE,
		digest text NOT NULL,
		PRIMARY KEY (run_id, digest)
	);
	CREATE TABLE IF NOT EXISTS audit_entries (
		id uuid PRIMARY KEY,
		tenant_id uuid NOT NULL,
		actor text NOT NULL,
		action text NOT NULL,
		resource_type text NOT NULL,
		resource_id text NOT NULL,
		details jsonb NOT NULL DEFAULT '{}',
		occurred_at timestamptz NOT NULL
	);
	CREATE INDEX IF NOT EXISTS audit_entries_action_time
		ON audit_entries (tenant_id, action, occurred_at);`,
}

// MigrateToLatest applies all schema steps not yet recorded in
// schema_versions.
func (db *DB) MigrateToLatest(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_versions (
			version integer PRIMARY KEY,
			applied_at timestamptz NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return Error.Wrap(err)
	}

	var current int
	err = db.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_versions`).Scan(&current)
	if err != nil {
		return Error.Wrap(err)
	}

	for version := current + 1; version <= len(schemaSteps); version++ {
		step := schemaSteps[version-1]
		err := dbutil.WithTx(ctx, db.db, func(ctx context.Context, tx dbutil.Tx) error {
			if _, err := tx.ExecContext(ctx, step); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_versions (version) VALUES ($1)`, version)
			return err
		})
		if err != nil {
			return Error.New("migration step %d failed: %w", version, err)
		}
		db.log.Info("applied schema step", zap.Int("version", version))
	}
	return nil
}
