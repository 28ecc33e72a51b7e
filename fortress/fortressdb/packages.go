// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package fortressdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"artifortress.io/artifortress/fortress/outbox"
	"artifortress.io/artifortress/fortress/packages"
	"artifortress.io/artifortress/internal/dbutil"
)

type packagesDB struct {
	db dbutil.DB
}

func (pdb *packagesDB) UpsertPackage(ctx context.Context, pkg packages.Package) (_ packages.Package, err error) {
	defer mon.Task()(&ctx)(&err)

	err = pdb.db.QueryRowContext(ctx, `
		INSERT INTO packages (id, repo_id, package_type, namespace, name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (repo_id, package_type, namespace, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, created_at`,
		pkg.ID, pkg.RepoID, pkg.Type, pkg.Namespace, pkg.Name, pkg.CreatedAt).
		Scan(&pkg.ID, &pkg.CreatedAt)
	if err != nil {
		return packages.Package{}, packages.Error.Wrap(err)
	}
	return pkg, nil
}

func (pdb *packagesDB) GetPackage(ctx context.Context, repoID uuid.UUID, packageType, namespace, name string) (_ packages.Package, err error) {
	defer mon.Task()(&ctx)(&err)

	pkg := packages.Package{RepoID: repoID, Type: packageType, Namespace: namespace, Name: name}
	err = pdb.db.QueryRowContext(ctx, `
		SELECT id, created_at FROM packages
		WHERE repo_id = $1 AND package_type = $2 AND namespace = $3 AND name = $4`,
		repoID, packageType, namespace, name).Scan(&pkg.ID, &pkg.CreatedAt)
	if dbutil.IsNoRows(err) {
		return packages.Package{}, packages.ErrNotFound.New("package %s/%s", packageType, name)
	}
	if err != nil {
		return packages.Package{}, packages.Error.Wrap(err)
	}
	return pkg, nil
}

func (pdb *packagesDB) CreateDraft(ctx context.Context, version packages.Version) (_ packages.Version, existing bool, err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = pdb.db.ExecContext(ctx, `
		INSERT INTO package_versions (id, repo_id, package_id, version, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		version.ID, version.RepoID, version.PackageID, version.Version,
		string(version.State), version.CreatedAt)
	if err == nil {
		return version, false, nil
	}
	if !dbutil.IsUniqueViolation(err) {
		return packages.Version{}, false, packages.Error.Wrap(err)
	}

	current, err := pdb.getVersionByCoords(ctx, version.RepoID, version.PackageID, version.Version)
	if err != nil {
		return packages.Version{}, false, err
	}
	return current, true, nil
}

func (pdb *packagesDB) getVersionByCoords(ctx context.Context, repoID, packageID uuid.UUID, version string) (packages.Version, error) {
	row := pdb.db.QueryRowContext(ctx, `
		SELECT id, repo_id, package_id, version, state, created_at,
			published_at, tombstoned_at, tombstone_reason
		FROM package_versions
		WHERE repo_id = $1 AND package_id = $2 AND version = $3`,
		repoID, packageID, version)
	return scanVersion(row)
}

func (pdb *packagesDB) GetVersion(ctx context.Context, repoID, versionID uuid.UUID) (_ packages.Version, err error) {
	defer mon.Task()(&ctx)(&err)
	return getVersion(ctx, pdb.db, repoID, versionID, false)
}

func getVersion(ctx context.Context, db dbutil.Queryer, repoID, versionID uuid.UUID, forUpdate bool) (packages.Version, error) {
	query := `
		SELECT id, repo_id, package_id, version, state, created_at,
			published_at, tombstoned_at, tombstone_reason
		FROM package_versions
		WHERE repo_id = $1 AND id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanVersion(db.QueryRowContext(ctx, query, repoID, versionID))
}

type singleRowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVersion(row singleRowScanner) (packages.Version, error) {
	var version packages.Version
	var state string
	err := row.Scan(&version.ID, &version.RepoID, &version.PackageID, &version.Version,
		&state, &version.CreatedAt, &version.PublishedAt, &version.TombstonedAt,
		&version.TombstoneReason)
	if dbutil.IsNoRows(err) {
		return packages.Version{}, packages.ErrNotFound.New("version")
	}
	if err != nil {
		return packages.Version{}, packages.Error.Wrap(err)
	}
	version.State = packages.VersionState(state)
	return version, nil
}

func (pdb *packagesDB) ListVersions(ctx context.Context, repoID, packageID uuid.UUID, includeTombstoned bool) (_ []packages.Version, err error) {
	defer mon.Task()(&ctx)(&err)

	query := `
		SELECT id, repo_id, package_id, version, state, created_at,
			published_at, tombstoned_at, tombstone_reason
		FROM package_versions
		WHERE repo_id = $1 AND package_id = $2`
	if !includeTombstoned {
		query += ` AND state != 'tombstoned'`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := pdb.db.QueryContext(ctx, query, repoID, packageID)
	if err != nil {
		return nil, packages.Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var versions []packages.Version
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, packages.Error.Wrap(rows.Err())
}

func (pdb *packagesDB) UpsertEntries(ctx context.Context, repoID, versionID uuid.UUID, entries []packages.Entry) (err error) {
	defer mon.Task()(&ctx)(&err)

	return dbutil.WithTx(ctx, pdb.db, func(ctx context.Context, tx dbutil.Tx) error {
		version, err := getVersion(ctx, tx, repoID, versionID, true)
		if err != nil {
			return err
		}
		if version.State != packages.StateDraft {
			return packages.ErrConflict.New("version is %q, entries require draft", version.State)
		}

		for _, entry := range entries {
			if err := checkDigestReachable(ctx, tx, repoID, entry.BlobDigest); err != nil {
				return err
			}
		}

		for _, entry := range entries {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO artifact_entries (version_id, relative_path, blob_digest, checksum_sha1, checksum_sha256, size_bytes)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (version_id, relative_path) DO UPDATE SET
					blob_digest = EXCLUDED.blob_digest,
					checksum_sha1 = EXCLUDED.checksum_sha1,
					checksum_sha256 = EXCLUDED.checksum_sha256,
					size_bytes = EXCLUDED.size_bytes`,
				versionID, entry.RelativePath, entry.BlobDigest,
				entry.ChecksumSHA1, entry.ChecksumSHA2, entry.SizeBytes)
			if err != nil {
				return packages.Error.Wrap(err)
			}
		}
		return nil
	})
}

// checkDigestReachable requires the digest to exist as a blob and to have
// been committed through an upload session in this repository. The two
// failures are distinct conflicts.
func checkDigestReachable(ctx context.Context, db dbutil.Queryer, repoID uuid.UUID, digest string) error {
	var blobExists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM blobs WHERE digest = $1)`, digest).Scan(&blobExists)
	if err != nil {
		return packages.Error.Wrap(err)
	}
	if !blobExists {
		return packages.ErrConflict.Wrap(&packages.DigestError{Digest: digest, Missing: true})
	}
	committed, err := committedInRepo(ctx, db, repoID, digest)
	if err != nil {
		return packages.Error.Wrap(err)
	}
	if !committed {
		return packages.ErrConflict.Wrap(&packages.DigestError{Digest: digest, Missing: false})
	}
	return nil
}

func (pdb *packagesDB) ListEntries(ctx context.Context, versionID uuid.UUID) (_ []packages.Entry, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := pdb.db.QueryContext(ctx, `
		SELECT version_id, relative_path, blob_digest, checksum_sha1, checksum_sha256, size_bytes
		FROM artifact_entries WHERE version_id = $1 ORDER BY relative_path`,
		versionID)
	if err != nil {
		return nil, packages.Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var entries []packages.Entry
	for rows.Next() {
		var entry packages.Entry
		err := rows.Scan(&entry.VersionID, &entry.RelativePath, &entry.BlobDigest,
			&entry.ChecksumSHA1, &entry.ChecksumSHA2, &entry.SizeBytes)
		if err != nil {
			return nil, packages.Error.Wrap(err)
		}
		entries = append(entries, entry)
	}
	return entries, packages.Error.Wrap(rows.Err())
}

func (pdb *packagesDB) UpsertManifest(ctx context.Context, repoID, versionID uuid.UUID, manifest packages.Manifest) (err error) {
	defer mon.Task()(&ctx)(&err)

	return dbutil.WithTx(ctx, pdb.db, func(ctx context.Context, tx dbutil.Tx) error {
		version, err := getVersion(ctx, tx, repoID, versionID, true)
		if err != nil {
			return err
		}
		if version.State != packages.StateDraft {
			return packages.ErrConflict.New("version is %q, manifest requires draft", version.State)
		}

		if manifest.BlobDigest != "" {
			if err := checkDigestReachable(ctx, tx, repoID, manifest.BlobDigest); err != nil {
				return err
			}
		}

		document, err := jsonValue(manifest.Document)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO manifests (version_id, document, blob_digest, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (version_id) DO UPDATE SET
				document = EXCLUDED.document,
				blob_digest = EXCLUDED.blob_digest,
				updated_at = EXCLUDED.updated_at`,
			versionID, document, manifest.BlobDigest, manifest.UpdatedAt)
		return packages.Error.Wrap(err)
	})
}

func (pdb *packagesDB) GetManifest(ctx context.Context, versionID uuid.UUID) (_ packages.Manifest, err error) {
	defer mon.Task()(&ctx)(&err)

	manifest := packages.Manifest{VersionID: versionID}
	var rawDocument []byte
	err = pdb.db.QueryRowContext(ctx, `
		SELECT document, blob_digest, updated_at FROM manifests WHERE version_id = $1`,
		versionID).Scan(&rawDocument, &manifest.BlobDigest, &manifest.UpdatedAt)
	if dbutil.IsNoRows(err) {
		return packages.Manifest{}, packages.ErrNotFound.New("manifest")
	}
	if err != nil {
		return packages.Manifest{}, packages.Error.Wrap(err)
	}
	if err := scanJSON(rawDocument, &manifest.Document); err != nil {
		return packages.Manifest{}, err
	}
	return manifest, nil
}

// Publish runs the publish transaction. The version row lock guarantees
// that the entry, manifest and reachability reads reflect the locked
// state; the outbox NOT EXISTS guard makes concurrent publishes emit
// exactly one event.
func (pdb *packagesDB) Publish(ctx context.Context, params packages.PublishParams) (result packages.PublishResult, err error) {
	defer mon.Task()(&ctx)(&err)

	err = dbutil.WithTx(ctx, pdb.db, func(ctx context.Context, tx dbutil.Tx) error {
		result = packages.PublishResult{}

		version, err := getVersion(ctx, tx, params.RepoID, params.VersionID, true)
		if err != nil {
			return err
		}
		switch version.State {
		case packages.StatePublished:
			result.Version = version
			result.Idempotent = true
			return nil
		case packages.StateDraft:
		default:
			return packages.ErrConflict.New("cannot publish version in state %q", version.State)
		}

		var entryCount int64
		err = tx.QueryRowContext(ctx, `SELECT count(*) FROM artifact_entries WHERE version_id = $1`, version.ID).Scan(&entryCount)
		if err != nil {
			return packages.Error.Wrap(err)
		}
		if entryCount == 0 {
			return packages.ErrConflict.New("publish requires at least one artifact entry")
		}

		var hasManifest bool
		err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM manifests WHERE version_id = $1)`, version.ID).Scan(&hasManifest)
		if err != nil {
			return packages.Error.Wrap(err)
		}
		if !hasManifest {
			return packages.ErrConflict.New("publish requires a manifest")
		}

		// surface the first digest not committed in this repository.
		var offender *string
		err = tx.QueryRowContext(ctx, `
			SELECT e.blob_digest FROM artifact_entries e
			WHERE e.version_id = $1 AND NOT EXISTS (
				SELECT 1 FROM upload_sessions s
				WHERE s.repo_id = $2 AND s.committed_blob_digest = e.blob_digest AND s.state = 'committed'
			)
			ORDER BY e.relative_path LIMIT 1`,
			version.ID, params.RepoID).Scan(&offender)
		switch {
		case dbutil.IsNoRows(err):
		case err != nil:
			return packages.Error.Wrap(err)
		default:
			return packages.ErrConflict.Wrap(&packages.DigestError{Digest: *offender, Missing: false})
		}

		err = tx.QueryRowContext(ctx, `
			UPDATE package_versions
			SET state = 'published', published_at = COALESCE(published_at, $2)
			WHERE id = $1
			RETURNING published_at`,
			version.ID, params.Now).Scan(&version.PublishedAt)
		if err != nil {
			return packages.Error.Wrap(err)
		}
		version.State = packages.StatePublished

		payload, err := jsonValue(map[string]interface{}{
			"repoKey":     params.RepoKey,
			"versionId":   version.ID.String(),
			"packageId":   version.PackageID.String(),
			"version":     version.Version,
			"publishedAt": version.PublishedAt,
		})
		if err != nil {
			return err
		}
		eventResult, err := tx.ExecContext(ctx, `
			INSERT INTO outbox_events (id, tenant_id, aggregate_type, aggregate_id, event_type, payload, occurred_at, available_at)
			SELECT $1, $2, $3, $4, $5, $6, $7, $7
			WHERE NOT EXISTS (
				SELECT 1 FROM outbox_events
				WHERE tenant_id = $2 AND aggregate_type = $3 AND aggregate_id = $4 AND event_type = $5
			)`,
			uuid.New(), params.TenantID, outbox.AggregatePackageVersion, version.ID,
			outbox.EventVersionPublished, payload, params.Now)
		if err != nil {
			return packages.Error.Wrap(err)
		}
		emitted, err := eventResult.RowsAffected()
		if err != nil {
			return packages.Error.Wrap(err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO search_jobs (id, tenant_id, version_id, status, created_at, updated_at)
			VALUES ($1, $2, $3, 'pending', $4, $4)`,
			uuid.New(), params.TenantID, version.ID, params.Now)
		if err != nil {
			return packages.Error.Wrap(err)
		}

		details, err := jsonValue(map[string]string{
			"repoKey": params.RepoKey,
			"version": version.Version,
		})
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO audit_entries (id, tenant_id, actor, action, resource_type, resource_id, details, occurred_at)
			VALUES ($1, $2, $3, 'version.published', 'package_version', $4, $5, $6)`,
			uuid.New(), params.TenantID, params.Actor, version.ID.String(), details, params.Now)
		if err != nil {
			return packages.Error.Wrap(err)
		}

		result.Version = version
		result.EventEmitted = emitted == 1
		return nil
	})
	return result, err
}

func (pdb *packagesDB) Tombstone(ctx context.Context, params packages.TombstoneParams) (result packages.TombstoneResult, err error) {
	defer mon.Task()(&ctx)(&err)

	err = dbutil.WithTx(ctx, pdb.db, func(ctx context.Context, tx dbutil.Tx) error {
		result = packages.TombstoneResult{}

		version, err := getVersion(ctx, tx, params.RepoID, params.VersionID, true)
		if err != nil {
			return err
		}
		if version.State == packages.StateTombstoned {
			result.Version = version
			result.Idempotent = true
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE package_versions
			SET state = 'tombstoned', tombstoned_at = $2, tombstone_reason = $3
			WHERE id = $1`,
			version.ID, params.Now, params.Reason)
		if err != nil {
			return packages.Error.Wrap(err)
		}
		version.State = packages.StateTombstoned
		version.TombstonedAt = &params.Now
		version.TombstoneReason = params.Reason

		_, err = tx.ExecContext(ctx, `
			INSERT INTO tombstones (version_id, retention_until, reason, deleted_by_subject)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (version_id) DO UPDATE SET
				retention_until = EXCLUDED.retention_until,
				reason = EXCLUDED.reason,
				deleted_by_subject = EXCLUDED.deleted_by_subject`,
			version.ID, params.RetentionUntil, params.Reason, params.Actor)
		if err != nil {
			return packages.Error.Wrap(err)
		}

		details, err := jsonValue(map[string]string{
			"repoKey": params.RepoKey,
			"reason":  params.Reason,
		})
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO audit_entries (id, tenant_id, actor, action, resource_type, resource_id, details, occurred_at)
			VALUES ($1, $2, $3, 'version.tombstoned', 'package_version', $4, $5, $6)`,
			uuid.New(), params.TenantID, params.Actor, version.ID.String(), details, params.Now)
		if err != nil {
			return packages.Error.Wrap(err)
		}

		result.Version = version
		return nil
	})
	return result, err
}
