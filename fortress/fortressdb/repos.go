// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package fortressdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"artifortress.io/artifortress/fortress/repos"
	"artifortress.io/artifortress/internal/dbutil"
)

type reposDB struct {
	db dbutil.DB
}

func (rdb *reposDB) Create(ctx context.Context, repo repos.Repository) (_ repos.Repository, err error) {
	defer mon.Task()(&ctx)(&err)

	config, err := jsonValue(map[string]interface{}{
		"upstreamUrl": repo.Config.UpstreamURL,
		"members":     repo.Config.Members,
	})
	if err != nil {
		return repos.Repository{}, err
	}
	_, err = rdb.db.ExecContext(ctx, `
		INSERT INTO repositories (id, tenant_id, repo_key, repo_type, config, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		repo.ID, repo.TenantID, repo.Key, string(repo.Type), config, repo.CreatedAt)
	if dbutil.IsUniqueViolation(err) {
		return repos.Repository{}, repos.ErrConflict.New("repository %q already exists", repo.Key)
	}
	if err != nil {
		return repos.Repository{}, repos.Error.Wrap(err)
	}
	return repo, nil
}

func (rdb *reposDB) Get(ctx context.Context, tenantID uuid.UUID, repoKey string) (_ repos.Repository, err error) {
	defer mon.Task()(&ctx)(&err)

	repo := repos.Repository{TenantID: tenantID, Key: repoKey}
	var repoType string
	var rawConfig []byte
	err = rdb.db.QueryRowContext(ctx, `
		SELECT id, repo_type, config, created_at
		FROM repositories WHERE tenant_id = $1 AND repo_key = $2`,
		tenantID, repoKey).Scan(&repo.ID, &repoType, &rawConfig, &repo.CreatedAt)
	if dbutil.IsNoRows(err) {
		return repos.Repository{}, repos.ErrNotFound.New("repository %q", repoKey)
	}
	if err != nil {
		return repos.Repository{}, repos.Error.Wrap(err)
	}
	repo.Type = repos.Type(repoType)
	if err := decodeRepoConfig(rawConfig, &repo.Config); err != nil {
		return repos.Repository{}, err
	}
	return repo, nil
}

func (rdb *reposDB) List(ctx context.Context, tenantID uuid.UUID) (_ []repos.Repository, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := rdb.db.QueryContext(ctx, `
		SELECT id, repo_key, repo_type, config, created_at
		FROM repositories WHERE tenant_id = $1 ORDER BY repo_key`,
		tenantID)
	if err != nil {
		return nil, repos.Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var result []repos.Repository
	for rows.Next() {
		repo := repos.Repository{TenantID: tenantID}
		var repoType string
		var rawConfig []byte
		if err := rows.Scan(&repo.ID, &repo.Key, &repoType, &rawConfig, &repo.CreatedAt); err != nil {
			return nil, repos.Error.Wrap(err)
		}
		repo.Type = repos.Type(repoType)
		if err := decodeRepoConfig(rawConfig, &repo.Config); err != nil {
			return nil, err
		}
		result = append(result, repo)
	}
	return result, repos.Error.Wrap(rows.Err())
}

func (rdb *reposDB) Delete(ctx context.Context, tenantID uuid.UUID, repoKey string) (err error) {
	defer mon.Task()(&ctx)(&err)

	return dbutil.WithTx(ctx, rdb.db, func(ctx context.Context, tx dbutil.Tx) error {
		var repoID uuid.UUID
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM repositories
			WHERE tenant_id = $1 AND repo_key = $2 FOR UPDATE`,
			tenantID, repoKey).Scan(&repoID)
		if dbutil.IsNoRows(err) {
			return repos.ErrNotFound.New("repository %q", repoKey)
		}
		if err != nil {
			return repos.Error.Wrap(err)
		}

		var packageCount int64
		err = tx.QueryRowContext(ctx, `SELECT count(*) FROM packages WHERE repo_id = $1`, repoID).Scan(&packageCount)
		if err != nil {
			return repos.Error.Wrap(err)
		}
		if packageCount > 0 {
			return repos.ErrConflict.New("repository %q still holds %d packages", repoKey, packageCount)
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM repositories WHERE id = $1`, repoID)
		return repos.Error.Wrap(err)
	})
}

func decodeRepoConfig(raw []byte, config *repos.RepoConfig) error {
	var decoded struct {
		UpstreamURL string   `json:"upstreamUrl"`
		Members     []string `json:"members"`
	}
	if err := scanJSON(raw, &decoded); err != nil {
		return err
	}
	config.UpstreamURL = decoded.UpstreamURL
	config.Members = decoded.Members
	return nil
}
