// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package fortressdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"artifortress.io/artifortress/fortress/auth"
	"artifortress.io/artifortress/internal/dbutil"
)

type authDB struct {
	db dbutil.DB
}

func (adb *authDB) CreatePAT(ctx context.Context, pat auth.PAT) (err error) {
	defer mon.Task()(&ctx)(&err)

	scopes, err := jsonValue(pat.Scopes.Strings())
	if err != nil {
		return err
	}
	_, err = adb.db.ExecContext(ctx, `
		INSERT INTO pats (id, tenant_id, subject, token_hash, scopes, source, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		pat.ID, pat.TenantID, pat.Subject, pat.TokenHash, scopes, string(pat.Source),
		pat.CreatedAt, pat.ExpiresAt)
	if dbutil.IsUniqueViolation(err) {
		return auth.Error.New("token hash collision")
	}
	return auth.Error.Wrap(err)
}

func (adb *authDB) PATByHash(ctx context.Context, tenantID uuid.UUID, hash string) (_ auth.PAT, err error) {
	defer mon.Task()(&ctx)(&err)

	pat := auth.PAT{TenantID: tenantID, TokenHash: hash}
	var rawScopes []byte
	var source string
	err = adb.db.QueryRowContext(ctx, `
		SELECT id, subject, scopes, source, created_at, expires_at, revoked_at
		FROM pats WHERE tenant_id = $1 AND token_hash = $2`,
		tenantID, hash).Scan(
		&pat.ID, &pat.Subject, &rawScopes, &source, &pat.CreatedAt, &pat.ExpiresAt, &pat.RevokedAt)
	if dbutil.IsNoRows(err) {
		return auth.PAT{}, auth.ErrNotFound.New("token")
	}
	if err != nil {
		return auth.PAT{}, auth.Error.Wrap(err)
	}

	var scopeStrings []string
	if err := scanJSON(rawScopes, &scopeStrings); err != nil {
		return auth.PAT{}, err
	}
	pat.Scopes, err = auth.ParseScopes(scopeStrings)
	if err != nil {
		return auth.PAT{}, auth.Error.Wrap(err)
	}
	pat.Source = auth.Source(source)
	return pat, nil
}

func (adb *authDB) RevokePAT(ctx context.Context, tenantID, tokenID uuid.UUID, now time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := adb.db.ExecContext(ctx, `
		UPDATE pats SET revoked_at = $3
		WHERE tenant_id = $1 AND id = $2 AND revoked_at IS NULL`,
		tenantID, tokenID, now)
	if err != nil {
		return auth.Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return auth.Error.Wrap(err)
	}
	if affected == 0 {
		return auth.ErrNotFound.New("token %s", tokenID)
	}
	return nil
}

func (adb *authDB) UpsertBinding(ctx context.Context, binding auth.Binding) (err error) {
	defer mon.Task()(&ctx)(&err)

	roles := make([]string, 0, len(binding.Roles))
	for _, role := range binding.Roles {
		roles = append(roles, string(role))
	}
	encoded, err := jsonValue(roles)
	if err != nil {
		return err
	}
	_, err = adb.db.ExecContext(ctx, `
		INSERT INTO role_bindings (repo_id, subject, roles, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (repo_id, subject) DO UPDATE SET roles = EXCLUDED.roles, updated_at = EXCLUDED.updated_at`,
		binding.RepoID, binding.Subject, encoded, binding.UpdatedAt)
	return auth.Error.Wrap(err)
}

func (adb *authDB) BindingsForSubject(ctx context.Context, tenantID uuid.UUID, subject string) (_ []auth.Binding, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := adb.db.QueryContext(ctx, `
		SELECT b.repo_id, r.repo_key, b.subject, b.roles, b.updated_at
		FROM role_bindings b
		JOIN repositories r ON r.id = b.repo_id
		WHERE r.tenant_id = $1 AND b.subject = $2
		ORDER BY r.repo_key`,
		tenantID, subject)
	if err != nil {
		return nil, auth.Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	return scanBindings(rows)
}

func (adb *authDB) BindingsForRepo(ctx context.Context, repoID uuid.UUID) (_ []auth.Binding, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := adb.db.QueryContext(ctx, `
		SELECT b.repo_id, r.repo_key, b.subject, b.roles, b.updated_at
		FROM role_bindings b
		JOIN repositories r ON r.id = b.repo_id
		WHERE b.repo_id = $1
		ORDER BY b.subject`,
		repoID)
	if err != nil {
		return nil, auth.Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	return scanBindings(rows)
}

func scanBindings(rows rowScanner) ([]auth.Binding, error) {
	var bindings []auth.Binding
	for rows.Next() {
		var binding auth.Binding
		var rawRoles []byte
		err := rows.Scan(&binding.RepoID, &binding.RepoKey, &binding.Subject, &rawRoles, &binding.UpdatedAt)
		if err != nil {
			return nil, auth.Error.Wrap(err)
		}
		var roles []string
		if err := scanJSON(rawRoles, &roles); err != nil {
			return nil, err
		}
		for _, role := range roles {
			binding.Roles = append(binding.Roles, auth.Role(role))
		}
		bindings = append(bindings, binding)
	}
	return bindings, auth.Error.Wrap(rows.Err())
}
