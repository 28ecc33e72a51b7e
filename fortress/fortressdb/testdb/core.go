// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package testdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"artifortress.io/artifortress/fortress/auth"
	"artifortress.io/artifortress/fortress/blobs"
	"artifortress.io/artifortress/fortress/repos"
	"artifortress.io/artifortress/fortress/upload"
)

type authDB DB

func (adb *authDB) CreatePAT(ctx context.Context, pat auth.PAT) error {
	db := (*DB)(adb)
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, existing := range db.pats {
		if existing.TokenHash == pat.TokenHash {
			return auth.Error.New("token hash collision")
		}
	}
	db.pats[pat.ID] = pat
	return nil
}

func (adb *authDB) PATByHash(ctx context.Context, tenantID uuid.UUID, hash string) (auth.PAT, error) {
	db := (*DB)(adb)
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, pat := range db.pats {
		if pat.TenantID == tenantID && pat.TokenHash == hash {
			return pat, nil
		}
	}
	return auth.PAT{}, auth.ErrNotFound.New("token")
}

func (adb *authDB) RevokePAT(ctx context.Context, tenantID, tokenID uuid.UUID, now time.Time) error {
	db := (*DB)(adb)
	db.mu.Lock()
	defer db.mu.Unlock()

	pat, ok := db.pats[tokenID]
	if !ok || pat.TenantID != tenantID || pat.RevokedAt != nil {
		return auth.ErrNotFound.New("token %s", tokenID)
	}
	pat.RevokedAt = &now
	db.pats[tokenID] = pat
	return nil
}

func (adb *authDB) UpsertBinding(ctx context.Context, binding auth.Binding) error {
	db := (*DB)(adb)
	db.mu.Lock()
	defer db.mu.Unlock()

	if repo, ok := db.repositories[binding.RepoID]; ok {
		binding.RepoKey = repo.Key
	}
	byRepo := db.bindings[binding.RepoID]
	if byRepo == nil {
		byRepo = map[string]auth.Binding{}
		db.bindings[binding.RepoID] = byRepo
	}
	byRepo[binding.Subject] = binding
	return nil
}

func (adb *authDB) BindingsForSubject(ctx context.Context, tenantID uuid.UUID, subject string) ([]auth.Binding, error) {
	db := (*DB)(adb)
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []auth.Binding
	for repoID, byRepo := range db.bindings {
		repo, ok := db.repositories[repoID]
		if !ok || repo.TenantID != tenantID {
			continue
		}
		if binding, ok := byRepo[subject]; ok {
			binding.RepoKey = repo.Key
			result = append(result, binding)
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].RepoKey < result[k].RepoKey })
	return result, nil
}

func (adb *authDB) BindingsForRepo(ctx context.Context, repoID uuid.UUID) ([]auth.Binding, error) {
	db := (*DB)(adb)
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []auth.Binding
	for _, binding := range db.bindings[repoID] {
		result = append(result, binding)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].Subject < result[k].Subject })
	return result, nil
}

type reposDB DB

func (rdb *reposDB) Create(ctx context.Context, repo repos.Repository) (repos.Repository, error) {
	db := (*DB)(rdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, existing := range db.repositories {
		if existing.TenantID == repo.TenantID && existing.Key == repo.Key {
			return repos.Repository{}, repos.ErrConflict.New("repository %q already exists", repo.Key)
		}
	}
	db.repositories[repo.ID] = repo
	return repo, nil
}

func (rdb *reposDB) Get(ctx context.Context, tenantID uuid.UUID, repoKey string) (repos.Repository, error) {
	db := (*DB)(rdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, repo := range db.repositories {
		if repo.TenantID == tenantID && repo.Key == repoKey {
			return repo, nil
		}
	}
	return repos.Repository{}, repos.ErrNotFound.New("repository %q", repoKey)
}

func (rdb *reposDB) List(ctx context.Context, tenantID uuid.UUID) ([]repos.Repository, error) {
	db := (*DB)(rdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []repos.Repository
	for _, repo := range db.repositories {
		if repo.TenantID == tenantID {
			result = append(result, repo)
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].Key < result[k].Key })
	return result, nil
}

func (rdb *reposDB) Delete(ctx context.Context, tenantID uuid.UUID, repoKey string) error {
	db := (*DB)(rdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	for id, repo := range db.repositories {
		if repo.TenantID != tenantID || repo.Key != repoKey {
			continue
		}
		for _, pkg := range db.packageRows {
			if pkg.RepoID == id {
				return repos.ErrConflict.New("repository %q still holds packages", repoKey)
			}
		}
		delete(db.repositories, id)
		delete(db.bindings, id)
		return nil
	}
	return repos.ErrNotFound.New("repository %q", repoKey)
}

type blobsDB DB

func (bdb *blobsDB) Upsert(ctx context.Context, blob blobs.Blob) error {
	db := (*DB)(bdb)
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.upsertBlobLocked(blob)
}

func (db *DB) upsertBlobLocked(blob blobs.Blob) error {
	existing, ok := db.blobRows[blob.Digest]
	if !ok {
		db.blobRows[blob.Digest] = blob
		return nil
	}
	if existing.Length != blob.Length {
		return blobs.ErrConflictingLength.New("digest %s stored with length %d, got %d",
			blob.Digest, existing.Length, blob.Length)
	}
	if existing.ETag == "" {
		existing.ETag = blob.ETag
		db.blobRows[blob.Digest] = existing
	}
	return nil
}

func (bdb *blobsDB) Get(ctx context.Context, digest string) (blobs.Blob, error) {
	db := (*DB)(bdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	blob, ok := db.blobRows[digest]
	if !ok {
		return blobs.Blob{}, blobs.ErrNotFound.New("digest %s", digest)
	}
	return blob, nil
}

func (bdb *blobsDB) CommittedInRepo(ctx context.Context, repoID uuid.UUID, digest string) (bool, error) {
	db := (*DB)(bdb)
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.committedInRepo(repoID, digest), nil
}

type uploadsDB DB

func (udb *uploadsDB) Create(ctx context.Context, session upload.Session) error {
	db := (*DB)(udb)
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.sessions[session.ID]; ok {
		return upload.ErrConflict.New("session %s already exists", session.ID)
	}
	db.sessions[session.ID] = session
	return nil
}

func (udb *uploadsDB) Get(ctx context.Context, tenantID, repoID, uploadID uuid.UUID) (upload.Session, error) {
	db := (*DB)(udb)
	db.mu.Lock()
	defer db.mu.Unlock()

	session, ok := db.sessions[uploadID]
	if !ok || session.TenantID != tenantID || session.RepoID != repoID {
		return upload.Session{}, upload.ErrNotFound.New("session %s", uploadID)
	}
	return session, nil
}

func (udb *uploadsDB) SetPartsUploading(ctx context.Context, uploadID uuid.UUID, now time.Time) (bool, error) {
	return (*DB)(udb).transitionLocked(uploadID, upload.StateInitiated, upload.StatePartsUploading, now)
}

func (udb *uploadsDB) SetPendingCommit(ctx context.Context, uploadID uuid.UUID, now time.Time) (bool, error) {
	return (*DB)(udb).transitionLocked(uploadID, upload.StatePartsUploading, upload.StatePendingCommit, now)
}

func (db *DB) transitionLocked(uploadID uuid.UUID, from, to upload.State, now time.Time) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	session, ok := db.sessions[uploadID]
	if !ok || session.State != from {
		return false, nil
	}
	session.State = to
	session.UpdatedAt = now
	db.sessions[uploadID] = session
	return true, nil
}

func (udb *uploadsDB) SetAborted(ctx context.Context, uploadID uuid.UUID, reason string, now time.Time) (bool, error) {
	db := (*DB)(udb)
	db.mu.Lock()
	defer db.mu.Unlock()

	session, ok := db.sessions[uploadID]
	if !ok || session.State.Terminal() {
		return false, nil
	}
	session.State = upload.StateAborted
	session.AbortedReason = reason
	session.AbortedAt = &now
	session.UpdatedAt = now
	db.sessions[uploadID] = session
	return true, nil
}

func (udb *uploadsDB) Commit(ctx context.Context, blob blobs.Blob, uploadID uuid.UUID, now time.Time) (bool, error) {
	db := (*DB)(udb)
	db.mu.Lock()
	defer db.mu.Unlock()

	session, ok := db.sessions[uploadID]
	if !ok {
		return false, upload.ErrNotFound.New("session %s", uploadID)
	}
	if err := db.upsertBlobLocked(blob); err != nil {
		return false, err
	}
	if session.State != upload.StatePendingCommit {
		return false, nil
	}
	session.State = upload.StateCommitted
	session.CommittedDigest = blob.Digest
	session.CommittedAt = &now
	session.UpdatedAt = now
	db.sessions[uploadID] = session
	return true, nil
}
