// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package testdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"artifortress.io/artifortress/fortress/audit"
	"artifortress.io/artifortress/fortress/outbox"
	"artifortress.io/artifortress/fortress/packages"
	"artifortress.io/artifortress/fortress/policy"
)

type packagesDB DB

func (pdb *packagesDB) UpsertPackage(ctx context.Context, pkg packages.Package) (packages.Package, error) {
	db := (*DB)(pdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, existing := range db.packageRows {
		if existing.RepoID == pkg.RepoID && existing.Type == pkg.Type &&
			existing.Namespace == pkg.Namespace && existing.Name == pkg.Name {
			return existing, nil
		}
	}
	db.packageRows[pkg.ID] = pkg
	return pkg, nil
}

func (pdb *packagesDB) GetPackage(ctx context.Context, repoID uuid.UUID, packageType, namespace, name string) (packages.Package, error) {
	db := (*DB)(pdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, pkg := range db.packageRows {
		if pkg.RepoID == repoID && pkg.Type == packageType &&
			pkg.Namespace == namespace && pkg.Name == name {
			return pkg, nil
		}
	}
	return packages.Package{}, packages.ErrNotFound.New("package %s/%s", packageType, name)
}

func (pdb *packagesDB) CreateDraft(ctx context.Context, version packages.Version) (packages.Version, bool, error) {
	db := (*DB)(pdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, existing := range db.versions {
		if existing.RepoID == version.RepoID && existing.PackageID == version.PackageID &&
			existing.Version == version.Version {
			return existing, true, nil
		}
	}
	db.versions[version.ID] = version
	return version, false, nil
}

func (pdb *packagesDB) GetVersion(ctx context.Context, repoID, versionID uuid.UUID) (packages.Version, error) {
	db := (*DB)(pdb)
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.getVersionLocked(repoID, versionID)
}

func (db *DB) getVersionLocked(repoID, versionID uuid.UUID) (packages.Version, error) {
	version, ok := db.versions[versionID]
	if !ok || version.RepoID != repoID {
		return packages.Version{}, packages.ErrNotFound.New("version")
	}
	return version, nil
}

func (pdb *packagesDB) ListVersions(ctx context.Context, repoID, packageID uuid.UUID, includeTombstoned bool) ([]packages.Version, error) {
	db := (*DB)(pdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []packages.Version
	for _, version := range db.versions {
		if version.RepoID != repoID || version.PackageID != packageID {
			continue
		}
		if !includeTombstoned && version.State == packages.StateTombstoned {
			continue
		}
		result = append(result, version)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].CreatedAt.After(result[k].CreatedAt) })
	return result, nil
}

func (db *DB) checkDigestReachableLocked(repoID uuid.UUID, digest string) error {
	if _, ok := db.blobRows[digest]; !ok {
		return packages.ErrConflict.Wrap(&packages.DigestError{Digest: digest, Missing: true})
	}
	if !db.committedInRepo(repoID, digest) {
		return packages.ErrConflict.Wrap(&packages.DigestError{Digest: digest, Missing: false})
	}
	return nil
}

func (pdb *packagesDB) UpsertEntries(ctx context.Context, repoID, versionID uuid.UUID, entries []packages.Entry) error {
	db := (*DB)(pdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	version, err := db.getVersionLocked(repoID, versionID)
	if err != nil {
		return err
	}
	if version.State != packages.StateDraft {
		return packages.ErrConflict.New("version is %q, entries require draft", version.State)
	}
	for _, entry := range entries {
		if err := db.checkDigestReachableLocked(repoID, entry.BlobDigest); err != nil {
			return err
		}
	}

	byPath := db.entries[versionID]
	if byPath == nil {
		byPath = map[string]packages.Entry{}
		db.entries[versionID] = byPath
	}
	for _, entry := range entries {
		entry.VersionID = versionID
		byPath[entry.RelativePath] = entry
	}
	return nil
}

func (pdb *packagesDB) ListEntries(ctx context.Context, versionID uuid.UUID) ([]packages.Entry, error) {
	db := (*DB)(pdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []packages.Entry
	for _, entry := range db.entries[versionID] {
		result = append(result, entry)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].RelativePath < result[k].RelativePath })
	return result, nil
}

func (pdb *packagesDB) UpsertManifest(ctx context.Context, repoID, versionID uuid.UUID, manifest packages.Manifest) error {
	db := (*DB)(pdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	version, err := db.getVersionLocked(repoID, versionID)
	if err != nil {
		return err
	}
	if version.State != packages.StateDraft {
		return packages.ErrConflict.New("version is %q, manifest requires draft", version.State)
	}
	if manifest.BlobDigest != "" {
		if err := db.checkDigestReachableLocked(repoID, manifest.BlobDigest); err != nil {
			return err
		}
	}
	manifest.VersionID = versionID
	db.manifests[versionID] = manifest
	return nil
}

func (pdb *packagesDB) GetManifest(ctx context.Context, versionID uuid.UUID) (packages.Manifest, error) {
	db := (*DB)(pdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	manifest, ok := db.manifests[versionID]
	if !ok {
		return packages.Manifest{}, packages.ErrNotFound.New("manifest")
	}
	return manifest, nil
}

func (pdb *packagesDB) Publish(ctx context.Context, params packages.PublishParams) (packages.PublishResult, error) {
	db := (*DB)(pdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	version, err := db.getVersionLocked(params.RepoID, params.VersionID)
	if err != nil {
		return packages.PublishResult{}, err
	}
	switch version.State {
	case packages.StatePublished:
		return packages.PublishResult{Version: version, Idempotent: true}, nil
	case packages.StateDraft:
	default:
		return packages.PublishResult{}, packages.ErrConflict.New("cannot publish version in state %q", version.State)
	}

	entries := db.entries[version.ID]
	if len(entries) == 0 {
		return packages.PublishResult{}, packages.ErrConflict.New("publish requires at least one artifact entry")
	}
	if _, ok := db.manifests[version.ID]; !ok {
		return packages.PublishResult{}, packages.ErrConflict.New("publish requires a manifest")
	}

	paths := make([]string, 0, len(entries))
	for path := range entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		entry := entries[path]
		if !db.committedInRepo(params.RepoID, entry.BlobDigest) {
			return packages.PublishResult{}, packages.ErrConflict.Wrap(
				&packages.DigestError{Digest: entry.BlobDigest, Missing: false})
		}
	}

	version.State = packages.StatePublished
	if version.PublishedAt == nil {
		now := params.Now
		version.PublishedAt = &now
	}
	db.versions[version.ID] = version

	emitted := true
	for _, event := range db.outboxEvents {
		if event.TenantID == params.TenantID && event.AggregateType == outbox.AggregatePackageVersion &&
			event.AggregateID == version.ID && event.EventType == outbox.EventVersionPublished {
			emitted = false
			break
		}
	}
	if emitted {
		db.outboxEvents = append(db.outboxEvents, outbox.Event{
			ID:            uuid.New(),
			TenantID:      params.TenantID,
			AggregateType: outbox.AggregatePackageVersion,
			AggregateID:   version.ID,
			EventType:     outbox.EventVersionPublished,
			Payload: map[string]interface{}{
				"repoKey":   params.RepoKey,
				"versionId": version.ID.String(),
				"version":   version.Version,
			},
			OccurredAt:  params.Now,
			AvailableAt: params.Now,
		})
	}

	db.searchJobs = append(db.searchJobs, searchJob{
		ID:        uuid.New(),
		TenantID:  params.TenantID,
		VersionID: version.ID,
		Status:    "pending",
		CreatedAt: params.Now,
	})
	db.auditEntries = append(db.auditEntries, audit.Entry{
		ID:           uuid.New(),
		TenantID:     params.TenantID,
		Actor:        params.Actor,
		Action:       audit.ActionVersionPublished,
		ResourceType: "package_version",
		ResourceID:   version.ID.String(),
		Details:      map[string]string{"repoKey": params.RepoKey, "version": version.Version},
		OccurredAt:   params.Now,
	})

	return packages.PublishResult{Version: version, EventEmitted: emitted}, nil
}

func (pdb *packagesDB) Tombstone(ctx context.Context, params packages.TombstoneParams) (packages.TombstoneResult, error) {
	db := (*DB)(pdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	version, err := db.getVersionLocked(params.RepoID, params.VersionID)
	if err != nil {
		return packages.TombstoneResult{}, err
	}
	if version.State == packages.StateTombstoned {
		return packages.TombstoneResult{Version: version, Idempotent: true}, nil
	}

	now := params.Now
	version.State = packages.StateTombstoned
	version.TombstonedAt = &now
	version.TombstoneReason = params.Reason
	db.versions[version.ID] = version

	db.tombstones[version.ID] = packages.Tombstone{
		VersionID:        version.ID,
		RetentionUntil:   params.RetentionUntil,
		Reason:           params.Reason,
		DeletedBySubject: params.Actor,
	}
	db.auditEntries = append(db.auditEntries, audit.Entry{
		ID:           uuid.New(),
		TenantID:     params.TenantID,
		Actor:        params.Actor,
		Action:       audit.ActionVersionTombstoned,
		ResourceType: "package_version",
		ResourceID:   version.ID.String(),
		Details:      map[string]string{"repoKey": params.RepoKey, "reason": params.Reason},
		OccurredAt:   params.Now,
	})

	return packages.TombstoneResult{Version: version}, nil
}

type policyDB DB

func (pdb *policyDB) RecordEvaluation(ctx context.Context, evaluation policy.Evaluation, quarantine *policy.Item) error {
	db := (*DB)(pdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.getVersionLocked(evaluation.RepoID, evaluation.VersionID); err != nil {
		return policy.ErrNotFound.New("version")
	}
	db.evaluations = append(db.evaluations, evaluation)

	if quarantine == nil {
		return nil
	}
	for id, existing := range db.quarantine {
		if existing.TenantID == quarantine.TenantID && existing.RepoID == quarantine.RepoID &&
			existing.VersionID == quarantine.VersionID {
			existing.Status = quarantine.Status
			existing.Reason = quarantine.Reason
			existing.CreatedAt = quarantine.CreatedAt
			existing.ResolvedAt = nil
			existing.ResolvedBy = ""
			db.quarantine[id] = existing
			return nil
		}
	}
	db.quarantine[quarantine.ID] = *quarantine
	return nil
}

func (pdb *policyDB) GetQuarantine(ctx context.Context, tenantID, repoID, versionID uuid.UUID) (policy.Item, error) {
	db := (*DB)(pdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, item := range db.quarantine {
		if item.TenantID == tenantID && item.RepoID == repoID && item.VersionID == versionID {
			return item, nil
		}
	}
	return policy.Item{}, policy.ErrNotFound.New("quarantine item")
}

func (pdb *policyDB) GetQuarantineByID(ctx context.Context, tenantID, repoID, quarantineID uuid.UUID) (policy.Item, error) {
	db := (*DB)(pdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	item, ok := db.quarantine[quarantineID]
	if !ok || item.TenantID != tenantID || item.RepoID != repoID {
		return policy.Item{}, policy.ErrNotFound.New("quarantine item")
	}
	return item, nil
}

func (pdb *policyDB) ListQuarantine(ctx context.Context, tenantID, repoID uuid.UUID) ([]policy.Item, error) {
	db := (*DB)(pdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []policy.Item
	for _, item := range db.quarantine {
		if item.TenantID == tenantID && item.RepoID == repoID {
			result = append(result, item)
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].CreatedAt.After(result[k].CreatedAt) })
	return result, nil
}

func (pdb *policyDB) ResolveQuarantine(ctx context.Context, quarantineID uuid.UUID, status policy.QuarantineStatus, resolvedBy string, now time.Time) (bool, error) {
	db := (*DB)(pdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	item, ok := db.quarantine[quarantineID]
	if !ok || item.Status != policy.StatusQuarantined {
		return false, nil
	}
	item.Status = status
	item.ResolvedAt = &now
	item.ResolvedBy = resolvedBy
	db.quarantine[quarantineID] = item
	return true, nil
}

func (pdb *policyDB) SuppressedDigest(ctx context.Context, repoID uuid.UUID, digest string) (bool, string, error) {
	db := (*DB)(pdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, item := range db.quarantine {
		if item.RepoID != repoID {
			continue
		}
		if item.Status != policy.StatusQuarantined && item.Status != policy.StatusRejected {
			continue
		}
		for _, entry := range db.entries[item.VersionID] {
			if entry.BlobDigest == digest {
				return true, item.Reason, nil
			}
		}
	}
	return false, "", nil
}
