// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package packages

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"artifortress.io/artifortress/fortress/blobs"
	"artifortress.io/artifortress/fortress/repos"
)

// Retention bounds for tombstones, in days.
const (
	MinRetentionDays     = 1
	MaxRetentionDays     = 3650
	DefaultRetentionDays = 30
)

// Config holds the version lifecycle settings.
type Config struct {
	RetentionDays int `help:"default tombstone retention in days" default:"30"`
}

// manifestRequiredFields lists the string fields a manifest must carry per
// package type. Types not listed are unconstrained.
var manifestRequiredFields = map[string][]string{
	"nuget": {"id", "version"},
	"npm":   {"name", "version"},
	"maven": {"groupId", "artifactId", "version"},
}

// Service assembles draft versions and drives the version lifecycle.
type Service struct {
	log    *zap.Logger
	db     DB
	config Config
}

// NewService creates a packages service.
func NewService(log *zap.Logger, db DB, config Config) *Service {
	if config.RetentionDays < MinRetentionDays || config.RetentionDays > MaxRetentionDays {
		config.RetentionDays = DefaultRetentionDays
	}
	return &Service{
		log:    log,
		db:     db,
		config: config,
	}
}

// CreateDraft upserts the package and creates (or reuses) a draft version
// on its coordinates. An existing version in any other state is a
// conflict.
func (service *Service) CreateDraft(ctx context.Context, repo repos.Repository, packageType, namespace, name, version string) (_ Package, _ Version, err error) {
	defer mon.Task()(&ctx)(&err)

	if packageType == "" {
		return Package{}, Version{}, ErrInvalidRequest.New("package type is required")
	}
	if name == "" {
		return Package{}, Version{}, ErrInvalidRequest.New("package name is required")
	}
	if version == "" {
		return Package{}, Version{}, ErrInvalidRequest.New("version is required")
	}

	now := time.Now().UTC()
	pkg, err := service.db.UpsertPackage(ctx, Package{
		ID:        uuid.New(),
		RepoID:    repo.ID,
		Type:      packageType,
		Namespace: namespace,
		Name:      name,
		CreatedAt: now,
	})
	if err != nil {
		return Package{}, Version{}, Error.Wrap(err)
	}

	draft, existing, err := service.db.CreateDraft(ctx, Version{
		ID:        uuid.New(),
		RepoID:    repo.ID,
		PackageID: pkg.ID,
		Version:   version,
		State:     StateDraft,
		CreatedAt: now,
	})
	if err != nil {
		return Package{}, Version{}, Error.Wrap(err)
	}
	if existing && draft.State != StateDraft {
		return Package{}, Version{}, ErrConflict.New("version %q already exists in state %q", version, draft.State)
	}
	return pkg, draft, nil
}

// GetVersion fetches a version scoped to the repository.
func (service *Service) GetVersion(ctx context.Context, repo repos.Repository, versionID uuid.UUID) (_ Version, err error) {
	defer mon.Task()(&ctx)(&err)
	return service.db.GetVersion(ctx, repo.ID, versionID)
}

// ListVersions lists a package's versions. Tombstoned versions are hidden
// unless includeTombstoned.
func (service *Service) ListVersions(ctx context.Context, repo repos.Repository, packageType, namespace, name string, includeTombstoned bool) (_ []Version, err error) {
	defer mon.Task()(&ctx)(&err)

	pkg, err := service.db.GetPackage(ctx, repo.ID, packageType, namespace, name)
	if err != nil {
		return nil, err
	}
	return service.db.ListVersions(ctx, repo.ID, pkg.ID, includeTombstoned)
}

// ListEntries returns a version's artifact entries.
func (service *Service) ListEntries(ctx context.Context, repo repos.Repository, versionID uuid.UUID) (_ []Entry, err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := service.db.GetVersion(ctx, repo.ID, versionID); err != nil {
		return nil, err
	}
	return service.db.ListEntries(ctx, versionID)
}

// UpsertEntries validates and stores artifact entries on a draft version.
func (service *Service) UpsertEntries(ctx context.Context, repo repos.Repository, versionID uuid.UUID, entries []Entry) (err error) {
	defer mon.Task()(&ctx)(&err)

	if len(entries) == 0 {
		return ErrInvalidRequest.New("at least one entry is required")
	}

	seen := make(map[string]bool, len(entries))
	for i := range entries {
		entry := &entries[i]
		entry.VersionID = versionID
		if entry.RelativePath == "" {
			return ErrInvalidRequest.New("entry %d: relative path is required", i)
		}
		if seen[entry.RelativePath] {
			return ErrInvalidRequest.New("duplicate relative path %q", entry.RelativePath)
		}
		seen[entry.RelativePath] = true
		if entry.SizeBytes <= 0 {
			return ErrInvalidRequest.New("entry %q: size must be positive", entry.RelativePath)
		}
		if !blobs.ValidDigest(entry.BlobDigest) {
			return ErrInvalidRequest.New("entry %q: digest must be 64 lowercase hex characters", entry.RelativePath)
		}
		if entry.ChecksumSHA1 != "" && !validHex(entry.ChecksumSHA1, 40) {
			return ErrInvalidRequest.New("entry %q: sha1 must be 40 lowercase hex characters", entry.RelativePath)
		}
		if entry.ChecksumSHA2 != "" && !validHex(entry.ChecksumSHA2, 64) {
			return ErrInvalidRequest.New("entry %q: sha256 must be 64 lowercase hex characters", entry.RelativePath)
		}
	}

	return service.db.UpsertEntries(ctx, repo.ID, versionID, entries)
}

// UpsertManifest validates and stores the manifest on a draft version.
// Per-type required fields must be present as non-empty strings.
func (service *Service) UpsertManifest(ctx context.Context, repo repos.Repository, versionID uuid.UUID, packageType string, manifest Manifest) (err error) {
	defer mon.Task()(&ctx)(&err)

	if manifest.Document == nil {
		return ErrInvalidRequest.New("manifest must be a JSON object")
	}
	for _, field := range manifestRequiredFields[packageType] {
		value, ok := manifest.Document[field].(string)
		if !ok || value == "" {
			return ErrInvalidRequest.New("manifest for %s requires string field %q", packageType, field)
		}
	}
	if manifest.BlobDigest != "" && !blobs.ValidDigest(manifest.BlobDigest) {
		return ErrInvalidRequest.New("manifest blob digest must be 64 lowercase hex characters")
	}

	manifest.VersionID = versionID
	manifest.UpdatedAt = time.Now().UTC()
	return service.db.UpsertManifest(ctx, repo.ID, versionID, manifest)
}

// GetManifest fetches a version's manifest.
func (service *Service) GetManifest(ctx context.Context, repo repos.Repository, versionID uuid.UUID) (_ Manifest, err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := service.db.GetVersion(ctx, repo.ID, versionID); err != nil {
		return Manifest{}, err
	}
	return service.db.GetManifest(ctx, versionID)
}

// Publish promotes a draft to published. The state flip, outbox event,
// search job and audit row commit atomically; a republish is idempotent
// and emits nothing.
func (service *Service) Publish(ctx context.Context, repo repos.Repository, versionID uuid.UUID, actor string) (_ PublishResult, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := service.db.Publish(ctx, PublishParams{
		TenantID:  repo.TenantID,
		RepoID:    repo.ID,
		RepoKey:   repo.Key,
		VersionID: versionID,
		Actor:     actor,
		Now:       time.Now().UTC(),
	})
	if err != nil {
		return PublishResult{}, err
	}

	if result.EventEmitted {
		mon.Meter("version_published").Mark(1)
		service.log.Info("version published",
			zap.String("repo", repo.Key),
			zap.Stringer("versionID", versionID),
			zap.String("actor", actor))
	}
	return result, nil
}

// Tombstone soft-deletes a draft or published version with a retention
// window. Days outside [1, 3650] fall back to the configured default.
func (service *Service) Tombstone(ctx context.Context, repo repos.Repository, versionID uuid.UUID, reason string, retentionDays int, actor string) (_ TombstoneResult, err error) {
	defer mon.Task()(&ctx)(&err)

	if retentionDays < MinRetentionDays || retentionDays > MaxRetentionDays {
		retentionDays = service.config.RetentionDays
	}
	if reason == "" {
		reason = "deleted"
	}

	now := time.Now().UTC()
	result, err := service.db.Tombstone(ctx, TombstoneParams{
		TenantID:       repo.TenantID,
		RepoID:         repo.ID,
		RepoKey:        repo.Key,
		VersionID:      versionID,
		Reason:         reason,
		RetentionUntil: now.Add(time.Duration(retentionDays) * 24 * time.Hour),
		Actor:          actor,
		Now:            now,
	})
	if err != nil {
		return TombstoneResult{}, err
	}

	if !result.Idempotent {
		mon.Meter("version_tombstoned").Mark(1)
		service.log.Info("version tombstoned",
			zap.String("repo", repo.Key),
			zap.Stringer("versionID", versionID),
			zap.String("reason", reason))
	}
	return result, nil
}

func validHex(value string, length int) bool {
	if len(value) != length {
		return false
	}
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
