// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package packages_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"artifortress.io/artifortress/fortress/blobs"
	"artifortress.io/artifortress/fortress/fortressdb/testdb"
	"artifortress.io/artifortress/fortress/packages"
	"artifortress.io/artifortress/fortress/repos"
	"artifortress.io/artifortress/fortress/upload"
	"artifortress.io/artifortress/internal/testcontext"
	"artifortress.io/artifortress/internal/testrand"
)

func newTestService(t *testing.T) (*testdb.DB, *packages.Service, repos.Repository) {
	db := testdb.New()
	service := packages.NewService(zaptest.NewLogger(t), db.Packages(), packages.Config{})
	repo := repos.Repository{
		ID:       testrand.UUID(),
		TenantID: testrand.UUID(),
		Key:      "libs-release",
		Type:     repos.TypeLocal,
	}
	return db, service, repo
}

// commitBlob inserts a blob row and a committed upload session referencing
// it, making the digest reachable in the repository.
func commitBlob(t *testing.T, ctx *testcontext.Context, db *testdb.DB, repo repos.Repository, length int64) string {
	digest := testrand.Digest()
	now := time.Now().UTC()
	require.NoError(t, db.Blobs().Upsert(ctx, blobs.Blob{
		Digest:     digest,
		Length:     length,
		StorageKey: "staging/" + digest,
		CreatedAt:  now,
	}))
	require.NoError(t, db.Uploads().Create(ctx, upload.Session{
		ID:              testrand.UUID(),
		TenantID:        repo.TenantID,
		RepoID:          repo.ID,
		ExpectedDigest:  digest,
		ExpectedLength:  length,
		State:           upload.StateCommitted,
		CommittedDigest: digest,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(time.Hour),
	}))
	return digest
}

func draftWithContent(t *testing.T, ctx *testcontext.Context, db *testdb.DB, service *packages.Service, repo repos.Repository) (packages.Version, string) {
	_, version, err := service.CreateDraft(ctx, repo, "npm", "", "left-pad", "1.0.0")
	require.NoError(t, err)

	digest := commitBlob(t, ctx, db, repo, 2048)
	err = service.UpsertEntries(ctx, repo, version.ID, []packages.Entry{
		{RelativePath: "left-pad-1.0.0.tgz", BlobDigest: digest, SizeBytes: 2048},
	})
	require.NoError(t, err)

	err = service.UpsertManifest(ctx, repo, version.ID, "npm", packages.Manifest{
		Document: map[string]interface{}{"name": "left-pad", "version": "1.0.0"},
	})
	require.NoError(t, err)
	return version, digest
}

func TestCreateDraft(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, service, repo := newTestService(t)

	pkg, version, err := service.CreateDraft(ctx, repo, "npm", "", "left-pad", "1.0.0")
	require.NoError(t, err)
	require.Equal(t, packages.StateDraft, version.State)

	// creating the same coordinates again reuses the draft
	pkg2, version2, err := service.CreateDraft(ctx, repo, "npm", "", "left-pad", "1.0.0")
	require.NoError(t, err)
	require.Equal(t, pkg.ID, pkg2.ID)
	require.Equal(t, version.ID, version2.ID)

	// missing coordinates are rejected
	_, _, err = service.CreateDraft(ctx, repo, "", "", "left-pad", "1.0.0")
	require.True(t, packages.ErrInvalidRequest.Has(err))
	_, _, err = service.CreateDraft(ctx, repo, "npm", "", "", "1.0.0")
	require.True(t, packages.ErrInvalidRequest.Has(err))
	_, _, err = service.CreateDraft(ctx, repo, "npm", "", "left-pad", "")
	require.True(t, packages.ErrInvalidRequest.Has(err))

	// a published version on the same coordinates is a conflict
	full, _ := draftWithContent(t, ctx, db, service, repo)
	require.Equal(t, version.ID, full.ID)
	_, err = service.Publish(ctx, repo, version.ID, "robot")
	require.NoError(t, err)
	_, _, err = service.CreateDraft(ctx, repo, "npm", "", "left-pad", "1.0.0")
	require.True(t, packages.ErrConflict.Has(err))
}

func TestUpsertEntriesValidation(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, service, repo := newTestService(t)
	_, version, err := service.CreateDraft(ctx, repo, "npm", "", "left-pad", "1.0.0")
	require.NoError(t, err)
	digest := commitBlob(t, ctx, db, repo, 100)

	for _, tt := range []struct {
		name    string
		entries []packages.Entry
	}{
		{"empty", nil},
		{"missing path", []packages.Entry{{BlobDigest: digest, SizeBytes: 1}}},
		{"duplicate path", []packages.Entry{
			{RelativePath: "a", BlobDigest: digest, SizeBytes: 1},
			{RelativePath: "a", BlobDigest: digest, SizeBytes: 1},
		}},
		{"zero size", []packages.Entry{{RelativePath: "a", BlobDigest: digest, SizeBytes: 0}}},
		{"bad digest", []packages.Entry{{RelativePath: "a", BlobDigest: "xyz", SizeBytes: 1}}},
		{"bad sha1", []packages.Entry{{RelativePath: "a", BlobDigest: digest, SizeBytes: 1, ChecksumSHA1: "short"}}},
		{"bad sha256", []packages.Entry{{RelativePath: "a", BlobDigest: digest, SizeBytes: 1, ChecksumSHA2: "short"}}},
	} {
		err := service.UpsertEntries(ctx, repo, version.ID, tt.entries)
		require.True(t, packages.ErrInvalidRequest.Has(err), tt.name)
	}
}

func TestUpsertEntriesDigestReachability(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, service, repo := newTestService(t)
	_, version, err := service.CreateDraft(ctx, repo, "npm", "", "left-pad", "1.0.0")
	require.NoError(t, err)

	// a digest with no blob row at all
	missing := testrand.Digest()
	err = service.UpsertEntries(ctx, repo, version.ID, []packages.Entry{
		{RelativePath: "a", BlobDigest: missing, SizeBytes: 1},
	})
	require.True(t, packages.ErrConflict.Has(err))
	var digestErr *packages.DigestError
	require.ErrorAs(t, err, &digestErr)
	require.Equal(t, missing, digestErr.Digest)
	require.True(t, digestErr.Missing)

	// a blob committed in another repository does not count
	other := repos.Repository{ID: testrand.UUID(), TenantID: repo.TenantID, Key: "other"}
	foreign := commitBlob(t, ctx, db, other, 64)
	err = service.UpsertEntries(ctx, repo, version.ID, []packages.Entry{
		{RelativePath: "a", BlobDigest: foreign, SizeBytes: 64},
	})
	require.True(t, packages.ErrConflict.Has(err))
	require.ErrorAs(t, err, &digestErr)
	require.False(t, digestErr.Missing)
}

func TestUpsertManifestValidation(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, service, repo := newTestService(t)
	_, version, err := service.CreateDraft(ctx, repo, "maven", "org.example", "core", "2.1.0")
	require.NoError(t, err)

	err = service.UpsertManifest(ctx, repo, version.ID, "maven", packages.Manifest{})
	require.True(t, packages.ErrInvalidRequest.Has(err))

	// maven needs groupId, artifactId and version as non-empty strings
	err = service.UpsertManifest(ctx, repo, version.ID, "maven", packages.Manifest{
		Document: map[string]interface{}{"groupId": "org.example", "artifactId": "core"},
	})
	require.True(t, packages.ErrInvalidRequest.Has(err))

	err = service.UpsertManifest(ctx, repo, version.ID, "maven", packages.Manifest{
		Document: map[string]interface{}{"groupId": "org.example", "artifactId": "core", "version": 2},
	})
	require.True(t, packages.ErrInvalidRequest.Has(err))

	err = service.UpsertManifest(ctx, repo, version.ID, "maven", packages.Manifest{
		Document: map[string]interface{}{"groupId": "org.example", "artifactId": "core", "version": "2.1.0"},
	})
	require.NoError(t, err)

	// unknown types are unconstrained
	err = service.UpsertManifest(ctx, repo, version.ID, "generic", packages.Manifest{
		Document: map[string]interface{}{},
	})
	require.NoError(t, err)

	err = service.UpsertManifest(ctx, repo, version.ID, "generic", packages.Manifest{
		Document:   map[string]interface{}{},
		BlobDigest: "not-hex",
	})
	require.True(t, packages.ErrInvalidRequest.Has(err))
}

func TestPublish(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, service, repo := newTestService(t)
	version, _ := draftWithContent(t, ctx, db, service, repo)

	result, err := service.Publish(ctx, repo, version.ID, "robot")
	require.NoError(t, err)
	require.False(t, result.Idempotent)
	require.True(t, result.EventEmitted)
	require.Equal(t, packages.StatePublished, result.Version.State)
	require.NotNil(t, result.Version.PublishedAt)
	require.Equal(t, 1, db.OutboxCount())

	firstPublished := *result.Version.PublishedAt

	// republish is idempotent and emits nothing
	result, err = service.Publish(ctx, repo, version.ID, "robot")
	require.NoError(t, err)
	require.True(t, result.Idempotent)
	require.False(t, result.EventEmitted)
	require.Equal(t, firstPublished, *result.Version.PublishedAt)
	require.Equal(t, 1, db.OutboxCount())

	// published versions refuse entry and manifest changes
	digest := commitBlob(t, ctx, db, repo, 10)
	err = service.UpsertEntries(ctx, repo, version.ID, []packages.Entry{
		{RelativePath: "late", BlobDigest: digest, SizeBytes: 10},
	})
	require.True(t, packages.ErrConflict.Has(err))
	err = service.UpsertManifest(ctx, repo, version.ID, "npm", packages.Manifest{
		Document: map[string]interface{}{"name": "left-pad", "version": "1.0.0"},
	})
	require.True(t, packages.ErrConflict.Has(err))
}

func TestPublishRequiresContent(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, service, repo := newTestService(t)

	// no entries, no manifest
	_, version, err := service.CreateDraft(ctx, repo, "npm", "", "left-pad", "1.0.0")
	require.NoError(t, err)
	_, err = service.Publish(ctx, repo, version.ID, "robot")
	require.True(t, packages.ErrConflict.Has(err))

	// entries but no manifest
	digest := commitBlob(t, ctx, db, repo, 100)
	err = service.UpsertEntries(ctx, repo, version.ID, []packages.Entry{
		{RelativePath: "a", BlobDigest: digest, SizeBytes: 100},
	})
	require.NoError(t, err)
	_, err = service.Publish(ctx, repo, version.ID, "robot")
	require.True(t, packages.ErrConflict.Has(err))

	// unknown version
	_, err = service.Publish(ctx, repo, testrand.UUID(), "robot")
	require.True(t, packages.ErrNotFound.Has(err))
}

func TestTombstone(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, service, repo := newTestService(t)
	version, _ := draftWithContent(t, ctx, db, service, repo)
	_, err := service.Publish(ctx, repo, version.ID, "robot")
	require.NoError(t, err)

	before := time.Now().UTC()
	result, err := service.Tombstone(ctx, repo, version.ID, "license violation", 7, "admin")
	require.NoError(t, err)
	require.False(t, result.Idempotent)
	require.Equal(t, packages.StateTombstoned, result.Version.State)
	require.Equal(t, "license violation", result.Version.TombstoneReason)
	require.NotNil(t, result.Version.TombstonedAt)
	require.False(t, result.Version.TombstonedAt.Before(before))

	// tombstoning again is idempotent and keeps the original reason
	result, err = service.Tombstone(ctx, repo, version.ID, "other reason", 99, "admin")
	require.NoError(t, err)
	require.True(t, result.Idempotent)
	require.Equal(t, "license violation", result.Version.TombstoneReason)

	// tombstoned is absorbing: publish refuses
	_, err = service.Publish(ctx, repo, version.ID, "robot")
	require.True(t, packages.ErrConflict.Has(err))
}

func TestTombstoneHiddenFromListing(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, service, repo := newTestService(t)
	version, _ := draftWithContent(t, ctx, db, service, repo)
	_, err := service.Tombstone(ctx, repo, version.ID, "", 0, "admin")
	require.NoError(t, err)

	versions, err := service.ListVersions(ctx, repo, "npm", "", "left-pad", false)
	require.NoError(t, err)
	require.Empty(t, versions)

	versions, err = service.ListVersions(ctx, repo, "npm", "", "left-pad", true)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.Equal(t, packages.StateTombstoned, versions[0].State)
	// the default reason applies when none was given
	require.Equal(t, "deleted", versions[0].TombstoneReason)
}
