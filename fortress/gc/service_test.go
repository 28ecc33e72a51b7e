// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package gc_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"

	"artifortress.io/artifortress/fortress/audit"
	"artifortress.io/artifortress/fortress/blobs"
	"artifortress.io/artifortress/fortress/fortressdb/testdb"
	"artifortress.io/artifortress/fortress/gc"
	"artifortress.io/artifortress/fortress/objectstore/teststore"
	"artifortress.io/artifortress/fortress/packages"
	"artifortress.io/artifortress/fortress/upload"
	"artifortress.io/artifortress/internal/testcontext"
	"artifortress.io/artifortress/internal/testrand"
)

func newTestService(t *testing.T) (*testdb.DB, *teststore.Store, *gc.Service, uuid.UUID) {
	db := testdb.New()
	store := teststore.New()
	log := zaptest.NewLogger(t)
	tenantID := testrand.UUID()
	auditLog := audit.NewLog(log.Named("audit"), db.Audit(), tenantID)
	service := gc.NewService(log, db.GC(), store, auditLog, tenantID, gc.Config{
		Grace:     time.Hour,
		BatchSize: 10,
	})
	return db, store, service, tenantID
}

// seedOrphan inserts a blob row plus its object, referenced by nothing,
// aged past the grace window.
func seedOrphan(t *testing.T, ctx *testcontext.Context, db *testdb.DB, store *teststore.Store, age time.Duration) (digest, key string) {
	digest = testrand.Digest()
	key = "staging/" + digest
	store.PutObject(key, testrand.BytesN(64))
	require.NoError(t, db.Blobs().Upsert(ctx, blobs.Blob{
		Digest:     digest,
		Length:     64,
		StorageKey: key,
		CreatedAt:  time.Now().UTC(),
	}))
	db.SetBlobCreatedAt(digest, time.Now().UTC().Add(-age))
	return digest, key
}

// seedVersion creates a draft version holding one artifact entry whose blob
// is committed in the repo, returning the version and the entry digest.
func seedVersion(t *testing.T, ctx *testcontext.Context, db *testdb.DB, tenantID uuid.UUID) (packages.Version, string) {
	repoID := testrand.UUID()
	version, _, err := db.Packages().CreateDraft(ctx, packages.Version{
		ID:        testrand.UUID(),
		RepoID:    repoID,
		PackageID: testrand.UUID(),
		Version:   "1.0.0",
		State:     packages.StateDraft,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	digest := testrand.Digest()
	now := time.Now().UTC()
	require.NoError(t, db.Blobs().Upsert(ctx, blobs.Blob{
		Digest:     digest,
		Length:     64,
		StorageKey: "staging/" + digest,
		CreatedAt:  now,
	}))
	require.NoError(t, db.Uploads().Create(ctx, upload.Session{
		ID:              testrand.UUID(),
		TenantID:        tenantID,
		RepoID:          repoID,
		ExpectedDigest:  digest,
		ExpectedLength:  64,
		State:           upload.StateCommitted,
		CommittedDigest: digest,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(time.Hour),
	}))
	require.NoError(t, db.Packages().UpsertEntries(ctx, repoID, version.ID, []packages.Entry{{
		RelativePath: "lib.jar",
		BlobDigest:   digest,
		SizeBytes:    64,
	}}))
	db.SetBlobCreatedAt(digest, now.Add(-48*time.Hour))
	return version, digest
}

func TestRunOnceDryRun(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, store, service, _ := newTestService(t)

	_, referenced := seedVersion(t, ctx, db, testrand.UUID())
	_, orphanKey := seedOrphan(t, ctx, db, store, 2*time.Hour)

	run, err := service.RunOnce(ctx, gc.Params{Mode: gc.ModeDryRun})
	require.NoError(t, err)
	require.Equal(t, gc.ModeDryRun, run.Mode)
	require.Equal(t, int64(1), run.MarkedCount)
	require.Equal(t, int64(1), run.CandidateBlobCount)
	require.Zero(t, run.DeletedBlobCount)
	require.False(t, run.Failed)
	require.NotNil(t, run.CompletedAt)

	// nothing was touched
	require.Equal(t, 2, db.BlobCount())
	require.True(t, store.Exists(orphanKey))
	_, err = db.Blobs().Get(ctx, referenced)
	require.NoError(t, err)
}

func TestRunOnceExecute(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, store, service, tenantID := newTestService(t)

	_, referenced := seedVersion(t, ctx, db, testrand.UUID())
	orphanDigest, orphanKey := seedOrphan(t, ctx, db, store, 2*time.Hour)

	run, err := service.RunOnce(ctx, gc.Params{Mode: gc.ModeExecute})
	require.NoError(t, err)
	require.Equal(t, int64(1), run.CandidateBlobCount)
	require.Equal(t, int64(1), run.DeletedBlobCount)
	require.Zero(t, run.DeleteErrorCount)

	require.False(t, store.Exists(orphanKey))
	_, err = db.Blobs().Get(ctx, orphanDigest)
	require.Error(t, err)
	_, err = db.Blobs().Get(ctx, referenced)
	require.NoError(t, err)

	runs, err := service.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, run.ID, runs[0].ID)

	// the pass leaves an audit record
	count, err := db.Audit().CountSince(ctx, tenantID, audit.ActionGCRun, time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestRunOnceGraceWindow(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, store, service, _ := newTestService(t)

	// young orphans survive the configured window
	_, orphanKey := seedOrphan(t, ctx, db, store, 10*time.Minute)

	run, err := service.RunOnce(ctx, gc.Params{Mode: gc.ModeExecute})
	require.NoError(t, err)
	require.Zero(t, run.CandidateBlobCount)
	require.True(t, store.Exists(orphanKey))

	// an explicit zero grace collects them
	run, err = service.RunOnce(ctx, gc.Params{Mode: gc.ModeExecute, Grace: 0, GraceSet: true})
	require.NoError(t, err)
	require.Equal(t, int64(1), run.DeletedBlobCount)
	require.False(t, store.Exists(orphanKey))
}

func TestRunOnceTombstoneRetention(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, store, service, tenantID := newTestService(t)

	version, digest := seedVersion(t, ctx, db, tenantID)
	store.PutObject("staging/"+digest, testrand.BytesN(64))

	_, err := db.Packages().Tombstone(ctx, packages.TombstoneParams{
		TenantID:       tenantID,
		RepoID:         version.RepoID,
		VersionID:      version.ID,
		Reason:         "superseded",
		RetentionUntil: time.Now().UTC().Add(24 * time.Hour),
		Actor:          "admin",
		Now:            time.Now().UTC(),
	})
	require.NoError(t, err)

	// within retention the version and its blob are protected
	run, err := service.RunOnce(ctx, gc.Params{Mode: gc.ModeExecute})
	require.NoError(t, err)
	require.Equal(t, int64(1), run.MarkedCount)
	require.Zero(t, run.DeletedVersionCount)
	require.Zero(t, run.DeletedBlobCount)

	// elapsed retention purges the version rows
	db.SetTombstoneRetention(version.ID, time.Now().UTC().Add(-time.Minute))
	run, err = service.RunOnce(ctx, gc.Params{Mode: gc.ModeExecute})
	require.NoError(t, err)
	require.Equal(t, int64(1), run.DeletedVersionCount)
	require.Zero(t, run.MarkedCount)

	// with the version gone, the next pass reclaims the blob
	run, err = service.RunOnce(ctx, gc.Params{Mode: gc.ModeExecute})
	require.NoError(t, err)
	require.Equal(t, int64(1), run.DeletedBlobCount)
	require.False(t, store.Exists("staging/"+digest))
	require.Zero(t, db.BlobCount())
}

func TestRunOnceDeleteErrors(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, store, service, _ := newTestService(t)

	orphanDigest, orphanKey := seedOrphan(t, ctx, db, store, 2*time.Hour)

	store.FailWith(errs.New("object store down"))
	run, err := service.RunOnce(ctx, gc.Params{Mode: gc.ModeExecute})
	require.NoError(t, err)
	require.Equal(t, int64(1), run.CandidateBlobCount)
	require.Equal(t, int64(1), run.DeleteErrorCount)
	require.Zero(t, run.DeletedBlobCount)

	// the metadata row stays until the bytes are confirmed gone
	_, err = db.Blobs().Get(ctx, orphanDigest)
	require.NoError(t, err)

	store.FailWith(nil)
	run, err = service.RunOnce(ctx, gc.Params{Mode: gc.ModeExecute})
	require.NoError(t, err)
	require.Equal(t, int64(1), run.DeletedBlobCount)
	require.False(t, store.Exists(orphanKey))
}

func TestRunOnceBatchSize(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, store, service, _ := newTestService(t)

	for i := 0; i < 3; i++ {
		seedOrphan(t, ctx, db, store, time.Duration(2+i)*time.Hour)
	}

	run, err := service.RunOnce(ctx, gc.Params{Mode: gc.ModeExecute, BatchSize: 2})
	require.NoError(t, err)
	require.Equal(t, int64(2), run.CandidateBlobCount)
	require.Equal(t, int64(2), run.DeletedBlobCount)
	require.Equal(t, 1, db.BlobCount())

	run, err = service.RunOnce(ctx, gc.Params{Mode: gc.ModeExecute, BatchSize: 2})
	require.NoError(t, err)
	require.Equal(t, int64(1), run.DeletedBlobCount)
	require.Zero(t, db.BlobCount())
}

func TestRunOnceParamBounds(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, _, service, _ := newTestService(t)

	_, err := service.RunOnce(ctx, gc.Params{Mode: "purge"})
	require.True(t, gc.ErrInvalidRequest.Has(err))

	_, err = service.RunOnce(ctx, gc.Params{Grace: gc.MaxGrace + time.Hour, GraceSet: true})
	require.True(t, gc.ErrInvalidRequest.Has(err))

	_, err = service.RunOnce(ctx, gc.Params{Grace: -time.Hour, GraceSet: true})
	require.True(t, gc.ErrInvalidRequest.Has(err))

	_, err = service.RunOnce(ctx, gc.Params{BatchSize: -1})
	require.True(t, gc.ErrInvalidRequest.Has(err))

	_, err = service.RunOnce(ctx, gc.Params{BatchSize: gc.MaxBatchSize + 1})
	require.True(t, gc.ErrInvalidRequest.Has(err))

	// an empty mode means dry_run
	run, err := service.RunOnce(ctx, gc.Params{})
	require.NoError(t, err)
	require.Equal(t, gc.ModeDryRun, run.Mode)
}
