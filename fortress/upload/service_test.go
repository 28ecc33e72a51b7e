// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package upload_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"artifortress.io/artifortress/fortress/blobs"
	"artifortress.io/artifortress/fortress/fortressdb/testdb"
	"artifortress.io/artifortress/fortress/objectstore"
	"artifortress.io/artifortress/fortress/objectstore/teststore"
	"artifortress.io/artifortress/fortress/repos"
	"artifortress.io/artifortress/fortress/upload"
	"artifortress.io/artifortress/internal/testcontext"
	"artifortress.io/artifortress/internal/testrand"
)

func newTestService(t *testing.T) (*testdb.DB, *teststore.Store, *upload.Service, repos.Repository) {
	db := testdb.New()
	store := teststore.New()
	service := upload.NewService(zaptest.NewLogger(t), db.Uploads(), db.Blobs(), store, upload.Config{})
	repo := repos.Repository{
		ID:       testrand.UUID(),
		TenantID: testrand.UUID(),
		Key:      "libs-release",
		Type:     repos.TypeLocal,
	}
	return db, store, service, repo
}

func uploadAll(t *testing.T, store *teststore.Store, session upload.Session, data []byte) []objectstore.Part {
	etag, err := store.UploadPart(session.StorageUploadID, 1, data)
	require.NoError(t, err)
	return []objectstore.Part{{Number: 1, ETag: etag}}
}

func TestUploadLifecycle(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, store, service, repo := newTestService(t)

	data := testrand.BytesN(1024)
	digest := testrand.DigestOf(data)

	session, deduped, err := service.Create(ctx, repo, digest, int64(len(data)))
	require.NoError(t, err)
	require.False(t, deduped)
	require.Equal(t, upload.StateInitiated, session.State)
	require.Equal(t, 1, store.PendingUploads())

	// completing before any part is presigned is a conflict
	_, err = service.Complete(ctx, repo, session.ID, nil)
	require.True(t, upload.ErrConflict.Has(err))

	signed, session, err := service.PresignPart(ctx, repo, session.ID, 1, 0)
	require.NoError(t, err)
	require.NotNil(t, signed)
	require.Equal(t, upload.StatePartsUploading, session.State)

	// a second presign stays in parts_uploading
	_, session, err = service.PresignPart(ctx, repo, session.ID, 2, 0)
	require.NoError(t, err)
	require.Equal(t, upload.StatePartsUploading, session.State)

	parts := uploadAll(t, store, session, data)
	session, err = service.Complete(ctx, repo, session.ID, parts)
	require.NoError(t, err)
	require.Equal(t, upload.StatePendingCommit, session.State)

	// completing again is a no-op
	session, err = service.Complete(ctx, repo, session.ID, nil)
	require.NoError(t, err)
	require.Equal(t, upload.StatePendingCommit, session.State)

	session, err = service.Commit(ctx, repo, session.ID)
	require.NoError(t, err)
	require.Equal(t, upload.StateCommitted, session.State)
	require.Equal(t, digest, session.CommittedDigest)
	require.True(t, store.Exists(session.StagingKey))

	blob, err := db.Blobs().Get(ctx, digest)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), blob.Length)
	require.Equal(t, session.StagingKey, blob.StorageKey)

	// committing again is a no-op
	session, err = service.Commit(ctx, repo, session.ID)
	require.NoError(t, err)
	require.Equal(t, upload.StateCommitted, session.State)
}

func TestUploadCreateValidation(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, _, service, repo := newTestService(t)

	_, _, err := service.Create(ctx, repo, "not-a-digest", 10)
	require.True(t, upload.ErrInvalidRequest.Has(err))

	_, _, err = service.Create(ctx, repo, testrand.Digest(), 0)
	require.True(t, upload.ErrInvalidRequest.Has(err))

	_, _, err = service.Create(ctx, repo, testrand.Digest(), -3)
	require.True(t, upload.ErrInvalidRequest.Has(err))
}

func TestUploadDedupe(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, store, service, repo := newTestService(t)

	data := testrand.BytesN(256)
	digest := testrand.DigestOf(data)
	require.NoError(t, db.Blobs().Upsert(ctx, blobs.Blob{
		Digest:     digest,
		Length:     int64(len(data)),
		StorageKey: "staging/known",
		CreatedAt:  time.Now().UTC(),
	}))

	session, deduped, err := service.Create(ctx, repo, digest, int64(len(data)))
	require.NoError(t, err)
	require.True(t, deduped)
	require.Equal(t, upload.StateCommitted, session.State)
	require.Equal(t, digest, session.CommittedDigest)
	// no object store session was opened
	require.Equal(t, 0, store.PendingUploads())

	// the deduped session satisfies the committed-in-repo predicate
	committed, err := db.Blobs().CommittedInRepo(ctx, repo.ID, digest)
	require.NoError(t, err)
	require.True(t, committed)

	// same digest with a different length is a conflict
	_, _, err = service.Create(ctx, repo, digest, int64(len(data))+1)
	require.True(t, upload.ErrConflict.Has(err))
}

func TestUploadCommitDigestMismatch(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, store, service, repo := newTestService(t)

	data := testrand.BytesN(512)
	expected := testrand.Digest() // digest of different content

	session, _, err := service.Create(ctx, repo, expected, int64(len(data)))
	require.NoError(t, err)
	_, session, err = service.PresignPart(ctx, repo, session.ID, 1, 0)
	require.NoError(t, err)
	parts := uploadAll(t, store, session, data)
	_, err = service.Complete(ctx, repo, session.ID, parts)
	require.NoError(t, err)

	_, err = service.Commit(ctx, repo, session.ID)
	var verification *upload.VerificationError
	require.ErrorAs(t, err, &verification)
	require.Equal(t, upload.ReasonDigestMismatch, verification.Reason)
	require.Equal(t, expected, verification.ExpectedDigest)
	require.Equal(t, testrand.DigestOf(data), verification.ActualDigest)

	session, err = service.Get(ctx, repo, session.ID)
	require.NoError(t, err)
	require.Equal(t, upload.StateAborted, session.State)
	require.Equal(t, upload.ReasonDigestMismatch, session.AbortedReason)
}

func TestUploadCommitLengthMismatch(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, store, service, repo := newTestService(t)

	data := testrand.BytesN(512)
	digest := testrand.DigestOf(data)

	// the digest matches the bytes, only the declared length is wrong
	session, _, err := service.Create(ctx, repo, digest, int64(len(data))+7)
	require.NoError(t, err)
	_, session, err = service.PresignPart(ctx, repo, session.ID, 1, 0)
	require.NoError(t, err)
	parts := uploadAll(t, store, session, data)
	_, err = service.Complete(ctx, repo, session.ID, parts)
	require.NoError(t, err)

	_, err = service.Commit(ctx, repo, session.ID)
	var verification *upload.VerificationError
	require.ErrorAs(t, err, &verification)
	require.Equal(t, upload.ReasonLengthMismatch, verification.Reason)
	require.Equal(t, int64(len(data)), verification.ActualLength)
}

func TestUploadAbort(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, store, service, repo := newTestService(t)

	data := testrand.BytesN(64)
	session, _, err := service.Create(ctx, repo, testrand.DigestOf(data), int64(len(data)))
	require.NoError(t, err)

	session, err = service.Abort(ctx, repo, session.ID, "")
	require.NoError(t, err)
	require.Equal(t, upload.StateAborted, session.State)
	require.Equal(t, upload.ReasonClientAbort, session.AbortedReason)
	require.Equal(t, 0, store.PendingUploads())

	// aborting again keeps the original reason
	session, err = service.Abort(ctx, repo, session.ID, "changed my mind")
	require.NoError(t, err)
	require.Equal(t, upload.ReasonClientAbort, session.AbortedReason)

	// an aborted session cannot move forward
	_, _, err = service.PresignPart(ctx, repo, session.ID, 1, 0)
	require.True(t, upload.ErrConflict.Has(err))
	_, err = service.Commit(ctx, repo, session.ID)
	require.True(t, upload.ErrConflict.Has(err))
}

func TestUploadAbortCommitted(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, store, service, repo := newTestService(t)

	data := testrand.BytesN(64)
	session, _, err := service.Create(ctx, repo, testrand.DigestOf(data), int64(len(data)))
	require.NoError(t, err)
	_, session, err = service.PresignPart(ctx, repo, session.ID, 1, 0)
	require.NoError(t, err)
	parts := uploadAll(t, store, session, data)
	_, err = service.Complete(ctx, repo, session.ID, parts)
	require.NoError(t, err)
	_, err = service.Commit(ctx, repo, session.ID)
	require.NoError(t, err)

	_, err = service.Abort(ctx, repo, session.ID, "too late")
	require.True(t, upload.ErrConflict.Has(err))
}

func TestUploadSessionExpiry(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, _, service, repo := newTestService(t)

	data := testrand.BytesN(64)
	session, _, err := service.Create(ctx, repo, testrand.DigestOf(data), int64(len(data)))
	require.NoError(t, err)

	db.SetSessionExpiry(session.ID, time.Now().UTC().Add(-time.Minute))

	_, _, err = service.PresignPart(ctx, repo, session.ID, 1, 0)
	require.True(t, upload.ErrConflict.Has(err))
	_, err = service.Complete(ctx, repo, session.ID, nil)
	require.True(t, upload.ErrConflict.Has(err))

	// abort still works on an expired session, releasing the staged parts
	session, err = service.Abort(ctx, repo, session.ID, "")
	require.NoError(t, err)
	require.Equal(t, upload.StateAborted, session.State)
}
