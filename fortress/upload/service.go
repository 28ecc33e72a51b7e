// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"artifortress.io/artifortress/fortress/blobs"
	"artifortress.io/artifortress/fortress/objectstore"
	"artifortress.io/artifortress/fortress/repos"
)

// Config holds the upload engine settings.
type Config struct {
	SessionTTL time.Duration `help:"how long an upload session stays actionable" default:"1h"`
	PresignTTL time.Duration `help:"default lifetime of presigned part urls" default:"15m"`
}

// Presign TTL bounds. Requests outside the window are clamped rather than
// rejected.
const (
	MinPresignTTL = time.Minute
	MaxPresignTTL = time.Hour
)

// hashBufferSize is the read buffer used while re-hashing staged bytes.
const hashBufferSize = 64 * 1024

// Service drives the upload session state machine, coordinating the
// metadata store with the multipart object store session.
type Service struct {
	log    *zap.Logger
	db     DB
	blobs  blobs.DB
	store  objectstore.Store
	config Config
}

// NewService creates an upload service.
func NewService(log *zap.Logger, db DB, blobDB blobs.DB, store objectstore.Store, config Config) *Service {
	if config.SessionTTL <= 0 {
		config.SessionTTL = time.Hour
	}
	if config.PresignTTL <= 0 {
		config.PresignTTL = 15 * time.Minute
	}
	return &Service{
		log:    log,
		db:     db,
		blobs:  blobDB,
		store:  store,
		config: config,
	}
}

// Create opens a new upload session for the expected digest and length.
//
// When the blob already exists with the same length no object store session
// is started: a synthetic session is inserted directly in committed state
// and deduped is true. An existing blob with a different length is a
// conflict, since a digest has exactly one length.
func (service *Service) Create(ctx context.Context, repo repos.Repository, expectedDigest string, expectedLength int64) (_ Session, deduped bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if !blobs.ValidDigest(expectedDigest) {
		return Session{}, false, ErrInvalidRequest.New("digest must be 64 lowercase hex characters")
	}
	if expectedLength <= 0 {
		return Session{}, false, ErrInvalidRequest.New("length must be positive")
	}

	now := time.Now().UTC()
	session := Session{
		ID:             uuid.New(),
		TenantID:       repo.TenantID,
		RepoID:         repo.ID,
		ExpectedDigest: expectedDigest,
		ExpectedLength: expectedLength,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(service.config.SessionTTL),
	}

	existing, err := service.blobs.Get(ctx, expectedDigest)
	switch {
	case err == nil:
		if existing.Length != expectedLength {
			return Session{}, false, ErrConflict.New("digest %s already exists with length %d", expectedDigest, existing.Length)
		}
		session.State = StateCommitted
		session.CommittedDigest = expectedDigest
		session.CommittedAt = &now
		if err := service.db.Create(ctx, session); err != nil {
			return Session{}, false, Error.Wrap(err)
		}
		mon.Meter("upload_deduped").Mark(1)
		return session, true, nil
	case blobs.ErrNotFound.Has(err):
	default:
		return Session{}, false, Error.Wrap(err)
	}

	session.State = StateInitiated
	session.StagingKey = StagingKey(repo.TenantID, repo.Key, session.ID)

	storageUploadID, err := service.store.StartMultipart(ctx, session.StagingKey)
	if err != nil {
		return Session{}, false, err
	}
	session.StorageUploadID = storageUploadID

	if err := service.db.Create(ctx, session); err != nil {
		// best effort: release the multipart session we just opened.
		if abortErr := service.store.AbortMultipart(ctx, session.StagingKey, storageUploadID); abortErr != nil && !objectstore.ErrNotFound.Has(abortErr) {
			service.log.Warn("failed to abort multipart upload after create rollback",
				zap.String("stagingKey", session.StagingKey), zap.Error(abortErr))
		}
		return Session{}, false, Error.Wrap(err)
	}

	mon.Meter("upload_created").Mark(1)
	return session, false, nil
}

// Get fetches a session scoped to the repository.
func (service *Service) Get(ctx context.Context, repo repos.Repository, uploadID uuid.UUID) (_ Session, err error) {
	defer mon.Task()(&ctx)(&err)
	return service.db.Get(ctx, repo.TenantID, repo.ID, uploadID)
}

// PresignPart returns a URL that uploads one part of the staged object. The
// first successful presign moves the session from initiated to
// parts_uploading.
func (service *Service) PresignPart(ctx context.Context, repo repos.Repository, uploadID uuid.UUID, partNumber int, expiry time.Duration) (_ *url.URL, _ Session, err error) {
	defer mon.Task()(&ctx)(&err)

	if partNumber < 1 {
		return nil, Session{}, ErrInvalidRequest.New("part number %d out of range", partNumber)
	}

	session, err := service.db.Get(ctx, repo.TenantID, repo.ID, uploadID)
	if err != nil {
		return nil, Session{}, err
	}

	now := time.Now().UTC()
	if session.Expired(now) {
		return nil, Session{}, ErrConflict.New("upload session expired")
	}
	if session.State != StateInitiated && session.State != StatePartsUploading {
		return nil, Session{}, ErrConflict.New("cannot presign in state %q", session.State)
	}

	if expiry <= 0 {
		expiry = service.config.PresignTTL
	}
	if expiry < MinPresignTTL {
		expiry = MinPresignTTL
	}
	if expiry > MaxPresignTTL {
		expiry = MaxPresignTTL
	}

	signed, err := service.store.PresignPart(ctx, session.StagingKey, session.StorageUploadID, partNumber, expiry)
	if err != nil {
		return nil, Session{}, err
	}

	if session.State == StateInitiated {
		ok, err := service.db.SetPartsUploading(ctx, session.ID, now)
		if err != nil {
			return nil, Session{}, Error.Wrap(err)
		}
		if !ok {
			// lost the race; only parts_uploading is acceptable now.
			session, err = service.db.Get(ctx, repo.TenantID, repo.ID, uploadID)
			if err != nil {
				return nil, Session{}, err
			}
			if session.State != StatePartsUploading {
				return nil, Session{}, ErrConflict.New("session state changed; retry")
			}
			return signed, session, nil
		}
	}
	session.State = StatePartsUploading
	session.UpdatedAt = now
	return signed, session, nil
}

// Complete assembles the uploaded parts and moves the session to
// pending_commit. Completing a session already pending commit is a no-op.
func (service *Service) Complete(ctx context.Context, repo repos.Repository, uploadID uuid.UUID, parts []objectstore.Part) (_ Session, err error) {
	defer mon.Task()(&ctx)(&err)

	session, err := service.db.Get(ctx, repo.TenantID, repo.ID, uploadID)
	if err != nil {
		return Session{}, err
	}

	now := time.Now().UTC()
	if session.Expired(now) {
		return Session{}, ErrConflict.New("upload session expired")
	}

	switch session.State {
	case StatePendingCommit:
		return session, nil
	case StateInitiated:
		return Session{}, ErrConflict.New("no parts uploaded yet")
	case StatePartsUploading:
	default:
		return Session{}, ErrConflict.New("cannot complete in state %q", session.State)
	}

	validated, err := objectstore.ValidatePartList(parts)
	if err != nil {
		return Session{}, err
	}

	if _, err := service.store.CompleteMultipart(ctx, session.StagingKey, session.StorageUploadID, validated); err != nil {
		return Session{}, err
	}

	ok, err := service.db.SetPendingCommit(ctx, session.ID, now)
	if err != nil {
		return Session{}, Error.Wrap(err)
	}
	if !ok {
		session, err = service.db.Get(ctx, repo.TenantID, repo.ID, uploadID)
		if err != nil {
			return Session{}, err
		}
		if session.State != StatePendingCommit {
			return Session{}, ErrConflict.New("session state changed; retry")
		}
		return session, nil
	}

	session.State = StatePendingCommit
	session.UpdatedAt = now
	return session, nil
}

// Abort releases the staged multipart upload and marks the session aborted.
// Aborting an already aborted session returns the session with its original
// reason and touches nothing.
func (service *Service) Abort(ctx context.Context, repo repos.Repository, uploadID uuid.UUID, reason string) (_ Session, err error) {
	defer mon.Task()(&ctx)(&err)

	session, err := service.db.Get(ctx, repo.TenantID, repo.ID, uploadID)
	if err != nil {
		return Session{}, err
	}

	if session.State == StateAborted {
		return session, nil
	}
	if session.State == StateCommitted {
		return Session{}, ErrConflict.New("cannot abort a committed session")
	}

	if reason == "" {
		reason = ReasonClientAbort
	}

	if session.StorageUploadID != "" {
		err := service.store.AbortMultipart(ctx, session.StagingKey, session.StorageUploadID)
		if err != nil && !objectstore.ErrNotFound.Has(err) {
			return Session{}, err
		}
	}

	now := time.Now().UTC()
	ok, err := service.db.SetAborted(ctx, session.ID, reason, now)
	if err != nil {
		return Session{}, Error.Wrap(err)
	}
	if !ok {
		session, err = service.db.Get(ctx, repo.TenantID, repo.ID, uploadID)
		if err != nil {
			return Session{}, err
		}
		if session.State != StateAborted {
			return Session{}, ErrConflict.New("session state changed; retry")
		}
		return session, nil
	}

	mon.Meter("upload_aborted").Mark(1)
	session.State = StateAborted
	session.AbortedReason = reason
	session.AbortedAt = &now
	session.UpdatedAt = now
	return session, nil
}

// Commit verifies the staged object against the session's expected digest
// and length, and on success records the blob and flips the session to
// committed in one transaction. Verification failure aborts the session and
// returns a VerificationError. Committing a committed session is a no-op.
func (service *Service) Commit(ctx context.Context, repo repos.Repository, uploadID uuid.UUID) (_ Session, err error) {
	defer mon.Task()(&ctx)(&err)

	session, err := service.db.Get(ctx, repo.TenantID, repo.ID, uploadID)
	if err != nil {
		return Session{}, err
	}

	now := time.Now().UTC()
	if session.State == StateCommitted {
		return session, nil
	}
	if session.Expired(now) {
		return Session{}, ErrConflict.New("upload session expired")
	}
	if session.State != StatePendingCommit {
		return Session{}, ErrConflict.New("cannot commit in state %q", session.State)
	}

	actualDigest, actualLength, etag, err := service.verifyStaged(ctx, session)
	if err != nil {
		return Session{}, err
	}

	if actualDigest != session.ExpectedDigest || actualLength != session.ExpectedLength {
		// the digest classification wins when both disagree.
		reason := ReasonLengthMismatch
		if actualDigest != session.ExpectedDigest {
			reason = ReasonDigestMismatch
		}
		if ok, err := service.db.SetAborted(ctx, session.ID, reason, now); err != nil {
			return Session{}, Error.Wrap(err)
		} else if !ok {
			service.log.Warn("verification failed but session left pending_commit",
				zap.Stringer("uploadID", session.ID))
		}
		mon.Meter("upload_verification_failed").Mark(1)
		return Session{}, &VerificationError{
			Reason:         reason,
			ExpectedDigest: session.ExpectedDigest,
			ActualDigest:   actualDigest,
			ExpectedLength: session.ExpectedLength,
			ActualLength:   actualLength,
		}
	}

	blob := blobs.Blob{
		Digest:     session.ExpectedDigest,
		Length:     session.ExpectedLength,
		StorageKey: session.StagingKey,
		ETag:       etag,
		CreatedAt:  now,
	}
	ok, err := service.db.Commit(ctx, blob, session.ID, now)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		session, err = service.db.Get(ctx, repo.TenantID, repo.ID, uploadID)
		if err != nil {
			return Session{}, err
		}
		if session.State != StateCommitted {
			return Session{}, ErrConflict.New("session state changed; retry")
		}
		return session, nil
	}

	mon.Meter("upload_committed").Mark(1)
	service.log.Info("upload committed",
		zap.Stringer("uploadID", session.ID),
		zap.String("digest", session.ExpectedDigest),
		zap.Int64("length", session.ExpectedLength))

	session.State = StateCommitted
	session.CommittedDigest = session.ExpectedDigest
	session.CommittedAt = &now
	session.UpdatedAt = now
	return session, nil
}

// verifyStaged streams the staged object back and recomputes its sha-256
// and length. The body is always closed before metadata is touched.
func (service *Service) verifyStaged(ctx context.Context, session Session) (digest string, length int64, etag string, err error) {
	defer mon.Task()(&ctx)(&err)

	object, err := service.store.Download(ctx, session.StagingKey, nil)
	if err != nil {
		return "", 0, "", err
	}
	defer func() { err = errs.Combine(err, object.Body.Close()) }()

	hasher := sha256.New()
	buffer := make([]byte, hashBufferSize)
	for {
		n, readErr := object.Body.Read(buffer)
		if n > 0 {
			length += int64(n)
			_, _ = hasher.Write(buffer[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", 0, "", Error.Wrap(readErr)
		}
	}
	return hex.EncodeToString(hasher.Sum(nil)), length, object.ETag, nil
}
