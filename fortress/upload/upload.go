// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package upload drives the multi-stage resumable upload protocol that
// turns client bytes into committed, content-addressed blobs.
package upload

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"artifortress.io/artifortress/fortress/blobs"
)

var (
	// Error is the default error class for the upload package.
	Error = errs.Class("upload")

	// ErrInvalidRequest means the request was malformed.
	ErrInvalidRequest = errs.Class("upload: invalid request")

	// ErrNotFound means the session does not exist in this repository.
	ErrNotFound = errs.Class("upload: not found")

	// ErrConflict means a state machine guard failed, the session
	// expired, or a digest exists with a different length.
	ErrConflict = errs.Class("upload: conflict")
)

var mon = monkit.Package()

// State is the upload session state.
type State string

// Upload session states. Committed and aborted are absorbing.
const (
	StateInitiated      State = "initiated"
	StatePartsUploading State = "parts_uploading"
	StatePendingCommit  State = "pending_commit"
	StateCommitted      State = "committed"
	StateAborted        State = "aborted"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAborted
}

// Abort reasons recorded on the session.
const (
	ReasonClientAbort    = "client_abort"
	ReasonDigestMismatch = "digest_mismatch"
	ReasonLengthMismatch = "length_mismatch"
)

// Session is one upload session row.
type Session struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	RepoID          uuid.UUID
	ExpectedDigest  string
	ExpectedLength  int64
	State           State
	StagingKey      string
	StorageUploadID string
	CommittedDigest string
	AbortedReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
	CommittedAt     *time.Time
	AbortedAt       *time.Time
}

// Expired reports whether the session has passed its deadline.
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// DB is the metadata store surface for upload sessions. The conditional
// setters return false when the session was not in the expected state, so
// races surface as retryable conflicts rather than lost updates.
type DB interface {
	// Create inserts a new session row.
	Create(ctx context.Context, session Session) error
	// Get fetches a session scoped to tenant and repository.
	Get(ctx context.Context, tenantID, repoID, uploadID uuid.UUID) (Session, error)

	// SetPartsUploading transitions initiated -> parts_uploading.
	SetPartsUploading(ctx context.Context, uploadID uuid.UUID, now time.Time) (bool, error)
	// SetPendingCommit transitions parts_uploading -> pending_commit.
	SetPendingCommit(ctx context.Context, uploadID uuid.UUID, now time.Time) (bool, error)
	// SetAborted transitions any non-terminal state -> aborted.
	SetAborted(ctx context.Context, uploadID uuid.UUID, reason string, now time.Time) (bool, error)
	// Commit upserts the blob and transitions pending_commit -> committed
	// in a single transaction, stamping committed_blob_digest and
	// committed_at. A length disagreement on the blob row fails the whole
	// transaction with blobs.ErrConflictingLength.
	Commit(ctx context.Context, blob blobs.Blob, uploadID uuid.UUID, now time.Time) (bool, error)
}

// VerificationError reports a digest or length disagreement between the
// staged bytes and the session's expectations.
type VerificationError struct {
	Reason         string
	ExpectedDigest string
	ActualDigest   string
	ExpectedLength int64
	ActualLength   int64
}

// Error implements error.
func (e *VerificationError) Error() string {
	return fmt.Sprintf("upload verification failed (%s): digest %s/%s length %d/%d",
		e.Reason, e.ExpectedDigest, e.ActualDigest, e.ExpectedLength, e.ActualLength)
}

// StagingKey builds the object key for a session's staged bytes. Committed
// blobs keep this key.
func StagingKey(tenantID uuid.UUID, repoKey string, uploadID uuid.UUID) string {
	return "staging/" + hex.EncodeToString(tenantID[:]) + "/" + repoKey + "/" + hex.EncodeToString(uploadID[:])
}
