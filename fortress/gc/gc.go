// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package gc reclaims blob bytes no live package version can reach, using
// mark-and-sweep over the blob graph with a retention grace window.
package gc

import (
	"context"
	"time"

	"github.com/google/uuid"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	// Error is the default error class for the gc package.
	Error = errs.Class("gc")

	// ErrInvalidRequest means the run parameters were out of bounds.
	ErrInvalidRequest = errs.Class("gc: invalid request")
)

var mon = monkit.Package()

// Mode selects whether a run deletes anything.
type Mode string

// Run modes.
const (
	ModeDryRun  Mode = "dry_run"
	ModeExecute Mode = "execute"
)

// ValidMode reports whether mode names a known run mode.
func ValidMode(mode Mode) bool {
	return mode == ModeDryRun || mode == ModeExecute
}

// Run is one collection pass and its counters.
type Run struct {
	ID                  uuid.UUID
	TenantID            uuid.UUID
	Mode                Mode
	MarkedCount         int64
	CandidateBlobCount  int64
	DeletedBlobCount    int64
	DeletedVersionCount int64
	DeleteErrorCount    int64
	Failed              bool
	StartedAt           time.Time
	CompletedAt         *time.Time
}

// Candidate is one blob eligible for deletion.
type Candidate struct {
	Digest     string
	StorageKey string
	CreatedAt  time.Time
}

// DB is the metadata store surface for garbage collection.
type DB interface {
	// CreateRun inserts the run row.
	CreateRun(ctx context.Context, run Run) error
	// InsertMarks snapshots the root set: every digest reachable from a
	// version that is not tombstoned, or whose tombstone retention has
	// not yet elapsed, including manifest blob digests. It returns the
	// number of marks written.
	InsertMarks(ctx context.Context, runID uuid.UUID, now time.Time) (int64, error)
	// CandidateBlobs selects unmarked blobs older than the grace window
	// that no artifact entry or manifest references, oldest first, at
	// most limit.
	CandidateBlobs(ctx context.Context, runID uuid.UUID, cutoff time.Time, limit int) ([]Candidate, error)
	// DeleteBlobs removes the blob rows for digests, first clearing any
	// committed upload session references pointing at them. It returns
	// the number of blob rows deleted.
	DeleteBlobs(ctx context.Context, digests []string) (int64, error)
	// DeleteElapsedTombstoned removes package versions whose tombstone
	// retention has elapsed, at most limit, returning the count.
	DeleteElapsedTombstoned(ctx context.Context, now time.Time, limit int) (int64, error)
	// FinalizeRun writes the counters and completion stamp.
	FinalizeRun(ctx context.Context, run Run) error
	// ListRuns returns recent runs, newest first.
	ListRuns(ctx context.Context, tenantID uuid.UUID, limit int) ([]Run, error)
}
