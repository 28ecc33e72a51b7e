// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package reconcile produces read-only consistency reports over the blob
// graph and operational counters for monitoring. Nothing here mutates
// state.
package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

// Error is the default error class for the reconcile package.
var Error = errs.Class("reconcile")

var mon = monkit.Package()

// MaxSampleLimit bounds the sampled rows in consistency reports.
const MaxSampleLimit = 200

// MissingRef is one dangling blob reference.
type MissingRef struct {
	VersionID uuid.UUID
	Path      string // empty for manifest refs
	Digest    string
}

// OrphanBlob is a blob row no entry or manifest references.
type OrphanBlob struct {
	Digest    string
	Length    int64
	CreatedAt time.Time
}

// BlobReport is the consistency report over blob references.
type BlobReport struct {
	MissingEntryRefCount    int64
	MissingManifestRefCount int64
	OrphanBlobCount         int64
	MissingEntryRefs        []MissingRef
	MissingManifestRefs     []MissingRef
	OrphanBlobs             []OrphanBlob
}

// OpsSummary is the operational counter snapshot.
type OpsSummary struct {
	PendingOutbox        int64
	AvailableNowOutbox   int64
	OldestPendingAgeSecs int64
	PendingSearchJobs    int64
	FailedSearchJobs     int64
	IncompleteGCRuns     int64
	PolicyTimeouts24h    int64
}

// DB is the metadata store surface for the reconciler.
type DB interface {
	// MissingEntryRefs counts artifact entries whose digest has no blob
	// row, sampling at most limit.
	MissingEntryRefs(ctx context.Context, tenantID uuid.UUID, limit int) (int64, []MissingRef, error)
	// MissingManifestRefs counts manifests whose blob digest has no blob
	// row, sampling at most limit.
	MissingManifestRefs(ctx context.Context, tenantID uuid.UUID, limit int) (int64, []MissingRef, error)
	// OrphanBlobs counts blob rows no entry or manifest references,
	// sampling at most limit.
	OrphanBlobs(ctx context.Context, tenantID uuid.UUID, limit int) (int64, []OrphanBlob, error)
	// OpsSummary gathers the operational counters.
	OpsSummary(ctx context.Context, tenantID uuid.UUID, now time.Time) (OpsSummary, error)
}

// Service runs the read-only reports.
type Service struct {
	db       DB
	tenantID uuid.UUID
}

// NewService creates a reconciler.
func NewService(db DB, tenantID uuid.UUID) *Service {
	return &Service{db: db, tenantID: tenantID}
}

// BlobReport gathers the blob reference consistency report. The sample
// limit is clamped to MaxSampleLimit.
func (service *Service) BlobReport(ctx context.Context, limit int) (_ BlobReport, err error) {
	defer mon.Task()(&ctx)(&err)

	if limit <= 0 || limit > MaxSampleLimit {
		limit = MaxSampleLimit
	}

	var report BlobReport
	report.MissingEntryRefCount, report.MissingEntryRefs, err = service.db.MissingEntryRefs(ctx, service.tenantID, limit)
	if err != nil {
		return BlobReport{}, Error.Wrap(err)
	}
	report.MissingManifestRefCount, report.MissingManifestRefs, err = service.db.MissingManifestRefs(ctx, service.tenantID, limit)
	if err != nil {
		return BlobReport{}, Error.Wrap(err)
	}
	report.OrphanBlobCount, report.OrphanBlobs, err = service.db.OrphanBlobs(ctx, service.tenantID, limit)
	if err != nil {
		return BlobReport{}, Error.Wrap(err)
	}
	return report, nil
}

// OpsSummary gathers the operational counters.
func (service *Service) OpsSummary(ctx context.Context) (_ OpsSummary, err error) {
	defer mon.Task()(&ctx)(&err)
	return service.db.OpsSummary(ctx, service.tenantID, time.Now().UTC())
}
