// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package gc

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"artifortress.io/artifortress/fortress/audit"
	"artifortress.io/artifortress/fortress/objectstore"
	"artifortress.io/artifortress/internal/sync2"
)

// Grace and batch bounds.
const (
	MinGrace     = 0
	MaxGrace     = 8760 * time.Hour
	DefaultGrace = 24 * time.Hour

	MinBatchSize     = 1
	MaxBatchSize     = 5000
	DefaultBatchSize = 200
)

// Config holds the collector settings.
type Config struct {
	Grace     time.Duration `help:"how long an unreferenced blob survives before collection" default:"24h"`
	BatchSize int           `help:"maximum blobs deleted per run" default:"200"`
	Interval  time.Duration `help:"how often the background collector runs, 0 disables it" default:"0"`
}

// Params override the configured defaults for one run. Zero values keep
// the defaults.
type Params struct {
	Mode      Mode
	Grace     time.Duration
	GraceSet  bool
	BatchSize int
}

// Service runs mark-and-sweep collection passes. The pass is deliberately
// not one transaction: mark happens first, the object store deletion next,
// and metadata rows go away only for digests whose bytes are confirmed
// gone.
type Service struct {
	log      *zap.Logger
	db       DB
	store    objectstore.Store
	auditLog *audit.Log
	tenantID uuid.UUID
	config   Config

	Loop *sync2.Cycle
}

// NewService creates a garbage collection service.
func NewService(log *zap.Logger, db DB, store objectstore.Store, auditLog *audit.Log, tenantID uuid.UUID, config Config) *Service {
	if config.Grace < MinGrace || config.Grace > MaxGrace {
		config.Grace = DefaultGrace
	}
	if config.BatchSize < MinBatchSize || config.BatchSize > MaxBatchSize {
		config.BatchSize = DefaultBatchSize
	}
	service := &Service{
		log:      log,
		db:       db,
		store:    store,
		auditLog: auditLog,
		tenantID: tenantID,
		config:   config,
	}
	if config.Interval > 0 {
		service.Loop = sync2.NewCycle(config.Interval)
	}
	return service
}

// Run starts the background collection loop. It is a no-op when no
// interval is configured.
func (service *Service) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if service.Loop == nil {
		return nil
	}
	return service.Loop.Run(ctx, func(ctx context.Context) error {
		if _, err := service.RunOnce(ctx, Params{Mode: ModeExecute}); err != nil {
			service.log.Error("collection pass failed", zap.Error(err))
		}
		return nil
	})
}

// Close stops the background loop.
func (service *Service) Close() error {
	if service.Loop != nil {
		service.Loop.Stop()
	}
	return nil
}

// RunOnce performs one collection pass and returns the finalized run row.
// Dry runs select candidates without deleting anything.
func (service *Service) RunOnce(ctx context.Context, params Params) (_ Run, err error) {
	defer mon.Task()(&ctx)(&err)

	if params.Mode == "" {
		params.Mode = ModeDryRun
	}
	if !ValidMode(params.Mode) {
		return Run{}, ErrInvalidRequest.New("unknown mode %q", params.Mode)
	}
	grace := service.config.Grace
	if params.GraceSet {
		if params.Grace < MinGrace || params.Grace > MaxGrace {
			return Run{}, ErrInvalidRequest.New("grace %v out of range", params.Grace)
		}
		grace = params.Grace
	}
	batchSize := service.config.BatchSize
	if params.BatchSize != 0 {
		if params.BatchSize < MinBatchSize || params.BatchSize > MaxBatchSize {
			return Run{}, ErrInvalidRequest.New("batch size %d out of range", params.BatchSize)
		}
		batchSize = params.BatchSize
	}

	now := time.Now().UTC()
	run := Run{
		ID:        uuid.New(),
		TenantID:  service.tenantID,
		Mode:      params.Mode,
		StartedAt: now,
	}
	if err := service.db.CreateRun(ctx, run); err != nil {
		return Run{}, Error.Wrap(err)
	}

	run, err = service.collect(ctx, run, grace, batchSize, now)
	if err != nil {
		// finalize as failed so monitoring surfaces the incomplete run.
		run.Failed = true
		if run.DeleteErrorCount == 0 {
			run.DeleteErrorCount = 1
		}
		if finalizeErr := service.finalize(ctx, run); finalizeErr != nil {
			return Run{}, errs.Combine(err, finalizeErr)
		}
		return Run{}, err
	}

	if err := service.finalize(ctx, run); err != nil {
		return Run{}, err
	}

	mon.IntVal("gc_candidate_blobs").Observe(run.CandidateBlobCount)
	mon.IntVal("gc_deleted_blobs").Observe(run.DeletedBlobCount)
	mon.IntVal("gc_delete_errors").Observe(run.DeleteErrorCount)
	service.log.Info("collection pass finished",
		zap.Stringer("runID", run.ID),
		zap.String("mode", string(run.Mode)),
		zap.Int64("marked", run.MarkedCount),
		zap.Int64("candidates", run.CandidateBlobCount),
		zap.Int64("deletedBlobs", run.DeletedBlobCount),
		zap.Int64("deletedVersions", run.DeletedVersionCount),
		zap.Int64("deleteErrors", run.DeleteErrorCount))

	service.auditLog.Record(ctx, "system", audit.ActionGCRun, "gc_run", run.ID.String(), map[string]string{
		"mode":       string(run.Mode),
		"candidates": fmtInt(run.CandidateBlobCount),
		"deleted":    fmtInt(run.DeletedBlobCount),
	})
	return run, nil
}

func (service *Service) collect(ctx context.Context, run Run, grace time.Duration, batchSize int, now time.Time) (_ Run, err error) {
	marked, err := service.db.InsertMarks(ctx, run.ID, now)
	if err != nil {
		return run, Error.Wrap(err)
	}
	run.MarkedCount = marked

	candidates, err := service.db.CandidateBlobs(ctx, run.ID, now.Add(-grace), batchSize)
	if err != nil {
		return run, Error.Wrap(err)
	}
	run.CandidateBlobCount = int64(len(candidates))

	if run.Mode == ModeDryRun {
		return run, nil
	}

	// delete bytes first; metadata rows only go away for digests whose
	// bytes are confirmed gone.
	deletable := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if err := service.store.Delete(ctx, candidate.StorageKey); err != nil {
			run.DeleteErrorCount++
			service.log.Warn("object delete failed",
				zap.String("digest", candidate.Digest),
				zap.String("storageKey", candidate.StorageKey),
				zap.Error(err))
			continue
		}
		deletable = append(deletable, candidate.Digest)
	}

	if len(deletable) > 0 {
		deleted, err := service.db.DeleteBlobs(ctx, deletable)
		if err != nil {
			return run, Error.Wrap(err)
		}
		run.DeletedBlobCount = deleted
	}

	deletedVersions, err := service.db.DeleteElapsedTombstoned(ctx, now, batchSize)
	if err != nil {
		return run, Error.Wrap(err)
	}
	run.DeletedVersionCount = deletedVersions

	return run, nil
}

func (service *Service) finalize(ctx context.Context, run Run) error {
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	return Error.Wrap(service.db.FinalizeRun(ctx, run))
}

// ListRuns returns recent runs.
func (service *Service) ListRuns(ctx context.Context, limit int) (_ []Run, err error) {
	defer mon.Task()(&ctx)(&err)

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return service.db.ListRuns(ctx, service.tenantID, limit)
}

func fmtInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
