// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package policy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"artifortress.io/artifortress/fortress/audit"
)

// Config holds the policy gate settings.
type Config struct {
	Timeout time.Duration `help:"how long one policy evaluation may take before failing closed" default:"250ms"`
}

// Service runs bounded-time evaluations and manages quarantine holds.
type Service struct {
	log      *zap.Logger
	db       DB
	engine   Engine
	auditLog *audit.Log
	tenantID uuid.UUID
	timeout  time.Duration
}

// NewService creates a policy service.
func NewService(log *zap.Logger, db DB, engine Engine, auditLog *audit.Log, tenantID uuid.UUID, config Config) *Service {
	if config.Timeout <= 0 {
		config.Timeout = 250 * time.Millisecond
	}
	return &Service{
		log:      log,
		db:       db,
		engine:   engine,
		auditLog: auditLog,
		tenantID: tenantID,
		timeout:  config.Timeout,
	}
}

type engineResult struct {
	outcome Outcome
	err     error
}

// Evaluate runs the engine with a bounded wait and persists the verdict. A
// quarantine decision upserts the hold in the same transaction. On timeout
// the result is abandoned, a policy.timeout audit entry is written, and
// ErrTimeout is returned: the calling workflow must not proceed.
func (service *Service) Evaluate(ctx context.Context, input Input, evaluatedBy string) (_ Evaluation, err error) {
	defer mon.Task()(&ctx)(&err)

	if !ValidAction(input.Action) {
		return Evaluation{}, ErrInvalidRequest.New("unknown action %q", input.Action)
	}
	input.TenantID = service.tenantID

	engineCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), service.timeout)

	results := make(chan engineResult, 1)
	go func() {
		defer cancel()
		outcome, err := service.engine.Evaluate(engineCtx, input)
		results <- engineResult{outcome: outcome, err: err}
	}()

	var outcome Outcome
	select {
	case result := <-results:
		if result.err != nil && engineCtx.Err() != nil {
			return Evaluation{}, service.failClosed(ctx, input, evaluatedBy)
		}
		if result.err != nil {
			return Evaluation{}, result.err
		}
		outcome = result.outcome
	case <-time.After(service.timeout):
		// abandon the engine's eventual answer.
		return Evaluation{}, service.failClosed(ctx, input, evaluatedBy)
	case <-ctx.Done():
		cancel()
		return Evaluation{}, Error.Wrap(ctx.Err())
	}

	evaluation := Evaluation{
		ID:            uuid.New(),
		TenantID:      service.tenantID,
		RepoID:        input.RepoID,
		VersionID:     input.VersionID,
		Action:        input.Action,
		Decision:      outcome.Decision,
		Source:        outcome.Source,
		Reason:        outcome.Reason,
		EngineVersion: input.EngineVersion,
		EvaluatedAt:   time.Now().UTC(),
		EvaluatedBy:   evaluatedBy,
	}

	var quarantine *Item
	if outcome.Decision == DecisionQuarantine {
		quarantine = &Item{
			ID:        uuid.New(),
			TenantID:  service.tenantID,
			RepoID:    input.RepoID,
			VersionID: input.VersionID,
			Status:    StatusQuarantined,
			Reason:    outcome.Reason,
			CreatedAt: evaluation.EvaluatedAt,
		}
	}

	if err := service.db.RecordEvaluation(ctx, evaluation, quarantine); err != nil {
		return Evaluation{}, err
	}

	mon.Meter("policy_evaluated").Mark(1)
	if quarantine != nil {
		mon.Meter("version_quarantined").Mark(1)
		service.auditLog.Record(ctx, evaluatedBy, audit.ActionQuarantineCreated,
			"package_version", input.VersionID.String(),
			map[string]string{"reason": outcome.Reason})
	}
	return evaluation, nil
}

func (service *Service) failClosed(ctx context.Context, input Input, evaluatedBy string) error {
	mon.Meter("policy_timeout").Mark(1)
	service.log.Warn("policy evaluation timed out",
		zap.Stringer("versionID", input.VersionID),
		zap.String("action", string(input.Action)),
		zap.Duration("timeout", service.timeout))
	service.auditLog.Record(ctx, evaluatedBy, audit.ActionPolicyTimeout,
		"package_version", input.VersionID.String(),
		map[string]string{"action": string(input.Action)})
	return ErrTimeout.New("no decision within %v", service.timeout)
}

// GetQuarantine fetches the hold on one version.
func (service *Service) GetQuarantine(ctx context.Context, repoID, versionID uuid.UUID) (_ Item, err error) {
	defer mon.Task()(&ctx)(&err)
	return service.db.GetQuarantine(ctx, service.tenantID, repoID, versionID)
}

// ListQuarantine lists a repository's holds.
func (service *Service) ListQuarantine(ctx context.Context, repoID uuid.UUID) (_ []Item, err error) {
	defer mon.Task()(&ctx)(&err)
	return service.db.ListQuarantine(ctx, service.tenantID, repoID)
}

// Resolve moves a quarantined hold to released or rejected. Resolving an
// already resolved hold returns the current item and ErrConflict so the
// caller can distinguish it from absence.
func (service *Service) Resolve(ctx context.Context, repoID, quarantineID uuid.UUID, status QuarantineStatus, resolvedBy string) (_ Item, err error) {
	defer mon.Task()(&ctx)(&err)

	if status != StatusReleased && status != StatusRejected {
		return Item{}, ErrInvalidRequest.New("resolution must be released or rejected, got %q", status)
	}

	now := time.Now().UTC()
	updated, err := service.db.ResolveQuarantine(ctx, quarantineID, status, resolvedBy, now)
	if err != nil {
		return Item{}, err
	}

	item, getErr := service.db.GetQuarantineByID(ctx, service.tenantID, repoID, quarantineID)
	if getErr != nil {
		return Item{}, getErr
	}
	if !updated {
		return item, ErrConflict.New("quarantine already resolved to %q", item.Status)
	}

	mon.Meter("quarantine_resolved").Mark(1)
	service.auditLog.Record(ctx, resolvedBy, audit.ActionQuarantineResolve,
		"quarantine", quarantineID.String(),
		map[string]string{"status": string(status)})
	return item, nil
}

// SuppressedDigest backs the blob read path: it reports whether the digest
// must be withheld in this repository because a version referencing it is
// quarantined or rejected.
func (service *Service) SuppressedDigest(ctx context.Context, repoID uuid.UUID, digest string) (suppressed bool, reason string, err error) {
	defer mon.Task()(&ctx)(&err)
	return service.db.SuppressedDigest(ctx, repoID, digest)
}
