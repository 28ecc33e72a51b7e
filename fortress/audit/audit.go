// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package audit keeps the append-only, tenant-scoped record of privileged
// actions. Publish and tombstone write their rows inside the same
// transaction as the state change; other writers append best-effort.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error is the default error class for the audit package.
var Error = errs.Class("audit")

var mon = monkit.Package()

// Actions recorded by the core workflows.
const (
	ActionVersionPublished  = "version.published"
	ActionVersionTombstoned = "version.tombstoned"
	ActionPolicyEvaluated   = "policy.evaluated"
	ActionPolicyTimeout     = "policy.timeout"
	ActionQuarantineCreated = "quarantine.created"
	ActionQuarantineResolve = "quarantine.resolved"
	ActionTokenIssued       = "token.issued"
	ActionTokenRevoked      = "token.revoked"
	ActionBindingUpserted   = "binding.upserted"
	ActionGCRun             = "gc.run"
	ActionRepoCreated       = "repo.created"
	ActionRepoDeleted       = "repo.deleted"
)

// Entry is one audit row. Details is a flat string dictionary.
type Entry struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	Details      map[string]string
	OccurredAt   time.Time
}

// Filter narrows audit queries. Zero values match everything.
type Filter struct {
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	Since        time.Time
	Limit        int
}

// DB is the metadata store surface for the audit log.
type DB interface {
	// Insert appends one entry.
	Insert(ctx context.Context, entry Entry) error
	// List returns entries matching the filter, newest first.
	List(ctx context.Context, tenantID uuid.UUID, filter Filter) ([]Entry, error)
	// CountSince counts entries for one action at or after since.
	CountSince(ctx context.Context, tenantID uuid.UUID, action string, since time.Time) (int64, error)
}

// MaxListLimit bounds audit queries.
const MaxListLimit = 1000

// Log appends entries outside the transactional paths. Failures are
// logged, never propagated, so a broken audit sink cannot take down the
// workflow that already succeeded.
type Log struct {
	log      *zap.Logger
	db       DB
	tenantID uuid.UUID
}

// NewLog creates a best-effort audit writer.
func NewLog(log *zap.Logger, db DB, tenantID uuid.UUID) *Log {
	return &Log{log: log, db: db, tenantID: tenantID}
}

// Record appends one entry, filling in id, tenant and timestamp.
func (l *Log) Record(ctx context.Context, actor, action, resourceType, resourceID string, details map[string]string) {
	defer mon.Task()(&ctx)(nil)

	err := l.db.Insert(ctx, Entry{
		ID:           uuid.New(),
		TenantID:     l.tenantID,
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		OccurredAt:   time.Now().UTC(),
	})
	if err != nil {
		mon.Meter("audit_write_failed").Mark(1)
		l.log.Warn("audit write failed",
			zap.String("action", action),
			zap.String("resource", resourceID),
			zap.Error(err))
	}
}

// List returns entries matching the filter, clamping the limit.
func (l *Log) List(ctx context.Context, filter Filter) (_ []Entry, err error) {
	defer mon.Task()(&ctx)(&err)

	if filter.Limit <= 0 || filter.Limit > MaxListLimit {
		filter.Limit = MaxListLimit
	}
	return l.db.List(ctx, l.tenantID, filter)
}
