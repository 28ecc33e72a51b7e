// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package policy gates publish and promote actions through a bounded-time
// policy engine and tracks the quarantine holds it produces.
package policy

import (
	"context"
	"time"

	"github.com/google/uuid"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	// Error is the default error class for the policy package.
	Error = errs.Class("policy")

	// ErrInvalidRequest means the request was malformed.
	ErrInvalidRequest = errs.Class("policy: invalid request")

	// ErrNotFound means the version or quarantine item does not exist.
	ErrNotFound = errs.Class("policy: not found")

	// ErrConflict means a state guard failed, for example resolving an
	// already resolved quarantine.
	ErrConflict = errs.Class("policy: conflict")

	// ErrTimeout means the engine did not answer within the deadline. The
	// gate fails closed: callers must not proceed.
	ErrTimeout = errs.Class("policy: evaluation timeout")
)

var mon = monkit.Package()

// Action is the gated workflow step.
type Action string

// Gated actions.
const (
	ActionPublish Action = "publish"
	ActionPromote Action = "promote"
)

// ValidAction reports whether action names a gated step.
func ValidAction(action Action) bool {
	return action == ActionPublish || action == ActionPromote
}

// Decision is the engine's verdict.
type Decision string

// Decisions.
const (
	DecisionAllow      Decision = "allow"
	DecisionDeny       Decision = "deny"
	DecisionQuarantine Decision = "quarantine"
)

// DecisionSource says what produced the decision.
type DecisionSource string

// Decision sources.
const (
	SourceDefaultAllow   DecisionSource = "default_allow"
	SourceHintAllow      DecisionSource = "hint_allow"
	SourceHintDeny       DecisionSource = "hint_deny"
	SourceHintQuarantine DecisionSource = "hint_quarantine"
)

// Evaluation is one persisted policy verdict.
type Evaluation struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	RepoID        uuid.UUID
	VersionID     uuid.UUID
	Action        Action
	Decision      Decision
	Source        DecisionSource
	Reason        string
	EngineVersion string
	EvaluatedAt   time.Time
	EvaluatedBy   string
}

// QuarantineStatus is the hold state of a quarantined version.
type QuarantineStatus string

// Quarantine statuses. Released and rejected are terminal.
const (
	StatusQuarantined QuarantineStatus = "quarantined"
	StatusReleased    QuarantineStatus = "released"
	StatusRejected    QuarantineStatus = "rejected"
)

// Item is one quarantine hold, unique per (tenant, repo, version).
type Item struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	RepoID     uuid.UUID
	VersionID  uuid.UUID
	Status     QuarantineStatus
	Reason     string
	CreatedAt  time.Time
	ResolvedAt *time.Time
	ResolvedBy string
}

// DB is the metadata store surface for evaluations and quarantine items.
type DB interface {
	// RecordEvaluation verifies the version exists in the repository and
	// inserts the evaluation; when quarantine is non-nil the item is
	// upserted in the same transaction, resetting any prior resolution.
	RecordEvaluation(ctx context.Context, evaluation Evaluation, quarantine *Item) error

	// GetQuarantine fetches the hold for one version.
	GetQuarantine(ctx context.Context, tenantID, repoID, versionID uuid.UUID) (Item, error)
	// GetQuarantineByID fetches a hold by its id, scoped to the repo.
	GetQuarantineByID(ctx context.Context, tenantID, repoID, quarantineID uuid.UUID) (Item, error)
	// ListQuarantine lists holds on a repository, newest first.
	ListQuarantine(ctx context.Context, tenantID, repoID uuid.UUID) ([]Item, error)
	// ResolveQuarantine conditionally moves quarantined to status,
	// stamping resolved_at and resolved_by. updated is false when the
	// item was not in quarantined state.
	ResolveQuarantine(ctx context.Context, quarantineID uuid.UUID, status QuarantineStatus, resolvedBy string, now time.Time) (updated bool, err error)

	// SuppressedDigest reports whether any version referencing the
	// digest in this repository is quarantined or rejected, and the hold
	// reason when so.
	SuppressedDigest(ctx context.Context, repoID uuid.UUID, digest string) (suppressed bool, reason string, err error)
}
