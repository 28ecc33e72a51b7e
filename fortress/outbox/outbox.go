// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package outbox defines the durable event rows written in the same
// transaction as the state changes they announce. Delivery workers are
// external; this package only guarantees exactly one row per
// (tenant, aggregate, event type).
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
)

// Error is the default error class for the outbox package.
var Error = errs.Class("outbox")

// Aggregate types and event types currently emitted.
const (
	AggregatePackageVersion = "package_version"

	EventVersionPublished = "version.published"
)

// Event is one outbox row. Payload is stored as JSON.
type Event struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       map[string]interface{}
	OccurredAt    time.Time
	AvailableAt   time.Time
	DeliveredAt   *time.Time
}

// DB is the metadata store surface for outbox events. The publish
// transaction inserts through the same uniqueness guard inside its own
// transaction; this interface serves inspection paths.
type DB interface {
	// Insert adds the event unless one already exists for its
	// (tenant, aggregate type, aggregate id, event type); inserted
	// reports whether a row was written.
	Insert(ctx context.Context, event Event) (inserted bool, err error)
	// ListPending returns undelivered events ordered by occurred_at.
	ListPending(ctx context.Context, tenantID uuid.UUID, limit int) ([]Event, error)
}
