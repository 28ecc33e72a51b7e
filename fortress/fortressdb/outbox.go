// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package fortressdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"artifortress.io/artifortress/fortress/outbox"
	"artifortress.io/artifortress/internal/dbutil"
)

type outboxDB struct {
	db dbutil.DB
}

func (odb *outboxDB) Insert(ctx context.Context, event outbox.Event) (inserted bool, err error) {
	defer mon.Task()(&ctx)(&err)

	payload, err := jsonValue(event.Payload)
	if err != nil {
		return false, err
	}
	result, err := odb.db.ExecContext(ctx, `
		INSERT INTO outbox_events (id, tenant_id, aggregate_type, aggregate_id, event_type, payload, occurred_at, available_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE NOT EXISTS (
			SELECT 1 FROM outbox_events
			WHERE tenant_id = $2 AND aggregate_type = $3 AND aggregate_id = $4 AND event_type = $5
		)`,
		event.ID, event.TenantID, event.AggregateType, event.AggregateID,
		event.EventType, payload, event.OccurredAt, event.AvailableAt)
	if err != nil {
		return false, outbox.Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, outbox.Error.Wrap(err)
	}
	return affected == 1, nil
}

func (odb *outboxDB) ListPending(ctx context.Context, tenantID uuid.UUID, limit int) (_ []outbox.Event, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := odb.db.QueryContext(ctx, `
		SELECT id, tenant_id, aggregate_type, aggregate_id, event_type, payload, occurred_at, available_at, delivered_at
		FROM outbox_events
		WHERE tenant_id = $1 AND delivered_at IS NULL
		ORDER BY occurred_at LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, outbox.Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var events []outbox.Event
	for rows.Next() {
		var event outbox.Event
		var rawPayload []byte
		err := rows.Scan(&event.ID, &event.TenantID, &event.AggregateType, &event.AggregateID,
			&event.EventType, &rawPayload, &event.OccurredAt, &event.AvailableAt, &event.DeliveredAt)
		if err != nil {
			return nil, outbox.Error.Wrap(err)
		}
		if err := scanJSON(rawPayload, &event.Payload); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, outbox.Error.Wrap(rows.Err())
}
