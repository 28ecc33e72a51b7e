// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package outbox_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"artifortress.io/artifortress/fortress/fortressdb/testdb"
	"artifortress.io/artifortress/fortress/outbox"
	"artifortress.io/artifortress/internal/testcontext"
	"artifortress.io/artifortress/internal/testrand"
)

func TestInsertDeduplicates(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := testdb.New()
	tenantID := testrand.UUID()
	versionID := testrand.UUID()
	now := time.Now().UTC()

	event := outbox.Event{
		ID:            testrand.UUID(),
		TenantID:      tenantID,
		AggregateType: outbox.AggregatePackageVersion,
		AggregateID:   versionID,
		EventType:     outbox.EventVersionPublished,
		Payload:       map[string]interface{}{"version": "1.0.0"},
		OccurredAt:    now,
		AvailableAt:   now,
	}

	inserted, err := db.Outbox().Insert(ctx, event)
	require.NoError(t, err)
	require.True(t, inserted)

	// a second row for the same aggregate and event type is dropped,
	// even with a fresh id
	event.ID = testrand.UUID()
	inserted, err = db.Outbox().Insert(ctx, event)
	require.NoError(t, err)
	require.False(t, inserted)

	// a different aggregate is a different event
	other := event
	other.ID = testrand.UUID()
	other.AggregateID = testrand.UUID()
	other.OccurredAt = now.Add(time.Second)
	inserted, err = db.Outbox().Insert(ctx, other)
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestListPending(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := testdb.New()
	tenantID := testrand.UUID()
	now := time.Now().UTC()

	var ids []string
	for i := 0; i < 3; i++ {
		event := outbox.Event{
			ID:            testrand.UUID(),
			TenantID:      tenantID,
			AggregateType: outbox.AggregatePackageVersion,
			AggregateID:   testrand.UUID(),
			EventType:     outbox.EventVersionPublished,
			// inserted newest first so ordering is observable
			OccurredAt:  now.Add(-time.Duration(i) * time.Minute),
			AvailableAt: now,
		}
		inserted, err := db.Outbox().Insert(ctx, event)
		require.NoError(t, err)
		require.True(t, inserted)
		ids = append(ids, event.ID.String())
	}

	pending, err := db.Outbox().ListPending(ctx, tenantID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	// oldest occurred_at first
	require.Equal(t, ids[2], pending[0].ID.String())
	require.Equal(t, ids[0], pending[2].ID.String())

	pending, err = db.Outbox().ListPending(ctx, tenantID, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	// other tenants see nothing
	pending, err = db.Outbox().ListPending(ctx, testrand.UUID(), 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}
