// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"

	"artifortress.io/artifortress/fortress/audit"
	"artifortress.io/artifortress/fortress/fortressdb/testdb"
	"artifortress.io/artifortress/internal/testcontext"
	"artifortress.io/artifortress/internal/testrand"
)

func TestRecordAndList(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := testdb.New()
	tenantID := testrand.UUID()
	log := audit.NewLog(zaptest.NewLogger(t), db.Audit(), tenantID)

	versionID := testrand.UUID().String()
	log.Record(ctx, "alice", audit.ActionVersionPublished, "version", versionID,
		map[string]string{"repo": "libs"})
	log.Record(ctx, "bob", audit.ActionTokenIssued, "token", testrand.UUID().String(), nil)
	log.Record(ctx, "alice", audit.ActionVersionTombstoned, "version", versionID, nil)

	entries, err := log.List(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, entry := range entries {
		require.Equal(t, tenantID, entry.TenantID)
		require.NotEqual(t, uuid.Nil, entry.ID)
		require.False(t, entry.OccurredAt.IsZero())
	}

	entries, err = log.List(ctx, audit.Filter{Actor: "alice"})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	entries, err = log.List(ctx, audit.Filter{Action: audit.ActionTokenIssued})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "bob", entries[0].Actor)

	entries, err = log.List(ctx, audit.Filter{ResourceType: "version", ResourceID: versionID})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	entries, err = log.List(ctx, audit.Filter{Since: time.Now().UTC().Add(time.Hour)})
	require.NoError(t, err)
	require.Empty(t, entries)

	entries, err = log.List(ctx, audit.Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	count, err := db.Audit().CountSince(ctx, tenantID, audit.ActionVersionPublished, time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestRecordSwallowsSinkFailures(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := audit.NewLog(zaptest.NewLogger(t), failingAuditDB{}, testrand.UUID())

	// must not panic or propagate
	log.Record(ctx, "alice", audit.ActionGCRun, "gc_run", testrand.UUID().String(), nil)
}

type failingAuditDB struct{}

func (failingAuditDB) Insert(ctx context.Context, entry audit.Entry) error {
	return errs.New("sink down")
}

func (failingAuditDB) List(ctx context.Context, tenantID uuid.UUID, filter audit.Filter) ([]audit.Entry, error) {
	return nil, errs.New("sink down")
}

func (failingAuditDB) CountSince(ctx context.Context, tenantID uuid.UUID, action string, since time.Time) (int64, error) {
	return 0, errs.New("sink down")
}
