// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package policy_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"artifortress.io/artifortress/fortress/audit"
	"artifortress.io/artifortress/fortress/blobs"
	"artifortress.io/artifortress/fortress/fortressdb/testdb"
	"artifortress.io/artifortress/fortress/packages"
	"artifortress.io/artifortress/fortress/policy"
	"artifortress.io/artifortress/fortress/upload"
	"artifortress.io/artifortress/internal/testcontext"
	"artifortress.io/artifortress/internal/testrand"
)

type testSetup struct {
	db        *testdb.DB
	service   *policy.Service
	tenantID  uuid.UUID
	repoID    uuid.UUID
	versionID uuid.UUID
}

func newTestService(t *testing.T, ctx *testcontext.Context, timeout time.Duration) testSetup {
	db := testdb.New()
	log := zaptest.NewLogger(t)
	tenantID := testrand.UUID()
	auditLog := audit.NewLog(log.Named("audit"), db.Audit(), tenantID)
	service := policy.NewService(log, db.Policy(), policy.HintEngine{}, auditLog, tenantID, policy.Config{Timeout: timeout})

	repoID := testrand.UUID()
	version, existing, err := db.Packages().CreateDraft(ctx, packages.Version{
		ID:        testrand.UUID(),
		RepoID:    repoID,
		PackageID: testrand.UUID(),
		Version:   "1.0.0",
		State:     packages.StateDraft,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.False(t, existing)

	return testSetup{db: db, service: service, tenantID: tenantID, repoID: repoID, versionID: version.ID}
}

func TestEvaluateDecisions(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	setup := newTestService(t, ctx, 0)

	// no hint allows by default
	evaluation, err := setup.service.Evaluate(ctx, policy.Input{
		RepoID:    setup.repoID,
		VersionID: setup.versionID,
		Action:    policy.ActionPublish,
	}, "robot")
	require.NoError(t, err)
	require.Equal(t, policy.DecisionAllow, evaluation.Decision)
	require.Equal(t, policy.SourceDefaultAllow, evaluation.Source)
	require.Equal(t, setup.tenantID, evaluation.TenantID)

	// hints are followed
	evaluation, err = setup.service.Evaluate(ctx, policy.Input{
		RepoID:    setup.repoID,
		VersionID: setup.versionID,
		Action:    policy.ActionPromote,
		Hint:      policy.DecisionDeny,
	}, "robot")
	require.NoError(t, err)
	require.Equal(t, policy.DecisionDeny, evaluation.Decision)
	require.Equal(t, policy.SourceHintDeny, evaluation.Source)

	// unknown actions never reach the engine
	_, err = setup.service.Evaluate(ctx, policy.Input{
		RepoID:    setup.repoID,
		VersionID: setup.versionID,
		Action:    "deploy",
	}, "robot")
	require.True(t, policy.ErrInvalidRequest.Has(err))

	// and neither do unknown hints
	_, err = setup.service.Evaluate(ctx, policy.Input{
		RepoID:    setup.repoID,
		VersionID: setup.versionID,
		Action:    policy.ActionPublish,
		Hint:      "maybe",
	}, "robot")
	require.True(t, policy.ErrInvalidRequest.Has(err))

	// unknown versions are rejected by the store
	_, err = setup.service.Evaluate(ctx, policy.Input{
		RepoID:    setup.repoID,
		VersionID: testrand.UUID(),
		Action:    policy.ActionPublish,
	}, "robot")
	require.True(t, policy.ErrNotFound.Has(err))
}

func TestEvaluateQuarantine(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	setup := newTestService(t, ctx, 0)

	evaluation, err := setup.service.Evaluate(ctx, policy.Input{
		RepoID:    setup.repoID,
		VersionID: setup.versionID,
		Action:    policy.ActionPublish,
		Hint:      policy.DecisionQuarantine,
	}, "robot")
	require.NoError(t, err)
	require.Equal(t, policy.DecisionQuarantine, evaluation.Decision)
	require.Equal(t, policy.SourceHintQuarantine, evaluation.Source)

	item, err := setup.service.GetQuarantine(ctx, setup.repoID, setup.versionID)
	require.NoError(t, err)
	require.Equal(t, policy.StatusQuarantined, item.Status)
	require.Equal(t, evaluation.Reason, item.Reason)

	listed, err := setup.service.ListQuarantine(ctx, setup.repoID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, item.ID, listed[0].ID)

	// releasing resolves the hold exactly once
	resolved, err := setup.service.Resolve(ctx, setup.repoID, item.ID, policy.StatusReleased, "admin")
	require.NoError(t, err)
	require.Equal(t, policy.StatusReleased, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	require.Equal(t, "admin", resolved.ResolvedBy)

	// resolving again conflicts but still reports the current item
	again, err := setup.service.Resolve(ctx, setup.repoID, item.ID, policy.StatusRejected, "admin")
	require.True(t, policy.ErrConflict.Has(err))
	require.Equal(t, policy.StatusReleased, again.Status)

	// a fresh quarantine decision reopens the same hold
	_, err = setup.service.Evaluate(ctx, policy.Input{
		RepoID:    setup.repoID,
		VersionID: setup.versionID,
		Action:    policy.ActionPublish,
		Hint:      policy.DecisionQuarantine,
	}, "robot")
	require.NoError(t, err)
	item, err = setup.service.GetQuarantine(ctx, setup.repoID, setup.versionID)
	require.NoError(t, err)
	require.Equal(t, policy.StatusQuarantined, item.Status)
	require.Nil(t, item.ResolvedAt)
	require.Empty(t, item.ResolvedBy)
}

func TestResolveValidation(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	setup := newTestService(t, ctx, 0)

	_, err := setup.service.Resolve(ctx, setup.repoID, testrand.UUID(), "archived", "admin")
	require.True(t, policy.ErrInvalidRequest.Has(err))

	_, err = setup.service.Resolve(ctx, setup.repoID, testrand.UUID(), policy.StatusReleased, "admin")
	require.True(t, policy.ErrNotFound.Has(err))

	_, err = setup.service.GetQuarantine(ctx, setup.repoID, setup.versionID)
	require.True(t, policy.ErrNotFound.Has(err))
}

func TestEvaluateTimeoutFailsClosed(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	setup := newTestService(t, ctx, 20*time.Millisecond)

	_, err := setup.service.Evaluate(ctx, policy.Input{
		RepoID:        setup.repoID,
		VersionID:     setup.versionID,
		Action:        policy.ActionPublish,
		EngineVersion: policy.SimulateTimeoutVersion,
	}, "robot")
	require.True(t, policy.ErrTimeout.Has(err))

	// the timeout leaves an audit trail
	count, err := setup.db.Audit().CountSince(ctx, setup.tenantID, audit.ActionPolicyTimeout, time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	// and no quarantine hold
	_, err = setup.service.GetQuarantine(ctx, setup.repoID, setup.versionID)
	require.True(t, policy.ErrNotFound.Has(err))
}

func TestSuppressedDigest(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	setup := newTestService(t, ctx, 0)
	digest := seedEntry(t, ctx, setup, "pkg.tgz")

	suppressed, _, err := setup.service.SuppressedDigest(ctx, setup.repoID, digest)
	require.NoError(t, err)
	require.False(t, suppressed)

	quarantineVersion := func() policy.Item {
		_, err := setup.service.Evaluate(ctx, policy.Input{
			RepoID:    setup.repoID,
			VersionID: setup.versionID,
			Action:    policy.ActionPublish,
			Hint:      policy.DecisionQuarantine,
		}, "robot")
		require.NoError(t, err)
		item, err := setup.service.GetQuarantine(ctx, setup.repoID, setup.versionID)
		require.NoError(t, err)
		return item
	}

	item := quarantineVersion()
	suppressed, reason, err := setup.service.SuppressedDigest(ctx, setup.repoID, digest)
	require.NoError(t, err)
	require.True(t, suppressed)
	require.Equal(t, item.Reason, reason)

	// other repositories keep serving the digest
	suppressed, _, err = setup.service.SuppressedDigest(ctx, testrand.UUID(), digest)
	require.NoError(t, err)
	require.False(t, suppressed)

	// releasing the hold lifts the suppression
	_, err = setup.service.Resolve(ctx, setup.repoID, item.ID, policy.StatusReleased, "admin")
	require.NoError(t, err)
	suppressed, _, err = setup.service.SuppressedDigest(ctx, setup.repoID, digest)
	require.NoError(t, err)
	require.False(t, suppressed)

	// a rejected hold keeps suppressing
	item = quarantineVersion()
	_, err = setup.service.Resolve(ctx, setup.repoID, item.ID, policy.StatusRejected, "admin")
	require.NoError(t, err)
	suppressed, _, err = setup.service.SuppressedDigest(ctx, setup.repoID, digest)
	require.NoError(t, err)
	require.True(t, suppressed)
}

// seedEntry makes a committed blob reachable in the repo and attaches it to
// the draft version as an artifact entry.
func seedEntry(t *testing.T, ctx *testcontext.Context, setup testSetup, path string) string {
	digest := testrand.Digest()
	now := time.Now().UTC()
	require.NoError(t, setup.db.Blobs().Upsert(ctx, blobs.Blob{
		Digest:     digest,
		Length:     128,
		StorageKey: "staging/" + digest,
		CreatedAt:  now,
	}))
	require.NoError(t, setup.db.Uploads().Create(ctx, upload.Session{
		ID:              testrand.UUID(),
		TenantID:        setup.tenantID,
		RepoID:          setup.repoID,
		ExpectedDigest:  digest,
		ExpectedLength:  128,
		State:           upload.StateCommitted,
		CommittedDigest: digest,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(time.Hour),
	}))
	require.NoError(t, setup.db.Packages().UpsertEntries(ctx, setup.repoID, setup.versionID, []packages.Entry{{
		RelativePath: path,
		BlobDigest:   digest,
		SizeBytes:    128,
	}}))
	return digest
}
