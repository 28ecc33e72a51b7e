// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package testdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"artifortress.io/artifortress/fortress/audit"
	"artifortress.io/artifortress/fortress/gc"
	"artifortress.io/artifortress/fortress/outbox"
	"artifortress.io/artifortress/fortress/packages"
	"artifortress.io/artifortress/fortress/reconcile"
	"artifortress.io/artifortress/fortress/upload"
)

type gcDB DB

func (gdb *gcDB) CreateRun(ctx context.Context, run gc.Run) error {
	db := (*DB)(gdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	db.gcRuns[run.ID] = run
	db.gcMarks[run.ID] = map[string]bool{}
	return nil
}

func (gdb *gcDB) InsertMarks(ctx context.Context, runID uuid.UUID, now time.Time) (int64, error) {
	db := (*DB)(gdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	marks := db.gcMarks[runID]
	mark := func(versionID uuid.UUID, digest string) {
		if digest == "" {
			return
		}
		version, ok := db.versions[versionID]
		if !ok {
			return
		}
		// alive, or tombstoned but still within retention
		if version.State == packages.StateTombstoned {
			ts, ok := db.tombstones[versionID]
			if ok && !ts.RetentionUntil.After(now) {
				return
			}
		}
		marks[digest] = true
	}

	for versionID, byPath := range db.entries {
		for _, entry := range byPath {
			mark(versionID, entry.BlobDigest)
		}
	}
	for versionID, manifest := range db.manifests {
		mark(versionID, manifest.BlobDigest)
	}
	return int64(len(marks)), nil
}

func (gdb *gcDB) CandidateBlobs(ctx context.Context, runID uuid.UUID, cutoff time.Time, limit int) ([]gc.Candidate, error) {
	db := (*DB)(gdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	marks := db.gcMarks[runID]
	referenced := map[string]bool{}
	for _, byPath := range db.entries {
		for _, entry := range byPath {
			referenced[entry.BlobDigest] = true
		}
	}
	for _, manifest := range db.manifests {
		if manifest.BlobDigest != "" {
			referenced[manifest.BlobDigest] = true
		}
	}

	var candidates []gc.Candidate
	for digest, blob := range db.blobRows {
		if blob.CreatedAt.After(cutoff) || marks[digest] || referenced[digest] {
			continue
		}
		candidates = append(candidates, gc.Candidate{
			Digest:     digest,
			StorageKey: blob.StorageKey,
			CreatedAt:  blob.CreatedAt,
		})
	}
	sort.Slice(candidates, func(i, k int) bool { return candidates[i].CreatedAt.Before(candidates[k].CreatedAt) })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (gdb *gcDB) DeleteBlobs(ctx context.Context, digests []string) (int64, error) {
	db := (*DB)(gdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	var deleted int64
	for _, digest := range digests {
		if _, ok := db.blobRows[digest]; !ok {
			continue
		}
		for id, session := range db.sessions {
			if session.State == upload.StateCommitted && session.CommittedDigest == digest {
				session.CommittedDigest = ""
				db.sessions[id] = session
			}
		}
		delete(db.blobRows, digest)
		deleted++
	}
	return deleted, nil
}

func (gdb *gcDB) DeleteElapsedTombstoned(ctx context.Context, now time.Time, limit int) (int64, error) {
	db := (*DB)(gdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	var deleted int64
	for versionID, ts := range db.tombstones {
		if deleted >= int64(limit) {
			break
		}
		version, ok := db.versions[versionID]
		if !ok || version.State != packages.StateTombstoned {
			continue
		}
		if ts.RetentionUntil.After(now) {
			continue
		}
		delete(db.versions, versionID)
		delete(db.entries, versionID)
		delete(db.manifests, versionID)
		delete(db.tombstones, versionID)
		deleted++
	}
	return deleted, nil
}

func (gdb *gcDB) FinalizeRun(ctx context.Context, run gc.Run) error {
	db := (*DB)(gdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	db.gcRuns[run.ID] = run
	return nil
}

func (gdb *gcDB) ListRuns(ctx context.Context, tenantID uuid.UUID, limit int) ([]gc.Run, error) {
	db := (*DB)(gdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	var runs []gc.Run
	for _, run := range db.gcRuns {
		if run.TenantID == tenantID {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, k int) bool { return runs[i].StartedAt.After(runs[k].StartedAt) })
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

type auditDB DB

func (adb *auditDB) Insert(ctx context.Context, entry audit.Entry) error {
	db := (*DB)(adb)
	db.mu.Lock()
	defer db.mu.Unlock()

	db.auditEntries = append(db.auditEntries, entry)
	return nil
}

func (adb *auditDB) List(ctx context.Context, tenantID uuid.UUID, filter audit.Filter) ([]audit.Entry, error) {
	db := (*DB)(adb)
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []audit.Entry
	for _, entry := range db.auditEntries {
		if entry.TenantID != tenantID {
			continue
		}
		if filter.Actor != "" && entry.Actor != filter.Actor {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if filter.ResourceType != "" && entry.ResourceType != filter.ResourceType {
			continue
		}
		if filter.ResourceID != "" && entry.ResourceID != filter.ResourceID {
			continue
		}
		if !filter.Since.IsZero() && entry.OccurredAt.Before(filter.Since) {
			continue
		}
		result = append(result, entry)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].OccurredAt.After(result[k].OccurredAt) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (adb *auditDB) CountSince(ctx context.Context, tenantID uuid.UUID, action string, since time.Time) (int64, error) {
	db := (*DB)(adb)
	db.mu.Lock()
	defer db.mu.Unlock()

	var count int64
	for _, entry := range db.auditEntries {
		if entry.TenantID == tenantID && entry.Action == action && !entry.OccurredAt.Before(since) {
			count++
		}
	}
	return count, nil
}

type outboxDB DB

func (odb *outboxDB) Insert(ctx context.Context, event outbox.Event) (bool, error) {
	db := (*DB)(odb)
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, existing := range db.outboxEvents {
		if existing.TenantID == event.TenantID && existing.AggregateType == event.AggregateType &&
			existing.AggregateID == event.AggregateID && existing.EventType == event.EventType {
			return false, nil
		}
	}
	db.outboxEvents = append(db.outboxEvents, event)
	return true, nil
}

func (odb *outboxDB) ListPending(ctx context.Context, tenantID uuid.UUID, limit int) ([]outbox.Event, error) {
	db := (*DB)(odb)
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []outbox.Event
	for _, event := range db.outboxEvents {
		if event.TenantID == tenantID && event.DeliveredAt == nil {
			result = append(result, event)
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].OccurredAt.Before(result[k].OccurredAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

type reconcileDB DB

func (rdb *reconcileDB) MissingEntryRefs(ctx context.Context, tenantID uuid.UUID, limit int) (int64, []reconcile.MissingRef, error) {
	db := (*DB)(rdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	var count int64
	var refs []reconcile.MissingRef
	for versionID, byPath := range db.entries {
		for path, entry := range byPath {
			if _, ok := db.blobRows[entry.BlobDigest]; ok {
				continue
			}
			count++
			if len(refs) < limit {
				refs = append(refs, reconcile.MissingRef{VersionID: versionID, Path: path, Digest: entry.BlobDigest})
			}
		}
	}
	return count, refs, nil
}

func (rdb *reconcileDB) MissingManifestRefs(ctx context.Context, tenantID uuid.UUID, limit int) (int64, []reconcile.MissingRef, error) {
	db := (*DB)(rdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	var count int64
	var refs []reconcile.MissingRef
	for versionID, manifest := range db.manifests {
		if manifest.BlobDigest == "" {
			continue
		}
		if _, ok := db.blobRows[manifest.BlobDigest]; ok {
			continue
		}
		count++
		if len(refs) < limit {
			refs = append(refs, reconcile.MissingRef{VersionID: versionID, Digest: manifest.BlobDigest})
		}
	}
	return count, refs, nil
}

func (rdb *reconcileDB) OrphanBlobs(ctx context.Context, tenantID uuid.UUID, limit int) (int64, []reconcile.OrphanBlob, error) {
	db := (*DB)(rdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	referenced := map[string]bool{}
	for _, byPath := range db.entries {
		for _, entry := range byPath {
			referenced[entry.BlobDigest] = true
		}
	}
	for _, manifest := range db.manifests {
		if manifest.BlobDigest != "" {
			referenced[manifest.BlobDigest] = true
		}
	}

	var count int64
	var orphans []reconcile.OrphanBlob
	for digest, blob := range db.blobRows {
		if referenced[digest] {
			continue
		}
		count++
		if len(orphans) < limit {
			orphans = append(orphans, reconcile.OrphanBlob{Digest: digest, Length: blob.Length, CreatedAt: blob.CreatedAt})
		}
	}
	return count, orphans, nil
}

func (rdb *reconcileDB) OpsSummary(ctx context.Context, tenantID uuid.UUID, now time.Time) (reconcile.OpsSummary, error) {
	db := (*DB)(rdb)
	db.mu.Lock()
	defer db.mu.Unlock()

	var summary reconcile.OpsSummary
	var oldest time.Time
	for _, event := range db.outboxEvents {
		if event.TenantID != tenantID || event.DeliveredAt != nil {
			continue
		}
		summary.PendingOutbox++
		if !event.AvailableAt.After(now) {
			summary.AvailableNowOutbox++
		}
		if oldest.IsZero() || event.OccurredAt.Before(oldest) {
			oldest = event.OccurredAt
		}
	}
	if !oldest.IsZero() {
		summary.OldestPendingAgeSecs = int64(now.Sub(oldest).Seconds())
	}
	for _, job := range db.searchJobs {
		if job.TenantID != tenantID {
			continue
		}
		switch job.Status {
		case "pending":
			summary.PendingSearchJobs++
		case "failed":
			summary.FailedSearchJobs++
		}
	}
	for _, run := range db.gcRuns {
		if run.TenantID == tenantID && (run.CompletedAt == nil || run.Failed) {
			summary.IncompleteGCRuns++
		}
	}
	since := now.Add(-24 * time.Hour)
	for _, entry := range db.auditEntries {
		if entry.TenantID == tenantID && entry.Action == audit.ActionPolicyTimeout && !entry.OccurredAt.Before(since) {
			summary.PolicyTimeouts24h++
		}
	}
	return summary, nil
}
