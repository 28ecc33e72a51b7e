// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package fortressdb

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"artifortress.io/artifortress/fortress/audit"
	"artifortress.io/artifortress/internal/dbutil"
)

type auditDB struct {
	db dbutil.DB
}

func (adb *auditDB) Insert(ctx context.Context, entry audit.Entry) (err error) {
	defer mon.Task()(&ctx)(&err)

	details, err := jsonValue(entry.Details)
	if err != nil {
		return err
	}
	_, err = adb.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, tenant_id, actor, action, resource_type, resource_id, details, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.TenantID, entry.Actor, entry.Action,
		entry.ResourceType, entry.ResourceID, details, entry.OccurredAt)
	return audit.Error.Wrap(err)
}

func (adb *auditDB) List(ctx context.Context, tenantID uuid.UUID, filter audit.Filter) (_ []audit.Entry, err error) {
	defer mon.Task()(&ctx)(&err)

	query := `
		SELECT id, tenant_id, actor, action, resource_type, resource_id, details, occurred_at
		FROM audit_entries WHERE tenant_id = $1`
	args := []interface{}{tenantID}

	appendArg := func(clause string, value interface{}) {
		args = append(args, value)
		query += " AND " + clause + "$" + strconv.Itoa(len(args))
	}
	if filter.Actor != "" {
		appendArg("actor = ", filter.Actor)
	}
	if filter.Action != "" {
		appendArg("action = ", filter.Action)
	}
	if filter.ResourceType != "" {
		appendArg("resource_type = ", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		appendArg("resource_id = ", filter.ResourceID)
	}
	if !filter.Since.IsZero() {
		appendArg("occurred_at >= ", filter.Since)
	}
	args = append(args, filter.Limit)
	query += " ORDER BY occurred_at DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := adb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, audit.Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var entries []audit.Entry
	for rows.Next() {
		var entry audit.Entry
		var rawDetails []byte
		err := rows.Scan(&entry.ID, &entry.TenantID, &entry.Actor, &entry.Action,
			&entry.ResourceType, &entry.ResourceID, &rawDetails, &entry.OccurredAt)
		if err != nil {
			return nil, audit.Error.Wrap(err)
		}
		if err := scanJSON(rawDetails, &entry.Details); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, audit.Error.Wrap(rows.Err())
}

func (adb *auditDB) CountSince(ctx context.Context, tenantID uuid.UUID, action string, since time.Time) (count int64, err error) {
	defer mon.Task()(&ctx)(&err)

	err = adb.db.QueryRowContext(ctx, `
		SELECT count(*) FROM audit_entries
		WHERE tenant_id = $1 AND action = $2 AND occurred_at >= $3`,
		tenantID, action, since).Scan(&count)
	return count, audit.Error.Wrap(err)
}
