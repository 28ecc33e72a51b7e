// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package dbutil

import (
	"context"
	"database/sql"
	"time"

	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var mon = monkit.Package()

const (
	txRetryLimit  = 10
	txRetryWindow = 5 * time.Minute
)

// WithTx starts a transaction on db, calls fn with it and commits when fn
// returns nil, rolling back otherwise. Transactions that fail with a
// serialization error are restarted, so fn must be idempotent with respect
// to side effects outside the database.
func WithTx(ctx context.Context, db DB, fn func(ctx context.Context, tx Tx) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	start := time.Now()
	for i := 0; ; i++ {
		err, rollbackErr := withTxOnce(ctx, db, fn)
		if time.Since(start) < txRetryWindow && i < txRetryLimit {
			if ErrorCode(err) == serializationFailure {
				mon.Event("transaction_retry")
				continue
			}
		}
		mon.IntVal("transaction_retries").Observe(int64(i))
		return errs.Wrap(errs.Combine(err, rollbackErr))
	}
}

func withTxOnce(ctx context.Context, db DB, fn func(ctx context.Context, tx Tx) error) (err, rollbackErr error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return errs.Wrap(err), nil
	}
	defer func() {
		if err == nil {
			err = tx.Commit()
		} else {
			rollbackErr = tx.Rollback()
		}
	}()
	return fn(ctx, tx), nil
}
