// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package dbutil

import (
	"database/sql"

	monkit "github.com/spacemonkeygo/monkit/v3"
)

const (
	defaultMaxIdleConns = 50
	defaultMaxOpenConns = 100
)

// Configure sets connection pool boundaries and chains db_stats monitoring
// into mon.
func Configure(db *sql.DB, mon *monkit.Scope) {
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetMaxOpenConns(defaultMaxOpenConns)
	mon.Chain(monkit.StatSourceFunc(
		func(cb func(key monkit.SeriesKey, field string, val float64)) {
			monkit.StatSourceFromStruct(monkit.NewSeriesKey("db_stats"), db.Stats()).Stats(cb)
		}))
}
