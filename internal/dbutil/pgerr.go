// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package dbutil

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

const serializationFailure = pgerrcode.SerializationFailure

// ErrorCode returns the five character SQLSTATE for err, or an empty string
// when err did not come from postgres.
func ErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation checks whether err corresponds to a violated unique
// constraint.
func IsUniqueViolation(err error) bool {
	return ErrorCode(err) == pgerrcode.UniqueViolation
}

// IsNoRows checks whether err means that no rows matched the query.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
