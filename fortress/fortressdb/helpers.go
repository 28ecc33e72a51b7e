// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package fortressdb

import (
	"encoding/json"
)

// rowScanner is the subset of *sql.Rows the scan helpers need.
type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// jsonValue encodes v for a jsonb column. A nil map or slice encodes as
// the JSON empty object or array rather than null.
func jsonValue(v interface{}) ([]byte, error) {
	switch typed := v.(type) {
	case map[string]interface{}:
		if typed == nil {
			return []byte("{}"), nil
		}
	case map[string]string:
		if typed == nil {
			return []byte("{}"), nil
		}
	case []string:
		if typed == nil {
			return []byte("[]"), nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return data, nil
}

// scanJSON decodes a jsonb column into target. Empty input leaves target
// untouched.
func scanJSON(data []byte, target interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return Error.Wrap(json.Unmarshal(data, target))
}
