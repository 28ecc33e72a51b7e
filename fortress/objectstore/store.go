// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package objectstore abstracts the S3-compatible store that holds staged
// and committed artifact payloads. The metadata store remains the source of
// truth; this package only ever sees opaque keys and bytes.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"time"

	"github.com/zeebo/errs"
)

var (
	// Error is the default error class for unexpected object store failures.
	Error = errs.Class("objectstore")

	// ErrInvalidRequest means the request was malformed before it reached
	// the backend, for example a bad part list.
	ErrInvalidRequest = errs.Class("objectstore: invalid request")

	// ErrNotFound means the key or multipart upload does not exist.
	ErrNotFound = errs.Class("objectstore: not found")

	// ErrInvalidRange means a requested byte range cannot be satisfied.
	ErrInvalidRange = errs.Class("objectstore: invalid range")

	// ErrAccessDenied means the backend rejected our credentials. It maps
	// to a service misconfiguration, never to a caller failure.
	ErrAccessDenied = errs.Class("objectstore: access denied")

	// ErrTransient means the backend was unreachable or overloaded and the
	// operation may succeed when retried.
	ErrTransient = errs.Class("objectstore: transient failure")
)

// Part identifies one uploaded part of a multipart upload.
type Part struct {
	Number int
	ETag   string
}

// Range is an inclusive byte range.
type Range struct {
	Start int64
	End   int64
}

// Object is a downloaded object or object slice.
type Object struct {
	Body         io.ReadCloser
	Length       int64
	ContentType  string
	ETag         string
	ContentRange string
}

// Store is the adapter over the S3-compatible backend.
//
// Implementations classify backend failures into the error classes above so
// that callers can map them without knowing the wire protocol.
type Store interface {
	// StartMultipart begins a multipart upload for key.
	StartMultipart(ctx context.Context, key string) (uploadID string, err error)

	// PresignPart returns a URL that lets the holder upload one part
	// directly to the backend until expires elapses.
	PresignPart(ctx context.Context, key, uploadID string, partNumber int, expires time.Duration) (*url.URL, error)

	// CompleteMultipart assembles the uploaded parts into the final
	// object and returns its etag. The part list is validated before the
	// backend is called.
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) (etag string, err error)

	// AbortMultipart releases staged parts. Aborting an unknown upload
	// returns ErrNotFound, which callers are free to ignore.
	AbortMultipart(ctx context.Context, key, uploadID string) error

	// Download streams the object, or a slice of it when byteRange is set.
	Download(ctx context.Context, key string, byteRange *Range) (*Object, error)

	// Delete removes the object. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error

	// CheckAvailability probes the backend, for readiness reporting.
	CheckAvailability(ctx context.Context) error
}

// ValidatePartList checks that parts are well formed: at least one part,
// part numbers positive, every etag non-empty. The result is sorted
// ascending with one entry per part number; retransmitted duplicates keep
// the first copy. ETags are normalized by stripping surrounding quotes.
func ValidatePartList(parts []Part) ([]Part, error) {
	if len(parts) == 0 {
		return nil, ErrInvalidRequest.New("empty part list")
	}

	normalized := make([]Part, len(parts))
	copy(normalized, parts)
	sort.SliceStable(normalized, func(i, k int) bool {
		return normalized[i].Number < normalized[k].Number
	})

	kept := normalized[:0]
	prev := 0
	for _, part := range normalized {
		if part.Number < 1 {
			return nil, ErrInvalidRequest.New("part number %d out of range", part.Number)
		}
		if part.Number == prev {
			continue
		}
		part.ETag = trimETag(part.ETag)
		if part.ETag == "" {
			return nil, ErrInvalidRequest.New("missing etag for part %d", part.Number)
		}
		kept = append(kept, part)
		prev = part.Number
	}
	return kept, nil
}

func trimETag(etag string) string {
	if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		return etag[1 : len(etag)-1]
	}
	return etag
}

// ContentRange renders the Content-Range header value for a slice of an
// object of the given total size.
func (r Range) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}
