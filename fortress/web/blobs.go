// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"artifortress.io/artifortress/fortress/blobs"
	"artifortress.io/artifortress/fortress/objectstore"
)

// getBlob serves blob bytes out of the object store, after the metadata
// store confirms the digest is committed in the repository and no
// quarantine hold suppresses it.
func (server *Server) getBlob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}
	digest := muxVar(r, "digest")
	if !blobs.ValidDigest(digest) {
		sendJSONError(w, codeInvalidRequest, "digest must be 64 lowercase hex characters", http.StatusBadRequest)
		return
	}

	suppressed, reason, err := server.services.Policy.SuppressedDigest(ctx, repo.ID, digest)
	if err != nil {
		server.serveError(w, err)
		return
	}
	if suppressed {
		sendJSONData(w, http.StatusLocked, map[string]interface{}{
			"error":   codeQuarantinedBlob,
			"message": "blob is held by a quarantine",
			"reason":  reason,
		})
		return
	}

	committed, err := server.services.Blobs.CommittedInRepo(ctx, repo.ID, digest)
	if err != nil {
		server.serveError(w, err)
		return
	}
	if !committed {
		sendJSONError(w, codeNotFound, "blob "+digest+" is not committed in this repository", http.StatusNotFound)
		return
	}
	blob, err := server.services.Blobs.Get(ctx, digest)
	if err != nil {
		server.serveError(w, err)
		return
	}

	byteRange, err := parseByteRange(r.Header.Get("Range"), blob.Length)
	if err != nil {
		server.serveError(w, err)
		return
	}

	if r.Method == http.MethodHead {
		writeBlobHeaders(w, blob, byteRange)
		if byteRange != nil {
			w.WriteHeader(http.StatusPartialContent)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		return
	}

	object, err := server.services.Store.Download(ctx, blob.StorageKey, byteRange)
	if err != nil {
		server.serveError(w, err)
		return
	}
	defer func() { _ = object.Body.Close() }()

	writeBlobHeaders(w, blob, byteRange)
	if byteRange != nil {
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_, _ = io.Copy(w, object.Body)
}

func writeBlobHeaders(w http.ResponseWriter, blob blobs.Blob, byteRange *objectstore.Range) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Content-Digest", "sha256:"+blob.Digest)
	if blob.ETag != "" {
		w.Header().Set("ETag", `"`+blob.ETag+`"`)
	}
	if byteRange != nil {
		w.Header().Set("Content-Length", strconv.FormatInt(byteRange.End-byteRange.Start+1, 10))
		w.Header().Set("Content-Range", byteRange.ContentRange(blob.Length))
	} else {
		w.Header().Set("Content-Length", strconv.FormatInt(blob.Length, 10))
	}
}

// parseByteRange parses a Range header. Only a single bytes=start-end range
// is supported; an open end runs to the last byte. Suffix and multipart
// ranges are malformed requests, while a syntactically fine range outside
// the blob is unsatisfiable.
func parseByteRange(header string, total int64) (*objectstore.Range, error) {
	if header == "" {
		return nil, nil
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, objectstore.ErrInvalidRequest.New("unsupported range unit in %q", header)
	}
	if strings.Contains(spec, ",") {
		return nil, objectstore.ErrInvalidRequest.New("multiple ranges are not supported")
	}
	start, end, ok := strings.Cut(spec, "-")
	if !ok || start == "" {
		return nil, objectstore.ErrInvalidRequest.New("suffix ranges are not supported")
	}

	first, err := strconv.ParseInt(start, 10, 64)
	if err != nil || first < 0 {
		return nil, objectstore.ErrInvalidRequest.New("malformed range %q", header)
	}
	last := total - 1
	if end != "" {
		last, err = strconv.ParseInt(end, 10, 64)
		if err != nil || last < first {
			return nil, objectstore.ErrInvalidRequest.New("malformed range %q", header)
		}
	}

	if first >= total {
		return nil, objectstore.ErrInvalidRange.New("range %d-%d outside blob of %d bytes", first, last, total)
	}
	if last >= total {
		last = total - 1
	}
	return &objectstore.Range{Start: first, End: last}, nil
}
