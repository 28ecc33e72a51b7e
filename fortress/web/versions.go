// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"artifortress.io/artifortress/fortress/packages"
)

type versionJSON struct {
	ID              uuid.UUID  `json:"id"`
	PackageID       uuid.UUID  `json:"package_id"`
	Version         string     `json:"version"`
	State           string     `json:"state"`
	CreatedAt       time.Time  `json:"created_at"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	TombstonedAt    *time.Time `json:"tombstoned_at,omitempty"`
	TombstoneReason string     `json:"tombstone_reason,omitempty"`
}

func versionToJSON(version packages.Version) versionJSON {
	return versionJSON{
		ID:              version.ID,
		PackageID:       version.PackageID,
		Version:         version.Version,
		State:           string(version.State),
		CreatedAt:       version.CreatedAt,
		PublishedAt:     version.PublishedAt,
		TombstonedAt:    version.TombstonedAt,
		TombstoneReason: version.TombstoneReason,
	}
}

type entryJSON struct {
	RelativePath string `json:"relative_path"`
	BlobDigest   string `json:"blob_digest"`
	ChecksumSHA1 string `json:"checksum_sha1,omitempty"`
	ChecksumSHA2 string `json:"checksum_sha256,omitempty"`
	SizeBytes    int64  `json:"size_bytes"`
}

func (server *Server) createDraft(w http.ResponseWriter, r *http.Request) {
	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}

	var req struct {
		Type      string `json:"type"`
		Namespace string `json:"namespace"`
		Name      string `json:"name"`
		Version   string `json:"version"`
	}
	if err := decodeJSON(r, &req); err != nil {
		sendJSONError(w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	pkg, version, err := server.services.Packages.CreateDraft(r.Context(), repo, req.Type, req.Namespace, req.Name, req.Version)
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusCreated, map[string]interface{}{
		"package": map[string]interface{}{
			"id":        pkg.ID,
			"type":      pkg.Type,
			"namespace": pkg.Namespace,
			"name":      pkg.Name,
		},
		"version": versionToJSON(version),
	})
}

func (server *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	includeTombstoned := query.Get("include_tombstoned") == "true"
	versions, err := server.services.Packages.ListVersions(r.Context(), repo,
		query.Get("type"), query.Get("namespace"), query.Get("name"), includeTombstoned)
	if err != nil {
		server.serveError(w, err)
		return
	}

	out := make([]versionJSON, 0, len(versions))
	for _, version := range versions {
		out = append(out, versionToJSON(version))
	}
	sendJSONData(w, http.StatusOK, map[string]interface{}{"versions": out})
}

func (server *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}
	versionID, ok := parseUUIDVar(w, r, "version")
	if !ok {
		return
	}

	version, err := server.services.Packages.GetVersion(r.Context(), repo, versionID)
	if err != nil {
		server.serveError(w, err)
		return
	}
	entries, err := server.services.Packages.ListEntries(r.Context(), repo, versionID)
	if err != nil {
		server.serveError(w, err)
		return
	}

	out := make([]entryJSON, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entryJSON{
			RelativePath: entry.RelativePath,
			BlobDigest:   entry.BlobDigest,
			ChecksumSHA1: entry.ChecksumSHA1,
			ChecksumSHA2: entry.ChecksumSHA2,
			SizeBytes:    entry.SizeBytes,
		})
	}
	sendJSONData(w, http.StatusOK, map[string]interface{}{
		"version": versionToJSON(version),
		"entries": out,
	})
}

func (server *Server) upsertEntries(w http.ResponseWriter, r *http.Request) {
	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}
	versionID, ok := parseUUIDVar(w, r, "version")
	if !ok {
		return
	}

	var req struct {
		Entries []entryJSON `json:"entries"`
	}
	if err := decodeJSON(r, &req); err != nil {
		sendJSONError(w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	entries := make([]packages.Entry, 0, len(req.Entries))
	for _, entry := range req.Entries {
		entries = append(entries, packages.Entry{
			VersionID:    versionID,
			RelativePath: entry.RelativePath,
			BlobDigest:   entry.BlobDigest,
			ChecksumSHA1: entry.ChecksumSHA1,
			ChecksumSHA2: entry.ChecksumSHA2,
			SizeBytes:    entry.SizeBytes,
		})
	}

	if err := server.services.Packages.UpsertEntries(r.Context(), repo, versionID, entries); err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusOK, map[string]interface{}{"updated": len(entries)})
}

func (server *Server) upsertManifest(w http.ResponseWriter, r *http.Request) {
	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}
	versionID, ok := parseUUIDVar(w, r, "version")
	if !ok {
		return
	}

	var req struct {
		Type       string                 `json:"type"`
		Document   map[string]interface{} `json:"document"`
		BlobDigest string                 `json:"blob_digest"`
	}
	if err := decodeJSON(r, &req); err != nil {
		sendJSONError(w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	err := server.services.Packages.UpsertManifest(r.Context(), repo, versionID, req.Type, packages.Manifest{
		VersionID:  versionID,
		Document:   req.Document,
		BlobDigest: req.BlobDigest,
	})
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusOK, map[string]interface{}{"updated": true})
}

func (server *Server) getManifest(w http.ResponseWriter, r *http.Request) {
	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}
	versionID, ok := parseUUIDVar(w, r, "version")
	if !ok {
		return
	}

	manifest, err := server.services.Packages.GetManifest(r.Context(), repo, versionID)
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusOK, map[string]interface{}{
		"document":    manifest.Document,
		"blob_digest": manifest.BlobDigest,
		"updated_at":  manifest.UpdatedAt,
	})
}

func (server *Server) publishVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}
	versionID, ok := parseUUIDVar(w, r, "version")
	if !ok {
		return
	}
	principal, _ := principalFrom(ctx)

	var req struct {
		PolicyHint    string `json:"policy_hint"`
		EngineVersion string `json:"engine_version"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			sendJSONError(w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
			return
		}
	}

	allowed, err := server.gatePolicy(ctx, repo.ID, versionID, req.PolicyHint, req.EngineVersion, principal.Subject)
	if err != nil {
		server.serveError(w, err)
		return
	}
	if !allowed {
		sendJSONError(w, codeConflict, "policy blocked the publish", http.StatusConflict)
		return
	}

	result, err := server.services.Packages.Publish(ctx, repo, versionID, principal.Subject)
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusOK, map[string]interface{}{
		"version":      versionToJSON(result.Version),
		"idempotent":   result.Idempotent,
		"eventEmitted": result.EventEmitted,
	})
}

func (server *Server) tombstoneVersion(w http.ResponseWriter, r *http.Request) {
	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}
	versionID, ok := parseUUIDVar(w, r, "version")
	if !ok {
		return
	}
	principal, _ := principalFrom(r.Context())

	var req struct {
		Reason        string `json:"reason"`
		RetentionDays int    `json:"retention_days"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			sendJSONError(w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
			return
		}
	}

	result, err := server.services.Packages.Tombstone(r.Context(), repo, versionID, req.Reason, req.RetentionDays, principal.Subject)
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusOK, map[string]interface{}{
		"version":    versionToJSON(result.Version),
		"idempotent": result.Idempotent,
	})
}
