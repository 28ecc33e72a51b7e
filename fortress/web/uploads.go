// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"artifortress.io/artifortress/fortress/objectstore"
	"artifortress.io/artifortress/fortress/upload"
)

type sessionJSON struct {
	ID              uuid.UUID  `json:"id"`
	State           string     `json:"state"`
	ExpectedDigest  string     `json:"expected_digest"`
	ExpectedLength  int64      `json:"expected_length"`
	CommittedDigest string     `json:"committed_digest,omitempty"`
	AbortedReason   string     `json:"aborted_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	CommittedAt     *time.Time `json:"committed_at,omitempty"`
	AbortedAt       *time.Time `json:"aborted_at,omitempty"`
}

func sessionToJSON(session upload.Session) sessionJSON {
	return sessionJSON{
		ID:              session.ID,
		State:           string(session.State),
		ExpectedDigest:  session.ExpectedDigest,
		ExpectedLength:  session.ExpectedLength,
		CommittedDigest: session.CommittedDigest,
		AbortedReason:   session.AbortedReason,
		CreatedAt:       session.CreatedAt,
		UpdatedAt:       session.UpdatedAt,
		ExpiresAt:       session.ExpiresAt,
		CommittedAt:     session.CommittedAt,
		AbortedAt:       session.AbortedAt,
	}
}

// parseUUIDVar reads a route variable as a UUID, writing the error response
// on failure.
func parseUUIDVar(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(muxVar(r, name))
	if err != nil {
		sendJSONError(w, codeInvalidRequest, "malformed "+name+" id", http.StatusBadRequest)
		return uuid.UUID{}, false
	}
	return id, true
}

func (server *Server) createUpload(w http.ResponseWriter, r *http.Request) {
	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}

	var req struct {
		Digest string `json:"digest"`
		Length int64  `json:"length"`
	}
	if err := decodeJSON(r, &req); err != nil {
		sendJSONError(w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	session, deduped, err := server.services.Upload.Create(r.Context(), repo, req.Digest, req.Length)
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusCreated, map[string]interface{}{
		"upload":  sessionToJSON(session),
		"deduped": deduped,
	})
}

func (server *Server) getUpload(w http.ResponseWriter, r *http.Request) {
	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}
	uploadID, ok := parseUUIDVar(w, r, "upload")
	if !ok {
		return
	}

	session, err := server.services.Upload.Get(r.Context(), repo, uploadID)
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusOK, sessionToJSON(session))
}

func (server *Server) presignPart(w http.ResponseWriter, r *http.Request) {
	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}
	uploadID, ok := parseUUIDVar(w, r, "upload")
	if !ok {
		return
	}

	var req struct {
		PartNumber int `json:"part_number"`
		TTLSeconds int `json:"ttl_seconds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		sendJSONError(w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	url, session, err := server.services.Upload.PresignPart(r.Context(), repo, uploadID,
		req.PartNumber, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusOK, map[string]interface{}{
		"url":    url.String(),
		"upload": sessionToJSON(session),
	})
}

func (server *Server) completeUpload(w http.ResponseWriter, r *http.Request) {
	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}
	uploadID, ok := parseUUIDVar(w, r, "upload")
	if !ok {
		return
	}

	var req struct {
		Parts []struct {
			Number int    `json:"number"`
			ETag   string `json:"etag"`
		} `json:"parts"`
	}
	if err := decodeJSON(r, &req); err != nil {
		sendJSONError(w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	parts := make([]objectstore.Part, 0, len(req.Parts))
	for _, part := range req.Parts {
		parts = append(parts, objectstore.Part{Number: part.Number, ETag: part.ETag})
	}

	session, err := server.services.Upload.Complete(r.Context(), repo, uploadID, parts)
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusOK, sessionToJSON(session))
}

func (server *Server) abortUpload(w http.ResponseWriter, r *http.Request) {
	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}
	uploadID, ok := parseUUIDVar(w, r, "upload")
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			sendJSONError(w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
			return
		}
	}

	session, err := server.services.Upload.Abort(r.Context(), repo, uploadID, req.Reason)
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusOK, sessionToJSON(session))
}

func (server *Server) commitUpload(w http.ResponseWriter, r *http.Request) {
	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}
	uploadID, ok := parseUUIDVar(w, r, "upload")
	if !ok {
		return
	}

	session, err := server.services.Upload.Commit(r.Context(), repo, uploadID)
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusOK, sessionToJSON(session))
}
