// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"artifortress.io/artifortress/fortress/auth"
)

// BootstrapHeader carries the shared secret that lets an operator mint the
// first token of a deployment.
const BootstrapHeader = "X-Bootstrap-Token"

type patJSON struct {
	ID        uuid.UUID `json:"id"`
	Subject   string    `json:"subject"`
	Scopes    []string  `json:"scopes"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Token     string    `json:"token,omitempty"`
}

func patToJSON(pat auth.PAT, plaintext string) patJSON {
	return patJSON{
		ID:        pat.ID,
		Subject:   pat.Subject,
		Scopes:    pat.Scopes.Strings(),
		Source:    string(pat.Source),
		CreatedAt: pat.CreatedAt,
		ExpiresAt: pat.ExpiresAt,
		Token:     plaintext,
	}
}

// issuePAT mints a token. The route is open so that the bootstrap header
// works before any token exists; without it the caller must present a
// credential carrying the *:admin wildcard.
func (server *Server) issuePAT(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !server.services.Auth.VerifyBootstrap(r.Header.Get(BootstrapHeader)) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			sendJSONError(w, codeUnauthenticated, "bootstrap header or bearer token required", http.StatusUnauthorized)
			return
		}
		principal, err := server.services.Auth.Resolve(ctx, header[len(prefix):])
		if err != nil {
			server.serveError(w, err)
			return
		}
		if !principal.Scopes.HasGlobalAdmin() {
			sendJSONError(w, codeForbidden, "token issuance requires the *:admin scope", http.StatusForbidden)
			return
		}
	}

	var req struct {
		Subject    string   `json:"subject"`
		Scopes     []string `json:"scopes"`
		TTLMinutes int      `json:"ttl_minutes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		sendJSONError(w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	pat, plaintext, err := server.services.Auth.IssuePAT(ctx, auth.IssuePATRequest{
		Subject:    req.Subject,
		Scopes:     req.Scopes,
		TTLMinutes: req.TTLMinutes,
	})
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusCreated, patToJSON(pat, plaintext))
}

func (server *Server) revokePAT(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TokenID uuid.UUID `json:"token_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		sendJSONError(w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}
	if req.TokenID == uuid.Nil {
		sendJSONError(w, codeInvalidRequest, "token_id is required", http.StatusBadRequest)
		return
	}

	if err := server.services.Auth.RevokePAT(r.Context(), req.TokenID); err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusOK, map[string]interface{}{"revoked": true})
}

func (server *Server) whoami(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r.Context())
	if !ok {
		sendJSONError(w, codeUnauthenticated, "missing bearer token", http.StatusUnauthorized)
		return
	}
	sendJSONData(w, http.StatusOK, map[string]interface{}{
		"subject":   principal.Subject,
		"tenant_id": principal.TenantID,
		"scopes":    principal.Scopes.Strings(),
		"source":    string(principal.Source),
	})
}

func (server *Server) samlMetadata(w http.ResponseWriter, r *http.Request) {
	metadata := server.services.Auth.SAMLMetadata()
	if metadata == nil {
		sendJSONError(w, codeNotFound, "saml is not enabled", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(metadata)
}

// samlACS consumes a posted SAML response and answers with a short-lived
// token for the asserted subject.
func (server *Server) samlACS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		sendJSONError(w, codeInvalidRequest, "malformed form body", http.StatusBadRequest)
		return
	}
	samlResponse := r.PostFormValue("SAMLResponse")
	if samlResponse == "" {
		sendJSONError(w, codeInvalidRequest, "SAMLResponse is required", http.StatusBadRequest)
		return
	}

	pat, plaintext, err := server.services.Auth.ConsumeSAML(r.Context(), samlResponse)
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusCreated, patToJSON(pat, plaintext))
}
