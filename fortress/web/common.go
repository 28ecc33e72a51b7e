// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"artifortress.io/artifortress/fortress/auth"
	"artifortress.io/artifortress/fortress/blobs"
	"artifortress.io/artifortress/fortress/gc"
	"artifortress.io/artifortress/fortress/objectstore"
	"artifortress.io/artifortress/fortress/packages"
	"artifortress.io/artifortress/fortress/policy"
	"artifortress.io/artifortress/fortress/repos"
	"artifortress.io/artifortress/fortress/upload"
)

// Error codes returned in the "error" field of failure bodies.
const (
	codeInvalidRequest     = "invalid_request"
	codeUnauthenticated    = "unauthenticated"
	codeForbidden          = "forbidden"
	codeNotFound           = "not_found"
	codeConflict           = "conflict"
	codeVerificationFailed = "upload_verification_failed"
	codeInvalidRange       = "range_invalid"
	codeQuarantinedBlob    = "quarantined_blob"
	codePolicyTimeout      = "policy_timeout"
	codeUnavailable        = "service_unavailable"
)

// sendJSONData writes a success payload.
func sendJSONData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// sendJSONError writes a failure body with the shared error envelope.
func sendJSONError(w http.ResponseWriter, code, message string, status int) {
	sendJSONData(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// serveError maps a domain error onto an HTTP status and error code. The
// structured verification and digest failures keep their detail fields so
// clients can act on them.
func (server *Server) serveError(w http.ResponseWriter, err error) {
	var verification *upload.VerificationError
	if errors.As(err, &verification) {
		sendJSONData(w, http.StatusConflict, map[string]interface{}{
			"error":           codeVerificationFailed,
			"message":         verification.Error(),
			"reason":          verification.Reason,
			"expected_digest": verification.ExpectedDigest,
			"actual_digest":   verification.ActualDigest,
			"expected_length": verification.ExpectedLength,
			"actual_length":   verification.ActualLength,
		})
		return
	}

	var digestErr *packages.DigestError
	if errors.As(err, &digestErr) {
		sendJSONData(w, http.StatusConflict, map[string]interface{}{
			"error":   codeConflict,
			"message": digestErr.Error(),
			"digest":  digestErr.Digest,
		})
		return
	}

	switch {
	case auth.ErrInvalidToken.Has(err):
		sendJSONError(w, codeUnauthenticated, err.Error(), http.StatusUnauthorized)
	case policy.ErrTimeout.Has(err):
		sendJSONError(w, codePolicyTimeout, err.Error(), http.StatusServiceUnavailable)
	case objectstore.ErrInvalidRange.Has(err):
		sendJSONError(w, codeInvalidRange, err.Error(), http.StatusRequestedRangeNotSatisfiable)
	case isInvalidRequest(err):
		sendJSONError(w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
	case isNotFound(err):
		sendJSONError(w, codeNotFound, err.Error(), http.StatusNotFound)
	case isConflict(err):
		sendJSONError(w, codeConflict, err.Error(), http.StatusConflict)
	default:
		// storage outages, database faults and everything unrecognized
		server.log.Error("request failed", zap.Error(err))
		sendJSONError(w, codeUnavailable, "service temporarily unavailable", http.StatusServiceUnavailable)
	}
}

func isInvalidRequest(err error) bool {
	return auth.ErrInvalidRequest.Has(err) ||
		repos.ErrInvalidRequest.Has(err) ||
		upload.ErrInvalidRequest.Has(err) ||
		packages.ErrInvalidRequest.Has(err) ||
		policy.ErrInvalidRequest.Has(err) ||
		gc.ErrInvalidRequest.Has(err) ||
		objectstore.ErrInvalidRequest.Has(err)
}

func isNotFound(err error) bool {
	return auth.ErrNotFound.Has(err) ||
		repos.ErrNotFound.Has(err) ||
		upload.ErrNotFound.Has(err) ||
		packages.ErrNotFound.Has(err) ||
		policy.ErrNotFound.Has(err) ||
		blobs.ErrNotFound.Has(err) ||
		objectstore.ErrNotFound.Has(err)
}

func isConflict(err error) bool {
	return repos.ErrConflict.Has(err) ||
		upload.ErrConflict.Has(err) ||
		packages.ErrConflict.Has(err) ||
		policy.ErrConflict.Has(err) ||
		blobs.ErrConflictingLength.Has(err)
}

// decodeJSON parses a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, into interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return Error.New("malformed json body: %v", err)
	}
	return nil
}

// muxVar reads one route variable.
func muxVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

type principalKey struct{}

// principalFrom pulls the resolved principal out of the request context.
func principalFrom(ctx context.Context) (auth.Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(auth.Principal)
	return principal, ok
}

// withPrincipal resolves the Authorization header on every request behind
// the authenticated subrouter.
func (server *Server) withPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			sendJSONError(w, codeUnauthenticated, "missing bearer token", http.StatusUnauthorized)
			return
		}
		principal, err := server.services.Auth.Resolve(r.Context(), header[len(prefix):])
		if err != nil {
			server.serveError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole gates a handler on the caller holding the role for the repo
// named in the route.
func (server *Server) requireRole(role auth.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFrom(r.Context())
		if !ok {
			sendJSONError(w, codeUnauthenticated, "missing bearer token", http.StatusUnauthorized)
			return
		}
		repoKey := muxVar(r, "repo")
		if !principal.Scopes.HasRole(repoKey, role) {
			sendJSONError(w, codeForbidden, "missing role "+string(role)+" on repository "+repoKey, http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// requireGlobalAdmin gates a handler on the *:admin wildcard.
func (server *Server) requireGlobalAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFrom(r.Context())
		if !ok {
			sendJSONError(w, codeUnauthenticated, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if !principal.Scopes.HasGlobalAdmin() {
			sendJSONError(w, codeForbidden, "requires the *:admin scope", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}
