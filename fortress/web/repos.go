// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"artifortress.io/artifortress/fortress/auth"
	"artifortress.io/artifortress/fortress/repos"
)

type repoJSON struct {
	ID        uuid.UUID        `json:"id"`
	Key       string           `json:"key"`
	Type      string           `json:"type"`
	Config    repos.RepoConfig `json:"config"`
	CreatedAt time.Time        `json:"created_at"`
}

func repoToJSON(repo repos.Repository) repoJSON {
	return repoJSON{
		ID:        repo.ID,
		Key:       repo.Key,
		Type:      string(repo.Type),
		Config:    repo.Config,
		CreatedAt: repo.CreatedAt,
	}
}

// loadRepo resolves the {repo} route variable to a repository row, writing
// the error response on failure.
func (server *Server) loadRepo(w http.ResponseWriter, r *http.Request) (repos.Repository, bool) {
	repo, err := server.services.Repos.Get(r.Context(), server.services.Auth.TenantID(), muxVar(r, "repo"))
	if err != nil {
		server.serveError(w, err)
		return repos.Repository{}, false
	}
	return repo, true
}

func (server *Server) createRepo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key    string           `json:"key"`
		Type   string           `json:"type"`
		Config repos.RepoConfig `json:"config"`
	}
	if err := decodeJSON(r, &req); err != nil {
		sendJSONError(w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	repo, err := server.services.Repos.Create(r.Context(), repos.Repository{
		TenantID: server.services.Auth.TenantID(),
		Key:      req.Key,
		Type:     repos.Type(req.Type),
		Config:   req.Config,
	})
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusCreated, repoToJSON(repo))
}

func (server *Server) getRepo(w http.ResponseWriter, r *http.Request) {
	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}
	sendJSONData(w, http.StatusOK, repoToJSON(repo))
}

// listRepos answers with the repositories the caller can read. Global
// admins see everything.
func (server *Server) listRepos(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r.Context())
	if !ok {
		sendJSONError(w, codeUnauthenticated, "missing bearer token", http.StatusUnauthorized)
		return
	}

	all, err := server.services.Repos.List(r.Context(), server.services.Auth.TenantID())
	if err != nil {
		server.serveError(w, err)
		return
	}

	visible := make([]repoJSON, 0, len(all))
	for _, repo := range all {
		if principal.Scopes.HasRole(repo.Key, auth.RoleRead) {
			visible = append(visible, repoToJSON(repo))
		}
	}
	sendJSONData(w, http.StatusOK, map[string]interface{}{"repositories": visible})
}

func (server *Server) deleteRepo(w http.ResponseWriter, r *http.Request) {
	err := server.services.Repos.Delete(r.Context(), server.services.Auth.TenantID(), muxVar(r, "repo"))
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

type bindingJSON struct {
	Subject   string    `json:"subject"`
	Roles     []string  `json:"roles"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (server *Server) listBindings(w http.ResponseWriter, r *http.Request) {
	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}

	bindings, err := server.services.Auth.BindingsForRepo(r.Context(), repo.ID)
	if err != nil {
		server.serveError(w, err)
		return
	}

	out := make([]bindingJSON, 0, len(bindings))
	for _, binding := range bindings {
		roles := make([]string, 0, len(binding.Roles))
		for _, role := range binding.Roles {
			roles = append(roles, string(role))
		}
		out = append(out, bindingJSON{
			Subject:   binding.Subject,
			Roles:     roles,
			UpdatedAt: binding.UpdatedAt,
		})
	}
	sendJSONData(w, http.StatusOK, map[string]interface{}{"bindings": out})
}

func (server *Server) upsertBinding(w http.ResponseWriter, r *http.Request) {
	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}

	var req struct {
		Roles []string `json:"roles"`
	}
	if err := decodeJSON(r, &req); err != nil {
		sendJSONError(w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	roles := make([]auth.Role, 0, len(req.Roles))
	for _, role := range req.Roles {
		roles = append(roles, auth.Role(role))
	}
	err := server.services.Auth.UpsertBinding(r.Context(), auth.Binding{
		RepoID:  repo.ID,
		RepoKey: repo.Key,
		Subject: muxVar(r, "subject"),
		Roles:   roles,
	})
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusOK, map[string]interface{}{"updated": true})
}
