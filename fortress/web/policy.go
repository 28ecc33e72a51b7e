// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"artifortress.io/artifortress/fortress/policy"
)

type evaluationJSON struct {
	ID            uuid.UUID `json:"id"`
	VersionID     uuid.UUID `json:"version_id"`
	Action        string    `json:"action"`
	Decision      string    `json:"decision"`
	Source        string    `json:"source"`
	Reason        string    `json:"reason"`
	EngineVersion string    `json:"engine_version,omitempty"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
	EvaluatedBy   string    `json:"evaluated_by"`
}

func evaluationToJSON(evaluation policy.Evaluation) evaluationJSON {
	return evaluationJSON{
		ID:            evaluation.ID,
		VersionID:     evaluation.VersionID,
		Action:        string(evaluation.Action),
		Decision:      string(evaluation.Decision),
		Source:        string(evaluation.Source),
		Reason:        evaluation.Reason,
		EngineVersion: evaluation.EngineVersion,
		EvaluatedAt:   evaluation.EvaluatedAt,
		EvaluatedBy:   evaluation.EvaluatedBy,
	}
}

type quarantineJSON struct {
	ID         uuid.UUID  `json:"id"`
	VersionID  uuid.UUID  `json:"version_id"`
	Status     string     `json:"status"`
	Reason     string     `json:"reason"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
}

func quarantineToJSON(item policy.Item) quarantineJSON {
	return quarantineJSON{
		ID:         item.ID,
		VersionID:  item.VersionID,
		Status:     string(item.Status),
		Reason:     item.Reason,
		CreatedAt:  item.CreatedAt,
		ResolvedAt: item.ResolvedAt,
		ResolvedBy: item.ResolvedBy,
	}
}

// gatePolicy runs the publish gate. The evaluation is persisted either way;
// the caller proceeds only on an allow decision. A timeout propagates as
// policy.ErrTimeout and fails the gate closed.
func (server *Server) gatePolicy(ctx context.Context, repoID, versionID uuid.UUID, hint, engineVersion, subject string) (bool, error) {
	evaluation, err := server.services.Policy.Evaluate(ctx, policy.Input{
		TenantID:      server.services.Auth.TenantID(),
		RepoID:        repoID,
		VersionID:     versionID,
		Action:        policy.ActionPublish,
		Hint:          policy.Decision(hint),
		EngineVersion: engineVersion,
	}, subject)
	if err != nil {
		return false, err
	}
	return evaluation.Decision == policy.DecisionAllow, nil
}

func (server *Server) evaluatePolicy(w http.ResponseWriter, r *http.Request) {
	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}
	principal, _ := principalFrom(r.Context())

	var req struct {
		VersionID     uuid.UUID `json:"version_id"`
		Action        string    `json:"action"`
		Hint          string    `json:"hint"`
		EngineVersion string    `json:"engine_version"`
	}
	if err := decodeJSON(r, &req); err != nil {
		sendJSONError(w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	evaluation, err := server.services.Policy.Evaluate(r.Context(), policy.Input{
		TenantID:      server.services.Auth.TenantID(),
		RepoID:        repo.ID,
		VersionID:     req.VersionID,
		Action:        policy.Action(req.Action),
		Hint:          policy.Decision(req.Hint),
		EngineVersion: req.EngineVersion,
	}, principal.Subject)
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusCreated, evaluationToJSON(evaluation))
}

func (server *Server) listQuarantine(w http.ResponseWriter, r *http.Request) {
	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}

	items, err := server.services.Policy.ListQuarantine(r.Context(), repo.ID)
	if err != nil {
		server.serveError(w, err)
		return
	}

	out := make([]quarantineJSON, 0, len(items))
	for _, item := range items {
		out = append(out, quarantineToJSON(item))
	}
	sendJSONData(w, http.StatusOK, map[string]interface{}{"quarantine": out})
}

func (server *Server) releaseQuarantine(w http.ResponseWriter, r *http.Request) {
	server.resolveQuarantine(w, r, policy.StatusReleased)
}

func (server *Server) rejectQuarantine(w http.ResponseWriter, r *http.Request) {
	server.resolveQuarantine(w, r, policy.StatusRejected)
}

func (server *Server) resolveQuarantine(w http.ResponseWriter, r *http.Request, status policy.QuarantineStatus) {
	repo, ok := server.loadRepo(w, r)
	if !ok {
		return
	}
	quarantineID, ok := parseUUIDVar(w, r, "quarantine")
	if !ok {
		return
	}
	principal, _ := principalFrom(r.Context())

	item, err := server.services.Policy.Resolve(r.Context(), repo.ID, quarantineID, status, principal.Subject)
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusOK, quarantineToJSON(item))
}
