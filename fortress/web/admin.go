// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"artifortress.io/artifortress/fortress/audit"
	"artifortress.io/artifortress/fortress/gc"
)

type gcRunJSON struct {
	ID                  uuid.UUID  `json:"id"`
	Mode                string     `json:"mode"`
	MarkedCount         int64      `json:"marked_count"`
	CandidateBlobCount  int64      `json:"candidate_blob_count"`
	DeletedBlobCount    int64      `json:"deleted_blob_count"`
	DeletedVersionCount int64      `json:"deleted_version_count"`
	DeleteErrorCount    int64      `json:"delete_error_count"`
	Failed              bool       `json:"failed"`
	StartedAt           time.Time  `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

func gcRunToJSON(run gc.Run) gcRunJSON {
	return gcRunJSON{
		ID:                  run.ID,
		Mode:                string(run.Mode),
		MarkedCount:         run.MarkedCount,
		CandidateBlobCount:  run.CandidateBlobCount,
		DeletedBlobCount:    run.DeletedBlobCount,
		DeletedVersionCount: run.DeletedVersionCount,
		DeleteErrorCount:    run.DeleteErrorCount,
		Failed:              run.Failed,
		StartedAt:           run.StartedAt,
		CompletedAt:         run.CompletedAt,
	}
}

func (server *Server) startGCRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode         string `json:"mode"`
		GraceSeconds *int64 `json:"grace_seconds"`
		BatchSize    int    `json:"batch_size"`
	}
	if err := decodeJSON(r, &req); err != nil {
		sendJSONError(w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	params := gc.Params{
		Mode:      gc.Mode(req.Mode),
		BatchSize: req.BatchSize,
	}
	if req.GraceSeconds != nil {
		params.Grace = time.Duration(*req.GraceSeconds) * time.Second
		params.GraceSet = true
	}

	run, err := server.services.GC.RunOnce(r.Context(), params)
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusCreated, gcRunToJSON(run))
}

func (server *Server) listGCRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	runs, err := server.services.GC.ListRuns(r.Context(), limit)
	if err != nil {
		server.serveError(w, err)
		return
	}

	out := make([]gcRunJSON, 0, len(runs))
	for _, run := range runs {
		out = append(out, gcRunToJSON(run))
	}
	sendJSONData(w, http.StatusOK, map[string]interface{}{"runs": out})
}

func (server *Server) opsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := server.services.Reconcile.OpsSummary(r.Context())
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusOK, map[string]interface{}{
		"pending_outbox":          summary.PendingOutbox,
		"available_now_outbox":    summary.AvailableNowOutbox,
		"oldest_pending_age_secs": summary.OldestPendingAgeSecs,
		"pending_search_jobs":     summary.PendingSearchJobs,
		"failed_search_jobs":      summary.FailedSearchJobs,
		"incomplete_gc_runs":      summary.IncompleteGCRuns,
		"policy_timeouts_24h":     summary.PolicyTimeouts24h,
	})
}

func (server *Server) reconcileBlobs(w http.ResponseWriter, r *http.Request) {
	report, err := server.services.Reconcile.BlobReport(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		server.serveError(w, err)
		return
	}
	sendJSONData(w, http.StatusOK, report)
}

func (server *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := audit.Filter{
		Actor:        query.Get("actor"),
		Action:       query.Get("action"),
		ResourceType: query.Get("resource_type"),
		ResourceID:   query.Get("resource_id"),
		Limit:        queryInt(r, "limit", 0),
	}
	if since := query.Get("since"); since != "" {
		parsed, err := time.Parse(time.RFC3339, since)
		if err != nil {
			sendJSONError(w, codeInvalidRequest, "since must be rfc3339", http.StatusBadRequest)
			return
		}
		filter.Since = parsed
	}

	entries, err := server.services.AuditLog.List(r.Context(), filter)
	if err != nil {
		server.serveError(w, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		out = append(out, map[string]interface{}{
			"id":            entry.ID,
			"actor":         entry.Actor,
			"action":        entry.Action,
			"resource_type": entry.ResourceType,
			"resource_id":   entry.ResourceID,
			"details":       entry.Details,
			"occurred_at":   entry.OccurredAt,
		})
	}
	sendJSONData(w, http.StatusOK, map[string]interface{}{"entries": out})
}

// queryInt reads an integer query parameter, falling back on absence or
// garbage.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
