// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package web exposes the control plane as a JSON HTTP API.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"artifortress.io/artifortress/fortress/audit"
	"artifortress.io/artifortress/fortress/auth"
	"artifortress.io/artifortress/fortress/blobs"
	"artifortress.io/artifortress/fortress/gc"
	"artifortress.io/artifortress/fortress/objectstore"
	"artifortress.io/artifortress/fortress/packages"
	"artifortress.io/artifortress/fortress/policy"
	"artifortress.io/artifortress/fortress/reconcile"
	"artifortress.io/artifortress/fortress/repos"
	"artifortress.io/artifortress/fortress/upload"
)

// Error is the default error class for the web package.
var Error = errs.Class("web")

var mon = monkit.Package()

// readyTimeout caps the readiness probe independent of the client.
const readyTimeout = 3 * time.Second

// Config holds the HTTP server settings.
type Config struct {
	Address string `help:"address the api server listens on" default:":8080"`
}

// Services are the domain services the handlers call into.
type Services struct {
	Auth      *auth.Service
	Repos     *repos.Service
	Upload    *upload.Service
	Packages  *packages.Service
	Policy    *policy.Service
	GC        *gc.Service
	Reconcile *reconcile.Service
	AuditLog  *audit.Log
	Blobs     blobs.DB
	Store     objectstore.Store
	Ping      func(ctx context.Context) error
}

// Server is the JSON HTTP API server.
type Server struct {
	log      *zap.Logger
	config   Config
	services Services

	listener net.Listener
	server   http.Server
}

// NewServer binds the listener and builds the route table.
func NewServer(log *zap.Logger, config Config, services Services) (*Server, error) {
	server := &Server{
		log:      log,
		config:   config,
		services: services,
	}

	listener, err := net.Listen("tcp", config.Address)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	server.listener = listener
	server.server.Handler = server.Router()

	return server, nil
}

// Router builds the route table. It is exported so tests can drive the
// handlers without a listener.
func (server *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health/live", server.healthLive).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", server.healthReady).Methods(http.MethodGet)

	router.HandleFunc("/v1/auth/saml/metadata", server.samlMetadata).Methods(http.MethodGet)
	router.HandleFunc("/v1/auth/saml/acs", server.samlACS).Methods(http.MethodPost)
	router.HandleFunc("/v1/auth/pats", server.issuePAT).Methods(http.MethodPost)

	authed := router.NewRoute().Subrouter()
	authed.Use(server.withPrincipal)

	authed.HandleFunc("/v1/auth/whoami", server.whoami).Methods(http.MethodGet)
	authed.HandleFunc("/v1/auth/pats/revoke", server.requireGlobalAdmin(server.revokePAT)).Methods(http.MethodPost)

	authed.HandleFunc("/v1/repos", server.requireGlobalAdmin(server.createRepo)).Methods(http.MethodPost)
	authed.HandleFunc("/v1/repos", server.listRepos).Methods(http.MethodGet)
	authed.HandleFunc("/v1/repos/{repo}", server.requireRole(auth.RoleRead, server.getRepo)).Methods(http.MethodGet)
	authed.HandleFunc("/v1/repos/{repo}", server.requireRole(auth.RoleAdmin, server.deleteRepo)).Methods(http.MethodDelete)
	authed.HandleFunc("/v1/repos/{repo}/bindings", server.requireRole(auth.RoleAdmin, server.listBindings)).Methods(http.MethodGet)
	authed.HandleFunc("/v1/repos/{repo}/bindings/{subject}", server.requireRole(auth.RoleAdmin, server.upsertBinding)).Methods(http.MethodPut)

	authed.HandleFunc("/v1/repos/{repo}/uploads", server.requireRole(auth.RoleWrite, server.createUpload)).Methods(http.MethodPost)
	authed.HandleFunc("/v1/repos/{repo}/uploads/{upload}", server.requireRole(auth.RoleWrite, server.getUpload)).Methods(http.MethodGet)
	authed.HandleFunc("/v1/repos/{repo}/uploads/{upload}/parts", server.requireRole(auth.RoleWrite, server.presignPart)).Methods(http.MethodPost)
	authed.HandleFunc("/v1/repos/{repo}/uploads/{upload}/complete", server.requireRole(auth.RoleWrite, server.completeUpload)).Methods(http.MethodPost)
	authed.HandleFunc("/v1/repos/{repo}/uploads/{upload}/abort", server.requireRole(auth.RoleWrite, server.abortUpload)).Methods(http.MethodPost)
	authed.HandleFunc("/v1/repos/{repo}/uploads/{upload}/commit", server.requireRole(auth.RoleWrite, server.commitUpload)).Methods(http.MethodPost)

	authed.HandleFunc("/v1/repos/{repo}/blobs/{digest}", server.requireRole(auth.RoleRead, server.getBlob)).Methods(http.MethodGet, http.MethodHead)

	authed.HandleFunc("/v1/repos/{repo}/versions/drafts", server.requireRole(auth.RoleWrite, server.createDraft)).Methods(http.MethodPost)
	authed.HandleFunc("/v1/repos/{repo}/versions", server.requireRole(auth.RoleRead, server.listVersions)).Methods(http.MethodGet)
	authed.HandleFunc("/v1/repos/{repo}/versions/{version}", server.requireRole(auth.RoleRead, server.getVersion)).Methods(http.MethodGet)
	authed.HandleFunc("/v1/repos/{repo}/versions/{version}/entries", server.requireRole(auth.RoleWrite, server.upsertEntries)).Methods(http.MethodPost)
	authed.HandleFunc("/v1/repos/{repo}/versions/{version}/manifest", server.requireRole(auth.RoleWrite, server.upsertManifest)).Methods(http.MethodPut)
	authed.HandleFunc("/v1/repos/{repo}/versions/{version}/manifest", server.requireRole(auth.RoleRead, server.getManifest)).Methods(http.MethodGet)
	authed.HandleFunc("/v1/repos/{repo}/versions/{version}/publish", server.requireRole(auth.RolePromote, server.publishVersion)).Methods(http.MethodPost)
	authed.HandleFunc("/v1/repos/{repo}/versions/{version}/tombstone", server.requireRole(auth.RolePromote, server.tombstoneVersion)).Methods(http.MethodPost)

	authed.HandleFunc("/v1/repos/{repo}/policy/evaluations", server.requireRole(auth.RolePromote, server.evaluatePolicy)).Methods(http.MethodPost)
	authed.HandleFunc("/v1/repos/{repo}/quarantine", server.requireRole(auth.RolePromote, server.listQuarantine)).Methods(http.MethodGet)
	authed.HandleFunc("/v1/repos/{repo}/quarantine/{quarantine}/release", server.requireRole(auth.RolePromote, server.releaseQuarantine)).Methods(http.MethodPost)
	authed.HandleFunc("/v1/repos/{repo}/quarantine/{quarantine}/reject", server.requireRole(auth.RolePromote, server.rejectQuarantine)).Methods(http.MethodPost)

	authed.HandleFunc("/v1/admin/gc/runs", server.requireGlobalAdmin(server.startGCRun)).Methods(http.MethodPost)
	authed.HandleFunc("/v1/admin/gc/runs", server.requireGlobalAdmin(server.listGCRuns)).Methods(http.MethodGet)
	authed.HandleFunc("/v1/admin/ops/summary", server.requireGlobalAdmin(server.opsSummary)).Methods(http.MethodGet)
	authed.HandleFunc("/v1/admin/reconcile/blobs", server.requireGlobalAdmin(server.reconcileBlobs)).Methods(http.MethodGet)
	authed.HandleFunc("/v1/audit", server.requireGlobalAdmin(server.listAudit)).Methods(http.MethodGet)

	return router
}

// Run serves requests until ctx is cancelled.
func (server *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group
	group.Go(func() error {
		<-ctx.Done()
		return Error.Wrap(server.server.Shutdown(context.Background()))
	})
	group.Go(func() error {
		defer cancel()
		server.log.Info("server started", zap.String("address", server.Addr()))
		err := server.server.Serve(server.listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return Error.Wrap(err)
	})
	return group.Wait()
}

// Close releases the listener.
func (server *Server) Close() error {
	return Error.Wrap(server.server.Close())
}

// Addr reports the bound listen address.
func (server *Server) Addr() string {
	if server.listener == nil {
		return server.config.Address
	}
	return server.listener.Addr().String()
}

func (server *Server) healthLive(w http.ResponseWriter, r *http.Request) {
	sendJSONData(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (server *Server) healthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), readyTimeout)
	defer cancel()

	if err := server.services.Ping(ctx); err != nil {
		sendJSONError(w, "service_unavailable", "metadata store unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := server.services.Store.CheckAvailability(ctx); err != nil {
		sendJSONError(w, "service_unavailable", "object store unavailable", http.StatusServiceUnavailable)
		return
	}
	sendJSONData(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}
