// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package fortress

import (
	"context"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"artifortress.io/artifortress/fortress/audit"
	"artifortress.io/artifortress/fortress/auth"
	"artifortress.io/artifortress/fortress/gc"
	"artifortress.io/artifortress/fortress/objectstore"
	"artifortress.io/artifortress/fortress/packages"
	"artifortress.io/artifortress/fortress/policy"
	"artifortress.io/artifortress/fortress/reconcile"
	"artifortress.io/artifortress/fortress/repos"
	"artifortress.io/artifortress/fortress/upload"
	"artifortress.io/artifortress/fortress/web"
)

// Peer is the assembled control plane: adapters, services and the HTTP
// server. It holds no mutable state of its own beyond the running loops.
type Peer struct {
	Log    *zap.Logger
	DB     DB
	Store  objectstore.Store
	Config Config

	TenantID uuid.UUID

	Auth      *auth.Service
	Repos     *repos.Service
	Upload    *upload.Service
	Packages  *packages.Service
	Policy    *policy.Service
	GC        *gc.Service
	Reconcile *reconcile.Service
	AuditLog  *audit.Log

	Web *web.Server
}

// New wires a peer out of its configuration and adapters.
func New(log *zap.Logger, db DB, store objectstore.Store, config Config) (*Peer, error) {
	tenantID, err := uuid.Parse(config.Tenant.ID)
	if err != nil {
		return nil, errs.New("invalid tenant id: %v", err)
	}

	peer := &Peer{
		Log:      log,
		DB:       db,
		Store:    store,
		Config:   config,
		TenantID: tenantID,
	}

	peer.AuditLog = audit.NewLog(log.Named("audit"), db.Audit(), tenantID)

	peer.Auth, err = auth.NewService(log.Named("auth"), db.Auth(), config.Auth, tenantID)
	if err != nil {
		return nil, err
	}

	peer.Repos = repos.NewService(db.Repos())
	peer.Upload = upload.NewService(log.Named("upload"), db.Uploads(), db.Blobs(), store, config.Upload)
	peer.Packages = packages.NewService(log.Named("packages"), db.Packages(), config.Packages)
	peer.Policy = policy.NewService(log.Named("policy"), db.Policy(), policy.HintEngine{}, peer.AuditLog, tenantID, config.Policy)
	peer.GC = gc.NewService(log.Named("gc"), db.GC(), store, peer.AuditLog, tenantID, config.GC)
	peer.Reconcile = reconcile.NewService(db.Reconcile(), tenantID)

	peer.Web, err = web.NewServer(log.Named("web"), config.Server, web.Services{
		Auth:      peer.Auth,
		Repos:     peer.Repos,
		Upload:    peer.Upload,
		Packages:  peer.Packages,
		Policy:    peer.Policy,
		GC:        peer.GC,
		Reconcile: peer.Reconcile,
		AuditLog:  peer.AuditLog,
		Blobs:     db.Blobs(),
		Store:     store,
		Ping:      db.Ping,
	})
	if err != nil {
		return nil, err
	}

	return peer, nil
}

// Run starts the HTTP server and the background collector and blocks until
// ctx is cancelled or a component fails.
func (peer *Peer) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return peer.Web.Run(ctx)
	})
	group.Go(func() error {
		return peer.GC.Run(ctx)
	})
	return group.Wait()
}

// Close shuts down the peer's components.
func (peer *Peer) Close() error {
	return errs.Combine(
		peer.GC.Close(),
		peer.Web.Close(),
	)
}
