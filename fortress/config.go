// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package fortress

import (
	"artifortress.io/artifortress/fortress/auth"
	"artifortress.io/artifortress/fortress/gc"
	"artifortress.io/artifortress/fortress/objectstore"
	"artifortress.io/artifortress/fortress/packages"
	"artifortress.io/artifortress/fortress/policy"
	"artifortress.io/artifortress/fortress/upload"
	"artifortress.io/artifortress/fortress/web"
)

// Config is the peer configuration, bound to flags, environment and the
// optional config file by the process harness.
type Config struct {
	Database DatabaseConfig
	Tenant   TenantConfig

	ObjectStore objectstore.Config
	Auth        auth.Config
	Upload      upload.Config
	Packages    packages.Config
	Policy      policy.Config
	GC          gc.Config
	Server      web.Config
}

// DatabaseConfig holds the metadata store connection settings.
type DatabaseConfig struct {
	URL string `help:"postgres connection string" default:"postgres://localhost/artifortress?sslmode=disable"`
}

// TenantConfig identifies the single logical tenant of this deployment.
type TenantConfig struct {
	ID string `help:"deployment tenant uuid" default:"00000000-0000-0000-0000-000000000001"`
}
