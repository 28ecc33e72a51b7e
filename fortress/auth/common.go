// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package auth resolves bearer credentials to principals and enforces
// repository-scoped roles.
package auth

import (
	"strings"

	"github.com/google/uuid"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	// Error is the default error class for the auth package.
	Error = errs.Class("auth")

	// ErrInvalidToken means the presented credential could not be
	// resolved to an active principal.
	ErrInvalidToken = errs.Class("auth: invalid token")

	// ErrInvalidRequest means the request itself was malformed.
	ErrInvalidRequest = errs.Class("auth: invalid request")

	// ErrNotFound means the referenced token or binding does not exist.
	ErrNotFound = errs.Class("auth: not found")
)

var mon = monkit.Package()

// Role is a repository permission level.
type Role string

// Known roles, in increasing privilege order except promote, which sits
// alongside write.
const (
	RoleRead    Role = "read"
	RoleWrite   Role = "write"
	RolePromote Role = "promote"
	RoleAdmin   Role = "admin"
)

// WildcardRepo grants across all repositories when combined with RoleAdmin.
const WildcardRepo = "*"

// ValidRole reports whether role is one of the known roles.
func ValidRole(role Role) bool {
	switch role {
	case RoleRead, RoleWrite, RolePromote, RoleAdmin:
		return true
	}
	return false
}

// Scope is a single repo_key:role grant.
type Scope struct {
	Repo string
	Role Role
}

// String renders the scope in its repo_key:role wire form.
func (s Scope) String() string {
	return s.Repo + ":" + string(s.Role)
}

// ParseScope parses a repo_key:role string.
func ParseScope(raw string) (Scope, error) {
	idx := strings.LastIndex(raw, ":")
	if idx <= 0 || idx == len(raw)-1 {
		return Scope{}, ErrInvalidRequest.New("malformed scope %q", raw)
	}
	scope := Scope{
		Repo: raw[:idx],
		Role: Role(raw[idx+1:]),
	}
	if !ValidRole(scope.Role) {
		return Scope{}, ErrInvalidRequest.New("unknown role in scope %q", raw)
	}
	if scope.Repo == WildcardRepo && scope.Role != RoleAdmin {
		return Scope{}, ErrInvalidRequest.New("wildcard scope must use role admin, got %q", raw)
	}
	return scope, nil
}

// Scopes is an ordered list of grants.
type Scopes []Scope

// ParseScopes parses a list of repo_key:role strings.
func ParseScopes(raw []string) (Scopes, error) {
	scopes := make(Scopes, 0, len(raw))
	for _, item := range raw {
		scope, err := ParseScope(item)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}
	return scopes, nil
}

// Strings renders the scopes in wire form.
func (s Scopes) Strings() []string {
	out := make([]string, 0, len(s))
	for _, scope := range s {
		out = append(out, scope.String())
	}
	return out
}

// HasRole reports whether the scopes satisfy the required role on repoKey.
//
// *:admin satisfies everything. admin on a repo implies read, write and
// promote on that repo. promote implies read, and write implies read.
// Wildcards never carry non-admin roles.
func (s Scopes) HasRole(repoKey string, required Role) bool {
	for _, scope := range s {
		if scope.Repo == WildcardRepo && scope.Role == RoleAdmin {
			return true
		}
		if scope.Repo != repoKey {
			continue
		}
		if roleSatisfies(scope.Role, required) {
			return true
		}
	}
	return false
}

// HasGlobalAdmin reports whether the scopes carry the *:admin wildcard.
func (s Scopes) HasGlobalAdmin() bool {
	for _, scope := range s {
		if scope.Repo == WildcardRepo && scope.Role == RoleAdmin {
			return true
		}
	}
	return false
}

func roleSatisfies(held, required Role) bool {
	if held == required {
		return true
	}
	switch held {
	case RoleAdmin:
		return true
	case RoleWrite:
		return required == RoleRead
	case RolePromote:
		return required == RoleRead
	}
	return false
}

// Source says how a principal authenticated.
type Source string

// Principal sources.
const (
	SourcePAT       Source = "pat"
	SourceOIDC      Source = "oidc"
	SourceSAMLPAT   Source = "saml-pat"
	SourceBootstrap Source = "bootstrap"
)

// Principal is a resolved caller identity.
type Principal struct {
	Subject  string
	TenantID uuid.UUID
	Scopes   Scopes
	Source   Source
}
