// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package repos manages repository records and their typed configuration.
package repos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	// Error is the default error class for the repos package.
	Error = errs.Class("repos")

	// ErrInvalidRequest means the repository definition is malformed.
	ErrInvalidRequest = errs.Class("repos: invalid request")

	// ErrNotFound means the repository does not exist.
	ErrNotFound = errs.Class("repos: not found")

	// ErrConflict means a uniqueness or state guard failed.
	ErrConflict = errs.Class("repos: conflict")
)

var mon = monkit.Package()

// Type discriminates how a repository serves content.
type Type string

// Repository types.
const (
	TypeLocal   Type = "local"
	TypeRemote  Type = "remote"
	TypeVirtual Type = "virtual"
)

// ValidType reports whether t names a known repository type.
func ValidType(t Type) bool {
	switch t {
	case TypeLocal, TypeRemote, TypeVirtual:
		return true
	}
	return false
}

// RepoConfig holds the per-type settings. Local repositories carry none,
// remote ones an upstream URL, virtual ones an ordered member list.
type RepoConfig struct {
	UpstreamURL string   `json:"upstreamUrl,omitempty"`
	Members     []string `json:"members,omitempty"`
}

// Repository is one addressable artifact repository.
type Repository struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Key       string
	Type      Type
	Config    RepoConfig
	CreatedAt time.Time
}

// DB is the metadata store surface for repositories.
type DB interface {
	// Create inserts the repository. A duplicate key within the tenant
	// returns ErrConflict.
	Create(ctx context.Context, repo Repository) (Repository, error)
	// Get fetches a repository by key.
	Get(ctx context.Context, tenantID uuid.UUID, repoKey string) (Repository, error)
	// List returns the tenant's repositories ordered by key.
	List(ctx context.Context, tenantID uuid.UUID) ([]Repository, error)
	// Delete removes a repository that holds no packages; otherwise it
	// returns ErrConflict.
	Delete(ctx context.Context, tenantID uuid.UUID, repoKey string) error
}

// MaxKeyLength bounds repository keys.
const MaxKeyLength = 100

// ValidateKey checks a repository key. Colons are reserved for scopes and
// slashes for object keys, so neither may appear.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidRequest.New("repository key is required")
	}
	if len(key) > MaxKeyLength {
		return ErrInvalidRequest.New("repository key exceeds %d characters", MaxKeyLength)
	}
	if key == "*" {
		return ErrInvalidRequest.New("repository key %q is reserved", key)
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return ErrInvalidRequest.New("repository key contains invalid character %q", r)
		}
	}
	return nil
}

// Service validates and stores repositories.
type Service struct {
	db DB
}

// NewService creates a repository service.
func NewService(db DB) *Service {
	return &Service{db: db}
}

// Create validates and inserts a repository. Virtual member graphs are
// checked for existence, self-reference and cycles against the current
// repository set.
func (service *Service) Create(ctx context.Context, repo Repository) (_ Repository, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ValidateKey(repo.Key); err != nil {
		return Repository{}, err
	}
	if !ValidType(repo.Type) {
		return Repository{}, ErrInvalidRequest.New("unknown repository type %q", repo.Type)
	}

	switch repo.Type {
	case TypeLocal:
		if repo.Config.UpstreamURL != "" || len(repo.Config.Members) > 0 {
			return Repository{}, ErrInvalidRequest.New("local repositories carry no upstream or members")
		}
	case TypeRemote:
		url := strings.TrimSpace(repo.Config.UpstreamURL)
		if url == "" {
			return Repository{}, ErrInvalidRequest.New("remote repositories require an upstream url")
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return Repository{}, ErrInvalidRequest.New("upstream url must be http or https")
		}
		repo.Config.UpstreamURL = url
	case TypeVirtual:
		if err := service.validateMembers(ctx, repo); err != nil {
			return Repository{}, err
		}
	}

	if repo.ID == uuid.Nil {
		repo.ID = uuid.New()
	}
	repo.CreatedAt = time.Now().UTC()
	return service.db.Create(ctx, repo)
}

// Get fetches a repository by key.
func (service *Service) Get(ctx context.Context, tenantID uuid.UUID, repoKey string) (_ Repository, err error) {
	defer mon.Task()(&ctx)(&err)
	return service.db.Get(ctx, tenantID, repoKey)
}

// List returns the tenant's repositories.
func (service *Service) List(ctx context.Context, tenantID uuid.UUID) (_ []Repository, err error) {
	defer mon.Task()(&ctx)(&err)
	return service.db.List(ctx, tenantID)
}

// Delete removes an empty repository.
func (service *Service) Delete(ctx context.Context, tenantID uuid.UUID, repoKey string) (err error) {
	defer mon.Task()(&ctx)(&err)
	return service.db.Delete(ctx, tenantID, repoKey)
}

// validateMembers checks a virtual repository's member list: members must
// exist, must not include the repository itself, and following virtual
// members must never loop back.
func (service *Service) validateMembers(ctx context.Context, repo Repository) error {
	if len(repo.Config.Members) == 0 {
		return ErrInvalidRequest.New("virtual repositories require at least one member")
	}

	seen := map[string]bool{}
	for _, member := range repo.Config.Members {
		if member == repo.Key {
			return ErrInvalidRequest.New("virtual repository may not include itself")
		}
		if seen[member] {
			return ErrInvalidRequest.New("duplicate member %q", member)
		}
		seen[member] = true
	}

	existing, err := service.db.List(ctx, repo.TenantID)
	if err != nil {
		return Error.Wrap(err)
	}
	byKey := make(map[string]Repository, len(existing)+1)
	for _, r := range existing {
		byKey[r.Key] = r
	}
	for _, member := range repo.Config.Members {
		if _, ok := byKey[member]; !ok {
			return ErrInvalidRequest.New("member %q does not exist", member)
		}
	}

	// walk the member graph including the new repository, looking for a
	// path back to it.
	byKey[repo.Key] = repo
	var visit func(key string, path map[string]bool) error
	visit = func(key string, path map[string]bool) error {
		if path[key] {
			return ErrInvalidRequest.New("virtual membership cycle through %q", key)
		}
		node, ok := byKey[key]
		if !ok || node.Type != TypeVirtual {
			return nil
		}
		path[key] = true
		defer delete(path, key)
		for _, member := range node.Config.Members {
			if err := visit(member, path); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(repo.Key, map[string]bool{})
}
