// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// TokenPrefix starts every personal access token issued by this service.
const TokenPrefix = "afp_"

// PAT is a personal access token row. Only the sha-256 of the plaintext is
// ever stored. Source records how the token came to be, so principals keep
// their federation provenance.
type PAT struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Subject   string
	TokenHash string
	Scopes    Scopes
	Source    Source
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Active reports whether the token is usable at now.
func (pat PAT) Active(now time.Time) bool {
	if pat.RevokedAt != nil {
		return false
	}
	return now.Before(pat.ExpiresAt)
}

// Binding grants roles to a subject on one repository.
type Binding struct {
	RepoID    uuid.UUID
	RepoKey   string
	Subject   string
	Roles     []Role
	UpdatedAt time.Time
}

// DB is the metadata store surface the auth service needs.
type DB interface {
	// CreatePAT stores a new token row. The token hash is unique.
	CreatePAT(ctx context.Context, pat PAT) error
	// PATByHash finds a token row by the sha-256 hex of its plaintext.
	PATByHash(ctx context.Context, tenantID uuid.UUID, hash string) (PAT, error)
	// RevokePAT stamps revoked_at on an unrevoked token.
	RevokePAT(ctx context.Context, tenantID, tokenID uuid.UUID, now time.Time) error

	// UpsertBinding stores the roles for (repo, subject), replacing any
	// previous set.
	UpsertBinding(ctx context.Context, binding Binding) error
	// BindingsForSubject lists a subject's bindings across repositories.
	BindingsForSubject(ctx context.Context, tenantID uuid.UUID, subject string) ([]Binding, error)
	// BindingsForRepo lists all bindings on one repository.
	BindingsForRepo(ctx context.Context, repoID uuid.UUID) ([]Binding, error)
}

// GenerateToken returns a fresh plaintext token and its storage hash.
func GenerateToken() (plaintext, hash string, err error) {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", "", Error.Wrap(err)
	}
	plaintext = TokenPrefix + base64.RawURLEncoding.EncodeToString(secret[:])
	return plaintext, HashToken(plaintext), nil
}

// HashToken returns the lowercase hex sha-256 of a presented token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
