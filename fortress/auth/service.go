// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package auth

import (
	"context"
	"crypto/subtle"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Token lifetime bounds for issued PATs, in minutes.
const (
	MinTokenTTL     = 5 * time.Minute
	MaxTokenTTL     = 1440 * time.Minute
	DefaultTokenTTL = 60 * time.Minute
)

// Config holds the identity settings.
type Config struct {
	BootstrapSecret string `help:"shared secret accepted in the bootstrap header for first-token issuance" default:""`

	OIDC OIDCConfig
	SAML SAMLConfig
}

// OIDCConfig configures JWT federation.
type OIDCConfig struct {
	Enabled      bool   `help:"accept OIDC JWTs as bearer credentials" default:"false"`
	Issuer       string `help:"required iss claim" default:""`
	Audience     string `help:"required aud claim" default:""`
	HS256Secret  string `help:"shared secret for HS256 tokens" default:""`
	JWKS         string `help:"inline JWKS document with RS256 verification keys" default:""`
	RoleMappings string `help:"comma-separated claim|value|repo|role mappings" default:""`
}

// SAMLConfig configures the SAML assertion consumer.
type SAMLConfig struct {
	Enabled        bool          `help:"accept SAML responses on the ACS endpoint" default:"false"`
	ExpectedIssuer string        `help:"required assertion issuer" default:""`
	SPEntityID     string        `help:"our service provider entity id" default:""`
	MetadataURL    string        `help:"identity provider metadata location, published in SP metadata" default:""`
	RoleMappings   string        `help:"comma-separated attribute|value|repo|role mappings" default:""`
	TokenTTL       time.Duration `help:"lifetime of PATs issued through the ACS" default:"1h"`
}

// Service resolves principals and manages tokens and bindings.
type Service struct {
	log      *zap.Logger
	db       DB
	config   Config
	tenantID uuid.UUID

	oidc *oidcVerifier
	saml *samlConsumer
}

// NewService creates an auth service. OIDC and SAML federation are prepared
// up front so configuration faults surface at startup.
func NewService(log *zap.Logger, db DB, config Config, tenantID uuid.UUID) (*Service, error) {
	service := &Service{
		log:      log,
		db:       db,
		config:   config,
		tenantID: tenantID,
	}

	if config.OIDC.Enabled {
		verifier, err := newOIDCVerifier(config.OIDC)
		if err != nil {
			return nil, err
		}
		service.oidc = verifier
	}
	if config.SAML.Enabled {
		consumer, err := newSAMLConsumer(config.SAML)
		if err != nil {
			return nil, err
		}
		service.saml = consumer
	}
	return service, nil
}

// TenantID returns the deployment tenant.
func (service *Service) TenantID() uuid.UUID { return service.tenantID }

// Resolve turns a bearer token into a principal. PAT lookup runs first;
// when it misses and OIDC is enabled the token is verified as a JWT.
func (service *Service) Resolve(ctx context.Context, bearer string) (_ Principal, err error) {
	defer mon.Task()(&ctx)(&err)

	if bearer == "" {
		return Principal{}, ErrInvalidToken.New("empty bearer token")
	}

	now := time.Now().UTC()

	pat, err := service.db.PATByHash(ctx, service.tenantID, HashToken(bearer))
	switch {
	case err == nil:
		if !pat.Active(now) {
			return Principal{}, ErrInvalidToken.New("token expired or revoked")
		}
		source := pat.Source
		if source == "" {
			source = SourcePAT
		}
		return Principal{
			Subject:  pat.Subject,
			TenantID: pat.TenantID,
			Scopes:   pat.Scopes,
			Source:   source,
		}, nil
	case ErrNotFound.Has(err):
	default:
		return Principal{}, Error.Wrap(err)
	}

	if service.oidc != nil {
		subject, scopes, err := service.oidc.Verify(bearer, now)
		if err != nil {
			return Principal{}, err
		}
		return Principal{
			Subject:  subject,
			TenantID: service.tenantID,
			Scopes:   scopes,
			Source:   SourceOIDC,
		}, nil
	}

	return Principal{}, ErrInvalidToken.New("unknown token")
}

// VerifyBootstrap compares a bootstrap header value against the configured
// secret in constant time. An unset secret never matches.
func (service *Service) VerifyBootstrap(header string) bool {
	if service.config.BootstrapSecret == "" || header == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header), []byte(service.config.BootstrapSecret)) == 1
}

// IssuePATRequest carries the parameters for token issuance.
type IssuePATRequest struct {
	Subject    string
	Scopes     []string
	TTLMinutes int
}

// IssuePAT creates a token for a subject. When no scopes are given they are
// derived from the subject's role bindings. The plaintext is returned
// exactly once and never stored.
func (service *Service) IssuePAT(ctx context.Context, req IssuePATRequest) (_ PAT, plaintext string, err error) {
	defer mon.Task()(&ctx)(&err)

	if req.Subject == "" {
		return PAT{}, "", ErrInvalidRequest.New("subject is required")
	}

	ttl := DefaultTokenTTL
	if req.TTLMinutes != 0 {
		ttl = time.Duration(req.TTLMinutes) * time.Minute
		if ttl < MinTokenTTL || ttl > MaxTokenTTL {
			return PAT{}, "", ErrInvalidRequest.New("ttl must be between %v and %v", MinTokenTTL, MaxTokenTTL)
		}
	}

	var scopes Scopes
	if len(req.Scopes) > 0 {
		scopes, err = ParseScopes(req.Scopes)
		if err != nil {
			return PAT{}, "", err
		}
	} else {
		scopes, err = service.deriveScopes(ctx, req.Subject)
		if err != nil {
			return PAT{}, "", err
		}
		if len(scopes) == 0 {
			return PAT{}, "", ErrInvalidRequest.New("no scopes given and subject has no role bindings")
		}
	}

	return service.issue(ctx, req.Subject, scopes, ttl, SourcePAT)
}

func (service *Service) issue(ctx context.Context, subject string, scopes Scopes, ttl time.Duration, source Source) (PAT, string, error) {
	plaintext, hash, err := GenerateToken()
	if err != nil {
		return PAT{}, "", err
	}

	now := time.Now().UTC()
	pat := PAT{
		ID:        uuid.New(),
		TenantID:  service.tenantID,
		Subject:   subject,
		TokenHash: hash,
		Scopes:    scopes,
		Source:    source,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := service.db.CreatePAT(ctx, pat); err != nil {
		return PAT{}, "", Error.Wrap(err)
	}

	mon.Meter("pat_issued").Mark(1)
	service.log.Info("token issued",
		zap.String("subject", subject),
		zap.Stringer("tokenID", pat.ID),
		zap.Strings("scopes", scopes.Strings()))
	return pat, plaintext, nil
}

// RevokePAT revokes a token by id.
func (service *Service) RevokePAT(ctx context.Context, tokenID uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = service.db.RevokePAT(ctx, service.tenantID, tokenID, time.Now().UTC())
	if err != nil {
		return err
	}
	mon.Meter("pat_revoked").Mark(1)
	return nil
}

// UpsertBinding replaces the subject's roles on a repository.
func (service *Service) UpsertBinding(ctx context.Context, binding Binding) (err error) {
	defer mon.Task()(&ctx)(&err)

	if binding.Subject == "" {
		return ErrInvalidRequest.New("subject is required")
	}
	if len(binding.Roles) == 0 {
		return ErrInvalidRequest.New("at least one role is required")
	}
	for _, role := range binding.Roles {
		if !ValidRole(role) {
			return ErrInvalidRequest.New("unknown role %q", role)
		}
	}
	binding.UpdatedAt = time.Now().UTC()
	return service.db.UpsertBinding(ctx, binding)
}

// BindingsForRepo lists all bindings on one repository.
func (service *Service) BindingsForRepo(ctx context.Context, repoID uuid.UUID) (_ []Binding, err error) {
	defer mon.Task()(&ctx)(&err)
	return service.db.BindingsForRepo(ctx, repoID)
}

// SAMLMetadata renders the service provider metadata document, or nil when
// SAML is disabled.
func (service *Service) SAMLMetadata() []byte {
	if service.saml == nil {
		return nil
	}
	return service.saml.Metadata()
}

// ConsumeSAML validates a base64-encoded SAML response and issues a
// short-lived PAT for the asserted subject.
func (service *Service) ConsumeSAML(ctx context.Context, samlResponse string) (_ PAT, plaintext string, err error) {
	defer mon.Task()(&ctx)(&err)

	if service.saml == nil {
		return PAT{}, "", ErrInvalidRequest.New("saml is not enabled")
	}

	subject, scopes, err := service.saml.Consume(samlResponse, time.Now().UTC())
	if err != nil {
		return PAT{}, "", err
	}

	ttl := service.config.SAML.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if ttl > MaxTokenTTL {
		ttl = MaxTokenTTL
	}
	return service.issue(ctx, subject, scopes, ttl, SourceSAMLPAT)
}

// deriveScopes converts the subject's role bindings into scopes.
func (service *Service) deriveScopes(ctx context.Context, subject string) (Scopes, error) {
	bindings, err := service.db.BindingsForSubject(ctx, service.tenantID, subject)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	var scopes Scopes
	for _, binding := range bindings {
		for _, role := range binding.Roles {
			scopes = append(scopes, Scope{Repo: binding.RepoKey, Role: role})
		}
	}
	sort.Slice(scopes, func(i, k int) bool {
		if scopes[i].Repo != scopes[k].Repo {
			return scopes[i].Repo < scopes[k].Repo
		}
		return scopes[i].Role < scopes[k].Role
	})
	return scopes, nil
}
