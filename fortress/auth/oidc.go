// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package auth

import (
	"encoding/json"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
)

// claimMapping maps an identity-provider claim to a repo role. The wire
// form is claim|value|repo|role, where value "*" matches any non-empty
// claim value.
type claimMapping struct {
	Claim string
	Value string
	Repo  string
	Role  Role
}

func parseMappings(raw string) ([]claimMapping, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var mappings []claimMapping
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		fields := strings.Split(item, "|")
		if len(fields) != 4 {
			return nil, Error.New("malformed role mapping %q, want claim|value|repo|role", item)
		}
		mapping := claimMapping{
			Claim: strings.TrimSpace(fields[0]),
			Value: strings.TrimSpace(fields[1]),
			Repo:  strings.TrimSpace(fields[2]),
			Role:  Role(strings.TrimSpace(fields[3])),
		}
		if mapping.Claim == "" || mapping.Value == "" || mapping.Repo == "" {
			return nil, Error.New("malformed role mapping %q", item)
		}
		if !ValidRole(mapping.Role) {
			return nil, Error.New("unknown role in mapping %q", item)
		}
		mappings = append(mappings, mapping)
	}
	return mappings, nil
}

// oidcVerifier validates compact JWTs against a shared secret or a static
// JWKS document.
type oidcVerifier struct {
	issuer   string
	audience string
	hsSecret []byte
	keys     jose.JSONWebKeySet
	mappings []claimMapping
}

func newOIDCVerifier(config OIDCConfig) (*oidcVerifier, error) {
	if config.Issuer == "" {
		return nil, Error.New("oidc enabled without issuer")
	}
	if config.HS256Secret == "" && config.JWKS == "" {
		return nil, Error.New("oidc enabled without hs256 secret or jwks")
	}

	verifier := &oidcVerifier{
		issuer:   config.Issuer,
		audience: config.Audience,
	}
	if config.HS256Secret != "" {
		verifier.hsSecret = []byte(config.HS256Secret)
	}
	if config.JWKS != "" {
		if err := json.Unmarshal([]byte(config.JWKS), &verifier.keys); err != nil {
			return nil, Error.New("invalid jwks document: %v", err)
		}
		if len(verifier.keys.Keys) == 0 {
			return nil, Error.New("jwks document has no keys")
		}
	}

	mappings, err := parseMappings(config.RoleMappings)
	if err != nil {
		return nil, err
	}
	verifier.mappings = mappings
	return verifier, nil
}

// Verify checks the token's signature and registered claims and extracts
// the subject and scopes.
func (verifier *oidcVerifier) Verify(token string, now time.Time) (subject string, scopes Scopes, err error) {
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return "", nil, ErrInvalidToken.New("not a valid jwt: %v", err)
	}
	if len(parsed.Headers) != 1 {
		return "", nil, ErrInvalidToken.New("expected exactly one signature")
	}
	header := parsed.Headers[0]

	var key interface{}
	switch header.Algorithm {
	case string(jose.HS256):
		if verifier.hsSecret == nil {
			return "", nil, ErrInvalidToken.New("hs256 token but no shared secret configured")
		}
		key = verifier.hsSecret
	case string(jose.RS256):
		jwk, err := verifier.lookupKey(header.KeyID)
		if err != nil {
			return "", nil, err
		}
		key = jwk
	default:
		return "", nil, ErrInvalidToken.New("unsupported algorithm %q", header.Algorithm)
	}

	var claims jwt.Claims
	custom := map[string]interface{}{}
	if err := parsed.Claims(key, &claims, &custom); err != nil {
		return "", nil, ErrInvalidToken.New("signature verification failed: %v", err)
	}

	if claims.Issuer != verifier.issuer {
		return "", nil, ErrInvalidToken.New("issuer mismatch")
	}
	if verifier.audience != "" && !claims.Audience.Contains(verifier.audience) {
		return "", nil, ErrInvalidToken.New("audience mismatch")
	}
	if claims.Expiry == nil {
		return "", nil, ErrInvalidToken.New("missing exp claim")
	}
	if !claims.Expiry.Time().After(now) {
		return "", nil, ErrInvalidToken.New("token expired")
	}
	if claims.NotBefore != nil && claims.NotBefore.Time().After(now) {
		return "", nil, ErrInvalidToken.New("token not yet valid")
	}
	if claims.Subject == "" {
		return "", nil, ErrInvalidToken.New("missing sub claim")
	}

	return claims.Subject, extractScopes(verifier.mappings, custom), nil
}

// lookupKey picks the RS256 verification key. A token without a kid is
// acceptable when the set holds exactly one key.
func (verifier *oidcVerifier) lookupKey(kid string) (jose.JSONWebKey, error) {
	if len(verifier.keys.Keys) == 0 {
		return jose.JSONWebKey{}, ErrInvalidToken.New("rs256 token but no jwks configured")
	}
	if kid == "" {
		if len(verifier.keys.Keys) == 1 {
			return verifier.keys.Keys[0], nil
		}
		return jose.JSONWebKey{}, ErrInvalidToken.New("token has no kid and multiple keys are configured")
	}
	matches := verifier.keys.Key(kid)
	if len(matches) == 0 {
		return jose.JSONWebKey{}, ErrInvalidToken.New("no key with kid %q", kid)
	}
	return matches[0], nil
}

// extractScopes collects repo scopes from the scope/scp/artifortress_scopes
// claims and from the configured claim mappings. Claim items that do not
// look like repo:role grants are ignored, since federated tokens routinely
// carry OAuth scopes such as "openid".
func extractScopes(mappings []claimMapping, claims map[string]interface{}) Scopes {
	seen := map[Scope]bool{}
	var scopes Scopes
	add := func(scope Scope) {
		if !seen[scope] {
			seen[scope] = true
			scopes = append(scopes, scope)
		}
	}

	for _, claim := range []string{"scope", "scp", "artifortress_scopes"} {
		for _, item := range claimStrings(claims[claim]) {
			scope, err := ParseScope(item)
			if err != nil {
				continue
			}
			add(scope)
		}
	}

	for _, mapping := range mappings {
		values := claimStrings(claims[mapping.Claim])
		if len(values) == 0 {
			continue
		}
		matched := false
		for _, value := range values {
			if mapping.Value == "*" && value != "" {
				matched = true
				break
			}
			if value == mapping.Value {
				matched = true
				break
			}
		}
		if matched {
			add(Scope{Repo: mapping.Repo, Role: mapping.Role})
		}
	}
	return scopes
}

// claimStrings normalizes a claim value into a list of strings. Scalar
// strings are split on spaces, per the OAuth scope convention.
func claimStrings(value interface{}) []string {
	switch typed := value.(type) {
	case string:
		return strings.Fields(typed)
	case []interface{}:
		var out []string
		for _, item := range typed {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return typed
	}
	return nil
}
