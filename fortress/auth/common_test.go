// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package auth_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"artifortress.io/artifortress/fortress/auth"
)

func TestParseScope(t *testing.T) {
	scope, err := auth.ParseScope("libs-release:read")
	require.NoError(t, err)
	require.Equal(t, "libs-release", scope.Repo)
	require.Equal(t, auth.RoleRead, scope.Role)
	require.Equal(t, "libs-release:read", scope.String())

	scope, err = auth.ParseScope("*:admin")
	require.NoError(t, err)
	require.Equal(t, auth.WildcardRepo, scope.Repo)

	for _, raw := range []string{"", "libs", ":read", "libs:", "libs:owner", "*:read", "*:write"} {
		_, err := auth.ParseScope(raw)
		require.True(t, auth.ErrInvalidRequest.Has(err), raw)
	}

	// the last colon splits, so keys containing dots and dashes work
	scope, err = auth.ParseScope("team.npm-proxy:promote")
	require.NoError(t, err)
	require.Equal(t, "team.npm-proxy", scope.Repo)
	require.Equal(t, auth.RolePromote, scope.Role)
}

func TestParseScopes(t *testing.T) {
	scopes, err := auth.ParseScopes([]string{"libs:read", "libs:write"})
	require.NoError(t, err)
	require.Len(t, scopes, 2)
	require.Equal(t, []string{"libs:read", "libs:write"}, scopes.Strings())

	_, err = auth.ParseScopes([]string{"libs:read", "broken"})
	require.True(t, auth.ErrInvalidRequest.Has(err))
}

func TestScopesHasRole(t *testing.T) {
	parse := func(raw ...string) auth.Scopes {
		scopes, err := auth.ParseScopes(raw)
		require.NoError(t, err)
		return scopes
	}

	tests := []struct {
		scopes   auth.Scopes
		repo     string
		required auth.Role
		want     bool
	}{
		{parse("libs:read"), "libs", auth.RoleRead, true},
		{parse("libs:read"), "libs", auth.RoleWrite, false},
		{parse("libs:read"), "other", auth.RoleRead, false},

		// write and promote imply read, not each other
		{parse("libs:write"), "libs", auth.RoleRead, true},
		{parse("libs:write"), "libs", auth.RolePromote, false},
		{parse("libs:promote"), "libs", auth.RoleRead, true},
		{parse("libs:promote"), "libs", auth.RoleWrite, false},

		// repo admin implies everything on that repo only
		{parse("libs:admin"), "libs", auth.RoleRead, true},
		{parse("libs:admin"), "libs", auth.RoleWrite, true},
		{parse("libs:admin"), "libs", auth.RolePromote, true},
		{parse("libs:admin"), "other", auth.RoleRead, false},

		// the wildcard admin satisfies any repo and role
		{parse("*:admin"), "libs", auth.RoleAdmin, true},
		{parse("*:admin"), "anything", auth.RolePromote, true},

		{nil, "libs", auth.RoleRead, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.scopes.HasRole(tt.repo, tt.required),
			"%v on %s:%s", tt.scopes.Strings(), tt.repo, tt.required)
	}

	require.True(t, parse("*:admin").HasGlobalAdmin())
	require.False(t, parse("libs:admin").HasGlobalAdmin())
	require.False(t, auth.Scopes(nil).HasGlobalAdmin())
}
