// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/PowerDesk/pkg/extensions"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestTokens(t *testing.T) (*TokenService, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	s, err := NewTokenService(TokenConfig{
		Secret:     testSecret,
		AccessTTL:  time.Hour,
		RefreshTTL: 48 * time.Hour,
		Now:        clock.Now,
	})
	require.NoError(t, err)
	return s, clock
}

var admin = Subject{UserID: 1, Username: "admin", Role: "ADMIN"}

func TestNewTokenService_RequiresSecret(t *testing.T) {
	_, err := NewTokenService(TokenConfig{})
	assert.Error(t, err)
}

func TestTokenService_RoundTrip(t *testing.T) {
	s, _ := newTestTokens(t)

	access, refresh, err := s.IssuePair(admin)
	require.NoError(t, err)
	assert.NotEqual(t, access, refresh)
	assert.Equal(t, 2, strings.Count(access, "."), "compact JWS")

	sub, err := s.Parse(access, TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, admin, sub)

	sub, err = s.Parse(refresh, TokenRefresh)
	require.NoError(t, err)
	assert.Equal(t, admin, sub)
}

func TestTokenService_TypeIsEnforced(t *testing.T) {
	s, _ := newTestTokens(t)
	_, refresh, err := s.IssuePair(admin)
	require.NoError(t, err)

	_, err = s.Parse(refresh, TokenAccess)
	assert.ErrorIs(t, err, extensions.ErrUnauthorized)

	_, err = s.Validate(context.Background(), refresh)
	assert.ErrorIs(t, err, extensions.ErrUnauthorized, "refresh tokens do not authenticate API calls")
}

func TestTokenService_Expiry(t *testing.T) {
	s, clock := newTestTokens(t)
	access, refresh, err := s.IssuePair(admin)
	require.NoError(t, err)

	clock.t = clock.t.Add(2 * time.Hour)
	_, err = s.Parse(access, TokenAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.Parse(refresh, TokenRefresh)
	assert.NoError(t, err, "refresh tokens outlive access tokens")

	newAccess, _, err := s.Refresh(refresh)
	require.NoError(t, err)
	_, err = s.Parse(newAccess, TokenAccess)
	assert.NoError(t, err)
}

func TestTokenService_RejectsForeignSignature(t *testing.T) {
	s, clock := newTestTokens(t)
	other, err := NewTokenService(TokenConfig{
		Secret: []byte("another-secret-another-secret-xx"),
		Now:    clock.Now,
	})
	require.NoError(t, err)

	forged, err := other.Issue(admin, TokenAccess)
	require.NoError(t, err)

	_, err = s.Validate(context.Background(), forged)
	assert.ErrorIs(t, err, extensions.ErrUnauthorized)

	_, err = s.Validate(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, extensions.ErrUnauthorized)
}

func TestTokenService_Validate(t *testing.T) {
	s, _ := newTestTokens(t)
	token, err := s.Issue(Subject{UserID: 42, Username: "zhangsan", Role: "USER"}, TokenAccess)
	require.NoError(t, err)

	info, err := s.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "42", info.UserID)
	assert.Equal(t, "zhangsan", info.Username)
	assert.True(t, info.HasRole("USER"))
	assert.False(t, info.HasRole("ADMIN"))
}

func TestRoleAuthorizer(t *testing.T) {
	adminInfo := &extensions.AuthInfo{UserID: "1", Username: "admin", Roles: []string{"ADMIN"}}
	userInfo := &extensions.AuthInfo{UserID: "7", Username: "lisi", Roles: []string{"USER"}}

	tests := []struct {
		name    string
		req     extensions.AuthzRequest
		allowed bool
	}{
		{"admin deletes user", extensions.AuthzRequest{User: adminInfo, Action: "delete", ResourceType: ResourceUser, ResourceID: "7"}, true},
		{"admin writes electricity", extensions.AuthzRequest{User: adminInfo, Action: "write", ResourceType: ResourceElectricity}, true},
		{"user reads self by id", extensions.AuthzRequest{User: userInfo, Action: "read", ResourceType: ResourceUser, ResourceID: "7"}, true},
		{"user reads self by name", extensions.AuthzRequest{User: userInfo, Action: "read", ResourceType: ResourceUser, ResourceID: "lisi"}, true},
		{"user reads other", extensions.AuthzRequest{User: userInfo, Action: "read", ResourceType: ResourceUser, ResourceID: "1"}, false},
		{"user lists users", extensions.AuthzRequest{User: userInfo, Action: "read", ResourceType: ResourceUser}, false},
		{"user updates self", extensions.AuthzRequest{User: userInfo, Action: "update", ResourceType: ResourceUser, ResourceID: "7"}, false},
		{"user writes electricity", extensions.AuthzRequest{User: userInfo, Action: "write", ResourceType: ResourceElectricity}, false},
		{"no identity", extensions.AuthzRequest{Action: "read", ResourceType: ResourceUser}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RoleAuthorizer{}.Authorize(context.Background(), tt.req)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, extensions.ErrUnauthorized)
			}
		})
	}
}
