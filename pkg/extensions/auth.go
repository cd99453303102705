// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned when a token is invalid or an action is
// denied. Implementations wrap it so callers can use errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the identity behind a validated token.
type AuthInfo struct {
	// UserID is the user's primary key rendered as a string. Never empty.
	UserID string

	// Username is the login name.
	Username string

	// Roles holds role names, e.g. "ADMIN" or "USER".
	Roles []string
}

// HasRole reports whether role is among a.Roles.
func (a *AuthInfo) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates bearer tokens.
type AuthProvider interface {
	// Validate returns the identity for token, or an error wrapping
	// ErrUnauthorized when the token is missing, expired or forged.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// AuthzRequest describes an action a user is attempting.
type AuthzRequest struct {
	User *AuthInfo

	// Action: "read", "update", "delete" or "write".
	Action string

	// ResourceType: "user", "electricity", ...
	ResourceType string

	// ResourceID is optional.
	ResourceID string
}

// AuthzProvider decides whether an AuthzRequest is allowed.
type AuthzProvider interface {
	// Authorize returns nil when allowed and an error wrapping
	// ErrUnauthorized when denied.
	Authorize(ctx context.Context, req AuthzRequest) error
}

// NopAuthProvider accepts any token as a local administrator.
type NopAuthProvider struct{}

func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID:   "0",
		Username: "local-user",
		Roles:    []string{"ADMIN"},
	}, nil
}

// NopAuthzProvider allows everything.
type NopAuthzProvider struct{}

func (p *NopAuthzProvider) Authorize(_ context.Context, _ AuthzRequest) error {
	return nil
}

var (
	_ AuthProvider  = (*NopAuthProvider)(nil)
	_ AuthzProvider = (*NopAuthzProvider)(nil)
)
