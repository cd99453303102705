// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package auth issues and validates PowerDesk bearer tokens and decides
// which roles may perform which actions.
//
// Tokens are HS256 JWTs with issuer "powerdesk". The "typ" claim separates
// access tokens from refresh tokens; only access tokens authenticate API
// calls.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/AleutianAI/PowerDesk/pkg/extensions"
)

// TokenType is the value of the "typ" claim.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

const (
	// Issuer is the "iss" claim of every token.
	Issuer = "powerdesk"

	claimType     = "typ"
	claimUserID   = "uid"
	claimRole     = "role"
	minSecretSize = 32
)

// ErrInvalidToken wraps extensions.ErrUnauthorized for any token that
// fails parsing, signature, expiry, issuer or type checks.
var ErrInvalidToken = fmt.Errorf("invalid token: %w", extensions.ErrUnauthorized)

// Subject is the identity a token is issued for.
type Subject struct {
	UserID   uint
	Username string
	Role     string
}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	// Secret is the HMAC key. Required.
	Secret []byte

	// AccessTTL defaults to 24h, RefreshTTL to 7 days.
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// TokenService signs and verifies tokens.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService validates cfg and applies defaults.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if len(cfg.Secret) < minSecretSize {
		slog.Warn("JWT secret is shorter than recommended", "bytes", len(cfg.Secret), "recommended", minSecretSize)
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 24 * time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenService{
		secret:     cfg.Secret,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
	}, nil
}

// Issue signs a token of typ for sub.
func (s *TokenService) Issue(sub Subject, typ TokenType) (string, error) {
	ttl := s.accessTTL
	if typ == TokenRefresh {
		ttl = s.refreshTTL
	}
	now := s.now()

	tok, err := jwt.NewBuilder().
		Issuer(Issuer).
		Subject(sub.Username).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim(claimType, string(typ)).
		Claim(claimUserID, strconv.FormatUint(uint64(sub.UserID), 10)).
		Claim(claimRole, sub.Role).
		Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, s.secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return string(signed), nil
}

// IssuePair returns an access token and a refresh token for sub.
func (s *TokenService) IssuePair(sub Subject) (access, refresh string, err error) {
	if access, err = s.Issue(sub, TokenAccess); err != nil {
		return "", "", err
	}
	if refresh, err = s.Issue(sub, TokenRefresh); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// Parse verifies raw and checks it is of type want.
func (s *TokenService) Parse(raw string, want TokenType) (Subject, error) {
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, s.secret),
		jwt.WithValidate(true),
		jwt.WithIssuer(Issuer),
		jwt.WithClock(jwt.ClockFunc(s.now)),
	)
	if err != nil {
		return Subject{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if typ, _ := stringClaim(tok, claimType); typ != string(want) {
		return Subject{}, fmt.Errorf("%w: expected %s token", ErrInvalidToken, want)
	}

	uidStr, _ := stringClaim(tok, claimUserID)
	uid, err := strconv.ParseUint(uidStr, 10, 64)
	if err != nil {
		return Subject{}, fmt.Errorf("%w: bad uid claim", ErrInvalidToken)
	}
	role, _ := stringClaim(tok, claimRole)

	return Subject{UserID: uint(uid), Username: tok.Subject(), Role: role}, nil
}

// Refresh exchanges a refresh token for a new pair.
func (s *TokenService) Refresh(raw string) (access, refresh string, err error) {
	sub, err := s.Parse(raw, TokenRefresh)
	if err != nil {
		return "", "", err
	}
	return s.IssuePair(sub)
}

// Validate implements extensions.AuthProvider for access tokens.
func (s *TokenService) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	sub, err := s.Parse(token, TokenAccess)
	if err != nil {
		return nil, err
	}
	return &extensions.AuthInfo{
		UserID:   strconv.FormatUint(uint64(sub.UserID), 10),
		Username: sub.Username,
		Roles:    []string{sub.Role},
	}, nil
}

func stringClaim(tok jwt.Token, name string) (string, bool) {
	v, ok := tok.Get(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

var _ extensions.AuthProvider = (*TokenService)(nil)
