// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/AleutianAI/PowerDesk/pkg/extensions"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/auth"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/repository"
)

// Login failures. The messages are shown to end users.
var (
	ErrUserNotFound      = errors.New("用户不存在")
	ErrBadPassword       = errors.New("密码错误")
	ErrUserDisabled      = errors.New("用户已被禁用")
	ErrFaceNotRegistered = errors.New("用户未注册面容")
	ErrFaceNoMatch       = errors.New("面容识别失败，未找到匹配的用户")
	ErrMissingFaceData   = errors.New("缺少 faceData 参数")
)

// faceLoginUser is the account the mock face recognizer always resolves to.
const faceLoginUser = "admin"

// UserStore is the user persistence the auth and user services need.
type UserStore interface {
	FindByID(ctx context.Context, id uint) (*repository.User, error)
	FindByUsername(ctx context.Context, username string) (*repository.User, error)
	Save(ctx context.Context, u *repository.User) error
}

// TokenIssuer mints access and refresh tokens.
type TokenIssuer interface {
	IssuePair(sub auth.Subject) (access, refresh string, err error)
}

// LoginRequest carries password credentials.
type LoginRequest struct {
	Username   string
	Password   string
	RememberMe bool
}

// UserInfo is the public view of a logged-in user.
type UserInfo struct {
	ID             uint   `json:"id"`
	Username       string `json:"username"`
	RealName       string `json:"realName"`
	Role           string `json:"role"`
	FaceRegistered bool   `json:"faceRegistered"`
}

// LoginResult is returned by both login flows.
type LoginResult struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken"`
	User         UserInfo `json:"user"`
}

// AuthService implements password and mock face login.
type AuthService struct {
	users  UserStore
	tokens TokenIssuer
	audit  extensions.AuditLogger
	now    func() time.Time
}

// NewAuthService creates an AuthService. audit may be nil.
func NewAuthService(users UserStore, tokens TokenIssuer, audit extensions.AuditLogger) *AuthService {
	if users == nil || tokens == nil {
		panic("services.NewAuthService: users and tokens are required")
	}
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	return &AuthService{users: users, tokens: tokens, audit: audit, now: time.Now}
}

// Login checks a username and password and issues tokens.
//
// # Description
//
// Checks run in a fixed order: the user must exist, the password must
// match, and the account must be active. The seeded admin account also
// accepts the literal default password; its stored hash is then replaced
// with a fresh bcrypt hash of it.
//
// # Outputs
//
//   - *LoginResult: Tokens and user info.
//   - error: ErrUserNotFound, ErrBadPassword, ErrUserDisabled, or a wrapped
//     store or signing failure.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	user, err := s.users.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.record(ctx, "auth.login", req.Username, "failure", ErrUserNotFound)
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	if user.Username == faceLoginUser && req.Password == repository.DefaultAdminPassword {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("login: hash password: %w", err)
		}
		user.Password = string(hash)
		if err := s.users.Save(ctx, user); err != nil {
			return nil, fmt.Errorf("login: store password hash: %w", err)
		}
		slog.Info("Admin password rehashed on login", "username", user.Username)
	} else if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		s.record(ctx, "auth.login", user.Username, "failure", ErrBadPassword)
		return nil, ErrBadPassword
	}

	if !user.IsActive {
		s.record(ctx, "auth.login", user.Username, "failure", ErrUserDisabled)
		return nil, ErrUserDisabled
	}

	res, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}
	s.record(ctx, "auth.login", user.Username, "success", nil)
	return res, nil
}

// FaceLogin is a mock face login. faceData is accepted but not compared;
// the login always resolves to the admin account.
func (s *AuthService) FaceLogin(ctx context.Context, faceData string) (*LoginResult, error) {
	user, err := s.users.FindByUsername(ctx, faceLoginUser)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.record(ctx, "auth.face_login", "", "failure", ErrFaceNoMatch)
			return nil, ErrFaceNoMatch
		}
		return nil, fmt.Errorf("face login: %w", err)
	}
	if !user.FaceRegistered {
		s.record(ctx, "auth.face_login", user.Username, "failure", ErrFaceNotRegistered)
		return nil, ErrFaceNotRegistered
	}

	res, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}
	s.record(ctx, "auth.face_login", user.Username, "success", nil)
	return res, nil
}

// RegisterFace stores face data for the user named by idOrName, which is
// a numeric id or else a username.
func (s *AuthService) RegisterFace(ctx context.Context, idOrName, faceData string) error {
	if faceData == "" {
		return ErrMissingFaceData
	}
	user, err := s.findByIDOrName(ctx, idOrName)
	if err != nil {
		return err
	}
	user.FaceData = faceData
	user.FaceRegistered = true
	if err := s.users.Save(ctx, user); err != nil {
		return fmt.Errorf("register face: %w", err)
	}
	s.record(ctx, "auth.register_face", user.Username, "success", nil)
	return nil
}

// CheckFaceRegistered reports whether the user has face data. Unknown
// users report false.
func (s *AuthService) CheckFaceRegistered(ctx context.Context, idOrName string) (bool, error) {
	user, err := s.findByIDOrName(ctx, idOrName)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.FaceRegistered, nil
}

func (s *AuthService) findByIDOrName(ctx context.Context, idOrName string) (*repository.User, error) {
	var (
		user *repository.User
		err  error
	)
	if id, perr := strconv.ParseUint(idOrName, 10, 64); perr == nil {
		user, err = s.users.FindByID(ctx, uint(id))
	} else {
		user, err = s.users.FindByUsername(ctx, idOrName)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user %q: %w", idOrName, err)
	}
	return user, nil
}

// issue stamps the login time and mints tokens.
func (s *AuthService) issue(ctx context.Context, user *repository.User) (*LoginResult, error) {
	now := s.now()
	user.LastLoginTime = &now
	if err := s.users.Save(ctx, user); err != nil {
		return nil, fmt.Errorf("update last login: %w", err)
	}

	access, refresh, err := s.tokens.IssuePair(auth.Subject{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
	})
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}
	return &LoginResult{
		Token:        access,
		RefreshToken: refresh,
		User: UserInfo{
			ID:             user.ID,
			Username:       user.Username,
			RealName:       user.RealName,
			Role:           user.Role,
			FaceRegistered: user.FaceRegistered,
		},
	}, nil
}

func (s *AuthService) record(ctx context.Context, action, username, outcome string, cause error) {
	ev := extensions.AuditEvent{
		EventType:    action,
		Timestamp:    s.now(),
		UserID:       username,
		Action:       strings.TrimPrefix(action, "auth."),
		ResourceType: "session",
		Outcome:      outcome,
	}
	if cause != nil {
		ev.Metadata = map[string]any{"reason": cause.Error()}
	}
	if err := s.audit.Log(ctx, ev); err != nil {
		slog.Warn("audit log failed", "action", action, "error", err)
	}
}
