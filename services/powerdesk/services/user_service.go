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
	"time"

	"github.com/AleutianAI/PowerDesk/pkg/extensions"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/repository"
)

// Page bounds for user listings.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// UserDirectory is the user persistence needed for administration.
type UserDirectory interface {
	UserStore
	List(ctx context.Context, page, size int) ([]repository.User, int64, error)
	Delete(ctx context.Context, id uint) error
}

// Page is one page of results. Number is zero-based.
type Page[T any] struct {
	Content       []T   `json:"content"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
	Number        int   `json:"number"`
	Size          int   `json:"size"`
}

// UserUpdate is a partial update; nil fields are left unchanged.
type UserUpdate struct {
	RealName *string
	Phone    *string
	Email    *string
	Role     *string
}

// UserService administers user accounts.
type UserService struct {
	users UserDirectory
	audit extensions.AuditLogger
}

func NewUserService(users UserDirectory, audit extensions.AuditLogger) *UserService {
	if users == nil {
		panic("services.NewUserService: users is required")
	}
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	return &UserService{users: users, audit: audit}
}

// List returns page (zero-based) of users ordered by id. Out-of-range
// arguments are clamped.
func (s *UserService) List(ctx context.Context, page, size int) (*Page[repository.User], error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	users, total, err := s.users.List(ctx, page, size)
	if err != nil {
		return nil, err
	}
	return &Page[repository.User]{
		Content:       users,
		TotalElements: total,
		TotalPages:    int((total + int64(size) - 1) / int64(size)),
		Number:        page,
		Size:          size,
	}, nil
}

// Get returns ErrUserNotFound for unknown ids.
func (s *UserService) Get(ctx context.Context, id uint) (*repository.User, error) {
	u, err := s.users.FindByID(ctx, id)
	return u, mapUserErr(err)
}

// GetByUsername returns ErrUserNotFound for unknown names.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*repository.User, error) {
	u, err := s.users.FindByUsername(ctx, username)
	return u, mapUserErr(err)
}

// Update applies the non-nil fields of upd. actor is recorded in the
// audit log.
func (s *UserService) Update(ctx context.Context, actor string, id uint, upd UserUpdate) (*repository.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, mapUserErr(err)
	}
	changed := make([]string, 0, 4)
	if upd.RealName != nil {
		u.RealName = *upd.RealName
		changed = append(changed, "realName")
	}
	if upd.Phone != nil {
		u.Phone = *upd.Phone
		changed = append(changed, "phone")
	}
	if upd.Email != nil {
		u.Email = *upd.Email
		changed = append(changed, "email")
	}
	if upd.Role != nil {
		u.Role = *upd.Role
		changed = append(changed, "role")
	}
	if err := s.users.Save(ctx, u); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "update", id, map[string]any{"fields": changed})
	return u, nil
}

// Delete removes a user; ErrUserNotFound when id does not exist.
func (s *UserService) Delete(ctx context.Context, actor string, id uint) error {
	if err := s.users.Delete(ctx, id); err != nil {
		return mapUserErr(err)
	}
	s.record(ctx, actor, "delete", id, nil)
	return nil
}

func (s *UserService) record(ctx context.Context, actor, action string, id uint, meta map[string]any) {
	err := s.audit.Log(ctx, extensions.AuditEvent{
		EventType:    "user." + action,
		Timestamp:    time.Now().UTC(),
		UserID:       actor,
		Action:       action,
		ResourceType: "user",
		ResourceID:   strconv.FormatUint(uint64(id), 10),
		Outcome:      "success",
		Metadata:     meta,
	})
	if err != nil {
		slog.Warn("audit log failed", "action", action, "error", err)
	}
}

func mapUserErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrUserNotFound
	default:
		return fmt.Errorf("user store: %w", err)
	}
}
