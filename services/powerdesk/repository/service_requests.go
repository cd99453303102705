// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// ServiceRequestRepository stores service tickets.
type ServiceRequestRepository struct {
	db *gorm.DB
}

func NewServiceRequestRepository(db *gorm.DB) *ServiceRequestRepository {
	return &ServiceRequestRepository{db: db}
}

// Create inserts req, defaulting status and priority.
func (r *ServiceRequestRepository) Create(ctx context.Context, req *ServiceRequest) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("create service request: %w", err)
	}
	return nil
}

// RequestFilter narrows Find. Empty fields match everything.
type RequestFilter struct {
	Phone  string
	Status string
	UserID *uint
}

// Find returns matching requests, newest first.
func (r *ServiceRequestRepository) Find(ctx context.Context, f RequestFilter) ([]ServiceRequest, error) {
	q := r.db.WithContext(ctx)
	if f.Phone != "" {
		q = q.Where("phone = ?", f.Phone)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	out := []ServiceRequest{}
	if err := q.Order("created_at DESC").Order("id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list service requests: %w", err)
	}
	return out, nil
}
