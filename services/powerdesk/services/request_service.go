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
	"log/slog"
	"strings"

	"github.com/AleutianAI/PowerDesk/services/powerdesk/repository"
)

// ErrUnknownServiceType is returned when a request names a service type
// that does not exist.
var ErrUnknownServiceType = errors.New("服务不存在")

// RequestStore persists service requests.
type RequestStore interface {
	Create(ctx context.Context, req *repository.ServiceRequest) error
	Find(ctx context.Context, f repository.RequestFilter) ([]repository.ServiceRequest, error)
}

// ServiceTypeByID resolves service types by primary key.
type ServiceTypeByID interface {
	FindByID(ctx context.Context, id uint) (*repository.ServiceType, error)
}

// NewServiceRequest is a customer's request for an on-site visit or repair.
type NewServiceRequest struct {
	UserID             *uint
	CustomerName       string
	Phone              string
	Address            string
	ServiceTypeID      *uint
	ProblemDescription string
}

// RequestService files and lists service requests.
type RequestService struct {
	requests RequestStore
	types    ServiceTypeByID
}

// NewRequestService creates a RequestService. types may be nil, which
// skips service-type validation.
func NewRequestService(requests RequestStore, types ServiceTypeByID) *RequestService {
	if requests == nil {
		panic("services.NewRequestService: requests is required")
	}
	return &RequestService{requests: requests, types: types}
}

// Create files a request with status PENDING and priority NORMAL.
func (s *RequestService) Create(ctx context.Context, in NewServiceRequest) (*repository.ServiceRequest, error) {
	if in.ServiceTypeID != nil && s.types != nil {
		if _, err := s.types.FindByID(ctx, *in.ServiceTypeID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrUnknownServiceType
			}
			return nil, err
		}
	}
	req := &repository.ServiceRequest{
		UserID:             in.UserID,
		CustomerName:       strings.TrimSpace(in.CustomerName),
		Phone:              strings.TrimSpace(in.Phone),
		Address:            strings.TrimSpace(in.Address),
		ServiceTypeID:      in.ServiceTypeID,
		ProblemDescription: in.ProblemDescription,
		Status:             repository.RequestStatusPending,
		Priority:           repository.RequestPriorityNormal,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}
	slog.Info("Service request filed", "id", req.ID, "service_type_id", req.ServiceTypeID)
	return req, nil
}

// List returns requests matching f, newest first.
func (s *RequestService) List(ctx context.Context, f repository.RequestFilter) ([]repository.ServiceRequest, error) {
	return s.requests.Find(ctx, f)
}
