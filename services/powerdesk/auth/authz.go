// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package auth

import (
	"context"
	"fmt"

	"github.com/AleutianAI/PowerDesk/pkg/extensions"
	"github.com/AleutianAI/PowerDesk/services/powerdesk/repository"
)

// Resource types checked by RoleAuthorizer.
const (
	ResourceUser        = "user"
	ResourceElectricity = "electricity"
)

// RoleAuthorizer implements extensions.AuthzProvider with two roles.
//
// ADMIN may do anything. USER may only read their own user record.
type RoleAuthorizer struct{}

func (RoleAuthorizer) Authorize(_ context.Context, req extensions.AuthzRequest) error {
	if req.User == nil {
		return fmt.Errorf("no identity: %w", extensions.ErrUnauthorized)
	}
	if req.User.HasRole(repository.RoleAdmin) {
		return nil
	}
	if req.ResourceType == ResourceUser && req.Action == "read" &&
		req.ResourceID != "" && (req.ResourceID == req.User.UserID || req.ResourceID == req.User.Username) {
		return nil
	}
	return fmt.Errorf("%s %s denied for %s: %w",
		req.Action, req.ResourceType, req.User.Username, extensions.ErrUnauthorized)
}

var _ extensions.AuthzProvider = RoleAuthorizer{}
