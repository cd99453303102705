// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the pluggable security hooks of PowerDesk.
//
// The HTTP layer and the chat orchestrator depend only on these
// interfaces. Deployments swap implementations through ServiceOptions:
//
//   - auth.go: token validation and authorization (AuthProvider, AuthzProvider)
//   - audit.go: security audit trail (AuditLogger)
//   - filter.go: message transformation and blocking (MessageFilter)
//
// The defaults are permissive no-ops so a bare service still runs:
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(tokens).
//	    WithAuthz(auth.RoleAuthorizer{}).
//	    WithAudit(extensions.NewSlogAuditLogger(logger, 1000))
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups the extension points handed to powerdesk.New.
type ServiceOptions struct {
	// AuthProvider validates bearer tokens. Default: NopAuthProvider.
	AuthProvider AuthProvider

	// AuthzProvider checks permissions. Default: NopAuthzProvider.
	AuthzProvider AuthzProvider

	// AuditLogger records security events. Default: NopAuditLogger.
	AuditLogger AuditLogger

	// MessageFilter transforms chat input and output. Default: NopMessageFilter.
	MessageFilter MessageFilter
}

// DefaultOptions returns options with every hook set to its no-op.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider:  &NopAuthProvider{},
		AuthzProvider: &NopAuthzProvider{},
		AuditLogger:   &NopAuditLogger{},
		MessageFilter: &NopMessageFilter{},
	}
}

// WithDefaults fills nil fields with their no-op implementation.
func (opts ServiceOptions) WithDefaults() ServiceOptions {
	def := DefaultOptions()
	if opts.AuthProvider == nil {
		opts.AuthProvider = def.AuthProvider
	}
	if opts.AuthzProvider == nil {
		opts.AuthzProvider = def.AuthzProvider
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = def.AuditLogger
	}
	if opts.MessageFilter == nil {
		opts.MessageFilter = def.MessageFilter
	}
	return opts
}

// WithAuth returns a copy with provider set.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAuthz returns a copy with provider set.
func (opts ServiceOptions) WithAuthz(provider AuthzProvider) ServiceOptions {
	opts.AuthzProvider = provider
	return opts
}

// WithAudit returns a copy with logger set.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// WithFilter returns a copy with filter set.
func (opts ServiceOptions) WithFilter(filter MessageFilter) ServiceOptions {
	opts.MessageFilter = filter
	return opts
}
