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

// ErrMessageBlocked is returned by callers that refuse a blocked message.
var ErrMessageBlocked = errors.New("message blocked by filter")

// FilterResult is the outcome of filtering one message.
type FilterResult struct {
	Original    string
	Filtered    string
	WasModified bool

	// WasBlocked means the message must not be processed. BlockReason is
	// safe to show to the user.
	WasBlocked  bool
	BlockReason string
}

// MessageFilter rewrites or blocks chat text.
//
// FilterInput runs on the user's question before it is matched or sent
// upstream. FilterOutput runs on every answer before it is returned or
// persisted. Typical implementations redact phone numbers or account ids.
type MessageFilter interface {
	FilterInput(ctx context.Context, message string) (*FilterResult, error)
	FilterOutput(ctx context.Context, message string) (*FilterResult, error)
}

// NopMessageFilter passes every message through unchanged.
type NopMessageFilter struct{}

func (f *NopMessageFilter) FilterInput(_ context.Context, message string) (*FilterResult, error) {
	return &FilterResult{Original: message, Filtered: message}, nil
}

func (f *NopMessageFilter) FilterOutput(_ context.Context, message string) (*FilterResult, error) {
	return &FilterResult{Original: message, Filtered: message}, nil
}

var _ MessageFilter = (*NopMessageFilter)(nil)
