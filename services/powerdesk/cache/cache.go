// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache stores whole chat answers keyed by normalized prompt.
//
// Two backends implement ResponseCache: Redis for shared deployments and
// an embedded BadgerDB for single-node installs. Values are complete
// answer texts only; there is no partial or streaming state here.
//
// # Failure Policy
//
// Backends return errors faithfully. Callers treat any cache error as a
// miss and continue computing the answer live; Instrumented records the
// outcome so degraded operation is visible in metrics.
package cache

import (
	"context"
	"strings"
	"time"
)

// KeyPrefix namespaces chat answers inside a shared store.
const KeyPrefix = "ai_chat:"

// DefaultTTL is how long a cached answer stays valid.
const DefaultTTL = time.Hour

// ResponseCache is a key-value store of complete answers with expiry.
//
// Set overwrites unconditionally (last writer wins). Get reports a miss
// with ok == false and a nil error.
type ResponseCache interface {
	Has(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// KeyFor derives the cache key of prompt. Prompts that differ only in
// leading or trailing whitespace share a key.
func KeyFor(prompt string) string {
	return KeyPrefix + strings.TrimSpace(prompt)
}
