// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"time"
)

// Outcome labels reported to an Observer.
const (
	OutcomeHit   = "hit"
	OutcomeMiss  = "miss"
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Observer receives one call per cache operation.
type Observer interface {
	ObserveCache(op, outcome string)
}

// Instrumented wraps a ResponseCache and reports each operation's outcome.
type Instrumented struct {
	inner ResponseCache
	obs   Observer
}

// NewInstrumented returns inner unchanged when obs is nil.
func NewInstrumented(inner ResponseCache, obs Observer) ResponseCache {
	if obs == nil {
		return inner
	}
	return &Instrumented{inner: inner, obs: obs}
}

func (c *Instrumented) Has(ctx context.Context, key string) (bool, error) {
	ok, err := c.inner.Has(ctx, key)
	c.obs.ObserveCache("has", lookupOutcome(ok, err))
	return ok, err
}

func (c *Instrumented) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := c.inner.Get(ctx, key)
	c.obs.ObserveCache("get", lookupOutcome(ok, err))
	return v, ok, err
}

func (c *Instrumented) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	err := c.inner.Set(ctx, key, value, ttl)
	c.obs.ObserveCache("set", writeOutcome(err))
	return err
}

func (c *Instrumented) Delete(ctx context.Context, key string) error {
	err := c.inner.Delete(ctx, key)
	c.obs.ObserveCache("delete", writeOutcome(err))
	return err
}

func (c *Instrumented) Close() error {
	return c.inner.Close()
}

func lookupOutcome(ok bool, err error) string {
	switch {
	case err != nil:
		return OutcomeError
	case ok:
		return OutcomeHit
	default:
		return OutcomeMiss
	}
}

func writeOutcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
