// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retention purges old chat history on a cron schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the purge daily at 03:00 UTC.
const DefaultSchedule = "0 3 * * *"

// DefaultTimeout bounds a single purge.
const DefaultTimeout = 5 * time.Minute

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("retention scheduler is already running")

// Purger deletes chat records created before cutoff.
type Purger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// =============================================================================
// Configuration
// =============================================================================

// Config tunes the scheduler.
//
// # Fields
//
//   - Retention: How long history is kept. Zero or less disables purging.
//   - Schedule: Standard 5-field cron expression or descriptor such as
//     "@daily" or "@every 1h". Default: DefaultSchedule. Evaluated in UTC.
//   - Timeout: Upper bound on one purge. Default: DefaultTimeout.
type Config struct {
	Retention time.Duration
	Schedule  string
	Timeout   time.Duration
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return cfg
}

// Result summarizes one purge.
type Result struct {
	Cutoff   time.Time
	Deleted  int64
	Started  time.Time
	Finished time.Time
}

// Duration is the wall time the purge took.
func (r Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// =============================================================================
// Scheduler
// =============================================================================

// Scheduler runs Purger on a cron schedule.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Cron never overlaps runs of the
// purge job; a run still going when the next tick fires is skipped.
type Scheduler struct {
	purger Purger
	cfg    Config
	now    func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// New validates cfg and returns a stopped Scheduler.
//
// # Outputs
//
//   - error: The schedule does not parse.
func New(purger Purger, cfg Config) (*Scheduler, error) {
	if purger == nil {
		panic("retention.New: purger must not be nil")
	}
	cfg = applyConfigDefaults(cfg)
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", cfg.Schedule, err)
	}
	return &Scheduler{purger: purger, cfg: cfg, now: time.Now}, nil
}

// Enabled reports whether a retention window is configured.
func (s *Scheduler) Enabled() bool {
	return s.cfg.Retention > 0
}

// Start registers the purge job and starts the cron loop. It is a no-op
// when retention is disabled. Cancelling ctx stops future runs.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.Enabled() {
		slog.Info("Chat history retention disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	jobCtx, cancel := context.WithCancel(ctx)
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.execute(jobCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule retention job: %w", err)
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.running = true
	slog.Info("Chat history retention scheduler started",
		"schedule", s.cfg.Schedule,
		"retention", s.cfg.Retention.String(),
	)
	return nil
}

// Stop halts the cron loop and waits for a running purge to finish.
// Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	<-c.Stop().Done()
	cancel()
	slog.Info("Chat history retention scheduler stopped")
}

// RunNow purges immediately, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) (Result, error) {
	if !s.Enabled() {
		return Result{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	res := Result{Started: s.now()}
	res.Cutoff = res.Started.Add(-s.cfg.Retention)
	n, err := s.purger.DeleteOlderThan(ctx, res.Cutoff)
	res.Finished = s.now()
	if err != nil {
		return res, fmt.Errorf("purge chat history before %s: %w", res.Cutoff.Format(time.RFC3339), err)
	}
	res.Deleted = n
	return res, nil
}

func (s *Scheduler) execute(ctx context.Context) {
	res, err := s.RunNow(ctx)
	if err != nil {
		slog.Error("Chat history purge failed", "error", err)
		return
	}
	if res.Deleted > 0 {
		slog.Info("Chat history purged",
			"deleted", res.Deleted,
			"cutoff", res.Cutoff.Format(time.RFC3339),
			"duration_ms", res.Duration().Milliseconds(),
		)
		return
	}
	slog.Debug("Chat history purge found nothing to delete")
}
