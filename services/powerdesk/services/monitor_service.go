// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/PowerDesk/services/powerdesk/repository"
)

// SystemStatusOnline is the status label reported by the monitor.
const SystemStatusOnline = "在线"

// Version is reported by the system-status endpoint.
const Version = "1.0.0"

// usersOnline is a fixed figure shown on the dashboard.
const usersOnline = 156

// ElectricityStore reads and writes electricity usage rows.
type ElectricityStore interface {
	FindBetween(ctx context.Context, dataType string, from, to time.Time) ([]repository.ElectricityData, error)
	Upsert(ctx context.Context, d *repository.ElectricityData) error
}

// usageDefault is shown for a period with no data.
type usageDefault struct {
	amount float64
	count  int
}

var usageDefaults = map[string]usageDefault{
	repository.DataTypeResident:    {amount: 0.17, count: 6},
	repository.DataTypeNonResident: {amount: 1.14, count: 1},
}

var monitorPeriods = []string{repository.PeriodDay, repository.PeriodMonth, repository.PeriodYear}

// MonitorSummary is the dashboard payload. Resident and NonResident map
// "dayAmount", "dayCount", "monthAmount", ... to values.
type MonitorSummary struct {
	Resident     map[string]any `json:"resident"`
	NonResident  map[string]any `json:"nonResident"`
	CurrentDate  string         `json:"currentDate"`
	SystemStatus string         `json:"systemStatus"`
}

// SystemStatus is the static health card.
type SystemStatus struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Version     string `json:"version"`
	UsersOnline int    `json:"usersOnline"`
}

// ElectricityUpdate upserts one usage figure.
type ElectricityUpdate struct {
	DataType   string
	Period     string
	PeriodDate time.Time
	Amount     float64
	Count      int
}

// MonitorService builds the electricity dashboard.
type MonitorService struct {
	store ElectricityStore
	now   func() time.Time
}

func NewMonitorService(store ElectricityStore) *MonitorService {
	if store == nil {
		panic("services.NewMonitorService: store is required")
	}
	return &MonitorService{store: store, now: time.Now}
}

// Summary reports the latest day, month and year figures of the last year
// for both customer classes. Periods without data show fixed defaults.
// The two classes are loaded concurrently.
func (s *MonitorService) Summary(ctx context.Context) (*MonitorSummary, error) {
	now := s.now()
	to := now.UTC()
	from := repository.TruncateDay(now).AddDate(-1, 0, 0)

	var resident, nonResident map[string]any
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		resident, err = s.usage(gctx, repository.DataTypeResident, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		nonResident, err = s.usage(gctx, repository.DataTypeNonResident, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &MonitorSummary{
		Resident:     resident,
		NonResident:  nonResident,
		CurrentDate:  now.Format(time.DateOnly),
		SystemStatus: SystemStatusOnline,
	}, nil
}

func (s *MonitorService) usage(ctx context.Context, dataType string, from, to time.Time) (map[string]any, error) {
	rows, err := s.store.FindBetween(ctx, dataType, from, to)
	if err != nil {
		return nil, fmt.Errorf("load %s usage: %w", dataType, err)
	}

	latest := make(map[string]repository.ElectricityData, len(monitorPeriods))
	for _, r := range rows {
		if cur, ok := latest[r.Period]; !ok || r.PeriodDate.After(cur.PeriodDate) {
			latest[r.Period] = r
		}
	}

	def := usageDefaults[dataType]
	out := make(map[string]any, 2*len(monitorPeriods))
	for _, p := range monitorPeriods {
		if r, ok := latest[p]; ok {
			out[p+"Amount"] = r.Amount
			out[p+"Count"] = r.Count
			continue
		}
		out[p+"Amount"] = def.amount
		out[p+"Count"] = def.count
	}
	return out, nil
}

// UpdateElectricity creates or replaces the figure for
// (DataType, Period, PeriodDate). The category label follows the period.
func (s *MonitorService) UpdateElectricity(ctx context.Context, u ElectricityUpdate) (*repository.ElectricityData, error) {
	row := &repository.ElectricityData{
		DataType:   u.DataType,
		Period:     u.Period,
		PeriodDate: repository.TruncateDay(u.PeriodDate),
		Amount:     u.Amount,
		Count:      u.Count,
		Category:   repository.CategoryFor(u.Period),
	}
	if err := s.store.Upsert(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// Status returns the static system-status card.
func (s *MonitorService) Status() SystemStatus {
	return SystemStatus{
		Status:      SystemStatusOnline,
		Timestamp:   s.now().Format(time.DateOnly),
		Version:     Version,
		UsersOnline: usersOnline,
	}
}
