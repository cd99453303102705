// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ElectricityRepository stores usage figures.
type ElectricityRepository struct {
	db *gorm.DB
}

func NewElectricityRepository(db *gorm.DB) *ElectricityRepository {
	return &ElectricityRepository{db: db}
}

// FindBetween returns rows of dataType whose period date lies in
// [from, to], newest first.
func (r *ElectricityRepository) FindBetween(ctx context.Context, dataType string, from, to time.Time) ([]ElectricityData, error) {
	var out []ElectricityData
	err := r.db.WithContext(ctx).
		Where("data_type = ? AND period_date >= ? AND period_date <= ?", dataType, from, to).
		Order("period_date DESC").Order("id DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list electricity data: %w", err)
	}
	return out, nil
}

// Upsert updates the row matching (DataType, Period, PeriodDate) with
// Amount, Count and Category, or inserts d when none exists. d.ID is set
// on return.
func (r *ElectricityRepository) Upsert(ctx context.Context, d *ElectricityData) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ElectricityData
		err := tx.Where("data_type = ? AND period = ? AND period_date = ?", d.DataType, d.Period, d.PeriodDate).
			First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(d).Error; err != nil {
				return fmt.Errorf("insert electricity data: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("find electricity data: %w", err)
		}

		existing.Amount = d.Amount
		existing.Count = d.Count
		existing.Category = d.Category
		if err := tx.Save(&existing).Error; err != nil {
			return fmt.Errorf("update electricity data: %w", err)
		}
		*d = existing
		return nil
	})
}
