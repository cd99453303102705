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
	"strings"

	"gorm.io/gorm"
)

// likeEscaper quotes LIKE wildcards with '!'. A backslash escape would need
// different quoting on MySQL and SQLite.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// KnowledgeRepository stores knowledge-base entries.
type KnowledgeRepository struct {
	db *gorm.DB
}

func NewKnowledgeRepository(db *gorm.DB) *KnowledgeRepository {
	return &KnowledgeRepository{db: db}
}

// FindAll returns every entry, active or not, ordered by id, with its
// service type.
func (r *KnowledgeRepository) FindAll(ctx context.Context) ([]KnowledgeEntry, error) {
	var out []KnowledgeEntry
	if err := r.db.WithContext(ctx).Preload("ServiceType").Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list knowledge base: %w", err)
	}
	return out, nil
}

// FindByKeyword returns active entries whose question, answer or keywords
// contain text, ordered by id. The service type is preloaded. % and _ in
// text match literally.
//
// # Limitations
//
//   - Substring match only; no ranking. Callers take the first entry.
func (r *KnowledgeRepository) FindByKeyword(ctx context.Context, text string) ([]KnowledgeEntry, error) {
	pattern := "%" + likeEscaper.Replace(text) + "%"
	var out []KnowledgeEntry
	err := r.db.WithContext(ctx).
		Preload("ServiceType").
		Where("is_active = ?", true).
		Where("question LIKE ? ESCAPE '!' OR answer LIKE ? ESCAPE '!' OR keywords LIKE ? ESCAPE '!'",
			pattern, pattern, pattern).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("search knowledge base: %w", err)
	}
	return out, nil
}

// FindByServiceType returns active entries of one service type.
func (r *KnowledgeRepository) FindByServiceType(ctx context.Context, serviceTypeID uint) ([]KnowledgeEntry, error) {
	var out []KnowledgeEntry
	err := r.db.WithContext(ctx).
		Preload("ServiceType").
		Where("service_type_id = ? AND is_active = ?", serviceTypeID, true).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list knowledge base by service type: %w", err)
	}
	return out, nil
}

// FindPopular returns active entries by hit count, highest first.
func (r *KnowledgeRepository) FindPopular(ctx context.Context) ([]KnowledgeEntry, error) {
	var out []KnowledgeEntry
	err := r.db.WithContext(ctx).
		Preload("ServiceType").
		Where("is_active = ?", true).
		Order("hit_count DESC").Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list popular knowledge base: %w", err)
	}
	return out, nil
}

// IncrementHitCount adds one to the entry's hit count.
func (r *KnowledgeRepository) IncrementHitCount(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).
		Model(&KnowledgeEntry{}).
		Where("id = ?", id).
		UpdateColumn("hit_count", gorm.Expr("hit_count + ?", 1)).Error
	if err != nil {
		return fmt.Errorf("increment hit count: %w", err)
	}
	return nil
}

// Create inserts e.
func (r *KnowledgeRepository) Create(ctx context.Context, e *KnowledgeEntry) error {
	if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("create knowledge entry: %w", err)
	}
	return nil
}

// ServiceTypeRepository stores service types.
type ServiceTypeRepository struct {
	db *gorm.DB
}

func NewServiceTypeRepository(db *gorm.DB) *ServiceTypeRepository {
	return &ServiceTypeRepository{db: db}
}

// FindActive returns active types ordered by sort order.
func (r *ServiceTypeRepository) FindActive(ctx context.Context) ([]ServiceType, error) {
	var out []ServiceType
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("sort_order").Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list service types: %w", err)
	}
	return out, nil
}

func (r *ServiceTypeRepository) FindByID(ctx context.Context, id uint) (*ServiceType, error) {
	var st ServiceType
	if err := r.db.WithContext(ctx).First(&st, id).Error; err != nil {
		return nil, notFound(err, "find service type")
	}
	return &st, nil
}

func (r *ServiceTypeRepository) FindByName(ctx context.Context, name string) (*ServiceType, error) {
	var st ServiceType
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&st).Error; err != nil {
		return nil, notFound(err, "find service type by name")
	}
	return &st, nil
}

func (r *ServiceTypeRepository) Create(ctx context.Context, st *ServiceType) error {
	if err := r.db.WithContext(ctx).Create(st).Error; err != nil {
		return fmt.Errorf("create service type: %w", err)
	}
	return nil
}
