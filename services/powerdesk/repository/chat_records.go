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
	"time"

	"gorm.io/gorm"
)

// ChatRecordRepository stores chat history.
type ChatRecordRepository struct {
	db *gorm.DB
}

func NewChatRecordRepository(db *gorm.DB) *ChatRecordRepository {
	return &ChatRecordRepository{db: db}
}

// Save inserts rec.
func (r *ChatRecordRepository) Save(ctx context.Context, rec *ChatRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("save chat record: %w", err)
	}
	return nil
}

// FindBySession returns a session's records oldest first.
func (r *ChatRecordRepository) FindBySession(ctx context.Context, sessionID string) ([]ChatRecord, error) {
	out := []ChatRecord{}
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at").Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list chat records: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes records created before cutoff and returns how
// many were deleted.
func (r *ChatRecordRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&ChatRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge chat records: %w", res.Error)
	}
	return res.RowsAffected, nil
}
