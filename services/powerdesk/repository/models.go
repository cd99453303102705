// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repository

import (
	"time"

	"gorm.io/gorm"
)

// Role values stored in users.role.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// Service request defaults.
const (
	RequestStatusPending  = "PENDING"
	RequestPriorityNormal = "NORMAL"
)

// Electricity data types and periods.
const (
	DataTypeResident    = "resident"
	DataTypeNonResident = "non_resident"

	PeriodDay   = "day"
	PeriodMonth = "month"
	PeriodYear  = "year"
)

// User is an account of the service hall. Password and face data never
// leave the server.
type User struct {
	ID             uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Username       string     `gorm:"size:50;not null;uniqueIndex" json:"username"`
	Password       string     `gorm:"size:255;not null" json:"-"`
	RealName       string     `gorm:"size:50" json:"realName"`
	Phone          string     `gorm:"size:20" json:"phone"`
	Email          string     `gorm:"size:100" json:"email"`
	Role           string     `gorm:"size:20;not null" json:"role"`
	FaceData       string     `gorm:"type:text" json:"-"`
	FaceRegistered bool       `gorm:"not null" json:"faceRegistered"`
	IsActive       bool       `gorm:"not null" json:"isActive"`
	LastLoginTime  *time.Time `json:"lastLoginTime"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (User) TableName() string { return "users" }

// BeforeCreate defaults the role.
func (u *User) BeforeCreate(*gorm.DB) error {
	if u.Role == "" {
		u.Role = RoleUser
	}
	return nil
}

// ServiceType is a category of utility service (故障报修, 电力业务, ...).
type ServiceType struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"size:50;not null;uniqueIndex" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Icon        string    `gorm:"size:100" json:"icon"`
	SortOrder   int       `gorm:"not null;default:0" json:"sortOrder"`
	IsActive    bool      `gorm:"not null" json:"isActive"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (ServiceType) TableName() string { return "service_types" }

// KnowledgeEntry is one authored question/answer pair.
type KnowledgeEntry struct {
	ID            uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	Question      string       `gorm:"type:text;not null" json:"question"`
	Answer        string       `gorm:"type:text;not null" json:"answer"`
	ServiceTypeID *uint        `gorm:"index" json:"serviceTypeId"`
	ServiceType   *ServiceType `gorm:"foreignKey:ServiceTypeID" json:"serviceType,omitempty"`
	Keywords      string       `gorm:"size:500" json:"keywords"`
	HitCount      int          `gorm:"not null;default:0;index" json:"hitCount"`
	IsActive      bool         `gorm:"not null;index" json:"isActive"`
	CreatedAt     time.Time    `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time    `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (KnowledgeEntry) TableName() string { return "knowledge_base" }

// ChatRecord is the history of one answered question. BotResponse is
// never NULL; callers store "" when there is no answer text.
type ChatRecord struct {
	ID               uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID        string    `gorm:"size:100;not null;index" json:"sessionId"`
	UserID           *uint     `gorm:"index" json:"userId"`
	UserMessage      string    `gorm:"type:text;not null" json:"userMessage"`
	BotResponse      string    `gorm:"type:text;not null" json:"botResponse"`
	ServiceTypeID    *uint     `json:"serviceTypeId"`
	ResponseTime     int64     `json:"responseTime"`
	UserSatisfaction *int      `json:"userSatisfaction"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (ChatRecord) TableName() string { return "chat_records" }

// ElectricityData is one usage figure for a (type, period, date) triple.
type ElectricityData struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	DataType   string    `gorm:"size:20;not null;uniqueIndex:idx_electricity_key" json:"dataType"`
	Period     string    `gorm:"size:10;not null;uniqueIndex:idx_electricity_key" json:"period"`
	PeriodDate time.Time `gorm:"not null;uniqueIndex:idx_electricity_key" json:"periodDate"`
	Amount     float64   `gorm:"type:decimal(10,2);not null" json:"amount"`
	Count      int       `gorm:"not null;default:0" json:"count"`
	Category   string    `gorm:"size:50" json:"category"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (ElectricityData) TableName() string { return "electricity_data" }

// ServiceRequest is an on-site service ticket.
type ServiceRequest struct {
	ID                 uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID             *uint      `gorm:"index" json:"userId"`
	CustomerName       string     `gorm:"size:50;not null" json:"customerName"`
	Phone              string     `gorm:"size:20;not null;index" json:"phone"`
	Address            string     `gorm:"size:255" json:"address"`
	ServiceTypeID      *uint      `json:"serviceTypeId"`
	ProblemDescription string     `gorm:"type:text" json:"problemDescription"`
	Status             string     `gorm:"size:20;not null;index" json:"status"`
	Priority           string     `gorm:"size:20;not null" json:"priority"`
	AssignedStaff      string     `gorm:"size:50" json:"assignedStaff"`
	ScheduledTime      *time.Time `json:"scheduledTime"`
	CompletedTime      *time.Time `json:"completedTime"`
	CreatedAt          time.Time  `gorm:"autoCreateTime;index" json:"createdAt"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (ServiceRequest) TableName() string { return "service_requests" }

// BeforeCreate defaults status and priority.
func (r *ServiceRequest) BeforeCreate(*gorm.DB) error {
	if r.Status == "" {
		r.Status = RequestStatusPending
	}
	if r.Priority == "" {
		r.Priority = RequestPriorityNormal
	}
	return nil
}

// allModels lists every table for AutoMigrate.
func allModels() []any {
	return []any{
		&User{},
		&ServiceType{},
		&KnowledgeEntry{},
		&ChatRecord{},
		&ElectricityData{},
		&ServiceRequest{},
	}
}
