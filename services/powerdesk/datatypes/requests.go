// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the JSON request and response bodies of the
// PowerDesk HTTP API together with their validation rules.
package datatypes

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// MaxPromptBytes bounds chat prompts and messages.
const MaxPromptBytes = 8 * 1024

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Field names in errors follow the `label` tag, then the json name.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		if label := f.Tag.Get("label"); label != "" {
			return label
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("notblank", notBlank)
}

// notBlank rejects strings that are empty after trimming.
func notBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// Validate checks v against its `validate` tags. The returned error's
// message is the first failure, phrased for end users.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	return &ValidationError{Field: verrs[0].Field(), Tag: verrs[0].Tag(), Param: verrs[0].Param()}
}

// ValidationError describes the first rule a request body broke.
type ValidationError struct {
	Field string
	Tag   string
	Param string
}

func (e *ValidationError) Error() string {
	switch e.Tag {
	case "required", "notblank":
		return e.Field + "不能为空"
	case "gte", "min":
		return e.Field + "不能小于" + e.Param
	case "max", "lte":
		return e.Field + "超出长度限制"
	case "oneof":
		return e.Field + "必须是以下之一: " + e.Param
	default:
		return e.Field + "格式不正确"
	}
}

// =============================================================================
// Chat
// =============================================================================

// PromptRequest is the body of POST /api/chat.
type PromptRequest struct {
	Prompt string `json:"prompt" label:"提问内容" validate:"notblank,max=8192"`
}

// SendMessageRequest is the body of POST /api/chat/send.
type SendMessageRequest struct {
	Message   string `json:"message" label:"消息" validate:"notblank,max=8192"`
	SessionID string `json:"sessionId" validate:"max=100"`
	UserID    *uint  `json:"userId"`
}

// =============================================================================
// Auth
// =============================================================================

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username   string `json:"username" label:"用户名" validate:"notblank,max=50"`
	Password   string `json:"password" label:"密码" validate:"required"`
	RememberMe bool   `json:"rememberMe"`
}

// FaceLoginRequest is the body of the face-login endpoints. The face
// payload is accepted as-is.
type FaceLoginRequest struct {
	FaceData  string `json:"faceData"`
	SessionID string `json:"sessionId"`
}

// RegisterFaceRequest is the body of POST /api/auth/register-face/:idOrName.
type RegisterFaceRequest struct {
	FaceData string `json:"faceData"`
}

// RefreshRequest is the body of POST /api/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" label:"refreshToken" validate:"required"`
}

// =============================================================================
// Monitor
// =============================================================================

// ElectricityUpdateRequest is the snake_case body of
// POST /api/monitor/update-electricity.
type ElectricityUpdateRequest struct {
	DataType   string   `json:"data_type" label:"数据类型" validate:"required,oneof=resident non_resident"`
	Period     string   `json:"period" label:"周期类型" validate:"required,oneof=day month year"`
	PeriodDate string   `json:"period_date" label:"周期日期" validate:"required,datetime=2006-01-02"`
	Amount     *float64 `json:"amount" label:"金额" validate:"required,gte=0"`
	Count      *int     `json:"count" label:"数量" validate:"required,gte=0"`
}

// Date parses PeriodDate. Call after Validate.
func (r *ElectricityUpdateRequest) Date() (time.Time, error) {
	return time.Parse(time.DateOnly, r.PeriodDate)
}

// =============================================================================
// Users
// =============================================================================

// UserUpdateRequest is the body of PUT /api/users/:id. Absent fields are
// left unchanged.
type UserUpdateRequest struct {
	RealName *string `json:"realName" validate:"omitempty,max=50"`
	Phone    *string `json:"phone" validate:"omitempty,max=20"`
	Email    *string `json:"email" label:"邮箱" validate:"omitempty,max=100,email"`
	Role     *string `json:"role" label:"角色" validate:"omitempty,oneof=ADMIN USER"`
}

// =============================================================================
// Service requests
// =============================================================================

// ServiceRequestBody is the body of POST /api/service-requests.
type ServiceRequestBody struct {
	UserID             *uint  `json:"userId"`
	CustomerName       string `json:"customerName" label:"客户姓名" validate:"notblank,max=50"`
	Phone              string `json:"phone" label:"联系电话" validate:"notblank,max=20"`
	Address            string `json:"address" validate:"max=255"`
	ServiceTypeID      *uint  `json:"serviceTypeId"`
	ProblemDescription string `json:"problemDescription" validate:"max=2000"`
}
