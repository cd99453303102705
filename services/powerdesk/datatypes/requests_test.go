// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestValidate_Messages(t *testing.T) {
	tests := []struct {
		name string
		body any
		want string
	}{
		{"blank prompt", &PromptRequest{Prompt: "   "}, "提问内容不能为空"},
		{"long prompt", &PromptRequest{Prompt: strings.Repeat("a", 8193)}, "提问内容超出长度限制"},
		{"blank message", &SendMessageRequest{}, "消息不能为空"},
		{"missing username", &LoginRequest{Password: "x"}, "用户名不能为空"},
		{"missing password", &LoginRequest{Username: "admin"}, "密码不能为空"},
		{"bad data type", &ElectricityUpdateRequest{DataType: "factory", Period: "day", PeriodDate: "2025-01-01", Amount: ptr(1.0), Count: ptr(1)}, "数据类型必须是以下之一: resident non_resident"},
		{"bad date", &ElectricityUpdateRequest{DataType: "resident", Period: "day", PeriodDate: "2025/01/01", Amount: ptr(1.0), Count: ptr(1)}, "周期日期格式不正确"},
		{"negative amount", &ElectricityUpdateRequest{DataType: "resident", Period: "day", PeriodDate: "2025-01-01", Amount: ptr(-1.0), Count: ptr(1)}, "金额不能小于0"},
		{"missing count", &ElectricityUpdateRequest{DataType: "resident", Period: "day", PeriodDate: "2025-01-01", Amount: ptr(1.0)}, "数量不能为空"},
		{"bad role", &UserUpdateRequest{Role: ptr("ROOT")}, "角色必须是以下之一: ADMIN USER"},
		{"bad email", &UserUpdateRequest{Email: ptr("nope")}, "邮箱格式不正确"},
		{"missing phone", &ServiceRequestBody{CustomerName: "王五"}, "联系电话不能为空"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.body)
			require.Error(t, err)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

func TestValidate_Accepts(t *testing.T) {
	bodies := []any{
		&PromptRequest{Prompt: "如何缴费"},
		&SendMessageRequest{Message: "停电了", SessionID: "SESS_1"},
		&LoginRequest{Username: "admin", Password: "password"},
		&ElectricityUpdateRequest{DataType: "non_resident", Period: "year", PeriodDate: "2025-01-01", Amount: ptr(0.0), Count: ptr(0)},
		&UserUpdateRequest{},
		&UserUpdateRequest{Email: ptr("a@b.cn"), Role: ptr("USER")},
		&ServiceRequestBody{CustomerName: "王五", Phone: "13900000000"},
	}
	for _, b := range bodies {
		assert.NoError(t, Validate(b), "%T", b)
	}
}

func TestElectricityUpdateRequest_Date(t *testing.T) {
	r := ElectricityUpdateRequest{PeriodDate: "2025-06-01"}
	d, err := r.Date()
	require.NoError(t, err)
	assert.True(t, d.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
}

func TestEnvelope(t *testing.T) {
	ok := Success("查询成功", true)
	assert.True(t, ok.Success)
	assert.Equal(t, true, ok.Data)
	assert.False(t, ok.Timestamp.IsZero())

	bad := Failure("用户不存在")
	assert.False(t, bad.Success)
	assert.Nil(t, bad.Data)
}
