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
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DefaultAdminPassword is the initial password of the seeded admin user.
const DefaultAdminPassword = "password"

type seedKnowledge struct {
	serviceType string
	question    string
	answer      string
	keywords    string
}

var seedServiceTypes = []ServiceType{
	{Name: "故障报修", Description: "停电、跳闸、线路故障等报修服务", Icon: "el-icon-warning", SortOrder: 1},
	{Name: "电力业务", Description: "新装、增容、过户、变更用电等业务办理", Icon: "el-icon-document", SortOrder: 2},
	{Name: "用电咨询", Description: "电费、电价、用电常识等咨询", Icon: "el-icon-question", SortOrder: 3},
	{Name: "安全宣传", Description: "安全用电知识宣传", Icon: "el-icon-lightning", SortOrder: 4},
	{Name: "政策解读", Description: "电价政策与惠民政策解读", Icon: "el-icon-reading", SortOrder: 5},
	{Name: "电表问题", Description: "电表计量、显示、安装问题", Icon: "el-icon-odometer", SortOrder: 6},
	{Name: "上门服务", Description: "预约上门服务登记", Icon: "el-icon-house", SortOrder: 7},
}

var seedKnowledgeEntries = []seedKnowledge{
	{
		serviceType: "用电咨询",
		question:    "如何缴纳电费？",
		answer:      "您可以通过国家电网APP、支付宝、微信、银行代扣或营业厅柜台缴纳电费。",
		keywords:    "缴费,交电费,电费缴纳",
	},
	{
		serviceType: "故障报修",
		question:    "家里突然停电怎么办？",
		answer:      "请先检查家中空气开关是否跳闸；若邻居也停电，请拨打95598报修或在本系统提交故障报修。",
		keywords:    "停电,跳闸,没电",
	},
	{
		serviceType: "电力业务",
		question:    "新房如何办理用电开户？",
		answer:      "请携带身份证和房产证明到营业厅或通过网上国网APP提交开户申请，审核后安排装表。",
		keywords:    "开户,新装,过户",
	},
	{
		serviceType: "政策解读",
		question:    "居民阶梯电价是怎么计算的？",
		answer:      "居民阶梯电价按年度用电量分为三档，各档电价逐级递增，具体标准以当地物价部门公布为准。",
		keywords:    "阶梯电价,电价标准",
	},
}

// Seed inserts reference data into an empty database. Tables that already
// have rows are left alone, so Seed is safe to run on every start.
func Seed(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		typeIDs, err := seedTypes(tx)
		if err != nil {
			return err
		}
		if err := seedKB(tx, typeIDs); err != nil {
			return err
		}
		if err := seedAdmin(tx); err != nil {
			return err
		}
		return seedElectricity(tx, time.Now().UTC())
	})
}

func isEmpty(tx *gorm.DB, model any) (bool, error) {
	var n int64
	if err := tx.Model(model).Count(&n).Error; err != nil {
		return false, err
	}
	return n == 0, nil
}

func seedTypes(tx *gorm.DB) (map[string]uint, error) {
	empty, err := isEmpty(tx, &ServiceType{})
	if err != nil {
		return nil, fmt.Errorf("seed service types: %w", err)
	}
	if empty {
		types := make([]ServiceType, len(seedServiceTypes))
		copy(types, seedServiceTypes)
		for i := range types {
			types[i].IsActive = true
		}
		if err := tx.Create(&types).Error; err != nil {
			return nil, fmt.Errorf("seed service types: %w", err)
		}
		slog.Info("Seeded service types", "count", len(types))
	}

	var all []ServiceType
	if err := tx.Find(&all).Error; err != nil {
		return nil, fmt.Errorf("seed service types: %w", err)
	}
	ids := make(map[string]uint, len(all))
	for _, st := range all {
		ids[st.Name] = st.ID
	}
	return ids, nil
}

func seedKB(tx *gorm.DB, typeIDs map[string]uint) error {
	empty, err := isEmpty(tx, &KnowledgeEntry{})
	if err != nil || !empty {
		return err
	}
	entries := make([]KnowledgeEntry, 0, len(seedKnowledgeEntries))
	for _, k := range seedKnowledgeEntries {
		e := KnowledgeEntry{
			Question: k.question,
			Answer:   k.answer,
			Keywords: k.keywords,
			IsActive: true,
		}
		if id, ok := typeIDs[k.serviceType]; ok {
			e.ServiceTypeID = &id
		}
		entries = append(entries, e)
	}
	if err := tx.Create(&entries).Error; err != nil {
		return fmt.Errorf("seed knowledge base: %w", err)
	}
	slog.Info("Seeded knowledge base", "count", len(entries))
	return nil
}

func seedAdmin(tx *gorm.DB) error {
	empty, err := isEmpty(tx, &User{})
	if err != nil || !empty {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(DefaultAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	admin := User{
		Username:       "admin",
		Password:       string(hash),
		RealName:       "系统管理员",
		Role:           RoleAdmin,
		FaceRegistered: true,
		IsActive:       true,
	}
	if err := tx.Create(&admin).Error; err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	slog.Info("Seeded admin user", "username", admin.Username)
	return nil
}

func seedElectricity(tx *gorm.DB, now time.Time) error {
	empty, err := isEmpty(tx, &ElectricityData{})
	if err != nil || !empty {
		return err
	}
	today := TruncateDay(now)
	rows := []ElectricityData{
		{DataType: DataTypeResident, Period: PeriodDay, PeriodDate: today, Amount: 0.17, Count: 6, Category: CategoryFor(PeriodDay)},
		{DataType: DataTypeResident, Period: PeriodMonth, PeriodDate: today, Amount: 5.32, Count: 180, Category: CategoryFor(PeriodMonth)},
		{DataType: DataTypeResident, Period: PeriodYear, PeriodDate: today, Amount: 61.8, Count: 2150, Category: CategoryFor(PeriodYear)},
		{DataType: DataTypeNonResident, Period: PeriodDay, PeriodDate: today, Amount: 1.14, Count: 1, Category: CategoryFor(PeriodDay)},
		{DataType: DataTypeNonResident, Period: PeriodMonth, PeriodDate: today, Amount: 34.6, Count: 28, Category: CategoryFor(PeriodMonth)},
		{DataType: DataTypeNonResident, Period: PeriodYear, PeriodDate: today, Amount: 402.5, Count: 330, Category: CategoryFor(PeriodYear)},
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("seed electricity data: %w", err)
	}
	slog.Info("Seeded electricity data", "count", len(rows))
	return nil
}

// TruncateDay returns midnight UTC of t's calendar day.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CategoryFor maps a period to its display category; unknown periods map
// to themselves.
func CategoryFor(period string) string {
	switch period {
	case PeriodDay:
		return "当日"
	case PeriodMonth:
		return "当月"
	case PeriodYear:
		return "本年"
	default:
		return period
	}
}
