// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import "strings"

// ClarificationAnswer is returned when nothing else can answer.
const ClarificationAnswer = "抱歉，我没有完全理解您的问题。您可以尝试选择下方的服务分类，或者描述更具体的问题，我会尽力为您解答。"

// Rule maps a keyword set to a canned reply. A rule matches when the
// message contains any of its keywords.
type Rule struct {
	Keywords     []string
	Response     string
	ServiceType  string
	NeedMoreInfo bool
}

// DefaultRules is the built-in classifier, checked in order.
var DefaultRules = []Rule{
	{
		Keywords:     []string{"故障", "报修"},
		Response:     "您好，故障报修服务已受理。请提供您的详细地址和故障现象描述，我们将尽快安排维修人员处理。",
		ServiceType:  "故障报修",
		NeedMoreInfo: true,
	},
	{
		Keywords:     []string{"业务", "办理"},
		Response:     "电力业务办理包括新装、增容、变更用电等。请问您需要办理哪项具体业务？",
		ServiceType:  "电力业务",
		NeedMoreInfo: true,
	},
	{
		Keywords:     []string{"咨询", "问题"},
		Response:     "用电咨询请详细描述您遇到的问题，我们会为您提供专业的解答。",
		ServiceType:  "用电咨询",
		NeedMoreInfo: true,
	},
	{
		Keywords:    []string{"安全", "宣传"},
		Response:    "安全用电提醒：请勿私拉乱接电线，定期检查家用电器，雷雨天气注意用电安全，远离电力设施。",
		ServiceType: "安全宣传",
	},
	{
		Keywords:     []string{"政策", "电价"},
		Response:     "现行电价政策为阶梯电价，具体标准可查询当地供电营业厅或官方网站。您也可以提供具体问题，我会详细为您解读。",
		ServiceType:  "政策解读",
		NeedMoreInfo: true,
	},
	{
		Keywords:     []string{"电表", "计量"},
		Response:     "电表问题包括计量不准、显示异常、安装问题等。请提供您的用户编号和具体问题描述，我们将安排核查。",
		ServiceType:  "电表问题",
		NeedMoreInfo: true,
	},
	{
		Keywords: []string{"电话", "联系"},
		Response: "我们的24小时客服电话是95598，紧急情况请直接拨打。平时咨询也可以通过这个智能助手进行。",
	},
	{
		Keywords:     []string{"上门", "预约"},
		Response:     "上门服务需要预约登记，请提供您的姓名、联系电话、详细地址和需要服务的具体内容。",
		ServiceType:  "上门服务",
		NeedMoreInfo: true,
	},
}

// MatchRule returns the first rule with a keyword contained in text.
func MatchRule(rules []Rule, text string) (Rule, bool) {
	for _, r := range rules {
		for _, kw := range r.Keywords {
			if kw != "" && strings.Contains(text, kw) {
				return r, true
			}
		}
	}
	return Rule{}, false
}
