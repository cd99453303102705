// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want LineKind
	}{
		{"API调用失败: 服务器返回状态码 500，错误信息: boom", LineError},
		{"网络错误: 无法连接到API服务器，请检查网络连接", LineError},
		{"data: [DONE]", LineTerminator},
		{`data: {"choices":[]}`, LineData},
		{"data: not json", LineData},
		{"", LineOther},
		{": keep-alive", LineOther},
		{"event: message", LineOther},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.line), "line %q", tt.line)
	}
}

func TestExtractDelta(t *testing.T) {
	t.Parallel()

	delta, ok := ExtractDelta(`data: {"id":"x","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"您好"}}]}`)
	assert.True(t, ok)
	assert.Equal(t, "您好", delta)

	delta, ok = ExtractDelta(`data: {"choices":[{"index":0,"delta":{"role":"assistant"}}]}`)
	assert.True(t, ok)
	assert.Empty(t, delta)

	delta, ok = ExtractDelta(`data: {"choices":[]}`)
	assert.True(t, ok)
	assert.Empty(t, delta)

	_, ok = ExtractDelta("data: {truncated")
	assert.False(t, ok)
}

func TestLineKind_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "error", LineError.String())
	assert.Equal(t, "data", LineData.String())
	assert.Equal(t, "terminator", LineTerminator.String())
	assert.Equal(t, "other", LineOther.String())
}
