// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noFlushWriter struct{ http.ResponseWriter }

func TestNewSSEWriter_RequiresFlusher(t *testing.T) {
	_, err := NewSSEWriter(noFlushWriter{httptest.NewRecorder()})
	assert.Error(t, err)
}

func TestSSEWriter_Send(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"single line", "您好", "data: 您好\n\n"},
		{"multi line", "第一行\n第二行", "data: 第一行\ndata: 第二行\n\n"},
		{"crlf", "a\r\nb", "data: a\ndata: b\n\n"},
		{"trailing newline", "a\n", "data: a\ndata: \n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			w, err := NewSSEWriter(rec)
			require.NoError(t, err)

			require.NoError(t, w.Send(tt.text))
			assert.Equal(t, tt.want, rec.Body.String())
			assert.True(t, rec.Flushed)
		})
	}
}

func TestSSEWriter_KeepAlive(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.KeepAlive())
	assert.Equal(t, ": ping\n\n", rec.Body.String())
}

func TestSetSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSSEHeaders(rec)

	assert.Equal(t, "text/event-stream; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}

// deadlineRecorder records write deadlines the way a real connection
// would accept them.
type deadlineRecorder struct {
	*httptest.ResponseRecorder
	deadlines []time.Time
	err       error
}

func (r *deadlineRecorder) SetWriteDeadline(t time.Time) error {
	r.deadlines = append(r.deadlines, t)
	return r.err
}

func TestSSEWriter_BoundsEachWrite(t *testing.T) {
	rec := &deadlineRecorder{ResponseRecorder: httptest.NewRecorder()}
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	before := time.Now()
	require.NoError(t, w.Send("一"))
	require.NoError(t, w.KeepAlive())
	require.NoError(t, w.Close())

	require.Len(t, rec.deadlines, 3)
	for _, d := range rec.deadlines[:2] {
		assert.WithinDuration(t, before.Add(DefaultSSEWriteTimeout), d, time.Second)
	}
	assert.True(t, rec.deadlines[2].IsZero(), "Close clears the deadline")
}

func TestSSEWriter_DeadlineFailureFailsSend(t *testing.T) {
	rec := &deadlineRecorder{ResponseRecorder: httptest.NewRecorder(), err: errors.New("conn closed")}
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	assert.Error(t, w.Send("一"))
	assert.Empty(t, rec.Body.String())
}

func TestSSEWriter_CloseWithoutDeadlineSupport(t *testing.T) {
	w, err := NewSSEWriter(httptest.NewRecorder())
	require.NoError(t, err)
	assert.NoError(t, w.Close())
}
