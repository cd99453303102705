package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Helpers
// =============================================================================

// newTestDeepSeekClient creates a live client pointed at a test server.
func newTestDeepSeekClient(t *testing.T, baseURL string) *DeepSeekClient {
	t.Helper()
	c, err := NewDeepSeekClient(DeepSeekConfig{
		BaseURL:     baseURL,
		APIKey:      "test-key",
		Model:       "deepseek-chat",
		CallTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return c
}

// newTestMockClient creates a mock-mode client without pacing.
func newTestMockClient(t *testing.T) *DeepSeekClient {
	t.Helper()
	c, err := NewDeepSeekClient(DeepSeekConfig{UseMock: true, MockChunkDelay: -1})
	require.NoError(t, err)
	return c
}

// collectStream runs Stream and returns every forwarded line.
func collectStream(t *testing.T, c ChatClient, prompt string) ([]string, error) {
	t.Helper()
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Stream(context.Background(), UserPrompt(prompt), lines)
		close(lines)
	}()

	var got []string
	for line := range lines {
		got = append(got, line)
	}
	return got, <-errCh
}

// decodeDeltas concatenates the delta content of data lines.
func decodeDeltas(t *testing.T, lines []string) string {
	t.Helper()
	var sb strings.Builder
	for _, line := range lines {
		require.True(t, strings.HasPrefix(line, DataPrefix), "unexpected line %q", line)
		var chunk openai.ChatCompletionStreamResponse
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, DataPrefix)), &chunk))
		require.NotEmpty(t, chunk.Choices)
		sb.WriteString(chunk.Choices[0].Delta.Content)
	}
	return sb.String()
}

func answerOf(t *testing.T, body string) string {
	t.Helper()
	var resp openai.ChatCompletionResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	require.NotEmpty(t, resp.Choices)
	return resp.Choices[0].Message.Content
}

// =============================================================================
// Construction
// =============================================================================

func TestNewDeepSeekClient_LiveRequiresBaseURL(t *testing.T) {
	_, err := NewDeepSeekClient(DeepSeekConfig{Model: "m"})
	assert.Error(t, err)
}

func TestNewDeepSeekClient_MockNeedsNothing(t *testing.T) {
	c, err := NewDeepSeekClient(DeepSeekConfig{UseMock: true})
	require.NoError(t, err)
	assert.Equal(t, defaultMockChunkDelay, c.mockDelay)
	assert.Equal(t, "deepseek-chat", c.model)
}

// =============================================================================
// Mock mode
// =============================================================================

func TestMockAnswer_KnownAndUnknown(t *testing.T) {
	t.Parallel()

	assert.Equal(t, mockAnswers["电费查询"], MockAnswer("电费查询"))
	assert.Equal(t, paymentMethods, MockAnswer("  怎么交电费 "))
	assert.Equal(t, FallbackAnswer, MockAnswer("今天天气怎么样"))
}

func TestComplete_MockReturnsCompletionDocument(t *testing.T) {
	t.Parallel()
	c := newTestMockClient(t)

	body, err := c.Complete(context.Background(), UserPrompt("故障报修"))
	require.NoError(t, err)
	assert.Equal(t, mockAnswers["故障报修"], answerOf(t, body))
}

func TestComplete_MockUsesLastUserMessage(t *testing.T) {
	t.Parallel()
	c := newTestMockClient(t)

	msgs := []Message{
		{Role: openai.ChatMessageRoleUser, Content: "电费查询"},
		{Role: openai.ChatMessageRoleAssistant, Content: "..."},
		{Role: openai.ChatMessageRoleUser, Content: "开户流程"},
	}
	body, err := c.Complete(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, mockAnswers["开户流程"], answerOf(t, body))
}

func TestComplete_MockWithoutUserMessageUsesDefaultPrompt(t *testing.T) {
	t.Parallel()
	c := newTestMockClient(t)

	body, err := c.Complete(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, MockAnswer(DefaultPrompt), answerOf(t, body))
}

func TestStream_MockChunksConcatenateToAnswer(t *testing.T) {
	t.Parallel()
	c := newTestMockClient(t)

	lines, err := collectStream(t, c, "电费查询")
	require.NoError(t, err)

	want := mockAnswers["电费查询"]
	assert.Equal(t, want, decodeDeltas(t, lines))
	runes := utf8.RuneCountInString(want)
	assert.Len(t, lines, (runes+MockChunkRunes-1)/MockChunkRunes)
}

func TestStream_MockUnknownPromptStreamsFallback(t *testing.T) {
	t.Parallel()
	c := newTestMockClient(t)

	lines, err := collectStream(t, c, "随便问问")
	require.NoError(t, err)
	assert.Equal(t, FallbackAnswer, decodeDeltas(t, lines))
}

func TestStream_MockHonoursCancellation(t *testing.T) {
	t.Parallel()
	c, err := NewDeepSeekClient(DeepSeekConfig{UseMock: true, MockChunkDelay: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = c.Stream(ctx, UserPrompt("电费查询"), make(chan string))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSplitRunes(t *testing.T) {
	t.Parallel()

	assert.Nil(t, SplitRunes("", 10))
	assert.Equal(t, []string{"abc"}, SplitRunes("abc", 10))
	assert.Equal(t, []string{"电费查", "询"}, SplitRunes("电费查询", 3))
	assert.Equal(t, []string{"ab", "cd"}, SplitRunes("abcd", 2))
}

func TestCompletionText(t *testing.T) {
	t.Parallel()

	doc := mockCompletion("deepseek-chat", "您好")
	assert.Equal(t, "您好", CompletionText(doc))
	assert.Equal(t, "not json", CompletionText("not json"))
	assert.Equal(t, `{"choices":[]}`, CompletionText(`{"choices":[]}`))
}

// =============================================================================
// Live mode: single shot
// =============================================================================

func TestComplete_LiveSendsExpectedRequest(t *testing.T) {
	t.Parallel()

	var got openai.ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"id":"x","choices":[{"message":{"role":"assistant","content":"hi"}}]}`))
	}))
	defer server.Close()

	c := newTestDeepSeekClient(t, server.URL+"/")
	body, err := c.Complete(context.Background(), UserPrompt("你好"))
	require.NoError(t, err)

	assert.Equal(t, `{"id":"x","choices":[{"message":{"role":"assistant","content":"hi"}}]}`, body)
	assert.Equal(t, "deepseek-chat", got.Model)
	assert.InDelta(t, 0.3, got.Temperature, 0.0001)
	assert.Equal(t, completeMaxTokens, got.MaxTokens)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, SystemPrompt, got.Messages[0].Content)
	assert.Equal(t, "你好", got.Messages[1].Content)
}

func TestComplete_LiveNon2xxFallsBackToMock(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestDeepSeekClient(t, server.URL)
	body, err := c.Complete(context.Background(), UserPrompt("电价标准"))
	require.NoError(t, err)
	assert.Equal(t, mockAnswers["电价标准"], answerOf(t, body))
}

func TestComplete_LiveUnreachableFallsBackToMock(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := newTestDeepSeekClient(t, url)
	body, err := c.Complete(context.Background(), UserPrompt("不认识的问题"))
	require.NoError(t, err)
	assert.Equal(t, FallbackAnswer, answerOf(t, body))
}

// =============================================================================
// Live mode: streaming
// =============================================================================

func TestStream_LiveForwardsLinesAndSkipsTerminator(t *testing.T) {
	t.Parallel()

	var got openai.ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"您好\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"，请讲\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	lines, err := collectStream(t, newTestDeepSeekClient(t, server.URL), "你好")
	require.NoError(t, err)

	assert.Equal(t, []string{
		`data: {"choices":[{"delta":{"content":"您好"}}]}`,
		": keep-alive",
		`data: {"choices":[{"delta":{"content":"，请讲"}}]}`,
	}, lines)
	assert.True(t, got.Stream)
	assert.Equal(t, streamMaxTokens, got.MaxTokens)
}

func TestStream_LiveNon2xxYieldsOneErrorLine(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	lines, err := collectStream(t, newTestDeepSeekClient(t, server.URL), "你好")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "API调用失败: 服务器返回状态码 500，错误信息: boom", lines[0])
}

func TestStream_LiveEmptyBodyYieldsOneErrorLine(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	lines, err := collectStream(t, newTestDeepSeekClient(t, server.URL), "你好")
	require.NoError(t, err)
	assert.Equal(t, []string{emptyResponseErrorLine}, lines)
}

func TestStream_LiveNetworkFailureYieldsOneErrorLine(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	lines, err := collectStream(t, newTestDeepSeekClient(t, url), "你好")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], ErrorPrefixNetwork))
}
