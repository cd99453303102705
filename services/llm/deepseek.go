package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("powerdesk.llm.deepseek")

// SystemPrompt is prepended to every conversation sent upstream.
const SystemPrompt = "你是电力服务营业厅智能问答助手，需用亲切通俗的语气服务用户。核心负责解答电费查询缴纳、电表报装/故障报修、用电套餐办理、峰谷电价标准、停电通知查询、充电桩安装申请这些电力相关问题；回答需简洁，步骤清晰，遇到无法解答的问题请引导用户拨打电力客服热线 95598，禁止回复与电力服务无关的内容。"

const (
	defaultTemperature     = 0.3
	completeMaxTokens      = 256
	streamMaxTokens        = 200
	maxStreamLineBytes     = 1 << 20
	defaultMockChunkDelay  = 100 * time.Millisecond
	networkErrorLine       = ErrorPrefixNetwork + " 无法连接到API服务器，请检查网络连接"
	emptyResponseErrorLine = ErrorPrefixAPI + " 服务器没有返回响应内容"
)

// DeepSeekConfig configures DeepSeekClient.
type DeepSeekConfig struct {
	// BaseURL is the API root; "/chat/completions" is appended.
	BaseURL string
	APIKey  string
	Model   string

	// UseMock answers from the canned table and never dials out.
	UseMock bool

	// MockChunkDelay paces mock streaming. Default: 100ms.
	MockChunkDelay time.Duration

	ConnectTimeout time.Duration // Default: 30s
	ReadTimeout    time.Duration // Default: 60s, time to response headers
	CallTimeout    time.Duration // Default: 120s, whole call including body
}

// DeepSeekClient talks to an OpenAI-compatible chat completion endpoint.
//
// # Description
//
// In live mode it POSTs {model, temperature, max_tokens, messages, stream}
// to {BaseURL}/chat/completions. In mock mode it answers from a fixed table
// and streams the answer as protocol data lines with a pacing delay, so
// consumers cannot tell the two apart.
//
// # Thread Safety
//
// Safe for concurrent use. All fields are immutable after construction.
type DeepSeekClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	useMock    bool
	mockDelay  time.Duration
}

// NewDeepSeekClient builds a client from cfg.
//
// # Inputs
//
//   - cfg: Endpoint, credentials, mode and timeouts. Zero timeouts take defaults.
//
// # Outputs
//
//   - *DeepSeekClient: Ready client.
//   - error: Non-nil if live mode is selected without BaseURL or Model.
func NewDeepSeekClient(cfg DeepSeekConfig) (*DeepSeekClient, error) {
	if !cfg.UseMock {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("deepseek base URL is required in live mode")
		}
		if cfg.Model == "" {
			return nil, fmt.Errorf("deepseek model is required in live mode")
		}
	}
	if cfg.Model == "" {
		cfg.Model = "deepseek-chat"
	}
	if cfg.MockChunkDelay < 0 {
		cfg.MockChunkDelay = 0
	} else if cfg.MockChunkDelay == 0 {
		cfg.MockChunkDelay = defaultMockChunkDelay
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 120 * time.Second
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   8,
	}

	slog.Info("Initializing DeepSeek client",
		"base_url", cfg.BaseURL, "model", cfg.Model, "mock", cfg.UseMock)

	return &DeepSeekClient{
		httpClient: &http.Client{Transport: transport, Timeout: cfg.CallTimeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		useMock:    cfg.UseMock,
		mockDelay:  cfg.MockChunkDelay,
	}, nil
}

// Complete performs a single-shot chat completion and returns the raw body.
//
// # Description
//
// Mock mode returns a chat.completion document for the canned answer.
// In live mode any transport failure, non-2xx status or empty body falls
// back to the same mock document for this call only; the upstream error
// is logged and recorded on the span, never returned.
//
// # Outputs
//
//   - string: Raw JSON response body.
//   - error: Non-nil only when ctx is already done.
func (c *DeepSeekClient) Complete(ctx context.Context, messages []Message) (string, error) {
	ctx, span := tracer.Start(ctx, "DeepSeekClient.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model), attribute.Bool("llm.mock", c.useMock))

	prompt := lastUserPrompt(messages)
	if c.useMock {
		return mockCompletion(c.model, MockAnswer(prompt)), nil
	}

	body, err := c.completeLive(ctx, messages)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("DeepSeek call failed, answering from mock table", "error", err)
		span.SetAttributes(attribute.Bool("llm.fallback", true))
		return mockCompletion(c.model, MockAnswer(prompt)), nil
	}
	return body, nil
}

func (c *DeepSeekClient) completeLive(ctx context.Context, messages []Message) (string, error) {
	resp, err := c.post(ctx, messages, completeMaxTokens, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read deepseek response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("deepseek returned status %d: %s", resp.StatusCode, string(body))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", fmt.Errorf("deepseek returned an empty body")
	}
	return string(body), nil
}

// Stream forwards the upstream streaming protocol into lines.
//
// # Description
//
// Reads the response body line by line. Empty lines and the terminator are
// skipped; every other line is forwarded verbatim. A non-2xx status, an
// empty body or a transport failure becomes exactly one synthesized error
// line, after which Stream returns nil.
//
// # Inputs
//
//   - ctx: Cancels the upstream request and any pending send.
//   - messages: Conversation; the system prompt is prepended.
//   - lines: Receives protocol lines. Not closed by Stream.
//
// # Outputs
//
//   - error: ctx.Err() if the context ended, otherwise nil.
//
// # Thread Safety
//
// Each call owns its request; concurrent calls are independent.
func (c *DeepSeekClient) Stream(ctx context.Context, messages []Message, lines chan<- string) error {
	ctx, span := tracer.Start(ctx, "DeepSeekClient.Stream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model), attribute.Bool("llm.mock", c.useMock))

	if c.useMock {
		return c.streamMock(ctx, lastUserPrompt(messages), lines)
	}

	resp, err := c.post(ctx, messages, streamMaxTokens, true)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("DeepSeek stream request failed", "error", err)
		return send(ctx, lines, networkErrorLine)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxStreamLineBytes))
		span.SetStatus(codes.Error, fmt.Sprintf("status %d", resp.StatusCode))
		return send(ctx, lines, fmt.Sprintf("%s 服务器返回状态码 %d，错误信息: %s",
			ErrorPrefixAPI, resp.StatusCode, string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineBytes)

	forwarded := 0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line == TerminatorLine {
			continue
		}
		if err := send(ctx, lines, line); err != nil {
			return err
		}
		forwarded++
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("DeepSeek stream interrupted", "error", err, "lines_forwarded", forwarded)
		return send(ctx, lines, networkErrorLine)
	}
	if forwarded == 0 {
		return send(ctx, lines, emptyResponseErrorLine)
	}

	span.SetAttributes(attribute.Int("llm.lines_forwarded", forwarded))
	return nil
}

// post sends a chat completion request with the system prompt prepended.
func (c *DeepSeekClient) post(ctx context.Context, messages []Message, maxTokens int, stream bool) (*http.Response, error) {
	payload := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: defaultTemperature,
		MaxTokens:   maxTokens,
		Messages:    withSystemPrompt(messages),
		Stream:      stream,
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal deepseek request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create deepseek request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepseek request: %w", err)
	}
	return resp, nil
}

func withSystemPrompt(messages []Message) []Message {
	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt})
	out = append(out, messages...)
	if len(messages) == 0 {
		out = append(out, UserPrompt(DefaultPrompt)...)
	}
	return out
}

// send delivers line unless ctx ends first.
func send(ctx context.Context, lines chan<- string, line string) error {
	select {
	case lines <- line:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ ChatClient = (*DeepSeekClient)(nil)
