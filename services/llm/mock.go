package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
)

// DefaultPrompt is answered when a conversation carries no user message.
const DefaultPrompt = "如何使用电力服务"

// FallbackAnswer is the canned reply for prompts missing from the mock table.
const FallbackAnswer = "感谢您的提问！我是电力服务智能助手，请问还有什么可以帮您的？"

// MockChunkRunes is the window size used when the mock streams an answer.
const MockChunkRunes = 10

const paymentMethods = "您可以通过以下方式快捷缴费：\n1. 微信/支付宝生活缴费功能\n2. 电力公司官方APP\n3. 银行代扣服务\n4. 线下营业厅自助终端"

// mockAnswers is read-only after package initialization.
var mockAnswers = map[string]string{
	"如何快捷缴费":    paymentMethods,
	"缴电费有那些方法":  paymentMethods,
	"电费缴费方式":    paymentMethods,
	"怎么交电费":     paymentMethods,
	"缴费方式":      paymentMethods,
	"电费查询":      "您可以通过以下方式查询电费：\n1. 登录电力公司官方网站\n2. 使用电力公司APP\n3. 发送短信查询\n4. 拨打电力服务热线",
	"故障报修":      "如果您遇到电力故障，请拨打电力服务热线95598进行报修，或通过官方APP在线提交报修申请。",
	"开户流程":      "电力开户流程：\n1. 准备身份证、房产证等材料\n2. 前往当地电力营业厅\n3. 填写开户申请表\n4. 工作人员审核后办理开户",
	"电价标准":      "当前电价标准根据不同用户类型有所区别：\n- 居民用电：0.56元/度（第一档）\n- 商业用电：1.02元/度\n- 工业用电：0.85元/度",
}

// MockAnswer returns the canned answer for prompt, or FallbackAnswer.
func MockAnswer(prompt string) string {
	if answer, ok := mockAnswers[strings.TrimSpace(prompt)]; ok {
		return answer
	}
	return FallbackAnswer
}

// lastUserPrompt returns the content of the last user-role message.
func lastUserPrompt(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == openai.ChatMessageRoleUser {
			return messages[i].Content
		}
	}
	return DefaultPrompt
}

// SplitRunes slices s into windows of at most size runes. Multi-byte
// characters are never split.
func SplitRunes(s string, size int) []string {
	if s == "" || size <= 0 {
		return nil
	}
	chunks := make([]string, 0, utf8.RuneCountInString(s)/size+1)
	for len(s) > 0 {
		end, n := 0, 0
		for end < len(s) && n < size {
			_, w := utf8.DecodeRuneInString(s[end:])
			end += w
			n++
		}
		chunks = append(chunks, s[:end])
		s = s[end:]
	}
	return chunks
}

// mockCompletion renders answer as a chat.completion document.
func mockCompletion(model, answer string) string {
	resp := openai.ChatCompletionResponse{
		ID:      "mock-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openai.ChatCompletionChoice{{
			Index:        0,
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: answer},
			FinishReason: openai.FinishReasonStop,
		}},
	}
	body, err := json.Marshal(resp)
	if err != nil {
		// Only reachable if the openai types stop being marshalable.
		return `{"choices":[{"message":{"role":"assistant","content":""}}]}`
	}
	return string(body)
}

// mockChunkLine renders one streamed delta as a protocol data line.
func mockChunkLine(id, model, piece string) string {
	chunk := openai.ChatCompletionStreamResponse{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index: 0,
			Delta: openai.ChatCompletionStreamChoiceDelta{Content: piece},
		}},
	}
	body, _ := json.Marshal(chunk)
	return DataPrefix + string(body)
}

// streamMock emits the canned answer as paced data lines.
func (c *DeepSeekClient) streamMock(ctx context.Context, prompt string, lines chan<- string) error {
	answer := MockAnswer(prompt)
	id := "mock-" + uuid.NewString()

	for _, piece := range SplitRunes(answer, MockChunkRunes) {
		if c.mockDelay > 0 {
			timer := time.NewTimer(c.mockDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := send(ctx, lines, mockChunkLine(id, c.model, piece)); err != nil {
			return err
		}
	}
	return nil
}
