package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Message is one turn of a chat conversation in the OpenAI-compatible wire shape.
type Message = openai.ChatCompletionMessage

// Protocol markers shared by the streaming client and its consumers.
const (
	// DataPrefix starts every payload line of the streaming protocol.
	DataPrefix = "data: "

	// TerminatorLine marks the end of a stream. The client never forwards it.
	TerminatorLine = "data: [DONE]"

	// ErrorPrefixAPI starts a line synthesized for a non-2xx or empty upstream response.
	ErrorPrefixAPI = "API调用失败:"

	// ErrorPrefixNetwork starts a line synthesized for a transport failure.
	ErrorPrefixNetwork = "网络错误:"
)

// ChatClient is the contract for the external chat-completion backend.
//
// Complete performs a single-shot call and returns the raw response body.
// Failures of the upstream are absorbed: the implementation falls back to a
// canned answer instead of returning an error.
//
// Stream forwards the upstream protocol line by line into lines. Empty lines
// and the terminator are skipped. Transport failures are reported as one
// synthesized error line, never as a returned error. Stream does not close
// lines; the caller owns the channel. A non-nil return only means ctx ended.
type ChatClient interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Stream(ctx context.Context, messages []Message, lines chan<- string) error
}

// UserPrompt wraps a single prompt as a one-message conversation.
func UserPrompt(prompt string) []Message {
	return []Message{{Role: openai.ChatMessageRoleUser, Content: prompt}}
}

// CompletionText extracts choices[0].message.content from a chat.completion
// document. Bodies that do not parse, or carry no content, are returned
// unchanged.
func CompletionText(body string) string {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return body
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return body
	}
	return resp.Choices[0].Message.Content
}
