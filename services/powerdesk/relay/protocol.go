// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package relay

import (
	"encoding/json"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/PowerDesk/services/llm"
)

// LineKind classifies one line of the upstream streaming protocol.
type LineKind int

const (
	LineOther LineKind = iota
	LineError
	LineData
	LineTerminator
)

func (k LineKind) String() string {
	switch k {
	case LineError:
		return "error"
	case LineData:
		return "data"
	case LineTerminator:
		return "terminator"
	default:
		return "other"
	}
}

// Classify returns the kind of line. Error markers are checked first so a
// synthesized failure is never mistaken for payload.
func Classify(line string) LineKind {
	switch {
	case strings.HasPrefix(line, llm.ErrorPrefixAPI), strings.HasPrefix(line, llm.ErrorPrefixNetwork):
		return LineError
	case line == llm.TerminatorLine:
		return LineTerminator
	case strings.HasPrefix(line, llm.DataPrefix):
		return LineData
	default:
		return LineOther
	}
}

// ExtractDelta decodes a data line and returns choices[0].delta.content.
//
// ok is false when the payload is not valid JSON. A well-formed chunk
// without choices or content yields ("", true).
func ExtractDelta(line string) (delta string, ok bool) {
	payload := strings.TrimPrefix(line, llm.DataPrefix)
	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return "", false
	}
	if len(chunk.Choices) == 0 {
		return "", true
	}
	return chunk.Choices[0].Delta.Content, true
}
