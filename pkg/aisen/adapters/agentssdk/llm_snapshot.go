// Summaries of LLM requests and responses. Message text is never included,
// only its shape.
package agentssdk

import (
	"strings"

	llmsdk "github.com/strongdm/ai-llm-sdk/pkg/llm"
)

// recentMessages bounds how many trailing messages are summarized.
const recentMessages = 10

// messageSummary describes message structure without content.
type messageSummary struct {
	Roles         []string
	ContentChars  int
	HasImage      bool
	HasToolCall   bool
	HasToolResult bool
}

func summarizeMessages(msgs []llmsdk.Message) messageSummary {
	if len(msgs) > recentMessages {
		msgs = msgs[len(msgs)-recentMessages:]
	}
	var s messageSummary
	for _, msg := range msgs {
		s.Roles = append(s.Roles, string(msg.Role))
		for _, part := range msg.Parts {
			s.ContentChars += len(part.Text)
			if part.ImageData != nil {
				s.HasImage = true
			}
			if part.ToolCall != nil {
				s.HasToolCall = true
			}
			if part.ToolResult != nil {
				s.HasToolResult = true
			}
		}
	}
	return s
}

// llmRequestData is the breadcrumb payload for an LLM request.
func llmRequestData(req llmsdk.Request) map[string]any {
	msgs := summarizeMessages(req.Messages)
	data := map[string]any{
		"model":         req.Model,
		"provider":      providerName(req.Provider),
		"message_count": len(req.Messages),
		"roles":         strings.Join(msgs.Roles, ","),
		"content_chars": msgs.ContentChars,
		"tool_count":    len(req.Tools),
	}
	if len(req.Tools) > 0 {
		names := make([]string, len(req.Tools))
		for i, tool := range req.Tools {
			names[i] = tool.Name
		}
		data["tool_names"] = strings.Join(names, ",")
	}
	if req.Temperature != nil {
		data["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		data["top_p"] = *req.TopP
	}
	if req.MaxTokens != nil {
		data["max_output"] = *req.MaxTokens
	}
	if msgs.HasImage {
		data["has_image"] = true
	}
	if msgs.HasToolCall {
		data["has_tool_call"] = true
	}
	if msgs.HasToolResult {
		data["has_tool_result"] = true
	}
	return data
}

// llmResponseAttributes are the operation attributes for a completed call.
func llmResponseAttributes(resp llmsdk.Response) map[string]any {
	attrs := map[string]any{
		"llm.usage.prompt":     resp.Usage.PromptTokens,
		"llm.usage.completion": resp.Usage.CompletionTokens,
		"llm.usage.total":      resp.Usage.TotalTokens,
	}
	if resp.ID != "" {
		attrs["llm.response_id"] = resp.ID
	}
	if resp.FinishReason != "" {
		attrs["llm.finish_reason"] = string(resp.FinishReason)
	}
	if len(resp.ToolCalls) > 0 {
		names := make([]string, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			names[i] = tc.Name
		}
		attrs["llm.tool_call_count"] = len(resp.ToolCalls)
		attrs["llm.tool_calls"] = strings.Join(names, ",")
	}
	return attrs
}

// providerName falls back to "default" when the request leaves the provider
// to the client's configuration.
func providerName(p llmsdk.Provider) string {
	if p == "" {
		return "default"
	}
	return string(p)
}
