// Package llm adapts langchaingo providers to the two capabilities the
// engine consumes: streamed free-form generation with native tool calls
// (agent.LLMClient) and constrained JSON output (the structured
// interfaces of the supervisor, the orchestrator, and kgroot).
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/kuberoot/kuberoot/pkg/agent"
	"github.com/kuberoot/kuberoot/pkg/config"
)

// Client is a provider-backed LLM client. One instance is shared by
// every agent in the process; langchaingo models are safe for
// concurrent use.
type Client struct {
	model    llms.Model
	provider *config.LLMProviderConfig
	logger   *slog.Logger
}

// NewClient builds a client for the given provider entry. The API key
// is read from the environment variable the entry names.
func NewClient(provider *config.LLMProviderConfig, logger *slog.Logger) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("llm: provider config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	switch provider.Type {
	case config.ProviderOpenAI, config.ProviderOpenAICompatible:
		// Both speak the OpenAI wire protocol; compatible endpoints carry
		// a custom base URL.
	default:
		return nil, fmt.Errorf("llm: unsupported provider type %q", provider.Type)
	}

	opts := []openai.Option{openai.WithModel(provider.Model)}
	if provider.APIKeyEnv != "" {
		key := os.Getenv(provider.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("llm: environment variable %s is not set", provider.APIKeyEnv)
		}
		opts = append(opts, openai.WithToken(key))
	}
	if provider.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(provider.BaseURL))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: create %s client: %w", provider.Type, err)
	}

	logger.Info("LLM client configured", "provider", provider.Type, "model", provider.Model)
	return &Client{model: model, provider: provider, logger: logger}, nil
}

// Generate implements agent.LLMClient: one streamed completion with
// native tool calling. Text deltas arrive as TextChunk values while the
// provider streams; tool calls and usage follow when the turn ends.
func (c *Client) Generate(ctx context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	provider := input.Config
	if provider == nil {
		provider = c.provider
	}

	messages, err := toMessageContent(input.Messages)
	if err != nil {
		return nil, err
	}

	ch := make(chan agent.Chunk, 16)
	go func() {
		defer close(ch)

		streamed := false
		opts := []llms.CallOption{
			llms.WithTemperature(provider.Temperature),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				streamed = true
				select {
				case ch <- &agent.TextChunk{Content: string(chunk)}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
		}
		if provider.MaxTokens > 0 {
			opts = append(opts, llms.WithMaxTokens(provider.MaxTokens))
		}
		if len(input.Tools) > 0 {
			opts = append(opts, llms.WithTools(toTools(input.Tools)))
		}

		resp, err := c.model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			ch <- &agent.ErrorChunk{Message: err.Error(), Retryable: retryable(err)}
			return
		}
		if len(resp.Choices) == 0 {
			ch <- &agent.ErrorChunk{Message: "provider returned no choices"}
			return
		}
		choice := resp.Choices[0]

		// Providers that ignore the streaming func deliver text here.
		if !streamed && choice.Content != "" {
			ch <- &agent.TextChunk{Content: choice.Content}
		}

		for _, call := range choice.ToolCalls {
			if call.FunctionCall == nil {
				continue
			}
			ch <- &agent.ToolCallChunk{
				CallID:    call.ID,
				Name:      call.FunctionCall.Name,
				Arguments: call.FunctionCall.Arguments,
			}
		}

		if usage := usageChunk(choice.GenerationInfo); usage != nil {
			ch <- usage
		}
	}()
	return ch, nil
}

// CompleteStructured runs one JSON-mode completion at temperature zero
// and decodes the response into out.
func (c *Client) CompleteStructured(ctx context.Context, system, user string, out any) error {
	opts := []llms.CallOption{
		llms.WithTemperature(0),
		llms.WithJSONMode(),
	}
	if c.provider.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.provider.MaxTokens))
	}

	resp, err := c.model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}, opts...)
	if err != nil {
		return fmt.Errorf("structured completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("structured completion: provider returned no choices")
	}

	payload := extractJSON(resp.Choices[0].Content)
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return fmt.Errorf("decode structured response: %w", err)
	}
	return nil
}

// toMessageContent maps the engine's conversation onto langchaingo
// parts.
func toMessageContent(messages []agent.ConversationMessage) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case agent.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, msg.Content))
		case agent.RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, msg.Content))
		case agent.RoleAssistant:
			content := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if msg.Content != "" {
				content.Parts = append(content.Parts, llms.TextContent{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				content.Parts = append(content.Parts, llms.ToolCall{
					ID:   call.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
			out = append(out, content)
		case agent.RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: msg.ToolCallID,
					Name:       msg.ToolName,
					Content:    msg.Content,
				}},
			})
		default:
			return nil, fmt.Errorf("llm: unknown message role %q", msg.Role)
		}
	}
	return out, nil
}

// toTools maps the tool catalog onto the function-calling wire shape.
func toTools(defs []agent.ToolDefinition) []llms.Tool {
	tools := make([]llms.Tool, 0, len(defs))
	for _, def := range defs {
		var params any
		if err := json.Unmarshal([]byte(def.ParametersSchema), &params); err != nil {
			// Catalog schemas are static; an invalid one means a
			// hand-edited entry. Degrade to an open object.
			params = map[string]any{"type": "object"}
		}
		tools = append(tools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

// usageChunk reads token counts out of the provider's generation info.
func usageChunk(info map[string]any) *agent.UsageChunk {
	if len(info) == 0 {
		return nil
	}
	usage := &agent.UsageChunk{
		InputTokens:  intFrom(info, "PromptTokens"),
		OutputTokens: intFrom(info, "CompletionTokens"),
		TotalTokens:  intFrom(info, "TotalTokens"),
	}
	if usage.InputTokens == 0 && usage.OutputTokens == 0 && usage.TotalTokens == 0 {
		return nil
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	return usage
}

func intFrom(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// retryable reports whether a provider error is worth retrying: rate
// limits, upstream 5xx responses, transport hiccups.
func retryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "connection reset"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// extractJSON trims markdown fences and leading prose around a JSON
// document. JSON mode usually returns bare JSON; some compatible
// endpoints wrap it anyway.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
		content = strings.TrimSpace(content)
	}

	if start := strings.IndexAny(content, "{["); start > 0 {
		content = content[start:]
	}
	return content
}
