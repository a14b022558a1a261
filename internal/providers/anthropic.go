package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/skalene/maestro/internal/llm"
	"github.com/skalene/maestro/pkg/models"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API (required).
	APIKey string

	// BaseURL overrides the default API endpoint. Useful for gateway
	// deployments and tests.
	BaseURL string

	// DefaultModel is used when a request does not name a model.
	// Default: claude-sonnet-4-20250514
	DefaultModel string
}

// AnthropicProvider implements llm.Provider on the official Anthropic
// SDK. SDK-internal retries are disabled; the agent loop owns backoff.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider validates the configuration and builds a ready
// provider.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultAnthropicModel
	}

	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
	}, nil
}

// Name returns the stable provider identifier used for routing and
// logging.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete sends one completion request and blocks for the full reply.
func (p *AnthropicProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	messages, err := anthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		// The system prompt is carried separately from messages.
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: req.System},
		}
	}
	if req.Temperature >= 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := anthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
		params.Tools = tools
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err)
	}

	resp := &llm.Response{
		StopReason: string(msg.StopReason),
		Model:      string(msg.Model),
		Usage: models.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: json.RawMessage(block.Input),
			})
		}
	}
	resp.Content = text.String()

	return resp, nil
}

// anthropicMessages converts transcript messages to the Anthropic wire
// format. System messages are skipped here because the API carries the
// system prompt outside the message list.
func anthropicMessages(messages []*models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		switch msg.Role {
		case models.RoleSystem:
			continue

		case models.RoleTool:
			// Every tool result answering one assistant turn must land
			// in a single user message, so consecutive tool messages
			// coalesce.
			var content []anthropic.ContentBlockParamUnion
			for ; i < len(messages) && messages[i].Role == models.RoleTool; i++ {
				tr := messages[i]
				content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, false))
			}
			i--
			result = append(result, anthropic.NewUserMessage(content...))

		case models.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal(call.Input, &input); err != nil {
					return nil, fmt.Errorf("tool call %s has invalid input: %w", call.ID, err)
				}
				content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(content) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(content...))

		default:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	return result, nil
}

func anthropicTools(tools []llm.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", tool.Name, err)
		}

		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for tool %s: missing tool definition", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}

	return result, nil
}

func (p *AnthropicProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus("anthropic", apiErr.StatusCode, apiErr.Error(), err)
	}
	return classifyMessage("anthropic", err)
}
