package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/skalene/maestro/internal/llm"
	"github.com/skalene/maestro/pkg/models"
)

func TestNewOpenAIProvider(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}

	provider, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	if provider.defaultModel != defaultOpenAIModel {
		t.Errorf("default model not applied: %q", provider.defaultModel)
	}
	if provider.Name() != "openai" {
		t.Errorf("unexpected name %q", provider.Name())
	}
}

func TestOpenAIMessageConversion(t *testing.T) {
	messages := []*models.Message{
		{Role: models.RoleUser, Content: "find the answer"},
		{
			Role:      models.RoleAssistant,
			Content:   "Searching.",
			ToolCalls: []models.ToolCall{{ID: "c1", Name: "search", Input: json.RawMessage(`{"q":"answer"}`)}},
		},
		{Role: models.RoleTool, ToolCallID: "c1", Content: "42"},
	}

	converted := openaiMessages(messages, "You are terse.")

	if len(converted) != 4 {
		t.Fatalf("expected 4 messages including system, got %d", len(converted))
	}
	if converted[0].Role != openai.ChatMessageRoleSystem || converted[0].Content != "You are terse." {
		t.Errorf("system prompt not injected: %+v", converted[0])
	}
	if converted[2].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("assistant role lost: %+v", converted[2])
	}
	if len(converted[2].ToolCalls) != 1 || converted[2].ToolCalls[0].Function.Name != "search" {
		t.Errorf("tool calls not converted: %+v", converted[2].ToolCalls)
	}
	if converted[2].ToolCalls[0].Function.Arguments != `{"q":"answer"}` {
		t.Errorf("arguments lost: %q", converted[2].ToolCalls[0].Function.Arguments)
	}
	if converted[3].Role != openai.ChatMessageRoleTool || converted[3].ToolCallID != "c1" {
		t.Errorf("tool result not linked: %+v", converted[3])
	}
}

func TestOpenAIToolConversion(t *testing.T) {
	tools := []llm.ToolSchema{
		{
			Name:        "search",
			Description: "Search the index.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`),
		},
		{
			Name:        "broken",
			InputSchema: json.RawMessage(`{not json`),
		},
	}

	converted := openaiTools(tools)
	if len(converted) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(converted))
	}
	if converted[0].Function.Name != "search" || converted[0].Function.Description != "Search the index." {
		t.Errorf("tool metadata lost: %+v", converted[0].Function)
	}

	// A broken schema degrades to an empty object instead of failing
	// the whole request.
	params, ok := converted[1].Function.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Errorf("broken schema should degrade to empty object, got %+v", converted[1].Function.Parameters)
	}
}

func TestOpenAIComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": "Checking.",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "search", "arguments": "{\"q\":\"capital of France\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`))
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}

	resp, err := provider.Complete(context.Background(), &llm.Request{
		Messages:    []*models.Message{{Role: models.RoleUser, Content: "What is the capital of France?"}},
		Temperature: -1,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if resp.Content != "Checking." {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_1" || resp.ToolCalls[0].Name != "search" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	if resp.StopReason != "tool_calls" {
		t.Errorf("unexpected stop reason %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 7 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
}

func TestOpenAIErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"error":{"message":"Rate limit reached","type":"rate_limit_error"}}`,
			sentinel: llm.ErrRateLimited,
		},
		{
			name:     "server error",
			status:   http.StatusBadGateway,
			body:     `{"error":{"message":"Bad gateway","type":"server_error"}}`,
			sentinel: llm.ErrServerError,
		},
		{
			name:     "context overflow",
			status:   http.StatusBadRequest,
			body:     `{"error":{"message":"This model's maximum context length is 128000 tokens","type":"invalid_request_error","code":"context_length_exceeded"}}`,
			sentinel: llm.ErrContextTooLarge,
		},
		{
			name:     "bad request",
			status:   http.StatusBadRequest,
			body:     `{"error":{"message":"Invalid value for model","type":"invalid_request_error"}}`,
			sentinel: llm.ErrBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			provider, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL + "/v1"})
			if err != nil {
				t.Fatalf("NewOpenAIProvider: %v", err)
			}

			_, err = provider.Complete(context.Background(), &llm.Request{
				Messages:    []*models.Message{{Role: models.RoleUser, Content: "hello"}},
				Temperature: -1,
			})
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("expected %v, got %v", tt.sentinel, err)
			}
		})
	}
}
