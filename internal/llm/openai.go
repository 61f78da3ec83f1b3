package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// OpenAIProvider talks to any OpenAI-compatible /chat/completions endpoint.
type OpenAIProvider struct {
	baseProvider
}

// NewOpenAIProvider creates a provider. cfg.BackendType selects request
// shaping; it defaults to openai.
func NewOpenAIProvider(cfg *ProviderConfig) *OpenAIProvider {
	return &OpenAIProvider{
		baseProvider: newBaseProvider(cfg),
	}
}

// Chat sends a chat request.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if p.config.APIKey == "" {
		return nil, &PermanentError{Err: errors.New("API key not configured")}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()

	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: fmt.Errorf("execute request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return nil, statusError(resp.StatusCode, resp.Header, bodyBytes)
	}

	var openaiResp openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// A truncated body is usually a dropped connection.
		return nil, &TransientError{Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	if len(openaiResp.Choices) == 0 {
		return nil, &TransientError{Status: resp.StatusCode, Err: errors.New("no choices in response")}
	}

	choice := openaiResp.Choices[0]
	return &ChatResponse{
		Content:          choice.Message.Content,
		Model:            openaiResp.Model,
		PromptTokens:     openaiResp.Usage.PromptTokens,
		CompletionTokens: openaiResp.Usage.CompletionTokens,
		TokensUsed:       openaiResp.Usage.TotalTokens,
		Duration:         time.Since(start),
		FinishReason:     choice.FinishReason,
	}, nil
}

func (p *OpenAIProvider) buildRequest(req *ChatRequest) openAIChatRequest {
	out := openAIChatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if out.Model == "" {
		out.Model = p.config.Model
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = p.config.MaxTokens
	}
	if out.Temperature == 0 {
		out.Temperature = p.config.Temperature
	}
	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, openAIMessage{Role: msg.Role, Content: msg.Content})
	}

	switch p.config.BackendType {
	case BackendOpenAI:
		if req.JSONMode {
			out.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
		}
	case BackendTGI:
		out.RepetitionPenalty = 1.05
	}
	return out
}

// OpenAI API types
type openAIChatRequest struct {
	Model             string                `json:"model"`
	Messages          []openAIMessage       `json:"messages"`
	MaxTokens         int                   `json:"max_tokens,omitempty"`
	Temperature       float64               `json:"temperature,omitempty"`
	ResponseFormat    *openAIResponseFormat `json:"response_format,omitempty"`
	RepetitionPenalty float64               `json:"repetition_penalty,omitempty"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
