// Package llm is the client for OpenAI-compatible chat completion backends
// (OpenAI, vLLM, TGI, llama.cpp server) used to brainstorm tasks and generate
// Structured Text candidates.
package llm

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// MaxErrorBodySize limits how much of an error response body is read.
const MaxErrorBodySize = 1 * 1024 * 1024

// readLimitedBody reads up to maxBytes from r.
func readLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes))
}

// Provider defines the interface for chat backends.
type Provider interface {
	// Chat sends a conversation and returns the assistant reply. Errors are
	// *TransientError or *PermanentError unless the context ended.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name returns the provider identifier.
	Name() string

	// Available returns true if the provider is configured.
	Available() bool
}

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	// Model overrides the configured model.
	Model string `json:"model"`

	// Messages in the conversation, system prompt first.
	Messages []Message `json:"messages"`

	// MaxTokens limits response length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness.
	Temperature float64 `json:"temperature,omitempty"`

	// JSONMode asks the backend for a JSON object when it supports that.
	JSONMode bool `json:"json_mode,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// System, User and Assistant build messages.
func System(content string) Message    { return Message{Role: "system", Content: content} }
func User(content string) Message      { return Message{Role: "user", Content: content} }
func Assistant(content string) Message { return Message{Role: "assistant", Content: content} }

// ChatResponse contains the backend's reply.
type ChatResponse struct {
	Content          string        `json:"content"`
	Model            string        `json:"model"`
	TokensUsed       int           `json:"tokens_used,omitempty"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	Duration         time.Duration `json:"duration"`
	FinishReason     string        `json:"finish_reason,omitempty"`
}

// Backend types change how requests are shaped.
const (
	BackendOpenAI   = "openai"   // response_format json_object
	BackendVLLM     = "vllm"     // JSON enforced by prompt
	BackendTGI      = "tgi"      // adds repetition_penalty
	BackendLlamaCPP = "llamacpp" // JSON enforced by prompt
)

// ProviderConfig contains configuration for a provider.
type ProviderConfig struct {
	// Name identifies the provider in logs and metrics.
	Name string

	// BackendType is one of the Backend* constants.
	BackendType string

	// Endpoint is the API base URL, e.g. http://localhost:8000/v1.
	Endpoint string

	// APIKey for authentication. Local backends accept any value.
	APIKey string

	// Model is the default model to use.
	Model string

	// MaxTokens default for responses.
	MaxTokens int

	// Temperature default.
	Temperature float64

	// Timeout for a single API call.
	Timeout time.Duration

	// RequestsPerMinute throttles calls; 0 disables throttling.
	RequestsPerMinute int
}

// DefaultConfig returns sensible defaults for a backend type.
func DefaultConfig(backend string) *ProviderConfig {
	cfg := &ProviderConfig{
		Name:        backend,
		BackendType: backend,
		MaxTokens:   4096,
		Temperature: 0.5,
		Timeout:     2 * time.Minute,
	}
	switch backend {
	case BackendOpenAI:
		cfg.Endpoint = "https://api.openai.com/v1"
		cfg.Model = "gpt-4o-mini"
	case BackendVLLM:
		cfg.Endpoint = "http://127.0.0.1:8000/v1"
		cfg.APIKey = "EMPTY"
	case BackendTGI:
		cfg.Endpoint = "http://127.0.0.1:8080/v1"
		cfg.Model = "tgi"
		cfg.APIKey = "EMPTY"
	case BackendLlamaCPP:
		cfg.Endpoint = "http://127.0.0.1:8080/v1"
		cfg.APIKey = "EMPTY"
	}
	return cfg
}

// ═══════════════════════════════════════════════════════════════════════════════
// BASE PROVIDER
// ═══════════════════════════════════════════════════════════════════════════════

// baseProvider provides common functionality for HTTP-based providers.
type baseProvider struct {
	config  *ProviderConfig
	client  *http.Client
	limiter *Limiter
}

// newBaseProvider creates a new base provider with defaults applied.
func newBaseProvider(cfg *ProviderConfig) baseProvider {
	backend := BackendOpenAI
	if cfg != nil && cfg.BackendType != "" {
		backend = strings.ToLower(cfg.BackendType)
	}
	defaults := DefaultConfig(backend)
	if cfg == nil {
		cfg = defaults
	}

	if cfg.Endpoint == "" {
		cfg.Endpoint = defaults.Endpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.APIKey == "" {
		cfg.APIKey = defaults.APIKey
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.Name == "" {
		cfg.Name = backend
	}
	cfg.BackendType = backend

	return baseProvider{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: NewLimiter(cfg.RequestsPerMinute),
	}
}

// Name returns the provider identifier.
func (b *baseProvider) Name() string {
	return b.config.Name
}

// Available checks if the provider has what it needs to send requests.
func (b *baseProvider) Available() bool {
	return b.config.APIKey != "" && b.config.Model != ""
}
