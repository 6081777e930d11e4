package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quantfleet/quantfleet/types"
)

// OpenAICompatConfig configures an OpenAI-compatible HTTP provider. Any
// endpoint speaking the chat-completions and embeddings wire format works.
type OpenAICompatConfig struct {
	APIKey         string        `yaml:"api_key" json:"api_key"`
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	Model          string        `yaml:"model" json:"model"`
	EmbeddingModel string        `yaml:"embedding_model" json:"embedding_model"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
}

// OpenAICompatProvider implements Provider over the OpenAI-compatible HTTP
// API.
type OpenAICompatProvider struct {
	cfg    OpenAICompatConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAICompat creates a provider for cfg.BaseURL.
func NewOpenAICompat(cfg OpenAICompatConfig, logger *zap.Logger) (*OpenAICompatProvider, error) {
	if cfg.BaseURL == "" {
		return nil, types.NewError(types.ErrValidation, "llm: base_url is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAICompatProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "llm")),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float32        `json:"temperature,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Complete implements Provider.
func (p *OpenAICompatProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	body := chatRequest{
		Model:       p.cfg.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.UserPrompt})
	if req.ResponseFormat == FormatJSON {
		body.ResponseFormat = map[string]any{"type": "json_object"}
	}

	var out chatResponse
	if err := p.post(ctx, "/v1/chat/completions", body, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, types.NewError(types.ErrServiceCallFailed, "llm: completion returned no choices")
	}
	return &CompletionResponse{
		Content: out.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}, nil
}

// Embed implements Provider.
func (p *OpenAICompatProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	var out embeddingResponse
	if err := p.post(ctx, "/v1/embeddings", embeddingRequest{Model: p.cfg.EmbeddingModel, Input: text}, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, types.NewError(types.ErrEmbeddingFailed, "llm: embedding returned no data")
	}
	return out.Data[0].Embedding, nil
}

func (p *OpenAICompatProvider) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return types.Wrap(types.ErrValidation, "llm: encode request", err)
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return types.Wrap(types.ErrValidation, "llm: build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return types.Wrap(types.ErrServiceUnreachable, "llm: endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.Errorf(types.ErrServiceCallFailed, "llm: %s returned %d: %s",
			path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.Wrap(types.ErrServiceCallFailed, fmt.Sprintf("llm: decode %s response", path), err)
	}
	return nil
}
