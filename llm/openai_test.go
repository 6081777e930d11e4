package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfleet/quantfleet/types"
)

func newCompatServer(t *testing.T) (*httptest.Server, *[]*http.Request) {
	t.Helper()
	var seen []*http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Clone(context.Background()))
		switch r.URL.Path {
		case "/v1/chat/completions":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"role": "assistant", "content": "hold positions"}},
				},
				"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
			})
		case "/v1/embeddings":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"embedding": []float64{0.1, 0.2, 0.3}}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestNewOpenAICompat_RequiresBaseURL(t *testing.T) {
	_, err := NewOpenAICompat(OpenAICompatConfig{}, nil)
	assert.True(t, types.HasCode(err, types.ErrValidation))
}

func TestOpenAICompat_Complete(t *testing.T) {
	srv, seen := newCompatServer(t)
	p, err := NewOpenAICompat(OpenAICompatConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "test-model"}, nil)
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), &CompletionRequest{
		SystemPrompt: "you are a desk agent",
		UserPrompt:   "what now",
		Temperature:  0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, "hold positions", resp.Content)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	require.Len(t, *seen, 1)
	assert.Equal(t, "Bearer test-key", (*seen)[0].Header.Get("Authorization"))
}

func TestOpenAICompat_Embed(t *testing.T) {
	srv, _ := newCompatServer(t)
	p, err := NewOpenAICompat(OpenAICompatConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	vec, err := p.Embed(context.Background(), "portfolio drift")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

func TestOpenAICompat_HTTPErrorIsCallFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	p, err := NewOpenAICompat(OpenAICompatConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), &CompletionRequest{UserPrompt: "hi"})
	assert.True(t, types.HasCode(err, types.ErrServiceCallFailed))
}

func TestOpenAICompat_UnreachableEndpoint(t *testing.T) {
	p, err := NewOpenAICompat(OpenAICompatConfig{BaseURL: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), &CompletionRequest{UserPrompt: "hi"})
	assert.True(t, types.HasCode(err, types.ErrServiceUnreachable))
}
