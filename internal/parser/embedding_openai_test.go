package parser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/config"
)

// fakeEmbeddingServer 模拟 OpenAI 兼容的 /embeddings 接口，dims 依次用于每次请求
func fakeEmbeddingServer(t *testing.T, dims ...int) *httptest.Server {
	t.Helper()
	call := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Model == "broken" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}

		dim := dims[len(dims)-1]
		if call < len(dims) {
			dim = dims[call]
		}
		call++

		data := make([]map[string]any, 0, len(req.Input))
		// 倒序返回，验证按 index 归位
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dim)
			vec[0] = float32(len(req.Input[i]))
			data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": vec})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func newTestEmbedder(t *testing.T, baseURL, model string, dims int) *OpenAICompatEmbedder {
	t.Helper()
	e, err := NewOpenAICompatEmbedder(config.EmbeddingConfig{
		APIKey:     "ollama",
		BaseURL:    baseURL + "/v1",
		Model:      model,
		Dimensions: dims,
	}, WithEmbedderLogger(quietLogger()))
	require.NoError(t, err)
	return e
}

func TestOpenAICompatEmbedder_EmbedStrings(t *testing.T) {
	server := fakeEmbeddingServer(t, 4)
	defer server.Close()

	e := newTestEmbedder(t, server.URL, "nomic-embed-text", 0)
	assert.Equal(t, 0, e.GetDimensions(), "维度未确定前为 0")

	vectors, err := e.EmbedStrings(context.Background(), []string{"a", "bbb"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, 1.0, vectors[0][0])
	assert.Equal(t, 3.0, vectors[1][0])
	assert.Equal(t, 4, e.GetDimensions(), "首次调用后锁定维度")
}

func TestOpenAICompatEmbedder_DimensionMismatch(t *testing.T) {
	server := fakeEmbeddingServer(t, 4, 8)
	defer server.Close()

	e := newTestEmbedder(t, server.URL, "nomic-embed-text", 0)
	dim, err := e.DiscoverDimensions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, dim)

	_, err = e.Embed(context.Background(), "second call returns 8 dims")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestOpenAICompatEmbedder_ConfiguredDimension(t *testing.T) {
	server := fakeEmbeddingServer(t, 4)
	defer server.Close()

	e := newTestEmbedder(t, server.URL, "nomic-embed-text", 3072)
	_, err := e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrDimensionMismatch, "配置的维度与实际不符")
}

func TestOpenAICompatEmbedder_Errors(t *testing.T) {
	server := fakeEmbeddingServer(t, 4)
	defer server.Close()

	_, err := NewOpenAICompatEmbedder(config.EmbeddingConfig{Model: "m"})
	assert.Error(t, err, "缺少 API key")

	e := newTestEmbedder(t, server.URL, "broken", 0)
	_, err = e.Embed(context.Background(), "x")
	assert.Error(t, err)

	vectors, err := e.EmbedStrings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}
