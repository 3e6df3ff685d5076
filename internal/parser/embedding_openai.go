package parser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/config"
	"resume-match-go/internal/metrics"
	"resume-match-go/internal/tracing"
)

var embedTracer = otel.Tracer("resume-match-go/parser/embedding")

// ErrDimensionMismatch 返回的向量维度与已观察到的维度不一致
var ErrDimensionMismatch = errors.New("向量维度不一致")

const dimensionSampleText = "dimension check"

var _ embedding.Embedder = (*OpenAICompatEmbedder)(nil)

// OpenAICompatEmbedder 实现 embedding.Embedder，调用 OpenAI 兼容的 /embeddings 接口
type OpenAICompatEmbedder struct {
	client *openai.Client
	model  string
	logger *log.Logger

	dimOnce sync.Once
	mu      sync.RWMutex
	dim     int // 0 表示尚未确定
}

// EmbedderOption 配置选项
type EmbedderOption func(*embedderOptions)

type embedderOptions struct {
	httpClient *http.Client
	logger     *log.Logger
}

// WithEmbedderHTTPClient 自定义 HTTP 客户端
func WithEmbedderHTTPClient(c *http.Client) EmbedderOption {
	return func(o *embedderOptions) {
		o.httpClient = c
	}
}

// WithEmbedderLogger 设置日志记录器
func WithEmbedderLogger(l *log.Logger) EmbedderOption {
	return func(o *embedderOptions) {
		o.logger = l
	}
}

// NewOpenAICompatEmbedder 创建 Embedder。cfg.Dimensions 为 0 时由首次调用结果决定。
func NewOpenAICompatEmbedder(cfg config.EmbeddingConfig, opts ...EmbedderOption) (*OpenAICompatEmbedder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding 模型不能为空")
	}

	o := embedderOptions{
		httpClient: &http.Client{Timeout: config.GetDuration(cfg.Timeout, 60*time.Second)},
		logger:     log.New(os.Stderr, "[Embedder] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(&o)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = o.httpClient

	return &OpenAICompatEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: o.logger,
		dim:    cfg.Dimensions,
	}, nil
}

// Model 返回模型名称
func (e *OpenAICompatEmbedder) Model() string {
	return e.model
}

// GetDimensions 返回向量维度，未确定时为 0
func (e *OpenAICompatEmbedder) GetDimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dim
}

// DiscoverDimensions 用固定文本调用一次接口以确定维度
func (e *OpenAICompatEmbedder) DiscoverDimensions(ctx context.Context) (int, error) {
	if d := e.GetDimensions(); d > 0 {
		return d, nil
	}
	if _, err := e.Embed(ctx, dimensionSampleText); err != nil {
		return 0, fmt.Errorf("探测向量维度失败: %w", err)
	}
	return e.GetDimensions(), nil
}

// Embed 单条文本向量化
func (e *OpenAICompatEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := e.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedStrings 实现 embedding.Embedder 接口。不做重试，由调用方决定。
func (e *OpenAICompatEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	modelName := e.model
	options := embedding.GetCommonOptions(&embedding.Options{Model: &modelName}, opts...)
	if options.Model != nil && *options.Model != "" {
		modelName = *options.Model
	}

	ctx, span := embedTracer.Start(ctx, "Embedder.EmbedStrings", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("embedding.model", modelName),
		attribute.Int("embedding.batch_size", len(texts)),
	)

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:          texts,
		Model:          openai.EmbeddingModel(modelName),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	})
	metrics.EmbeddingRequestDuration.WithLabelValues(modelName).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(modelName, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(modelName, "request").Inc()
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, fmt.Errorf("调用 embeddings 接口失败: %w", err)
	}

	if len(resp.Data) != len(texts) {
		err := fmt.Errorf("返回的向量数量 %d 与输入数量 %d 不一致", len(resp.Data), len(texts))
		metrics.EmbeddingRequestsTotal.WithLabelValues(modelName, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(modelName, "invalid_response").Inc()
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, err
	}

	vectors := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			err := fmt.Errorf("返回的向量索引 %d 越界", d.Index)
			metrics.EmbeddingErrorsTotal.WithLabelValues(modelName, "invalid_response").Inc()
			tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
			return nil, err
		}
		vec := make([]float64, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float64(v)
		}
		vectors[d.Index] = vec
	}

	for i, vec := range vectors {
		if err := e.checkDimension(len(vec)); err != nil {
			metrics.EmbeddingRequestsTotal.WithLabelValues(modelName, "error").Inc()
			metrics.EmbeddingErrorsTotal.WithLabelValues(modelName, "dimension").Inc()
			tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
			return nil, fmt.Errorf("第 %d 条: %w", i, err)
		}
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(modelName, "success").Inc()
	span.SetAttributes(attribute.Int("embedding.dimensions", e.GetDimensions()))
	return vectors, nil
}

// checkDimension 首次成功调用时锁定维度，之后每个向量都要一致
func (e *OpenAICompatEmbedder) checkDimension(n int) error {
	if n == 0 {
		return fmt.Errorf("%w: 空向量", ErrDimensionMismatch)
	}
	e.dimOnce.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.dim == 0 {
			e.dim = n
			e.logger.Printf("embedding 维度确定为 %d (模型 %s)", n, e.model)
		}
	})
	if d := e.GetDimensions(); d != n {
		return fmt.Errorf("%w: 期望 %d，实际 %d", ErrDimensionMismatch, d, n)
	}
	return nil
}
