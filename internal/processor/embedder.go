package processor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"golang.org/x/sync/semaphore"

	"resume-match-go/internal/metrics"
	"resume-match-go/internal/storage"
)

// DefaultEmbeddingCacheTTL 向量缓存默认过期时间
const DefaultEmbeddingCacheTTL = 24 * time.Hour

// CachedEmbedder 在向量化前查 Redis，未命中的文本再调用底层 embedder。
// 缓存读写失败只记录日志，不影响向量化结果。
type CachedEmbedder struct {
	inner  TextEmbedder
	cache  EmbeddingCache
	model  string
	ttl    time.Duration
	logger *log.Logger
}

// NewCachedEmbedder 创建带缓存的 embedder，model 参与缓存键
func NewCachedEmbedder(inner TextEmbedder, cache EmbeddingCache, model string, ttl time.Duration, logger *log.Logger) *CachedEmbedder {
	if ttl <= 0 {
		ttl = DefaultEmbeddingCacheTTL
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[EmbeddingCache] ", log.LstdFlags)
	}
	return &CachedEmbedder{inner: inner, cache: cache, model: model, ttl: ttl, logger: logger}
}

func (c *CachedEmbedder) GetDimensions() int {
	return c.inner.GetDimensions()
}

// EmbedStrings 按输入顺序返回向量
func (c *CachedEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	var missIdx []int
	var missTexts []string

	dim := c.inner.GetDimensions()
	for i, text := range texts {
		vec, err := c.cache.GetEmbedding(ctx, c.model, text)
		switch {
		case err == nil && (dim == 0 || len(vec) == dim):
			out[i] = vec
			metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
			continue
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			c.logger.Printf("读取向量缓存失败，直接调用模型: %v", err)
		}
		metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.inner.EmbedStrings(ctx, missTexts, opts...)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("向量数量不匹配: 请求 %d 条, 返回 %d 条", len(missTexts), len(vectors))
	}

	for j, i := range missIdx {
		out[i] = vectors[j]
		if err := c.cache.SetEmbedding(ctx, c.model, missTexts[j], vectors[j], c.ttl); err != nil {
			c.logger.Printf("写入向量缓存失败: %v", err)
		}
	}
	return out, nil
}

// AsyncEmbedder 限制同时进行的向量化调用数量，上限在所有调用方之间共享。
// 调用方在自己的 goroutine 里排队，等待期间 ctx 取消会立即返回。
type AsyncEmbedder struct {
	inner TextEmbedder
	sem   *semaphore.Weighted
	wg    sync.WaitGroup
}

// NewAsyncEmbedder workers <= 0 时使用 4
func NewAsyncEmbedder(inner TextEmbedder, workers int) *AsyncEmbedder {
	if workers <= 0 {
		workers = 4
	}
	return &AsyncEmbedder{inner: inner, sem: semaphore.NewWeighted(int64(workers))}
}

func (a *AsyncEmbedder) GetDimensions() int {
	return a.inner.GetDimensions()
}

func (a *AsyncEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	a.wg.Add(1)
	defer func() {
		a.sem.Release(1)
		a.wg.Done()
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.inner.EmbedStrings(ctx, texts, opts...)
}

// Wait 等待进行中的调用全部结束
func (a *AsyncEmbedder) Wait() {
	a.wg.Wait()
}

var (
	_ TextEmbedder = (*CachedEmbedder)(nil)
	_ TextEmbedder = (*AsyncEmbedder)(nil)
)
