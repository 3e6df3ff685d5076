package processor

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	"resume-match-go/internal/parser"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"
)

//
// 向量化相关接口
//

// TextEmbedder 文本向量化接口
type TextEmbedder interface {
	embedding.Embedder

	// GetDimensions 返回向量维度，未确定时为 0
	GetDimensions() int
}

// EmbeddingCache 向量缓存，未命中时返回 storage.ErrNotFound
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, model, text string) ([]float64, error)
	SetEmbedding(ctx context.Context, model, text string, vector []float64, ttl time.Duration) error
}

//
// 抽取相关接口
//

// StructuredExtractor 把原始文本抽取为符合 schema 的记录
type StructuredExtractor interface {
	Extract(ctx context.Context, rawText string, schema parser.SchemaDescription) (map[string]any, error)
}

//
// 存储相关接口
//

// CatalogWriter 已索引记录目录
type CatalogWriter interface {
	RecordIndexed(ctx context.Context, records []models.IndexedRecord) error
}

// AggregateArchiver 保存聚合文本
type AggregateArchiver interface {
	UploadAggregate(ctx context.Context, collection, pointID, content string) (string, error)
}

// JobStateStore 异步索引任务状态存储
type JobStateStore interface {
	SetJobState(ctx context.Context, state types.IndexJobState) error
	GetJobState(ctx context.Context, jobID string) (*types.IndexJobState, error)
}

// ProgressReporter 批处理进度回调，CLI 用进度条实现
type ProgressReporter interface {
	Add(n int) error
}

// 编译期检查
var (
	_ TextEmbedder        = (*parser.OpenAICompatEmbedder)(nil)
	_ StructuredExtractor = (*parser.RecordExtractor)(nil)
	_ EmbeddingCache      = (*storage.Redis)(nil)
	_ JobStateStore       = (*storage.Redis)(nil)
	_ CatalogWriter       = (*storage.Catalog)(nil)
	_ AggregateArchiver   = (*storage.MinIO)(nil)
)
