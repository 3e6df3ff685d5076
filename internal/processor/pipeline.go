package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/types"
	"resume-match-go/pkg/agent"
	"resume-match-go/pkg/ratelimit"
)

var (
	// ErrQueueUnavailable 未配置 RabbitMQ
	ErrQueueUnavailable = errors.New("异步索引队列不可用")
	// ErrJobStoreUnavailable 未配置 Redis
	ErrJobStoreUnavailable = errors.New("任务状态存储不可用")
)

// Pipeline 进程内共享的依赖，在 main 中构建一次后注入 handler、CLI 和消费者。
// 可选依赖为 nil 时对应功能不可用。
type Pipeline struct {
	Config    *config.Config
	Extractor *parser.RecordExtractor
	Embedder  TextEmbedder
	Index     storage.VectorIndex
	Indexer   *Indexer
	Retriever *Retriever

	Storage *storage.Storage
	Queue   storage.MessageQueue
	Jobs    JobStateStore

	async *AsyncEmbedder
}

// NewPipeline 根据配置创建所有客户端
func NewPipeline(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	store, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	chat, err := agent.NewOpenAICompatChatModel(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL,
		agent.WithTemperature(cfg.LLM.Temperature),
		agent.WithChatLogger(logger.StdLogger("[LLM] ")),
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("初始化LLM客户端失败: %w", err)
	}

	extractor := parser.NewRecordExtractor(ratelimit.WithRateLimit(chat, cfg.LLM.QPM),
		parser.WithTargetLanguage(cfg.Extraction.TargetLanguage),
		parser.WithPrefixLength(cfg.Extraction.PrefixLength),
		parser.WithExtractWorkers(cfg.Extraction.Workers),
		parser.WithRetry(cfg.LLM.MaxRetries, 2*time.Second),
		parser.WithCallTimeout(config.GetDuration(cfg.LLM.Timeout, 60*time.Second)),
		parser.WithExtractorLogger(logger.StdLogger("[Extractor] ")),
	)

	base, err := parser.NewOpenAICompatEmbedder(cfg.Embedding, parser.WithEmbedderLogger(logger.StdLogger("[Embedder] ")))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("初始化Embedding客户端失败: %w", err)
	}

	discoverDimensions(ctx, base, cfg.Embedding.Dimensions)

	var embedder TextEmbedder = base
	if store.Redis != nil {
		ttl := config.GetDuration(cfg.Embedding.CacheTTL, DefaultEmbeddingCacheTTL)
		embedder = NewCachedEmbedder(base, store.Redis, base.Model(), ttl, logger.StdLogger("[EmbeddingCache] "))
	}

	p := &Pipeline{
		Config:    cfg,
		Extractor: extractor,
		Embedder:  embedder,
		Index:     store.Qdrant,
		Storage:   store,
		async:     NewAsyncEmbedder(embedder, cfg.Embedding.Workers),
	}

	// 避免把 nil 指针装进接口
	indexerOpts := []IndexerOption{
		WithIndexWorkers(cfg.Indexer.Workers),
		WithIndexPrefixLength(cfg.Extraction.PrefixLength),
		WithIndexerLogger(logger.StdLogger("[Indexer] ")),
	}
	if store.Catalog != nil {
		indexerOpts = append(indexerOpts, WithCatalog(store.Catalog))
	}
	if store.MinIO != nil {
		indexerOpts = append(indexerOpts, WithAggregateArchiver(store.MinIO))
	}
	if store.Redis != nil {
		p.Jobs = store.Redis
	}
	if store.RabbitMQ != nil {
		p.Queue = store.RabbitMQ
	}

	p.Indexer = NewIndexer(embedder, store.Qdrant, indexerOpts...)
	p.Retriever = NewRetriever(extractor, p.async, store.Qdrant,
		WithDefaultTopK(cfg.Retrieval.DefaultTopK),
		WithRetrieverLogger(logger.StdLogger("[Retriever] ")),
	)
	return p, nil
}

type dimensionDiscoverer interface {
	DiscoverDimensions(ctx context.Context) (int, error)
}

// discoverDimensions 未配置维度时先调用一次接口确定维度。失败只告警，维度改由首次向量化确定。
func discoverDimensions(ctx context.Context, d dimensionDiscoverer, configured int) int {
	if configured > 0 {
		return configured
	}
	dim, err := d.DiscoverDimensions(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("启动时未能确定向量维度，将在首次向量化时确定")
		return 0
	}
	logger.Info().Int("dimensions", dim).Msg("已确定向量维度")
	return dim
}

// SearchResumes HTTP 和 CLI 共用的检索入口，查询简历集合
func (p *Pipeline) SearchResumes(ctx context.Context, jdText string, topK int) ([]types.SimilarResult, error) {
	return p.Retriever.Retrieve(ctx, jdText, p.Config.Qdrant.ResumeCollection, topK)
}

// SubmitIndexJob 把一批记录作为异步索引任务发布到队列
// 元素原样转发，由消费者逐条解码并跳过非对象元素。
func (p *Pipeline) SubmitIndexJob(ctx context.Context, kind types.Kind, records []json.RawMessage) (*types.IndexJobState, error) {
	if p.Queue == nil {
		return nil, ErrQueueUnavailable
	}
	if len(records) == 0 {
		return nil, NewInputError("submit_index_job", fmt.Sprintf("expected a non-empty JSON array of %s objects", kind))
	}

	state := types.IndexJobState{
		JobID:      uuid.NewString(),
		Kind:       kind,
		Collection: p.Config.CollectionForKind(string(kind)),
		Status:     types.JobPending,
		Total:      len(records),
		UpdatedAt:  time.Now(),
	}

	if p.Jobs != nil {
		if err := p.Jobs.SetJobState(ctx, state); err != nil {
			logger.Warn().Err(err).Str("job_id", state.JobID).Msg("写入任务状态失败")
		}
	}

	msg := storage.IndexJobMessage{
		JobID:       state.JobID,
		Kind:        kind,
		Collection:  state.Collection,
		Records:     records,
		SubmittedAt: state.UpdatedAt,
	}
	rmq := p.Config.RabbitMQ
	if err := p.Queue.PublishJSON(ctx, rmq.IndexExchange, rmq.IndexRoutingKey, msg, true); err != nil {
		return nil, NewInfrastructureError(StagePublish, err)
	}

	logger.Info().Str("job_id", state.JobID).Str("kind", string(kind)).Int("records", len(records)).Msg("已提交索引任务")
	return &state, nil
}

// JobState 读取异步索引任务状态
func (p *Pipeline) JobState(ctx context.Context, jobID string) (*types.IndexJobState, error) {
	if p.Jobs == nil {
		return nil, ErrJobStoreUnavailable
	}
	return p.Jobs.GetJobState(ctx, jobID)
}

// Close 等待进行中的向量化调用结束并关闭连接
func (p *Pipeline) Close() {
	if p.async != nil {
		p.async.Wait()
	}
	if p.Storage != nil {
		p.Storage.Close()
	}
}
