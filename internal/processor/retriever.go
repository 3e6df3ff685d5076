package processor

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/aggregate"
	"resume-match-go/internal/metrics"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
)

var retrieverTracer = otel.Tracer("resume-match-go/processor/retriever")

// DefaultTopK topK <= 0 时的默认值
const DefaultTopK = 7

// Retriever 职位描述 → 相似简历
type Retriever struct {
	extractor    StructuredExtractor
	embedder     TextEmbedder
	index        storage.VectorIndex
	defaultTopK  int
	prefixLength int
	logger       *log.Logger
}

// RetrieverOption 检索器选项
type RetrieverOption func(*Retriever)

func WithDefaultTopK(k int) RetrieverOption {
	return func(r *Retriever) {
		if k > 0 {
			r.defaultTopK = k
		}
	}
}

func WithRetrieverLogger(logger *log.Logger) RetrieverOption {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRetriever embedder 建议传 AsyncEmbedder，避免慢请求占满调用方
func NewRetriever(extractor StructuredExtractor, embedder TextEmbedder, index storage.VectorIndex, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		extractor:    extractor,
		embedder:     embedder,
		index:        index,
		defaultTopK:  DefaultTopK,
		prefixLength: 50,
		logger:       log.New(os.Stdout, "[Retriever] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve 抽取职位描述、聚合、向量化后在集合中检索 topK 条。任一阶段失败都不返回部分结果。
func (r *Retriever) Retrieve(ctx context.Context, jdText, collection string, topK int) ([]types.SimilarResult, error) {
	ctx, span := retrieverTracer.Start(ctx, "Retriever.Retrieve", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String("retrieval.collection", collection),
		attribute.String("retrieval.query_prefix", types.Prefix(jdText, r.prefixLength)),
	)

	if strings.TrimSpace(jdText) == "" {
		err := NewInputError("retrieve", "job description is empty")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		metrics.RetrievalRequestsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	record, err := r.extractor.Extract(ctx, jdText, parser.JobDescriptionSchema())
	if err != nil {
		return nil, r.fail(span, StageExtract, err, tracing.ErrorTypeLLM)
	}

	doc, err := aggregate.Aggregate(record, types.KindJobDescription)
	if err != nil {
		return nil, r.fail(span, StageAggregate, err, tracing.ErrorTypeInternal)
	}

	results, err := r.search(ctx, span, doc.Content, collection, topK)
	if err != nil {
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return results, nil
}

// RetrieveByAggregate 直接用聚合文本检索，跳过抽取和聚合
func (r *Retriever) RetrieveByAggregate(ctx context.Context, aggregateText, collection string, topK int) ([]types.SimilarResult, error) {
	ctx, span := retrieverTracer.Start(ctx, "Retriever.RetrieveByAggregate", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String("retrieval.collection", collection),
		attribute.String("retrieval.query_prefix", tracing.SafeContent(aggregateText)),
	)

	if strings.TrimSpace(aggregateText) == "" {
		err := NewInputError("retrieve_by_aggregate", "aggregate text is empty")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		metrics.RetrievalRequestsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	results, err := r.search(ctx, span, aggregateText, collection, topK)
	if err != nil {
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return results, nil
}

func (r *Retriever) search(ctx context.Context, span trace.Span, content, collection string, topK int) ([]types.SimilarResult, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}
	span.SetAttributes(
		attribute.Int("retrieval.top_k", topK),
		attribute.String("retrieval.aggregate", tracing.SafeContent(content)),
	)

	vectors, err := r.embedder.EmbedStrings(ctx, []string{content})
	if err == nil && len(vectors) != 1 {
		err = fmt.Errorf("期望 1 个向量，实际 %d 个", len(vectors))
	}
	if err != nil {
		return nil, r.fail(span, StageEmbed,
			&EmbeddingError{Prefix: types.Prefix(content, r.prefixLength), Err: err}, tracing.ErrorTypeEmbedding)
	}

	hits, err := r.index.QueryKNN(ctx, collection, vectors[0], topK)
	if err != nil {
		return nil, r.fail(span, StageQuery, NewInfrastructureError(StageQuery, err), tracing.ErrorTypeVectorDB)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	results := make([]types.SimilarResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, types.SimilarResult{
			Content:    hit.AggregateContent(),
			Similarity: hit.Score,
		})
	}

	metrics.RetrievalRequestsTotal.WithLabelValues("success").Inc()
	span.SetAttributes(attribute.Int("retrieval.results", len(results)))
	return results, nil
}

func (r *Retriever) fail(span trace.Span, stage string, err error, errType tracing.ErrorType) error {
	rerr := &RetrievalError{Stage: stage, Err: err}
	tracing.RecordError(span, rerr, errType)
	metrics.RetrievalRequestsTotal.WithLabelValues("error").Inc()
	r.logger.Printf("检索失败 (阶段:%s): %v", stage, err)
	return rerr
}
