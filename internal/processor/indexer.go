package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"resume-match-go/internal/aggregate"
	"resume-match-go/internal/metrics"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
)

var indexerTracer = otel.Tracer("resume-match-go/processor/indexer")

// 跳过原因
const (
	SkipAggregate = "aggregate"
	SkipEmbed     = "embed"
	SkipDimension = "dimension"
)

// SkippedRecord 被跳过的记录
type SkippedRecord struct {
	Index  int    `json:"index"`
	Prefix string `json:"prefix"`
	Reason string `json:"reason"`
}

// IndexReport 一次批量索引的结果
type IndexReport struct {
	Total      int             `json:"total"`
	Indexed    int             `json:"indexed"`
	Skipped    []SkippedRecord `json:"skipped"`
	Collection string          `json:"collection"`
	Dimension  int             `json:"dimension"`
}

// Summary 形如 "processed 5 of 6"
func (r *IndexReport) Summary() string {
	return fmt.Sprintf("processed %d of %d", r.Indexed, r.Total)
}

// Indexer 把结构化记录聚合、向量化后写入向量库
type Indexer struct {
	embedder     TextEmbedder
	index        storage.VectorIndex
	catalog      CatalogWriter
	artifacts    AggregateArchiver
	progress     ProgressReporter
	workers      int
	prefixLength int
	distance     string
	logger       *log.Logger
}

// IndexerOption 索引器选项
type IndexerOption func(*Indexer)

// WithIndexWorkers 设置并发向量化的数量
func WithIndexWorkers(n int) IndexerOption {
	return func(ix *Indexer) {
		if n > 0 {
			ix.workers = n
		}
	}
}

// WithCatalog 记录已索引的条目，nil 表示不记录
func WithCatalog(c CatalogWriter) IndexerOption {
	return func(ix *Indexer) {
		ix.catalog = c
	}
}

// WithAggregateArchiver 保存聚合文本，nil 表示不保存
func WithAggregateArchiver(a AggregateArchiver) IndexerOption {
	return func(ix *Indexer) {
		ix.artifacts = a
	}
}

// WithProgressReporter 每处理完一条记录调用一次 Add(1)
func WithProgressReporter(p ProgressReporter) IndexerOption {
	return func(ix *Indexer) {
		ix.progress = p
	}
}

func WithIndexPrefixLength(n int) IndexerOption {
	return func(ix *Indexer) {
		if n > 0 {
			ix.prefixLength = n
		}
	}
}

func WithIndexerLogger(logger *log.Logger) IndexerOption {
	return func(ix *Indexer) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// NewIndexer 创建索引器
func NewIndexer(embedder TextEmbedder, index storage.VectorIndex, opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		embedder:     embedder,
		index:        index,
		workers:      4,
		prefixLength: 50,
		distance:     storage.DistanceCosine,
		logger:       log.New(os.Stdout, "[Indexer] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// WithProgress 返回使用指定进度回调的副本，原索引器不变
func (ix *Indexer) WithProgress(p ProgressReporter) *Indexer {
	cp := *ix
	cp.progress = p
	return &cp
}

type pendingEntry struct {
	index      int
	kind       types.Kind
	content    string
	naturalKey string
	payload    map[string]any
}

// batchItem 一条输入；record 为 nil 且 raw 非空表示该元素不是 JSON 对象
type batchItem struct {
	record map[string]any
	raw    string
}

var errNotObject = errors.New("元素不是 JSON 对象")

func itemsFromRecords(records []map[string]any) []batchItem {
	items := make([]batchItem, len(records))
	for i, r := range records {
		items[i] = batchItem{record: r}
	}
	return items
}

// itemsFromRaw 逐条解码，解码失败的元素保留原文，由调用方按记录跳过
func itemsFromRaw(raws []json.RawMessage) []batchItem {
	items := make([]batchItem, len(raws))
	for i, raw := range raws {
		var record map[string]any
		if err := json.Unmarshal(raw, &record); err != nil || record == nil {
			items[i] = batchItem{raw: string(raw)}
			continue
		}
		items[i] = batchItem{record: record}
	}
	return items
}

func (b batchItem) malformed() bool {
	return b.record == nil && b.raw != ""
}

// IndexBatch 聚合、向量化并写入一批记录。
// 单条记录的失败只跳过该记录；建集合或写入失败则整批失败。
func (ix *Indexer) IndexBatch(ctx context.Context, records []map[string]any, kind types.Kind, collection string) (*IndexReport, error) {
	return ix.indexItems(ctx, itemsFromRecords(records), kind, collection)
}

// IndexRawBatch 与 IndexBatch 相同，输入是 JSON 数组的原始元素。
// 不是对象的元素按 aggregate 原因跳过，不影响其他记录。
func (ix *Indexer) IndexRawBatch(ctx context.Context, raws []json.RawMessage, kind types.Kind, collection string) (*IndexReport, error) {
	return ix.indexItems(ctx, itemsFromRaw(raws), kind, collection)
}

func (ix *Indexer) indexItems(ctx context.Context, records []batchItem, kind types.Kind, collection string) (*IndexReport, error) {
	ctx, span := indexerTracer.Start(ctx, "Indexer.IndexBatch", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String("index.kind", string(kind)),
		attribute.String("index.collection", collection),
		attribute.Int("index.records", len(records)),
	)

	if len(records) == 0 {
		err := NewInputError("index_batch", fmt.Sprintf("expected a non-empty JSON array of %s objects", kind))
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	if collection == "" {
		err := NewInputError("index_batch", "collection name is empty")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	report := &IndexReport{Total: len(records), Collection: collection}
	pending := make([]*pendingEntry, 0, len(records))
	for i, item := range records {
		if item.malformed() {
			ix.skip(report, kind, i, item.raw, SkipAggregate, errNotObject)
			continue
		}
		record := item.record
		doc, err := aggregate.Aggregate(record, kind)
		if err == nil && strings.TrimSpace(doc.Content) == "" {
			err = errors.New("聚合文本为空")
		}
		if err != nil {
			ix.skip(report, kind, i, fmt.Sprint(record), SkipAggregate, err)
			continue
		}

		payload := make(map[string]any, len(record)+2)
		for k, v := range record {
			payload[k] = v
		}
		payload[types.PayloadAggregateContent] = doc.Content
		payload[types.PayloadKind] = string(kind)
		naturalKey, _ := record[types.PayloadNaturalKey].(string)

		pending = append(pending, &pendingEntry{
			index:      i,
			kind:       kind,
			content:    doc.Content,
			naturalKey: naturalKey,
			payload:    payload,
		})
	}

	entries, err := ix.embedAll(ctx, pending, report, 0)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return report, err
	}
	if len(entries) == 0 {
		ix.logger.Printf("集合 %s 没有可写入的记录: %s", collection, report.Summary())
		span.SetStatus(codes.Ok, "nothing to index")
		return report, nil
	}

	created, err := ix.index.EnsureCollection(ctx, collection, report.Dimension, ix.distance)
	if err != nil {
		err = NewInfrastructureError(StageEnsureCollection, err)
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return report, err
	}
	if created {
		ix.logger.Printf("已创建集合 %s (维度=%d, 距离=%s)", collection, report.Dimension, ix.distance)
	}

	if err := ix.store(ctx, collection, entries, report); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return report, err
	}
	span.SetAttributes(attribute.Int("index.indexed", report.Indexed), attribute.Int("index.skipped", len(report.Skipped)))
	span.SetStatus(codes.Ok, "")
	return report, nil
}

// IndexPreAggregated 写入已带 aggregate_content 的条目。集合必须已经存在，不会创建。
// 不是对象的元素按 aggregate 原因跳过。
func (ix *Indexer) IndexPreAggregated(ctx context.Context, raws []json.RawMessage, collection string) (*IndexReport, error) {
	entries := itemsFromRaw(raws)
	ctx, span := indexerTracer.Start(ctx, "Indexer.IndexPreAggregated", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String("index.collection", collection),
		attribute.Int("index.records", len(entries)),
	)

	if len(entries) == 0 {
		err := NewInputError("index_pre_aggregated", "expected a non-empty JSON array of objects with aggregate_content")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	info, err := ix.index.CollectionInfo(ctx, collection)
	if err != nil {
		err = NewInfrastructureError(StageCollectionInfo, err)
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, err
	}

	report := &IndexReport{Total: len(entries), Collection: collection, Dimension: info.Dimension}
	pending := make([]*pendingEntry, 0, len(entries))
	for i, item := range entries {
		if item.malformed() {
			ix.skip(report, "", i, item.raw, SkipAggregate, errNotObject)
			continue
		}
		entry := item.record
		kindStr, _ := entry[types.PayloadKind].(string)
		kind := types.Kind(kindStr)
		content, _ := entry[types.PayloadAggregateContent].(string)
		if strings.TrimSpace(content) == "" {
			ix.skip(report, kind, i, fmt.Sprint(entry), SkipAggregate, errors.New("缺少 aggregate_content"))
			continue
		}

		payload := make(map[string]any, len(entry))
		for k, v := range entry {
			payload[k] = v
		}
		naturalKey, _ := entry[types.PayloadNaturalKey].(string)
		pending = append(pending, &pendingEntry{
			index:      i,
			kind:       kind,
			content:    content,
			naturalKey: naturalKey,
			payload:    payload,
		})
	}

	built, err := ix.embedAll(ctx, pending, report, info.Dimension)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return report, err
	}
	if len(built) == 0 {
		span.SetStatus(codes.Ok, "nothing to index")
		return report, nil
	}

	if err := ix.store(ctx, collection, built, report); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return report, err
	}
	span.SetStatus(codes.Ok, "")
	return report, nil
}

// embedAll 在有界的池里逐条向量化，按输入顺序返回条目。
// expectDim 为 0 时以 embedder 观测到的维度为准。只有 ctx 取消会返回错误。
func (ix *Indexer) embedAll(ctx context.Context, pending []*pendingEntry, report *IndexReport, expectDim int) ([]types.IndexedEntry, error) {
	vectors := make([][]float64, len(pending))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	for i, p := range pending {
		g.Go(func() error {
			vecs, err := ix.embedder.EmbedStrings(gctx, []string{p.content})
			if err == nil && len(vecs) != 1 {
				err = fmt.Errorf("期望 1 个向量，实际 %d 个", len(vecs))
			}
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				mu.Lock()
				ix.skip(report, p.kind, p.index, p.content, SkipEmbed,
					&EmbeddingError{Prefix: types.Prefix(p.content, ix.prefixLength), Err: err})
				mu.Unlock()
				return nil
			}
			vectors[i] = vecs[0]
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := expectDim
	if dim == 0 {
		dim = ix.embedder.GetDimensions()
	}
	if dim == 0 {
		for _, v := range vectors {
			if len(v) > 0 {
				dim = len(v)
				break
			}
		}
	}
	report.Dimension = dim

	entries := make([]types.IndexedEntry, 0, len(pending))
	for i, p := range pending {
		vec := vectors[i]
		if vec == nil {
			continue
		}
		if len(vec) != dim {
			ix.skip(report, p.kind, p.index, p.content, SkipDimension,
				fmt.Errorf("%w: 向量维度=%d, 期望=%d", storage.ErrVectorDimension, len(vec), dim))
			continue
		}

		id := storage.NewRandomPointID()
		if p.naturalKey != "" {
			id = storage.NaturalPointID(p.kind, p.naturalKey)
		}
		entries = append(entries, types.IndexedEntry{ID: id, Vector: vec, Payload: p.payload})
		ix.tick()
	}

	sort.Slice(report.Skipped, func(a, b int) bool {
		return report.Skipped[a].Index < report.Skipped[b].Index
	})
	return entries, nil
}

func (ix *Indexer) store(ctx context.Context, collection string, entries []types.IndexedEntry, report *IndexReport) error {
	if err := ix.index.Upsert(ctx, collection, entries); err != nil {
		return NewInfrastructureError(StageUpsert, err)
	}
	report.Indexed = len(entries)

	for _, e := range entries {
		kind, _ := e.Payload[types.PayloadKind].(string)
		metrics.IndexedRecordsTotal.WithLabelValues(kind, collection).Inc()
	}
	ix.archive(ctx, collection, entries)

	ix.logger.Printf("集合 %s: %s (跳过 %d 条)", collection, report.Summary(), len(report.Skipped))
	return nil
}

// archive 记录目录和保存聚合文本，失败只记日志
func (ix *Indexer) archive(ctx context.Context, collection string, entries []types.IndexedEntry) {
	if ix.catalog == nil && ix.artifacts == nil {
		return
	}

	rows := make([]models.IndexedRecord, 0, len(entries))
	for _, e := range entries {
		content, _ := e.Payload[types.PayloadAggregateContent].(string)
		kind, _ := e.Payload[types.PayloadKind].(string)
		naturalKey, _ := e.Payload[types.PayloadNaturalKey].(string)
		row := models.IndexedRecord{
			PointID:          e.ID,
			Collection:       collection,
			Kind:             kind,
			NaturalKey:       naturalKey,
			AggregateContent: content,
		}

		if ix.artifacts != nil {
			object, err := ix.artifacts.UploadAggregate(ctx, collection, e.ID, content)
			if err != nil {
				ix.logger.Printf("保存聚合文本失败 (point=%s): %v", e.ID, err)
			} else {
				row.AggregateObject = object
			}
		}
		if raw, err := json.Marshal(e.Payload); err == nil {
			row.Payload = datatypes.JSON(raw)
		}
		rows = append(rows, row)
	}

	if ix.catalog != nil {
		if err := ix.catalog.RecordIndexed(ctx, rows); err != nil {
			ix.logger.Printf("写入索引目录失败 (集合=%s, %d 条): %v", collection, len(rows), err)
		}
	}
}

// skip 记录跳过的条目，并发调用时由调用方加锁
func (ix *Indexer) skip(report *IndexReport, kind types.Kind, index int, text, reason string, err error) {
	prefix := types.Prefix(text, ix.prefixLength)
	report.Skipped = append(report.Skipped, SkippedRecord{Index: index, Prefix: prefix, Reason: reason})
	metrics.SkippedRecordsTotal.WithLabelValues(string(kind), reason).Inc()
	ix.logger.Printf("跳过第 %d 条记录 (%s) [%s]: %v", index, reason, prefix, err)
	ix.tick()
}

func (ix *Indexer) tick() {
	if ix.progress != nil {
		_ = ix.progress.Add(1)
	}
}
