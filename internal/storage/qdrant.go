package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	googleuuid "github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/config"
	"resume-match-go/internal/metrics"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
)

var qdrantTracer = otel.Tracer("resume-match-go/storage/qdrant")

// PointIDNamespace 生成确定性 point ID 的命名空间。
// 同一来源(kind + 自然键)总是得到同一个 ID，重复索引同一份文件不会产生重复数据。
var PointIDNamespace = uuid.Must(uuid.FromString("3b8f1f8e-6f0a-4c4e-9a57-2d1c5b7e90a4"))

// DistanceCosine 余弦距离
const DistanceCosine = "Cosine"

var (
	// ErrCollectionMismatch 已有集合的维度或距离与请求不一致
	ErrCollectionMismatch = errors.New("集合配置不匹配")
	// ErrCollectionNotFound 集合不存在
	ErrCollectionNotFound = errors.New("集合不存在")
	// ErrVectorDimension 向量长度与集合维度不一致
	ErrVectorDimension = errors.New("向量维度与集合维度不一致")
)

// VectorIndex 向量库操作
type VectorIndex interface {
	ListCollections(ctx context.Context) ([]string, error)
	EnsureCollection(ctx context.Context, name string, dim int, distance string) (bool, error)
	CollectionInfo(ctx context.Context, name string) (*types.Collection, error)
	Upsert(ctx context.Context, collection string, entries []types.IndexedEntry) error
	QueryKNN(ctx context.Context, collection string, vector []float64, k int) ([]types.SearchHit, error)
	CountPoints(ctx context.Context, collection string) (int64, error)
}

var _ VectorIndex = (*Qdrant)(nil)

// Qdrant 基于 REST 接口的 Qdrant 客户端，可并发使用
type Qdrant struct {
	endpoint        string
	apiKey          string
	httpClient      *http.Client
	upsertBatchSize int
	logger          *log.Logger

	mu       sync.Mutex
	verified map[string]types.Collection // 已确认存在且配置一致的集合
}

// QdrantAPIError Qdrant 返回的非 2xx 响应
type QdrantAPIError struct {
	StatusCode int
	Body       string
}

func (e *QdrantAPIError) Error() string {
	return fmt.Sprintf("qdrant API error: status=%d, body=%s", e.StatusCode, tracing.TruncateString(e.Body, 300))
}

// QdrantOption 定义Qdrant构造函数选项
type QdrantOption func(*Qdrant)

// WithHttpTimeout 设置HTTP客户端超时
func WithHttpTimeout(timeout time.Duration) QdrantOption {
	return func(q *Qdrant) {
		q.httpClient = &http.Client{Timeout: timeout}
	}
}

// WithHTTPClient 使用自定义 http.Client（测试中指向 httptest.Server）
func WithHTTPClient(client *http.Client) QdrantOption {
	return func(q *Qdrant) {
		if client != nil {
			q.httpClient = client
		}
	}
}

// WithAPIKey 设置 Qdrant Cloud 的 api-key
func WithAPIKey(key string) QdrantOption {
	return func(q *Qdrant) {
		q.apiKey = key
	}
}

// WithUpsertBatchSize 每次 upsert 请求的最大 point 数
func WithUpsertBatchSize(n int) QdrantOption {
	return func(q *Qdrant) {
		if n > 0 {
			q.upsertBatchSize = n
		}
	}
}

// WithQdrantLogger 设置日志输出
func WithQdrantLogger(logger *log.Logger) QdrantOption {
	return func(q *Qdrant) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// NewQdrant 创建Qdrant客户端。不在构造时访问服务端，集合由 EnsureCollection 按需创建。
func NewQdrant(cfg *config.QdrantConfig, opts ...QdrantOption) (*Qdrant, error) {
	if cfg == nil {
		return nil, fmt.Errorf("qdrant配置不能为空")
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "http://localhost:6333"
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("无效的Qdrant地址 %q: %w", endpoint, err)
	}

	q := &Qdrant{
		endpoint:        endpoint,
		apiKey:          cfg.APIKey,
		httpClient:      &http.Client{Timeout: config.GetDuration(cfg.Timeout, 30*time.Second)},
		upsertBatchSize: 256,
		logger:          log.New(os.Stdout, "[Qdrant] ", log.LstdFlags|log.Lshortfile),
		verified:        make(map[string]types.Collection),
	}
	if cfg.UpsertBatchSize > 0 {
		q.upsertBatchSize = cfg.UpsertBatchSize
	}

	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// ListCollections 列出所有集合名
func (q *Qdrant) ListCollections(ctx context.Context) ([]string, error) {
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := q.doRequest(ctx, "list_collections", http.MethodGet, "/collections", nil, &resp); err != nil {
		return nil, fmt.Errorf("获取集合列表失败: %w", err)
	}

	names := make([]string, 0, len(resp.Result.Collections))
	for _, c := range resp.Result.Collections {
		names = append(names, c.Name)
	}
	return names, nil
}

// CollectionInfo 读取集合的维度、距离和点数。集合不存在时返回 ErrCollectionNotFound。
func (q *Qdrant) CollectionInfo(ctx context.Context, name string) (*types.Collection, error) {
	var resp struct {
		Result struct {
			PointsCount int64 `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}

	err := q.doRequest(ctx, "get_collection", http.MethodGet, "/collections/"+url.PathEscape(name), nil, &resp)
	if err != nil {
		var apiErr *QdrantAPIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return nil, fmt.Errorf("获取集合 '%s' 信息失败: %w", name, err)
	}

	return &types.Collection{
		Name:      name,
		Dimension: resp.Result.Config.Params.Vectors.Size,
		Distance:  resp.Result.Config.Params.Vectors.Distance,
		Points:    resp.Result.PointsCount,
	}, nil
}

// EnsureCollection 确保集合存在且配置一致。
// 先列出已有集合，不存在时才创建；已存在时校验维度和距离，不一致返回 ErrCollectionMismatch。
// 从不删除或重建集合。返回值 created 表示本次调用是否创建了集合。
func (q *Qdrant) EnsureCollection(ctx context.Context, name string, dim int, distance string) (bool, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.EnsureCollection",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if distance == "" {
		distance = DistanceCosine
	}
	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "ensure_collection"),
		attribute.String("db.collection", name),
		attribute.Int("db.vector_size", dim),
		attribute.String("db.vector.distance", distance),
	)

	if name == "" || dim <= 0 {
		err := fmt.Errorf("无效的集合参数: name=%q, dim=%d", name, dim)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return false, err
	}

	want := types.Collection{Name: name, Dimension: dim, Distance: distance}

	q.mu.Lock()
	defer q.mu.Unlock()

	if got, ok := q.verified[name]; ok {
		if err := compareCollection(got, want); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return false, err
		}
		span.SetAttributes(attribute.Bool("collection.cached", true))
		return false, nil
	}

	names, err := q.ListCollections(ctx)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return false, err
	}

	exists := false
	for _, n := range names {
		if n == name {
			exists = true
			break
		}
	}

	if !exists {
		span.AddEvent("collection_not_found", trace.WithAttributes(attribute.String("action", "create_collection")))
		if err := q.createCollection(ctx, name, dim, distance); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return false, err
		}
		q.verified[name] = want
		q.logger.Printf("已创建Qdrant集合: %s，维度: %d，距离: %s", name, dim, distance)
		span.SetStatus(codes.Ok, "")
		return true, nil
	}

	info, err := q.CollectionInfo(ctx, name)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return false, err
	}
	span.SetAttributes(
		attribute.Int("collection.existing_vector_size", info.Dimension),
		attribute.String("collection.existing_distance", info.Distance),
	)

	if err := compareCollection(*info, want); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return false, err
	}

	q.verified[name] = types.Collection{Name: name, Dimension: info.Dimension, Distance: info.Distance}
	q.logger.Printf("已发现现有Qdrant集合: %s，维度: %d", name, info.Dimension)
	span.SetStatus(codes.Ok, "")
	return false, nil
}

func compareCollection(existing, want types.Collection) error {
	if existing.Dimension != want.Dimension || !strings.EqualFold(existing.Distance, want.Distance) {
		return fmt.Errorf("%w: 集合 '%s' 现有 维度=%d, 距离=%s; 请求 维度=%d, 距离=%s",
			ErrCollectionMismatch, want.Name, existing.Dimension, existing.Distance, want.Dimension, want.Distance)
	}
	return nil
}

func (q *Qdrant) createCollection(ctx context.Context, name string, dim int, distance string) error {
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     dim,
			"distance": distance,
		},
	}
	var resp struct {
		Result bool `json:"result"`
	}
	if err := q.doRequest(ctx, "create_collection", http.MethodPut, "/collections/"+url.PathEscape(name), body, &resp); err != nil {
		return fmt.Errorf("创建集合 '%s' 失败: %w", name, err)
	}
	return nil
}

// collectionDimension 优先使用已校验的缓存，否则读取集合信息
func (q *Qdrant) collectionDimension(ctx context.Context, name string) (int, error) {
	q.mu.Lock()
	c, ok := q.verified[name]
	q.mu.Unlock()
	if ok {
		return c.Dimension, nil
	}

	info, err := q.CollectionInfo(ctx, name)
	if err != nil {
		return 0, err
	}
	return info.Dimension, nil
}

type qdrantPoint struct {
	ID      string                 `json:"id"`
	Vector  []float64              `json:"vector"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Upsert 批量写入。每个向量的长度都与集合维度校验，按 upsertBatchSize 分批发送，wait=true。
func (q *Qdrant) Upsert(ctx context.Context, collection string, entries []types.IndexedEntry) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Upsert",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "upsert"),
		attribute.String("db.collection", collection),
		attribute.Int("vectors.count", len(entries)),
	)

	if len(entries) == 0 {
		span.SetStatus(codes.Ok, "no vectors to store")
		return nil
	}

	dim, err := q.collectionDimension(ctx, collection)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return err
	}

	points := make([]qdrantPoint, 0, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			err := fmt.Errorf("第 %d 条数据缺少ID", i)
			tracing.RecordError(span, err, tracing.ErrorTypeValidation)
			return err
		}
		if len(e.Vector) != dim {
			err := fmt.Errorf("%w: 第 %d 条数据 维度=%d, 集合 '%s' 维度=%d", ErrVectorDimension, i, len(e.Vector), collection, dim)
			tracing.RecordError(span, err, tracing.ErrorTypeValidation)
			return err
		}
		points = append(points, qdrantPoint{ID: e.ID, Vector: e.Vector, Payload: e.Payload})
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(collection))
	for start := 0; start < len(points); start += q.upsertBatchSize {
		end := start + q.upsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		reqBody := map[string]interface{}{"points": points[start:end]}
		if err := q.doRequest(ctx, "upsert_points", http.MethodPut, path, reqBody, nil); err != nil {
			tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeVectorDB, attribute.Int("batch.start", start))
			return fmt.Errorf("写入集合 '%s' 失败(第 %d-%d 条): %w", collection, start, end-1, err)
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// QueryKNN 按向量检索最近的 k 个点，结果按分数降序返回
func (q *Qdrant) QueryKNN(ctx context.Context, collection string, vector []float64, k int) ([]types.SearchHit, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.QueryKNN",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "search"),
		attribute.String("db.collection", collection),
		attribute.Int("search.limit", k),
		attribute.Int("search.vector_size", len(vector)),
	)

	if k <= 0 {
		err := fmt.Errorf("k 必须为正数，实际为 %d", k)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	if len(vector) == 0 {
		err := errors.New("查询向量为空")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	searchReq := map[string]interface{}{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}

	var resp struct {
		Result []struct {
			ID      json.RawMessage        `json:"id"`
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}

	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(collection))
	if err := q.doRequest(ctx, "search_points", http.MethodPost, path, searchReq, &resp); err != nil {
		var apiErr *QdrantAPIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			err = fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
		}
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, fmt.Errorf("检索集合 '%s' 失败: %w", collection, err)
	}

	hits := make([]types.SearchHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, types.SearchHit{
			ID:      pointIDString(r.ID),
			Score:   r.Score,
			Payload: r.Payload,
		})
	}

	// Qdrant 本身按分数排序，这里再排一次保证降序
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	span.SetAttributes(attribute.Int("search.results_count", len(hits)))
	span.SetStatus(codes.Ok, "")
	return hits, nil
}

// CountPoints 返回集合中的点数
func (q *Qdrant) CountPoints(ctx context.Context, collection string) (int64, error) {
	var resp struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/count", url.PathEscape(collection))
	if err := q.doRequest(ctx, "count_points", http.MethodPost, path, map[string]interface{}{"exact": true}, &resp); err != nil {
		return 0, fmt.Errorf("统计集合 '%s' 点数失败: %w", collection, err)
	}
	return resp.Result.Count, nil
}

// NewRandomPointID 没有自然键时使用随机 UUID
func NewRandomPointID() string {
	return googleuuid.NewString()
}

// NaturalPointID 根据记录类型和自然键(如源文件名)生成确定性 UUID
func NaturalPointID(kind types.Kind, naturalKey string) string {
	return uuid.NewV5(PointIDNamespace, fmt.Sprintf("%s:%s", kind, naturalKey)).String()
}

// point id 可能是数字或字符串
func pointIDString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// doRequest 发送请求并解析 JSON 响应，每次调用一个 client span
func (q *Qdrant) doRequest(ctx context.Context, operation, method, path string, body interface{}, result interface{}) (err error) {
	ctx, span := qdrantTracer.Start(ctx, fmt.Sprintf("%s %s", method, operation),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.QdrantOperationDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
	}()

	span.SetAttributes(
		attribute.String("net.peer.name", q.endpoint),
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", operation),
		attribute.String("http.method", method),
	)

	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
		span.SetAttributes(attribute.Int("http.request.body.size", len(jsonBody)))
	}

	req, err := http.NewRequestWithContext(ctx, method, q.endpoint+path, reader)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	// 注入trace context
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := q.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &QdrantAPIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		tracing.RecordHTTPError(span, apiErr, resp.StatusCode)
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return fmt.Errorf("解析Qdrant响应失败: %w", err)
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}
