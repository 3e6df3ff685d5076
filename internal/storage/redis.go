package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/config"
	"resume-match-go/internal/constants"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
)

// ErrNotFound is returned when a key is not found in Redis.
var ErrNotFound = redis.Nil

var redisTracer = otel.Tracer("resume-match-go/storage/redis")

// Redis wraps the Redis client
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter creates a new Redis client connection
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		MaxRetries:   cfg.MaxRetries,
	}

	client := redis.NewClient(opt)

	// 所有命令由 redisotel 钩子生成 span
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{Client: client, config: cfg}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// IndexJobKey 任务状态键
func IndexJobKey(jobID string) string {
	return fmt.Sprintf(constants.KeyIndexJobState, jobID)
}

// EmbeddingCacheKey 向量缓存键，文本用 sha256 摘要
func EmbeddingCacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf(constants.KeyEmbeddingVector, model, hex.EncodeToString(sum[:]))
}

// SetEmbedding 将向量和模型版本存入 HASH
func (r *Redis) SetEmbedding(ctx context.Context, model, text string, vector []float64, ttl time.Duration) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}

	vectorJSON, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("序列化向量失败: %w", err)
	}

	key := EmbeddingCacheKey(model, text)
	pipe := r.Client.Pipeline()
	pipe.HSet(ctx, key, "vector", vectorJSON, "model_version", model)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入向量缓存失败: %w", err)
	}
	return nil
}

// GetEmbedding 读取缓存的向量。未命中或模型版本不一致时返回 ErrNotFound。
func (r *Redis) GetEmbedding(ctx context.Context, model, text string) ([]float64, error) {
	if r.Client == nil {
		return nil, fmt.Errorf("redis client is not initialized")
	}

	ctx, span := redisTracer.Start(ctx, "Redis.GetEmbedding", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	key := EmbeddingCacheKey(model, text)
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "HMGET"),
		attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
	)

	vals, err := r.Client.HMGet(ctx, key, "vector", "model_version").Result()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return nil, err
	}
	if len(vals) < 2 || vals[0] == nil {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrNotFound
	}

	vectorJSON, ok := vals[0].(string)
	if !ok || vectorJSON == "" {
		return nil, fmt.Errorf("向量缓存格式错误")
	}
	if version, _ := vals[1].(string); version != "" && version != model {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrNotFound
	}

	var vector []float64
	if err := json.Unmarshal([]byte(vectorJSON), &vector); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return nil, fmt.Errorf("反序列化向量失败: %w", err)
	}

	span.SetAttributes(attribute.Bool("cache.hit", true), attribute.Int("vector.size", len(vector)))
	span.SetStatus(codes.Ok, "")
	return vector, nil
}

func (r *Redis) jobStateTTL() time.Duration {
	hours := 72
	if r.config != nil && r.config.JobStatusTTLHours > 0 {
		hours = r.config.JobStatusTTLHours
	}
	return time.Duration(hours) * time.Hour
}

// SetJobState 保存异步索引任务状态
func (r *Redis) SetJobState(ctx context.Context, state types.IndexJobState) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	if state.JobID == "" {
		return errors.New("job_id 不能为空")
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("序列化任务状态失败: %w", err)
	}
	if err := r.Client.Set(ctx, IndexJobKey(state.JobID), data, r.jobStateTTL()).Err(); err != nil {
		return fmt.Errorf("保存任务状态失败: %w", err)
	}
	return nil
}

// GetJobState 读取异步索引任务状态，不存在时返回 ErrNotFound
func (r *Redis) GetJobState(ctx context.Context, jobID string) (*types.IndexJobState, error) {
	if r.Client == nil {
		return nil, fmt.Errorf("redis client is not initialized")
	}

	val, err := r.Client.Get(ctx, IndexJobKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("读取任务状态失败: %w", err)
	}

	var state types.IndexJobState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("解析任务状态失败: %w", err)
	}
	return &state, nil
}
