package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/logger"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
)

var consumerTracer = otel.Tracer("resume-match-go/processor/consumer")

// IndexJobConsumer 消费异步索引任务，执行 IndexBatch 并更新任务状态
type IndexJobConsumer struct {
	indexer *Indexer
	jobs    JobStateStore
	timeout time.Duration
}

// NewIndexJobConsumer jobs 可以为 nil，此时不记录任务状态
func NewIndexJobConsumer(indexer *Indexer, jobs JobStateStore, timeout time.Duration) *IndexJobConsumer {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &IndexJobConsumer{indexer: indexer, jobs: jobs, timeout: timeout}
}

// Start 在队列上注册消费者，ctx 结束时停止消费
func (c *IndexJobConsumer) Start(ctx context.Context, queue storage.MessageQueue, queueName string, prefetch int) error {
	stop, err := queue.StartConsumer(queueName, prefetch, func(body []byte) bool {
		return c.Handle(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("启动索引任务消费者失败: %w", err)
	}

	go func() {
		<-ctx.Done()
		close(stop)
	}()
	return nil
}

// Handle 处理一条消息，返回 true 表示成功
func (c *IndexJobConsumer) Handle(ctx context.Context, body []byte) bool {
	ctx, span := consumerTracer.Start(ctx, "IndexJobConsumer.Handle", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	var msg storage.IndexJobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		logger.Error().Err(err).Int("bytes", len(body)).Msg("索引任务消息格式错误")
		return false
	}
	span.SetAttributes(
		attribute.String("job.id", msg.JobID),
		attribute.String("job.kind", string(msg.Kind)),
		attribute.String("job.collection", msg.Collection),
		attribute.Int("job.records", len(msg.Records)),
	)

	state := types.IndexJobState{
		JobID:      msg.JobID,
		Kind:       msg.Kind,
		Collection: msg.Collection,
		Status:     types.JobRunning,
		Total:      len(msg.Records),
	}
	c.saveState(ctx, state)

	jobCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	report, err := c.indexer.IndexRawBatch(jobCtx, msg.Records, msg.Kind, msg.Collection)
	if report != nil {
		state.Summary = report.Summary()
		state.Indexed = report.Indexed
		state.Skipped = len(report.Skipped)
	}
	if err != nil {
		state.Status = types.JobFailed
		state.Error = err.Error()
		c.saveState(ctx, state)
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		logger.Error().Err(err).Str("job_id", msg.JobID).Msg("索引任务失败")
		return false
	}

	state.Status = types.JobDone
	c.saveState(ctx, state)
	span.SetStatus(codes.Ok, "")
	logger.Info().Str("job_id", msg.JobID).Str("summary", state.Summary).Msg("索引任务完成")
	return true
}

func (c *IndexJobConsumer) saveState(ctx context.Context, state types.IndexJobState) {
	if c.jobs == nil {
		return
	}
	state.UpdatedAt = time.Now()
	if err := c.jobs.SetJobState(ctx, state); err != nil {
		logger.Warn().Err(err).Str("job_id", state.JobID).Str("status", string(state.Status)).Msg("更新任务状态失败")
	}
}
