package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"resume-match-go/internal/processor"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/types"
)

// IndexJobService 异步索引任务的提交与查询
type IndexJobService interface {
	SubmitIndexJob(ctx context.Context, kind types.Kind, records []json.RawMessage) (*types.IndexJobState, error)
	JobState(ctx context.Context, jobID string) (*types.IndexJobState, error)
}

// IndexHandler 负责异步索引任务
type IndexHandler struct {
	jobs   IndexJobService
	logger *log.Logger
}

// NewIndexHandler 创建一个新的 IndexHandler 实例
func NewIndexHandler(jobs IndexJobService, opts ...Option) *IndexHandler {
	o := buildOptions("[IndexHandler] ", opts)
	return &IndexHandler{
		jobs:   jobs,
		logger: o.logger,
	}
}

// HandleSubmitIndexJob 提交一批记录到索引队列
// POST /api/v1/index/:kind
func (h *IndexHandler) HandleSubmitIndexJob(ctx context.Context, c *app.RequestContext) {
	kind, err := types.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
		return
	}

	// 只校验顶层是非空数组，非对象元素由消费者逐条跳过
	records, err := processor.SplitRecordArray(c.Request.Body(), kind)
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
		return
	}

	state, err := h.jobs.SubmitIndexJob(ctx, kind, records)
	if err != nil {
		switch {
		case errors.Is(err, processor.ErrQueueUnavailable):
			c.JSON(consts.StatusServiceUnavailable, utils.H{"error": err.Error()})
		case errors.Is(err, processor.ErrInvalidInput):
			c.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
		default:
			h.logger.Printf("提交索引任务失败 (kind=%s, %d 条): %v", kind, len(records), err)
			c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error(), "stage": processor.StageOf(err)})
		}
		return
	}

	c.JSON(consts.StatusAccepted, utils.H{
		"job_id":     state.JobID,
		"status":     state.Status,
		"collection": state.Collection,
	})
}

// HandleGetIndexJob 查询索引任务状态
// GET /api/v1/index/jobs/:id
func (h *IndexHandler) HandleGetIndexJob(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("id")
	if jobID == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "任务ID不能为空"})
		return
	}

	state, err := h.jobs.JobState(ctx, jobID)
	if err != nil {
		switch {
		case errors.Is(err, processor.ErrJobStoreUnavailable):
			c.JSON(consts.StatusServiceUnavailable, utils.H{"error": err.Error()})
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(consts.StatusNotFound, utils.H{"error": "任务不存在"})
		default:
			h.logger.Printf("查询索引任务失败 (id=%s): %v", jobID, err)
			c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		}
		return
	}
	c.JSON(consts.StatusOK, state)
}
