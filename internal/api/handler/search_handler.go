package handler

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"resume-match-go/internal/processor"
	"resume-match-go/internal/types"
)

// ResumeSearcher 根据职位描述检索相似简历
type ResumeSearcher interface {
	SearchResumes(ctx context.Context, jdText string, topK int) ([]types.SimilarResult, error)
}

// SearchHandler 负责处理相似简历检索请求
type SearchHandler struct {
	searcher ResumeSearcher
	logger   *log.Logger
}

// NewSearchHandler 创建一个新的 SearchHandler 实例
func NewSearchHandler(searcher ResumeSearcher, opts ...Option) *SearchHandler {
	o := buildOptions("[SearchHandler] ", opts)
	return &SearchHandler{
		searcher: searcher,
		logger:   o.logger,
	}
}

// HandleSimilarResumes 处理相似简历检索
// GET /api/v1/similar-resumes?job_description=<text>&top_k=<n>
func (h *SearchHandler) HandleSimilarResumes(ctx context.Context, c *app.RequestContext) {
	jdText := c.Query("job_description")
	if strings.TrimSpace(jdText) == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "job_description 参数不能为空"})
		return
	}

	topK := 0
	if raw := c.Query("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "top_k 必须是整数"})
			return
		}
		topK = n
	}

	results, err := h.searcher.SearchResumes(ctx, jdText, topK)
	if err != nil {
		if errors.Is(err, processor.ErrInvalidInput) {
			c.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
			return
		}
		h.logger.Printf("相似简历检索失败: %v", err)
		c.JSON(consts.StatusInternalServerError, utils.H{
			"error": err.Error(),
			"stage": processor.StageOf(err),
		})
		return
	}

	if results == nil {
		results = []types.SimilarResult{}
	}
	c.JSON(consts.StatusOK, results)
}

// HandleHealth 健康检查
func HandleHealth(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{"status": "ok"})
}
