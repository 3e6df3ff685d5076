package router

import (
	"github.com/cloudwego/hertz/pkg/route"

	"resume-match-go/internal/api/handler"
)

// RegisterRoutes 注册 API 路由。indexHandler 为 nil 时不注册索引相关接口。
func RegisterRoutes(r route.IRouter, searchHandler *handler.SearchHandler, indexHandler *handler.IndexHandler) {
	// 旧版无前缀路径，保留兼容
	r.GET("/similar-resumes", searchHandler.HandleSimilarResumes)

	api := r.Group("/api/v1")
	api.GET("/similar-resumes", searchHandler.HandleSimilarResumes)

	// 添加健康检查
	api.GET("/health", handler.HandleHealth)

	if indexHandler != nil {
		api.POST("/index/:kind", indexHandler.HandleSubmitIndexJob)
		api.GET("/index/jobs/:id", indexHandler.HandleGetIndexJob)
	}
}
