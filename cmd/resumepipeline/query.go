package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"resume-match-go/internal/config"
	"resume-match-go/internal/processor"
	"resume-match-go/internal/types"
)

func runQuery(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("query")
	text := fs.StringP("job-description", "j", "", "职位描述原文")
	file := fs.StringP("file", "f", "", "从文件读取职位描述")
	topK := fs.IntP("top-k", "k", cfg.Retrieval.DefaultTopK, "返回结果数量")
	collection := fs.String("collection", cfg.Qdrant.ResumeCollection, "检索的集合")
	useAggregate := fs.Bool("aggregate", false, "输入已是聚合文本，跳过抽取和聚合")
	if err := fs.Parse(args); err != nil {
		return err
	}

	jd := *text
	if *file != "" {
		data, err := os.ReadFile(*file)
		if errors.Is(err, os.ErrNotExist) {
			return processor.NewInputError("query", fmt.Sprintf("文件不存在: %s", *file))
		}
		if err != nil {
			return fmt.Errorf("读取 %s 失败: %w", *file, err)
		}
		jd = string(data)
	}
	if strings.TrimSpace(jd) == "" {
		fs.Usage()
		return processor.NewInputError("query", "必须通过 --job-description 或 --file 提供职位描述")
	}

	pipeline, err := processor.NewPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	var results []types.SimilarResult
	if *useAggregate {
		results, err = pipeline.Retriever.RetrieveByAggregate(ctx, jd, *collection, *topK)
	} else {
		results, err = pipeline.Retriever.Retrieve(ctx, jd, *collection, *topK)
	}
	if err != nil {
		return err
	}
	if results == nil {
		results = []types.SimilarResult{}
	}
	return writeJSON("-", results)
}

