package main

import (
	"context"
	"fmt"

	"resume-match-go/internal/config"
	"resume-match-go/internal/processor"
	"resume-match-go/internal/types"
)

func runIndex(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("index")
	input := fs.StringP("input", "i", "", "结构化记录 JSON 数组文件 (必填)")
	kindFlag := fs.StringP("kind", "k", string(types.KindResume), "记录类型: resume 或 job_description")
	collection := fs.String("collection", "", "目标集合，默认按记录类型选择")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		fs.Usage()
		return fmt.Errorf("必须指定 --input")
	}
	kind, err := types.ParseKind(*kindFlag)
	if err != nil {
		return processor.NewInputError("index", err.Error())
	}
	if *collection == "" {
		*collection = cfg.CollectionForKind(string(kind))
	}

	records, err := readRecords(*input, kind)
	if err != nil {
		return err
	}

	pipeline, err := processor.NewPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	indexer := pipeline.Indexer
	bar := newProgressBar(len(records), "indexing")
	if bar != nil {
		indexer = indexer.WithProgress(bar)
	}
	report, err := indexer.IndexRawBatch(ctx, records, kind, *collection)
	finishProgress(bar)
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}

func runUploadExisting(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("upload-existing")
	input := fs.StringP("input", "i", "", "已聚合记录的 JSON 数组文件，每条含 aggregate_content (必填)")
	collection := fs.String("collection", cfg.Qdrant.ResumeCollection, "目标集合，需已存在")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		fs.Usage()
		return fmt.Errorf("必须指定 --input")
	}

	entries, err := readRecords(*input, "aggregated")
	if err != nil {
		return err
	}

	pipeline, err := processor.NewPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	indexer := pipeline.Indexer
	bar := newProgressBar(len(entries), "uploading")
	if bar != nil {
		indexer = indexer.WithProgress(bar)
	}
	report, err := indexer.IndexPreAggregated(ctx, entries, *collection)
	finishProgress(bar)
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}
