package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/storage"
)

// extractStats 批量提取统计
type extractStats struct {
	Total   int
	Written int
	Cached  int
	Empty   int
	Failed  int
}

func runExtract(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("extract")
	input := fs.StringP("input", "i", "", "PDF 所在目录 (必填)")
	output := fs.StringP("output", "o", "", "文本输出目录，默认与输入目录相同")
	pattern := fs.String("pattern", "**/*.pdf", "匹配的文件模式 (doublestar)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		fs.Usage()
		return fmt.Errorf("必须指定 --input")
	}
	if err := requireDir("extract", *input); err != nil {
		return err
	}
	if *output == "" {
		*output = *input
	}

	files, err := doublestar.Glob(os.DirFS(*input), *pattern)
	if err != nil {
		return fmt.Errorf("匹配 %s 失败: %w", *pattern, err)
	}
	if len(files) == 0 {
		fmt.Printf("目录 %s 下没有匹配 %s 的文件\n", *input, *pattern)
		return nil
	}

	extractor, err := parser.BuildTextExtractor(ctx, cfg.Tika)
	if err != nil {
		return fmt.Errorf("初始化文本提取器失败: %w", err)
	}

	var artifacts storage.ArtifactStore
	if cfg.MinIO.Enabled {
		m, err := storage.NewMinIO(&cfg.MinIO, logger.StdLogger("[MinIO] "))
		if err != nil {
			logger.Warn().Err(err).Msg("MinIO 不可用，跳过原始文档归档")
		} else {
			artifacts = m
		}
	}

	bar := newProgressBar(len(files), "extracting")
	stats := extractStats{Total: len(files)}
	for _, rel := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		src := filepath.Join(*input, filepath.FromSlash(rel))
		dst := filepath.Join(*output, strings.TrimSuffix(filepath.FromSlash(rel), filepath.Ext(rel))+".txt")

		text, cached, err := extractOne(ctx, extractor, artifacts, src)
		if bar != nil {
			_ = bar.Add(1)
		}
		switch {
		case err != nil:
			stats.Failed++
			logger.Warn().Err(err).Str("file", rel).Msg("提取失败，跳过")
			continue
		case strings.TrimSpace(text) == "":
			stats.Empty++
			logger.Warn().Str("file", rel).Msg("未提取到文本，跳过")
			continue
		}
		if cached {
			stats.Cached++
		}

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("创建目录失败: %w", err)
		}
		if err := os.WriteFile(dst, []byte(text), 0o644); err != nil {
			return fmt.Errorf("写入 %s 失败: %w", dst, err)
		}
		stats.Written++
	}
	finishProgress(bar)

	fmt.Printf("提取完成: 共 %d 个文件, 写入 %d (其中缓存命中 %d), 空文本 %d, 失败 %d\n",
		stats.Total, stats.Written, stats.Cached, stats.Empty, stats.Failed)
	return nil
}

// extractOne 提取单个文档。配置了对象存储时先按内容摘要查已有文本，提取后回写。
func extractOne(ctx context.Context, extractor parser.TextExtractor, artifacts storage.ArtifactStore, path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, fmt.Errorf("读取文件失败: %w", err)
	}

	var digest string
	if artifacts != nil {
		digest = storage.ContentDigest(data)
		if text, err := artifacts.GetExtractedText(ctx, digest); err == nil && strings.TrimSpace(text) != "" {
			return text, true, nil
		}
	}

	text, _, err := extractor.ExtractTextFromBytes(ctx, data, path)
	if err != nil {
		return "", false, err
	}

	if artifacts != nil && strings.TrimSpace(text) != "" {
		if _, _, err := artifacts.UploadDocument(ctx, data, "application/pdf"); err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("上传原始文档失败")
		} else if _, err := artifacts.UploadExtractedText(ctx, digest, text); err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("上传抽取文本失败")
		}
	}
	return text, false, nil
}
