package parser

import (
	"context"
	"fmt"
	"time"

	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"
)

// TextExtractor 文档文本提取。失败时返回空字符串和错误，调用方按文档跳过。
type TextExtractor interface {
	ExtractFromFile(ctx context.Context, filePath string) (string, map[string]any, error)
	ExtractTextFromBytes(ctx context.Context, data []byte, uri string) (string, map[string]any, error)
}

// BuildTextExtractor 按配置选择 Tika 或 Eino 提取器
func BuildTextExtractor(ctx context.Context, cfg config.TikaConfig) (TextExtractor, error) {
	timeout := time.Duration(cfg.Timeout) * time.Second

	switch cfg.Type {
	case "tika":
		if cfg.ServerURL == "" {
			return nil, fmt.Errorf("tika.type=tika 但未配置 tika.server_url")
		}
		return NewTikaPDFExtractor(cfg.ServerURL,
			WithTimeout(timeout),
			WithMetadata(true),
			WithTikaLogger(logger.StdLogger("[TikaPDF] ")),
		), nil
	case "", "eino":
		return NewEinoPDFTextExtractor(ctx,
			WithEinoTimeout(timeout),
			WithEinoLogger(logger.StdLogger("[PDF解析器] ")),
		)
	default:
		return nil, fmt.Errorf("不支持的文本提取器类型: %s", cfg.Type)
	}
}
