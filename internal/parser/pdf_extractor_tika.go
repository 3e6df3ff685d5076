package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/tracing"
)

var tikaTracer = otel.Tracer("resume-match-go/parser/tika")

// TikaPDFExtractor 基于 Apache Tika Server 的文本提取
type TikaPDFExtractor struct {
	ServerURL string
	Client    *http.Client

	extractMetadata    bool
	extractAnnotations bool
	logger             *log.Logger
}

var _ TextExtractor = (*TikaPDFExtractor)(nil)

// TikaOption 定义配置选项函数
type TikaOption func(*TikaPDFExtractor)

// WithMetadata 是否额外请求 /meta 获取关键元数据
func WithMetadata(extract bool) TikaOption {
	return func(e *TikaPDFExtractor) {
		e.extractMetadata = extract
	}
}

// WithAnnotations 配置是否提取PDF链接注释文本
func WithAnnotations(extract bool) TikaOption {
	return func(e *TikaPDFExtractor) {
		e.extractAnnotations = extract
	}
}

// WithTikaLogger 配置自定义日志记录器
func WithTikaLogger(logger *log.Logger) TikaOption {
	return func(e *TikaPDFExtractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTimeout 配置HTTP客户端超时时间
func WithTimeout(timeout time.Duration) TikaOption {
	return func(e *TikaPDFExtractor) {
		if timeout > 0 {
			e.Client.Timeout = timeout
		}
	}
}

// NewTikaPDFExtractor 创建 Tika 提取器，serverURL 例如 http://localhost:9998
func NewTikaPDFExtractor(serverURL string, options ...TikaOption) *TikaPDFExtractor {
	extractor := &TikaPDFExtractor{
		ServerURL:          strings.TrimRight(serverURL, "/"),
		Client:             &http.Client{Timeout: 60 * time.Second},
		extractAnnotations: true,
		logger:             log.New(os.Stderr, "[TikaPDF] ", log.LstdFlags),
	}
	for _, option := range options {
		option(extractor)
	}
	return extractor
}

// ExtractFromFile 从PDF文件提取文本内容
func (e *TikaPDFExtractor) ExtractFromFile(ctx context.Context, filePath string) (string, map[string]any, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", nil, fmt.Errorf("打开PDF文件 %s 失败: %w", filePath, err)
	}
	return e.ExtractTextFromBytes(ctx, data, filePath)
}

// ExtractTextFromBytes PUT /tika 取纯文本。失败时文本为空。
func (e *TikaPDFExtractor) ExtractTextFromBytes(ctx context.Context, data []byte, uri string) (string, map[string]any, error) {
	ctx, span := tikaTracer.Start(ctx, "Tika.Extract", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("tika.uri", uri),
		attribute.Int("tika.bytes", len(data)),
	)

	startTime := time.Now()
	meta := map[string]any{
		"source_file_path": uri,
		"extraction_time":  startTime.Format(time.RFC3339),
		"extractor":        "tika",
	}

	body, err := e.put(ctx, "/tika", "text/plain", data, uri)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		e.logger.Printf("Tika提取失败 %s: %v", uri, err)
		return "", meta, err
	}
	text := string(body)
	meta["text_length"] = len(text)
	meta["processing_duration_ms"] = time.Since(startTime).Milliseconds()

	if e.extractMetadata {
		if raw, err := e.fetchMetadata(ctx, data, uri); err != nil {
			e.logger.Printf("元数据提取失败: %v, 继续使用基本元数据", err)
		} else {
			for k, v := range raw {
				if isImportantMetadata(k) {
					meta[k] = v
				}
			}
		}
	}
	return text, meta, nil
}

func (e *TikaPDFExtractor) put(ctx context.Context, path, accept string, data []byte, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.ServerURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("Accept", accept)
	if uri != "" {
		req.Header.Set("X-Tika-Resource-Name", uri)
	}
	if !e.extractAnnotations {
		req.Header.Set("X-Tika-PDFExtractAnnotationText", "false")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求到Tika服务器失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tika服务器返回错误状态码: %d", resp.StatusCode)
	}
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取Tika响应失败: %w", err)
	}
	return out, nil
}

func (e *TikaPDFExtractor) fetchMetadata(ctx context.Context, data []byte, uri string) (map[string]any, error) {
	body, err := e.put(ctx, "/meta", "application/json", data, uri)
	if err != nil {
		return nil, err
	}
	var metadata map[string]any
	if err := json.Unmarshal(body, &metadata); err != nil {
		return nil, fmt.Errorf("解析元数据JSON失败: %w", err)
	}
	return metadata, nil
}

func isImportantMetadata(key string) bool {
	switch key {
	case "pdf:PDFVersion", "xmpTPg:NPages", "dcterms:created", "language", "dc:title", "Content-Type":
		return true
	}
	return false
}
