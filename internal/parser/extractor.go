package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
	"resume-match-go/pkg/agent"
)

var extractTracer = otel.Tracer("resume-match-go/parser/extractor")

// 抽取阶段
const (
	StageDetectLanguage = "detect_language"
	StageTranslate      = "translate"
	StageComplete       = "complete"
	StageParseJSON      = "parse_json"
)

// ErrExtractionFailed 结构化抽取失败
var ErrExtractionFailed = errors.New("结构化抽取失败")

// ExtractionError 单条记录的抽取错误，Prefix 为输入文本前缀，用于日志定位
type ExtractionError struct {
	Stage  string
	Prefix string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("抽取失败 [%s] %q: %v", e.Stage, e.Prefix, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtractionFailed
}

// BatchReport 批量抽取统计
type BatchReport struct {
	Total     int
	Succeeded int
	Skipped   int
}

// RecordExtractor 调用 LLM 将原始文本抽取为目标结构
type RecordExtractor struct {
	llm            model.BaseChatModel
	detector       LanguageDetector
	targetLanguage string
	prefixLength   int
	workers        int
	maxRetries     int
	retryDelay     time.Duration
	callTimeout    time.Duration
	logger         *log.Logger
}

// ExtractorOption 抽取器配置选项
type ExtractorOption func(*RecordExtractor)

// WithTargetLanguage 目标语言 (ISO 639-1)
func WithTargetLanguage(code string) ExtractorOption {
	return func(e *RecordExtractor) {
		if code != "" {
			e.targetLanguage = code
		}
	}
}

// WithPrefixLength 错误日志中记录的输入前缀长度
func WithPrefixLength(n int) ExtractorOption {
	return func(e *RecordExtractor) {
		if n > 0 {
			e.prefixLength = n
		}
	}
}

// WithExtractWorkers 批量抽取并发数
func WithExtractWorkers(n int) ExtractorOption {
	return func(e *RecordExtractor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRetry 设置重试次数和初始退避时间
func WithRetry(maxRetries int, delay time.Duration) ExtractorOption {
	return func(e *RecordExtractor) {
		if maxRetries >= 0 {
			e.maxRetries = maxRetries
		}
		if delay > 0 {
			e.retryDelay = delay
		}
	}
}

// WithCallTimeout 单次 LLM 调用超时
func WithCallTimeout(d time.Duration) ExtractorOption {
	return func(e *RecordExtractor) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithLanguageDetector 自定义语言检测
func WithLanguageDetector(d LanguageDetector) ExtractorOption {
	return func(e *RecordExtractor) {
		if d != nil {
			e.detector = d
		}
	}
}

// WithExtractorLogger 设置日志记录器
func WithExtractorLogger(logger *log.Logger) ExtractorOption {
	return func(e *RecordExtractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewRecordExtractor 创建抽取器
func NewRecordExtractor(llm model.BaseChatModel, opts ...ExtractorOption) *RecordExtractor {
	e := &RecordExtractor{
		llm:            llm,
		detector:       WhatlangDetector{},
		targetLanguage: "en",
		prefixLength:   50,
		workers:        4,
		maxRetries:     2,
		retryDelay:     2 * time.Second,
		callTimeout:    60 * time.Second,
		logger:         log.New(os.Stdout, "[RecordExtractor] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *RecordExtractor) fail(stage, text string, err error) *ExtractionError {
	return &ExtractionError{Stage: stage, Prefix: types.Prefix(text, e.prefixLength), Err: err}
}

// Extract 抽取单条记录。检测不到语言时失败；检测结果不可靠时按目标语言处理；翻译失败时回退到原文。
func (e *RecordExtractor) Extract(ctx context.Context, rawText string, schema SchemaDescription) (map[string]any, error) {
	ctx, span := extractTracer.Start(ctx, "RecordExtractor.Extract", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String("extract.schema", schema.Name),
		attribute.Int("extract.text_length", len(rawText)),
	)

	if strings.TrimSpace(rawText) == "" {
		err := e.fail(StageDetectLanguage, rawText, errors.New("输入文本为空"))
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	text := rawText
	lang := e.detector.Detect(rawText)
	span.SetAttributes(attribute.String("extract.language", lang.Code), attribute.Bool("extract.language_reliable", lang.Reliable))

	switch {
	case lang.Code == "":
		err := e.fail(StageDetectLanguage, rawText, errors.New("无法检测文本语言"))
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	case !lang.Reliable:
		e.logger.Printf("语言检测结果不可靠 (%q)，按 %s 处理: %q", lang.Code, e.targetLanguage, types.Prefix(rawText, e.prefixLength))
	case lang.Code != e.targetLanguage:
		translated, err := e.translate(ctx, rawText, lang.Code)
		if err != nil {
			e.logger.Printf("%v，使用原文继续", e.fail(StageTranslate, rawText, err))
		} else {
			text = translated
		}
	}

	prompt := buildExtractionPrompt(schema)
	response, err := e.callLLM(ctx, prompt, text)
	if err != nil {
		xerr := e.fail(StageComplete, rawText, err)
		tracing.RecordError(span, xerr, tracing.ErrorTypeLLM)
		return nil, xerr
	}

	record, err := parseJSONObject(response)
	if err != nil {
		e.logger.Printf("无法解析LLM响应为JSON，原始响应: %.200s", response)
		xerr := e.fail(StageParseJSON, rawText, err)
		tracing.RecordError(span, xerr, tracing.ErrorTypeLLM)
		return nil, xerr
	}
	return record, nil
}

// ExtractBatch 并发抽取。单条失败只记录日志并跳过，结果保持输入顺序。
func (e *RecordExtractor) ExtractBatch(ctx context.Context, texts []string, schema SchemaDescription) ([]map[string]any, BatchReport, error) {
	report := BatchReport{Total: len(texts)}
	results := make([]map[string]any, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	var mu sync.Mutex
	for i, text := range texts {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			record, err := e.Extract(gctx, text, schema)
			if err != nil {
				e.logger.Printf("跳过第 %d 条记录: %v", i, err)
				mu.Lock()
				report.Skipped++
				mu.Unlock()
				return nil
			}
			results[i] = record
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, report, fmt.Errorf("批量抽取被中断: %w", err)
	}

	out := make([]map[string]any, 0, len(texts))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	report.Succeeded = len(out)
	e.logger.Printf("批量抽取完成: processed %d of %d", report.Succeeded, report.Total)
	return out, report, nil
}

func (e *RecordExtractor) translate(ctx context.Context, text, langCode string) (string, error) {
	system := fmt.Sprintf(`You are an expert in language translation.
The given language is %s.
Translate the user's text to %s. Output only the translated text.`, LanguageName(langCode), LanguageName(e.targetLanguage))

	out, err := e.callLLM(ctx, system, text)
	if err != nil {
		return "", err
	}
	out = strings.ReplaceAll(out, "\n", " ")
	if strings.TrimSpace(out) == "" {
		return "", errors.New("翻译结果为空")
	}
	return out, nil
}

func buildExtractionPrompt(schema SchemaDescription) string {
	return fmt.Sprintf(`Please provide the output strictly in JSON format without any additional comments or explanations.
From the given %s text, extract the information in JSON format.
If there are no field values, use an empty string.
The response format is:
%s`, strings.ReplaceAll(schema.Name, "_", " "), schema.Render())
}

// callLLM 带重试的 LLM 调用
func (e *RecordExtractor) callLLM(ctx context.Context, systemContent, userContent string) (string, error) {
	messages := []*einoschema.Message{
		einoschema.SystemMessage(systemContent),
		einoschema.UserMessage(userContent),
	}

	retryDelay := e.retryDelay
	var lastErr error
	for retry := 0; retry <= e.maxRetries; retry++ {
		if retry > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("上下文已取消: %w", ctx.Err())
			case <-time.After(retryDelay):
				retryDelay *= 2
				e.logger.Printf("重试LLM调用 (第%d次)", retry)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		resp, err := e.llm.Generate(callCtx, messages)
		cancel()

		if err == nil {
			if resp == nil {
				return "", errors.New("LLM 返回空响应")
			}
			return resp.Content, nil
		}

		lastErr = err
		if ctx.Err() != nil || !agent.IsRetryableError(err) {
			break
		}
	}
	return "", fmt.Errorf("LLM Generate failed: %w", lastErr)
}

var jsonFence = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// parseJSONObject 去掉换行后解析；失败时尝试 ```json 代码块或第一个完整的 {...}
func parseJSONObject(response string) (map[string]any, error) {
	var record map[string]any
	flat := strings.NewReplacer("\r", "", "\n", "").Replace(response)
	err := json.Unmarshal([]byte(strings.TrimSpace(flat)), &record)
	if err == nil && record != nil {
		return record, nil
	}

	candidate := extractJSON(response)
	if candidate == "" {
		if err == nil {
			err = errors.New("响应不是JSON对象")
		}
		return nil, fmt.Errorf("无法从LLM响应中提取有效的JSON: %w", err)
	}
	record = nil
	if err := json.Unmarshal([]byte(candidate), &record); err != nil {
		return nil, fmt.Errorf("解析JSON失败: %w", err)
	}
	if record == nil {
		return nil, errors.New("响应不是JSON对象")
	}
	return record, nil
}

// extractJSON 从文本中提取 JSON 对象，忽略字符串里的花括号
func extractJSON(text string) string {
	if m := jsonFence.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}

	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			level++
		case c == '}':
			level--
			if level == 0 {
				return strings.TrimSpace(text[start : i+1])
			}
		}
	}
	return ""
}
