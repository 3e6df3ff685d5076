package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/tracing"
)

const (
	// Ollama 的 OpenAI 兼容接口
	defaultBaseURL   = "http://localhost:11434/v1"
	defaultModelName = "llama3.2"
)

var chatTracer = otel.Tracer("resume-match-go/agent/chat")

var _ model.ChatModel = (*OpenAICompatChatModel)(nil)

// OpenAICompatChatModel 实现 model.ChatModel，适配任意 OpenAI 兼容的 /chat/completions 服务
// (Ollama、vLLM、DashScope compatible-mode 等)。
type OpenAICompatChatModel struct {
	client      *openai.Client
	modelName   string
	baseURL     string
	temperature float32
	jsonMode    bool
	tools       []openai.Tool
	logger      *log.Logger
}

// ChatModelOption 配置选项
type ChatModelOption func(*OpenAICompatChatModel)

// WithTemperature 设置采样温度
func WithTemperature(t float32) ChatModelOption {
	return func(m *OpenAICompatChatModel) {
		m.temperature = t
	}
}

// WithJSONMode 要求服务端返回 JSON 对象 (response_format=json_object)
func WithJSONMode(enabled bool) ChatModelOption {
	return func(m *OpenAICompatChatModel) {
		m.jsonMode = enabled
	}
}

// WithChatLogger 设置日志记录器
func WithChatLogger(logger *log.Logger) ChatModelOption {
	return func(m *OpenAICompatChatModel) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithChatHTTPClient 自定义 HTTP 客户端
func WithChatHTTPClient(client *http.Client) ChatModelOption {
	return func(m *OpenAICompatChatModel) {
		if client == nil {
			return
		}
		cfg := openai.DefaultConfig("")
		cfg.BaseURL = m.baseURL
		cfg.HTTPClient = client
		m.client = openai.NewClientWithConfig(cfg)
	}
}

// NewOpenAICompatChatModel 创建聊天模型客户端。apiKey 可为任意非空值 (Ollama 不校验)。
func NewOpenAICompatChatModel(apiKey, modelName, baseURL string, opts ...ChatModelOption) (*OpenAICompatChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = defaultModelName
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")

	m := &OpenAICompatChatModel{
		client:    openai.NewClientWithConfig(cfg),
		modelName: modelName,
		baseURL:   cfg.BaseURL,
		logger:    log.New(os.Stdout, "[ChatModel] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.logger.Printf("使用 OpenAI 兼容 LLM 客户端，Base URL: %s, 模型: %s", m.baseURL, m.modelName)
	return m, nil
}

// ModelName 返回模型名称
func (m *OpenAICompatChatModel) ModelName() string {
	return m.modelName
}

// Generate 实现 model.ChatModel 接口
func (m *OpenAICompatChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{
		Temperature: &m.temperature,
		Model:       &m.modelName,
	}, opts...)

	ctx, span := chatTracer.Start(ctx, "ChatModel.Generate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", *options.Model),
		attribute.Int("llm.messages", len(messages)),
	)

	req := openai.ChatCompletionRequest{
		Model:       *options.Model,
		Messages:    toOpenAIMessages(messages),
		Temperature: *options.Temperature,
		Tools:       m.tools,
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	if m.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, fmt.Errorf("调用 chat completions 失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		err := errors.New("响应中没有 choices")
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, err
	}

	choice := resp.Choices[0]
	span.SetAttributes(
		attribute.String("llm.finish_reason", string(choice.FinishReason)),
		attribute.Int("llm.usage.total_tokens", resp.Usage.TotalTokens),
	)
	m.logger.Printf("收到响应: model=%s, finish=%s, tokens=%d, 耗时=%v", resp.Model, choice.FinishReason, resp.Usage.TotalTokens, time.Since(start))

	out := schema.AssistantMessage(choice.Message.Content, fromOpenAIToolCalls(choice.Message.ToolCalls))
	out.ResponseMeta = &schema.ResponseMeta{
		FinishReason: string(choice.FinishReason),
		Usage: &schema.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	return out, nil
}

// Stream 以单块流的形式返回 Generate 的结果
func (m *OpenAICompatChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// BindTools 绑定可调用工具
func (m *OpenAICompatChatModel) BindTools(tools []*schema.ToolInfo) error {
	bound := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		if t == nil {
			continue
		}
		def := &openai.FunctionDefinition{Name: t.Name, Description: t.Desc}
		if t.ParamsOneOf != nil {
			params, err := t.ParamsOneOf.ToOpenAPIV3()
			if err != nil {
				return fmt.Errorf("转换工具 %s 参数失败: %w", t.Name, err)
			}
			def.Parameters = params
		}
		bound = append(bound, openai.Tool{Type: openai.ToolTypeFunction, Function: def})
	}
	m.tools = bound
	return nil
}

func toOpenAIMessages(messages []*schema.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		cm := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func fromOpenAIToolCalls(calls []openai.ToolCall) []schema.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]schema.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, schema.ToolCall{
			ID:   c.ID,
			Type: string(c.Type),
			Function: schema.FunctionCall{
				Name:      c.Function.Name,
				Arguments: c.Function.Arguments,
			},
		})
	}
	return out
}

// IsRetryableError 判断 LLM 调用错误是否值得重试：超时、限流、5xx、连接错误
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"timeout", "connection refused", "connection reset", "eof", "temporarily unavailable"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
