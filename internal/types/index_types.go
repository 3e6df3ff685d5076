package types

import "time"

// Payload 中的保留字段
const (
	PayloadAggregateContent = "aggregate_content"
	PayloadKind             = "kind"
	PayloadNaturalKey       = "source"
)

// AggregateDocument 由结构化记录生成的单段文本，是向量化和入库的单位
type AggregateDocument struct {
	Kind    Kind
	Content string
	Record  map[string]any
}

// IndexedEntry 写入向量库的一条数据
type IndexedEntry struct {
	ID      string
	Vector  []float64
	Payload map[string]any
}

// SearchHit 向量检索命中
type SearchHit struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// AggregateContent 返回 payload 中保存的聚合文本
func (h SearchHit) AggregateContent() string {
	if h.Payload == nil {
		return ""
	}
	s, _ := h.Payload[PayloadAggregateContent].(string)
	return s
}

// SimilarResult 检索接口返回的单条结果
type SimilarResult struct {
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// Collection 向量集合描述
type Collection struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Distance  string `json:"distance"`
	Points    int64  `json:"points_count"`
}

// JobStatus 异步索引任务状态
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// IndexJobState 异步索引任务的当前状态，保存在 Redis
type IndexJobState struct {
	JobID      string    `json:"job_id"`
	Kind       Kind      `json:"kind"`
	Collection string    `json:"collection"`
	Status     JobStatus `json:"status"`
	Summary    string    `json:"summary,omitempty"`
	Error      string    `json:"error,omitempty"`
	Total      int       `json:"total"`
	Indexed    int       `json:"indexed"`
	Skipped    int       `json:"skipped"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Prefix 返回文本前 n 个字符，用于日志中标识记录
func Prefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
