package storage

import (
	"encoding/json"
	"time"

	"resume-match-go/internal/types"
)

// IndexJobMessage 异步索引任务消息
type IndexJobMessage struct {
	JobID       string            `json:"job_id"`
	Kind        types.Kind        `json:"kind"`
	Collection  string            `json:"collection"`
	Records     []json.RawMessage `json:"records"`
	SubmittedAt time.Time         `json:"submitted_at"`
}
