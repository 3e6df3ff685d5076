package processor

import (
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	ErrInvalidInput    = errors.New("输入无效")
	ErrInfrastructure  = errors.New("基础设施调用失败")
	ErrEmbeddingFailed = errors.New("向量化失败")
)

// 检索阶段
const (
	StageExtract   = "extract"
	StageAggregate = "aggregate"
	StageEmbed     = "embed"
	StageQuery     = "query"
)

// 基础设施阶段
const (
	StageEnsureCollection = "ensure_collection"
	StageCollectionInfo   = "collection_info"
	StageUpsert           = "upsert"
	StagePublish          = "publish"
)

// InputError 输入缺失或形态不对：目录不存在、空批次、JSON 不是数组等
type InputError struct {
	Op     string
	Detail string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s (操作:%s): %s", ErrInvalidInput, e.Op, e.Detail)
}

func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// InfrastructureError 向量库、数据库或队列不可用，或建集合/写入失败
type InfrastructureError struct {
	Stage string
	Err   error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s (阶段:%s): %v", ErrInfrastructure, e.Stage, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

func (e *InfrastructureError) Is(target error) bool {
	return target == ErrInfrastructure
}

// EmbeddingError 单条文本向量化失败，Prefix 为文本前缀
type EmbeddingError struct {
	Prefix string
	Err    error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("%s (文本:%q): %v", ErrEmbeddingFailed, e.Prefix, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

func (e *EmbeddingError) Is(target error) bool {
	return target == ErrEmbeddingFailed
}

// RetrievalError 单次检索失败，Err 为具体阶段的错误
type RetrievalError struct {
	Stage string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("检索失败 (阶段:%s): %v", e.Stage, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// StageOf 返回错误所在的阶段，非阶段性错误返回空串
func StageOf(err error) string {
	var rerr *RetrievalError
	if errors.As(err, &rerr) {
		return rerr.Stage
	}
	var ierr *InfrastructureError
	if errors.As(err, &ierr) {
		return ierr.Stage
	}
	return ""
}

// 错误构造函数
func NewInputError(op, detail string) error {
	return &InputError{Op: op, Detail: detail}
}

func NewInfrastructureError(stage string, err error) error {
	return &InfrastructureError{Stage: stage, Err: err}
}
