package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// EmbeddingModulePrefix 向量化模块
	EmbeddingModulePrefix = "embedding"
	// IndexModulePrefix 索引模块
	IndexModulePrefix = "index"

	// EntityVector 向量实体
	EntityVector = "vector"
	// EntityJob 异步任务实体
	EntityJob = "job"

	// KeyEmbeddingVector 文本向量缓存 (HASH: vector / model_version)
	// 格式: app:embedding:vector:{model}:{sha256(text)}
	KeyEmbeddingVector = AppPrefix + ":" + EmbeddingModulePrefix + ":" + EntityVector + ":%s:%s"

	// KeyIndexJobState 异步索引任务状态 (STRING: IndexJobState JSON)
	// 格式: app:index:job:{jobID}
	KeyIndexJobState = AppPrefix + ":" + IndexModulePrefix + ":" + EntityJob + ":%s"
)
