package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedisKeys(t *testing.T) {
	key := EmbeddingCacheKey("llama3.2", "Skills: Go")
	assert.True(t, strings.HasPrefix(key, "app:embedding:vector:llama3.2:"), key)
	assert.Len(t, strings.TrimPrefix(key, "app:embedding:vector:llama3.2:"), 64)
	assert.Equal(t, key, EmbeddingCacheKey("llama3.2", "Skills: Go"))
	assert.NotEqual(t, key, EmbeddingCacheKey("nomic-embed-text", "Skills: Go"), "不同模型的向量不能共用缓存")

	assert.Equal(t, "app:index:job:42", IndexJobKey("42"))
}
