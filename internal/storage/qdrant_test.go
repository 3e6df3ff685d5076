package storage_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/config"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/qdranttest"
	"resume-match-go/internal/types"
)

func newTestQdrant(t *testing.T, endpoint string, opts ...storage.QdrantOption) *storage.Qdrant {
	t.Helper()
	opts = append([]storage.QdrantOption{
		storage.WithHttpTimeout(5 * time.Second),
		storage.WithQdrantLogger(log.New(io.Discard, "", 0)),
	}, opts...)
	client, err := storage.NewQdrant(&config.QdrantConfig{Endpoint: endpoint}, opts...)
	require.NoError(t, err, "应该成功创建Qdrant客户端")
	return client
}

func entry(id string, vec ...float64) types.IndexedEntry {
	return types.IndexedEntry{ID: id, Vector: vec, Payload: map[string]any{types.PayloadAggregateContent: id}}
}

// TestQdrant_EnsureCollectionIdempotent 重复调用只创建一次集合
func TestQdrant_EnsureCollectionIdempotent(t *testing.T) {
	fake := qdranttest.NewServer()
	defer fake.Close()
	ctx := context.Background()

	client := newTestQdrant(t, fake.URL)
	created, err := client.EnsureCollection(ctx, "resume_collection", 3, storage.DistanceCosine)
	require.NoError(t, err)
	assert.True(t, created)

	require.NoError(t, client.Upsert(ctx, "resume_collection", []types.IndexedEntry{entry(storage.NewRandomPointID(), 1, 0, 0)}))

	created, err = client.EnsureCollection(ctx, "resume_collection", 3, storage.DistanceCosine)
	require.NoError(t, err)
	assert.False(t, created)

	// 新的客户端没有缓存，走 list + info 路径
	other := newTestQdrant(t, fake.URL)
	created, err = other.EnsureCollection(ctx, "resume_collection", 3, "cosine")
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, 1, fake.CollectionCount())
	assert.Equal(t, 1, fake.CallCount("PUT /collections/{name}"), "集合只应创建一次")
	assert.Equal(t, 1, fake.PointCount("resume_collection"), "已有数据不应丢失")
}

func TestQdrant_EnsureCollectionMismatch(t *testing.T) {
	fake := qdranttest.NewServer()
	defer fake.Close()
	fake.CreateCollection("resume_collection", 1024, "Cosine")

	client := newTestQdrant(t, fake.URL)
	_, err := client.EnsureCollection(context.Background(), "resume_collection", 3072, storage.DistanceCosine)
	require.ErrorIs(t, err, storage.ErrCollectionMismatch)
	assert.Equal(t, 0, fake.CallCount("PUT /collections/{name}"), "不匹配时不能重建集合")

	_, err = client.EnsureCollection(context.Background(), "resume_collection", 1024, "Dot")
	require.ErrorIs(t, err, storage.ErrCollectionMismatch)
}

func TestQdrant_UpsertValidatesDimension(t *testing.T) {
	fake := qdranttest.NewServer()
	defer fake.Close()
	ctx := context.Background()

	client := newTestQdrant(t, fake.URL)
	_, err := client.EnsureCollection(ctx, "c", 2, storage.DistanceCosine)
	require.NoError(t, err)

	err = client.Upsert(ctx, "c", []types.IndexedEntry{entry("a", 1, 0), entry("b", 1, 0, 0)})
	require.ErrorIs(t, err, storage.ErrVectorDimension)
	assert.Equal(t, 0, fake.PointCount("c"), "校验失败时不应写入任何数据")

	err = client.Upsert(ctx, "missing", []types.IndexedEntry{entry("a", 1, 0)})
	require.ErrorIs(t, err, storage.ErrCollectionNotFound)
}

func TestQdrant_UpsertBatches(t *testing.T) {
	fake := qdranttest.NewServer()
	defer fake.Close()
	ctx := context.Background()
	fake.CreateCollection("c", 2, "Cosine")

	client := newTestQdrant(t, fake.URL, storage.WithUpsertBatchSize(2))
	entries := make([]types.IndexedEntry, 0, 5)
	for i := 0; i < 5; i++ {
		entries = append(entries, entry(storage.NaturalPointID(types.KindResume, fmt.Sprintf("cv-%d.pdf", i)), float64(i+1), 1))
	}
	require.NoError(t, client.Upsert(ctx, "c", entries))

	assert.Equal(t, 3, fake.CallCount("PUT /collections/{name}/points"))
	assert.Equal(t, 5, fake.PointCount("c"))

	n, err := client.CountPoints(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	// 相同自然键重复写入不产生新数据
	require.NoError(t, client.Upsert(ctx, "c", entries[:2]))
	assert.Equal(t, 5, fake.PointCount("c"))
}

// TestQdrant_QueryKNNDescending 服务端返回乱序时仍按分数降序
func TestQdrant_QueryKNNDescending(t *testing.T) {
	fake := qdranttest.NewServer()
	defer fake.Close()
	fake.ReverseSearch = true
	ctx := context.Background()

	client := newTestQdrant(t, fake.URL)
	_, err := client.EnsureCollection(ctx, "c", 2, storage.DistanceCosine)
	require.NoError(t, err)
	require.NoError(t, client.Upsert(ctx, "c", []types.IndexedEntry{
		entry("11111111-1111-1111-1111-111111111111", 1, 0),
		entry("22222222-2222-2222-2222-222222222222", 1, 1),
		entry("33333333-3333-3333-3333-333333333333", 0, 1),
	}))

	hits, err := client.QueryKNN(ctx, "c", []float64{1, 0.1}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score, "结果应按分数降序")
	}
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", hits[0].ID)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", hits[0].AggregateContent())

	_, err = client.QueryKNN(ctx, "c", []float64{1, 0}, 0)
	require.Error(t, err)

	_, err = client.QueryKNN(ctx, "nope", []float64{1, 0}, 1)
	require.ErrorIs(t, err, storage.ErrCollectionNotFound)
}

func TestQdrant_APIKeyHeader(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"collections":[{"name":"a"},{"name":"b"}]}}`))
	}))
	defer server.Close()

	client := newTestQdrant(t, server.URL, storage.WithAPIKey("cloud-key"))
	names, err := client.ListCollections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Equal(t, "cloud-key", gotKey)
}

func TestNaturalPointIDDeterministic(t *testing.T) {
	a := storage.NaturalPointID(types.KindResume, "jane.pdf")
	b := storage.NaturalPointID(types.KindResume, "jane.pdf")
	c := storage.NaturalPointID(types.KindJobDescription, "jane.pdf")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, storage.NewRandomPointID(), storage.NewRandomPointID())
}
