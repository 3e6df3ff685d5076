package storage_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
)

func newTestCatalog(t *testing.T) *storage.Catalog {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	catalog, err := storage.OpenCatalog(sqlite.Open(dsn), t.Name(), "sqlite", logger.Silent)
	require.NoError(t, err, "应该成功打开内存目录库")
	t.Cleanup(func() { _ = catalog.Close() })
	return catalog
}

func TestCatalog_RecordIndexedUpserts(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	first := []models.IndexedRecord{
		{PointID: "p-1", Collection: "resume_collection", Kind: "resume", AggregateContent: "Skills: Go.", Payload: datatypes.JSON(`{"source":"a.pdf"}`)},
		{PointID: "p-2", Collection: "resume_collection", Kind: "resume", AggregateContent: "Skills: Rust."},
		{PointID: "p-1", Collection: "jobdescription_collection", Kind: "job_description", AggregateContent: "Job Title: SRE."},
	}
	require.NoError(t, catalog.RecordIndexed(ctx, first))

	n, err := catalog.CountByCollection(ctx, "resume_collection")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// 相同 (collection, point_id) 覆盖
	require.NoError(t, catalog.RecordIndexed(ctx, []models.IndexedRecord{
		{PointID: "p-1", Collection: "resume_collection", Kind: "resume", AggregateContent: "Skills: Go, Kubernetes."},
	}))

	n, err = catalog.CountByCollection(ctx, "resume_collection")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "覆盖不应新增行")

	rec, err := catalog.FindByPointID(ctx, "resume_collection", "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Skills: Go, Kubernetes.", rec.AggregateContent)

	rec, err = catalog.FindByPointID(ctx, "jobdescription_collection", "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Job Title: SRE.", rec.AggregateContent)
}

func TestCatalog_FindMissing(t *testing.T) {
	catalog := newTestCatalog(t)

	_, err := catalog.FindByPointID(context.Background(), "resume_collection", "nope")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	require.NoError(t, catalog.RecordIndexed(context.Background(), nil))
}
