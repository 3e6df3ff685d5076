package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/storage"
	"resume-match-go/internal/types"
)

const resumeCollection = "resume_collection"

func TestIndexBatch_SkipsBadRecord(t *testing.T) {
	fake, index := newTestIndex(t)
	progress := &counter{}
	ix := NewIndexer(&bagOfWordsEmbedder{}, index,
		WithIndexWorkers(3),
		WithIndexerLogger(quietLogger()),
		WithProgressReporter(progress),
	)

	records := []map[string]any{
		resumeRecord("a", "Python"),
		resumeRecord("b", "Java"),
		resumeRecord("c", "FAIL_EMBED"),
		resumeRecord("d", "Go"),
		resumeRecord("e", "SQL"),
		resumeRecord("f", "React"),
	}

	report, err := ix.IndexBatch(context.Background(), records, types.KindResume, resumeCollection)
	require.NoError(t, err)
	assert.Equal(t, 6, report.Total)
	assert.Equal(t, 5, report.Indexed)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, 2, report.Skipped[0].Index)
	assert.Equal(t, SkipEmbed, report.Skipped[0].Reason)
	assert.Equal(t, "FAIL_EMBED", report.Skipped[0].Prefix)
	assert.Equal(t, len(testVocab)+1, report.Dimension)
	assert.Equal(t, "processed 5 of 6", report.Summary())

	assert.Equal(t, 5, fake.PointCount(resumeCollection))
	assert.Equal(t, int32(6), progress.n.Load(), "每条记录都应上报进度")
}

func TestIndexRawBatch_NonObjectElementSkipped(t *testing.T) {
	fake, index := newTestIndex(t)
	ix := NewIndexer(&bagOfWordsEmbedder{}, index, WithIndexWorkers(2), WithIndexerLogger(quietLogger()))

	raws := rawRecords(t,
		resumeRecord("a", "Python"),
		resumeRecord("b", "Java"),
		`"garbage"`,
		resumeRecord("d", "Go"),
		resumeRecord("e", "SQL"),
		resumeRecord("f", "React"),
	)
	report, err := ix.IndexRawBatch(context.Background(), raws, types.KindResume, resumeCollection)
	require.NoError(t, err)
	assert.Equal(t, "processed 5 of 6", report.Summary())
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, 2, report.Skipped[0].Index)
	assert.Equal(t, SkipAggregate, report.Skipped[0].Reason)
	assert.Equal(t, `"garbage"`, report.Skipped[0].Prefix)
	assert.Equal(t, 5, fake.PointCount(resumeCollection))

	report, err = ix.IndexRawBatch(context.Background(), rawRecords(t, `42`, `null`), types.KindResume, resumeCollection)
	require.NoError(t, err)
	assert.Equal(t, "processed 0 of 2", report.Summary())
	assert.Len(t, report.Skipped, 2)
}

func TestIndexBatch_EmptyInput(t *testing.T) {
	_, index := newTestIndex(t)
	ix := NewIndexer(&bagOfWordsEmbedder{}, index, WithIndexerLogger(quietLogger()))

	_, err := ix.IndexBatch(context.Background(), nil, types.KindJobDescription, "jobdescription_collection")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "a non-empty JSON array of job_description objects")
}

func TestIndexBatch_EmptyAggregateSkipped(t *testing.T) {
	fake, index := newTestIndex(t)
	ix := NewIndexer(&bagOfWordsEmbedder{}, index, WithIndexerLogger(quietLogger()))

	report, err := ix.IndexBatch(context.Background(),
		[]map[string]any{{}, resumeRecord("x", "Go")}, types.KindResume, resumeCollection)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, SkipAggregate, report.Skipped[0].Reason)
	assert.Equal(t, 1, fake.PointCount(resumeCollection))
}

func TestIndexBatch_AllSkippedCreatesNothing(t *testing.T) {
	fake, index := newTestIndex(t)
	ix := NewIndexer(&bagOfWordsEmbedder{}, index, WithIndexerLogger(quietLogger()))

	report, err := ix.IndexBatch(context.Background(),
		[]map[string]any{resumeRecord("x", "FAIL_EMBED")}, types.KindResume, resumeCollection)
	require.NoError(t, err)
	assert.Equal(t, "processed 0 of 1", report.Summary())
	assert.Equal(t, 0, fake.CollectionCount())
}

func TestIndexBatch_NaturalKeyIsIdempotent(t *testing.T) {
	fake, index := newTestIndex(t)
	ix := NewIndexer(&bagOfWordsEmbedder{}, index, WithIndexerLogger(quietLogger()))

	record := resumeRecord("x", "Go")
	record[types.PayloadNaturalKey] = "cv-001.txt"

	for i := 0; i < 2; i++ {
		_, err := ix.IndexBatch(context.Background(), []map[string]any{record}, types.KindResume, resumeCollection)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fake.PointCount(resumeCollection), "相同来源重复索引只保留一个点")
}

func TestIndexBatch_CollectionMismatch(t *testing.T) {
	fake, index := newTestIndex(t)
	fake.CreateCollection(resumeCollection, 3, storage.DistanceCosine)
	ix := NewIndexer(&bagOfWordsEmbedder{}, index, WithIndexerLogger(quietLogger()))

	_, err := ix.IndexBatch(context.Background(), []map[string]any{resumeRecord("x", "Go")}, types.KindResume, resumeCollection)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInfrastructure)
	assert.ErrorIs(t, err, storage.ErrCollectionMismatch)
	assert.Equal(t, StageEnsureCollection, StageOf(err))
	assert.Equal(t, 0, fake.PointCount(resumeCollection), "集合不应被重建")
}

func TestIndexBatch_UpsertFailure(t *testing.T) {
	fake, index := newTestIndex(t)
	fake.FailUpsert = true
	ix := NewIndexer(&bagOfWordsEmbedder{}, index, WithIndexerLogger(quietLogger()))

	_, err := ix.IndexBatch(context.Background(), []map[string]any{resumeRecord("x", "Go")}, types.KindResume, resumeCollection)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInfrastructure)
	assert.Equal(t, StageUpsert, StageOf(err))
}

func TestIndexBatch_RecordsCatalogAndArtifacts(t *testing.T) {
	_, index := newTestIndex(t)
	catalog := &recordingCatalog{}
	archiver := &recordingArchiver{}
	ix := NewIndexer(&bagOfWordsEmbedder{}, index,
		WithIndexerLogger(quietLogger()),
		WithCatalog(catalog),
		WithAggregateArchiver(archiver),
	)

	_, err := ix.IndexBatch(context.Background(),
		[]map[string]any{resumeRecord("a", "Go"), resumeRecord("b", "Python")}, types.KindResume, resumeCollection)
	require.NoError(t, err)

	require.Len(t, catalog.rows, 2)
	assert.Equal(t, "Go", catalog.rows[0].AggregateContent)
	assert.Equal(t, "resume", catalog.rows[0].Kind)
	assert.NotEmpty(t, catalog.rows[0].AggregateObject)
	assert.Contains(t, string(catalog.rows[0].Payload), `"aggregate_content":"Go"`)
	assert.Len(t, archiver.objects, 2)
}

func TestIndexBatch_ArtifactFailureIsBestEffort(t *testing.T) {
	fake, index := newTestIndex(t)
	catalog := &recordingCatalog{}
	ix := NewIndexer(&bagOfWordsEmbedder{}, index,
		WithIndexerLogger(quietLogger()),
		WithCatalog(catalog),
		WithAggregateArchiver(&recordingArchiver{fail: true}),
	)

	report, err := ix.IndexBatch(context.Background(), []map[string]any{resumeRecord("a", "Go")}, types.KindResume, resumeCollection)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)
	assert.Equal(t, 1, fake.PointCount(resumeCollection))
	require.Len(t, catalog.rows, 1)
	assert.Empty(t, catalog.rows[0].AggregateObject)
}

func TestIndexPreAggregated(t *testing.T) {
	fake, index := newTestIndex(t)
	ix := NewIndexer(&bagOfWordsEmbedder{}, index, WithIndexerLogger(quietLogger()))
	entries := rawRecords(t,
		map[string]any{types.PayloadAggregateContent: "Python, SQL", types.PayloadKind: "resume"},
		map[string]any{"Name": "no aggregate"},
		`[1, 2]`,
	)

	_, err := ix.IndexPreAggregated(context.Background(), entries, resumeCollection)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrCollectionNotFound)
	assert.Equal(t, StageCollectionInfo, StageOf(err))
	assert.Equal(t, 0, fake.CollectionCount(), "不存在的集合不会被创建")

	fake.CreateCollection(resumeCollection, len(testVocab)+1, storage.DistanceCosine)
	report, err := ix.IndexPreAggregated(context.Background(), entries, resumeCollection)
	require.NoError(t, err)
	assert.Equal(t, "processed 1 of 3", report.Summary())
	require.Len(t, report.Skipped, 2)
	assert.Equal(t, 1, report.Skipped[0].Index)
	assert.Equal(t, 2, report.Skipped[1].Index)
	assert.Equal(t, "[1, 2]", report.Skipped[1].Prefix)
	assert.Equal(t, 1, fake.PointCount(resumeCollection))
}

func TestIndexPreAggregated_DimensionMismatchSkips(t *testing.T) {
	fake, index := newTestIndex(t)
	fake.CreateCollection(resumeCollection, 4, storage.DistanceCosine)
	ix := NewIndexer(&bagOfWordsEmbedder{}, index, WithIndexerLogger(quietLogger()))

	report, err := ix.IndexPreAggregated(context.Background(),
		rawRecords(t, map[string]any{types.PayloadAggregateContent: "Go"}), resumeCollection)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Indexed)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, SkipDimension, report.Skipped[0].Reason)
}
