package processor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	einoschema "github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/parser"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/types"
	"resume-match-go/pkg/agent"
)

const pythonJD = `{"job_title":"Python Programmer","skills":["Python","Django"],"required_qualifications":[{"value":"3 years of Python"}]}`

func newTestExtractor(llm *agent.MockChatClient) *parser.RecordExtractor {
	return parser.NewRecordExtractor(llm,
		parser.WithLanguageDetector(englishDetector{}),
		parser.WithRetry(0, time.Millisecond),
		parser.WithExtractorLogger(quietLogger()),
	)
}

func jdModel() *agent.MockChatClient {
	return agent.NewMockChatClientFunc(func(input []*einoschema.Message) (string, error) {
		if strings.Contains(input[0].Content, "Translate") {
			return input[len(input)-1].Content, nil
		}
		return pythonJD, nil
	})
}

// seedResumes 索引三份技能不同的简历
func seedResumes(t *testing.T, index storage.VectorIndex, embedder TextEmbedder) {
	t.Helper()
	ix := NewIndexer(embedder, index, WithIndexerLogger(quietLogger()))
	report, err := ix.IndexBatch(context.Background(), []map[string]any{
		resumeRecord("java dev", "Java", "Spring"),
		resumeRecord("python dev", "Python", "Django", "SQL"),
		resumeRecord("go dev", "Go", "Kubernetes"),
	}, types.KindResume, resumeCollection)
	require.NoError(t, err)
	require.Equal(t, 3, report.Indexed)
}

func TestRetrieve_EndToEnd(t *testing.T) {
	_, index := newTestIndex(t)
	embedder := &bagOfWordsEmbedder{}
	seedResumes(t, index, embedder)

	r := NewRetriever(newTestExtractor(jdModel()), NewAsyncEmbedder(embedder, 2), index, WithRetrieverLogger(quietLogger()))
	results, err := r.Retrieve(context.Background(), "We are hiring a Python programmer who knows Django.", resumeCollection, 0)
	require.NoError(t, err)
	require.Len(t, results, 3, "topK<=0 使用默认值 7，集合里只有 3 条")

	assert.Equal(t, "Python, Django, SQL", results[0].Content)
	for i, res := range results {
		assert.GreaterOrEqual(t, res.Similarity, 0.0)
		assert.LessOrEqual(t, res.Similarity, 1.0+1e-9)
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Similarity, res.Similarity, "结果按相似度降序")
		}
	}
}

func TestRetrieve_TopK(t *testing.T) {
	fake, index := newTestIndex(t)
	embedder := &bagOfWordsEmbedder{}
	seedResumes(t, index, embedder)
	fake.ReverseSearch = true

	r := NewRetriever(newTestExtractor(jdModel()), embedder, index, WithRetrieverLogger(quietLogger()))
	results, err := r.Retrieve(context.Background(), "Python programmer", resumeCollection, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Python, Django, SQL", results[0].Content, "服务端乱序时仍按降序返回")
	assert.GreaterOrEqual(t, results[0].Similarity, results[1].Similarity)
}

func TestRetrieve_EmptyInput(t *testing.T) {
	_, index := newTestIndex(t)
	llm := jdModel()
	r := NewRetriever(newTestExtractor(llm), &bagOfWordsEmbedder{}, index, WithRetrieverLogger(quietLogger()))

	_, err := r.Retrieve(context.Background(), "  ", resumeCollection, 3)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 0, llm.CallCount())
}

func TestRetrieve_StageErrors(t *testing.T) {
	_, index := newTestIndex(t)
	embedder := &bagOfWordsEmbedder{}
	seedResumes(t, index, embedder)

	t.Run("extract", func(t *testing.T) {
		llm := agent.NewMockChatClient("", errors.New("invalid api key"))
		r := NewRetriever(newTestExtractor(llm), embedder, index, WithRetrieverLogger(quietLogger()))
		results, err := r.Retrieve(context.Background(), "Python programmer", resumeCollection, 3)
		assert.Nil(t, results)
		var rerr *RetrievalError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, StageExtract, rerr.Stage)
		assert.ErrorIs(t, err, parser.ErrExtractionFailed)
	})

	t.Run("embed", func(t *testing.T) {
		r := NewRetriever(newTestExtractor(jdModel()), embedder, index, WithRetrieverLogger(quietLogger()))
		_, err := r.RetrieveByAggregate(context.Background(), "FAIL_EMBED", resumeCollection, 3)
		assert.Equal(t, StageEmbed, StageOf(err))
		assert.ErrorIs(t, err, ErrEmbeddingFailed)
	})

	t.Run("query", func(t *testing.T) {
		r := NewRetriever(newTestExtractor(jdModel()), embedder, index, WithRetrieverLogger(quietLogger()))
		_, err := r.Retrieve(context.Background(), "Python programmer", "missing_collection", 3)
		assert.Equal(t, StageQuery, StageOf(err))
		assert.ErrorIs(t, err, ErrInfrastructure)
	})
}

func TestRetrieveByAggregate(t *testing.T) {
	_, index := newTestIndex(t)
	embedder := &bagOfWordsEmbedder{}
	seedResumes(t, index, embedder)

	llm := jdModel()
	r := NewRetriever(newTestExtractor(llm), embedder, index, WithRetrieverLogger(quietLogger()), WithDefaultTopK(1))
	results, err := r.RetrieveByAggregate(context.Background(), "Go and Kubernetes", resumeCollection, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Go, Kubernetes", results[0].Content)
	assert.Equal(t, 0, llm.CallCount(), "跳过抽取")
}

func TestRetrieve_SinglePythonResume(t *testing.T) {
	_, index := newTestIndex(t)
	embedder := &bagOfWordsEmbedder{}

	ix := NewIndexer(embedder, index, WithIndexerLogger(quietLogger()))
	report, err := ix.IndexRawBatch(context.Background(),
		rawRecords(t, `{"Skills":["Python"],"Experience":[]}`), types.KindResume, resumeCollection)
	require.NoError(t, err)
	require.Equal(t, 1, report.Indexed)

	llm := agent.NewMockChatClient(`{"job_title":"Python Programmer","skills":["Python"]}`, nil)
	r := NewRetriever(newTestExtractor(llm), embedder, index, WithRetrieverLogger(quietLogger()))

	assertTopPython := func(t *testing.T, results []types.SimilarResult) {
		t.Helper()
		require.NotEmpty(t, results)
		assert.Equal(t, "Python", results[0].Content)
		assert.GreaterOrEqual(t, results[0].Similarity, 0.0)
		assert.LessOrEqual(t, results[0].Similarity, 1.0+1e-9)
	}

	t.Run("job description text", func(t *testing.T) {
		results, err := r.Retrieve(context.Background(), "Python Programmer wanted. Must know Python.", resumeCollection, 7)
		require.NoError(t, err)
		assertTopPython(t, results)
	})

	t.Run("aggregate text", func(t *testing.T) {
		results, err := r.RetrieveByAggregate(context.Background(), "Job Title: Python Programmer. Skills: Python.", resumeCollection, 7)
		require.NoError(t, err)
		assertTopPython(t, results)
	})
}
